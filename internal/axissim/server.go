package axissim

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"axisverify/internal/pv"
	"axisverify/pkg/logging"
)

// ServeOptions selects the listeners started by Serve. Empty addresses are
// not served.
type ServeOptions struct {
	HTTPAddr string
	LineAddr string
	MCPAddr  string
}

type valueBody struct {
	Name  string   `json:"name,omitempty"`
	Value *float64 `json:"value"`
}

// NewHTTPHandler serves acc as REST resources under /pv/{name} and as
// websocket frames on /ws.
func NewHTTPHandler(acc pv.Accessor) http.Handler {
	r := mux.NewRouter()
	r.HandleFunc("/pv/{name}", func(w http.ResponseWriter, req *http.Request) {
		name := mux.Vars(req)["name"]
		v, err := acc.Get(req.Context(), name)
		if err != nil {
			http.Error(w, err.Error(), httpStatus(err))
			return
		}
		writeJSON(w, valueBody{Name: name, Value: &v})
	}).Methods(http.MethodGet)
	r.HandleFunc("/pv/{name}", func(w http.ResponseWriter, req *http.Request) {
		name := mux.Vars(req)["name"]
		var body valueBody
		if err := json.NewDecoder(req.Body).Decode(&body); err != nil || body.Value == nil {
			http.Error(w, "body must be {\"value\": number}", http.StatusBadRequest)
			return
		}
		if err := acc.Put(req.Context(), name, *body.Value); err != nil {
			http.Error(w, err.Error(), httpStatus(err))
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}).Methods(http.MethodPut)
	r.HandleFunc("/ws", websocketHandler(acc))
	return r
}

func httpStatus(err error) int {
	if errors.Is(err, pv.ErrUnknownVariable) {
		return http.StatusNotFound
	}
	return http.StatusBadRequest
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logging.Warn(subsystem, "Failed to write response: %v", err)
	}
}

func websocketHandler(acc pv.Accessor) http.HandlerFunc {
	upgrader := websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }}
	return func(w http.ResponseWriter, req *http.Request) {
		conn, err := upgrader.Upgrade(w, req, nil)
		if err != nil {
			logging.Warn(subsystem, "Websocket upgrade failed: %v", err)
			return
		}
		defer conn.Close()
		for {
			var frame pv.Frame
			if err := conn.ReadJSON(&frame); err != nil {
				return
			}
			if err := conn.WriteJSON(answerFrame(req.Context(), acc, frame)); err != nil {
				return
			}
		}
	}
}

func answerFrame(ctx context.Context, acc pv.Accessor, req pv.Frame) pv.Frame {
	reply := pv.Frame{ID: req.ID}
	switch req.Op {
	case pv.OpGet:
		v, err := acc.Get(ctx, req.Name)
		if err != nil {
			reply.Error = err.Error()
		} else {
			reply.Value = &v
		}
	case pv.OpPut:
		if req.Value == nil {
			reply.Error = "put without value"
		} else if err := acc.Put(ctx, req.Name, *req.Value); err != nil {
			reply.Error = err.Error()
		}
	default:
		reply.Error = fmt.Sprintf("unknown op %q", req.Op)
	}
	return reply
}

// ServeLine answers line protocol requests on every connection accepted
// from ln until ctx is done.
func ServeLine(ctx context.Context, ln net.Listener, acc pv.Accessor) error {
	go func() {
		<-ctx.Done()
		ln.Close()
	}()
	var wg sync.WaitGroup
	defer wg.Wait()
	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("accept: %w", err)
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			serveLineConn(ctx, conn, acc)
		}()
	}
}

func serveLineConn(ctx context.Context, conn net.Conn, acc pv.Accessor) {
	defer conn.Close()
	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()

	sc := bufio.NewScanner(conn)
	for sc.Scan() {
		op, name, value, err := pv.ParseLineRequest(sc.Text())
		var reply string
		switch {
		case err != nil:
			reply = pv.FormatLineReply(nil, err)
		case op == pv.OpGet:
			v, gerr := acc.Get(ctx, name)
			if gerr != nil {
				reply = pv.FormatLineReply(nil, gerr)
			} else {
				reply = pv.FormatLineReply(&v, nil)
			}
		default:
			reply = pv.FormatLineReply(nil, acc.Put(ctx, name, value))
		}
		if _, err := conn.Write([]byte(reply)); err != nil {
			return
		}
	}
}

// NewMCPServer exposes acc as the pv_get and pv_put tools.
func NewMCPServer(acc pv.Accessor, version string) *server.MCPServer {
	s := server.NewMCPServer("axisverify-sim", version, server.WithToolCapabilities(true))

	s.AddTool(mcp.NewTool(pv.ToolGet,
		mcp.WithDescription("Read a remote variable"),
		mcp.WithString("name", mcp.Required(), mcp.Description("Full variable name, e.g. IOC:m1.RBV")),
	), func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		name, _ := req.GetArguments()["name"].(string)
		v, err := acc.Get(ctx, name)
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		return mcp.NewToolResultText(pv.FormatValue(v)), nil
	})

	s.AddTool(mcp.NewTool(pv.ToolPut,
		mcp.WithDescription("Write a remote variable"),
		mcp.WithString("name", mcp.Required(), mcp.Description("Full variable name, e.g. IOC:m1.VAL")),
		mcp.WithNumber("value", mcp.Required(), mcp.Description("Value to write")),
	), func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		args := req.GetArguments()
		name, _ := args["name"].(string)
		value, ok := args["value"].(float64)
		if !ok {
			return mcp.NewToolResultError("value must be a number"), nil
		}
		if err := acc.Put(ctx, name, value); err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		return mcp.NewToolResultText("OK"), nil
	})

	return s
}

// Serve runs the listeners selected by opts until ctx is done.
func Serve(ctx context.Context, acc pv.Accessor, version string, opts ServeOptions) error {
	if opts.HTTPAddr == "" && opts.LineAddr == "" && opts.MCPAddr == "" {
		return errors.New("no listener configured")
	}

	errCh := make(chan error, 3)
	var shutdowns []func(context.Context) error

	if opts.HTTPAddr != "" {
		srv := &http.Server{Addr: opts.HTTPAddr, Handler: NewHTTPHandler(acc)}
		shutdowns = append(shutdowns, srv.Shutdown)
		logging.Info(subsystem, "Serving HTTP and websocket on %s", opts.HTTPAddr)
		go func() {
			if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				errCh <- fmt.Errorf("http server: %w", err)
			}
		}()
	}

	if opts.LineAddr != "" {
		ln, err := net.Listen("tcp", opts.LineAddr)
		if err != nil {
			return fmt.Errorf("listen %s: %w", opts.LineAddr, err)
		}
		logging.Info(subsystem, "Serving line protocol on %s", ln.Addr())
		go func() {
			if err := ServeLine(ctx, ln, acc); err != nil {
				errCh <- fmt.Errorf("line server: %w", err)
			}
		}()
	}

	if opts.MCPAddr != "" {
		sse := server.NewSSEServer(
			NewMCPServer(acc, version),
			server.WithBaseURL("http://"+opts.MCPAddr),
			server.WithSSEEndpoint("/sse"),
			server.WithMessageEndpoint("/message"),
		)
		shutdowns = append(shutdowns, sse.Shutdown)
		logging.Info(subsystem, "Serving MCP tools on http://%s/sse", opts.MCPAddr)
		go func() {
			if err := sse.Start(opts.MCPAddr); err != nil && err != http.ErrServerClosed {
				errCh <- fmt.Errorf("mcp server: %w", err)
			}
		}()
	}

	var runErr error
	select {
	case <-ctx.Done():
	case runErr = <-errCh:
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	for _, shutdown := range shutdowns {
		if err := shutdown(shutdownCtx); err != nil {
			logging.Error(subsystem, err, "Error during shutdown")
		}
	}
	return runErr
}
