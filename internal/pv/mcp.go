package pv

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/mark3labs/mcp-go/client"
	"github.com/mark3labs/mcp-go/mcp"
)

// MCP tool names served by a remote variable MCP server.
const (
	ToolGet = "pv_get"
	ToolPut = "pv_put"
)

// MCP is an Accessor that reads and writes variables through tool calls on
// an MCP server.
type MCP struct {
	mu     sync.Mutex
	client client.MCPClient
}

// NewMCP wraps an already initialized MCP client.
func NewMCP(c client.MCPClient) *MCP {
	return &MCP{client: c}
}

// DialMCP connects to an SSE MCP endpoint such as http://localhost:8091/sse
// and initializes the session.
func DialMCP(ctx context.Context, endpoint string) (*MCP, error) {
	sseClient, err := client.NewSSEMCPClient(endpoint)
	if err != nil {
		return nil, fmt.Errorf("create SSE client for %s: %w: %v", endpoint, ErrUnreachable, err)
	}
	if err := sseClient.Start(ctx); err != nil {
		return nil, fmt.Errorf("start SSE client for %s: %w: %v", endpoint, ErrUnreachable, err)
	}
	if err := InitializeMCP(ctx, sseClient, "axisverify-pv"); err != nil {
		sseClient.Close()
		return nil, err
	}
	return NewMCP(sseClient), nil
}

// InitializeMCP performs the MCP handshake on c.
func InitializeMCP(ctx context.Context, c client.MCPClient, clientName string) error {
	req := mcp.InitializeRequest{
		Params: struct {
			ProtocolVersion string                 `json:"protocolVersion"`
			Capabilities    mcp.ClientCapabilities `json:"capabilities"`
			ClientInfo      mcp.Implementation     `json:"clientInfo"`
		}{
			ProtocolVersion: "2024-11-05",
			ClientInfo: mcp.Implementation{
				Name:    clientName,
				Version: "1.0.0",
			},
			Capabilities: mcp.ClientCapabilities{},
		},
	}

	initCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	if _, err := c.Initialize(initCtx, req); err != nil {
		return fmt.Errorf("initialize MCP session: %w: %v", ErrUnreachable, err)
	}
	return nil
}

func (m *MCP) Get(ctx context.Context, name string) (float64, error) {
	text, err := m.call(ctx, ToolGet, map[string]interface{}{"name": name})
	if err != nil {
		return 0, m.wrap("get", name, err)
	}
	v, err := strconv.ParseFloat(strings.TrimSpace(text), 64)
	if err != nil {
		return 0, unreachable("get", name, fmt.Errorf("malformed value %q", text))
	}
	return v, nil
}

func (m *MCP) Put(ctx context.Context, name string, value float64) error {
	_, err := m.call(ctx, ToolPut, map[string]interface{}{"name": name, "value": value})
	if err != nil {
		return m.wrap("put", name, err)
	}
	return nil
}

func (m *MCP) call(ctx context.Context, tool string, args map[string]interface{}) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	request := mcp.CallToolRequest{
		Params: struct {
			Name      string    `json:"name"`
			Arguments any       `json:"arguments,omitempty"`
			Meta      *mcp.Meta `json:"_meta,omitempty"`
		}{
			Name:      tool,
			Arguments: args,
		},
	}

	result, err := m.client.CallTool(ctx, request)
	if err != nil {
		return "", err
	}

	var sb strings.Builder
	for _, content := range result.Content {
		if text, ok := mcp.AsTextContent(content); ok {
			sb.WriteString(text.Text)
		}
	}
	if result.IsError {
		return "", &deviceError{err: remoteError(sb.String())}
	}
	return sb.String(), nil
}

func (m *MCP) wrap(op, name string, err error) error {
	var de *deviceError
	if errors.As(err, &de) {
		return fmt.Errorf("%s %s: %w", op, name, de.err)
	}
	return unreachable(op, name, err)
}

// Close closes the MCP client.
func (m *MCP) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.client.Close()
}
