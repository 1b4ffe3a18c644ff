package pv

import (
	"context"
	"fmt"
	"sync"

	"github.com/gorilla/websocket"

	"axisverify/pkg/logging"
)

// WebSocket is an Accessor speaking JSON frames over a websocket. A
// single reader hands replies to their requests by frame ID; a request
// abandoned by its context leaves the connection usable and its late reply
// is dropped.
type WebSocket struct {
	conn    *websocket.Conn
	writeMu sync.Mutex

	mu      sync.Mutex
	nextID  uint64
	pending map[uint64]chan Frame
	readErr error
	done    chan struct{}
}

// DialWebSocket connects to a websocket endpoint such as
// ws://localhost:5064/ws.
func DialWebSocket(ctx context.Context, url string) (*WebSocket, error) {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w: %v", url, ErrUnreachable, err)
	}
	w := &WebSocket{
		conn:    conn,
		pending: make(map[uint64]chan Frame),
		done:    make(chan struct{}),
	}
	go w.readLoop()
	return w, nil
}

func (w *WebSocket) Get(ctx context.Context, name string) (float64, error) {
	reply, err := w.roundTrip(ctx, Frame{Op: OpGet, Name: name})
	if err != nil {
		return 0, unreachableUnlessRemote("get", name, err)
	}
	if reply.Value == nil {
		return 0, unreachable("get", name, fmt.Errorf("reply without value"))
	}
	return *reply.Value, nil
}

func (w *WebSocket) Put(ctx context.Context, name string, value float64) error {
	_, err := w.roundTrip(ctx, Frame{Op: OpPut, Name: name, Value: &value})
	if err != nil {
		return unreachableUnlessRemote("put", name, err)
	}
	return nil
}

func (w *WebSocket) readLoop() {
	defer close(w.done)
	for {
		var reply Frame
		if err := w.conn.ReadJSON(&reply); err != nil {
			w.mu.Lock()
			w.readErr = err
			w.mu.Unlock()
			return
		}
		w.mu.Lock()
		ch, ok := w.pending[reply.ID]
		delete(w.pending, reply.ID)
		w.mu.Unlock()
		if !ok {
			logging.Debug("WebSocket", "Dropping reply %d without a waiting request", reply.ID)
			continue
		}
		ch <- reply
	}
}

func (w *WebSocket) roundTrip(ctx context.Context, req Frame) (Frame, error) {
	if err := ctx.Err(); err != nil {
		return Frame{}, err
	}

	w.mu.Lock()
	if w.readErr != nil {
		err := w.readErr
		w.mu.Unlock()
		return Frame{}, err
	}
	w.nextID++
	req.ID = w.nextID
	ch := make(chan Frame, 1)
	w.pending[req.ID] = ch
	w.mu.Unlock()

	// gorilla connections are unusable after a write deadline expires, so
	// writes carry none; frames are small
	w.writeMu.Lock()
	err := w.conn.WriteJSON(req)
	w.writeMu.Unlock()
	if err != nil {
		w.forget(req.ID)
		return Frame{}, err
	}

	select {
	case reply := <-ch:
		return replyResult(reply)
	case <-w.done:
		select {
		case reply := <-ch:
			return replyResult(reply)
		default:
		}
		w.mu.Lock()
		err := w.readErr
		w.mu.Unlock()
		return Frame{}, err
	case <-ctx.Done():
		w.forget(req.ID)
		return Frame{}, ctx.Err()
	}
}

func replyResult(reply Frame) (Frame, error) {
	if reply.Error != "" {
		return Frame{}, &deviceError{err: remoteError(reply.Error)}
	}
	return reply, nil
}

func (w *WebSocket) forget(id uint64) {
	w.mu.Lock()
	delete(w.pending, id)
	w.mu.Unlock()
}

// Close closes the websocket connection.
func (w *WebSocket) Close() error {
	w.writeMu.Lock()
	_ = w.conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	w.writeMu.Unlock()
	return w.conn.Close()
}

// deviceError marks a failure reported by the device side, as opposed to a
// transport failure.
type deviceError struct{ err error }

func (e *deviceError) Error() string { return e.err.Error() }
func (e *deviceError) Unwrap() error { return e.err }

func unreachableUnlessRemote(op, name string, err error) error {
	if de, ok := err.(*deviceError); ok {
		return fmt.Errorf("%s %s: %w", op, name, de.err)
	}
	return unreachable(op, name, err)
}
