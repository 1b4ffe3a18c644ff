package axissim

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/mark3labs/mcp-go/client"
	"github.com/mark3labs/mcp-go/server"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"axisverify/internal/pv"
)

func TestHTTPHandler_REST(t *testing.T) {
	ctrl, _, _ := newSim(t, func(c *AxisConfig) { c.Position = 42 })
	ts := httptest.NewServer(NewHTTPHandler(ctrl))
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/pv/IOC:m1.RBV")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var body valueBody
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	require.NotNil(t, body.Value)
	assert.Equal(t, 42.0, *body.Value)

	req, err := http.NewRequest(http.MethodPut, ts.URL+"/pv/IOC:m1.VELO", strings.NewReader(`{"value": 20}`))
	require.NoError(t, err)
	resp2, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp2.Body.Close()
	assert.Equal(t, http.StatusNoContent, resp2.StatusCode)

	v, err := ctrl.Get(context.Background(), "IOC:m1.VELO")
	require.NoError(t, err)
	assert.Equal(t, 20.0, v)

	resp3, err := http.Get(ts.URL + "/pv/IOC:m7.RBV")
	require.NoError(t, err)
	resp3.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp3.StatusCode)
}

func TestHTTPHandler_WebSocket(t *testing.T) {
	ctrl, _, _ := newSim(t, func(c *AxisConfig) { c.Position = 42 })
	ts := httptest.NewServer(NewHTTPHandler(ctrl))
	defer ts.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	ws, err := pv.DialWebSocket(ctx, "ws"+strings.TrimPrefix(ts.URL, "http")+"/ws")
	require.NoError(t, err)
	defer ws.Close()

	v, err := ws.Get(ctx, "IOC:m1.DRBV")
	require.NoError(t, err)
	assert.Equal(t, 42.0, v)

	require.NoError(t, ws.Put(ctx, "IOC:m1.TWV", 2.5))
	v, err = ws.Get(ctx, "IOC:m1.TWV")
	require.NoError(t, err)
	assert.Equal(t, 2.5, v)

	_, err = ws.Get(ctx, "IOC:m1.NOPE")
	assert.ErrorIs(t, err, pv.ErrUnknownVariable)
}

func TestServeLine(t *testing.T) {
	ctrl, _, _ := newSim(t, func(c *AxisConfig) { c.Position = 12 })
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- ServeLine(ctx, ln, ctrl) }()

	dialCtx, dialCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer dialCancel()
	line, err := pv.DialTCP(dialCtx, ln.Addr().String())
	require.NoError(t, err)

	v, err := line.Get(dialCtx, "IOC:m1.RBV")
	require.NoError(t, err)
	assert.Equal(t, 12.0, v)

	require.NoError(t, line.Put(dialCtx, "IOC:m1.ACCL", 0.5))
	v, err = line.Get(dialCtx, "IOC:m1.ACCL")
	require.NoError(t, err)
	assert.Equal(t, 0.5, v)

	_, err = line.Get(dialCtx, "IOC:m1.NOPE")
	assert.ErrorIs(t, err, pv.ErrUnknownVariable)

	require.NoError(t, line.Close())
	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("line server did not stop")
	}
}

func TestMCPServer(t *testing.T) {
	ctrl, _, _ := newSim(t, func(c *AxisConfig) { c.Position = 7 })
	ts := server.NewTestServer(NewMCPServer(ctrl, "test"))
	defer ts.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	c, err := client.NewSSEMCPClient(ts.URL + "/sse")
	require.NoError(t, err)
	require.NoError(t, c.Start(ctx))
	require.NoError(t, pv.InitializeMCP(ctx, c, "axissim-test"))

	acc := pv.NewMCP(c)
	defer acc.Close()

	v, err := acc.Get(ctx, "IOC:m1.RBV")
	require.NoError(t, err)
	assert.Equal(t, 7.0, v)

	require.NoError(t, acc.Put(ctx, "IOC:m1.HVEL", 3))
	v, err = acc.Get(ctx, "IOC:m1.HVEL")
	require.NoError(t, err)
	assert.Equal(t, 3.0, v)

	_, err = acc.Get(ctx, "IOC:m2.RBV")
	assert.ErrorIs(t, err, pv.ErrUnknownVariable)
}

func TestServe_RequiresListener(t *testing.T) {
	ctrl, _, _ := newSim(t, nil)
	err := Serve(context.Background(), ctrl, "test", ServeOptions{})
	assert.Error(t, err)
}
