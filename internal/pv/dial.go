package pv

import (
	"context"
	"fmt"
	"time"
)

// Transport kinds accepted by Dial.
const (
	TransportWebSocket = "websocket"
	TransportTCP       = "tcp"
	TransportSerial    = "serial"
	TransportMCP       = "mcp"
)

// DefaultReadTimeout bounds a serial read and a redial when nothing else
// is configured.
const DefaultReadTimeout = 2 * time.Second

// DialOptions selects and configures a remote transport.
type DialOptions struct {
	Kind        string
	Endpoint    string
	Baud        int
	ReadTimeout time.Duration
}

// Dial opens the accessor described by opts.
func Dial(ctx context.Context, opts DialOptions) (Accessor, error) {
	if opts.Endpoint == "" {
		return nil, fmt.Errorf("transport %q requires an endpoint", opts.Kind)
	}
	switch opts.Kind {
	case TransportWebSocket:
		return DialWebSocket(ctx, opts.Endpoint)
	case TransportTCP:
		return DialTCP(ctx, opts.Endpoint)
	case TransportSerial:
		return OpenSerial(opts.Endpoint, opts.Baud, opts.ReadTimeout)
	case TransportMCP:
		return DialMCP(ctx, opts.Endpoint)
	default:
		return nil, fmt.Errorf("unknown transport %q", opts.Kind)
	}
}
