package pv

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	"github.com/tarm/serial"

	"axisverify/pkg/logging"
)

// Line is an Accessor speaking the line protocol over any byte stream:
//
//	GET IOC:m1.RBV      -> OK 12.5
//	PUT IOC:m1.VAL 20   -> OK
//	GET IOC:m1.NOPE     -> ERR unknown remote variable: IOC:m1.NOPE
//
// A request that fails while writing or reading leaves the stream out of
// step with its replies, so the stream is closed. The next request opens a
// new one when the Line knows how to, otherwise it fails as unreachable.
type Line struct {
	mu     sync.Mutex
	rwc    io.ReadWriteCloser
	rd     *bufio.Reader
	reopen func() (io.ReadWriteCloser, error)
	broken error
}

// NewLine creates a line accessor on top of rwc.
func NewLine(rwc io.ReadWriteCloser) *Line {
	return &Line{rwc: rwc, rd: bufio.NewReader(rwc)}
}

// DialTCP connects to a line protocol server. Broken connections are
// redialled.
func DialTCP(ctx context.Context, addr string) (*Line, error) {
	dial := func(ctx context.Context) (io.ReadWriteCloser, error) {
		var d net.Dialer
		conn, err := d.DialContext(ctx, "tcp", addr)
		if err != nil {
			return nil, fmt.Errorf("dial %s: %w: %v", addr, ErrUnreachable, err)
		}
		return conn, nil
	}
	conn, err := dial(ctx)
	if err != nil {
		return nil, err
	}
	l := NewLine(conn)
	l.reopen = func() (io.ReadWriteCloser, error) {
		ctx, cancel := context.WithTimeout(context.Background(), DefaultReadTimeout)
		defer cancel()
		return dial(ctx)
	}
	return l, nil
}

// OpenSerial opens a serial port and speaks the line protocol on it. A
// zero readTimeout uses DefaultReadTimeout. Broken ports are reopened.
func OpenSerial(port string, baud int, readTimeout time.Duration) (*Line, error) {
	if baud <= 0 {
		baud = 115200
	}
	if readTimeout <= 0 {
		readTimeout = DefaultReadTimeout
	}
	open := func() (io.ReadWriteCloser, error) {
		p, err := serial.OpenPort(&serial.Config{Name: port, Baud: baud, ReadTimeout: readTimeout})
		if err != nil {
			return nil, fmt.Errorf("open %s: %w: %v", port, ErrUnreachable, err)
		}
		return p, nil
	}
	p, err := open()
	if err != nil {
		return nil, err
	}
	l := NewLine(p)
	l.reopen = open
	return l, nil
}

func (l *Line) Get(ctx context.Context, name string) (float64, error) {
	v, ok, err := l.exchange(ctx, "get", name, "GET "+name+"\n")
	if err != nil {
		return 0, err
	}
	if !ok {
		return 0, unreachable("get", name, errors.New("reply without value"))
	}
	return v, nil
}

func (l *Line) Put(ctx context.Context, name string, value float64) error {
	_, _, err := l.exchange(ctx, "put", name, "PUT "+name+" "+FormatValue(value)+"\n")
	return err
}

func (l *Line) exchange(ctx context.Context, op, name, request string) (float64, bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return 0, false, err
	}
	if err := l.ensureOpen(); err != nil {
		return 0, false, unreachable(op, name, err)
	}
	if conn, ok := l.rwc.(net.Conn); ok {
		deadline, _ := ctx.Deadline()
		_ = conn.SetDeadline(deadline)
		// cancellation without a deadline interrupts the read as well
		stop := context.AfterFunc(ctx, func() { _ = conn.SetDeadline(time.Unix(1, 0)) })
		defer stop()
	}

	if _, err := io.WriteString(l.rwc, request); err != nil {
		l.discard(err)
		return 0, false, unreachable(op, name, err)
	}
	reply, err := l.rd.ReadString('\n')
	if err != nil {
		l.discard(err)
		return 0, false, unreachable(op, name, err)
	}
	v, ok, err := parseLineReply(reply)
	if err != nil {
		if errors.Is(err, ErrUnreachable) {
			return 0, false, unreachable(op, name, err)
		}
		return 0, false, fmt.Errorf("%s %s: %w", op, name, err)
	}
	return v, ok, nil
}

func (l *Line) ensureOpen() error {
	if l.rwc != nil {
		return nil
	}
	if l.reopen == nil {
		return fmt.Errorf("stream closed after: %w", l.broken)
	}
	rwc, err := l.reopen()
	if err != nil {
		return err
	}
	l.rwc = rwc
	l.rd = bufio.NewReader(rwc)
	l.broken = nil
	return nil
}

// discard drops a stream whose pending reply can no longer be matched to a
// request.
func (l *Line) discard(cause error) {
	logging.Warn("Line", "Dropping stream after failed exchange: %v", cause)
	_ = l.rwc.Close()
	l.rwc = nil
	l.rd = nil
	l.broken = cause
}

// Close closes the underlying stream.
func (l *Line) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.reopen = nil
	if l.rwc == nil {
		return nil
	}
	err := l.rwc.Close()
	l.rwc = nil
	l.broken = errors.New("closed")
	return err
}
