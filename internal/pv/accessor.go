package pv

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

var (
	// ErrUnreachable wraps every transport level failure.
	ErrUnreachable = errors.New("remote variable unreachable")
	// ErrUnknownVariable is returned by servers for names they do not host.
	ErrUnknownVariable = errors.New("unknown remote variable")
)

// Accessor reads and writes named remote variables. Both calls block until
// the device side has answered.
type Accessor interface {
	Get(ctx context.Context, name string) (float64, error)
	Put(ctx context.Context, name string, value float64) error
}

// unreachable annotates err with the variable name and ErrUnreachable.
func unreachable(op, name string, err error) error {
	if errors.Is(err, ErrUnreachable) {
		return err
	}
	return fmt.Errorf("%s %s: %w: %v", op, name, ErrUnreachable, err)
}

// Session serializes access to a shared Accessor. A connection multiplexed
// across axes must never interleave the reads of one variable list with
// another caller's traffic.
type Session struct {
	mu  sync.Mutex
	acc Accessor
}

// NewSession wraps acc.
func NewSession(acc Accessor) *Session {
	return &Session{acc: acc}
}

// Get reads one variable under the session lock.
func (s *Session) Get(ctx context.Context, name string) (float64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.acc.Get(ctx, name)
}

// Put writes one variable under the session lock.
func (s *Session) Put(ctx context.Context, name string, value float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.acc.Put(ctx, name, value)
}

// GetAll reads names in order within a single acquisition of the session.
func (s *Session) GetAll(ctx context.Context, names ...string) ([]float64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	values := make([]float64, len(names))
	for i, name := range names {
		v, err := s.acc.Get(ctx, name)
		if err != nil {
			return nil, err
		}
		values[i] = v
	}
	return values, nil
}

// Close closes the underlying accessor when it holds a connection.
func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if c, ok := s.acc.(interface{ Close() error }); ok {
		return c.Close()
	}
	return nil
}
