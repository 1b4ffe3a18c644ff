package pv

import (
	"context"
	"errors"
	"fmt"
	"math"
)

// Record is the motor record of one axis, addressed through an Accessor.
type Record struct {
	acc    Accessor
	prefix string
	naming Naming
}

// NewRecord creates a record for prefix, e.g. "IOC:m1".
func NewRecord(acc Accessor, prefix string, naming Naming) *Record {
	return &Record{acc: acc, prefix: prefix, naming: naming}
}

// Prefix returns the record prefix.
func (r *Record) Prefix() string { return r.prefix }

// Name returns the full remote variable name of v.
func (r *Record) Name(v Variable) string { return r.naming.Name(r.prefix, v) }

// Get reads v.
func (r *Record) Get(ctx context.Context, v Variable) (float64, error) {
	return r.acc.Get(ctx, r.Name(v))
}

// Put writes v.
func (r *Record) Put(ctx context.Context, v Variable, value float64) error {
	return r.acc.Put(ctx, r.Name(v), value)
}

// GetBool reads v and reports whether it is non-zero.
func (r *Record) GetBool(ctx context.Context, v Variable) (bool, error) {
	f, err := r.Get(ctx, v)
	if err != nil {
		return false, err
	}
	return f != 0, nil
}

// GetWord reads v as an integer status word.
func (r *Record) GetWord(ctx context.Context, v Variable) (int64, error) {
	f, err := r.Get(ctx, v)
	if err != nil {
		return 0, err
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, fmt.Errorf("%s is not a status word: %v", r.Name(v), f)
	}
	return int64(f), nil
}

// Trigger writes 1 to a command variable such as STOP or HOMF.
func (r *Record) Trigger(ctx context.Context, v Variable) error {
	return r.Put(ctx, v, 1)
}

type multiGetter interface {
	GetAll(ctx context.Context, names ...string) ([]float64, error)
}

// Read returns the current values of vars. When the accessor is a Session
// the list is read within a single acquisition.
func (r *Record) Read(ctx context.Context, vars ...Variable) (Snapshot, error) {
	names := make([]string, len(vars))
	for i, v := range vars {
		names[i] = r.Name(v)
	}

	var values []float64
	if mg, ok := r.acc.(multiGetter); ok {
		var err error
		values, err = mg.GetAll(ctx, names...)
		if err != nil {
			return Snapshot{}, err
		}
	} else {
		values = make([]float64, len(names))
		for i, name := range names {
			v, err := r.acc.Get(ctx, name)
			if err != nil {
				return Snapshot{}, err
			}
			values[i] = v
		}
	}

	snap := Snapshot{order: vars, values: make(map[Variable]float64, len(vars))}
	for i, v := range vars {
		snap.values[v] = values[i]
	}
	return snap, nil
}

// Restore writes back every value in snap whose current value differs.
// It keeps going after a failed write and returns all failures joined.
func (r *Record) Restore(ctx context.Context, snap Snapshot) error {
	var errs []error
	for _, v := range snap.order {
		want := snap.values[v]
		got, err := r.Get(ctx, v)
		if err == nil && got == want {
			continue
		}
		if err := r.Put(ctx, v, want); err != nil {
			errs = append(errs, fmt.Errorf("restore %s: %w", r.Name(v), err))
		}
	}
	return errors.Join(errs...)
}

// Snapshot holds values read from a record, in read order.
type Snapshot struct {
	order  []Variable
	values map[Variable]float64
}

// Value returns the captured value of v.
func (s Snapshot) Value(v Variable) (float64, bool) {
	f, ok := s.values[v]
	return f, ok
}

// Variables returns the captured variables in read order.
func (s Snapshot) Variables() []Variable {
	return append([]Variable(nil), s.order...)
}

// Map returns the snapshot keyed by variable.
func (s Snapshot) Map() map[Variable]float64 {
	out := make(map[Variable]float64, len(s.values))
	for k, v := range s.values {
		out[k] = v
	}
	return out
}
