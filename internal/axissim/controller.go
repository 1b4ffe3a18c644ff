package axissim

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"axisverify/internal/clock"
	"axisverify/internal/pv"
	"axisverify/pkg/logging"
)

const subsystem = "AxisSim"

// Controller hosts simulated axes keyed by prefix and serves them as remote
// variables.
type Controller struct {
	mu     sync.RWMutex
	clk    clock.Clock
	naming pv.Naming
	axes   map[string]*Axis
}

// NewController returns an empty controller.
func NewController(clk clock.Clock, naming pv.Naming) *Controller {
	return &Controller{
		clk:    clk,
		naming: naming,
		axes:   make(map[string]*Axis),
	}
}

// AddAxis creates the axis served under prefix, replacing any previous one.
func (c *Controller) AddAxis(prefix string, cfg AxisConfig) *Axis {
	a := NewAxis(c.clk, cfg)
	c.mu.Lock()
	c.axes[prefix] = a
	c.mu.Unlock()
	logging.Debug(subsystem, "Added axis %s at %g (limits %g..%g)", prefix, cfg.Position, cfg.LowLimit, cfg.HighLimit)
	return a
}

// Axis returns the axis served under prefix.
func (c *Controller) Axis(prefix string) (*Axis, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	a, ok := c.axes[prefix]
	return a, ok
}

// Prefixes lists the hosted axes in order.
func (c *Controller) Prefixes() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]string, 0, len(c.axes))
	for p := range c.axes {
		out = append(out, p)
	}
	sort.Strings(out)
	return out
}

func (c *Controller) lookup(name string) (*Axis, pv.Variable, error) {
	prefix, v, err := c.naming.Resolve(name)
	if err != nil {
		return nil, "", err
	}
	a, ok := c.Axis(prefix)
	if !ok {
		return nil, "", fmt.Errorf("%w: %s", pv.ErrUnknownVariable, name)
	}
	return a, v, nil
}

// Get implements pv.Accessor.
func (c *Controller) Get(ctx context.Context, name string) (float64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	a, v, err := c.lookup(name)
	if err != nil {
		return 0, err
	}
	return a.Get(v)
}

// Put implements pv.Accessor.
func (c *Controller) Put(ctx context.Context, name string, value float64) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	a, v, err := c.lookup(name)
	if err != nil {
		return err
	}
	if err := a.Put(v, value); err != nil {
		return fmt.Errorf("put %s: %w", name, err)
	}
	logging.Debug(subsystem, "%s <- %s", name, pv.FormatValue(value))
	return nil
}
