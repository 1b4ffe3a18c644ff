package harness

import (
	"bytes"
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPromptConfirmer(t *testing.T) {
	var out bytes.Buffer
	p := NewPromptConfirmer(strings.NewReader("y\nno\nYes\n"), &out)
	c := Case{ID: "homing", Name: "Homing procedure"}
	ctx := context.Background()

	for _, want := range []bool{true, false, true, false} {
		got, err := p.Confirm(ctx, "IOC:m1", c)
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}
	assert.Contains(t, out.String(), "IOC:m1: Homing procedure")

	cancelled, cancel := context.WithCancel(ctx)
	cancel()
	_, err := p.Confirm(cancelled, "IOC:m1", c)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestAutoConfirm(t *testing.T) {
	ok, err := AutoConfirm{}.Confirm(context.Background(), "IOC:m1", Case{})
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestValidateConfiguration(t *testing.T) {
	valid := DefaultConfiguration()
	require.NoError(t, ValidateConfiguration(valid))

	tests := map[string]func(*Configuration){
		"no device":         func(c *Configuration) { c.Device = "" },
		"no axes":           func(c *Configuration) { c.Axes = nil },
		"empty axis":        func(c *Configuration) { c.Axes = []string{""} },
		"duplicate axis":    func(c *Configuration) { c.Axes = []string{"m1", "m1"} },
		"no workers":        func(c *Configuration) { c.Parallel = 0 },
		"negative timeout":  func(c *Configuration) { c.Timeout = -1 },
		"negative deadband": func(c *Configuration) { c.Deadband = -1 },
		"negative tolerance": func(c *Configuration) {
			c.Tolerance = -0.1
		},
	}
	for name, mutate := range tests {
		t.Run(name, func(t *testing.T) {
			cfg := DefaultConfiguration()
			mutate(&cfg)
			assert.Error(t, ValidateConfiguration(cfg))
		})
	}
}
