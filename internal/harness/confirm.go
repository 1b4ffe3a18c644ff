package harness

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"
	"sync"
)

// AutoConfirm approves every case.
type AutoConfirm struct{}

func (AutoConfirm) Confirm(context.Context, string, Case) (bool, error) { return true, nil }

// PromptConfirmer asks an operator on a terminal. Concurrent axes share
// one prompt at a time.
type PromptConfirmer struct {
	mu  sync.Mutex
	in  *bufio.Reader
	out io.Writer
}

// NewPromptConfirmer reads answers from in and writes questions to out.
func NewPromptConfirmer(in io.Reader, out io.Writer) *PromptConfirmer {
	return &PromptConfirmer{in: bufio.NewReader(in), out: out}
}

// Confirm returns true for an answer starting with y. End of input
// declines.
func (p *PromptConfirmer) Confirm(ctx context.Context, axis string, c Case) (bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return false, err
	}
	fmt.Fprintf(p.out, "⚠️  %s: %s moves the axis beyond its soft limits. Run it? [y/N] ", axis, c.Name)
	answer, err := p.in.ReadString('\n')
	if err != nil && err != io.EOF {
		return false, fmt.Errorf("read answer: %w", err)
	}
	answer = strings.ToLower(strings.TrimSpace(answer))
	return strings.HasPrefix(answer, "y"), nil
}
