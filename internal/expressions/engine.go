package expressions

import (
	"context"
	"sync"
)

// Engine evaluates one expression language against a data map.
// CEL drives recovery rules, Expr drives threshold rules and the expr.eval
// agent, GoJQ drives the jq.transform agent and metric queries.
type Engine interface {
	Name() string
	Evaluate(ctx context.Context, expression string, data map[string]any) (any, error)
}

// programCache memoizes compiled programs keyed by source text.
// Safe for concurrent use; compile runs at most once per hit race winner.
type programCache[P any] struct {
	mu    sync.RWMutex
	progs map[string]P
}

func newProgramCache[P any]() *programCache[P] {
	return &programCache[P]{progs: make(map[string]P)}
}

func (c *programCache[P]) get(expression string, compile func() (P, error)) (P, error) {
	c.mu.RLock()
	if p, ok := c.progs[expression]; ok {
		c.mu.RUnlock()
		return p, nil
	}
	c.mu.RUnlock()

	c.mu.Lock()
	defer c.mu.Unlock()

	if p, ok := c.progs[expression]; ok {
		return p, nil
	}

	p, err := compile()
	if err != nil {
		return p, err
	}
	c.progs[expression] = p
	return p, nil
}

func (c *programCache[P]) len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.progs)
}
