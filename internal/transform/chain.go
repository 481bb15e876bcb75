package transform

import "strings"

// Chain is a non-empty ordered sequence of steps. A chain is an optional init
// chain plus its last step, so chains with a common prefix share it.
type Chain struct {
	init   *Chain
	last   *Step
	length int
}

// NewChain builds a chain from steps. It returns nil when steps is empty.
func NewChain(steps ...*Step) *Chain {
	var c *Chain
	for _, s := range steps {
		c = c.Append(s)
	}
	return c
}

// Append returns a new chain ending in step. The receiver may be nil.
func (c *Chain) Append(step *Step) *Chain {
	if step == nil {
		panic("transform: nil step appended to chain")
	}
	return &Chain{init: c, last: step, length: c.Len() + 1}
}

// Len is the number of steps. A nil chain has length zero.
func (c *Chain) Len() int {
	if c == nil {
		return 0
	}
	return c.length
}

// Init returns the chain without its last step, or nil.
func (c *Chain) Init() *Chain {
	if c == nil {
		return nil
	}
	return c.init
}

// Last returns the final step, or nil for a nil chain.
func (c *Chain) Last() *Step {
	if c == nil {
		return nil
	}
	return c.last
}

// Visit calls fn for each step in order.
func (c *Chain) Visit(fn func(*Step)) {
	if c == nil {
		return
	}
	c.init.Visit(fn)
	fn(c.last)
}

// Steps returns the steps in order.
func (c *Chain) Steps() []*Step {
	out := make([]*Step, 0, c.Len())
	c.Visit(func(s *Step) { out = append(out, s) })
	return out
}

// EndsWith reports whether other is a suffix of c. Steps compare by identity.
func (c *Chain) EndsWith(other *Chain) bool {
	if other.Len() > c.Len() {
		return false
	}
	a, b := c, other
	for b != nil {
		if a == b {
			return true
		}
		if a.last.Identity() != b.last.Identity() {
			return false
		}
		a, b = a.init, b.init
	}
	return true
}

// DisplayName joins the step names, e.g. "unzip -> minify".
func (c *Chain) DisplayName() string {
	names := make([]string, 0, c.Len())
	c.Visit(func(s *Step) { names = append(names, s.Name()) })
	return strings.Join(names, " -> ")
}

func (c *Chain) String() string { return c.DisplayName() }
