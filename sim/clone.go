package sim

// Cloner memoizes copies while duplicating an economy graph, so a controller
// shared by two pools (chained growth, a common treasury) stays shared in the
// copy. References to components outside the copied graph are kept as-is.
type Cloner struct {
	seen   map[any]any
	fixups []func()
}

// NewCloner returns an empty Cloner.
func NewCloner() *Cloner {
	return &Cloner{seen: make(map[any]any)}
}

// Finish runs deferred reference rewrites. Call once the whole graph is copied.
func (c *Cloner) Finish() {
	for _, f := range c.fixups {
		f()
	}
	c.fixups = nil
}

// resolve returns the copy of orig if one was made, else orig.
func (c *Cloner) resolve(orig any) any {
	if v, ok := c.seen[orig]; ok {
		return v
	}
	return orig
}

// later defers f until Finish.
func (c *Cloner) later(f func()) {
	c.fixups = append(c.fixups, f)
}

// cloneOnce returns the memoized copy of orig, building it with fn on first use.
func cloneOnce[T comparable](c *Cloner, orig T, fn func() T) T {
	if v, ok := c.seen[orig]; ok {
		return v.(T)
	}
	cp := fn()
	c.seen[orig] = cp
	return cp
}
