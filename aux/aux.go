// Package aux implements the ordered key→value attachment table of
// spec.md §3/§4.8, used to hang arbitrary per-item state off handles,
// plugins, and futures without those types needing to know about it.
//
// Grounded on eventloop/options.go's ordered-slice-of-configuration
// pattern, generalized from "apply once at construction" to "get/set/
// destroy across the object's lifetime."
package aux

import "errors"

// ErrInvalid is returned for the illegal argument combinations spec.md
// §4.8 enumerates.
var ErrInvalid = errors.New("aux: invalid arguments")

// ErrNotFound is returned by Get when key is not present.
var ErrNotFound = errors.New("aux: key not found")

// Destructor is called with the value being replaced or removed.
type Destructor func(val any)

type item struct {
	key      string // "" for anonymous entries
	val      any
	destroy  Destructor
	anon     bool
}

// Container is an ordered sequence of (key, value, destructor) triples.
// The zero value is ready to use.
type Container struct {
	items []*item
	index map[string]*item
}

// Set applies spec.md §4.8's rules:
//   - key=="" && val==nil            -> ErrInvalid
//   - val==nil && destroy!=nil        -> ErrInvalid
//   - key=="" && destroy==nil         -> ErrInvalid
//   - key already present             -> its destructor runs on the old value
//   - val==nil (key set)              -> entry removed
//   - key==""                         -> anonymous append, invisible to Get
func (c *Container) Set(key string, val any, destroy Destructor) error {
	if key == "" && val == nil {
		return ErrInvalid
	}
	if val == nil && destroy != nil {
		return ErrInvalid
	}
	if key == "" && destroy == nil {
		return ErrInvalid
	}

	if key == "" {
		it := &item{val: val, destroy: destroy, anon: true}
		c.items = append(c.items, it)
		return nil
	}

	if c.index == nil {
		c.index = make(map[string]*item)
	}

	if existing, ok := c.index[key]; ok {
		if existing.destroy != nil {
			existing.destroy(existing.val)
		}
		if val == nil {
			c.remove(existing)
			delete(c.index, key)
			return nil
		}
		existing.val = val
		existing.destroy = destroy
		return nil
	}

	if val == nil {
		// removing a key that was never present is a no-op
		return nil
	}

	it := &item{key: key, val: val, destroy: destroy}
	c.items = append(c.items, it)
	c.index[key] = it
	return nil
}

func (c *Container) remove(target *item) {
	for i, it := range c.items {
		if it == target {
			c.items = append(c.items[:i], c.items[i+1:]...)
			return
		}
	}
}

// Get returns the value for key, or ErrNotFound. Anonymous entries are
// never visible to Get (spec.md §4.8).
func (c *Container) Get(key string) (any, error) {
	if c.index == nil {
		return nil, ErrNotFound
	}
	it, ok := c.index[key]
	if !ok {
		return nil, ErrNotFound
	}
	return it.val, nil
}

// Destroy calls every destructor (including anonymous entries), in
// insertion order, and clears the container (spec.md §4.8).
func (c *Container) Destroy() {
	for _, it := range c.items {
		if it.destroy != nil {
			it.destroy(it.val)
		}
	}
	c.items = nil
	c.index = nil
}
