package octree

import (
	"github.com/aukilabs/octree-server/octcode"
)

// Bag is a de-duplicating FIFO of elements still waiting to be sent. It holds
// octal codes rather than elements: an element deleted while bagged is
// skipped when its code no longer resolves in the tree.
type Bag struct {
	queue []octcode.Code
	keys  map[string]struct{}
}

// NewBag returns an empty bag.
func NewBag() *Bag {
	return &Bag{
		keys: make(map[string]struct{}),
	}
}

// Insert adds the code unless it is already bagged.
func (b *Bag) Insert(code octcode.Code) {
	key := code.Key()
	if _, ok := b.keys[key]; ok {
		return
	}
	b.keys[key] = struct{}{}
	b.queue = append(b.queue, code.Clone())
}

// Extract removes and returns the oldest code.
func (b *Bag) Extract() (octcode.Code, bool) {
	if len(b.queue) == 0 {
		return nil, false
	}

	code := b.queue[0]
	b.queue[0] = nil
	b.queue = b.queue[1:]
	delete(b.keys, code.Key())
	return code, true
}

// Contains reports whether the code is bagged.
func (b *Bag) Contains(code octcode.Code) bool {
	_, ok := b.keys[code.Key()]
	return ok
}

func (b *Bag) IsEmpty() bool {
	return len(b.queue) == 0
}

func (b *Bag) Len() int {
	return len(b.queue)
}

// DeleteAll empties the bag.
func (b *Bag) DeleteAll() {
	b.queue = nil
	clear(b.keys)
}

// Filter keeps the codes for which keep returns true and returns the number
// of removed codes.
func (b *Bag) Filter(keep func(octcode.Code) bool) int {
	kept := b.queue[:0]
	removed := 0
	for _, code := range b.queue {
		if keep(code) {
			kept = append(kept, code)
			continue
		}
		delete(b.keys, code.Key())
		removed++
	}
	clear(b.queue[len(kept):])
	b.queue = kept
	return removed
}
