// Package octree implements the sparse octree shared between the server and
// its clients, and the bitstream codec that keeps remote copies of it in
// sync.
package octree

import (
	"sort"
	"sync"
	"sync/atomic"

	"github.com/aukilabs/go-tooling/pkg/logs"
	"github.com/aukilabs/octree-server/frustum"
	"github.com/aukilabs/octree-server/octcode"
	"github.com/aukilabs/octree-server/stats"
	"github.com/go-gl/mathgl/mgl32"
	"github.com/google/uuid"
)

// LockType selects how a lookup synchronizes with writers.
type LockType int

const (
	// NoLock performs the lookup without locking. The caller must already
	// hold the tree lock.
	NoLock LockType = iota

	// TryLock performs the lookup only when the read lock can be taken
	// without waiting.
	TryLock

	// Lock waits for the read lock.
	Lock
)

// Operation is called on elements during a recursion. Returning false stops
// the recursion below the element.
type Operation func(e *Element) bool

// Operator is called before and after the children of an element are
// visited. PreRecursion returning false skips the children, PostRecursion
// returning false stops the visit of the remaining siblings.
type Operator interface {
	PreRecursion(e *Element) bool
	PostRecursion(e *Element) bool
}

// Tree is an octree protected by a read write lock. Mutations take the write
// lock, encodes and traversals take the read lock.
type Tree struct {
	mutex           sync.RWMutex
	root            *Element
	dirty           bool
	shouldReaverage bool
	sources         *Sources
	clock           clock
	approver        DeleteApprover
	elements        atomic.Int64
}

// New returns a tree holding only a root element. When shouldReaverage is
// set, the color of elements is recomputed from their children whenever
// their subtree changes.
func New(shouldReaverage bool) *Tree {
	t := &Tree{
		shouldReaverage: shouldReaverage,
		sources:         newSources(),
	}
	t.root = newElement(t, octcode.Root())
	t.dirty = true
	return t
}

// Root returns the root element.
func (t *Tree) Root() *Element {
	return t.root
}

// Sources returns the source registry of the tree.
func (t *Tree) Sources() *Sources {
	return t.sources
}

// ShouldReaverage reports whether colors are recomputed from children.
func (t *Tree) ShouldReaverage() bool {
	return t.shouldReaverage
}

func (t *Tree) IsDirty() bool {
	t.mutex.RLock()
	defer t.mutex.RUnlock()
	return t.dirty
}

func (t *Tree) ClearDirty() {
	t.mutex.Lock()
	defer t.mutex.Unlock()
	t.dirty = false
}

// SetDirty marks the tree as having unsaved changes.
func (t *Tree) SetDirty() {
	t.mutex.Lock()
	defer t.mutex.Unlock()
	t.dirty = true
}

// SetDeleteApprover installs the hook consulted by deep deletes.
func (t *Tree) SetDeleteApprover(a DeleteApprover) {
	t.mutex.Lock()
	defer t.mutex.Unlock()
	t.approver = a
}

func (t *Tree) approveDelete(e *Element) bool {
	return t.approver == nil || t.approver(e)
}

// ElementCount returns the number of elements in the tree.
func (t *Tree) ElementCount() int64 {
	return t.elements.Load()
}

func (t *Tree) elementCreated() {
	t.elements.Add(1)
}

func (t *Tree) elementsDeleted(n int64) {
	t.elements.Add(-n)
}

// RLock and RUnlock hold the read lock across several calls that use
// NoLock.
func (t *Tree) RLock() {
	t.mutex.RLock()
}

func (t *Tree) RUnlock() {
	t.mutex.RUnlock()
}

// lookup runs f under the read lock taken as lockType. It returns false when
// a try lock failed, in which case f is not run.
func (t *Tree) lookup(lockType LockType, f func()) bool {
	switch lockType {
	case Lock:
		t.mutex.RLock()
		defer t.mutex.RUnlock()

	case TryLock:
		if !t.mutex.TryRLock() {
			return false
		}
		defer t.mutex.RUnlock()
	}

	f()
	return true
}

// ElementForCode returns the element with the given code, or nil when it does
// not exist. The boolean is false when a try lock failed.
func (t *Tree) ElementForCode(code octcode.Code, lockType LockType) (*Element, bool) {
	var e *Element
	accurate := t.lookup(lockType, func() {
		e = t.deepestElementForCode(t.root, code)
		if e.Level() != code.Sections() {
			e = nil
		}
	})
	return e, accurate
}

// ElementAt returns the element of size s enclosing the point, in unit
// space.
func (t *Tree) ElementAt(x, y, z, s float32, lockType LockType) (*Element, bool) {
	return t.ElementForCode(octcode.PointToCode(x, y, z, s), lockType)
}

// GetOrCreateElementAt returns the element of size s enclosing the point,
// creating it and its ancestors when missing.
func (t *Tree) GetOrCreateElementAt(x, y, z, s float32) *Element {
	return t.CreateMissingElement(octcode.PointToCode(x, y, z, s))
}

// deepestElementForCode returns the element with the given code, or its
// deepest existing ancestor.
func (t *Tree) deepestElementForCode(ancestor *Element, code octcode.Code) *Element {
	e := ancestor
	for e.Level() < code.Sections() {
		child := e.children[octcode.BranchIndexWithDescendant(e.code, code)]
		if child == nil {
			break
		}
		e = child
	}
	return e
}

// CreateMissingElement returns the element with the given code, splitting
// colored leaves and adding children on the way down as needed.
func (t *Tree) CreateMissingElement(code octcode.Code) *Element {
	t.mutex.Lock()
	defer t.mutex.Unlock()
	return t.createMissingElement(t.root, code)
}

func (t *Tree) createMissingElement(from *Element, code octcode.Code) *Element {
	e := from
	for e.Level() < code.Sections() {
		i := octcode.BranchIndexWithDescendant(e.code, code)
		if e.RequiresSplit() {
			e.SplitChildren()
		} else {
			e.AddChildAtIndex(i)
		}
		e = e.children[i]
		if e.IsDirty() {
			t.dirty = true
		}
	}
	return e
}

type deleteArgs struct {
	code            octcode.Code
	collapse        bool
	deleteLastChild bool
	pathChanged     bool
}

// DeleteOctalCode deletes the element with the given code. Deleting part of
// a colored leaf splits it first. With collapse, ancestors left without
// children are deleted as well, except the root.
func (t *Tree) DeleteOctalCode(code octcode.Code, collapse bool) {
	t.mutex.Lock()
	defer t.mutex.Unlock()

	t.deleteOctalCode(code, collapse)
	instrumentElements(t.elements.Load())
}

func (t *Tree) deleteOctalCode(code octcode.Code, collapse bool) {
	t.deleteOctalCodeRecursion(t.root, &deleteArgs{
		code:     code,
		collapse: collapse,
	}, 0)
}

func (t *Tree) deleteOctalCodeRecursion(e *Element, args *deleteArgs, depth int) {
	if depth > DangerouslyDeepRecursion {
		deleteCodeGuard.trip(depth)
		return
	}

	if e.Level() == args.code.Sections() {
		args.deleteLastChild = true
		return
	}

	i := octcode.BranchIndexWithDescendant(e.code, args.code)
	child := e.children[i]

	if child == nil && e.RequiresSplit() {
		var path []*Element
		ancestor := e
		for {
			index := octcode.BranchIndexWithDescendant(ancestor.code, args.code)
			ancestor.SplitChildren()
			path = append(path, ancestor)
			if ancestor.Level() == args.code.Sections()-1 {
				ancestor.DeleteChildAtIndex(index)
				break
			}
			ancestor = ancestor.children[index]
		}
		for j := len(path) - 1; j >= 0; j-- {
			path[j].HandleSubtreeChanged()
		}

		t.dirty = true
		args.pathChanged = true
		return
	}

	if child == nil {
		return
	}

	t.deleteOctalCodeRecursion(child, args, depth+1)

	if args.deleteLastChild {
		e.DeleteChildAtIndex(i)
		t.dirty = true
		args.pathChanged = true

		if !args.collapse || e.childCount != 0 || e == t.root {
			args.deleteLastChild = false
		}
	}

	if args.pathChanged {
		e.HandleSubtreeChanged()
	}
}

type setVoxelArgs struct {
	code        octcode.Code
	color       Color
	source      uuid.UUID
	destructive bool
	pathChanged bool
}

// SetVoxel colors the element with the given code, creating it when missing.
// An element with children is only colored when destructive is set, in which
// case its children are deleted first.
func (t *Tree) SetVoxel(code octcode.Code, c Color, destructive bool, source uuid.UUID) {
	t.mutex.Lock()
	defer t.mutex.Unlock()

	t.setVoxel(code, c, destructive, source)
	instrumentElements(t.elements.Load())
}

func (t *Tree) setVoxel(code octcode.Code, c Color, destructive bool, source uuid.UUID) {
	t.setVoxelRecursion(t.root, &setVoxelArgs{
		code:        code,
		color:       c,
		source:      source,
		destructive: destructive,
	}, 0)
}

func (t *Tree) setVoxelRecursion(e *Element, args *setVoxelArgs, depth int) {
	if depth > DangerouslyDeepRecursion {
		recurseGuard.trip(depth)
		return
	}

	if e.Level() == args.code.Sections() {
		if !e.IsLeaf() {
			if !args.destructive {
				logs.WithTag("code", e.code).
					Warn("set voxel ignored: it would delete children")
				return
			}
			for i := range e.children {
				e.DeleteChildAtIndex(i)
			}
		}

		e.SetColor(args.color)
		e.SetSourceUUID(args.source)
		if e.IsDirty() {
			t.dirty = true
			args.pathChanged = true
		}
		return
	}

	i := octcode.BranchIndexWithDescendant(e.code, args.code)
	if e.RequiresSplit() {
		e.SplitChildren()
	}
	child := e.AddChildAtIndex(i)

	t.setVoxelRecursion(child, args, depth+1)

	if args.pathChanged {
		e.HandleSubtreeChanged()
	}
}

// EraseAll replaces the root by an empty one.
func (t *Tree) EraseAll() {
	t.mutex.Lock()
	defer t.mutex.Unlock()

	t.elements.Store(0)
	t.root = newElement(t, octcode.Root())
	t.dirty = true
	instrumentElements(t.elements.Load())
}

// Reaverage collapses identical leaves and recomputes the colors of the whole
// tree. It does nothing on trees that do not reaverage.
func (t *Tree) Reaverage() {
	if !t.shouldReaverage {
		return
	}

	t.mutex.Lock()
	defer t.mutex.Unlock()

	t.reaverage(t.root, 0)
	instrumentElements(t.elements.Load())
}

func (t *Tree) reaverage(e *Element, depth int) {
	if depth > UnreasonablyDeepRecursion {
		reaverageGuard.trip(depth)
		return
	}

	hasChildren := false
	for _, child := range e.children {
		if child != nil {
			t.reaverage(child, depth+1)
			hasChildren = true
		}
	}
	if hasChildren && !e.CollapseChildren() {
		e.CalculateAverageFromChildren()
	}
}

// RecurseWithOperation calls op on every element, parents first, under the
// read lock.
func (t *Tree) RecurseWithOperation(op Operation) {
	t.mutex.RLock()
	defer t.mutex.RUnlock()
	t.recurseWithOperation(t.root, op, 0)
}

func (t *Tree) recurseWithOperation(e *Element, op Operation, depth int) {
	if depth > DangerouslyDeepRecursion {
		recurseGuard.trip(depth)
		return
	}

	if !op(e) {
		return
	}
	for _, child := range e.children {
		if child != nil {
			t.recurseWithOperation(child, op, depth+1)
		}
	}
}

// RecurseWithOperator visits every element with o under the read lock.
func (t *Tree) RecurseWithOperator(o Operator) {
	t.mutex.RLock()
	defer t.mutex.RUnlock()
	t.recurseWithOperator(t.root, o, 0)
}

func (t *Tree) recurseWithOperator(e *Element, o Operator, depth int) bool {
	if depth > DangerouslyDeepRecursion {
		recurseGuard.trip(depth)
		return false
	}

	if o.PreRecursion(e) {
		for _, child := range e.children {
			if child != nil && !t.recurseWithOperator(child, o, depth+1) {
				break
			}
		}
	}
	return o.PostRecursion(e)
}

// RecurseDistanceSorted calls op on every element, visiting the children
// closest to point first. Ties are broken by child index. point is in unit
// space.
func (t *Tree) RecurseDistanceSorted(point mgl32.Vec3, op Operation) {
	t.mutex.RLock()
	defer t.mutex.RUnlock()
	t.recurseDistanceSorted(t.root, point, op, 0)
}

func (t *Tree) recurseDistanceSorted(e *Element, point mgl32.Vec3, op Operation, depth int) {
	if depth > DangerouslyDeepRecursion {
		recurseGuard.trip(depth)
		return
	}

	if !op(e) {
		return
	}
	for _, child := range sortChildren(e, func(c *Element) float32 {
		return c.DistanceSquareToPoint(point)
	}) {
		t.recurseDistanceSorted(child, point, op, depth+1)
	}
}

// sortChildren returns the existing children of e sorted by distance. The
// sort is stable so ties keep the child index order.
func sortChildren(e *Element, distance func(*Element) float32) []*Element {
	type sortedChild struct {
		element  *Element
		distance float32
	}

	sorted := make([]sortedChild, 0, NumberOfChildren)
	for _, child := range e.children {
		if child != nil {
			sorted = append(sorted, sortedChild{element: child, distance: distance(child)})
		}
	}
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].distance < sorted[j].distance
	})

	children := make([]*Element, len(sorted))
	for i, c := range sorted {
		children[i] = c.element
	}
	return children
}

// RayIntersection is the closest colored leaf hit by a ray.
type RayIntersection struct {
	Element  *Element
	Distance float32
	Face     frustum.BoxFace
}

// FindRayIntersection returns the closest colored leaf hit by the ray.
// Origin and distance are in world units.
func (t *Tree) FindRayIntersection(origin, direction mgl32.Vec3) (RayIntersection, bool) {
	var hit RayIntersection
	found := false
	unitOrigin := origin.Mul(1.0 / TreeScale)

	t.RecurseWithOperation(func(e *Element) bool {
		distance, face, ok := e.cube.Box().FindRayIntersection(unitOrigin, direction)
		if !ok {
			return false
		}
		if !e.IsLeaf() {
			return true
		}

		distance *= TreeScale
		if e.HasContent() && (!found || distance < hit.Distance) {
			hit = RayIntersection{
				Element:  e,
				Distance: distance,
				Face:     face,
			}
			found = true
		}
		return false
	})
	return hit, found
}

// CountElements returns the number of internal elements and leaves.
func (t *Tree) CountElements() stats.Counter {
	var c stats.Counter
	t.RecurseWithOperation(func(e *Element) bool {
		if e.IsLeaf() {
			c.Leaves++
		} else {
			c.Internal++
		}
		return true
	})
	return c
}

// Codes returns the codes of every element with content, parents first.
func (t *Tree) Codes() []octcode.Code {
	var codes []octcode.Code
	t.RecurseWithOperation(func(e *Element) bool {
		if e.HasContent() {
			codes = append(codes, e.code)
		}
		return true
	})
	return codes
}
