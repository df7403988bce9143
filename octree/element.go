package octree

import (
	"math"

	"github.com/aukilabs/go-tooling/pkg/errors"
	"github.com/aukilabs/octree-server/frustum"
	"github.com/aukilabs/octree-server/octcode"
	"github.com/aukilabs/octree-server/packet"
	"github.com/go-gl/mathgl/mgl32"
	"github.com/google/uuid"
)

const (
	// NumberOfChildren is the number of children of an element.
	NumberOfChildren = 8

	// TreeScale is the edge length of the root cube in world units.
	TreeScale = 16384

	// DefaultOctreeSizeScale is the default LOD size scale. Larger scales
	// keep smaller elements rendered at a given distance.
	DefaultOctreeSizeScale = TreeScale * 400

	// ChangeFudge is subtracted from the last view sent time when testing
	// for changes, to cover clock skew between the encode and the edits.
	ChangeFudge = 1000
)

// Color is the payload of an element.
type Color struct {
	R, G, B uint8
}

// DeleteApprover reports whether an element may be deleted by a deep delete.
type DeleteApprover func(e *Element) bool

// Element is a node of an octree. Its cube is derived from its octal code and
// is half the edge of its parent cube.
type Element struct {
	tree     *Tree
	code     octcode.Code
	cube     frustum.Cube
	children [NumberOfChildren]*Element

	childCount   int
	dirty        bool
	shouldRender bool
	lastChanged  uint64

	color     Color
	colored   bool
	sourceKey uint16
}

func newElement(t *Tree, code octcode.Code) *Element {
	x, y, z := code.Vertex()
	e := &Element{
		tree: t,
		code: code,
		cube: frustum.Cube{
			Corner: mgl32.Vec3{x, y, z},
			Scale:  code.Scale(),
		},
		dirty: true,
	}
	e.MarkWithChangedTime()
	t.elementCreated()
	return e
}

// Code returns the octal code of the element.
func (e *Element) Code() octcode.Code {
	return e.code
}

// Cube returns the cube of the element in unit space.
func (e *Element) Cube() frustum.Cube {
	return e.cube
}

// Level returns the depth of the element, zero for the root.
func (e *Element) Level() int {
	return e.code.Sections()
}

func (e *Element) IsLeaf() bool {
	return e.childCount == 0
}

func (e *Element) ChildCount() int {
	return e.childCount
}

// ChildAtIndex returns the child at index i or nil.
func (e *Element) ChildAtIndex(i int) *Element {
	return e.children[i]
}

func (e *Element) IsDirty() bool {
	return e.dirty
}

func (e *Element) SetDirty() {
	e.dirty = true
}

func (e *Element) ClearDirty() {
	e.dirty = false
}

// LastChanged returns the time of the last change in microseconds.
func (e *Element) LastChanged() uint64 {
	return e.lastChanged
}

// HasChangedSince reports whether the element changed after t.
func (e *Element) HasChangedSince(t uint64) bool {
	return e.lastChanged > t
}

// MarkWithChangedTime stamps the element with a new change time.
func (e *Element) MarkWithChangedTime() {
	e.lastChanged = e.tree.clock.now()
}

func (e *Element) Color() Color {
	return e.color
}

func (e *Element) IsColored() bool {
	return e.colored
}

// HasContent reports whether the element carries a payload worth sending.
func (e *Element) HasContent() bool {
	return e.colored
}

// SetColor colors the element. Setting the same color again is not a change.
func (e *Element) SetColor(c Color) {
	if e.colored && e.color == c {
		return
	}
	e.color = c
	e.colored = true
	e.dirty = true
	e.MarkWithChangedTime()
}

// ClearColor removes the payload of the element.
func (e *Element) ClearColor() {
	if !e.colored {
		return
	}
	e.color = Color{}
	e.colored = false
	e.dirty = true
	e.MarkWithChangedTime()
}

func (e *Element) ShouldRender() bool {
	return e.shouldRender
}

// SetShouldRender sets the render flag. A change marks the element dirty.
func (e *Element) SetShouldRender(v bool) {
	if v == e.shouldRender {
		return
	}
	e.shouldRender = v
	e.dirty = true
	e.MarkWithChangedTime()
}

// SourceKey returns the tree local key of the node that last edited the
// element.
func (e *Element) SourceKey() uint16 {
	return e.sourceKey
}

// SourceUUID returns the UUID of the node that last edited the element.
func (e *Element) SourceUUID() uuid.UUID {
	return e.tree.sources.UUID(e.sourceKey)
}

func (e *Element) SetSourceUUID(id uuid.UUID) {
	e.sourceKey = e.tree.sources.Key(id)
}

// MatchesSourceUUID reports whether id edited the element last. The nil UUID
// matches elements without a source.
func (e *Element) MatchesSourceUUID(id uuid.UUID) bool {
	return e.SourceUUID() == id
}

// AddChildAtIndex returns the child at index i, creating it when missing.
func (e *Element) AddChildAtIndex(i int) *Element {
	if child := e.children[i]; child != nil {
		return child
	}

	child := newElement(e.tree, e.code.Child(i))
	e.children[i] = child
	e.childCount++
	e.dirty = true
	e.MarkWithChangedTime()
	return child
}

// DeleteChildAtIndex deletes the child at index i and its whole subtree.
func (e *Element) DeleteChildAtIndex(i int) {
	child := e.RemoveChildAtIndex(i)
	if child == nil {
		return
	}
	e.tree.elementsDeleted(child.countSubtree(0))
}

// RemoveChildAtIndex detaches the child at index i without deleting it.
func (e *Element) RemoveChildAtIndex(i int) *Element {
	child := e.children[i]
	if child == nil {
		return nil
	}

	e.children[i] = nil
	e.childCount--
	e.dirty = true
	e.MarkWithChangedTime()
	return child
}

func (e *Element) countSubtree(depth int) int64 {
	if depth > DangerouslyDeepRecursion {
		countGuard.trip(depth)
		return 1
	}

	n := int64(1)
	for _, child := range e.children {
		if child != nil {
			n += child.countSubtree(depth + 1)
		}
	}
	return n
}

// SafeDeepDeleteChildAtIndex deletes the child at index i once every element
// of its subtree has been approved for deletion. Descendants deleted before a
// veto stay deleted. It returns whether the child is gone.
func (e *Element) SafeDeepDeleteChildAtIndex(i int) bool {
	return e.safeDeepDeleteChildAtIndex(i, 0)
}

func (e *Element) safeDeepDeleteChildAtIndex(i, depth int) bool {
	if depth > DangerouslyDeepRecursion {
		deleteGuard.trip(depth)
		return false
	}

	child := e.children[i]
	if child == nil {
		return true
	}
	if !e.tree.approveDelete(child) {
		return false
	}

	for j := range child.children {
		if !child.safeDeepDeleteChildAtIndex(j, depth+1) {
			return false
		}
	}
	e.DeleteChildAtIndex(i)
	return true
}

// RequiresSplit reports whether the element is a colored leaf, which must be
// split before a deeper element can be addressed inside it.
func (e *Element) RequiresSplit() bool {
	return e.IsLeaf() && e.colored
}

// SplitChildren gives a colored leaf eight children of its color.
func (e *Element) SplitChildren() {
	if !e.RequiresSplit() {
		return
	}
	for i := 0; i < NumberOfChildren; i++ {
		e.AddChildAtIndex(i).SetColor(e.color)
	}
}

// CollapseChildren replaces eight leaf children of the same color by their
// parent with that color. It returns whether the children were collapsed.
func (e *Element) CollapseChildren() bool {
	var c Color
	for i, child := range e.children {
		if child == nil || !child.IsLeaf() || !child.colored {
			return false
		}
		if i == 0 {
			c = child.color
		} else if child.color != c {
			return false
		}
	}

	for i := range e.children {
		e.DeleteChildAtIndex(i)
	}
	e.SetColor(c)
	return true
}

// CalculateAverageFromChildren colors the element with the average color of
// its children when more than half of them are colored, and clears its color
// otherwise.
func (e *Element) CalculateAverageFromChildren() {
	var r, g, b, n int
	for _, child := range e.children {
		if child == nil || !child.colored {
			continue
		}
		r += int(child.color.R)
		g += int(child.color.G)
		b += int(child.color.B)
		n++
	}

	if n <= NumberOfChildren/2 {
		e.ClearColor()
		return
	}
	e.SetColor(Color{
		R: uint8(r / n),
		G: uint8(g / n),
		B: uint8(b / n),
	})
}

// HandleSubtreeChanged is called on every ancestor of a changed element.
func (e *Element) HandleSubtreeChanged() {
	if e.tree.shouldReaverage {
		e.CalculateAverageFromChildren()
	}
	e.MarkWithChangedTime()
}

func (e *Element) worldBox() frustum.Box {
	return e.cube.Scaled(TreeScale).Box()
}

// InFrustum classifies the element against f.
func (e *Element) InFrustum(f *frustum.ViewFrustum) frustum.Location {
	return f.BoxInFrustum(e.worldBox())
}

// IsInView reports whether the element is at least partially in f.
func (e *Element) IsInView(f *frustum.ViewFrustum) bool {
	return e.InFrustum(f) != frustum.Outside
}

// DistanceToCamera returns the world distance from the camera of f to the
// center of the element.
func (e *Element) DistanceToCamera(f *frustum.ViewFrustum) float32 {
	return f.DistanceToCamera(e.cube.Center().Mul(TreeScale))
}

// FurthestDistanceToCamera returns the world distance from the camera of f to
// the corner of the element furthest from it.
func (e *Element) FurthestDistanceToCamera(f *frustum.ViewFrustum) float32 {
	return f.DistanceToCamera(f.FurthestPointFromCamera(e.worldBox()))
}

// DistanceSquareToPoint returns the squared unit space distance from p to the
// center of the element.
func (e *Element) DistanceSquareToPoint(p mgl32.Vec3) float32 {
	d := p.Sub(e.cube.Center())
	return d.Dot(d)
}

// BoundaryDistanceForRenderLevel returns the distance beyond which elements
// of the given level are rendered by their parent.
func BoundaryDistanceForRenderLevel(level int, sizeScale float32) float32 {
	return float32(float64(sizeScale) / math.Exp2(float64(level)))
}

// CalculateShouldRender reports whether the element renders at the LOD of f.
// Leaves render within their child boundary; other elements render between
// their own boundary and the child boundary, where their children would be
// too small to matter.
func (e *Element) CalculateShouldRender(f *frustum.ViewFrustum, sizeScale float32, boundaryLevelAdjust int) bool {
	if !e.HasContent() {
		return false
	}

	furthest := e.FurthestDistanceToCamera(f)
	level := e.Level() + boundaryLevelAdjust
	inBoundary := furthest <= BoundaryDistanceForRenderLevel(level, sizeScale)
	inChildBoundary := furthest <= BoundaryDistanceForRenderLevel(level+1, sizeScale)
	return (e.IsLeaf() && inChildBoundary) || (inBoundary && !inChildBoundary)
}

// AppendElementData writes the payload of the element to c.
func (e *Element) AppendElementData(c *packet.Cursor) bool {
	return c.AppendColor(e.color.R, e.color.G, e.color.B)
}

// ReadElementData reads the payload of the element from the start of data
// and returns the number of bytes read.
func (e *Element) ReadElementData(data []byte) (int, error) {
	if len(data) < packet.BytesPerColor {
		return 0, errors.New("element data truncated").
			WithType(ErrTypeBitstream).
			WithTag("code", e.code).
			WithTag("size", len(data))
	}

	e.SetColor(Color{R: data[0], G: data[1], B: data[2]})
	return packet.BytesPerColor, nil
}
