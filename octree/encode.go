package octree

import (
	"math"

	"github.com/aukilabs/octree-server/coverage"
	"github.com/aukilabs/octree-server/frustum"
	"github.com/aukilabs/octree-server/jurisdiction"
	"github.com/aukilabs/octree-server/octcode"
	"github.com/aukilabs/octree-server/packet"
	"github.com/aukilabs/octree-server/stats"
)

// StopReason tells why the encode of a subtree stopped.
type StopReason int

const (
	StopUnknown StopReason = iota
	StopDidntFit
	StopNullElement
	StopTooDeep
	StopOutOfJurisdiction
	StopLODSkip
	StopOutOfView
	StopWasInView
	StopNoChange
	StopOccluded
)

func (r StopReason) String() string {
	switch r {
	case StopDidntFit:
		return "didnt_fit"
	case StopNullElement:
		return "null_element"
	case StopTooDeep:
		return "too_deep"
	case StopOutOfJurisdiction:
		return "out_of_jurisdiction"
	case StopLODSkip:
		return "lod_skip"
	case StopOutOfView:
		return "out_of_view"
	case StopWasInView:
		return "was_in_view"
	case StopNoChange:
		return "no_change"
	case StopOccluded:
		return "occluded"
	default:
		return "unknown"
	}
}

// EncodeParams configures an encode pass.
type EncodeParams struct {
	// MaxEncodeLevel is the number of levels below the encoded element that
	// may be written.
	MaxEncodeLevel  int
	MaxLevelReached int

	// Frustum filters the elements to send. A nil frustum sends every
	// element with its payload.
	Frustum *frustum.ViewFrustum

	IncludeColor      bool
	IncludeExistsBits bool

	// DeltaView skips elements that were already in LastViewFrustum and did
	// not change since LastViewFrustumSent.
	DeltaView           bool
	LastViewFrustum     *frustum.ViewFrustum
	LastViewFrustumSent uint64
	ForceSendScene      bool

	// WantOcclusionCulling requires a Frustum and a Coverage map.
	WantOcclusionCulling bool
	Coverage             *coverage.Map

	BoundaryLevelAdjust int
	SizeScale           float32

	// Jurisdiction restricts the encode to the elements owned by the server.
	// A nil map owns everything.
	Jurisdiction *jurisdiction.Map

	Stats *stats.SceneStats

	StopReason StopReason
}

// DefaultEncodeParams returns params that encode every element with colors
// and without culling.
func DefaultEncodeParams() EncodeParams {
	return EncodeParams{
		MaxEncodeLevel: math.MaxInt32,
		IncludeColor:   true,
		SizeScale:      DefaultOctreeSizeScale,
	}
}

// FullFidelityParams returns params that encode the whole tree including
// the exists in tree bits, so that decoding also replays deletions.
func FullFidelityParams() EncodeParams {
	p := DefaultEncodeParams()
	p.IncludeExistsBits = true
	return p
}

type encoder struct {
	cursor *packet.Cursor
	bag    *Bag
	params *EncodeParams
	stats  *stats.SceneStats
}

// EncodeTreeBitstream writes the subtree of the element with the given code
// to c under the read lock. Elements that did not fit are inserted in bag.
// It returns the number of bytes written, zero when nothing was.
func (t *Tree) EncodeTreeBitstream(code octcode.Code, c *packet.Cursor, bag *Bag, params *EncodeParams) int {
	t.mutex.RLock()
	defer t.mutex.RUnlock()

	e, _ := t.ElementForCode(code, NoLock)
	n := t.encodeTreeBitstream(e, c, bag, params)
	instrumentEncode(n, params.StopReason)
	return n
}

func (t *Tree) encodeTreeBitstream(e *Element, c *packet.Cursor, bag *Bag, params *EncodeParams) int {
	if e == nil {
		params.StopReason = StopNullElement
		return 0
	}

	enc := encoder{
		cursor: c,
		bag:    bag,
		params: params,
		stats:  params.Stats,
	}
	if enc.stats == nil {
		enc.stats = stats.New()
	}

	if params.Frustum != nil && !e.IsInView(params.Frustum) {
		params.StopReason = StopOutOfView
		return 0
	}

	if !c.StartSubTree(e.code) {
		bag.Insert(e.code)
		params.StopReason = StopDidntFit
		return 0
	}
	bytes := e.code.Bytes()

	enc.stats.CountTraversed(e.IsLeaf())
	childBytes := enc.encodeRecursion(e, 0)

	// A subtree made of an empty color mask and an empty packet mask carries
	// nothing.
	if params.IncludeColor && childBytes == 2 {
		childBytes = 0
	}

	if childBytes == 0 {
		c.DiscardSubTree()
		return 0
	}
	c.EndSubTree()
	return bytes + childBytes
}

func (enc *encoder) wasInView(e *Element, last *frustum.ViewFrustum) bool {
	location := e.InFrustum(last)
	if e.IsLeaf() {
		return location != frustum.Outside
	}
	return location == frustum.Inside
}

func (enc *encoder) changedSinceLastViewSent(e *Element) bool {
	since := enc.params.LastViewFrustumSent
	if since > ChangeFudge {
		since -= ChangeFudge
	} else {
		since = 0
	}
	return e.HasChangedSince(since)
}

func (enc *encoder) boundary(e *Element) float32 {
	return BoundaryDistanceForRenderLevel(e.Level()+enc.params.BoundaryLevelAdjust, enc.params.SizeScale)
}

func (enc *encoder) occluded(e *Element, store bool) bool {
	p := enc.params.Frustum.ProjectedPolygon(e.worldBox())
	if !p.AllInView {
		return false
	}
	return enc.params.Coverage.CheckMap(p, store) == coverage.Occluded
}

// skip reports whether the element must not be written, and why.
func (enc *encoder) skip(e *Element) (StopReason, bool) {
	p := enc.params
	leaf := e.IsLeaf()

	if p.Jurisdiction.IsMyJurisdiction(e.code, jurisdiction.CheckNodeOnly) == jurisdiction.Below {
		return StopOutOfJurisdiction, true
	}

	f := p.Frustum
	if f == nil {
		return StopUnknown, false
	}

	if e.DistanceToCamera(f) >= enc.boundary(e) {
		enc.stats.CountSkippedDistance(leaf)
		return StopLODSkip, true
	}

	if !e.IsInView(f) {
		enc.stats.CountSkippedOutOfView(leaf)
		return StopOutOfView, true
	}

	wasInView := false
	if p.DeltaView && p.LastViewFrustum != nil {
		wasInView = enc.wasInView(e, p.LastViewFrustum)

		// Too far to be rendered from the last view means it was never
		// seen.
		if wasInView && e.DistanceToCamera(p.LastViewFrustum) >= enc.boundary(e) {
			wasInView = false
		}
	}

	if wasInView && !(p.DeltaView && enc.changedSinceLastViewSent(e)) {
		enc.stats.CountSkippedWasInView(leaf)
		return StopWasInView, true
	}

	if !p.ForceSendScene && !p.DeltaView && !enc.changedSinceLastViewSent(e) {
		enc.stats.CountSkippedNoChange(leaf)
		return StopNoChange, true
	}

	if p.WantOcclusionCulling && p.Coverage != nil && !leaf && enc.occluded(e, false) {
		enc.stats.CountSkippedOccluded(leaf)
		return StopOccluded, true
	}

	return StopUnknown, false
}

type encodeChild struct {
	element  *Element
	index    int
	distance float32
}

// children returns the child slots of e to visit, closest first when
// occlusion culling is on and in index order otherwise.
func (enc *encoder) children(e *Element) []encodeChild {
	p := enc.params
	if !p.WantOcclusionCulling {
		children := make([]encodeChild, NumberOfChildren)
		for i, child := range e.children {
			children[i] = encodeChild{element: child, index: i}
		}
		return children
	}

	children := make([]encodeChild, 0, NumberOfChildren)
	sorted := sortChildren(e, func(child *Element) float32 {
		if p.Frustum == nil {
			return 0
		}
		return child.DistanceToCamera(p.Frustum)
	})
	for _, child := range sorted {
		c := encodeChild{
			element: child,
			index:   child.code.Section(child.Level() - 1),
		}
		if p.Frustum != nil {
			c.distance = child.DistanceToCamera(p.Frustum)
		}
		children = append(children, c)
	}
	return children
}

func bit(i int) byte {
	return 1 << (7 - i)
}

func (enc *encoder) encodeRecursion(e *Element, level int) int {
	p := enc.params
	c := enc.cursor
	bytes := 0

	if level > DangerouslyDeepRecursion {
		encodeGuard.trip(level)
		p.StopReason = StopTooDeep
		return 0
	}

	level++
	p.MaxLevelReached = max(level, p.MaxLevelReached)
	if level >= p.MaxEncodeLevel {
		p.StopReason = StopTooDeep
		return 0
	}

	if reason, skip := enc.skip(e); skip {
		p.StopReason = reason
		return 0
	}

	var (
		existsInTreeBits   byte
		existsInPacketBits byte
		coloredBits        byte
		inViewNotLeafCount int
	)

	levelStart := c.StartLevel()
	children := enc.children(e)

	for _, child := range children {
		if p.IncludeExistsBits {
			notMine := p.Jurisdiction.HasRoot() &&
				p.Jurisdiction.IsMyJurisdiction(e.code, child.index) != jurisdiction.Within
			if child.element != nil || notMine {
				existsInTreeBits |= bit(child.index)
			}
		}
		if child.element != nil {
			enc.stats.CountTraversed(child.element.IsLeaf())
		}
	}

	for _, child := range children {
		ce := child.element
		if ce == nil {
			continue
		}
		leaf := ce.IsLeaf()

		if p.Frustum != nil && !ce.IsInView(p.Frustum) {
			enc.stats.CountSkippedOutOfView(leaf)
			continue
		}

		boundary := float32(1)
		if p.Frustum != nil {
			boundary = enc.boundary(ce)
		}
		if !(child.distance < boundary) {
			enc.stats.CountSkippedDistance(leaf)
			continue
		}

		if !leaf {
			existsInPacketBits |= bit(child.index)
			inViewNotLeafCount++
		}

		occluded := p.WantOcclusionCulling && p.Frustum != nil && p.Coverage != nil &&
			leaf && enc.occluded(ce, true)

		shouldRender := ce.HasContent()
		if p.Frustum != nil {
			shouldRender = ce.CalculateShouldRender(p.Frustum, p.SizeScale, p.BoundaryLevelAdjust)
		}

		if !shouldRender && leaf {
			enc.stats.CountSkippedDistance(leaf)
		}
		if occluded {
			enc.stats.CountSkippedOccluded(leaf)
		}
		if !shouldRender || occluded {
			continue
		}

		childWasInView := p.DeltaView && p.LastViewFrustum != nil && enc.wasInView(ce, p.LastViewFrustum)
		if !childWasInView || (p.DeltaView && enc.changedSinceLastViewSent(ce)) {
			coloredBits |= bit(child.index)
		} else {
			enc.stats.CountSkippedWasInView(leaf)
		}
	}

	ok := c.AppendBitMask(coloredBits)
	if ok {
		bytes++
		enc.stats.CountColorBits()
	}

	if ok && p.IncludeColor {
		for i, child := range e.children {
			if coloredBits&bit(i) == 0 || child == nil {
				continue
			}
			if ok = child.AppendElementData(c); !ok {
				break
			}
			bytes += packet.BytesPerColor
			enc.stats.CountColorSent(child.IsLeaf())
		}
	}

	if ok && p.IncludeExistsBits {
		if ok = c.AppendBitMask(existsInTreeBits); ok {
			bytes++
			enc.stats.CountExistsBits()
		}
	}

	if ok {
		if ok = c.AppendBitMask(existsInPacketBits); ok {
			bytes++
			enc.stats.CountExistsInPacketBits()
		}
	}

	if ok && inViewNotLeafCount > 0 {
		placeholder := c.UncompressedByteOffset(1)
		firstSliceOffset := c.UncompressedByteOffset(0)

		var sliceStarts, sliceSizes [NumberOfChildren]int
		allSlicesSize := 0

		for _, child := range children {
			if existsInPacketBits&bit(child.index) == 0 {
				continue
			}

			childLevel := c.StartLevel()
			sliceStarts[child.index] = c.UncompressedSize()
			childBytes := 0

			// Colored children were judged by LOD to have nothing visible
			// below them. Without a frustum everything is recursed.
			if p.Frustum == nil || coloredBits&bit(child.index) == 0 {
				childBytes = enc.encodeRecursion(child.element, level)
			}

			// An empty color mask and an empty packet mask carry nothing.
			// With exists bits the subtree may still carry deletions.
			if p.IncludeColor && !p.IncludeExistsBits && childBytes == 2 {
				childBytes = 0
			}
			if childBytes == 0 {
				c.DiscardLevel(childLevel)
			}

			sliceSizes[child.index] = childBytes
			allSlicesSize += childBytes
			bytes += childBytes

			if childBytes == 0 {
				existsInPacketBits &^= bit(child.index)
				if ok = c.UpdatePriorBitMask(placeholder, existsInPacketBits); !ok {
					break
				}
				if existsInPacketBits == 0 {
					enc.stats.CountChildBitsRemoved(p.IncludeExistsBits, p.IncludeColor)
				}
			}
		}

		if ok && p.WantOcclusionCulling && allSlicesSize > 0 {
			data := c.UncompressedData()
			shuffled := make([]byte, 0, allSlicesSize)
			for i := 0; i < NumberOfChildren; i++ {
				if existsInPacketBits&bit(i) != 0 {
					shuffled = append(shuffled, data[sliceStarts[i]:sliceStarts[i]+sliceSizes[i]]...)
				}
			}
			ok = c.UpdatePriorBytes(firstSliceOffset, shuffled)
		}
	}

	if ok {
		ok = c.EndLevel(levelStart)
	} else {
		c.DiscardLevel(levelStart)
	}

	if !ok {
		enc.bag.Insert(e.code)
		enc.stats.CountDidntFit(e.IsLeaf())
		p.StopReason = StopDidntFit
		return 0
	}
	return bytes
}
