// Package coverage implements a screen space occlusion map. Polygons of
// nearer elements are stored as they are encoded; later polygons fully
// covered by a nearer one are reported as occluded.
package coverage

import (
	"sort"

	"github.com/aukilabs/octree-server/frustum"
	"github.com/go-gl/mathgl/mgl32"
)

const (
	// MaxPolygonsPerRegion caps the polygons kept by a single region.
	MaxPolygonsPerRegion = 50

	// MinimumPolygonAreaToStore is the area of a 10 pixel square on a
	// typical screen, in normalized screen units.
	MinimumPolygonAreaToStore = (2.0 / 1500 * 10) * (2.0 / 1500 * 10)
)

const (
	childCount = 4
	leftBit    = 1
	topBit     = 2
)

// Result is the outcome of checking a polygon against a map.
type Result int

const (
	Stored Result = iota
	NotStored
	Occluded
	DoesntFit
)

func (r Result) String() string {
	switch r {
	case Stored:
		return "stored"
	case NotStored:
		return "not_stored"
	case Occluded:
		return "occluded"
	default:
		return "doesnt_fit"
	}
}

// RootRect is the screen area covered by a root map. It is larger than the
// visible screen so that polygons slightly off screen still fit.
var RootRect = frustum.NewRect(mgl32.Vec2{-1, -1}, mgl32.Vec2{2, 2})

// Map is a quad tree of screen regions.
type Map struct {
	isRoot bool
	rect   frustum.Rect

	top       region
	bottom    region
	left      region
	right     region
	remainder region

	children [childCount]*Map
}

// New returns an empty root map.
func New() *Map {
	return newMap(RootRect, true)
}

func newMap(rect frustum.Rect, isRoot bool) *Map {
	return &Map{
		isRoot:    isRoot,
		rect:      rect,
		top:       region{rect: rect.TopHalf()},
		bottom:    region{rect: rect.BottomHalf()},
		left:      region{rect: rect.LeftHalf()},
		right:     region{rect: rect.RightHalf()},
		remainder: region{rect: rect, isRoot: isRoot},
	}
}

// Erase removes every stored polygon.
func (m *Map) Erase() {
	m.top.erase()
	m.bottom.erase()
	m.left.erase()
	m.right.erase()
	m.remainder.erase()
	m.children = [childCount]*Map{}
}

// PolygonCount returns the number of polygons stored at this level.
func (m *Map) PolygonCount() int {
	return len(m.top.polygons) +
		len(m.bottom.polygons) +
		len(m.left.polygons) +
		len(m.right.polygons) +
		len(m.remainder.polygons)
}

func (m *Map) childRect(i int) frustum.Rect {
	size := m.rect.Size.Mul(0.5)
	corner := m.rect.Corner
	if i&leftBit != 0 {
		corner[0] += size.X()
	}
	if i&topBit != 0 {
		corner[1] += size.Y()
	}
	return frustum.NewRect(corner, size)
}

// CheckMap tests the polygon against the polygons already stored and, when
// store is set and the polygon is not occluded, stores it.
func (m *Map) CheckMap(p *frustum.Polygon, store bool) Result {
	if !p.AllInView {
		return DoesntFit
	}

	box := p.BoundingRect()
	if !m.isRoot && !m.rect.Contains(box) {
		return DoesntFit
	}

	result := NotStored
	storeIn := &m.remainder

	for _, r := range []*region{&m.top, &m.bottom, &m.left, &m.right} {
		if r.rect.Contains(box) {
			result = r.check(p, box, store)
			storeIn = r
			break
		}
	}

	if result != Stored && result != Occluded {
		result = m.remainder.check(p, box, store)
	}
	if result == Stored || result == Occluded {
		return result
	}

	for i := 0; i < childCount; i++ {
		rect := m.childRect(i)
		if !rect.Contains(box) {
			continue
		}
		if m.children[i] == nil {
			m.children[i] = newMap(rect, false)
		}
		return m.children[i].CheckMap(p, store)
	}

	if !store {
		return NotStored
	}
	return storeIn.store(p, box)
}

type region struct {
	isRoot   bool
	rect     frustum.Rect
	covered  frustum.Rect
	polygons []*frustum.Polygon
}

func (r *region) erase() {
	r.polygons = nil
	r.covered = frustum.Rect{}
}

func (r *region) store(p *frustum.Polygon, box frustum.Rect) Result {
	if box.Area() <= MinimumPolygonAreaToStore || len(r.polygons) >= MaxPolygonsPerRegion {
		return NotStored
	}

	r.covered.ExpandToInclude(box)

	// Polygons stay sorted by distance so the nearest occluders are tested
	// first.
	i := sort.Search(len(r.polygons), func(i int) bool {
		return r.polygons[i].Distance > p.Distance
	})
	r.polygons = append(r.polygons, nil)
	copy(r.polygons[i+1:], r.polygons[i:])
	r.polygons[i] = p
	return Stored
}

func (r *region) check(p *frustum.Polygon, box frustum.Rect, store bool) Result {
	if !r.isRoot && !r.rect.Contains(box) {
		return DoesntFit
	}
	if !r.covered.Contains(box) {
		return NotStored
	}

	for _, stored := range r.polygons {
		if !stored.Occludes(p, true) {
			continue
		}

		// The stored polygon is further away, so p is in front of it.
		if stored.Distance >= p.Distance {
			if !store {
				return NotStored
			}
			return r.store(p, box)
		}
		return Occluded
	}
	return NotStored
}
