package frustum

import (
	"math"

	"github.com/go-gl/mathgl/mgl32"
)

// Rect is an axis aligned rectangle in normalized screen space. The zero
// value is an unset rectangle that contains nothing.
type Rect struct {
	Corner mgl32.Vec2
	Size   mgl32.Vec2
	set    bool
}

// NewRect returns a set rectangle.
func NewRect(corner, size mgl32.Vec2) Rect {
	return Rect{Corner: corner, Size: size, set: true}
}

func (r Rect) IsSet() bool {
	return r.set
}

func (r Rect) Area() float32 {
	return r.Size.X() * r.Size.Y()
}

func (r Rect) TopHalf() Rect {
	h := r.Size.Y() / 2
	return NewRect(mgl32.Vec2{r.Corner.X(), r.Corner.Y() + h}, mgl32.Vec2{r.Size.X(), h})
}

func (r Rect) BottomHalf() Rect {
	return NewRect(r.Corner, mgl32.Vec2{r.Size.X(), r.Size.Y() / 2})
}

func (r Rect) LeftHalf() Rect {
	return NewRect(r.Corner, mgl32.Vec2{r.Size.X() / 2, r.Size.Y()})
}

func (r Rect) RightHalf() Rect {
	w := r.Size.X() / 2
	return NewRect(mgl32.Vec2{r.Corner.X() + w, r.Corner.Y()}, mgl32.Vec2{w, r.Size.Y()})
}

// Contains reports whether o lies within the rectangle, edges included.
func (r Rect) Contains(o Rect) bool {
	return r.set &&
		o.Corner.X() >= r.Corner.X() &&
		o.Corner.Y() >= r.Corner.Y() &&
		o.Corner.X()+o.Size.X() <= r.Corner.X()+r.Size.X() &&
		o.Corner.Y()+o.Size.Y() <= r.Corner.Y()+r.Size.Y()
}

// ExpandToInclude grows the rectangle to cover o.
func (r *Rect) ExpandToInclude(o Rect) {
	if !r.set {
		*r = NewRect(o.Corner, o.Size)
		return
	}

	minX := min(o.Corner.X(), r.Corner.X())
	minY := min(o.Corner.Y(), r.Corner.Y())
	maxX := max(o.Corner.X()+o.Size.X(), r.Corner.X()+r.Size.X())
	maxY := max(o.Corner.Y()+o.Size.Y(), r.Corner.Y()+r.Size.Y())
	r.Corner = mgl32.Vec2{minX, minY}
	r.Size = mgl32.Vec2{maxX - minX, maxY - minY}
}

// Polygon is the screen space shadow of a box, as seen from a frustum.
// Vertices wind counter clockwise.
type Polygon struct {
	Vertices []mgl32.Vec2

	// Distance from the camera to the center of the projected box.
	Distance float32

	AllInView      bool
	AnyInView      bool
	ProjectionType int

	minX, minY, maxX, maxY float32
}

// NewPolygon returns a polygon with the given vertices.
func NewPolygon(vertices ...mgl32.Vec2) *Polygon {
	p := &Polygon{
		minX: math.MaxFloat32,
		minY: math.MaxFloat32,
		maxX: -math.MaxFloat32,
		maxY: -math.MaxFloat32,
	}
	for _, v := range vertices {
		p.AddVertex(v)
	}
	return p
}

// AddVertex appends a vertex and grows the bounding rectangle.
func (p *Polygon) AddVertex(v mgl32.Vec2) {
	p.Vertices = append(p.Vertices, v)
	p.minX = min(p.minX, v.X())
	p.minY = min(p.minY, v.Y())
	p.maxX = max(p.maxX, v.X())
	p.maxY = max(p.maxY, v.Y())
}

// BoundingRect returns the rectangle that encloses the polygon.
func (p *Polygon) BoundingRect() Rect {
	if len(p.Vertices) == 0 {
		return Rect{}
	}
	return NewRect(
		mgl32.Vec2{p.minX, p.minY},
		mgl32.Vec2{p.maxX - p.minX, p.maxY - p.minY},
	)
}

// PointInside reports whether pt is inside the polygon or on one of its
// edges.
func (p *Polygon) PointInside(pt mgl32.Vec2) bool {
	if pt.X() > p.maxX || pt.Y() > p.maxY || pt.X() < p.minX || pt.Y() < p.minY {
		return false
	}

	n := len(p.Vertices)
	for i := 0; i < n; i++ {
		start := p.Vertices[i]
		end := p.Vertices[(i+1)%n]
		a := start.Y() - end.Y()
		b := end.X() - start.X()
		c := a*start.X() + b*start.Y()
		if a*pt.X()+b*pt.Y() < c {
			return false
		}
	}
	return true
}

// Occludes reports whether every vertex of o falls inside p. With
// checkAllInView, polygons partially out of view never occlude.
func (p *Polygon) Occludes(o *Polygon, checkAllInView bool) bool {
	if checkAllInView && (!p.AllInView || !o.AllInView) {
		return false
	}

	if o.maxX > p.maxX || o.maxY > p.maxY || o.minX < p.minX || o.minY < p.minY {
		return false
	}

	for _, v := range o.Vertices {
		if !p.PointInside(v) {
			return false
		}
	}
	return len(o.Vertices) > 0
}

// Matches reports whether both polygons have the same vertices in the same
// cyclic order.
func (p *Polygon) Matches(o *Polygon) bool {
	n := len(p.Vertices)
	if n != len(o.Vertices) {
		return false
	}
	if n == 0 {
		return true
	}

	origin := 0
	for i, v := range o.Vertices {
		if v == p.Vertices[0] {
			origin = i
			break
		}
	}

	for i := 0; i < n; i++ {
		if o.Vertices[(i+origin)%n] != p.Vertices[i] {
			return false
		}
	}
	return true
}

// Intersects reports whether the two convex polygons overlap.
func (p *Polygon) Intersects(o *Polygon) bool {
	return p.intersectsOnAxes(o) && o.intersectsOnAxes(p)
}

func (p *Polygon) intersectsOnAxes(o *Polygon) bool {
	n := len(p.Vertices)
	for i := 0; i < n; i++ {
		start := p.Vertices[i]
		end := p.Vertices[(i+1)%n]
		a := start.Y() - end.Y()
		b := end.X() - start.X()
		c := a*start.X() + b*start.Y()

		separated := true
		for _, v := range o.Vertices {
			if a*v.X()+b*v.Y() >= c {
				separated = false
				break
			}
		}
		if separated {
			return false
		}
	}
	return true
}

// hullVertices lists, for each position of the camera relative to a box,
// the box vertices that outline its silhouette. The index is the 6-bit
// code computed in ProjectedPolygon.
var hullVertices = [43][]BoxVertex{
	0: nil,
	1: {BottomRightNear, BottomRightFar, TopRightFar, TopRightNear},
	2: {BottomLeftFar, BottomLeftNear, TopLeftNear, TopLeftFar},
	4: {BottomRightNear, BottomLeftNear, BottomLeftFar, BottomRightFar},
	5: {BottomRightNear, BottomLeftNear, BottomLeftFar, BottomRightFar, TopRightFar, TopRightNear},
	6: {BottomRightNear, BottomLeftNear, TopLeftNear, TopLeftFar, BottomLeftFar, BottomRightFar},
	8: {TopRightNear, TopRightFar, TopLeftFar, TopLeftNear},
	9: {TopRightNear, BottomRightNear, BottomRightFar, TopRightFar, TopLeftFar, TopLeftNear},
	10: {TopRightNear, TopRightFar, TopLeftFar, BottomLeftFar, BottomLeftNear, TopLeftNear},
	16: {BottomLeftNear, BottomRightNear, TopRightNear, TopLeftNear},
	17: {BottomLeftNear, BottomRightNear, BottomRightFar, TopRightFar, TopRightNear, TopLeftNear},
	18: {BottomLeftFar, BottomLeftNear, BottomRightNear, TopRightNear, TopLeftNear, TopLeftFar},
	20: {BottomLeftNear, BottomLeftFar, BottomRightFar, BottomRightNear, TopRightNear, TopLeftNear},
	21: {BottomLeftNear, BottomLeftFar, BottomRightFar, TopRightFar, TopRightNear, TopLeftNear},
	22: {BottomLeftFar, BottomRightFar, BottomRightNear, TopRightNear, TopLeftNear, TopLeftFar},
	24: {BottomLeftNear, BottomRightNear, TopRightNear, TopRightFar, TopLeftFar, TopLeftNear},
	25: {BottomLeftNear, BottomRightNear, BottomRightFar, TopRightFar, TopLeftFar, TopLeftNear},
	26: {BottomLeftFar, BottomLeftNear, BottomRightNear, TopRightNear, TopRightFar, TopLeftFar},
	32: {BottomRightFar, BottomLeftFar, TopLeftFar, TopRightFar},
	33: {BottomRightNear, BottomRightFar, BottomLeftFar, TopLeftFar, TopRightFar, TopRightNear},
	34: {BottomRightFar, BottomLeftFar, BottomLeftNear, TopLeftNear, TopLeftFar, TopRightFar},
	36: {BottomRightNear, BottomLeftNear, BottomLeftFar, TopLeftFar, TopRightFar, BottomRightFar},
	37: {BottomRightNear, BottomLeftNear, BottomLeftFar, TopLeftFar, TopRightFar, TopRightNear},
	38: {BottomRightNear, BottomLeftNear, TopLeftNear, TopLeftFar, TopRightFar, BottomRightFar},
	40: {BottomRightFar, BottomLeftFar, TopLeftFar, TopLeftNear, TopRightNear, TopRightFar},
	41: {BottomRightNear, BottomRightFar, BottomLeftFar, TopLeftFar, TopLeftNear, TopRightNear},
	42: {TopRightNear, TopRightFar, BottomRightFar, BottomLeftFar, BottomLeftNear, TopLeftNear},
}
