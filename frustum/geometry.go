package frustum

import (
	"github.com/go-gl/mathgl/mgl32"
)

// Location is the result of classifying a shape against a view frustum.
type Location int

const (
	Outside Location = iota
	Intersect
	Inside
)

func (l Location) String() string {
	switch l {
	case Inside:
		return "inside"
	case Intersect:
		return "intersect"
	default:
		return "outside"
	}
}

// BoxVertex names the eight vertices of an axis aligned box. Left is the
// positive x side, matching the way frustum corners are named.
type BoxVertex int

const (
	BottomLeftNear BoxVertex = iota
	BottomRightNear
	TopRightNear
	TopLeftNear
	BottomLeftFar
	BottomRightFar
	TopRightFar
	TopLeftFar

	vertexCount = 8
)

// BoxFace names the faces of an axis aligned box.
type BoxFace int

const (
	MinXFace BoxFace = iota
	MaxXFace
	MinYFace
	MaxYFace
	MinZFace
	MaxZFace
)

// Box is an axis aligned box.
type Box struct {
	Corner mgl32.Vec3
	Scale  mgl32.Vec3
}

// Cube is an axis aligned cube.
type Cube struct {
	Corner mgl32.Vec3
	Scale  float32
}

// Box returns the cube as a box.
func (c Cube) Box() Box {
	return Box{
		Corner: c.Corner,
		Scale:  mgl32.Vec3{c.Scale, c.Scale, c.Scale},
	}
}

// Center returns the center of the cube.
func (c Cube) Center() mgl32.Vec3 {
	h := c.Scale / 2
	return c.Corner.Add(mgl32.Vec3{h, h, h})
}

// Scaled returns the cube with its corner and edge multiplied by s.
func (c Cube) Scaled(s float32) Cube {
	return Cube{
		Corner: c.Corner.Mul(s),
		Scale:  c.Scale * s,
	}
}

// Center returns the center of the box.
func (b Box) Center() mgl32.Vec3 {
	return b.Corner.Add(b.Scale.Mul(0.5))
}

// FarCorner returns the corner opposite to Corner.
func (b Box) FarCorner() mgl32.Vec3 {
	return b.Corner.Add(b.Scale)
}

// Vertex returns the position of the given vertex.
func (b Box) Vertex(v BoxVertex) mgl32.Vec3 {
	c, s := b.Corner, b.Scale
	switch v {
	case BottomLeftNear:
		return c.Add(mgl32.Vec3{s.X(), 0, 0})
	case BottomRightNear:
		return c
	case TopRightNear:
		return c.Add(mgl32.Vec3{0, s.Y(), 0})
	case TopLeftNear:
		return c.Add(mgl32.Vec3{s.X(), s.Y(), 0})
	case BottomLeftFar:
		return c.Add(mgl32.Vec3{s.X(), 0, s.Z()})
	case BottomRightFar:
		return c.Add(mgl32.Vec3{0, 0, s.Z()})
	case TopRightFar:
		return c.Add(mgl32.Vec3{0, s.Y(), s.Z()})
	default:
		return c.Add(s)
	}
}

// VertexP returns the vertex furthest along the normal.
func (b Box) VertexP(normal mgl32.Vec3) mgl32.Vec3 {
	r := b.Corner
	for i := 0; i < 3; i++ {
		if normal[i] > 0 {
			r[i] += b.Scale[i]
		}
	}
	return r
}

// VertexN returns the vertex furthest against the normal.
func (b Box) VertexN(normal mgl32.Vec3) mgl32.Vec3 {
	r := b.Corner
	for i := 0; i < 3; i++ {
		if normal[i] < 0 {
			r[i] += b.Scale[i]
		}
	}
	return r
}

// Contains reports whether the point is inside the box, faces included.
func (b Box) Contains(p mgl32.Vec3) bool {
	for i := 0; i < 3; i++ {
		if p[i] < b.Corner[i] || p[i] > b.Corner[i]+b.Scale[i] {
			return false
		}
	}
	return true
}

// ContainsBox reports whether every vertex of o is inside the box.
func (b Box) ContainsBox(o Box) bool {
	for v := BoxVertex(0); v < vertexCount; v++ {
		if !b.Contains(o.Vertex(v)) {
			return false
		}
	}
	return true
}

// ClosestPoint returns the point of the box closest to p.
func (b Box) ClosestPoint(p mgl32.Vec3) mgl32.Vec3 {
	far := b.FarCorner()
	for i := 0; i < 3; i++ {
		p[i] = mgl32.Clamp(p[i], b.Corner[i], far[i])
	}
	return p
}

// FindRayIntersection returns the distance along direction at which a ray
// starting at origin enters the box, and the face it enters through. A ray
// starting inside the box reports the face it leaves through.
func (b Box) FindRayIntersection(origin, direction mgl32.Vec3) (float32, BoxFace, bool) {
	const epsilon = 1e-6

	inside := b.Contains(origin)
	far := b.FarCorner()
	best := float32(-1)
	var face BoxFace

	for axis := 0; axis < 3; axis++ {
		d := direction[axis]
		if d > -epsilon && d < epsilon {
			continue
		}

		var plane float32
		var f BoxFace
		switch {
		case inside && d > 0, !inside && d < 0:
			plane, f = far[axis], BoxFace(axis*2+1)
		default:
			plane, f = b.Corner[axis], BoxFace(axis*2)
		}

		t := (plane - origin[axis]) / d
		if t < 0 {
			continue
		}

		hit := origin.Add(direction.Mul(t))
		hit[axis] = plane
		if !b.Contains(hit) {
			continue
		}
		if best < 0 || t < best {
			best, face = t, f
		}
	}

	if best < 0 {
		if inside {
			return 0, face, true
		}
		return 0, 0, false
	}
	return best, face, true
}

// Plane is an oriented plane; points on the side of the normal have a
// positive distance.
type Plane struct {
	Normal mgl32.Vec3
	Point  mgl32.Vec3
	D      float32
}

// PlaneFrom3Points returns the plane through three points given counter
// clockwise when seen from the positive side.
func PlaneFrom3Points(v1, v2, v3 mgl32.Vec3) Plane {
	n := v2.Sub(v1).Cross(v3.Sub(v1)).Normalize()
	return Plane{
		Normal: n,
		Point:  v2,
		D:      -n.Dot(v2),
	}
}

// Distance returns the signed distance from the plane to p.
func (p Plane) Distance(pt mgl32.Vec3) float32 {
	return p.Normal.Dot(pt) + p.D
}
