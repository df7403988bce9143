// Package frustum implements view frustums with a keyhole sphere, and the
// box geometry they classify.
package frustum

import (
	"math"

	"github.com/go-gl/mathgl/mgl32"
)

const (
	DefaultFieldOfView   = 45
	DefaultAspectRatio   = 16.0 / 9.0
	DefaultNearClip      = 0.08
	DefaultFarClip       = 16384
	DefaultKeyholeRadius = 3

	// Thresholds of IsVerySimilar.
	positionSimilarEnough          = 5
	orientationSimilarEnough       = 10
	eyeOffsetPositionSimilarEnough = 0.15

	matchEpsilon = 1e-5
)

var (
	identityFront = mgl32.Vec3{0, 0, -1}
	identityUp    = mgl32.Vec3{0, 1, 0}
	identityRight = mgl32.Vec3{1, 0, 0}
)

const (
	topPlane = iota
	bottomPlane
	leftPlane
	rightPlane
	nearPlane
	farPlane
	planeCount
)

// ViewFrustum is the volume a camera sees, plus a keyhole sphere around the
// camera that is always considered in view. Exported fields describe the
// camera; Calculate must be called after changing any of them.
type ViewFrustum struct {
	Position    mgl32.Vec3
	Orientation mgl32.Quat

	// FieldOfView is the vertical field of view in degrees.
	FieldOfView float32
	AspectRatio float32
	NearClip    float32
	FarClip     float32

	EyeOffsetPosition    mgl32.Vec3
	EyeOffsetOrientation mgl32.Quat

	Orthographic bool
	Width        float32
	Height       float32

	// KeyholeRadius is the radius of the keyhole sphere. A negative radius
	// disables the keyhole.
	KeyholeRadius float32

	direction mgl32.Vec3
	up        mgl32.Vec3
	right     mgl32.Vec3
	corners   [vertexCount]mgl32.Vec3
	planes    [planeCount]Plane
	mvp       mgl32.Mat4
}

// New returns a calculated frustum at the origin looking down -z.
func New() *ViewFrustum {
	f := &ViewFrustum{
		Orientation:          mgl32.QuatIdent(),
		FieldOfView:          DefaultFieldOfView,
		AspectRatio:          DefaultAspectRatio,
		NearClip:             DefaultNearClip,
		FarClip:              DefaultFarClip,
		EyeOffsetOrientation: mgl32.QuatIdent(),
		KeyholeRadius:        DefaultKeyholeRadius,
	}
	f.Calculate()
	return f
}

// Calculate recomputes the corners, planes and projection of the frustum.
func (f *ViewFrustum) Calculate() {
	orientation := f.Orientation
	if orientation.Len() == 0 {
		orientation = mgl32.QuatIdent()
	}
	orientation = orientation.Normalize()

	f.direction = orientation.Rotate(identityFront)
	f.up = orientation.Rotate(identityUp)
	f.right = orientation.Rotate(identityRight)

	var nearHalfWidth, nearHalfHeight, farHalfWidth, farHalfHeight float32
	if f.Orthographic {
		nearHalfWidth, farHalfWidth = f.Width/2, f.Width/2
		nearHalfHeight, farHalfHeight = f.Height/2, f.Height/2
	} else {
		tanHalfFOV := float32(math.Tan(float64(mgl32.DegToRad(f.FieldOfView)) / 2))
		nearHalfHeight = f.NearClip * tanHalfFOV
		nearHalfWidth = nearHalfHeight * f.AspectRatio
		farHalfHeight = f.FarClip * tanHalfFOV
		farHalfWidth = farHalfHeight * f.AspectRatio
	}

	eyeSpace := [vertexCount]mgl32.Vec3{
		BottomLeftNear:  {-nearHalfWidth, -nearHalfHeight, -f.NearClip},
		BottomRightNear: {nearHalfWidth, -nearHalfHeight, -f.NearClip},
		TopRightNear:    {nearHalfWidth, nearHalfHeight, -f.NearClip},
		TopLeftNear:     {-nearHalfWidth, nearHalfHeight, -f.NearClip},
		BottomLeftFar:   {-farHalfWidth, -farHalfHeight, -f.FarClip},
		BottomRightFar:  {farHalfWidth, -farHalfHeight, -f.FarClip},
		TopRightFar:     {farHalfWidth, farHalfHeight, -f.FarClip},
		TopLeftFar:      {-farHalfWidth, farHalfHeight, -f.FarClip},
	}

	eyeOffsetOrientation := f.EyeOffsetOrientation
	if eyeOffsetOrientation.Len() == 0 {
		eyeOffsetOrientation = mgl32.QuatIdent()
	}

	world := mgl32.Translate3D(f.Position.X(), f.Position.Y(), f.Position.Z()).
		Mul4(mgl32.Mat3FromCols(f.right, f.up, f.direction.Mul(-1)).Mat4()).
		Mul4(mgl32.Translate3D(f.EyeOffsetPosition.X(), f.EyeOffsetPosition.Y(), f.EyeOffsetPosition.Z())).
		Mul4(eyeOffsetOrientation.Normalize().Mat4())

	for i, c := range eyeSpace {
		v := world.Mul4x1(c.Vec4(1))
		f.corners[i] = v.Vec3().Mul(1 / v.W())
	}

	// Normals point towards the inside of the frustum.
	c := f.corners
	f.planes[topPlane] = PlaneFrom3Points(c[TopRightNear], c[TopLeftNear], c[TopLeftFar])
	f.planes[bottomPlane] = PlaneFrom3Points(c[BottomLeftNear], c[BottomRightNear], c[BottomRightFar])
	f.planes[leftPlane] = PlaneFrom3Points(c[BottomLeftNear], c[BottomLeftFar], c[TopLeftFar])
	f.planes[rightPlane] = PlaneFrom3Points(c[BottomRightFar], c[BottomRightNear], c[TopRightFar])
	f.planes[nearPlane] = PlaneFrom3Points(c[BottomRightNear], c[BottomLeftNear], c[TopLeftNear])
	f.planes[farPlane] = PlaneFrom3Points(c[BottomLeftFar], c[BottomRightFar], c[TopRightFar])

	var projection mgl32.Mat4
	if f.Orthographic {
		projection = mgl32.Ortho(-f.Width/2, f.Width/2, -f.Height/2, f.Height/2, f.NearClip, f.FarClip)
	} else {
		projection = mgl32.Perspective(mgl32.DegToRad(f.FieldOfView), f.AspectRatio, f.NearClip, f.FarClip)
	}
	view := mgl32.LookAtV(f.Position, f.Position.Add(f.direction), f.up)
	f.mvp = projection.Mul4(view)
}

func (f *ViewFrustum) Direction() mgl32.Vec3 {
	return f.direction
}

func (f *ViewFrustum) Up() mgl32.Vec3 {
	return f.up
}

func (f *ViewFrustum) Right() mgl32.Vec3 {
	return f.right
}

// Corner returns a world space corner of the frustum.
func (f *ViewFrustum) Corner(v BoxVertex) mgl32.Vec3 {
	return f.corners[v]
}

// Clone returns a copy of the frustum.
func (f *ViewFrustum) Clone() *ViewFrustum {
	c := *f
	return &c
}

func (f *ViewFrustum) keyholeBox() Box {
	r := f.KeyholeRadius
	return Box{
		Corner: f.Position.Sub(mgl32.Vec3{r, r, r}),
		Scale:  mgl32.Vec3{2 * r, 2 * r, 2 * r},
	}
}

func (f *ViewFrustum) pointInKeyhole(p mgl32.Vec3) Location {
	d := p.Sub(f.Position).Len()
	switch {
	case d > f.KeyholeRadius:
		return Outside
	case d < f.KeyholeRadius:
		return Inside
	default:
		return Intersect
	}
}

func (f *ViewFrustum) sphereInKeyhole(center mgl32.Vec3, radius float32) Location {
	d := center.Sub(f.Position).Len()
	switch {
	case d > radius+f.KeyholeRadius:
		return Outside
	case d+radius < f.KeyholeRadius:
		return Inside
	default:
		return Intersect
	}
}

// boxInKeyhole only considers boxes that fit within the cube enclosing the
// keyhole sphere.
func (f *ViewFrustum) boxInKeyhole(b Box) Location {
	if !f.keyholeBox().ContainsBox(b) {
		return Outside
	}

	if b.ClosestPoint(f.Position).Sub(f.Position).Len() >= f.KeyholeRadius {
		return Outside
	}

	for v := BoxVertex(0); v < vertexCount; v++ {
		if f.pointInKeyhole(b.Vertex(v)) != Inside {
			return Intersect
		}
	}
	return Inside
}

// PointInFrustum classifies a point.
func (f *ViewFrustum) PointInFrustum(p mgl32.Vec3) Location {
	keyhole := Outside
	if f.KeyholeRadius >= 0 {
		if keyhole = f.pointInKeyhole(p); keyhole == Inside {
			return keyhole
		}
	}

	for _, plane := range f.planes {
		if plane.Distance(p) < 0 {
			return keyhole
		}
	}
	return Inside
}

// SphereInFrustum classifies a sphere.
func (f *ViewFrustum) SphereInFrustum(center mgl32.Vec3, radius float32) Location {
	keyhole := Outside
	if f.KeyholeRadius >= 0 {
		if keyhole = f.sphereInKeyhole(center, radius); keyhole == Inside {
			return keyhole
		}
	}

	result := Inside
	for _, plane := range f.planes {
		d := plane.Distance(center)
		if d < -radius {
			return keyhole
		} else if d < radius {
			result = Intersect
		}
	}
	return result
}

// CubeInFrustum classifies a cube.
func (f *ViewFrustum) CubeInFrustum(c Cube) Location {
	return f.BoxInFrustum(c.Box())
}

// BoxInFrustum classifies a box using, for each plane, the vertices
// furthest along and against its normal.
func (f *ViewFrustum) BoxInFrustum(b Box) Location {
	keyhole := Outside
	if f.KeyholeRadius >= 0 {
		if keyhole = f.boxInKeyhole(b); keyhole == Inside {
			return keyhole
		}
	}

	result := Inside
	for _, plane := range f.planes {
		if plane.Distance(b.VertexP(plane.Normal)) < 0 {
			return keyhole
		} else if plane.Distance(b.VertexN(plane.Normal)) < 0 {
			result = Intersect
		}
	}
	return result
}

func vec3Matches(a, b mgl32.Vec3, epsilon float32) bool {
	return mgl32.Abs(a.X()-b.X()) <= epsilon &&
		mgl32.Abs(a.Y()-b.Y()) <= epsilon &&
		mgl32.Abs(a.Z()-b.Z()) <= epsilon
}

func floatMatches(a, b, epsilon float32) bool {
	return mgl32.Abs(a-b) <= epsilon
}

// Matches reports whether both frustums describe the same camera.
func (f *ViewFrustum) Matches(o *ViewFrustum) bool {
	return vec3Matches(f.Position, o.Position, matchEpsilon) &&
		vec3Matches(f.direction, o.direction, matchEpsilon) &&
		vec3Matches(f.up, o.up, matchEpsilon) &&
		vec3Matches(f.right, o.right, matchEpsilon) &&
		floatMatches(f.FieldOfView, o.FieldOfView, matchEpsilon) &&
		floatMatches(f.AspectRatio, o.AspectRatio, matchEpsilon) &&
		floatMatches(f.NearClip, o.NearClip, matchEpsilon) &&
		floatMatches(f.FarClip, o.FarClip, matchEpsilon) &&
		floatMatches(f.KeyholeRadius, o.KeyholeRadius, matchEpsilon) &&
		vec3Matches(f.EyeOffsetPosition, o.EyeOffsetPosition, matchEpsilon) &&
		f.Orthographic == o.Orthographic
}

// angleBetween returns the angle in degrees of the rotation from b to a.
func angleBetween(a, b mgl32.Quat) float32 {
	if a.Len() == 0 || b.Len() == 0 {
		return 0
	}

	d := a.Normalize().Mul(b.Normalize().Inverse())
	w := float64(mgl32.Abs(d.W))
	if w > 1 {
		w = 1
	}

	angle := mgl32.RadToDeg(float32(2 * math.Acos(w)))
	if math.IsNaN(float64(angle)) {
		return 0
	}
	return angle
}

// IsVerySimilar reports whether the frustums are close enough that a client
// would not notice the difference between their scenes.
func (f *ViewFrustum) IsVerySimilar(o *ViewFrustum) bool {
	return f.Position.Sub(o.Position).Len() <= positionSimilarEnough &&
		angleBetween(f.Orientation, o.Orientation) <= orientationSimilarEnough &&
		floatMatches(f.FieldOfView, o.FieldOfView, matchEpsilon) &&
		floatMatches(f.AspectRatio, o.AspectRatio, matchEpsilon) &&
		floatMatches(f.NearClip, o.NearClip, matchEpsilon) &&
		floatMatches(f.FarClip, o.FarClip, matchEpsilon) &&
		f.EyeOffsetPosition.Sub(o.EyeOffsetPosition).Len() <= eyeOffsetPositionSimilarEnough &&
		angleBetween(f.EyeOffsetOrientation, o.EyeOffsetOrientation) <= orientationSimilarEnough
}

// DistanceToCamera returns the distance from the camera to p.
func (f *ViewFrustum) DistanceToCamera(p mgl32.Vec3) float32 {
	return f.Position.Sub(p).Len()
}

// FurthestPointFromCamera returns the vertex of the box furthest from the
// camera without computing any distance.
func (f *ViewFrustum) FurthestPointFromCamera(b Box) mgl32.Vec3 {
	r := b.Corner
	for i := 0; i < 3; i++ {
		if f.Position[i] < b.Corner[i]+b.Scale[i]/2 {
			r[i] += b.Scale[i]
		}
	}
	return r
}

// ProjectPoint projects p to normalized screen space. inView is false for
// points behind the camera; their coordinates are mirrored so they stay on
// the side of the screen they came from.
func (f *ViewFrustum) ProjectPoint(p mgl32.Vec3) (projected mgl32.Vec2, inView bool) {
	v := f.mvp.Mul4x1(p.Vec4(1))
	inView = v.W() > 0

	x, y := v.X()/v.W(), v.Y()/v.W()
	if !inView {
		x, y = -x, -y
	}
	return mgl32.Vec2{x, y}, inView
}

// ProjectedPolygon returns the screen space silhouette of the box.
func (f *ViewFrustum) ProjectedPolygon(b Box) *Polygon {
	near, far := b.Corner, b.FarCorner()
	p := f.Position

	lookup := 0
	if p.X() < near.X() {
		lookup |= 1
	}
	if p.X() > far.X() {
		lookup |= 2
	}
	if p.Y() < near.Y() {
		lookup |= 4
	}
	if p.Y() > far.Y() {
		lookup |= 8
	}
	if p.Z() < near.Z() {
		lookup |= 16
	}
	if p.Z() > far.Z() {
		lookup |= 32
	}

	polygon := NewPolygon()
	hull := hullVertices[lookup]
	polygon.AllInView = len(hull) > 0
	for _, v := range hull {
		projected, inView := f.ProjectPoint(b.Vertex(v))
		polygon.AllInView = polygon.AllInView && inView
		polygon.AnyInView = polygon.AnyInView || inView
		polygon.AddVertex(projected)
	}

	polygon.Distance = f.Position.Sub(b.Center()).Len()
	polygon.ProjectionType = lookup
	return polygon
}
