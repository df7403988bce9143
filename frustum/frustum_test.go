package frustum

import (
	"testing"

	"github.com/go-gl/mathgl/mgl32"
	"github.com/stretchr/testify/require"
)

func cube(x, y, z, s float32) Cube {
	return Cube{Corner: mgl32.Vec3{x, y, z}, Scale: s}
}

func TestPlanesPointInwards(t *testing.T) {
	f := New()
	inside := mgl32.Vec3{0, 0, -50}

	for i, p := range f.planes {
		require.Greater(t, p.Distance(inside), float32(0), "plane %d", i)
	}
}

func TestCubeInFrustum(t *testing.T) {
	f := New()

	tests := []struct {
		name     string
		cube     Cube
		expected Location
	}{
		{
			name:     "in front",
			cube:     cube(-1, -1, -101, 2),
			expected: Inside,
		},
		{
			name:     "behind",
			cube:     cube(-1, -1, 100, 2),
			expected: Outside,
		},
		{
			name:     "straddles the left plane",
			cube:     cube(-80, -5, -110, 10),
			expected: Intersect,
		},
		{
			name:     "beyond the far clip",
			cube:     cube(-1, -1, -20000, 2),
			expected: Outside,
		},
		{
			name:     "around the camera",
			cube:     cube(-1, -1, -1, 2),
			expected: Inside,
		},
		{
			name:     "behind the camera within the keyhole",
			cube:     cube(-0.5, -0.5, 1, 1),
			expected: Inside,
		},
		{
			name:     "behind the camera partially within the keyhole",
			cube:     cube(-1, -1, 1, 2),
			expected: Intersect,
		},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			require.Equal(t, test.expected, f.CubeInFrustum(test.cube))
		})
	}
}

func TestKeyholeDisabled(t *testing.T) {
	f := New()
	f.KeyholeRadius = -1
	f.Calculate()

	require.Equal(t, Outside, f.CubeInFrustum(cube(-0.5, -0.5, 1, 1)))
	require.Equal(t, Outside, f.PointInFrustum(mgl32.Vec3{0, 0, 1}))
}

func TestPointInFrustum(t *testing.T) {
	f := New()

	require.Equal(t, Inside, f.PointInFrustum(mgl32.Vec3{0, 0, -10}))
	require.Equal(t, Outside, f.PointInFrustum(mgl32.Vec3{0, 0, 10}))
	require.Equal(t, Inside, f.PointInFrustum(mgl32.Vec3{0, 0, 1}))
	require.Equal(t, Intersect, f.PointInFrustum(mgl32.Vec3{0, 0, 3}))
}

func TestSphereInFrustum(t *testing.T) {
	f := New()

	require.Equal(t, Inside, f.SphereInFrustum(mgl32.Vec3{0, 0, -50}, 1))
	require.Equal(t, Outside, f.SphereInFrustum(mgl32.Vec3{0, 0, 50}, 1))
	require.Equal(t, Intersect, f.SphereInFrustum(mgl32.Vec3{0, 0, 4}, 2))
}

func TestOrientation(t *testing.T) {
	f := New()
	f.Orientation = mgl32.QuatRotate(mgl32.DegToRad(180), mgl32.Vec3{0, 1, 0})
	f.Calculate()

	require.InDelta(t, 1, f.Direction().Z(), 1e-5)
	require.Equal(t, Inside, f.CubeInFrustum(cube(-1, -1, 99, 2)))
	require.Equal(t, Outside, f.CubeInFrustum(cube(-1, -1, -101, 2)))
}

func TestOrthographic(t *testing.T) {
	f := New()
	f.Orthographic = true
	f.Width = 10
	f.Height = 10
	f.KeyholeRadius = -1
	f.Calculate()

	require.Equal(t, Inside, f.CubeInFrustum(cube(-1, -1, -1000, 2)))
	require.Equal(t, Outside, f.CubeInFrustum(cube(10, -1, -1000, 2)))
	require.Equal(t, Intersect, f.CubeInFrustum(cube(4, -1, -1000, 2)))
}

func TestMatchesAndIsVerySimilar(t *testing.T) {
	f := New()

	same := f.Clone()
	require.True(t, f.Matches(same))
	require.True(t, f.IsVerySimilar(same))

	moved := f.Clone()
	moved.Position = mgl32.Vec3{4, 0, 0}
	moved.Calculate()
	require.False(t, f.Matches(moved))
	require.True(t, f.IsVerySimilar(moved))

	moved.Position = mgl32.Vec3{6, 0, 0}
	moved.Calculate()
	require.False(t, f.IsVerySimilar(moved))

	turned := f.Clone()
	turned.Orientation = mgl32.QuatRotate(mgl32.DegToRad(5), mgl32.Vec3{0, 1, 0})
	turned.Calculate()
	require.False(t, f.Matches(turned))
	require.True(t, f.IsVerySimilar(turned))

	turned.Orientation = mgl32.QuatRotate(mgl32.DegToRad(15), mgl32.Vec3{0, 1, 0})
	turned.Calculate()
	require.False(t, f.IsVerySimilar(turned))

	zoomed := f.Clone()
	zoomed.FieldOfView = 60
	zoomed.Calculate()
	require.False(t, f.IsVerySimilar(zoomed))
}

func TestProjectPoint(t *testing.T) {
	f := New()

	p, inView := f.ProjectPoint(mgl32.Vec3{0, 0, -10})
	require.True(t, inView)
	require.InDelta(t, 0, p.X(), 1e-5)
	require.InDelta(t, 0, p.Y(), 1e-5)

	p, inView = f.ProjectPoint(mgl32.Vec3{1, 0, -10})
	require.True(t, inView)
	require.Greater(t, p.X(), float32(0))

	_, inView = f.ProjectPoint(mgl32.Vec3{0, 0, 10})
	require.False(t, inView)
}

func TestProjectedPolygon(t *testing.T) {
	f := New()

	near := f.ProjectedPolygon(cube(-1, -1, -12, 2).Box())
	require.Equal(t, 32, near.ProjectionType)
	require.Len(t, near.Vertices, 4)
	require.True(t, near.AllInView)
	require.True(t, near.AnyInView)
	require.InDelta(t, 11, near.Distance, 1e-4)
	require.True(t, near.PointInside(mgl32.Vec2{0, 0}))

	far := f.ProjectedPolygon(cube(-0.5, -0.5, -52, 1).Box())
	require.True(t, near.Occludes(far, true))
	require.False(t, far.Occludes(near, true))
	require.True(t, near.Intersects(far))

	inside := f.ProjectedPolygon(cube(-1, -1, -1, 2).Box())
	require.Zero(t, inside.ProjectionType)
	require.Empty(t, inside.Vertices)
	require.False(t, inside.AllInView)
}

func TestFurthestPointFromCamera(t *testing.T) {
	f := New()

	b := cube(1, 1, 1, 2).Box()
	require.Equal(t, mgl32.Vec3{3, 3, 3}, f.FurthestPointFromCamera(b))

	b = cube(-3, -3, -3, 2).Box()
	require.Equal(t, mgl32.Vec3{-3, -3, -3}, f.FurthestPointFromCamera(b))
}

func TestBoxVertices(t *testing.T) {
	b := cube(0, 0, 0, 1).Box()

	require.Equal(t, mgl32.Vec3{0, 0, 0}, b.Vertex(BottomRightNear))
	require.Equal(t, mgl32.Vec3{1, 1, 1}, b.Vertex(TopLeftFar))
	require.Equal(t, mgl32.Vec3{1, 0, 0}, b.Vertex(BottomLeftNear))
	require.Equal(t, mgl32.Vec3{1, 1, 0}, b.VertexP(mgl32.Vec3{1, 1, -1}))
	require.Equal(t, mgl32.Vec3{0, 0, 1}, b.VertexN(mgl32.Vec3{1, 1, -1}))
	require.True(t, b.ContainsBox(cube(0.25, 0.25, 0.25, 0.5).Box()))
	require.False(t, b.ContainsBox(cube(0.75, 0.25, 0.25, 0.5).Box()))
}

func TestFindRayIntersection(t *testing.T) {
	b := cube(0, 0, 0, 1).Box()

	d, face, ok := b.FindRayIntersection(mgl32.Vec3{-1, 0.5, 0.5}, mgl32.Vec3{1, 0, 0})
	require.True(t, ok)
	require.InDelta(t, 1, d, 1e-6)
	require.Equal(t, MinXFace, face)

	d, face, ok = b.FindRayIntersection(mgl32.Vec3{0.5, 0.5, 0.5}, mgl32.Vec3{0, 1, 0})
	require.True(t, ok)
	require.InDelta(t, 0.5, d, 1e-6)
	require.Equal(t, MaxYFace, face)

	_, _, ok = b.FindRayIntersection(mgl32.Vec3{-1, 5, 0.5}, mgl32.Vec3{1, 0, 0})
	require.False(t, ok)
}

func TestRect(t *testing.T) {
	r := NewRect(mgl32.Vec2{-1, -1}, mgl32.Vec2{2, 2})

	require.Equal(t, NewRect(mgl32.Vec2{-1, 0}, mgl32.Vec2{2, 1}), r.TopHalf())
	require.Equal(t, NewRect(mgl32.Vec2{0, -1}, mgl32.Vec2{1, 2}), r.RightHalf())
	require.True(t, r.Contains(r.LeftHalf()))
	require.False(t, r.LeftHalf().Contains(r))

	var covered Rect
	require.False(t, covered.Contains(r.BottomHalf()))
	covered.ExpandToInclude(r.BottomHalf())
	covered.ExpandToInclude(r.TopHalf())
	require.True(t, covered.Contains(r))
	require.InDelta(t, 4, covered.Area(), 1e-6)
}
