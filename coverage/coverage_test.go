package coverage

import (
	"testing"

	"github.com/aukilabs/octree-server/frustum"
	"github.com/go-gl/mathgl/mgl32"
	"github.com/stretchr/testify/require"
)

func square(x, y, size, distance float32) *frustum.Polygon {
	p := frustum.NewPolygon(
		mgl32.Vec2{x, y},
		mgl32.Vec2{x + size, y},
		mgl32.Vec2{x + size, y + size},
		mgl32.Vec2{x, y + size},
	)
	p.Distance = distance
	p.AllInView = true
	p.AnyInView = true
	return p
}

func TestCheckMap(t *testing.T) {
	m := New()

	require.Equal(t, Stored, m.CheckMap(square(-0.5, -0.5, 1, 1), true))
	require.Equal(t, 1, m.PolygonCount())

	require.Equal(t, Occluded, m.CheckMap(square(-0.1, -0.1, 0.2, 5), false))
	require.Equal(t, Occluded, m.CheckMap(square(0.2, 0.2, 0.2, 5), true))

	require.Equal(t, NotStored, m.CheckMap(square(-0.1, -0.1, 0.2, 0.5), false))
	require.Equal(t, Stored, m.CheckMap(square(-0.1, -0.1, 0.2, 0.5), true))
	require.Equal(t, 2, m.PolygonCount())
}

func TestCheckMapNotInView(t *testing.T) {
	m := New()

	p := square(-0.5, -0.5, 1, 1)
	p.AllInView = false
	require.Equal(t, DoesntFit, m.CheckMap(p, true))
	require.Zero(t, m.PolygonCount())
}

func TestCheckMapTooSmall(t *testing.T) {
	m := New()

	require.Equal(t, NotStored, m.CheckMap(square(-0.001, -0.001, 0.002, 1), true))
	require.Zero(t, m.PolygonCount())
}

func TestCheckMapChildMaps(t *testing.T) {
	m := New()

	require.Equal(t, Stored, m.CheckMap(square(0.3, 0.3, 0.4, 1), true))
	require.Zero(t, m.PolygonCount())
	require.NotNil(t, m.children[3])

	require.Equal(t, Occluded, m.CheckMap(square(0.4, 0.4, 0.1, 2), true))
}

func TestErase(t *testing.T) {
	m := New()

	require.Equal(t, Stored, m.CheckMap(square(-0.5, -0.5, 1, 1), true))
	m.Erase()
	require.Zero(t, m.PolygonCount())
	require.Equal(t, NotStored, m.CheckMap(square(-0.1, -0.1, 0.2, 5), false))
}

func TestRegionLimit(t *testing.T) {
	m := New()

	for i := 0; i < MaxPolygonsPerRegion; i++ {
		require.Equal(t, Stored, m.CheckMap(square(-0.5-float32(i)*0.001, -0.5, 1, float32(i+1)), true))
	}
	require.Equal(t, NotStored, m.CheckMap(square(-0.9, -0.5, 1.5, 100), true))
}
