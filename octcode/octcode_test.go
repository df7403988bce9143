package octcode

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestBytesForSections(t *testing.T) {
	tests := []struct {
		sections int
		bytes    int
	}{
		{0, 1},
		{1, 2},
		{2, 2},
		{3, 3},
		{8, 4},
		{9, 5},
	}

	for _, test := range tests {
		require.Equal(t, test.bytes, BytesForSections(test.sections), "sections: %d", test.sections)
	}
}

func TestFromSections(t *testing.T) {
	c := FromSections(7, 0, 5)
	require.Equal(t, 3, c.Sections())
	require.Len(t, c, 3)
	require.Equal(t, 7, c.Section(0))
	require.Equal(t, 0, c.Section(1))
	require.Equal(t, 5, c.Section(2))

	// 111 000 10|1
	require.Equal(t, byte(0b11100010), c[1])
	require.Equal(t, byte(0b10000000), c[2])
}

func TestChildAndParent(t *testing.T) {
	c := Root()
	var sections []int
	for i := 0; i < 12; i++ {
		idx := (i * 5) % 8
		sections = append(sections, idx)
		c = c.Child(idx)
		require.Equal(t, i+1, c.Sections())
		require.Len(t, c, BytesForSections(i+1))
	}
	require.Equal(t, FromSections(sections...), c)

	for i := 11; i >= 0; i-- {
		c = c.Parent()
		require.Equal(t, FromSections(sections[:i]...), c)
	}
	require.Equal(t, Root(), c.Parent())
}

func TestIsAncestorOf(t *testing.T) {
	a := FromSections(1, 2)
	d := FromSections(1, 2, 3, 4)

	require.True(t, IsAncestorOf(Root(), d, -1))
	require.True(t, IsAncestorOf(a, d, -1))
	require.True(t, IsAncestorOf(a, a, -1))
	require.False(t, IsAncestorOf(d, a, -1))
	require.False(t, IsAncestorOf(FromSections(1, 3), d, -1))

	require.True(t, IsAncestorOf(FromSections(1, 2, 6), a, 6))
	require.False(t, IsAncestorOf(FromSections(1, 2, 6), a, 5))
	require.False(t, IsAncestorOf(FromSections(1, 2, 6, 0), a, 6))
	require.False(t, IsAncestorOf(nil, d, -1))
}

func TestBranchIndexWithDescendant(t *testing.T) {
	require.Equal(t, 3, BranchIndexWithDescendant(FromSections(1, 2), FromSections(1, 2, 3, 4)))
	require.Equal(t, 1, BranchIndexWithDescendant(Root(), FromSections(1, 2)))
}

func TestCompare(t *testing.T) {
	require.Equal(t, 0, Compare(FromSections(1, 2), FromSections(1, 2)))
	require.Equal(t, -1, Compare(FromSections(1), FromSections(1, 0)))
	require.Equal(t, 1, Compare(FromSections(2), FromSections(1, 7)))
	require.True(t, Equal(Root(), Code{0}))
}

func TestVertexAndScale(t *testing.T) {
	x, y, z := Root().Vertex()
	require.Zero(t, x+y+z)
	require.Equal(t, float32(1), Root().Scale())

	c := FromSections(4, 3)
	x, y, z = c.Vertex()
	require.Equal(t, float32(0.5), x)
	require.Equal(t, float32(0.25), y)
	require.Equal(t, float32(0.25), z)
	require.Equal(t, float32(0.25), c.Scale())
}

func TestPointToCode(t *testing.T) {
	require.Equal(t, Root(), PointToCode(0.3, 0.3, 0.3, 1))

	c := PointToCode(0.6, 0.3, 0.8, 0.25)
	require.Equal(t, 2, c.Sections())
	require.Equal(t, 5, c.Section(0))
	require.Equal(t, 3, c.Section(1))

	x, y, z := c.Vertex()
	require.Equal(t, float32(0.5), x)
	require.Equal(t, float32(0.25), y)
	require.Equal(t, float32(0.75), z)

	// A code for a point always contains it.
	for _, s := range []float32{0.5, 0.125, 1.0 / 64, 1.0 / 1024} {
		c := PointToCode(0.123, 0.456, 0.789, s)
		x, y, z := c.Vertex()
		scale := c.Scale()
		require.LessOrEqual(t, scale, s)
		require.True(t, x <= 0.123 && 0.123 < x+scale)
		require.True(t, y <= 0.456 && 0.456 < y+scale)
		require.True(t, z <= 0.789 && 0.789 < z+scale)
	}
}

func TestRead(t *testing.T) {
	c := FromSections(1, 2, 3)
	data := append(c.Clone(), 0xAA, 0xBB)

	read, n, err := Read(data)
	require.NoError(t, err)
	require.Equal(t, 3, n)
	require.True(t, Equal(c, read))

	_, _, err = Read([]byte{9, 0})
	require.Error(t, err)

	_, _, err = Read(nil)
	require.Error(t, err)
}

func TestStringAndParse(t *testing.T) {
	c := FromSections(7, 0, 5, 1)
	s := c.String()
	require.Equal(t, "04E290", s)

	parsed, err := Parse(s)
	require.NoError(t, err)
	require.Equal(t, c, parsed)

	_, err = Parse("zz")
	require.Error(t, err)

	_, err = Parse("0400")
	require.Error(t, err)

	_, err = Parse("01A000")
	require.Error(t, err)
}

func TestKey(t *testing.T) {
	a := FromSections(3, 3)
	b := append(FromSections(3, 3), 0xFF)
	require.Equal(t, a.Key(), b.Key())
	require.NotEqual(t, a.Key(), FromSections(3).Key())
}
