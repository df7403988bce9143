// Package octcode implements octal codes, the variable length addresses of
// octree elements.
//
// The first byte of a code holds the number of 3-bit sections. Sections
// follow, packed most significant bit first, and may span byte boundaries.
// Each section selects one of the eight children of the previous level: bit
// 4 selects the upper x half, bit 2 the upper y half and bit 1 the upper z
// half.
package octcode

import (
	"encoding/hex"
	"strings"

	"github.com/aukilabs/go-tooling/pkg/errors"
)

const (
	// ErrTypeMalformed is the error type of codes that cannot be parsed.
	ErrTypeMalformed = "malformed_octal_code"

	// MaxSections is the deepest code that fits the section count byte.
	MaxSections = 255
)

// Code is an octal code.
type Code []byte

// Root returns the code of the root element.
func Root() Code {
	return Code{0}
}

// BytesForSections returns the number of bytes a code with n sections
// occupies, count byte included.
func BytesForSections(n int) int {
	return 1 + (3*n+7)/8
}

// Sections returns the number of 3-bit sections in the code.
func (c Code) Sections() int {
	if len(c) == 0 {
		return 0
	}
	return int(c[0])
}

// Bytes returns the number of bytes the code occupies.
func (c Code) Bytes() int {
	return BytesForSections(c.Sections())
}

// Section returns the child index stored in the section at position i.
func (c Code) Section(i int) int {
	off := i * 3
	b := 1 + off/8
	shift := off % 8

	v := uint16(c[b]) << 8
	if b+1 < len(c) {
		v |= uint16(c[b+1])
	}
	return int(v>>(13-shift)) & 7
}

func (c Code) setSection(i, value int) {
	off := i * 3
	b := 1 + off/8
	shift := off % 8

	v := uint16(c[b]) << 8
	if b+1 < len(c) {
		v |= uint16(c[b+1])
	}
	mask := uint16(7) << (13 - shift)
	v = v&^mask | uint16(value&7)<<(13-shift)

	c[b] = byte(v >> 8)
	if b+1 < len(c) {
		c[b+1] = byte(v)
	}
}

// FromSections builds a code from a list of child indexes.
func FromSections(sections ...int) Code {
	c := make(Code, BytesForSections(len(sections)))
	c[0] = byte(len(sections))
	for i, s := range sections {
		c.setSection(i, s)
	}
	return c
}

// Child returns the code of the child at index i.
func (c Code) Child(i int) Code {
	n := c.Sections()
	child := make(Code, BytesForSections(n+1))
	copy(child, c[:c.Bytes()])
	child[0] = byte(n + 1)
	child.setSection(n, i)
	return child
}

// Parent returns the code of the parent element. The parent of the root is
// the root.
func (c Code) Parent() Code {
	n := c.Sections()
	if n == 0 {
		return Root()
	}
	return c.Truncate(n - 1)
}

// Truncate returns the ancestor of the code with n sections.
func (c Code) Truncate(n int) Code {
	if n >= c.Sections() {
		return c.Clone()
	}

	t := make(Code, BytesForSections(n))
	t[0] = byte(n)
	for i := 0; i < n; i++ {
		t.setSection(i, c.Section(i))
	}
	return t
}

// Clone returns a copy of the code trimmed to its exact length.
func (c Code) Clone() Code {
	if len(c) == 0 {
		return Root()
	}
	clone := make(Code, c.Bytes())
	copy(clone, c)
	return clone
}

// BranchIndexWithDescendant returns the index of the child of ancestor that
// leads to descendant.
func BranchIndexWithDescendant(ancestor, descendant Code) int {
	return descendant.Section(ancestor.Sections())
}

// IsAncestorOf reports whether possibleAncestor is possibleDescendant or one
// of its ancestors. A non negative childIndex tests the child of
// possibleDescendant at that index instead.
func IsAncestorOf(possibleAncestor, possibleDescendant Code, childIndex int) bool {
	if len(possibleAncestor) == 0 || len(possibleDescendant) == 0 {
		return false
	}

	ancestorSections := possibleAncestor.Sections()
	if ancestorSections == 0 {
		return true
	}

	descendantSections := possibleDescendant.Sections()
	if childIndex >= 0 {
		descendantSections++
	}
	if ancestorSections > descendantSections {
		return false
	}

	for i := 0; i < ancestorSections; i++ {
		var section int
		if i == possibleDescendant.Sections() {
			section = childIndex
		} else {
			section = possibleDescendant.Section(i)
		}

		if possibleAncestor.Section(i) != section {
			return false
		}
	}
	return true
}

// Compare orders codes by their section sequences; a code sorts before its
// descendants.
func Compare(a, b Code) int {
	an, bn := a.Sections(), b.Sections()
	for i := 0; i < an && i < bn; i++ {
		if d := a.Section(i) - b.Section(i); d != 0 {
			if d < 0 {
				return -1
			}
			return 1
		}
	}

	switch {
	case an < bn:
		return -1
	case an > bn:
		return 1
	default:
		return 0
	}
}

// Equal reports whether both codes address the same element.
func Equal(a, b Code) bool {
	return Compare(a, b) == 0
}

// Key returns a string usable as a map key.
func (c Code) Key() string {
	if len(c) == 0 {
		return string(Root())
	}
	return string(c[:c.Bytes()])
}

// Scale returns the edge length of the element in unit space.
func (c Code) Scale() float32 {
	scale := float32(1)
	for i := 0; i < c.Sections(); i++ {
		scale /= 2
	}
	return scale
}

// Vertex returns the minimum corner of the element in unit space.
func (c Code) Vertex() (x, y, z float32) {
	step := float32(0.5)
	for i := 0; i < c.Sections(); i++ {
		s := c.Section(i)
		if s&4 != 0 {
			x += step
		}
		if s&2 != 0 {
			y += step
		}
		if s&1 != 0 {
			z += step
		}
		step /= 2
	}
	return x, y, z
}

// PointToCode returns the code of the element of size s containing the
// point. Coordinates are in unit space.
func PointToCode(x, y, z, s float32) Code {
	if s >= 1 {
		return Root()
	}

	sections := 1
	for scale := float32(0.5); scale > s && sections < MaxSections; scale /= 2 {
		sections++
	}

	code := make(Code, BytesForSections(sections))
	code[0] = byte(sections)

	xTest, yTest, zTest := float32(0.5), float32(0.5), float32(0.5)
	step := float32(0.25)
	for i := 0; i < sections; i++ {
		section := 0
		if x >= xTest {
			section |= 4
			xTest += step
		} else {
			xTest -= step
		}
		if y >= yTest {
			section |= 2
			yTest += step
		} else {
			yTest -= step
		}
		if z >= zTest {
			section |= 1
			zTest += step
		} else {
			zTest -= step
		}
		code.setSection(i, section)
		step /= 2
	}
	return code
}

// Read reads a code at the start of data. It returns the code and the
// number of bytes it occupies, or an error when data is shorter than the
// code claims.
func Read(data []byte) (Code, int, error) {
	if len(data) == 0 {
		return nil, 0, errors.New("empty octal code").
			WithType(ErrTypeMalformed)
	}

	n := BytesForSections(int(data[0]))
	if n > len(data) {
		return nil, 0, errors.New("truncated octal code").
			WithType(ErrTypeMalformed).
			WithTag("sections", data[0]).
			WithTag("bytes_required", n).
			WithTag("bytes_available", len(data))
	}
	return Code(data[:n]), n, nil
}

// String returns the code as an upper case hex string.
func (c Code) String() string {
	if len(c) == 0 {
		return ""
	}
	return strings.ToUpper(hex.EncodeToString(c[:c.Bytes()]))
}

// Parse parses a hex string produced by String.
func Parse(s string) (Code, error) {
	data, err := hex.DecodeString(strings.TrimSpace(s))
	if err != nil {
		return nil, errors.New("invalid octal code hex").
			WithType(ErrTypeMalformed).
			WithTag("code", s).
			Wrap(err)
	}

	c, n, err := Read(data)
	if err != nil {
		return nil, err
	}
	if n != len(data) {
		return nil, errors.New("trailing bytes after octal code").
			WithType(ErrTypeMalformed).
			WithTag("code", s)
	}
	return c.Clone(), nil
}
