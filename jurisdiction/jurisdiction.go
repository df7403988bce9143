// Package jurisdiction implements the partition of the octree address space
// between servers. A server owns the subtree under its root code, minus the
// subtrees under its end node codes.
package jurisdiction

import (
	"strings"

	"github.com/aukilabs/go-tooling/pkg/errors"
	"github.com/aukilabs/octree-server/octcode"
)

// CheckNodeOnly tells IsMyJurisdiction to test the code itself rather than
// one of its children.
const CheckNodeOnly = -1

// Area is where a code sits relative to a jurisdiction.
type Area int

const (
	// Above means the code is an ancestor of the jurisdiction root.
	Above Area = iota
	// Within means the code is owned by the jurisdiction.
	Within
	// Below means the code is outside the jurisdiction or delegated to
	// another server by an end node.
	Below
)

func (a Area) String() string {
	switch a {
	case Above:
		return "above"
	case Within:
		return "within"
	default:
		return "below"
	}
}

// Map is a jurisdiction. A map without a root is an unknown jurisdiction.
type Map struct {
	root     octcode.Code
	endNodes []octcode.Code
}

// New returns a map owning root minus the end nodes.
func New(root octcode.Code, endNodes ...octcode.Code) *Map {
	m := &Map{}
	if root != nil {
		m.root = root.Clone()
	}
	for _, e := range endNodes {
		m.endNodes = append(m.endNodes, e.Clone())
	}
	return m
}

// Parse returns a map from a hex root code and a comma separated list of
// hex end node codes.
func Parse(root, endNodes string) (*Map, error) {
	r, err := octcode.Parse(root)
	if err != nil {
		return nil, errors.New("invalid jurisdiction root").
			WithTag("root", root).
			Wrap(err)
	}

	m := New(r)
	for _, s := range strings.Split(endNodes, ",") {
		if s = strings.TrimSpace(s); s == "" {
			continue
		}

		e, err := octcode.Parse(s)
		if err != nil {
			return nil, errors.New("invalid jurisdiction end node").
				WithTag("end_node", s).
				Wrap(err)
		}
		m.endNodes = append(m.endNodes, e)
	}
	return m, nil
}

// RootCode returns the root code, or nil when the jurisdiction is unknown.
func (m *Map) RootCode() octcode.Code {
	return m.root
}

// EndNodeCodes returns the end node codes.
func (m *Map) EndNodeCodes() []octcode.Code {
	return m.endNodes
}

// HasRoot reports whether the jurisdiction is known.
func (m *Map) HasRoot() bool {
	return m != nil && m.root != nil
}

// CopyContents replaces the content of m with a copy of the content of o.
func (m *Map) CopyContents(o *Map) {
	c := New(o.root, o.endNodes...)
	m.root = c.root
	m.endNodes = c.endNodes
}

// IsMyJurisdiction locates code, or its child at childIndex when childIndex
// is not CheckNodeOnly, relative to the jurisdiction. Maps without a root
// answer Above.
func (m *Map) IsMyJurisdiction(code octcode.Code, childIndex int) Area {
	if !m.HasRoot() {
		return Above
	}

	if !octcode.IsAncestorOf(m.root, code, childIndex) {
		effective := code
		if childIndex != CheckNodeOnly {
			effective = code.Child(childIndex)
		}
		if octcode.IsAncestorOf(effective, m.root, CheckNodeOnly) {
			return Above
		}
		return Below
	}

	for _, e := range m.endNodes {
		if octcode.IsAncestorOf(e, code, childIndex) {
			return Below
		}
	}
	return Within
}

func (m *Map) String() string {
	if !m.HasRoot() {
		return "unknown"
	}

	var b strings.Builder
	b.WriteString(m.root.String())
	for i, e := range m.endNodes {
		if i == 0 {
			b.WriteString(" - ")
		} else {
			b.WriteString(",")
		}
		b.WriteString(e.String())
	}
	return b.String()
}
