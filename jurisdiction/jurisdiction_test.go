package jurisdiction

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/aukilabs/go-tooling/pkg/errors"
	"github.com/aukilabs/octree-server/octcode"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/require"
)

func TestIsMyJurisdiction(t *testing.T) {
	m := New(octcode.FromSections(1), octcode.FromSections(1, 2))

	tests := []struct {
		name       string
		code       octcode.Code
		childIndex int
		expected   Area
	}{
		{
			name:       "root of the tree",
			code:       octcode.Root(),
			childIndex: CheckNodeOnly,
			expected:   Above,
		},
		{
			name:       "jurisdiction root",
			code:       octcode.FromSections(1),
			childIndex: CheckNodeOnly,
			expected:   Within,
		},
		{
			name:       "child of root",
			code:       octcode.Root(),
			childIndex: 1,
			expected:   Within,
		},
		{
			name:       "sibling of root",
			code:       octcode.Root(),
			childIndex: 2,
			expected:   Below,
		},
		{
			name:       "owned descendant",
			code:       octcode.FromSections(1, 3, 7),
			childIndex: CheckNodeOnly,
			expected:   Within,
		},
		{
			name:       "end node",
			code:       octcode.FromSections(1, 2),
			childIndex: CheckNodeOnly,
			expected:   Below,
		},
		{
			name:       "under end node",
			code:       octcode.FromSections(1, 2, 0),
			childIndex: 4,
			expected:   Below,
		},
		{
			name:       "child of root leading to end node",
			code:       octcode.FromSections(1),
			childIndex: 2,
			expected:   Below,
		},
		{
			name:       "outside",
			code:       octcode.FromSections(6, 6),
			childIndex: CheckNodeOnly,
			expected:   Below,
		},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			require.Equal(t, test.expected, m.IsMyJurisdiction(test.code, test.childIndex))
		})
	}
}

func TestIsMyJurisdictionUnknown(t *testing.T) {
	var m *Map
	require.Equal(t, Above, m.IsMyJurisdiction(octcode.FromSections(3), CheckNodeOnly))
	require.Equal(t, Above, New(nil).IsMyJurisdiction(octcode.Root(), 0))
	require.Equal(t, "unknown", New(nil).String())
}

func TestJurisdictionsPartitionSpace(t *testing.T) {
	servers := []*Map{
		New(octcode.Root(), octcode.FromSections(0), octcode.FromSections(7, 7)),
		New(octcode.FromSections(0)),
		New(octcode.FromSections(7, 7)),
	}

	codes := []octcode.Code{
		octcode.FromSections(0),
		octcode.FromSections(0, 5, 1),
		octcode.FromSections(3),
		octcode.FromSections(7),
		octcode.FromSections(7, 6),
		octcode.FromSections(7, 7),
		octcode.FromSections(7, 7, 7, 7),
	}

	for _, code := range codes {
		owners := 0
		for _, s := range servers {
			if s.IsMyJurisdiction(code, CheckNodeOnly) == Within {
				owners++
			}
		}
		require.Equal(t, 1, owners, "code %s", code)
	}
}

func TestParse(t *testing.T) {
	m, err := Parse("0120", " 0228, 022C ")
	require.NoError(t, err)
	require.Equal(t, octcode.FromSections(1), m.RootCode())
	require.Len(t, m.EndNodeCodes(), 2)
	require.Equal(t, octcode.FromSections(1, 2), m.EndNodeCodes()[0])
	require.Equal(t, "0120 - 0228,022C", m.String())

	_, err = Parse("zz", "")
	require.Error(t, err)

	_, err = Parse("0120", "0120,05")
	require.Error(t, err)
}

func TestCopyContents(t *testing.T) {
	src := New(octcode.FromSections(2), octcode.FromSections(2, 2))
	dst := New(nil)
	dst.CopyContents(src)

	src.root[1] = 0xFF
	require.Equal(t, octcode.FromSections(2), dst.RootCode())
	require.Len(t, dst.Codes(), 2)
}

func TestFile(t *testing.T) {
	m := New(octcode.FromSections(1), octcode.FromSections(1, 2), octcode.FromSections(1, 3))
	dir := t.TempDir()

	for _, name := range []string{"jurisdiction.ini", "jurisdiction.yaml", "jurisdiction.yml"} {
		t.Run(name, func(t *testing.T) {
			path := filepath.Join(dir, name)
			require.NoError(t, m.SaveFile(path))

			loaded, err := LoadFile(path)
			require.NoError(t, err)
			require.Equal(t, m.String(), loaded.String())
		})
	}
}

func TestLoadINIFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "jurisdiction.ini")
	content := "root = 0120\n\n[endNodes]\nendnode1 = 022C\nendnode0 = 0228\n"
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	m, err := LoadFile(path)
	require.NoError(t, err)
	require.Equal(t, "0120 - 0228,022C", m.String())
}

func TestLoadFileErrors(t *testing.T) {
	dir := t.TempDir()

	_, err := LoadFile(filepath.Join(dir, "missing.ini"))
	require.Equal(t, ErrTypeFile, errors.Type(err))

	noRoot := filepath.Join(dir, "noroot.yaml")
	require.NoError(t, os.WriteFile(noRoot, []byte("endNodes: [\"0120\"]\n"), 0o644))
	_, err = LoadFile(noRoot)
	require.Equal(t, ErrTypeFile, errors.Type(err))

	require.Error(t, New(nil).SaveFile(filepath.Join(dir, "unknown.ini")))
}

func TestPacket(t *testing.T) {
	m := New(octcode.FromSections(1), octcode.FromSections(1, 2))

	data, err := m.MarshalPacket(NodeTypeOctreeServer, nil)
	require.NoError(t, err)

	p, err := UnmarshalPacket(data)
	require.NoError(t, err)
	require.Equal(t, NodeTypeOctreeServer, p.NodeType)
	require.Equal(t, m.String(), p.Map.String())
	require.False(t, p.Signed)

	_, err = UnmarshalPacket(data[:len(data)-1])
	require.Equal(t, ErrTypePacket, errors.Type(err))
}

func TestPacketUnknownJurisdiction(t *testing.T) {
	data, err := New(nil).MarshalPacket(NodeTypeOctreeServer, nil)
	require.NoError(t, err)
	require.Equal(t, []byte{'O', 0}, data)

	p, err := UnmarshalPacket(data)
	require.NoError(t, err)
	require.False(t, p.Map.HasRoot())
}

func TestSignedPacket(t *testing.T) {
	key, err := crypto.GenerateKey()
	require.NoError(t, err)

	m := New(octcode.FromSections(4, 4))
	data, err := m.MarshalPacket(NodeTypeOctreeServer, key)
	require.NoError(t, err)

	p, err := UnmarshalPacket(data)
	require.NoError(t, err)
	require.True(t, p.Signed)
	require.Equal(t, crypto.PubkeyToAddress(key.PublicKey), p.Signer)
	require.Equal(t, m.String(), p.Map.String())

	data[2] ^= 0xFF
	tampered, err := UnmarshalPacket(data)
	if err == nil {
		require.NotEqual(t, crypto.PubkeyToAddress(key.PublicKey), tampered.Signer)
	}
}
