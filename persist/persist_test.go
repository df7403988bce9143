package persist

import (
	"context"
	"path/filepath"
	"sort"
	"testing"
	"time"

	"github.com/aukilabs/go-tooling/pkg/errors"
	"github.com/aukilabs/octree-server/octcode"
	"github.com/aukilabs/octree-server/octree"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *Store {
	s, err := Open(filepath.Join(t.TempDir(), "octree.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func newTestTree() *octree.Tree {
	tree := octree.New(false)
	tree.SetVoxel(octcode.FromSections(1, 2, 3), octree.Color{R: 255}, false, uuid.Nil)
	tree.SetVoxel(octcode.FromSections(1, 2, 4), octree.Color{G: 255}, false, uuid.Nil)
	tree.SetVoxel(octcode.FromSections(6), octree.Color{B: 255}, false, uuid.Nil)
	tree.SetVoxel(octcode.FromSections(7, 7, 7, 7, 7), octree.Color{R: 1, G: 2, B: 3}, false, uuid.Nil)
	return tree
}

func codes(tree *octree.Tree) []string {
	var s []string
	for _, c := range tree.Codes() {
		s = append(s, c.String())
	}
	sort.Strings(s)
	return s
}

func TestOpen(t *testing.T) {
	tests := []struct {
		name string
		path string
		err  bool
	}{
		{
			name: "empty path",
			err:  true,
		},
		{
			name: "new database",
			path: filepath.Join(t.TempDir(), "nested", "octree.db"),
		},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			s, err := Open(test.path)
			if test.err {
				require.Error(t, err)
				require.Nil(t, s)
				return
			}

			require.NoError(t, err)
			require.NotNil(t, s.encoder)
			require.NotNil(t, s.decoder)
			require.NoError(t, s.Close())
		})
	}
}

func TestStoreSaveRestore(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	src := newTestTree()

	saved, err := s.Save(ctx, src)
	require.NoError(t, err)
	require.NotZero(t, saved.ID)
	require.Equal(t, src.ElementCount(), saved.Elements)
	require.Positive(t, saved.Sections)

	latest, ok, err := s.Latest(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, saved.ID, latest.ID)
	require.Equal(t, saved.Data, latest.Data)
	require.WithinDuration(t, saved.SavedAt, latest.SavedAt, time.Millisecond)

	dst := octree.New(false)
	require.NoError(t, s.Restore(latest, dst))
	require.Equal(t, codes(src), codes(dst))

	e, _ := dst.ElementForCode(octcode.FromSections(7, 7, 7, 7, 7), octree.Lock)
	require.NotNil(t, e)
	require.Equal(t, octree.Color{R: 1, G: 2, B: 3}, e.Color())
}

func TestStoreLatestEmpty(t *testing.T) {
	_, ok, err := newTestStore(t).Latest(context.Background())
	require.NoError(t, err)
	require.False(t, ok)
}

func TestStoreKeep(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	s.Keep = 2
	tree := newTestTree()

	var last Snapshot
	for i := 0; i < 5; i++ {
		var err error
		last, err = s.Save(ctx, tree)
		require.NoError(t, err)
	}

	n, err := s.Count(ctx)
	require.NoError(t, err)
	require.Equal(t, 2, n)

	latest, _, err := s.Latest(ctx)
	require.NoError(t, err)
	require.Equal(t, last.ID, latest.ID)
}

func TestStoreRestoreCorrupt(t *testing.T) {
	s := newTestStore(t)

	tests := []struct {
		name string
		data []byte
	}{
		{
			name: "not zstd",
			data: []byte{1, 2, 3, 4},
		},
		{
			name: "truncated section header",
			data: s.encoder.EncodeAll([]byte{1, 0}, nil),
		},
		{
			name: "truncated section",
			data: s.encoder.EncodeAll([]byte{10, 0, 0, 0, 1}, nil),
		},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			err := s.Restore(Snapshot{Data: test.data}, octree.New(false))
			require.Error(t, err)
			require.True(t, errors.IsType(err, ErrTypeSnapshot))
		})
	}
}

func TestPersister(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "octree.db")

	s, err := Open(path)
	require.NoError(t, err)

	src := newTestTree()
	p := &Persister{Tree: src, Store: s}
	require.True(t, src.IsDirty())

	require.NoError(t, p.Persist(ctx))
	require.False(t, src.IsDirty())

	// Nothing changed, nothing saved.
	require.NoError(t, p.Persist(ctx))
	n, err := s.Count(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, n)
	require.NoError(t, s.Close())

	s, err = Open(path)
	require.NoError(t, err)
	defer s.Close()

	dst := octree.New(false)
	p = &Persister{Tree: dst, Store: s}
	require.False(t, p.IsInitialLoadComplete())
	require.NoError(t, p.Load(ctx))
	require.True(t, p.IsInitialLoadComplete())
	require.False(t, dst.IsDirty())
	require.Equal(t, codes(src), codes(dst))
}

func TestPersisterLoadEmpty(t *testing.T) {
	p := &Persister{Tree: octree.New(false), Store: newTestStore(t)}
	require.NoError(t, p.Load(context.Background()))
	require.True(t, p.IsInitialLoadComplete())
	require.Equal(t, codes(octree.New(false)), codes(p.Tree))
}

func TestPersisterRunSavesAtShutdown(t *testing.T) {
	s := newTestStore(t)
	p := &Persister{
		Tree:     newTestTree(),
		Store:    s,
		Interval: time.Hour,
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		p.Run(ctx)
	}()

	cancel()
	<-done

	n, err := s.Count(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, n)
}

func TestPersisterRunSavesEveryInterval(t *testing.T) {
	s := newTestStore(t)
	tree := newTestTree()
	p := &Persister{
		Tree:     tree,
		Store:    s,
		Interval: time.Millisecond * 10,
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		p.Run(ctx)
	}()

	require.Eventually(t, func() bool {
		return !tree.IsDirty()
	}, time.Second*5, time.Millisecond*10)

	cancel()
	<-done
}
