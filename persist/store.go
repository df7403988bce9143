// Package persist saves snapshots of an octree in a sqlite database and
// loads them back at start.
package persist

import (
	"context"
	"database/sql"
	"encoding/binary"
	"os"
	"path/filepath"
	"time"

	"github.com/aukilabs/go-tooling/pkg/errors"
	"github.com/aukilabs/octree-server/octcode"
	"github.com/aukilabs/octree-server/octree"
	"github.com/aukilabs/octree-server/packet"
	"github.com/klauspost/compress/zstd"

	_ "modernc.org/sqlite"
)

const (
	// ErrTypeSnapshot is the error type of snapshots that cannot be decoded.
	ErrTypeSnapshot = "persist_snapshot_error"

	// DefaultKeep is the number of snapshots kept in a store.
	DefaultKeep = 3

	// sectionSize is the target size of the bitstream sections a snapshot is
	// made of.
	sectionSize = 1 << 16
)

var pragmas = []string{
	"PRAGMA journal_mode=WAL;",
	"PRAGMA synchronous=NORMAL;",
	"PRAGMA busy_timeout=5000;",
}

var schema = []string{
	`CREATE TABLE IF NOT EXISTS snapshots (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		saved_at INTEGER NOT NULL,
		elements INTEGER NOT NULL,
		sections INTEGER NOT NULL,
		data BLOB NOT NULL
	);`,
}

// Snapshot is a saved state of a tree.
type Snapshot struct {
	ID       int64
	SavedAt  time.Time
	Elements int64
	Sections int

	// Data is the zstd compressed sequence of length prefixed bitstreams.
	Data []byte
}

// Store keeps tree snapshots in a sqlite database.
type Store struct {
	// The number of snapshots kept after a save. Zero means DefaultKeep.
	Keep int

	db      *sql.DB
	encoder *zstd.Encoder
	decoder *zstd.Decoder
}

// Open opens the sqlite database at path, creating it when missing.
func Open(path string) (*Store, error) {
	if path == "" {
		return nil, errors.New("empty database path")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, errors.New("creating database directory failed").
			WithTag("path", path).
			Wrap(err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, errors.New("opening database failed").
			WithTag("path", path).
			Wrap(err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	for _, stmt := range append(pragmas, schema...) {
		if _, err := db.Exec(stmt); err != nil {
			db.Close()
			return nil, errors.New("initializing database failed").
				WithTag("path", path).
				Wrap(err)
		}
	}

	encoder, err := zstd.NewWriter(nil, zstd.WithEncoderConcurrency(1))
	if err != nil {
		db.Close()
		return nil, errors.New("creating snapshot encoder failed").Wrap(err)
	}
	decoder, err := zstd.NewReader(nil, zstd.WithDecoderConcurrency(1))
	if err != nil {
		encoder.Close()
		db.Close()
		return nil, errors.New("creating snapshot decoder failed").Wrap(err)
	}

	return &Store{
		db:      db,
		encoder: encoder,
		decoder: decoder,
	}, nil
}

// Close closes the database.
func (s *Store) Close() error {
	s.encoder.Close()
	s.decoder.Close()
	return s.db.Close()
}

// Save encodes the whole tree in full fidelity and stores it as the latest
// snapshot. Older snapshots beyond Keep are deleted.
func (s *Store) Save(ctx context.Context, t *octree.Tree) (Snapshot, error) {
	raw, sections := encodeTree(t)

	snap := Snapshot{
		SavedAt:  time.Now(),
		Elements: t.ElementCount(),
		Sections: sections,
		Data:     s.encoder.EncodeAll(raw, nil),
	}

	res, err := s.db.ExecContext(ctx,
		`INSERT INTO snapshots (saved_at, elements, sections, data) VALUES (?, ?, ?, ?)`,
		snap.SavedAt.UnixMicro(),
		snap.Elements,
		snap.Sections,
		snap.Data,
	)
	if err != nil {
		return Snapshot{}, errors.New("inserting snapshot failed").Wrap(err)
	}
	if snap.ID, err = res.LastInsertId(); err != nil {
		return Snapshot{}, errors.New("getting snapshot id failed").Wrap(err)
	}

	keep := s.Keep
	if keep <= 0 {
		keep = DefaultKeep
	}
	if _, err := s.db.ExecContext(ctx,
		`DELETE FROM snapshots WHERE id <= ?`,
		snap.ID-int64(keep),
	); err != nil {
		return Snapshot{}, errors.New("pruning snapshots failed").
			WithTag("keep", keep).
			Wrap(err)
	}

	return snap, nil
}

// Latest returns the most recent snapshot. The boolean is false when the
// store is empty.
func (s *Store) Latest(ctx context.Context) (Snapshot, bool, error) {
	var snap Snapshot
	var savedAt int64

	err := s.db.QueryRowContext(ctx,
		`SELECT id, saved_at, elements, sections, data FROM snapshots ORDER BY id DESC LIMIT 1`,
	).Scan(&snap.ID, &savedAt, &snap.Elements, &snap.Sections, &snap.Data)
	if errors.Is(err, sql.ErrNoRows) {
		return Snapshot{}, false, nil
	}
	if err != nil {
		return Snapshot{}, false, errors.New("selecting latest snapshot failed").Wrap(err)
	}

	snap.SavedAt = time.UnixMicro(savedAt)
	return snap, true, nil
}

// Count returns the number of snapshots in the store.
func (s *Store) Count(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM snapshots`).Scan(&n); err != nil {
		return 0, errors.New("counting snapshots failed").Wrap(err)
	}
	return n, nil
}

// Restore decodes a snapshot into t.
func (s *Store) Restore(snap Snapshot, t *octree.Tree) error {
	raw, err := s.decoder.DecodeAll(snap.Data, nil)
	if err != nil {
		return errors.New("decompressing snapshot failed").
			WithType(ErrTypeSnapshot).
			WithTag("snapshot_id", snap.ID).
			Wrap(err)
	}

	params := octree.ReadParams{
		IncludeColor:      true,
		IncludeExistsBits: true,
	}

	for i := 0; len(raw) > 0; i++ {
		if len(raw) < 4 {
			return errors.New("snapshot section header truncated").
				WithType(ErrTypeSnapshot).
				WithTag("snapshot_id", snap.ID).
				WithTag("section", i)
		}
		size := int(binary.LittleEndian.Uint32(raw))
		raw = raw[4:]
		if size > len(raw) {
			return errors.New("snapshot section truncated").
				WithType(ErrTypeSnapshot).
				WithTag("snapshot_id", snap.ID).
				WithTag("section", i).
				WithTag("size", size)
		}

		if err := t.ReadBitstreamToTree(raw[:size], params); err != nil {
			return errors.New("decoding snapshot section failed").
				WithType(ErrTypeSnapshot).
				WithTag("snapshot_id", snap.ID).
				WithTag("section", i).
				Wrap(err)
		}
		raw = raw[size:]
	}
	return nil
}

// encodeTree returns the length prefixed bitstream sections of the whole
// tree and their count.
func encodeTree(t *octree.Tree) ([]byte, int) {
	var raw []byte
	var sections int

	bag := octree.NewBag()
	bag.Insert(octcode.Root())
	c := packet.NewCursor(false, sectionSize)

	for !bag.IsEmpty() {
		code, _ := bag.Extract()
		params := octree.FullFidelityParams()

		c.Reset()
		t.EncodeTreeBitstream(code, c, bag, &params)
		if !c.HasContent() {
			continue
		}

		data := c.UncompressedData()
		raw = binary.LittleEndian.AppendUint32(raw, uint32(len(data)))
		raw = append(raw, data...)
		sections++
	}
	return raw, sections
}
