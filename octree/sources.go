package octree

import (
	"math"
	"sync"
	"time"

	"github.com/aukilabs/go-tooling/pkg/errors"
	"github.com/aukilabs/go-tooling/pkg/logs"
	"github.com/google/uuid"
	"golang.org/x/time/rate"
)

const (
	// NoSource is the key of elements without a source.
	NoSource uint16 = 0

	// MaxSources is the number of UUIDs a registry can intern. Keys are
	// never reused, so UUIDs beyond it map to NoSource.
	MaxSources = math.MaxUint16
)

// Sources interns the UUIDs of the nodes that edit a tree into small keys
// stored on elements.
type Sources struct {
	mutex   sync.RWMutex
	nextKey uint16
	keys    map[uuid.UUID]uint16
	uuids   map[uint16]uuid.UUID

	exhausted rate.Sometimes
}

func newSources() *Sources {
	return &Sources{
		nextKey: NoSource + 1,
		keys:    make(map[uuid.UUID]uint16),
		uuids:   make(map[uint16]uuid.UUID),

		exhausted: rate.Sometimes{First: 1, Interval: time.Minute},
	}
}

// Key returns the key of id, interning it when it is new. The nil UUID, and
// new UUIDs once MaxSources are interned, map to NoSource.
func (s *Sources) Key(id uuid.UUID) uint16 {
	if id == uuid.Nil {
		return NoSource
	}

	s.mutex.RLock()
	key, ok := s.keys[id]
	s.mutex.RUnlock()
	if ok {
		return key
	}

	s.mutex.Lock()
	defer s.mutex.Unlock()

	if key, ok := s.keys[id]; ok {
		return key
	}
	if len(s.keys) >= MaxSources {
		s.exhausted.Do(func() {
			logs.Warn(errors.New("source keys exhausted").
				WithTag("sources", len(s.keys)).
				WithTag("source", id))
		})
		return NoSource
	}

	key = s.nextKey
	s.nextKey++
	s.keys[id] = key
	s.uuids[key] = id
	return key
}

// Lookup returns the key of id without interning it.
func (s *Sources) Lookup(id uuid.UUID) (uint16, bool) {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	key, ok := s.keys[id]
	return key, ok
}

// UUID returns the UUID interned under key, or the nil UUID.
func (s *Sources) UUID(key uint16) uuid.UUID {
	if key == NoSource {
		return uuid.Nil
	}

	s.mutex.RLock()
	defer s.mutex.RUnlock()
	return s.uuids[key]
}

// Len returns the number of interned sources.
func (s *Sources) Len() int {
	s.mutex.RLock()
	defer s.mutex.RUnlock()
	return len(s.keys)
}
