package models

import (
	"sort"
	"sync"
)

// SessionStore holds the encode state of the connected clients.
type SessionStore struct {
	// The number of sent packets retained per client for resends.
	HistorySize int

	initOnce sync.Once
	mutex    sync.RWMutex
	sessions map[uint32]*QueryNode
	ids      SequentialIDGenerator
}

func (s *SessionStore) init() {
	s.sessions = make(map[uint32]*QueryNode)
}

// New creates and registers the encode state of a new client.
func (s *SessionStore) New() *QueryNode {
	s.initOnce.Do(s.init)

	n := NewQueryNode(s.ids.New(), s.HistorySize)

	s.mutex.Lock()
	defer s.mutex.Unlock()

	s.sessions[n.ID] = n
	instrumentIncreaseSessionGauge()
	instrumentCountSession()
	return n
}

// Remove drops the encode state of a disconnected client.
func (s *SessionStore) Remove(n *QueryNode) {
	s.initOnce.Do(s.init)
	s.mutex.Lock()
	defer s.mutex.Unlock()

	if _, ok := s.sessions[n.ID]; !ok {
		return
	}

	delete(s.sessions, n.ID)
	s.ids.Reuse(n.ID)
	instrumentDecreaseSessionGauge()
}

func (s *SessionStore) Get(id uint32) (*QueryNode, bool) {
	s.initOnce.Do(s.init)
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	n, ok := s.sessions[id]
	return n, ok
}

// Len returns the number of connected clients.
func (s *SessionStore) Len() int {
	s.initOnce.Do(s.init)
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	return len(s.sessions)
}

// All returns the sessions sorted by id.
func (s *SessionStore) All() []*QueryNode {
	s.initOnce.Do(s.init)
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	sessions := make([]*QueryNode, 0, len(s.sessions))
	for _, n := range s.sessions {
		sessions = append(sessions, n)
	}
	sort.Slice(sessions, func(i, j int) bool {
		return sessions[i].ID < sessions[j].ID
	})
	return sessions
}
