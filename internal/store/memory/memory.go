// Package memory implements store.SessionStore with the teacher's
// copy-on-write atomic.Value map (internal/broker/session.go's
// Broker.Store/Get/Delete), generalized here from a flat ClientID->Session
// map to the full store.Record/offline-queue shape of spec.md §4.4/§6.
package memory

import (
	"context"
	"maps"
	"sync"
	"sync/atomic"

	"github.com/pyr33x/goqtt/internal/store"
)

type sessionMap map[string]*store.Record

// Store is an in-process SessionStore; state does not survive a restart,
// matching the teacher's original scope. Reads never block writers and
// vice versa because each write installs a fresh copy of the map.
type Store struct {
	sessions atomic.Value

	offlineMu sync.Mutex
	offline   map[string][]store.OfflineMessage
}

func New() *Store {
	s := &Store{offline: make(map[string][]store.OfflineMessage)}
	s.sessions.Store(make(sessionMap))
	return s
}

func (s *Store) LoadSession(_ context.Context, clientID string) (*store.Record, bool, error) {
	current := s.sessions.Load().(sessionMap)
	rec, ok := current[clientID]
	return rec, ok, nil
}

func (s *Store) SaveSession(_ context.Context, rec *store.Record) error {
	current := s.sessions.Load().(sessionMap)
	updated := make(sessionMap, len(current)+1)
	maps.Copy(updated, current)
	updated[rec.ClientID] = rec
	s.sessions.Store(updated)
	return nil
}

func (s *Store) DeleteSession(_ context.Context, clientID string) error {
	current := s.sessions.Load().(sessionMap)
	if _, ok := current[clientID]; !ok {
		return nil
	}
	updated := make(sessionMap, len(current))
	maps.Copy(updated, current)
	delete(updated, clientID)
	s.sessions.Store(updated)

	s.offlineMu.Lock()
	delete(s.offline, clientID)
	s.offlineMu.Unlock()
	return nil
}

func (s *Store) EnqueueOffline(_ context.Context, clientID string, msg store.OfflineMessage) error {
	s.offlineMu.Lock()
	defer s.offlineMu.Unlock()
	s.offline[clientID] = append(s.offline[clientID], msg)
	return nil
}

func (s *Store) DrainOffline(_ context.Context, clientID string) ([]store.OfflineMessage, error) {
	s.offlineMu.Lock()
	defer s.offlineMu.Unlock()
	msgs := s.offline[clientID]
	delete(s.offline, clientID)
	return msgs, nil
}
