package snapshot

import (
	"sync"
	"time"

	"fertiguard/internal/model"
)

// Store holds the newest prediction per sensor, refreshed by each analysis
// run. It backs the status endpoint so an overview never needs a database
// round trip.
type Store struct {
	mu        sync.RWMutex
	bySensor  map[string]model.FailurePrediction
	updatedAt time.Time
}

func NewStore() *Store {
	return &Store{bySensor: make(map[string]model.FailurePrediction)}
}

func (s *Store) Update(predictions []model.FailurePrediction) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, p := range predictions {
		if p.SensorName == "" {
			continue
		}
		s.bySensor[p.SensorName] = p
	}
	s.updatedAt = time.Now().UTC()
}

func (s *Store) Get(sensor string) (model.FailurePrediction, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.bySensor[sensor]
	return p, ok
}

func (s *Store) All() ([]model.FailurePrediction, time.Time) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]model.FailurePrediction, 0, len(s.bySensor))
	for _, p := range s.bySensor {
		out = append(out, p)
	}
	return out, s.updatedAt
}

func (s *Store) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.bySensor = make(map[string]model.FailurePrediction)
	s.updatedAt = time.Time{}
}
