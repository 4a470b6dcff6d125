package memory

import (
	"context"
	"fmt"
	"math"
	"sort"
	"sync"

	"github.com/poiesic/indexit/core"
	"github.com/poiesic/indexit/vectorstore"
)

// Store is an in-process vectorstore.Store for tests and local development.
// Points are held in maps; search is a linear scan. Safe for concurrent use.
type Store struct {
	mu          sync.RWMutex
	collections map[string]*collection
}

type collection struct {
	spec   core.CollectionSpec
	points map[string]core.VectorPoint
}

// NewStore creates an empty in-memory store.
func NewStore() *Store {
	return &Store{collections: make(map[string]*collection)}
}

func (s *Store) CollectionExists(_ context.Context, name string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.collections[name]
	return ok, nil
}

func (s *Store) CreateCollection(_ context.Context, spec core.CollectionSpec) error {
	if err := core.ValidateCollectionSpec(spec); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if existing, ok := s.collections[spec.Name]; ok {
		if existing.spec.Dimension != spec.Dimension {
			return fmt.Errorf("collection %q: %w", spec.Name, core.ErrDimensionMismatch)
		}
		return nil
	}
	s.collections[spec.Name] = &collection{
		spec:   spec,
		points: make(map[string]core.VectorPoint),
	}
	return nil
}

func (s *Store) ListCollections(_ context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	names := make([]string, 0, len(s.collections))
	for name := range s.collections {
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}

func (s *Store) Upsert(_ context.Context, name string, points []core.VectorPoint) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	coll, ok := s.collections[name]
	if !ok {
		return fmt.Errorf("%q: %w", name, vectorstore.ErrCollectionNotFound)
	}
	for idx := range points {
		if err := core.ValidatePoint(&points[idx], coll.spec.Dimension); err != nil {
			return err
		}
	}
	for _, p := range points {
		coll.points[p.ID] = p
	}
	return nil
}

func (s *Store) Search(_ context.Context, name string, vector []float32, filter map[string]any, limit int) ([]vectorstore.ScoredPoint, error) {
	if limit < 1 {
		return nil, vectorstore.ErrInvalidLimit
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	coll, ok := s.collections[name]
	if !ok {
		return nil, fmt.Errorf("%q: %w", name, vectorstore.ErrCollectionNotFound)
	}
	if len(vector) != coll.spec.Dimension {
		return nil, fmt.Errorf("query has %d dimensions, collection %q has %d: %w",
			len(vector), name, coll.spec.Dimension, core.ErrDimensionMismatch)
	}

	hits := make([]vectorstore.ScoredPoint, 0, len(coll.points))
	for _, p := range coll.points {
		if !payloadMatches(p.Payload, filter) {
			continue
		}
		hits = append(hits, vectorstore.ScoredPoint{
			ID:      p.ID,
			Score:   score(coll.spec.Metric, vector, p.Vector),
			Payload: p.Payload,
		})
	}
	sort.Slice(hits, func(a, b int) bool { return hits[a].Score > hits[b].Score })
	if len(hits) > limit {
		hits = hits[:limit]
	}
	return hits, nil
}

func (s *Store) DeleteCollection(_ context.Context, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.collections, name)
	return nil
}

func (s *Store) Close() error {
	return nil
}

// PointCount returns the number of points in a collection, for test
// assertions. Returns 0 for a missing collection.
func (s *Store) PointCount(name string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	coll, ok := s.collections[name]
	if !ok {
		return 0
	}
	return len(coll.points)
}

func payloadMatches(payload, filter map[string]any) bool {
	for k, want := range filter {
		got, ok := payload[k]
		if !ok || got != want {
			return false
		}
	}
	return true
}

// score maps a distance metric to a higher-is-better similarity.
func score(metric core.DistanceMetric, a, b []float32) float32 {
	switch metric {
	case core.MetricL2:
		var sum float64
		for i := range a {
			d := float64(a[i] - b[i])
			sum += d * d
		}
		return float32(-math.Sqrt(sum))
	case core.MetricDot:
		return dot(a, b)
	default: // cosine
		na, nb := norm(a), norm(b)
		if na == 0 || nb == 0 {
			return 0
		}
		return dot(a, b) / (na * nb)
	}
}

func dot(a, b []float32) float32 {
	var sum float32
	for i := range a {
		sum += a[i] * b[i]
	}
	return sum
}

func norm(v []float32) float32 {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	return float32(math.Sqrt(sum))
}
