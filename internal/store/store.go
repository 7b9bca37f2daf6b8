package store

import (
	"sync"

	"github.com/dominikbraun/graph"
	"github.com/pkg/errors"
)

// Store is a graph store whose vertex attributes can be updated in place
// after the graph is built.
type Store[K comparable, T any] interface {
	graph.Store[K, T]
	UpdateVertex(k K, options ...func(*graph.VertexProperties)) error
	// Predecessors returns the sources of every edge ending at k.
	Predecessors(k K) ([]K, error)
}

type vertex[T any] struct {
	value      T
	properties *graph.VertexProperties
}

// MemoryStore keeps the graph in maps guarded by a single lock.
type MemoryStore[K comparable, T any] struct {
	lock     sync.RWMutex
	vertices map[K]vertex[T]
	// edges are indexed both ways for O(1) lookups: out[source][target], in[target][source]
	out map[K]map[K]graph.Edge[K]
	in  map[K]map[K]graph.Edge[K]
}

func NewMemoryStore[K comparable, T any]() *MemoryStore[K, T] {
	return &MemoryStore[K, T]{
		vertices: make(map[K]vertex[T]),
		out:      make(map[K]map[K]graph.Edge[K]),
		in:       make(map[K]map[K]graph.Edge[K]),
	}
}

func (s *MemoryStore[K, T]) AddVertex(k K, t T, p graph.VertexProperties) error {
	s.lock.Lock()
	defer s.lock.Unlock()

	if _, ok := s.vertices[k]; ok {
		return graph.ErrVertexAlreadyExists
	}
	if p.Attributes == nil {
		p.Attributes = make(map[string]string)
	}
	s.vertices[k] = vertex[T]{value: t, properties: &p}
	return nil
}

func (s *MemoryStore[K, T]) Vertex(k K) (T, graph.VertexProperties, error) {
	s.lock.RLock()
	defer s.lock.RUnlock()

	v, ok := s.vertices[k]
	if !ok {
		var zero T
		return zero, graph.VertexProperties{}, graph.ErrVertexNotFound
	}
	return v.value, *v.properties, nil
}

func (s *MemoryStore[K, T]) UpdateVertex(k K, options ...func(*graph.VertexProperties)) error {
	s.lock.Lock()
	defer s.lock.Unlock()

	v, ok := s.vertices[k]
	if !ok {
		return errors.Wrapf(graph.ErrVertexNotFound, "vertex %v", k)
	}
	for _, opt := range options {
		opt(v.properties)
	}
	return nil
}

func (s *MemoryStore[K, T]) RemoveVertex(k K) error {
	s.lock.Lock()
	defer s.lock.Unlock()

	if _, ok := s.vertices[k]; !ok {
		return graph.ErrVertexNotFound
	}
	if len(s.in[k]) > 0 || len(s.out[k]) > 0 {
		return graph.ErrVertexHasEdges
	}
	delete(s.in, k)
	delete(s.out, k)
	delete(s.vertices, k)
	return nil
}

func (s *MemoryStore[K, T]) ListVertices() ([]K, error) {
	s.lock.RLock()
	defer s.lock.RUnlock()

	keys := make([]K, 0, len(s.vertices))
	for k := range s.vertices {
		keys = append(keys, k)
	}
	return keys, nil
}

func (s *MemoryStore[K, T]) VertexCount() (int, error) {
	s.lock.RLock()
	defer s.lock.RUnlock()

	return len(s.vertices), nil
}

func (s *MemoryStore[K, T]) AddEdge(source, target K, edge graph.Edge[K]) error {
	s.lock.Lock()
	defer s.lock.Unlock()

	if _, ok := s.out[source][target]; ok {
		return graph.ErrEdgeAlreadyExists
	}
	if s.out[source] == nil {
		s.out[source] = make(map[K]graph.Edge[K])
	}
	if s.in[target] == nil {
		s.in[target] = make(map[K]graph.Edge[K])
	}
	s.out[source][target] = edge
	s.in[target][source] = edge
	return nil
}

func (s *MemoryStore[K, T]) UpdateEdge(source, target K, edge graph.Edge[K]) error {
	s.lock.Lock()
	defer s.lock.Unlock()

	if _, ok := s.out[source][target]; !ok {
		return graph.ErrEdgeNotFound
	}
	s.out[source][target] = edge
	s.in[target][source] = edge
	return nil
}

func (s *MemoryStore[K, T]) RemoveEdge(source, target K) error {
	s.lock.Lock()
	defer s.lock.Unlock()

	delete(s.out[source], target)
	delete(s.in[target], source)
	return nil
}

func (s *MemoryStore[K, T]) Edge(source, target K) (graph.Edge[K], error) {
	s.lock.RLock()
	defer s.lock.RUnlock()

	edge, ok := s.out[source][target]
	if !ok {
		return graph.Edge[K]{}, graph.ErrEdgeNotFound
	}
	return edge, nil
}

func (s *MemoryStore[K, T]) ListEdges() ([]graph.Edge[K], error) {
	s.lock.RLock()
	defer s.lock.RUnlock()

	edges := make([]graph.Edge[K], 0)
	for _, targets := range s.out {
		for _, edge := range targets {
			edges = append(edges, edge)
		}
	}
	return edges, nil
}

func (s *MemoryStore[K, T]) Predecessors(k K) ([]K, error) {
	s.lock.RLock()
	defer s.lock.RUnlock()

	if _, ok := s.vertices[k]; !ok {
		return nil, errors.Wrapf(graph.ErrVertexNotFound, "vertex %v", k)
	}
	sources := make([]K, 0, len(s.in[k]))
	for source := range s.in[k] {
		sources = append(sources, source)
	}
	return sources, nil
}

// CreatesCycle reports whether an edge source -> target would close a cycle.
// graph uses it instead of building a predecessor map on every AddEdge.
func (s *MemoryStore[K, T]) CreatesCycle(source, target K) (bool, error) {
	s.lock.RLock()
	defer s.lock.RUnlock()

	if _, ok := s.vertices[source]; !ok {
		return false, errors.Wrapf(graph.ErrVertexNotFound, "vertex %v", source)
	}
	if _, ok := s.vertices[target]; !ok {
		return false, errors.Wrapf(graph.ErrVertexNotFound, "vertex %v", target)
	}
	if source == target {
		return true, nil
	}

	// walk up from source; reaching target means target already precedes source
	stack := []K{source}
	visited := make(map[K]struct{})
	for len(stack) > 0 {
		current := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if _, ok := visited[current]; ok {
			continue
		}
		if current == target {
			return true, nil
		}
		visited[current] = struct{}{}
		for parent := range s.in[current] {
			stack = append(stack, parent)
		}
	}
	return false, nil
}

var _ Store[string, string] = (*MemoryStore[string, string])(nil)
