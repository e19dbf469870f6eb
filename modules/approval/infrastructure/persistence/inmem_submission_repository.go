package persistence

import (
	"context"
	"maps"
	"slices"
	"sort"
	"strings"
	"sync"

	"github.com/EyeSeeTea/data-approval-dev-sub000/modules/approval/domain/submission"
)

type SafeMap[K comparable, V any] struct {
	mu sync.RWMutex
	m  map[K]V
}

func NewSafeMap[K comparable, V any]() *SafeMap[K, V] {
	return &SafeMap[K, V]{
		m: make(map[K]V),
	}
}

func (s *SafeMap[K, V]) Set(key K, value V) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.m[key] = value
}

func (s *SafeMap[K, V]) Get(key K) (V, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	val, found := s.m[key]
	return val, found
}

func (s *SafeMap[K, V]) Values() []V {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Collect(maps.Values(s.m))
}

type itemKey struct {
	module string
	field  string
}

func keyOf(id submission.Identifier) itemKey {
	return itemKey{module: strings.ToUpper(strings.TrimSpace(id.Module)), field: field(id)}
}

// InmemSubmissionRepository is the process-local store used when no redis
// is configured and in tests.
type InmemSubmissionRepository struct {
	storage *SafeMap[itemKey, submission.Item]
}

func NewInmemSubmissionRepository() *InmemSubmissionRepository {
	return &InmemSubmissionRepository{
		storage: NewSafeMap[itemKey, submission.Item](),
	}
}

func (r *InmemSubmissionRepository) Get(_ context.Context, id submission.Identifier) (submission.Item, error) {
	item, found := r.storage.Get(keyOf(id))
	if !found {
		return submission.Item{}, submission.ErrItemNotFound
	}
	return item, nil
}

func (r *InmemSubmissionRepository) Save(_ context.Context, item submission.Item) error {
	r.storage.Set(keyOf(item.Identifier), item)
	return nil
}

func (r *InmemSubmissionRepository) List(_ context.Context, module string) ([]submission.Item, error) {
	want := strings.ToUpper(strings.TrimSpace(module))
	var items []submission.Item
	for _, item := range r.storage.Values() {
		if strings.ToUpper(strings.TrimSpace(item.Module)) == want {
			items = append(items, item)
		}
	}
	sortItems(items)
	return items, nil
}

func sortItems(items []submission.Item) {
	sort.Slice(items, func(i, j int) bool {
		if items[i].OrgUnit != items[j].OrgUnit {
			return items[i].OrgUnit < items[j].OrgUnit
		}
		return items[i].Period < items[j].Period
	})
}

var (
	_ submission.Repository = (*InmemSubmissionRepository)(nil)
	_ submission.Repository = (*SubmissionRepository)(nil)
)
