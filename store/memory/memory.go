// Package memory provides an in-memory Store implementation backed by a
// single mutex-guarded map, in the same spirit as the teacher package's
// mutex-guarded CheckState map: small, race-free, and good enough for
// tests and single-process deployments that don't need durability.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/google/uuid"

	nyxmon "github.com/nyxmon-go/agent"
)

// Store is an in-memory, mutex-guarded implementation of store.Store.
type Store struct {
	mu sync.Mutex

	checks   map[string]*nyxmon.Check
	services map[string]*nyxmon.Service
	results  map[string][]*nyxmon.Result // checkID -> results, oldest first
}

// New returns an empty Store.
func New() *Store {
	return &Store{
		checks:   make(map[string]*nyxmon.Check),
		services: make(map[string]*nyxmon.Service),
		results:  make(map[string][]*nyxmon.Result),
	}
}

func (s *Store) ListDue(_ context.Context, now int64, limit int) ([]*nyxmon.Check, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	due := make([]*nyxmon.Check, 0, limit)
	for _, c := range s.checks {
		if c.Due(now) {
			due = append(due, c)
		}
	}

	sort.Slice(due, func(i, j int) bool {
		if due[i].NextCheckTime != due[j].NextCheckTime {
			return due[i].NextCheckTime < due[j].NextCheckTime
		}
		return due[i].ID < due[j].ID
	})

	if len(due) > limit {
		due = due[:limit]
	}

	selected := make([]*nyxmon.Check, 0, len(due))
	for _, c := range due {
		cp := *c
		cp.Status = nyxmon.CheckProcessing
		s.checks[c.ID] = &cp
		out := cp
		selected = append(selected, &out)
	}
	return selected, nil
}

func (s *Store) AddResult(_ context.Context, result *nyxmon.Result) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if result.ResultID == "" {
		result.ResultID = uuid.NewString()
	}
	s.results[result.CheckID] = append(s.results[result.CheckID], result)
	return nil
}

func (s *Store) UpdateCheckAfterExecution(_ context.Context, checkID string, status nyxmon.CheckStatus, nextCheckTime int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.checks[checkID]
	if !ok {
		return fmt.Errorf("memory store: unknown check %q", checkID)
	}
	cp := *c
	cp.Status = status
	cp.NextCheckTime = nextCheckTime
	s.checks[checkID] = &cp
	return nil
}

func (s *Store) RecentResults(_ context.Context, checkID string, limit int) ([]*nyxmon.Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	all := s.results[checkID]
	out := make([]*nyxmon.Result, 0, limit)
	for i := len(all) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, all[i])
	}
	return out, nil
}

func (s *Store) DeleteResultsOlderThan(_ context.Context, olderThan int64, batchSize int) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	deleted := 0
	for checkID, rs := range s.results {
		if deleted >= batchSize {
			break
		}
		if len(rs) <= 1 {
			continue
		}
		kept := make([]*nyxmon.Result, 0, len(rs))
		mostRecent := rs[len(rs)-1]
		for _, r := range rs[:len(rs)-1] {
			if r.CreatedAt < olderThan && deleted < batchSize {
				deleted++
				continue
			}
			kept = append(kept, r)
		}
		kept = append(kept, mostRecent)
		s.results[checkID] = kept
	}
	return deleted, nil
}

func (s *Store) GetCheck(_ context.Context, checkID string) (*nyxmon.Check, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.checks[checkID]
	if !ok {
		return nil, fmt.Errorf("memory store: unknown check %q", checkID)
	}
	cp := *c
	return &cp, nil
}

func (s *Store) ListChecks(_ context.Context) ([]*nyxmon.Check, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]*nyxmon.Check, 0, len(s.checks))
	for _, c := range s.checks {
		cp := *c
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *Store) ListChecksByService(_ context.Context, serviceID string) ([]*nyxmon.Check, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]*nyxmon.Check, 0)
	for _, c := range s.checks {
		if c.ServiceID == serviceID {
			cp := *c
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *Store) GetService(_ context.Context, serviceID string) (*nyxmon.Service, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	svc, ok := s.services[serviceID]
	if !ok {
		return nil, fmt.Errorf("memory store: unknown service %q", serviceID)
	}
	cp := *svc
	return &cp, nil
}

func (s *Store) UpsertCheck(_ context.Context, check *nyxmon.Check) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if check.ID == "" {
		check.ID = uuid.NewString()
	}
	cp := *check
	s.checks[check.ID] = &cp
	return nil
}

func (s *Store) UpsertService(_ context.Context, service *nyxmon.Service) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cp := *service
	s.services[service.ServiceID] = &cp
	return nil
}

func (s *Store) Reconcile(_ context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := 0
	for id, c := range s.checks {
		if c.Status == nyxmon.CheckProcessing {
			cp := *c
			cp.Status = nyxmon.CheckIdle
			s.checks[id] = &cp
			n++
		}
	}
	return n, nil
}

func (s *Store) Close() error { return nil }
