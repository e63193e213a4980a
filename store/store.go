// Copyright 2025 KrakLabs
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published
// by the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program. If not, see <https://www.gnu.org/licenses/>.
//
// For commercial licensing, contact: licensing@kraklabs.com
//
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package store implements the instance registry (§4.4): a process
// keeps at most one live copy of any given instance, looked up by uuid or
// uri, with lazy fetch through a Storage when nothing is cached yet.
//
// Grounded on §4.4 and on the teacher's sync.RWMutex-guarded map style in
// _examples/vjache-cie/pkg/storage/embedded.go, generalised from a single
// database handle to a registry of ref-counted objects.
package store

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/singleflight"

	"github.com/sintef/dlite-go/dliteerr"
	"github.com/sintef/dlite-go/instance"
)

// Fetcher loads an instance by uuid when the registry has no live copy,
// typically backed by a storage.Handle (kept as an interface here so
// store never imports package storage, mirroring instance.Meta's
// cycle-breaking pattern).
type Fetcher interface {
	Fetch(uuid string) (*instance.Instance, error)
}

// Store is a process-wide registry of ref-counted instances (§4.4). Put
// takes a reference of its own, so the registry does keep an instance
// alive on its own: an entry is dropped only when the instance's
// refcount, the registry's reference included, reaches zero.
type Store struct {
	mu    sync.RWMutex
	byID  map[string]*instance.Instance
	byURI map[string]*instance.Instance

	fetcher Fetcher
	flight  singleflight.Group

	hits    prometheus.Counter
	misses  prometheus.Counter
	fetches prometheus.Counter
	live    prometheus.GaugeFunc
}

// New creates an empty Store. fetcher may be nil, in which case Get only
// ever returns what has already been Put.
func New(fetcher Fetcher) *Store {
	s := &Store{
		byID:    make(map[string]*instance.Instance),
		byURI:   make(map[string]*instance.Instance),
		fetcher: fetcher,
		hits:    prometheus.NewCounter(prometheus.CounterOpts{Name: "dlite_store_hits_total", Help: "Store.Get calls served from the registry."}),
		misses:  prometheus.NewCounter(prometheus.CounterOpts{Name: "dlite_store_misses_total", Help: "Store.Get calls that missed the registry."}),
		fetches: prometheus.NewCounter(prometheus.CounterOpts{Name: "dlite_store_fetches_total", Help: "Store.Get calls that triggered a Fetcher lookup."}),
	}
	s.live = prometheus.NewGaugeFunc(prometheus.GaugeOpts{Name: "dlite_store_live_instances", Help: "Instances currently registered in the store."}, s.liveCount)
	return s
}

func (s *Store) liveCount() float64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return float64(len(s.byID))
}

// Describe implements prometheus.Collector.
func (s *Store) Describe(ch chan<- *prometheus.Desc) {
	s.hits.Describe(ch)
	s.misses.Describe(ch)
	s.fetches.Describe(ch)
	s.live.Describe(ch)
}

// Collect implements prometheus.Collector.
func (s *Store) Collect(ch chan<- prometheus.Metric) {
	s.hits.Collect(ch)
	s.misses.Collect(ch)
	s.fetches.Collect(ch)
	s.live.Collect(ch)
}

// Put registers inst under its uuid (and uri, if it has one), incref'ing
// it and wiring a release hook so the registry entry is dropped the
// moment the instance's refcount reaches zero.
// Putting an already-registered uuid increfs the existing entry and
// returns it instead of inserting a duplicate.
func (s *Store) Put(inst *instance.Instance) *instance.Instance {
	s.mu.Lock()
	defer s.mu.Unlock()
	if existing, ok := s.byID[inst.UUID()]; ok {
		existing.Incref()
		return existing
	}
	inst.Incref()
	inst.SetReleaseHook(func() { s.remove(inst.UUID(), inst.URI()) })
	s.byID[inst.UUID()] = inst
	if inst.URI() != "" {
		s.byURI[inst.URI()] = inst
	}
	return inst
}

func (s *Store) remove(uuid, uri string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.byID, uuid)
	if uri != "" {
		delete(s.byURI, uri)
	}
}

// Get looks up id (a uuid or a uri) in the registry, incref'ing and
// returning the cached instance on a hit. On a miss, if a Fetcher is
// configured, it loads the instance, registers it, and returns it;
// concurrent Get calls that miss on the same id share a single in-flight
// Fetcher call via golang.org/x/sync/singleflight, so a thundering herd
// of readers for a cold id only costs one storage round trip.
func (s *Store) Get(id string) (*instance.Instance, error) {
	if inst, ok := s.lookup(id); ok {
		s.hits.Inc()
		inst.Incref()
		return inst, nil
	}
	s.misses.Inc()
	if s.fetcher == nil {
		return nil, dliteerr.New(dliteerr.MissingInstance, "store: no instance registered for %q", id)
	}

	v, err, _ := s.flight.Do(id, func() (any, error) {
		if inst, ok := s.lookup(id); ok {
			inst.Incref()
			return inst, nil
		}
		s.fetches.Inc()
		inst, err := s.fetcher.Fetch(id)
		if err != nil {
			return nil, dliteerr.Storage(false, err, "store: fetch %q", id)
		}
		return s.Put(inst), nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*instance.Instance), nil
}

func (s *Store) lookup(id string) (*instance.Instance, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if inst, ok := s.byID[id]; ok {
		return inst, true
	}
	if inst, ok := s.byURI[id]; ok {
		return inst, true
	}
	return nil, false
}

// Len returns the number of instances currently registered.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.byID)
}
