// Copyright 2020 The Swarm Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package addressbook keeps the records of known peers, indexed by peer id,
// in the state store.
package addressbook

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/ethersphere/beacon/pkg/p2p"
	"github.com/ethersphere/beacon/pkg/storage"
	"github.com/libp2p/go-libp2p/core/peer"
	ma "github.com/multiformats/go-multiaddr"
)

const keyPrefix = "addressbook_entry_"

var _ Store = (*store)(nil)

var ErrNotFound = errors.New("addressbook: not found")

// Store is state storage wrapper which maps peer ids to their records.
type Store interface {
	GetPutter
	// Remove removes the record of the peer.
	Remove(id peer.ID) error
	// Peers returns a list of all peer ids saved in addressbook.
	Peers() ([]peer.ID, error)
	// IteratePeers exposes peer ids in a form of an iterator.
	IteratePeers(func(peer.ID) (bool, error)) error
	// Records returns a list of all records saved in addressbook.
	Records() ([]Record, error)
	// SetReachability records the reachability of the peer.
	SetReachability(id peer.ID, r p2p.ReachabilityStatus) error
	// Prune removes records that were not seen within window before now.
	Prune(now time.Time, window time.Duration) (int, error)
}

type GetPutter interface {
	Getter
	Putter
}

type Getter interface {
	// Get returns the saved record for the requested peer.
	Get(id peer.ID) (*Record, error)
}

type Putter interface {
	// Put merges the record with the existing one. The address sets are
	// unioned and the later LastSeen wins.
	Put(r Record) error
}

// Record is what is known about a peer.
type Record struct {
	ID           peer.ID
	Addrs        []ma.Multiaddr
	LastSeen     time.Time
	Reachability p2p.ReachabilityStatus
}

type recordJSON struct {
	ID           string    `json:"id"`
	Addrs        []string  `json:"addrs"`
	LastSeen     time.Time `json:"lastSeen"`
	Reachability int       `json:"reachability"`
}

func (r Record) MarshalJSON() ([]byte, error) {
	addrs := make([]string, 0, len(r.Addrs))
	for _, a := range r.Addrs {
		addrs = append(addrs, a.String())
	}
	return json.Marshal(&recordJSON{
		ID:           r.ID.String(),
		Addrs:        addrs,
		LastSeen:     r.LastSeen,
		Reachability: int(r.Reachability),
	})
}

func (r *Record) UnmarshalJSON(b []byte) error {
	v := &recordJSON{}
	if err := json.Unmarshal(b, v); err != nil {
		return err
	}
	id, err := peer.Decode(v.ID)
	if err != nil {
		return err
	}
	addrs := make([]ma.Multiaddr, 0, len(v.Addrs))
	for _, s := range v.Addrs {
		a, err := ma.NewMultiaddr(s)
		if err != nil {
			return err
		}
		addrs = append(addrs, a)
	}
	r.ID = id
	r.Addrs = addrs
	r.LastSeen = v.LastSeen
	r.Reachability = p2p.ReachabilityStatus(v.Reachability)
	return nil
}

// AddrInfo returns the record as libp2p dial information.
func (r Record) AddrInfo() peer.AddrInfo {
	return peer.AddrInfo{ID: r.ID, Addrs: r.Addrs}
}

func (r Record) String() string {
	addrs := make([]string, 0, len(r.Addrs))
	for _, a := range r.Addrs {
		addrs = append(addrs, a.String())
	}
	return fmt.Sprintf("[%s: %s]", r.ID, strings.Join(addrs, ", "))
}

type store struct {
	store storage.StateStorer
	// serializes read-modify-write of records
	mu sync.Mutex
}

// New creates new addressbook for state storer.
func New(storer storage.StateStorer) Store {
	return &store{
		store: storer,
	}
}

func (s *store) Get(id peer.ID) (*Record, error) {
	v := &Record{}
	if err := s.store.Get(keyPrefix+id.String(), v); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return v, nil
}

func (s *store) Put(r Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, err := s.Get(r.ID)
	switch {
	case errors.Is(err, ErrNotFound):
		r.Addrs = mergeAddrs(nil, r.Addrs)
		return s.store.Put(keyPrefix+r.ID.String(), r)
	case err != nil:
		return err
	}

	existing.Addrs = mergeAddrs(existing.Addrs, r.Addrs)
	if r.LastSeen.After(existing.LastSeen) {
		existing.LastSeen = r.LastSeen
	}
	if r.Reachability != p2p.ReachabilityStatusUnknown {
		existing.Reachability = r.Reachability
	}
	return s.store.Put(keyPrefix+r.ID.String(), existing)
}

func (s *store) SetReachability(id peer.ID, r p2p.ReachabilityStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, err := s.Get(id)
	if errors.Is(err, ErrNotFound) {
		rec = &Record{ID: id}
	} else if err != nil {
		return err
	}
	rec.Reachability = r
	return s.store.Put(keyPrefix+id.String(), rec)
}

func (s *store) Remove(id peer.ID) error {
	return s.store.Delete(keyPrefix + id.String())
}

func (s *store) IteratePeers(cb func(peer.ID) (bool, error)) error {
	return s.store.Iterate(keyPrefix, func(key, _ []byte) (stop bool, err error) {
		id, err := peer.Decode(string(key[len(keyPrefix):]))
		if err != nil {
			return true, fmt.Errorf("invalid peer key: %s, err: %w", key, err)
		}
		return cb(id)
	})
}

func (s *store) Peers() (ids []peer.ID, err error) {
	err = s.IteratePeers(func(id peer.ID) (bool, error) {
		ids = append(ids, id)
		return false, nil
	})
	if err != nil {
		return nil, err
	}
	return ids, nil
}

func (s *store) Records() (records []Record, err error) {
	err = s.store.Iterate(keyPrefix, func(_, value []byte) (stop bool, err error) {
		var r Record
		if err := r.UnmarshalJSON(value); err != nil {
			return true, err
		}
		records = append(records, r)
		return false, nil
	})
	if err != nil {
		return nil, err
	}
	return records, nil
}

func (s *store) Prune(now time.Time, window time.Duration) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	records, err := s.Records()
	if err != nil {
		return 0, err
	}
	n := 0
	for _, r := range records {
		if now.Sub(r.LastSeen) <= window {
			continue
		}
		if err := s.Remove(r.ID); err != nil {
			return n, err
		}
		n++
	}
	return n, nil
}

func mergeAddrs(a, b []ma.Multiaddr) []ma.Multiaddr {
	out := make([]ma.Multiaddr, 0, len(a)+len(b))
	seen := make(map[string]struct{}, len(a)+len(b))
	for _, list := range [][]ma.Multiaddr{a, b} {
		for _, addr := range list {
			if addr == nil {
				continue
			}
			k := string(addr.Bytes())
			if _, ok := seen[k]; ok {
				continue
			}
			seen[k] = struct{}{}
			out = append(out, addr)
		}
	}
	return out
}
