// Copyright 2020 The Swarm Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package kademlia

import (
	"bytes"
	"sort"
	"time"

	"github.com/ethersphere/beacon/pkg/swarm"
	"github.com/libp2p/go-libp2p/core/peer"
)

// Entry is a peer in the routing table.
type Entry struct {
	ID       peer.ID
	Key      swarm.Key
	LastSeen time.Time
	Failures int
}

type bucket struct {
	entries []*Entry
	touched time.Time
}

// Table is the routing table. Peers are kept in buckets indexed by the
// proximity order of their key to the base key. It is not safe for
// concurrent use; it is owned by the kademlia behaviour.
type Table struct {
	base        swarm.Key
	self        peer.ID
	bucketSize  int
	maxFailures int
	buckets     []bucket
	index       map[peer.ID]int
}

func NewTable(self peer.ID, bucketSize, maxFailures int) *Table {
	return &Table{
		base:        swarm.KeyFromPeer(self),
		self:        self,
		bucketSize:  bucketSize,
		maxFailures: maxFailures,
		buckets:     make([]bucket, swarm.MaxBins),
		index:       make(map[peer.ID]int),
	}
}

// Base returns the key of the local peer.
func (t *Table) Base() swarm.Key {
	return t.base
}

func (t *Table) po(k swarm.Key) int {
	po := swarm.Proximity(t.base, k)
	if po > swarm.MaxPO {
		po = swarm.MaxPO
	}
	return po
}

// Add inserts the peer, or marks it seen if it is already known. A full
// bucket makes room by evicting the entry with the most failures; when no
// entry has failed, the newcomer is dropped.
func (t *Table) Add(id peer.ID, now time.Time) bool {
	if id == t.self {
		return false
	}
	if _, ok := t.index[id]; ok {
		t.Seen(id, now)
		return true
	}

	key := swarm.KeyFromPeer(id)
	po := t.po(key)
	b := &t.buckets[po]

	if len(b.entries) >= t.bucketSize {
		worst := -1
		for i, e := range b.entries {
			if e.Failures > 0 && (worst < 0 || e.Failures > b.entries[worst].Failures) {
				worst = i
			}
		}
		if worst < 0 {
			return false
		}
		delete(t.index, b.entries[worst].ID)
		b.entries = append(b.entries[:worst], b.entries[worst+1:]...)
	}

	b.entries = append(b.entries, &Entry{ID: id, Key: key, LastSeen: now})
	t.index[id] = po
	return true
}

// Remove deletes the peer from the table.
func (t *Table) Remove(id peer.ID) bool {
	po, ok := t.index[id]
	if !ok {
		return false
	}
	b := &t.buckets[po]
	for i, e := range b.entries {
		if e.ID == id {
			b.entries = append(b.entries[:i], b.entries[i+1:]...)
			break
		}
	}
	delete(t.index, id)
	return true
}

func (t *Table) entry(id peer.ID) *Entry {
	po, ok := t.index[id]
	if !ok {
		return nil
	}
	for _, e := range t.buckets[po].entries {
		if e.ID == id {
			return e
		}
	}
	return nil
}

// Seen records a successful exchange with the peer and clears its failures.
func (t *Table) Seen(id peer.ID, now time.Time) {
	if e := t.entry(id); e != nil {
		e.LastSeen = now
		e.Failures = 0
	}
}

// Failed records a failed exchange. The peer is evicted when it reaches the
// maximum number of consecutive failures, which is reported by the return
// value.
func (t *Table) Failed(id peer.ID) bool {
	e := t.entry(id)
	if e == nil {
		return false
	}
	e.Failures++
	if e.Failures >= t.maxFailures {
		t.Remove(id)
		return true
	}
	return false
}

// Get returns a copy of the entry of the peer.
func (t *Table) Get(id peer.ID) (Entry, bool) {
	if e := t.entry(id); e != nil {
		return *e, true
	}
	return Entry{}, false
}

// Closest returns at most n entries sorted by XOR distance to the target.
// Entries at equal distance are ordered by the most recently seen.
func (t *Table) Closest(target swarm.Key, n int) []Entry {
	all := make([]Entry, 0, len(t.index))
	for i := range t.buckets {
		for _, e := range t.buckets[i].entries {
			all = append(all, *e)
		}
	}
	SortByDistance(target, all)
	if len(all) > n {
		all = all[:n]
	}
	return all
}

// SortByDistance sorts entries by XOR distance to the target, breaking ties
// by the most recently seen.
func SortByDistance(target swarm.Key, entries []Entry) {
	sort.SliceStable(entries, func(i, j int) bool {
		c := bytes.Compare(xorKey(target, entries[i].Key), xorKey(target, entries[j].Key))
		if c != 0 {
			return c < 0
		}
		return entries[i].LastSeen.After(entries[j].LastSeen)
	})
}

func xorKey(a, b swarm.Key) []byte {
	x, y := a.Bytes(), b.Bytes()
	d := make([]byte, len(x))
	for i := range x {
		d[i] = x[i] ^ y[i]
	}
	return d
}

// Touch marks the bucket of the key as recently looked up.
func (t *Table) Touch(k swarm.Key, now time.Time) {
	t.buckets[t.po(k)].touched = now
}

// Stale returns the bucket indexes up to the deepest populated bucket that
// were not touched within interval before now.
func (t *Table) Stale(now time.Time, interval time.Duration) []int {
	deepest := -1
	for i := range t.buckets {
		if len(t.buckets[i].entries) > 0 {
			deepest = i
		}
	}
	var pos []int
	for i := 0; i <= deepest; i++ {
		if now.Sub(t.buckets[i].touched) >= interval {
			pos = append(pos, i)
		}
	}
	return pos
}

// Len returns the number of peers in the table.
func (t *Table) Len() int {
	return len(t.index)
}

// EachBin calls f for every peer from the deepest bucket to the shallowest.
func (t *Table) EachBin(f func(e Entry, po int) (stop, jumpToNext bool)) {
	for i := len(t.buckets) - 1; i >= 0; i-- {
		for _, e := range t.buckets[i].entries {
			stop, next := f(*e, i)
			if stop {
				return
			}
			if next {
				break
			}
		}
	}
}

// Bin returns copies of the entries of the bucket with proximity order po.
func (t *Table) Bin(po int) ([]Entry, time.Time) {
	if po < 0 || po >= len(t.buckets) {
		return nil, time.Time{}
	}
	es := make([]Entry, 0, len(t.buckets[po].entries))
	for _, e := range t.buckets[po].entries {
		es = append(es, *e)
	}
	return es, t.buckets[po].touched
}
