// Copyright 2020 The Swarm Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package rendezvous

import (
	"crypto/rand"
	"encoding/binary"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/ethersphere/beacon/pkg/p2p"
	"github.com/libp2p/go-libp2p/core/peer"
	ma "github.com/multiformats/go-multiaddr"
)

const (
	MinTTL     = 10 * time.Second
	MaxTTL     = 72 * time.Hour
	DefaultTTL = 2 * time.Hour

	MaxNamespaceLength = 255

	DefaultDiscoverLimit = 100
	MaxDiscoverLimit     = 1000

	defaultMaxRegistrations     = 1000
	defaultMaxPeerRegistrations = 100

	cookieHeaderLen = 16
)

var (
	ErrInvalidNamespace = errors.New("invalid namespace")
	ErrInvalidTTL       = errors.New("invalid ttl")
	ErrInvalidCookie    = errors.New("invalid cookie")
	ErrNotAuthorized    = errors.New("not authorized")
)

// Registration is an entry of a namespace in the registry.
type Registration struct {
	Namespace string         `json:"namespace"`
	Peer      peer.ID        `json:"peer"`
	Addrs     []ma.Multiaddr `json:"addrs"`
	TTL       time.Duration  `json:"ttl"`
	Expiry    time.Time      `json:"expiry"`
	// Record is the signed peer record the registration was made with.
	Record []byte `json:"-"`

	seq uint64
}

// Valid reports whether the registration has not expired at now.
func (r Registration) Valid(now time.Time) bool {
	return now.Before(r.Expiry)
}

type RegistryOptions struct {
	MaxRegistrations     int
	MaxPeerRegistrations int
}

// Registry maps namespaces to registrations. Registrations of a namespace
// are ordered by the sequence number of their last registration, which is
// what cookies point into. It is not safe for concurrent use.
type Registry struct {
	opts  RegistryOptions
	nonce uint64
	seq   uint64

	namespaces map[string]map[peer.ID]*Registration
	perPeer    map[peer.ID]int
	total      int
}

func NewRegistry(o RegistryOptions) *Registry {
	if o.MaxRegistrations <= 0 {
		o.MaxRegistrations = defaultMaxRegistrations
	}
	if o.MaxPeerRegistrations <= 0 {
		o.MaxPeerRegistrations = defaultMaxPeerRegistrations
	}
	var b [8]byte
	if _, err := rand.Read(b[:]); err != nil {
		panic(fmt.Errorf("registry nonce: %w", err))
	}
	return &Registry{
		opts:       o,
		nonce:      binary.BigEndian.Uint64(b[:]),
		namespaces: make(map[string]map[peer.ID]*Registration),
		perPeer:    make(map[peer.ID]int),
	}
}

// ValidateNamespace checks the namespace of a registration. Discovery also
// accepts the empty namespace.
func ValidateNamespace(ns string) error {
	if ns == "" || len(ns) > MaxNamespaceLength {
		return fmt.Errorf("%w: %d bytes", ErrInvalidNamespace, len(ns))
	}
	return nil
}

// ValidateTTL returns the effective ttl of a registration. Zero selects the
// default.
func ValidateTTL(ttl time.Duration) (time.Duration, error) {
	if ttl == 0 {
		return DefaultTTL, nil
	}
	if ttl < MinTTL || ttl > MaxTTL {
		return 0, fmt.Errorf("%w: %s", ErrInvalidTTL, ttl)
	}
	return ttl, nil
}

// Register adds or refreshes the registration of the peer in the namespace.
// A refresh replaces the addresses and ttl and moves the entry to the end of
// the namespace order.
func (r *Registry) Register(reg Registration, now time.Time) (Registration, error) {
	if err := ValidateNamespace(reg.Namespace); err != nil {
		return Registration{}, err
	}
	ttl, err := ValidateTTL(reg.TTL)
	if err != nil {
		return Registration{}, err
	}
	r.GC(now)

	ns, ok := r.namespaces[reg.Namespace]
	if !ok {
		ns = make(map[peer.ID]*Registration)
	}
	existing, ok := ns[reg.Peer]
	if !ok {
		if r.total >= r.opts.MaxRegistrations {
			return Registration{}, fmt.Errorf("registry full: %w", p2p.ErrCapacityExceeded)
		}
		if r.perPeer[reg.Peer] >= r.opts.MaxPeerRegistrations {
			return Registration{}, fmt.Errorf("registrations of %s: %w", reg.Peer, p2p.ErrCapacityExceeded)
		}
		existing = &Registration{Namespace: reg.Namespace, Peer: reg.Peer}
		ns[reg.Peer] = existing
		r.namespaces[reg.Namespace] = ns
		r.perPeer[reg.Peer]++
		r.total++
	}

	r.seq++
	existing.seq = r.seq
	existing.Addrs = reg.Addrs
	existing.Record = reg.Record
	existing.TTL = ttl
	existing.Expiry = now.Add(ttl)
	return *existing, nil
}

// Unregister removes the registration of the peer in the namespace. An
// empty namespace removes the peer from every namespace.
func (r *Registry) Unregister(namespace string, p peer.ID) {
	if namespace == "" {
		for ns := range r.namespaces {
			r.remove(ns, p)
		}
		return
	}
	r.remove(namespace, p)
}

func (r *Registry) remove(namespace string, p peer.ID) {
	ns, ok := r.namespaces[namespace]
	if !ok {
		return
	}
	if _, ok := ns[p]; !ok {
		return
	}
	delete(ns, p)
	if len(ns) == 0 {
		delete(r.namespaces, namespace)
	}
	r.perPeer[p]--
	if r.perPeer[p] <= 0 {
		delete(r.perPeer, p)
	}
	r.total--
}

// Discover returns up to limit live registrations of the namespace that
// were made after the position of the cookie, and the cookie of the new
// position. The empty namespace discovers across all namespaces.
func (r *Registry) Discover(namespace string, cookie []byte, limit int, now time.Time) ([]Registration, []byte, error) {
	if namespace != "" {
		if err := ValidateNamespace(namespace); err != nil {
			return nil, nil, err
		}
	}
	if limit <= 0 {
		limit = DefaultDiscoverLimit
	}
	if limit > MaxDiscoverLimit {
		limit = MaxDiscoverLimit
	}

	var after uint64
	if len(cookie) > 0 {
		var err error
		if after, err = r.parseCookie(cookie, namespace); err != nil {
			return nil, nil, err
		}
	}

	var regs []Registration
	collect := func(ns map[peer.ID]*Registration) {
		for _, reg := range ns {
			if reg.seq > after && reg.Valid(now) {
				regs = append(regs, *reg)
			}
		}
	}
	if namespace == "" {
		for _, ns := range r.namespaces {
			collect(ns)
		}
	} else {
		collect(r.namespaces[namespace])
	}
	sort.Slice(regs, func(i, j int) bool { return regs[i].seq < regs[j].seq })
	if len(regs) > limit {
		regs = regs[:limit]
	}

	last := after
	if len(regs) > 0 {
		last = regs[len(regs)-1].seq
	}
	return regs, r.cookie(last, namespace), nil
}

// cookie encodes the registry nonce, the position and the namespace.
func (r *Registry) cookie(seq uint64, namespace string) []byte {
	b := make([]byte, cookieHeaderLen, cookieHeaderLen+len(namespace))
	binary.BigEndian.PutUint64(b, r.nonce)
	binary.BigEndian.PutUint64(b[8:], seq)
	return append(b, namespace...)
}

func (r *Registry) parseCookie(b []byte, namespace string) (uint64, error) {
	if len(b) < cookieHeaderLen {
		return 0, fmt.Errorf("%w: short", ErrInvalidCookie)
	}
	if binary.BigEndian.Uint64(b) != r.nonce {
		return 0, fmt.Errorf("%w: issued by another registry", ErrInvalidCookie)
	}
	if string(b[cookieHeaderLen:]) != namespace {
		return 0, fmt.Errorf("%w: issued for another namespace", ErrInvalidCookie)
	}
	return binary.BigEndian.Uint64(b[8:]), nil
}

// GC removes the expired registrations and returns how many were removed.
func (r *Registry) GC(now time.Time) int {
	var n int
	for name, ns := range r.namespaces {
		for p, reg := range ns {
			if !reg.Valid(now) {
				r.remove(name, p)
				n++
			}
		}
	}
	return n
}

// Len returns the number of registrations, expired ones included until
// they are collected.
func (r *Registry) Len() int {
	return r.total
}

// Registrations returns the live registrations ordered by namespace and
// then by registration order.
func (r *Registry) Registrations(now time.Time) []Registration {
	var regs []Registration
	for _, ns := range r.namespaces {
		for _, reg := range ns {
			if reg.Valid(now) {
				regs = append(regs, *reg)
			}
		}
	}
	sort.Slice(regs, func(i, j int) bool {
		if regs[i].Namespace != regs[j].Namespace {
			return regs[i].Namespace < regs[j].Namespace
		}
		return regs[i].seq < regs[j].seq
	})
	return regs
}
