// Copyright 2020 The Swarm Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package swarm contains the keyspace of the peer routing table: keys
// derived from peer ids and the XOR metric over them.
package swarm

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"

	"github.com/libp2p/go-libp2p/core/peer"
)

const (
	KeyLen  = sha256.Size
	KeyBits = KeyLen * 8
	MaxPO   = KeyBits - 1
	// MaxBins is the number of proximity bins of the routing table.
	MaxBins = KeyBits
)

// Key is a point in the routing table keyspace.
type Key struct {
	b []byte
}

// NewKey constructs Key from a byte slice.
func NewKey(b []byte) Key {
	return Key{b: b}
}

// KeyFromPeer returns the sha256 hash of the peer id bytes.
func KeyFromPeer(id peer.ID) Key {
	h := sha256.Sum256([]byte(id))
	return Key{b: h[:]}
}

// ParseHexKey returns a Key from a hex-encoded string representation.
func ParseHexKey(s string) (a Key, err error) {
	b, err := hex.DecodeString(s)
	if err != nil {
		return a, err
	}
	return NewKey(b), nil
}

// MustParseHexKey returns a Key from a hex-encoded string representation,
// and panics if there is a parse error.
func MustParseHexKey(s string) Key {
	a, err := ParseHexKey(s)
	if err != nil {
		panic(err)
	}
	return a
}

// String returns a hex-encoded representation of the Key.
func (a Key) String() string {
	return hex.EncodeToString(a.b)
}

// Equal returns true if two keys are identical.
func (a Key) Equal(b Key) bool {
	return bytes.Equal(a.b, b.b)
}

// IsZero returns true if the Key is not set to any value.
func (a Key) IsZero() bool {
	return a.Equal(ZeroKey)
}

// Bytes returns bytes representation of the Key.
func (a Key) Bytes() []byte {
	return a.b
}

// UnmarshalJSON sets Key to a value from JSON-encoded representation.
func (a *Key) UnmarshalJSON(b []byte) (err error) {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return err
	}
	*a, err = ParseHexKey(s)
	return err
}

// MarshalJSON returns JSON-encoded representation of Key.
func (a Key) MarshalJSON() ([]byte, error) {
	return json.Marshal(a.String())
}

// ZeroKey is the key that has no value.
var ZeroKey = NewKey(nil)
