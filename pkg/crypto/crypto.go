// Copyright 2020 The Swarm Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package crypto holds the node identity key helpers.
package crypto

import (
	"crypto/ed25519"
	"crypto/rand"
	"errors"
	"fmt"

	"github.com/libp2p/go-libp2p/core/crypto"
	"github.com/libp2p/go-libp2p/core/peer"
	"golang.org/x/crypto/sha3"
)

var ErrKeyType = errors.New("unsupported key type")

// GenerateEd25519Key generates a new ed25519 identity key.
func GenerateEd25519Key() (crypto.PrivKey, error) {
	k, _, err := crypto.GenerateEd25519Key(rand.Reader)
	if err != nil {
		return nil, err
	}
	return k, nil
}

// DeterministicEd25519Key derives an ed25519 key from a single byte seed.
// The seed is the first byte of an otherwise zero ed25519 seed. It is meant
// for test setups that need stable peer ids.
func DeterministicEd25519Key(seed uint8) (crypto.PrivKey, error) {
	s := make([]byte, ed25519.SeedSize)
	s[0] = seed
	k, err := crypto.UnmarshalEd25519PrivateKey(ed25519.NewKeyFromSeed(s))
	if err != nil {
		return nil, fmt.Errorf("ed25519 key from seed: %w", err)
	}
	return k, nil
}

// EncodePrivateKey encodes the key in the libp2p protobuf form.
func EncodePrivateKey(k crypto.PrivKey) ([]byte, error) {
	return crypto.MarshalPrivateKey(k)
}

// DecodePrivateKey decodes a key encoded with EncodePrivateKey.
func DecodePrivateKey(data []byte) (crypto.PrivKey, error) {
	k, err := crypto.UnmarshalPrivateKey(data)
	if err != nil {
		return nil, err
	}
	if k.Type() != crypto.Ed25519 {
		return nil, ErrKeyType
	}
	return k, nil
}

// PeerID returns the peer id of the key.
func PeerID(k crypto.PrivKey) (peer.ID, error) {
	return peer.IDFromPrivateKey(k)
}

// LegacyKeccak256 returns the keccak256 digest of data.
func LegacyKeccak256(data []byte) ([]byte, error) {
	h := sha3.NewLegacyKeccak256()
	_, err := h.Write(data)
	if err != nil {
		return nil, err
	}
	return h.Sum(nil), err
}

// Ed25519EDG aggregates the generate, encode and decode functions of
// ed25519 identity keys.
type Ed25519EDG struct{}

func (s *Ed25519EDG) Generate() (crypto.PrivKey, error) {
	return GenerateEd25519Key()
}
func (s *Ed25519EDG) Encode(k crypto.PrivKey) ([]byte, error) {
	return EncodePrivateKey(k)
}
func (s *Ed25519EDG) Decode(data []byte) (crypto.PrivKey, error) {
	return DecodePrivateKey(data)
}

// EDGEd25519 is the key scheme used for node identities.
var EDGEd25519 = new(Ed25519EDG)
