// Copyright 2020 The Swarm Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package test holds the shared keystore.Service conformance test.
package test

import (
	"errors"
	"testing"

	"github.com/ethersphere/beacon/pkg/keystore"
)

// Service is a utility testing function that can be used to test
// implementations of the keystore.Service interface.
func Service(t *testing.T, s keystore.Service, edg keystore.EDG) {
	t.Helper()

	exists, err := s.Exists("libp2p")
	if err != nil {
		t.Fatal(err)
	}
	if exists {
		t.Fatal("should not exist")
	}

	// create a new libp2p key
	k1, created, err := s.Key("libp2p", "pass123456", edg)
	if err != nil {
		t.Fatal(err)
	}
	if !created {
		t.Fatal("key is not created")
	}

	exists, err = s.Exists("libp2p")
	if err != nil {
		t.Fatal(err)
	}
	if !exists {
		t.Fatal("should exist")
	}

	// get the existing libp2p key
	k2, created, err := s.Key("libp2p", "pass123456", edg)
	if err != nil {
		t.Fatal(err)
	}
	if created {
		t.Fatal("key is created, but should not be")
	}
	if !k1.Equals(k2) {
		t.Fatal("two keys are not equal")
	}

	// invalid password
	_, _, err = s.Key("libp2p", "invalid password", edg)
	if !errors.Is(err, keystore.ErrInvalidPassword) {
		t.Fatal(err)
	}

	// create a new dcutr key
	k3, created, err := s.Key("dcutr", "pass123456", edg)
	if err != nil {
		t.Fatal(err)
	}
	if !created {
		t.Fatal("key is not created")
	}
	if k1.Equals(k3) {
		t.Fatal("two keys are equal, but should not be")
	}

	// replace the dcutr key
	k4, err := s.SetKey("dcutr", "pass123456", edg)
	if err != nil {
		t.Fatal(err)
	}
	k5, created, err := s.Key("dcutr", "pass123456", edg)
	if err != nil {
		t.Fatal(err)
	}
	if created {
		t.Fatal("key is created, but should not be")
	}
	if !k4.Equals(k5) || k3.Equals(k5) {
		t.Fatal("key was not replaced")
	}
}
