// Copyright 2020 The Swarm Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package file_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/ethersphere/beacon/pkg/crypto"
	"github.com/ethersphere/beacon/pkg/keystore/file"
	"github.com/ethersphere/beacon/pkg/keystore/test"
)

func TestService(t *testing.T) {
	t.Parallel()

	test.Service(t, file.New(t.TempDir()), crypto.EDGEd25519)
}

func TestServiceKeyFile(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	s := file.New(dir)

	if _, _, err := s.Key("libp2p", "", crypto.EDGEd25519); err != nil {
		t.Fatal(err)
	}

	info, err := os.Stat(filepath.Join(dir, "libp2p.key"))
	if err != nil {
		t.Fatal(err)
	}
	if perm := info.Mode().Perm(); perm != 0600 {
		t.Fatalf("got key file permissions %o, want %o", perm, 0600)
	}
}
