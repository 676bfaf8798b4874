// Copyright 2020 The Swarm Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package node

import (
	"errors"
	"fmt"
	"path/filepath"

	"github.com/ethersphere/beacon/pkg/logging"
	"github.com/ethersphere/beacon/pkg/statestore/leveldb"
	"github.com/ethersphere/beacon/pkg/storage"
	"github.com/libp2p/go-libp2p/core/peer"
)

// InitStateStore will initialize the stateStore with the given path to the
// data directory. When given an empty directory path, the function will instead
// initialize an in-memory state store that will not be persisted.
func InitStateStore(logger logging.Logger, dataDir string) (storage.StateStorer, error) {
	if dataDir == "" {
		logger.Warning("using in-mem state store, no node state will be persisted")
		return leveldb.NewInMemoryStateStore(logger)
	}
	return leveldb.NewStateStore(filepath.Join(dataDir, "statestore"), logger)
}

const peerIDKey = "peer-id"

// checkPeerID checks that the peer id is the same as the one the state
// store was created with. Address book records of a different identity
// would be announced under the wrong key.
func checkPeerID(storer storage.StateStorer, id peer.ID) error {
	var stored string
	err := storer.Get(peerIDKey, &stored)
	if err != nil {
		if !errors.Is(err, storage.ErrNotFound) {
			return err
		}
		return storer.Put(peerIDKey, id.String())
	}

	if stored != id.String() {
		return fmt.Errorf("peer id changed. was %s before but now is %s", stored, id)
	}

	return nil
}
