// Copyright 2020 The Swarm Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package debugapi

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/ethersphere/beacon/pkg/jsonhttp"
	"github.com/ethersphere/beacon/pkg/swarm"
	"github.com/ethersphere/beacon/pkg/topology"
	"github.com/gorilla/mux"
	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/libp2p/go-libp2p/core/protocol"
)

func (s *Service) topologyHandler(w http.ResponseWriter, r *http.Request) {
	if s.Topology == nil {
		jsonhttp.NotFound(w, "topology not running")
		return
	}
	params, err := s.Topology.SnapshotContext(r.Context())
	if err != nil {
		s.logger.Debugf("debug api: topology snapshot: %v", err)
		jsonhttp.InternalServerError(w, err)
		return
	}

	b, err := json.Marshal(params)
	if err != nil {
		s.logger.Errorf("topology marshal to json: %v", err)
		jsonhttp.InternalServerError(w, err)
		return
	}
	w.Header().Set("Content-Type", jsonhttp.DefaultContentTypeHeader)
	_, _ = io.Copy(w, bytes.NewBuffer(b))
}

type lookupResponse struct {
	Peers []peer.AddrInfo `json:"peers"`
}

// lookupHandler runs an iterative lookup for the key. The lookup continues
// the trace carried by the request headers.
func (s *Service) lookupHandler(w http.ResponseWriter, r *http.Request) {
	if s.Topology == nil {
		jsonhttp.NotFound(w, "topology not running")
		return
	}
	str := mux.Vars(r)["key"]
	key, err := swarm.ParseHexKey(str)
	if err != nil {
		s.logger.Debugf("debug api: lookup: parse key %s: %v", str, err)
		jsonhttp.BadRequest(w, "invalid key")
		return
	}
	peers, err := s.Topology.LookupContext(r.Context(), key)
	if err != nil {
		if errors.Is(err, topology.ErrNotFound) {
			jsonhttp.NotFound(w, err)
			return
		}
		s.logger.Debugf("debug api: lookup %s: %v", str, err)
		jsonhttp.InternalServerError(w, err)
		return
	}
	jsonhttp.OK(w, lookupResponse{
		Peers: peers,
	})
}

type discoveryResponse struct {
	Protocols map[protocol.ID]int `json:"protocols"`
}

func (s *Service) discoveryHandler(w http.ResponseWriter, r *http.Request) {
	if s.Discovery == nil {
		jsonhttp.NotFound(w, "discovery not running")
		return
	}
	snapshot, err := s.Discovery.Snapshot(r.Context())
	if err != nil {
		s.logger.Debugf("debug api: discovery snapshot: %v", err)
		jsonhttp.InternalServerError(w, err)
		return
	}
	jsonhttp.OK(w, discoveryResponse{
		Protocols: snapshot,
	})
}
