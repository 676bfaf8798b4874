// Copyright 2020 The Swarm Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package debugapi

import (
	"net/http"

	"github.com/ethersphere/beacon/pkg/jsonhttp"
	"github.com/libp2p/go-libp2p/core/peer"
	ma "github.com/multiformats/go-multiaddr"
)

type addressesResponse struct {
	PeerID   peer.ID        `json:"peer_id"`
	Underlay []ma.Multiaddr `json:"underlay"`
}

func (s *Service) addressesHandler(w http.ResponseWriter, r *http.Request) {
	// initialize variable to json encode as [] instead null if the controller is nil
	underlay := make([]ma.Multiaddr, 0)
	// addresses endpoint is exposed before the controller is configured
	// to provide information about the peer id.
	if s.Controller != nil {
		u, err := s.Controller.ListenAddrs(r.Context())
		if err != nil {
			s.logger.Debugf("debug api: listen addresses: %v", err)
			jsonhttp.InternalServerError(w, err)
			return
		}
		underlay = append(underlay, u...)
	}
	jsonhttp.OK(w, addressesResponse{
		PeerID:   s.peerID,
		Underlay: underlay,
	})
}
