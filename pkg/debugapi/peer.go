// Copyright 2020 The Swarm Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package debugapi

import (
	"errors"
	"net/http"

	"github.com/ethersphere/beacon/pkg/core"
	"github.com/ethersphere/beacon/pkg/jsonhttp"
	"github.com/ethersphere/beacon/pkg/p2p"
	"github.com/gorilla/mux"
	"github.com/libp2p/go-libp2p/core/peer"
	ma "github.com/multiformats/go-multiaddr"
)

type peerConnectResponse struct {
	Address peer.ID `json:"address"`
}

func (s *Service) peerConnectHandler(w http.ResponseWriter, r *http.Request) {
	addr, err := ma.NewMultiaddr("/" + mux.Vars(r)["multi-address"])
	if err != nil {
		s.logger.Debugf("debug api: peer connect: parse multiaddress: %v", err)
		jsonhttp.BadRequest(w, err)
		return
	}
	info, err := peer.AddrInfoFromP2pAddr(addr)
	if err != nil {
		s.logger.Debugf("debug api: peer connect: %s: %v", addr, err)
		jsonhttp.BadRequest(w, "address without peer id")
		return
	}

	if err := s.Controller.Connect(r.Context(), addr); err != nil {
		s.logger.Debugf("debug api: peer connect %s: %v", addr, err)
		s.logger.Errorf("unable to connect to peer %s", addr)
		jsonhttp.InternalServerError(w, err)
		return
	}

	jsonhttp.OK(w, peerConnectResponse{
		Address: info.ID,
	})
}

func (s *Service) peerDisconnectHandler(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["peer-id"]
	p, err := peer.Decode(id)
	if err != nil {
		s.logger.Debugf("debug api: parse peer id %s: %v", id, err)
		jsonhttp.BadRequest(w, "invalid peer id")
		return
	}

	if err := s.Controller.Disconnect(r.Context(), p); err != nil {
		s.logger.Debugf("debug api: peer disconnect %s: %v", id, err)
		if errors.Is(err, p2p.ErrPeerNotFound) {
			jsonhttp.BadRequest(w, "peer not found")
			return
		}
		s.logger.Errorf("unable to disconnect peer %s", id)
		jsonhttp.InternalServerError(w, err)
		return
	}

	jsonhttp.OK(w, nil)
}

type peersResponse struct {
	Peers []core.PeerInfo `json:"peers"`
}

func (s *Service) peersHandler(w http.ResponseWriter, r *http.Request) {
	peers, err := s.Controller.PeersInfo(r.Context())
	if err != nil {
		s.logger.Debugf("debug api: peers: %v", err)
		jsonhttp.InternalServerError(w, err)
		return
	}
	if peers == nil {
		peers = make([]core.PeerInfo, 0)
	}
	jsonhttp.OK(w, peersResponse{
		Peers: peers,
	})
}
