// Copyright 2020 The Swarm Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package debugapi

import (
	"net/http"
	"time"

	"github.com/ethersphere/beacon/pkg/jsonhttp"
	"github.com/gorilla/mux"
	"github.com/libp2p/go-libp2p/core/peer"
	ma "github.com/multiformats/go-multiaddr"
)

type holePunchAttempt struct {
	Initiator   peer.ID        `json:"initiator"`
	Responder   peer.ID        `json:"responder"`
	State       string         `json:"state"`
	Round       int            `json:"round"`
	RTT         string         `json:"rtt"`
	LocalAddrs  []ma.Multiaddr `json:"local_addrs"`
	RemoteAddrs []ma.Multiaddr `json:"remote_addrs"`
	Started     time.Time      `json:"started"`
}

type holePunchAttemptsResponse struct {
	Attempts []holePunchAttempt `json:"attempts"`
}

func (s *Service) holePunchAttemptsHandler(w http.ResponseWriter, r *http.Request) {
	if s.HolePunch == nil {
		jsonhttp.NotFound(w, "hole punching not running")
		return
	}
	as, err := s.HolePunch.AttemptsContext(r.Context())
	if err != nil {
		s.logger.Debugf("debug api: hole punch attempts: %v", err)
		jsonhttp.InternalServerError(w, err)
		return
	}
	resp := holePunchAttemptsResponse{
		Attempts: make([]holePunchAttempt, 0, len(as)),
	}
	for _, a := range as {
		resp.Attempts = append(resp.Attempts, holePunchAttempt{
			Initiator:   a.Initiator,
			Responder:   a.Responder,
			State:       a.State.String(),
			Round:       a.Round,
			RTT:         a.RTT.String(),
			LocalAddrs:  a.LocalAddrs,
			RemoteAddrs: a.RemoteAddrs,
			Started:     a.Started,
		})
	}
	jsonhttp.OK(w, resp)
}

func (s *Service) holePunchHandler(w http.ResponseWriter, r *http.Request) {
	if s.HolePunch == nil {
		jsonhttp.NotFound(w, "hole punching not running")
		return
	}
	id := mux.Vars(r)["peer-id"]
	p, err := peer.Decode(id)
	if err != nil {
		s.logger.Debugf("debug api: hole punch: parse peer id %s: %v", id, err)
		jsonhttp.BadRequest(w, "invalid peer id")
		return
	}
	if err := s.HolePunch.PunchContext(r.Context(), p); err != nil {
		s.logger.Debugf("debug api: hole punch %s: %v", id, err)
		jsonhttp.Conflict(w, err)
		return
	}
	jsonhttp.Created(w, nil)
}
