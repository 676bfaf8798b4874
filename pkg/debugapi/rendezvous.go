// Copyright 2020 The Swarm Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package debugapi

import (
	"net/http"

	"github.com/ethersphere/beacon/pkg/jsonhttp"
	"github.com/ethersphere/beacon/pkg/rendezvous"
	"github.com/libp2p/go-libp2p/core/peer"
)

type rendezvousResponse struct {
	// Registrations are held by the rendezvous server of the node.
	Registrations []rendezvous.Registration `json:"registrations"`
	// Namespaces the node is registered in, by rendezvous point.
	Namespaces map[peer.ID][]string `json:"namespaces"`
}

func (s *Service) rendezvousHandler(w http.ResponseWriter, r *http.Request) {
	resp := rendezvousResponse{
		Registrations: make([]rendezvous.Registration, 0),
		Namespaces:    make(map[peer.ID][]string),
	}
	if s.RendezvousServer != nil {
		regs, err := s.RendezvousServer.RegistrationsContext(r.Context())
		if err != nil {
			s.logger.Debugf("debug api: rendezvous registrations: %v", err)
			jsonhttp.InternalServerError(w, err)
			return
		}
		resp.Registrations = append(resp.Registrations, regs...)
	}
	if s.RendezvousClient != nil {
		ns, err := s.RendezvousClient.RegistrationsContext(r.Context())
		if err != nil {
			s.logger.Debugf("debug api: rendezvous namespaces: %v", err)
			jsonhttp.InternalServerError(w, err)
			return
		}
		for p, n := range ns {
			resp.Namespaces[p] = n
		}
	}
	jsonhttp.OK(w, resp)
}
