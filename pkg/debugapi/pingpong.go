// Copyright 2020 The Swarm Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package debugapi

import (
	"errors"
	"net/http"

	"github.com/ethersphere/beacon/pkg/jsonhttp"
	"github.com/ethersphere/beacon/pkg/p2p"
	"github.com/gorilla/mux"
	"github.com/libp2p/go-libp2p/core/peer"
)

type pingpongResponse struct {
	RTT     string `json:"rtt"`
	Relayed bool   `json:"relayed"`
	Remote  string `json:"remote,omitempty"`
}

func (s *Service) pingpongHandler(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["peer-id"]
	ctx := r.Context()

	p, err := peer.Decode(id)
	if err != nil {
		s.logger.Debugf("pingpong: parse peer id %s: %v", id, err)
		jsonhttp.BadRequest(w, "invalid peer id")
		return
	}

	res, err := s.Pingpong.Ping(ctx, p, "hey", "there", ",", "how are", "you", "?")
	if err != nil {
		s.logger.Debugf("pingpong: ping %s: %v", id, err)
		if errors.Is(err, p2p.ErrPeerNotFound) {
			jsonhttp.NotFound(w, "peer not found")
			return
		}

		s.logger.Errorf("pingpong failed to peer %s", id)
		jsonhttp.InternalServerError(w, nil)
		return
	}

	s.logger.Infof("pingpong succeeded to peer %s", id)
	resp := pingpongResponse{
		RTT:     res.RTT.String(),
		Relayed: res.Relayed,
	}
	if res.Remote != nil {
		resp.Remote = res.Remote.String()
	}
	jsonhttp.OK(w, resp)
}
