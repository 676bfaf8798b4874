// Copyright 2020 The Swarm Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package debugapi

import (
	"net/http"

	"github.com/ethersphere/beacon/pkg/jsonhttp"
	"github.com/ethersphere/beacon/pkg/relay"
)

type reservationsResponse struct {
	// Granted are the reservations the relay server holds for other peers.
	Granted []relay.Reservation `json:"granted"`
	// Held are the reservations the node holds on relays.
	Held []relay.Reservation `json:"held"`
}

func (s *Service) reservationsHandler(w http.ResponseWriter, r *http.Request) {
	resp := reservationsResponse{
		Granted: make([]relay.Reservation, 0),
		Held:    make([]relay.Reservation, 0),
	}
	if s.RelayServer != nil {
		rs, err := s.RelayServer.ReservationsContext(r.Context())
		if err != nil {
			s.logger.Debugf("debug api: relay server reservations: %v", err)
			jsonhttp.InternalServerError(w, err)
			return
		}
		resp.Granted = append(resp.Granted, rs...)
	}
	if s.RelayClient != nil {
		rs, err := s.RelayClient.ReservationsContext(r.Context())
		if err != nil {
			s.logger.Debugf("debug api: relay client reservations: %v", err)
			jsonhttp.InternalServerError(w, err)
			return
		}
		resp.Held = append(resp.Held, rs...)
	}
	jsonhttp.OK(w, resp)
}
