// Copyright 2020 The Swarm Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package debugapi

import (
	"net/http"

	"github.com/ethersphere/beacon/pkg/jsonhttp"
)

type reachabilityResponse struct {
	Status  string `json:"status"`
	Address string `json:"address,omitempty"`
}

func (s *Service) reachabilityHandler(w http.ResponseWriter, r *http.Request) {
	if s.Reachability == nil {
		jsonhttp.NotFound(w, "reachability prober not running")
		return
	}
	status, addr, err := s.Reachability.StatusContext(r.Context())
	if err != nil {
		s.logger.Debugf("debug api: reachability: %v", err)
		jsonhttp.InternalServerError(w, err)
		return
	}
	resp := reachabilityResponse{
		Status: status.String(),
	}
	if addr != nil {
		resp.Address = addr.String()
	}
	jsonhttp.OK(w, resp)
}
