// Copyright 2020 The Swarm Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package debugapi

import (
	"net/http"

	"github.com/ethersphere/beacon/pkg/jsonhttp"
)

type NodeMode uint

const (
	PeerMode NodeMode = iota
	BootMode
)

func (m NodeMode) String() string {
	switch m {
	case PeerMode:
		return "peer"
	case BootMode:
		return "boot"
	}
	return "unknown"
}

type nodeResponse struct {
	Mode         string `json:"mode"`
	RelayServer  bool   `json:"relayServer"`
	RelayClient  bool   `json:"relayClient"`
	Rendezvous   bool   `json:"rendezvous"`
	Reachability bool   `json:"reachability"`
	HolePunch    bool   `json:"holePunch"`
}

func (s *Service) nodeHandler(w http.ResponseWriter, _ *http.Request) {
	mode := PeerMode
	if s.BootnodeMode {
		mode = BootMode
	}
	jsonhttp.OK(w, nodeResponse{
		Mode:         mode.String(),
		RelayServer:  s.RelayServer != nil,
		RelayClient:  s.RelayClient != nil,
		Rendezvous:   s.RendezvousServer != nil || s.RendezvousClient != nil,
		Reachability: s.Reachability != nil,
		HolePunch:    s.HolePunch != nil,
	})
}
