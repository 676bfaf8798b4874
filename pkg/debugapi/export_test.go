// Copyright 2020 The Swarm Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package debugapi

type (
	StatusResponse            = statusResponse
	AddressesResponse         = addressesResponse
	PeerConnectResponse       = peerConnectResponse
	PeersResponse             = peersResponse
	PingpongResponse          = pingpongResponse
	DiscoveryResponse         = discoveryResponse
	LookupResponse            = lookupResponse
	ReachabilityResponse      = reachabilityResponse
	ReservationsResponse      = reservationsResponse
	RendezvousResponse        = rendezvousResponse
	HolePunchAttempt          = holePunchAttempt
	HolePunchAttemptsResponse = holePunchAttemptsResponse
	NodeResponse              = nodeResponse
)
