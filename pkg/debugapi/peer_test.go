// Copyright 2020 The Swarm Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package debugapi_test

import (
	"errors"
	"net/http"
	"testing"

	"github.com/ethersphere/beacon/pkg/core"
	"github.com/ethersphere/beacon/pkg/debugapi"
	"github.com/ethersphere/beacon/pkg/jsonhttp"
	"github.com/ethersphere/beacon/pkg/jsonhttp/jsonhttptest"
	"github.com/ethersphere/beacon/pkg/p2p"
	"github.com/libp2p/go-libp2p/core/peer"
	ma "github.com/multiformats/go-multiaddr"
)

func TestConnect(t *testing.T) {
	t.Parallel()

	underlay := "/ip4/127.0.0.1/tcp/1634/p2p/QmcgpsyWgH8Y8ajJz1Cu72KnS5uo2Aa2LpzU7kinSupNKC"
	errorUnderlay := "/ip4/127.0.0.1/tcp/1634/p2p/QmNnooDu7bfjPFoTZYxMNLWUQJyrVwtbZg5gBMjTezGAJN"
	testErr := errors.New("test error")

	testServer := newTestServer(t, testServerOptions{
		Options: debugapi.Options{
			Controller: &controllerMock{
				connectFunc: func(addr ma.Multiaddr) error {
					if addr.String() == errorUnderlay {
						return testErr
					}
					return nil
				},
			},
		},
	})

	t.Run("ok", func(t *testing.T) {
		t.Parallel()

		jsonhttptest.Request(t, testServer.Client, http.MethodPost, "/connect"+underlay, http.StatusOK,
			jsonhttptest.WithExpectedJSONResponse(debugapi.PeerConnectResponse{
				Address: mustPeerID(t, "QmcgpsyWgH8Y8ajJz1Cu72KnS5uo2Aa2LpzU7kinSupNKC"),
			}),
		)
	})

	t.Run("error", func(t *testing.T) {
		t.Parallel()

		jsonhttptest.Request(t, testServer.Client, http.MethodPost, "/connect"+errorUnderlay, http.StatusInternalServerError,
			jsonhttptest.WithExpectedJSONResponse(jsonhttp.StatusResponse{
				Code:    http.StatusInternalServerError,
				Message: testErr.Error(),
			}),
		)
	})

	t.Run("without peer id", func(t *testing.T) {
		t.Parallel()

		jsonhttptest.Request(t, testServer.Client, http.MethodPost, "/connect/ip4/127.0.0.1/tcp/1634", http.StatusBadRequest,
			jsonhttptest.WithExpectedJSONResponse(jsonhttp.StatusResponse{
				Code:    http.StatusBadRequest,
				Message: "address without peer id",
			}),
		)
	})

	t.Run("get method not allowed", func(t *testing.T) {
		t.Parallel()

		jsonhttptest.Request(t, testServer.Client, http.MethodGet, "/connect"+underlay, http.StatusMethodNotAllowed,
			jsonhttptest.WithExpectedJSONResponse(jsonhttp.StatusResponse{
				Code:    http.StatusMethodNotAllowed,
				Message: http.StatusText(http.StatusMethodNotAllowed),
			}),
		)
	})
}

func TestDisconnect(t *testing.T) {
	t.Parallel()

	connected := mustPeerID(t, "QmcgpsyWgH8Y8ajJz1Cu72KnS5uo2Aa2LpzU7kinSupNKC")
	unknown := mustPeerID(t, "QmNnooDu7bfjPFoTZYxMNLWUQJyrVwtbZg5gBMjTezGAJN")
	errorPeer := mustPeerID(t, "QmQCU2EcMqAqQPR2i9bChDtGNJchTbq5TbXJJ16u19uLTa")
	testErr := errors.New("test error")

	testServer := newTestServer(t, testServerOptions{
		Options: debugapi.Options{
			Controller: &controllerMock{
				disconnectFunc: func(p peer.ID) error {
					switch p {
					case connected:
						return nil
					case errorPeer:
						return testErr
					}
					return p2p.ErrPeerNotFound
				},
			},
		},
	})

	t.Run("ok", func(t *testing.T) {
		t.Parallel()

		jsonhttptest.Request(t, testServer.Client, http.MethodDelete, "/peers/"+connected.String(), http.StatusOK,
			jsonhttptest.WithExpectedJSONResponse(jsonhttp.StatusResponse{
				Code:    http.StatusOK,
				Message: http.StatusText(http.StatusOK),
			}),
		)
	})

	t.Run("unknown", func(t *testing.T) {
		t.Parallel()

		jsonhttptest.Request(t, testServer.Client, http.MethodDelete, "/peers/"+unknown.String(), http.StatusBadRequest,
			jsonhttptest.WithExpectedJSONResponse(jsonhttp.StatusResponse{
				Code:    http.StatusBadRequest,
				Message: "peer not found",
			}),
		)
	})

	t.Run("invalid peer id", func(t *testing.T) {
		t.Parallel()

		jsonhttptest.Request(t, testServer.Client, http.MethodDelete, "/peers/invalid-id", http.StatusBadRequest,
			jsonhttptest.WithExpectedJSONResponse(jsonhttp.StatusResponse{
				Code:    http.StatusBadRequest,
				Message: "invalid peer id",
			}),
		)
	})

	t.Run("error", func(t *testing.T) {
		t.Parallel()

		jsonhttptest.Request(t, testServer.Client, http.MethodDelete, "/peers/"+errorPeer.String(), http.StatusInternalServerError,
			jsonhttptest.WithExpectedJSONResponse(jsonhttp.StatusResponse{
				Code:    http.StatusInternalServerError,
				Message: testErr.Error(),
			}),
		)
	})
}

func TestPeers(t *testing.T) {
	t.Parallel()

	peers := []core.PeerInfo{
		{
			ID:     mustPeerID(t, "QmcgpsyWgH8Y8ajJz1Cu72KnS5uo2Aa2LpzU7kinSupNKC"),
			Addrs:  []ma.Multiaddr{mustMultiaddr(t, "/ip4/1.2.3.4/tcp/1634")},
			Direct: 1,
		},
		{
			ID:      mustPeerID(t, "QmNnooDu7bfjPFoTZYxMNLWUQJyrVwtbZg5gBMjTezGAJN"),
			Addrs:   []ma.Multiaddr{mustMultiaddr(t, "/ip4/1.2.3.4/tcp/1634/p2p/QmcgpsyWgH8Y8ajJz1Cu72KnS5uo2Aa2LpzU7kinSupNKC/p2p-circuit")},
			Relayed: 1,
		},
	}

	t.Run("ok", func(t *testing.T) {
		t.Parallel()

		testServer := newTestServer(t, testServerOptions{
			Options: debugapi.Options{
				Controller: &controllerMock{peers: peers},
			},
		})
		jsonhttptest.Request(t, testServer.Client, http.MethodGet, "/peers", http.StatusOK,
			jsonhttptest.WithExpectedJSONResponse(debugapi.PeersResponse{
				Peers: peers,
			}),
		)
	})

	t.Run("empty", func(t *testing.T) {
		t.Parallel()

		testServer := newTestServer(t, testServerOptions{
			Options: debugapi.Options{
				Controller: &controllerMock{},
			},
		})
		jsonhttptest.Request(t, testServer.Client, http.MethodGet, "/peers", http.StatusOK,
			jsonhttptest.WithExpectedResponse([]byte("{\"peers\":[]}\n\n")),
		)
	})
}
