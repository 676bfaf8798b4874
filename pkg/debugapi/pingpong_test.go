// Copyright 2020 The Swarm Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package debugapi_test

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/ethersphere/beacon/pkg/debugapi"
	"github.com/ethersphere/beacon/pkg/jsonhttp"
	"github.com/ethersphere/beacon/pkg/jsonhttp/jsonhttptest"
	"github.com/ethersphere/beacon/pkg/p2p"
	"github.com/ethersphere/beacon/pkg/pingpong"
	pingpongmock "github.com/ethersphere/beacon/pkg/pingpong/mock"
	"github.com/libp2p/go-libp2p/core/peer"
)

func TestPingpong(t *testing.T) {
	t.Parallel()

	rtt := time.Minute
	peerID := mustPeerID(t, "QmcgpsyWgH8Y8ajJz1Cu72KnS5uo2Aa2LpzU7kinSupNKC")
	relayedPeerID := mustPeerID(t, "QmQCU2EcMqAqQPR2i9bChDtGNJchTbq5TbXJJ16u19uLTa")
	unknownPeerID := mustPeerID(t, "QmNnooDu7bfjPFoTZYxMNLWUQJyrVwtbZg5gBMjTezGAJN")
	errorPeerID := mustPeerID(t, "QmaCpDMGvV2BGHeYERUEnRQAwe3N8SzbUtfsmvsqQLuvuJ")
	relayAddr := mustMultiaddr(t, "/ip4/1.2.3.4/tcp/1634/p2p/QmcgpsyWgH8Y8ajJz1Cu72KnS5uo2Aa2LpzU7kinSupNKC/p2p-circuit")
	testErr := errors.New("test error")

	pingpongService := pingpongmock.New(func(ctx context.Context, p peer.ID, msgs ...string) (pingpong.Result, error) {
		switch p {
		case errorPeerID:
			return pingpong.Result{}, testErr
		case relayedPeerID:
			return pingpong.Result{RTT: rtt, Relayed: true, Remote: relayAddr}, nil
		case peerID:
			return pingpong.Result{RTT: rtt}, nil
		}
		return pingpong.Result{}, p2p.ErrPeerNotFound
	})

	ts := newTestServer(t, testServerOptions{
		Options: debugapi.Options{
			Pingpong: pingpongService,
		},
	})

	t.Run("ok", func(t *testing.T) {
		t.Parallel()

		jsonhttptest.Request(t, ts.Client, http.MethodPost, "/pingpong/"+peerID.String(), http.StatusOK,
			jsonhttptest.WithExpectedJSONResponse(debugapi.PingpongResponse{
				RTT: rtt.String(),
			}),
		)
	})

	t.Run("relayed", func(t *testing.T) {
		t.Parallel()

		jsonhttptest.Request(t, ts.Client, http.MethodPost, "/pingpong/"+relayedPeerID.String(), http.StatusOK,
			jsonhttptest.WithExpectedJSONResponse(debugapi.PingpongResponse{
				RTT:     rtt.String(),
				Relayed: true,
				Remote:  relayAddr.String(),
			}),
		)
	})

	t.Run("peer not found", func(t *testing.T) {
		t.Parallel()

		jsonhttptest.Request(t, ts.Client, http.MethodPost, "/pingpong/"+unknownPeerID.String(), http.StatusNotFound,
			jsonhttptest.WithExpectedJSONResponse(jsonhttp.StatusResponse{
				Code:    http.StatusNotFound,
				Message: "peer not found",
			}),
		)
	})

	t.Run("invalid peer id", func(t *testing.T) {
		t.Parallel()

		jsonhttptest.Request(t, ts.Client, http.MethodPost, "/pingpong/invalid-address", http.StatusBadRequest,
			jsonhttptest.WithExpectedJSONResponse(jsonhttp.StatusResponse{
				Code:    http.StatusBadRequest,
				Message: "invalid peer id",
			}),
		)
	})

	t.Run("error", func(t *testing.T) {
		t.Parallel()

		jsonhttptest.Request(t, ts.Client, http.MethodPost, "/pingpong/"+errorPeerID.String(), http.StatusInternalServerError,
			jsonhttptest.WithExpectedJSONResponse(jsonhttp.StatusResponse{
				Code:    http.StatusInternalServerError,
				Message: http.StatusText(http.StatusInternalServerError), // do not leak internal error
			}),
		)
	})

	t.Run("get method not allowed", func(t *testing.T) {
		t.Parallel()

		jsonhttptest.Request(t, ts.Client, http.MethodGet, "/pingpong/"+peerID.String(), http.StatusMethodNotAllowed,
			jsonhttptest.WithExpectedJSONResponse(jsonhttp.StatusResponse{
				Code:    http.StatusMethodNotAllowed,
				Message: http.StatusText(http.StatusMethodNotAllowed),
			}),
		)
	})
}
