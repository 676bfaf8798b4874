// Copyright 2020 The Swarm Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package debugapi_test

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"

	"github.com/ethersphere/beacon/pkg/core"
	"github.com/ethersphere/beacon/pkg/debugapi"
	"github.com/ethersphere/beacon/pkg/logging"
	"github.com/ethersphere/beacon/pkg/p2p"
	"github.com/ethersphere/beacon/pkg/tracing"
	"github.com/libp2p/go-libp2p/core/peer"
	ma "github.com/multiformats/go-multiaddr"
	"resenje.org/web"
)

type testServerOptions struct {
	PeerID             peer.ID
	CORSAllowedOrigins []string
	Tracer             *tracing.Tracer
	// Basic leaves the service without injected dependencies.
	Basic bool
	debugapi.Options
}

type testServer struct {
	Client  *http.Client
	Service *debugapi.Service
}

func newTestServer(t *testing.T, o testServerOptions) *testServer {
	t.Helper()

	s := debugapi.New(o.PeerID, logging.New(io.Discard, 0), o.Tracer, o.CORSAllowedOrigins)
	if !o.Basic {
		s.Configure(o.Options)
	}
	ts := httptest.NewServer(s)
	t.Cleanup(ts.Close)

	client := &http.Client{
		Transport: web.RoundTripperFunc(func(r *http.Request) (*http.Response, error) {
			u, err := url.Parse(ts.URL + r.URL.String())
			if err != nil {
				return nil, err
			}
			r.URL = u
			return ts.Client().Transport.RoundTrip(r)
		}),
	}
	return &testServer{
		Client:  client,
		Service: s,
	}
}

// controllerMock implements debugapi.Controller.
type controllerMock struct {
	connectFunc    func(ma.Multiaddr) error
	disconnectFunc func(peer.ID) error
	peers          []core.PeerInfo
	addrs          []ma.Multiaddr
	err            error
}

func (c *controllerMock) Connect(_ context.Context, addr ma.Multiaddr) error {
	if c.connectFunc == nil {
		return nil
	}
	return c.connectFunc(addr)
}

func (c *controllerMock) Disconnect(_ context.Context, p peer.ID) error {
	if c.disconnectFunc == nil {
		return p2p.ErrPeerNotFound
	}
	return c.disconnectFunc(p)
}

func (c *controllerMock) PeersInfo(context.Context) ([]core.PeerInfo, error) {
	return c.peers, c.err
}

func (c *controllerMock) ListenAddrs(context.Context) ([]ma.Multiaddr, error) {
	return c.addrs, c.err
}

func mustMultiaddr(t *testing.T, s string) ma.Multiaddr {
	t.Helper()

	a, err := ma.NewMultiaddr(s)
	if err != nil {
		t.Fatal(err)
	}
	return a
}

func mustPeerID(t *testing.T, s string) peer.ID {
	t.Helper()

	id, err := peer.Decode(s)
	if err != nil {
		t.Fatal(err)
	}
	return id
}
