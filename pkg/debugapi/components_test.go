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
	"github.com/ethersphere/beacon/pkg/holepunch"
	"github.com/ethersphere/beacon/pkg/jsonhttp"
	"github.com/ethersphere/beacon/pkg/jsonhttp/jsonhttptest"
	"github.com/ethersphere/beacon/pkg/p2p"
	"github.com/ethersphere/beacon/pkg/relay"
	"github.com/ethersphere/beacon/pkg/rendezvous"
	"github.com/ethersphere/beacon/pkg/swarm"
	"github.com/ethersphere/beacon/pkg/topology"
	"github.com/ethersphere/beacon/pkg/tracing"
	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/libp2p/go-libp2p/core/protocol"
	ma "github.com/multiformats/go-multiaddr"
	"github.com/uber/jaeger-client-go"
)

type topologyMock struct {
	snapshot   topology.Snapshot
	lookupFunc func(context.Context, swarm.Key) ([]peer.AddrInfo, error)
}

func (m topologyMock) SnapshotContext(context.Context) (topology.Snapshot, error) {
	return m.snapshot, nil
}

func (m topologyMock) LookupContext(ctx context.Context, target swarm.Key) ([]peer.AddrInfo, error) {
	return m.lookupFunc(ctx, target)
}

type discoveryMock map[protocol.ID]int

func (m discoveryMock) Snapshot(context.Context) (map[protocol.ID]int, error) {
	return m, nil
}

type reachabilityMock struct {
	status p2p.ReachabilityStatus
	addr   ma.Multiaddr
}

func (m reachabilityMock) StatusContext(context.Context) (p2p.ReachabilityStatus, ma.Multiaddr, error) {
	return m.status, m.addr, nil
}

type reservationsMock []relay.Reservation

func (m reservationsMock) ReservationsContext(context.Context) ([]relay.Reservation, error) {
	return m, nil
}

type registryMock []rendezvous.Registration

func (m registryMock) RegistrationsContext(context.Context) ([]rendezvous.Registration, error) {
	return m, nil
}

type rendezvousClientMock map[peer.ID][]string

func (m rendezvousClientMock) RegistrationsContext(context.Context) (map[peer.ID][]string, error) {
	return m, nil
}

type holePuncherMock struct {
	attempts  []holepunch.Attempt
	punchFunc func(peer.ID) error
}

func (m holePuncherMock) AttemptsContext(context.Context) ([]holepunch.Attempt, error) {
	return m.attempts, nil
}

func (m holePuncherMock) PunchContext(_ context.Context, p peer.ID) error {
	return m.punchFunc(p)
}

func TestNotRunning(t *testing.T) {
	t.Parallel()

	testServer := newTestServer(t, testServerOptions{})

	for _, tc := range []struct {
		method, url, message string
	}{
		{http.MethodGet, "/topology", "topology not running"},
		{http.MethodGet, "/lookup/ca1e9f3938cc1425c6061b96ad9eb93e134dfe8734ad490164ef20af9d1cf59c", "topology not running"},
		{http.MethodGet, "/discovery", "discovery not running"},
		{http.MethodGet, "/reachability", "reachability prober not running"},
		{http.MethodGet, "/holepunch", "hole punching not running"},
		{http.MethodPost, "/holepunch/QmcgpsyWgH8Y8ajJz1Cu72KnS5uo2Aa2LpzU7kinSupNKC", "hole punching not running"},
	} {
		tc := tc
		t.Run(tc.url, func(t *testing.T) {
			t.Parallel()

			jsonhttptest.Request(t, testServer.Client, tc.method, tc.url, http.StatusNotFound,
				jsonhttptest.WithExpectedJSONResponse(jsonhttp.StatusResponse{
					Code:    http.StatusNotFound,
					Message: tc.message,
				}),
			)
		})
	}
}

func TestTopology(t *testing.T) {
	t.Parallel()

	snapshot := topology.Snapshot{
		Base:       swarm.MustParseHexKey("ca1e9f3938cc1425c6061b96ad9eb93e134dfe8734ad490164ef20af9d1cf59c"),
		Timestamp:  time.Date(2020, 6, 1, 12, 0, 0, 0, time.UTC),
		Population: 3,
		Connected:  1,
		Lookups:    2,
		Bins:       []topology.BinInfo{},
	}
	testServer := newTestServer(t, testServerOptions{
		Options: debugapi.Options{
			Topology: topologyMock{snapshot: snapshot},
		},
	})

	jsonhttptest.Request(t, testServer.Client, http.MethodGet, "/topology", http.StatusOK,
		jsonhttptest.WithExpectedJSONResponse(snapshot),
	)
}

func TestLookup(t *testing.T) {
	t.Parallel()

	target := swarm.MustParseHexKey("ca1e9f3938cc1425c6061b96ad9eb93e134dfe8734ad490164ef20af9d1cf59c")
	missing := swarm.MustParseHexKey("0000000000000000000000000000000000000000000000000000000000000001")
	found := []peer.AddrInfo{{
		ID:    mustPeerID(t, "QmcgpsyWgH8Y8ajJz1Cu72KnS5uo2Aa2LpzU7kinSupNKC"),
		Addrs: []ma.Multiaddr{mustMultiaddr(t, "/ip4/1.2.3.4/tcp/1634")},
	}}

	tracer, closer, err := tracing.NewTracer(&tracing.Options{
		Enabled:     true,
		ServiceName: "test",
	})
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = closer.Close() })

	span := tracer.StartSpan("client")
	defer span.Finish()
	traceID := span.Context().(jaeger.SpanContext).TraceID()
	header := make(http.Header)
	if err := tracer.AddContextHTTPHeader(tracing.WithContext(context.Background(), span.Context()), header); err != nil {
		t.Fatal(err)
	}

	traced := make(chan jaeger.TraceID, 1)
	testServer := newTestServer(t, testServerOptions{
		Tracer: tracer,
		Options: debugapi.Options{
			Topology: topologyMock{
				lookupFunc: func(ctx context.Context, key swarm.Key) ([]peer.AddrInfo, error) {
					if sc, ok := tracing.FromContext(ctx).(jaeger.SpanContext); ok {
						traced <- sc.TraceID()
					}
					if key.Equal(target) {
						return found, nil
					}
					return nil, topology.ErrNotFound
				},
			},
		},
	})

	t.Run("found", func(t *testing.T) {
		jsonhttptest.Request(t, testServer.Client, http.MethodGet, "/lookup/"+target.String(), http.StatusOK,
			jsonhttptest.WithRequestHeader(tracing.TraceContextHeaderName, header.Get(tracing.TraceContextHeaderName)),
			jsonhttptest.WithExpectedJSONResponse(debugapi.LookupResponse{
				Peers: found,
			}),
		)
		select {
		case got := <-traced:
			if got != traceID {
				t.Errorf("got trace id %s, want %s", got, traceID)
			}
		default:
			t.Fatal("lookup did not continue the trace of the request")
		}
	})

	t.Run("not found", func(t *testing.T) {
		jsonhttptest.Request(t, testServer.Client, http.MethodGet, "/lookup/"+missing.String(), http.StatusNotFound,
			jsonhttptest.WithExpectedJSONResponse(jsonhttp.StatusResponse{
				Code:    http.StatusNotFound,
				Message: topology.ErrNotFound.Error(),
			}),
		)
		select {
		case <-traced:
			t.Fatal("untraced request carried a trace")
		default:
		}
	})

	t.Run("invalid key", func(t *testing.T) {
		jsonhttptest.Request(t, testServer.Client, http.MethodGet, "/lookup/invalid", http.StatusBadRequest,
			jsonhttptest.WithExpectedJSONResponse(jsonhttp.StatusResponse{
				Code:    http.StatusBadRequest,
				Message: "invalid key",
			}),
		)
	})
}

func TestDiscovery(t *testing.T) {
	t.Parallel()

	protocols := map[protocol.ID]int{
		"/beacon/kademlia/1.0.0":          4,
		"/libp2p/dcutr":                   2,
		"/libp2p/autonat/1.0.0":           1,
		"/rendezvous/1.0.0":               0,
		"/libp2p/circuit/relay/0.2.0/hop": 1,
	}
	testServer := newTestServer(t, testServerOptions{
		Options: debugapi.Options{
			Discovery: discoveryMock(protocols),
		},
	})

	jsonhttptest.Request(t, testServer.Client, http.MethodGet, "/discovery", http.StatusOK,
		jsonhttptest.WithExpectedJSONResponse(debugapi.DiscoveryResponse{
			Protocols: protocols,
		}),
	)
}

func TestReachability(t *testing.T) {
	t.Parallel()

	t.Run("public", func(t *testing.T) {
		t.Parallel()

		addr := mustMultiaddr(t, "/ip4/1.2.3.4/tcp/1634")
		testServer := newTestServer(t, testServerOptions{
			Options: debugapi.Options{
				Reachability: reachabilityMock{status: p2p.ReachabilityStatusPublic, addr: addr},
			},
		})
		jsonhttptest.Request(t, testServer.Client, http.MethodGet, "/reachability", http.StatusOK,
			jsonhttptest.WithExpectedJSONResponse(debugapi.ReachabilityResponse{
				Status:  p2p.ReachabilityStatusPublic.String(),
				Address: addr.String(),
			}),
		)
	})

	t.Run("unknown", func(t *testing.T) {
		t.Parallel()

		testServer := newTestServer(t, testServerOptions{
			Options: debugapi.Options{
				Reachability: reachabilityMock{status: p2p.ReachabilityStatusUnknown},
			},
		})
		jsonhttptest.Request(t, testServer.Client, http.MethodGet, "/reachability", http.StatusOK,
			jsonhttptest.WithExpectedJSONResponse(debugapi.ReachabilityResponse{
				Status: p2p.ReachabilityStatusUnknown.String(),
			}),
		)
	})
}

func TestReservations(t *testing.T) {
	t.Parallel()

	relayID := mustPeerID(t, "QmcgpsyWgH8Y8ajJz1Cu72KnS5uo2Aa2LpzU7kinSupNKC")
	peerID := mustPeerID(t, "QmNnooDu7bfjPFoTZYxMNLWUQJyrVwtbZg5gBMjTezGAJN")
	expiry := time.Date(2020, 6, 1, 13, 0, 0, 0, time.UTC)
	granted := []relay.Reservation{{
		Relay:  relayID,
		Peer:   peerID,
		Expiry: expiry,
		Addrs:  []ma.Multiaddr{mustMultiaddr(t, "/ip4/1.2.3.4/tcp/1634")},
	}}

	t.Run("server", func(t *testing.T) {
		t.Parallel()

		testServer := newTestServer(t, testServerOptions{
			Options: debugapi.Options{
				RelayServer: reservationsMock(granted),
			},
		})
		jsonhttptest.Request(t, testServer.Client, http.MethodGet, "/reservations", http.StatusOK,
			jsonhttptest.WithExpectedJSONResponse(debugapi.ReservationsResponse{
				Granted: granted,
				Held:    []relay.Reservation{},
			}),
		)
	})

	t.Run("none", func(t *testing.T) {
		t.Parallel()

		testServer := newTestServer(t, testServerOptions{})
		jsonhttptest.Request(t, testServer.Client, http.MethodGet, "/reservations", http.StatusOK,
			jsonhttptest.WithExpectedResponse([]byte("{\"granted\":[],\"held\":[]}\n\n")),
		)
	})
}

func TestRendezvous(t *testing.T) {
	t.Parallel()

	point := mustPeerID(t, "QmcgpsyWgH8Y8ajJz1Cu72KnS5uo2Aa2LpzU7kinSupNKC")
	registrations := []rendezvous.Registration{{
		Namespace: "beacon",
		Peer:      mustPeerID(t, "QmNnooDu7bfjPFoTZYxMNLWUQJyrVwtbZg5gBMjTezGAJN"),
		Addrs:     []ma.Multiaddr{mustMultiaddr(t, "/ip4/1.2.3.4/tcp/1634")},
		TTL:       2 * time.Hour,
		Expiry:    time.Date(2020, 6, 1, 14, 0, 0, 0, time.UTC),
	}}
	namespaces := map[peer.ID][]string{
		point: {"beacon", "dcutr"},
	}

	testServer := newTestServer(t, testServerOptions{
		Options: debugapi.Options{
			RendezvousServer: registryMock(registrations),
			RendezvousClient: rendezvousClientMock(namespaces),
		},
	})

	jsonhttptest.Request(t, testServer.Client, http.MethodGet, "/rendezvous", http.StatusOK,
		jsonhttptest.WithExpectedJSONResponse(debugapi.RendezvousResponse{
			Registrations: registrations,
			Namespaces:    namespaces,
		}),
	)
}

func TestHolePunch(t *testing.T) {
	t.Parallel()

	initiator := mustPeerID(t, "QmcgpsyWgH8Y8ajJz1Cu72KnS5uo2Aa2LpzU7kinSupNKC")
	responder := mustPeerID(t, "QmNnooDu7bfjPFoTZYxMNLWUQJyrVwtbZg5gBMjTezGAJN")
	busy := mustPeerID(t, "QmQCU2EcMqAqQPR2i9bChDtGNJchTbq5TbXJJ16u19uLTa")
	started := time.Date(2020, 6, 1, 12, 0, 0, 0, time.UTC)
	localAddrs := []ma.Multiaddr{mustMultiaddr(t, "/ip4/1.2.3.4/tcp/1634")}
	remoteAddrs := []ma.Multiaddr{mustMultiaddr(t, "/ip4/5.6.7.8/udp/1634/quic-v1")}
	errBusy := errors.New("attempt in progress")

	testServer := newTestServer(t, testServerOptions{
		Options: debugapi.Options{
			HolePunch: holePuncherMock{
				attempts: []holepunch.Attempt{{
					Initiator:   initiator,
					Responder:   responder,
					Round:       2,
					LocalAddrs:  localAddrs,
					RemoteAddrs: remoteAddrs,
					RTT:         40 * time.Millisecond,
					State:       holepunch.StateSucceeded,
					Started:     started,
				}},
				punchFunc: func(p peer.ID) error {
					if p == busy {
						return errBusy
					}
					return nil
				},
			},
		},
	})

	t.Run("attempts", func(t *testing.T) {
		t.Parallel()

		jsonhttptest.Request(t, testServer.Client, http.MethodGet, "/holepunch", http.StatusOK,
			jsonhttptest.WithExpectedJSONResponse(debugapi.HolePunchAttemptsResponse{
				Attempts: []debugapi.HolePunchAttempt{{
					Initiator:   initiator,
					Responder:   responder,
					State:       "succeeded",
					Round:       2,
					RTT:         "40ms",
					LocalAddrs:  localAddrs,
					RemoteAddrs: remoteAddrs,
					Started:     started,
				}},
			}),
		)
	})

	t.Run("punch", func(t *testing.T) {
		t.Parallel()

		jsonhttptest.Request(t, testServer.Client, http.MethodPost, "/holepunch/"+responder.String(), http.StatusCreated,
			jsonhttptest.WithExpectedJSONResponse(jsonhttp.StatusResponse{
				Code:    http.StatusCreated,
				Message: http.StatusText(http.StatusCreated),
			}),
		)
	})

	t.Run("conflict", func(t *testing.T) {
		t.Parallel()

		jsonhttptest.Request(t, testServer.Client, http.MethodPost, "/holepunch/"+busy.String(), http.StatusConflict,
			jsonhttptest.WithExpectedJSONResponse(jsonhttp.StatusResponse{
				Code:    http.StatusConflict,
				Message: errBusy.Error(),
			}),
		)
	})

	t.Run("invalid peer id", func(t *testing.T) {
		t.Parallel()

		jsonhttptest.Request(t, testServer.Client, http.MethodPost, "/holepunch/invalid", http.StatusBadRequest,
			jsonhttptest.WithExpectedJSONResponse(jsonhttp.StatusResponse{
				Code:    http.StatusBadRequest,
				Message: "invalid peer id",
			}),
		)
	})
}

func TestNode(t *testing.T) {
	t.Parallel()

	t.Run("boot", func(t *testing.T) {
		t.Parallel()

		testServer := newTestServer(t, testServerOptions{
			Options: debugapi.Options{
				RelayServer:      reservationsMock(nil),
				RendezvousServer: registryMock(nil),
				BootnodeMode:     true,
			},
		})
		jsonhttptest.Request(t, testServer.Client, http.MethodGet, "/node", http.StatusOK,
			jsonhttptest.WithExpectedJSONResponse(debugapi.NodeResponse{
				Mode:        debugapi.BootMode.String(),
				RelayServer: true,
				Rendezvous:  true,
			}),
		)
	})

	t.Run("peer", func(t *testing.T) {
		t.Parallel()

		testServer := newTestServer(t, testServerOptions{
			Options: debugapi.Options{
				RelayClient:  reservationsMock(nil),
				Reachability: reachabilityMock{},
				HolePunch:    holePuncherMock{},
			},
		})
		jsonhttptest.Request(t, testServer.Client, http.MethodGet, "/node", http.StatusOK,
			jsonhttptest.WithExpectedJSONResponse(debugapi.NodeResponse{
				Mode:         debugapi.PeerMode.String(),
				RelayClient:  true,
				Reachability: true,
				HolePunch:    true,
			}),
		)
	})
}
