// Copyright 2020 The Swarm Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package debugapi_test

import (
	"bytes"
	"io"
	"net/http"
	"testing"

	"github.com/ethersphere/beacon"
	"github.com/ethersphere/beacon/pkg/debugapi"
	"github.com/ethersphere/beacon/pkg/jsonhttp/jsonhttptest"
)

func TestHealth(t *testing.T) {
	t.Parallel()

	testServer := newTestServer(t, testServerOptions{Basic: true})

	jsonhttptest.Request(t, testServer.Client, http.MethodGet, "/health", http.StatusOK,
		jsonhttptest.WithExpectedJSONResponse(debugapi.StatusResponse{
			Status:  "ok",
			Version: beacon.Version,
		}),
	)
}

func TestReadiness(t *testing.T) {
	t.Parallel()

	t.Run("not configured", func(t *testing.T) {
		t.Parallel()

		testServer := newTestServer(t, testServerOptions{Basic: true})
		jsonhttptest.Request(t, testServer.Client, http.MethodGet, "/readiness", http.StatusNotFound)
	})

	t.Run("configured", func(t *testing.T) {
		t.Parallel()

		testServer := newTestServer(t, testServerOptions{})
		jsonhttptest.Request(t, testServer.Client, http.MethodGet, "/readiness", http.StatusOK,
			jsonhttptest.WithExpectedJSONResponse(debugapi.StatusResponse{
				Status:  "ok",
				Version: beacon.Version,
			}),
		)
	})
}

func TestCORSHeaders(t *testing.T) {
	t.Parallel()

	testServer := newTestServer(t, testServerOptions{
		Basic:              true,
		CORSAllowedOrigins: []string{"http://example.com"},
	})

	for _, tc := range []struct {
		name   string
		origin string
		want   string
	}{
		{name: "allowed", origin: "http://example.com", want: "http://example.com"},
		{name: "not allowed", origin: "http://other.com"},
	} {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			jsonhttptest.Request(t, testServer.Client, http.MethodGet, "/health", http.StatusOK,
				jsonhttptest.WithRequestHeader("Origin", tc.origin),
				jsonhttptest.WithExpectedResponseHeader("Access-Control-Allow-Origin", tc.want),
			)
		})
	}
}

func TestMetrics(t *testing.T) {
	t.Parallel()

	testServer := newTestServer(t, testServerOptions{Basic: true})

	resp, err := testServer.Client.Get("/metrics")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("got status %d, want %d", resp.StatusCode, http.StatusOK)
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Contains(body, []byte("beacon_info")) {
		t.Fatal("metrics do not contain beacon_info")
	}
}
