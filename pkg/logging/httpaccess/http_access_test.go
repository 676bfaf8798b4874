// Copyright 2020 The Swarm Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package httpaccess_test

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/ethersphere/beacon/pkg/logging"
	"github.com/ethersphere/beacon/pkg/logging/httpaccess"
	"github.com/ethersphere/beacon/pkg/tracing"
	"github.com/sirupsen/logrus"
	"github.com/uber/jaeger-client-go"
	"resenje.org/web"
)

func TestHTTPAccessLogHandler(t *testing.T) {
	t.Parallel()

	for _, tc := range []struct {
		name    string
		handler http.Handler
		want    []string
	}{
		{
			name: "logged",
			handler: http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusNotFound)
			}),
			want: []string{"access", "method=GET", "status=404", "uri=/peers", "request-id=abc"},
		},
		{
			name: "default status",
			handler: http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				_, _ = w.Write([]byte("ok"))
			}),
			want: []string{"status=200", "size=2"},
		},
		{
			name: "suppressed",
			handler: web.ChainHandlers(
				httpaccess.SetAccessLogLevelHandler(0),
				web.FinalHandlerFunc(func(w http.ResponseWriter, r *http.Request) {}),
			),
		},
	} {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			var buf bytes.Buffer
			logger := logging.New(&buf, logrus.InfoLevel)
			h := httpaccess.NewHTTPAccessLogHandler(logger, logrus.InfoLevel, nil, "access")(tc.handler)

			r := httptest.NewRequest(http.MethodGet, "/peers", nil)
			r.Header.Set("X-Request-Id", "abc")
			h.ServeHTTP(httptest.NewRecorder(), r)

			got := buf.String()
			if tc.want == nil {
				if got != "" {
					t.Fatalf("got log %q, want none", got)
				}
				return
			}
			for _, w := range tc.want {
				if !strings.Contains(got, w) {
					t.Errorf("log %q does not contain %q", got, w)
				}
			}
		})
	}
}

func TestHTTPAccessLogHandlerTraceID(t *testing.T) {
	t.Parallel()

	tracer, closer, err := tracing.NewTracer(&tracing.Options{Enabled: true, ServiceName: "test"})
	if err != nil {
		t.Fatal(err)
	}
	defer closer.Close()

	span, _, ctx := tracer.StartSpanFromContext(context.Background(), "debug-api-call", nil)
	defer span.Finish()

	var buf bytes.Buffer
	logger := logging.New(&buf, logrus.InfoLevel)
	h := httpaccess.NewHTTPAccessLogHandler(logger, logrus.InfoLevel, tracer, "access")(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))

	r := httptest.NewRequest(http.MethodGet, "/topology", nil)
	if err := tracer.AddContextHTTPHeader(ctx, r.Header); err != nil {
		t.Fatal(err)
	}
	h.ServeHTTP(httptest.NewRecorder(), r)

	want := tracing.LogField + "=" + span.Context().(jaeger.SpanContext).TraceID().String()
	if got := buf.String(); !strings.Contains(got, want) {
		t.Fatalf("log %q does not contain %q", got, want)
	}
}
