// Copyright 2020 The Swarm Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package tracing_test

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/ethersphere/beacon/pkg/logging"
	"github.com/ethersphere/beacon/pkg/tracing"
	"github.com/opentracing/opentracing-go"
	"github.com/uber/jaeger-client-go"
)

func TestSpanFromHTTPHeaders(t *testing.T) {
	tracer, closer := newTracer(t)
	defer closer.Close()

	span, _, ctx := tracer.StartSpanFromContext(context.Background(), "some-operation", nil)
	defer span.Finish()

	headers := make(http.Header)
	if err := tracer.AddContextHTTPHeader(ctx, headers); err != nil {
		t.Fatal(err)
	}
	if headers.Get(tracing.TraceContextHeaderName) == "" {
		t.Fatalf("header %q not set", tracing.TraceContextHeaderName)
	}

	gotSpanContext, err := tracer.FromHTTPHeaders(headers)
	if err != nil {
		t.Fatal(err)
	}
	if fmt.Sprint(gotSpanContext) != fmt.Sprint(span.Context()) {
		t.Errorf("got span context %+v, want %+v", gotSpanContext, span.Context())
	}
}

func TestFromHTTPHeadersNotFound(t *testing.T) {
	tracer, closer := newTracer(t)
	defer closer.Close()

	if _, err := tracer.FromHTTPHeaders(make(http.Header)); !errors.Is(err, tracing.ErrContextNotFound) {
		t.Fatalf("got error %v, want %v", err, tracing.ErrContextNotFound)
	}
	ctx, err := tracer.WithContextFromHTTPHeaders(context.Background(), make(http.Header))
	if !errors.Is(err, tracing.ErrContextNotFound) {
		t.Fatalf("got error %v, want %v", err, tracing.ErrContextNotFound)
	}
	if tracing.FromContext(ctx) != nil {
		t.Fatal("got span context")
	}
}

func TestHTTPHandler(t *testing.T) {
	tracer, closer := newTracer(t)
	defer closer.Close()

	span, _, ctx := tracer.StartSpanFromContext(context.Background(), "client-operation", nil)
	defer span.Finish()

	var got opentracing.SpanContext
	h := tracer.HTTPHandler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = tracing.FromContext(r.Context())
	}))

	r := httptest.NewRequest(http.MethodGet, "/topology", nil)
	if err := tracer.AddContextHTTPHeader(ctx, r.Header); err != nil {
		t.Fatal(err)
	}
	h.ServeHTTP(httptest.NewRecorder(), r)
	if got == nil || fmt.Sprint(got) != fmt.Sprint(span.Context()) {
		t.Fatalf("got span context %v, want %v", got, span.Context())
	}

	got = nil
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/topology", nil))
	if got != nil {
		t.Fatalf("got span context %v without headers", got)
	}
}

func TestChildSpan(t *testing.T) {
	tracer, closer := newTracer(t)
	defer closer.Close()

	parent := tracer.StartSpan("holepunch-attempt")
	defer parent.Finish()

	child, _, _ := tracer.StartSpanFromContext(tracing.WithContext(context.Background(), parent.Context()), "holepunch-round", nil)
	defer child.Finish()

	pc := parent.Context().(jaeger.SpanContext)
	cc := child.Context().(jaeger.SpanContext)
	if cc.TraceID() != pc.TraceID() {
		t.Fatalf("got trace id %s, want %s", cc.TraceID(), pc.TraceID())
	}
	if cc.ParentID() != pc.SpanID() {
		t.Fatalf("got parent id %s, want %s", cc.ParentID(), pc.SpanID())
	}
}

func TestNilTracer(t *testing.T) {
	var tracer *tracing.Tracer

	span, logger, ctx := tracer.StartSpanFromContext(context.Background(), "some-operation", logging.New(io.Discard, 0))
	tracing.FinishSpan(span, errors.New("failed"))
	if logger == nil {
		t.Fatal("got nil logger")
	}
	if _, ok := logger.Data[tracing.LogField]; ok {
		t.Fatal("got trace id from a nil tracer")
	}
	if err := tracer.AddContextHTTPHeader(ctx, make(http.Header)); err != nil {
		t.Fatal(err)
	}
	tracer.StartSpan("some-operation").Finish()
}

func TestStartSpanFromContext_logger(t *testing.T) {
	tracer, closer := newTracer(t)
	defer closer.Close()

	span, logger, _ := tracer.StartSpanFromContext(context.Background(), "some-operation", logging.New(io.Discard, 0))
	defer span.Finish()

	wantTraceID := span.Context().(jaeger.SpanContext).TraceID()

	v, ok := logger.Data[tracing.LogField]
	if !ok {
		t.Fatalf("log field %q not found", tracing.LogField)
	}
	gotTraceID, ok := v.(string)
	if !ok {
		t.Fatalf("log field %q is not string", tracing.LogField)
	}
	if gotTraceID != wantTraceID.String() {
		t.Errorf("got trace id %q, want %q", gotTraceID, wantTraceID.String())
	}
}

func TestNewLoggerWithTraceID_nilLogger(t *testing.T) {
	tracer, closer := newTracer(t)
	defer closer.Close()

	span, _, ctx := tracer.StartSpanFromContext(context.Background(), "some-operation", nil)
	defer span.Finish()

	if logger := tracing.NewLoggerWithTraceID(ctx, nil); logger != nil {
		t.Error("logger is not nil")
	}
}

func newTracer(t *testing.T) (*tracing.Tracer, io.Closer) {
	t.Helper()

	tracer, closer, err := tracing.NewTracer(&tracing.Options{
		Enabled:     true,
		ServiceName: "test",
	})
	if err != nil {
		t.Fatal(err)
	}

	return tracer, closer
}
