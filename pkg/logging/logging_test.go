// Copyright 2020 The Swarm Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package logging_test

import (
	"bytes"
	"strings"
	"testing"

	"github.com/ethersphere/beacon/pkg/logging"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/sirupsen/logrus"
)

func TestLevels(t *testing.T) {
	var buf bytes.Buffer
	logger := logging.New(&buf, logrus.InfoLevel)

	logger.Debugf("hidden %d", 1)
	logger.Infof("shown %d", 2)
	logger.Errorf("failed %d", 3)

	out := buf.String()
	if strings.Contains(out, "hidden") {
		t.Errorf("debug message logged at info level: %q", out)
	}
	for _, want := range []string{"shown 2", "failed 3"} {
		if !strings.Contains(out, want) {
			t.Errorf("output %q does not contain %q", out, want)
		}
	}
}

func TestMetrics(t *testing.T) {
	var buf bytes.Buffer
	logger := logging.New(&buf, logrus.TraceLevel)

	logger.Error("e")
	logger.Warning("w")
	logger.Warning("w")
	logger.Trace("t")

	cs := logger.Metrics()
	if len(cs) != 5 {
		t.Fatalf("got %d collectors, want 5", len(cs))
	}

	// error, warning, info, debug, trace
	want := []float64{1, 2, 0, 0, 1}
	for i, c := range cs {
		if got := testutil.ToFloat64(c); got != want[i] {
			t.Errorf("collector %d: got %v, want %v", i, got, want[i])
		}
	}
}
