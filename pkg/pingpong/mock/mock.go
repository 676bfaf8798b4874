// Copyright 2020 The Swarm Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package mock

import (
	"context"

	"github.com/ethersphere/beacon/pkg/pingpong"
	"github.com/libp2p/go-libp2p/core/peer"
)

type Service struct {
	pingFunc func(ctx context.Context, p peer.ID, msgs ...string) (pingpong.Result, error)
}

func New(pingFunc func(ctx context.Context, p peer.ID, msgs ...string) (pingpong.Result, error)) *Service {
	return &Service{pingFunc: pingFunc}
}

func (s *Service) Ping(ctx context.Context, p peer.ID, msgs ...string) (pingpong.Result, error) {
	return s.pingFunc(ctx, p, msgs...)
}
