// Copyright 2020 The Swarm Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package relay

import (
	"context"

	"github.com/ethersphere/beacon/pkg/p2p"
	"github.com/ethersphere/beacon/pkg/p2p/protobuf"
	"github.com/libp2p/go-libp2p/core/peer"
	pbv2 "github.com/libp2p/go-libp2p/p2p/protocol/circuitv2/pb"
)

var (
	ErrNoReservation    = errNoReservation
	ErrPermissionDenied = errPermissionDenied
)

// DialCircuit opens a raw circuit to dst through the relay. The returned
// stream carries the bytes of the other end.
func DialCircuit(ctx context.Context, streamer p2p.Streamer, relay, dst peer.ID) (p2p.Stream, error) {
	s, err := streamer.NewStream(ctx, relay, protocolName, protocolVersion, hopStreamName)
	if err != nil {
		return nil, err
	}
	w, r := protobuf.NewWriterAndReader(s)
	if err := w.WriteMsgWithContext(ctx, protobuf.Proto(&pbv2.HopMessage{
		Type: pbv2.HopMessage_CONNECT.Enum(),
		Peer: peerToPB(peer.AddrInfo{ID: dst}),
	})); err != nil {
		_ = s.Reset()
		return nil, err
	}
	var resp pbv2.HopMessage
	if err := r.ReadMsgWithContext(ctx, protobuf.Proto(&resp)); err != nil {
		_ = s.Reset()
		return nil, err
	}
	if st := resp.GetStatus(); st != pbv2.Status_OK {
		_ = s.Reset()
		return nil, &StatusError{Status: st}
	}
	return s, nil
}
