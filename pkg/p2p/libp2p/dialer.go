// Copyright 2020 The Swarm Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package libp2p

import (
	"github.com/libp2p/go-libp2p"
	"github.com/libp2p/go-libp2p/core/host"
	libp2pquic "github.com/libp2p/go-libp2p/p2p/transport/quic"
	"github.com/libp2p/go-libp2p/p2p/transport/tcp"
)

// NewDialer constructs a host that does not listen and is only used to dial
// out, with a fresh identity. Dial-back probes use it so that the probed
// peer can not reuse an existing connection.
func NewDialer(disableQUIC bool) (host.Host, error) {
	opts := []libp2p.Option{
		libp2p.NoListenAddrs,
		libp2p.DisableRelay(),
		libp2p.DefaultSecurity,
		libp2p.DefaultMuxers,
		libp2p.Transport(tcp.NewTCPTransport),
	}
	if !disableQUIC {
		opts = append(opts, libp2p.Transport(libp2pquic.NewTransport))
	}
	return libp2p.New(opts...)
}
