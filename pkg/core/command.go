// Copyright 2020 The Swarm Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package core

import (
	"context"
	"fmt"

	"github.com/ethersphere/beacon/pkg/p2p"
	"github.com/libp2p/go-libp2p/core/peer"
	ma "github.com/multiformats/go-multiaddr"
)

// Command is an action requested from outside of the loop. Replies are sent
// on the channel carried by the command without blocking the loop. A reply
// that finds the channel full, or unbuffered with no reader, is dropped.
type Command interface {
	command()
}

// DialCommand dials the full /p2p address. The dial outcome is sent on
// Reply; dial failures are p2p.TransportError.
type DialCommand struct {
	Addr  ma.Multiaddr
	Reply chan<- error
}

// CloseCommand closes every connection to the peer.
type CloseCommand struct {
	Peer  peer.ID
	Reply chan<- error
}

// PeersInfoCommand lists the connected peers.
type PeersInfoCommand struct {
	Reply chan<- []PeerInfo
}

// ListenAddrsCommand lists the local announced addresses.
type ListenAddrsCommand struct {
	Reply chan<- []ma.Multiaddr
}

// InvokeCommand runs Fn on the loop goroutine. Fn may use the loop side
// methods of the Core.
type InvokeCommand struct {
	Fn func()
}

func (DialCommand) command()        {}
func (CloseCommand) command()       {}
func (PeersInfoCommand) command()   {}
func (ListenAddrsCommand) command() {}
func (InvokeCommand) command()      {}

// PeerInfo describes a connected peer.
type PeerInfo struct {
	ID      peer.ID        `json:"id"`
	Addrs   []ma.Multiaddr `json:"addresses"`
	Direct  int            `json:"direct"`
	Relayed int            `json:"relayed"`
}

// Dispatch enqueues a command for the loop. It blocks only until the loop
// accepts the command.
func (c *Core) Dispatch(ctx context.Context, cmd Command) error {
	select {
	case c.commands <- cmd:
		return nil
	case <-c.quit:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Call runs fn on the loop goroutine and waits for it to return.
func (c *Core) Call(ctx context.Context, fn func()) error {
	done := make(chan struct{})
	if err := c.Dispatch(ctx, InvokeCommand{Fn: func() {
		defer close(done)
		fn()
	}}); err != nil {
		return err
	}
	select {
	case <-done:
		return nil
	case <-c.quit:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Connect dials the address through the loop and waits for the outcome.
func (c *Core) Connect(ctx context.Context, addr ma.Multiaddr) error {
	reply := make(chan error, 1)
	if err := c.Dispatch(ctx, DialCommand{Addr: addr, Reply: reply}); err != nil {
		return err
	}
	select {
	case err := <-reply:
		return err
	case <-c.quit:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// PeersInfo returns the connected peers as seen by the loop.
func (c *Core) PeersInfo(ctx context.Context) ([]PeerInfo, error) {
	reply := make(chan []PeerInfo, 1)
	if err := c.Dispatch(ctx, PeersInfoCommand{Reply: reply}); err != nil {
		return nil, err
	}
	select {
	case p := <-reply:
		return p, nil
	case <-c.quit:
		return nil, ErrClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Disconnect closes every connection to the peer. It returns
// p2p.ErrPeerNotFound when the peer is not connected.
func (c *Core) Disconnect(ctx context.Context, p peer.ID) error {
	reply := make(chan error, 1)
	if err := c.Dispatch(ctx, CloseCommand{Peer: p, Reply: reply}); err != nil {
		return err
	}
	select {
	case err := <-reply:
		return err
	case <-c.quit:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// ListenAddrs returns the addresses the host announces.
func (c *Core) ListenAddrs(ctx context.Context) ([]ma.Multiaddr, error) {
	reply := make(chan []ma.Multiaddr, 1)
	if err := c.Dispatch(ctx, ListenAddrsCommand{Reply: reply}); err != nil {
		return nil, err
	}
	select {
	case addrs := <-reply:
		return addrs, nil
	case <-c.quit:
		return nil, ErrClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Observe handles a connection event that was not reported by the host, as
// for transports that do not run on a libp2p host. Only ConnectionEstablished
// and ConnectionClosed are accepted.
func (c *Core) Observe(ctx context.Context, ev Event) error {
	switch ev.(type) {
	case ConnectionEstablished, ConnectionClosed:
	default:
		return fmt.Errorf("core: observe %T", ev)
	}
	return c.Call(ctx, func() { c.handle(ev) })
}

func (c *Core) command(cmd Command) {
	c.metrics.CommandCount.Inc()

	switch cmd := cmd.(type) {
	case DialCommand:
		info, err := peer.AddrInfoFromP2pAddr(cmd.Addr)
		if err != nil {
			c.reply(cmd, trySend(cmd.Reply, fmt.Errorf("addr from p2p: %w", err)))
			return
		}
		if c.host == nil {
			c.reply(cmd, trySend(cmd.Reply, p2p.NewTransportError(errNoHost)))
			return
		}
		c.wg.Add(1)
		go func() {
			defer c.wg.Done()
			err := c.host.Connect(c.ctx, *info)
			if err != nil {
				err = p2p.NewTransportError(err)
			}
			// off the loop, the caller is waited for until the core closes
			select {
			case cmd.Reply <- err:
			case <-c.quit:
			}
		}()
	case CloseCommand:
		if _, ok := c.peerConns[cmd.Peer]; !ok {
			c.reply(cmd, trySend(cmd.Reply, p2p.ErrPeerNotFound))
			return
		}
		c.ClosePeer(cmd.Peer)
		c.reply(cmd, trySend(cmd.Reply, nil))
	case PeersInfoCommand:
		c.reply(cmd, trySend(cmd.Reply, c.peersInfo()))
	case ListenAddrsCommand:
		var addrs []ma.Multiaddr
		if c.host != nil {
			addrs = c.host.Addrs()
		}
		c.reply(cmd, trySend(cmd.Reply, addrs))
	case InvokeCommand:
		cmd.Fn()
	}
}

func (c *Core) reply(cmd Command, sent bool) {
	if !sent {
		c.metrics.DroppedReplyCount.Inc()
		c.logger.Debugf("core: dropped the reply to %T, no reader", cmd)
	}
}

// trySend sends v on ch if it can do so without blocking.
func trySend[T any](ch chan<- T, v T) bool {
	select {
	case ch <- v:
		return true
	default:
		return false
	}
}
