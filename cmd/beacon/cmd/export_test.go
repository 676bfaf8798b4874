// Copyright 2020 The Swarm Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package cmd

import (
	"io"

	"github.com/ethersphere/beacon/cmd/internal/terminal"
	"github.com/libp2p/go-libp2p/core/peer"
	ma "github.com/multiformats/go-multiaddr"
)

type (
	Command = command
	Option  = option
)

var (
	NewCommand       = newCommand
	ParseDCUtRTarget = parseDCUtRTarget
	FormatEvent      = formatEvent

	ErrUnknownMode        = errUnknownMode
	ErrMissingRelay       = errMissingRelay
	ErrRelayWithoutPeerID = errRelayWithoutPeerID
	ErrMissingRemotePeer  = errMissingRemotePeer
	ErrMissingDataDir     = errMissingDataDir

	// avoid unused lint errors until the functions are used
	_ = WithCfgFile
	_ = WithInput
	_ = WithErrorOutput
)

func (t dcutrTarget) Mode() string        { return t.mode }
func (t dcutrTarget) Relay() ma.Multiaddr { return t.relay }
func (t dcutrTarget) Remote() peer.ID     { return t.remote }

func (t dcutrTarget) CircuitAddr() (ma.Multiaddr, error) { return t.circuitAddr() }

func WithCfgFile(f string) func(c *Command) {
	return func(c *Command) {
		c.cfgFile = f
	}
}

func WithHomeDir(dir string) func(c *Command) {
	return func(c *Command) {
		c.homeDir = dir
	}
}

func WithArgs(a ...string) func(c *Command) {
	return func(c *Command) {
		c.root.SetArgs(a)
	}
}

func WithInput(r io.Reader) func(c *Command) {
	return func(c *Command) {
		c.root.SetIn(r)
	}
}

func WithOutput(w io.Writer) func(c *Command) {
	return func(c *Command) {
		c.root.SetOut(w)
	}
}

func WithErrorOutput(w io.Writer) func(c *Command) {
	return func(c *Command) {
		c.root.SetErr(w)
	}
}

func WithPasswordReader(r terminal.PasswordReader) func(c *Command) {
	return func(c *Command) {
		c.passwordReader = r
	}
}
