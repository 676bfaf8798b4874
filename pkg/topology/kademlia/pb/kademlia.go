// Copyright 2020 The Swarm Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package pb holds the kademlia wire messages. The field numbers follow the
// libp2p kad-dht schema so the messages stay readable by common tooling.
package pb

import (
	"errors"
	"fmt"

	"google.golang.org/protobuf/encoding/protowire"
)

type MessageType int32

const (
	MessageTypePutValue    MessageType = 0
	MessageTypeGetValue    MessageType = 1
	MessageTypeAddProvider MessageType = 2
	MessageTypeGetProvider MessageType = 3
	MessageTypeFindNode    MessageType = 4
	MessageTypePing        MessageType = 5
)

func (t MessageType) String() string {
	switch t {
	case MessageTypePutValue:
		return "PUT_VALUE"
	case MessageTypeGetValue:
		return "GET_VALUE"
	case MessageTypeAddProvider:
		return "ADD_PROVIDER"
	case MessageTypeGetProvider:
		return "GET_PROVIDERS"
	case MessageTypeFindNode:
		return "FIND_NODE"
	case MessageTypePing:
		return "PING"
	}
	return fmt.Sprintf("MessageType(%d)", int32(t))
}

type ConnectionType int32

const (
	NotConnected  ConnectionType = 0
	Connected     ConnectionType = 1
	CanConnect    ConnectionType = 2
	CannotConnect ConnectionType = 3
)

// Peer is a peer id with its addresses in binary multiaddr form.
type Peer struct {
	ID         []byte
	Addrs      [][]byte
	Connection ConnectionType
}

type Message struct {
	Type          MessageType
	Key           []byte
	CloserPeers   []*Peer
	ProviderPeers []*Peer
}

var errMalformed = errors.New("malformed message")

func (m *Message) Marshal() ([]byte, error) {
	var b []byte
	b = protowire.AppendTag(b, 1, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(m.Type))
	if len(m.Key) > 0 {
		b = protowire.AppendTag(b, 2, protowire.BytesType)
		b = protowire.AppendBytes(b, m.Key)
	}
	for _, p := range m.CloserPeers {
		b = protowire.AppendTag(b, 8, protowire.BytesType)
		b = protowire.AppendBytes(b, p.marshal())
	}
	for _, p := range m.ProviderPeers {
		b = protowire.AppendTag(b, 9, protowire.BytesType)
		b = protowire.AppendBytes(b, p.marshal())
	}
	return b, nil
}

func (m *Message) Unmarshal(b []byte) error {
	*m = Message{}
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return protowire.ParseError(n)
		}
		b = b[n:]

		switch {
		case num == 1 && typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return protowire.ParseError(n)
			}
			m.Type = MessageType(v)
			b = b[n:]
		case num == 2 && typ == protowire.BytesType:
			v, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return protowire.ParseError(n)
			}
			m.Key = append([]byte(nil), v...)
			b = b[n:]
		case (num == 8 || num == 9) && typ == protowire.BytesType:
			v, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return protowire.ParseError(n)
			}
			p := new(Peer)
			if err := p.unmarshal(v); err != nil {
				return err
			}
			if num == 8 {
				m.CloserPeers = append(m.CloserPeers, p)
			} else {
				m.ProviderPeers = append(m.ProviderPeers, p)
			}
			b = b[n:]
		default:
			n := protowire.ConsumeFieldValue(num, typ, b)
			if n < 0 {
				return protowire.ParseError(n)
			}
			b = b[n:]
		}
	}
	return nil
}

func (p *Peer) marshal() []byte {
	var b []byte
	b = protowire.AppendTag(b, 1, protowire.BytesType)
	b = protowire.AppendBytes(b, p.ID)
	for _, a := range p.Addrs {
		b = protowire.AppendTag(b, 2, protowire.BytesType)
		b = protowire.AppendBytes(b, a)
	}
	if p.Connection != NotConnected {
		b = protowire.AppendTag(b, 3, protowire.VarintType)
		b = protowire.AppendVarint(b, uint64(p.Connection))
	}
	return b
}

func (p *Peer) unmarshal(b []byte) error {
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return protowire.ParseError(n)
		}
		b = b[n:]

		switch {
		case (num == 1 || num == 2) && typ == protowire.BytesType:
			v, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return protowire.ParseError(n)
			}
			if num == 1 {
				p.ID = append([]byte(nil), v...)
			} else {
				p.Addrs = append(p.Addrs, append([]byte(nil), v...))
			}
			b = b[n:]
		case num == 3 && typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return protowire.ParseError(n)
			}
			p.Connection = ConnectionType(v)
			b = b[n:]
		default:
			n := protowire.ConsumeFieldValue(num, typ, b)
			if n < 0 {
				return protowire.ParseError(n)
			}
			b = b[n:]
		}
	}
	if len(p.ID) == 0 {
		return fmt.Errorf("peer: %w", errMalformed)
	}
	return nil
}
