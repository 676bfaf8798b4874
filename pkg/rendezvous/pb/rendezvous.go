// Copyright 2020 The Swarm Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package pb holds the rendezvous wire messages. Field numbers and status
// codes follow the libp2p rendezvous schema.
package pb

import (
	"errors"
	"fmt"

	"google.golang.org/protobuf/encoding/protowire"
)

type MessageType int32

const (
	MessageTypeRegister         MessageType = 0
	MessageTypeRegisterResponse MessageType = 1
	MessageTypeUnregister       MessageType = 2
	MessageTypeDiscover         MessageType = 3
	MessageTypeDiscoverResponse MessageType = 4
)

func (t MessageType) String() string {
	switch t {
	case MessageTypeRegister:
		return "REGISTER"
	case MessageTypeRegisterResponse:
		return "REGISTER_RESPONSE"
	case MessageTypeUnregister:
		return "UNREGISTER"
	case MessageTypeDiscover:
		return "DISCOVER"
	case MessageTypeDiscoverResponse:
		return "DISCOVER_RESPONSE"
	}
	return fmt.Sprintf("MessageType(%d)", int32(t))
}

type ResponseStatus int32

const (
	StatusOK                      ResponseStatus = 0
	StatusInvalidNamespace        ResponseStatus = 100
	StatusInvalidSignedPeerRecord ResponseStatus = 101
	StatusInvalidTTL              ResponseStatus = 102
	StatusInvalidCookie           ResponseStatus = 103
	StatusNotAuthorized           ResponseStatus = 200
	StatusInternalError           ResponseStatus = 300
	StatusUnavailable             ResponseStatus = 400
)

func (s ResponseStatus) String() string {
	switch s {
	case StatusOK:
		return "OK"
	case StatusInvalidNamespace:
		return "E_INVALID_NAMESPACE"
	case StatusInvalidSignedPeerRecord:
		return "E_INVALID_SIGNED_PEER_RECORD"
	case StatusInvalidTTL:
		return "E_INVALID_TTL"
	case StatusInvalidCookie:
		return "E_INVALID_COOKIE"
	case StatusNotAuthorized:
		return "E_NOT_AUTHORIZED"
	case StatusInternalError:
		return "E_INTERNAL_ERROR"
	case StatusUnavailable:
		return "E_UNAVAILABLE"
	}
	return fmt.Sprintf("ResponseStatus(%d)", int32(s))
}

type Register struct {
	Ns               string
	SignedPeerRecord []byte
	TTL              uint64
}

type RegisterResponse struct {
	Status     ResponseStatus
	StatusText string
	TTL        uint64
}

type Unregister struct {
	Ns string
	ID []byte
}

type Discover struct {
	Ns     string
	Limit  uint64
	Cookie []byte
}

type DiscoverResponse struct {
	Registrations []*Register
	Cookie        []byte
	Status        ResponseStatus
	StatusText    string
}

// Message carries exactly one of the typed bodies, selected by Type.
type Message struct {
	Type             MessageType
	Register         *Register
	RegisterResponse *RegisterResponse
	Unregister       *Unregister
	Discover         *Discover
	DiscoverResponse *DiscoverResponse
}

var errMalformed = errors.New("malformed message")

func (m *Message) Marshal() ([]byte, error) {
	var b []byte
	b = protowire.AppendTag(b, 1, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(m.Type))
	if m.Register != nil {
		b = appendMessage(b, 2, m.Register.marshal())
	}
	if m.RegisterResponse != nil {
		b = appendMessage(b, 3, m.RegisterResponse.marshal())
	}
	if m.Unregister != nil {
		b = appendMessage(b, 4, m.Unregister.marshal())
	}
	if m.Discover != nil {
		b = appendMessage(b, 5, m.Discover.marshal())
	}
	if m.DiscoverResponse != nil {
		b = appendMessage(b, 6, m.DiscoverResponse.marshal())
	}
	return b, nil
}

func (m *Message) Unmarshal(b []byte) error {
	*m = Message{}
	return walk(b, func(num protowire.Number, typ protowire.Type, v []byte, x uint64) error {
		switch {
		case num == 1 && typ == protowire.VarintType:
			m.Type = MessageType(x)
		case num == 2 && typ == protowire.BytesType:
			m.Register = new(Register)
			return m.Register.unmarshal(v)
		case num == 3 && typ == protowire.BytesType:
			m.RegisterResponse = new(RegisterResponse)
			return m.RegisterResponse.unmarshal(v)
		case num == 4 && typ == protowire.BytesType:
			m.Unregister = new(Unregister)
			return m.Unregister.unmarshal(v)
		case num == 5 && typ == protowire.BytesType:
			m.Discover = new(Discover)
			return m.Discover.unmarshal(v)
		case num == 6 && typ == protowire.BytesType:
			m.DiscoverResponse = new(DiscoverResponse)
			return m.DiscoverResponse.unmarshal(v)
		}
		return nil
	})
}

func (r *Register) marshal() []byte {
	var b []byte
	if r.Ns != "" {
		b = protowire.AppendTag(b, 1, protowire.BytesType)
		b = protowire.AppendString(b, r.Ns)
	}
	if len(r.SignedPeerRecord) > 0 {
		b = protowire.AppendTag(b, 2, protowire.BytesType)
		b = protowire.AppendBytes(b, r.SignedPeerRecord)
	}
	if r.TTL > 0 {
		b = protowire.AppendTag(b, 3, protowire.VarintType)
		b = protowire.AppendVarint(b, r.TTL)
	}
	return b
}

func (r *Register) unmarshal(b []byte) error {
	return walk(b, func(num protowire.Number, typ protowire.Type, v []byte, x uint64) error {
		switch {
		case num == 1 && typ == protowire.BytesType:
			r.Ns = string(v)
		case num == 2 && typ == protowire.BytesType:
			r.SignedPeerRecord = append([]byte(nil), v...)
		case num == 3 && typ == protowire.VarintType:
			r.TTL = x
		}
		return nil
	})
}

func (r *RegisterResponse) marshal() []byte {
	var b []byte
	b = protowire.AppendTag(b, 1, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(r.Status))
	if r.StatusText != "" {
		b = protowire.AppendTag(b, 2, protowire.BytesType)
		b = protowire.AppendString(b, r.StatusText)
	}
	if r.TTL > 0 {
		b = protowire.AppendTag(b, 3, protowire.VarintType)
		b = protowire.AppendVarint(b, r.TTL)
	}
	return b
}

func (r *RegisterResponse) unmarshal(b []byte) error {
	return walk(b, func(num protowire.Number, typ protowire.Type, v []byte, x uint64) error {
		switch {
		case num == 1 && typ == protowire.VarintType:
			r.Status = ResponseStatus(x)
		case num == 2 && typ == protowire.BytesType:
			r.StatusText = string(v)
		case num == 3 && typ == protowire.VarintType:
			r.TTL = x
		}
		return nil
	})
}

func (u *Unregister) marshal() []byte {
	var b []byte
	if u.Ns != "" {
		b = protowire.AppendTag(b, 1, protowire.BytesType)
		b = protowire.AppendString(b, u.Ns)
	}
	if len(u.ID) > 0 {
		b = protowire.AppendTag(b, 2, protowire.BytesType)
		b = protowire.AppendBytes(b, u.ID)
	}
	return b
}

func (u *Unregister) unmarshal(b []byte) error {
	return walk(b, func(num protowire.Number, typ protowire.Type, v []byte, _ uint64) error {
		switch {
		case num == 1 && typ == protowire.BytesType:
			u.Ns = string(v)
		case num == 2 && typ == protowire.BytesType:
			u.ID = append([]byte(nil), v...)
		}
		return nil
	})
}

func (d *Discover) marshal() []byte {
	var b []byte
	if d.Ns != "" {
		b = protowire.AppendTag(b, 1, protowire.BytesType)
		b = protowire.AppendString(b, d.Ns)
	}
	if d.Limit > 0 {
		b = protowire.AppendTag(b, 2, protowire.VarintType)
		b = protowire.AppendVarint(b, d.Limit)
	}
	if len(d.Cookie) > 0 {
		b = protowire.AppendTag(b, 3, protowire.BytesType)
		b = protowire.AppendBytes(b, d.Cookie)
	}
	return b
}

func (d *Discover) unmarshal(b []byte) error {
	return walk(b, func(num protowire.Number, typ protowire.Type, v []byte, x uint64) error {
		switch {
		case num == 1 && typ == protowire.BytesType:
			d.Ns = string(v)
		case num == 2 && typ == protowire.VarintType:
			d.Limit = x
		case num == 3 && typ == protowire.BytesType:
			d.Cookie = append([]byte(nil), v...)
		}
		return nil
	})
}

func (d *DiscoverResponse) marshal() []byte {
	var b []byte
	for _, r := range d.Registrations {
		b = appendMessage(b, 1, r.marshal())
	}
	if len(d.Cookie) > 0 {
		b = protowire.AppendTag(b, 2, protowire.BytesType)
		b = protowire.AppendBytes(b, d.Cookie)
	}
	b = protowire.AppendTag(b, 3, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(d.Status))
	if d.StatusText != "" {
		b = protowire.AppendTag(b, 4, protowire.BytesType)
		b = protowire.AppendString(b, d.StatusText)
	}
	return b
}

func (d *DiscoverResponse) unmarshal(b []byte) error {
	return walk(b, func(num protowire.Number, typ protowire.Type, v []byte, x uint64) error {
		switch {
		case num == 1 && typ == protowire.BytesType:
			r := new(Register)
			if err := r.unmarshal(v); err != nil {
				return err
			}
			d.Registrations = append(d.Registrations, r)
		case num == 2 && typ == protowire.BytesType:
			d.Cookie = append([]byte(nil), v...)
		case num == 3 && typ == protowire.VarintType:
			d.Status = ResponseStatus(x)
		case num == 4 && typ == protowire.BytesType:
			d.StatusText = string(v)
		}
		return nil
	})
}

func appendMessage(b []byte, num protowire.Number, v []byte) []byte {
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendBytes(b, v)
}

// walk calls fn for every field of the encoded message. Length delimited
// values are passed in v and varints in x; other wire types are skipped.
func walk(b []byte, fn func(num protowire.Number, typ protowire.Type, v []byte, x uint64) error) error {
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return fmt.Errorf("%w: %v", errMalformed, protowire.ParseError(n))
		}
		b = b[n:]

		switch typ {
		case protowire.VarintType:
			x, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return fmt.Errorf("%w: %v", errMalformed, protowire.ParseError(n))
			}
			if err := fn(num, typ, nil, x); err != nil {
				return err
			}
			b = b[n:]
		case protowire.BytesType:
			v, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return fmt.Errorf("%w: %v", errMalformed, protowire.ParseError(n))
			}
			if err := fn(num, typ, v, 0); err != nil {
				return err
			}
			b = b[n:]
		default:
			n := protowire.ConsumeFieldValue(num, typ, b)
			if n < 0 {
				return fmt.Errorf("%w: %v", errMalformed, protowire.ParseError(n))
			}
			b = b[n:]
		}
	}
	return nil
}
