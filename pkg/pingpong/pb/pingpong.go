// Copyright 2020 The Swarm Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package pb holds the pingpong wire messages.
package pb

import (
	"errors"
	"fmt"

	"google.golang.org/protobuf/encoding/protowire"
)

var errMalformed = errors.New("malformed message")

type Ping struct {
	Greeting string
}

func (m *Ping) Marshal() ([]byte, error) {
	return appendString(nil, 1, m.Greeting), nil
}

func (m *Ping) Unmarshal(b []byte) (err error) {
	*m = Ping{}
	m.Greeting, err = consumeString(b, 1)
	return err
}

type Pong struct {
	Response string
}

func (m *Pong) Marshal() ([]byte, error) {
	return appendString(nil, 1, m.Response), nil
}

func (m *Pong) Unmarshal(b []byte) (err error) {
	*m = Pong{}
	m.Response, err = consumeString(b, 1)
	return err
}

func appendString(b []byte, num protowire.Number, s string) []byte {
	if s == "" {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendString(b, s)
}

// consumeString returns the last value of the string field num and skips
// every other field.
func consumeString(b []byte, num protowire.Number) (s string, err error) {
	for len(b) > 0 {
		n, typ, l := protowire.ConsumeTag(b)
		if l < 0 {
			return "", fmt.Errorf("%w: %v", errMalformed, protowire.ParseError(l))
		}
		b = b[l:]
		if n == num && typ == protowire.BytesType {
			v, l := protowire.ConsumeString(b)
			if l < 0 {
				return "", fmt.Errorf("%w: %v", errMalformed, protowire.ParseError(l))
			}
			s = v
			b = b[l:]
			continue
		}
		l = protowire.ConsumeFieldValue(n, typ, b)
		if l < 0 {
			return "", fmt.Errorf("%w: %v", errMalformed, protowire.ParseError(l))
		}
		b = b[l:]
	}
	return s, nil
}
