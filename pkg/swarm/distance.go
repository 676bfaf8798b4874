// Copyright 2020 The Swarm Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package swarm

import (
	"bytes"
	"errors"
	"math/big"
	"math/rand"
)

var ErrKeyLength = errors.New("keys must be of equal length")

// Distance returns the distance between x and y as a big integer, the XOR of
// both keys cast as big endian numbers.
func Distance(x, y []byte) (*big.Int, error) {
	if len(x) != len(y) {
		return nil, ErrKeyLength
	}
	c := make([]byte, len(x))
	for i, addr := range x {
		c[i] = addr ^ y[i]
	}
	val := big.NewInt(0)
	val.SetBytes(c)
	return val, nil
}

// DistanceCmp compares x and y to a in terms of XOR distance.
//
// Returns:
//   - 1 if x is closer to a than y
//   - 0 if x and y are equally close to a (x == y)
//   - -1 if y is closer to a than x
func DistanceCmp(a, x, y []byte) (int, error) {
	if len(a) != len(x) || len(a) != len(y) {
		return 0, ErrKeyLength
	}
	for i := range a {
		dx := x[i] ^ a[i]
		dy := y[i] ^ a[i]
		if dx == dy {
			continue
		}
		if dx < dy {
			return 1, nil
		}
		return -1, nil
	}
	return 0, nil
}

// Closer reports whether x is strictly closer to a than y.
func Closer(a, x, y Key) bool {
	return bytes.Compare(xor(a.b, x.b), xor(a.b, y.b)) < 0
}

func xor(x, y []byte) []byte {
	c := make([]byte, len(x))
	for i := range x {
		c[i] = x[i] ^ y[i]
	}
	return c
}

// RandomKeyAt returns a random key at proximity order po relative to self.
// The first po bits are those of self, the bit at po is flipped and the
// remaining bits are random. A negative po yields a fully random key.
func RandomKeyAt(self Key, po int) Key {
	addr := make([]byte, len(self.b))
	copy(addr, self.b)
	pos := -1
	if po >= 0 {
		pos = po / 8
		trans := po % 8
		transbytea := byte(0)
		for j := 0; j <= trans; j++ {
			transbytea |= 1 << uint8(7-j)
		}
		flipbyte := byte(1 << uint8(7-trans))
		transbyteb := transbytea ^ byte(255)
		randbyte := byte(rand.Intn(256))
		addr[pos] = ((addr[pos] & transbytea) ^ flipbyte) | randbyte&transbyteb
	}

	for i := pos + 1; i < len(addr); i++ {
		addr[i] = byte(rand.Intn(256))
	}
	return NewKey(addr)
}
