// Copyright 2020 The Swarm Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package swarm

// Proximity returns the proximity order of the MSB distance between x and y
//
// The distance metric MSB(x, y) of two equal length byte sequences x an y is the
// value of the binary integer cast of the x^y, ie., x and y bitwise xor-ed.
// the binary cast is big endian: most significant bit first (=MSB).
//
// Proximity(x, y) is the number of common leading zeros in the binary
// representation of x^y. It is the bin index of y in a routing table of x.
//
// (0 farthest, MaxPO closest, KeyBits self)
func Proximity(x, y Key) int {
	xb, yb := x.b, y.b

	b := len(xb)
	if l := len(yb); b > l {
		b = l
	}

	for i := 0; i < b; i++ {
		oxo := xb[i] ^ yb[i]
		for j := 0; j < 8; j++ {
			if (oxo>>(7-j))&0x01 != 0 {
				return i*8 + j
			}
		}
	}

	return b * 8
}
