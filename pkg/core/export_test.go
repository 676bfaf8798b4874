// Copyright 2020 The Swarm Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package core

import "context"

// Inject handles the event on the loop as if it came from the host.
func (c *Core) Inject(ev Event) error {
	return c.Call(context.Background(), func() { c.handle(ev) })
}

// Pending returns the number of pending requests and timers.
func (c *Core) Pending() (requests, timers int, err error) {
	err = c.Call(context.Background(), func() {
		requests = len(c.requests)
		timers = len(c.timers)
	})
	return requests, timers, err
}
