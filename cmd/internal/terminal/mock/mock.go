// Copyright 2020 The Swarm Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package mock

import (
	"errors"

	"github.com/ethersphere/beacon/cmd/internal/terminal"
)

var errMock = errors.New("mock error")

type passwordReader struct {
	password string
	err      bool
}

func NewMockPasswordReader(password string, err bool) terminal.PasswordReader {
	return &passwordReader{password: password, err: err}
}

func (r *passwordReader) ReadPassword() (string, error) {
	if r.err {
		return "", errMock
	}
	return r.password, nil
}

// passwordPrompter returns the first password and then the confirmed one.
// With errInPrompt, the call after cntUntilErr successful ones fails.
type passwordPrompter struct {
	passwords   []string
	errInPrompt bool
	cntUntilErr int
	calls       int
}

func NewMockPasswordPrompter(first, confirmed string, errInPrompt bool, cntUntilErr int) terminal.Prompter {
	return &passwordPrompter{
		passwords:   []string{first, confirmed},
		errInPrompt: errInPrompt,
		cntUntilErr: cntUntilErr,
	}
}

func (p *passwordPrompter) PromptPassword(string) (string, error) {
	defer func() { p.calls++ }()
	if p.errInPrompt && p.calls >= p.cntUntilErr {
		return "", errMock
	}
	if p.calls >= len(p.passwords) {
		return "", errMock
	}
	return p.passwords[p.calls], nil
}
