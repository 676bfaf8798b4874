// Copyright 2020 The Swarm Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package terminal reads key passwords from the terminal or from a file.
package terminal

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"golang.org/x/term"
)

var ErrPasswordsDoNotMatch = errors.New("passwords do not match")

type PasswordReader interface {
	ReadPassword() (password string, err error)
}

type stdInPasswordReader struct{}

// NewStdInPasswordReader reads the password from the terminal without
// echoing it.
func NewStdInPasswordReader() PasswordReader {
	return stdInPasswordReader{}
}

func (stdInPasswordReader) ReadPassword() (password string, err error) {
	v, err := term.ReadPassword(int(os.Stdin.Fd()))
	if err != nil {
		return "", err
	}
	return string(v), nil
}

type filePasswordReader struct {
	path string
}

// NewFilePasswordReader reads the password from the file, without the
// surrounding white space.
func NewFilePasswordReader(path string) PasswordReader {
	return filePasswordReader{path: path}
}

func (r filePasswordReader) ReadPassword() (password string, err error) {
	b, err := os.ReadFile(r.path)
	if err != nil {
		return "", fmt.Errorf("read password file: %w", err)
	}
	return strings.TrimSpace(string(b)), nil
}

type Prompter interface {
	PromptPassword(msg string) (password string, err error)
}

type PasswordPrompter struct {
	out    io.Writer
	reader PasswordReader
}

type PrompterOption func(*PasswordPrompter)

func WithPromptOut(w io.Writer) PrompterOption {
	return func(p *PasswordPrompter) {
		p.out = w
	}
}

func WithPromptPasswordReader(r PasswordReader) PrompterOption {
	return func(p *PasswordPrompter) {
		p.reader = r
	}
}

func NewPasswordPrompter(opts ...PrompterOption) *PasswordPrompter {
	p := &PasswordPrompter{
		out:    os.Stdout,
		reader: NewStdInPasswordReader(),
	}
	for _, o := range opts {
		o(p)
	}
	return p
}

// PromptPassword prints the message and reads the password.
func (p *PasswordPrompter) PromptPassword(msg string) (password string, err error) {
	fmt.Fprint(p.out, msg)
	password, err = p.reader.ReadPassword()
	fmt.Fprintln(p.out)
	if err != nil {
		return "", err
	}
	return password, nil
}

type PasswordConfirmer struct {
	out      io.Writer
	prompter Prompter
}

type ConfirmerOption func(*PasswordConfirmer)

func WithConfirmOut(w io.Writer) ConfirmerOption {
	return func(c *PasswordConfirmer) {
		c.out = w
	}
}

func WithConfirmPasswordPrompter(p Prompter) ConfirmerOption {
	return func(c *PasswordConfirmer) {
		c.prompter = p
	}
}

func NewPasswordConfirmer(opts ...ConfirmerOption) *PasswordConfirmer {
	c := &PasswordConfirmer{
		out: os.Stdout,
	}
	for _, o := range opts {
		o(c)
	}
	if c.prompter == nil {
		c.prompter = NewPasswordPrompter(WithPromptOut(c.out))
	}
	return c
}

// PromptConfirmPassword asks for the password twice and returns it only if
// both entries are the same.
func (c *PasswordConfirmer) PromptConfirmPassword(msg, confirmMsg string) (password string, err error) {
	password, err = c.prompter.PromptPassword(msg)
	if err != nil {
		return "", err
	}
	confirmed, err := c.prompter.PromptPassword(confirmMsg)
	if err != nil {
		return "", err
	}
	if password != confirmed {
		fmt.Fprintln(c.out, "Passwords do not match")
		return "", ErrPasswordsDoNotMatch
	}
	return password, nil
}
