// Copyright 2020 The Swarm Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package protobuf reads and writes uvarint length-delimited protocol
// buffer messages. Reads are unbuffered so the stream can be handed over to
// another reader, or spliced, after a handshake.
package protobuf

import (
	"context"
	"encoding/binary"
	"errors"
	"io"

	"github.com/ethersphere/beacon/pkg/p2p"
	"github.com/multiformats/go-varint"
	"google.golang.org/protobuf/proto"
)

const delimitedReaderMaxSize = 128 * 1024 // max message size

var ErrTimeout = p2p.ErrTimeout

// Message is a wire message that encodes itself.
type Message interface {
	Marshal() ([]byte, error)
	Unmarshal([]byte) error
}

// Proto adapts a generated protocol buffer message to Message.
func Proto(m proto.Message) Message {
	return protoMessage{m: m}
}

type protoMessage struct {
	m proto.Message
}

func (p protoMessage) Marshal() ([]byte, error) { return proto.Marshal(p.m) }
func (p protoMessage) Unmarshal(b []byte) error { return proto.Unmarshal(b, p.m) }

func NewWriterAndReader(s io.ReadWriter) (Writer, Reader) {
	return NewWriter(s), NewReader(s)
}

func NewReader(r io.Reader) Reader {
	return newReader(r, delimitedReaderMaxSize)
}

func NewWriter(w io.Writer) Writer {
	return Writer{w: w}
}

func ReadMessages(r io.Reader, newMessage func() Message) (m []Message, err error) {
	pr := NewReader(r)
	for {
		msg := newMessage()
		if err := pr.ReadMsg(msg); err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return nil, err
		}
		m = append(m, msg)
	}
	return m, nil
}

type Reader struct {
	r       *byteReader
	maxSize uint64
}

func newReader(r io.Reader, maxSize int) Reader {
	return Reader{r: &byteReader{Reader: r}, maxSize: uint64(maxSize)}
}

// ReadMsg reads a single message. It returns io.EOF only when the stream
// ended cleanly before a new message started.
func (r Reader) ReadMsg(msg Message) error {
	l, err := varint.ReadUvarint(r.r)
	if err != nil {
		if errors.Is(err, io.EOF) {
			return io.EOF
		}
		if errors.Is(err, io.ErrUnexpectedEOF) {
			return p2p.NewProtocolViolation("truncated length prefix")
		}
		return p2p.NewProtocolViolation("length prefix: %v", err)
	}
	if l > r.maxSize {
		return p2p.NewProtocolViolation("message of %d bytes exceeds limit of %d", l, r.maxSize)
	}
	buf := make([]byte, l)
	if _, err := io.ReadFull(r.r, buf); err != nil {
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			return p2p.NewProtocolViolation("truncated message")
		}
		return err
	}
	if err := msg.Unmarshal(buf); err != nil {
		return p2p.NewProtocolViolation("decode: %v", err)
	}
	return nil
}

func (r Reader) ReadMsgWithContext(ctx context.Context, msg Message) error {
	errChan := make(chan error, 1)
	go func() {
		errChan <- r.ReadMsg(msg)
	}()

	select {
	case err := <-errChan:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

type Writer struct {
	w io.Writer
}

func (w Writer) WriteMsg(msg Message) error {
	data, err := msg.Marshal()
	if err != nil {
		return err
	}
	buf := make([]byte, 0, binary.MaxVarintLen64+len(data))
	buf = append(buf, varint.ToUvarint(uint64(len(data)))...)
	buf = append(buf, data...)
	_, err = w.w.Write(buf)
	return err
}

func (w Writer) WriteMsgWithContext(ctx context.Context, msg Message) error {
	errChan := make(chan error, 1)
	go func() {
		errChan <- w.WriteMsg(msg)
	}()

	select {
	case err := <-errChan:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// byteReader reads one byte at a time from the underlying reader.
type byteReader struct {
	io.Reader
	b [1]byte
}

func (r *byteReader) ReadByte() (byte, error) {
	if _, err := io.ReadFull(r.Reader, r.b[:]); err != nil {
		return 0, err
	}
	return r.b[0], nil
}
