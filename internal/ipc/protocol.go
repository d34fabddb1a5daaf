// Package ipc feeds world snapshots to local viewer processes.
//
// A frame is an 8-byte little-endian header (version u16, type u8,
// reserved u8, body length u32) followed by a msgpack body. The feed runs
// over a Unix domain socket, or TCP on localhost where sockets are
// unavailable or the address starts with tcp://.
package ipc

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/vmihailenco/msgpack/v5"
)

const (
	DefaultSocketPath = "/tmp/broadphase.sock"
	DefaultTCPAddr    = "127.0.0.1:7070"

	MsgTypeSnapshot byte = 0x01
	MsgTypePing     byte = 0x02
	MsgTypePong     byte = 0x03
	MsgTypeHello    byte = 0x04

	// Bumped on any incompatible change to the frame or a message body
	ProtocolVersion uint16 = 2

	MaxMessageSize = 4 * 1024 * 1024
	WriteTimeout   = 50 * time.Millisecond
	ReconnectDelay = 500 * time.Millisecond
)

// HelloMessage is the first frame every viewer receives
type HelloMessage struct {
	Session  string `msgpack:"session"`
	TickRate int    `msgpack:"tickRate"`
}

// Header is the fixed prefix of every frame
type Header struct {
	Version  uint16
	Type     byte
	Reserved byte
	Length   uint32
}

const HeaderSize = 8

func (h Header) put(b []byte) {
	binary.LittleEndian.PutUint16(b[0:2], h.Version)
	b[2] = h.Type
	b[3] = h.Reserved
	binary.LittleEndian.PutUint32(b[4:8], h.Length)
}

func parseHeader(b []byte) (Header, error) {
	h := Header{
		Version:  binary.LittleEndian.Uint16(b[0:2]),
		Type:     b[2],
		Reserved: b[3],
		Length:   binary.LittleEndian.Uint32(b[4:8]),
	}
	if h.Version != ProtocolVersion {
		return h, fmt.Errorf("version mismatch: got %d, want %d", h.Version, ProtocolVersion)
	}
	if h.Length > MaxMessageSize {
		return h, fmt.Errorf("message too large: %d > %d", h.Length, MaxMessageSize)
	}
	return h, nil
}

var framePool = sync.Pool{New: func() any { return new(bytes.Buffer) }}

// EncodeFrame builds a complete frame. The slice is not shared, so one
// encoded snapshot can be queued to every viewer.
func EncodeFrame(msgType byte, body any) ([]byte, error) {
	buf := framePool.Get().(*bytes.Buffer)
	buf.Reset()
	defer func() {
		if buf.Cap() <= MaxMessageSize {
			framePool.Put(buf)
		}
	}()

	var prefix [HeaderSize]byte
	buf.Write(prefix[:])
	if body != nil {
		enc := msgpack.GetEncoder()
		enc.Reset(buf)
		err := enc.Encode(body)
		msgpack.PutEncoder(enc)
		if err != nil {
			return nil, fmt.Errorf("msgpack encode: %w", err)
		}
	}

	n := buf.Len() - HeaderSize
	if n > MaxMessageSize {
		return nil, fmt.Errorf("message too large: %d > %d", n, MaxMessageSize)
	}
	frame := bytes.Clone(buf.Bytes())
	Header{Version: ProtocolVersion, Type: msgType, Length: uint32(n)}.put(frame)
	return frame, nil
}

// WriteMessage encodes one frame and writes it with a single Write
func WriteMessage(w io.Writer, msgType byte, body any) error {
	frame, err := EncodeFrame(msgType, body)
	if err != nil {
		return err
	}
	if _, err := w.Write(frame); err != nil {
		return fmt.Errorf("write frame: %w", err)
	}
	return nil
}

// ReadMessage reads one frame and returns its type and raw body
func ReadMessage(r io.Reader) (byte, []byte, error) {
	var prefix [HeaderSize]byte
	if _, err := io.ReadFull(r, prefix[:]); err != nil {
		return 0, nil, fmt.Errorf("read header: %w", err)
	}
	h, err := parseHeader(prefix[:])
	if err != nil {
		return 0, nil, err
	}
	if h.Length == 0 {
		return h.Type, nil, nil
	}
	body := make([]byte, h.Length)
	if _, err := io.ReadFull(r, body); err != nil {
		return 0, nil, fmt.Errorf("read body: %w", err)
	}
	return h.Type, body, nil
}

// Decode unmarshals a frame body
func Decode[T any](body []byte) (*T, error) {
	var msg T
	if err := msgpack.Unmarshal(body, &msg); err != nil {
		return nil, fmt.Errorf("msgpack decode: %w", err)
	}
	return &msg, nil
}
