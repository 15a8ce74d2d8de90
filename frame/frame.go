// Package frame implements the length-prefixed wire framing shared by both
// peers of the IPC multiplexer (spec §4.1): 4-byte big-endian length, then
// that many payload bytes, with the encoding form auto-detected per frame by
// sniffing the payload's first byte.
package frame

import (
	"bufio"
	"encoding/binary"
	"errors"
	"io"

	"github.com/vmihailenco/msgpack/v5"

	zap "github.com/zapjs/zap"
)

// MaxLength is the largest payload a single frame may carry (spec §4.1).
// Larger payloads must be split into stream chunk messages by the caller.
const MaxLength = 100 << 20 // 100 MiB

// Form selects the wire encoding used for outgoing frames on a connection.
// A peer always accepts both forms on read (auto-sniffed); the outgoing
// form is fixed once per connection (spec §4.1, §9).
type Form uint8

const (
	// FormBinary packs payloads with msgpack. This is the default.
	FormBinary Form = iota
	// FormText encodes payloads as JSON.
	FormText
)

const textSniffByte = '{'

// sniff reports the Form a payload is encoded in, based on its first byte.
func sniff(payload []byte) Form {
	if len(payload) > 0 && payload[0] == textSniffByte {
		return FormText
	}
	return FormBinary
}

// Marshal encodes v into the wire form selected by f.
func Marshal(f Form, v any) ([]byte, error) {
	if f == FormText {
		return jsonMarshal(v)
	}
	return msgpack.Marshal(v)
}

// Unmarshal decodes payload into v, auto-detecting its form from the first
// byte per spec §4.1.
func Unmarshal(payload []byte, v any) error {
	if sniff(payload) == FormText {
		return jsonUnmarshal(payload, v)
	}
	return msgpack.Unmarshal(payload, v)
}

// Writer writes length-prefixed frames to an underlying io.Writer, encoding
// every outgoing message with a single fixed Form (spec §9: peers must not
// mix forms within one connection).
type Writer struct {
	w    io.Writer
	form Form
}

// NewWriter returns a Writer that encodes outgoing frames with form.
func NewWriter(w io.Writer, form Form) *Writer {
	return &Writer{w: w, form: form}
}

// WriteValue marshals v in the writer's form and writes it as one frame.
func (w *Writer) WriteValue(v any) error {
	payload, err := Marshal(w.form, v)
	if err != nil {
		return &zap.TransportError{Kind: zap.TransportDecode, Err: err}
	}
	return w.WriteFrame(payload)
}

// WriteFrame writes a single pre-encoded payload as a length-prefixed frame.
func (w *Writer) WriteFrame(payload []byte) error {
	if len(payload) > MaxLength {
		return &zap.TransportError{Kind: zap.TransportFrameTooLarge}
	}
	var header [4]byte
	binary.BigEndian.PutUint32(header[:], uint32(len(payload)))
	if _, err := w.w.Write(header[:]); err != nil {
		return &zap.TransportError{Kind: zap.TransportIO, Err: err}
	}
	if _, err := w.w.Write(payload); err != nil {
		return &zap.TransportError{Kind: zap.TransportIO, Err: err}
	}
	return nil
}

// Reader reads length-prefixed frames from an underlying io.Reader. It
// accepts both binary and text payloads regardless of the local Writer's
// configured form (spec §4.1: every peer accepts both forms).
type Reader struct {
	r *bufio.Reader
}

// NewReader returns a Reader over r.
func NewReader(r io.Reader) *Reader {
	return &Reader{r: bufio.NewReader(r)}
}

// ReadFrame reads the next frame's raw payload.
//
// A clean EOF between frames is reported as TransportClosed, not an error a
// caller should log loudly (spec §4.1: "partial frames on clean close are
// treated as EOF, not error").
func (rd *Reader) ReadFrame() ([]byte, error) {
	var header [4]byte
	if _, err := io.ReadFull(rd.r, header[:]); err != nil {
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			return nil, &zap.TransportError{Kind: zap.TransportClosed}
		}
		return nil, &zap.TransportError{Kind: zap.TransportIO, Err: err}
	}

	length := binary.BigEndian.Uint32(header[:])
	if length > MaxLength {
		return nil, &zap.TransportError{Kind: zap.TransportFrameTooLarge}
	}

	payload := make([]byte, length)
	if _, err := io.ReadFull(rd.r, payload); err != nil {
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			return nil, &zap.TransportError{Kind: zap.TransportClosed}
		}
		return nil, &zap.TransportError{Kind: zap.TransportIO, Err: err}
	}
	return payload, nil
}

// ReadValue reads the next frame and decodes it into v.
func (rd *Reader) ReadValue(v any) error {
	payload, err := rd.ReadFrame()
	if err != nil {
		return err
	}
	if err := Unmarshal(payload, v); err != nil {
		return &zap.TransportError{Kind: zap.TransportDecode, Err: err}
	}
	return nil
}
