// Package frame owns the wire contract shared by every endpoint.
//
// Ownership boundary:
// - fixed-width big-endian header codec
// - text and structured payload helpers
package frame

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"unicode/utf8"
)

const (
	MinHeaderWidth = 1
	MaxHeaderWidth = 8

	// DefaultMaxFrameBytes is the largest single frame read or written by an endpoint.
	DefaultMaxFrameBytes = 2048
)

var (
	ErrFraming     = errors.New("frame: short header")
	ErrEncoding    = errors.New("frame: header code does not fit header width")
	ErrHeaderWidth = errors.New("frame: invalid header width")
	ErrInvalidText = errors.New("frame: payload is not valid utf-8")
)

// Frame is one decoded wire message: a header code and its opaque payload.
type Frame struct {
	Code    uint64
	Payload []byte
}

// HeaderWidth returns the number of header bytes needed to carry maxCode,
// ceil(log256(maxCode+1)) with a floor of one byte.
func HeaderWidth(maxCode uint64) int {
	w := MinHeaderWidth
	for w < MaxHeaderWidth && maxCode >= uint64(1)<<(8*w) {
		w++
	}
	return w
}

// MaxCode returns the largest code representable in width bytes.
func MaxCode(width int) uint64 {
	if width >= MaxHeaderWidth {
		return math.MaxUint64
	}
	if width < MinHeaderWidth {
		return 0
	}
	return uint64(1)<<(8*width) - 1
}

// Codec frames payloads with a fixed-width big-endian header. Both ends of a
// connection must agree on the width out of band.
type Codec struct {
	width int
}

func NewCodec(width int) (Codec, error) {
	if width < MinHeaderWidth || width > MaxHeaderWidth {
		return Codec{}, fmt.Errorf("%w: %d", ErrHeaderWidth, width)
	}
	return Codec{width: width}, nil
}

// CodecFor returns a codec wide enough for every code up to maxCode.
func CodecFor(maxCode uint64) Codec {
	return Codec{width: HeaderWidth(maxCode)}
}

func (c Codec) Width() int {
	if c.width == 0 {
		return MinHeaderWidth
	}
	return c.width
}

// Fits reports whether code can be carried by this codec's header.
func (c Codec) Fits(code uint64) bool {
	return code <= MaxCode(c.Width())
}

// Encode writes header+payload. Out-of-range codes are a caller bug and are
// reported as ErrEncoding.
func (c Codec) Encode(code uint64, payload []byte) ([]byte, error) {
	w := c.Width()
	if !c.Fits(code) {
		return nil, fmt.Errorf("%w: code=%d width=%d", ErrEncoding, code, w)
	}
	var hdr [8]byte
	binary.BigEndian.PutUint64(hdr[:], code)
	out := make([]byte, 0, w+len(payload))
	out = append(out, hdr[8-w:]...)
	out = append(out, payload...)
	return out, nil
}

func (c Codec) EncodeText(code uint64, text string) ([]byte, error) {
	return c.Encode(code, []byte(text))
}

// EncodeStructured frames a JSON-serialized value.
func (c Codec) EncodeStructured(code uint64, v any) ([]byte, error) {
	payload, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("frame: marshal structured payload: %w", err)
	}
	return c.Encode(code, payload)
}

// Decode splits b into header code and payload. The payload aliases b.
func (c Codec) Decode(b []byte) (Frame, error) {
	w := c.Width()
	if len(b) < w {
		return Frame{}, fmt.Errorf("%w: have=%d want=%d", ErrFraming, len(b), w)
	}
	var hdr [8]byte
	copy(hdr[8-w:], b[:w])
	return Frame{
		Code:    binary.BigEndian.Uint64(hdr[:]),
		Payload: b[w:],
	}, nil
}

func DecodeText(payload []byte) (string, error) {
	if !utf8.Valid(payload) {
		return "", ErrInvalidText
	}
	return string(payload), nil
}

func DecodeStructured(payload []byte, out any) error {
	if err := json.Unmarshal(payload, out); err != nil {
		return fmt.Errorf("frame: unmarshal structured payload: %w", err)
	}
	return nil
}

// DecodeStructuredStrict is DecodeStructured but rejects fields out does not declare.
func DecodeStructuredStrict(payload []byte, out any) error {
	dec := json.NewDecoder(bytes.NewReader(payload))
	dec.DisallowUnknownFields()
	if err := dec.Decode(out); err != nil {
		return fmt.Errorf("frame: unmarshal structured payload: %w", err)
	}
	return nil
}
