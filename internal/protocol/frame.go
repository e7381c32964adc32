// Package protocol implements the framed wire protocol spoken between the
// pool and its worker processes. A frame is a self-delimited unit:
//
//	uint32 big-endian length | uint8 kind | uint32 big-endian call id | JSON payload
//
// The length covers everything after itself. Both ends use the same codec,
// and the decoder accepts arbitrarily fragmented input.
package protocol

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
	"sync"
)

// MaxFrameSize bounds a single frame. A length prefix beyond this is treated
// as stream corruption rather than an allocation request.
const MaxFrameSize = 32 << 20

// frameOverhead is kind(1) + call id(4).
const frameOverhead = 5

// Frame is one decoded protocol unit. ID is zero for frames that are not
// tied to a call (env-init, log, event).
type Frame struct {
	ID      uint32
	Payload Payload
}

// Encoder writes frames to a byte stream. It is safe for concurrent use;
// each frame is written with a single Write so frames never interleave.
type Encoder struct {
	mu sync.Mutex
	w  io.Writer
}

// NewEncoder returns an encoder writing to w.
func NewEncoder(w io.Writer) *Encoder {
	return &Encoder{w: w}
}

// Encode marshals the payload and writes one frame.
func (e *Encoder) Encode(id uint32, p Payload) error {
	body, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("encode %s frame: %w", p.Kind(), err)
	}

	length := frameOverhead + len(body)
	if length > MaxFrameSize {
		return fmt.Errorf("encode %s frame: %d bytes exceeds max frame size", p.Kind(), length)
	}

	buf := make([]byte, 4+length)
	binary.BigEndian.PutUint32(buf[0:4], uint32(length))
	buf[4] = byte(p.Kind())
	binary.BigEndian.PutUint32(buf[5:9], id)
	copy(buf[9:], body)

	e.mu.Lock()
	defer e.mu.Unlock()
	if _, err := e.w.Write(buf); err != nil {
		return fmt.Errorf("write %s frame: %w", p.Kind(), err)
	}
	return nil
}

// Decoder reassembles frames from a fragmented byte stream. A decoding
// failure poisons the decoder: framing is no longer trustworthy past the
// corrupt frame, so every later Feed returns the same error.
type Decoder struct {
	buf []byte
	err error
}

// NewDecoder returns an empty decoder.
func NewDecoder() *Decoder {
	return &Decoder{}
}

// Feed appends data to the internal buffer and returns every frame that is
// now complete, in stream order. Partial frames stay buffered.
func (d *Decoder) Feed(data []byte) ([]Frame, error) {
	if d.err != nil {
		return nil, d.err
	}
	d.buf = append(d.buf, data...)

	var frames []Frame
	for {
		if len(d.buf) < 4 {
			break
		}
		length := int(binary.BigEndian.Uint32(d.buf[0:4]))
		if length < frameOverhead || length > MaxFrameSize {
			return frames, d.poison(fmt.Errorf("bad frame length %d", length))
		}
		if len(d.buf) < 4+length {
			break
		}

		kind := Kind(d.buf[4])
		id := binary.BigEndian.Uint32(d.buf[5:9])
		body := d.buf[9 : 4+length]

		payload := newPayload(kind)
		if payload == nil {
			return frames, d.poison(fmt.Errorf("unknown frame kind %d", kind))
		}
		if err := json.Unmarshal(body, payload); err != nil {
			return frames, d.poison(fmt.Errorf("decode %s payload: %w", kind, err))
		}

		frames = append(frames, Frame{ID: id, Payload: payload})
		d.buf = d.buf[4+length:]
	}
	return frames, nil
}

func (d *Decoder) poison(err error) error {
	d.err = fmt.Errorf("protocol: %w", err)
	return d.err
}
