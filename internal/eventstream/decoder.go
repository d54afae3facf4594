// Package eventstream decodes the AWS-style binary EventStream framing used
// by the upstream: a self-delimiting sequence of {prelude, headers, payload,
// message_crc} frames. CRC fields are parsed and discarded, never verified —
// the upstream and all known clients of it never check them either.
package eventstream

import (
	"encoding/binary"
	"errors"
	"fmt"
)

const (
	preludeSize    = 12
	minFrameSize   = 16
	maxFrameSize   = 16 * 1024 * 1024
	headerStrType  = 7
	eventTypeField = ":event-type"
)

// HeaderValue is a decoded header value. Exactly one field is meaningful,
// selected by Type.
type HeaderValue struct {
	Type  byte
	Bool  bool
	Int   int64
	Bytes []byte
	Str   string
}

// Message is one fully decoded EventStream frame.
type Message struct {
	Headers map[string]HeaderValue
	Payload []byte
}

// EventType returns the well-known ":event-type" header, defaulting to
// "assistantResponseEvent" when headers carried none at all. This mirrors a
// heuristic observed in the upstream's own client: frames with an empty
// header section are treated as plain assistant-response deltas rather than
// as untyped. Frames that DO carry headers but omit :event-type return "".
func (m Message) EventType() string {
	if len(m.Headers) == 0 {
		return "assistantResponseEvent"
	}
	if hv, ok := m.Headers[eventTypeField]; ok {
		return hv.Str
	}
	return ""
}

// ErrBudgetExhausted is returned once the configured error budget is spent.
var ErrBudgetExhausted = errors.New("eventstream: error budget exhausted")

// Decoder incrementally decodes a byte stream into Messages. It is owned by
// exactly one stream and is never shared across goroutines.
type Decoder struct {
	buf       []byte
	errors    int
	MaxErrors int // 0 means unbounded
}

// NewDecoder returns a Decoder with the given error budget (0 = unbounded).
func NewDecoder(maxErrors int) *Decoder {
	return &Decoder{MaxErrors: maxErrors}
}

// Reset discards all buffered state, including the error count.
func (d *Decoder) Reset() {
	d.buf = nil
	d.errors = 0
}

// Errors reports the number of resyncs and rejected frames (headers_length
// out of bounds) counted so far. A malformed header entry inside an accepted
// frame is not counted.
func (d *Decoder) Errors() int { return d.errors }

// Feed appends chunk to the internal buffer and returns every whole Message
// that can now be decoded. It may be called repeatedly with chunks of any
// size, including zero-length, and the result is independent of how the
// byte stream was chunked.
func (d *Decoder) Feed(chunk []byte) ([]Message, error) {
	if len(chunk) > 0 {
		d.buf = append(d.buf, chunk...)
	}

	var out []Message
	for {
		if len(d.buf) < minFrameSize {
			return out, nil
		}

		totalLength := binary.BigEndian.Uint32(d.buf[0:4])
		if totalLength < minFrameSize || totalLength > maxFrameSize {
			d.buf = d.buf[1:]
			d.errors++
			if d.MaxErrors > 0 && d.errors > d.MaxErrors {
				return out, ErrBudgetExhausted
			}
			continue
		}

		if uint32(len(d.buf)) < totalLength {
			return out, nil
		}

		frame := d.buf[:totalLength]
		d.buf = d.buf[totalLength:]

		msg, err := d.decodeFrame(frame, totalLength)
		if err != nil {
			d.errors++
			if d.MaxErrors > 0 && d.errors > d.MaxErrors {
				return out, ErrBudgetExhausted
			}
			continue
		}
		out = append(out, msg)
	}
}

func (d *Decoder) decodeFrame(frame []byte, totalLength uint32) (Message, error) {
	headersLength := binary.BigEndian.Uint32(frame[4:8])
	// frame[8:12] is prelude_crc; intentionally unread beyond this point.

	if headersLength > totalLength-minFrameSize {
		return Message{}, fmt.Errorf("eventstream: headers_length %d exceeds frame bounds (total %d)", headersLength, totalLength)
	}

	headersStart := uint32(preludeSize)
	headersEnd := headersStart + headersLength
	payloadEnd := totalLength - 4 // trailing message_crc

	var headers map[string]HeaderValue
	if headersLength > 0 {
		headers = decodeHeaders(frame[headersStart:headersEnd])
	}

	if headersEnd >= payloadEnd {
		return Message{Headers: headers, Payload: nil}, nil
	}
	payload := frame[headersEnd:payloadEnd]
	return Message{Headers: headers, Payload: payload}, nil
}

// decodeHeaders parses as many {name_len, name, value_type, value} entries
// as it can. On a malformed entry (unknown tag, or a declared length that
// would run past the end of the header bytes) it stops and returns whatever
// was decoded so far — the message itself is never rejected.
func decodeHeaders(b []byte) map[string]HeaderValue {
	headers := make(map[string]HeaderValue)
	offset := 0
	for offset < len(b) {
		if offset+1 > len(b) {
			break
		}
		nameLen := int(b[offset])
		offset++
		if offset+nameLen > len(b) {
			break
		}
		name := string(b[offset : offset+nameLen])
		offset += nameLen

		if offset+1 > len(b) {
			break
		}
		valueType := b[offset]
		offset++

		value, next, ok := decodeHeaderValue(b, offset, valueType)
		if !ok {
			break
		}
		offset = next
		headers[name] = value
	}
	return headers
}

func decodeHeaderValue(b []byte, offset int, valueType byte) (HeaderValue, int, bool) {
	switch valueType {
	case 0: // bool true
		return HeaderValue{Type: valueType, Bool: true}, offset, true
	case 1: // bool false
		return HeaderValue{Type: valueType, Bool: false}, offset, true
	case 2: // int8
		if offset+1 > len(b) {
			return HeaderValue{}, offset, false
		}
		return HeaderValue{Type: valueType, Int: int64(int8(b[offset]))}, offset + 1, true
	case 3: // int16
		if offset+2 > len(b) {
			return HeaderValue{}, offset, false
		}
		return HeaderValue{Type: valueType, Int: int64(int16(binary.BigEndian.Uint16(b[offset : offset+2])))}, offset + 2, true
	case 4: // int32
		if offset+4 > len(b) {
			return HeaderValue{}, offset, false
		}
		return HeaderValue{Type: valueType, Int: int64(int32(binary.BigEndian.Uint32(b[offset : offset+4])))}, offset + 4, true
	case 5: // int64
		if offset+8 > len(b) {
			return HeaderValue{}, offset, false
		}
		return HeaderValue{Type: valueType, Int: int64(binary.BigEndian.Uint64(b[offset : offset+8]))}, offset + 8, true
	case 6: // byte array
		if offset+2 > len(b) {
			return HeaderValue{}, offset, false
		}
		n := int(binary.BigEndian.Uint16(b[offset : offset+2]))
		offset += 2
		if offset+n > len(b) {
			return HeaderValue{}, offset, false
		}
		return HeaderValue{Type: valueType, Bytes: append([]byte(nil), b[offset:offset+n]...)}, offset + n, true
	case headerStrType: // utf8 string
		if offset+2 > len(b) {
			return HeaderValue{}, offset, false
		}
		n := int(binary.BigEndian.Uint16(b[offset : offset+2]))
		offset += 2
		if offset+n > len(b) {
			return HeaderValue{}, offset, false
		}
		return HeaderValue{Type: valueType, Str: string(b[offset : offset+n])}, offset + n, true
	case 8: // timestamp, ms since epoch
		if offset+8 > len(b) {
			return HeaderValue{}, offset, false
		}
		return HeaderValue{Type: valueType, Int: int64(binary.BigEndian.Uint64(b[offset : offset+8]))}, offset + 8, true
	case 9: // uuid, 16 bytes; render canonically, falling back to a raw
		// utf8 decode if the remaining bytes don't hold a full 16.
		if offset+16 > len(b) {
			// Not enough bytes for a real uuid: treat the rest as a
			// plain string per the documented fallback.
			s := string(b[offset:])
			return HeaderValue{Type: valueType, Str: s}, len(b), true
		}
		raw := b[offset : offset+16]
		s := fmt.Sprintf("%x-%x-%x-%x-%x", raw[0:4], raw[4:6], raw[6:8], raw[8:10], raw[10:16])
		return HeaderValue{Type: valueType, Str: s}, offset + 16, true
	default:
		return HeaderValue{}, offset, false
	}
}

// EncodeMessage is the inverse of decoding: it serialises headers (only the
// utf8-string and bool value kinds are used by this gateway's own headers)
// and a payload into a single wire frame, including a zeroed prelude CRC and
// message CRC — both unverified by any reader per package doc. Used by
// tests to exercise round-trip decoding.
func EncodeMessage(headers map[string]HeaderValue, payload []byte) []byte {
	var headerBytes []byte
	for name, hv := range headers {
		headerBytes = append(headerBytes, byte(len(name)))
		headerBytes = append(headerBytes, name...)
		headerBytes = append(headerBytes, hv.Type)
		headerBytes = append(headerBytes, encodeHeaderValue(hv)...)
	}

	totalLength := preludeSize + len(headerBytes) + len(payload) + 4
	frame := make([]byte, 0, totalLength)

	prelude := make([]byte, preludeSize)
	binary.BigEndian.PutUint32(prelude[0:4], uint32(totalLength))
	binary.BigEndian.PutUint32(prelude[4:8], uint32(len(headerBytes)))
	// prelude[8:12] prelude_crc left zero.
	frame = append(frame, prelude...)
	frame = append(frame, headerBytes...)
	frame = append(frame, payload...)
	frame = append(frame, 0, 0, 0, 0) // message_crc, unverified.
	return frame
}

func encodeHeaderValue(hv HeaderValue) []byte {
	switch hv.Type {
	case 0, 1:
		return nil
	case 2:
		return []byte{byte(hv.Int)}
	case 3:
		b := make([]byte, 2)
		binary.BigEndian.PutUint16(b, uint16(hv.Int))
		return b
	case 4:
		b := make([]byte, 4)
		binary.BigEndian.PutUint32(b, uint32(hv.Int))
		return b
	case 5:
		b := make([]byte, 8)
		binary.BigEndian.PutUint64(b, uint64(hv.Int))
		return b
	case 6:
		lb := make([]byte, 2)
		binary.BigEndian.PutUint16(lb, uint16(len(hv.Bytes)))
		return append(lb, hv.Bytes...)
	case headerStrType:
		lb := make([]byte, 2)
		binary.BigEndian.PutUint16(lb, uint16(len(hv.Str)))
		return append(lb, hv.Str...)
	case 8:
		b := make([]byte, 8)
		binary.BigEndian.PutUint64(b, uint64(hv.Int))
		return b
	case 9:
		// Not round-tripped from canonical string form; tests construct
		// uuid headers from raw bytes directly when needed.
		return make([]byte, 16)
	default:
		return nil
	}
}
