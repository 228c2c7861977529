package codec

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"unicode/utf8"

	"treemap/message"
)

// ErrTruncated is returned when a binary frame ends before its declared fields.
var ErrTruncated = errors.New("codec: truncated binary frame")

// BinaryCodec is a compact length-prefixed encoding of frames. Payloads stay JSON;
// only the envelope is binary.
//
//	Request:  id u32 | callLen u16 | call | payloadLen u32 | payload
//	Response: id u32 | flags u8 | resultLen u32 | result | kindLen u16 | kind | msgLen u16 | msg
type BinaryCodec struct{}

const (
	flagOK       byte = 1 << 0
	flagHasError byte = 1 << 1
)

func (c *BinaryCodec) Encode(v any) ([]byte, error) {
	switch msg := v.(type) {
	case *message.Request:
		if len(msg.Call) > math.MaxUint16 {
			return nil, fmt.Errorf("codec: call name too long (%d bytes)", len(msg.Call))
		}
		buf := make([]byte, 0, 4+2+len(msg.Call)+4+len(msg.Payload))
		buf = binary.BigEndian.AppendUint32(buf, msg.ID)
		buf = appendString16(buf, msg.Call)
		buf = appendBytes32(buf, msg.Payload)
		return buf, nil
	case *message.Response:
		var flags byte
		kind, text := "", ""
		if msg.OK {
			flags |= flagOK
		}
		if msg.Error != nil {
			flags |= flagHasError
			kind, text = msg.Error.Kind, msg.Error.Message
		}
		if len(kind) > math.MaxUint16 {
			return nil, fmt.Errorf("codec: error kind too long (%d bytes)", len(kind))
		}
		if len(text) > math.MaxUint16 {
			// Cut on a rune boundary so the message stays valid UTF-8.
			n := math.MaxUint16
			for n > 0 && !utf8.RuneStart(text[n]) {
				n--
			}
			text = text[:n]
		}
		buf := make([]byte, 0, 4+1+4+len(msg.Result)+2+len(kind)+2+len(text))
		buf = binary.BigEndian.AppendUint32(buf, msg.ID)
		buf = append(buf, flags)
		buf = appendBytes32(buf, msg.Result)
		buf = appendString16(buf, kind)
		buf = appendString16(buf, text)
		return buf, nil
	default:
		return nil, fmt.Errorf("%w: %T", ErrUnsupportedValue, v)
	}
}

func (c *BinaryCodec) Decode(data []byte, v any) error {
	r := reader{data: data}
	switch msg := v.(type) {
	case *message.Request:
		msg.ID = r.u32()
		msg.Call = r.string16()
		msg.Payload = r.bytes32()
	case *message.Response:
		msg.ID = r.u32()
		flags := r.u8()
		msg.OK = flags&flagOK != 0
		msg.Result = r.bytes32()
		kind := r.string16()
		text := r.string16()
		msg.Error = nil
		if flags&flagHasError != 0 {
			msg.Error = &message.Failure{Kind: kind, Message: text}
		}
	default:
		return fmt.Errorf("%w: %T", ErrUnsupportedValue, v)
	}
	return r.err
}

func (c *BinaryCodec) Type() CodecType {
	return CodecTypeBinary
}

func appendString16(buf []byte, s string) []byte {
	buf = binary.BigEndian.AppendUint16(buf, uint16(len(s)))
	return append(buf, s...)
}

func appendBytes32(buf []byte, b []byte) []byte {
	buf = binary.BigEndian.AppendUint32(buf, uint32(len(b)))
	return append(buf, b...)
}

// reader consumes a binary frame and remembers the first truncation.
type reader struct {
	data []byte
	off  int
	err  error
}

func (r *reader) take(n int) []byte {
	if r.err != nil {
		return nil
	}
	if n < 0 || len(r.data)-r.off < n {
		r.err = ErrTruncated
		return nil
	}
	b := r.data[r.off : r.off+n]
	r.off += n
	return b
}

func (r *reader) u8() byte {
	b := r.take(1)
	if b == nil {
		return 0
	}
	return b[0]
}

func (r *reader) u32() uint32 {
	b := r.take(4)
	if b == nil {
		return 0
	}
	return binary.BigEndian.Uint32(b)
}

func (r *reader) string16() string {
	lb := r.take(2)
	if lb == nil {
		return ""
	}
	return string(r.take(int(binary.BigEndian.Uint16(lb))))
}

func (r *reader) bytes32() []byte {
	lb := r.take(4)
	if lb == nil {
		return nil
	}
	n := binary.BigEndian.Uint32(lb)
	if n == 0 {
		return nil
	}
	b := r.take(int(n))
	if b == nil {
		return nil
	}
	return append([]byte(nil), b...)
}
