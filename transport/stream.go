package transport

import (
	"fmt"
	"net"
	"sync"
	"time"

	"treemap/codec"
	"treemap/protocol"
)

// Stream carries frames over a byte stream (TCP) using protocol framing.
// Both peers must agree on the codec; a frame announcing another codec closes
// the stream with ErrCodecMismatch.
//
// With a non-zero heartbeat interval the stream sends a heartbeat frame every
// interval. Once the peer has sent a heartbeat of its own, three silent
// intervals from it mean a dead connection. A peer that never heartbeats is
// never timed out: it may be waiting on a slow call with nothing to say.
type Stream struct {
	*hub
	conn      net.Conn
	codec     codec.CodecType
	heartbeat time.Duration
	wmu       sync.Mutex // Frames from different goroutines must not interleave
}

// NewStream wraps conn. Reading and heartbeats start with the first Subscribe.
func NewStream(conn net.Conn, codecType codec.CodecType, heartbeat time.Duration) *Stream {
	s := &Stream{
		conn:      conn,
		codec:     codecType,
		heartbeat: heartbeat,
	}
	s.hub = newHub(s.run)
	return s
}

// DialStream connects to a treemap stream listener.
func DialStream(network, address string, codecType codec.CodecType, heartbeat time.Duration) (*Stream, error) {
	conn, err := net.Dial(network, address)
	if err != nil {
		return nil, err
	}
	return NewStream(conn, codecType, heartbeat), nil
}

// Codec returns the codec both peers frame bodies with.
func (s *Stream) Codec() codec.Codec {
	return codec.GetCodec(s.codec)
}

// RemoteAddr returns the peer address.
func (s *Stream) RemoteAddr() net.Addr {
	return s.conn.RemoteAddr()
}

func (s *Stream) Send(frame []byte) {
	if s.isClosed() {
		return
	}
	if err := s.write(protocol.MsgTypeData, frame); err != nil {
		s.fail(err)
	}
}

func (s *Stream) Close() error {
	if s.shutdown(nil) {
		return s.conn.Close()
	}
	return nil
}

func (s *Stream) write(mt protocol.MsgType, body []byte) error {
	header := protocol.Header{
		CodecType: byte(s.codec),
		MsgType:   mt,
		BodyLen:   uint32(len(body)),
	}
	s.wmu.Lock()
	defer s.wmu.Unlock()
	return protocol.Encode(s.conn, &header, body)
}

func (s *Stream) run() {
	if s.heartbeat > 0 {
		go s.heartbeatLoop()
	}
	s.readLoop()
}

// readLoop is the only reader of conn; frame boundaries depend on sequential reads.
func (s *Stream) readLoop() {
	peerBeats := false
	for {
		if s.heartbeat > 0 && peerBeats {
			s.conn.SetReadDeadline(time.Now().Add(3 * s.heartbeat))
		}
		header, body, err := protocol.Decode(s.conn)
		if err != nil {
			s.fail(err)
			return
		}
		if header.MsgType == protocol.MsgTypeHeartbeat {
			peerBeats = true
			continue
		}
		if header.CodecType != byte(s.codec) {
			s.fail(fmt.Errorf("%w: got %s, want %s", ErrCodecMismatch, codec.CodecType(header.CodecType), s.codec))
			return
		}
		s.deliver(body)
	}
}

func (s *Stream) heartbeatLoop() {
	ticker := time.NewTicker(s.heartbeat)
	defer ticker.Stop()
	for {
		select {
		case <-s.done:
			return
		case <-ticker.C:
			if err := s.write(protocol.MsgTypeHeartbeat, nil); err != nil {
				s.fail(err)
				return
			}
		}
	}
}

func (s *Stream) fail(err error) {
	if s.shutdown(err) {
		s.conn.Close()
	}
}
