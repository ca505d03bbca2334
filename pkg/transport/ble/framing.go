// Package ble implements the FIDO2 GATT transport: fragmentation and
// reassembly of APDU/CBOR payloads into BLE characteristic writes/notifies
// (spec.md §4.6), and a Channel built on top of that framing.
//
// The teacher's pkg/ble only ever scans caBLE advertisements; it never
// implements classic GATT FIDO framing, so this file is new code grounded
// directly in the wire layout spec.md gives verbatim.
package ble

import "fmt"

// Command bytes for an initialization frame; the high bit is always set.
const (
	CmdPing      byte = 0x81
	CmdKeepAlive byte = 0x82
	CmdMsg       byte = 0x83
	CmdCancel    byte = 0xBE
	CmdError     byte = 0xBF
)

// Keep-alive status bytes carried in a KEEPALIVE frame's single payload byte.
const (
	KeepAliveProcessing byte = 0x01
	KeepAliveUpNeeded   byte = 0x02
)

// Error codes carried in an ERROR frame's single payload byte.
const (
	ErrInvalidCmd  byte = 0x01
	ErrInvalidPar  byte = 0x02
	ErrInvalidLen  byte = 0x03
	ErrInvalidSeq  byte = 0x04
	ErrReqTimeout  byte = 0x05
	ErrBusy        byte = 0x06
	ErrOther       byte = 0x7F
)

// GATT service and characteristic UUIDs (spec.md §4.6).
const (
	ServiceUUID                 = "0000FFFD-0000-1000-8000-00805F9B34FB"
	CharControlPointUUID        = "F1D0FFF1-DEAA-ECEE-B42F-C9BA7ED623BB"
	CharStatusUUID              = "F1D0FFF2-DEAA-ECEE-B42F-C9BA7ED623BB"
	CharControlPointLengthUUID  = "F1D0FFF3-DEAA-ECEE-B42F-C9BA7ED623BB"
	CharServiceRevisionBitfield = "F1D0FFF4-DEAA-ECEE-B42F-C9BA7ED623BB"
)

// Service revision bitfield bits (fidoServiceRevisionBitfield).
const (
	RevisionBitU2Fv11 byte = 1 << 7
	RevisionBitU2Fv12 byte = 1 << 6
	RevisionBitFIDO2  byte = 1 << 5
)

// Fragment splits a single MSG payload into the initialization frame
// followed by however many continuation frames are needed, each sized to
// fit within mtu bytes of a single GATT write. The initialization frame
// payload is MTU-3 bytes (1 cmd + 2 length bytes of overhead); continuation
// frame payloads are MTU-1 bytes (1 seq byte of overhead), per spec.md
// §4.6's fragmentation rule.
func Fragment(cmd byte, payload []byte, mtu int) ([][]byte, error) {
	if mtu < 4 {
		return nil, fmt.Errorf("ble: mtu %d too small to carry a frame", mtu)
	}
	if len(payload) > 0xFFFF {
		return nil, fmt.Errorf("ble: payload length %d exceeds the 16-bit length field", len(payload))
	}

	initCap := mtu - 3
	contCap := mtu - 1

	frames := make([][]byte, 0, 1+len(payload)/contCap+1)

	n := len(payload)
	initLen := n
	if initLen > initCap {
		initLen = initCap
	}
	init := make([]byte, 0, 3+initLen)
	init = append(init, cmd, byte(n>>8), byte(n))
	init = append(init, payload[:initLen]...)
	frames = append(frames, init)

	rest := payload[initLen:]
	seq := byte(0)
	for len(rest) > 0 {
		if seq > 0x7F {
			return nil, fmt.Errorf("ble: message requires more than 128 continuation frames at mtu=%d", mtu)
		}
		chunkLen := len(rest)
		if chunkLen > contCap {
			chunkLen = contCap
		}
		cont := make([]byte, 0, 1+chunkLen)
		cont = append(cont, seq)
		cont = append(cont, rest[:chunkLen]...)
		frames = append(frames, cont)
		rest = rest[chunkLen:]
		seq++
	}

	return frames, nil
}

// Reassembler accumulates continuation frames following one initialization
// frame until the declared payload length is reached. To reuse it for the
// next message, call Reset (a new initialization frame also restarts it).
type Reassembler struct {
	cmd       byte
	total     int
	buf       []byte
	nextSeq   byte
	started   bool
}

// Feed processes one frame (initialization or continuation). It returns
// done=true once the full payload has been reassembled, at which point
// Payload and Command report the result.
func (r *Reassembler) Feed(frame []byte) (done bool, err error) {
	if len(frame) == 0 {
		return false, fmt.Errorf("ble: empty frame")
	}

	isInit := frame[0]&0x80 != 0

	if isInit {
		if len(frame) < 3 {
			return false, fmt.Errorf("ble: initialization frame shorter than 3 bytes")
		}
		r.cmd = frame[0]
		r.total = int(frame[1])<<8 | int(frame[2])
		r.buf = append(r.buf[:0], frame[3:]...)
		r.nextSeq = 0
		r.started = true
		return r.checkDone(), nil
	}

	if !r.started {
		return false, fmt.Errorf("ble: continuation frame with no preceding initialization frame")
	}
	seq := frame[0]
	if seq != r.nextSeq {
		return false, fmt.Errorf("ble: %w: expected seq %d, got %d", ErrInvalidSequence, r.nextSeq, seq)
	}
	r.buf = append(r.buf, frame[1:]...)
	r.nextSeq++
	return r.checkDone(), nil
}

func (r *Reassembler) checkDone() bool {
	return len(r.buf) >= r.total
}

// Command returns the command byte of the completed message.
func (r *Reassembler) Command() byte { return r.cmd }

// Payload returns the reassembled payload, truncated to the declared length
// (a fragmentation run never overshoots it by more than mtu-1 bytes, since
// Fragment never pads).
func (r *Reassembler) Payload() []byte { return r.buf[:r.total] }

// Reset clears a Reassembler for reuse on the next message.
func (r *Reassembler) Reset() {
	r.cmd = 0
	r.total = 0
	r.buf = r.buf[:0]
	r.nextSeq = 0
	r.started = false
}

// ErrInvalidSequence is returned (wrapped) when a continuation frame's SEQ
// skips ahead of, repeats, or wraps past the expected value.
var ErrInvalidSequence = fmt.Errorf("ble: continuation frame sequence number out of order")

// Reassemble is a convenience wrapper for the common case of reassembling a
// complete, already-collected run of frames in one call.
func Reassemble(frames [][]byte) (cmd byte, payload []byte, err error) {
	var r Reassembler
	for i, f := range frames {
		done, err := r.Feed(f)
		if err != nil {
			return 0, nil, err
		}
		if done && i != len(frames)-1 {
			return 0, nil, fmt.Errorf("ble: payload complete before all frames consumed")
		}
		if !done && i == len(frames)-1 {
			return 0, nil, fmt.Errorf("ble: frames exhausted before payload complete")
		}
	}
	return r.Command(), append([]byte(nil), r.Payload()...), nil
}
