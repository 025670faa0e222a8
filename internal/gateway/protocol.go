package gateway

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// Frame layout: 'z' | type | total length | sequence | body... | crc8.
const (
	headerStart  = 'z'
	frameCommand = 'C'
	frameMessage = 'M'
	frameReply   = 'R'

	frameOverhead = 5
	maxFrameLen   = 64
)

// Message kinds sent by the field board.
const (
	msgKeypad      byte = 0x01
	msgSensorEvent byte = 0x02
	msgContacts    byte = 0x03
	msgBinary      byte = 0x04
	msgRange       byte = 0x05
)

// Command kinds sent to the field board.
const (
	cmdLock      byte = 0x10
	cmdBuzzer    byte = 0x11
	cmdKeepalive byte = 0x12
)

// Lock channels and buzzer patterns on the wire.
const (
	ChannelDoor   byte = 1
	ChannelWindow byte = 2

	buzzerStop  byte = 0
	buzzerWarn  byte = 1
	buzzerAlert byte = 2
)

// Binary sample channels: PIR 1..3 then the vibration input.
const binaryVibration byte = 4

var (
	ErrBadHeader = errors.New("bad frame header")
	ErrBadCRC    = errors.New("bad frame crc")
	ErrShort     = errors.New("frame too short")
)

type Frame struct {
	Type     byte
	Sequence uint8
	Body     []byte
}

func crc8(data []byte) byte {
	crc := byte(0xFF)
	for _, b := range data {
		crc ^= b
		for i := 0; i < 8; i++ {
			if crc&0x80 != 0 {
				crc = (crc << 1) ^ 0x85
			} else {
				crc <<= 1
			}
		}
	}
	return crc
}

func encodeFrame(frameType byte, seq uint8, body []byte) []byte {
	length := byte(frameOverhead + len(body))
	packet := make([]byte, length)
	packet[0] = headerStart
	packet[1] = frameType
	packet[2] = length
	packet[3] = seq
	copy(packet[4:], body)
	packet[length-1] = crc8(packet[:length-1])
	return packet
}

// Decoder splits a byte stream into frames. Garbage before a header byte is skipped.
type Decoder struct {
	buf []byte
}

// Feed appends data and returns every complete frame. Frames failing the CRC
// are reported in errs and dropped.
func (d *Decoder) Feed(data []byte) (frames []Frame, errs []error) {
	d.buf = append(d.buf, data...)
	for {
		start := -1
		for i, b := range d.buf {
			if b == headerStart {
				start = i
				break
			}
		}
		if start < 0 {
			d.buf = d.buf[:0]
			return frames, errs
		}
		d.buf = d.buf[start:]
		if len(d.buf) < 3 {
			return frames, errs
		}
		length := int(d.buf[2])
		if length < frameOverhead || length > maxFrameLen {
			errs = append(errs, fmt.Errorf("%w: length %d", ErrBadHeader, length))
			d.buf = d.buf[1:]
			continue
		}
		if len(d.buf) < length {
			return frames, errs
		}
		raw := d.buf[:length]
		d.buf = d.buf[length:]
		f, err := decodeFrame(raw)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		frames = append(frames, f)
	}
}

func decodeFrame(raw []byte) (Frame, error) {
	if len(raw) < frameOverhead {
		return Frame{}, ErrShort
	}
	if raw[0] != headerStart || int(raw[2]) != len(raw) {
		return Frame{}, ErrBadHeader
	}
	if crc8(raw[:len(raw)-1]) != raw[len(raw)-1] {
		return Frame{}, fmt.Errorf("%w: %x", ErrBadCRC, raw)
	}
	body := make([]byte, len(raw)-frameOverhead)
	copy(body, raw[4:len(raw)-1])
	return Frame{Type: raw[1], Sequence: raw[3], Body: body}, nil
}

// rangeCm reads a signed little-endian distance; negative means no echo.
func rangeCm(b []byte) int {
	return int(int16(binary.LittleEndian.Uint16(b)))
}
