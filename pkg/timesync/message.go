// ABOUTME: Fixed-layout binary messages for the time sync protocol
// ABOUTME: Encodes and decodes timeinit, timesync and timedone buffers
package timesync

import (
	"encoding/binary"
	"fmt"
	"math"
)

const (
	// TagSize is the length of the ASCII tag at the start of every message
	TagSize = 8

	// InitSize, SyncSize and DoneSize are the full message lengths
	InitSize = TagSize + 8
	SyncSize = TagSize + 8
	DoneSize = TagSize + 8 + 8

	timeOffset   = TagSize
	offsetOffset = TagSize + 8
)

// Kind identifies a protocol message by its tag
type Kind int

const (
	KindUnknown Kind = iota
	KindInit
	KindSync
	KindDone
)

var kindTags = map[Kind]string{
	KindInit: "timeinit",
	KindSync: "timesync",
	KindDone: "timedone",
}

// Tag returns the 8-byte ASCII tag for the kind
func (k Kind) Tag() string {
	return kindTags[k]
}

// Size returns the encoded length of a message of this kind, 0 if unknown
func (k Kind) Size() int {
	switch k {
	case KindInit:
		return InitSize
	case KindSync:
		return SyncSize
	case KindDone:
		return DoneSize
	}
	return 0
}

func (k Kind) String() string {
	if tag, ok := kindTags[k]; ok {
		return tag
	}
	return "unknown"
}

// KindOf reads the tag of a raw buffer. Buffers shorter than a tag are unknown.
func KindOf(b []byte) Kind {
	if len(b) < TagSize {
		return KindUnknown
	}
	tag := string(b[:TagSize])
	for k, t := range kindTags {
		if t == tag {
			return k
		}
	}
	return KindUnknown
}

// Message is one protocol step.
//
// Time holds tc1 for Init, tserver for Sync and the client midpoint for Done.
// Offset is only carried by Done.
type Message struct {
	Kind   Kind
	Time   float64
	Offset float64
}

// MarshalBinary encodes the message with little-endian float64 payloads
func (m Message) MarshalBinary() ([]byte, error) {
	size := m.Kind.Size()
	if size == 0 {
		return nil, fmt.Errorf("cannot encode message of kind %d", m.Kind)
	}

	buf := make([]byte, size)
	copy(buf, m.Kind.Tag())
	putFloat(buf[timeOffset:], m.Time)
	if m.Kind == KindDone {
		putFloat(buf[offsetOffset:], m.Offset)
	}
	return buf, nil
}

// UnmarshalBinary decodes a buffer. Trailing bytes past the fixed layout are ignored.
func (m *Message) UnmarshalBinary(b []byte) error {
	kind := KindOf(b)
	if kind == KindUnknown {
		return fmt.Errorf("unknown message tag %q", printableTag(b))
	}
	if len(b) < kind.Size() {
		return fmt.Errorf("%s message too short: %d bytes, want %d", kind, len(b), kind.Size())
	}

	m.Kind = kind
	m.Time = getFloat(b[timeOffset:])
	m.Offset = 0
	if kind == KindDone {
		m.Offset = getFloat(b[offsetOffset:])
	}
	return nil
}

// ParseMessage decodes a raw buffer into a Message
func ParseMessage(b []byte) (Message, error) {
	var m Message
	err := m.UnmarshalBinary(b)
	return m, err
}

// encode is MarshalBinary for kinds known to be valid
func encode(m Message) []byte {
	buf, err := m.MarshalBinary()
	if err != nil {
		panic(err)
	}
	return buf
}

func putFloat(b []byte, v float64) {
	binary.LittleEndian.PutUint64(b, math.Float64bits(v))
}

func getFloat(b []byte) float64 {
	return math.Float64frombits(binary.LittleEndian.Uint64(b))
}

func printableTag(b []byte) string {
	if len(b) > TagSize {
		b = b[:TagSize]
	}
	return string(b)
}
