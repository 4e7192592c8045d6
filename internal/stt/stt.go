// Package stt implements the Douyu STT wire codec: the escaped key-value
// text encoding used for login, heartbeat and chat messages, and the
// binary frame envelope they travel in.
//
// Frame layout (12-byte header, little-endian):
//
//	[0-3]   length   uint32  header size + body size + 1 (NUL terminator)
//	[4-7]   length   uint32  repeated for validation
//	[8-9]   type     uint16  689 client->server, 690 server->client
//	[10]    encrypt  uint8   always 0
//	[11]    reserved uint8   always 0
//
// The length prefix itself is not counted, so a full frame occupies
// 4 + length bytes on the wire.
package stt

import (
	"encoding/binary"
	"strings"
)

const (
	lengthSize  = 4
	typeSize    = 2
	encryptSize = 1
	otherSize   = 1

	// HeaderSize is the byte size of a frame header, including both
	// length fields.
	HeaderSize = lengthSize + lengthSize + typeSize + encryptSize + otherSize

	// MaxFrameSize is the gateway's physical frame cap. A received frame
	// of this size or larger is a partial chunk of a fragmented logical
	// message.
	MaxFrameSize = 1 << 14

	// TypeUpstream tags client-originated frames, TypeDownstream
	// server-originated ones.
	TypeUpstream   uint16 = 689
	TypeDownstream uint16 = 690
)

// Field is one key/value pair of an STT message. Messages are rendered in
// field order; the gateway is sensitive to it for login.
type Field struct {
	Key   string
	Value string
}

// Escape replaces the STT metacharacters so a string can be embedded as a
// key or value: "@" becomes "@A" and "/" becomes "@S".
func Escape(s string) string {
	s = strings.ReplaceAll(s, "@", "@A")
	return strings.ReplaceAll(s, "/", "@S")
}

// Unescape reverses Escape.
func Unescape(s string) string {
	s = strings.ReplaceAll(s, "@A", "@")
	return strings.ReplaceAll(s, "@S", "/")
}

// Render serializes fields as "k1@=v1/k2@=v2/.../" with keys and values
// escaped. Any string content is renderable; there are no error cases.
func Render(fields []Field) string {
	var b strings.Builder
	for _, f := range fields {
		b.WriteString(Escape(f.Key))
		b.WriteString("@=")
		b.WriteString(Escape(f.Value))
		b.WriteString("/")
	}
	return b.String()
}

// Parse decodes an STT text into either a map[string]any or a plain
// string. The decision is purely syntactic: text containing "@=" is a
// mapping, anything else is a string leaf after unescaping. Mapping
// values are parsed recursively, so an escaped STT document nested inside
// a value comes back as a nested map. Empty or malformed items contribute
// no entries; an all-empty item list yields an empty map.
func Parse(text string) any {
	if !strings.Contains(text, "@=") {
		return Unescape(text)
	}
	items := strings.Split(text, "/")
	if n := len(items); n > 0 && items[n-1] == "" {
		items = items[:n-1]
	}
	m := make(map[string]any, len(items))
	for _, item := range items {
		if item == "" {
			continue
		}
		k, v, ok := strings.Cut(item, "@=")
		if !ok {
			continue
		}
		m[Unescape(k)] = Parse(Unescape(v))
	}
	return m
}

// Pack wraps a message body in an upstream frame: header, UTF-8 body, one
// NUL terminator.
func Pack(body string) []byte {
	return PackType(body, TypeUpstream)
}

// PackType is Pack with an explicit message type tag.
func PackType(body string, msgType uint16) []byte {
	length := uint32(HeaderSize - lengthSize + len(body) + 1)
	buf := make([]byte, 0, lengthSize+int(length))
	buf = binary.LittleEndian.AppendUint32(buf, length)
	buf = binary.LittleEndian.AppendUint32(buf, length)
	buf = binary.LittleEndian.AppendUint16(buf, msgType)
	buf = append(buf, 0, 0)
	buf = append(buf, body...)
	buf = append(buf, 0)
	return buf
}

// Unpack walks a buffer of zero or more concatenated frames and returns
// their bodies, header and terminator stripped. Decoding is best-effort:
// a truncated trailing frame ends the walk without error, and bodies are
// returned as-is even if they contain invalid UTF-8.
func Unpack(buf []byte) []string {
	var bodies []string
	for off := 0; off < len(buf); {
		if len(buf)-off < HeaderSize {
			break
		}
		length := int(binary.LittleEndian.Uint32(buf[off:]))
		end := off + lengthSize + length
		if length < HeaderSize-lengthSize+1 || end > len(buf) {
			break
		}
		body := buf[off+HeaderSize : end-1]
		bodies = append(bodies, string(body))
		off = end
	}
	return bodies
}
