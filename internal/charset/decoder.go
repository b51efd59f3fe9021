// Package charset decodes bytes received from remote shells using an ordered
// fallback chain of text encodings.
package charset

import (
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/ianaindex"
)

// DefaultEncodings is the fallback order used when none is configured.
var DefaultEncodings = []string{"utf-8", "shift_jis", "euc-jp"}

// ErrUndecodable is returned when no encoding in the chain accepts the input.
var ErrUndecodable = errors.New("no encoding in chain could decode input")

type candidate struct {
	name string
	enc  encoding.Encoding // nil for the built-in utf-8 and ascii checks
}

// Decoder decodes a stream of chunks. A multi-byte UTF-8 sequence split
// across two reads is held back until the rest arrives.
type Decoder struct {
	chain   []candidate
	pending []byte
}

// New builds a decoder for the given encoding names, in priority order.
func New(names ...string) (*Decoder, error) {
	if len(names) == 0 {
		names = DefaultEncodings
	}
	d := &Decoder{}
	for _, name := range names {
		c, err := resolve(name)
		if err != nil {
			return nil, err
		}
		d.chain = append(d.chain, c)
	}
	return d, nil
}

// MustNew is New for fixed, known-good names.
func MustNew(names ...string) *Decoder {
	d, err := New(names...)
	if err != nil {
		panic(err)
	}
	return d
}

func resolve(name string) (candidate, error) {
	key := strings.ToLower(strings.TrimSpace(name))
	switch key {
	case "utf-8", "utf8":
		return candidate{name: "utf-8"}, nil
	case "ascii", "us-ascii":
		return candidate{name: "ascii"}, nil
	}
	enc, err := ianaindex.IANA.Encoding(key)
	if err != nil {
		return candidate{}, fmt.Errorf("unknown encoding %q: %w", name, err)
	}
	if enc == nil {
		return candidate{}, fmt.Errorf("unsupported encoding %q", name)
	}
	return candidate{name: key, enc: enc}, nil
}

// Names returns the resolved chain.
func (d *Decoder) Names() []string {
	out := make([]string, len(d.chain))
	for i, c := range d.chain {
		out[i] = c.name
	}
	return out
}

// Decode decodes the next chunk of a stream. On failure it returns "" and
// ErrUndecodable; the bytes are dropped.
func (d *Decoder) Decode(b []byte) (string, error) {
	data := b
	if len(d.pending) > 0 {
		data = append(d.pending, b...)
		d.pending = nil
	}
	if len(data) == 0 {
		return "", nil
	}

	if d.prefersUTF8() && !utf8.Valid(data) {
		if head, tail, ok := splitIncomplete(data); ok {
			d.pending = append([]byte(nil), tail...)
			return string(head), nil
		}
	}
	return d.DecodeAll(data)
}

// Flush decodes whatever is still held back.
func (d *Decoder) Flush() (string, error) {
	if len(d.pending) == 0 {
		return "", nil
	}
	data := d.pending
	d.pending = nil
	return d.DecodeAll(data)
}

// DecodeAll decodes a complete buffer with no carry-over.
func (d *Decoder) DecodeAll(data []byte) (string, error) {
	if len(data) == 0 {
		return "", nil
	}
	for _, c := range d.chain {
		if s, ok := tryDecode(c, data); ok {
			return s, nil
		}
	}
	return "", ErrUndecodable
}

func (d *Decoder) prefersUTF8() bool {
	return len(d.chain) > 0 && d.chain[0].name == "utf-8"
}

func tryDecode(c candidate, b []byte) (string, bool) {
	switch c.name {
	case "utf-8":
		if utf8.Valid(b) {
			return string(b), true
		}
		return "", false
	case "ascii":
		for _, ch := range b {
			if ch >= utf8.RuneSelf {
				return "", false
			}
		}
		return string(b), true
	}
	decoded, err := c.enc.NewDecoder().Bytes(b)
	if err != nil {
		return "", false
	}
	// x/text decoders substitute U+FFFD rather than failing.
	if !utf8.Valid(decoded) || strings.ContainsRune(string(decoded), utf8.RuneError) {
		return "", false
	}
	return string(decoded), true
}

// splitIncomplete separates a trailing partial UTF-8 sequence from an
// otherwise valid buffer.
func splitIncomplete(b []byte) (head, tail []byte, ok bool) {
	for i := len(b) - 1; i >= 0 && i >= len(b)-utf8.UTFMax+1; i-- {
		if !utf8.RuneStart(b[i]) {
			continue
		}
		if utf8.FullRune(b[i:]) || !utf8.Valid(b[:i]) {
			return nil, nil, false
		}
		return b[:i], b[i:], true
	}
	return nil, nil, false
}
