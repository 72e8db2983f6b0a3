package supervisor

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/htmlindex"
	"golang.org/x/text/encoding/unicode"
)

// Decoder turns raw backend output into text. Bytes that are not valid in
// the configured encoding become U+FFFD; decoding never fails.
type Decoder struct {
	name string
	utf8 bool
	dec  *encoding.Decoder
}

// NewDecoder returns a decoder for a WHATWG encoding label such as "utf-8"
// or "windows-1252". An empty name means UTF-8.
func NewDecoder(name string) (*Decoder, error) {
	if name == "" {
		name = "utf-8"
	}
	enc, err := htmlindex.Get(name)
	if err != nil {
		return nil, fmt.Errorf("unknown output encoding %q: %w", name, err)
	}
	canonical, err := htmlindex.Name(enc)
	if err != nil {
		canonical = name
	}
	return &Decoder{
		name: canonical,
		utf8: enc == unicode.UTF8,
		dec:  enc.NewDecoder(),
	}, nil
}

// Name returns the canonical encoding name.
func (d *Decoder) Name() string {
	return d.name
}

// Decode converts b to text. anomaly reports that some bytes could not be
// decoded and were replaced. A Decoder is not safe for concurrent use.
func (d *Decoder) Decode(b []byte) (text string, anomaly bool) {
	if d.utf8 && utf8.Valid(b) {
		return string(b), false
	}

	out, err := d.dec.Bytes(b)
	if err != nil {
		return strings.ToValidUTF8(string(b), "\uFFFD"), true
	}
	if d.utf8 {
		return string(out), true
	}
	return string(out), strings.ContainsRune(string(out), utf8.RuneError)
}
