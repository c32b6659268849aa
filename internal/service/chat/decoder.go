package chat

import (
	"unicode/utf8"

	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"
)

// Decoder turns an arbitrary split byte stream into text. A multi-byte rune cut across two
// chunks is held back until its remaining bytes arrive; invalid bytes become U+FFFD.
type Decoder struct {
	t       transform.Transformer
	pending []byte
}

// NewDecoder returns a UTF-8 stream decoder.
func NewDecoder() *Decoder {
	return &Decoder{t: unicode.UTF8.NewDecoder()}
}

// Decode consumes chunk and returns every complete character decoded so far.
func (d *Decoder) Decode(chunk []byte) string {
	return d.run(chunk, false)
}

// Flush decodes whatever is still pending at end of stream.
func (d *Decoder) Flush() string {
	out := d.run(nil, true)
	d.t.Reset()
	return out
}

func (d *Decoder) run(chunk []byte, atEOF bool) string {
	src := append(d.pending, chunk...)
	if len(src) == 0 {
		return ""
	}
	// Every invalid byte may expand to a 3-byte replacement character.
	dst := make([]byte, len(src)*3+utf8.UTFMax)

	nDst, nSrc, err := d.t.Transform(dst, src, atEOF)
	if err != nil && err != transform.ErrShortSrc {
		// Not reachable with the sizing above; degrade to passing the bytes through.
		d.pending = nil
		return string(src)
	}
	d.pending = append([]byte(nil), src[nSrc:]...)
	return string(dst[:nDst])
}
