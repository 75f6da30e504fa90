// Package streaming holds the stages between a remote answer body and the
// caller's partial callbacks: UTF-8 decoding, pacing and delimiter handling.
package streaming

import (
	"context"
	"errors"
	"io"
	"strings"
	"time"
	"unicode/utf8"

	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"
)

// Delimiter separates the prose answer from the JSON document list in a
// remote response.
const Delimiter = "\n---DOCS---\n"

const readBufferSize = 4 << 10

// NewDecoder returns a reader that yields valid UTF-8 from r. Multi-byte
// sequences split across reads are joined; invalid bytes become U+FFFD.
func NewDecoder(r io.Reader) io.Reader {
	return transform.NewReader(r, unicode.UTF8.NewDecoder())
}

// Pump decodes r and calls fn with each chunk of text as it arrives. It
// returns nil at EOF, ctx.Err() if ctx is done between reads, or the read
// error.
func Pump(ctx context.Context, r io.Reader, fn func(chunk string) error) error {
	dec := NewDecoder(r)
	buf := make([]byte, readBufferSize)
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		n, err := dec.Read(buf)
		if n > 0 {
			if ferr := fn(string(buf[:n])); ferr != nil {
				return ferr
			}
		}
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}
	}
}

// Visible returns the part of an accumulating response that may be shown:
// everything before the delimiter. A trailing fragment that could be the
// start of the delimiter is held back too.
func Visible(text string) string {
	if i := strings.Index(text, Delimiter); i >= 0 {
		return text[:i]
	}
	for k := len(Delimiter) - 1; k > 0; k-- {
		if strings.HasSuffix(text, Delimiter[:k]) {
			return text[:len(text)-k]
		}
	}
	return text
}

// Split separates a complete response into trimmed prose and the raw
// suffix after the first delimiter. ok is false when there is no delimiter.
func Split(text string) (prose, suffix string, ok bool) {
	i := strings.Index(text, Delimiter)
	if i < 0 {
		return strings.TrimSpace(text), "", false
	}
	return strings.TrimSpace(text[:i]), strings.TrimSpace(text[i+len(Delimiter):]), true
}

// Typewriter re-chunks text into pieces of Size runes, pausing Delay
// between pieces for a typing effect.
type Typewriter struct {
	Size  int
	Delay time.Duration
}

// Write calls fn with successive pieces of text. A Size of zero or less
// passes text through whole; a zero Delay does not pause. It stops early
// with ctx.Err() if ctx is done while pausing.
func (tw Typewriter) Write(ctx context.Context, text string, fn func(piece string)) error {
	p := tw.Pacer()
	defer p.Stop()
	if err := p.Push(ctx, text, fn); err != nil {
		return err
	}
	return p.Flush(ctx, fn)
}

// Pacer is a Typewriter that keeps its position across chunks of one
// stream. Text is regrouped into pieces of Size runes regardless of how it
// was chunked, and every piece after the first waits Delay. A Pacer is not
// safe for concurrent use.
type Pacer struct {
	tw      Typewriter
	pending string
	emitted int
	timer   *time.Timer
}

// Pacer returns a Pacer for one stream. Call Stop when done.
func (tw Typewriter) Pacer() *Pacer {
	return &Pacer{tw: tw}
}

// Push appends chunk and emits every complete piece. A trailing piece
// shorter than Size is held until more text arrives or Flush is called.
func (p *Pacer) Push(ctx context.Context, chunk string, fn func(piece string)) error {
	if chunk == "" {
		return nil
	}
	if p.tw.Size <= 0 {
		return p.emit(ctx, chunk, fn)
	}
	p.pending += chunk
	for utf8.RuneCountInString(p.pending) >= p.tw.Size {
		cut := runeOffset(p.pending, p.tw.Size)
		piece := p.pending[:cut]
		p.pending = p.pending[cut:]
		if err := p.emit(ctx, piece, fn); err != nil {
			return err
		}
	}
	return nil
}

// Flush emits whatever is held back.
func (p *Pacer) Flush(ctx context.Context, fn func(piece string)) error {
	if p.pending == "" {
		return nil
	}
	piece := p.pending
	p.pending = ""
	return p.emit(ctx, piece, fn)
}

// Stop releases the pause timer.
func (p *Pacer) Stop() {
	if p.timer != nil {
		p.timer.Stop()
	}
}

func (p *Pacer) emit(ctx context.Context, piece string, fn func(piece string)) error {
	if p.emitted > 0 && p.tw.Delay > 0 {
		if p.timer == nil {
			p.timer = time.NewTimer(p.tw.Delay)
		} else {
			p.timer.Reset(p.tw.Delay)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-p.timer.C:
		}
	}
	p.emitted++
	fn(piece)
	return nil
}

// runeOffset returns the byte offset just past the first n runes of s.
func runeOffset(s string, n int) int {
	off := 0
	for i := 0; i < n && off < len(s); i++ {
		_, size := utf8.DecodeRuneInString(s[off:])
		off += size
	}
	return off
}
