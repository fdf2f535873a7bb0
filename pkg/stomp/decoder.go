package stomp

import (
	"fmt"
	"iter"
	"strings"
)

// Decoder turns a stream of text chunks into frames. Chunks may split a frame at any
// byte; a frame is only produced once its NUL terminator has been buffered.
// A Decoder is not safe for concurrent use.
type Decoder struct {
	pending strings.Builder
}

// NewDecoder returns an empty decoder.
func NewDecoder() *Decoder {
	return &Decoder{}
}

// Write appends a chunk received from the transport.
func (d *Decoder) Write(p []byte) (int, error) {
	return d.pending.Write(p)
}

// WriteString appends a chunk received from the transport.
func (d *Decoder) WriteString(s string) {
	d.pending.WriteString(s)
}

// Buffered returns the number of bytes waiting for a terminator.
func (d *Decoder) Buffered() int {
	return d.pending.Len()
}

// Reset drops everything buffered.
func (d *Decoder) Reset() {
	d.pending.Reset()
}

// Next returns the next complete frame. ok is false when no complete frame is buffered.
// A malformed frame is consumed and reported with ok true so decoding can continue.
func (d *Decoder) Next() (f Frame, ok bool, err error) {
	buffered := d.pending.String()

	// Heart-beats are bare EOLs between frames.
	trimmed := strings.TrimLeft(buffered, "\r\n")

	end := strings.IndexByte(trimmed, nul)
	if end < 0 {
		if len(trimmed) != len(buffered) {
			d.keep(trimmed)
		}
		return Frame{}, false, nil
	}
	d.keep(trimmed[end+1:])

	f, err = parse(trimmed[:end])
	return f, true, err
}

func (d *Decoder) keep(rest string) {
	d.pending.Reset()
	d.pending.WriteString(rest)
}

// Frames yields every complete frame currently buffered, in order. The sequence ends
// when no further complete frame is buffered; ranging over Frames again after more
// Writes resumes where the previous sequence stopped.
func (d *Decoder) Frames() iter.Seq2[Frame, error] {
	return func(yield func(Frame, error) bool) {
		for {
			f, ok, err := d.Next()
			if !ok || !yield(f, err) {
				return
			}
		}
	}
}

// Decode splits a complete payload into frames. Trailing partial data is an error.
func Decode(s string) ([]Frame, error) {
	d := NewDecoder()
	d.WriteString(s)
	var frames []Frame
	for f, err := range d.Frames() {
		if err != nil {
			return frames, err
		}
		frames = append(frames, f)
	}
	if d.Buffered() > 0 {
		return frames, ErrIncompleteFrame
	}
	return frames, nil
}

func parse(raw string) (Frame, error) {
	head, body := splitHead(raw)

	lines := strings.Split(head, "\n")
	command := strings.TrimSuffix(lines[0], "\r")
	if command == "" {
		return Frame{}, ErrEmptyCommand
	}

	f := Frame{Command: command, Body: body}
	verbatim := rawHeaders(command)
	for _, line := range lines[1:] {
		line = strings.TrimSuffix(line, "\r")
		if line == "" {
			continue
		}
		key, value, ok := strings.Cut(line, ":")
		if !ok {
			return Frame{}, fmt.Errorf("%w: %q", ErrMalformedHeader, line)
		}
		if !verbatim {
			key, value = unescape(key), unescape(value)
		}
		f.Headers = append(f.Headers, Header{Key: key, Value: value})
	}
	return f, nil
}

// splitHead separates the command and header lines from the body at the first blank line.
func splitHead(raw string) (head, body string) {
	lf := strings.Index(raw, "\n\n")
	crlf := strings.Index(raw, "\r\n\r\n")
	switch {
	case crlf >= 0 && (lf < 0 || crlf < lf):
		return raw[:crlf], raw[crlf+4:]
	case lf >= 0:
		return raw[:lf], raw[lf+2:]
	default:
		// Frames without headers or body may omit the blank line.
		return strings.TrimRight(raw, "\r\n"), ""
	}
}
