// Package framing implements the newline-delimited wire format shared by
// every murmur connection: one line is one message, and a line may not
// exceed MaxMessageSize bytes including its delimiter.
package framing

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"iter"
	"sync"

	"github.com/baaaht/murmur/pkg/types"
)

// MaxMessageSize is the largest encoded line, delimiter included.
const MaxMessageSize = 1_048_576

const readBufferSize = 64 * 1024

// MessageTooLargeError reports a line whose encoded size exceeds
// MaxMessageSize.
type MessageTooLargeError struct {
	Size int
}

func (e *MessageTooLargeError) Error() string {
	return fmt.Sprintf("message too large: %d bytes (max 1MB)", e.Size)
}

// Code implements the error code contract used by types.GetErrorCode.
func (e *MessageTooLargeError) Code() string {
	return types.ErrCodeMessageTooLarge
}

// IsMessageTooLarge reports whether err is, or wraps, a MessageTooLargeError.
func IsMessageTooLarge(err error) bool {
	var tooLarge *MessageTooLargeError
	return errors.As(err, &tooLarge)
}

// Encode appends the delimiter to line. Nothing is produced when the
// result would exceed MaxMessageSize.
func Encode(line string) ([]byte, error) {
	size := len(line) + 1
	if size > MaxMessageSize {
		return nil, &MessageTooLargeError{Size: size}
	}
	buf := make([]byte, size)
	copy(buf, line)
	buf[size-1] = '\n'
	return buf, nil
}

type flusher interface {
	Flush() error
}

// WriteLine encodes line and writes it to w in a single call, flushing
// w afterwards when it buffers. Oversized lines are rejected before
// anything is written.
func WriteLine(w io.Writer, line string) error {
	buf, err := Encode(line)
	if err != nil {
		return err
	}
	if _, err := w.Write(buf); err != nil {
		return err
	}
	if f, ok := w.(flusher); ok {
		return f.Flush()
	}
	return nil
}

// Writer serializes WriteLine calls from several goroutines onto one
// underlying stream, so concurrent lines never interleave.
type Writer struct {
	mu sync.Mutex
	w  io.Writer
}

// NewWriter returns a Writer that writes lines to w.
func NewWriter(w io.Writer) *Writer {
	return &Writer{w: w}
}

// WriteLine writes one encoded line.
func (w *Writer) WriteLine(line string) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return WriteLine(w.w, line)
}

// Decoder reads lines from a stream.
type Decoder struct {
	r   *bufio.Reader
	buf []byte
}

// NewDecoder returns a Decoder reading from r.
func NewDecoder(r io.Reader) *Decoder {
	return &Decoder{r: bufio.NewReaderSize(r, readBufferSize)}
}

// Next returns the next non-empty line with its delimiter stripped. It
// returns io.EOF once the stream is exhausted. A final line without a
// delimiter is still delivered.
//
// An oversized line yields a *MessageTooLargeError carrying the size
// observed up to and including its delimiter. The rest of that line is
// consumed, so the Decoder stays usable and the following call returns
// the next line intact.
func (d *Decoder) Next() (string, error) {
	for {
		line, err := d.readLine()
		if err != nil {
			return "", err
		}
		if len(line) > 0 {
			return string(line), nil
		}
	}
}

func (d *Decoder) readLine() ([]byte, error) {
	d.buf = d.buf[:0]
	size := 0
	for {
		chunk, err := d.r.ReadSlice('\n')
		size += len(chunk)
		if size <= MaxMessageSize {
			d.buf = append(d.buf, chunk...)
		}

		switch {
		case err == nil:
			if size > MaxMessageSize {
				return nil, &MessageTooLargeError{Size: size}
			}
			return d.buf[:len(d.buf)-1], nil
		case errors.Is(err, bufio.ErrBufferFull):
			continue
		case errors.Is(err, io.EOF) && size > 0:
			if size > MaxMessageSize {
				return nil, &MessageTooLargeError{Size: size}
			}
			return d.buf, nil
		default:
			return nil, err
		}
	}
}

// Lines returns a sequence over the lines of r. The sequence ends
// quietly at EOF; any other error, including an oversized line, is
// yielded once and ends the sequence.
func Lines(r io.Reader) iter.Seq2[string, error] {
	return func(yield func(string, error) bool) {
		d := NewDecoder(r)
		for {
			line, err := d.Next()
			if err != nil {
				if !errors.Is(err, io.EOF) {
					yield("", err)
				}
				return
			}
			if !yield(line, nil) {
				return
			}
		}
	}
}
