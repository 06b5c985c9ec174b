// Package lines reads newline-delimited text with a per-line size limit.
package lines

import (
	"bufio"
	"bytes"
	"errors"
	"io"
)

// ErrLineTooLong is returned by callers that cannot skip an oversized line.
var ErrLineTooLong = errors.New("line exceeds max size")

// Line is one line read from a stream. Text excludes the line terminator.
// An oversized line is consumed but reported with TooLong and no Text.
type Line struct {
	Text    string
	TooLong bool
}

// Reader streams lines from an io.Reader.
type Reader struct {
	br           *bufio.Reader
	maxLineBytes int
}

// NewReader creates a line reader. maxLineBytes of 0 disables the limit.
func NewReader(r io.Reader, maxLineBytes int) *Reader {
	return &Reader{
		br:           bufio.NewReader(r),
		maxLineBytes: maxLineBytes,
	}
}

// Next returns the next line, or io.EOF once the stream is exhausted. A
// final line without a terminator is still returned.
func (r *Reader) Next() (Line, error) {
	var (
		buf     []byte
		tooLong bool
	)

	keep := func(part []byte) {
		if tooLong {
			return
		}
		if r.maxLineBytes > 0 && len(buf)+len(part) > r.maxLineBytes+2 {
			tooLong = true
			buf = nil
			return
		}
		buf = append(buf, part...)
	}

	for {
		part, err := r.br.ReadSlice('\n')

		switch {
		case err == bufio.ErrBufferFull:
			keep(part)
			continue
		case err == io.EOF:
			if len(part) == 0 && len(buf) == 0 && !tooLong {
				return Line{}, io.EOF
			}
			keep(part)
		case err != nil:
			return Line{}, err
		default:
			keep(part)
		}

		if tooLong {
			return Line{TooLong: true}, nil
		}
		text := trimLine(buf)
		if r.maxLineBytes > 0 && len(text) > r.maxLineBytes {
			return Line{TooLong: true}, nil
		}
		return Line{Text: string(text)}, nil
	}
}

func trimLine(b []byte) []byte {
	b = bytes.TrimSuffix(b, []byte{'\n'})
	b = bytes.TrimSuffix(b, []byte{'\r'})
	return b
}
