package monitor

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/brianly1003/filesensor/internal/adapters/lines"
	"github.com/brianly1003/filesensor/internal/domain"
)

// DefaultMaxLineBytes caps the length of a single line read from a watched file.
const DefaultMaxLineBytes = 1 << 20

// ReadLastLine returns the last line of the file at path. A single trailing
// line terminator does not produce an empty last line, so "a\nb\n" yields
// "b". An empty file returns domain.ErrNoLines. Oversized lines before the
// last are skipped; an oversized last line is an error.
func ReadLastLine(path string, maxLineBytes int) (string, error) {
	if maxLineBytes <= 0 {
		maxLineBytes = DefaultMaxLineBytes
	}

	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	r := lines.NewReader(f, maxLineBytes)

	var last lines.Line
	count := 0
	for {
		line, err := r.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return "", fmt.Errorf("read %s: %w", path, err)
		}
		last = line
		count++
	}

	if count == 0 {
		return "", domain.ErrNoLines
	}
	if last.TooLong {
		return "", fmt.Errorf("read %s: %w", path, lines.ErrLineTooLong)
	}
	return last.Text, nil
}
