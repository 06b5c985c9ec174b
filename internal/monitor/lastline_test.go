package monitor

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/brianly1003/filesensor/internal/domain"
)

func TestReadLastLine(t *testing.T) {
	tests := []struct {
		name    string
		content string
		want    string
	}{
		{"single line no newline", "status=1", "status=1"},
		{"single line with newline", "status=1\n", "status=1"},
		{"multiple lines", "status=0\nstatus=1\n", "status=1"},
		{"partial last line", "status=0\nstat", "stat"},
		{"crlf", "status=0\r\nstatus=1\r\n", "status=1"},
		{"blank final line", "status=1\n\n", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "sensor.log")
			if err := os.WriteFile(path, []byte(tt.content), 0o644); err != nil {
				t.Fatalf("write test file: %v", err)
			}

			got, err := ReadLastLine(path, 0)
			if err != nil {
				t.Fatalf("ReadLastLine() error = %v", err)
			}
			if got != tt.want {
				t.Errorf("ReadLastLine() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestReadLastLine_EmptyFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "empty.log")
	if err := os.WriteFile(path, nil, 0o644); err != nil {
		t.Fatalf("write test file: %v", err)
	}

	_, err := ReadLastLine(path, 0)
	if !errors.Is(err, domain.ErrNoLines) {
		t.Fatalf("ReadLastLine() error = %v, want ErrNoLines", err)
	}
}

func TestReadLastLine_Missing(t *testing.T) {
	_, err := ReadLastLine(filepath.Join(t.TempDir(), "missing.log"), 0)
	if !errors.Is(err, fs.ErrNotExist) {
		t.Fatalf("ReadLastLine() error = %v, want fs.ErrNotExist", err)
	}
}

func TestReadLastLine_LineTooLong(t *testing.T) {
	path := filepath.Join(t.TempDir(), "long.log")
	if err := os.WriteFile(path, []byte(strings.Repeat("x", 128)+"\n"), 0o644); err != nil {
		t.Fatalf("write test file: %v", err)
	}

	if _, err := ReadLastLine(path, 64); err == nil {
		t.Fatal("ReadLastLine() error = nil, want ErrLineTooLong")
	}
}

func TestReadLastLine_EarlierLongLineSkipped(t *testing.T) {
	path := filepath.Join(t.TempDir(), "long.log")
	content := strings.Repeat("x", 128) + "\nstatus=1\n"
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write test file: %v", err)
	}

	got, err := ReadLastLine(path, 64)
	if err != nil {
		t.Fatalf("ReadLastLine() error = %v", err)
	}
	if got != "status=1" {
		t.Errorf("ReadLastLine() = %q, want status=1", got)
	}
}
