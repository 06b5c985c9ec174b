package classifier

import (
	"errors"
	"sync"
	"testing"

	"github.com/brianly1003/filesensor/internal/domain"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		line string
		on   string
		off  string
		want Result
	}{
		{"on only", "status=1", `status=1$`, `status=0$`, On},
		{"off only", "status=0", `status=1$`, `status=0$`, Off},
		{"both match on wins", "door open closed", `open`, `closed`, On},
		{"neither", "status=2", `status=1$`, `status=0$`, None},
		{"empty line", "", `status=1$`, `status=0$`, None},
		{"anchored prefix", "2026-01-01 12:00:00 RUNNING", `RUNNING$`, `STOPPED$`, On},
		{"lookbehind", "temp=42", `(?<=temp=)4\d$`, `(?<=temp=)[0-3]\d$`, On},
		{"case sensitive", "STATUS=1", `status=1$`, `status=0$`, None},
		{"inline ignore case", "STATUS=0", `(?i)status=1$`, `(?i)status=0$`, Off},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Classify(tt.line, MustCompile(tt.on), MustCompile(tt.off))
			if err != nil {
				t.Fatalf("Classify() error = %v", err)
			}
			if got != tt.want {
				t.Errorf("Classify(%q) = %v, want %v", tt.line, got, tt.want)
			}
		})
	}
}

func TestResult_State(t *testing.T) {
	tests := []struct {
		result Result
		want   domain.State
		str    string
	}{
		{On, domain.StateOn, "ON"},
		{Off, domain.StateOff, "OFF"},
		{None, domain.StateUnknown, "NONE"},
	}
	for _, tt := range tests {
		if got := tt.result.State(); got != tt.want {
			t.Errorf("%v.State() = %v, want %v", tt.result, got, tt.want)
		}
		if tt.result.String() != tt.str {
			t.Errorf("String() = %q, want %q", tt.result.String(), tt.str)
		}
	}
}

func TestCompile_Errors(t *testing.T) {
	tests := []struct {
		name string
		expr string
	}{
		{"empty", ""},
		{"unbalanced group", "status=(1"},
		{"bad quantifier", "*status"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Compile(tt.expr)
			if err == nil {
				t.Fatalf("Compile(%q) error = nil, want error", tt.expr)
			}
			if !errors.Is(err, domain.ErrInvalidSpec) {
				t.Errorf("Compile(%q) error = %v, want ErrInvalidSpec", tt.expr, err)
			}
		})
	}
}

func TestPattern_String(t *testing.T) {
	p := MustCompile(`status=1$`)
	if p.String() != `status=1$` {
		t.Errorf("String() = %q", p.String())
	}
}

func TestClassify_Concurrent(t *testing.T) {
	on := MustCompile(`=1$`)
	off := MustCompile(`=0$`)

	var wg sync.WaitGroup
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			line, want := "x=0", Off
			if i%2 == 0 {
				line, want = "x=1", On
			}
			for j := 0; j < 100; j++ {
				got, err := Classify(line, on, off)
				if err != nil || got != want {
					t.Errorf("Classify(%q) = %v, %v; want %v", line, got, err, want)
					return
				}
			}
		}(i)
	}
	wg.Wait()
}
