// Package classifier maps the last line of a watched file to a sensor state.
//
// Patterns are compiled with regexp2 so configurations written for .NET
// style expressions (lookbehind, named groups with (?<name>...), and so
// on) keep working.
package classifier

import (
	"fmt"
	"time"

	"github.com/dlclark/regexp2"

	"github.com/brianly1003/filesensor/internal/domain"
)

// DefaultMatchTimeout bounds a single pattern evaluation.
const DefaultMatchTimeout = 250 * time.Millisecond

// Result is the outcome of classifying one line.
type Result int

const (
	// None means neither pattern matched. It is not an error.
	None Result = iota
	On
	Off
)

func (r Result) String() string {
	switch r {
	case On:
		return "ON"
	case Off:
		return "OFF"
	default:
		return "NONE"
	}
}

// State converts r to the publishable state, StateUnknown for None.
func (r Result) State() domain.State {
	switch r {
	case On:
		return domain.StateOn
	case Off:
		return domain.StateOff
	default:
		return domain.StateUnknown
	}
}

// Pattern is a compiled line matcher. It is safe for concurrent use.
type Pattern struct {
	expr string
	re   *regexp2.Regexp
}

// Compile parses expr. Empty expressions are rejected because they would
// match every line.
func Compile(expr string) (*Pattern, error) {
	if expr == "" {
		return nil, domain.NewValidationError("pattern", "must not be empty")
	}
	re, err := regexp2.Compile(expr, regexp2.None)
	if err != nil {
		return nil, domain.NewValidationError("pattern", fmt.Sprintf("%q: %v", expr, err))
	}
	re.MatchTimeout = DefaultMatchTimeout
	return &Pattern{expr: expr, re: re}, nil
}

// MustCompile is like Compile but panics on error.
func MustCompile(expr string) *Pattern {
	p, err := Compile(expr)
	if err != nil {
		panic(err)
	}
	return p
}

// Match reports whether line matches. An error means the evaluation timed out.
func (p *Pattern) Match(line string) (bool, error) {
	return p.re.MatchString(line)
}

func (p *Pattern) String() string {
	return p.expr
}

// Classify tests on first, then off. When both match, On wins.
func Classify(line string, on, off *Pattern) (Result, error) {
	matched, err := on.Match(line)
	if err != nil {
		return None, fmt.Errorf("on pattern %q: %w", on.expr, err)
	}
	if matched {
		return On, nil
	}

	matched, err = off.Match(line)
	if err != nil {
		return None, fmt.Errorf("off pattern %q: %w", off.expr, err)
	}
	if matched {
		return Off, nil
	}

	return None, nil
}
