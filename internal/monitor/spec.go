// Package monitor implements the per-file state monitor and the registry
// that owns the monitor set.
package monitor

import (
	"path/filepath"
	"strings"

	"github.com/brianly1003/filesensor/internal/classifier"
	"github.com/brianly1003/filesensor/internal/domain"
)

// Definition is one raw entry from the configuration's file list.
type Definition struct {
	Key         string
	Path        string
	OnPattern   string
	OffPattern  string
	DeviceClass string
	Icon        string
}

// Spec is a validated, compiled Definition. It is immutable once built.
type Spec struct {
	Key  string
	Path string
	Dir  string
	Name string

	On  *classifier.Pattern
	Off *classifier.Pattern

	DeviceClass string
	Icon        string
}

// NewSpec validates def and compiles its patterns.
func NewSpec(def Definition) (Spec, error) {
	key := strings.TrimSpace(def.Key)
	if key == "" {
		return Spec{}, domain.NewValidationError("key", "must not be empty")
	}
	if def.Path == "" {
		return Spec{}, domain.NewMonitorError(key, "validate", domain.NewValidationError("path", "must not be empty"))
	}
	if !filepath.IsAbs(def.Path) {
		return Spec{}, domain.NewMonitorError(key, "validate", domain.NewValidationError("path", "must be absolute: "+def.Path))
	}

	on, err := classifier.Compile(def.OnPattern)
	if err != nil {
		return Spec{}, domain.NewMonitorError(key, "compile on_regex", err)
	}
	off, err := classifier.Compile(def.OffPattern)
	if err != nil {
		return Spec{}, domain.NewMonitorError(key, "compile off_regex", err)
	}

	path := filepath.Clean(def.Path)
	return Spec{
		Key:         key,
		Path:        path,
		Dir:         filepath.Dir(path),
		Name:        filepath.Base(path),
		On:          on,
		Off:         off,
		DeviceClass: def.DeviceClass,
		Icon:        def.Icon,
	}, nil
}

// Sensor returns the discovery descriptor for s.
func (s Spec) Sensor() domain.Sensor {
	return domain.Sensor{
		Key:         s.Key,
		Path:        s.Path,
		DeviceClass: s.DeviceClass,
		Icon:        s.Icon,
	}
}

// sameSource reports whether s and o read the same file with the same
// patterns, so a state cached under o still holds for s.
func (s Spec) sameSource(o Spec) bool {
	return s.Key == o.Key &&
		s.Path == o.Path &&
		s.On.String() == o.On.String() &&
		s.Off.String() == o.Off.String()
}
