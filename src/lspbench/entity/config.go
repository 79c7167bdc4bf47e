// Package entity contains the domain types for the lsp-bench tool.
package entity

import (
	"errors"
	"fmt"
	"time"
)

// Defaults applied to omitted config fields.
const (
	DefaultLine          = 102
	DefaultCol           = 15
	DefaultIterations    = 10
	DefaultWarmup        = 2
	DefaultTimeoutSecs   = 10
	DefaultIndexTimeout  = 15
	DefaultOutput        = "benchmarks"
	DefaultResponseLimit = 80
)

// Cursor is a 0-based position in the benchmarked document.
type Cursor struct {
	Line uint32 `yaml:"line" json:"line"`
	Col  uint32 `yaml:"col" json:"col"`
}

// Expect describes the expected result of a request, checked in verify mode.
// File matches when the response URI ends with the given suffix.
type Expect struct {
	File string  `yaml:"file" json:"file,omitempty"`
	Line *uint32 `yaml:"line" json:"line,omitempty"`
}

// FileSnapshot is one step of a didChange chain: the snapshot file replaces
// the primary document's content, then one request runs at the snapshot's
// cursor.
type FileSnapshot struct {
	File   string  `yaml:"file"`
	Line   uint32  `yaml:"line"`
	Col    uint32  `yaml:"col"`
	Expect *Expect `yaml:"expect"`
}

// OpenStep is one step of an open chain: the step's file is opened as an
// additional document, then the request is re-issued on the primary file,
// optionally at the step's cursor.
type OpenStep struct {
	File string  `yaml:"file"`
	Line *uint32 `yaml:"line"`
	Col  *uint32 `yaml:"col"`
}

// MethodConfig carries per-method overrides for cursor, request fields and
// runner selection.
type MethodConfig struct {
	Line       *uint32        `yaml:"line"`
	Col        *uint32        `yaml:"col"`
	Trigger    string         `yaml:"trigger"`
	NewName    string         `yaml:"newName"`
	RangeStart *Cursor        `yaml:"rangeStart"`
	Cold       bool           `yaml:"cold"`
	DidChange  []FileSnapshot `yaml:"didChange"`
	Open       []OpenStep     `yaml:"open"`
	Expect     *Expect        `yaml:"expect"`
}

// ServerConfig describes one server under test.
type ServerConfig struct {
	Label       string   `yaml:"label" json:"label"`
	Description string   `yaml:"description" json:"description,omitempty"`
	Link        string   `yaml:"link" json:"link,omitempty"`
	Cmd         string   `yaml:"cmd" json:"cmd"`
	Args        []string `yaml:"args" json:"args,omitempty"`
}

// ResponseLimit caps stored response strings. Zero means unset (defaulted),
// -1 means "full" (no cap).
type ResponseLimit int

// ResponseFull disables the response cap.
const ResponseFull ResponseLimit = -1

// UnmarshalYAML accepts either a non-negative number or the string "full".
func (r *ResponseLimit) UnmarshalYAML(unmarshal func(interface{}) error) error {
	var n int
	if err := unmarshal(&n); err == nil {
		if n < 0 {
			return errors.New(`response must be "full" or a non-negative number`)
		}
		if n == 0 {
			*r = ResponseFull
		} else {
			*r = ResponseLimit(n)
		}
		return nil
	}
	var s string
	if err := unmarshal(&s); err != nil {
		return errors.New(`response must be "full" or a number`)
	}
	if s != "full" {
		return fmt.Errorf("response must be %q or a number, got %q", "full", s)
	}
	*r = ResponseFull
	return nil
}

// Cap returns the effective character cap, 0 when uncapped.
func (r ResponseLimit) Cap() int {
	if r <= 0 {
		return 0
	}
	return int(r)
}

// Config is the parsed benchmark configuration. Line, Col, Iterations and
// Warmup are pointers so that an explicit 0 is distinguishable from an
// omitted field.
type Config struct {
	Project          string                  `yaml:"project"`
	File             string                  `yaml:"file"`
	Line             *uint32                 `yaml:"line"`
	Col              *uint32                 `yaml:"col"`
	Iterations       *int                    `yaml:"iterations"`
	Warmup           *int                    `yaml:"warmup"`
	TimeoutSecs      int                     `yaml:"timeout"`
	IndexTimeoutSecs int                     `yaml:"index_timeout"`
	Output           string                  `yaml:"output"`
	Benchmarks       []string                `yaml:"benchmarks"`
	Response         ResponseLimit           `yaml:"response"`
	Language         string                  `yaml:"language"`
	Methods          map[string]MethodConfig `yaml:"methods"`
	Servers          []ServerConfig          `yaml:"servers"`
}

// ApplyDefaults fills omitted fields with their documented defaults.
func (c *Config) ApplyDefaults() {
	if c.Line == nil {
		c.Line = uint32Ptr(DefaultLine)
	}
	if c.Col == nil {
		c.Col = uint32Ptr(DefaultCol)
	}
	if c.Iterations == nil {
		c.Iterations = intPtr(DefaultIterations)
	}
	if c.Warmup == nil {
		c.Warmup = intPtr(DefaultWarmup)
	}
	if c.TimeoutSecs == 0 {
		c.TimeoutSecs = DefaultTimeoutSecs
	}
	if c.IndexTimeoutSecs == 0 {
		c.IndexTimeoutSecs = DefaultIndexTimeout
	}
	if c.Output == "" {
		c.Output = DefaultOutput
	}
	if c.Response == 0 {
		c.Response = DefaultResponseLimit
	}
}

func uint32Ptr(v uint32) *uint32 { return &v }
func intPtr(v int) *int          { return &v }

// Validate reports the first fatal configuration error.
func (c *Config) Validate() error {
	if c.Project == "" {
		return errors.New("config: project is required")
	}
	if c.File == "" {
		return errors.New("config: file is required")
	}
	if c.Iterations != nil && *c.Iterations < 0 {
		return errors.New("config: iterations must be >= 0")
	}
	if c.Warmup != nil && *c.Warmup < 0 {
		return errors.New("config: warmup must be >= 0")
	}
	if len(c.Servers) == 0 {
		return errors.New("config: at least one server is required")
	}
	seen := make(map[string]struct{}, len(c.Servers))
	for _, s := range c.Servers {
		if s.Label == "" {
			return errors.New("config: server label is required")
		}
		if s.Cmd == "" {
			return fmt.Errorf("config: server %q has no cmd", s.Label)
		}
		if _, ok := seen[s.Label]; ok {
			return fmt.Errorf("config: duplicate server label %q", s.Label)
		}
		seen[s.Label] = struct{}{}
	}
	for name := range c.Methods {
		if _, ok := LookupMethod(name); !ok {
			return fmt.Errorf("config: methods entry %q is not a recognized method", name)
		}
	}
	return nil
}

// RequestTimeout is the per-request deadline T_req.
func (c *Config) RequestTimeout() time.Duration {
	return time.Duration(c.TimeoutSecs) * time.Second
}

// IndexTimeout is the indexing deadline T_idx.
func (c *Config) IndexTimeout() time.Duration {
	return time.Duration(c.IndexTimeoutSecs) * time.Second
}

// MethodOverride returns the override block for a method, if any.
func (c *Config) MethodOverride(name string) (MethodConfig, bool) {
	m, ok := c.Methods[name]
	return m, ok
}

// CursorFor resolves the cursor for a method, falling back to the global
// default position.
func (c *Config) CursorFor(name string) Cursor {
	cur := Cursor{Line: *c.Line, Col: *c.Col}
	if m, ok := c.Methods[name]; ok {
		if m.Line != nil {
			cur.Line = *m.Line
		}
		if m.Col != nil {
			cur.Col = *m.Col
		}
	}
	return cur
}
