package evasion

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/d5/tengo/v2"
	"github.com/d5/tengo/v2/stdlib"
)

// safeModules limits scripts to side-effect-free Tengo stdlib. No file
// access, no network, no OS.
var safeModules = stdlib.GetModuleMap("text", "fmt", "math", "times")

const scriptAllocLimit = 10_000_000

// ScriptTamper runs a user-supplied Tengo snippet as a tamper. The
// script must define a transform function taking and returning the
// payload string:
//
//	text := import("text")
//	transform := func(payload) {
//		return text.replace(payload, " ", "/**/", -1)
//	}
type ScriptTamper struct {
	name     string
	compiled *tengo.Compiled
}

// NewScriptTamper compiles src once. Apply clones the compiled script,
// so one ScriptTamper is safe for concurrent use.
func NewScriptTamper(name, src string) (*ScriptTamper, error) {
	wrapper := src + "\n__result__ := transform(__input__)\n"

	script := tengo.NewScript([]byte(wrapper))
	script.SetImports(safeModules)
	script.SetMaxAllocs(scriptAllocLimit)
	if err := script.Add("__input__", ""); err != nil {
		return nil, fmt.Errorf("evasion: script %s: %w", name, err)
	}

	compiled, err := script.Compile()
	if err != nil {
		return nil, fmt.Errorf("evasion: compile script %s: %w", name, err)
	}
	return &ScriptTamper{name: name, compiled: compiled}, nil
}

// LoadScriptFile builds a ScriptTamper from a .tengo file, named after
// the file. The tamper is also registered for Chain lookup.
func LoadScriptFile(path string) (*ScriptTamper, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("evasion: read script: %w", err)
	}
	name := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	st, err := NewScriptTamper(name, string(data))
	if err != nil {
		return nil, err
	}
	Register(st)
	return st, nil
}

func (s *ScriptTamper) Name() string { return s.name }

// Apply runs the script on a clone of the compiled program. Script
// failures return the error; the caller decides whether to fall back
// to the raw payload.
func (s *ScriptTamper) Apply(payload string) (string, error) {
	c := s.compiled.Clone()
	if err := c.Set("__input__", payload); err != nil {
		return "", fmt.Errorf("evasion: script %s: %w", s.name, err)
	}
	if err := c.Run(); err != nil {
		return "", fmt.Errorf("evasion: script %s: %w", s.name, err)
	}

	out := c.Get("__result__")
	if out.IsUndefined() {
		return "", errors.New("evasion: script " + s.name + " returned no result")
	}
	return out.String(), nil
}
