package gpu

import (
	"fmt"
	"strings"
)

// Define is a compile-time switch passed to a program. An empty Value means
// the name is only tested with #ifdef.
type Define struct {
	Name  string
	Value string
}

type Defines []Define

func (d Defines) Has(name string) bool {
	for _, def := range d {
		if def.Name == name {
			return true
		}
	}
	return false
}

func (d Defines) Value(name string) (string, bool) {
	for _, def := range d {
		if def.Name == name {
			return def.Value, true
		}
	}
	return "", false
}

// With returns a copy of d with def appended (or replaced if already present).
func (d Defines) With(name, value string) Defines {
	out := make(Defines, 0, len(d)+1)
	for _, def := range d {
		if def.Name != name {
			out = append(out, def)
		}
	}
	return append(out, Define{Name: name, Value: value})
}

// Apply runs the conditional pre-pass over WGSL source. Supported directives,
// each on its own line: #ifdef NAME, #ifndef NAME, #else, #endif. Defines that
// carry a value also replace every occurrence of their name in kept lines.
func (d Defines) Apply(source string) (string, error) {
	type frame struct {
		parentActive bool
		taken        bool
		sawElse      bool
	}
	var stack []frame
	active := true

	lines := strings.Split(source, "\n")
	out := make([]string, 0, len(lines))
	for i, line := range lines {
		trimmed := strings.TrimSpace(line)
		if !strings.HasPrefix(trimmed, "#") {
			if active {
				out = append(out, d.substitute(line))
			}
			continue
		}

		fields := strings.Fields(trimmed)
		switch fields[0] {
		case "#ifdef", "#ifndef":
			if len(fields) != 2 {
				return "", fmt.Errorf("line %d: %s needs exactly one name", i+1, fields[0])
			}
			cond := d.Has(fields[1])
			if fields[0] == "#ifndef" {
				cond = !cond
			}
			stack = append(stack, frame{parentActive: active, taken: cond})
			active = active && cond
		case "#else":
			if len(stack) == 0 {
				return "", fmt.Errorf("line %d: #else without #ifdef", i+1)
			}
			top := &stack[len(stack)-1]
			if top.sawElse {
				return "", fmt.Errorf("line %d: duplicate #else", i+1)
			}
			top.sawElse = true
			active = top.parentActive && !top.taken
		case "#endif":
			if len(stack) == 0 {
				return "", fmt.Errorf("line %d: #endif without #ifdef", i+1)
			}
			active = stack[len(stack)-1].parentActive
			stack = stack[:len(stack)-1]
		default:
			return "", fmt.Errorf("line %d: unknown directive %q", i+1, fields[0])
		}
	}
	if len(stack) != 0 {
		return "", fmt.Errorf("unterminated #ifdef (%d open)", len(stack))
	}
	return strings.Join(out, "\n"), nil
}

func (d Defines) substitute(line string) string {
	for _, def := range d {
		if def.Value != "" {
			line = strings.ReplaceAll(line, def.Name, def.Value)
		}
	}
	return line
}
