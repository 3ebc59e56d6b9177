package gpu

import (
	"regexp"
	"sort"
	"strconv"
	"strings"
)

var (
	// workgroupSizeRegex captures 1-3 integer dimensions from @workgroup_size(x[, y[, z]])
	workgroupSizeRegex = regexp.MustCompile(`@workgroup_size\(\s*(\d+)\s*(?:,\s*(\d+)\s*(?:,\s*(\d+)\s*)?)?\)`)

	// bindingDeclRegex captures group, binding, optional address space, variable name and type
	bindingDeclRegex = regexp.MustCompile(`@group\((\d+)\)\s*@binding\((\d+)\)\s*var(?:<([^>]*)>)?\s+(\w+)\s*:\s*([^;]+?)\s*;`)

	lineCommentRegex  = regexp.MustCompile(`//[^\n]*`)
	blockCommentRegex = regexp.MustCompile(`(?s)/\*.*?\*/`)
)

// Binding is one resource declaration reflected from WGSL.
type Binding struct {
	Group        uint32
	Binding      uint32
	Name         string
	AddressSpace string // "uniform", "storage, read_write", ... ("" for textures/samplers)
	Type         string
}

func (b Binding) IsUniform() bool {
	return strings.HasPrefix(b.AddressSpace, "uniform")
}

func (b Binding) IsStorage() bool {
	return strings.HasPrefix(b.AddressSpace, "storage")
}

func stripComments(source string) string {
	return lineCommentRegex.ReplaceAllString(blockCommentRegex.ReplaceAllString(source, ""), "")
}

// ParseWorkgroupSize returns the first @workgroup_size in source.
// Omitted dimensions default to 1; ok is false when no annotation exists.
func ParseWorkgroupSize(source string) (size [3]uint32, ok bool) {
	size = [3]uint32{1, 1, 1}
	match := workgroupSizeRegex.FindStringSubmatch(stripComments(source))
	if match == nil {
		return size, false
	}
	for i := 0; i < 3; i++ {
		if match[i+1] == "" {
			continue
		}
		if v, err := strconv.ParseUint(match[i+1], 10, 32); err == nil {
			size[i] = uint32(v)
		}
	}
	return size, true
}

// ParseBindings lists every @group/@binding declaration, ordered by (group, binding).
func ParseBindings(source string) []Binding {
	matches := bindingDeclRegex.FindAllStringSubmatch(stripComments(source), -1)
	out := make([]Binding, 0, len(matches))
	for _, m := range matches {
		g, _ := strconv.Atoi(m[1])
		b, _ := strconv.Atoi(m[2])
		out = append(out, Binding{
			Group:        uint32(g),
			Binding:      uint32(b),
			AddressSpace: strings.TrimSpace(m[3]),
			Name:         strings.TrimSpace(m[4]),
			Type:         strings.TrimSpace(m[5]),
		})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Group != out[j].Group {
			return out[i].Group < out[j].Group
		}
		return out[i].Binding < out[j].Binding
	})
	return out
}
