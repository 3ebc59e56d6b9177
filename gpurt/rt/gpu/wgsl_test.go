package gpu

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const reflectSrc = `
struct Params { count: u32, pad: u32 }

// @group(9) @binding(9) var<storage> commented: array<u32>;
@group(0) @binding(1) var<storage, read_write> pool: array<Particle>;
@group(0) @binding(0) var<uniform> params : Params;
/* @workgroup_size(1) */
@group(1) @binding(0) var<storage, read_write> counter: array<atomic<u32>>;

@compute @workgroup_size(64)
fn main(@builtin(global_invocation_id) id: vec3<u32>) {}
`

func TestParseWorkgroupSize(t *testing.T) {
	wg, ok := ParseWorkgroupSize(reflectSrc)
	require.True(t, ok)
	assert.Equal(t, [3]uint32{64, 1, 1}, wg)

	wg, ok = ParseWorkgroupSize("@compute @workgroup_size(8, 8) fn main() {}")
	require.True(t, ok)
	assert.Equal(t, [3]uint32{8, 8, 1}, wg)

	wg, ok = ParseWorkgroupSize("fn main() {}")
	assert.False(t, ok)
	assert.Equal(t, [3]uint32{1, 1, 1}, wg)
}

func TestParseBindings(t *testing.T) {
	b := ParseBindings(reflectSrc)
	require.Len(t, b, 3)

	assert.Equal(t, "params", b[0].Name)
	assert.True(t, b[0].IsUniform())
	assert.Equal(t, "Params", b[0].Type)

	assert.Equal(t, "pool", b[1].Name)
	assert.True(t, b[1].IsStorage())
	assert.Equal(t, uint32(1), b[1].Binding)

	assert.Equal(t, "counter", b[2].Name)
	assert.Equal(t, uint32(1), b[2].Group)
	assert.Equal(t, "array<atomic<u32>>", b[2].Type)
}
