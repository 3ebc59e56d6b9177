package shaders

import (
	"testing"

	"github.com/gekko3d/gekkofx/gpurt/rt/gpu"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLibrary_ComputeWorkgroupSizes(t *testing.T) {
	lib := Library()
	want := map[string][3]uint32{
		ParticleEmit:     {64, 1, 1},
		ParticleSimulate: {256, 1, 1},
		ParticleSort:     {256, 1, 1},
	}
	for name, wg := range want {
		got, ok := gpu.ParseWorkgroupSize(lib[name])
		require.True(t, ok, name)
		assert.Equal(t, wg, got, name)
	}
}

func bindingNames(t *testing.T, src string, defines gpu.Defines) []string {
	t.Helper()
	out, err := defines.Apply(src)
	require.NoError(t, err)
	var names []string
	for _, b := range gpu.ParseBindings(out) {
		names = append(names, b.Name)
	}
	return names
}

func TestLibrary_SortVariantBindings(t *testing.T) {
	sorted := gpu.Defines{{Name: "_SORT"}}

	assert.Equal(t,
		[]string{"simulateParams", "particlePool", "deadList", "deadListCounter", "drawArgs", "aliveList"},
		bindingNames(t, ParticleSimulateWGSL, nil))
	assert.Equal(t,
		[]string{"simulateParams", "particlePool", "deadList", "deadListCounter", "drawArgs", "aliveList", "sortIterationCounter"},
		bindingNames(t, ParticleSimulateWGSL, sorted))

	assert.Equal(t, []string{"drawParams", "particlePool", "aliveList"}, bindingNames(t, ParticleDrawWGSL, sorted))
	assert.Equal(t, []string{"sortParams", "aliveList", "sortIterationCounter"}, bindingNames(t, ParticleSortWGSL, nil))
}

func TestLibrary_AllSourcesPreprocess(t *testing.T) {
	for name, src := range Library() {
		for _, defs := range []gpu.Defines{nil, {{Name: "_SORT"}}} {
			out, err := defs.Apply(src)
			require.NoError(t, err, name)
			assert.NotContains(t, out, "#ifdef", name)
			assert.NotContains(t, out, "#endif", name)
		}
	}
}
