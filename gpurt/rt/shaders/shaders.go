package shaders

import (
	_ "embed"
)

// Program names, as passed to gpu.Device.
const (
	ParticleEmit     = "particle_emit"
	ParticleSimulate = "particle_simulate"
	ParticleSort     = "particle_sort"
	ParticleDraw     = "particle_draw"
	ParticleSoft     = "particle_soft"
	ParticleConstant = "particle_constant"
)

//go:embed particle_emit.wgsl
var ParticleEmitWGSL string

//go:embed particle_simulate.wgsl
var ParticleSimulateWGSL string

//go:embed particle_sort.wgsl
var ParticleSortWGSL string

//go:embed particle_draw.wgsl
var ParticleDrawWGSL string

//go:embed particle_soft.wgsl
var ParticleSoftWGSL string

//go:embed particle_constant.wgsl
var ParticleConstantWGSL string

// Library maps program names to WGSL sources.
func Library() map[string]string {
	return map[string]string{
		ParticleEmit:     ParticleEmitWGSL,
		ParticleSimulate: ParticleSimulateWGSL,
		ParticleSort:     ParticleSortWGSL,
		ParticleDraw:     ParticleDrawWGSL,
		ParticleSoft:     ParticleSoftWGSL,
		ParticleConstant: ParticleConstantWGSL,
	}
}
