package gpu

import (
	"errors"
	"fmt"
	"sort"

	"github.com/cogentcore/webgpu/wgpu"
	"github.com/gekko3d/gekkofx/gpurt/rt/core"
)

// Entry points every program in the WGSL library uses.
const (
	ComputeEntryPoint  = "main"
	VertexEntryPoint   = "vs_main"
	FragmentEntryPoint = "fs_main"
)

// WgpuDevice runs programs from a WGSL library on a webgpu device.
// Each Dispatch and DrawIndirect records its own encoder and submits it, so
// queue order is submission order.
type WgpuDevice struct {
	Device *wgpu.Device
	Queue  *wgpu.Queue
	// Format is the color format render pipelines are built for.
	Format wgpu.TextureFormat

	library map[string]string
	logger  core.Logger
}

func NewWgpuDevice(device *wgpu.Device, format wgpu.TextureFormat, library map[string]string, logger core.Logger) *WgpuDevice {
	return &WgpuDevice{
		Device:  device,
		Queue:   device.GetQueue(),
		Format:  format,
		library: library,
		logger:  core.OrNop(logger),
	}
}

type wgpuBuffer struct {
	label  string
	stride uint32
	count  uint32
	buf    *wgpu.Buffer
}

func (b *wgpuBuffer) Label() string  { return b.label }
func (b *wgpuBuffer) Stride() uint32 { return b.stride }
func (b *wgpuBuffer) Count() uint32  { return b.count }
func (b *wgpuBuffer) Size() uint64   { return uint64(b.stride) * uint64(b.count) }
func (b *wgpuBuffer) Release() {
	if b.buf != nil {
		b.buf.Release()
		b.buf = nil
	}
}

// programBindings holds the reflected layout and the uniform buffers a program
// owns for its constant blocks.
type programBindings struct {
	bindings []Binding
	uniforms map[string]*wgpu.Buffer
	sizes    map[string]uint64
}

func newProgramBindings(sources ...string) *programBindings {
	seen := make(map[[2]uint32]bool)
	pb := &programBindings{uniforms: make(map[string]*wgpu.Buffer), sizes: make(map[string]uint64)}
	for _, src := range sources {
		for _, b := range ParseBindings(src) {
			key := [2]uint32{b.Group, b.Binding}
			if seen[key] {
				continue
			}
			seen[key] = true
			pb.bindings = append(pb.bindings, b)
		}
	}
	sort.Slice(pb.bindings, func(i, j int) bool {
		if pb.bindings[i].Group != pb.bindings[j].Group {
			return pb.bindings[i].Group < pb.bindings[j].Group
		}
		return pb.bindings[i].Binding < pb.bindings[j].Binding
	})
	return pb
}

func (pb *programBindings) release() {
	for name, u := range pb.uniforms {
		u.Release()
		delete(pb.uniforms, name)
	}
}

type wgpuComputeProgram struct {
	name          string
	workgroupSize [3]uint32
	pipeline      *wgpu.ComputePipeline
	*programBindings
}

func (p *wgpuComputeProgram) Name() string             { return p.name }
func (p *wgpuComputeProgram) WorkgroupSize() [3]uint32 { return p.workgroupSize }
func (p *wgpuComputeProgram) Release() {
	p.release()
	if p.pipeline != nil {
		p.pipeline.Release()
		p.pipeline = nil
	}
}

type wgpuGraphicsProgram struct {
	name     string
	pipeline *wgpu.RenderPipeline
	*programBindings
}

func (p *wgpuGraphicsProgram) Name() string { return p.name }
func (p *wgpuGraphicsProgram) Release() {
	p.release()
	if p.pipeline != nil {
		p.pipeline.Release()
		p.pipeline = nil
	}
}

func (d *WgpuDevice) source(name string, defines Defines) (string, error) {
	src, ok := d.library[name]
	if !ok {
		return "", fmt.Errorf("program %q: %w", name, ErrShaderNotFound)
	}
	out, err := defines.Apply(src)
	if err != nil {
		return "", fmt.Errorf("preprocess %q: %w", name, err)
	}
	return out, nil
}

func (d *WgpuDevice) module(label, code string) (*wgpu.ShaderModule, error) {
	mod, err := d.Device.CreateShaderModule(&wgpu.ShaderModuleDescriptor{
		Label:          label,
		WGSLDescriptor: &wgpu.ShaderModuleWGSLDescriptor{Code: code},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create shader module %s: %w", label, err)
	}
	return mod, nil
}

func (d *WgpuDevice) CreateComputeProgram(name string, defines Defines) (ComputeProgram, error) {
	src, err := d.source(name, defines)
	if err != nil {
		return nil, err
	}
	wg, ok := ParseWorkgroupSize(src)
	if !ok {
		return nil, fmt.Errorf("program %q has no @workgroup_size: %w", name, ErrInvalidArgument)
	}
	mod, err := d.module(name, src)
	if err != nil {
		return nil, err
	}
	defer mod.Release()

	pipeline, err := d.Device.CreateComputePipeline(&wgpu.ComputePipelineDescriptor{
		Label: core.NewLabel(name),
		Compute: wgpu.ProgrammableStageDescriptor{
			Module:     mod,
			EntryPoint: ComputeEntryPoint,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create compute pipeline %s: %w", name, err)
	}
	d.logger.Debugf("wgpu: compiled compute %s workgroup=%v", name, wg)
	return &wgpuComputeProgram{
		name:            name,
		workgroupSize:   wg,
		pipeline:        pipeline,
		programBindings: newProgramBindings(src),
	}, nil
}

func (d *WgpuDevice) CreateGraphicsProgram(vertex, pixel string, defines Defines) (GraphicsProgram, error) {
	vsSrc, err := d.source(vertex, defines)
	if err != nil {
		return nil, err
	}
	fsSrc, err := d.source(pixel, defines)
	if err != nil {
		return nil, err
	}
	vsMod, err := d.module(vertex, vsSrc)
	if err != nil {
		return nil, err
	}
	defer vsMod.Release()
	fsMod, err := d.module(pixel, fsSrc)
	if err != nil {
		return nil, err
	}
	defer fsMod.Release()

	name := vertex + "+" + pixel
	pipeline, err := d.Device.CreateRenderPipeline(&wgpu.RenderPipelineDescriptor{
		Label: core.NewLabel(name),
		Vertex: wgpu.VertexState{
			Module:     vsMod,
			EntryPoint: VertexEntryPoint,
		},
		Fragment: &wgpu.FragmentState{
			Module:     fsMod,
			EntryPoint: FragmentEntryPoint,
			Targets: []wgpu.ColorTargetState{
				{
					Format:    d.Format,
					WriteMask: wgpu.ColorWriteMaskAll,
					Blend: &wgpu.BlendState{
						Color: wgpu.BlendComponent{
							Operation: wgpu.BlendOperationAdd,
							SrcFactor: wgpu.BlendFactorSrcAlpha,
							DstFactor: wgpu.BlendFactorOneMinusSrcAlpha,
						},
						Alpha: wgpu.BlendComponent{
							Operation: wgpu.BlendOperationAdd,
							SrcFactor: wgpu.BlendFactorOne,
							DstFactor: wgpu.BlendFactorOneMinusSrcAlpha,
						},
					},
				},
			},
		},
		Primitive: wgpu.PrimitiveState{
			Topology:  wgpu.PrimitiveTopologyTriangleStrip,
			FrontFace: wgpu.FrontFaceCCW,
			CullMode:  wgpu.CullModeNone,
		},
		Multisample: wgpu.MultisampleState{
			Count: 1,
			Mask:  0xFFFFFFFF,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create render pipeline %s: %w", name, err)
	}
	return &wgpuGraphicsProgram{
		name:            name,
		pipeline:        pipeline,
		programBindings: newProgramBindings(vsSrc, fsSrc),
	}, nil
}

func (d *WgpuDevice) CreateStructuredBuffer(label string, stride, count uint32, usage BufferUsage) (Buffer, error) {
	if stride == 0 || count == 0 {
		return nil, fmt.Errorf("buffer %q stride=%d count=%d: %w", label, stride, count, ErrInvalidArgument)
	}
	u := wgpu.BufferUsageStorage | wgpu.BufferUsageCopyDst | wgpu.BufferUsageCopySrc
	if usage&BufferUsageIndirect != 0 {
		u |= wgpu.BufferUsageIndirect
	}
	size := (uint64(stride)*uint64(count) + 3) &^ 3
	buf, err := d.Device.CreateBuffer(&wgpu.BufferDescriptor{
		Label: core.NewLabel(label),
		Size:  size,
		Usage: u,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create buffer %s: %w", label, err)
	}
	return &wgpuBuffer{label: label, stride: stride, count: count, buf: buf}, nil
}

func padTo4(data []byte) []byte {
	if rem := len(data) % 4; rem != 0 {
		data = append(append([]byte{}, data...), make([]byte, 4-rem)...)
	}
	return data
}

func (d *WgpuDevice) WriteBuffer(buf Buffer, offset uint64, data []byte) {
	wb, ok := buf.(*wgpuBuffer)
	if !ok || wb.buf == nil {
		d.logger.Errorf("wgpu: write to invalid buffer %s", buf.Label())
		return
	}
	if offset+uint64(len(data)) > wb.Size() {
		d.logger.Errorf("wgpu: write %d bytes at %d into %s: %v", len(data), offset, wb.label, ErrBufferTooSmall)
		return
	}
	d.Queue.WriteBuffer(wb.buf, offset, padTo4(data))
}

func (d *WgpuDevice) ReadBuffer(buf Buffer) ([]byte, error) {
	wb, ok := buf.(*wgpuBuffer)
	if !ok || wb.buf == nil {
		return nil, fmt.Errorf("read %s: %w", buf.Label(), ErrInvalidArgument)
	}
	size := wb.buf.GetSize()
	staging, err := d.Device.CreateBuffer(&wgpu.BufferDescriptor{
		Label: core.NewLabel(wb.label + "-readback"),
		Size:  size,
		Usage: wgpu.BufferUsageMapRead | wgpu.BufferUsageCopyDst,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create readback buffer: %w", err)
	}
	defer staging.Release()

	encoder, err := d.Device.CreateCommandEncoder(nil)
	if err != nil {
		return nil, err
	}
	encoder.CopyBufferToBuffer(wb.buf, 0, staging, 0, size)
	cmd, err := encoder.Finish(nil)
	if err != nil {
		return nil, err
	}
	d.Queue.Submit(cmd)

	var status wgpu.BufferMapAsyncStatus
	if err := staging.MapAsync(wgpu.MapModeRead, 0, size, func(s wgpu.BufferMapAsyncStatus) {
		status = s
	}); err != nil {
		return nil, err
	}
	d.Device.Poll(true, nil)
	if status != wgpu.BufferMapAsyncStatusSuccess {
		return nil, errors.New("readback map failed: " + status.String())
	}
	out := make([]byte, wb.Size())
	copy(out, staging.GetMappedRange(0, uint(size)))
	staging.Unmap()
	return out, nil
}

// bindGroups builds one bind group per reflected group. Storage bindings come
// from vars by name; uniform bindings use the program's own buffer, refreshed
// with the constant blob of the same name.
func (d *WgpuDevice) bindGroups(name string, pb *programBindings, vars *Vars, layout func(uint32) *wgpu.BindGroupLayout) ([]*wgpu.BindGroup, error) {
	if vars == nil {
		vars = NewVars()
	}
	entries := make(map[uint32][]wgpu.BindGroupEntry)
	var maxGroup uint32
	for _, b := range pb.bindings {
		var buf *wgpu.Buffer
		switch {
		case b.IsUniform():
			data, ok := vars.Constants(b.Name)
			if !ok {
				return nil, fmt.Errorf("%s: constants %q: %w", name, b.Name, ErrUnknownBinding)
			}
			data = PadTo16(append([]byte{}, data...))
			u, err := d.uniform(pb, b.Name, uint64(len(data)))
			if err != nil {
				return nil, err
			}
			d.Queue.WriteBuffer(u, 0, data)
			buf = u
		case b.IsStorage():
			v, ok := vars.Buffer(b.Name)
			if !ok {
				return nil, fmt.Errorf("%s: buffer %q: %w", name, b.Name, ErrUnknownBinding)
			}
			wb, ok := v.(*wgpuBuffer)
			if !ok || wb.buf == nil {
				return nil, fmt.Errorf("%s: buffer %q: %w", name, b.Name, ErrInvalidArgument)
			}
			buf = wb.buf
		default:
			return nil, fmt.Errorf("%s: unsupported binding %q (%s)", name, b.Name, b.Type)
		}
		entries[b.Group] = append(entries[b.Group], wgpu.BindGroupEntry{Binding: b.Binding, Buffer: buf, Size: wgpu.WholeSize})
		maxGroup = max(maxGroup, b.Group)
	}
	if len(entries) == 0 {
		return nil, nil
	}

	groups := make([]*wgpu.BindGroup, maxGroup+1)
	for g := uint32(0); g <= maxGroup; g++ {
		if len(entries[g]) == 0 {
			continue
		}
		bg, err := d.Device.CreateBindGroup(&wgpu.BindGroupDescriptor{
			Layout:  layout(g),
			Entries: entries[g],
		})
		if err != nil {
			releaseBindGroups(groups)
			return nil, fmt.Errorf("failed to create bind group %d for %s: %w", g, name, err)
		}
		groups[g] = bg
	}
	return groups, nil
}

func (d *WgpuDevice) uniform(pb *programBindings, name string, size uint64) (*wgpu.Buffer, error) {
	if u, ok := pb.uniforms[name]; ok && pb.sizes[name] == size {
		return u, nil
	}
	if u, ok := pb.uniforms[name]; ok {
		u.Release()
	}
	u, err := d.Device.CreateBuffer(&wgpu.BufferDescriptor{
		Label: core.NewLabel(name),
		Size:  size,
		Usage: wgpu.BufferUsageUniform | wgpu.BufferUsageCopyDst,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create uniform buffer %s: %w", name, err)
	}
	pb.uniforms[name] = u
	pb.sizes[name] = size
	return u, nil
}

func releaseBindGroups(groups []*wgpu.BindGroup) {
	for _, bg := range groups {
		if bg != nil {
			bg.Release()
		}
	}
}

func (d *WgpuDevice) Dispatch(p ComputeProgram, vars *Vars, groups [3]uint32) {
	prog, ok := p.(*wgpuComputeProgram)
	if !ok || prog.pipeline == nil {
		d.logger.Errorf("wgpu: dispatch of invalid program %s", p.Name())
		return
	}
	if groups[0] == 0 || groups[1] == 0 || groups[2] == 0 {
		return
	}
	bgs, err := d.bindGroups(prog.name, prog.programBindings, vars, prog.pipeline.GetBindGroupLayout)
	if err != nil {
		d.logger.Errorf("wgpu: dispatch %v", err)
		return
	}
	defer releaseBindGroups(bgs)

	encoder, err := d.Device.CreateCommandEncoder(nil)
	if err != nil {
		d.logger.Errorf("wgpu: CreateCommandEncoder failed: %v", err)
		return
	}
	pass := encoder.BeginComputePass(nil)
	pass.SetPipeline(prog.pipeline)
	for g, bg := range bgs {
		if bg != nil {
			pass.SetBindGroup(uint32(g), bg, nil)
		}
	}
	pass.DispatchWorkgroups(groups[0], groups[1], groups[2])
	if err := pass.End(); err != nil {
		d.logger.Errorf("wgpu: %s pass End failed: %v", prog.name, err)
	}
	cmd, err := encoder.Finish(nil)
	if err != nil {
		d.logger.Errorf("wgpu: Encoder Finish failed: %v", err)
		return
	}
	d.Queue.Submit(cmd)
}

func (d *WgpuDevice) DrawIndirect(p GraphicsProgram, vars *Vars, target RenderTarget, args Buffer, argsOffset uint64) {
	prog, ok := p.(*wgpuGraphicsProgram)
	if !ok || prog.pipeline == nil {
		d.logger.Errorf("wgpu: draw with invalid program %s", p.Name())
		return
	}
	st, ok := target.(*SurfaceTarget)
	if !ok || st.View == nil {
		d.logger.Errorf("wgpu: unsupported render target %T", target)
		return
	}
	ab, ok := args.(*wgpuBuffer)
	if !ok || ab.buf == nil {
		d.logger.Errorf("wgpu: invalid indirect args buffer")
		return
	}
	bgs, err := d.bindGroups(prog.name, prog.programBindings, vars, prog.pipeline.GetBindGroupLayout)
	if err != nil {
		d.logger.Errorf("wgpu: draw %v", err)
		return
	}
	defer releaseBindGroups(bgs)

	encoder, err := d.Device.CreateCommandEncoder(nil)
	if err != nil {
		d.logger.Errorf("wgpu: CreateCommandEncoder failed: %v", err)
		return
	}
	rPass := encoder.BeginRenderPass(&wgpu.RenderPassDescriptor{
		ColorAttachments: []wgpu.RenderPassColorAttachment{{
			View:    st.View,
			LoadOp:  wgpu.LoadOpLoad,
			StoreOp: wgpu.StoreOpStore,
		}},
	})
	rPass.SetPipeline(prog.pipeline)
	for g, bg := range bgs {
		if bg != nil {
			rPass.SetBindGroup(uint32(g), bg, nil)
		}
	}
	rPass.DrawIndirect(ab.buf, argsOffset)
	if err := rPass.End(); err != nil {
		d.logger.Errorf("wgpu: render pass End failed: %v", err)
	}
	cmd, err := encoder.Finish(nil)
	if err != nil {
		d.logger.Errorf("wgpu: Encoder Finish failed: %v", err)
		return
	}
	d.Queue.Submit(cmd)
}

// Release forgets the shader library. The wgpu.Device belongs to the caller.
func (d *WgpuDevice) Release() {
	d.library = nil
}
