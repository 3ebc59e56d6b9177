package gpu

import (
	"fmt"
	"runtime"
	"sync"

	"github.com/gekko3d/gekkofx/gpurt/rt/core"
	"golang.org/x/sync/errgroup"
)

// InvocationID identifies one kernel invocation, mirroring the WGSL builtins.
type InvocationID struct {
	Global     [3]uint32
	Local      [3]uint32
	Group      [3]uint32
	NumGroups  [3]uint32
	LocalIndex uint32
}

// Resources are the buffers and constant blobs resolved for one dispatch or draw.
type Resources struct {
	buffers   map[string]*SoftBuffer
	constants map[string][]byte
}

// Buffer returns the bound buffer; the name must be one the program declared.
func (r *Resources) Buffer(name string) *SoftBuffer { return r.buffers[name] }

func (r *Resources) Constants(name string) []byte { return r.constants[name] }

// SoftPass is a kernel bound to the resources of a single dispatch.
type SoftPass struct {
	Invoke func(id InvocationID)
	// GroupDone runs once per workgroup after all of its invocations, the point
	// where a GPU kernel would sit behind workgroupBarrier().
	GroupDone func(group [3]uint32)
}

// SoftKernel is a compute program for the soft device. Buffers and Constants
// list the variable names the kernel reads; Dispatch refuses to run a kernel
// with any of them unbound.
type SoftKernel struct {
	Buffers   []string
	Constants []string
	Bind      func(res *Resources) (*SoftPass, error)
}

type KernelFactory func(defines Defines) (*SoftKernel, error)

type kernelEntry struct {
	workgroupSize [3]uint32
	factory       KernelFactory
}

// SoftDevice executes registered Go kernels with GPU semantics: workgroups of
// a dispatch run concurrently, invocations of a workgroup run in order, and
// each call returns only once its work is complete.
type SoftDevice struct {
	logger core.Logger

	mu        sync.RWMutex
	kernels   map[string]kernelEntry
	vertices  map[string]VertexFactory
	fragments map[string]FragmentFactory

	dispatches uint64
	draws      uint64
}

func NewSoftDevice(logger core.Logger) *SoftDevice {
	return &SoftDevice{
		logger:    core.OrNop(logger),
		kernels:   make(map[string]kernelEntry),
		vertices:  make(map[string]VertexFactory),
		fragments: make(map[string]FragmentFactory),
	}
}

func (d *SoftDevice) RegisterKernel(name string, workgroupSize [3]uint32, f KernelFactory) {
	for i := range workgroupSize {
		if workgroupSize[i] == 0 {
			workgroupSize[i] = 1
		}
	}
	d.mu.Lock()
	d.kernels[name] = kernelEntry{workgroupSize: workgroupSize, factory: f}
	d.mu.Unlock()
}

func (d *SoftDevice) RegisterVertex(name string, f VertexFactory) {
	d.mu.Lock()
	d.vertices[name] = f
	d.mu.Unlock()
}

func (d *SoftDevice) RegisterFragment(name string, f FragmentFactory) {
	d.mu.Lock()
	d.fragments[name] = f
	d.mu.Unlock()
}

// Stats returns how many dispatches and draws have been executed.
func (d *SoftDevice) Stats() (dispatches, draws uint64) {
	return d.dispatches, d.draws
}

type softComputeProgram struct {
	name          string
	workgroupSize [3]uint32
	kernel        *SoftKernel
}

func (p *softComputeProgram) Name() string             { return p.name }
func (p *softComputeProgram) WorkgroupSize() [3]uint32 { return p.workgroupSize }
func (p *softComputeProgram) Release()                 {}

func (d *SoftDevice) CreateComputeProgram(name string, defines Defines) (ComputeProgram, error) {
	d.mu.RLock()
	entry, ok := d.kernels[name]
	d.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("compute program %q: %w", name, ErrShaderNotFound)
	}
	k, err := entry.factory(defines)
	if err != nil {
		return nil, fmt.Errorf("compile compute program %q: %w", name, err)
	}
	d.logger.Debugf("soft: compiled compute %s workgroup=%v defines=%v", name, entry.workgroupSize, defines)
	return &softComputeProgram{name: name, workgroupSize: entry.workgroupSize, kernel: k}, nil
}

func (d *SoftDevice) CreateStructuredBuffer(label string, stride, count uint32, usage BufferUsage) (Buffer, error) {
	if stride == 0 || count == 0 {
		return nil, fmt.Errorf("buffer %q stride=%d count=%d: %w", label, stride, count, ErrInvalidArgument)
	}
	return newSoftBuffer(label, stride, count, usage), nil
}

func (d *SoftDevice) WriteBuffer(buf Buffer, offset uint64, data []byte) {
	sb, ok := buf.(*SoftBuffer)
	if !ok {
		d.logger.Errorf("soft: write to foreign buffer %s", buf.Label())
		return
	}
	if err := sb.write(offset, data); err != nil {
		d.logger.Errorf("soft: write %d bytes at %d into %s (%d bytes): %v", len(data), offset, sb.label, sb.Size(), err)
	}
}

func (d *SoftDevice) ReadBuffer(buf Buffer) ([]byte, error) {
	sb, ok := buf.(*SoftBuffer)
	if !ok {
		return nil, fmt.Errorf("read %s: %w", buf.Label(), ErrInvalidArgument)
	}
	return sb.bytes(), nil
}

func (d *SoftDevice) resolve(owner string, vars *Vars, buffers, constants []string) (*Resources, error) {
	res := &Resources{
		buffers:   make(map[string]*SoftBuffer, len(buffers)),
		constants: make(map[string][]byte, len(constants)),
	}
	if vars == nil {
		vars = NewVars()
	}
	for _, name := range buffers {
		b, ok := vars.Buffer(name)
		if !ok {
			return nil, fmt.Errorf("%s: buffer %q: %w", owner, name, ErrUnknownBinding)
		}
		sb, ok := b.(*SoftBuffer)
		if !ok {
			return nil, fmt.Errorf("%s: buffer %q is not a soft buffer: %w", owner, name, ErrInvalidArgument)
		}
		res.buffers[name] = sb
	}
	for _, name := range constants {
		c, ok := vars.Constants(name)
		if !ok {
			return nil, fmt.Errorf("%s: constants %q: %w", owner, name, ErrUnknownBinding)
		}
		res.constants[name] = c
	}
	return res, nil
}

func (d *SoftDevice) Dispatch(p ComputeProgram, vars *Vars, groups [3]uint32) {
	prog, ok := p.(*softComputeProgram)
	if !ok {
		d.logger.Errorf("soft: dispatch of foreign program %s", p.Name())
		return
	}
	if groups[0] == 0 || groups[1] == 0 || groups[2] == 0 {
		return
	}
	res, err := d.resolve(prog.name, vars, prog.kernel.Buffers, prog.kernel.Constants)
	if err != nil {
		d.logger.Errorf("soft: dispatch %v", err)
		return
	}
	pass, err := prog.kernel.Bind(res)
	if err != nil {
		d.logger.Errorf("soft: bind %s: %v", prog.name, err)
		return
	}
	d.dispatches++
	d.logger.Debugf("soft: dispatch %s groups=%v", prog.name, groups)

	wg := prog.workgroupSize
	var g errgroup.Group
	g.SetLimit(runtime.GOMAXPROCS(0))
	for gz := uint32(0); gz < groups[2]; gz++ {
		for gy := uint32(0); gy < groups[1]; gy++ {
			for gx := uint32(0); gx < groups[0]; gx++ {
				group := [3]uint32{gx, gy, gz}
				g.Go(func() (err error) {
					defer func() {
						if r := recover(); r != nil {
							err = fmt.Errorf("workgroup %v panicked: %v", group, r)
						}
					}()
					runWorkgroup(pass, wg, group, groups)
					return nil
				})
			}
		}
	}
	if err := g.Wait(); err != nil {
		d.logger.Errorf("soft: dispatch %s: %v", prog.name, err)
	}
}

func runWorkgroup(pass *SoftPass, wg, group, numGroups [3]uint32) {
	var idx uint32
	for lz := uint32(0); lz < wg[2]; lz++ {
		for ly := uint32(0); ly < wg[1]; ly++ {
			for lx := uint32(0); lx < wg[0]; lx++ {
				pass.Invoke(InvocationID{
					Global: [3]uint32{
						group[0]*wg[0] + lx,
						group[1]*wg[1] + ly,
						group[2]*wg[2] + lz,
					},
					Local:      [3]uint32{lx, ly, lz},
					Group:      group,
					NumGroups:  numGroups,
					LocalIndex: idx,
				})
				idx++
			}
		}
	}
	if pass.GroupDone != nil {
		pass.GroupDone(group)
	}
}

func (d *SoftDevice) Release() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.kernels = make(map[string]kernelEntry)
	d.vertices = make(map[string]VertexFactory)
	d.fragments = make(map[string]FragmentFactory)
}
