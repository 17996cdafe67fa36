package device

import (
	"encoding/binary"
	"errors"
	"fmt"
	"runtime"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog/log"

	"github.com/23skdu/longbow-parity/internal/value"
)

// ensure interface compliance
var _ Device = (*Emulator)(nil)

// Invocation is the view an emulated kernel gets of one thread.
type Invocation struct {
	// ID is the global invocation id.
	ID [3]int
	// Buffers holds the memory of the storage buffers bound at slot 0, in
	// layout order.
	Buffers [][]byte
}

// EmuKernel is the host implementation of a device entry point.
type EmuKernel func(inv Invocation)

// TypedKernel adapts a per-index function over []T to an EmuKernel operating
// on the first bound buffer. Each invocation decodes its own element,
// runs fn on it, and writes it back.
func TypedKernel[T any](fn func(buf []T, index int)) EmuKernel {
	size := value.Size[T]()
	return func(inv Invocation) {
		mem := inv.Buffers[0]
		off := inv.ID[0] * size
		if off+size > len(mem) {
			panic(fmt.Sprintf("invocation %d out of bounds (buffer %d bytes)", inv.ID[0], len(mem)))
		}
		elem := make([]T, 1)
		if _, err := binary.Decode(mem[off:off+size], binary.LittleEndian, elem); err != nil {
			panic(err)
		}
		fn(elem, 0)
		if _, err := binary.Encode(mem[off:off+size], binary.LittleEndian, elem); err != nil {
			panic(err)
		}
	}
}

// Emulator is a software device that executes registered Go kernels over
// byte-slice buffers. Submitted command lists run in order on a queue
// goroutine, so Submit/WaitIdle behave like a real asynchronous device.
type Emulator struct {
	kind    Kind
	name    string
	workers int
	budget  int64

	kmu     sync.RWMutex
	kernels map[string]EmuKernel

	allocated atomic.Int64
	live      atomic.Int64

	qmu     sync.Mutex
	queue   chan []command
	pending sync.WaitGroup
	errMu   sync.Mutex
	err     error

	closeOnce sync.Once
	closed    atomic.Bool
}

type EmulatorOption func(*Emulator)

// WithKind makes the emulator report kind as its backend identity.
func WithKind(kind Kind) EmulatorOption {
	return func(e *Emulator) { e.kind = kind }
}

func WithName(name string) EmulatorOption {
	return func(e *Emulator) { e.name = name }
}

// WithWorkers bounds dispatch parallelism.
func WithWorkers(n int) EmulatorOption {
	return func(e *Emulator) {
		if n > 0 {
			e.workers = n
		}
	}
}

// WithMemoryBudget caps the bytes that may be allocated at once.
func WithMemoryBudget(bytes int64) EmulatorOption {
	return func(e *Emulator) { e.budget = bytes }
}

// WithKernel registers an entry point at construction time.
func WithKernel(module string, k EmuKernel) EmulatorOption {
	return func(e *Emulator) { e.kernels[module] = k }
}

func NewEmulator(opts ...EmulatorOption) *Emulator {
	e := &Emulator{
		kind:    KindEmulated,
		workers: runtime.NumCPU(),
		kernels: make(map[string]EmuKernel),
		queue:   make(chan []command, 16),
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.name == "" {
		e.name = fmt.Sprintf("Emulated %s device", e.kind)
	}
	go e.run()
	return e
}

// Register makes module loadable through CreateShader.
func (e *Emulator) Register(module string, k EmuKernel) {
	e.kmu.Lock()
	defer e.kmu.Unlock()
	e.kernels[module] = k
}

func (e *Emulator) Kind() Kind   { return e.kind }
func (e *Emulator) Name() string { return e.name }

func (e *Emulator) VRAMUsage() (int64, int64) {
	return e.allocated.Load(), e.budget
}

// LiveResources counts resources created and not yet released.
func (e *Emulator) LiveResources() int64 {
	return e.live.Load()
}

func (e *Emulator) track() {
	e.live.Add(1)
	liveResources.WithLabelValues(e.kind.String()).Inc()
}

func (e *Emulator) untrack() {
	e.live.Add(-1)
	liveResources.WithLabelValues(e.kind.String()).Dec()
}

// --- buffers ---

type emuBuffer struct {
	dev      *Emulator
	data     []byte
	usage    BufferUsage
	stride   int
	mapped   atomic.Bool
	released atomic.Bool
}

func (b *emuBuffer) Size() int          { return len(b.data) }
func (b *emuBuffer) Usage() BufferUsage { return b.usage }

func (b *emuBuffer) Release() {
	if b.released.Swap(true) {
		return
	}
	b.dev.allocated.Add(-int64(len(b.data)))
	allocatedBytes.WithLabelValues(b.dev.kind.String()).Sub(float64(len(b.data)))
	b.dev.untrack()
}

func (e *Emulator) CreateBuffer(desc BufferDesc) (Buffer, error) {
	if e.closed.Load() {
		return nil, ErrReleased
	}
	if desc.Size <= 0 {
		return nil, fmt.Errorf("device: invalid buffer size %d", desc.Size)
	}
	if desc.StructStride > 0 && desc.Size%desc.StructStride != 0 {
		return nil, fmt.Errorf("device: buffer size %d is not a multiple of stride %d", desc.Size, desc.StructStride)
	}
	if e.budget > 0 && e.allocated.Load()+int64(desc.Size) > e.budget {
		return nil, fmt.Errorf("%w: %d bytes requested, %d of %d in use", ErrOutOfMemory, desc.Size, e.allocated.Load(), e.budget)
	}

	b := &emuBuffer{dev: e, data: make([]byte, desc.Size), usage: desc.Usage, stride: desc.StructStride}
	e.allocated.Add(int64(desc.Size))
	allocatedBytes.WithLabelValues(e.kind.String()).Add(float64(desc.Size))
	e.track()
	return b, nil
}

func (e *Emulator) buffer(b Buffer) (*emuBuffer, error) {
	eb, ok := b.(*emuBuffer)
	if !ok || eb.dev != e {
		return nil, errors.New("device: buffer belongs to another device")
	}
	if eb.released.Load() {
		return nil, ErrReleased
	}
	return eb, nil
}

func (e *Emulator) UpdateBuffer(b Buffer, offset int, data []byte) error {
	eb, err := e.buffer(b)
	if err != nil {
		return err
	}
	if offset < 0 || offset+len(data) > len(eb.data) {
		return fmt.Errorf("device: update [%d,%d) out of range for %d byte buffer", offset, offset+len(data), len(eb.data))
	}
	copy(eb.data[offset:], data)
	return nil
}

func (e *Emulator) Map(b Buffer, mode MapMode) ([]byte, error) {
	eb, err := e.buffer(b)
	if err != nil {
		return nil, err
	}
	if !eb.usage.Has(UsageStaging) {
		return nil, errors.New("device: only staging buffers can be mapped")
	}
	if eb.mapped.Swap(true) {
		return nil, errors.New("device: buffer already mapped")
	}
	return eb.data, nil
}

func (e *Emulator) Unmap(b Buffer) error {
	eb, err := e.buffer(b)
	if err != nil {
		return err
	}
	if !eb.mapped.Swap(false) {
		return errors.New("device: buffer is not mapped")
	}
	return nil
}

// --- shaders, layouts, pipelines ---

type emuShader struct {
	dev      *Emulator
	module   string
	entry    string
	kernel   EmuKernel
	released atomic.Bool
}

func (s *emuShader) Entry() string { return s.entry }

func (s *emuShader) Release() {
	if !s.released.Swap(true) {
		s.dev.untrack()
	}
}

func (e *Emulator) CreateShader(bytecode []byte, entry string) (Shader, error) {
	module, err := DecodeEmuModule(bytecode)
	if err != nil {
		return nil, err
	}
	e.kmu.RLock()
	k, ok := e.kernels[module]
	e.kmu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("device: no kernel registered for module %q", module)
	}
	e.track()
	return &emuShader{dev: e, module: module, entry: entry, kernel: k}, nil
}

type emuLayout struct {
	dev      *Emulator
	elements []LayoutElement
	released atomic.Bool
}

func (l *emuLayout) Release() {
	if !l.released.Swap(true) {
		l.dev.untrack()
	}
}

func (e *Emulator) CreateResourceLayout(desc ResourceLayoutDesc) (ResourceLayout, error) {
	if len(desc.Elements) == 0 {
		return nil, errors.New("device: resource layout needs at least one element")
	}
	e.track()
	return &emuLayout{dev: e, elements: append([]LayoutElement(nil), desc.Elements...)}, nil
}

type emuResourceSet struct {
	dev      *Emulator
	buffers  []*emuBuffer
	released atomic.Bool
}

func (r *emuResourceSet) Release() {
	if !r.released.Swap(true) {
		r.dev.untrack()
	}
}

func (e *Emulator) CreateResourceSet(layout ResourceLayout, buffers ...Buffer) (ResourceSet, error) {
	l, ok := layout.(*emuLayout)
	if !ok || l.released.Load() {
		return nil, errors.New("device: invalid resource layout")
	}
	if len(buffers) != len(l.elements) {
		return nil, fmt.Errorf("device: layout has %d elements, got %d buffers", len(l.elements), len(buffers))
	}
	rs := &emuResourceSet{dev: e}
	for i, b := range buffers {
		eb, err := e.buffer(b)
		if err != nil {
			return nil, err
		}
		if !eb.usage.Has(UsageStorage) {
			return nil, fmt.Errorf("device: buffer for %q is not a storage buffer", l.elements[i].Name)
		}
		rs.buffers = append(rs.buffers, eb)
	}
	e.track()
	return rs, nil
}

type emuPipeline struct {
	dev      *Emulator
	shader   *emuShader
	group    [3]int
	released atomic.Bool
}

func (p *emuPipeline) Release() {
	if !p.released.Swap(true) {
		p.dev.untrack()
	}
}

func (e *Emulator) CreateComputePipeline(desc ComputePipelineDesc) (Pipeline, error) {
	s, ok := desc.Shader.(*emuShader)
	if !ok || s.released.Load() {
		return nil, errors.New("device: invalid shader")
	}
	group := desc.ThreadGroupSize
	for i := range group {
		if group[i] <= 0 {
			group[i] = 1
		}
	}
	e.track()
	return &emuPipeline{dev: e, shader: s, group: group}, nil
}

// --- command lists ---

type commandOp int

const (
	opDispatch commandOp = iota
	opCopy
)

type command struct {
	op       commandOp
	pipeline *emuPipeline
	set      *emuResourceSet
	groups   [3]int
	src, dst *emuBuffer
	srcOff   int
	dstOff   int
	size     int
}

type emuCommandList struct {
	dev       *Emulator
	recording bool
	pipeline  *emuPipeline
	sets      map[int]*emuResourceSet
	cmds      []command
	err       error
	released  atomic.Bool
}

func (e *Emulator) CreateCommandList() (CommandList, error) {
	e.track()
	return &emuCommandList{dev: e, sets: make(map[int]*emuResourceSet)}, nil
}

func (c *emuCommandList) fail(err error) {
	if c.err == nil {
		c.err = err
	}
}

func (c *emuCommandList) Begin() {
	c.recording = true
	c.cmds = c.cmds[:0]
	c.err = nil
	c.pipeline = nil
	clear(c.sets)
}

func (c *emuCommandList) SetPipeline(p Pipeline) {
	ep, ok := p.(*emuPipeline)
	if !ok {
		c.fail(errors.New("device: foreign pipeline"))
		return
	}
	c.pipeline = ep
}

func (c *emuCommandList) SetResourceSet(slot int, rs ResourceSet) {
	ers, ok := rs.(*emuResourceSet)
	if !ok {
		c.fail(errors.New("device: foreign resource set"))
		return
	}
	c.sets[slot] = ers
}

func (c *emuCommandList) Dispatch(x, y, z int) {
	if !c.recording {
		c.fail(errors.New("device: Dispatch outside Begin/End"))
		return
	}
	if c.pipeline == nil || c.sets[0] == nil {
		c.fail(errors.New("device: Dispatch without pipeline and resource set"))
		return
	}
	c.cmds = append(c.cmds, command{op: opDispatch, pipeline: c.pipeline, set: c.sets[0], groups: [3]int{x, y, z}})
}

func (c *emuCommandList) CopyBuffer(src Buffer, srcOffset int, dst Buffer, dstOffset int, size int) {
	if !c.recording {
		c.fail(errors.New("device: CopyBuffer outside Begin/End"))
		return
	}
	s, err := c.dev.buffer(src)
	if err != nil {
		c.fail(err)
		return
	}
	d, err := c.dev.buffer(dst)
	if err != nil {
		c.fail(err)
		return
	}
	if !s.usage.Has(UsageCopySrc) || !d.usage.Has(UsageCopyDst) {
		c.fail(errors.New("device: copy requires CopySrc and CopyDst usage"))
		return
	}
	if srcOffset+size > len(s.data) || dstOffset+size > len(d.data) {
		c.fail(fmt.Errorf("device: copy of %d bytes out of range", size))
		return
	}
	c.cmds = append(c.cmds, command{op: opCopy, src: s, dst: d, srcOff: srcOffset, dstOff: dstOffset, size: size})
}

func (c *emuCommandList) End() {
	c.recording = false
}

func (c *emuCommandList) Release() {
	if !c.released.Swap(true) {
		c.dev.untrack()
	}
}

func (e *Emulator) Submit(cl CommandList) error {
	c, ok := cl.(*emuCommandList)
	if !ok || c.dev != e {
		return errors.New("device: foreign command list")
	}
	if c.released.Load() {
		return ErrReleased
	}
	if c.recording {
		return errors.New("device: command list submitted before End")
	}
	if c.err != nil {
		return c.err
	}

	e.qmu.Lock()
	defer e.qmu.Unlock()
	if e.closed.Load() {
		return ErrReleased
	}
	cmds := append([]command(nil), c.cmds...)
	e.pending.Add(1)
	e.queue <- cmds
	return nil
}

func (e *Emulator) WaitIdle() error {
	e.pending.Wait()
	e.errMu.Lock()
	defer e.errMu.Unlock()
	err := e.err
	e.err = nil
	return err
}

func (e *Emulator) run() {
	for cmds := range e.queue {
		for _, cmd := range cmds {
			if err := e.execute(cmd); err != nil {
				e.errMu.Lock()
				if e.err == nil {
					e.err = err
				}
				e.errMu.Unlock()
				break
			}
		}
		e.pending.Done()
	}
}

func (e *Emulator) execute(cmd command) error {
	switch cmd.op {
	case opCopy:
		copy(cmd.dst.data[cmd.dstOff:cmd.dstOff+cmd.size], cmd.src.data[cmd.srcOff:cmd.srcOff+cmd.size])
		copiedBytes.WithLabelValues(e.kind.String()).Add(float64(cmd.size))
		return nil
	case opDispatch:
		return e.dispatch(cmd)
	}
	return fmt.Errorf("device: unknown command %d", cmd.op)
}

func (e *Emulator) dispatch(cmd command) error {
	g := cmd.pipeline.group
	nx, ny, nz := cmd.groups[0]*g[0], cmd.groups[1]*g[1], cmd.groups[2]*g[2]
	total := nx * ny * nz
	if total <= 0 {
		return nil
	}

	mem := make([][]byte, len(cmd.set.buffers))
	for i, b := range cmd.set.buffers {
		mem[i] = b.data
	}
	kernel := cmd.pipeline.shader.kernel

	workers := e.workers
	if workers > total {
		workers = total
	}
	chunkSize := (total + workers - 1) / workers

	var wg sync.WaitGroup
	var faultMu sync.Mutex
	var fault error
	for w := 0; w < workers; w++ {
		start := w * chunkSize
		if start >= total {
			break
		}
		end := start + chunkSize
		if end > total {
			end = total
		}

		wg.Add(1)
		go func(s, eIdx int) {
			defer wg.Done()
			defer func() {
				if r := recover(); r != nil {
					faultMu.Lock()
					if fault == nil {
						fault = fmt.Errorf("device: kernel %q faulted: %v", cmd.pipeline.shader.entry, r)
					}
					faultMu.Unlock()
				}
			}()
			for flat := s; flat < eIdx; flat++ {
				id := [3]int{flat % nx, (flat / nx) % ny, flat / (nx * ny)}
				kernel(Invocation{ID: id, Buffers: mem})
			}
		}(start, end)
	}
	wg.Wait()

	dispatches.WithLabelValues(e.kind.String()).Inc()
	invocations.WithLabelValues(e.kind.String()).Add(float64(total))

	return fault
}

// Close drains queued work and stops the queue goroutine. Resources still
// alive are reported but not freed; callers own their release.
func (e *Emulator) Close() error {
	e.closeOnce.Do(func() {
		e.qmu.Lock()
		e.closed.Store(true)
		e.pending.Wait()
		close(e.queue)
		e.qmu.Unlock()
		if n := e.live.Load(); n > 0 {
			log.Warn().Str("device", e.name).Int64("live", n).Msg("Device closed with live resources")
		}
	})
	return nil
}
