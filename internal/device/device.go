package device

import (
	"errors"
)

var (
	// ErrBackendUnavailable is returned when no device of the requested kind
	// can be created in this build or on this host.
	ErrBackendUnavailable = errors.New("device: backend unavailable")
	// ErrReleased is returned when a released resource is used.
	ErrReleased = errors.New("device: resource already released")
	// ErrOutOfMemory is returned when a buffer allocation exceeds the device budget.
	ErrOutOfMemory = errors.New("device: out of memory")
)

// BufferUsage is a bit set describing how a buffer may be bound.
type BufferUsage uint32

const (
	// UsageStorage is a read-write structured buffer visible to shaders.
	UsageStorage BufferUsage = 1 << iota
	// UsageStaging is host-mappable and used for readback.
	UsageStaging
	UsageCopySrc
	UsageCopyDst
)

func (u BufferUsage) Has(flag BufferUsage) bool {
	return u&flag == flag
}

// BufferDesc describes a device buffer.
type BufferDesc struct {
	Size int
	// StructStride is the element size for structured buffers, 0 otherwise.
	StructStride int
	Usage        BufferUsage
}

// Buffer is device memory.
type Buffer interface {
	Size() int
	Usage() BufferUsage
	Release()
}

// Shader is a loaded compute module.
type Shader interface {
	Entry() string
	Release()
}

// ResourceKind is the binding type of a layout element.
type ResourceKind int

const (
	ResourceStructuredReadWrite ResourceKind = iota
	ResourceStructuredReadOnly
	ResourceUniform
)

// LayoutElement is one binding slot.
type LayoutElement struct {
	Name string
	Kind ResourceKind
}

// ResourceLayoutDesc describes the shape of a resource set.
type ResourceLayoutDesc struct {
	Elements []LayoutElement
}

type ResourceLayout interface {
	Release()
}

// ResourceSet binds concrete buffers to a layout.
type ResourceSet interface {
	Release()
}

// ComputePipelineDesc describes a compute pipeline.
type ComputePipelineDesc struct {
	Shader  Shader
	Layouts []ResourceLayout
	// ThreadGroupSize is the local workgroup size declared by the kernel.
	ThreadGroupSize [3]int
}

type Pipeline interface {
	Release()
}

// CommandList records GPU work. Commands run only after Submit.
type CommandList interface {
	Begin()
	SetPipeline(p Pipeline)
	SetResourceSet(slot int, rs ResourceSet)
	// Dispatch launches x*y*z thread groups.
	Dispatch(x, y, z int)
	CopyBuffer(src Buffer, srcOffset int, dst Buffer, dstOffset int, size int)
	End()
	Release()
}

// MapMode selects host access to a mapped buffer.
type MapMode int

const (
	MapRead MapMode = iota
	MapWrite
)

// Device is the graphics-device abstraction a parity run drives.
type Device interface {
	Kind() Kind
	Name() string

	CreateBuffer(desc BufferDesc) (Buffer, error)
	// UpdateBuffer uploads data into b at offset.
	UpdateBuffer(b Buffer, offset int, data []byte) error
	CreateShader(bytecode []byte, entry string) (Shader, error)
	CreateResourceLayout(desc ResourceLayoutDesc) (ResourceLayout, error)
	CreateResourceSet(layout ResourceLayout, buffers ...Buffer) (ResourceSet, error)
	CreateComputePipeline(desc ComputePipelineDesc) (Pipeline, error)
	CreateCommandList() (CommandList, error)

	// Submit queues recorded work. It may return before the work completes.
	Submit(cl CommandList) error
	// WaitIdle blocks until all submitted work has completed.
	WaitIdle() error

	// Map exposes buffer memory to the host until Unmap.
	Map(b Buffer, mode MapMode) ([]byte, error)
	Unmap(b Buffer) error

	// VRAMUsage returns (allocated, budget) in bytes; budget 0 means unlimited.
	VRAMUsage() (int64, int64)

	Close() error
}
