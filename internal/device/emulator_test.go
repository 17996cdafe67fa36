package device

import (
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func doubleKernel() EmuKernel {
	return TypedKernel(func(buf []uint32, i int) { buf[i] *= 2 })
}

// setupDouble builds a pipeline over n uint32 elements with readback staging.
func setupDouble(t *testing.T, e *Emulator, n int) (Buffer, Buffer, Pipeline, ResourceSet) {
	t.Helper()
	dev, err := e.CreateBuffer(BufferDesc{Size: 4 * n, StructStride: 4, Usage: UsageStorage | UsageCopySrc | UsageCopyDst})
	require.NoError(t, err)
	staging, err := e.CreateBuffer(BufferDesc{Size: 4 * n, Usage: UsageStaging | UsageCopyDst})
	require.NoError(t, err)

	sh, err := e.CreateShader(EncodeEmuModule("double"), "main")
	require.NoError(t, err)
	layout, err := e.CreateResourceLayout(ResourceLayoutDesc{Elements: []LayoutElement{{Name: "data", Kind: ResourceStructuredReadWrite}}})
	require.NoError(t, err)
	set, err := e.CreateResourceSet(layout, dev)
	require.NoError(t, err)
	pipe, err := e.CreateComputePipeline(ComputePipelineDesc{Shader: sh, Layouts: []ResourceLayout{layout}, ThreadGroupSize: [3]int{1, 1, 1}})
	require.NoError(t, err)

	t.Cleanup(func() {
		pipe.Release()
		set.Release()
		layout.Release()
		sh.Release()
		staging.Release()
		dev.Release()
	})
	return dev, staging, pipe, set
}

func TestEmulator_DispatchCopyReadback(t *testing.T) {
	e := NewEmulator(WithWorkers(3), WithKernel("double", doubleKernel()))
	defer e.Close()

	const n = 17
	dev, staging, pipe, set := setupDouble(t, e, n)

	in := make([]byte, 0, 4*n)
	for i := 0; i < n; i++ {
		in = binary.LittleEndian.AppendUint32(in, uint32(i))
	}
	require.NoError(t, e.UpdateBuffer(dev, 0, in))

	cl, err := e.CreateCommandList()
	require.NoError(t, err)
	defer cl.Release()

	cl.Begin()
	cl.SetPipeline(pipe)
	cl.SetResourceSet(0, set)
	cl.Dispatch(n, 1, 1)
	cl.End()
	require.NoError(t, e.Submit(cl))
	require.NoError(t, e.WaitIdle())

	cl.Begin()
	cl.CopyBuffer(dev, 0, staging, 0, 4*n)
	cl.End()
	require.NoError(t, e.Submit(cl))
	require.NoError(t, e.WaitIdle())

	mem, err := e.Map(staging, MapRead)
	require.NoError(t, err)
	for i := 0; i < n; i++ {
		assert.Equal(t, uint32(2*i), binary.LittleEndian.Uint32(mem[4*i:]), "element %d", i)
	}
	require.NoError(t, e.Unmap(staging))
}

func TestEmulator_KernelFaultSurfacesOnWaitIdle(t *testing.T) {
	e := NewEmulator(WithKernel("double", func(Invocation) { panic("boom") }))
	defer e.Close()

	_, _, pipe, set := setupDouble(t, e, 4)
	cl, err := e.CreateCommandList()
	require.NoError(t, err)
	defer cl.Release()

	cl.Begin()
	cl.SetPipeline(pipe)
	cl.SetResourceSet(0, set)
	cl.Dispatch(4, 1, 1)
	cl.End()
	require.NoError(t, e.Submit(cl))

	err = e.WaitIdle()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "faulted")

	// The error is consumed.
	assert.NoError(t, e.WaitIdle())
}

func TestEmulator_Buffers(t *testing.T) {
	e := NewEmulator(WithMemoryBudget(64))
	defer e.Close()

	t.Run("Budget", func(t *testing.T) {
		a, err := e.CreateBuffer(BufferDesc{Size: 48, Usage: UsageStorage})
		require.NoError(t, err)
		_, err = e.CreateBuffer(BufferDesc{Size: 32, Usage: UsageStorage})
		assert.ErrorIs(t, err, ErrOutOfMemory)

		used, budget := e.VRAMUsage()
		assert.Equal(t, int64(48), used)
		assert.Equal(t, int64(64), budget)

		a.Release()
		a.Release()
		used, _ = e.VRAMUsage()
		assert.Equal(t, int64(0), used)
	})

	t.Run("InvalidDesc", func(t *testing.T) {
		_, err := e.CreateBuffer(BufferDesc{Size: 0})
		assert.Error(t, err)
		_, err = e.CreateBuffer(BufferDesc{Size: 10, StructStride: 4})
		assert.Error(t, err)
	})

	t.Run("MapRequiresStaging", func(t *testing.T) {
		b, err := e.CreateBuffer(BufferDesc{Size: 8, Usage: UsageStorage})
		require.NoError(t, err)
		defer b.Release()
		_, err = e.Map(b, MapRead)
		assert.Error(t, err)
	})

	t.Run("DoubleMap", func(t *testing.T) {
		b, err := e.CreateBuffer(BufferDesc{Size: 8, Usage: UsageStaging})
		require.NoError(t, err)
		defer b.Release()
		_, err = e.Map(b, MapRead)
		require.NoError(t, err)
		_, err = e.Map(b, MapRead)
		assert.Error(t, err)
		require.NoError(t, e.Unmap(b))
		assert.Error(t, e.Unmap(b))
	})

	t.Run("UseAfterRelease", func(t *testing.T) {
		b, err := e.CreateBuffer(BufferDesc{Size: 8, Usage: UsageStorage})
		require.NoError(t, err)
		b.Release()
		assert.ErrorIs(t, e.UpdateBuffer(b, 0, []byte{1}), ErrReleased)
	})

	t.Run("UpdateOutOfRange", func(t *testing.T) {
		b, err := e.CreateBuffer(BufferDesc{Size: 4, Usage: UsageStorage})
		require.NoError(t, err)
		defer b.Release()
		assert.Error(t, e.UpdateBuffer(b, 2, []byte{1, 2, 3}))
	})
}

func TestEmulator_CommandListValidation(t *testing.T) {
	e := NewEmulator(WithKernel("double", doubleKernel()))
	defer e.Close()
	dev, staging, _, _ := setupDouble(t, e, 2)

	cl, err := e.CreateCommandList()
	require.NoError(t, err)
	defer cl.Release()

	// Dispatch without a pipeline.
	cl.Begin()
	cl.Dispatch(1, 1, 1)
	cl.End()
	assert.Error(t, e.Submit(cl))

	// Staging is not a copy source.
	cl.Begin()
	cl.CopyBuffer(staging, 0, dev, 0, 8)
	cl.End()
	assert.Error(t, e.Submit(cl))

	// Submitting while still recording.
	cl.Begin()
	assert.Error(t, e.Submit(cl))
	cl.End()
}

func TestEmulator_ResourceSetRequiresStorage(t *testing.T) {
	e := NewEmulator()
	defer e.Close()

	layout, err := e.CreateResourceLayout(ResourceLayoutDesc{Elements: []LayoutElement{{Name: "data"}}})
	require.NoError(t, err)
	defer layout.Release()

	b, err := e.CreateBuffer(BufferDesc{Size: 4, Usage: UsageStaging})
	require.NoError(t, err)
	defer b.Release()

	_, err = e.CreateResourceSet(layout, b)
	assert.Error(t, err)
	_, err = e.CreateResourceSet(layout)
	assert.Error(t, err)
}

func TestEmulator_LiveResources(t *testing.T) {
	e := NewEmulator(WithKernel("double", doubleKernel()))
	defer e.Close()

	t.Run("Acquire", func(t *testing.T) {
		setupDouble(t, e, 4)
		assert.Equal(t, int64(6), e.LiveResources())
	})
	assert.Equal(t, int64(0), e.LiveResources())
}

func TestEmulator_UnknownModule(t *testing.T) {
	e := NewEmulator()
	defer e.Close()

	_, err := e.CreateShader(EncodeEmuModule("missing"), "main")
	assert.Error(t, err)
	_, err = e.CreateShader([]byte("garbage"), "main")
	assert.Error(t, err)
}

func TestEmulator_SubmitAfterClose(t *testing.T) {
	e := NewEmulator()
	cl, err := e.CreateCommandList()
	require.NoError(t, err)
	require.NoError(t, e.Close())
	require.NoError(t, e.Close())

	assert.ErrorIs(t, e.Submit(cl), ErrReleased)
	cl.Release()
}

func TestEmulator_ImpersonatesKind(t *testing.T) {
	e := NewEmulator(WithKind(KindVulkan))
	defer e.Close()
	assert.Equal(t, KindVulkan, e.Kind())
	assert.Contains(t, e.Name(), "vulkan")
}

func TestEmuModule(t *testing.T) {
	name, err := DecodeEmuModule(EncodeEmuModule("builtins"))
	require.NoError(t, err)
	assert.Equal(t, "builtins", name)

	bc := EncodeEmuModule("x")
	_, err = DecodeEmuModule(bc[:len(bc)-1])
	assert.Error(t, err)
	_, err = DecodeEmuModule(bc[:5])
	assert.Error(t, err)
}

func TestParseKind(t *testing.T) {
	for _, k := range Kinds() {
		got, err := ParseKind(k.String())
		require.NoError(t, err)
		assert.Equal(t, k, got)
	}
	got, err := ParseKind(" Vulkan ")
	require.NoError(t, err)
	assert.Equal(t, KindVulkan, got)

	_, err = ParseKind("glide")
	assert.Error(t, err)
	assert.Equal(t, "unknown", KindUnknown.String())
}

func TestOpenNative(t *testing.T) {
	_, err := OpenNative(KindMetal)
	assert.ErrorIs(t, err, ErrBackendUnavailable)

	d, err := OpenNative(KindEmulated)
	require.NoError(t, err)
	assert.Equal(t, KindEmulated, d.Kind())
	require.NoError(t, d.Close())
}
