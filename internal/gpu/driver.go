// Package gpu runs a compiled kernel over an invocation buffer on a device:
// upload, dispatch, copy to staging and readback, one synchronous round at a
// time.
package gpu

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/23skdu/longbow-parity/internal/device"
	"github.com/23skdu/longbow-parity/internal/errs"
	"github.com/23skdu/longbow-parity/internal/kernels"
	"github.com/23skdu/longbow-parity/internal/shader"
	"github.com/23skdu/longbow-parity/internal/value"
)

var tracer = otel.Tracer("parity-gpu")

// Driver owns every device resource a run needs. It is not safe for
// concurrent use; rounds are serialized by the caller.
type Driver[T any] struct {
	dev     device.Device
	desc    kernels.Descriptor
	dialect shader.Dialect
	n       int
	bytes   int

	buffer   device.Buffer
	staging  device.Buffer
	shader   device.Shader
	layout   device.ResourceLayout
	set      device.ResourceSet
	pipeline device.Pipeline
	cl       device.CommandList

	// releases holds cleanup in acquisition order.
	releases []func()
	closed   bool
}

// Open verifies the device backend, builds the kernel for it and acquires
// the buffers and pipeline for k.Invocations elements of T. On failure every
// resource acquired so far is released before returning.
func Open[T any](ctx context.Context, dev device.Device, tc shader.Toolchain, compiler shader.Compiler, k kernels.Descriptor, expected device.Kind) (_ *Driver[T], err error) {
	_, span := tracer.Start(ctx, "gpu.Open")
	defer span.End()
	span.SetAttributes(
		attribute.String("kernel", k.Name),
		attribute.String("backend", expected.String()),
	)

	const op = "gpu.Open"
	if dev.Kind() != expected {
		return nil, errs.New(errs.KindBackendMismatch, op,
			fmt.Sprintf("device %q is %s, expected %s", dev.Name(), dev.Kind(), expected), nil)
	}
	if err := k.Validate(); err != nil {
		return nil, errs.New(errs.KindConfig, op, "invalid kernel descriptor", err)
	}
	if err := value.CheckFixedSize[T](); err != nil {
		return nil, errs.New(errs.KindConfig, op, "invocation type cannot be uploaded", err)
	}

	d := &Driver[T]{
		dev:   dev,
		desc:  k,
		n:     k.Invocations,
		bytes: value.Size[T]() * k.Invocations,
	}
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			d.release()
		}
	}()

	d.dialect, err = shader.DialectFor(expected)
	if err != nil {
		return nil, errs.New(errs.KindBackendMismatch, op, "backend has no shader dialect", err)
	}
	bytecode, err := d.build(tc, compiler)
	if err != nil {
		return nil, err
	}

	res := func(what string, err error) error {
		return errs.New(errs.KindResource, op, "create "+what, err)
	}

	stride := value.Size[T]()
	if d.buffer, err = dev.CreateBuffer(device.BufferDesc{
		Size:         d.bytes,
		StructStride: stride,
		Usage:        device.UsageStorage | device.UsageCopySrc | device.UsageCopyDst,
	}); err != nil {
		return nil, res("device buffer", err)
	}
	d.acquired(d.buffer.Release)

	if d.staging, err = dev.CreateBuffer(device.BufferDesc{
		Size:  d.bytes,
		Usage: device.UsageStaging | device.UsageCopyDst,
	}); err != nil {
		return nil, res("staging buffer", err)
	}
	d.acquired(d.staging.Release)

	if d.shader, err = dev.CreateShader(bytecode, k.EntryPoint); err != nil {
		return nil, res("shader", err)
	}
	d.acquired(d.shader.Release)

	if d.layout, err = dev.CreateResourceLayout(device.ResourceLayoutDesc{
		Elements: []device.LayoutElement{{Name: "data", Kind: device.ResourceStructuredReadWrite}},
	}); err != nil {
		return nil, res("resource layout", err)
	}
	d.acquired(d.layout.Release)

	if d.set, err = dev.CreateResourceSet(d.layout, d.buffer); err != nil {
		return nil, res("resource set", err)
	}
	d.acquired(d.set.Release)

	if d.pipeline, err = dev.CreateComputePipeline(device.ComputePipelineDesc{
		Shader:          d.shader,
		Layouts:         []device.ResourceLayout{d.layout},
		ThreadGroupSize: [3]int{1, 1, 1},
	}); err != nil {
		return nil, res("compute pipeline", err)
	}
	d.acquired(d.pipeline.Release)

	if d.cl, err = dev.CreateCommandList(); err != nil {
		return nil, res("command list", err)
	}
	d.acquired(d.cl.Release)

	log.Debug().
		Str("kernel", k.Name).
		Str("device", dev.Name()).
		Stringer("dialect", d.dialect).
		Int("invocations", d.n).
		Int("bytes", d.bytes).
		Msg("GPU driver ready")
	return d, nil
}

func (d *Driver[T]) build(tc shader.Toolchain, compiler shader.Compiler) ([]byte, error) {
	const op = "gpu.Open"
	src, err := compiler.Compile(d.desc, d.dialect)
	if err != nil {
		return nil, errs.New(errs.KindCompile, op,
			fmt.Sprintf("translate %s to %s", d.desc.Name, d.dialect), err)
	}
	bytecode, err := tc.Build(src, shader.StageCompute, d.desc.EntryPoint)
	if err != nil {
		msg := fmt.Sprintf("build %s for %s", d.desc.Name, d.dialect)
		var ce *shader.CompileError
		if errors.As(err, &ce) {
			return nil, errs.WithContext(errs.KindCompile, op, msg, err, ce.Diagnostics)
		}
		return nil, errs.New(errs.KindCompile, op, msg, err)
	}
	return bytecode, nil
}

func (d *Driver[T]) acquired(release func()) {
	d.releases = append(d.releases, release)
}

func (d *Driver[T]) release() {
	for i := len(d.releases) - 1; i >= 0; i-- {
		d.releases[i]()
	}
	d.releases = nil
}

// Invocations is the element count of every round.
func (d *Driver[T]) Invocations() int { return d.n }

// Dialect is the shading dialect the kernel was built in.
func (d *Driver[T]) Dialect() shader.Dialect { return d.dialect }

// Round uploads in, dispatches one invocation per element and reads the
// device results back into out. Both slices must hold Invocations elements.
func (d *Driver[T]) Round(ctx context.Context, in, out []T) (err error) {
	backend := d.dev.Kind().String()
	_, span := tracer.Start(ctx, "gpu.Round",
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(attribute.String("backend", backend)),
	)
	defer span.End()

	start := time.Now()
	defer func() {
		roundDuration.WithLabelValues(backend).Observe(time.Since(start).Seconds())
		if err != nil {
			roundErrors.WithLabelValues(backend).Inc()
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
	}()

	const op = "gpu.Round"
	if d.closed {
		return errs.New(errs.KindDevice, op, "driver is closed", device.ErrReleased)
	}
	if len(in) != d.n || len(out) != d.n {
		return errs.New(errs.KindDevice, op,
			fmt.Sprintf("buffers hold %d and %d elements, kernel expects %d", len(in), len(out), d.n), nil)
	}
	fail := func(step string, err error) error {
		return errs.New(errs.KindDevice, op, step, err)
	}

	data, err := value.Encode(in)
	if err != nil {
		return fail("encode input", err)
	}
	if err := d.dev.UpdateBuffer(d.buffer, 0, data); err != nil {
		return fail("upload", err)
	}

	d.cl.Begin()
	d.cl.SetPipeline(d.pipeline)
	d.cl.SetResourceSet(0, d.set)
	d.cl.Dispatch(d.n, 1, 1)
	d.cl.End()
	if err := d.submit(); err != nil {
		return fail("dispatch", err)
	}
	span.AddEvent("dispatched")

	d.cl.Begin()
	d.cl.CopyBuffer(d.buffer, 0, d.staging, 0, d.bytes)
	d.cl.End()
	if err := d.submit(); err != nil {
		return fail("copy to staging", err)
	}

	mem, err := d.dev.Map(d.staging, device.MapRead)
	if err != nil {
		return fail("map staging", err)
	}
	decodeErr := value.Decode(mem, out)
	if err := d.dev.Unmap(d.staging); err != nil {
		return fail("unmap staging", err)
	}
	if decodeErr != nil {
		return fail("decode output", decodeErr)
	}

	span.SetAttributes(attribute.Int("invocations", d.n))
	return nil
}

func (d *Driver[T]) submit() error {
	if err := d.dev.Submit(d.cl); err != nil {
		return err
	}
	return d.dev.WaitIdle()
}

// Close releases every resource in reverse acquisition order. It is safe to
// call more than once. The device itself is owned by the caller.
func (d *Driver[T]) Close() error {
	if d.closed {
		return nil
	}
	d.closed = true
	d.release()
	return nil
}
