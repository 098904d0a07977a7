package gpu

import (
	"fmt"

	"github.com/cogentcore/webgpu/wgpu"

	"github.com/gekko3d/xpbd/gpu/shaders"
)

// createKernelPipeline compiles one compute kernel's WGSL source (the common
// struct definitions prefixed to the kernel-specific bindings and entry
// point) into a pipeline with an auto-derived bind group layout, the same
// way the teacher's CreateCompressionPipeline and manager_edit.go build
// their compute pipelines.
func createKernelPipeline(device *wgpu.Device, label, src string) (*wgpu.ComputePipeline, error) {
	shaderDesc := &wgpu.ShaderModuleDescriptor{
		Label: label + "Shader",
		WGSLDescriptor: &wgpu.ShaderModuleWGSLDescriptor{
			Code: shaders.CommonWGSL + src,
		},
	}
	module, err := device.CreateShaderModule(shaderDesc)
	if err != nil {
		return nil, fmt.Errorf("xpbd/gpu: failed to create %s shader module: %w", label, err)
	}
	defer module.Release()

	pipeline, err := device.CreateComputePipeline(&wgpu.ComputePipelineDescriptor{
		Label: label + "Pipeline",
		Compute: wgpu.ProgrammableStageDescriptor{
			Module:     module,
			EntryPoint: "main",
		},
	})
	if err != nil {
		return nil, fmt.Errorf("xpbd/gpu: failed to create %s pipeline: %w", label, err)
	}
	return pipeline, nil
}

// workgroupsFor follows the original's exact (unconditional +1)
// overprovisioning rather than a precise ceiling division.
func workgroupsFor(count uint32) uint32 {
	return count/64 + 1
}

type presolveKernel struct {
	pipeline  *wgpu.ComputePipeline
	bindGroup *wgpu.BindGroup
}

func newPresolveKernel(device *wgpu.Device) (*presolveKernel, error) {
	pipeline, err := createKernelPipeline(device, "Presolve", shaders.PresolveWGSL)
	if err != nil {
		return nil, err
	}
	return &presolveKernel{pipeline: pipeline}, nil
}

func (k *presolveKernel) updateBindGroup(device *wgpu.Device, simParams, particles *wgpu.Buffer) error {
	bg, err := device.CreateBindGroup(&wgpu.BindGroupDescriptor{
		Layout: k.pipeline.GetBindGroupLayout(0),
		Entries: []wgpu.BindGroupEntry{
			{Binding: 0, Buffer: simParams, Size: wgpu.WholeSize},
			{Binding: 1, Buffer: particles, Size: wgpu.WholeSize},
		},
	})
	if err != nil {
		return err
	}
	k.bindGroup = bg
	return nil
}

func (k *presolveKernel) run(pass *wgpu.ComputePassEncoder, particleCount uint32) {
	pass.SetPipeline(k.pipeline)
	pass.SetBindGroup(0, k.bindGroup, nil)
	pass.DispatchWorkgroups(workgroupsFor(particleCount), 1, 1)
}

type postsolveKernel struct {
	pipeline  *wgpu.ComputePipeline
	bindGroup *wgpu.BindGroup
}

func newPostsolveKernel(device *wgpu.Device) (*postsolveKernel, error) {
	pipeline, err := createKernelPipeline(device, "Postsolve", shaders.PostsolveWGSL)
	if err != nil {
		return nil, err
	}
	return &postsolveKernel{pipeline: pipeline}, nil
}

func (k *postsolveKernel) updateBindGroup(device *wgpu.Device, simParams, particles *wgpu.Buffer) error {
	bg, err := device.CreateBindGroup(&wgpu.BindGroupDescriptor{
		Layout: k.pipeline.GetBindGroupLayout(0),
		Entries: []wgpu.BindGroupEntry{
			{Binding: 0, Buffer: simParams, Size: wgpu.WholeSize},
			{Binding: 1, Buffer: particles, Size: wgpu.WholeSize},
		},
	})
	if err != nil {
		return err
	}
	k.bindGroup = bg
	return nil
}

func (k *postsolveKernel) run(pass *wgpu.ComputePassEncoder, particleCount uint32) {
	pass.SetPipeline(k.pipeline)
	pass.SetBindGroup(0, k.bindGroup, nil)
	pass.DispatchWorkgroups(workgroupsFor(particleCount), 1, 1)
}

// solveKernel is shared by the distance and tet solvers: particles(ro),
// constraints(ro), a results accumulator(rw) it clears before each dispatch.
type solveKernel struct {
	pipeline  *wgpu.ComputePipeline
	bindGroup *wgpu.BindGroup
	results   *wgpu.Buffer
}

func newSolveKernel(device *wgpu.Device, label, src string, particleCount uint32) (*solveKernel, error) {
	pipeline, err := createKernelPipeline(device, label, src)
	if err != nil {
		return nil, err
	}
	results, err := device.CreateBuffer(&wgpu.BufferDescriptor{
		Label: label + "Results",
		Size:  uint64(particleCount) * accumulatorSize,
		Usage: wgpu.BufferUsageStorage | wgpu.BufferUsageCopyDst,
	})
	if err != nil {
		return nil, fmt.Errorf("xpbd/gpu: failed to create %s results buffer: %w", label, err)
	}
	return &solveKernel{pipeline: pipeline, results: results}, nil
}

func (k *solveKernel) updateBindGroup(device *wgpu.Device, simParams, particles, constraints *wgpu.Buffer) error {
	bg, err := device.CreateBindGroup(&wgpu.BindGroupDescriptor{
		Layout: k.pipeline.GetBindGroupLayout(0),
		Entries: []wgpu.BindGroupEntry{
			{Binding: 0, Buffer: simParams, Size: wgpu.WholeSize},
			{Binding: 1, Buffer: particles, Size: wgpu.WholeSize},
			{Binding: 2, Buffer: constraints, Size: wgpu.WholeSize},
			{Binding: 3, Buffer: k.results, Size: wgpu.WholeSize},
		},
	})
	if err != nil {
		return err
	}
	k.bindGroup = bg
	return nil
}

// prerun zero-fills the results accumulator. The teacher's Go bindings have
// no encoder.ClearBuffer exposed anywhere in the retrieval pack, so this
// uses queue.WriteBuffer the way InitializeCompressionBuffers zeroes its
// counter. A queue write takes effect ahead of any command buffer submitted
// after it, so within one Simulate call the clear lands before the first
// substep's dispatch; add_deltas.wgsl resets each particle's count to zero
// after applying it, which leaves the accumulator clean for later substeps.
func (k *solveKernel) prerun(device *wgpu.Device) {
	zero := make([]byte, k.results.GetSize())
	device.GetQueue().WriteBuffer(k.results, 0, zero)
}

func (k *solveKernel) run(pass *wgpu.ComputePassEncoder, constraintCount uint32) {
	if constraintCount == 0 {
		return
	}
	pass.SetPipeline(k.pipeline)
	pass.SetBindGroup(0, k.bindGroup, nil)
	pass.DispatchWorkgroups(workgroupsFor(constraintCount), 1, 1)
}

// addDeltasKernel applies one solveKernel's accumulated results back onto
// the particle buffer. Instantiated twice: once for distance results, once
// for tet results.
type addDeltasKernel struct {
	pipeline  *wgpu.ComputePipeline
	bindGroup *wgpu.BindGroup
}

func newAddDeltasKernel(device *wgpu.Device) (*addDeltasKernel, error) {
	pipeline, err := createKernelPipeline(device, "AddDeltas", shaders.AddDeltasWGSL)
	if err != nil {
		return nil, err
	}
	return &addDeltasKernel{pipeline: pipeline}, nil
}

func (k *addDeltasKernel) updateBindGroup(device *wgpu.Device, simParams, particles, results *wgpu.Buffer) error {
	bg, err := device.CreateBindGroup(&wgpu.BindGroupDescriptor{
		Layout: k.pipeline.GetBindGroupLayout(0),
		Entries: []wgpu.BindGroupEntry{
			{Binding: 0, Buffer: simParams, Size: wgpu.WholeSize},
			{Binding: 1, Buffer: particles, Size: wgpu.WholeSize},
			{Binding: 2, Buffer: results, Size: wgpu.WholeSize},
		},
	})
	if err != nil {
		return err
	}
	k.bindGroup = bg
	return nil
}

func (k *addDeltasKernel) run(pass *wgpu.ComputePassEncoder, particleCount uint32) {
	pass.SetPipeline(k.pipeline)
	pass.SetBindGroup(0, k.bindGroup, nil)
	pass.DispatchWorkgroups(workgroupsFor(particleCount), 1, 1)
}
