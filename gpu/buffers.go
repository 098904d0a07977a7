// Package gpu implements the Jacobi XPBD pipeline on top of wgpu compute
// shaders: six dispatches per substep, scattering corrections into a
// fixed-size per-particle accumulator instead of using atomic float adds.
package gpu

import (
	"encoding/binary"
	"math"

	"github.com/cogentcore/webgpu/wgpu"
	"github.com/go-gl/mathgl/mgl32"
)

// MaxAccumulatorSlots is the fixed capacity of the per-particle constraint
// delta accumulator (ParticleConstraintDeltas in the WGSL source). It bounds
// how many constraints of one type may touch a single particle.
const MaxAccumulatorSlots = 64

// particleSize is sizeof(Particle) in the WGSL std430 layout: four vec3<f32>
// fields, each occupying 16 bytes (common.wgsl declares an explicit f32 pad
// after ext_acc so inv_mass lands at offset 64), plus the trailing f32,
// rounded up to the struct's own 16-byte alignment: 4*16 + 4 -> 80.
const particleSize = 80

// distanceConstraintSize is sizeof(DistanceConstraint): two u32 indices plus
// two f32 fields, no padding needed since every member has 4-byte alignment.
const distanceConstraintSize = 16

// tetConstraintSize is sizeof(TetrahedralVolumeConstraint): four u32 indices
// plus two f32 fields.
const tetConstraintSize = 24

// simParamsSize is sizeof(SimParams) padded to the 16-byte alignment
// required of uniform buffer bindings.
const simParamsSize = 16

// accumulatorSize is sizeof(ParticleConstraintDeltas<64>): a u32 count
// padded to 16 bytes, followed by 64 padded vec3<f32> deltas.
const accumulatorSize = 16 + MaxAccumulatorSlots*16

func putFloat32(dst []byte, v float32) {
	binary.LittleEndian.PutUint32(dst, math.Float32bits(v))
}

func putVec3Padded(dst []byte, v mgl32.Vec3) {
	putFloat32(dst[0:4], v.X())
	putFloat32(dst[4:8], v.Y())
	putFloat32(dst[8:12], v.Z())
	// dst[12:16] left zero: the std430 vec3 padding lane.
}

// ParticleBytes packs a CPU-side particle into its GPU std430 layout.
func ParticleBytes(prevPosition, position, velocity, extAcc mgl32.Vec3, invMass float32) []byte {
	buf := make([]byte, particleSize)
	putVec3Padded(buf[0:16], prevPosition)
	putVec3Padded(buf[16:32], position)
	putVec3Padded(buf[32:48], velocity)
	putVec3Padded(buf[48:64], extAcc)
	putFloat32(buf[64:68], invMass)
	return buf
}

// DistanceConstraintBytes packs one distance constraint.
func DistanceConstraintBytes(a, b uint32, restDistance, compliance float32) []byte {
	buf := make([]byte, distanceConstraintSize)
	binary.LittleEndian.PutUint32(buf[0:4], a)
	binary.LittleEndian.PutUint32(buf[4:8], b)
	putFloat32(buf[8:12], restDistance)
	putFloat32(buf[12:16], compliance)
	return buf
}

// TetConstraintBytes packs one tetrahedral-volume constraint.
func TetConstraintBytes(indices [4]uint32, restVolume, compliance float32) []byte {
	buf := make([]byte, tetConstraintSize)
	for i, idx := range indices {
		binary.LittleEndian.PutUint32(buf[i*4:i*4+4], idx)
	}
	putFloat32(buf[16:20], restVolume)
	putFloat32(buf[20:24], compliance)
	return buf
}

// SimParamsBytes packs the per-simulate-call uniform: substep size, the
// Jacobi over-relaxation factor, and the ground clamp plane.
func SimParamsBytes(subDelta, jacobiW, groundPlaneZ float32) []byte {
	buf := make([]byte, simParamsSize)
	putFloat32(buf[0:4], subDelta)
	putFloat32(buf[4:8], jacobiW)
	putFloat32(buf[8:12], groundPlaneZ)
	return buf
}

func getFloat32(src []byte) float32 {
	return math.Float32frombits(binary.LittleEndian.Uint32(src))
}

func getVec3Padded(src []byte) mgl32.Vec3 {
	return mgl32.Vec3{getFloat32(src[0:4]), getFloat32(src[4:8]), getFloat32(src[8:12])}
}

// UnpackParticle reverses ParticleBytes for a single particle's worth of
// raw bytes read back from the GPU.
func UnpackParticle(b []byte) (prevPosition, position, velocity, extAcc mgl32.Vec3, invMass float32) {
	prevPosition = getVec3Padded(b[0:16])
	position = getVec3Padded(b[16:32])
	velocity = getVec3Padded(b[32:48])
	extAcc = getVec3Padded(b[48:64])
	invMass = getFloat32(b[64:68])
	return
}

// createStorageBuffer allocates a storage buffer sized to exactly len(data)
// bytes (a minimum of 4 so a zero-constraint scene still gets a valid
// binding) and uploads data. Constraint counts are fixed after
// initialization (spec §3 invariant), so unlike a general-purpose
// growable allocator this never needs to resize: a buffer padded beyond
// its real element count would make arrayLength() in the WGSL kernels
// overrun into phantom zero-valued constraints, all of which scatter onto
// particle 0 and skew its Jacobi averaging denominator.
func createStorageBuffer(device *wgpu.Device, label string, data []byte, usage wgpu.BufferUsage) (*wgpu.Buffer, error) {
	size := uint64(len(data))
	if size == 0 {
		size = 4
	}
	buf, err := device.CreateBuffer(&wgpu.BufferDescriptor{
		Label: label,
		Size:  size,
		Usage: usage,
	})
	if err != nil {
		return nil, err
	}
	if len(data) > 0 {
		device.GetQueue().WriteBuffer(buf, 0, data)
	}
	return buf, nil
}
