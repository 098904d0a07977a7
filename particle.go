package xpbd

import "github.com/go-gl/mathgl/mgl32"

// Particle is a single point mass in the XPBD system. Position and
// PrevPosition are both tracked because XPBD derives velocity from their
// difference rather than integrating it directly (see postsolve in
// Simulation.Advance).
type Particle struct {
	PrevPosition Vec3
	Position     Vec3
	Velocity     Vec3
	ExtAcc       Vec3
	InvMass      float32
}

// Vec3 is the single vector type used across the CPU and GPU solvers,
// matching the GPU storage buffers' native float32 width.
type Vec3 = mgl32.Vec3

// NewParticle creates a particle at rest at the given position. InvMass of
// 0 pins the particle (infinite mass); the constraint solvers and the
// presolve/postsolve integrator both treat InvMass == 0 as immovable.
func NewParticle(position Vec3, invMass float32) Particle {
	return Particle{
		PrevPosition: position,
		Position:     position,
		Velocity:     Vec3{},
		ExtAcc:       Vec3{},
		InvMass:      invMass,
	}
}
