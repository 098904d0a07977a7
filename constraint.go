package xpbd

import "fmt"

// ConstraintDelta is one particle's position correction produced by solving
// a single constraint. ParticleIdx indexes into the Simulation's particle
// slice.
type ConstraintDelta struct {
	Delta       Vec3
	ParticleIdx uint32
}

// Constraint is anything the solvers can evaluate and correct via an XPBD
// local solve: a scalar constraint function C(x), its gradient with respect
// to each involved particle, and a compliance (inverse stiffness). Distance
// and tetrahedral-volume constraints are the two concrete implementations;
// both share the same local-solve math in solveConstraint.
type Constraint interface {
	Indices() []uint32
	Compliance() float32
	Value(particles []Particle) float32
	Gradients(particles []Particle) []Vec3
}

// solveConstraint runs one XPBD local solve: lambda = -C / (sum(w*|grad|^2) + alpha/dt^2),
// then scatters lambda*invMass*grad to each involved particle. It does not
// mutate particles; callers (Gauss-Seidel applies immediately, Jacobi
// accumulates and averages) decide how the deltas are applied.
func solveConstraint(c Constraint, particles []Particle, subDelta float32, debug bool) []ConstraintDelta {
	indices := c.Indices()
	grads := c.Gradients(particles)
	value := c.Value(particles)

	xpbdStiff := c.Compliance() / subDelta / subDelta

	var denom float32
	for i, idx := range indices {
		denom += particles[idx].InvMass * grads[i].Dot(grads[i])
	}
	denom += xpbdStiff

	if denom == 0 {
		deltas := make([]ConstraintDelta, len(indices))
		for i, idx := range indices {
			deltas[i] = ConstraintDelta{ParticleIdx: idx}
		}
		return deltas
	}

	lambda := -value / denom

	deltas := make([]ConstraintDelta, len(indices))
	for i, idx := range indices {
		d := grads[i].Mul(lambda * particles[idx].InvMass)
		if debug && !isFiniteVec3(d) {
			panic(fmt.Sprintf("xpbd: non-finite constraint delta for particle %d: %v", idx, d))
		}
		deltas[i] = ConstraintDelta{Delta: d, ParticleIdx: idx}
	}
	return deltas
}

func isFiniteVec3(v Vec3) bool {
	for _, c := range [3]float32{v.X(), v.Y(), v.Z()} {
		if c != c || c > maxFinite || c < -maxFinite {
			return false
		}
	}
	return true
}

const maxFinite = 3.4e38

func normalizeOrZero(v Vec3) Vec3 {
	l := v.Len()
	if l == 0 {
		return Vec3{}
	}
	return v.Mul(1 / l)
}

// DistanceConstraint pulls two particles toward a rest distance.
type DistanceConstraint struct {
	ParticleIdx   [2]uint32
	RestDistance  float32
	ComplianceVal float32
}

func NewDistanceConstraint(a, b uint32, restDistance, compliance float32) DistanceConstraint {
	return DistanceConstraint{
		ParticleIdx:   [2]uint32{a, b},
		RestDistance:  restDistance,
		ComplianceVal: compliance,
	}
}

func (c DistanceConstraint) Indices() []uint32   { return c.ParticleIdx[:] }
func (c DistanceConstraint) Compliance() float32 { return c.ComplianceVal }

func (c DistanceConstraint) Value(particles []Particle) float32 {
	x1 := particles[c.ParticleIdx[0]].Position
	x2 := particles[c.ParticleIdx[1]].Position
	return x1.Sub(x2).Len() - c.RestDistance
}

func (c DistanceConstraint) Gradients(particles []Particle) []Vec3 {
	x1 := particles[c.ParticleIdx[0]].Position
	x2 := particles[c.ParticleIdx[1]].Position
	dir := normalizeOrZero(x1.Sub(x2))
	return []Vec3{dir, dir.Mul(-1)}
}

// TetrahedralVolumeConstraint holds a tetrahedron's signed volume at its
// rest value.
type TetrahedralVolumeConstraint struct {
	ParticleIdx   [4]uint32
	RestVolume    float32
	ComplianceVal float32
}

// NewTetrahedralVolumeConstraint validates RestVolume before constructing:
// a negative rest volume means the tetrahedron's vertices were wound
// backwards and the constraint would fight the solver every substep.
func NewTetrahedralVolumeConstraint(indices [4]uint32, restVolume, compliance float32) (TetrahedralVolumeConstraint, error) {
	if restVolume < 0 {
		return TetrahedralVolumeConstraint{}, fmt.Errorf("xpbd: tetrahedral rest volume must be non-negative, got %f", restVolume)
	}
	return TetrahedralVolumeConstraint{
		ParticleIdx:   indices,
		RestVolume:    restVolume,
		ComplianceVal: compliance,
	}, nil
}

func (c TetrahedralVolumeConstraint) Indices() []uint32   { return c.ParticleIdx[:] }
func (c TetrahedralVolumeConstraint) Compliance() float32 { return c.ComplianceVal }

func (c TetrahedralVolumeConstraint) Value(particles []Particle) float32 {
	p1 := particles[c.ParticleIdx[0]].Position
	p2 := particles[c.ParticleIdx[1]].Position
	p3 := particles[c.ParticleIdx[2]].Position
	p4 := particles[c.ParticleIdx[3]].Position
	v := p2.Sub(p1).Cross(p3.Sub(p1)).Dot(p4.Sub(p1)) / 6
	return 6 * (v - c.RestVolume)
}

func (c TetrahedralVolumeConstraint) Gradients(particles []Particle) []Vec3 {
	p1 := particles[c.ParticleIdx[0]].Position
	p2 := particles[c.ParticleIdx[1]].Position
	p3 := particles[c.ParticleIdx[2]].Position
	p4 := particles[c.ParticleIdx[3]].Position
	return []Vec3{
		p4.Sub(p2).Cross(p3.Sub(p2)),
		p3.Sub(p1).Cross(p4.Sub(p1)),
		p4.Sub(p1).Cross(p2.Sub(p1)),
		p2.Sub(p1).Cross(p3.Sub(p1)),
	}
}
