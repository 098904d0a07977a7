package xpbd

import "fmt"

// maxAccumulatorSlots bounds how many constraints of a single type may touch
// one particle, matching the GPU's fixed-size ParticleConstraintDeltas[64]
// scatter accumulator. The CPU solvers don't need the bound themselves, but
// a Simulation meant to also run on the GPU must reject topologies the GPU
// accumulator can't hold.
const maxAccumulatorSlots = 64

// SolverVariant selects how constraints are solved within a substep.
type SolverVariant int

const (
	GaussSeidel SolverVariant = iota
	Jacobi
)

// Simulation is the CPU XPBD solver: a particle set, the distance and
// tetrahedral-volume constraints acting on them, and the substep loop that
// advances them in time.
type Simulation struct {
	Variant SolverVariant

	// GroundPlaneZ is the z-coordinate the presolve integrator clamps
	// against. Defaults to 0, matching the original hardcoded floor;
	// set to a large negative value (or -math.MaxFloat32) to disable it.
	GroundPlaneZ float32

	// Debug gates the non-finite-value panics in the presolve, constraint
	// solve and postsolve steps. Off by default: release builds run best-effort.
	Debug bool

	Logger Logger

	particles           []Particle
	distanceConstraints []DistanceConstraint
	volumeConstraints   []TetrahedralVolumeConstraint
}

// NewSimulation creates an empty simulation using the given solver variant.
func NewSimulation(variant SolverVariant) *Simulation {
	return &Simulation{
		Variant:      variant,
		GroundPlaneZ: 0,
		Logger:       NewNopLogger(),
	}
}

// AddParticles appends particles and returns their assigned indices.
func (s *Simulation) AddParticles(particles ...Particle) []uint32 {
	start := len(s.particles)
	s.particles = append(s.particles, particles...)
	indices := make([]uint32, len(particles))
	for i := range particles {
		indices[i] = uint32(start + i)
	}
	return indices
}

// Particles returns the current particle state. The caller must not retain
// the slice across a call to Advance.
func (s *Simulation) Particles() []Particle {
	return s.particles
}

// AddDistanceConstraints validates indices and per-particle incidence before
// appending. Per REDESIGN: overflowing the GPU accumulator's N=64 slots is
// reported as an error rather than silently dropping corrections.
func (s *Simulation) AddDistanceConstraints(constraints ...DistanceConstraint) error {
	for _, c := range constraints {
		for _, idx := range c.ParticleIdx {
			if int(idx) >= len(s.particles) {
				return fmt.Errorf("xpbd: distance constraint references particle %d, have %d particles", idx, len(s.particles))
			}
		}
	}
	combined := append(append([]DistanceConstraint{}, s.distanceConstraints...), constraints...)
	lists := make([][]uint32, len(combined))
	for i, c := range combined {
		lists[i] = c.ParticleIdx[:]
	}
	if err := validateIncidence(len(s.particles), lists, "distance"); err != nil {
		return err
	}
	s.distanceConstraints = combined
	return nil
}

// AddVolumeConstraints validates indices and per-particle incidence before
// appending; same overflow behavior as AddDistanceConstraints.
func (s *Simulation) AddVolumeConstraints(constraints ...TetrahedralVolumeConstraint) error {
	for _, c := range constraints {
		for _, idx := range c.ParticleIdx {
			if int(idx) >= len(s.particles) {
				return fmt.Errorf("xpbd: volume constraint references particle %d, have %d particles", idx, len(s.particles))
			}
		}
	}
	combined := append(append([]TetrahedralVolumeConstraint{}, s.volumeConstraints...), constraints...)
	lists := make([][]uint32, len(combined))
	for i, c := range combined {
		lists[i] = c.ParticleIdx[:]
	}
	if err := validateIncidence(len(s.particles), lists, "volume"); err != nil {
		return err
	}
	s.volumeConstraints = combined
	return nil
}

func validateIncidence(particleCount int, constraintIndices [][]uint32, kind string) error {
	counts := make([]int, particleCount)
	for _, idxs := range constraintIndices {
		for _, idx := range idxs {
			counts[idx]++
			if counts[idx] > maxAccumulatorSlots {
				return fmt.Errorf("xpbd: particle %d touches more than %d %s constraints, exceeds accumulator capacity", idx, maxAccumulatorSlots, kind)
			}
		}
	}
	return nil
}

// Advance runs substeps substeps of size delta/substeps: presolve
// (integration + ground clamp), constraint solve (Gauss-Seidel or Jacobi,
// distance constraints then volume constraints), and postsolve (velocity
// recovered from the position delta). printError logs each substep's total
// constraint residual through s.Logger at debug level.
func (s *Simulation) Advance(substeps int, delta float32, printError bool) {
	if substeps <= 0 {
		return
	}
	subDelta := delta / float32(substeps)

	distanceConstraints := s.distanceConstraintsAsInterface()
	volumeConstraints := s.volumeConstraintsAsInterface()

	for step := 0; step < substeps; step++ {
		s.presolve(subDelta)

		if printError && s.Logger.DebugEnabled() {
			s.Logger.Debugf("substep %d distance error: %f", step, constraintError(distanceConstraints, s.particles))
			s.Logger.Debugf("substep %d volume error: %f", step, constraintError(volumeConstraints, s.particles))
		}

		// Distance constraints solve before volume constraints, each as its
		// own independent pass: Jacobi averages within a type, never across
		// distance and volume deltas touching the same particle.
		switch s.Variant {
		case Jacobi:
			solveJacobi(s.particles, distanceConstraints, subDelta, s.Debug)
			solveJacobi(s.particles, volumeConstraints, subDelta, s.Debug)
		default:
			solveGaussSeidel(s.particles, distanceConstraints, subDelta, s.Debug)
			solveGaussSeidel(s.particles, volumeConstraints, subDelta, s.Debug)
		}

		s.postsolve(subDelta)
	}
}

func (s *Simulation) distanceConstraintsAsInterface() []Constraint {
	out := make([]Constraint, len(s.distanceConstraints))
	for i := range s.distanceConstraints {
		out[i] = s.distanceConstraints[i]
	}
	return out
}

func (s *Simulation) volumeConstraintsAsInterface() []Constraint {
	out := make([]Constraint, len(s.volumeConstraints))
	for i := range s.volumeConstraints {
		out[i] = s.volumeConstraints[i]
	}
	return out
}

func constraintError(constraints []Constraint, particles []Particle) float32 {
	var total float32
	for _, c := range constraints {
		v := c.Value(particles)
		if v < 0 {
			v = -v
		}
		total += v
	}
	return total
}

func (s *Simulation) presolve(subDelta float32) {
	for i := range s.particles {
		p := &s.particles[i]
		if p.InvMass == 0 {
			continue
		}
		p.Velocity = p.Velocity.Add(p.ExtAcc.Mul(subDelta))
		p.PrevPosition = p.Position
		p.Position = p.Position.Add(p.Velocity.Mul(subDelta))

		if p.Position.Z() < s.GroundPlaneZ {
			p.Position = p.PrevPosition
			p.Position[2] = s.GroundPlaneZ
		}

		if s.Debug && !isFiniteVec3(p.Position) {
			panic(fmt.Sprintf("xpbd: non-finite position for particle %d after presolve: %v", i, p.Position))
		}
	}
}

func (s *Simulation) postsolve(subDelta float32) {
	for i := range s.particles {
		p := &s.particles[i]
		if p.InvMass == 0 {
			continue
		}
		p.Velocity = p.Position.Sub(p.PrevPosition).Mul(1 / subDelta)
		if s.Debug && !isFiniteVec3(p.Velocity) {
			panic(fmt.Sprintf("xpbd: non-finite velocity for particle %d after postsolve: %v", i, p.Velocity))
		}
	}
}
