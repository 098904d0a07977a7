package xpbd

// solveGaussSeidel solves each constraint in turn, applying its correction
// to the particles before moving to the next constraint. Sequential and
// order-dependent, but converges faster per-iteration than Jacobi since
// later constraints see earlier corrections immediately.
func solveGaussSeidel(particles []Particle, constraints []Constraint, subDelta float32, debug bool) {
	for _, c := range constraints {
		for _, d := range solveConstraint(c, particles, subDelta, debug) {
			particles[d.ParticleIdx].Position = particles[d.ParticleIdx].Position.Add(d.Delta)
		}
	}
}
