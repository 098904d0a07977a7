package xpbd

import "sync"

// jacobiOverrelaxation is the fixed over-relaxation factor applied when
// averaging concurrent constraint corrections per particle, matching the
// GPU kernel's SimParams.jacobi_w.
const jacobiOverrelaxation = 1.5

// solveJacobi evaluates every constraint against the same unmodified
// particle snapshot (safe to parallelize, since no constraint mutates
// particles during evaluation), then applies the over-relaxed average of
// all corrections touching each particle in a second pass. This is the CPU
// analogue of the GPU's scatter-then-add-deltas pipeline.
func solveJacobi(particles []Particle, constraints []Constraint, subDelta float32, debug bool) {
	results := make([][]ConstraintDelta, len(constraints))

	var wg sync.WaitGroup
	for i, c := range constraints {
		wg.Add(1)
		go func(i int, c Constraint) {
			defer wg.Done()
			results[i] = solveConstraint(c, particles, subDelta, debug)
		}(i, c)
	}
	wg.Wait()

	sums := make([]Vec3, len(particles))
	counts := make([]uint32, len(particles))
	for _, deltas := range results {
		for _, d := range deltas {
			sums[d.ParticleIdx] = sums[d.ParticleIdx].Add(d.Delta)
			counts[d.ParticleIdx]++
		}
	}

	for i := range particles {
		if counts[i] == 0 {
			continue
		}
		avg := sums[i].Mul(jacobiOverrelaxation / float32(counts[i]))
		particles[i].Position = particles[i].Position.Add(avg)
	}
}
