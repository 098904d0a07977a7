package xpbd

import (
	"math"
	"testing"
)

func TestSimulationFreeFall(t *testing.T) {
	sim := NewSimulation(GaussSeidel)
	sim.GroundPlaneZ = -1000
	p := NewParticle(Vec3{0, 0, 10}, 1)
	p.ExtAcc = Vec3{0, 0, -10}
	sim.AddParticles(p)

	sim.Advance(10, 1.0, false)

	got := sim.Particles()[0].Position.Z()
	// Semi-implicit Euler (velocity first, then position) over 10 substeps of
	// h=0.1 lands at 10 - h*h*10*(1+2+...+10) = 4.5.
	want := float32(10 - 0.1*0.1*10*55)
	if math.Abs(float64(got-want)) > 0.5 {
		t.Errorf("expected free-falling particle near z=%f after 1s, got %f", want, got)
	}
}

func TestSimulationPinnedParticleDoesNotMove(t *testing.T) {
	sim := NewSimulation(GaussSeidel)
	sim.GroundPlaneZ = -1000
	pinned := NewParticle(Vec3{0, 0, 0}, 0)
	sim.AddParticles(pinned)

	sim.Advance(5, 1.0, false)

	if sim.Particles()[0].Position != (Vec3{0, 0, 0}) {
		t.Errorf("expected pinned particle to stay put, got %v", sim.Particles()[0].Position)
	}
}

func TestSimulationPendulumStaysNearRestLength(t *testing.T) {
	sim := NewSimulation(GaussSeidel)
	sim.GroundPlaneZ = -1000
	anchor := NewParticle(Vec3{0, 0, 0}, 0)
	bob := NewParticle(Vec3{1, 0, 0}, 1)
	bob.ExtAcc = Vec3{0, 0, -10}
	idx := sim.AddParticles(anchor, bob)

	if err := sim.AddDistanceConstraints(NewDistanceConstraint(idx[0], idx[1], 1.0, 0)); err != nil {
		t.Fatalf("unexpected error adding constraint: %v", err)
	}

	for i := 0; i < 120; i++ {
		sim.Advance(4, 1.0/60.0, false)
	}

	anchorPos := sim.Particles()[0].Position
	bobPos := sim.Particles()[1].Position
	dist := bobPos.Sub(anchorPos).Len()
	if math.Abs(float64(dist-1.0)) > 0.05 {
		t.Errorf("expected pendulum bob to stay near rest length 1.0, got distance %f", dist)
	}
}

func TestSimulationGroundClamp(t *testing.T) {
	sim := NewSimulation(GaussSeidel)
	p := NewParticle(Vec3{0, 0, 0.05}, 1)
	p.ExtAcc = Vec3{0, 0, -100}
	sim.AddParticles(p)

	sim.Advance(1, 1.0, false)

	got := sim.Particles()[0].Position.Z()
	if got != sim.GroundPlaneZ {
		t.Errorf("expected particle clamped to ground plane %f, got %f", sim.GroundPlaneZ, got)
	}
}

func TestSimulationGaussSeidelAndJacobiAgreeApproximately(t *testing.T) {
	build := func(variant SolverVariant) *Simulation {
		sim := NewSimulation(variant)
		sim.GroundPlaneZ = -1000
		a := NewParticle(Vec3{0, 0, 0}, 0)
		b := NewParticle(Vec3{1, 0, 0}, 1)
		c := NewParticle(Vec3{2, 0, 0}, 1)
		idx := sim.AddParticles(a, b, c)
		if err := sim.AddDistanceConstraints(
			NewDistanceConstraint(idx[0], idx[1], 1.0, 0),
			NewDistanceConstraint(idx[1], idx[2], 1.0, 0),
		); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		return sim
	}

	gs := build(GaussSeidel)
	jacobi := build(Jacobi)

	for i := 0; i < 60; i++ {
		gs.Advance(4, 1.0/60.0, false)
		jacobi.Advance(4, 1.0/60.0, false)
	}

	for i, p := range gs.Particles() {
		q := jacobi.Particles()[i]
		if p.Position.Sub(q.Position).Len() > 0.25 {
			t.Errorf("particle %d diverged too far between solvers: gs=%v jacobi=%v", i, p.Position, q.Position)
		}
	}
}

// TestSimulationRigidTetConvergesToRest builds a regular tetrahedron (unit
// edge length) out of six rigid distance constraints plus one rigid volume
// constraint, perturbs the vertices slightly off rest, and checks both edge
// lengths and signed volume settle back near rest after substepping.
func TestSimulationRigidTetConvergesToRest(t *testing.T) {
	rest := []Vec3{
		{0, 0, 0},
		{1, 0, 0},
		{0.5, 0.8660254, 0},
		{0.5, 0.28867513, 0.81649658},
	}
	// Fixed, asymmetric perturbation of magnitude ~0.01 per vertex.
	perturb := []Vec3{
		{0.006, -0.004, 0.005},
		{-0.005, 0.006, -0.004},
		{0.004, 0.005, -0.006},
		{-0.006, -0.005, 0.004},
	}

	sim := NewSimulation(Jacobi)
	sim.GroundPlaneZ = -1000
	var idx []uint32
	for i, r := range rest {
		idx = append(idx, sim.AddParticles(NewParticle(r.Add(perturb[i]), 1))...)
	}

	edges := [6][2]int{{0, 1}, {0, 2}, {0, 3}, {1, 2}, {1, 3}, {2, 3}}
	var distanceConstraints []DistanceConstraint
	for _, e := range edges {
		restDist := rest[e[0]].Sub(rest[e[1]]).Len()
		distanceConstraints = append(distanceConstraints, NewDistanceConstraint(idx[e[0]], idx[e[1]], restDist, 0))
	}
	if err := sim.AddDistanceConstraints(distanceConstraints...); err != nil {
		t.Fatalf("unexpected error adding distance constraints: %v", err)
	}

	const restVolume = float32(0.11785113)
	volumeConstraint, err := NewTetrahedralVolumeConstraint([4]uint32{idx[0], idx[1], idx[2], idx[3]}, restVolume, 0)
	if err != nil {
		t.Fatalf("unexpected error building volume constraint: %v", err)
	}
	if err := sim.AddVolumeConstraints(volumeConstraint); err != nil {
		t.Fatalf("unexpected error adding volume constraint: %v", err)
	}

	sim.Advance(100, 0.1, false)

	particles := sim.Particles()
	for _, e := range edges {
		restDist := rest[e[0]].Sub(rest[e[1]]).Len()
		gotDist := particles[e[0]].Position.Sub(particles[e[1]].Position).Len()
		if math.Abs(float64(gotDist-restDist)) > 1e-3 {
			t.Errorf("edge (%d,%d): expected length near %f, got %f", e[0], e[1], restDist, gotDist)
		}
	}

	gotVolume := volumeConstraint.Value(particles)/6 + restVolume
	if math.Abs(float64(gotVolume-restVolume)) > 1e-3 {
		t.Errorf("expected signed volume near %f, got %f", restVolume, gotVolume)
	}
}

func TestAddDistanceConstraintsRejectsOutOfRangeIndex(t *testing.T) {
	sim := NewSimulation(GaussSeidel)
	sim.AddParticles(NewParticle(Vec3{}, 1))
	err := sim.AddDistanceConstraints(NewDistanceConstraint(0, 5, 1.0, 0))
	if err == nil {
		t.Errorf("expected error for out-of-range particle index")
	}
}

func TestAddDistanceConstraintsRejectsAccumulatorOverflow(t *testing.T) {
	sim := NewSimulation(GaussSeidel)
	idx := sim.AddParticles(NewParticle(Vec3{}, 1))
	hub := idx[0]
	var constraints []DistanceConstraint
	for i := 0; i < maxAccumulatorSlots+1; i++ {
		other := sim.AddParticles(NewParticle(Vec3{float32(i + 1), 0, 0}, 1))[0]
		constraints = append(constraints, NewDistanceConstraint(hub, other, 1.0, 0))
	}
	if err := sim.AddDistanceConstraints(constraints...); err == nil {
		t.Errorf("expected accumulator overflow error for %d constraints on one particle", maxAccumulatorSlots+1)
	}
}
