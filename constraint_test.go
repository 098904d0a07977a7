package xpbd

import (
	"math"
	"testing"
)

func TestDistanceConstraintValue(t *testing.T) {
	particles := []Particle{
		NewParticle(Vec3{0, 0, 0}, 1),
		NewParticle(Vec3{2, 0, 0}, 1),
	}
	c := NewDistanceConstraint(0, 1, 1.0, 0)
	got := c.Value(particles)
	if math.Abs(float64(got-1.0)) > 1e-6 {
		t.Errorf("expected constraint value 1.0 (dist 2 - rest 1), got %f", got)
	}
}

func TestDistanceConstraintGradientsOpposite(t *testing.T) {
	particles := []Particle{
		NewParticle(Vec3{0, 0, 0}, 1),
		NewParticle(Vec3{2, 0, 0}, 1),
	}
	c := NewDistanceConstraint(0, 1, 1.0, 0)
	grads := c.Gradients(particles)
	if grads[0].Add(grads[1]) != (Vec3{}) {
		t.Errorf("expected opposite gradients, got %v and %v", grads[0], grads[1])
	}
}

func TestDistanceConstraintZeroDistanceDoesNotPanic(t *testing.T) {
	particles := []Particle{
		NewParticle(Vec3{1, 1, 1}, 1),
		NewParticle(Vec3{1, 1, 1}, 1),
	}
	c := NewDistanceConstraint(0, 1, 0, 0)
	grads := c.Gradients(particles)
	if grads[0] != (Vec3{}) || grads[1] != (Vec3{}) {
		t.Errorf("expected zero gradients for coincident particles, got %v and %v", grads[0], grads[1])
	}
}

func TestNewTetrahedralVolumeConstraintRejectsNegativeVolume(t *testing.T) {
	_, err := NewTetrahedralVolumeConstraint([4]uint32{0, 1, 2, 3}, -1, 0)
	if err == nil {
		t.Errorf("expected error for negative rest volume")
	}
}

func TestTetrahedralVolumeConstraintValueAtRest(t *testing.T) {
	particles := []Particle{
		NewParticle(Vec3{0, 0, 0}, 1),
		NewParticle(Vec3{1, 0, 0}, 1),
		NewParticle(Vec3{0, 1, 0}, 1),
		NewParticle(Vec3{0, 0, 1}, 1),
	}
	restVolume := float32(1.0 / 6.0)
	c, err := NewTetrahedralVolumeConstraint([4]uint32{0, 1, 2, 3}, restVolume, 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	got := c.Value(particles)
	if math.Abs(float64(got)) > 1e-5 {
		t.Errorf("expected zero constraint value at rest volume, got %f", got)
	}
}

func TestSolveConstraintBothPinnedTargetsCorrectIndices(t *testing.T) {
	// Two pinned particles on a rigid constraint drive denom to zero; the
	// resulting zero-valued deltas must still carry the real particle
	// indices so a Jacobi pass never attributes them to particle 0.
	particles := []Particle{
		NewParticle(Vec3{5, 5, 5}, 0),
		NewParticle(Vec3{6, 5, 5}, 0),
	}
	c := NewDistanceConstraint(0, 1, 1.0, 0)
	deltas := solveConstraint(c, particles, 1.0/60.0, false)
	if len(deltas) != 2 {
		t.Fatalf("expected 2 deltas, got %d", len(deltas))
	}
	if deltas[0].ParticleIdx != 0 || deltas[1].ParticleIdx != 1 {
		t.Errorf("expected deltas targeting particles 0 and 1, got %d and %d", deltas[0].ParticleIdx, deltas[1].ParticleIdx)
	}
	if deltas[0].Delta != (Vec3{}) || deltas[1].Delta != (Vec3{}) {
		t.Errorf("expected zero deltas for degenerate denom, got %v and %v", deltas[0].Delta, deltas[1].Delta)
	}
}

func TestSolveConstraintPinnedParticleUnaffected(t *testing.T) {
	particles := []Particle{
		NewParticle(Vec3{0, 0, 0}, 0),
		NewParticle(Vec3{3, 0, 0}, 1),
	}
	c := NewDistanceConstraint(0, 1, 1.0, 0)
	deltas := solveConstraint(c, particles, 1.0/60.0, false)
	for _, d := range deltas {
		if d.ParticleIdx == 0 && d.Delta != (Vec3{}) {
			t.Errorf("expected zero correction for pinned particle, got %v", d.Delta)
		}
	}
}
