package xpbd

import "testing"

func TestNewParticle(t *testing.T) {
	p := NewParticle(Vec3{1, 2, 3}, 0.5)
	if p.Position != (Vec3{1, 2, 3}) {
		t.Errorf("expected position {1 2 3}, got %v", p.Position)
	}
	if p.PrevPosition != p.Position {
		t.Errorf("expected PrevPosition to equal Position at rest, got %v vs %v", p.PrevPosition, p.Position)
	}
	if p.Velocity != (Vec3{}) {
		t.Errorf("expected zero velocity, got %v", p.Velocity)
	}
	if p.InvMass != 0.5 {
		t.Errorf("expected inv mass 0.5, got %f", p.InvMass)
	}
}

func TestNewParticlePinned(t *testing.T) {
	p := NewParticle(Vec3{0, 0, 0}, 0)
	if p.InvMass != 0 {
		t.Errorf("expected pinned particle to have zero inv mass, got %f", p.InvMass)
	}
}
