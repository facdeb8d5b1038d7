package status

import (
	"testing"

	"marketchat/internal/bus"
)

func TestMachineStartsBooting(t *testing.T) {
	m := NewMachine(nil)
	if m.Current() != Booting {
		t.Errorf("initial state = %v", m.Current())
	}
}

func TestMachineHappyPath(t *testing.T) {
	m := NewMachine(nil)
	for _, s := range []State{Connecting, Ready, Degraded, Ready} {
		if err := m.Transition(s); err != nil {
			t.Fatalf("transition to %v: %v", s, err)
		}
	}
	if m.Current() != Ready {
		t.Errorf("state = %v, want Ready", m.Current())
	}
}

func TestMachineRejectsInvalidTransition(t *testing.T) {
	m := NewMachine(nil)
	if err := m.Transition(Ready); err == nil {
		t.Error("Booting -> Ready accepted")
	}
	if m.Current() != Booting {
		t.Errorf("state changed on rejected transition: %v", m.Current())
	}
}

func TestMachineEmitsStatusEvents(t *testing.T) {
	b := bus.New()
	m := NewMachine(b)
	events, unsub := b.Subscribe("session.", 4)
	defer unsub()

	if err := m.Transition(Connecting); err != nil {
		t.Fatal(err)
	}

	evt := <-events
	if evt.Kind != "session.status_changed" {
		t.Errorf("kind = %q", evt.Kind)
	}
	change, ok := evt.Payload.(StatusChange)
	if !ok {
		t.Fatalf("payload = %T", evt.Payload)
	}
	if change.From != Booting || change.To != Connecting {
		t.Errorf("change = %+v", change)
	}
}
