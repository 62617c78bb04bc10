package events

import (
	"context"
	"errors"
	"testing"

	"github.com/morezero/cim-broker/pkg/cim"
)

func TestNoOpPublisher(t *testing.T) {
	pub := &NoOpPublisher{}
	err := pub.PublishAlert(context.Background(), &ModuleAlert{
		Kind:   AlertEnabled,
		Module: cim.ProviderModule{Name: "TestModule"},
	})
	if err != nil {
		t.Errorf("expected no error, got %v", err)
	}
}

func TestCallbackPublisher(t *testing.T) {
	var captured *ModuleAlert

	pub := NewCallbackPublisher(func(_ context.Context, alert *ModuleAlert) error {
		captured = alert
		return nil
	})

	err := pub.PublishAlert(context.Background(), &ModuleAlert{
		Kind:      AlertDegraded,
		Cause:     AlertDegraded.String(),
		Module:    cim.ProviderModule{Name: "TestModule", OperationalStatus: []uint16{cim.ModuleDegraded}},
		Timestamp: "2026-01-01T00:00:00Z",
	})
	if err != nil {
		t.Errorf("expected no error, got %v", err)
	}

	if captured == nil {
		t.Fatal("expected callback to be called")
	}
	if captured.Module.Name != "TestModule" {
		t.Errorf("expected module TestModule, got %s", captured.Module.Name)
	}
	if captured.Kind != AlertDegraded {
		t.Errorf("expected kind Degraded, got %s", captured.Kind)
	}
}

func TestAlertKindString(t *testing.T) {
	tests := []struct {
		kind AlertKind
		want string
	}{
		{AlertCreated, "Created"},
		{AlertFailedRestarted, "FailedRestarted"},
		{AlertKind(42), "AlertKind(42)"},
	}
	for _, tt := range tests {
		if got := tt.kind.String(); got != tt.want {
			t.Errorf("AlertKind(%d).String() = %q, want %q", uint16(tt.kind), got, tt.want)
		}
	}
}

func TestMultiPublisher(t *testing.T) {
	var calls []string
	record := func(name string, err error) AlertPublisher {
		return NewCallbackPublisher(func(context.Context, *ModuleAlert) error {
			calls = append(calls, name)
			return err
		})
	}
	boom := errors.New("boom")
	pub := NewMultiPublisher(record("a", nil), nil, record("b", boom), LogPublisher{}, record("c", nil))
	if len(pub) != 4 {
		t.Fatalf("expected nil publisher to be skipped, got %d", len(pub))
	}

	err := pub.PublishAlert(context.Background(), &ModuleAlert{
		Kind:   AlertFailed,
		Cause:  AlertFailed.String(),
		Module: cim.ProviderModule{Name: "TestModule", OperationalStatus: []uint16{cim.ModuleError}},
	})
	if !errors.Is(err, boom) {
		t.Errorf("expected combined error to wrap boom, got %v", err)
	}
	if len(calls) != 3 || calls[2] != "c" {
		t.Errorf("expected delivery to continue past a failure, got %v", calls)
	}
}

func TestMultiPublisher_Empty(t *testing.T) {
	if err := NewMultiPublisher().PublishAlert(context.Background(), &ModuleAlert{}); err != nil {
		t.Errorf("expected nil error, got %v", err)
	}
}
