package registry_test

import (
	"testing"
	"time"

	"github.com/pbnjam/mcp-gatewayd/internal/gateway/registry"
)

func testTemplate(name string) registry.Template {
	return registry.Template{
		Name:      name,
		Version:   "1.0.0",
		Transport: registry.TransportStdio,
		Command:   "echo",
		Timeout:   5 * time.Second,
		Retries:   1,
	}
}

func TestRegisterTemplate_DuplicateNameFails(t *testing.T) {
	r := registry.New()
	if err := r.RegisterTemplate(testTemplate("svc-a")); err != nil {
		t.Fatalf("first register: %v", err)
	}
	if err := r.RegisterTemplate(testTemplate("svc-a")); err == nil {
		t.Fatal("expected error registering duplicate template name")
	}
}

func TestCreateInstance_UnknownTemplateFails(t *testing.T) {
	r := registry.New()
	if _, err := r.CreateInstance("missing", nil); err == nil {
		t.Fatal("expected error creating instance for unknown template")
	}
}

func TestInstanceHistory_CappedAtTen(t *testing.T) {
	r := registry.New()
	if err := r.RegisterTemplate(testTemplate("svc-a")); err != nil {
		t.Fatal(err)
	}
	inst, err := r.CreateInstance("svc-a", nil)
	if err != nil {
		t.Fatal(err)
	}

	base := time.Now()
	for i := 0; i < 15; i++ {
		if err := r.SetState(inst.ID, registry.StateRunning, base.Add(time.Duration(i)*time.Second)); err != nil {
			t.Fatal(err)
		}
	}

	got, err := r.GetInstance(inst.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(got.History) != 10 {
		t.Fatalf("expected history capped at 10, got %d", len(got.History))
	}
	for i := 1; i < len(got.History); i++ {
		if got.History[i].Timestamp.Before(got.History[i-1].Timestamp) {
			t.Fatalf("history timestamps not monotonic non-decreasing at index %d", i)
		}
	}
}

func TestHealthyInstances_FiltersByStateAndHealth(t *testing.T) {
	r := registry.New()
	if err := r.RegisterTemplate(testTemplate("svc-a")); err != nil {
		t.Fatal(err)
	}

	healthy, _ := r.CreateInstance("svc-a", nil)
	r.SetState(healthy.ID, registry.StateRunning, time.Now())
	r.SetHealth(healthy.ID, registry.HealthRecord{Healthy: true})

	unhealthy, _ := r.CreateInstance("svc-a", nil)
	r.SetState(unhealthy.ID, registry.StateRunning, time.Now())
	r.SetHealth(unhealthy.ID, registry.HealthRecord{Healthy: false})

	notRunning, _ := r.CreateInstance("svc-a", nil)
	r.SetState(notRunning.ID, registry.StateStopped, time.Now())

	got := r.HealthyInstances()
	if len(got) != 1 || got[0].ID != healthy.ID {
		t.Fatalf("expected only %s to be healthy, got %+v", healthy.ID, got)
	}
}

func TestRecordRequest_AddedAtStampedOnce(t *testing.T) {
	r := registry.New()
	if err := r.RegisterTemplate(testTemplate("svc-a")); err != nil {
		t.Fatal(err)
	}
	inst, _ := r.CreateInstance("svc-a", nil)

	t0 := time.Now()
	if err := r.RecordRequest(inst.ID, 100, true, t0); err != nil {
		t.Fatal(err)
	}
	t1 := t0.Add(time.Minute)
	if err := r.RecordRequest(inst.ID, 200, true, t1); err != nil {
		t.Fatal(err)
	}

	got, _ := r.GetInstance(inst.ID)
	if !got.Metrics.AddedAt.Equal(t0) {
		t.Errorf("expected AddedAt to remain %v, got %v", t0, got.Metrics.AddedAt)
	}
	if got.Metrics.RequestCount != 2 {
		t.Errorf("expected RequestCount=2, got %d", got.Metrics.RequestCount)
	}
	if got.Metrics.AvgResponseTime != 150 {
		t.Errorf("expected avg response time 150, got %v", got.Metrics.AvgResponseTime)
	}
}

func TestRemoveInstance_CannotResumeUnderSameID(t *testing.T) {
	r := registry.New()
	if err := r.RegisterTemplate(testTemplate("svc-a")); err != nil {
		t.Fatal(err)
	}
	inst, _ := r.CreateInstance("svc-a", nil)
	if err := r.RemoveInstance(inst.ID); err != nil {
		t.Fatal(err)
	}
	if _, err := r.GetInstance(inst.ID); err == nil {
		t.Fatal("expected removed instance to be gone")
	}
}
