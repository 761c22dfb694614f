package pipeline

import (
	"sync"
	"testing"
)

func TestAdmissionLimit(t *testing.T) {
	adm := NewAdmission(2)

	t1, ok := adm.TryAdmit()
	if !ok {
		t.Fatal("First admit should succeed")
	}
	t2, ok := adm.TryAdmit()
	if !ok {
		t.Fatal("Second admit should succeed")
	}
	if _, ok := adm.TryAdmit(); ok {
		t.Error("Third admit should be rejected at limit 2")
	}
	if adm.InFlight() != 2 {
		t.Errorf("Expected 2 in flight, got %d", adm.InFlight())
	}

	t1.Release()
	if adm.InFlight() != 1 {
		t.Errorf("Expected 1 in flight after release, got %d", adm.InFlight())
	}
	if _, ok := adm.TryAdmit(); !ok {
		t.Error("Admit should succeed after a release")
	}
	t2.Release()
}

func TestAdmissionDoubleRelease(t *testing.T) {
	adm := NewAdmission(1)

	ticket, ok := adm.TryAdmit()
	if !ok {
		t.Fatal("Admit should succeed")
	}
	ticket.Release()
	ticket.Release()
	ticket.Release()

	if adm.InFlight() != 0 {
		t.Errorf("Repeated release must count once, in flight = %d", adm.InFlight())
	}
}

func TestAdmissionUnlimited(t *testing.T) {
	adm := NewAdmission(0)

	for i := 0; i < 100; i++ {
		if _, ok := adm.TryAdmit(); !ok {
			t.Fatalf("Admit %d rejected with no limit configured", i)
		}
	}
}

func TestAdmissionConcurrent(t *testing.T) {
	const limit = 8
	adm := NewAdmission(limit)

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		admitted int
	)
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, ok := adm.TryAdmit(); ok {
				mu.Lock()
				admitted++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if admitted != limit {
		t.Errorf("Expected exactly %d admissions, got %d", limit, admitted)
	}
	if adm.InFlight() != limit {
		t.Errorf("Expected %d in flight, got %d", limit, adm.InFlight())
	}
}
