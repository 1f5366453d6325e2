package loadtest

import (
	"testing"
	"time"

	"github.com/studiowebux/kohaload/internal/check"
)

func TestManager_ConfigCRUD(t *testing.T) {
	manager := createTestManager(t)

	cfg := &Config{
		Name:                "smoke",
		StaffURL:            "http://kohadev-intra.localhost",
		OPACURL:             "http://kohadev.localhost",
		VUs:                 5,
		Iterations:          10,
		RampUpDurationSec:   30,
		IterationTimeoutSec: 120,
		IterationsPerSecond: 0.5,
		Thresholds:          []string{"rate==1.0", "rate>0.99"},
	}
	if err := manager.SaveConfig(cfg); err != nil {
		t.Fatalf("SaveConfig failed: %v", err)
	}
	if cfg.ID == 0 {
		t.Fatal("Expected config ID to be set")
	}

	got, err := manager.GetConfigByName("smoke")
	if err != nil {
		t.Fatalf("GetConfigByName failed: %v", err)
	}
	if got.ID != cfg.ID || got.VUs != 5 || got.IterationsPerSecond != 0.5 || got.OPACURL != cfg.OPACURL {
		t.Errorf("Unexpected config: %+v", got)
	}
	if len(got.Thresholds) != 2 || got.Thresholds[1] != "rate>0.99" {
		t.Errorf("Unexpected thresholds: %v", got.Thresholds)
	}

	cfg.VUs = 20
	if err := manager.SaveConfig(cfg); err != nil {
		t.Fatalf("Update failed: %v", err)
	}
	got, err = manager.GetConfig(cfg.ID)
	if err != nil {
		t.Fatalf("GetConfig failed: %v", err)
	}
	if got.VUs != 20 {
		t.Errorf("Expected VUs 20 after update, got %d", got.VUs)
	}

	if err := manager.SaveConfig(&Config{Name: "smoke", StaffURL: "http://x", VUs: 1, Iterations: 1}); err == nil {
		t.Errorf("Expected duplicate name to fail")
	}

	configs, err := manager.ListConfigs()
	if err != nil {
		t.Fatalf("ListConfigs failed: %v", err)
	}
	if len(configs) != 1 {
		t.Errorf("Expected 1 config, got %d", len(configs))
	}

	if err := manager.DeleteConfig(cfg.ID); err != nil {
		t.Fatalf("DeleteConfig failed: %v", err)
	}
	if _, err := manager.GetConfig(cfg.ID); err == nil {
		t.Errorf("Expected deleted config to be gone")
	}
}

func TestManager_SaveConfigValidates(t *testing.T) {
	manager := createTestManager(t)
	if err := manager.SaveConfig(&Config{Name: "bad", StaffURL: "http://koha", VUs: 0, Iterations: 1}); err == nil {
		t.Errorf("Expected invalid config to be rejected")
	}
}

func TestManager_RunsAndDelete(t *testing.T) {
	manager := createTestManager(t)

	cfg := &Config{Name: "nightly", StaffURL: "http://koha", VUs: 1, Iterations: 1}
	if err := manager.SaveConfig(cfg); err != nil {
		t.Fatalf("SaveConfig failed: %v", err)
	}

	older := &Run{ConfigName: "nightly", ConfigID: &cfg.ID, StaffURL: "http://koha", VUs: 1,
		StartedAt: time.Now().Add(-time.Hour), Status: StatusRunning}
	newer := &Run{ConfigName: "adhoc", StaffURL: "http://koha", VUs: 2,
		StartedAt: time.Now(), Status: StatusRunning}
	for _, run := range []*Run{older, newer} {
		if err := manager.CreateRun(run); err != nil {
			t.Fatalf("CreateRun failed: %v", err)
		}
	}

	err := manager.SaveIterationMetricsBatch([]*IterationMetric{
		{RunID: older.ID, VU: 1, Iteration: 0, Timestamp: time.Now(), ElapsedMs: 10, DurationMs: 10},
		{RunID: older.ID, VU: 1, Iteration: 1, Timestamp: time.Now(), ElapsedMs: 25, DurationMs: 15, ErrorMessage: "boom"},
	})
	if err != nil {
		t.Fatalf("SaveIterationMetricsBatch failed: %v", err)
	}
	if err := manager.SaveCheckResults(older.ID, []check.Result{{Name: "Item created", Passes: 2}}); err != nil {
		t.Fatalf("SaveCheckResults failed: %v", err)
	}

	runs, err := manager.ListRuns(0)
	if err != nil {
		t.Fatalf("ListRuns failed: %v", err)
	}
	if len(runs) != 2 || runs[0].ID != newer.ID {
		t.Fatalf("Expected newest run first, got %+v", runs)
	}
	if runs[1].ConfigID == nil || *runs[1].ConfigID != cfg.ID {
		t.Errorf("Expected config link on older run")
	}
	if limited, _ := manager.ListRuns(1); len(limited) != 1 {
		t.Errorf("Expected limit to apply, got %d runs", len(limited))
	}

	// Deleting the config keeps its runs
	if err := manager.DeleteConfig(cfg.ID); err != nil {
		t.Fatalf("DeleteConfig failed: %v", err)
	}
	run, err := manager.GetRun(older.ID)
	if err != nil {
		t.Fatalf("Run vanished with its config: %v", err)
	}
	if run.ConfigID != nil {
		t.Errorf("Expected config link to be cleared")
	}

	if err := manager.DeleteRun(older.ID); err != nil {
		t.Fatalf("DeleteRun failed: %v", err)
	}
	if got := getIterationCount(t, manager, older.ID); got != 0 {
		t.Errorf("Expected iterations to be deleted, got %d", got)
	}
	if results, _ := manager.GetCheckResults(older.ID); len(results) != 0 {
		t.Errorf("Expected checks to be deleted, got %v", results)
	}
	if _, err := manager.GetRun(older.ID); err == nil {
		t.Errorf("Expected run to be deleted")
	}
}
