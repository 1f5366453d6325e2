package report

import (
	"errors"
	"strings"
	"testing"
)

func TestQuery_SelectsRunField(t *testing.T) {
	got, err := Query(sampleDocument(), "", "run.p95_duration_ms")
	if err != nil {
		t.Fatalf("Query failed: %v", err)
	}
	if got != "31000" {
		t.Errorf("Expected 31000, got %q", got)
	}
}

func TestQuery_FilterThenQuery(t *testing.T) {
	got, err := Query(sampleDocument(), "checks[?fails > `0`]", "[].name")
	if err != nil {
		t.Fatalf("Query failed: %v", err)
	}
	if !strings.Contains(got, "checked in item matches") || strings.Contains(got, "Patron created") {
		t.Errorf("Unexpected result %s", got)
	}
}

func TestQuery_FilterOnly(t *testing.T) {
	got, err := Query(sampleDocument(), "vus[?failures > `0`].vu", "")
	if err != nil {
		t.Fatalf("Query failed: %v", err)
	}
	if strings.Join(strings.Fields(got), "") != "[2]" {
		t.Errorf("Expected [2], got %s", got)
	}
}

func TestQuery_UnknownFieldNamesReportFields(t *testing.T) {
	_, err := Query(sampleDocument(), "", "runs.status")
	if !errors.Is(err, ErrNoMatch) {
		t.Fatalf("Expected ErrNoMatch, got %v", err)
	}
	if !strings.Contains(err.Error(), "run, checks, vus") {
		t.Errorf("Error should list the report fields: %v", err)
	}
}

func TestQuery_InvalidExpression(t *testing.T) {
	_, err := Query(sampleDocument(), "checks[?", "")
	if err == nil || !strings.Contains(err.Error(), "invalid report filter") {
		t.Errorf("Expected invalid filter error, got %v", err)
	}
}

func TestQuery_ShellCommand(t *testing.T) {
	got, err := Query(sampleDocument(), "run", "$(cat)")
	if err != nil {
		t.Skipf("shell not available: %v", err)
	}
	if !strings.Contains(got, `"status":"completed"`) {
		t.Errorf("Expected the filtered run on stdin, got %s", got)
	}
}

func TestShellCommand(t *testing.T) {
	if cmd, ok := ShellCommand("$(jq .run)"); !ok || cmd != "jq .run" {
		t.Errorf("Expected jq .run, got %q %v", cmd, ok)
	}
	if _, ok := ShellCommand("run.id"); ok {
		t.Error("run.id is not a shell command")
	}
}
