package status

import (
	"testing"
	"time"

	"github.com/beaconhq/beacon/internal/database"
)

func monitorsWith(statuses ...database.MonitorStatus) []database.Monitor {
	monitors := make([]database.Monitor, len(statuses))
	for i, s := range statuses {
		monitors[i] = database.Monitor{ID: uint(i + 1), TenantID: 1, Status: s}
	}
	return monitors
}

func TestAggregate_Precedence(t *testing.T) {
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name            string
		statuses        []database.MonitorStatus
		wantOverall     OverallStatus
		wantMaintenance bool
	}{
		{
			name:        "no monitors is operational",
			statuses:    nil,
			wantOverall: StatusOperational,
		},
		{
			name:        "all up",
			statuses:    []database.MonitorStatus{database.MonitorStatusUp, database.MonitorStatusUp},
			wantOverall: StatusOperational,
		},
		{
			name:        "all down is major outage",
			statuses:    []database.MonitorStatus{database.MonitorStatusDown, database.MonitorStatusDown},
			wantOverall: StatusMajorOutage,
		},
		{
			name:        "some down is partial outage",
			statuses:    []database.MonitorStatus{database.MonitorStatusDown, database.MonitorStatusUp},
			wantOverall: StatusPartialOutage,
		},
		{
			name:        "down outranks degraded",
			statuses:    []database.MonitorStatus{database.MonitorStatusDown, database.MonitorStatusDegraded},
			wantOverall: StatusPartialOutage,
		},
		{
			name:        "degraded without down",
			statuses:    []database.MonitorStatus{database.MonitorStatusDegraded, database.MonitorStatusUp},
			wantOverall: StatusDegraded,
		},
		{
			name:            "maintenance alone stays operational",
			statuses:        []database.MonitorStatus{database.MonitorStatusMaintenance, database.MonitorStatusUp},
			wantOverall:     StatusOperational,
			wantMaintenance: true,
		},
		{
			name: "maintenance excluded from outage arithmetic",
			statuses: []database.MonitorStatus{
				database.MonitorStatusMaintenance,
				database.MonitorStatusDown,
			},
			wantOverall:     StatusMajorOutage,
			wantMaintenance: true,
		},
		{
			name: "maintenance alongside partial outage",
			statuses: []database.MonitorStatus{
				database.MonitorStatusMaintenance,
				database.MonitorStatusDown,
				database.MonitorStatusUp,
			},
			wantOverall:     StatusPartialOutage,
			wantMaintenance: true,
		},
		{
			name:            "only maintenance monitors",
			statuses:        []database.MonitorStatus{database.MonitorStatusMaintenance},
			wantOverall:     StatusOperational,
			wantMaintenance: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			summary := Aggregate(monitorsWith(tt.statuses...), now)
			if summary.Overall != tt.wantOverall {
				t.Errorf("expected overall %s, got %s", tt.wantOverall, summary.Overall)
			}
			if summary.UnderMaintenance != tt.wantMaintenance {
				t.Errorf("expected under_maintenance=%v, got %v", tt.wantMaintenance, summary.UnderMaintenance)
			}
			if summary.MonitorsTotal != len(tt.statuses) {
				t.Errorf("expected %d monitors total, got %d", len(tt.statuses), summary.MonitorsTotal)
			}
			if !summary.GeneratedAt.Equal(now) {
				t.Errorf("expected generated_at %s, got %s", now, summary.GeneratedAt)
			}
		})
	}
}

func TestAggregate_Counts(t *testing.T) {
	now := time.Now()
	summary := Aggregate(monitorsWith(
		database.MonitorStatusDown,
		database.MonitorStatusDown,
		database.MonitorStatusDegraded,
		database.MonitorStatusUp,
		database.MonitorStatusMaintenance,
	), now)

	if summary.MonitorsDown != 2 {
		t.Errorf("expected 2 down, got %d", summary.MonitorsDown)
	}
	if summary.MonitorsDegraded != 1 {
		t.Errorf("expected 1 degraded, got %d", summary.MonitorsDegraded)
	}
	if summary.MonitorsTotal != 5 {
		t.Errorf("expected 5 total, got %d", summary.MonitorsTotal)
	}
}

func TestPublicFeed_FiltersInternalIncidents(t *testing.T) {
	resolved := time.Date(2024, 4, 1, 0, 0, 0, 0, time.UTC)
	incidents := []database.Incident{
		{ID: 1, UUID: "pub-1", Summary: "api outage", IsPublic: true, Status: database.IncidentStatusMonitoring},
		{ID: 2, UUID: "int-1", Summary: "internal only", IsPublic: false},
		{ID: 3, UUID: "pub-2", Summary: "resolved blip", IsPublic: true, Status: database.IncidentStatusResolved, ResolvedAt: &resolved},
	}

	feed := PublicFeed(incidents)
	if len(feed) != 2 {
		t.Fatalf("expected 2 public incidents, got %d", len(feed))
	}
	for _, inc := range feed {
		if inc.UUID == "int-1" {
			t.Error("internal incident leaked into the public feed")
		}
	}
	if feed[1].ResolvedAt == nil || !feed[1].ResolvedAt.Equal(resolved) {
		t.Error("resolved_at not carried into the public projection")
	}
}
