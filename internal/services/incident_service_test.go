package services

import (
	"testing"
	"time"

	"github.com/beaconhq/beacon/internal/database"
	"github.com/beaconhq/beacon/internal/testhelpers"
)

func TestCreateIncident(t *testing.T) {
	db := testhelpers.SetupTestDB(t)
	tenant := testhelpers.CreateTenant(t, db, "acme")
	monitor := testhelpers.NewMonitorBuilder(tenant.ID).Create(t, db)
	svc := NewIncidentService(db)

	incident, err := svc.CreateIncident(tenant.ID, CreateIncidentInput{
		Summary:            "elevated error rates",
		AffectedMonitorIDs: []uint{monitor.ID},
		IsPublic:           true,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if incident.Status != database.IncidentStatusInvestigating {
		t.Errorf("new incident should start investigating, got %s", incident.Status)
	}
	if incident.Severity != database.AlertSeverityMedium {
		t.Errorf("severity should default to medium, got %s", incident.Severity)
	}
}

func TestCreateIncident_Errors(t *testing.T) {
	db := testhelpers.SetupTestDB(t)
	tenant := testhelpers.CreateTenant(t, db, "acme")
	svc := NewIncidentService(db)

	if _, err := svc.CreateIncident(tenant.ID, CreateIncidentInput{}); !IsValidation(err) {
		t.Errorf("expected ValidationError for empty summary, got %v", err)
	}
	if _, err := svc.CreateIncident(tenant.ID, CreateIncidentInput{
		Summary:            "x",
		AffectedMonitorIDs: []uint{4242},
	}); !IsNotFound(err) {
		t.Errorf("expected NotFoundError for dangling monitor reference, got %v", err)
	}
}

func TestAdvanceStatus(t *testing.T) {
	db := testhelpers.SetupTestDB(t)
	tenant := testhelpers.CreateTenant(t, db, "acme")
	svc := NewIncidentService(db)
	incident, err := svc.CreateIncident(tenant.ID, CreateIncidentInput{Summary: "db outage"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// Forward moves apply, skipping stages is allowed.
	advanced, err := svc.AdvanceStatus(tenant.ID, incident.ID, database.IncidentStatusMonitoring)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if advanced.Status != database.IncidentStatusMonitoring {
		t.Errorf("expected monitoring, got %s", advanced.Status)
	}

	resolved, err := svc.AdvanceStatus(tenant.ID, incident.ID, database.IncidentStatusResolved)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resolved.Status != database.IncidentStatusResolved {
		t.Errorf("expected resolved, got %s", resolved.Status)
	}
	if resolved.ResolvedAt == nil {
		t.Error("resolving must stamp resolved_at")
	}
}

func TestAdvanceStatus_BackwardIsNoOp(t *testing.T) {
	db := testhelpers.SetupTestDB(t)
	tenant := testhelpers.CreateTenant(t, db, "acme")
	svc := NewIncidentService(db)
	incident, err := svc.CreateIncident(tenant.ID, CreateIncidentInput{Summary: "db outage"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := svc.AdvanceStatus(tenant.ID, incident.ID, database.IncidentStatusIdentified); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	got, err := svc.AdvanceStatus(tenant.ID, incident.ID, database.IncidentStatusInvestigating)
	if err != nil {
		t.Fatalf("backward move must not surface an error, got %v", err)
	}
	if got.Status != database.IncidentStatusIdentified {
		t.Errorf("status must stay identified, got %s", got.Status)
	}

	var logs []database.AuditLog
	db.Where("tenant_id = ? AND action = ? AND entity_type = ?",
		tenant.ID, database.AuditActionInvalidTransition, "incident").Find(&logs)
	if len(logs) != 1 {
		t.Errorf("expected one invalid_transition audit entry, got %d", len(logs))
	}
}

func TestPublicIncidents(t *testing.T) {
	db := testhelpers.SetupTestDB(t)
	tenant := testhelpers.CreateTenant(t, db, "acme")
	svc := NewIncidentService(db)
	now := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	svc.now = func() time.Time { return now }

	public, err := svc.CreateIncident(tenant.ID, CreateIncidentInput{Summary: "open public", IsPublic: true})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := svc.CreateIncident(tenant.ID, CreateIncidentInput{Summary: "internal only"}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	stale := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	db.Create(&database.Incident{
		TenantID:   tenant.ID,
		Summary:    "resolved long ago",
		Severity:   database.AlertSeverityLow,
		Status:     database.IncidentStatusResolved,
		IsPublic:   true,
		ResolvedAt: &stale,
	})

	got, err := svc.PublicIncidents(tenant.ID, 7*24*time.Hour)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("expected only the open public incident, got %d", len(got))
	}
	if got[0].ID != public.ID {
		t.Errorf("expected incident %d, got %d", public.ID, got[0].ID)
	}
}
