package services

import (
	"testing"

	"github.com/beaconhq/beacon/internal/database"
	"github.com/beaconhq/beacon/internal/status"
	"github.com/beaconhq/beacon/internal/testhelpers"
)

func TestOverall(t *testing.T) {
	db := testhelpers.SetupTestDB(t)
	tenant := testhelpers.CreateTenant(t, db, "acme")
	testhelpers.NewMonitorBuilder(tenant.ID).WithName("api").Create(t, db)
	testhelpers.NewMonitorBuilder(tenant.ID).WithName("web").WithStatus(database.MonitorStatusDown).Create(t, db)
	svc := NewStatusService(db)

	summary, err := svc.Overall(tenant.ID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if summary.Overall != status.StatusPartialOutage {
		t.Errorf("expected partial_outage, got %s", summary.Overall)
	}
	if summary.MonitorsTotal != 2 || summary.MonitorsDown != 1 {
		t.Errorf("unexpected counts: %+v", summary)
	}
}

func TestPublicPage(t *testing.T) {
	db := testhelpers.SetupTestDB(t)
	tenant := testhelpers.CreateTenant(t, db, "acme")
	testhelpers.NewMonitorBuilder(tenant.ID).Create(t, db)
	svc := NewStatusService(db)

	// No page config means no public surface.
	if _, err := svc.PublicPage(tenant.ID); !IsNotFound(err) {
		t.Errorf("expected NotFoundError without config, got %v", err)
	}

	config := &database.StatusPageConfig{TenantID: tenant.ID, Title: "Acme Status", Public: false}
	if err := db.Create(config).Error; err != nil {
		t.Fatalf("failed to create config: %v", err)
	}

	// A private page is indistinguishable from a missing one.
	if _, err := svc.PublicPage(tenant.ID); !IsNotFound(err) {
		t.Errorf("expected NotFoundError for private page, got %v", err)
	}

	if _, err := svc.UpdatePageConfig(tenant.ID, "", true); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	page, err := svc.PublicPage(tenant.ID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if page.Title != "Acme Status" {
		t.Errorf("unexpected title %q", page.Title)
	}
	if page.Summary.Overall != status.StatusOperational {
		t.Errorf("expected operational, got %s", page.Summary.Overall)
	}
	if len(page.Incidents) != 0 {
		t.Errorf("expected no incidents, got %d", len(page.Incidents))
	}
}

func TestUpdatePageConfig(t *testing.T) {
	db := testhelpers.SetupTestDB(t)
	tenant := testhelpers.CreateTenant(t, db, "acme")
	svc := NewStatusService(db)
	db.Create(&database.StatusPageConfig{TenantID: tenant.ID, Title: "Old", Public: true})

	updated, err := svc.UpdatePageConfig(tenant.ID, "New Title", false)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if updated.Title != "New Title" || updated.Public {
		t.Errorf("updates not applied: %+v", updated)
	}
}
