package notify

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/beaconhq/beacon/internal/database"
	"github.com/beaconhq/beacon/internal/testhelpers"
)

func TestSendAlertNotification_FansOutToAllChannels(t *testing.T) {
	db := testhelpers.SetupTestDB(t)
	tenant := testhelpers.CreateTenant(t, db, "acme")
	monitor := testhelpers.NewMonitorBuilder(tenant.ID).WithName("api-gateway").Create(t, db)
	alert := testhelpers.NewAlertBuilder(tenant.ID, monitor.ID).Create(t, db)
	testhelpers.CreatePreference(t, db, tenant.ID, "alice", database.ChannelEmail, "alice@example.com")
	testhelpers.CreatePreference(t, db, tenant.ID, "alice", database.ChannelSMS, "+1555000001")

	email := testhelpers.NewRecordingChannel(database.ChannelEmail)
	sms := testhelpers.NewRecordingChannel(database.ChannelSMS)
	dispatcher := NewDispatcher(db, DefaultCatalog(), time.Second, time.Minute, email, sms)

	report, err := dispatcher.SendAlertNotification(alert, monitor, Options{RecipientUserIDs: []string{"alice"}})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !report.Success {
		t.Error("expected success report")
	}
	if report.Attempted != 2 || report.Delivered != 2 || report.Failed != 0 {
		t.Errorf("unexpected report: attempted=%d delivered=%d failed=%d",
			report.Attempted, report.Delivered, report.Failed)
	}
	if len(email.Messages()) != 1 {
		t.Fatalf("expected 1 email, got %d", len(email.Messages()))
	}
	if email.Messages()[0].Address != "alice@example.com" {
		t.Errorf("email delivered to wrong address: %s", email.Messages()[0].Address)
	}
	if len(sms.Messages()) != 1 {
		t.Fatalf("expected 1 sms, got %d", len(sms.Messages()))
	}
}

func TestSendAlertNotification_ChannelFailureIsIsolated(t *testing.T) {
	db := testhelpers.SetupTestDB(t)
	tenant := testhelpers.CreateTenant(t, db, "acme")
	monitor := testhelpers.NewMonitorBuilder(tenant.ID).Create(t, db)
	alert := testhelpers.NewAlertBuilder(tenant.ID, monitor.ID).Create(t, db)
	testhelpers.CreatePreference(t, db, tenant.ID, "alice", database.ChannelEmail, "alice@example.com")
	testhelpers.CreatePreference(t, db, tenant.ID, "alice", database.ChannelSMS, "+1555000001")

	email := testhelpers.NewRecordingChannel(database.ChannelEmail)
	sms := testhelpers.NewRecordingChannel(database.ChannelSMS)
	sms.SendErr = errors.New("gateway unavailable")
	dispatcher := NewDispatcher(db, DefaultCatalog(), time.Second, time.Minute, email, sms)

	report, err := dispatcher.SendAlertNotification(alert, monitor, Options{RecipientUserIDs: []string{"alice"}})
	if err != nil {
		t.Fatalf("a failed channel must not error the dispatch: %v", err)
	}
	if !report.Success {
		t.Error("dispatch attempted everywhere, report should still be success")
	}
	if report.Delivered != 1 || report.Failed != 1 {
		t.Errorf("expected 1 delivered and 1 failed, got %d/%d", report.Delivered, report.Failed)
	}
	if len(email.Messages()) != 1 {
		t.Error("email delivery must not be affected by the sms failure")
	}

	var failedResult *ChannelResult
	for i := range report.Results {
		if !report.Results[i].Success {
			failedResult = &report.Results[i]
		}
	}
	if failedResult == nil {
		t.Fatal("expected a failed channel result")
	}
	if failedResult.Channel != database.ChannelSMS || failedResult.Error == "" {
		t.Errorf("failure not attributed to sms: %+v", failedResult)
	}
}

func TestSendAlertNotification_RecordsDispatchAudit(t *testing.T) {
	db := testhelpers.SetupTestDB(t)
	tenant := testhelpers.CreateTenant(t, db, "acme")
	monitor := testhelpers.NewMonitorBuilder(tenant.ID).Create(t, db)
	alert := testhelpers.NewAlertBuilder(tenant.ID, monitor.ID).Create(t, db)
	testhelpers.CreatePreference(t, db, tenant.ID, "alice", database.ChannelEmail, "alice@example.com")

	email := testhelpers.NewRecordingChannel(database.ChannelEmail)
	dispatcher := NewDispatcher(db, DefaultCatalog(), time.Second, time.Minute, email)

	if _, err := dispatcher.SendAlertNotification(alert, monitor, Options{RecipientUserIDs: []string{"alice"}}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	logs, err := database.ListAuditLogs(db, tenant.ID, 10)
	if err != nil {
		t.Fatalf("failed to list audit logs: %v", err)
	}
	found := false
	for _, entry := range logs {
		if entry.Action == database.AuditActionNotificationDispatch && entry.EntityID == alert.ID {
			found = true
		}
	}
	if !found {
		t.Error("dispatch was not recorded in the audit log")
	}
}

func TestResolveRecipients_HonorsPreferences(t *testing.T) {
	db := testhelpers.SetupTestDB(t)
	tenant := testhelpers.CreateTenant(t, db, "acme")
	testhelpers.CreatePreference(t, db, tenant.ID, "alice", database.ChannelEmail, "alice@example.com")

	disabled := testhelpers.CreatePreference(t, db, tenant.ID, "alice", database.ChannelSMS, "+1555000001")
	db.Model(disabled).Update("enabled", false)

	// Address-less and unregistered-channel preferences are skipped too.
	testhelpers.CreatePreference(t, db, tenant.ID, "alice", database.ChannelPush, "")
	testhelpers.CreatePreference(t, db, tenant.ID, "alice", database.ChannelChat, "#oncall")

	email := testhelpers.NewRecordingChannel(database.ChannelEmail)
	sms := testhelpers.NewRecordingChannel(database.ChannelSMS)
	push := testhelpers.NewRecordingChannel(database.ChannelPush)
	dispatcher := NewDispatcher(db, DefaultCatalog(), time.Second, time.Minute, email, sms, push)

	recipients, err := dispatcher.ResolveRecipients(tenant.ID, []string{"alice"}, "alert_triggered")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(recipients) != 1 {
		t.Fatalf("expected only the enabled email preference, got %d recipients: %+v", len(recipients), recipients)
	}
	if recipients[0].Channel != database.ChannelEmail || recipients[0].Address != "alice@example.com" {
		t.Errorf("unexpected recipient: %+v", recipients[0])
	}
}

func TestResolveRecipients_OnCallFallback(t *testing.T) {
	db := testhelpers.SetupTestDB(t)
	tenant := testhelpers.CreateTenant(t, db, "acme")

	anchor := time.Now().Add(-24 * time.Hour)
	testhelpers.NewScheduleBuilder(tenant.ID, anchor, "oncall-user").Create(t, db)
	testhelpers.CreatePreference(t, db, tenant.ID, "oncall-user", database.ChannelEmail, "oncall@example.com")

	email := testhelpers.NewRecordingChannel(database.ChannelEmail)
	dispatcher := NewDispatcher(db, DefaultCatalog(), time.Second, time.Minute, email)

	recipients, err := dispatcher.ResolveRecipients(tenant.ID, nil, "alert_triggered")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(recipients) != 1 || recipients[0].UserID != "oncall-user" {
		t.Fatalf("expected fallback to current on-call user, got %+v", recipients)
	}
}

func TestEscalate_StillActiveNotifiesNextTier(t *testing.T) {
	db := testhelpers.SetupTestDB(t)
	tenant := testhelpers.CreateTenant(t, db, "acme")
	monitor := testhelpers.NewMonitorBuilder(tenant.ID).WithName("api-gateway").Create(t, db)
	alert := testhelpers.NewAlertBuilder(tenant.ID, monitor.ID).Create(t, db)

	// alice is on call now; bob is the next tier.
	anchor := time.Now().Add(-24 * time.Hour)
	testhelpers.NewScheduleBuilder(tenant.ID, anchor, "alice", "bob").Create(t, db)
	testhelpers.CreatePreference(t, db, tenant.ID, "bob", database.ChannelEmail, "bob@example.com")

	email := testhelpers.NewRecordingChannel(database.ChannelEmail)
	dispatcher := NewDispatcher(db, DefaultCatalog(), time.Second, time.Minute, email)

	if err := dispatcher.escalate(tenant.ID, alert.ID); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	sent := email.Messages()
	if len(sent) != 1 {
		t.Fatalf("expected one escalation message, got %d", len(sent))
	}
	if sent[0].Address != "bob@example.com" {
		t.Errorf("escalation must reach the next tier, got %s", sent[0].Address)
	}
	if !strings.Contains(sent[0].Subject, "ESCALATED") {
		t.Errorf("expected escalation subject, got %q", sent[0].Subject)
	}
}

func TestEscalate_AcknowledgedAlertDoesNotEscalate(t *testing.T) {
	db := testhelpers.SetupTestDB(t)
	tenant := testhelpers.CreateTenant(t, db, "acme")
	monitor := testhelpers.NewMonitorBuilder(tenant.ID).Create(t, db)
	alert := testhelpers.NewAlertBuilder(tenant.ID, monitor.ID).
		WithStatus(database.AlertStatusAcknowledged).
		Create(t, db)

	anchor := time.Now().Add(-24 * time.Hour)
	testhelpers.NewScheduleBuilder(tenant.ID, anchor, "alice", "bob").Create(t, db)
	testhelpers.CreatePreference(t, db, tenant.ID, "bob", database.ChannelEmail, "bob@example.com")

	email := testhelpers.NewRecordingChannel(database.ChannelEmail)
	dispatcher := NewDispatcher(db, DefaultCatalog(), time.Second, time.Minute, email)

	if err := dispatcher.escalate(tenant.ID, alert.ID); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(email.Messages()) != 0 {
		t.Errorf("an acknowledged alert must not escalate, got %d messages", len(email.Messages()))
	}
}

func TestEscalate_DeletedAlertIsSilent(t *testing.T) {
	db := testhelpers.SetupTestDB(t)
	tenant := testhelpers.CreateTenant(t, db, "acme")

	email := testhelpers.NewRecordingChannel(database.ChannelEmail)
	dispatcher := NewDispatcher(db, DefaultCatalog(), time.Second, time.Minute, email)

	if err := dispatcher.escalate(tenant.ID, 4242); err != nil {
		t.Fatalf("a vanished alert must not error, got %v", err)
	}
	if len(email.Messages()) != 0 {
		t.Errorf("expected no messages, got %d", len(email.Messages()))
	}
}
