// Package testhelpers provides reusable testing utilities for Beacon.
//
// This package contains:
// - In-memory database setup with full schema migration
// - Entity builders (tenant, monitor, alert, schedule)
// - Mock provider adapter with scriptable failures and call recording
// - Recording notification channel
package testhelpers

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/beaconhq/beacon/internal/database"
	"github.com/beaconhq/beacon/internal/providers"
)

// SetupTestDB opens an in-memory sqlite database with the full schema
func SetupTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("failed to connect to test database: %v", err)
	}
	if err := database.Migrate(db); err != nil {
		t.Fatalf("failed to migrate test database: %v", err)
	}
	return db
}

// CreateTenant inserts a tenant and returns it
func CreateTenant(t *testing.T, db *gorm.DB, name string) *database.Tenant {
	t.Helper()
	tenant := &database.Tenant{UUID: uuid.New().String(), Name: name}
	if err := db.Create(tenant).Error; err != nil {
		t.Fatalf("failed to create tenant: %v", err)
	}
	return tenant
}

// ========================================
// Monitor Builder
// ========================================

// MonitorBuilder builds Monitor rows for testing
type MonitorBuilder struct {
	monitor database.Monitor
}

// NewMonitorBuilder creates a monitor builder with defaults
func NewMonitorBuilder(tenantID uint) *MonitorBuilder {
	return &MonitorBuilder{
		monitor: database.Monitor{
			UUID:            uuid.New().String(),
			TenantID:        tenantID,
			Name:            "api-gateway",
			Type:            "http",
			Target:          "https://api.example.com/health",
			IntervalSeconds: 60,
			TimeoutSeconds:  10,
			Status:          database.MonitorStatusUp,
			Version:         1,
		},
	}
}

// WithName sets the monitor name
func (b *MonitorBuilder) WithName(name string) *MonitorBuilder {
	b.monitor.Name = name
	return b
}

// WithStatus sets the monitor status
func (b *MonitorBuilder) WithStatus(status database.MonitorStatus) *MonitorBuilder {
	b.monitor.Status = status
	return b
}

// WithExternalID maps a provider to its assigned id
func (b *MonitorBuilder) WithExternalID(provider, id string) *MonitorBuilder {
	if b.monitor.ExternalIDs == nil {
		b.monitor.ExternalIDs = database.JSONB{}
	}
	b.monitor.ExternalIDs[provider] = id
	return b
}

// WithUpdatedAt pins the monitor's last-write timestamp
func (b *MonitorBuilder) WithUpdatedAt(ts time.Time) *MonitorBuilder {
	b.monitor.UpdatedAt = ts
	return b
}

// Build returns the constructed monitor without persisting it
func (b *MonitorBuilder) Build() database.Monitor {
	return b.monitor
}

// Create persists the monitor and returns it
func (b *MonitorBuilder) Create(t *testing.T, db *gorm.DB) *database.Monitor {
	t.Helper()
	monitor := b.monitor
	if err := db.Create(&monitor).Error; err != nil {
		t.Fatalf("failed to create monitor: %v", err)
	}
	return &monitor
}

// ========================================
// Alert Builder
// ========================================

// AlertBuilder builds Alert rows for testing
type AlertBuilder struct {
	alert database.Alert
}

// NewAlertBuilder creates an alert builder with defaults
func NewAlertBuilder(tenantID, monitorID uint) *AlertBuilder {
	return &AlertBuilder{
		alert: database.Alert{
			UUID:      uuid.New().String(),
			TenantID:  tenantID,
			MonitorID: monitorID,
			Summary:   "probe failing",
			Severity:  database.AlertSeverityHigh,
			Status:    database.AlertStatusActive,
			Version:   1,
		},
	}
}

// WithStatus sets the alert status
func (b *AlertBuilder) WithStatus(status database.AlertStatus) *AlertBuilder {
	b.alert.Status = status
	return b
}

// WithSeverity sets the alert severity
func (b *AlertBuilder) WithSeverity(severity database.AlertSeverity) *AlertBuilder {
	b.alert.Severity = severity
	return b
}

// WithExternalAlertID sets the provider-assigned alert id
func (b *AlertBuilder) WithExternalAlertID(id string) *AlertBuilder {
	b.alert.ExternalAlertID = id
	return b
}

// WithUpdatedAt pins the alert's last-write timestamp
func (b *AlertBuilder) WithUpdatedAt(ts time.Time) *AlertBuilder {
	b.alert.UpdatedAt = ts
	return b
}

// Build returns the constructed alert without persisting it
func (b *AlertBuilder) Build() database.Alert {
	return b.alert
}

// Create persists the alert and returns it
func (b *AlertBuilder) Create(t *testing.T, db *gorm.DB) *database.Alert {
	t.Helper()
	alert := b.alert
	if err := db.Create(&alert).Error; err != nil {
		t.Fatalf("failed to create alert: %v", err)
	}
	return &alert
}

// ========================================
// Schedule Builder
// ========================================

// ScheduleBuilder builds OnCallSchedule rows for testing
type ScheduleBuilder struct {
	schedule database.OnCallSchedule
}

// NewScheduleBuilder creates a weekly schedule builder anchored at the given
// instant with the given participants
func NewScheduleBuilder(tenantID uint, anchor time.Time, participants ...string) *ScheduleBuilder {
	ps := make([]interface{}, len(participants))
	for i, p := range participants {
		ps[i] = p
	}
	return &ScheduleBuilder{
		schedule: database.OnCallSchedule{
			UUID:         uuid.New().String(),
			TenantID:     tenantID,
			Name:         "primary",
			Timezone:     "UTC",
			RotationType: database.RotationTypeWeekly,
			RotationConfig: database.JSONB{
				"anchor":       anchor.UTC().Format(time.RFC3339),
				"participants": ps,
			},
		},
	}
}

// WithPeriodHours switches the schedule to a custom rotation period
func (b *ScheduleBuilder) WithPeriodHours(hours float64) *ScheduleBuilder {
	b.schedule.RotationType = database.RotationTypeCustom
	b.schedule.RotationConfig["period_hours"] = hours
	return b
}

// Build returns the constructed schedule without persisting it
func (b *ScheduleBuilder) Build() database.OnCallSchedule {
	return b.schedule
}

// Create persists the schedule and returns it
func (b *ScheduleBuilder) Create(t *testing.T, db *gorm.DB) *database.OnCallSchedule {
	t.Helper()
	schedule := b.schedule
	if err := db.Create(&schedule).Error; err != nil {
		t.Fatalf("failed to create schedule: %v", err)
	}
	return &schedule
}

// ========================================
// Mock Provider Adapter
// ========================================

// AdapterCall records one outbound adapter invocation
type AdapterCall struct {
	Operation  string
	Entity     providers.Entity
	ExternalID string
}

// MockProviderAdapter implements providers.Adapter for testing. Every call is
// recorded; errors and parse results are scriptable.
type MockProviderAdapter struct {
	mu sync.Mutex

	Provider     string
	Calls        []AdapterCall
	CreateID     string
	CreateErr    error
	UpdateErr    error
	RemoveErr    error
	AckErr       error
	ResolveErr   error
	ParsedEvents []providers.NormalizedEvent
	ParseErr     error
	SecretErr    error

	// FailFirst makes the first N outbound calls fail before succeeding
	FailFirst int
	failed    int
}

// NewMockProviderAdapter creates a mock adapter for the named provider
func NewMockProviderAdapter(provider string) *MockProviderAdapter {
	return &MockProviderAdapter{Provider: provider, CreateID: provider + "-ext-1"}
}

// Name returns the provider name
func (m *MockProviderAdapter) Name() string {
	return m.Provider
}

func (m *MockProviderAdapter) record(op string, entity providers.Entity, externalID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Calls = append(m.Calls, AdapterCall{Operation: op, Entity: entity, ExternalID: externalID})
}

func (m *MockProviderAdapter) transientFailure(op string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failed < m.FailFirst {
		m.failed++
		return fmt.Errorf("simulated %s failure %d", op, m.failed)
	}
	return nil
}

// Create records the call and returns the scripted id or error
func (m *MockProviderAdapter) Create(entity providers.Entity) (string, error) {
	m.record("create", entity, "")
	if err := m.transientFailure("create"); err != nil {
		return "", err
	}
	if m.CreateErr != nil {
		return "", m.CreateErr
	}
	return m.CreateID, nil
}

// Update records the call and returns the scripted error
func (m *MockProviderAdapter) Update(entity providers.Entity) error {
	m.record("update", entity, entity.ExternalID)
	if err := m.transientFailure("update"); err != nil {
		return err
	}
	return m.UpdateErr
}

// Remove records the call and returns the scripted error
func (m *MockProviderAdapter) Remove(externalID string) error {
	m.record("remove", providers.Entity{}, externalID)
	if err := m.transientFailure("remove"); err != nil {
		return err
	}
	return m.RemoveErr
}

// Acknowledge records the call and returns the scripted error
func (m *MockProviderAdapter) Acknowledge(externalID string) error {
	m.record("acknowledge", providers.Entity{}, externalID)
	if err := m.transientFailure("acknowledge"); err != nil {
		return err
	}
	return m.AckErr
}

// Resolve records the call and returns the scripted error
func (m *MockProviderAdapter) Resolve(externalID string) error {
	m.record("resolve", providers.Entity{}, externalID)
	if err := m.transientFailure("resolve"); err != nil {
		return err
	}
	return m.ResolveErr
}

// ParseWebhook returns the scripted events or error
func (m *MockProviderAdapter) ParseWebhook(body []byte) ([]providers.NormalizedEvent, error) {
	m.record("parse_webhook", providers.Entity{}, "")
	if m.ParseErr != nil {
		return nil, m.ParseErr
	}
	return m.ParsedEvents, nil
}

// ValidateWebhookSecret returns the scripted error
func (m *MockProviderAdapter) ValidateWebhookSecret(r *http.Request, source *database.WebhookSource) error {
	return m.SecretErr
}

// CallsFor returns the recorded calls for one operation
func (m *MockProviderAdapter) CallsFor(op string) []AdapterCall {
	m.mu.Lock()
	defer m.mu.Unlock()
	var calls []AdapterCall
	for _, c := range m.Calls {
		if c.Operation == op {
			calls = append(calls, c)
		}
	}
	return calls
}

// ========================================
// Recording Notification Channel
// ========================================

// SentMessage is one delivery captured by the recording channel
type SentMessage struct {
	Address string
	Subject string
	Body    string
}

// RecordingChannel implements notify.Channel for testing
type RecordingChannel struct {
	mu       sync.Mutex
	Channel  database.NotificationChannel
	Sent     []SentMessage
	SendErr  error
	SendHook func(ctx context.Context) error
}

// NewRecordingChannel creates a recording channel for the given kind
func NewRecordingChannel(kind database.NotificationChannel) *RecordingChannel {
	return &RecordingChannel{Channel: kind}
}

// Name returns the channel kind
func (c *RecordingChannel) Name() database.NotificationChannel {
	return c.Channel
}

// Send records the message and returns the scripted error
func (c *RecordingChannel) Send(ctx context.Context, address, subject, body string) error {
	if c.SendHook != nil {
		if err := c.SendHook(ctx); err != nil {
			return err
		}
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.SendErr != nil {
		return c.SendErr
	}
	c.Sent = append(c.Sent, SentMessage{Address: address, Subject: subject, Body: body})
	return nil
}

// Messages returns a copy of the captured deliveries
func (c *RecordingChannel) Messages() []SentMessage {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]SentMessage, len(c.Sent))
	copy(out, c.Sent)
	return out
}

// CreatePreference inserts a notification preference row
func CreatePreference(t *testing.T, db *gorm.DB, tenantID uint, userID string, channel database.NotificationChannel, address string) *database.NotificationPreference {
	t.Helper()
	pref := &database.NotificationPreference{
		TenantID: tenantID,
		UserID:   userID,
		Channel:  channel,
		Address:  address,
		Enabled:  true,
	}
	if err := db.Create(pref).Error; err != nil {
		t.Fatalf("failed to create notification preference: %v", err)
	}
	return pref
}
