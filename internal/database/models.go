package database

import (
	"database/sql/driver"
	"encoding/json"
	"errors"
	"time"

	"gorm.io/gorm"
)

// JSONB is a custom type for PostgreSQL JSONB columns
type JSONB map[string]interface{}

// Scan implements the sql.Scanner interface
func (j *JSONB) Scan(value interface{}) error {
	if value == nil {
		*j = make(map[string]interface{})
		return nil
	}
	bytes, ok := value.([]byte)
	if !ok {
		return errors.New("type assertion to []byte failed")
	}
	return json.Unmarshal(bytes, j)
}

// Value implements the driver.Valuer interface
func (j JSONB) Value() (driver.Value, error) {
	if j == nil {
		return nil, nil
	}
	return json.Marshal(j)
}

// Tenant is the scoping root; every other record carries its ID
type Tenant struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	UUID      string    `gorm:"uniqueIndex;size:36;not null" json:"uuid"`
	Name      string    `gorm:"size:128;not null" json:"name"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (Tenant) TableName() string {
	return "tenants"
}

// MonitorStatus represents the current state of a monitor probe target
type MonitorStatus string

const (
	MonitorStatusUp          MonitorStatus = "up"
	MonitorStatusDown        MonitorStatus = "down"
	MonitorStatusDegraded    MonitorStatus = "degraded"
	MonitorStatusMaintenance MonitorStatus = "maintenance"
)

// ValidMonitorStatuses returns all accepted monitor status values
func ValidMonitorStatuses() []MonitorStatus {
	return []MonitorStatus{MonitorStatusUp, MonitorStatusDown, MonitorStatusDegraded, MonitorStatusMaintenance}
}

// Monitor is an internally tracked probe target mirrored to the uptime provider
type Monitor struct {
	ID              uint          `gorm:"primaryKey" json:"id"`
	UUID            string        `gorm:"uniqueIndex;size:36;not null" json:"uuid"`
	TenantID        uint          `gorm:"not null;index" json:"tenant_id"`
	Name            string        `gorm:"size:255;not null" json:"name"`
	Type            string        `gorm:"size:50;not null" json:"type"` // http, tcp, dns, ping
	Target          string        `gorm:"size:1024;not null" json:"target"`
	IntervalSeconds int           `gorm:"not null;default:60" json:"interval_seconds"`
	TimeoutSeconds  int           `gorm:"not null;default:10" json:"timeout_seconds"`
	Status          MonitorStatus `gorm:"type:varchar(20);not null;default:'up'" json:"status"`
	ExternalIDs     JSONB         `gorm:"type:jsonb" json:"external_ids"` // provider name -> provider-assigned id
	Version         uint          `gorm:"not null;default:1" json:"version"`
	CreatedAt       time.Time     `json:"created_at"`
	UpdatedAt       time.Time     `json:"updated_at"`
}

func (Monitor) TableName() string {
	return "monitors"
}

// ExternalID returns the provider-assigned id for the given provider, if set
func (m *Monitor) ExternalID(provider string) string {
	if m.ExternalIDs == nil {
		return ""
	}
	if id, ok := m.ExternalIDs[provider].(string); ok {
		return id
	}
	return ""
}

// AlertSeverity represents normalized alert severity
type AlertSeverity string

const (
	AlertSeverityLow      AlertSeverity = "low"
	AlertSeverityMedium   AlertSeverity = "medium"
	AlertSeverityHigh     AlertSeverity = "high"
	AlertSeverityCritical AlertSeverity = "critical"
)

// AlertStatus represents the alert lifecycle state
type AlertStatus string

const (
	AlertStatusActive       AlertStatus = "active"
	AlertStatusAcknowledged AlertStatus = "acknowledged"
	AlertStatusResolved     AlertStatus = "resolved"
)

// IsTerminal returns true for states with no outgoing transitions
func (s AlertStatus) IsTerminal() bool {
	return s == AlertStatusResolved
}

// CanTransitionTo reports whether the alert state machine permits the move.
// Valid moves: active -> acknowledged, active -> resolved,
// acknowledged -> resolved. Resolved is terminal.
func (s AlertStatus) CanTransitionTo(next AlertStatus) bool {
	switch s {
	case AlertStatusActive:
		return next == AlertStatusAcknowledged || next == AlertStatusResolved
	case AlertStatusAcknowledged:
		return next == AlertStatusResolved
	default:
		return false
	}
}

// Alert is a state-tracked incident raised against a Monitor
type Alert struct {
	ID              uint          `gorm:"primaryKey" json:"id"`
	UUID            string        `gorm:"uniqueIndex;size:36;not null" json:"uuid"`
	TenantID        uint          `gorm:"not null;index" json:"tenant_id"`
	MonitorID       uint          `gorm:"not null;index" json:"monitor_id"`
	Summary         string        `gorm:"type:text" json:"summary"`
	Severity        AlertSeverity `gorm:"type:varchar(20);not null;default:'medium'" json:"severity"`
	Status          AlertStatus   `gorm:"type:varchar(20);not null;default:'active'" json:"status"`
	ExternalAlertID string        `gorm:"size:255;index" json:"external_alert_id"`
	AcknowledgedBy  string        `gorm:"size:255" json:"acknowledged_by"`
	AcknowledgedAt  *time.Time    `json:"acknowledged_at,omitempty"`
	ResolvedBy      string        `gorm:"size:255" json:"resolved_by"`
	ResolvedAt      *time.Time    `json:"resolved_at,omitempty"`
	Version         uint          `gorm:"not null;default:1" json:"version"`
	CreatedAt       time.Time     `json:"created_at"`
	UpdatedAt       time.Time     `json:"updated_at"`

	Monitor Monitor `gorm:"foreignKey:MonitorID" json:"-"`
}

func (Alert) TableName() string {
	return "alerts"
}

// RotationType represents the on-call rotation strategy
type RotationType string

const (
	RotationTypeWeekly RotationType = "weekly"
	RotationTypeCustom RotationType = "custom"
)

// OnCallSchedule defines a rotation of participants for a tenant
type OnCallSchedule struct {
	ID                 uint         `gorm:"primaryKey" json:"id"`
	UUID               string       `gorm:"uniqueIndex;size:36;not null" json:"uuid"`
	TenantID           uint         `gorm:"not null;index" json:"tenant_id"`
	Name               string       `gorm:"size:255;not null" json:"name"`
	Timezone           string       `gorm:"size:64;not null;default:'UTC'" json:"timezone"`
	RotationType       RotationType `gorm:"type:varchar(20);not null;default:'weekly'" json:"rotation_type"`
	RotationConfig     JSONB        `gorm:"type:jsonb" json:"rotation_config"` // anchor + ordered participants (+ period_hours for custom)
	ExternalScheduleID string       `gorm:"size:255" json:"external_schedule_id"`
	CreatedAt          time.Time    `json:"created_at"`
	UpdatedAt          time.Time    `json:"updated_at"`
}

func (OnCallSchedule) TableName() string {
	return "oncall_schedules"
}

// ScheduleAssignment is a time-bounded on-call slot. Non-override rows are a
// cache of computed rotation slots; override rows always win for their interval.
type ScheduleAssignment struct {
	ID         uint      `gorm:"primaryKey" json:"id"`
	ScheduleID uint      `gorm:"not null;index" json:"schedule_id"`
	UserID     string    `gorm:"size:255;not null" json:"user_id"`
	Start      time.Time `gorm:"not null;index" json:"start"`
	End        time.Time `gorm:"not null" json:"end"`
	IsOverride bool      `gorm:"not null;default:false" json:"is_override"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

func (ScheduleAssignment) TableName() string {
	return "schedule_assignments"
}

// Covers reports whether the assignment interval [Start, End) contains t
func (a *ScheduleAssignment) Covers(t time.Time) bool {
	return !t.Before(a.Start) && t.Before(a.End)
}

// IncidentStatus represents the public incident lifecycle state
type IncidentStatus string

const (
	IncidentStatusInvestigating IncidentStatus = "investigating"
	IncidentStatusIdentified    IncidentStatus = "identified"
	IncidentStatusMonitoring    IncidentStatus = "monitoring"
	IncidentStatusResolved      IncidentStatus = "resolved"
)

// incidentStatusOrder defines the monotonic forward-only lifecycle
var incidentStatusOrder = map[IncidentStatus]int{
	IncidentStatusInvestigating: 0,
	IncidentStatusIdentified:    1,
	IncidentStatusMonitoring:    2,
	IncidentStatusResolved:      3,
}

// CanTransitionTo permits only forward moves through the lifecycle
func (s IncidentStatus) CanTransitionTo(next IncidentStatus) bool {
	from, ok := incidentStatusOrder[s]
	if !ok {
		return false
	}
	to, ok := incidentStatusOrder[next]
	if !ok {
		return false
	}
	return to > from
}

// Incident represents a tenant incident, optionally exposed on the public feed
type Incident struct {
	ID                 uint           `gorm:"primaryKey" json:"id"`
	UUID               string         `gorm:"uniqueIndex;size:36;not null" json:"uuid"`
	TenantID           uint           `gorm:"not null;index" json:"tenant_id"`
	Summary            string         `gorm:"type:text;not null" json:"summary"`
	Severity           AlertSeverity  `gorm:"type:varchar(20);not null;default:'medium'" json:"severity"`
	Status             IncidentStatus `gorm:"type:varchar(20);not null;default:'investigating'" json:"status"`
	AffectedMonitorIDs JSONB          `gorm:"type:jsonb" json:"affected_monitor_ids"` // {"ids": [..]}
	IsPublic           bool           `gorm:"not null;default:false" json:"is_public"`
	ResolvedAt         *time.Time     `json:"resolved_at,omitempty"`
	CreatedAt          time.Time      `json:"created_at"`
	UpdatedAt          time.Time      `json:"updated_at"`
}

func (Incident) TableName() string {
	return "incidents"
}

// IntegrationEvent stores a raw inbound provider payload for idempotent
// reprocessing. (TenantID, Source, EventID) is the dedupe key; event ids from
// different tenants never collide.
type IntegrationEvent struct {
	ID         uint      `gorm:"primaryKey" json:"id"`
	TenantID   uint      `gorm:"not null;uniqueIndex:idx_integration_events_source_event" json:"tenant_id"`
	Source     string    `gorm:"size:64;not null;uniqueIndex:idx_integration_events_source_event" json:"source"`
	EventID    string    `gorm:"size:255;not null;uniqueIndex:idx_integration_events_source_event" json:"event_id"`
	Payload    JSONB     `gorm:"type:jsonb" json:"payload"`
	Processed  bool      `gorm:"not null;default:false" json:"processed"`
	ReceivedAt time.Time `gorm:"not null" json:"received_at"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

func (IntegrationEvent) TableName() string {
	return "integration_events"
}

// BeforeCreate sets ReceivedAt if the caller did not
func (e *IntegrationEvent) BeforeCreate(tx *gorm.DB) error {
	if e.ReceivedAt.IsZero() {
		e.ReceivedAt = time.Now()
	}
	return nil
}

// AuditAction identifies the kind of decision recorded in the audit log
type AuditAction string

const (
	AuditActionExternalWins         AuditAction = "external_wins"
	AuditActionInternalWins         AuditAction = "internal_wins"
	AuditActionInvalidTransition    AuditAction = "invalid_transition"
	AuditActionNotificationDispatch AuditAction = "notification_dispatch"
)

// AuditLog is an append-only record of reconciliation and dispatch decisions
type AuditLog struct {
	ID         uint        `gorm:"primaryKey" json:"id"`
	TenantID   uint        `gorm:"not null;index" json:"tenant_id"`
	Action     AuditAction `gorm:"type:varchar(50);not null;index" json:"action"`
	EntityType string      `gorm:"size:50;not null" json:"entity_type"`
	EntityID   uint        `gorm:"index" json:"entity_id"`
	Detail     JSONB       `gorm:"type:jsonb" json:"detail"`
	CreatedAt  time.Time   `json:"created_at"`
}

func (AuditLog) TableName() string {
	return "audit_logs"
}

// SyncError is an append-only record of a failed adapter call, with retry
// bookkeeping for the bridge's backoff worker
type SyncError struct {
	ID          uint       `gorm:"primaryKey" json:"id"`
	TenantID    uint       `gorm:"not null;index" json:"tenant_id"`
	Provider    string     `gorm:"size:64;not null" json:"provider"`
	Operation   string     `gorm:"size:64;not null" json:"operation"` // create, update, remove, acknowledge, resolve
	EntityType  string     `gorm:"size:50;not null" json:"entity_type"`
	EntityID    uint       `gorm:"not null;index" json:"entity_id"`
	ExternalIDs JSONB      `gorm:"type:jsonb" json:"external_ids,omitempty"`
	Message     string     `gorm:"type:text" json:"message"`
	Attempts    int        `gorm:"not null;default:0" json:"attempts"`
	NextRetryAt *time.Time `gorm:"index" json:"next_retry_at,omitempty"`
	Resolved    bool       `gorm:"not null;default:false" json:"resolved"`
	Exhausted   bool       `gorm:"not null;default:false" json:"exhausted"`
	Abandoned   bool       `gorm:"not null;default:false" json:"abandoned"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
}

func (SyncError) TableName() string {
	return "sync_errors"
}

// StatusPageConfig holds per-tenant public status page settings
type StatusPageConfig struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	TenantID  uint      `gorm:"uniqueIndex;not null" json:"tenant_id"`
	Title     string    `gorm:"size:255;not null" json:"title"`
	Public    bool      `gorm:"not null" json:"public"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (StatusPageConfig) TableName() string {
	return "status_page_configs"
}

// NotificationChannel identifies a delivery channel
type NotificationChannel string

const (
	ChannelEmail NotificationChannel = "email"
	ChannelSMS   NotificationChannel = "sms"
	ChannelPush  NotificationChannel = "push"
	ChannelChat  NotificationChannel = "chat"
)

// NotificationPreference stores per-user, per-channel enablement plus the
// address the channel should deliver to
type NotificationPreference struct {
	ID        uint                `gorm:"primaryKey" json:"id"`
	TenantID  uint                `gorm:"not null;index:idx_notification_prefs_tenant_user" json:"tenant_id"`
	UserID    string              `gorm:"size:255;not null;index:idx_notification_prefs_tenant_user" json:"user_id"`
	Channel   NotificationChannel `gorm:"type:varchar(20);not null" json:"channel"`
	Address   string              `gorm:"size:512" json:"address"` // email address, phone number, device token, chat channel
	Enabled   bool                `gorm:"not null" json:"enabled"`
	CreatedAt time.Time           `json:"created_at"`
	UpdatedAt time.Time           `json:"updated_at"`
}

func (NotificationPreference) TableName() string {
	return "notification_preferences"
}

// WebhookSource is a configured inbound webhook endpoint for one provider.
// The secret is stored as a bcrypt hash; the UUID routes the webhook URL.
type WebhookSource struct {
	ID         uint      `gorm:"primaryKey" json:"id"`
	UUID       string    `gorm:"uniqueIndex;size:36;not null" json:"uuid"`
	TenantID   uint      `gorm:"not null;index" json:"tenant_id"`
	Provider   string    `gorm:"size:64;not null" json:"provider"`
	Name       string    `gorm:"size:128;not null" json:"name"`
	SecretHash string    `gorm:"type:text" json:"-"`
	Enabled    bool      `gorm:"not null" json:"enabled"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

func (WebhookSource) TableName() string {
	return "webhook_sources"
}

// WebhookURL returns the inbound webhook path for this source
func (w *WebhookSource) WebhookURL(baseURL string) string {
	return baseURL + "/webhook/" + w.Provider + "/" + w.UUID
}
