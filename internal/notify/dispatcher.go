// Package notify renders and delivers alert notifications across channels.
// Channels fail independently: a failed channel is captured in the delivery
// report, never raised to the caller.
package notify

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"gorm.io/gorm"

	"github.com/beaconhq/beacon/internal/database"
	"github.com/beaconhq/beacon/internal/oncall"
)

// Recipient is one resolved (user, channel, address) delivery target
type Recipient struct {
	UserID  string
	Channel database.NotificationChannel
	Address string
}

// ChannelResult captures the outcome of one delivery attempt
type ChannelResult struct {
	Channel  database.NotificationChannel `json:"channel"`
	UserID   string                       `json:"user_id"`
	Address  string                       `json:"address"`
	Success  bool                         `json:"success"`
	Error    string                       `json:"error,omitempty"`
	Duration time.Duration                `json:"duration"`
}

// DeliveryReport is returned from every dispatch. Success means delivery was
// attempted on every resolved channel, not that every channel succeeded;
// per-channel failures are data in Results.
type DeliveryReport struct {
	Success   bool            `json:"success"`
	Attempted int             `json:"attempted"`
	Delivered int             `json:"delivered"`
	Failed    int             `json:"failed"`
	Results   []ChannelResult `json:"results"`
}

// Options adjusts a single dispatch
type Options struct {
	// RecipientUserIDs overrides recipient resolution; empty falls back to
	// the current on-call assignment
	RecipientUserIDs []string
	// Actor is who triggered the transition, substituted into templates
	Actor string
	// Escalate schedules a follow-up to the next escalation tier if the
	// alert is still unacknowledged after the escalation delay
	Escalate bool
}

// Dispatcher resolves recipients, renders templates and fans out delivery
type Dispatcher struct {
	db              *gorm.DB
	catalog         *Catalog
	channels        map[database.NotificationChannel]Channel
	channelTimeout  time.Duration
	escalationDelay time.Duration
	now             func() time.Time
}

// NewDispatcher creates a dispatcher over the given channels
func NewDispatcher(db *gorm.DB, catalog *Catalog, channelTimeout, escalationDelay time.Duration, channels ...Channel) *Dispatcher {
	active := make(map[database.NotificationChannel]Channel, len(channels))
	for _, ch := range channels {
		if ch != nil {
			active[ch.Name()] = ch
		}
	}
	if channelTimeout == 0 {
		channelTimeout = 10 * time.Second
	}
	if escalationDelay == 0 {
		escalationDelay = 5 * time.Minute
	}
	return &Dispatcher{
		db:              db,
		catalog:         catalog,
		channels:        active,
		channelTimeout:  channelTimeout,
		escalationDelay: escalationDelay,
		now:             time.Now,
	}
}

// ResolveRecipients expands candidate user ids into concrete delivery targets,
// honoring per-user per-channel preferences. An empty candidate list falls
// back to whoever is currently on call for the tenant.
func (d *Dispatcher) ResolveRecipients(tenantID uint, candidates []string, notificationType string) ([]Recipient, error) {
	if len(candidates) == 0 {
		onCall, err := d.currentOnCall(tenantID, 0)
		if err != nil {
			return nil, fmt.Errorf("failed to resolve on-call fallback: %w", err)
		}
		candidates = onCall
	}
	if len(candidates) == 0 {
		return nil, nil
	}

	prefs, err := database.GetPreferences(d.db, tenantID, candidates)
	if err != nil {
		return nil, err
	}

	var recipients []Recipient
	for _, pref := range prefs {
		if !pref.Enabled || pref.Address == "" {
			continue
		}
		if _, ok := d.channels[pref.Channel]; !ok {
			continue
		}
		recipients = append(recipients, Recipient{
			UserID:  pref.UserID,
			Channel: pref.Channel,
			Address: pref.Address,
		})
	}
	return recipients, nil
}

// notificationTypeFor maps an alert status to its template key
func notificationTypeFor(status database.AlertStatus) string {
	switch status {
	case database.AlertStatusAcknowledged:
		return "alert_acknowledged"
	case database.AlertStatusResolved:
		return "alert_resolved"
	default:
		return "alert_triggered"
	}
}

// SendAlertNotification renders the notification for the alert's current
// state and attempts delivery on every resolved channel in parallel. Each
// channel gets an independent timeout. The call succeeds once dispatch was
// attempted everywhere; individual failures live in the returned report.
func (d *Dispatcher) SendAlertNotification(alert *database.Alert, monitor *database.Monitor, opts Options) (*DeliveryReport, error) {
	notificationType := notificationTypeFor(alert.Status)
	return d.send(alert, monitor, notificationType, opts)
}

func (d *Dispatcher) send(alert *database.Alert, monitor *database.Monitor, notificationType string, opts Options) (*DeliveryReport, error) {
	recipients, err := d.ResolveRecipients(alert.TenantID, opts.RecipientUserIDs, notificationType)
	if err != nil {
		return nil, err
	}

	rendered, err := d.catalog.Render(notificationType, map[string]string{
		"monitor_name": monitor.Name,
		"target":       monitor.Target,
		"summary":      alert.Summary,
		"severity":     string(alert.Severity),
		"actor":        opts.Actor,
	})
	if err != nil {
		return nil, err
	}

	report := d.deliver(recipients, rendered)

	d.audit(alert, notificationType, report)

	if opts.Escalate && !alert.Status.IsTerminal() {
		d.scheduleEscalation(alert.TenantID, alert.ID)
	}

	return report, nil
}

// deliver fans out to all recipients concurrently and gathers per-channel
// outcomes
func (d *Dispatcher) deliver(recipients []Recipient, rendered *Rendered) *DeliveryReport {
	report := &DeliveryReport{
		Success:   true,
		Attempted: len(recipients),
		Results:   make([]ChannelResult, len(recipients)),
	}

	var wg sync.WaitGroup
	for i, r := range recipients {
		wg.Add(1)
		go func(i int, r Recipient) {
			defer wg.Done()

			body, ok := rendered.Bodies[r.Channel]
			if !ok {
				body = rendered.Subject
			}

			ctx, cancel := context.WithTimeout(context.Background(), d.channelTimeout)
			defer cancel()

			started := d.now()
			err := d.channels[r.Channel].Send(ctx, r.Address, rendered.Subject, body)
			result := ChannelResult{
				Channel:  r.Channel,
				UserID:   r.UserID,
				Address:  r.Address,
				Success:  err == nil,
				Duration: d.now().Sub(started),
			}
			if err != nil {
				result.Error = err.Error()
			}
			report.Results[i] = result
		}(i, r)
	}
	wg.Wait()

	for _, result := range report.Results {
		if result.Success {
			report.Delivered++
		} else {
			report.Failed++
		}
	}
	return report
}

// audit records the dispatch attempt with its per-channel outcomes
func (d *Dispatcher) audit(alert *database.Alert, notificationType string, report *DeliveryReport) {
	outcomes := make([]interface{}, 0, len(report.Results))
	for _, r := range report.Results {
		outcomes = append(outcomes, map[string]interface{}{
			"channel": string(r.Channel),
			"user_id": r.UserID,
			"success": r.Success,
			"error":   r.Error,
		})
	}
	detail := database.JSONB{
		"notification_type": notificationType,
		"attempted":         report.Attempted,
		"delivered":         report.Delivered,
		"failed":            report.Failed,
		"outcomes":          outcomes,
	}
	if err := database.RecordAudit(d.db, alert.TenantID, database.AuditActionNotificationDispatch, "alert", alert.ID, detail); err != nil {
		log.Printf("Failed to record notification dispatch audit for alert %d: %v", alert.ID, err)
	}
}

// scheduleEscalation arms a one-shot timer that re-reads the alert after the
// escalation delay and notifies the next tier if it is still unacknowledged
func (d *Dispatcher) scheduleEscalation(tenantID, alertID uint) {
	time.AfterFunc(d.escalationDelay, func() {
		if err := d.escalate(tenantID, alertID); err != nil {
			log.Printf("Escalation for alert %d failed: %v", alertID, err)
		}
	})
}

func (d *Dispatcher) escalate(tenantID, alertID uint) error {
	alert, err := database.GetAlert(d.db, tenantID, alertID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil
		}
		return err
	}
	// Only an alert nobody has touched escalates
	if alert.Status != database.AlertStatusActive {
		return nil
	}

	monitor, err := database.GetMonitor(d.db, tenantID, alert.MonitorID)
	if err != nil {
		return err
	}

	tier, err := d.currentOnCall(tenantID, 1)
	if err != nil {
		return err
	}
	if len(tier) == 0 {
		log.Printf("No escalation tier available for alert %d", alertID)
		return nil
	}

	log.Printf("Escalating unacknowledged alert %d to %v", alertID, tier)
	_, err = d.send(alert, monitor, "alert_escalated", Options{RecipientUserIDs: tier})
	return err
}

// currentOnCall returns the user ids for the given escalation tier: tier 0 is
// the current on-call participant, tier 1 the next participant in rotation.
func (d *Dispatcher) currentOnCall(tenantID uint, tier int) ([]string, error) {
	var schedules []database.OnCallSchedule
	if err := d.db.Where("tenant_id = ?", tenantID).Order("id asc").Find(&schedules).Error; err != nil {
		return nil, err
	}
	if len(schedules) == 0 {
		return nil, nil
	}
	schedule := &schedules[0]

	assignments, err := database.ListAssignments(d.db, schedule.ID)
	if err != nil {
		return nil, err
	}

	now := d.now()
	if tier == 0 {
		slot, err := oncall.ComputeCurrent(schedule, assignments, now)
		if err != nil {
			return nil, err
		}
		return []string{slot.UserID}, nil
	}

	// Escalation tiers walk forward through the rotation, ignoring overrides
	rotation, err := oncall.ParseRotation(schedule)
	if err != nil {
		return nil, err
	}
	slots, err := oncall.Upcoming(schedule, nil, now, time.Duration(tier)*rotation.Period+time.Hour)
	if err != nil {
		return nil, err
	}
	if tier >= len(slots) {
		return nil, nil
	}
	return []string{slots[tier].UserID}, nil
}
