// Package status derives a tenant-wide operational summary from monitor and
// incident state. It is pure and read-only; callers provide a consistent
// snapshot of the underlying records.
package status

import (
	"time"

	"github.com/beaconhq/beacon/internal/database"
)

// OverallStatus is the tenant-wide health level
type OverallStatus string

const (
	StatusOperational   OverallStatus = "operational"
	StatusDegraded      OverallStatus = "degraded"
	StatusPartialOutage OverallStatus = "partial_outage"
	StatusMajorOutage   OverallStatus = "major_outage"
)

// Summary is the derived tenant health snapshot
type Summary struct {
	Overall          OverallStatus `json:"overall"`
	UnderMaintenance bool          `json:"under_maintenance"`
	MonitorsTotal    int           `json:"monitors_total"`
	MonitorsDown     int           `json:"monitors_down"`
	MonitorsDegraded int           `json:"monitors_degraded"`
	GeneratedAt      time.Time     `json:"generated_at"`
}

// PublicIncident is the externally visible projection of an incident
type PublicIncident struct {
	UUID       string                  `json:"uuid"`
	Summary    string                  `json:"summary"`
	Severity   database.AlertSeverity  `json:"severity"`
	Status     database.IncidentStatus `json:"status"`
	ResolvedAt *time.Time              `json:"resolved_at,omitempty"`
	CreatedAt  time.Time               `json:"created_at"`
	UpdatedAt  time.Time               `json:"updated_at"`
}

// Aggregate derives the overall status from a monitor snapshot. Precedence is
// major_outage > partial_outage > degraded > operational: all monitors down
// means a major outage, some down a partial outage, none down but at least
// one degraded means degraded. Monitors in maintenance are reported through
// the independent UnderMaintenance indicator and excluded from the outage
// arithmetic.
func Aggregate(monitors []database.Monitor, now time.Time) Summary {
	summary := Summary{
		Overall:       StatusOperational,
		MonitorsTotal: len(monitors),
		GeneratedAt:   now,
	}

	considered := 0
	for _, m := range monitors {
		switch m.Status {
		case database.MonitorStatusMaintenance:
			summary.UnderMaintenance = true
			continue
		case database.MonitorStatusDown:
			summary.MonitorsDown++
		case database.MonitorStatusDegraded:
			summary.MonitorsDegraded++
		}
		considered++
	}

	switch {
	case considered > 0 && summary.MonitorsDown == considered:
		summary.Overall = StatusMajorOutage
	case summary.MonitorsDown > 0:
		summary.Overall = StatusPartialOutage
	case summary.MonitorsDegraded > 0:
		summary.Overall = StatusDegraded
	}

	return summary
}

// PublicFeed projects only public incidents for the external status surface.
// Internal incidents stay invisible.
func PublicFeed(incidents []database.Incident) []PublicIncident {
	feed := make([]PublicIncident, 0)
	for _, inc := range incidents {
		if !inc.IsPublic {
			continue
		}
		feed = append(feed, PublicIncident{
			UUID:       inc.UUID,
			Summary:    inc.Summary,
			Severity:   inc.Severity,
			Status:     inc.Status,
			ResolvedAt: inc.ResolvedAt,
			CreatedAt:  inc.CreatedAt,
			UpdatedAt:  inc.UpdatedAt,
		})
	}
	return feed
}
