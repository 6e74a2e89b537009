package notify

import (
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/beaconhq/beacon/internal/database"
)

// Template holds a subject plus per-channel body templates. Placeholders use
// {{name}} syntax and are substituted from the triggering entity's fields.
type Template struct {
	Subject string                                  `yaml:"subject"`
	Bodies  map[database.NotificationChannel]string `yaml:"bodies"`
}

// Catalog is the set of notification templates keyed by notification type
type Catalog struct {
	templates map[string]Template
}

// Rendered is a fully substituted notification ready for delivery
type Rendered struct {
	Subject string
	Bodies  map[database.NotificationChannel]string
}

// defaultCatalogYAML ships the built-in templates; operators can replace the
// catalog with their own YAML file via config.
const defaultCatalogYAML = `
alert_triggered:
  subject: "[{{severity}}] {{monitor_name}}: {{summary}}"
  bodies:
    email: |
      Alert triggered for {{monitor_name}}.

      Severity: {{severity}}
      Summary:  {{summary}}
      Target:   {{target}}
    sms: "ALERT {{severity}} {{monitor_name}}: {{summary}}"
    push: "{{monitor_name}} alert ({{severity}}): {{summary}}"
    chat: ":red_circle: *{{monitor_name}}* alert ({{severity}})\n{{summary}}"
alert_acknowledged:
  subject: "Acknowledged: {{monitor_name}}: {{summary}}"
  bodies:
    email: |
      Alert for {{monitor_name}} was acknowledged by {{actor}}.

      Summary: {{summary}}
    sms: "ACK {{monitor_name}} by {{actor}}"
    push: "{{monitor_name}} alert acknowledged by {{actor}}"
    chat: ":large_yellow_circle: *{{monitor_name}}* alert acknowledged by {{actor}}"
alert_resolved:
  subject: "Resolved: {{monitor_name}}: {{summary}}"
  bodies:
    email: |
      Alert for {{monitor_name}} was resolved.

      Summary: {{summary}}
    sms: "RESOLVED {{monitor_name}}"
    push: "{{monitor_name}} alert resolved"
    chat: ":large_green_circle: *{{monitor_name}}* alert resolved"
alert_escalated:
  subject: "[ESCALATED {{severity}}] {{monitor_name}}: {{summary}}"
  bodies:
    email: |
      Unacknowledged alert for {{monitor_name}} has been escalated to you.

      Severity: {{severity}}
      Summary:  {{summary}}
    sms: "ESCALATED {{severity}} {{monitor_name}}: {{summary}}"
    push: "Escalated: {{monitor_name}} ({{severity}})"
    chat: ":rotating_light: *{{monitor_name}}* alert escalated ({{severity}})\n{{summary}}"
`

// DefaultCatalog loads the built-in template catalog
func DefaultCatalog() *Catalog {
	catalog, err := LoadCatalog([]byte(defaultCatalogYAML))
	if err != nil {
		// The built-in YAML is a constant; failing to parse it is a bug
		panic(fmt.Sprintf("invalid built-in template catalog: %v", err))
	}
	return catalog
}

// LoadCatalog parses a YAML template catalog
func LoadCatalog(data []byte) (*Catalog, error) {
	templates := make(map[string]Template)
	if err := yaml.Unmarshal(data, &templates); err != nil {
		return nil, fmt.Errorf("failed to parse template catalog: %w", err)
	}
	if len(templates) == 0 {
		return nil, fmt.Errorf("template catalog is empty")
	}
	return &Catalog{templates: templates}, nil
}

// Render selects the template for a notification type and substitutes the
// given fields into the subject and every channel body
func (c *Catalog) Render(notificationType string, fields map[string]string) (*Rendered, error) {
	tmpl, ok := c.templates[notificationType]
	if !ok {
		return nil, fmt.Errorf("no template for notification type %q", notificationType)
	}

	pairs := make([]string, 0, len(fields)*2)
	for k, v := range fields {
		pairs = append(pairs, "{{"+k+"}}", v)
	}
	replacer := strings.NewReplacer(pairs...)

	rendered := &Rendered{
		Subject: replacer.Replace(tmpl.Subject),
		Bodies:  make(map[database.NotificationChannel]string, len(tmpl.Bodies)),
	}
	for channel, body := range tmpl.Bodies {
		rendered.Bodies[channel] = replacer.Replace(body)
	}
	return rendered, nil
}
