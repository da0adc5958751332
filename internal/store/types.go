package store

import (
	"time"

	"github.com/rendis/agentwave/pkg/schema"
)

// PlanTemplate is a stored plan document. Versions start at 1 and grow by
// one on every save under the same name.
type PlanTemplate struct {
	Name        string                `json:"name"`
	Version     int                   `json:"version"`
	Description string                `json:"description,omitempty"`
	Definition  schema.PlanDefinition `json:"definition"`
	CreatedAt   time.Time             `json:"created_at"`
}

// ThresholdOverride pins the confidence threshold of a node or agent.
type ThresholdOverride struct {
	Target    string    `json:"target"` // node ID or agent ID
	Threshold float64   `json:"threshold"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Schedule runs a template on a cron expression.
type Schedule struct {
	ID              string         `json:"id"`
	TemplateName    string         `json:"template_name"`
	TemplateVersion int            `json:"template_version,omitempty"` // 0 = latest
	CronExpression  string         `json:"cron_expression"`
	Session         map[string]any `json:"session,omitempty"` // cognitive context variables
	Enabled         bool           `json:"enabled"`
	LastRunAt       *time.Time     `json:"last_run_at,omitempty"`
	NextRunAt       *time.Time     `json:"next_run_at,omitempty"`
	LastRunStatus   string         `json:"last_run_status,omitempty"`
	CreatedAt       time.Time      `json:"created_at"`
}

// TemplateFilter selects templates. Only the latest version of each name is
// returned unless AllVersions is set.
type TemplateFilter struct {
	Name        string `json:"name,omitempty"`
	AllVersions bool   `json:"all_versions,omitempty"`
	Limit       int    `json:"limit,omitempty"`
}

// ScheduleUpdate lists the mutable fields of a schedule.
type ScheduleUpdate struct {
	Enabled       *bool      `json:"enabled,omitempty"`
	LastRunAt     *time.Time `json:"last_run_at,omitempty"`
	NextRunAt     *time.Time `json:"next_run_at,omitempty"`
	LastRunStatus string     `json:"last_run_status,omitempty"`
}

// ScheduleFilter selects schedules.
type ScheduleFilter struct {
	Enabled *bool `json:"enabled,omitempty"`
	Limit   int   `json:"limit,omitempty"`
}
