package store

import "context"

// TemplateStore persists plan templates.
type TemplateStore interface {
	// SaveTemplate stores tpl as the next version of its name and sets
	// tpl.Version.
	SaveTemplate(ctx context.Context, tpl *PlanTemplate) error
	// GetTemplate returns a version; version 0 means the latest.
	GetTemplate(ctx context.Context, name string, version int) (*PlanTemplate, error)
	ListTemplates(ctx context.Context, filter TemplateFilter) ([]*PlanTemplate, error)
	DeleteTemplate(ctx context.Context, name string) error
}

// ThresholdStore persists confidence threshold overrides.
type ThresholdStore interface {
	SetThreshold(ctx context.Context, target string, threshold float64) error
	DeleteThreshold(ctx context.Context, target string) error
	ListThresholds(ctx context.Context) ([]*ThresholdOverride, error)
}

// ScheduleStore persists cron schedules.
type ScheduleStore interface {
	CreateSchedule(ctx context.Context, sch *Schedule) error
	GetSchedule(ctx context.Context, id string) (*Schedule, error)
	UpdateSchedule(ctx context.Context, id string, update ScheduleUpdate) error
	ListSchedules(ctx context.Context, filter ScheduleFilter) ([]*Schedule, error)
	DeleteSchedule(ctx context.Context, id string) error
}

// Store is the full persistence layer. No run history is kept.
type Store interface {
	TemplateStore
	ThresholdStore
	ScheduleStore

	Migrate(ctx context.Context) error
	Close() error
}
