package crm

import (
	"context"
	"time"
)

// LeadRepository persists Lead entities.
type LeadRepository interface {
	// FindByID retrieves a lead, returning (nil, nil) when absent.
	FindByID(ctx context.Context, id int64) (*Lead, error)

	// Save persists a lead (create or update).
	Save(ctx context.Context, lead *Lead) error

	// UpdateStage updates only the pipeline stage.
	UpdateStage(ctx context.Context, id int64, stage Stage) error
}

// AppointmentRepository persists Appointment entities.
type AppointmentRepository interface {
	FindByID(ctx context.Context, id int64) (*Appointment, error)

	Save(ctx context.Context, appt *Appointment) error

	// SetRescheduleToken backfills the token only when still empty, so a
	// concurrent backfill cannot overwrite an already-issued token.
	SetRescheduleToken(ctx context.Context, id int64, token string) error
}

// QuoteRepository persists Quote entities.
type QuoteRepository interface {
	FindByID(ctx context.Context, id int64) (*Quote, error)

	Save(ctx context.Context, quote *Quote) error
}

// TaskRepository persists CrmTask entities.
type TaskRepository interface {
	FindByID(ctx context.Context, id int64) (*CrmTask, error)

	Save(ctx context.Context, task *CrmTask) error

	// FindOpenByLeadAndKind retrieves the newest open task of a kind for a
	// lead, returning (nil, nil) when absent.
	FindOpenByLeadAndKind(ctx context.Context, leadID int64, kind TaskKind) (*CrmTask, error)

	// ListDueBefore lists open tasks whose due time has passed.
	ListDueBefore(ctx context.Context, t time.Time, limit int) ([]*CrmTask, error)
}
