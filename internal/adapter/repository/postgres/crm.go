package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"gorm.io/gorm"

	"github.com/doorstephq/doorstep-cloud/internal/domain/crm"
	"github.com/doorstephq/doorstep-cloud/pkg/snowflake"
)

// LeadModel is the database DTO with Gorm tags.
type LeadModel struct {
	ID         int64  `gorm:"primaryKey"`
	FirstName  string `gorm:"type:varchar(255)"`
	LastName   string `gorm:"type:varchar(255)"`
	Email      string `gorm:"type:varchar(255);index"`
	Phone      string `gorm:"type:varchar(50);index"`
	Address    string `gorm:"type:text"`
	Source     string `gorm:"type:varchar(50)"`
	Stage      string `gorm:"type:varchar(50);index"`
	AssignedTo int64

	DoNotContact bool
	Booked       bool

	CreatedAt time.Time
	UpdatedAt time.Time
}

func (LeadModel) TableName() string {
	return "leads"
}

type LeadRepository struct {
	db   *gorm.DB
	node *snowflake.Node
}

func NewLeadRepository(db *gorm.DB, node *snowflake.Node) *LeadRepository {
	return &LeadRepository{db: db, node: node}
}

func (r *LeadRepository) FindByID(ctx context.Context, id int64) (*crm.Lead, error) {
	var model LeadModel
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&model).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return toLeadDomain(model), nil
}

func (r *LeadRepository) Save(ctx context.Context, lead *crm.Lead) error {
	model := toLeadModel(lead)
	if model.ID == 0 {
		model.ID = r.node.GenerateID()
	}
	if err := r.db.WithContext(ctx).Save(&model).Error; err != nil {
		return err
	}
	lead.ID = model.ID
	return nil
}

func (r *LeadRepository) UpdateStage(ctx context.Context, id int64, stage crm.Stage) error {
	return r.db.WithContext(ctx).Model(&LeadModel{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"stage":      string(stage),
			"updated_at": time.Now().UTC(),
		}).Error
}

// AppointmentModel is the database DTO with Gorm tags.
type AppointmentModel struct {
	ID     int64 `gorm:"primaryKey"`
	LeadID int64 `gorm:"index"`

	Status   string          `gorm:"type:varchar(50);index"`
	Services json.RawMessage `gorm:"type:jsonb"`
	Notes    string          `gorm:"type:text"`

	StartAt time.Time `gorm:"index"`
	EndAt   time.Time

	RescheduleToken string `gorm:"type:varchar(64);uniqueIndex"`
	CalendarEventID string `gorm:"type:varchar(255)"`
	PropertyAddress string `gorm:"type:text"`

	CreatedAt time.Time
	UpdatedAt time.Time
}

func (AppointmentModel) TableName() string {
	return "appointments"
}

type AppointmentRepository struct {
	db   *gorm.DB
	node *snowflake.Node
}

func NewAppointmentRepository(db *gorm.DB, node *snowflake.Node) *AppointmentRepository {
	return &AppointmentRepository{db: db, node: node}
}

func (r *AppointmentRepository) FindByID(ctx context.Context, id int64) (*crm.Appointment, error) {
	var model AppointmentModel
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&model).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return toAppointmentDomain(model), nil
}

func (r *AppointmentRepository) Save(ctx context.Context, appt *crm.Appointment) error {
	model := toAppointmentModel(appt)
	if model.ID == 0 {
		model.ID = r.node.GenerateID()
	}
	if err := r.db.WithContext(ctx).Save(&model).Error; err != nil {
		return err
	}
	appt.ID = model.ID
	return nil
}

func (r *AppointmentRepository) SetRescheduleToken(ctx context.Context, id int64, token string) error {
	// The empty-token guard makes concurrent backfills converge on the
	// first writer's token.
	return r.db.WithContext(ctx).Model(&AppointmentModel{}).
		Where("id = ? AND (reschedule_token IS NULL OR reschedule_token = '')", id).
		Updates(map[string]any{
			"reschedule_token": token,
			"updated_at":       time.Now().UTC(),
		}).Error
}

// QuoteModel is the database DTO with Gorm tags.
type QuoteModel struct {
	ID     int64 `gorm:"primaryKey"`
	LeadID int64 `gorm:"index"`

	Status      string          `gorm:"type:varchar(50)"`
	TotalCents  int64
	Services    json.RawMessage `gorm:"type:jsonb"`
	ValidUntil  *time.Time
	Description string          `gorm:"type:text"`

	SentAt    *time.Time
	CreatedAt time.Time
	UpdatedAt time.Time
}

func (QuoteModel) TableName() string {
	return "quotes"
}

type QuoteRepository struct {
	db   *gorm.DB
	node *snowflake.Node
}

func NewQuoteRepository(db *gorm.DB, node *snowflake.Node) *QuoteRepository {
	return &QuoteRepository{db: db, node: node}
}

func (r *QuoteRepository) FindByID(ctx context.Context, id int64) (*crm.Quote, error) {
	var model QuoteModel
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&model).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return toQuoteDomain(model), nil
}

func (r *QuoteRepository) Save(ctx context.Context, quote *crm.Quote) error {
	model := toQuoteModel(quote)
	if model.ID == 0 {
		model.ID = r.node.GenerateID()
	}
	if err := r.db.WithContext(ctx).Save(&model).Error; err != nil {
		return err
	}
	quote.ID = model.ID
	return nil
}

// TaskModel is the database DTO with Gorm tags.
type TaskModel struct {
	ID     int64 `gorm:"primaryKey"`
	LeadID int64 `gorm:"index:idx_tasks_lead_kind"`

	Kind       string    `gorm:"type:varchar(50);index:idx_tasks_lead_kind"`
	Status     string    `gorm:"type:varchar(50);index"`
	Title      string    `gorm:"type:varchar(255)"`
	Notes      string    `gorm:"type:text"`
	DueAt      time.Time `gorm:"index"`
	AssignedTo int64

	CompletedAt *time.Time
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

func (TaskModel) TableName() string {
	return "crm_tasks"
}

type TaskRepository struct {
	db   *gorm.DB
	node *snowflake.Node
}

func NewTaskRepository(db *gorm.DB, node *snowflake.Node) *TaskRepository {
	return &TaskRepository{db: db, node: node}
}

func (r *TaskRepository) FindByID(ctx context.Context, id int64) (*crm.CrmTask, error) {
	var model TaskModel
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&model).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return toTaskDomain(model), nil
}

func (r *TaskRepository) Save(ctx context.Context, task *crm.CrmTask) error {
	model := toTaskModel(task)
	if model.ID == 0 {
		model.ID = r.node.GenerateID()
	}
	if err := r.db.WithContext(ctx).Save(&model).Error; err != nil {
		return err
	}
	task.ID = model.ID
	return nil
}

func (r *TaskRepository) FindOpenByLeadAndKind(ctx context.Context, leadID int64, kind crm.TaskKind) (*crm.CrmTask, error) {
	var model TaskModel
	err := r.db.WithContext(ctx).
		Where("lead_id = ? AND kind = ? AND status = ?", leadID, string(kind), string(crm.TaskOpen)).
		Order("created_at desc").
		First(&model).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return toTaskDomain(model), nil
}

func (r *TaskRepository) ListDueBefore(ctx context.Context, t time.Time, limit int) ([]*crm.CrmTask, error) {
	query := r.db.WithContext(ctx).
		Where("status = ? AND due_at < ?", string(crm.TaskOpen), t).
		Order("due_at asc")
	if limit > 0 {
		query = query.Limit(limit)
	}

	var models []TaskModel
	if err := query.Find(&models).Error; err != nil {
		return nil, err
	}

	items := make([]*crm.CrmTask, 0, len(models))
	for _, model := range models {
		items = append(items, toTaskDomain(model))
	}
	return items, nil
}

// Mappers

func toLeadDomain(m LeadModel) *crm.Lead {
	return &crm.Lead{
		ID:           m.ID,
		FirstName:    m.FirstName,
		LastName:     m.LastName,
		Email:        m.Email,
		Phone:        m.Phone,
		Address:      m.Address,
		Source:       crm.LeadSource(m.Source),
		Stage:        crm.Stage(m.Stage),
		AssignedTo:   m.AssignedTo,
		DoNotContact: m.DoNotContact,
		Booked:       m.Booked,
		CreatedAt:    m.CreatedAt,
		UpdatedAt:    m.UpdatedAt,
	}
}

func toLeadModel(d *crm.Lead) LeadModel {
	return LeadModel{
		ID:           d.ID,
		FirstName:    d.FirstName,
		LastName:     d.LastName,
		Email:        d.Email,
		Phone:        d.Phone,
		Address:      d.Address,
		Source:       string(d.Source),
		Stage:        string(d.Stage),
		AssignedTo:   d.AssignedTo,
		DoNotContact: d.DoNotContact,
		Booked:       d.Booked,
		CreatedAt:    d.CreatedAt,
		UpdatedAt:    d.UpdatedAt,
	}
}

func toAppointmentDomain(m AppointmentModel) *crm.Appointment {
	return &crm.Appointment{
		ID:              m.ID,
		LeadID:          m.LeadID,
		Status:          crm.AppointmentStatus(m.Status),
		Services:        stringsFromJSON(m.Services),
		Notes:           m.Notes,
		StartAt:         m.StartAt,
		EndAt:           m.EndAt,
		RescheduleToken: m.RescheduleToken,
		CalendarEventID: m.CalendarEventID,
		PropertyAddress: m.PropertyAddress,
		CreatedAt:       m.CreatedAt,
		UpdatedAt:       m.UpdatedAt,
	}
}

func toAppointmentModel(d *crm.Appointment) AppointmentModel {
	return AppointmentModel{
		ID:              d.ID,
		LeadID:          d.LeadID,
		Status:          string(d.Status),
		Services:        stringsToJSON(d.Services),
		Notes:           d.Notes,
		StartAt:         d.StartAt,
		EndAt:           d.EndAt,
		RescheduleToken: d.RescheduleToken,
		CalendarEventID: d.CalendarEventID,
		PropertyAddress: d.PropertyAddress,
		CreatedAt:       d.CreatedAt,
		UpdatedAt:       d.UpdatedAt,
	}
}

func toQuoteDomain(m QuoteModel) *crm.Quote {
	return &crm.Quote{
		ID:          m.ID,
		LeadID:      m.LeadID,
		Status:      crm.QuoteStatus(m.Status),
		TotalCents:  m.TotalCents,
		Services:    stringsFromJSON(m.Services),
		ValidUntil:  m.ValidUntil,
		Description: m.Description,
		SentAt:      m.SentAt,
		CreatedAt:   m.CreatedAt,
		UpdatedAt:   m.UpdatedAt,
	}
}

func toQuoteModel(d *crm.Quote) QuoteModel {
	return QuoteModel{
		ID:          d.ID,
		LeadID:      d.LeadID,
		Status:      string(d.Status),
		TotalCents:  d.TotalCents,
		Services:    stringsToJSON(d.Services),
		ValidUntil:  d.ValidUntil,
		Description: d.Description,
		SentAt:      d.SentAt,
		CreatedAt:   d.CreatedAt,
		UpdatedAt:   d.UpdatedAt,
	}
}

func toTaskDomain(m TaskModel) *crm.CrmTask {
	return &crm.CrmTask{
		ID:          m.ID,
		LeadID:      m.LeadID,
		Kind:        crm.TaskKind(m.Kind),
		Status:      crm.TaskStatus(m.Status),
		Title:       m.Title,
		Notes:       m.Notes,
		DueAt:       m.DueAt,
		AssignedTo:  m.AssignedTo,
		CompletedAt: m.CompletedAt,
		CreatedAt:   m.CreatedAt,
		UpdatedAt:   m.UpdatedAt,
	}
}

func toTaskModel(d *crm.CrmTask) TaskModel {
	return TaskModel{
		ID:          d.ID,
		LeadID:      d.LeadID,
		Kind:        string(d.Kind),
		Status:      string(d.Status),
		Title:       d.Title,
		Notes:       d.Notes,
		DueAt:       d.DueAt,
		AssignedTo:  d.AssignedTo,
		CompletedAt: d.CompletedAt,
		CreatedAt:   d.CreatedAt,
		UpdatedAt:   d.UpdatedAt,
	}
}

func stringsToJSON(values []string) json.RawMessage {
	if len(values) == 0 {
		return json.RawMessage("[]")
	}
	b, err := json.Marshal(values)
	if err != nil {
		return json.RawMessage("[]")
	}
	return b
}

func stringsFromJSON(raw json.RawMessage) []string {
	if len(raw) == 0 {
		return nil
	}
	var values []string
	if err := json.Unmarshal(raw, &values); err != nil {
		return nil
	}
	return values
}
