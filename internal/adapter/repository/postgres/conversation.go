package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/doorstephq/doorstep-cloud/internal/domain/conversation"
	"github.com/doorstephq/doorstep-cloud/pkg/snowflake"
)

// ThreadModel is the database DTO with Gorm tags.
type ThreadModel struct {
	ID      int64  `gorm:"primaryKey"`
	LeadID  int64  `gorm:"uniqueIndex:idx_threads_lead_channel"`
	Channel string `gorm:"type:varchar(20);uniqueIndex:idx_threads_lead_channel"`

	ParticipantAddress string `gorm:"type:varchar(255)"`

	LastInboundAt *time.Time
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

func (ThreadModel) TableName() string {
	return "conversation_threads"
}

type ThreadRepository struct {
	db   *gorm.DB
	node *snowflake.Node
}

func NewThreadRepository(db *gorm.DB, node *snowflake.Node) *ThreadRepository {
	return &ThreadRepository{db: db, node: node}
}

func (r *ThreadRepository) FindByLeadAndChannel(ctx context.Context, leadID int64, ch string) (*conversation.Thread, error) {
	var model ThreadModel
	err := r.db.WithContext(ctx).
		Where("lead_id = ? AND channel = ?", leadID, ch).
		First(&model).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return toThreadDomain(model), nil
}

func (r *ThreadRepository) Save(ctx context.Context, thread *conversation.Thread) error {
	model := toThreadModel(thread)
	if model.ID == 0 {
		model.ID = r.node.GenerateID()
	}
	if err := r.db.WithContext(ctx).Save(&model).Error; err != nil {
		return err
	}
	thread.ID = model.ID
	return nil
}

// MessageModel is the database DTO with Gorm tags.
type MessageModel struct {
	ID       int64 `gorm:"primaryKey"`
	ThreadID int64 `gorm:"index"`
	LeadID   int64 `gorm:"index:idx_messages_lead_direction"`

	Channel   string          `gorm:"type:varchar(20)"`
	Direction string          `gorm:"type:varchar(10);index:idx_messages_lead_direction"`
	Status    string          `gorm:"type:varchar(20)"`
	ToAddress string          `gorm:"type:varchar(255)"`
	Body      string          `gorm:"type:text"`
	Metadata  json.RawMessage `gorm:"type:jsonb"`

	SentAt    *time.Time
	CreatedAt time.Time `gorm:"index"`
	UpdatedAt time.Time
}

func (MessageModel) TableName() string {
	return "conversation_messages"
}

type MessageRepository struct {
	db   *gorm.DB
	node *snowflake.Node
}

func NewMessageRepository(db *gorm.DB, node *snowflake.Node) *MessageRepository {
	return &MessageRepository{db: db, node: node}
}

func (r *MessageRepository) FindByID(ctx context.Context, id int64) (*conversation.Message, error) {
	var model MessageModel
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&model).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return toMessageDomain(model), nil
}

func (r *MessageRepository) Save(ctx context.Context, msg *conversation.Message) error {
	model := toMessageModel(msg)
	if model.ID == 0 {
		model.ID = r.node.GenerateID()
	}
	if err := r.db.WithContext(ctx).Save(&model).Error; err != nil {
		return err
	}
	msg.ID = model.ID
	return nil
}

func (r *MessageRepository) CountInboundSince(ctx context.Context, leadID int64, since time.Time) (int, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&MessageModel{}).
		Where("lead_id = ? AND direction = ? AND created_at > ?",
			leadID, string(conversation.Inbound), since).
		Count(&count).Error
	return int(count), err
}

func (r *MessageRepository) CountManualOutboundSince(ctx context.Context, leadID int64, since time.Time) (int, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&MessageModel{}).
		Where("lead_id = ? AND direction = ? AND created_at > ?",
			leadID, string(conversation.Outbound), since).
		Where("metadata->>? IS DISTINCT FROM 'true'", conversation.MetaAutomated).
		Count(&count).Error
	return int(count), err
}

// AutomationModel is the database DTO with Gorm tags.
type AutomationModel struct {
	ID      int64  `gorm:"primaryKey"`
	LeadID  int64  `gorm:"uniqueIndex:idx_automation_lead_channel"`
	Channel string `gorm:"type:varchar(20);uniqueIndex:idx_automation_lead_channel"`

	Paused        bool
	DoNotContact  bool
	HumanTakeover bool

	FollowupState  string `gorm:"type:varchar(20)"`
	FollowupStep   int
	NextFollowupAt *time.Time

	CreatedAt time.Time
	UpdatedAt time.Time
}

func (AutomationModel) TableName() string {
	return "conversation_automation"
}

type AutomationRepository struct {
	db   *gorm.DB
	node *snowflake.Node
}

func NewAutomationRepository(db *gorm.DB, node *snowflake.Node) *AutomationRepository {
	return &AutomationRepository{db: db, node: node}
}

func (r *AutomationRepository) Find(ctx context.Context, leadID int64, ch string) (*conversation.AutomationState, error) {
	var model AutomationModel
	err := r.db.WithContext(ctx).
		Where("lead_id = ? AND channel = ?", leadID, ch).
		First(&model).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return toAutomationDomain(model), nil
}

func (r *AutomationRepository) Upsert(ctx context.Context, state *conversation.AutomationState) error {
	model := toAutomationModel(state)
	if model.ID == 0 {
		model.ID = r.node.GenerateID()
	}
	err := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "lead_id"}, {Name: "channel"}},
			DoUpdates: clause.AssignmentColumns([]string{
				"paused", "do_not_contact", "human_takeover",
				"followup_state", "followup_step", "next_followup_at", "updated_at",
			}),
		}).
		Create(&model).Error
	if err != nil {
		return err
	}
	state.ID = model.ID
	return nil
}

func (r *AutomationRepository) StopAllForLead(ctx context.Context, leadID int64) error {
	return r.db.WithContext(ctx).Model(&AutomationModel{}).
		Where("lead_id = ? AND followup_state = ?", leadID, string(conversation.FollowupRunning)).
		Updates(map[string]any{
			"followup_state":   string(conversation.FollowupStopped),
			"next_followup_at": nil,
			"updated_at":       time.Now().UTC(),
		}).Error
}

// Mappers

func toThreadDomain(m ThreadModel) *conversation.Thread {
	return &conversation.Thread{
		ID:                 m.ID,
		LeadID:             m.LeadID,
		Channel:            m.Channel,
		ParticipantAddress: m.ParticipantAddress,
		LastInboundAt:      m.LastInboundAt,
		CreatedAt:          m.CreatedAt,
		UpdatedAt:          m.UpdatedAt,
	}
}

func toThreadModel(d *conversation.Thread) ThreadModel {
	return ThreadModel{
		ID:                 d.ID,
		LeadID:             d.LeadID,
		Channel:            d.Channel,
		ParticipantAddress: d.ParticipantAddress,
		LastInboundAt:      d.LastInboundAt,
		CreatedAt:          d.CreatedAt,
		UpdatedAt:          d.UpdatedAt,
	}
}

func toMessageDomain(m MessageModel) *conversation.Message {
	return &conversation.Message{
		ID:        m.ID,
		ThreadID:  m.ThreadID,
		LeadID:    m.LeadID,
		Channel:   m.Channel,
		Direction: conversation.Direction(m.Direction),
		Status:    conversation.DeliveryStatus(m.Status),
		ToAddress: m.ToAddress,
		Body:      m.Body,
		Metadata:  metaFromJSON(m.Metadata),
		SentAt:    m.SentAt,
		CreatedAt: m.CreatedAt,
		UpdatedAt: m.UpdatedAt,
	}
}

func toMessageModel(d *conversation.Message) MessageModel {
	return MessageModel{
		ID:        d.ID,
		ThreadID:  d.ThreadID,
		LeadID:    d.LeadID,
		Channel:   d.Channel,
		Direction: string(d.Direction),
		Status:    string(d.Status),
		ToAddress: d.ToAddress,
		Body:      d.Body,
		Metadata:  metaToJSON(d.Metadata),
		SentAt:    d.SentAt,
		CreatedAt: d.CreatedAt,
		UpdatedAt: d.UpdatedAt,
	}
}

func toAutomationDomain(m AutomationModel) *conversation.AutomationState {
	return &conversation.AutomationState{
		ID:             m.ID,
		LeadID:         m.LeadID,
		Channel:        m.Channel,
		Paused:         m.Paused,
		DoNotContact:   m.DoNotContact,
		HumanTakeover:  m.HumanTakeover,
		FollowupState:  conversation.FollowupState(m.FollowupState),
		FollowupStep:   m.FollowupStep,
		NextFollowupAt: m.NextFollowupAt,
		CreatedAt:      m.CreatedAt,
		UpdatedAt:      m.UpdatedAt,
	}
}

func toAutomationModel(d *conversation.AutomationState) AutomationModel {
	return AutomationModel{
		ID:             d.ID,
		LeadID:         d.LeadID,
		Channel:        d.Channel,
		Paused:         d.Paused,
		DoNotContact:   d.DoNotContact,
		HumanTakeover:  d.HumanTakeover,
		FollowupState:  string(d.FollowupState),
		FollowupStep:   d.FollowupStep,
		NextFollowupAt: d.NextFollowupAt,
		CreatedAt:      d.CreatedAt,
		UpdatedAt:      d.UpdatedAt,
	}
}

func metaToJSON(meta map[string]string) json.RawMessage {
	if len(meta) == 0 {
		return json.RawMessage("{}")
	}
	b, err := json.Marshal(meta)
	if err != nil {
		return json.RawMessage("{}")
	}
	return b
}

func metaFromJSON(raw json.RawMessage) map[string]string {
	if len(raw) == 0 {
		return map[string]string{}
	}
	meta := map[string]string{}
	if err := json.Unmarshal(raw, &meta); err != nil {
		return map[string]string{}
	}
	return meta
}
