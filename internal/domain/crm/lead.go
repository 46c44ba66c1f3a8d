package crm

import (
	"errors"
	"time"
)

// Stage represents the pipeline position of a lead.
type Stage string

const (
	StageNew       Stage = "new"
	StageContacted Stage = "contacted"
	StageQualified Stage = "qualified"
	StageQuoted    Stage = "quoted"
	StageWon       Stage = "won"
	StageLost      Stage = "lost"
)

// Valid reports whether the stage is a known pipeline stage.
func (s Stage) Valid() bool {
	switch s {
	case StageNew, StageContacted, StageQualified, StageQuoted, StageWon, StageLost:
		return true
	default:
		return false
	}
}

// LeadSource identifies where a lead came from.
type LeadSource string

const (
	SourceWebForm  LeadSource = "web_form"
	SourceInbound  LeadSource = "inbound_message"
	SourceReferral LeadSource = "referral"
	SourceAds      LeadSource = "ads"
)

var (
	ErrLeadNotFound        = errors.New("lead not found")
	ErrAppointmentNotFound = errors.New("appointment not found")
	ErrQuoteNotFound       = errors.New("quote not found")
	ErrTaskNotFound        = errors.New("task not found")
)

// Lead is the core contact entity. In this product a lead and a contact
// are the same record; the pipeline stage lives here.
type Lead struct {
	ID         int64      `json:"id,string"`
	FirstName  string     `json:"first_name"`
	LastName   string     `json:"last_name"`
	Email      string     `json:"email"`
	Phone      string     `json:"phone"`
	Address    string     `json:"address"`
	Source     LeadSource `json:"source"`
	Stage      Stage      `json:"stage"`
	AssignedTo int64      `json:"assigned_to,string"`

	DoNotContact bool `json:"do_not_contact"`
	Booked       bool `json:"booked"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// NewLead creates a lead at the top of the pipeline.
func NewLead(firstName, lastName, email, phone string, source LeadSource) *Lead {
	now := time.Now().UTC()
	return &Lead{
		FirstName: firstName,
		LastName:  lastName,
		Email:     email,
		Phone:     phone,
		Source:    source,
		Stage:     StageNew,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// DisplayName returns the lead's name, falling back to a generic placeholder.
func (l *Lead) DisplayName() string {
	switch {
	case l.FirstName != "" && l.LastName != "":
		return l.FirstName + " " + l.LastName
	case l.FirstName != "":
		return l.FirstName
	case l.LastName != "":
		return l.LastName
	default:
		return "there"
	}
}

// ContactAddress returns the channel-appropriate address for the lead.
func (l *Lead) ContactAddress(ch string) string {
	switch ch {
	case "email":
		return l.Email
	case "sms", "voice":
		return l.Phone
	default:
		return ""
	}
}

// Converted reports whether the lead has left the active funnel.
func (l *Lead) Converted() bool {
	return l.Booked || l.Stage == StageWon || l.Stage == StageLost
}
