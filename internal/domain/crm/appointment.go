package crm

import "time"

// AppointmentStatus represents the lifecycle state of an appointment.
type AppointmentStatus string

const (
	AppointmentRequested   AppointmentStatus = "requested"
	AppointmentConfirmed   AppointmentStatus = "confirmed"
	AppointmentRescheduled AppointmentStatus = "rescheduled"
	AppointmentCompleted   AppointmentStatus = "completed"
	AppointmentCanceled    AppointmentStatus = "canceled"
	AppointmentNoShow      AppointmentStatus = "no_show"
)

// Appointment is an on-site estimate or service visit.
type Appointment struct {
	ID     int64 `json:"id,string"`
	LeadID int64 `json:"lead_id,string"`

	Status   AppointmentStatus `json:"status"`
	Services []string          `json:"services"`
	Notes    string            `json:"notes"`

	StartAt time.Time `json:"start_at"`
	EndAt   time.Time `json:"end_at"`

	// RescheduleToken is backfilled lazily by the notification builder
	// the first time a customer-facing payload needs it.
	RescheduleToken string `json:"-"`
	CalendarEventID string `json:"-"`
	PropertyAddress string `json:"property_address"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Active reports whether the appointment is still expected to happen.
func (a *Appointment) Active() bool {
	switch a.Status {
	case AppointmentRequested, AppointmentConfirmed, AppointmentRescheduled:
		return true
	default:
		return false
	}
}

// StageFor maps an appointment status to the pipeline stage it implies.
// Unmapped statuses return an empty stage (no transition).
func StageFor(status AppointmentStatus) Stage {
	switch status {
	case AppointmentRequested, AppointmentConfirmed, AppointmentRescheduled:
		return StageQualified
	case AppointmentCompleted:
		return StageWon
	case AppointmentCanceled, AppointmentNoShow:
		return StageLost
	default:
		return ""
	}
}
