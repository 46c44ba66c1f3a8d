package conversation

import "time"

// FollowupState is the drip-sequence cursor state for a lead+channel pair.
type FollowupState string

const (
	FollowupRunning   FollowupState = "running"
	FollowupStopped   FollowupState = "stopped"
	FollowupCompleted FollowupState = "completed"
)

// AutomationState is the single source of truth for whether automated
// outreach may continue on a channel for a lead.
type AutomationState struct {
	ID      int64  `json:"id,string"`
	LeadID  int64  `json:"lead_id,string"`
	Channel string `json:"channel"`

	Paused        bool `json:"paused"`
	DoNotContact  bool `json:"do_not_contact"`
	HumanTakeover bool `json:"human_takeover"`

	FollowupState  FollowupState `json:"followup_state"`
	FollowupStep   int           `json:"followup_step"`
	NextFollowupAt *time.Time    `json:"next_followup_at,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Eligible reports whether automated outreach may proceed on this channel.
func (s *AutomationState) Eligible() bool {
	return !s.Paused && !s.DoNotContact && !s.HumanTakeover
}

// Advance moves the cursor to the next step, or marks the sequence
// completed when no step remains.
func (s *AutomationState) Advance(totalSteps int, nextAt *time.Time) {
	s.FollowupStep++
	s.UpdatedAt = time.Now().UTC()
	if s.FollowupStep >= totalSteps {
		s.FollowupState = FollowupCompleted
		s.NextFollowupAt = nil
		return
	}
	s.NextFollowupAt = nextAt
}

// Stop halts the sequence without completing it.
func (s *AutomationState) Stop() {
	s.FollowupState = FollowupStopped
	s.NextFollowupAt = nil
	s.UpdatedAt = time.Now().UTC()
}
