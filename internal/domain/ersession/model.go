package ersession

import (
	"errors"
	"time"
)

var ErrNotFound = errors.New("er session not found")

// StepStatus is how a patient sees one step of their visit.
type StepStatus string

const (
	StepWaiting    StepStatus = "waiting"
	StepUpcoming   StepStatus = "upcoming"
	StepInProgress StepStatus = "in-progress"
	StepCompleted  StepStatus = "completed"
)

type Step struct {
	ID          string     `json:"id"`
	Title       string     `json:"title"`
	Description string     `json:"description"`
	Status      StepStatus `json:"status"`
}

// defaultSteps is the visit as shown in the patient app, before check-in.
func defaultSteps() []Step {
	return []Step{
		{ID: "check-in", Title: "Hospital Check-in", Description: "Scan QR code at reception", Status: StepWaiting},
		{ID: "triage", Title: "Triage Assessment", Description: "Initial evaluation by nurse", Status: StepUpcoming},
		{ID: "waiting-room", Title: "Waiting Room", Description: "Wait for doctor assignment", Status: StepUpcoming},
		{ID: "examination", Title: "Medical Examination", Description: "Doctor consultation and tests", Status: StepUpcoming},
		{ID: "treatment", Title: "Treatment/Procedure", Description: "Receive necessary medical care", Status: StepUpcoming},
		{ID: "discharge", Title: "Discharge & Follow-up", Description: "Review results and next steps", Status: StepUpcoming},
	}
}

// Session is a patient's progress through the emergency department.
type Session struct {
	ID           string    `json:"id"`
	Steps        []Step    `json:"steps"`
	CurrentIndex int       `json:"current_index"`
	StartedAt    time.Time `json:"started_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// Current returns the step the patient is on.
func (s *Session) Current() Step {
	return s.Steps[s.CurrentIndex]
}

// Done reports whether the patient has reached the last step.
func (s *Session) Done() bool {
	return s.CurrentIndex >= len(s.Steps)-1
}

// advance completes the current step and starts the next one. It returns
// false on the last step.
func (s *Session) advance() bool {
	if s.Done() {
		return false
	}
	s.Steps[s.CurrentIndex].Status = StepCompleted
	s.CurrentIndex++
	s.Steps[s.CurrentIndex].Status = StepInProgress
	return true
}
