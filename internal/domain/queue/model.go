package queue

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

var (
	ErrInvalidStatus = errors.New("invalid visit status")
	ErrFinalStatus   = errors.New("visit is already complete")
	ErrInvalidVisit  = errors.New("invalid visit")
)

// Status is a step of the emergency department flow.
type Status string

const (
	StatusArrived             Status = "Arrived"
	StatusRegistration        Status = "Registration Kiosk"
	StatusWaitingTriage       Status = "Waiting Triage"
	StatusNurseTriage         Status = "Nurse Triage"
	StatusWaitingRoom         Status = "Waiting Room"
	StatusAwaitingBed         Status = "Awaiting Bed"
	StatusBedAssigned         Status = "Bed Assigned"
	StatusRoomAssigned        Status = "Room Assigned"
	StatusWaitingDoctor       Status = "Waiting Doctor"
	StatusDoctorConsult       Status = "Doctor Consult"
	StatusAwaitingTests       Status = "Awaiting Tests"
	StatusTestInProgress      Status = "Test In Progress"
	StatusAwaitingResults     Status = "Awaiting Results"
	StatusDischargeProcedures Status = "Discharge Procedures"
	StatusComplete            Status = "Complete"
)

// flow is the order a visit normally moves through.
var flow = []Status{
	StatusArrived,
	StatusRegistration,
	StatusWaitingTriage,
	StatusNurseTriage,
	StatusWaitingRoom,
	StatusAwaitingBed,
	StatusBedAssigned,
	StatusRoomAssigned,
	StatusWaitingDoctor,
	StatusDoctorConsult,
	StatusAwaitingTests,
	StatusTestInProgress,
	StatusAwaitingResults,
	StatusDischargeProcedures,
	StatusComplete,
}

// Statuses returns the flow in order.
func Statuses() []Status {
	out := make([]Status, len(flow))
	copy(out, flow)
	return out
}

// Index is the position of s in the flow, or -1.
func (s Status) Index() int {
	for i, f := range flow {
		if f == s {
			return i
		}
	}
	return -1
}

func (s Status) Valid() bool { return s.Index() >= 0 }

func (s Status) Final() bool { return s == StatusComplete }

// Next returns the following status; ok is false on the last one.
func (s Status) Next() (Status, bool) {
	i := s.Index()
	if i < 0 || i == len(flow)-1 {
		return "", false
	}
	return flow[i+1], true
}

func (s Status) Prev() (Status, bool) {
	i := s.Index()
	if i <= 0 {
		return "", false
	}
	return flow[i-1], true
}

// Progress is how far through the flow s is, 0 to 100.
func (s Status) Progress() int {
	i := s.Index()
	if i < 0 {
		return 0
	}
	return i * 100 / (len(flow) - 1)
}

// ParseStatus matches a status label case-insensitively, also accepting
// underscores for spaces ("waiting_room").
func ParseStatus(s string) (Status, error) {
	norm := strings.ToLower(strings.ReplaceAll(strings.TrimSpace(s), "_", " "))
	for _, f := range flow {
		if strings.ToLower(string(f)) == norm {
			return f, nil
		}
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidStatus, s)
}

// Visit maps to the ed_visit table.
type Visit struct {
	ID             uuid.UUID  `db:"id" json:"id"`
	TriageRecordID *uuid.UUID `db:"triage_record_id" json:"triage_record_id,omitempty"`
	PatientID      *uuid.UUID `db:"patient_id" json:"patient_id,omitempty"`
	PatientName    string     `db:"patient_name" json:"patient_name"`
	Age            int        `db:"age" json:"age"`
	Gender         string     `db:"gender" json:"gender"`
	ChiefComplaint string     `db:"chief_complaint" json:"chief_complaint"`
	Priority       int        `db:"priority" json:"priority"`
	Sentiment      string     `db:"sentiment" json:"sentiment"`
	Status         Status     `db:"status" json:"status"`
	Room           *string    `db:"room" json:"room,omitempty"`
	AssignedNurse  *string    `db:"assigned_nurse" json:"assigned_nurse,omitempty"`
	ArrivalTime    time.Time  `db:"arrival_time" json:"arrival_time"`
	CompletedAt    *time.Time `db:"completed_at" json:"completed_at,omitempty"`
	CreatedAt      time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt      time.Time  `db:"updated_at" json:"updated_at"`

	// Derived on read.
	WaitMinutes int     `db:"-" json:"wait_minutes"`
	Progress    int     `db:"-" json:"progress"`
	PrevStatus  *Status `db:"-" json:"prev_status,omitempty"`
	NextStatus  *Status `db:"-" json:"next_status,omitempty"`
}

// Label renders the priority as shown on the dashboard.
func (v *Visit) Label() string {
	return fmt.Sprintf("P%d", v.Priority)
}

// derive fills the read-only fields relative to now.
func (v *Visit) derive(now time.Time) {
	end := now
	if v.CompletedAt != nil {
		end = *v.CompletedAt
	}
	v.WaitMinutes = 0
	if d := end.Sub(v.ArrivalTime); d > 0 {
		v.WaitMinutes = int(d / time.Minute)
	}
	v.Progress = v.Status.Progress()
	v.PrevStatus, v.NextStatus = nil, nil
	if p, ok := v.Status.Prev(); ok {
		v.PrevStatus = &p
	}
	if n, ok := v.Status.Next(); ok {
		v.NextStatus = &n
	}
}

// StatusChange maps to ed_visit_status_history.
type StatusChange struct {
	ID         uuid.UUID `db:"id" json:"id"`
	VisitID    uuid.UUID `db:"ed_visit_id" json:"ed_visit_id"`
	FromStatus *Status   `db:"from_status" json:"from_status,omitempty"`
	ToStatus   Status    `db:"to_status" json:"to_status"`
	ChangedBy  string    `db:"changed_by" json:"changed_by"`
	Note       *string   `db:"note" json:"note,omitempty"`
	ChangedAt  time.Time `db:"changed_at" json:"changed_at"`
}

// Admission is a triaged patient entering the queue.
type Admission struct {
	TriageRecordID *uuid.UUID `json:"triage_record_id,omitempty"`
	PatientID      *uuid.UUID `json:"patient_id,omitempty"`
	PatientName    string     `json:"patient_name"`
	Age            int        `json:"age"`
	Gender         string     `json:"gender"`
	ChiefComplaint string     `json:"chief_complaint"`
	Priority       int        `json:"priority"`
	Sentiment      string     `json:"sentiment"`
	AssignedNurse  string     `json:"assigned_nurse,omitempty"`
	ArrivalTime    time.Time  `json:"arrival_time,omitempty"`
	AdmittedBy     string     `json:"-"`
}

func (a *Admission) Validate() error {
	if strings.TrimSpace(a.PatientName) == "" {
		return fmt.Errorf("%w: patient_name is required", ErrInvalidVisit)
	}
	if a.Priority < 1 || a.Priority > 4 {
		return fmt.Errorf("%w: priority must be between 1 and 4", ErrInvalidVisit)
	}
	return nil
}

// Stats summarises the active queue for the dashboard cards.
type Stats struct {
	Total              int `json:"total"`
	Critical           int `json:"critical"`
	Distressed         int `json:"distressed"`
	AverageWaitMinutes int `json:"average_wait_minutes"`
}
