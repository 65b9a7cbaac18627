package queue

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// ChangeNotifier is told about every visit that entered the queue or moved
// through it.
type ChangeNotifier interface {
	VisitChanged(ctx context.Context, v *Visit)
}

type Service struct {
	visits   VisitRepository
	notifier ChangeNotifier
	now      func() time.Time
}

func NewService(visits VisitRepository) *Service {
	return &Service{visits: visits, now: time.Now}
}

// SetChangeNotifier attaches the optional live board feed.
func (s *Service) SetChangeNotifier(n ChangeNotifier) {
	s.notifier = n
}

func (s *Service) notify(ctx context.Context, v *Visit) {
	if s.notifier != nil {
		s.notifier.VisitChanged(ctx, v)
	}
}

// Admit puts a triaged patient into the Waiting Room.
func (s *Service) Admit(ctx context.Context, a Admission) (*Visit, error) {
	if err := a.Validate(); err != nil {
		return nil, err
	}
	arrival := a.ArrivalTime
	if arrival.IsZero() {
		arrival = s.now()
	}
	v := &Visit{
		TriageRecordID: a.TriageRecordID,
		PatientID:      a.PatientID,
		PatientName:    a.PatientName,
		Age:            a.Age,
		Gender:         a.Gender,
		ChiefComplaint: a.ChiefComplaint,
		Priority:       a.Priority,
		Sentiment:      a.Sentiment,
		Status:         StatusWaitingRoom,
		AssignedNurse:  optional(a.AssignedNurse),
		ArrivalTime:    arrival,
	}
	first := &StatusChange{ToStatus: StatusWaitingRoom, ChangedBy: a.AdmittedBy, Note: optional("admitted from triage")}
	if err := s.visits.Create(ctx, v, first); err != nil {
		return nil, fmt.Errorf("create visit: %w", err)
	}
	zerolog.Ctx(ctx).Info().
		Str("visit_id", v.ID.String()).
		Str("priority", v.Label()).
		Msg("patient admitted to queue")
	v.derive(s.now())
	s.notify(ctx, v)
	return v, nil
}

// AdvanceVisit moves a visit to the next status in the flow.
func (s *Service) AdvanceVisit(ctx context.Context, id uuid.UUID, changedBy string) (*Visit, error) {
	v, err := s.visits.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	next, ok := v.Status.Next()
	if !ok {
		return nil, ErrFinalStatus
	}
	return s.transition(ctx, v, next, changedBy, "")
}

// SetVisitStatus jumps a visit to any status in the flow. Setting the
// current status again is a no-op.
func (s *Service) SetVisitStatus(ctx context.Context, id uuid.UUID, status Status, changedBy, note string) (*Visit, error) {
	if !status.Valid() {
		return nil, fmt.Errorf("%w: %q", ErrInvalidStatus, status)
	}
	v, err := s.visits.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if v.Status == status {
		v.derive(s.now())
		return v, nil
	}
	return s.transition(ctx, v, status, changedBy, note)
}

func (s *Service) transition(ctx context.Context, v *Visit, to Status, changedBy, note string) (*Visit, error) {
	from := v.Status
	change := &StatusChange{
		VisitID:    v.ID,
		FromStatus: &from,
		ToStatus:   to,
		ChangedBy:  changedBy,
		Note:       optional(note),
	}
	if err := s.visits.UpdateStatus(ctx, change); err != nil {
		return nil, err
	}
	zerolog.Ctx(ctx).Info().
		Str("visit_id", v.ID.String()).
		Str("from", string(from)).
		Str("to", string(to)).
		Msg("visit status changed")
	updated, err := s.GetVisit(ctx, v.ID)
	if err != nil {
		return nil, err
	}
	s.notify(ctx, updated)
	return updated, nil
}

func (s *Service) AssignRoom(ctx context.Context, id uuid.UUID, room string) (*Visit, error) {
	room = strings.TrimSpace(room)
	if room == "" {
		return nil, fmt.Errorf("%w: room is required", ErrInvalidVisit)
	}
	if err := s.visits.AssignRoom(ctx, id, room); err != nil {
		return nil, err
	}
	return s.GetVisit(ctx, id)
}

// Reprioritize moves the active visit of a triage record to a new priority
// after the nurse overrides it.
func (s *Service) Reprioritize(ctx context.Context, triageRecordID uuid.UUID, priority int) (*Visit, error) {
	if priority < 1 || priority > 4 {
		return nil, fmt.Errorf("%w: priority must be between 1 and 4", ErrInvalidVisit)
	}
	v, err := s.visits.UpdatePriorityByTriage(ctx, triageRecordID, priority)
	if err != nil {
		return nil, err
	}
	zerolog.Ctx(ctx).Info().
		Str("visit_id", v.ID.String()).
		Str("priority", v.Label()).
		Msg("visit reprioritized")
	v.derive(s.now())
	s.notify(ctx, v)
	return v, nil
}

func (s *Service) GetVisit(ctx context.Context, id uuid.UUID) (*Visit, error) {
	v, err := s.visits.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	v.derive(s.now())
	return v, nil
}

// ListActiveVisits returns every visit not yet complete, most urgent first
// and, within a priority, longest waiting first.
func (s *Service) ListActiveVisits(ctx context.Context) ([]*Visit, error) {
	items, err := s.visits.ListActive(ctx)
	if err != nil {
		return nil, err
	}
	now := s.now()
	for _, v := range items {
		v.derive(now)
	}
	sort.SliceStable(items, func(i, j int) bool {
		if items[i].Priority != items[j].Priority {
			return items[i].Priority < items[j].Priority
		}
		return items[i].ArrivalTime.Before(items[j].ArrivalTime)
	})
	return items, nil
}

func (s *Service) ListVisits(ctx context.Context, params map[string]string, limit, offset int) ([]*Visit, int, error) {
	items, total, err := s.visits.Search(ctx, params, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	now := s.now()
	for _, v := range items {
		v.derive(now)
	}
	return items, total, nil
}

func (s *Service) GetStatusHistory(ctx context.Context, id uuid.UUID) ([]*StatusChange, error) {
	return s.visits.GetStatusHistory(ctx, id)
}

func (s *Service) DeleteVisit(ctx context.Context, id uuid.UUID) error {
	return s.visits.Delete(ctx, id)
}

// QueueStats summarises the active queue.
func (s *Service) QueueStats(ctx context.Context) (*Stats, error) {
	items, err := s.ListActiveVisits(ctx)
	if err != nil {
		return nil, err
	}
	st := &Stats{Total: len(items)}
	wait := 0
	for _, v := range items {
		if v.Priority == 1 {
			st.Critical++
		}
		if v.Sentiment == "distressed" {
			st.Distressed++
		}
		wait += v.WaitMinutes
	}
	if st.Total > 0 {
		st.AverageWaitMinutes = wait / st.Total
	}
	return st, nil
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
