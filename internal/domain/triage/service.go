package triage

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// QueueAdmitter places a triaged patient into the ED queue and keeps the
// queued priority in step with later overrides.
type QueueAdmitter interface {
	Admit(ctx context.Context, rec *TriageRecord) error
	Reprioritize(ctx context.Context, rec *TriageRecord) error
}

// AlertPublisher announces critical triage results.
type AlertPublisher interface {
	PublishCritical(ctx context.Context, rec *TriageRecord) error
}

// Submission is a completed triage form plus the nurse's decision.
type Submission struct {
	PatientID      *uuid.UUID `json:"patient_id,omitempty"`
	Form           IntakeForm `json:"form"`
	FinalPriority  *Priority  `json:"final_priority,omitempty"`
	OverrideReason string     `json:"override_reason,omitempty"`
}

type Service struct {
	triage TriageRepository
	queue  QueueAdmitter
	alerts AlertPublisher
	now    func() time.Time
}

func NewService(triage TriageRepository) *Service {
	return &Service{triage: triage, now: time.Now}
}

// SetQueueAdmitter attaches the optional ED queue.
func (s *Service) SetQueueAdmitter(q QueueAdmitter) {
	s.queue = q
}

// SetAlertPublisher attaches the optional critical alert sink.
func (s *Service) SetAlertPublisher(a AlertPublisher) {
	s.alerts = a
}

// Evaluate scores a form. It returns a nil evaluation without error when the
// form is still incomplete, and a *VitalError when a vital cannot be parsed.
func (s *Service) Evaluate(form *IntakeForm) (*Evaluation, error) {
	if !form.Complete() {
		return nil, nil
	}
	a, err := form.Assessment()
	if err != nil {
		return nil, err
	}
	ev := Evaluate(a)
	return &ev, nil
}

// SubmitTriage evaluates and persists a triage. The final priority defaults to
// the recommended one.
func (s *Service) SubmitTriage(ctx context.Context, sub *Submission, triageNurse string) (*TriageRecord, error) {
	a, err := sub.Form.Assessment()
	if err != nil {
		return nil, err
	}
	ev := Evaluate(a)

	rec := newTriageRecord(&sub.Form, a, ev)
	rec.PatientID = sub.PatientID
	rec.TriageNurse = triageNurse
	rec.TriageTime = s.now()
	if sub.FinalPriority != nil {
		if !sub.FinalPriority.Valid() {
			return nil, fmt.Errorf("%w: %d", ErrInvalidPriority, *sub.FinalPriority)
		}
		rec.FinalPriority = *sub.FinalPriority
	}
	if rec.Overridden() {
		rec.OverrideReason = optional(sub.OverrideReason)
	}

	if err := s.triage.Create(ctx, rec); err != nil {
		return nil, fmt.Errorf("create triage record: %w", err)
	}

	log := zerolog.Ctx(ctx)
	log.Info().
		Str("triage_id", rec.ID.String()).
		Int("score", rec.Score).
		Str("recommended", rec.RecommendedPriority.Label()).
		Str("final", rec.FinalPriority.Label()).
		Msg("triage submitted")

	if s.queue != nil {
		if err := s.queue.Admit(ctx, rec); err != nil {
			log.Error().Err(err).Str("triage_id", rec.ID.String()).Msg("queue admission failed")
		}
	}
	s.alertIfCritical(ctx, rec)
	return rec, nil
}

func (s *Service) alertIfCritical(ctx context.Context, rec *TriageRecord) {
	if s.alerts == nil || rec.FinalPriority != PriorityImmediate {
		return
	}
	if err := s.alerts.PublishCritical(ctx, rec); err != nil {
		zerolog.Ctx(ctx).Error().Err(err).Str("triage_id", rec.ID.String()).Msg("critical alert failed")
	}
}

func (s *Service) GetTriageRecord(ctx context.Context, id uuid.UUID) (*TriageRecord, error) {
	return s.triage.GetByID(ctx, id)
}

// OverridePriority records a nurse's change of the final priority after
// submission. The recommended priority is never changed.
func (s *Service) OverridePriority(ctx context.Context, id uuid.UUID, p Priority, reason string) (*TriageRecord, error) {
	if !p.Valid() {
		return nil, fmt.Errorf("%w: %d", ErrInvalidPriority, p)
	}
	current, err := s.triage.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	previous := current.FinalPriority
	if err := s.triage.UpdateFinalPriority(ctx, id, p, optional(reason)); err != nil {
		return nil, err
	}
	rec, err := s.triage.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if previous == p {
		return rec, nil
	}

	log := zerolog.Ctx(ctx)
	log.Info().
		Str("triage_id", rec.ID.String()).
		Str("from", previous.Label()).
		Str("to", p.Label()).
		Msg("final priority overridden")
	if s.queue != nil {
		if err := s.queue.Reprioritize(ctx, rec); err != nil {
			log.Error().Err(err).Str("triage_id", rec.ID.String()).Msg("queue reprioritization failed")
		}
	}
	s.alertIfCritical(ctx, rec)
	return rec, nil
}

func (s *Service) DeleteTriageRecord(ctx context.Context, id uuid.UUID) error {
	return s.triage.Delete(ctx, id)
}

func (s *Service) ListTriageRecords(ctx context.Context, limit, offset int) ([]*TriageRecord, int, error) {
	return s.triage.List(ctx, limit, offset)
}

func (s *Service) ListTriageRecordsByPatient(ctx context.Context, patientID uuid.UUID, limit, offset int) ([]*TriageRecord, int, error) {
	return s.triage.ListByPatient(ctx, patientID, limit, offset)
}

func (s *Service) SearchTriageRecords(ctx context.Context, params map[string]string, limit, offset int) ([]*TriageRecord, int, error) {
	return s.triage.Search(ctx, params, limit, offset)
}
