package triage

import (
	"time"

	"github.com/google/uuid"
)

// TriageRecord maps to the triage_record table.
type TriageRecord struct {
	ID                  uuid.UUID  `db:"id" json:"id"`
	PatientID           *uuid.UUID `db:"patient_id" json:"patient_id,omitempty"`
	PatientName         string     `db:"patient_name" json:"patient_name"`
	Age                 int        `db:"age" json:"age"`
	Gender              string     `db:"gender" json:"gender"`
	Phone               *string    `db:"phone" json:"phone,omitempty"`
	Address             *string    `db:"address" json:"address,omitempty"`
	NextOfKin           *string    `db:"next_of_kin" json:"next_of_kin,omitempty"`
	ChiefComplaint      string     `db:"chief_complaint" json:"chief_complaint"`
	PainLevel           int        `db:"pain_level" json:"pain_level"`
	BloodPressureSys    int        `db:"blood_pressure_sys" json:"blood_pressure_sys"`
	BloodPressureDia    int        `db:"blood_pressure_dia" json:"blood_pressure_dia"`
	HeartRate           int        `db:"heart_rate" json:"heart_rate"`
	Temperature         float64    `db:"temperature" json:"temperature"`
	OxygenSaturation    int        `db:"oxygen_saturation" json:"oxygen_saturation"`
	Allergies           string     `db:"allergies" json:"allergies"`
	Medications         string     `db:"medications" json:"medications"`
	MedicalHistory      string     `db:"medical_history" json:"medical_history"`
	Notes               *string    `db:"notes" json:"notes,omitempty"`
	AssignedNurse       *string    `db:"assigned_nurse" json:"assigned_nurse,omitempty"`
	TriageNurse         string     `db:"triage_nurse" json:"triage_nurse"`
	Score               int        `db:"score" json:"score"`
	RecommendedPriority Priority   `db:"recommended_priority" json:"recommended_priority"`
	Severity            Severity   `db:"severity" json:"severity"`
	Sentiment           Sentiment  `db:"sentiment" json:"sentiment"`
	Reasons             []string   `db:"reasons" json:"reasons"`
	FinalPriority       Priority   `db:"final_priority" json:"final_priority"`
	OverrideReason      *string    `db:"override_reason" json:"override_reason,omitempty"`
	TriageTime          time.Time  `db:"triage_time" json:"triage_time"`
	CreatedAt           time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt           time.Time  `db:"updated_at" json:"updated_at"`
}

// Overridden reports whether the nurse chose a priority other than the
// recommended one.
func (t *TriageRecord) Overridden() bool {
	return t.FinalPriority != t.RecommendedPriority
}

// Evaluation returns the advisory part of the record.
func (t *TriageRecord) Evaluation() Evaluation {
	return Evaluation{
		Priority:  t.RecommendedPriority,
		Severity:  t.Severity,
		Sentiment: t.Sentiment,
		Score:     t.Score,
		Reasons:   t.Reasons,
	}
}

// newTriageRecord copies the assessed form and its evaluation into a record.
func newTriageRecord(form *IntakeForm, a PatientAssessment, ev Evaluation) *TriageRecord {
	return &TriageRecord{
		PatientName:         a.Name,
		Age:                 a.Age,
		Gender:              a.Gender,
		Phone:               optional(form.Phone),
		Address:             optional(form.Address),
		NextOfKin:           optional(form.NextOfKin),
		ChiefComplaint:      a.Complaint,
		PainLevel:           a.PainLevel,
		BloodPressureSys:    a.Vitals.Systolic,
		BloodPressureDia:    a.Vitals.Diastolic,
		HeartRate:           a.Vitals.HeartRate,
		Temperature:         a.Vitals.Temperature,
		OxygenSaturation:    int(a.Vitals.SpO2),
		Allergies:           a.Allergies,
		Medications:         a.Medications,
		MedicalHistory:      a.MedicalHistory,
		Notes:               optional(form.Notes),
		AssignedNurse:       optional(form.AssignedNurse),
		Score:               ev.Score,
		RecommendedPriority: ev.Priority,
		Severity:            ev.Severity,
		Sentiment:           ev.Sentiment,
		Reasons:             ev.Reasons,
		FinalPriority:       ev.Priority,
	}
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
