package triage

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
)

var (
	ErrInvalidVital     = errors.New("invalid vital sign")
	ErrIncompleteIntake = errors.New("intake form is incomplete")
	ErrInvalidPriority  = errors.New("priority must be between 1 and 4")
)

// VitalError names the vital sign that could not be parsed.
type VitalError struct {
	Field string
	Value string
}

func (e *VitalError) Error() string {
	return fmt.Sprintf("%s: %s %q is not a number", ErrInvalidVital, e.Field, e.Value)
}

func (e *VitalError) Unwrap() error { return ErrInvalidVital }

// Reading is a vital sign as captured by an intake form. Forms send either a
// JSON number or free text such as "98.6", "97%" or "101.2°F".
type Reading struct {
	text   string
	number float64
	isNum  bool
}

// NumberReading builds a reading from an already numeric value.
func NumberReading(v float64) Reading { return Reading{number: v, isNum: true} }

// TextReading builds a reading from form text.
func TextReading(s string) Reading { return Reading{text: s} }

// Empty reports whether nothing was entered.
func (r Reading) Empty() bool {
	return !r.isNum && strings.TrimSpace(r.text) == ""
}

func (r Reading) String() string {
	if r.isNum {
		return strconv.FormatFloat(r.number, 'f', -1, 64)
	}
	return r.text
}

func (r *Reading) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if bytes.Equal(b, []byte("null")) {
		*r = Reading{}
		return nil
	}
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*r = TextReading(s)
		return nil
	}
	var f float64
	if err := json.Unmarshal(b, &f); err != nil {
		return fmt.Errorf("vital must be a number or string: %w", err)
	}
	*r = NumberReading(f)
	return nil
}

func (r Reading) MarshalJSON() ([]byte, error) {
	if r.isNum {
		return json.Marshal(r.number)
	}
	if r.text == "" {
		return []byte("null"), nil
	}
	return json.Marshal(r.text)
}

var unitSuffixes = []string{"mmhg", "bpm", "°f", "f", "%"}

// Float parses the reading. field is only used for the error.
func (r Reading) Float(field string) (float64, error) {
	if r.isNum {
		if math.IsNaN(r.number) || math.IsInf(r.number, 0) {
			return 0, &VitalError{Field: field, Value: r.String()}
		}
		return r.number, nil
	}
	s := strings.ToLower(strings.TrimSpace(r.text))
	for _, suffix := range unitSuffixes {
		if strings.HasSuffix(s, suffix) {
			s = strings.TrimSpace(strings.TrimSuffix(s, suffix))
			break
		}
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, &VitalError{Field: field, Value: r.text}
	}
	return f, nil
}

// Int parses the reading and truncates toward zero, so "92.7" reads as 92.
func (r Reading) Int(field string) (int, error) {
	f, err := r.Float(field)
	if err != nil {
		return 0, err
	}
	return int(math.Trunc(f)), nil
}

// VitalsForm holds the vitals as entered.
type VitalsForm struct {
	Systolic    Reading `json:"systolic"`
	Diastolic   Reading `json:"diastolic"`
	HeartRate   Reading `json:"heart_rate"`
	Temperature Reading `json:"temperature"`
	SpO2        Reading `json:"spo2"`
}

// IntakeForm is the nurse triage form as submitted by the client. Pointers
// distinguish "not entered" from zero.
type IntakeForm struct {
	Name           string     `json:"name"`
	Age            *int       `json:"age"`
	Gender         string     `json:"gender"`
	Phone          string     `json:"phone,omitempty"`
	Address        string     `json:"address,omitempty"`
	NextOfKin      string     `json:"next_of_kin,omitempty"`
	Complaint      string     `json:"complaint"`
	PainLevel      *int       `json:"pain_level"`
	Vitals         VitalsForm `json:"vitals"`
	Allergies      string     `json:"allergies"`
	Medications    string     `json:"medications"`
	MedicalHistory string     `json:"medical_history"`
	Notes          string     `json:"notes,omitempty"`
	AssignedNurse  string     `json:"assigned_nurse,omitempty"`
}

// Complete reports whether every field required for scoring was entered.
// An incomplete form is not an error: it simply has no evaluation yet.
func (f *IntakeForm) Complete() bool {
	if f == nil || f.Age == nil || f.PainLevel == nil {
		return false
	}
	for _, s := range []string{f.Name, f.Gender, f.Complaint, f.Allergies, f.Medications, f.MedicalHistory} {
		if strings.TrimSpace(s) == "" {
			return false
		}
	}
	v := f.Vitals
	for _, r := range []Reading{v.Systolic, v.Diastolic, v.HeartRate, v.Temperature, v.SpO2} {
		if r.Empty() {
			return false
		}
	}
	return true
}

// Assessment parses a complete form into a PatientAssessment. Each vital is
// parsed exactly once; the first unparsable one is returned as a *VitalError.
func (f *IntakeForm) Assessment() (PatientAssessment, error) {
	if !f.Complete() {
		return PatientAssessment{}, ErrIncompleteIntake
	}

	var (
		v   Vitals
		err error
	)
	if v.Systolic, err = f.Vitals.Systolic.Int("systolic"); err != nil {
		return PatientAssessment{}, err
	}
	if v.Diastolic, err = f.Vitals.Diastolic.Int("diastolic"); err != nil {
		return PatientAssessment{}, err
	}
	if v.HeartRate, err = f.Vitals.HeartRate.Int("heart_rate"); err != nil {
		return PatientAssessment{}, err
	}
	if v.Temperature, err = f.Vitals.Temperature.Float("temperature"); err != nil {
		return PatientAssessment{}, err
	}
	spo2, err := f.Vitals.SpO2.Int("spo2")
	if err != nil {
		return PatientAssessment{}, err
	}
	v.SpO2 = float64(spo2)

	return PatientAssessment{
		Name:           f.Name,
		Age:            *f.Age,
		Gender:         f.Gender,
		Complaint:      f.Complaint,
		PainLevel:      *f.PainLevel,
		Vitals:         v,
		Allergies:      f.Allergies,
		Medications:    f.Medications,
		MedicalHistory: f.MedicalHistory,
	}, nil
}
