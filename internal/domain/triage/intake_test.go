package triage

import (
	"encoding/json"
	"errors"
	"testing"
)

const completeFormJSON = `{
	"name": "Sam Okafor",
	"age": 45,
	"gender": "male",
	"complaint": "Severe chest pain",
	"pain_level": 9,
	"vitals": {
		"systolic": "185",
		"diastolic": 125,
		"heart_rate": "130 bpm",
		"temperature": "104°F",
		"spo2": "88%"
	},
	"allergies": "penicillin",
	"medications": "aspirin",
	"medical_history": "Heart Disease"
}`

func completeForm(t *testing.T) *IntakeForm {
	t.Helper()
	var f IntakeForm
	if err := json.Unmarshal([]byte(completeFormJSON), &f); err != nil {
		t.Fatalf("unmarshal form: %v", err)
	}
	return &f
}

func TestReading_UnmarshalJSON(t *testing.T) {
	var v VitalsForm
	err := json.Unmarshal([]byte(`{"systolic":120,"diastolic":"80","heart_rate":null,"temperature":" 98.6 "}`), &v)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if n, err := v.Systolic.Int("systolic"); err != nil || n != 120 {
		t.Errorf("systolic: expected 120, got %d (%v)", n, err)
	}
	if n, err := v.Diastolic.Int("diastolic"); err != nil || n != 80 {
		t.Errorf("diastolic: expected 80, got %d (%v)", n, err)
	}
	if !v.HeartRate.Empty() {
		t.Error("expected null heart rate to be empty")
	}
	if !v.SpO2.Empty() {
		t.Error("expected missing spo2 to be empty")
	}
	if f, err := v.Temperature.Float("temperature"); err != nil || f != 98.6 {
		t.Errorf("temperature: expected 98.6, got %v (%v)", f, err)
	}

	if err := json.Unmarshal([]byte(`{"systolic":true}`), &v); err == nil {
		t.Error("expected error for boolean vital")
	}
}

func TestReading_Units(t *testing.T) {
	tests := []struct {
		in   string
		want float64
	}{
		{"120 mmHg", 120},
		{"72bpm", 72},
		{"101.2°F", 101.2},
		{"99.1 F", 99.1},
		{"97%", 97},
		{" 88 ", 88},
	}
	for _, tt := range tests {
		got, err := TextReading(tt.in).Float("vital")
		if err != nil {
			t.Errorf("%q: unexpected error: %v", tt.in, err)
			continue
		}
		if got != tt.want {
			t.Errorf("%q: expected %v, got %v", tt.in, tt.want, got)
		}
	}
}

func TestReading_IntTruncates(t *testing.T) {
	n, err := TextReading("92.7").Int("spo2")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if n != 92 {
		t.Errorf("expected 92, got %d", n)
	}
	n, _ = NumberReading(119.9).Int("heart_rate")
	if n != 119 {
		t.Errorf("expected 119, got %d", n)
	}
}

func TestReading_Invalid(t *testing.T) {
	for _, in := range []string{"abc", "NaN", "Inf", "12/80", "--"} {
		_, err := TextReading(in).Float("systolic")
		if !errors.Is(err, ErrInvalidVital) {
			t.Errorf("%q: expected ErrInvalidVital, got %v", in, err)
			continue
		}
		var ve *VitalError
		if !errors.As(err, &ve) || ve.Field != "systolic" || ve.Value != in {
			t.Errorf("%q: unexpected vital error %+v", in, ve)
		}
	}
}

func TestReading_MarshalJSON(t *testing.T) {
	b, _ := json.Marshal(VitalsForm{Systolic: NumberReading(120), Temperature: TextReading("98.6°F")})
	want := `{"systolic":120,"diastolic":null,"heart_rate":null,"temperature":"98.6°F","spo2":null}`
	if string(b) != want {
		t.Errorf("expected %s, got %s", want, b)
	}
}

func TestIntakeForm_Complete(t *testing.T) {
	if !completeForm(t).Complete() {
		t.Fatal("expected complete form")
	}

	tests := map[string]func(*IntakeForm){
		"no name":        func(f *IntakeForm) { f.Name = "  " },
		"no age":         func(f *IntakeForm) { f.Age = nil },
		"no gender":      func(f *IntakeForm) { f.Gender = "" },
		"no complaint":   func(f *IntakeForm) { f.Complaint = "" },
		"no pain level":  func(f *IntakeForm) { f.PainLevel = nil },
		"no systolic":    func(f *IntakeForm) { f.Vitals.Systolic = Reading{} },
		"blank spo2":     func(f *IntakeForm) { f.Vitals.SpO2 = TextReading(" ") },
		"no allergies":   func(f *IntakeForm) { f.Allergies = "" },
		"no medications": func(f *IntakeForm) { f.Medications = "" },
		"no history":     func(f *IntakeForm) { f.MedicalHistory = "" },
	}
	for name, mutate := range tests {
		f := completeForm(t)
		mutate(f)
		if f.Complete() {
			t.Errorf("%s: expected incomplete form", name)
		}
		if _, err := f.Assessment(); !errors.Is(err, ErrIncompleteIntake) {
			t.Errorf("%s: expected ErrIncompleteIntake, got %v", name, err)
		}
	}

	var nilForm *IntakeForm
	if nilForm.Complete() {
		t.Error("expected nil form to be incomplete")
	}
}

func TestIntakeForm_ZeroValuesCount(t *testing.T) {
	f := completeForm(t)
	zero := 0
	f.Age = &zero
	f.PainLevel = &zero
	if !f.Complete() {
		t.Error("expected age 0 and pain 0 to count as entered")
	}
}

func TestIntakeForm_Assessment(t *testing.T) {
	a, err := completeForm(t).Assessment()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := Vitals{Systolic: 185, Diastolic: 125, HeartRate: 130, Temperature: 104, SpO2: 88}
	if a.Vitals != want {
		t.Errorf("expected %+v, got %+v", want, a.Vitals)
	}
	if a.Age != 45 || a.PainLevel != 9 {
		t.Errorf("unexpected age/pain %d/%d", a.Age, a.PainLevel)
	}

	ev := Evaluate(a)
	if ev.Score != 75 || ev.Priority != PriorityImmediate {
		t.Errorf("expected 75/P1, got %d/%s", ev.Score, ev.Priority.Label())
	}
}

func TestIntakeForm_AssessmentInvalidVital(t *testing.T) {
	f := completeForm(t)
	f.Vitals.Temperature = TextReading("warm")
	_, err := f.Assessment()
	var ve *VitalError
	if !errors.As(err, &ve) {
		t.Fatalf("expected *VitalError, got %v", err)
	}
	if ve.Field != "temperature" {
		t.Errorf("expected temperature, got %s", ve.Field)
	}
}
