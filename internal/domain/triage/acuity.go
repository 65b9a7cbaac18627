package triage

import (
	"fmt"
	"strconv"
	"strings"
)

// Priority is the triage tier, 1 being the most urgent.
type Priority int

const (
	PriorityImmediate  Priority = 1
	PriorityUrgent     Priority = 2
	PriorityLessUrgent Priority = 3
	PriorityNonUrgent  Priority = 4
)

// Valid reports whether p is one of P1..P4.
func (p Priority) Valid() bool {
	return p >= PriorityImmediate && p <= PriorityNonUrgent
}

// Severity returns the severity label paired with p. Invalid priorities map
// to SeverityNonUrgent, the same default the resolver starts from.
func (p Priority) Severity() Severity {
	switch p {
	case PriorityImmediate:
		return SeverityCritical
	case PriorityUrgent:
		return SeverityUrgent
	case PriorityLessUrgent:
		return SeverityLessUrgent
	default:
		return SeverityNonUrgent
	}
}

// Label renders the priority the way the nurse dashboard shows it ("P1").
func (p Priority) Label() string {
	return fmt.Sprintf("P%d", int(p))
}

func (p Priority) String() string {
	return strconv.Itoa(int(p))
}

// ParsePriority accepts "1".."4" or "P1".."P4".
func ParsePriority(s string) (Priority, error) {
	s = strings.TrimPrefix(strings.ToUpper(strings.TrimSpace(s)), "P")
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0, fmt.Errorf("%w: %q", ErrInvalidPriority, s)
	}
	p := Priority(n)
	if !p.Valid() {
		return 0, fmt.Errorf("%w: %d", ErrInvalidPriority, n)
	}
	return p, nil
}

// Severity is the acuity label that always accompanies a Priority.
type Severity string

const (
	SeverityCritical   Severity = "critical"
	SeverityUrgent     Severity = "urgent"
	SeverityLessUrgent Severity = "less-urgent"
	SeverityNonUrgent  Severity = "non-urgent"
)

// Sentiment is the estimated emotional state of the patient.
type Sentiment string

const (
	SentimentDistressed    Sentiment = "distressed"
	SentimentAnxious       Sentiment = "anxious"
	SentimentUncomfortable Sentiment = "uncomfortable"
	SentimentWorried       Sentiment = "worried"
	SentimentCalm          Sentiment = "calm"
)

// Vitals are the parsed vital signs used for scoring. Temperature is in
// degrees Fahrenheit, SpO2 in percent.
type Vitals struct {
	Systolic    int     `json:"systolic"`
	Diastolic   int     `json:"diastolic"`
	HeartRate   int     `json:"heart_rate"`
	Temperature float64 `json:"temperature"`
	SpO2        float64 `json:"spo2"`
}

// PatientAssessment is a complete, parsed intake ready for scoring.
type PatientAssessment struct {
	Name           string `json:"name"`
	Age            int    `json:"age"`
	Gender         string `json:"gender"`
	Complaint      string `json:"complaint"`
	PainLevel      int    `json:"pain_level"`
	Vitals         Vitals `json:"vitals"`
	Allergies      string `json:"allergies"`
	Medications    string `json:"medications"`
	MedicalHistory string `json:"medical_history"`
}

// Evaluation is the advisory result of scoring one assessment.
type Evaluation struct {
	Priority  Priority  `json:"priority"`
	Severity  Severity  `json:"severity"`
	Sentiment Sentiment `json:"sentiment"`
	Score     int       `json:"score"`
	Reasons   []string  `json:"reasons"`
}

type keyword struct {
	term  string
	tier  string
	score int
}

var (
	criticalKeywords = []keyword{
		{"chest pain", "Critical", 15},
		{"difficulty breathing", "Critical", 15},
		{"shortness of breath", "Critical", 15},
		{"stroke", "Critical", 15},
		{"unconscious", "Critical", 15},
		{"severe bleeding", "Critical", 15},
		{"head injury", "Critical", 15},
	}
	urgentKeywords = []keyword{
		{"fracture", "Urgent", 10},
		{"abdominal pain", "Urgent", 10},
		{"severe headache", "Urgent", 10},
		{"deep cut", "Urgent", 10},
		{"allergic reaction", "Urgent", 10},
		{"fever", "Urgent", 10},
		{"dehydration", "Urgent", 10},
	}
)

// scorecard accumulates rule contributions in evaluation order.
type scorecard struct {
	score   int
	reasons []string
}

func (s *scorecard) add(points int, reason string) {
	s.score += points
	s.reasons = append(s.reasons, reason)
}

// Evaluate scores an assessment and derives its priority, severity and
// sentiment. It reads nothing but its argument, so concurrent callers need no
// coordination and identical input always yields identical output.
func Evaluate(a PatientAssessment) Evaluation {
	sc := &scorecard{reasons: []string{}}
	complaint := strings.ToLower(a.Complaint)

	scoreVitals(sc, a.Vitals)
	scorePain(sc, a.PainLevel)
	scoreComplaint(sc, complaint)
	scoreRiskFactors(sc, a.Age, strings.ToLower(a.MedicalHistory))

	p := ResolvePriority(sc.score)
	return Evaluation{
		Priority:  p,
		Severity:  p.Severity(),
		Sentiment: EstimateSentiment(a.PainLevel, complaint),
		Score:     sc.score,
		Reasons:   sc.reasons,
	}
}

func scoreVitals(sc *scorecard, v Vitals) {
	switch {
	case v.Systolic >= 180 || v.Diastolic >= 120:
		sc.add(10, "Severe hypertension")
	case v.Systolic >= 160 || v.Diastolic >= 100:
		sc.add(5, "Hypertension")
	case v.Systolic <= 90 || v.Diastolic <= 60:
		sc.add(15, "Hypotension")
	}

	switch {
	case v.HeartRate >= 120:
		sc.add(10, "Tachycardia")
	case v.HeartRate <= 50:
		sc.add(10, "Bradycardia")
	}

	// NaN fails both comparisons and the rule is skipped.
	switch {
	case v.Temperature >= 103:
		sc.add(10, "High fever")
	case v.Temperature >= 100.4:
		sc.add(5, "Fever")
	}

	switch {
	case v.SpO2 <= 90:
		sc.add(15, "Severe hypoxemia")
	case v.SpO2 <= 94:
		sc.add(10, "Hypoxemia")
	}
}

func scorePain(sc *scorecard, pain int) {
	switch {
	case pain >= 8:
		sc.add(10, "Severe pain")
	case pain >= 5:
		sc.add(5, "Moderate pain")
	}
}

// scoreComplaint expects an already lowercased complaint. Only the first
// matching keyword of each tier counts.
func scoreComplaint(sc *scorecard, complaint string) {
	for _, tier := range [][]keyword{criticalKeywords, urgentKeywords} {
		for _, kw := range tier {
			if strings.Contains(complaint, kw.term) {
				sc.add(kw.score, kw.tier+" symptom: "+kw.term)
				break
			}
		}
	}
}

func scoreRiskFactors(sc *scorecard, age int, history string) {
	if age >= 75 || age <= 5 {
		sc.add(5, "Age risk factor")
	}
	if strings.Contains(history, "heart disease") || strings.Contains(history, "stroke") {
		sc.add(5, "Cardiovascular history")
	}
	if strings.Contains(history, "diabetes") {
		sc.add(3, "Diabetes history")
	}
	if strings.Contains(history, "immunocompromised") {
		sc.add(5, "Immunocompromised")
	}
}

// ResolvePriority maps an accumulated score onto P1..P4.
func ResolvePriority(score int) Priority {
	switch {
	case score >= 25:
		return PriorityImmediate
	case score >= 15:
		return PriorityUrgent
	case score >= 5:
		return PriorityLessUrgent
	default:
		return PriorityNonUrgent
	}
}

// EstimateSentiment derives the emotional state from pain and the lowercased
// complaint, independent of the score. The "pain" keyword in the second rule
// overlaps the pain thresholds below it; that overlap is kept as is.
func EstimateSentiment(pain int, complaint string) Sentiment {
	switch {
	case pain >= 8 || strings.Contains(complaint, "severe") || strings.Contains(complaint, "extreme"):
		return SentimentDistressed
	case pain >= 6 || strings.Contains(complaint, "pain") || strings.Contains(complaint, "worried"):
		return SentimentAnxious
	case pain >= 4:
		return SentimentUncomfortable
	case pain >= 2:
		return SentimentWorried
	default:
		return SentimentCalm
	}
}
