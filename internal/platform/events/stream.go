package events

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/go-redis/redis/v8"
)

const DefaultStream = "triage:alerts"

// Alert is a critical triage result announced to the floor.
type Alert struct {
	ID          string    `json:"id,omitempty"`
	RecordID    string    `json:"record_id"`
	PatientName string    `json:"patient_name"`
	Priority    int       `json:"priority"`
	Score       int       `json:"score"`
	Sentiment   string    `json:"sentiment"`
	Reasons     []string  `json:"reasons"`
	TriageNurse string    `json:"triage_nurse"`
	At          time.Time `json:"at"`
}

// StreamPublisher appends alerts to a Redis stream.
type StreamPublisher struct {
	client *redis.Client
	stream string
	maxLen int64
}

func NewStreamPublisher(client *redis.Client, stream string) *StreamPublisher {
	if stream == "" {
		stream = DefaultStream
	}
	return &StreamPublisher{client: client, stream: stream, maxLen: 10000}
}

// Publish adds a to the stream and returns the entry id.
func (p *StreamPublisher) Publish(ctx context.Context, a Alert) (string, error) {
	reasons, err := json.Marshal(a.Reasons)
	if err != nil {
		return "", err
	}
	if a.At.IsZero() {
		a.At = time.Now().UTC()
	}
	id, err := p.client.XAdd(ctx, &redis.XAddArgs{
		Stream: p.stream,
		MaxLen: p.maxLen,
		Values: map[string]interface{}{
			"record_id":    a.RecordID,
			"patient_name": a.PatientName,
			"priority":     strconv.Itoa(a.Priority),
			"score":        strconv.Itoa(a.Score),
			"sentiment":    a.Sentiment,
			"reasons":      string(reasons),
			"triage_nurse": a.TriageNurse,
			"at":           a.At.Format(time.RFC3339),
		},
	}).Result()
	if err != nil {
		return "", fmt.Errorf("xadd %s: %w", p.stream, err)
	}
	return id, nil
}

// Recent returns up to n alerts, newest first.
func (p *StreamPublisher) Recent(ctx context.Context, n int64) ([]Alert, error) {
	msgs, err := p.client.XRevRangeN(ctx, p.stream, "+", "-", n).Result()
	if err != nil {
		return nil, fmt.Errorf("xrevrange %s: %w", p.stream, err)
	}
	out := make([]Alert, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, decode(m))
	}
	return out, nil
}

func decode(m redis.XMessage) Alert {
	str := func(k string) string {
		s, _ := m.Values[k].(string)
		return s
	}
	a := Alert{
		ID:          m.ID,
		RecordID:    str("record_id"),
		PatientName: str("patient_name"),
		Sentiment:   str("sentiment"),
		TriageNurse: str("triage_nurse"),
	}
	a.Priority, _ = strconv.Atoi(str("priority"))
	a.Score, _ = strconv.Atoi(str("score"))
	a.At, _ = time.Parse(time.RFC3339, str("at"))
	if err := json.Unmarshal([]byte(str("reasons")), &a.Reasons); err != nil {
		a.Reasons = nil
	}
	return a
}
