package triage

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ertriage/triage/internal/platform/db"
)

type queryable interface {
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
	Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error)
}

type triageRepoPG struct{ pool *pgxpool.Pool }

func NewTriageRepoPG(pool *pgxpool.Pool) TriageRepository { return &triageRepoPG{pool: pool} }

func (r *triageRepoPG) conn(ctx context.Context) queryable {
	if c := db.ConnFromContext(ctx); c != nil {
		return c
	}
	return r.pool
}

const triageCols = `id, patient_id, patient_name, age, gender, phone, address, next_of_kin,
	chief_complaint, pain_level, blood_pressure_sys, blood_pressure_dia, heart_rate,
	temperature, oxygen_saturation, allergies, medications, medical_history, notes,
	assigned_nurse, triage_nurse, score, recommended_priority, severity, sentiment,
	reasons, final_priority, override_reason, triage_time, created_at, updated_at`

// searchFilters maps accepted search parameters to their columns.
var searchFilters = []struct{ param, column string }{
	{"patient_id", "patient_id"},
	{"final_priority", "final_priority"},
	{"severity", "severity"},
	{"sentiment", "sentiment"},
	{"triage_nurse", "triage_nurse"},
}

func (r *triageRepoPG) scanTriage(row pgx.Row) (*TriageRecord, error) {
	var t TriageRecord
	err := row.Scan(&t.ID, &t.PatientID, &t.PatientName, &t.Age, &t.Gender, &t.Phone, &t.Address, &t.NextOfKin,
		&t.ChiefComplaint, &t.PainLevel, &t.BloodPressureSys, &t.BloodPressureDia, &t.HeartRate,
		&t.Temperature, &t.OxygenSaturation, &t.Allergies, &t.Medications, &t.MedicalHistory, &t.Notes,
		&t.AssignedNurse, &t.TriageNurse, &t.Score, &t.RecommendedPriority, &t.Severity, &t.Sentiment,
		&t.Reasons, &t.FinalPriority, &t.OverrideReason, &t.TriageTime, &t.CreatedAt, &t.UpdatedAt)
	return &t, err
}

func (r *triageRepoPG) Create(ctx context.Context, t *TriageRecord) error {
	t.ID = uuid.New()
	return r.conn(ctx).QueryRow(ctx, `
		INSERT INTO triage_record (id, patient_id, patient_name, age, gender, phone, address, next_of_kin,
			chief_complaint, pain_level, blood_pressure_sys, blood_pressure_dia, heart_rate,
			temperature, oxygen_saturation, allergies, medications, medical_history, notes,
			assigned_nurse, triage_nurse, score, recommended_priority, severity, sentiment,
			reasons, final_priority, override_reason, triage_time)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,$20,
			$21,$22,$23,$24,$25,$26,$27,$28,$29)
		RETURNING created_at, updated_at`,
		t.ID, t.PatientID, t.PatientName, t.Age, t.Gender, t.Phone, t.Address, t.NextOfKin,
		t.ChiefComplaint, t.PainLevel, t.BloodPressureSys, t.BloodPressureDia, t.HeartRate,
		t.Temperature, t.OxygenSaturation, t.Allergies, t.Medications, t.MedicalHistory, t.Notes,
		t.AssignedNurse, t.TriageNurse, t.Score, int(t.RecommendedPriority), string(t.Severity), string(t.Sentiment),
		t.Reasons, int(t.FinalPriority), t.OverrideReason, t.TriageTime,
	).Scan(&t.CreatedAt, &t.UpdatedAt)
}

func (r *triageRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*TriageRecord, error) {
	return r.scanTriage(r.conn(ctx).QueryRow(ctx, `SELECT `+triageCols+` FROM triage_record WHERE id = $1`, id))
}

func (r *triageRepoPG) UpdateFinalPriority(ctx context.Context, id uuid.UUID, p Priority, reason *string) error {
	tag, err := r.conn(ctx).Exec(ctx, `
		UPDATE triage_record SET final_priority = $2, override_reason = $3, updated_at = NOW()
		WHERE id = $1`, id, int(p), reason)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return pgx.ErrNoRows
	}
	return nil
}

func (r *triageRepoPG) Delete(ctx context.Context, id uuid.UUID) error {
	_, err := r.conn(ctx).Exec(ctx, `DELETE FROM triage_record WHERE id = $1`, id)
	return err
}

func (r *triageRepoPG) List(ctx context.Context, limit, offset int) ([]*TriageRecord, int, error) {
	return r.Search(ctx, nil, limit, offset)
}

func (r *triageRepoPG) ListByPatient(ctx context.Context, patientID uuid.UUID, limit, offset int) ([]*TriageRecord, int, error) {
	return r.Search(ctx, map[string]string{"patient_id": patientID.String()}, limit, offset)
}

func (r *triageRepoPG) Search(ctx context.Context, params map[string]string, limit, offset int) ([]*TriageRecord, int, error) {
	where := ` WHERE 1=1`
	var args []interface{}
	idx := 1

	for _, f := range searchFilters {
		if v, ok := params[f.param]; ok && v != "" {
			where += fmt.Sprintf(` AND %s = $%d`, f.column, idx)
			args = append(args, v)
			idx++
		}
	}

	var total int
	if err := r.conn(ctx).QueryRow(ctx, `SELECT COUNT(*) FROM triage_record`+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	query := `SELECT ` + triageCols + ` FROM triage_record` + where +
		fmt.Sprintf(` ORDER BY final_priority ASC, triage_time DESC LIMIT $%d OFFSET $%d`, idx, idx+1)
	args = append(args, limit, offset)

	rows, err := r.conn(ctx).Query(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	var items []*TriageRecord
	for rows.Next() {
		t, err := r.scanTriage(rows)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, t)
	}
	return items, total, rows.Err()
}
