package queue

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
	Begin(ctx context.Context) (pgx.Tx, error)
}

type visitRepoPG struct{ pool *pgxpool.Pool }

func NewVisitRepoPG(pool *pgxpool.Pool) VisitRepository { return &visitRepoPG{pool: pool} }

func (r *visitRepoPG) conn(ctx context.Context) queryable {
	if c := db.ConnFromContext(ctx); c != nil {
		return c
	}
	return r.pool
}

const visitCols = `id, triage_record_id, patient_id, patient_name, age, gender, chief_complaint,
	priority, sentiment, status, room, assigned_nurse, arrival_time, completed_at, created_at, updated_at`

var visitFilters = []struct{ param, column string }{
	{"status", "status"},
	{"priority", "priority"},
	{"patient_id", "patient_id"},
	{"assigned_nurse", "assigned_nurse"},
}

func (r *visitRepoPG) scanVisit(row pgx.Row) (*Visit, error) {
	var v Visit
	err := row.Scan(&v.ID, &v.TriageRecordID, &v.PatientID, &v.PatientName, &v.Age, &v.Gender, &v.ChiefComplaint,
		&v.Priority, &v.Sentiment, &v.Status, &v.Room, &v.AssignedNurse, &v.ArrivalTime, &v.CompletedAt,
		&v.CreatedAt, &v.UpdatedAt)
	return &v, err
}

func insertChange(ctx context.Context, tx pgx.Tx, c *StatusChange) error {
	c.ID = uuid.New()
	return tx.QueryRow(ctx, `
		INSERT INTO ed_visit_status_history (id, ed_visit_id, from_status, to_status, changed_by, note)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING changed_at`,
		c.ID, c.VisitID, c.FromStatus, string(c.ToStatus), c.ChangedBy, c.Note,
	).Scan(&c.ChangedAt)
}

func (r *visitRepoPG) Create(ctx context.Context, v *Visit, first *StatusChange) error {
	v.ID = uuid.New()
	return pgx.BeginFunc(ctx, r.conn(ctx), func(tx pgx.Tx) error {
		err := tx.QueryRow(ctx, `
			INSERT INTO ed_visit (id, triage_record_id, patient_id, patient_name, age, gender, chief_complaint,
				priority, sentiment, status, room, assigned_nurse, arrival_time)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
			RETURNING created_at, updated_at`,
			v.ID, v.TriageRecordID, v.PatientID, v.PatientName, v.Age, v.Gender, v.ChiefComplaint,
			v.Priority, v.Sentiment, string(v.Status), v.Room, v.AssignedNurse, v.ArrivalTime,
		).Scan(&v.CreatedAt, &v.UpdatedAt)
		if err != nil {
			return err
		}
		if first == nil {
			return nil
		}
		first.VisitID = v.ID
		return insertChange(ctx, tx, first)
	})
}

func (r *visitRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*Visit, error) {
	return r.scanVisit(r.conn(ctx).QueryRow(ctx, `SELECT `+visitCols+` FROM ed_visit WHERE id = $1`, id))
}

func (r *visitRepoPG) UpdateStatus(ctx context.Context, c *StatusChange) error {
	var from interface{}
	if c.FromStatus != nil {
		from = string(*c.FromStatus)
	}
	return pgx.BeginFunc(ctx, r.conn(ctx), func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, `
			UPDATE ed_visit SET status = $2,
				completed_at = CASE WHEN $4 THEN NOW() ELSE NULL END,
				updated_at = NOW()
			WHERE id = $1 AND status = $3`,
			c.VisitID, string(c.ToStatus), from, c.ToStatus.Final())
		if err != nil {
			return err
		}
		if tag.RowsAffected() == 0 {
			return pgx.ErrNoRows
		}
		return insertChange(ctx, tx, c)
	})
}

func (r *visitRepoPG) AssignRoom(ctx context.Context, id uuid.UUID, room string) error {
	tag, err := r.conn(ctx).Exec(ctx, `UPDATE ed_visit SET room = $2, updated_at = NOW() WHERE id = $1`, id, room)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return pgx.ErrNoRows
	}
	return nil
}

func (r *visitRepoPG) UpdatePriorityByTriage(ctx context.Context, triageRecordID uuid.UUID, priority int) (*Visit, error) {
	return r.scanVisit(r.conn(ctx).QueryRow(ctx, `
		UPDATE ed_visit SET priority = $2, updated_at = NOW()
		WHERE triage_record_id = $1 AND status <> $3
		RETURNING `+visitCols,
		triageRecordID, priority, string(StatusComplete)))
}

func (r *visitRepoPG) Delete(ctx context.Context, id uuid.UUID) error {
	_, err := r.conn(ctx).Exec(ctx, `DELETE FROM ed_visit WHERE id = $1`, id)
	return err
}

func (r *visitRepoPG) collect(rows pgx.Rows) ([]*Visit, error) {
	defer rows.Close()
	var items []*Visit
	for rows.Next() {
		v, err := r.scanVisit(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, v)
	}
	return items, rows.Err()
}

func (r *visitRepoPG) ListActive(ctx context.Context) ([]*Visit, error) {
	rows, err := r.conn(ctx).Query(ctx, `SELECT `+visitCols+` FROM ed_visit
		WHERE status <> 'Complete' ORDER BY priority ASC, arrival_time ASC`)
	if err != nil {
		return nil, err
	}
	return r.collect(rows)
}

func (r *visitRepoPG) Search(ctx context.Context, params map[string]string, limit, offset int) ([]*Visit, int, error) {
	where := ` WHERE 1=1`
	var args []interface{}
	idx := 1
	for _, f := range visitFilters {
		if v, ok := params[f.param]; ok && v != "" {
			where += fmt.Sprintf(` AND %s = $%d`, f.column, idx)
			args = append(args, v)
			idx++
		}
	}

	var total int
	if err := r.conn(ctx).QueryRow(ctx, `SELECT COUNT(*) FROM ed_visit`+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	query := `SELECT ` + visitCols + ` FROM ed_visit` + where +
		fmt.Sprintf(` ORDER BY arrival_time DESC LIMIT $%d OFFSET $%d`, idx, idx+1)
	args = append(args, limit, offset)

	rows, err := r.conn(ctx).Query(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	items, err := r.collect(rows)
	return items, total, err
}

func (r *visitRepoPG) GetStatusHistory(ctx context.Context, visitID uuid.UUID) ([]*StatusChange, error) {
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT id, ed_visit_id, from_status, to_status, changed_by, note, changed_at
		FROM ed_visit_status_history WHERE ed_visit_id = $1 ORDER BY changed_at ASC`, visitID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []*StatusChange
	for rows.Next() {
		var c StatusChange
		if err := rows.Scan(&c.ID, &c.VisitID, &c.FromStatus, &c.ToStatus, &c.ChangedBy, &c.Note, &c.ChangedAt); err != nil {
			return nil, err
		}
		items = append(items, &c)
	}
	return items, rows.Err()
}
