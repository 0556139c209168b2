package repo

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/ferangarita01/rentman-sub000/internal/domain"
)

const taskColumns = `id,title,COALESCE(description,''),budget_amount,budget_currency,task_type,requester_id,assigned_human_id,agent_id,signature,status,payment_status,metadata_json,created_at,updated_at,completed_at,disputed_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTask(row rowScanner) (domain.Task, error) {
	var (
		t                          domain.Task
		assigned, agent, signature sql.NullString
		meta                       sql.NullString
		completed, disputed        sql.NullString
	)
	err := row.Scan(&t.ID, &t.Title, &t.Description, &t.BudgetAmount, &t.BudgetCurrency, &t.TaskType, &t.RequesterID,
		&assigned, &agent, &signature, &t.Status, &t.PaymentStatus, &meta, &t.CreatedAt, &t.UpdatedAt, &completed, &disputed)
	if err == sql.ErrNoRows {
		return t, ErrNotFound
	}
	if err != nil {
		return t, err
	}
	t.AssignedHumanID = ptrFromNull(assigned)
	t.AgentID = ptrFromNull(agent)
	t.Signature = ptrFromNull(signature)
	t.CompletedAt = ptrFromNull(completed)
	t.DisputedAt = ptrFromNull(disputed)
	t.Metadata, err = decodeMap(meta)
	if err != nil {
		return t, fmt.Errorf("decode task metadata: %w", err)
	}
	return t, nil
}

func (r Repo) InsertTask(ctx context.Context, tx *sql.Tx, t domain.Task) error {
	meta, err := encodeJSON(t.Metadata)
	if err != nil {
		return err
	}
	if meta == nil {
		meta = "{}"
	}
	_, err = r.conn(tx).ExecContext(ctx, r.q(`INSERT INTO tasks(id,title,description,budget_amount,budget_currency,task_type,requester_id,assigned_human_id,agent_id,signature,status,payment_status,metadata_json,created_at,updated_at)
VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)`),
		t.ID, t.Title, nullable(t.Description), t.BudgetAmount, t.BudgetCurrency, t.TaskType, t.RequesterID,
		nullableStringPtr(t.AssignedHumanID), nullableStringPtr(t.AgentID), nullableStringPtr(t.Signature),
		t.Status, t.PaymentStatus, meta, t.CreatedAt, t.UpdatedAt)
	return err
}

func (r Repo) GetTask(ctx context.Context, id string) (domain.Task, error) {
	return scanTask(r.DB.QueryRowContext(ctx, r.q(`SELECT `+taskColumns+` FROM tasks WHERE id=?`), id))
}

// GetTaskTx reads a task inside tx, locking the row on dialects that support it.
func (r Repo) GetTaskTx(ctx context.Context, tx *sql.Tx, id string, forUpdate bool) (domain.Task, error) {
	return scanTask(tx.QueryRowContext(ctx, r.q(`SELECT `+taskColumns+` FROM tasks WHERE id=?`+r.lockSuffix(forUpdate)), id))
}

type TaskFilters struct {
	Status      string
	RequesterID string
	HumanID     string
	Limit       int
}

func (r Repo) ListTasks(ctx context.Context, f TaskFilters) ([]domain.Task, error) {
	var (
		clauses []string
		args    []any
	)
	if f.Status != "" {
		clauses = append(clauses, "status=?")
		args = append(args, f.Status)
	}
	if f.RequesterID != "" {
		clauses = append(clauses, "requester_id=?")
		args = append(args, f.RequesterID)
	}
	if f.HumanID != "" {
		clauses = append(clauses, "assigned_human_id=?")
		args = append(args, f.HumanID)
	}
	query := `SELECT ` + taskColumns + ` FROM tasks`
	if len(clauses) > 0 {
		query += " WHERE " + strings.Join(clauses, " AND ")
	}
	query += " ORDER BY created_at DESC, id DESC"
	if f.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, f.Limit)
	}
	rows, err := r.DB.QueryContext(ctx, r.q(query), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, t)
	}
	return res, rows.Err()
}

// TaskUpdate lists the columns a transition may write. Nil fields are left untouched.
type TaskUpdate struct {
	Status          string
	PaymentStatus   *string
	AssignedHumanID *string
	Metadata        map[string]any
	CompletedAt     *string
	DisputedAt      *string
	UpdatedAt       string
}

// UpdateTask applies u to the task only while it is still in expectedStatus.
// It returns ErrConflict when another writer moved the task first.
func (r Repo) UpdateTask(ctx context.Context, tx *sql.Tx, id, expectedStatus string, u TaskUpdate) error {
	fields := []string{"status=?", "updated_at=?"}
	args := []any{u.Status, u.UpdatedAt}
	if u.PaymentStatus != nil {
		fields = append(fields, "payment_status=?")
		args = append(args, *u.PaymentStatus)
	}
	if u.AssignedHumanID != nil {
		fields = append(fields, "assigned_human_id=?")
		args = append(args, nullableStringPtr(u.AssignedHumanID))
	}
	if u.Metadata != nil {
		meta, err := encodeJSON(u.Metadata)
		if err != nil {
			return err
		}
		fields = append(fields, "metadata_json=?")
		args = append(args, meta)
	}
	if u.CompletedAt != nil {
		fields = append(fields, "completed_at=?")
		args = append(args, *u.CompletedAt)
	}
	if u.DisputedAt != nil {
		fields = append(fields, "disputed_at=?")
		args = append(args, *u.DisputedAt)
	}
	args = append(args, id, expectedStatus)
	res, err := r.conn(tx).ExecContext(ctx, r.q(fmt.Sprintf(`UPDATE tasks SET %s WHERE id=? AND status=?`, strings.Join(fields, ","))), args...)
	if err := expectOne(res, err, ErrConflict); err != nil {
		if err == ErrConflict {
			var found string
			if scanErr := r.conn(tx).QueryRowContext(ctx, r.q(`SELECT id FROM tasks WHERE id=?`), id).Scan(&found); scanErr == sql.ErrNoRows {
				return ErrNotFound
			}
		}
		return err
	}
	return nil
}

func (r Repo) CountTasksByStatus(ctx context.Context) (map[string]int, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT status, COUNT(*) FROM tasks GROUP BY status`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	res := map[string]int{}
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, err
		}
		res[status] = n
	}
	return res, rows.Err()
}
