package repo

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/ferangarita01/rentman-sub000/internal/domain"
)

const proofColumns = `id,task_id,human_id,proof_type,title,COALESCE(description,''),file_url,location_data_json,ai_validation_json,status,reviewed_by,reviewed_at,rejection_reason,created_at`

func scanProof(row rowScanner) (domain.TaskProof, error) {
	var (
		p                                       domain.TaskProof
		fileURL, location, aiJSON               sql.NullString
		reviewedBy, reviewedAt, rejectionReason sql.NullString
	)
	err := row.Scan(&p.ID, &p.TaskID, &p.HumanID, &p.ProofType, &p.Title, &p.Description, &fileURL, &location, &aiJSON,
		&p.Status, &reviewedBy, &reviewedAt, &rejectionReason, &p.CreatedAt)
	if err == sql.ErrNoRows {
		return p, ErrNotFound
	}
	if err != nil {
		return p, err
	}
	p.FileURL = ptrFromNull(fileURL)
	p.ReviewedBy = ptrFromNull(reviewedBy)
	p.ReviewedAt = ptrFromNull(reviewedAt)
	p.RejectionReason = ptrFromNull(rejectionReason)
	if p.LocationData, err = decodeMap(location); err != nil {
		return p, fmt.Errorf("decode location data: %w", err)
	}
	if aiJSON.Valid && aiJSON.String != "" {
		var v domain.AIValidation
		if err := json.Unmarshal([]byte(aiJSON.String), &v); err != nil {
			return p, fmt.Errorf("decode ai validation: %w", err)
		}
		p.AIValidation = &v
	}
	return p, nil
}

func (r Repo) InsertProof(ctx context.Context, tx *sql.Tx, p domain.TaskProof) error {
	location, err := encodeJSON(p.LocationData)
	if err != nil {
		return err
	}
	var ai any
	if p.AIValidation != nil {
		if ai, err = encodeJSON(p.AIValidation); err != nil {
			return err
		}
	}
	_, err = r.conn(tx).ExecContext(ctx, r.q(`INSERT INTO task_proofs(id,task_id,human_id,proof_type,title,description,file_url,location_data_json,ai_validation_json,status,created_at)
VALUES (?,?,?,?,?,?,?,?,?,?,?)`),
		p.ID, p.TaskID, p.HumanID, p.ProofType, p.Title, nullable(p.Description), nullableStringPtr(p.FileURL),
		location, ai, p.Status, p.CreatedAt)
	return err
}

func (r Repo) GetProof(ctx context.Context, tx *sql.Tx, id string) (domain.TaskProof, error) {
	return scanProof(r.conn(tx).QueryRowContext(ctx, r.q(`SELECT `+proofColumns+` FROM task_proofs WHERE id=?`), id))
}

func (r Repo) ListProofs(ctx context.Context, tx *sql.Tx, taskID string) ([]domain.TaskProof, error) {
	rows, err := r.conn(tx).QueryContext(ctx, r.q(`SELECT `+proofColumns+` FROM task_proofs WHERE task_id=? ORDER BY created_at, id`), taskID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.TaskProof
	for rows.Next() {
		p, err := scanProof(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, p)
	}
	return res, rows.Err()
}

// ReviewProof moves a pending proof to status. Already-reviewed proofs yield ErrConflict.
func (r Repo) ReviewProof(ctx context.Context, tx *sql.Tx, id, status, reviewerID, reviewedAt string, rejectionReason *string) error {
	res, err := r.conn(tx).ExecContext(ctx, r.q(`UPDATE task_proofs SET status=?, reviewed_by=?, reviewed_at=?, rejection_reason=? WHERE id=? AND status=?`),
		status, reviewerID, reviewedAt, nullableStringPtr(rejectionReason), id, domain.ProofPending)
	return expectOne(res, err, ErrConflict)
}

// ListStaleProofs returns pending proofs created at or before cutoff whose
// task is not disputed.
func (r Repo) ListStaleProofs(ctx context.Context, cutoff string, limit int) ([]domain.TaskProof, error) {
	query := `SELECT p.id,p.task_id,p.human_id,p.proof_type,p.title,COALESCE(p.description,''),p.file_url,p.location_data_json,p.ai_validation_json,p.status,p.reviewed_by,p.reviewed_at,p.rejection_reason,p.created_at
FROM task_proofs p JOIN tasks t ON t.id = p.task_id
WHERE p.status=? AND p.created_at<=? AND t.status<>? ORDER BY p.created_at, p.id`
	args := []any{domain.ProofPending, cutoff, domain.TaskDisputed}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}
	rows, err := r.DB.QueryContext(ctx, r.q(query), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.TaskProof
	for rows.Next() {
		p, err := scanProof(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, p)
	}
	return res, rows.Err()
}
