package repo

import (
	"context"
	"database/sql"
	"errors"
	"strings"

	"github.com/ferangarita01/rentman-sub000/internal/domain"
)

// InsertAgent registers an agent key. Agents are immutable once stored.
func (r Repo) InsertAgent(ctx context.Context, tx *sql.Tx, a domain.Agent) error {
	if strings.TrimSpace(a.ID) == "" {
		return errors.New("id required")
	}
	if strings.TrimSpace(a.PublicKey) == "" {
		return errors.New("public_key required")
	}
	_, err := r.conn(tx).ExecContext(ctx, r.q(`INSERT INTO agents(id,name,public_key,created_at) VALUES (?,?,?,?)`),
		a.ID, nullable(a.Name), a.PublicKey, a.CreatedAt)
	return err
}

func (r Repo) GetAgent(ctx context.Context, id string) (domain.Agent, error) {
	var a domain.Agent
	err := r.DB.QueryRowContext(ctx, r.q(`SELECT id,COALESCE(name,''),public_key,created_at FROM agents WHERE id=?`), id).
		Scan(&a.ID, &a.Name, &a.PublicKey, &a.CreatedAt)
	if err == sql.ErrNoRows {
		return a, ErrNotFound
	}
	return a, err
}

func (r Repo) ListAgents(ctx context.Context) ([]domain.Agent, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT id,COALESCE(name,''),public_key,created_at FROM agents ORDER BY created_at DESC, id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Agent
	for rows.Next() {
		var a domain.Agent
		if err := rows.Scan(&a.ID, &a.Name, &a.PublicKey, &a.CreatedAt); err != nil {
			return nil, err
		}
		res = append(res, a)
	}
	return res, rows.Err()
}
