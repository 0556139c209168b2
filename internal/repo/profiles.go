package repo

import (
	"context"
	"database/sql"

	"github.com/ferangarita01/rentman-sub000/internal/domain"
)

// UpsertProfile creates or updates a profile. Empty fields keep their stored value.
func (r Repo) UpsertProfile(ctx context.Context, tx *sql.Tx, p domain.Profile) error {
	_, err := r.conn(tx).ExecContext(ctx, r.q(`INSERT INTO profiles(user_id,display_name,stripe_account_id,push_token,created_at,updated_at) VALUES (?,?,?,?,?,?)
ON CONFLICT(user_id) DO UPDATE SET
  display_name=COALESCE(excluded.display_name, profiles.display_name),
  stripe_account_id=COALESCE(excluded.stripe_account_id, profiles.stripe_account_id),
  push_token=COALESCE(excluded.push_token, profiles.push_token),
  updated_at=excluded.updated_at`),
		p.UserID, nullable(p.DisplayName), nullable(p.StripeAccountID), nullable(p.PushToken), p.CreatedAt, p.UpdatedAt)
	return err
}

func (r Repo) GetProfile(ctx context.Context, tx *sql.Tx, userID string) (domain.Profile, error) {
	var p domain.Profile
	err := r.conn(tx).QueryRowContext(ctx, r.q(`SELECT user_id,COALESCE(display_name,''),COALESCE(stripe_account_id,''),COALESCE(push_token,''),created_at,updated_at FROM profiles WHERE user_id=?`), userID).
		Scan(&p.UserID, &p.DisplayName, &p.StripeAccountID, &p.PushToken, &p.CreatedAt, &p.UpdatedAt)
	if err == sql.ErrNoRows {
		return p, ErrNotFound
	}
	return p, err
}
