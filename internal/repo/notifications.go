package repo

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/ferangarita01/rentman-sub000/internal/domain"
)

func (r Repo) InsertNotification(ctx context.Context, n domain.Notification) error {
	data, err := encodeJSON(n.Data)
	if err != nil {
		return err
	}
	_, err = r.DB.ExecContext(ctx, r.q(`INSERT INTO notifications(id,user_id,title,body,data_json,delivered,error,created_at) VALUES (?,?,?,?,?,?,?,?)`),
		n.ID, n.UserID, n.Title, n.Body, data, n.Delivered, nullable(n.Error), n.CreatedAt)
	return err
}

func (r Repo) ListNotifications(ctx context.Context, userID string) ([]domain.Notification, error) {
	rows, err := r.DB.QueryContext(ctx, r.q(`SELECT id,user_id,title,body,data_json,delivered,COALESCE(error,''),created_at FROM notifications WHERE user_id=? ORDER BY created_at, id`), userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Notification
	for rows.Next() {
		var n domain.Notification
		var data sql.NullString
		if err := rows.Scan(&n.ID, &n.UserID, &n.Title, &n.Body, &data, &n.Delivered, &n.Error, &n.CreatedAt); err != nil {
			return nil, err
		}
		if n.Data, err = decodeMap(data); err != nil {
			return nil, fmt.Errorf("decode notification data: %w", err)
		}
		res = append(res, n)
	}
	return res, rows.Err()
}
