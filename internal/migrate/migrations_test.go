package migrate

import (
	"testing"

	"github.com/ferangarita01/rentman-sub000/internal/db"
)

func TestMigrateIsIdempotent(t *testing.T) {
	conn, dialect, err := db.Open(db.Config{Workspace: t.TempDir()})
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer conn.Close()
	if err := Migrate(conn, dialect); err != nil {
		t.Fatalf("first migrate: %v", err)
	}
	if err := Migrate(conn, dialect); err != nil {
		t.Fatalf("second migrate: %v", err)
	}
	var version int
	if err := conn.QueryRow(`SELECT version FROM schema_version`).Scan(&version); err != nil {
		t.Fatalf("read version: %v", err)
	}
	if version != 1 {
		t.Fatalf("expected version 1, got %d", version)
	}
	for _, table := range []string{"tasks", "agents", "task_proofs", "escrow_transactions", "analysis_jobs", "events"} {
		var n int
		if err := conn.QueryRow(`SELECT COUNT(*) FROM ` + table).Scan(&n); err != nil {
			t.Fatalf("table %s missing: %v", table, err)
		}
	}
}

func TestEscrowAmountCheckConstraint(t *testing.T) {
	conn, dialect, err := db.Open(db.Config{Workspace: t.TempDir()})
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer conn.Close()
	if err := Migrate(conn, dialect); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	if _, err := conn.Exec(`INSERT INTO tasks(id,title,requester_id,created_at,updated_at) VALUES ('t1','x','r1','2024-01-01T00:00:00Z','2024-01-01T00:00:00Z')`); err != nil {
		t.Fatalf("insert task: %v", err)
	}
	_, err = conn.Exec(`INSERT INTO escrow_transactions(id,task_id,requester_id,human_id,gross_amount,platform_fee_amount,net_amount,currency,status,stripe_payment_intent_id,held_at)
VALUES ('e1','t1','r1','h1',100,10,80,'usd','held','pi_1','2024-01-01T00:00:00Z')`)
	if err == nil {
		t.Fatalf("expected gross = net + fee check to fail")
	}
}
