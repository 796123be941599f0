package session

import (
	"context"
	"errors"
	"net"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"lockgate/cmd/internal/ids"
)

// Integration tests are enabled when LOCKGATE_DATABASE_URL is set.
// In non-CI runs, unreachable Postgres skips these tests to keep local runs fast.

func TestPostgresSource_AdoptSnapshotSignOut(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	pool := mustPGXPool(ctx, t)
	defer pool.Close()
	mustSchema(ctx, t, pool)

	sessionID := mustInsertSession(ctx, t, pool, time.Now().Add(time.Hour))
	t.Cleanup(func() { cleanupSession(ctx, pool, sessionID) })

	src := NewPostgresSource(pool, DefaultConfig(), nil)

	present, err := src.Snapshot(ctx)
	if err != nil || present {
		t.Fatalf("Snapshot before adopt=%v,%v want false,nil", present, err)
	}

	var events []bool
	src.Subscribe(func(p bool) { events = append(events, p) })

	if err := src.Adopt(ctx, sessionID); err != nil {
		t.Fatalf("Adopt: %v", err)
	}
	present, err = src.Snapshot(ctx)
	if err != nil || !present {
		t.Fatalf("Snapshot after adopt=%v,%v want true,nil", present, err)
	}

	if err := src.SignOut(ctx); err != nil {
		t.Fatalf("SignOut: %v", err)
	}
	if src.SessionID() != "" {
		t.Fatalf("session id should be cleared")
	}

	var revoked bool
	if err := pool.QueryRow(ctx, `SELECT revoked_at IS NOT NULL FROM lockgate.sessions WHERE id = $1`, sessionID).Scan(&revoked); err != nil {
		t.Fatalf("read revoked: %v", err)
	}
	if !revoked {
		t.Fatalf("session row should be revoked")
	}

	if len(events) != 2 || !events[0] || events[1] {
		t.Fatalf("events=%v want [true false]", events)
	}
}

func TestPostgresSource_ExpiredSessionNotPresent(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	pool := mustPGXPool(ctx, t)
	defer pool.Close()
	mustSchema(ctx, t, pool)

	sessionID := mustInsertSession(ctx, t, pool, time.Now().Add(-time.Minute))
	t.Cleanup(func() { cleanupSession(ctx, pool, sessionID) })

	src := NewPostgresSource(pool, DefaultConfig(), nil)
	if err := src.Adopt(ctx, sessionID); err != nil {
		t.Fatalf("Adopt: %v", err)
	}
	present, err := src.Snapshot(ctx)
	if err != nil || present {
		t.Fatalf("Snapshot=%v,%v want false,nil", present, err)
	}
}

func TestPostgresSource_AdoptDifferentSessionSignalsBoundary(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	pool := mustPGXPool(ctx, t)
	defer pool.Close()
	mustSchema(ctx, t, pool)

	first := mustInsertSession(ctx, t, pool, time.Now().Add(time.Hour))
	second := mustInsertSession(ctx, t, pool, time.Now().Add(time.Hour))
	t.Cleanup(func() {
		cleanupSession(ctx, pool, first)
		cleanupSession(ctx, pool, second)
	})

	src := NewPostgresSource(pool, DefaultConfig(), nil)
	var events []bool
	src.Subscribe(func(p bool) { events = append(events, p) })

	if err := src.Adopt(ctx, first); err != nil {
		t.Fatalf("Adopt(first): %v", err)
	}
	if err := src.Adopt(ctx, first); err != nil {
		t.Fatalf("Adopt(first) again: %v", err)
	}
	if err := src.Adopt(ctx, second); err != nil {
		t.Fatalf("Adopt(second): %v", err)
	}

	if len(events) != 3 || !events[0] || events[1] || !events[2] {
		t.Fatalf("events=%v want [true false true]", events)
	}
	if src.SessionID() != second {
		t.Fatalf("session id=%q want %q", src.SessionID(), second)
	}
}

func TestPostgresSource_RunObservesRemoteRevocation(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()
	pool := mustPGXPool(ctx, t)
	defer pool.Close()
	mustSchema(ctx, t, pool)

	sessionID := mustInsertSession(ctx, t, pool, time.Now().Add(time.Hour))
	t.Cleanup(func() { cleanupSession(context.Background(), pool, sessionID) })

	cfg := DefaultConfig()
	cfg.Channel = "lockgate_session_test_" + strings.ToLower(sessionID[20:])
	src := NewPostgresSource(pool, cfg, nil)
	if err := src.Adopt(ctx, sessionID); err != nil {
		t.Fatalf("Adopt: %v", err)
	}

	gone := make(chan struct{})
	src.Subscribe(func(p bool) {
		if !p {
			close(gone)
		}
	})

	runCtx, stop := context.WithCancel(ctx)
	done := make(chan error, 1)
	go func() { done <- src.Run(runCtx) }()

	// Revoke out of band until the listener has attached and observed it.
	tick := time.NewTicker(200 * time.Millisecond)
	defer tick.Stop()
	for {
		_, err := pool.Exec(ctx, `
			WITH r AS (UPDATE lockgate.sessions SET revoked_at = now() WHERE id = $1)
			SELECT pg_notify($2, $1)
		`, sessionID, cfg.Channel)
		if err != nil {
			t.Fatalf("revoke: %v", err)
		}
		select {
		case <-gone:
			stop()
			if err := <-done; err != nil {
				t.Fatalf("Run: %v", err)
			}
			return
		case <-tick.C:
		case <-ctx.Done():
			t.Fatalf("presence change not observed")
		}
	}
}

func TestPostgresSource_AdoptRejectsMalformedID(t *testing.T) {
	t.Parallel()

	src := NewPostgresSource(nil, Config{}, nil)
	if err := src.Adopt(context.Background(), "nope"); !errors.Is(err, ErrInvalidSessionID) {
		t.Fatalf("expected ErrInvalidSessionID, got %v", err)
	}
}

func mustPGXPool(ctx context.Context, t *testing.T) *pgxpool.Pool {
	t.Helper()

	dbURL := os.Getenv("LOCKGATE_DATABASE_URL")
	if dbURL == "" {
		t.Skip("LOCKGATE_DATABASE_URL is not set; skipping Postgres integration test")
	}

	cfg, err := pgxpool.ParseConfig(dbURL)
	if err != nil {
		t.Fatalf("pgxpool.ParseConfig: %v", err)
	}

	cfg.MaxConns = 4
	cfg.MinConns = 0
	cfg.MaxConnLifetime = 30 * time.Second

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		t.Fatalf("pgxpool.NewWithConfig: %v", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		if shouldSkipIntegration(err) {
			t.Skipf("integration test skipped: Postgres unreachable (LOCKGATE_DATABASE_URL set): %v", err)
		}
		t.Fatalf("pool.Ping: %v", err)
	}

	return pool
}

func mustSchema(ctx context.Context, t *testing.T, pool *pgxpool.Pool) {
	t.Helper()

	_, err := pool.Exec(ctx, `
		CREATE SCHEMA IF NOT EXISTS lockgate;
		CREATE TABLE IF NOT EXISTS lockgate.sessions (
			id text PRIMARY KEY,
			user_id text NOT NULL,
			expires_at timestamptz NOT NULL,
			revoked_at timestamptz NULL,
			revocation_reason text NULL
		);
	`)
	if err != nil {
		t.Fatalf("schema: %v", err)
	}
}

func mustInsertSession(ctx context.Context, t *testing.T, pool *pgxpool.Pool, expiresAt time.Time) string {
	t.Helper()

	id, err := ids.NewULID(time.Now())
	if err != nil {
		t.Fatalf("NewULID: %v", err)
	}
	_, err = pool.Exec(ctx, `
		INSERT INTO lockgate.sessions (id, user_id, expires_at)
		VALUES ($1, $2, $3)
	`, id, "user-"+id, expiresAt)
	if err != nil {
		t.Fatalf("insert session: %v", err)
	}
	return id
}

func cleanupSession(ctx context.Context, pool *pgxpool.Pool, id string) {
	_, _ = pool.Exec(ctx, `DELETE FROM lockgate.sessions WHERE id = $1`, id)
}

func shouldSkipIntegration(err error) bool {
	if err == nil {
		return false
	}
	if os.Getenv("CI") != "" {
		return false
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return true
	}
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return true
	}
	msg := strings.ToLower(err.Error())
	if strings.Contains(msg, "connection refused") ||
		strings.Contains(msg, "context deadline exceeded") ||
		strings.Contains(msg, "timeout") ||
		strings.Contains(msg, "dial tcp") ||
		strings.Contains(msg, "no such host") {
		return true
	}
	return false
}
