package session

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"lockgate/cmd/internal/ids"
)

// PostgresSource implements Source over the auth service's lockgate.sessions table.
//
// The device adopts one session ID at a time (Adopt). Presence is true while that row exists,
// is not revoked and has not expired. Run keeps presence current via LISTEN/NOTIFY plus a
// periodic recheck for expiry.
type PostgresSource struct {
	pool *pgxpool.Pool
	cfg  Config
	log  *slog.Logger
	now  func() time.Time
	fan  *fanout

	mu        sync.Mutex
	sessionID string
	present   bool
}

// NewPostgresSource creates a Postgres-backed session observer.
func NewPostgresSource(pool *pgxpool.Pool, cfg Config, log *slog.Logger) *PostgresSource {
	if log == nil {
		log = slog.Default()
	}
	def := DefaultConfig()
	if cfg.Channel == "" {
		cfg.Channel = def.Channel
	}
	if cfg.RecheckInterval <= 0 {
		cfg.RecheckInterval = def.RecheckInterval
	}
	if cfg.ReconnectMin <= 0 {
		cfg.ReconnectMin = def.ReconnectMin
	}
	if cfg.ReconnectMax < cfg.ReconnectMin {
		cfg.ReconnectMax = max(def.ReconnectMax, cfg.ReconnectMin)
	}
	return &PostgresSource{
		pool: pool,
		cfg:  cfg,
		log:  log,
		now:  time.Now,
		fan:  newFanout(log),
	}
}

// SessionID returns the adopted session ID ("" when none).
func (s *PostgresSource) SessionID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sessionID
}

// Adopt makes sessionID the device's remote session and re-evaluates presence.
func (s *PostgresSource) Adopt(ctx context.Context, sessionID string) error {
	if !ids.Valid(sessionID) {
		return ErrInvalidSessionID
	}

	s.mu.Lock()
	switched := s.present && s.sessionID != sessionID
	s.sessionID = sessionID
	s.mu.Unlock()

	s.log.Info("session.adopt", "session_id", sessionID, "switched", switched)
	if switched {
		// End the previous session for subscribers before the new one is looked up.
		s.setPresent(false)
	}
	return s.refresh(ctx)
}

// Snapshot implements Source.
func (s *PostgresSource) Snapshot(ctx context.Context) (bool, error) {
	id := s.SessionID()
	present, err := s.lookup(ctx, id)
	if err != nil {
		return false, err
	}

	s.mu.Lock()
	if s.sessionID == id {
		s.present = present
	}
	s.mu.Unlock()
	return present, nil
}

// Subscribe implements Source.
func (s *PostgresSource) Subscribe(fn func(bool)) func() {
	return s.fan.subscribe(fn)
}

// SignOut revokes the adopted session and notifies other observers of it.
// Local presence drops to false even if the database call fails.
func (s *PostgresSource) SignOut(ctx context.Context) error {
	s.mu.Lock()
	id := s.sessionID
	s.sessionID = ""
	s.mu.Unlock()

	var err error
	if id != "" {
		err = pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
			if _, err := tx.Exec(ctx, `
				UPDATE lockgate.sessions
				SET revoked_at = COALESCE(revoked_at, $2),
				    revocation_reason = COALESCE(revocation_reason, 'sign_out')
				WHERE id = $1
			`, id, s.now().UTC()); err != nil {
				return err
			}
			_, err := tx.Exec(ctx, `SELECT pg_notify($1, $2)`, s.cfg.Channel, id)
			return err
		})
		if err != nil {
			s.log.Warn("session.signout.fail", "session_id", id, "err", err)
		} else {
			s.log.Info("session.signout", "session_id", id)
		}
	}

	s.setPresent(false)
	return err
}

// Run listens for session changes until ctx is done, reconnecting with backoff.
func (s *PostgresSource) Run(ctx context.Context) error {
	backoff := s.cfg.ReconnectMin
	for {
		err := s.listen(ctx)
		if ctx.Err() != nil {
			return nil
		}
		s.log.Warn("session.listen.fail", "err", err, "retry_in", backoff)

		t := time.NewTimer(backoff)
		select {
		case <-ctx.Done():
			t.Stop()
			return nil
		case <-t.C:
		}
		backoff = min(backoff*2, s.cfg.ReconnectMax)
	}
}

func (s *PostgresSource) listen(ctx context.Context) error {
	conn, err := s.pool.Acquire(ctx)
	if err != nil {
		return err
	}
	defer conn.Release()

	if _, err := conn.Exec(ctx, "LISTEN "+pgx.Identifier{s.cfg.Channel}.Sanitize()); err != nil {
		return err
	}
	s.log.Debug("session.listen.start", "channel", s.cfg.Channel)

	// Changes may have been missed while disconnected.
	if err := s.refresh(ctx); err != nil {
		return err
	}

	for {
		waitCtx, cancel := context.WithTimeout(ctx, s.cfg.RecheckInterval)
		n, err := conn.Conn().WaitForNotification(waitCtx)
		cancel()

		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if !errors.Is(err, context.DeadlineExceeded) || conn.Conn().IsClosed() {
				return err
			}
			if err := s.refresh(ctx); err != nil {
				return err
			}
			continue
		}

		if n.Payload != "" && n.Payload != s.SessionID() {
			continue
		}
		if err := s.refresh(ctx); err != nil {
			return err
		}
	}
}

func (s *PostgresSource) refresh(ctx context.Context) error {
	id := s.SessionID()
	present, err := s.lookup(ctx, id)
	if err != nil {
		return err
	}
	if id != s.SessionID() {
		// Adopted or signed out concurrently; that path re-evaluates.
		return nil
	}
	s.setPresent(present)
	return nil
}

func (s *PostgresSource) lookup(ctx context.Context, sessionID string) (bool, error) {
	if sessionID == "" {
		return false, nil
	}
	var present bool
	err := s.pool.QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1
			FROM lockgate.sessions
			WHERE id = $1
			  AND revoked_at IS NULL
			  AND expires_at > $2
		)
	`, sessionID, s.now().UTC()).Scan(&present)
	return present, err
}

func (s *PostgresSource) setPresent(present bool) {
	s.mu.Lock()
	changed := s.present != present
	s.present = present
	s.mu.Unlock()

	if changed {
		s.log.Info("session.presence.change", "present", present)
		s.fan.publish(present)
	}
}
