package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/gitpan/Authen-Simple-IMAP/internal/models"
)

var ErrNotFound = errors.New("not found")

type Store struct {
	db     *sql.DB
	driver string
}

// New wraps db. driver selects the placeholder style: "pgx" uses $n,
// everything else uses ?.
func New(db *sql.DB, driver string) *Store { return &Store{db: db, driver: driver} }

func (s *Store) InsertAttempt(ctx context.Context, a models.Attempt) (models.Attempt, error) {
	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	if a.CreatedAt.IsZero() {
		a.CreatedAt = time.Now().UTC()
	}
	q := s.rebind(`INSERT INTO auth_attempts(id,username,remote_ip,result,reason,request_id,created_at) VALUES(?,?,?,?,?,?,?)`)
	_, err := s.db.ExecContext(ctx, q, a.ID, a.Username, a.RemoteIP, string(a.Result), a.Reason, nullIfEmpty(a.RequestID), a.CreatedAt)
	return a, err
}

func (s *Store) GetAttempt(ctx context.Context, id string) (models.Attempt, error) {
	q := s.rebind(`SELECT id,username,remote_ip,result,reason,request_id,created_at FROM auth_attempts WHERE id=?`)
	a, err := scanAttempt(s.db.QueryRowContext(ctx, q, id))
	if err == sql.ErrNoRows {
		return models.Attempt{}, ErrNotFound
	}
	return a, err
}

func (s *Store) ListAttempts(ctx context.Context, limit, offset int) ([]models.Attempt, error) {
	q := s.rebind(`SELECT id,username,remote_ip,result,reason,request_id,created_at FROM auth_attempts ORDER BY created_at DESC LIMIT ? OFFSET ?`)
	rows, err := s.db.QueryContext(ctx, q, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make([]models.Attempt, 0, limit)
	for rows.Next() {
		a, err := scanAttempt(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// CountFailuresSince counts rejected attempts for username after t.
func (s *Store) CountFailuresSince(ctx context.Context, username string, t time.Time) (int, error) {
	q := s.rebind(`SELECT COUNT(1) FROM auth_attempts WHERE username=? AND result=? AND created_at>=?`)
	var n int
	if err := s.db.QueryRowContext(ctx, q, username, string(models.AttemptRejected), t.UTC()).Scan(&n); err != nil {
		return 0, err
	}
	return n, nil
}

func (s *Store) CleanupAttemptsBefore(ctx context.Context, before time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, s.rebind(`DELETE FROM auth_attempts WHERE created_at<?`), before.UTC())
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanAttempt(r rowScanner) (models.Attempt, error) {
	var a models.Attempt
	var result string
	var reason, requestID sql.NullString
	if err := r.Scan(&a.ID, &a.Username, &a.RemoteIP, &result, &reason, &requestID, &a.CreatedAt); err != nil {
		return models.Attempt{}, err
	}
	a.Result = models.AttemptResult(result)
	if reason.Valid {
		v := reason.String
		a.Reason = &v
	}
	a.RequestID = requestID.String
	a.CreatedAt = a.CreatedAt.UTC()
	return a, nil
}

func (s *Store) rebind(q string) string {
	if !strings.Contains(strings.ToLower(s.driver), "pgx") && !strings.Contains(strings.ToLower(s.driver), "postgres") {
		return q
	}
	var b strings.Builder
	n := 0
	for _, r := range q {
		if r == '?' {
			n++
			fmt.Fprintf(&b, "$%d", n)
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

func nullIfEmpty(v string) any {
	if v == "" {
		return nil
	}
	return v
}
