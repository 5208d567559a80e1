package database

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"sort"
	"strconv"
	"time"

	"essay-grader/internal/models"
	"essay-grader/internal/services"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	log "github.com/sirupsen/logrus"
)

//go:embed migrations/*.sql
var migrationFiles embed.FS

// NewPool creates a pgxpool and verifies connectivity.
func NewPool(ctx context.Context, dsn string) (*pgxpool.Pool, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("pgxpool.New: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres ping: %w", err)
	}
	return pool, nil
}

// Migrate applies the embedded schema files in name order. Every statement is idempotent.
func Migrate(ctx context.Context, pool *pgxpool.Pool) error {
	names, err := fs.Glob(migrationFiles, "migrations/*.sql")
	if err != nil {
		return err
	}
	sort.Strings(names)
	for _, name := range names {
		sql, err := migrationFiles.ReadFile(name)
		if err != nil {
			return fmt.Errorf("read %s: %w", name, err)
		}
		if _, err := pool.Exec(ctx, string(sql)); err != nil {
			return fmt.Errorf("apply %s: %w", name, err)
		}
		log.WithField("migration", name).Debug("migration applied")
	}
	return nil
}

// AccountStore implements account and points storage on PostgreSQL
type AccountStore struct {
	pool *pgxpool.Pool
}

var _ services.AccountRepository = (*AccountStore)(nil)

// NewAccountStore wraps a pgxpool
func NewAccountStore(pool *pgxpool.Pool) *AccountStore {
	return &AccountStore{pool: pool}
}

// uniqueViolation is the SQLSTATE of a unique constraint failure
const uniqueViolation = "23505"

const userColumns = `id, COALESCE(phone, ''), COALESCE(open_id, ''), points_balance, last_login_at, created_at`

func scanUser(row pgx.Row) (*models.User, error) {
	var u models.User
	if err := row.Scan(&u.ID, &u.Phone, &u.OpenID, &u.PointsBalance, &u.LastLoginAt, &u.CreatedAt); err != nil {
		return nil, err
	}
	return &u, nil
}

// UpsertUser creates the user on first login and stamps last_login_at. A
// phone login that carries an open id links it to the account.
func (s *AccountStore) UpsertUser(ctx context.Context, phone, openID string) (*models.User, error) {
	var (
		query string
		args  []interface{}
	)
	if phone != "" {
		query = `INSERT INTO users (phone, open_id, last_login_at) VALUES ($1, NULLIF($2, ''), NOW())
			ON CONFLICT (phone) DO UPDATE SET open_id = COALESCE(EXCLUDED.open_id, users.open_id),
				last_login_at = NOW(), updated_at = NOW()
			RETURNING ` + userColumns
		args = []interface{}{phone, openID}
	} else {
		query = `INSERT INTO users (open_id, last_login_at) VALUES ($1, NOW())
			ON CONFLICT (open_id) DO UPDATE SET last_login_at = NOW(), updated_at = NOW()
			RETURNING ` + userColumns
		args = []interface{}{openID}
	}

	user, err := scanUser(s.pool.QueryRow(ctx, query, args...))
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation && pgErr.ConstraintName == "users_open_id_key" {
			return nil, &models.InvalidInputError{Message: services.OpenIDTakenMessage}
		}
		return nil, fmt.Errorf("upsert user: %w", err)
	}
	return user, nil
}

// GetUser loads a user by id
func (s *AccountStore) GetUser(ctx context.Context, userID int64) (*models.User, error) {
	user, err := scanUser(s.pool.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE id = $1`, userID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, &models.UserNotFoundError{Key: strconv.FormatInt(userID, 10)}
		}
		return nil, fmt.Errorf("get user %d: %w", userID, err)
	}
	return user, nil
}

// inTx runs fn in a transaction, committing only when fn returns nil
func (s *AccountStore) inTx(ctx context.Context, fn func(tx pgx.Tx) error) error {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if err := fn(tx); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

func lockBalance(ctx context.Context, tx pgx.Tx, where string, arg interface{}) (int64, int, error) {
	var (
		id      int64
		balance int
	)
	err := tx.QueryRow(ctx, `SELECT id, points_balance FROM users WHERE `+where+` FOR UPDATE`, arg).Scan(&id, &balance)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, 0, &models.UserNotFoundError{Key: fmt.Sprint(arg)}
		}
		return 0, 0, err
	}
	return id, balance, nil
}

func writeLedger(ctx context.Context, tx pgx.Tx, userID int64, newBalance, amount int, txType models.TransactionType, description string) error {
	if _, err := tx.Exec(ctx, `UPDATE users SET points_balance = $1, updated_at = NOW() WHERE id = $2`, newBalance, userID); err != nil {
		return fmt.Errorf("update balance: %w", err)
	}
	_, err := tx.Exec(ctx,
		`INSERT INTO points_transactions (user_id, type, amount, description) VALUES ($1, $2, $3, $4)`,
		userID, string(txType), amount, description)
	if err != nil {
		return fmt.Errorf("insert transaction: %w", err)
	}
	return nil
}

// ApplyPoints adds amount (negative to deduct) to the balance. Deductions
// never take the balance below zero.
func (s *AccountStore) ApplyPoints(ctx context.Context, userID int64, amount int, txType models.TransactionType, description string) (int, error) {
	var newBalance int
	err := s.inTx(ctx, func(tx pgx.Tx) error {
		id, balance, err := lockBalance(ctx, tx, "id = $1", userID)
		if err != nil {
			return err
		}
		if amount < 0 && balance+amount < 0 {
			return &models.InsufficientPointsError{UserID: userID, Balance: balance, Required: -amount}
		}
		newBalance = balance + amount
		return writeLedger(ctx, tx, id, newBalance, amount, txType, description)
	})
	return newBalance, err
}

// AdjustByPhone applies an administrative adjustment
func (s *AccountStore) AdjustByPhone(ctx context.Context, phone string, amount int, reason string) (int, error) {
	var newBalance int
	err := s.inTx(ctx, func(tx pgx.Tx) error {
		id, balance, err := lockBalance(ctx, tx, "phone = $1", phone)
		if err != nil {
			return err
		}
		newBalance = balance + amount
		return writeLedger(ctx, tx, id, newBalance, amount, models.TransactionSystemAdjust, reason)
	})
	return newBalance, err
}

// RedeemCode marks the code used and credits its value, all under row locks
func (s *AccountStore) RedeemCode(ctx context.Context, userID int64, code string, now time.Time) (int, int, error) {
	var points, newBalance int
	err := s.inTx(ctx, func(tx pgx.Tx) error {
		var (
			isUsed   bool
			expireAt time.Time
		)
		err := tx.QueryRow(ctx,
			`SELECT points_value, is_used, expire_at FROM beta_codes WHERE code = $1 FOR UPDATE`, code,
		).Scan(&points, &isUsed, &expireAt)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return &models.BetaCodeError{Code: code, Reason: models.BetaCodeNotFound}
			}
			return fmt.Errorf("lookup code: %w", err)
		}
		if isUsed {
			return &models.BetaCodeError{Code: code, Reason: models.BetaCodeAlreadyUsed}
		}
		if now.After(expireAt) {
			return &models.BetaCodeError{Code: code, Reason: models.BetaCodeExpired}
		}

		id, balance, err := lockBalance(ctx, tx, "id = $1", userID)
		if err != nil {
			return err
		}
		if _, err := tx.Exec(ctx,
			`UPDATE beta_codes SET is_used = TRUE, used_by_user_id = $1, used_at = $2 WHERE code = $3`,
			id, now, code); err != nil {
			return fmt.Errorf("mark code used: %w", err)
		}
		newBalance = balance + points
		return writeLedger(ctx, tx, id, newBalance, points, models.TransactionRedeem, "REDEEM:"+code)
	})
	if err != nil {
		return 0, 0, err
	}
	return points, newBalance, nil
}

// InsertBetaCodes stores a batch of codes in one round trip
func (s *AccountStore) InsertBetaCodes(ctx context.Context, codes []models.BetaCode) error {
	rows := make([][]interface{}, len(codes))
	for i, c := range codes {
		rows[i] = []interface{}{c.Code, c.PointsValue, c.ExpireAt, c.CreatedAt}
	}
	_, err := s.pool.CopyFrom(ctx,
		pgx.Identifier{"beta_codes"},
		[]string{"code", "points_value", "expire_at", "created_at"},
		pgx.CopyFromRows(rows),
	)
	if err != nil {
		return fmt.Errorf("insert beta codes: %w", err)
	}
	return nil
}

// ListTransactions returns the newest ledger entries for a user
func (s *AccountStore) ListTransactions(ctx context.Context, userID int64, limit int) ([]models.PointsTransaction, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, user_id, type, amount, description, created_at
		FROM points_transactions
		WHERE user_id = $1
		ORDER BY created_at DESC, id DESC
		LIMIT $2
	`, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("list transactions: %w", err)
	}
	defer rows.Close()

	var out []models.PointsTransaction
	for rows.Next() {
		var t models.PointsTransaction
		var typ string
		if err := rows.Scan(&t.ID, &t.UserID, &typ, &t.Amount, &t.Description, &t.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan transaction: %w", err)
		}
		t.Type = models.TransactionType(typ)
		out = append(out, t)
	}
	return out, rows.Err()
}
