package storage

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"time"

	"github.com/golang-migrate/migrate/v4"
	migratesqlite "github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"

	"wavecrate.app/server/internal/logger"
	"wavecrate.app/server/ledger"
	"wavecrate.app/server/models"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

type SQLiteStorage struct {
	db   *sql.DB
	path string
}

// NewSQLiteStorage opens (or creates) the database at path and applies any
// pending migrations. Transactions start in immediate mode so write
// transactions take the database lock up front instead of deadlocking on
// upgrade; the busy timeout lets concurrent writers queue instead of
// failing.
func NewSQLiteStorage(path string) (*SQLiteStorage, error) {
	dsn := fmt.Sprintf("file:%s?_fk=1&_busy_timeout=5000&_journal_mode=WAL&_txlock=immediate", path)
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	s := &SQLiteStorage{db: db, path: path}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	return s, nil
}

func (s *SQLiteStorage) migrate() error {
	source, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return err
	}
	driver, err := migratesqlite.WithInstance(s.db, &migratesqlite.Config{})
	if err != nil {
		return err
	}
	m, err := migrate.NewWithInstance("iofs", source, "sqlite3", driver)
	if err != nil {
		return err
	}
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return err
	}
	return nil
}

func (s *SQLiteStorage) GetUser(ctx context.Context, id string) (*models.User, error) {
	return s.scanUser(s.db.QueryRowContext(ctx,
		`SELECT id, name, email, password_hash, salt, is_admin, credits, created_at, updated_at
		 FROM users WHERE id = ?`, id))
}

func (s *SQLiteStorage) FindUserByName(ctx context.Context, name string) (*models.User, error) {
	return s.scanUser(s.db.QueryRowContext(ctx,
		`SELECT id, name, email, password_hash, salt, is_admin, credits, created_at, updated_at
		 FROM users WHERE name = ?`, name))
}

func (s *SQLiteStorage) scanUser(row *sql.Row) (*models.User, error) {
	var user models.User
	err := row.Scan(
		&user.ID,
		&user.Name,
		&user.Email,
		&user.PasswordHash,
		&user.Salt,
		&user.IsAdmin,
		&user.Credits,
		&user.CreatedAt,
		&user.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &user, nil
}

func (s *SQLiteStorage) SaveUser(ctx context.Context, user *models.User) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO users (id, name, email, password_hash, salt, is_admin, credits, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		user.ID,
		user.Name,
		user.Email,
		user.PasswordHash,
		user.Salt,
		user.IsAdmin,
		user.Credits,
		user.CreatedAt,
		user.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to save user: %w", err)
	}
	return nil
}

func (s *SQLiteStorage) ListUsers(ctx context.Context) ([]*models.User, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, name, email, password_hash, salt, is_admin, credits, created_at, updated_at
		 FROM users ORDER BY created_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("failed to query users: %w", err)
	}
	defer closeRows(rows)

	var users []*models.User
	for rows.Next() {
		var user models.User
		err := rows.Scan(
			&user.ID,
			&user.Name,
			&user.Email,
			&user.PasswordHash,
			&user.Salt,
			&user.IsAdmin,
			&user.Credits,
			&user.CreatedAt,
			&user.UpdatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan user: %w", err)
		}
		users = append(users, &user)
	}
	return users, rows.Err()
}

func (s *SQLiteStorage) GetSample(ctx context.Context, id string) (*models.Sample, error) {
	var sample models.Sample
	var bpm sql.NullInt64
	var packID sql.NullString
	err := s.db.QueryRowContext(ctx,
		`SELECT id, title, filename, kind, bpm, credits, pack_id, created_at
		 FROM samples WHERE id = ?`, id).Scan(
		&sample.ID,
		&sample.Title,
		&sample.Filename,
		&sample.Kind,
		&bpm,
		&sample.Credits,
		&packID,
		&sample.CreatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	sample.BPM = int(bpm.Int64)
	sample.PackID = packID.String
	return &sample, nil
}

func (s *SQLiteStorage) SaveSample(ctx context.Context, sample *models.Sample) error {
	var bpm interface{}
	if sample.BPM > 0 {
		bpm = sample.BPM
	}
	var packID interface{}
	if sample.PackID != "" {
		packID = sample.PackID
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO samples (id, title, filename, kind, bpm, credits, pack_id, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		sample.ID,
		sample.Title,
		sample.Filename,
		sample.Kind,
		bpm,
		sample.Credits,
		packID,
		sample.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to save sample: %w", err)
	}
	return nil
}

func (s *SQLiteStorage) GetPack(ctx context.Context, id string) (*models.Pack, error) {
	var pack models.Pack
	err := s.db.QueryRowContext(ctx,
		`SELECT p.id, p.name, p.description, p.genre, p.created_at,
		        COUNT(sm.id), COALESCE(SUM(sm.credits), 0)
		 FROM packs p
		 LEFT JOIN samples sm ON sm.pack_id = p.id
		 WHERE p.id = ?
		 GROUP BY p.id`, id).Scan(
		&pack.ID,
		&pack.Name,
		&pack.Description,
		&pack.Genre,
		&pack.CreatedAt,
		&pack.SampleCount,
		&pack.TotalCredits,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &pack, nil
}

func (s *SQLiteStorage) SavePack(ctx context.Context, pack *models.Pack) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO packs (id, name, description, genre, created_at)
		 VALUES (?, ?, ?, ?, ?)`,
		pack.ID,
		pack.Name,
		pack.Description,
		pack.Genre,
		pack.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to save pack: %w", err)
	}
	return nil
}

func (s *SQLiteStorage) ListPacks(ctx context.Context) ([]*models.Pack, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT p.id, p.name, p.description, p.genre, p.created_at,
		        COUNT(sm.id), COALESCE(SUM(sm.credits), 0)
		 FROM packs p
		 LEFT JOIN samples sm ON sm.pack_id = p.id
		 GROUP BY p.id
		 ORDER BY p.created_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("failed to query packs: %w", err)
	}
	defer closeRows(rows)

	var packs []*models.Pack
	for rows.Next() {
		var pack models.Pack
		err := rows.Scan(
			&pack.ID,
			&pack.Name,
			&pack.Description,
			&pack.Genre,
			&pack.CreatedAt,
			&pack.SampleCount,
			&pack.TotalCredits,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan pack: %w", err)
		}
		packs = append(packs, &pack)
	}
	return packs, rows.Err()
}

func (s *SQLiteStorage) SamplesInPack(ctx context.Context, packID string) ([]*models.Sample, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, title, filename, kind, bpm, credits, pack_id, created_at
		 FROM samples WHERE pack_id = ? ORDER BY created_at DESC`, packID)
	if err != nil {
		return nil, fmt.Errorf("failed to query pack samples: %w", err)
	}
	defer closeRows(rows)

	var samples []*models.Sample
	for rows.Next() {
		var sample models.Sample
		var bpm sql.NullInt64
		var pid sql.NullString
		err := rows.Scan(
			&sample.ID,
			&sample.Title,
			&sample.Filename,
			&sample.Kind,
			&bpm,
			&sample.Credits,
			&pid,
			&sample.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan sample: %w", err)
		}
		sample.BPM = int(bpm.Int64)
		sample.PackID = pid.String
		samples = append(samples, &sample)
	}
	return samples, rows.Err()
}

func (s *SQLiteStorage) HasLicense(ctx context.Context, userID, sampleID string) (bool, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(1) FROM licenses WHERE user_id = ? AND sample_id = ?`,
		userID, sampleID).Scan(&n)
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (s *SQLiteStorage) LicensesFor(ctx context.Context, userID string) ([]*models.License, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, user_id, sample_id, credits_spent, created_at
		 FROM licenses WHERE user_id = ? ORDER BY created_at DESC`, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to query licenses: %w", err)
	}
	defer closeRows(rows)

	var licenses []*models.License
	for rows.Next() {
		var license models.License
		err := rows.Scan(
			&license.ID,
			&license.UserID,
			&license.SampleID,
			&license.CreditsSpent,
			&license.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan license: %w", err)
		}
		licenses = append(licenses, &license)
	}
	return licenses, rows.Err()
}

// ApplyPurchase runs the whole purchase inside one transaction. The
// ownership check is re-taken here rather than trusted from the caller, so
// two concurrent purchases of overlapping members cannot both charge for
// the shared ones: whichever transaction commits second sees the first's
// license rows and drops those lines from its charge set.
func (s *SQLiteStorage) ApplyPurchase(ctx context.Context, userID string, candidates []models.PurchaseLine) (*models.PurchaseReceipt, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin purchase: %w", err)
	}
	defer rollback(tx)

	receipt := &models.PurchaseReceipt{}
	var toCharge []models.PurchaseLine
	for _, line := range candidates {
		var n int
		err := tx.QueryRowContext(ctx,
			`SELECT COUNT(1) FROM licenses WHERE user_id = ? AND sample_id = ?`,
			userID, line.SampleID).Scan(&n)
		if err != nil {
			return nil, fmt.Errorf("failed to check license: %w", err)
		}
		if n == 0 {
			toCharge = append(toCharge, line)
			receipt.Charged += line.Credits
		}
	}

	if len(toCharge) == 0 {
		// A concurrent purchase got everything first; nothing to charge.
		err := tx.QueryRowContext(ctx, `SELECT credits FROM users WHERE id = ?`, userID).Scan(&receipt.Balance)
		if err != nil {
			return nil, fmt.Errorf("failed to read balance: %w", err)
		}
		return receipt, tx.Commit()
	}

	// Conditional debit: zero rows affected means the balance cannot cover
	// the cost, and nothing has been applied.
	res, err := tx.ExecContext(ctx,
		`UPDATE users SET credits = credits - ?, updated_at = CURRENT_TIMESTAMP
		 WHERE id = ? AND credits >= ?`,
		receipt.Charged, userID, receipt.Charged)
	if err != nil {
		return nil, fmt.Errorf("failed to debit: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("failed to read debit result: %w", err)
	}
	if affected == 0 {
		return nil, ledger.ErrInsufficientFunds
	}

	now := time.Now().UTC()
	for _, line := range toCharge {
		_, err := tx.ExecContext(ctx,
			`INSERT INTO licenses (id, user_id, sample_id, credits_spent, created_at)
			 VALUES (?, ?, ?, ?, ?)`,
			uuid.NewString(), userID, line.SampleID, line.Credits, now)
		if err != nil {
			// The deferred rollback undoes the debit too; a buyer is never
			// charged for content they did not get a license for.
			return nil, fmt.Errorf("failed to record license: %w", err)
		}
		receipt.NewSampleIDs = append(receipt.NewSampleIDs, line.SampleID)
	}

	if err := tx.QueryRowContext(ctx, `SELECT credits FROM users WHERE id = ?`, userID).Scan(&receipt.Balance); err != nil {
		return nil, fmt.Errorf("failed to read balance: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit purchase: %w", err)
	}
	return receipt, nil
}

func (s *SQLiteStorage) ApplyGrant(ctx context.Context, grant *models.CreditGrant) (int64, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to begin grant: %w", err)
	}
	defer rollback(tx)

	var n int
	if err := tx.QueryRowContext(ctx, `SELECT COUNT(1) FROM users WHERE id = ?`, grant.RecipientID).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to check recipient: %w", err)
	}
	if n == 0 {
		return 0, ledger.ErrUnknownRecipient
	}

	_, err = tx.ExecContext(ctx,
		`UPDATE users SET credits = credits + ?, updated_at = CURRENT_TIMESTAMP WHERE id = ?`,
		grant.Amount, grant.RecipientID)
	if err != nil {
		return 0, fmt.Errorf("failed to credit recipient: %w", err)
	}

	_, err = tx.ExecContext(ctx,
		`INSERT INTO credit_grants (id, grantor_id, recipient_id, amount, note, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		grant.ID, grant.GrantorID, grant.RecipientID, grant.Amount, grant.Note, grant.CreatedAt)
	if err != nil {
		return 0, fmt.Errorf("failed to record grant: %w", err)
	}

	var balance int64
	if err := tx.QueryRowContext(ctx, `SELECT credits FROM users WHERE id = ?`, grant.RecipientID).Scan(&balance); err != nil {
		return 0, fmt.Errorf("failed to read balance: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit grant: %w", err)
	}
	return balance, nil
}

func (s *SQLiteStorage) RecentGrants(ctx context.Context, limit int) ([]*models.CreditGrant, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, grantor_id, recipient_id, amount, note, created_at
		 FROM credit_grants ORDER BY created_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query grants: %w", err)
	}
	defer closeRows(rows)

	var grants []*models.CreditGrant
	for rows.Next() {
		var grant models.CreditGrant
		err := rows.Scan(
			&grant.ID,
			&grant.GrantorID,
			&grant.RecipientID,
			&grant.Amount,
			&grant.Note,
			&grant.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan grant: %w", err)
		}
		grants = append(grants, &grant)
	}
	return grants, rows.Err()
}

func (s *SQLiteStorage) SaveSession(ctx context.Context, session *models.Session) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO sessions (token, user_id, created_at, expires_at)
		 VALUES (?, ?, ?, ?)`,
		session.Token, session.UserID, session.CreatedAt, session.ExpiresAt)
	if err != nil {
		return fmt.Errorf("failed to save session: %w", err)
	}
	return nil
}

func (s *SQLiteStorage) GetSession(ctx context.Context, token string) (*models.Session, error) {
	var session models.Session
	err := s.db.QueryRowContext(ctx,
		`SELECT token, user_id, created_at, expires_at FROM sessions WHERE token = ?`,
		token).Scan(&session.Token, &session.UserID, &session.CreatedAt, &session.ExpiresAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &session, nil
}

func (s *SQLiteStorage) DeleteSession(ctx context.Context, token string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM sessions WHERE token = ?`, token)
	return err
}

func (s *SQLiteStorage) Close() error {
	return s.db.Close()
}

func rollback(tx *sql.Tx) {
	if err := tx.Rollback(); err != nil && err != sql.ErrTxDone {
		logger.Warn("transaction rollback failed", map[string]interface{}{
			"error": err.Error(),
		})
	}
}

func closeRows(rows *sql.Rows) {
	if err := rows.Close(); err != nil {
		logger.Warn("failed to close rows", map[string]interface{}{
			"error": err.Error(),
		})
	}
}
