package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"strings"

	_ "github.com/tursodatabase/libsql-client-go/libsql" // Turso driver
	msqlite "modernc.org/sqlite"                          // Local SQLite driver
	sqlitelib "modernc.org/sqlite/lib"

	"github.com/wadjakorntonsri/go-shortlink/pkg/core/domain"
	"github.com/wadjakorntonsri/go-shortlink/pkg/ports"
)

type SQLiteRepository struct {
	db *sql.DB
}

var (
	_ ports.ShortLinkRepository = (*SQLiteRepository)(nil)
	_ ports.UserRepository      = (*SQLiteRepository)(nil)
)

func NewSQLiteRepository(dbURL string) (*SQLiteRepository, error) {
	driverName := "sqlite"
	if strings.Contains(dbURL, "libsql://") || strings.Contains(dbURL, "wss://") {
		driverName = "libsql"
	}

	db, err := sql.Open(driverName, dbURL)
	if err != nil {
		return nil, err
	}

	if driverName == "sqlite" {
		// SQLite has a single writer; one connection also keeps :memory:
		// databases alive for the life of the pool.
		db.SetMaxOpenConns(1)
		db.SetMaxIdleConns(1)
		db.SetConnMaxLifetime(0)
		_, _ = db.Exec("PRAGMA busy_timeout = 5000;")
		_, _ = db.Exec("PRAGMA foreign_keys = ON;")
	}

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, err
	}

	if err := migrate(db); err != nil {
		_ = db.Close()
		return nil, err
	}

	return &SQLiteRepository{db: db}, nil
}

// NewWithDB wraps an already migrated database.
func NewWithDB(db *sql.DB) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

func (r *SQLiteRepository) Close() error {
	return r.db.Close()
}

func migrate(db *sql.DB) error {
	query := `
	CREATE TABLE IF NOT EXISTS users (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		google_id TEXT NOT NULL UNIQUE,
		email TEXT NOT NULL,
		display_name TEXT NOT NULL,
		first_name TEXT,
		last_name TEXT,
		image TEXT,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);

	CREATE TABLE IF NOT EXISTS shortlinks (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		short_id TEXT NOT NULL UNIQUE,
		destination TEXT NOT NULL,
		name TEXT,
		clicks INTEGER NOT NULL DEFAULT 0,
		user_id INTEGER REFERENCES users(id) ON DELETE CASCADE,
		created DATETIME NOT NULL,
		is_blocked INTEGER NOT NULL DEFAULT 0
	);
	CREATE INDEX IF NOT EXISTS idx_shortlinks_user_id ON shortlinks(user_id);
	`
	_, err := db.Exec(query)
	return err
}

const linkColumns = `id, short_id, destination, name, clicks, user_id, created, is_blocked`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanLink(row rowScanner) (*domain.ShortLink, error) {
	var link domain.ShortLink
	var name sql.NullString
	var userID sql.NullInt64

	err := row.Scan(&link.ID, &link.ShortID, &link.Destination, &name, &link.Clicks, &userID, &link.Created, &link.IsBlocked)
	if err != nil {
		return nil, err
	}
	link.Name = name.String
	if userID.Valid {
		link.OwnerID = &userID.Int64
	}
	return &link, nil
}

func nullableOwner(owner *int64) sql.NullInt64 {
	if owner == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: *owner, Valid: true}
}

// isUniqueViolation detects a UNIQUE constraint failure from either driver.
func isUniqueViolation(err error) bool {
	var se *msqlite.Error
	if errors.As(err, &se) && se.Code() == sqlitelib.SQLITE_CONSTRAINT_UNIQUE {
		return true
	}
	// libsql and non-extended result codes only carry the message
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}

func affectedOrNotFound(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (r *SQLiteRepository) Create(ctx context.Context, link *domain.ShortLink) error {
	query := `INSERT INTO shortlinks (short_id, destination, name, clicks, user_id, created, is_blocked)
			  VALUES (?, ?, ?, ?, ?, ?, ?)`

	res, err := r.db.ExecContext(ctx, query,
		link.ShortID, link.Destination, link.Name, link.Clicks, nullableOwner(link.OwnerID), link.Created, link.IsBlocked)
	if err != nil {
		if isUniqueViolation(err) {
			return domain.ErrConflict
		}
		return err
	}

	id, err := res.LastInsertId()
	if err != nil {
		return err
	}
	link.ID = id
	return nil
}

func (r *SQLiteRepository) GetByShortID(ctx context.Context, shortID string) (*domain.ShortLink, error) {
	query := `SELECT ` + linkColumns + ` FROM shortlinks WHERE short_id = ?`

	link, err := scanLink(r.db.QueryRowContext(ctx, query, shortID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	return link, err
}

func (r *SQLiteRepository) GetByID(ctx context.Context, id int64) (*domain.ShortLink, error) {
	query := `SELECT ` + linkColumns + ` FROM shortlinks WHERE id = ?`

	link, err := scanLink(r.db.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	return link, err
}

func (r *SQLiteRepository) List(ctx context.Context, owner *int64) ([]domain.ShortLink, error) {
	query := `SELECT ` + linkColumns + ` FROM shortlinks`
	args := []any{}

	if owner != nil {
		query += " WHERE user_id = ?"
		args = append(args, *owner)
	}
	query += " ORDER BY created DESC, id DESC"

	return r.queryLinks(ctx, query, args...)
}

func (r *SQLiteRepository) queryLinks(ctx context.Context, query string, args ...any) ([]domain.ShortLink, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	links := []domain.ShortLink{}
	for rows.Next() {
		link, err := scanLink(rows)
		if err != nil {
			return nil, err
		}
		links = append(links, *link)
	}
	return links, rows.Err()
}

// Update writes only the user-editable columns so that concurrent click
// increments and block flags are never overwritten.
func (r *SQLiteRepository) Update(ctx context.Context, link *domain.ShortLink) error {
	query := `UPDATE shortlinks SET name = ?, short_id = ?, destination = ?
			  WHERE id = ? AND is_blocked = 0`

	res, err := r.db.ExecContext(ctx, query, link.Name, link.ShortID, link.Destination, link.ID)
	if err != nil {
		if isUniqueViolation(err) {
			return domain.ErrConflict
		}
		return err
	}
	return affectedOrNotFound(res)
}

func (r *SQLiteRepository) Delete(ctx context.Context, id int64) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM shortlinks WHERE id = ?`, id)
	if err != nil {
		return err
	}
	return affectedOrNotFound(res)
}

func (r *SQLiteRepository) IncrementClicks(ctx context.Context, id int64) error {
	res, err := r.db.ExecContext(ctx, `UPDATE shortlinks SET clicks = clicks + 1 WHERE id = ? AND is_blocked = 0`, id)
	if err != nil {
		return err
	}
	return affectedOrNotFound(res)
}

func (r *SQLiteRepository) SetBlocked(ctx context.Context, id int64, destination string) (bool, error) {
	res, err := r.db.ExecContext(ctx,
		`UPDATE shortlinks SET is_blocked = 1 WHERE id = ? AND destination = ?`, id, destination)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (r *SQLiteRepository) ClearBlocked(ctx context.Context, id int64) error {
	res, err := r.db.ExecContext(ctx, `UPDATE shortlinks SET is_blocked = 0 WHERE id = ?`, id)
	if err != nil {
		return err
	}
	return affectedOrNotFound(res)
}

func (r *SQLiteRepository) Dump(ctx context.Context) ([]domain.ShortLink, error) {
	return r.queryLinks(ctx, `SELECT `+linkColumns+` FROM shortlinks ORDER BY id`)
}

func (r *SQLiteRepository) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

// UpsertGoogleUser inserts the user or refreshes the profile of an existing
// Google account, filling in ID and CreatedAt.
func (r *SQLiteRepository) UpsertGoogleUser(ctx context.Context, user *domain.User) error {
	query := `INSERT INTO users (google_id, email, display_name, first_name, last_name, image)
			  VALUES (?, ?, ?, ?, ?, ?)
			  ON CONFLICT(google_id) DO UPDATE SET
				email = excluded.email,
				display_name = excluded.display_name,
				first_name = excluded.first_name,
				last_name = excluded.last_name,
				image = excluded.image
			  RETURNING id`

	err := r.db.QueryRowContext(ctx, query,
		user.GoogleID, user.Email, user.DisplayName, user.FirstName, user.LastName, user.Image,
	).Scan(&user.ID)
	if err != nil {
		return err
	}

	// RETURNING columns carry no declared type, so read the timestamp back
	// through a plain SELECT.
	stored, err := r.GetUser(ctx, user.ID)
	if err != nil {
		return err
	}
	user.CreatedAt = stored.CreatedAt
	return nil
}

func (r *SQLiteRepository) GetUser(ctx context.Context, id int64) (*domain.User, error) {
	query := `SELECT id, google_id, email, display_name, first_name, last_name, image, created_at
			  FROM users WHERE id = ?`

	var u domain.User
	var first, last, image sql.NullString
	err := r.db.QueryRowContext(ctx, query, id).Scan(
		&u.ID, &u.GoogleID, &u.Email, &u.DisplayName, &first, &last, &image, &u.CreatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	u.FirstName, u.LastName, u.Image = first.String, last.String, image.String
	return &u, nil
}
