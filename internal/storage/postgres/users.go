package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// User is a persisted player record.
type User struct {
	ID           int64
	UID          string
	Username     string
	PasswordHash string
	FactionName  string
	HasFaction   bool
	IsAdmin      bool
	IsBanned     bool
	Allies       []string
	Enemies      []string
	SavedIP      string
	CreatedAt    time.Time
}

// ErrUserNotFound is returned when a user lookup yields no results.
var ErrUserNotFound = errors.New("user not found")

// ErrUserExists is returned when attempting to create a duplicate username.
var ErrUserExists = errors.New("user already exists")

const userColumns = `id, uid::text, username, password_hash, faction_name, has_faction,
	is_admin, is_banned, allies, enemies, saved_ip, created_at`

// UserRepository provides user persistence operations.
type UserRepository struct {
	db *pgxpool.Pool
}

// NewUserRepository creates a UserRepository backed by the given pool.
//
// Precondition: db must be a valid, open connection pool.
func NewUserRepository(db *pgxpool.Pool) *UserRepository {
	return &UserRepository{db: db}
}

// Create inserts a new user. passwordHash is stored as supplied; clients send
// the hash, never the plaintext.
//
// Precondition: username and passwordHash must be non-empty.
// Postcondition: Returns the created User with ID, UID and CreatedAt set,
// or ErrUserExists if the username is taken.
func (r *UserRepository) Create(ctx context.Context, username, passwordHash string) (User, error) {
	row := r.db.QueryRow(ctx,
		`INSERT INTO users (uid, username, password_hash)
		 VALUES ($1, $2, $3)
		 RETURNING `+userColumns,
		uuid.NewString(), username, passwordHash,
	)
	u, err := scanUser(row)
	if err != nil {
		if isDuplicateKeyError(err) {
			return User{}, ErrUserExists
		}
		return User{}, fmt.Errorf("inserting user: %w", err)
	}
	return u, nil
}

// UserByUsername retrieves a user by username.
//
// Postcondition: Returns the User or ErrUserNotFound.
func (r *UserRepository) UserByUsername(ctx context.Context, username string) (User, error) {
	row := r.db.QueryRow(ctx,
		`SELECT `+userColumns+` FROM users WHERE username = $1`,
		username,
	)
	u, err := scanUser(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return User{}, ErrUserNotFound
		}
		return User{}, fmt.Errorf("querying user: %w", err)
	}
	return u, nil
}

// SaveUser writes the mutable fields of u back, keyed by username.
//
// Postcondition: The stored record matches u, or ErrUserNotFound is returned.
func (r *UserRepository) SaveUser(ctx context.Context, u User) error {
	tag, err := r.db.Exec(ctx,
		`UPDATE users SET
			faction_name = $2, has_faction = $3, is_admin = $4, is_banned = $5,
			allies = $6, enemies = $7, saved_ip = $8
		 WHERE username = $1`,
		u.Username, u.FactionName, u.HasFaction, u.IsAdmin, u.IsBanned,
		nonNil(u.Allies), nonNil(u.Enemies), u.SavedIP,
	)
	if err != nil {
		return fmt.Errorf("updating user: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrUserNotFound
	}
	return nil
}

// SetAdmin grants or revokes admin rights.
//
// Postcondition: The flag is updated, or ErrUserNotFound is returned.
func (r *UserRepository) SetAdmin(ctx context.Context, username string, admin bool) error {
	return r.setFlag(ctx, `UPDATE users SET is_admin = $2 WHERE username = $1`, username, admin)
}

// SetBanned bans or unbans a user.
//
// Postcondition: The flag is updated, or ErrUserNotFound is returned.
func (r *UserRepository) SetBanned(ctx context.Context, username string, banned bool) error {
	return r.setFlag(ctx, `UPDATE users SET is_banned = $2 WHERE username = $1`, username, banned)
}

func (r *UserRepository) setFlag(ctx context.Context, query, username string, value bool) error {
	tag, err := r.db.Exec(ctx, query, username, value)
	if err != nil {
		return fmt.Errorf("updating user %q: %w", username, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrUserNotFound
	}
	return nil
}

func scanUser(row pgx.Row) (User, error) {
	var u User
	err := row.Scan(
		&u.ID, &u.UID, &u.Username, &u.PasswordHash, &u.FactionName, &u.HasFaction,
		&u.IsAdmin, &u.IsBanned, &u.Allies, &u.Enemies, &u.SavedIP, &u.CreatedAt,
	)
	return u, err
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

// isDuplicateKeyError checks if a pgx error is a unique constraint violation.
func isDuplicateKeyError(err error) bool {
	// SQLSTATE 23505 is unique_violation.
	var pgErr interface{ SQLState() string }
	if errors.As(err, &pgErr) {
		return pgErr.SQLState() == "23505"
	}
	return false
}
