package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/campus-booking-api/internal/models"
)

const userColumns = `id, email, name, password_hash, role, status, failed_attempts, lock_time, created_at, updated_at`

// UserStore is the row-level surface available inside a user scope.
type UserStore interface {
	FindByEmail(ctx context.Context, email string) (*models.User, error)
	Save(ctx context.Context, user *models.User) error
}

// UserRepository provides database access for user management.
type UserRepository struct {
	db        *sqlx.DB
	ext       sqlx.ExtContext
	forUpdate bool
}

// NewUserRepository creates a new instance of UserRepository.
func NewUserRepository(db *sqlx.DB) *UserRepository {
	return &UserRepository{db: db}
}

func (r *UserRepository) exec() sqlx.ExtContext {
	if r.ext != nil {
		return r.ext
	}
	return r.db
}

// FindByEmail returns a user by email address. Inside InUserScope the row is
// locked until the scope ends.
func (r *UserRepository) FindByEmail(ctx context.Context, email string) (*models.User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE email = $1 LIMIT 1`
	if r.forUpdate {
		query += ` FOR UPDATE`
	}
	var user models.User
	if err := sqlx.GetContext(ctx, r.exec(), &user, query, email); err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("find user by email: %w", err)
	}
	return &user, nil
}

// FindByID returns a user by identifier.
func (r *UserRepository) FindByID(ctx context.Context, id string) (*models.User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE id = $1 LIMIT 1`
	var user models.User
	if err := sqlx.GetContext(ctx, r.exec(), &user, query, id); err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("find user by id: %w", err)
	}
	return &user, nil
}

// FindByIDs returns the users matching ids keyed by id.
func (r *UserRepository) FindByIDs(ctx context.Context, ids []string) (map[string]models.User, error) {
	result := make(map[string]models.User, len(ids))
	if len(ids) == 0 {
		return result, nil
	}
	query, args, err := sqlx.In(`SELECT `+userColumns+` FROM users WHERE id IN (?)`, ids)
	if err != nil {
		return nil, fmt.Errorf("build users by ids query: %w", err)
	}
	var users []models.User
	if err := sqlx.SelectContext(ctx, r.exec(), &users, r.db.Rebind(query), args...); err != nil {
		return nil, fmt.Errorf("find users by ids: %w", err)
	}
	for _, u := range users {
		result[u.ID] = u
	}
	return result, nil
}

// ExistsByEmail reports whether an account already uses the email.
func (r *UserRepository) ExistsByEmail(ctx context.Context, email string) (bool, error) {
	const query = `SELECT EXISTS (SELECT 1 FROM users WHERE email = $1)`
	var exists bool
	if err := sqlx.GetContext(ctx, r.exec(), &exists, query, email); err != nil {
		return false, fmt.Errorf("check user email: %w", err)
	}
	return exists, nil
}

// Create inserts a new user. A concurrent insert of the same email yields ErrDuplicate.
func (r *UserRepository) Create(ctx context.Context, user *models.User) error {
	if user.ID == "" {
		user.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if user.CreatedAt.IsZero() {
		user.CreatedAt = now
	}
	user.UpdatedAt = now

	const query = `INSERT INTO users (id, email, name, password_hash, role, status, failed_attempts, lock_time, created_at, updated_at)
VALUES (:id, :email, :name, :password_hash, :role, :status, :failed_attempts, :lock_time, :created_at, :updated_at)`
	if _, err := sqlx.NamedExecContext(ctx, r.exec(), query, user); err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicate
		}
		return fmt.Errorf("create user: %w", err)
	}
	return nil
}

// Save persists the mutable profile and lockout fields of a user.
func (r *UserRepository) Save(ctx context.Context, user *models.User) error {
	user.UpdatedAt = time.Now().UTC()
	const query = `UPDATE users SET name = :name, role = :role, status = :status, failed_attempts = :failed_attempts,
lock_time = :lock_time, updated_at = :updated_at WHERE id = :id`
	res, err := sqlx.NamedExecContext(ctx, r.exec(), query, user)
	if err != nil {
		return fmt.Errorf("save user: %w", err)
	}
	if affected, err := res.RowsAffected(); err == nil && affected == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// InUserScope runs fn against a transaction in which FindByEmail takes a row
// lock, so lockout counters are read and written atomically per account.
func (r *UserRepository) InUserScope(ctx context.Context, fn func(store UserStore) error) (err error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin user transaction: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	scoped := &UserRepository{db: r.db, ext: tx, forUpdate: true}
	if err = fn(scoped); err != nil {
		return err
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit user transaction: %w", err)
	}
	return nil
}

// CreateAuditLog stores an audit log entry.
func (r *UserRepository) CreateAuditLog(ctx context.Context, log *models.AuditLog) error {
	if log.ID == "" {
		log.ID = uuid.NewString()
	}
	if log.CreatedAt.IsZero() {
		log.CreatedAt = time.Now().UTC()
	}
	const query = `INSERT INTO audit_logs (id, user_id, action, resource, resource_id, old_values, new_values, ip_address, user_agent, created_at) VALUES (:id, :user_id, :action, :resource, :resource_id, :old_values, :new_values, :ip_address, :user_agent, :created_at)`
	if _, err := sqlx.NamedExecContext(ctx, r.db, query, log); err != nil {
		return fmt.Errorf("create audit log: %w", err)
	}
	return nil
}
