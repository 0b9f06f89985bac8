package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/benvon/wellness-tracker/internal/docstore"
	"github.com/benvon/wellness-tracker/internal/models"
)

// UserRepository handles profile document operations
type UserRepository struct {
	db *DB
}

// NewUserRepository creates a new user repository
func NewUserRepository(db *DB) *UserRepository {
	return &UserRepository{db: db}
}

// Create inserts a profile. created_at is assigned by the database.
func (r *UserRepository) Create(ctx context.Context, user *models.User) error {
	query := `
		INSERT INTO users (id, email, display_name, age, gender)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING created_at
	`

	err := r.db.QueryRowContext(ctx, query,
		user.ID,
		user.Email,
		user.DisplayName,
		nullInt(user.Age),
		nullString(user.Gender),
	).Scan(&user.CreatedAt)
	if err != nil {
		return classify("create_user", fmt.Errorf("failed to create user: %w", err))
	}

	return nil
}

// GetByID retrieves a profile by provider id
func (r *UserRepository) GetByID(ctx context.Context, id string) (*models.User, error) {
	user := &models.User{}
	var age sql.NullInt64
	var gender sql.NullString
	var updatedAt sql.NullTime

	query := `
		SELECT id, email, display_name, age, gender, created_at, updated_at
		FROM users
		WHERE id = $1
	`

	err := r.db.QueryRowContext(ctx, query, id).Scan(
		&user.ID,
		&user.Email,
		&user.DisplayName,
		&age,
		&gender,
		&user.CreatedAt,
		&updatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, classify("get_user", fmt.Errorf("user not found: %w", docstore.ErrNotFound))
	}
	if err != nil {
		return nil, classify("get_user", fmt.Errorf("failed to get user: %w", err))
	}

	if age.Valid {
		v := int(age.Int64)
		user.Age = &v
	}
	if gender.Valid {
		user.Gender = &gender.String
	}
	if updatedAt.Valid {
		user.UpdatedAt = &updatedAt.Time
	}

	return user, nil
}

// Update applies the non-nil fields of patch and stamps updated_at
func (r *UserRepository) Update(ctx context.Context, id string, patch models.UserPatch) error {
	if patch.IsEmpty() {
		return nil
	}

	set := newSetClause()
	if patch.DisplayName != nil {
		set.add("display_name", *patch.DisplayName)
	}
	if patch.Age != nil {
		set.add("age", *patch.Age)
	}
	if patch.Gender != nil {
		set.add("gender", *patch.Gender)
	}

	query := fmt.Sprintf("UPDATE users SET %s, updated_at = now() WHERE id = $%d", set.sql(), set.next())
	args := append(set.args, id)

	result, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return classify("update_user", fmt.Errorf("failed to update user: %w", err))
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return classify("update_user", fmt.Errorf("failed to get rows affected: %w", err))
	}
	if rowsAffected == 0 {
		return classify("update_user", fmt.Errorf("user not found: %w", docstore.ErrNotFound))
	}

	return nil
}

func nullInt(v *int) sql.NullInt64 {
	if v == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: int64(*v), Valid: true}
}

func nullString(v *string) sql.NullString {
	if v == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *v, Valid: true}
}

// setClause accumulates "col = $n" fragments for partial updates
type setClause struct {
	parts []string
	args  []any
}

func newSetClause() *setClause {
	return &setClause{}
}

func (s *setClause) add(column string, value any) {
	s.args = append(s.args, value)
	s.parts = append(s.parts, fmt.Sprintf("%s = $%d", column, len(s.args)))
}

func (s *setClause) next() int {
	return len(s.args) + 1
}

func (s *setClause) sql() string {
	out := ""
	for i, p := range s.parts {
		if i > 0 {
			out += ", "
		}
		out += p
	}
	return out
}
