package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	dbtx "userapi/internal/database/tx"
	"userapi/internal/model"
	"userapi/internal/repository"
)

// UserPostgres is a PostgreSQL implementation of repository.UserRepository.
// It uses database/sql with parameterized queries and contains no business logic.
// Every operation resolves its querier through the transaction context, so the
// same repository instance works inside and outside a transaction.
type UserPostgres struct {
	db *sql.DB
}

// NewUserPostgres creates a new UserPostgres repository.
func NewUserPostgres(db *sql.DB) *UserPostgres {
	return &UserPostgres{db: db}
}

var _ repository.UserRepository = (*UserPostgres)(nil)

const userColumns = `id, first_name, last_name, email, avatar_path, created_at, updated_at`

// sortColumns maps domain sort properties to table columns. ORDER BY clauses
// are built exclusively from this map; unknown properties are rejected.
var sortColumns = map[string]string{
	"id":        "id",
	"firstName": "first_name",
	"lastName":  "last_name",
	"email":     "email",
	"createdAt": "created_at",
	"updatedAt": "updated_at",
}

// orderByClause renders the request's sort into SQL. The default and the
// final "id" tiebreak keep pagination stable across identical sort keys.
func orderByClause(pr repository.PageRequest) (string, error) {
	if len(pr.Sort) == 0 {
		return "ORDER BY created_at DESC, id DESC", nil
	}
	parts := make([]string, 0, len(pr.Sort)+1)
	for _, o := range pr.Sort {
		col, ok := sortColumns[o.Property]
		if !ok {
			return "", fmt.Errorf("%w: %s", repository.ErrUnknownSortProperty, o.Property)
		}
		dir := "ASC"
		if o.Direction == repository.Desc {
			dir = "DESC"
		}
		parts = append(parts, col+" "+dir)
	}
	parts = append(parts, "id ASC")
	return "ORDER BY " + strings.Join(parts, ", "), nil
}

func scanUser(row *sql.Row) (*model.User, error) {
	var u model.User
	var avatar sql.NullString
	if err := row.Scan(
		&u.ID,
		&u.FirstName,
		&u.LastName,
		&u.Email,
		&avatar,
		&u.CreatedAt,
		&u.UpdatedAt,
	); err != nil {
		return nil, err
	}
	u.AvatarPath = avatar.String
	return &u, nil
}

func scanUsers(rows *sql.Rows) ([]model.User, error) {
	defer rows.Close()

	items := make([]model.User, 0)
	for rows.Next() {
		var u model.User
		var avatar sql.NullString
		if err := rows.Scan(
			&u.ID,
			&u.FirstName,
			&u.LastName,
			&u.Email,
			&avatar,
			&u.CreatedAt,
			&u.UpdatedAt,
		); err != nil {
			return nil, err
		}
		u.AvatarPath = avatar.String
		items = append(items, u)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return items, nil
}

// Save inserts a new user row. Timestamps are assigned by the database and
// returned with the stored record.
func (r *UserPostgres) Save(ctx context.Context, u *model.User) (*model.User, error) {
	q := dbtx.GetQuerier(ctx, r.db)
	const query = `
		INSERT INTO users (id, first_name, last_name, email, avatar_path, created_at, updated_at)
		VALUES ($1, $2, $3, $4, NULLIF($5, ''), now(), now())
		RETURNING ` + userColumns
	row := q.QueryRowContext(ctx, query,
		u.ID,
		u.FirstName,
		u.LastName,
		u.Email,
		u.AvatarPath,
	)
	return scanUser(row)
}

// FindByID fetches a single user by its ID.
func (r *UserPostgres) FindByID(ctx context.Context, id string) (*model.User, error) {
	q := dbtx.GetQuerier(ctx, r.db)
	const query = `SELECT ` + userColumns + ` FROM users WHERE id = $1`
	return scanUser(q.QueryRowContext(ctx, query, id))
}

// FindAll returns users using LIMIT/OFFSET pagination and a total count.
func (r *UserPostgres) FindAll(ctx context.Context, pr repository.PageRequest) (*repository.Page[model.User], error) {
	return r.findPage(ctx, pr, "", nil)
}

// FindByEmail fetches a single user by exact email.
func (r *UserPostgres) FindByEmail(ctx context.Context, email string) (*model.User, error) {
	q := dbtx.GetQuerier(ctx, r.db)
	const query = `SELECT ` + userColumns + ` FROM users WHERE email = $1`
	return scanUser(q.QueryRowContext(ctx, query, email))
}

// FindByLastName returns a page of users with the given last name.
func (r *UserPostgres) FindByLastName(ctx context.Context, lastName string, pr repository.PageRequest) (*repository.Page[model.User], error) {
	return r.findPage(ctx, pr, "WHERE last_name = $1", []any{lastName})
}

// FindByFirstNameAndLastName returns all users matching both names.
func (r *UserPostgres) FindByFirstNameAndLastName(ctx context.Context, firstName, lastName string) ([]model.User, error) {
	q := dbtx.GetQuerier(ctx, r.db)
	const query = `
		SELECT ` + userColumns + `
		FROM users
		WHERE first_name = $1 AND last_name = $2
		ORDER BY created_at DESC, id DESC`
	rows, err := q.QueryContext(ctx, query, firstName, lastName)
	if err != nil {
		return nil, err
	}
	return scanUsers(rows)
}

// FindByEmailContaining returns a page of users whose email contains the
// fragment, matched case-insensitively.
func (r *UserPostgres) FindByEmailContaining(ctx context.Context, fragment string, pr repository.PageRequest) (*repository.Page[model.User], error) {
	pattern := "%" + escapeLike(fragment) + "%"
	return r.findPage(ctx, pr, "WHERE email ILIKE $1", []any{pattern})
}

// FindByCreatedAtBetween returns users created inside the inclusive window.
func (r *UserPostgres) FindByCreatedAtBetween(ctx context.Context, from, to time.Time) ([]model.User, error) {
	q := dbtx.GetQuerier(ctx, r.db)
	const query = `
		SELECT ` + userColumns + `
		FROM users
		WHERE created_at BETWEEN $1 AND $2
		ORDER BY created_at ASC, id ASC`
	rows, err := q.QueryContext(ctx, query, from, to)
	if err != nil {
		return nil, err
	}
	return scanUsers(rows)
}

// ExistsByID reports whether a row with the ID exists.
func (r *UserPostgres) ExistsByID(ctx context.Context, id string) (bool, error) {
	q := dbtx.GetQuerier(ctx, r.db)
	const query = `SELECT EXISTS (SELECT 1 FROM users WHERE id = $1)`
	var exists bool
	if err := q.QueryRowContext(ctx, query, id).Scan(&exists); err != nil {
		return false, err
	}
	return exists, nil
}

// ExistsByEmail reports whether a row with the email exists.
func (r *UserPostgres) ExistsByEmail(ctx context.Context, email string) (bool, error) {
	q := dbtx.GetQuerier(ctx, r.db)
	const query = `SELECT EXISTS (SELECT 1 FROM users WHERE email = $1)`
	var exists bool
	if err := q.QueryRowContext(ctx, query, email).Scan(&exists); err != nil {
		return false, err
	}
	return exists, nil
}

// Count returns the total number of users.
func (r *UserPostgres) Count(ctx context.Context) (int64, error) {
	q := dbtx.GetQuerier(ctx, r.db)
	var total int64
	if err := q.QueryRowContext(ctx, `SELECT COUNT(*) FROM users`).Scan(&total); err != nil {
		return 0, err
	}
	return total, nil
}

// Update rewrites the mutable columns and bumps updated_at.
func (r *UserPostgres) Update(ctx context.Context, u *model.User) (*model.User, error) {
	q := dbtx.GetQuerier(ctx, r.db)
	const query = `
		UPDATE users
		SET first_name = $2, last_name = $3, email = $4, avatar_path = NULLIF($5, ''), updated_at = now()
		WHERE id = $1
		RETURNING ` + userColumns
	row := q.QueryRowContext(ctx, query,
		u.ID,
		u.FirstName,
		u.LastName,
		u.Email,
		u.AvatarPath,
	)
	return scanUser(row)
}

// Delete removes a user by ID. It does not return an error if the row does not exist.
func (r *UserPostgres) Delete(ctx context.Context, id string) error {
	q := dbtx.GetQuerier(ctx, r.db)
	res, err := q.ExecContext(ctx, `DELETE FROM users WHERE id = $1`, id)
	if err != nil {
		return err
	}
	_, _ = res.RowsAffected()
	return nil
}

// DeleteByEmail removes users by email and returns the affected row count.
func (r *UserPostgres) DeleteByEmail(ctx context.Context, email string) (int64, error) {
	q := dbtx.GetQuerier(ctx, r.db)
	res, err := q.ExecContext(ctx, `DELETE FROM users WHERE email = $1`, email)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// findPage runs the shared count+page query pair for paginated finders.
// where must reference $1..$n for its args; limit/offset placeholders follow.
func (r *UserPostgres) findPage(ctx context.Context, pr repository.PageRequest, where string, args []any) (*repository.Page[model.User], error) {
	pr = pr.Normalize()
	q := dbtx.GetQuerier(ctx, r.db)

	orderBy, err := orderByClause(pr)
	if err != nil {
		return nil, err
	}

	countQuery := `SELECT COUNT(*) FROM users`
	if where != "" {
		countQuery += " " + where
	}
	var total int
	if err := q.QueryRowContext(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, err
	}

	n := len(args)
	listQuery := fmt.Sprintf(
		`SELECT %s FROM users %s %s LIMIT $%d OFFSET $%d`,
		userColumns, where, orderBy, n+1, n+2,
	)
	rows, err := q.QueryContext(ctx, listQuery, append(args, pr.Size, pr.Offset())...)
	if err != nil {
		return nil, err
	}
	items, err := scanUsers(rows)
	if err != nil {
		return nil, err
	}

	return &repository.Page[model.User]{
		Items:         items,
		TotalElements: total,
		Page:          pr.Page,
		Size:          pr.Size,
	}, nil
}

// escapeLike neutralizes LIKE metacharacters in user-supplied fragments.
func escapeLike(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	s = strings.ReplaceAll(s, `%`, `\%`)
	s = strings.ReplaceAll(s, `_`, `\_`)
	return s
}
