package repository

import (
	"context"
	"time"

	"userapi/internal/model"
)

// UserRepository defines data access for users using SQL queries only.
// No business logic here — strictly persistence operations.
//
// Finder methods return the raw driver error for misses (sql.ErrNoRows
// wrapped); callers translate at the service boundary.
type UserRepository interface {
	// Save inserts a new user record and returns the stored row
	// (may include values set by the DB).
	Save(ctx context.Context, u *model.User) (*model.User, error)

	// FindByID returns a user by its ID.
	FindByID(ctx context.Context, id string) (*model.User, error)

	// FindAll returns a page of users ordered by the request's sort,
	// together with the total row count.
	FindAll(ctx context.Context, pr PageRequest) (*Page[model.User], error)

	// FindByEmail returns the user with exactly this email.
	FindByEmail(ctx context.Context, email string) (*model.User, error)

	// FindByLastName returns a page of users with the given last name.
	FindByLastName(ctx context.Context, lastName string, pr PageRequest) (*Page[model.User], error)

	// FindByFirstNameAndLastName returns all users matching both names.
	FindByFirstNameAndLastName(ctx context.Context, firstName, lastName string) ([]model.User, error)

	// FindByEmailContaining returns a page of users whose email contains
	// the fragment (case-insensitive).
	FindByEmailContaining(ctx context.Context, fragment string, pr PageRequest) (*Page[model.User], error)

	// FindByCreatedAtBetween returns users created in the [from, to] window.
	FindByCreatedAtBetween(ctx context.Context, from, to time.Time) ([]model.User, error)

	// ExistsByID reports whether a user with the ID exists.
	ExistsByID(ctx context.Context, id string) (bool, error)

	// ExistsByEmail reports whether a user with the email exists.
	ExistsByEmail(ctx context.Context, email string) (bool, error)

	// Count returns the total number of users.
	Count(ctx context.Context) (int64, error)

	// Update rewrites the mutable fields of an existing user and returns
	// the stored row. Misses surface as sql.ErrNoRows.
	Update(ctx context.Context, u *model.User) (*model.User, error)

	// Delete removes a user by ID. It returns nil if the row was deleted or did not exist.
	Delete(ctx context.Context, id string) error

	// DeleteByEmail removes users by email and reports how many rows went away.
	DeleteByEmail(ctx context.Context, email string) (int64, error)
}
