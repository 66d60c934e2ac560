package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"userapi/internal/model"
	"userapi/internal/repository"
	"userapi/internal/storage"
)

var (
	ErrIDRequired = errors.New("id is required")
	ErrNotFound   = errors.New("user not found")
	ErrEmailTaken = errors.New("email already registered")
	ErrValidation = errors.New("validation failed")
	ErrReaderNil  = errors.New("reader is nil")
)

// TxManager is the transactional boundary the service runs its multi-step
// use cases in. Satisfied by txmanager.TransactionManager.
type TxManager interface {
	WithTransaction(ctx context.Context, fn func(context.Context) error) error
}

// CreateUserInput carries the fields needed to register a user.
type CreateUserInput struct {
	FirstName string `json:"first_name" validate:"required,max=100"`
	LastName  string `json:"last_name" validate:"required,max=100"`
	Email     string `json:"email" validate:"required,email"`
}

// UpdateUserInput carries the mutable fields of an existing user.
type UpdateUserInput struct {
	FirstName string `json:"first_name" validate:"required,max=100"`
	LastName  string `json:"last_name" validate:"required,max=100"`
	Email     string `json:"email" validate:"required,email"`
}

// UserListResult is the service-level DTO for paginated users.
type UserListResult struct {
	Items      []model.User `json:"data"`
	Total      int          `json:"total"`
	Page       int          `json:"page"`
	Size       int          `json:"size"`
	TotalPages int          `json:"total_pages"`
}

// UserService defines the use cases for handling user accounts.
type UserService interface {
	// Register creates a new user. The duplicate-email check and the insert
	// run in one transaction so two concurrent registrations cannot both win.
	Register(ctx context.Context, in CreateUserInput) (*model.User, error)

	// Get returns a single user by its ID.
	Get(ctx context.Context, id string) (*model.User, error)

	// List returns users using page/size/sort and a total count.
	List(ctx context.Context, pr repository.PageRequest) (*UserListResult, error)

	// FindByEmail returns the user with exactly this email.
	FindByEmail(ctx context.Context, email string) (*model.User, error)

	// SearchByLastName returns users with the given last name, paginated.
	SearchByLastName(ctx context.Context, lastName string, pr repository.PageRequest) (*UserListResult, error)

	// SearchByEmail returns users whose email contains the fragment, paginated.
	SearchByEmail(ctx context.Context, fragment string, pr repository.PageRequest) (*UserListResult, error)

	// RegisteredBetween returns users created inside the inclusive window.
	RegisteredBetween(ctx context.Context, from, to time.Time) ([]model.User, error)

	// Count returns the total number of users.
	Count(ctx context.Context) (int64, error)

	// Update rewrites a user's mutable fields.
	Update(ctx context.Context, id string, in UpdateUserInput) (*model.User, error)

	// Delete removes a user and their stored avatar, if any.
	Delete(ctx context.Context, id string) error

	// UploadAvatar stores the avatar in object storage, updates the user row,
	// and rolls the object back if the DB update fails.
	UploadAvatar(ctx context.Context, id string, r io.Reader, originalFilename, contentType string, size int64) (*model.User, error)
}

// userService is a concrete implementation of UserService.
type userService struct {
	repo     repository.UserRepository
	store    storage.Storage
	tx       TxManager
	validate *validator.Validate
}

// NewUserService constructs a new UserService.
func NewUserService(repo repository.UserRepository, store storage.Storage, tx TxManager) UserService {
	return &userService{
		repo:     repo,
		store:    store,
		tx:       tx,
		validate: validator.New(),
	}
}

func (s *userService) Register(ctx context.Context, in CreateUserInput) (*model.User, error) {
	if err := s.validate.Struct(in); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrValidation, err)
	}

	var stored *model.User
	err := s.tx.WithTransaction(ctx, func(txCtx context.Context) error {
		taken, err := s.repo.ExistsByEmail(txCtx, in.Email)
		if err != nil {
			return fmt.Errorf("check email: %w", err)
		}
		if taken {
			return ErrEmailTaken
		}

		stored, err = s.repo.Save(txCtx, &model.User{
			ID:        uuid.New().String(),
			FirstName: in.FirstName,
			LastName:  in.LastName,
			Email:     in.Email,
		})
		if err != nil {
			return fmt.Errorf("save user: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return stored, nil
}

// Get returns a user by ID.
func (s *userService) Get(ctx context.Context, id string) (*model.User, error) {
	if id == "" {
		return nil, ErrIDRequired
	}
	u, err := s.repo.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return u, nil
}

// List returns paginated users without exposing repository types.
func (s *userService) List(ctx context.Context, pr repository.PageRequest) (*UserListResult, error) {
	page, err := s.repo.FindAll(ctx, pr)
	if err != nil {
		return nil, err
	}
	return toListResult(page), nil
}

func (s *userService) FindByEmail(ctx context.Context, email string) (*model.User, error) {
	if email == "" {
		return nil, fmt.Errorf("%w: email is required", ErrValidation)
	}
	u, err := s.repo.FindByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return u, nil
}

func (s *userService) SearchByLastName(ctx context.Context, lastName string, pr repository.PageRequest) (*UserListResult, error) {
	if lastName == "" {
		return nil, fmt.Errorf("%w: lastName is required", ErrValidation)
	}
	page, err := s.repo.FindByLastName(ctx, lastName, pr)
	if err != nil {
		return nil, err
	}
	return toListResult(page), nil
}

func (s *userService) SearchByEmail(ctx context.Context, fragment string, pr repository.PageRequest) (*UserListResult, error) {
	if fragment == "" {
		return nil, fmt.Errorf("%w: email fragment is required", ErrValidation)
	}
	page, err := s.repo.FindByEmailContaining(ctx, fragment, pr)
	if err != nil {
		return nil, err
	}
	return toListResult(page), nil
}

func (s *userService) RegisteredBetween(ctx context.Context, from, to time.Time) ([]model.User, error) {
	if !from.Before(to) {
		return nil, fmt.Errorf("%w: from must precede to", ErrValidation)
	}
	return s.repo.FindByCreatedAtBetween(ctx, from, to)
}

func (s *userService) Count(ctx context.Context) (int64, error) {
	return s.repo.Count(ctx)
}

// Update validates input, then rewrites the row inside a transaction so the
// email-uniqueness check and the write are atomic.
func (s *userService) Update(ctx context.Context, id string, in UpdateUserInput) (*model.User, error) {
	if id == "" {
		return nil, ErrIDRequired
	}
	if err := s.validate.Struct(in); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrValidation, err)
	}

	var stored *model.User
	err := s.tx.WithTransaction(ctx, func(txCtx context.Context) error {
		current, err := s.repo.FindByID(txCtx, id)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return ErrNotFound
			}
			return err
		}

		if in.Email != current.Email {
			taken, err := s.repo.ExistsByEmail(txCtx, in.Email)
			if err != nil {
				return fmt.Errorf("check email: %w", err)
			}
			if taken {
				return ErrEmailTaken
			}
		}

		current.FirstName = in.FirstName
		current.LastName = in.LastName
		current.Email = in.Email
		stored, err = s.repo.Update(txCtx, current)
		if err != nil {
			return fmt.Errorf("update user: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return stored, nil
}

// Delete removes the user's avatar from storage, then deletes the row.
func (s *userService) Delete(ctx context.Context, id string) error {
	if id == "" {
		return ErrIDRequired
	}
	u, err := s.repo.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return ErrNotFound
		}
		return err
	}
	// Delete from storage first; if this fails, keep the DB row so the
	// object reference is not lost.
	if u.AvatarPath != "" {
		if err := s.store.Delete(ctx, u.AvatarPath); err != nil {
			return fmt.Errorf("delete avatar: %w", err)
		}
	}
	return s.repo.Delete(ctx, id)
}

func (s *userService) UploadAvatar(ctx context.Context, id string, r io.Reader, originalFilename, contentType string, size int64) (*model.User, error) {
	if id == "" {
		return nil, ErrIDRequired
	}
	if r == nil {
		return nil, ErrReaderNil
	}

	// Stored name is UUID + original extension; originalFilename is used
	// only to extract the extension.
	ext := filepath.Ext(originalFilename)
	key := filepath.ToSlash(filepath.Join("avatars", uuid.New().String()+ext))

	objInfo, err := s.store.Put(ctx, key, r, storage.PutObjectOptions{
		Size:        size,
		ContentType: contentType,
		Metadata: map[string]string{
			"original-filename": originalFilename,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("upload to storage: %w", err)
	}

	var stored *model.User
	var previous string
	err = s.tx.WithTransaction(ctx, func(txCtx context.Context) error {
		current, err := s.repo.FindByID(txCtx, id)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return ErrNotFound
			}
			return err
		}
		previous = current.AvatarPath
		current.AvatarPath = objInfo.Key
		stored, err = s.repo.Update(txCtx, current)
		return err
	})
	if err != nil {
		// Rollback: delete the freshly uploaded object.
		if delErr := s.store.Delete(ctx, key); delErr != nil {
			return nil, fmt.Errorf("db update failed: %v; rollback delete failed: %v", err, delErr)
		}
		return nil, err
	}

	// Old avatar is unreferenced now; removal is best-effort.
	if previous != "" && previous != objInfo.Key {
		_ = s.store.Delete(ctx, previous)
	}
	return stored, nil
}

func toListResult(page *repository.Page[model.User]) *UserListResult {
	return &UserListResult{
		Items:      page.Items,
		Total:      page.TotalElements,
		Page:       page.Page,
		Size:       page.Size,
		TotalPages: page.TotalPages(),
	}
}
