package service

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"userapi/internal/model"
	"userapi/internal/repository"
	repoMocks "userapi/internal/repository/mocks"
	"userapi/internal/storage"
	storeMocks "userapi/internal/storage/mocks"
)

// passthroughTx runs the unit of work without a real database transaction.
type passthroughTx struct{}

func (passthroughTx) WithTransaction(ctx context.Context, fn func(context.Context) error) error {
	return fn(ctx)
}

func newService(t *testing.T) (UserService, *repoMocks.MockUserRepository, *storeMocks.MockStorage) {
	t.Helper()
	mRepo := new(repoMocks.MockUserRepository)
	mStore := new(storeMocks.MockStorage)
	return NewUserService(mRepo, mStore, passthroughTx{}), mRepo, mStore
}

func TestUserService_Register(t *testing.T) {
	ctx := context.Background()

	tests := []struct {
		name       string
		in         CreateUserInput
		setupMocks func(mRepo *repoMocks.MockUserRepository)
		wantErr    error
	}{
		{
			name: "happy path",
			in:   CreateUserInput{FirstName: "Dave", LastName: "Matthews", Email: "dave@example.com"},
			setupMocks: func(mRepo *repoMocks.MockUserRepository) {
				mRepo.On("ExistsByEmail", ctx, "dave@example.com").Return(false, nil)
				mRepo.On("Save", ctx, mock.MatchedBy(func(u *model.User) bool {
					return u.ID != "" && u.Email == "dave@example.com"
				})).Return(&model.User{ID: "gen-id", Email: "dave@example.com"}, nil)
			},
		},
		{
			name: "duplicate email",
			in:   CreateUserInput{FirstName: "Dave", LastName: "Matthews", Email: "dave@example.com"},
			setupMocks: func(mRepo *repoMocks.MockUserRepository) {
				mRepo.On("ExistsByEmail", ctx, "dave@example.com").Return(true, nil)
			},
			wantErr: ErrEmailTaken,
		},
		{
			name:       "invalid email",
			in:         CreateUserInput{FirstName: "Dave", LastName: "Matthews", Email: "not-an-email"},
			setupMocks: func(mRepo *repoMocks.MockUserRepository) {},
			wantErr:    ErrValidation,
		},
		{
			name:       "missing last name",
			in:         CreateUserInput{FirstName: "Dave", Email: "dave@example.com"},
			setupMocks: func(mRepo *repoMocks.MockUserRepository) {},
			wantErr:    ErrValidation,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc, mRepo, _ := newService(t)
			tt.setupMocks(mRepo)

			u, err := svc.Register(ctx, tt.in)

			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				assert.Nil(t, u)
			} else {
				assert.NoError(t, err)
				require.NotNil(t, u)
				assert.Equal(t, "gen-id", u.ID)
			}
			mRepo.AssertExpectations(t)
		})
	}
}

func TestUserService_Get(t *testing.T) {
	ctx := context.Background()

	t.Run("found", func(t *testing.T) {
		svc, mRepo, _ := newService(t)
		mRepo.On("FindByID", ctx, "u1").Return(&model.User{ID: "u1"}, nil)

		u, err := svc.Get(ctx, "u1")
		assert.NoError(t, err)
		assert.Equal(t, "u1", u.ID)
	})

	t.Run("not found translated", func(t *testing.T) {
		svc, mRepo, _ := newService(t)
		mRepo.On("FindByID", ctx, "missing").Return(nil, sql.ErrNoRows)

		u, err := svc.Get(ctx, "missing")
		assert.ErrorIs(t, err, ErrNotFound)
		assert.Nil(t, u)
	})

	t.Run("empty id", func(t *testing.T) {
		svc, _, _ := newService(t)
		_, err := svc.Get(ctx, "")
		assert.ErrorIs(t, err, ErrIDRequired)
	})
}

func TestUserService_List(t *testing.T) {
	ctx := context.Background()
	svc, mRepo, _ := newService(t)

	pr := repository.PageRequest{Page: 1, Size: 10}
	mRepo.On("FindAll", ctx, pr).Return(&repository.Page[model.User]{
		Items:         []model.User{{ID: "u1"}},
		TotalElements: 11,
		Page:          1,
		Size:          10,
	}, nil)

	res, err := svc.List(ctx, pr)

	assert.NoError(t, err)
	assert.Equal(t, 11, res.Total)
	assert.Equal(t, 2, res.TotalPages)
	assert.Len(t, res.Items, 1)
}

func TestUserService_FindByEmail(t *testing.T) {
	ctx := context.Background()

	t.Run("found", func(t *testing.T) {
		svc, mRepo, _ := newService(t)
		mRepo.On("FindByEmail", ctx, "dave@example.com").Return(&model.User{ID: "u1"}, nil)

		u, err := svc.FindByEmail(ctx, "dave@example.com")
		assert.NoError(t, err)
		assert.Equal(t, "u1", u.ID)
	})

	t.Run("miss translated", func(t *testing.T) {
		svc, mRepo, _ := newService(t)
		mRepo.On("FindByEmail", ctx, "x@example.com").Return(nil, sql.ErrNoRows)

		_, err := svc.FindByEmail(ctx, "x@example.com")
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("empty email", func(t *testing.T) {
		svc, _, _ := newService(t)
		_, err := svc.FindByEmail(ctx, "")
		assert.ErrorIs(t, err, ErrValidation)
	})
}

func TestUserService_Search(t *testing.T) {
	ctx := context.Background()
	pr := repository.PageRequest{}

	t.Run("by last name", func(t *testing.T) {
		svc, mRepo, _ := newService(t)
		mRepo.On("FindByLastName", ctx, "Matthews", pr).Return(&repository.Page[model.User]{
			Items: []model.User{{ID: "u1"}}, TotalElements: 1, Size: 10,
		}, nil)

		res, err := svc.SearchByLastName(ctx, "Matthews", pr)
		assert.NoError(t, err)
		assert.Len(t, res.Items, 1)
	})

	t.Run("by email fragment", func(t *testing.T) {
		svc, mRepo, _ := newService(t)
		mRepo.On("FindByEmailContaining", ctx, "example", pr).Return(&repository.Page[model.User]{
			Items: []model.User{{ID: "u1"}}, TotalElements: 1, Size: 10,
		}, nil)

		res, err := svc.SearchByEmail(ctx, "example", pr)
		assert.NoError(t, err)
		assert.Equal(t, 1, res.Total)
	})

	t.Run("empty filters rejected", func(t *testing.T) {
		svc, _, _ := newService(t)
		_, err := svc.SearchByLastName(ctx, "", pr)
		assert.ErrorIs(t, err, ErrValidation)
		_, err = svc.SearchByEmail(ctx, "", pr)
		assert.ErrorIs(t, err, ErrValidation)
	})
}

func TestUserService_RegisteredBetween(t *testing.T) {
	ctx := context.Background()
	svc, mRepo, _ := newService(t)

	from := time.Now().Add(-time.Hour)
	to := time.Now()
	mRepo.On("FindByCreatedAtBetween", ctx, from, to).Return([]model.User{{ID: "u1"}}, nil)

	users, err := svc.RegisteredBetween(ctx, from, to)
	assert.NoError(t, err)
	assert.Len(t, users, 1)

	_, err = svc.RegisteredBetween(ctx, to, from)
	assert.ErrorIs(t, err, ErrValidation)
}

func TestUserService_Update(t *testing.T) {
	ctx := context.Background()
	in := UpdateUserInput{FirstName: "Dave", LastName: "Grohl", Email: "grohl@example.com"}

	t.Run("happy path with email change", func(t *testing.T) {
		svc, mRepo, _ := newService(t)
		mRepo.On("FindByID", ctx, "u1").Return(&model.User{ID: "u1", Email: "dave@example.com"}, nil)
		mRepo.On("ExistsByEmail", ctx, "grohl@example.com").Return(false, nil)
		mRepo.On("Update", ctx, mock.MatchedBy(func(u *model.User) bool {
			return u.ID == "u1" && u.Email == "grohl@example.com" && u.LastName == "Grohl"
		})).Return(&model.User{ID: "u1", Email: "grohl@example.com"}, nil)

		u, err := svc.Update(ctx, "u1", in)
		assert.NoError(t, err)
		assert.Equal(t, "grohl@example.com", u.Email)
		mRepo.AssertExpectations(t)
	})

	t.Run("new email taken", func(t *testing.T) {
		svc, mRepo, _ := newService(t)
		mRepo.On("FindByID", ctx, "u1").Return(&model.User{ID: "u1", Email: "dave@example.com"}, nil)
		mRepo.On("ExistsByEmail", ctx, "grohl@example.com").Return(true, nil)

		_, err := svc.Update(ctx, "u1", in)
		assert.ErrorIs(t, err, ErrEmailTaken)
	})

	t.Run("unchanged email skips uniqueness check", func(t *testing.T) {
		svc, mRepo, _ := newService(t)
		same := UpdateUserInput{FirstName: "Dave", LastName: "Matthews", Email: "dave@example.com"}
		mRepo.On("FindByID", ctx, "u1").Return(&model.User{ID: "u1", Email: "dave@example.com"}, nil)
		mRepo.On("Update", ctx, mock.Anything).Return(&model.User{ID: "u1"}, nil)

		_, err := svc.Update(ctx, "u1", same)
		assert.NoError(t, err)
		mRepo.AssertNotCalled(t, "ExistsByEmail", mock.Anything, mock.Anything)
	})

	t.Run("not found", func(t *testing.T) {
		svc, mRepo, _ := newService(t)
		mRepo.On("FindByID", ctx, "missing").Return(nil, sql.ErrNoRows)

		_, err := svc.Update(ctx, "missing", in)
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("validation error", func(t *testing.T) {
		svc, _, _ := newService(t)
		_, err := svc.Update(ctx, "u1", UpdateUserInput{Email: "broken"})
		assert.ErrorIs(t, err, ErrValidation)
	})
}

func TestUserService_Delete(t *testing.T) {
	ctx := context.Background()

	t.Run("with avatar", func(t *testing.T) {
		svc, mRepo, mStore := newService(t)
		mRepo.On("FindByID", ctx, "u1").Return(&model.User{ID: "u1", AvatarPath: "avatars/a.png"}, nil)
		mStore.On("Delete", ctx, "avatars/a.png").Return(nil)
		mRepo.On("Delete", ctx, "u1").Return(nil)

		assert.NoError(t, svc.Delete(ctx, "u1"))
		mStore.AssertExpectations(t)
	})

	t.Run("storage failure keeps row", func(t *testing.T) {
		svc, mRepo, mStore := newService(t)
		mRepo.On("FindByID", ctx, "u1").Return(&model.User{ID: "u1", AvatarPath: "avatars/a.png"}, nil)
		mStore.On("Delete", ctx, "avatars/a.png").Return(errors.New("storage down"))

		err := svc.Delete(ctx, "u1")
		assert.Error(t, err)
		mRepo.AssertNotCalled(t, "Delete", mock.Anything, mock.Anything)
	})

	t.Run("not found", func(t *testing.T) {
		svc, mRepo, _ := newService(t)
		mRepo.On("FindByID", ctx, "missing").Return(nil, sql.ErrNoRows)

		assert.ErrorIs(t, svc.Delete(ctx, "missing"), ErrNotFound)
	})
}

func TestUserService_UploadAvatar(t *testing.T) {
	ctx := context.Background()

	t.Run("happy path replaces old avatar", func(t *testing.T) {
		svc, mRepo, mStore := newService(t)
		r := strings.NewReader("png-bytes")

		mStore.On("Put", ctx, mock.MatchedBy(func(key string) bool {
			return strings.HasPrefix(key, "avatars/") && strings.HasSuffix(key, ".png")
		}), r, storage.PutObjectOptions{
			Size:        9,
			ContentType: "image/png",
			Metadata:    map[string]string{"original-filename": "me.png"},
		}).Return(storage.ObjectInfo{Key: "avatars/new.png", Size: 9, ContentType: "image/png"}, nil)

		mRepo.On("FindByID", ctx, "u1").Return(&model.User{ID: "u1", AvatarPath: "avatars/old.png"}, nil)
		mRepo.On("Update", ctx, mock.MatchedBy(func(u *model.User) bool {
			return u.AvatarPath == "avatars/new.png"
		})).Return(&model.User{ID: "u1", AvatarPath: "avatars/new.png"}, nil)
		mStore.On("Delete", ctx, "avatars/old.png").Return(nil)

		u, err := svc.UploadAvatar(ctx, "u1", r, "me.png", "image/png", 9)
		assert.NoError(t, err)
		assert.Equal(t, "avatars/new.png", u.AvatarPath)
		mStore.AssertExpectations(t)
	})

	t.Run("db failure rolls back object", func(t *testing.T) {
		svc, mRepo, mStore := newService(t)
		r := strings.NewReader("png-bytes")

		mStore.On("Put", ctx, mock.Anything, r, mock.Anything).
			Return(storage.ObjectInfo{Key: "avatars/new.png"}, nil)
		mRepo.On("FindByID", ctx, "u1").Return(&model.User{ID: "u1"}, nil)
		mRepo.On("Update", ctx, mock.Anything).Return(nil, errors.New("db down"))
		mStore.On("Delete", ctx, mock.MatchedBy(func(key string) bool {
			return strings.HasPrefix(key, "avatars/")
		})).Return(nil)

		_, err := svc.UploadAvatar(ctx, "u1", r, "me.png", "image/png", 9)
		assert.Error(t, err)
		mStore.AssertExpectations(t)
	})

	t.Run("nil reader", func(t *testing.T) {
		svc, _, _ := newService(t)
		_, err := svc.UploadAvatar(ctx, "u1", nil, "me.png", "image/png", 0)
		assert.ErrorIs(t, err, ErrReaderNil)
	})

	t.Run("user not found", func(t *testing.T) {
		svc, mRepo, mStore := newService(t)
		r := strings.NewReader("png-bytes")

		mStore.On("Put", ctx, mock.Anything, r, mock.Anything).
			Return(storage.ObjectInfo{Key: "avatars/new.png"}, nil)
		mRepo.On("FindByID", ctx, "missing").Return(nil, sql.ErrNoRows)
		mStore.On("Delete", ctx, mock.Anything).Return(nil)

		_, err := svc.UploadAvatar(ctx, "missing", r, "me.png", "image/png", 9)
		assert.ErrorIs(t, err, ErrNotFound)
	})
}
