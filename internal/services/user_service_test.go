package services

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/charlesng35/authgate/internal/database/testutil"
	"github.com/charlesng35/authgate/internal/models"
	"github.com/charlesng35/authgate/pkg/crypto"
	apperrors "github.com/charlesng35/authgate/pkg/errors"
)

func newUserService(t *testing.T) (*UserService, *AuditService) {
	t.Helper()
	db := testutil.MustOpenTestDB(t, testutil.WithAutoMigrate())
	auditSvc, err := NewAuditService(db)
	require.NoError(t, err)
	userSvc, err := NewUserService(db, auditSvc)
	require.NoError(t, err)
	return userSvc, auditSvc
}

func TestUserServiceRegister(t *testing.T) {
	svc, auditSvc := newUserService(t)

	user, err := svc.Register(context.Background(), RegisterInput{
		Username:  " ada ",
		Email:     "Ada@Example.com",
		Password:  "Sup3rSecret!",
		Password2: "Sup3rSecret!",
		FirstName: "Ada",
		LastName:  "Lovelace",
	})
	require.NoError(t, err)
	require.Equal(t, "ada", user.Username)
	require.Equal(t, "ada@example.com", user.Email)
	require.Equal(t, models.RoleUser, user.Role)
	require.True(t, user.IsActive)
	require.NotEqual(t, "Sup3rSecret!", user.Password)
	require.True(t, crypto.VerifyPassword(user.Password, "Sup3rSecret!"))

	logs, _, err := auditSvc.List(context.Background(), AuditListOptions{Filters: AuditFilters{Action: AuditActionRegister}})
	require.NoError(t, err)
	require.Len(t, logs, 1)
	require.Equal(t, user.ID, *logs[0].UserID)
}

func TestUserServiceRegisterPasswordMismatch(t *testing.T) {
	svc, _ := newUserService(t)

	_, err := svc.Register(context.Background(), RegisterInput{
		Username:  "bob",
		Email:     "bob@example.com",
		Password:  "one-password",
		Password2: "another-password",
	})
	require.Error(t, err)
	appErr := apperrors.FromError(err)
	require.Equal(t, 400, appErr.StatusCode)
	require.Equal(t, "passwords do not match", appErr.Details["password"])
}

func TestUserServiceRegisterDuplicates(t *testing.T) {
	svc, _ := newUserService(t)
	ctx := context.Background()

	_, err := svc.Register(ctx, RegisterInput{Username: "carol", Email: "carol@example.com", Password: "password1", Password2: "password1"})
	require.NoError(t, err)

	_, err = svc.Register(ctx, RegisterInput{Username: "Carol", Email: "other@example.com", Password: "password1", Password2: "password1"})
	require.ErrorIs(t, err, apperrors.ErrConflict)
	require.Contains(t, apperrors.FromError(err).Details, "username")

	_, err = svc.Register(ctx, RegisterInput{Username: "carol2", Email: "CAROL@example.com", Password: "password1", Password2: "password1"})
	require.ErrorIs(t, err, apperrors.ErrConflict)
	require.Contains(t, apperrors.FromError(err).Details, "email")
}

func TestUserServiceGetAndList(t *testing.T) {
	svc, _ := newUserService(t)
	ctx := context.Background()

	var created []*models.User
	for _, name := range []string{"zoe", "adam", "mia"} {
		user, err := svc.Register(ctx, RegisterInput{Username: name, Email: name + "@example.com", Password: "password1", Password2: "password1"})
		require.NoError(t, err)
		created = append(created, user)
	}

	got, err := svc.GetByID(ctx, created[0].ID)
	require.NoError(t, err)
	require.Equal(t, "zoe", got.Username)

	_, err = svc.GetByID(ctx, "missing")
	require.ErrorIs(t, err, ErrUserNotFound)

	users, total, err := svc.List(ctx, ListUsersOptions{})
	require.NoError(t, err)
	require.EqualValues(t, 3, total)
	require.Equal(t, []string{"adam", "mia", "zoe"}, []string{users[0].Username, users[1].Username, users[2].Username})

	users, total, err = svc.List(ctx, ListUsersOptions{Query: "MI"})
	require.NoError(t, err)
	require.EqualValues(t, 1, total)
	require.Equal(t, "mia", users[0].Username)
}
