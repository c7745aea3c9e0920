package database

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/charlesng35/authgate/internal/models"
)

func TestOpenSQLiteMemory(t *testing.T) {
	db := openTestDB(t)

	require.NoError(t, db.Exec("SELECT 1").Error)
	require.NoError(t, Ping(context.Background(), db))
}

func TestOpenRejectsUnknownDriver(t *testing.T) {
	_, err := Open(Config{Driver: "oracle"})
	require.Error(t, err)
}

func TestAutoMigrateCreatesSchema(t *testing.T) {
	db := openTestDB(t)
	require.NoError(t, AutoMigrateAndSeed(db))

	for _, model := range []interface{}{
		&models.User{}, &models.LoginAttempt{}, &models.Session{}, &models.AuditLog{}, &models.CacheEntry{},
		&models.OrientationSession{},
	} {
		require.True(t, db.Migrator().HasTable(model), "missing table for %T", model)
	}
}

func TestDuplicateKeyIsTranslated(t *testing.T) {
	db := openTestDB(t)
	require.NoError(t, AutoMigrate(db))

	user := models.User{Username: "alice", Email: "alice@example.com", Password: "hash"}
	require.NoError(t, db.Create(&user).Error)

	dup := models.User{Username: "alice", Email: "other@example.com", Password: "hash"}
	err := db.Create(&dup).Error
	require.Error(t, err)
	require.True(t, errors.Is(err, gorm.ErrDuplicatedKey), "got %v", err)
}

func TestLoginAttemptTokenHashIsUnique(t *testing.T) {
	db := openTestDB(t)
	require.NoError(t, AutoMigrate(db))

	user := models.User{Username: "bob", Email: "bob@example.com", Password: "hash"}
	require.NoError(t, db.Create(&user).Error)

	expires := time.Now().Add(15 * time.Minute)
	first := models.LoginAttempt{UserID: user.ID, TokenHash: "abc", State: models.LoginAttemptPending, ExpiresAt: expires}
	require.NoError(t, db.Create(&first).Error)

	second := models.LoginAttempt{UserID: user.ID, TokenHash: "abc", State: models.LoginAttemptPending, ExpiresAt: expires}
	require.Error(t, db.Create(&second).Error)
}

func openTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	db, err := Open(Config{
		Driver: "sqlite",
		DSN:    "file:" + uuid.NewString() + "?mode=memory&cache=shared&_foreign_keys=1",
	})
	require.NoError(t, err)

	sqlDB, err := db.DB()
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = sqlDB.Close()
	})

	return db
}
