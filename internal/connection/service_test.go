package connection

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

func setupConnectionDB(t *testing.T) *gorm.DB {
	dsn := fmt.Sprintf("file:connection_%d?mode=memory&cache=shared", time.Now().UnixNano())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&Connection{}))
	return db
}

func TestService_CreateAndCredentials(t *testing.T) {
	db := setupConnectionDB(t)
	svc := NewService(db)
	ctx := context.Background()

	conn, err := svc.Create(ctx, "alice", &CreateRequest{
		Name: "报表库",
		Type: TypeMySQL,
		Config: map[string]any{
			"host": "db.internal", "port": float64(3306), "database": "reports",
		},
		Credentials: map[string]string{
			"username": "reader", "password": "s3cret!",
		},
	})
	require.NoError(t, err)
	assert.NotEmpty(t, conn.ID)
	assert.True(t, conn.IsActive)
	assert.Equal(t, TestStatusUnknown, conn.LastTestStatus)

	t.Run("凭据落盘为密文", func(t *testing.T) {
		var stored Connection
		require.NoError(t, db.First(&stored, "id = ?", conn.ID).Error)
		assert.NotEmpty(t, stored.EncryptedCredentials)
		assert.NotContains(t, stored.EncryptedCredentials, "s3cret!")
	})

	t.Run("解密还原凭据", func(t *testing.T) {
		loaded, err := svc.Get(ctx, "alice", conn.ID)
		require.NoError(t, err)
		creds, err := svc.Credentials(loaded)
		require.NoError(t, err)
		assert.Equal(t, "reader", creds["username"])
		assert.Equal(t, "s3cret!", creds["password"])
	})

	t.Run("非归属者不可见", func(t *testing.T) {
		_, err := svc.Get(ctx, "bob", conn.ID)
		assert.ErrorIs(t, err, ErrConnectionNotFound)
	})
}

func TestService_Update(t *testing.T) {
	db := setupConnectionDB(t)
	svc := NewService(db)
	ctx := context.Background()

	conn, err := svc.Create(ctx, "alice", &CreateRequest{
		Name: "内部接口", Type: TypeHTTP,
		Credentials: map[string]string{"api_key": "old-key"},
	})
	require.NoError(t, err)
	require.NoError(t, svc.MarkTested(ctx, conn.ID, true))

	t.Run("换凭据后测试状态重置", func(t *testing.T) {
		updated, err := svc.Update(ctx, "alice", conn.ID, &UpdateRequest{
			Credentials: map[string]string{"api_key": "new-key"},
		})
		require.NoError(t, err)
		assert.Equal(t, TestStatusUnknown, updated.LastTestStatus)

		creds, err := svc.Credentials(updated)
		require.NoError(t, err)
		assert.Equal(t, "new-key", creds["api_key"])
	})

	t.Run("停用连接", func(t *testing.T) {
		inactive := false
		updated, err := svc.Update(ctx, "alice", conn.ID, &UpdateRequest{IsActive: &inactive})
		require.NoError(t, err)
		assert.False(t, updated.IsActive)
	})
}

func TestService_Delete(t *testing.T) {
	db := setupConnectionDB(t)
	svc := NewService(db)
	ctx := context.Background()

	conn, err := svc.Create(ctx, "alice", &CreateRequest{Name: "临时", Type: TypeHTTP})
	require.NoError(t, err)

	require.NoError(t, svc.Delete(ctx, "alice", conn.ID))
	assert.ErrorIs(t, svc.Delete(ctx, "alice", conn.ID), ErrConnectionNotFound)
}

func TestService_OAuthToken(t *testing.T) {
	db := setupConnectionDB(t)
	svc := NewService(db)
	ctx := context.Background()

	conn, err := svc.Create(ctx, "alice", &CreateRequest{Name: "日历", Type: TypeOAuth})
	require.NoError(t, err)

	token := &oauth2.Token{
		AccessToken:  "access-abc",
		RefreshToken: "refresh-def",
		TokenType:    "Bearer",
		Expiry:       time.Now().Add(time.Hour).UTC(),
	}
	require.NoError(t, svc.SaveOAuthToken(ctx, conn.ID, "google", token))

	loaded, err := svc.Get(ctx, "alice", conn.ID)
	require.NoError(t, err)
	assert.Equal(t, "google", loaded.OAuthProvider)
	assert.NotContains(t, loaded.EncryptedOAuthToken, "access-abc")

	restored, err := svc.OAuthToken(loaded)
	require.NoError(t, err)
	assert.Equal(t, "access-abc", restored.AccessToken)
	assert.Equal(t, "refresh-def", restored.RefreshToken)
}
