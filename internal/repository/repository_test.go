package repository

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"chatify/config"
	"chatify/internal/model"
	"chatify/pkg/db"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

func openTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	gdb, err := db.Open(config.DatabaseConfig{Driver: "sqlite", Database: filepath.Join(t.TempDir(), "test.db")})
	require.NoError(t, err)
	require.NoError(t, gdb.AutoMigrate(model.Tables()...))
	t.Cleanup(func() {
		if sqlDB, err := gdb.DB(); err == nil {
			sqlDB.Close()
		}
	})
	return gdb
}

func seedUsers(t *testing.T, repo *UserRepository, names ...string) []model.User {
	t.Helper()
	users := make([]model.User, 0, len(names))
	for _, name := range names {
		u := model.User{FullName: name, Email: name + "@example.com", PasswordHash: "x"}
		require.NoError(t, repo.Create(context.Background(), &u))
		users = append(users, u)
	}
	return users
}

var base = time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)

func createMessage(t *testing.T, repo *MessageRepository, from, to uint, text string, at time.Time) model.Message {
	t.Helper()
	m := model.Message{SenderID: from, ReceiverID: to, Text: text, CreatedAt: at}
	require.NoError(t, repo.Create(context.Background(), &m))
	return m
}

func TestUserRepository(t *testing.T) {
	ctx := context.Background()
	repo := NewUserRepository(openTestDB(t))
	users := seedUsers(t, repo, "bob", "alice", "carol")

	dup := model.User{FullName: "bob2", Email: "bob@example.com", PasswordHash: "x"}
	assert.ErrorIs(t, repo.Create(ctx, &dup), ErrDuplicate)

	got, err := repo.GetByEmail(ctx, "alice@example.com")
	require.NoError(t, err)
	assert.Equal(t, users[1].ID, got.ID)

	_, err = repo.GetByID(ctx, 999)
	assert.ErrorIs(t, err, ErrNotFound)

	ok, err := repo.Exists(ctx, users[0].ID)
	require.NoError(t, err)
	assert.True(t, ok)
	ok, err = repo.Exists(ctx, 999)
	require.NoError(t, err)
	assert.False(t, ok)

	others, err := repo.ListExcept(ctx, users[0].ID)
	require.NoError(t, err)
	require.Len(t, others, 2)
	assert.Equal(t, "alice", others[0].FullName)
	assert.Equal(t, "carol", others[1].FullName)

	ordered, err := repo.ListByIDs(ctx, []uint{users[2].ID, 999, users[0].ID})
	require.NoError(t, err)
	require.Len(t, ordered, 2)
	assert.Equal(t, users[2].ID, ordered[0].ID)
	assert.Equal(t, users[0].ID, ordered[1].ID)

	require.NoError(t, repo.SetPresence(ctx, users[0].ID, true, base))
	got, err = repo.GetByID(ctx, users[0].ID)
	require.NoError(t, err)
	assert.True(t, got.IsOnline)
	assert.True(t, got.LastSeen.Equal(base))

	require.NoError(t, repo.ResetPresence(ctx))
	got, err = repo.GetByID(ctx, users[0].ID)
	require.NoError(t, err)
	assert.False(t, got.IsOnline)

	assert.ErrorIs(t, repo.UpdateProfile(ctx, 999, map[string]interface{}{"full_name": "x"}), ErrNotFound)
}

func TestMessageConversationAndPartners(t *testing.T) {
	ctx := context.Background()
	gdb := openTestDB(t)
	users := seedUsers(t, NewUserRepository(gdb), "a", "b", "c")
	a, b, c := users[0].ID, users[1].ID, users[2].ID
	repo := NewMessageRepository(gdb)

	m1 := createMessage(t, repo, a, b, "hi", base)
	m2 := createMessage(t, repo, b, a, "hey", base.Add(time.Second))
	createMessage(t, repo, c, b, "other pair", base.Add(2*time.Second))
	createMessage(t, repo, a, c, "to c", base.Add(3*time.Second))

	conv, err := repo.ListConversation(ctx, a, b)
	require.NoError(t, err)
	require.Len(t, conv, 2)
	assert.Equal(t, m1.ID, conv[0].ID)
	assert.Equal(t, m2.ID, conv[1].ID)

	partners, err := repo.ListPartnerIDs(ctx, a)
	require.NoError(t, err)
	assert.Equal(t, []uint{c, b}, partners)

	partners, err = repo.ListPartnerIDs(ctx, b)
	require.NoError(t, err)
	assert.Equal(t, []uint{c, a}, partners)
}

func TestReactionsUniquePerUser(t *testing.T) {
	ctx := context.Background()
	gdb := openTestDB(t)
	users := seedUsers(t, NewUserRepository(gdb), "a", "b")
	repo := NewMessageRepository(gdb)
	m := createMessage(t, repo, users[0].ID, users[1].ID, "hi", base)

	require.NoError(t, repo.SaveReaction(ctx, m.ID, users[1].ID, model.ReactionLike))
	require.NoError(t, repo.SaveReaction(ctx, m.ID, users[1].ID, model.ReactionLove))
	require.NoError(t, repo.SaveReaction(ctx, m.ID, users[0].ID, model.ReactionSad))

	got, err := repo.GetByID(ctx, m.ID)
	require.NoError(t, err)
	require.Len(t, got.Reactions, 2)
	assert.Equal(t, users[1].ID, got.Reactions[0].UserID)
	assert.Equal(t, model.ReactionLove, got.Reactions[0].Type)

	require.NoError(t, repo.DeleteReaction(ctx, m.ID, users[1].ID))
	got, err = repo.GetByID(ctx, m.ID)
	require.NoError(t, err)
	require.Len(t, got.Reactions, 1)
	assert.Equal(t, users[0].ID, got.Reactions[0].UserID)
}

func TestReceiptsAreMonotonic(t *testing.T) {
	ctx := context.Background()
	gdb := openTestDB(t)
	users := seedUsers(t, NewUserRepository(gdb), "a", "b")
	repo := NewMessageRepository(gdb)
	m := createMessage(t, repo, users[0].ID, users[1].ID, "hi", base)

	// 先已读：送达时间被补齐
	changed, err := repo.MarkRead(ctx, m.ID, base.Add(time.Minute))
	require.NoError(t, err)
	assert.True(t, changed)

	// 之后的送达回执不改变任何字段
	changed, err = repo.MarkDelivered(ctx, m.ID, base.Add(2*time.Minute))
	require.NoError(t, err)
	assert.False(t, changed)

	changed, err = repo.MarkRead(ctx, m.ID, base.Add(3*time.Minute))
	require.NoError(t, err)
	assert.False(t, changed)

	got, err := repo.GetByID(ctx, m.ID)
	require.NoError(t, err)
	require.NotNil(t, got.DeliveredAt)
	require.NotNil(t, got.ReadAt)
	assert.True(t, got.ReadAt.Equal(base.Add(time.Minute)))
	assert.True(t, got.DeliveredAt.Equal(base.Add(time.Minute)))
}

func TestMarkDeliveredThenRead(t *testing.T) {
	ctx := context.Background()
	gdb := openTestDB(t)
	users := seedUsers(t, NewUserRepository(gdb), "a", "b")
	repo := NewMessageRepository(gdb)
	m := createMessage(t, repo, users[0].ID, users[1].ID, "hi", base)

	changed, err := repo.MarkDelivered(ctx, m.ID, base.Add(time.Second))
	require.NoError(t, err)
	assert.True(t, changed)

	changed, err = repo.MarkRead(ctx, m.ID, base.Add(time.Minute))
	require.NoError(t, err)
	assert.True(t, changed)

	got, err := repo.GetByID(ctx, m.ID)
	require.NoError(t, err)
	assert.True(t, got.DeliveredAt.Equal(base.Add(time.Second)))
	assert.True(t, got.ReadAt.Equal(base.Add(time.Minute)))
}

func TestMarkAllReadFrom(t *testing.T) {
	ctx := context.Background()
	gdb := openTestDB(t)
	users := seedUsers(t, NewUserRepository(gdb), "a", "b")
	a, b := users[0].ID, users[1].ID
	repo := NewMessageRepository(gdb)

	m1 := createMessage(t, repo, a, b, "1", base)
	m2 := createMessage(t, repo, a, b, "2", base.Add(time.Second))
	m3 := createMessage(t, repo, a, b, "3", base.Add(2*time.Second))
	createMessage(t, repo, b, a, "reply", base.Add(3*time.Second))

	_, err := repo.MarkRead(ctx, m2.ID, base.Add(time.Minute))
	require.NoError(t, err)

	count, err := repo.CountUnreadFrom(ctx, b, a)
	require.NoError(t, err)
	assert.Equal(t, int64(2), count)

	updated, err := repo.MarkAllReadFrom(ctx, b, a, base.Add(time.Hour))
	require.NoError(t, err)
	require.Len(t, updated, 2)
	assert.Equal(t, m1.ID, updated[0].ID)
	assert.Equal(t, m3.ID, updated[1].ID)
	for _, m := range updated {
		require.NotNil(t, m.ReadAt)
		require.NotNil(t, m.DeliveredAt)
	}

	again, err := repo.MarkAllReadFrom(ctx, b, a, base.Add(2*time.Hour))
	require.NoError(t, err)
	assert.Empty(t, again)
}

func TestUpdateFieldsMissing(t *testing.T) {
	repo := NewMessageRepository(openTestDB(t))
	err := repo.UpdateFields(context.Background(), 42, map[string]interface{}{"text": "x"})
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestSubscriptionUpsert(t *testing.T) {
	ctx := context.Background()
	gdb := openTestDB(t)
	users := seedUsers(t, NewUserRepository(gdb), "a", "b")
	repo := NewSubscriptionRepository(gdb)

	require.NoError(t, repo.Upsert(ctx, &model.PushSubscription{UserID: users[0].ID, Endpoint: "https://push/1", P256dh: "k1", Auth: "a1"}))
	require.NoError(t, repo.Upsert(ctx, &model.PushSubscription{UserID: users[1].ID, Endpoint: "https://push/1", P256dh: "k2", Auth: "a2"}))

	subs, err := repo.ListByUser(ctx, users[0].ID)
	require.NoError(t, err)
	assert.Empty(t, subs)

	subs, err = repo.ListByUser(ctx, users[1].ID)
	require.NoError(t, err)
	require.Len(t, subs, 1)
	assert.Equal(t, "k2", subs[0].P256dh)

	require.NoError(t, repo.DeleteByEndpoint(ctx, "https://push/1"))
	subs, err = repo.ListByUser(ctx, users[1].ID)
	require.NoError(t, err)
	assert.Empty(t, subs)
}
