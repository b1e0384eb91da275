package service

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"chatify/config"
	"chatify/internal/model"
	"chatify/internal/repository"
	"chatify/pkg/db"
	"chatify/pkg/upload"

	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

type emitted struct {
	To      uint
	Name    string
	Payload interface{}
}

// recordingNotifier 记录下发的事件；online 中的用户视为在线
type recordingNotifier struct {
	mu        sync.Mutex
	online    map[uint]bool
	events    []emitted
	cancelled [][2]uint
}

func newRecordingNotifier(online ...uint) *recordingNotifier {
	n := &recordingNotifier{online: make(map[uint]bool)}
	for _, id := range online {
		n.online[id] = true
	}
	return n
}

func (n *recordingNotifier) EmitTo(userID uint, name string, payload interface{}) bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	if !n.online[userID] {
		return false
	}
	n.events = append(n.events, emitted{To: userID, Name: name, Payload: payload})
	return true
}

func (n *recordingNotifier) EmitToPair(a, b uint, name string, payload interface{}) {
	n.EmitTo(a, name, payload)
	if a != b {
		n.EmitTo(b, name, payload)
	}
}

func (n *recordingNotifier) CancelTyping(senderID, receiverID uint) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.cancelled = append(n.cancelled, [2]uint{senderID, receiverID})
}

func (n *recordingNotifier) eventsFor(userID uint, name string) []emitted {
	n.mu.Lock()
	defer n.mu.Unlock()
	var out []emitted
	for _, e := range n.events {
		if e.To == userID && e.Name == name {
			out = append(out, e)
		}
	}
	return out
}

func (n *recordingNotifier) count() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.events)
}

type uploaderMock struct {
	mock.Mock
}

func (m *uploaderMock) Upload(ctx context.Context, data string, kind upload.Kind) (string, error) {
	args := m.Called(ctx, data, kind)
	return args.String(0), args.Error(1)
}

type publisherMock struct {
	mock.Mock
}

func (m *publisherMock) Publish(ctx context.Context, routingKey string, event any) error {
	args := m.Called(ctx, routingKey, event)
	return args.Error(0)
}

func (m *publisherMock) Close() error {
	return m.Called().Error(0)
}

// fakeClock 可手动推进的时钟
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

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

type fixture struct {
	db       *gorm.DB
	users    *repository.UserRepository
	messages *repository.MessageRepository
	notifier *recordingNotifier
	uploader *uploaderMock
	clock    *fakeClock
	svc      *MessageService
	alice    model.User
	bob      model.User
	carol    model.User
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	gdb := openTestDB(t)
	f := &fixture{
		db:       gdb,
		users:    repository.NewUserRepository(gdb),
		messages: repository.NewMessageRepository(gdb),
		notifier: newRecordingNotifier(),
		uploader: new(uploaderMock),
		clock:    &fakeClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)},
	}
	ctx := context.Background()
	f.alice = model.User{FullName: "Alice", Email: "alice@example.com", PasswordHash: "x"}
	f.bob = model.User{FullName: "Bob", Email: "bob@example.com", PasswordHash: "x"}
	f.carol = model.User{FullName: "Carol", Email: "carol@example.com", PasswordHash: "x"}
	require.NoError(t, f.users.Create(ctx, &f.alice))
	require.NoError(t, f.users.Create(ctx, &f.bob))
	require.NoError(t, f.users.Create(ctx, &f.carol))

	f.svc = NewMessageService(f.messages, f.users, f.notifier, f.uploader, nil,
		config.MessageConfig{EditWindow: 15 * time.Minute, MaxTextLength: 2000}, nil).
		WithClock(f.clock.Now)
	return f
}

func (f *fixture) online(ids ...uint) {
	f.notifier.mu.Lock()
	defer f.notifier.mu.Unlock()
	for _, id := range ids {
		f.notifier.online[id] = true
	}
}
