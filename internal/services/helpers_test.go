package services

import (
	"io"
	"log"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	glog "gorm.io/gorm/logger"

	"github.com/yoockh/yoocall/internal/cache"
	"github.com/yoockh/yoocall/internal/logger"
	"github.com/yoockh/yoocall/internal/metrics"
	"github.com/yoockh/yoocall/internal/models"
	pgrepo "github.com/yoockh/yoocall/internal/repositories/postgres"
)

func setupTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	silent := glog.New(log.New(io.Discard, "", log.LstdFlags), glog.Config{
		LogLevel:                  glog.Silent,
		IgnoreRecordNotFoundError: true,
	})
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{Logger: silent})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	require.NoError(t, db.AutoMigrate(&models.Call{}, &models.Booking{}, &models.User{}))
	t.Cleanup(func() { _ = sqlDB.Close() })
	return db
}

type emitted struct {
	To      string
	Event   string
	Payload any
}

type recordingNotifier struct {
	mu     sync.Mutex
	online map[string]bool
	sent   []emitted
	closed []string
}

func newRecordingNotifier(online ...string) *recordingNotifier {
	n := &recordingNotifier{online: map[string]bool{}}
	for _, u := range online {
		n.online[u] = true
	}
	return n
}

func (n *recordingNotifier) IsOnline(userID string) bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.online[userID]
}

func (n *recordingNotifier) EmitToUser(userID, event string, payload any) bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.sent = append(n.sent, emitted{To: userID, Event: event, Payload: payload})
	return n.online[userID]
}

func (n *recordingNotifier) CallClosed(c *models.Call) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.closed = append(n.closed, c.RoomID)
}

func (n *recordingNotifier) eventsFor(userID string) []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	var out []string
	for _, e := range n.sent {
		if e.To == userID {
			out = append(out, e.Event)
		}
	}
	return out
}

type fixture struct {
	db       *gorm.DB
	calls    *callService
	notifier *recordingNotifier
	metrics  *metrics.Metrics
	clock    *time.Time
}

func newFixture(t *testing.T, online ...string) *fixture {
	t.Helper()
	db := setupTestDB(t)
	for _, id := range []string{"alice", "bob", "carol"} {
		require.NoError(t, db.Create(&models.User{ID: id, Name: id}).Error)
	}
	users := NewUserService(pgrepo.NewUserRepo(db), cache.NewMemoryCache(), time.Minute)
	m := metrics.New()
	svc := NewCallService(pgrepo.NewCallRepo(db), pgrepo.NewBookingRepo(db), users, m, logger.Discard()).(*callService)

	clock := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	svc.now = func() time.Time { return clock }

	n := newRecordingNotifier(online...)
	svc.SetNotifier(n)
	return &fixture{db: db, calls: svc, notifier: n, metrics: m, clock: &clock}
}

func (f *fixture) advance(d time.Duration) { *f.clock = f.clock.Add(d) }
