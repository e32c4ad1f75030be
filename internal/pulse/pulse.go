// Package pulse detects participants that went silent without closing their
// connection. Clients send a pulse every few seconds per room; a record that
// has not been refreshed within the timeout is reported once and dropped.
package pulse

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// TimeProvider abstracts the clock so sweeps can be driven in tests.
type TimeProvider interface {
	Now() time.Time
	Since(t time.Time) time.Duration
}

type systemClock struct{}

func (systemClock) Now() time.Time                  { return time.Now() }
func (systemClock) Since(t time.Time) time.Duration { return time.Since(t) }

// Record is the last pulse seen from a user in a room.
type Record struct {
	RoomID          string
	UserID          string
	ConnectionState string
	LastSeen        time.Time
}

type key struct {
	room string
	user string
}

type Monitor struct {
	mu      sync.Mutex
	records map[key]Record

	interval  time.Duration
	timeout   time.Duration
	clock     TimeProvider
	onTimeout func(Record)
	log       *logrus.Entry
}

// NewMonitor sweeps every interval and reports records whose age reached
// timeout through onTimeout.
func NewMonitor(interval, timeout time.Duration, onTimeout func(Record), log *logrus.Logger) *Monitor {
	if interval <= 0 {
		interval = 10 * time.Second
	}
	if timeout <= 0 {
		timeout = 20 * time.Second
	}
	if onTimeout == nil {
		onTimeout = func(Record) {}
	}
	return &Monitor{
		records:   map[key]Record{},
		interval:  interval,
		timeout:   timeout,
		clock:     systemClock{},
		onTimeout: onTimeout,
		log:       log.WithField("component", "pulse"),
	}
}

func (m *Monitor) SetTimeProvider(tp TimeProvider) {
	m.mu.Lock()
	m.clock = tp
	m.mu.Unlock()
}

// Beat upserts the record for (roomID, userID) stamped with server time.
func (m *Monitor) Beat(roomID, userID, state string) Record {
	m.mu.Lock()
	defer m.mu.Unlock()
	r := Record{RoomID: roomID, UserID: userID, ConnectionState: state, LastSeen: m.clock.Now()}
	m.records[key{roomID, userID}] = r
	return r
}

func (m *Monitor) Get(roomID, userID string) (Record, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.records[key{roomID, userID}]
	return r, ok
}

func (m *Monitor) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.records)
}

// Sweep removes every expired record and reports each one exactly once.
func (m *Monitor) Sweep() []Record {
	m.mu.Lock()
	var expired []Record
	for k, r := range m.records {
		if m.clock.Since(r.LastSeen) >= m.timeout {
			expired = append(expired, r)
			delete(m.records, k)
		}
	}
	m.mu.Unlock()

	for _, r := range expired {
		m.log.WithFields(logrus.Fields{
			"room_id":   r.RoomID,
			"user_id":   r.UserID,
			"last_seen": r.LastSeen,
		}).Warn("pulse timeout")
		m.onTimeout(r)
	}
	return expired
}

// Run sweeps on the monitor's interval until ctx is done.
func (m *Monitor) Run(ctx context.Context) {
	t := time.NewTicker(m.interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			m.Sweep()
		}
	}
}

// Remove forgets a single record, e.g. when the user leaves the room.
func (m *Monitor) Remove(roomID, userID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	k := key{roomID, userID}
	_, ok := m.records[k]
	delete(m.records, k)
	return ok
}

func (m *Monitor) RemoveUser(userID string) int {
	return m.removeWhere(func(k key) bool { return k.user == userID })
}

func (m *Monitor) RemoveRoom(roomID string) int {
	return m.removeWhere(func(k key) bool { return k.room == roomID })
}

func (m *Monitor) removeWhere(match func(key) bool) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for k := range m.records {
		if match(k) {
			delete(m.records, k)
			n++
		}
	}
	return n
}
