package service

import (
	"context"
	"errors"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dealflow/listing-matcher/internal/biz/domain"
	"github.com/dealflow/listing-matcher/internal/biz/repo"
)

// mockSource is an in-memory MessageSource driven through channels
type mockSource struct {
	mu         sync.Mutex
	connectErr error
	resolveErr map[domain.ID]error
	latest     map[domain.ID]int64
	connects   int
	closes     int
	connected  bool
	closing    bool

	// gates block Connect or Close until closed
	connectGate chan struct{}
	closeGate   chan struct{}

	events     chan domain.IncomingMessage
	disconnect chan error
}

func newMockSource(latest map[domain.ID]int64) *mockSource {
	return &mockSource{
		resolveErr: make(map[domain.ID]error),
		latest:     latest,
		events:     make(chan domain.IncomingMessage),
		disconnect: make(chan error, 1),
	}
}

func (s *mockSource) Connect(ctx context.Context) error {
	s.mu.Lock()
	gate := s.connectGate
	s.mu.Unlock()
	if gate != nil {
		<-gate
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.connects++
	if s.connectErr != nil {
		return s.connectErr
	}
	s.connected = true
	return nil
}

func (s *mockSource) Resolve(ctx context.Context, chatID domain.ID) (*repo.ChatInfo, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.resolveErr[chatID]; err != nil {
		return nil, err
	}
	return &repo.ChatInfo{ID: chatID, Title: "chat " + chatID.String()}, nil
}

func (s *mockSource) Latest(ctx context.Context, chatID domain.ID) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.latest[chatID], nil
}

func (s *mockSource) Listen(ctx context.Context, chats []domain.ID, handle repo.MessageHandler) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case err := <-s.disconnect:
			return err
		case msg := <-s.events:
			handle(msg)
		}
	}
}

func (s *mockSource) Close() error {
	s.mu.Lock()
	gate := s.closeGate
	s.closing = true
	s.mu.Unlock()
	if gate != nil {
		<-gate
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.closes++
	s.connected = false
	s.closing = false
	return nil
}

func (s *mockSource) isClosing() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closing
}

func (s *mockSource) isConnected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.connected
}

func (s *mockSource) counts() (connects, closes int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.connects, s.closes
}

// mockDispatcher records forwarded messages
type mockDispatcher struct {
	mu   sync.Mutex
	msgs []domain.IncomingMessage
}

func (d *mockDispatcher) Dispatch(ctx context.Context, msg domain.IncomingMessage) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.msgs = append(d.msgs, msg)
	return true
}

func (d *mockDispatcher) ids() []int64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	ids := make([]int64, 0, len(d.msgs))
	for _, m := range d.msgs {
		ids = append(ids, m.ID)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

func msgIn(chat domain.ID, id int64) domain.IncomingMessage {
	return domain.IncomingMessage{ID: id, ChatID: chat, Text: "listing", SentAt: time.Now()}
}

func waitProcessed(t *testing.T, m *Monitor, total int64) {
	t.Helper()
	require.Eventually(t, func() bool {
		st := m.Status()
		return st.MessageCount+st.Dropped == total
	}, 2*time.Second, 5*time.Millisecond)
}

func TestMonitor_StaleDropAfterBootstrap(t *testing.T) {
	src := newMockSource(map[domain.ID]int64{"-100": 500})
	fwd := &mockDispatcher{}
	m := NewMonitor(src, fwd, []domain.ID{"-100"}, zerolog.Nop())

	require.NoError(t, m.Start(context.Background()))
	defer m.Stop()
	assert.Equal(t, StateListening, m.State())
	assert.Equal(t, int64(500), m.Status().Cursors["-100"])

	src.events <- msgIn("-100", 500)
	src.events <- msgIn("-100", 501)
	src.events <- msgIn("-100", 501)
	src.events <- msgIn("-100", 499)
	src.events <- msgIn("-100", 502)
	waitProcessed(t, m, 5)

	st := m.Status()
	assert.Equal(t, int64(2), st.MessageCount)
	assert.Equal(t, int64(3), st.Dropped)
	assert.Equal(t, int64(502), st.Cursors["-100"])
	assert.Equal(t, "chat -100", st.Chats["-100"])
	require.NotNil(t, st.StartedAt)

	require.Eventually(t, func() bool { return len(fwd.ids()) == 2 }, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, []int64{501, 502}, fwd.ids())
}

func TestMonitor_CursorsArePerChat(t *testing.T) {
	src := newMockSource(map[domain.ID]int64{"a": 10, "b": 0})
	fwd := &mockDispatcher{}
	m := NewMonitor(src, fwd, []domain.ID{"a", "b"}, zerolog.Nop())

	require.NoError(t, m.Start(context.Background()))
	defer m.Stop()

	src.events <- msgIn("b", 1)
	src.events <- msgIn("a", 5)
	src.events <- msgIn("a", 11)
	src.events <- msgIn("zzz", 99)
	waitProcessed(t, m, 4)

	st := m.Status()
	assert.Equal(t, int64(2), st.MessageCount)
	assert.Equal(t, int64(2), st.Dropped)
	assert.Equal(t, int64(11), st.Cursors["a"])
	assert.Equal(t, int64(1), st.Cursors["b"])
	_, tracked := st.Cursors["zzz"]
	assert.False(t, tracked)
}

func TestMonitor_DispatchFillsChatTitle(t *testing.T) {
	src := newMockSource(map[domain.ID]int64{"-1": 0})
	fwd := &mockDispatcher{}
	m := NewMonitor(src, fwd, []domain.ID{"-1"}, zerolog.Nop())
	require.NoError(t, m.Start(context.Background()))
	defer m.Stop()

	src.events <- msgIn("-1", 1)
	require.Eventually(t, func() bool { return len(fwd.ids()) == 1 }, 2*time.Second, 5*time.Millisecond)

	fwd.mu.Lock()
	defer fwd.mu.Unlock()
	assert.Equal(t, "chat -1", fwd.msgs[0].ChatTitle)
}

func TestMonitor_StartFailures(t *testing.T) {
	t.Run("auth", func(t *testing.T) {
		src := newMockSource(nil)
		src.connectErr = errors.New("401 unauthorized")
		m := NewMonitor(src, &mockDispatcher{}, []domain.ID{"-1"}, zerolog.Nop())

		err := m.Start(context.Background())

		var ce *domain.ConnectError
		require.ErrorAs(t, err, &ce)
		assert.True(t, ce.Chat.IsZero())
		assert.Equal(t, StateStopped, m.State())
		assert.Contains(t, m.Status().LastError, "401")
		_, closes := src.counts()
		assert.Equal(t, 1, closes)
	})

	t.Run("unreachable chat", func(t *testing.T) {
		src := newMockSource(map[domain.ID]int64{"-1": 3})
		src.resolveErr["-2"] = errors.New("chat not found")
		m := NewMonitor(src, &mockDispatcher{}, []domain.ID{"-1", "-2"}, zerolog.Nop())

		err := m.Start(context.Background())

		var ce *domain.ConnectError
		require.ErrorAs(t, err, &ce)
		assert.Equal(t, domain.ID("-2"), ce.Chat)
		assert.Equal(t, StateStopped, m.State())
	})
}

func TestMonitor_StartIsIdempotent(t *testing.T) {
	src := newMockSource(map[domain.ID]int64{"-1": 0})
	m := NewMonitor(src, &mockDispatcher{}, []domain.ID{"-1"}, zerolog.Nop())

	require.NoError(t, m.Start(context.Background()))
	require.NoError(t, m.Start(context.Background()))
	defer m.Stop()

	connects, _ := src.counts()
	assert.Equal(t, 1, connects)
}

func TestMonitor_DisconnectStopsSession(t *testing.T) {
	src := newMockSource(map[domain.ID]int64{"-1": 0})
	m := NewMonitor(src, &mockDispatcher{}, []domain.ID{"-1"}, zerolog.Nop())
	require.NoError(t, m.Start(context.Background()))
	done := m.Done()

	src.disconnect <- errors.New("connection reset")

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("session did not end")
	}
	require.Eventually(t, func() bool { return m.State() == StateStopped }, time.Second, 5*time.Millisecond)
	assert.Equal(t, "connection reset", m.Status().LastError)
	require.Eventually(t, func() bool {
		_, closes := src.counts()
		return closes == 1
	}, time.Second, 5*time.Millisecond)

	// Stop after a disconnect does not close the source twice
	m.Stop()
	_, closes := src.counts()
	assert.Equal(t, 1, closes)
}

func TestMonitor_StopAndRestart(t *testing.T) {
	src := newMockSource(map[domain.ID]int64{"-1": 500})
	fwd := &mockDispatcher{}
	m := NewMonitor(src, fwd, []domain.ID{"-1"}, zerolog.Nop())

	m.Stop()
	assert.Equal(t, StateStopped, m.State())

	require.NoError(t, m.Start(context.Background()))
	done := m.Done()
	m.Stop()
	m.Stop()

	select {
	case <-done:
	default:
		t.Fatal("session still running after stop")
	}
	assert.Equal(t, StateStopped, m.State())
	_, closes := src.counts()
	assert.Equal(t, 1, closes)

	src.mu.Lock()
	src.latest["-1"] = 600
	src.mu.Unlock()

	require.NoError(t, m.Start(context.Background()))
	defer m.Stop()
	assert.Equal(t, int64(600), m.Status().Cursors["-1"])
	assert.Equal(t, int64(0), m.Status().MessageCount)

	src.events <- msgIn("-1", 550)
	src.events <- msgIn("-1", 601)
	waitProcessed(t, m, 2)
	require.Eventually(t, func() bool { return len(fwd.ids()) == 1 }, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, []int64{601}, fwd.ids())
}

func TestMonitor_DoneClosedWhenIdle(t *testing.T) {
	m := NewMonitor(newMockSource(nil), &mockDispatcher{}, nil, zerolog.Nop())
	select {
	case <-m.Done():
	default:
		t.Fatal("done should be closed without a session")
	}
}

func TestMonitor_EnsureRunning(t *testing.T) {
	src := newMockSource(map[domain.ID]int64{"-1": 0})
	m := NewMonitor(src, &mockDispatcher{}, []domain.ID{"-1"}, zerolog.Nop())

	restarted, err := m.EnsureRunning(context.Background())
	require.NoError(t, err)
	assert.True(t, restarted)
	defer m.Stop()

	restarted, err = m.EnsureRunning(context.Background())
	require.NoError(t, err)
	assert.False(t, restarted)
}

func TestMonitor_DisconnectClosesBeforeRestart(t *testing.T) {
	src := newMockSource(map[domain.ID]int64{"-1": 0})
	src.closeGate = make(chan struct{})
	m := NewMonitor(src, &mockDispatcher{}, []domain.ID{"-1"}, zerolog.Nop())
	require.NoError(t, m.Start(context.Background()))
	done := m.Done()

	src.disconnect <- errors.New("connection reset")
	require.Eventually(t, src.isClosing, 2*time.Second, 5*time.Millisecond)

	// Teardown in progress: no restart on the transport being closed
	assert.Equal(t, StateListening, m.State())
	restarted, err := m.EnsureRunning(context.Background())
	require.NoError(t, err)
	assert.False(t, restarted)
	connects, _ := src.counts()
	assert.Equal(t, 1, connects)

	close(src.closeGate)
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("session did not end")
	}
	assert.Equal(t, StateStopped, m.State())
	assert.Equal(t, "connection reset", m.Status().LastError)

	restarted, err = m.EnsureRunning(context.Background())
	require.NoError(t, err)
	assert.True(t, restarted)
	defer m.Stop()

	assert.Equal(t, StateListening, m.State())
	assert.True(t, src.isConnected())
}

func TestMonitor_ConcurrentStartWaitsForOutcome(t *testing.T) {
	src := newMockSource(map[domain.ID]int64{"-1": 0})
	src.connectGate = make(chan struct{})
	src.connectErr = errors.New("unauthorized")
	m := NewMonitor(src, &mockDispatcher{}, []domain.ID{"-1"}, zerolog.Nop())

	first := make(chan error, 1)
	go func() { first <- m.Start(context.Background()) }()
	require.Eventually(t, func() bool { return m.State() == StateStarting }, 2*time.Second, 5*time.Millisecond)

	second := make(chan error, 1)
	go func() { second <- m.Start(context.Background()) }()

	select {
	case err := <-second:
		t.Fatalf("second start returned before the first finished: %v", err)
	case <-time.After(50 * time.Millisecond):
	}

	close(src.connectGate)

	var connErr *domain.ConnectError
	require.ErrorAs(t, <-first, &connErr)
	require.ErrorAs(t, <-second, &connErr)
	assert.Equal(t, StateStopped, m.State())
}
