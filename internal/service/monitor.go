package service

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/dealflow/listing-matcher/internal/biz/domain"
	"github.com/dealflow/listing-matcher/internal/biz/repo"
	"github.com/dealflow/listing-matcher/internal/metrics"
)

// MonitorState is the lifecycle state of the stream monitor
type MonitorState string

const (
	StateStopped   MonitorState = "stopped"
	StateStarting  MonitorState = "starting"
	StateListening MonitorState = "listening"
)

// Dispatcher forwards one accepted message
type Dispatcher interface {
	Dispatch(ctx context.Context, msg domain.IncomingMessage) bool
}

// MonitorStatus is a snapshot of the monitor
type MonitorStatus struct {
	State        MonitorState         `json:"state"`
	Chats        map[domain.ID]string `json:"chats"`
	Cursors      map[domain.ID]int64  `json:"cursors"`
	MessageCount int64                `json:"message_count"`
	Dropped      int64                `json:"dropped"`
	StartedAt    *domain.Timestamp    `json:"started_at"`
	LastError    string               `json:"last_error,omitempty"`
}

// session is one supervised listening task
type session struct {
	cancel context.CancelFunc
	done   chan struct{}
}

// Monitor watches the configured chats and forwards each new message once
type Monitor struct {
	source         repo.MessageSource
	forwarder      Dispatcher
	chats          []domain.ID
	forwardTimeout time.Duration
	log            zerolog.Logger

	// opMu serializes Start and Stop
	opMu sync.Mutex

	mu        sync.Mutex
	state     MonitorState
	titles    map[domain.ID]string
	cursors   map[domain.ID]int64
	count     int64
	dropped   int64
	startedAt time.Time
	lastErr   error
	session   *session
}

// NewMonitor creates a stopped monitor for the given chats
func NewMonitor(source repo.MessageSource, forwarder Dispatcher, chats []domain.ID, logger zerolog.Logger) *Monitor {
	return &Monitor{
		source:         source,
		forwarder:      forwarder,
		chats:          chats,
		forwardTimeout: 15 * time.Second,
		log:            logger.With().Str("component", "monitor").Logger(),
		state:          StateStopped,
		titles:         make(map[domain.ID]string),
		cursors:        make(map[domain.ID]int64),
	}
}

// Start connects the source, seeds the cursors and starts listening.
// It is a no-op when the monitor is already listening. A call made while
// another start is in progress waits for it and reports the outcome.
func (m *Monitor) Start(ctx context.Context) error {
	if m.State() == StateListening {
		return nil
	}

	m.opMu.Lock()
	defer m.opMu.Unlock()

	m.mu.Lock()
	if m.state != StateStopped {
		m.mu.Unlock()
		return nil
	}
	m.state = StateStarting
	m.lastErr = nil
	m.mu.Unlock()

	titles, cursors, err := m.connect(ctx)
	if err != nil {
		m.source.Close()
		m.mu.Lock()
		m.state = StateStopped
		m.lastErr = err
		m.mu.Unlock()
		metrics.MonitorSessions.WithLabelValues("connect_failed").Inc()
		m.log.Error().Err(err).Msg("monitor failed to start")
		return err
	}

	sessCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	s := &session{cancel: cancel, done: make(chan struct{})}

	m.mu.Lock()
	m.titles = titles
	m.cursors = cursors
	m.count = 0
	m.dropped = 0
	m.startedAt = time.Now()
	m.state = StateListening
	m.session = s
	m.mu.Unlock()

	metrics.MonitorSessions.WithLabelValues("started").Inc()
	metrics.MonitorListening.Set(1)
	m.log.Info().Int("chats", len(m.chats)).Interface("cursors", cursors).Msg("monitor listening")

	go m.run(sessCtx, s)
	return nil
}

// connect authenticates, checks every chat and reads its latest message id
func (m *Monitor) connect(ctx context.Context) (map[domain.ID]string, map[domain.ID]int64, error) {
	if err := m.source.Connect(ctx); err != nil {
		return nil, nil, &domain.ConnectError{Err: err}
	}

	titles := make(map[domain.ID]string, len(m.chats))
	cursors := make(map[domain.ID]int64, len(m.chats))
	for _, chat := range m.chats {
		info, err := m.source.Resolve(ctx, chat)
		if err != nil {
			return nil, nil, &domain.ConnectError{Chat: chat, Err: err}
		}
		latest, err := m.source.Latest(ctx, chat)
		if err != nil {
			return nil, nil, &domain.ConnectError{Chat: chat, Err: err}
		}
		titles[chat] = info.Title
		cursors[chat] = latest
		m.log.Debug().Str("chat", chat.String()).Str("title", info.Title).Int64("cursor", latest).Msg("chat resolved")
	}
	return titles, cursors, nil
}

// run supervises one listening session until the source disconnects or Stop cancels it
func (m *Monitor) run(ctx context.Context, s *session) {
	defer close(s.done)

	err := m.source.Listen(ctx, m.chats, m.handle)

	m.mu.Lock()
	current := m.session == s
	m.mu.Unlock()

	// Stop owns the teardown when it cancelled the session
	if !current {
		return
	}

	// Close before publishing stopped so a restart never shares the transport
	m.source.Close()

	m.mu.Lock()
	current = m.session == s
	if current {
		m.session = nil
		m.state = StateStopped
		m.lastErr = err
	}
	m.mu.Unlock()
	if !current {
		return
	}

	metrics.MonitorSessions.WithLabelValues("disconnected").Inc()
	metrics.MonitorListening.Set(0)
	if err != nil {
		m.log.Error().Err(err).Msg("source disconnected, monitor stopped")
	} else {
		m.log.Warn().Msg("listen ended, monitor stopped")
	}
}

// handle applies the per-chat cursor and dispatches new messages
func (m *Monitor) handle(msg domain.IncomingMessage) {
	m.mu.Lock()
	cursor, watched := m.cursors[msg.ChatID]
	if !watched {
		m.dropped++
		m.mu.Unlock()
		metrics.MessagesDropped.WithLabelValues("channel").Inc()
		m.log.Debug().Str("chat", msg.ChatID.String()).Int64("message_id", msg.ID).Msg("message from unmonitored chat dropped")
		return
	}
	if msg.ID <= cursor {
		m.dropped++
		m.mu.Unlock()
		metrics.MessagesDropped.WithLabelValues("stale").Inc()
		m.log.Debug().Str("chat", msg.ChatID.String()).Int64("message_id", msg.ID).Int64("cursor", cursor).Msg("stale message dropped")
		return
	}
	m.cursors[msg.ChatID] = msg.ID
	m.count++
	if msg.ChatTitle == "" {
		msg.ChatTitle = m.titles[msg.ChatID]
	}
	m.mu.Unlock()

	metrics.MessagesDispatched.WithLabelValues(msg.ChatID.String()).Inc()
	m.log.Info().Str("chat", msg.ChatID.String()).Int64("message_id", msg.ID).Msg("new message")

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), m.forwardTimeout)
		defer cancel()
		m.forwarder.Dispatch(ctx, msg)
	}()
}

// Stop cancels the session, waits for it to end and closes the source
func (m *Monitor) Stop() {
	m.opMu.Lock()
	defer m.opMu.Unlock()

	m.mu.Lock()
	s := m.session
	m.session = nil
	m.state = StateStopped
	m.mu.Unlock()

	if s == nil {
		return
	}
	s.cancel()
	<-s.done
	m.source.Close()

	metrics.MonitorSessions.WithLabelValues("stopped").Inc()
	metrics.MonitorListening.Set(0)
	m.log.Info().Msg("monitor stopped")
}

// EnsureRunning starts a stopped monitor and reports whether it did
func (m *Monitor) EnsureRunning(ctx context.Context) (bool, error) {
	if m.State() != StateStopped {
		return false, nil
	}
	if err := m.Start(ctx); err != nil {
		return true, err
	}
	return true, nil
}

// State returns the current lifecycle state
func (m *Monitor) State() MonitorState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Status returns a snapshot of state and counters
func (m *Monitor) Status() MonitorStatus {
	m.mu.Lock()
	defer m.mu.Unlock()

	st := MonitorStatus{
		State:        m.state,
		Chats:        make(map[domain.ID]string, len(m.titles)),
		Cursors:      make(map[domain.ID]int64, len(m.cursors)),
		MessageCount: m.count,
		Dropped:      m.dropped,
	}
	for k, v := range m.titles {
		st.Chats[k] = v
	}
	for k, v := range m.cursors {
		st.Cursors[k] = v
	}
	if !m.startedAt.IsZero() {
		ts := domain.NewTimestamp(m.startedAt)
		st.StartedAt = &ts
	}
	if m.lastErr != nil {
		st.LastError = m.lastErr.Error()
	}
	return st
}

// Done returns a channel closed when the current session ends.
// It is already closed when no session is running.
func (m *Monitor) Done() <-chan struct{} {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.session == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return m.session.done
}
