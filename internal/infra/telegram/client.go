package telegram

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog"

	"github.com/dealflow/listing-matcher/internal/biz/domain"
	"github.com/dealflow/listing-matcher/internal/biz/repo"
)

const (
	pageSize        = 100
	maxPollFailures = 3
)

var allowedUpdates = []string{"message", "channel_post"}

// Source long-polls the Bot API for group and channel messages
// Message ordinals are Telegram message ids, which grow per chat
type Source struct {
	token       string
	endpoint    string
	http        *ctxClient
	pollTimeout int
	retryDelay  time.Duration
	log         zerolog.Logger

	mu      sync.Mutex
	bot     *tgbotapi.BotAPI
	offset  int
	drained bool
	latest  map[domain.ID]int64
	titles  map[domain.ID]string
}

// Option configures a Source
type Option func(*Source)

// WithEndpoint overrides the Bot API endpoint format, e.g. "http://host/bot%s/%s"
func WithEndpoint(endpoint string) Option {
	return func(s *Source) { s.endpoint = endpoint }
}

// WithPollTimeout sets the long-poll timeout in seconds
func WithPollTimeout(seconds int) Option {
	return func(s *Source) { s.pollTimeout = seconds }
}

// WithRetryDelay sets the pause between failed polls
func WithRetryDelay(d time.Duration) Option {
	return func(s *Source) { s.retryDelay = d }
}

// NewSource creates a Telegram message source for a bot token
func NewSource(token string, logger zerolog.Logger, opts ...Option) *Source {
	s := &Source{
		token:       token,
		endpoint:    tgbotapi.APIEndpoint,
		http:        &ctxClient{base: &http.Client{Timeout: 90 * time.Second}},
		pollTimeout: 30,
		retryDelay:  2 * time.Second,
		log:         logger.With().Str("component", "source.telegram").Logger(),
		latest:      make(map[domain.ID]int64),
		titles:      make(map[domain.ID]string),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

var _ repo.MessageSource = (*Source)(nil)

// Connect authenticates the bot token with getMe
func (s *Source) Connect(ctx context.Context) error {
	if s.token == "" {
		return errors.New("telegram bot token is empty")
	}
	s.http.bind(ctx)
	bot, err := tgbotapi.NewBotAPIWithClient(s.token, s.endpoint, s.http)
	if err != nil {
		return fmt.Errorf("telegram auth: %w", err)
	}

	s.mu.Lock()
	s.bot = bot
	s.offset = 0
	s.drained = false
	s.latest = make(map[domain.ID]int64)
	s.mu.Unlock()

	s.log.Info().Str("bot", bot.Self.UserName).Msg("bot authenticated")
	return nil
}

func (s *Source) client() (*tgbotapi.BotAPI, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.bot == nil {
		return nil, domain.ErrNotConnected
	}
	return s.bot, nil
}

// Resolve gets chat info with getChat
func (s *Source) Resolve(ctx context.Context, chatID domain.ID) (*repo.ChatInfo, error) {
	bot, err := s.client()
	if err != nil {
		return nil, err
	}
	id, ok := chatID.Int64()
	if !ok {
		return nil, fmt.Errorf("telegram chat id must be numeric: %q", chatID)
	}

	s.http.bind(ctx)
	chat, err := bot.GetChat(tgbotapi.ChatInfoConfig{ChatConfig: tgbotapi.ChatConfig{ChatID: id}})
	if err != nil {
		return nil, fmt.Errorf("get chat: %w", err)
	}

	title := chat.Title
	if title == "" {
		title = strings.TrimSpace(chat.FirstName + " " + chat.LastName)
	}

	s.mu.Lock()
	s.titles[chatID] = title
	s.mu.Unlock()
	return &repo.ChatInfo{ID: chatID, Title: title}, nil
}

// Latest returns the newest message id seen for the chat
// Bots cannot read history, so the first call drains the pending update
// queue once and records the highest message id per chat.
func (s *Source) Latest(ctx context.Context, chatID domain.ID) (int64, error) {
	if _, err := s.client(); err != nil {
		return 0, err
	}
	if err := s.drain(ctx); err != nil {
		return 0, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.latest[chatID], nil
}

func (s *Source) drain(ctx context.Context) error {
	s.mu.Lock()
	if s.drained {
		s.mu.Unlock()
		return nil
	}
	bot, offset := s.bot, s.offset
	s.mu.Unlock()

	s.http.bind(ctx)
	for {
		updates, err := bot.GetUpdates(tgbotapi.UpdateConfig{
			Offset:         offset,
			Limit:          pageSize,
			AllowedUpdates: allowedUpdates,
		})
		if err != nil {
			return fmt.Errorf("read pending updates: %w", err)
		}

		s.mu.Lock()
		for _, u := range updates {
			if u.UpdateID >= offset {
				offset = u.UpdateID + 1
			}
			if m := updateMessage(u); m != nil && m.Chat != nil {
				chat := domain.IDFromInt(m.Chat.ID)
				if id := int64(m.MessageID); id > s.latest[chat] {
					s.latest[chat] = id
				}
			}
		}
		s.offset = offset
		s.mu.Unlock()

		if len(updates) < pageSize {
			break
		}
	}

	s.mu.Lock()
	s.drained = true
	s.mu.Unlock()
	return nil
}

// Listen long-polls getUpdates and delivers messages for chats
func (s *Source) Listen(ctx context.Context, chats []domain.ID, handle repo.MessageHandler) error {
	bot, err := s.client()
	if err != nil {
		return err
	}

	watched := make(map[domain.ID]bool, len(chats))
	for _, c := range chats {
		watched[c] = true
	}

	s.http.bind(ctx)
	failures := 0
	for {
		if ctx.Err() != nil {
			return nil
		}

		s.mu.Lock()
		offset := s.offset
		s.mu.Unlock()

		updates, err := bot.GetUpdates(tgbotapi.UpdateConfig{
			Offset:         offset,
			Limit:          pageSize,
			Timeout:        s.pollTimeout,
			AllowedUpdates: allowedUpdates,
		})
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			failures++
			if failures >= maxPollFailures {
				return fmt.Errorf("telegram poll: %w", err)
			}
			s.log.Warn().Err(err).Int("failures", failures).Msg("poll updates failed")
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(s.retryDelay):
			}
			continue
		}
		failures = 0

		for _, u := range updates {
			s.mu.Lock()
			if u.UpdateID >= s.offset {
				s.offset = u.UpdateID + 1
			}
			s.mu.Unlock()

			msg, ok := s.convert(u)
			if !ok || !watched[msg.ChatID] {
				continue
			}
			handle(msg)
		}
	}
}

// Close drops the bot client
func (s *Source) Close() error {
	s.mu.Lock()
	s.bot = nil
	s.mu.Unlock()
	return nil
}

func (s *Source) convert(u tgbotapi.Update) (domain.IncomingMessage, bool) {
	m := updateMessage(u)
	if m == nil || m.Chat == nil {
		return domain.IncomingMessage{}, false
	}
	text := m.Text
	if text == "" {
		text = m.Caption
	}
	if strings.TrimSpace(text) == "" {
		return domain.IncomingMessage{}, false
	}

	msg := domain.IncomingMessage{
		ID:        int64(m.MessageID),
		ChatID:    domain.IDFromInt(m.Chat.ID),
		ChatTitle: m.Chat.Title,
		Text:      text,
		SentAt:    m.Time(),
	}
	if m.From != nil {
		msg.SenderID = domain.IDFromInt(m.From.ID)
		msg.SenderUsername = m.From.UserName
		msg.SenderName = strings.TrimSpace(m.From.FirstName + " " + m.From.LastName)
	}
	if msg.ChatTitle == "" {
		s.mu.Lock()
		msg.ChatTitle = s.titles[msg.ChatID]
		s.mu.Unlock()
	}
	return msg, true
}

func updateMessage(u tgbotapi.Update) *tgbotapi.Message {
	if u.Message != nil {
		return u.Message
	}
	return u.ChannelPost
}

// ctxClient attaches the caller's context to Bot API requests so that
// cancelling Listen interrupts an in-flight long poll
type ctxClient struct {
	base *http.Client

	mu  sync.Mutex
	ctx context.Context
}

func (c *ctxClient) bind(ctx context.Context) {
	c.mu.Lock()
	c.ctx = ctx
	c.mu.Unlock()
}

func (c *ctxClient) Do(req *http.Request) (*http.Response, error) {
	c.mu.Lock()
	ctx := c.ctx
	c.mu.Unlock()
	if ctx != nil {
		req = req.WithContext(ctx)
	}
	return c.base.Do(req)
}
