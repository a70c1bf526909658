package feishu

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	lark "github.com/larksuite/oapi-sdk-go/v3"
	larkcore "github.com/larksuite/oapi-sdk-go/v3/core"
	"github.com/larksuite/oapi-sdk-go/v3/event/dispatcher"
	larkim "github.com/larksuite/oapi-sdk-go/v3/service/im/v1"
	larkws "github.com/larksuite/oapi-sdk-go/v3/ws"
	"github.com/rs/zerolog"

	"github.com/dealflow/listing-matcher/internal/biz/domain"
	"github.com/dealflow/listing-matcher/internal/biz/repo"
)

const defaultBaseURL = "https://open.feishu.cn"

// Source reads group messages from Feishu/Lark
// Message ordinals are the millisecond create_time of each message
type Source struct {
	appID     string
	appSecret string
	baseURL   string
	http      *http.Client
	log       zerolog.Logger

	mu       sync.Mutex
	larkCli  *lark.Client
	titles   map[domain.ID]string
	stream   *larkws.Client
	listener *listener
}

// listener is the Listen call currently attached to the event stream
type listener struct {
	watched map[domain.ID]bool
	events  chan domain.IncomingMessage
	errCh   chan error
	done    chan struct{}
}

// Option configures a Source
type Option func(*Source)

// WithBaseURL points the source at another open platform host (Lark, tests)
func WithBaseURL(baseURL string) Option {
	return func(s *Source) {
		s.baseURL = strings.TrimRight(baseURL, "/")
	}
}

// NewSource creates a Feishu message source
func NewSource(appID, appSecret string, logger zerolog.Logger, opts ...Option) *Source {
	s := &Source{
		appID:     appID,
		appSecret: appSecret,
		baseURL:   defaultBaseURL,
		http:      &http.Client{Timeout: 15 * time.Second},
		log:       logger.With().Str("component", "source.feishu").Logger(),
		titles:    make(map[domain.ID]string),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

var _ repo.MessageSource = (*Source)(nil)

// Connect checks the app credentials and creates the API client
func (s *Source) Connect(ctx context.Context) error {
	if err := s.authenticate(ctx); err != nil {
		return err
	}

	s.mu.Lock()
	s.larkCli = lark.NewClient(s.appID, s.appSecret, lark.WithOpenBaseUrl(s.baseURL))
	s.mu.Unlock()
	return nil
}

// authenticate requests a tenant_access_token
func (s *Source) authenticate(ctx context.Context) error {
	body, _ := json.Marshal(map[string]string{"app_id": s.appID, "app_secret": s.appSecret})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		s.baseURL+"/open-apis/auth/v3/tenant_access_token/internal", strings.NewReader(string(body)))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.http.Do(req)
	if err != nil {
		return fmt.Errorf("get token: %w", err)
	}
	defer resp.Body.Close()

	var result struct {
		Code              int    `json:"code"`
		Msg               string `json:"msg"`
		TenantAccessToken string `json:"tenant_access_token"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return fmt.Errorf("decode token: %w", err)
	}
	if result.Code != 0 || result.TenantAccessToken == "" {
		return fmt.Errorf("auth error %d: %s", result.Code, result.Msg)
	}
	return nil
}

func (s *Source) client() (*lark.Client, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.larkCli == nil {
		return nil, domain.ErrNotConnected
	}
	return s.larkCli, nil
}

// Resolve gets chat info
func (s *Source) Resolve(ctx context.Context, chatID domain.ID) (*repo.ChatInfo, error) {
	cli, err := s.client()
	if err != nil {
		return nil, err
	}

	req := larkim.NewGetChatReqBuilder().
		ChatId(chatID.String()).
		Build()

	resp, err := cli.Im.Chat.Get(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("get chat info failed: %w", err)
	}
	if !resp.Success() {
		return nil, fmt.Errorf("get chat info error: %s", resp.Msg)
	}

	info := &repo.ChatInfo{ID: chatID}
	if resp.Data != nil && resp.Data.Name != nil {
		info.Title = *resp.Data.Name
	}

	s.mu.Lock()
	s.titles[chatID] = info.Title
	s.mu.Unlock()
	return info, nil
}

// Latest returns the create_time of the newest message in the chat
func (s *Source) Latest(ctx context.Context, chatID domain.ID) (int64, error) {
	cli, err := s.client()
	if err != nil {
		return 0, err
	}

	req := larkim.NewListMessageReqBuilder().
		ContainerIdType("chat").
		ContainerId(chatID.String()).
		SortType("ByCreateTimeDesc").
		PageSize(1).
		Build()

	resp, err := cli.Im.Message.List(ctx, req)
	if err != nil {
		return 0, fmt.Errorf("get chat history failed: %w", err)
	}
	if !resp.Success() {
		return 0, fmt.Errorf("get chat history error: %s", resp.Msg)
	}
	if resp.Data == nil || len(resp.Data.Items) == 0 || resp.Data.Items[0].CreateTime == nil {
		return 0, nil
	}
	return strconv.ParseInt(*resp.Data.Items[0].CreateTime, 10, 64)
}

// Listen attaches to the event stream and delivers messages for chats.
// The SDK socket cannot be closed, so the stream is opened once per Source
// and kept for the life of the process; events arriving while no Listen
// call is attached are acknowledged and dropped.
func (s *Source) Listen(ctx context.Context, chats []domain.ID, handle repo.MessageHandler) error {
	if _, err := s.client(); err != nil {
		return err
	}

	l := &listener{
		watched: make(map[domain.ID]bool, len(chats)),
		events:  make(chan domain.IncomingMessage, 256),
		errCh:   make(chan error, 1),
		done:    make(chan struct{}),
	}
	for _, c := range chats {
		l.watched[c] = true
	}

	s.mu.Lock()
	if s.listener != nil {
		s.mu.Unlock()
		return errors.New("feishu source already has a listener")
	}
	s.listener = l
	s.mu.Unlock()
	defer s.detach(l)

	s.ensureStream()
	s.log.Info().Int("chats", len(chats)).Msg("listening for events")

	for {
		select {
		case <-ctx.Done():
			return nil
		case err := <-l.errCh:
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("feishu websocket: %w", err)
		case msg := <-l.events:
			handle(msg)
		}
	}
}

func (s *Source) detach(l *listener) {
	s.mu.Lock()
	if s.listener == l {
		s.listener = nil
	}
	s.mu.Unlock()
	close(l.done)
}

// ensureStream starts the WebSocket client unless one is already running
func (s *Source) ensureStream() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stream != nil {
		return
	}

	// Must return quickly so the SDK can ACK, otherwise Feishu redelivers
	eventHandler := dispatcher.NewEventDispatcher("", "").
		OnP2MessageReceiveV1(func(_ context.Context, event *larkim.P2MessageReceiveV1) error {
			s.route(event)
			return nil
		})

	stream := larkws.NewClient(s.appID, s.appSecret,
		larkws.WithEventHandler(eventHandler),
		larkws.WithLogLevel(larkcore.LogLevelInfo),
		larkws.WithDomain(s.baseURL),
	)
	s.stream = stream

	s.log.Info().Msg("starting websocket connection")
	go func() {
		// Start only returns when the connection cannot be established
		err := stream.Start(context.Background())
		if err == nil {
			err = errors.New("connection closed")
		}

		s.mu.Lock()
		if s.stream == stream {
			s.stream = nil
		}
		l := s.listener
		s.mu.Unlock()

		s.log.Error().Err(err).Msg("websocket stream ended")
		if l != nil {
			select {
			case l.errCh <- err:
			default:
			}
		}
	}()
}

// route hands an event to the attached listener
func (s *Source) route(event *larkim.P2MessageReceiveV1) {
	raw, ok := extractEvent(event)
	if !ok {
		return
	}
	msg, ok := buildMessage(raw)
	if !ok {
		return
	}

	s.mu.Lock()
	l := s.listener
	msg.ChatTitle = s.titles[msg.ChatID]
	s.mu.Unlock()

	if l == nil || !l.watched[msg.ChatID] {
		return
	}
	select {
	case l.events <- msg:
	case <-l.done:
	}
}

// Close drops the API client. The event stream stays open for the next session.
func (s *Source) Close() error {
	s.mu.Lock()
	s.larkCli = nil
	s.mu.Unlock()
	return nil
}

// rawEvent is the subset of a receive event the source needs
type rawEvent struct {
	MessageID   string
	ChatID      string
	MessageType string
	Content     string
	CreateTime  string
	SenderID    string
	SenderType  string
	Mentions    map[string]string
}

func extractEvent(event *larkim.P2MessageReceiveV1) (rawEvent, bool) {
	if event == nil || event.Event == nil || event.Event.Message == nil {
		return rawEvent{}, false
	}
	m := event.Event.Message
	raw := rawEvent{
		MessageID:   deref(m.MessageId),
		ChatID:      deref(m.ChatId),
		MessageType: deref(m.MessageType),
		Content:     deref(m.Content),
		CreateTime:  deref(m.CreateTime),
		Mentions:    make(map[string]string),
	}
	if sender := event.Event.Sender; sender != nil {
		raw.SenderType = deref(sender.SenderType)
		if sender.SenderId != nil {
			raw.SenderID = deref(sender.SenderId.OpenId)
		}
	}
	for _, mention := range m.Mentions {
		if mention != nil && mention.Key != nil && mention.Name != nil {
			raw.Mentions[*mention.Key] = *mention.Name
		}
	}
	return raw, true
}

// buildMessage converts an event; bot messages and non-text types are skipped
func buildMessage(raw rawEvent) (domain.IncomingMessage, bool) {
	if raw.SenderType == "app" {
		return domain.IncomingMessage{}, false
	}
	createMs, err := strconv.ParseInt(raw.CreateTime, 10, 64)
	if err != nil || createMs <= 0 {
		return domain.IncomingMessage{}, false
	}

	var text string
	switch raw.MessageType {
	case "text":
		text = parseTextContent(raw.Content, raw.Mentions)
	case "post":
		text = parsePostContent(raw.Content, raw.Mentions)
	default:
		return domain.IncomingMessage{}, false
	}
	if strings.TrimSpace(text) == "" {
		return domain.IncomingMessage{}, false
	}

	return domain.IncomingMessage{
		ID:       createMs,
		ChatID:   domain.ID(raw.ChatID),
		SenderID: domain.ID(raw.SenderID),
		Text:     text,
		SentAt:   time.UnixMilli(createMs),
	}, true
}

// parseTextContent extracts text and replaces @_user_N placeholders
func parseTextContent(content string, mentionMap map[string]string) string {
	var parsed struct {
		Text string `json:"text"`
	}
	if err := json.Unmarshal([]byte(content), &parsed); err != nil {
		return ""
	}
	return replaceMentions(parsed.Text, mentionMap)
}

// parsePostContent flattens a rich text message to lines of text
func parsePostContent(content string, mentionMap map[string]string) string {
	var parsed struct {
		Title   string `json:"title"`
		Content [][]struct {
			Tag    string `json:"tag"`
			Text   string `json:"text,omitempty"`
			UserID string `json:"user_id,omitempty"`
		} `json:"content"`
	}
	if err := json.Unmarshal([]byte(content), &parsed); err != nil {
		return ""
	}

	var lines []string
	if parsed.Title != "" {
		lines = append(lines, parsed.Title)
	}
	for _, line := range parsed.Content {
		var b strings.Builder
		for _, elem := range line {
			switch elem.Tag {
			case "text", "a":
				b.WriteString(elem.Text)
			case "at":
				if name, ok := mentionMap[elem.UserID]; ok {
					b.WriteString("@" + name)
				} else if elem.UserID != "" {
					b.WriteString("@" + elem.UserID)
				}
			}
		}
		if b.Len() > 0 {
			lines = append(lines, b.String())
		}
	}
	return replaceMentions(strings.Join(lines, "\n"), mentionMap)
}

func replaceMentions(text string, mentionMap map[string]string) string {
	for key, name := range mentionMap {
		text = strings.ReplaceAll(text, key, "@"+name)
	}
	return text
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
