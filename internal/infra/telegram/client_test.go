package telegram

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dealflow/listing-matcher/internal/biz/domain"
)

const testToken = "123:abc"

// fakeBotAPI serves getMe, getChat and a scripted getUpdates queue keyed by offset
type fakeBotAPI struct {
	mu      sync.Mutex
	pending map[string]string
	listen  map[string]string
	polls   int
}

func (f *fakeBotAPI) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	if err := r.ParseForm(); err != nil {
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	method := strings.TrimPrefix(r.URL.Path, "/bot"+testToken+"/")

	switch method {
	case "getMe":
		w.Write([]byte(`{"ok":true,"result":{"id":1,"is_bot":true,"first_name":"Matcher","username":"matcher_bot"}}`))
	case "getChat":
		if r.FormValue("chat_id") != "-100200" {
			w.Write([]byte(`{"ok":false,"error_code":400,"description":"Bad Request: chat not found"}`))
			return
		}
		w.Write([]byte(`{"ok":true,"result":{"id":-100200,"type":"supergroup","title":"Dubai Cars"}}`))
	case "getUpdates":
		f.mu.Lock()
		queue := f.pending
		if r.FormValue("timeout") != "" {
			queue = f.listen
			f.polls++
		}
		body, ok := queue[r.FormValue("offset")]
		f.mu.Unlock()
		if !ok {
			time.Sleep(10 * time.Millisecond)
			body = "[]"
		}
		w.Write([]byte(`{"ok":true,"result":` + body + `}`))
	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

func update(updateID, messageID int, chatID int64, text string) string {
	return `{"update_id":` + itoa(int64(updateID)) + `,"message":{"message_id":` + itoa(int64(messageID)) +
		`,"date":1700000000,"chat":{"id":` + itoa(chatID) + `,"type":"supergroup","title":"Dubai Cars"},` +
		`"from":{"id":77,"is_bot":false,"first_name":"Ali","last_name":"K","username":"ali_k"},"text":"` + text + `"}}`
}

func itoa(n int64) string {
	return strconv.FormatInt(n, 10)
}

func newTestSource(t *testing.T, api *fakeBotAPI) *Source {
	t.Helper()
	server := httptest.NewServer(api)
	t.Cleanup(server.Close)
	return NewSource(testToken, zerolog.Nop(),
		WithEndpoint(server.URL+"/bot%s/%s"),
		WithPollTimeout(1),
		WithRetryDelay(time.Millisecond),
	)
}

func TestSource_ConnectAndResolve(t *testing.T) {
	src := newTestSource(t, &fakeBotAPI{})
	ctx := context.Background()

	require.NoError(t, src.Connect(ctx))

	info, err := src.Resolve(ctx, "-100200")
	require.NoError(t, err)
	assert.Equal(t, "Dubai Cars", info.Title)

	_, err = src.Resolve(ctx, "-100999")
	assert.Error(t, err)

	_, err = src.Resolve(ctx, "@handle")
	assert.Error(t, err)
}

func TestSource_ConnectRejectsBadToken(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"ok":false,"error_code":401,"description":"Unauthorized"}`))
	}))
	defer server.Close()

	src := NewSource("bad", zerolog.Nop(), WithEndpoint(server.URL+"/bot%s/%s"))
	err := src.Connect(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Unauthorized")

	assert.Error(t, NewSource("", zerolog.Nop()).Connect(context.Background()))
}

func TestSource_NotConnected(t *testing.T) {
	src := NewSource(testToken, zerolog.Nop())
	_, err := src.Latest(context.Background(), "-1")
	assert.True(t, errors.Is(err, domain.ErrNotConnected))
	err = src.Listen(context.Background(), nil, func(domain.IncomingMessage) {})
	assert.True(t, errors.Is(err, domain.ErrNotConnected))
}

func TestSource_LatestAndListen(t *testing.T) {
	api := &fakeBotAPI{
		pending: map[string]string{
			"": "[" + update(10, 498, -100200, "old") + "," + update(11, 500, -100200, "older listing") + "]",
		},
		listen: map[string]string{
			"12": "[" + update(12, 501, -100200, "BMW X5 85k AED") + "," + update(13, 40, -100999, "other group") + "]",
		},
	}
	src := newTestSource(t, api)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	require.NoError(t, src.Connect(ctx))

	latest, err := src.Latest(ctx, "-100200")
	require.NoError(t, err)
	assert.Equal(t, int64(500), latest)

	other, err := src.Latest(ctx, "-100999")
	require.NoError(t, err)
	assert.Equal(t, int64(0), other)

	received := make(chan domain.IncomingMessage, 4)
	done := make(chan error, 1)
	go func() {
		done <- src.Listen(ctx, []domain.ID{"-100200"}, func(m domain.IncomingMessage) {
			received <- m
		})
	}()

	select {
	case msg := <-received:
		assert.Equal(t, int64(501), msg.ID)
		assert.Equal(t, domain.ID("-100200"), msg.ChatID)
		assert.Equal(t, "Dubai Cars", msg.ChatTitle)
		assert.Equal(t, domain.ID("77"), msg.SenderID)
		assert.Equal(t, "ali_k", msg.SenderUsername)
		assert.Equal(t, "Ali K", msg.SenderName)
		assert.Equal(t, "BMW X5 85k AED", msg.Text)
		assert.Equal(t, int64(1700000000), msg.SentAt.Unix())
	case <-time.After(5 * time.Second):
		t.Fatal("message not delivered")
	}

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("listen did not stop")
	}
	assert.Empty(t, received)
}

func TestSource_ListenGivesUpAfterRepeatedFailures(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.HasSuffix(r.URL.Path, "/getMe") {
			w.Write([]byte(`{"ok":true,"result":{"id":1,"is_bot":true,"first_name":"M","username":"m"}}`))
			return
		}
		w.Write([]byte(`{"ok":false,"error_code":409,"description":"Conflict: terminated by other getUpdates request"}`))
	}))
	defer server.Close()

	src := NewSource(testToken, zerolog.Nop(),
		WithEndpoint(server.URL+"/bot%s/%s"),
		WithRetryDelay(time.Millisecond),
	)
	require.NoError(t, src.Connect(context.Background()))

	err := src.Listen(context.Background(), []domain.ID{"-1"}, func(domain.IncomingMessage) {})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Conflict")
}
