package service

import (
	"context"
	"errors"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dealflow/listing-matcher/internal/biz/domain"
)

type mockRestarter struct {
	restarted bool
	err       error
	calls     int
}

func (r *mockRestarter) EnsureRunning(ctx context.Context) (bool, error) {
	r.calls++
	return r.restarted, r.err
}

func TestKeepalive_Check(t *testing.T) {
	target := &mockRestarter{restarted: true}
	k := NewKeepalive(target, "@every 1m", zerolog.Nop())
	assert.True(t, k.Check(context.Background()))

	target.restarted = false
	assert.False(t, k.Check(context.Background()))

	target.restarted, target.err = true, errors.New("auth failed")
	assert.False(t, k.Check(context.Background()))
	assert.Equal(t, 3, target.calls)
}

func TestKeepalive_RestartsStoppedMonitor(t *testing.T) {
	src := newMockSource(map[domain.ID]int64{"-1": 7})
	m := NewMonitor(src, &mockDispatcher{}, []domain.ID{"-1"}, zerolog.Nop())
	k := NewKeepalive(m, "@every 1m", zerolog.Nop())

	assert.True(t, k.Check(context.Background()))
	defer m.Stop()
	assert.Equal(t, StateListening, m.State())
	assert.False(t, k.Check(context.Background()))
}

func TestKeepalive_StartRejectsBadSpec(t *testing.T) {
	k := NewKeepalive(&mockRestarter{}, "not a schedule", zerolog.Nop())
	require.Error(t, k.Start(context.Background()))

	ok := NewKeepalive(&mockRestarter{}, "@every 1h", zerolog.Nop())
	require.NoError(t, ok.Start(context.Background()))
	ok.Stop()
}
