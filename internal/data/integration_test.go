package data

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dealflow/listing-matcher/internal/biz/domain"
)

// These tests need live services: TEST_DATABASE_URL and TEST_REDIS_URL.

func TestPostgresStore_Integration(t *testing.T) {
	dsn := os.Getenv("TEST_DATABASE_URL")
	if dsn == "" {
		t.Skip("TEST_DATABASE_URL not set")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	store, err := NewPostgresStore(ctx, dsn, zerolog.Nop())
	require.NoError(t, err)
	defer store.Close()

	listing, err := store.InsertListing(ctx, domain.ListingDraft{
		Category:    "vehicles",
		ProductData: domain.ProductData{"make": "Lexus", "model": "LX", "price": 300000.0},
	})
	require.NoError(t, err)

	got, err := store.FetchListing(ctx, listing.ID)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "Lexus", got.ProductData.Make())

	inserted, err := store.InsertMatches(ctx, []domain.MatchRecord{{
		ListingID:   listing.ID,
		Buyers:      []domain.BuyerSummary{{ID: "b1", Name: "B"}},
		ProductData: got.ProductData.Clone(),
		MatchedAt:   domain.NewTimestamp(time.Now()),
	}})
	require.NoError(t, err)
	require.Len(t, inserted, 1)

	pending := false
	matches, err := store.FetchMatches(ctx, domain.MatchFilter{ListingID: &listing.ID, Notified: &pending})
	require.NoError(t, err)
	require.Len(t, matches, 1)
	assert.True(t, matches[0].HasBuyer("b1"))

	_, err = store.FetchAllBuyers(ctx)
	assert.NoError(t, err)
}

func TestRedisGuard_Integration(t *testing.T) {
	url := os.Getenv("TEST_REDIS_URL")
	if url == "" {
		t.Skip("TEST_REDIS_URL not set")
	}
	ctx := context.Background()

	guard, err := NewRedisGuard(ctx, url, time.Minute)
	require.NoError(t, err)
	defer guard.Close()

	listingID := domain.ID(uuid.NewString())

	won, err := guard.Claim(ctx, listingID, "b1")
	require.NoError(t, err)
	assert.True(t, won)

	won, err = guard.Claim(ctx, listingID, "b1")
	require.NoError(t, err)
	assert.False(t, won)

	require.NoError(t, guard.Release(ctx, listingID, "b1"))
	won, err = guard.Claim(ctx, listingID, "b1")
	require.NoError(t, err)
	assert.True(t, won)
	require.NoError(t, guard.Release(ctx, listingID, "b1"))
}

func TestClaimKey(t *testing.T) {
	assert.Equal(t, "match:claim:42:b-7", claimKey("42", "b-7"))
}
