package data

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dealflow/listing-matcher/internal/biz/domain"
)

func newRESTFixture(t *testing.T, handler http.HandlerFunc) *restStore {
	t.Helper()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "secret", r.Header.Get("apikey"))
		assert.Equal(t, "Bearer secret", r.Header.Get("Authorization"))
		handler(w, r)
	}))
	t.Cleanup(server.Close)
	return NewRESTStore(server.URL+"/", "secret", server.Client(), zerolog.Nop()).(*restStore)
}

func TestRESTStore_FetchListing(t *testing.T) {
	s := newRESTFixture(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/rest/v1/listings", r.URL.Path)
		assert.Equal(t, "eq.42", r.URL.Query().Get("id"))
		w.Write([]byte(`[{"id":42,"category":"vehicles","product_data":{"make":"BMW","model":"X5","price":85000},"telegram_sender_id":777,"created_at":"2025-01-01T10:00:00.5"}]`))
	})

	listing, err := s.FetchListing(context.Background(), "42")
	require.NoError(t, err)
	require.NotNil(t, listing)

	assert.Equal(t, domain.ID("42"), listing.ID)
	assert.Equal(t, "BMW", listing.ProductData.Make())
	assert.Equal(t, domain.ID("777"), listing.SellerID)
	require.NotNil(t, listing.CreatedAt)
	assert.Equal(t, 2025, listing.CreatedAt.Year())
}

func TestRESTStore_FetchListing_Absent(t *testing.T) {
	s := newRESTFixture(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`[]`))
	})

	listing, err := s.FetchListing(context.Background(), "nope")
	require.NoError(t, err)
	assert.Nil(t, listing)
}

func TestRESTStore_Non2xxIsStoreError(t *testing.T) {
	s := newRESTFixture(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		w.Write([]byte(`{"message":"invalid key"}`))
	})

	_, err := s.FetchAllBuyers(context.Background())

	var storeErr *domain.StoreError
	require.ErrorAs(t, err, &storeErr)
	assert.Equal(t, http.StatusUnauthorized, storeErr.Status)
	assert.Equal(t, "fetch buyers", storeErr.Op)
	assert.Contains(t, storeErr.Error(), "invalid key")
}

func TestRESTStore_FetchAllBuyers_SkipsMalformedRows(t *testing.T) {
	s := newRESTFixture(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/rest/v1/buyers", r.URL.Path)
		w.Write([]byte(`[
			{"id":1,"name":"A","cell_number":"1","preferences":{"make":"bmw"}},
			{"id":2,"name":{"first":"B"},"cell_number":"2"},
			{"id":3,"name":"C","cell_number":"3","preferences":"not an object"}
		]`))
	})

	buyers, err := s.FetchAllBuyers(context.Background())
	require.NoError(t, err)

	require.Len(t, buyers, 2)
	assert.True(t, buyers[0].Preferences.Makes.Has("bmw"))
	assert.Error(t, buyers[1].PreferencesErr())
}

func TestRESTStore_InsertMatches(t *testing.T) {
	var posted []map[string]any
	s := newRESTFixture(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/rest/v1/matches", r.URL.Path)
		assert.Equal(t, "return=representation", r.Header.Get("Prefer"))

		body, _ := io.ReadAll(r.Body)
		assert.NoError(t, json.Unmarshal(body, &posted))
		for i := range posted {
			_, hasID := posted[i]["id"]
			assert.False(t, hasID)
			posted[i]["id"] = i + 100
		}
		w.WriteHeader(http.StatusCreated)
		json.NewEncoder(w).Encode(posted)
	})

	rec := domain.MatchRecord{
		ListingID:   "42",
		Buyers:      []domain.BuyerSummary{{ID: "1", Name: "A", CellNumber: "1", ChatID: "555"}},
		ProductData: domain.ProductData{"make": "bmw"},
		SellerID:    "777",
	}
	out, err := s.InsertMatches(context.Background(), []domain.MatchRecord{rec})
	require.NoError(t, err)

	require.Len(t, posted, 1)
	assert.Equal(t, float64(42), posted[0]["listing_id"])
	assert.Equal(t, false, posted[0]["notified"])

	require.Len(t, out, 1)
	assert.Equal(t, domain.ID("100"), out[0].ID)
	assert.Equal(t, domain.ID("555"), out[0].Buyers[0].ChatID)
}

func TestRESTStore_InsertListing_DropsRawText(t *testing.T) {
	s := newRESTFixture(t, func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		_, hasRaw := body["raw_text"]
		assert.False(t, hasRaw)

		body["id"] = "uuid-1"
		w.WriteHeader(http.StatusCreated)
		json.NewEncoder(w).Encode([]any{body})
	})

	listing, err := s.InsertListing(context.Background(), domain.ListingDraft{
		Category:    "vehicles",
		ProductData: domain.ProductData{"make": "bmw"},
		RawText:     "bmw for sale",
	})
	require.NoError(t, err)
	assert.Equal(t, domain.ID("uuid-1"), listing.ID)
}

func TestRESTStore_FetchMatches_Filters(t *testing.T) {
	s := newRESTFixture(t, func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		assert.Equal(t, "eq.42", q.Get("listing_id"))
		assert.Equal(t, "eq.false", q.Get("notified"))
		w.Write([]byte(`[{"id":1,"listing_id":42,"buyers":[{"id":1,"name":"A","cell_number":"1","chat_id":null}],"product_data":{},"seller_id":null,"seller_name":"","seller_contact":"","matched_at":"2025-01-01T00:00:00","notified":false}]`))
	})

	listingID := domain.ID("42")
	notified := false
	matches, err := s.FetchMatches(context.Background(), domain.MatchFilter{ListingID: &listingID, Notified: &notified})
	require.NoError(t, err)

	require.Len(t, matches, 1)
	assert.True(t, matches[0].HasBuyer("1"))
	assert.True(t, matches[0].Buyers[0].ChatID.IsZero())
}
