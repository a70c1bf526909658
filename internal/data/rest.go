package data

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/dealflow/listing-matcher/internal/biz/domain"
	"github.com/dealflow/listing-matcher/internal/biz/repo"
)

// restStore implements the store gateway over a PostgREST endpoint
// (tables listings, buyers, matches under /rest/v1)
type restStore struct {
	baseURL string
	key     string
	client  *http.Client
	log     zerolog.Logger
}

// NewRESTStore creates a PostgREST store gateway
// A nil client uses a client with a 30s timeout
func NewRESTStore(baseURL, key string, client *http.Client, logger zerolog.Logger) repo.StoreGateway {
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	return &restStore{
		baseURL: strings.TrimRight(baseURL, "/") + "/rest/v1",
		key:     key,
		client:  client,
		log:     logger.With().Str("component", "store.rest").Logger(),
	}
}

// FetchListing gets a listing by id
func (s *restStore) FetchListing(ctx context.Context, id domain.ID) (*domain.Listing, error) {
	params := url.Values{}
	params.Set("select", "*")
	params.Set("id", "eq."+id.String())
	params.Set("limit", "1")

	var rows []domain.Listing
	if err := s.get(ctx, "fetch listing", "listings", params, &rows); err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, nil
	}
	return &rows[0], nil
}

// FetchAllBuyers gets all buyers
// Rows that cannot be decoded are skipped
func (s *restStore) FetchAllBuyers(ctx context.Context) ([]domain.BuyerProfile, error) {
	params := url.Values{}
	params.Set("select", "*")

	var rows []json.RawMessage
	if err := s.get(ctx, "fetch buyers", "buyers", params, &rows); err != nil {
		return nil, err
	}

	buyers := make([]domain.BuyerProfile, 0, len(rows))
	for _, row := range rows {
		var b domain.BuyerProfile
		if err := json.Unmarshal(row, &b); err != nil {
			s.log.Warn().Err(err).RawJSON("row", row).Msg("skipping malformed buyer")
			continue
		}
		buyers = append(buyers, b)
	}
	return buyers, nil
}

// InsertListing creates a listing
func (s *restStore) InsertListing(ctx context.Context, draft domain.ListingDraft) (*domain.Listing, error) {
	draft.RawText = ""

	var rows []domain.Listing
	if err := s.insert(ctx, "insert listing", "listings", draft, &rows); err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, storeError("insert listing", 0, fmt.Errorf("empty representation"))
	}
	return &rows[0], nil
}

// InsertMatches creates match records in one request
func (s *restStore) InsertMatches(ctx context.Context, matches []domain.MatchRecord) ([]domain.MatchRecord, error) {
	if len(matches) == 0 {
		return nil, nil
	}
	var rows []domain.MatchRecord
	if err := s.insert(ctx, "insert matches", "matches", matches, &rows); err != nil {
		return nil, err
	}
	return rows, nil
}

// FetchMatches lists matches
func (s *restStore) FetchMatches(ctx context.Context, filter domain.MatchFilter) ([]domain.MatchRecord, error) {
	params := url.Values{}
	params.Set("select", "*")
	params.Set("order", "matched_at.asc")
	if filter.ListingID != nil {
		params.Set("listing_id", "eq."+filter.ListingID.String())
	}
	if filter.Notified != nil {
		params.Set("notified", fmt.Sprintf("eq.%t", *filter.Notified))
	}

	var rows []domain.MatchRecord
	if err := s.get(ctx, "fetch matches", "matches", params, &rows); err != nil {
		return nil, err
	}
	return rows, nil
}

// Ping reads a single buyer id
func (s *restStore) Ping(ctx context.Context) error {
	params := url.Values{}
	params.Set("select", "id")
	params.Set("limit", "1")
	var rows []json.RawMessage
	return s.get(ctx, "ping", "buyers", params, &rows)
}

func (s *restStore) Close() error {
	s.client.CloseIdleConnections()
	return nil
}

func (s *restStore) get(ctx context.Context, op, table string, params url.Values, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.baseURL+"/"+table+"?"+params.Encode(), nil)
	if err != nil {
		return storeError(op, 0, err)
	}
	req.Header.Set("Accept", "application/json")
	return s.do(op, req, out)
}

func (s *restStore) insert(ctx context.Context, op, table string, body, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return storeError(op, 0, fmt.Errorf("marshal body: %w", err))
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.baseURL+"/"+table, bytes.NewReader(payload))
	if err != nil {
		return storeError(op, 0, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Prefer", "return=representation")
	return s.do(op, req, out)
}

func (s *restStore) do(op string, req *http.Request, out any) error {
	req.Header.Set("apikey", s.key)
	req.Header.Set("Authorization", "Bearer "+s.key)

	resp, err := s.client.Do(req)
	if err != nil {
		return storeError(op, 0, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 10<<20))
	if err != nil {
		return storeError(op, resp.StatusCode, fmt.Errorf("read body: %w", err))
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return storeError(op, resp.StatusCode, fmt.Errorf("%s", truncate(string(body), 300)))
	}

	s.log.Debug().Str("op", op).Int("status", resp.StatusCode).Int("bytes", len(body)).Msg("store call")

	if out == nil || len(bytes.TrimSpace(body)) == 0 {
		return nil
	}
	if err := json.Unmarshal(body, out); err != nil {
		return storeError(op, resp.StatusCode, fmt.Errorf("decode response: %w", err))
	}
	return nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
