package data

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"

	"github.com/dealflow/listing-matcher/internal/biz/domain"
	"github.com/dealflow/listing-matcher/internal/biz/repo"
)

const postgresSchema = `
CREATE TABLE IF NOT EXISTS listings (
	id TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	category TEXT NOT NULL,
	product_data JSONB NOT NULL DEFAULT '{}',
	telegram_sender_id TEXT,
	seller_name TEXT,
	seller_contact TEXT,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS buyers (
	id TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	name TEXT NOT NULL DEFAULT '',
	cell_number TEXT NOT NULL DEFAULT '',
	chat_id TEXT,
	preferences JSONB
);

CREATE TABLE IF NOT EXISTS matches (
	id TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	listing_id TEXT NOT NULL,
	buyers JSONB NOT NULL,
	product_data JSONB NOT NULL DEFAULT '{}',
	seller_id TEXT,
	seller_name TEXT,
	seller_contact TEXT,
	matched_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	notified BOOLEAN NOT NULL DEFAULT false
);

CREATE INDEX IF NOT EXISTS idx_matches_listing_id ON matches(listing_id);
CREATE INDEX IF NOT EXISTS idx_matches_notified ON matches(notified);
`

// postgresStore implements the store gateway directly against Postgres
type postgresStore struct {
	pool *pgxpool.Pool
	log  zerolog.Logger
}

// NewPostgresStore connects a pool and ensures the tables exist
func NewPostgresStore(ctx context.Context, databaseURL string, logger zerolog.Logger) (repo.StoreGateway, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to create pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	if _, err := pool.Exec(ctx, postgresSchema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to create schema: %w", err)
	}

	return &postgresStore{
		pool: pool,
		log:  logger.With().Str("component", "store.postgres").Logger(),
	}, nil
}

// FetchListing gets a listing by id
func (s *postgresStore) FetchListing(ctx context.Context, id domain.ID) (*domain.Listing, error) {
	var (
		listing   domain.Listing
		product   []byte
		sellerID  string
		createdAt time.Time
	)
	err := s.pool.QueryRow(ctx, `
		SELECT id, category, product_data, COALESCE(telegram_sender_id, ''),
			COALESCE(seller_name, ''), COALESCE(seller_contact, ''), created_at
		FROM listings WHERE id = $1
	`, id.String()).Scan(
		&listing.ID,
		&listing.Category,
		&product,
		&sellerID,
		&listing.SellerName,
		&listing.SellerContact,
		&createdAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, storeError("fetch listing", 0, err)
	}

	if err := json.Unmarshal(product, &listing.ProductData); err != nil {
		return nil, storeError("fetch listing", 0, fmt.Errorf("decode product_data: %w", err))
	}
	listing.SellerID = domain.ID(sellerID)
	ts := domain.NewTimestamp(createdAt)
	listing.CreatedAt = &ts
	return &listing, nil
}

// FetchAllBuyers gets all buyers
func (s *postgresStore) FetchAllBuyers(ctx context.Context) ([]domain.BuyerProfile, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, name, cell_number, COALESCE(chat_id, ''), preferences
		FROM buyers ORDER BY id
	`)
	if err != nil {
		return nil, storeError("fetch buyers", 0, err)
	}
	defer rows.Close()

	var buyers []domain.BuyerProfile
	for rows.Next() {
		var (
			b      domain.BuyerProfile
			chatID string
			prefs  []byte
		)
		if err := rows.Scan(&b.ID, &b.Name, &b.CellNumber, &chatID, &prefs); err != nil {
			return nil, storeError("fetch buyers", 0, err)
		}
		b.ChatID = domain.ID(chatID)
		b.SetPreferences(prefs)
		buyers = append(buyers, b)
	}
	if err := rows.Err(); err != nil {
		return nil, storeError("fetch buyers", 0, err)
	}
	return buyers, nil
}

// InsertListing creates a listing
func (s *postgresStore) InsertListing(ctx context.Context, draft domain.ListingDraft) (*domain.Listing, error) {
	product, err := json.Marshal(draft.ProductData)
	if err != nil {
		return nil, storeError("insert listing", 0, err)
	}

	listing := &domain.Listing{
		Category:      draft.Category,
		ProductData:   draft.ProductData,
		SellerID:      draft.SellerID,
		SellerName:    draft.SellerName,
		SellerContact: draft.SellerContact,
	}
	var createdAt time.Time
	err = s.pool.QueryRow(ctx, `
		INSERT INTO listings (category, product_data, telegram_sender_id, seller_name, seller_contact)
		VALUES ($1, $2, NULLIF($3, ''), $4, $5)
		RETURNING id, created_at
	`, draft.Category, product, draft.SellerID.String(), draft.SellerName, draft.SellerContact).Scan(&listing.ID, &createdAt)
	if err != nil {
		return nil, storeError("insert listing", 0, err)
	}

	ts := domain.NewTimestamp(createdAt)
	listing.CreatedAt = &ts
	return listing, nil
}

// InsertMatches creates match records in one transaction
func (s *postgresStore) InsertMatches(ctx context.Context, matches []domain.MatchRecord) ([]domain.MatchRecord, error) {
	if len(matches) == 0 {
		return nil, nil
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, storeError("insert matches", 0, err)
	}
	defer tx.Rollback(ctx)

	out := make([]domain.MatchRecord, 0, len(matches))
	for _, m := range matches {
		buyers, err := json.Marshal(m.Buyers)
		if err != nil {
			return nil, storeError("insert matches", 0, err)
		}
		product, err := json.Marshal(m.ProductData)
		if err != nil {
			return nil, storeError("insert matches", 0, err)
		}

		err = tx.QueryRow(ctx, `
			INSERT INTO matches (listing_id, buyers, product_data, seller_id, seller_name, seller_contact, matched_at, notified)
			VALUES ($1, $2, $3, NULLIF($4, ''), $5, $6, $7, $8)
			RETURNING id
		`, m.ListingID.String(), buyers, product, m.SellerID.String(), m.SellerName, m.SellerContact, m.MatchedAt.Time, m.Notified).Scan(&m.ID)
		if err != nil {
			return nil, storeError("insert matches", 0, err)
		}
		out = append(out, m)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, storeError("insert matches", 0, err)
	}
	return out, nil
}

// FetchMatches lists matches
func (s *postgresStore) FetchMatches(ctx context.Context, filter domain.MatchFilter) ([]domain.MatchRecord, error) {
	var listingID *string
	if filter.ListingID != nil {
		v := filter.ListingID.String()
		listingID = &v
	}

	rows, err := s.pool.Query(ctx, `
		SELECT id, listing_id, buyers, product_data, COALESCE(seller_id, ''),
			COALESCE(seller_name, ''), COALESCE(seller_contact, ''), matched_at, notified
		FROM matches
		WHERE ($1::text IS NULL OR listing_id = $1)
			AND ($2::boolean IS NULL OR notified = $2)
		ORDER BY matched_at
	`, listingID, filter.Notified)
	if err != nil {
		return nil, storeError("fetch matches", 0, err)
	}
	defer rows.Close()

	var matches []domain.MatchRecord
	for rows.Next() {
		var (
			m         domain.MatchRecord
			buyers    []byte
			product   []byte
			sellerID  string
			matchedAt time.Time
		)
		if err := rows.Scan(&m.ID, &m.ListingID, &buyers, &product, &sellerID,
			&m.SellerName, &m.SellerContact, &matchedAt, &m.Notified); err != nil {
			return nil, storeError("fetch matches", 0, err)
		}
		if err := json.Unmarshal(buyers, &m.Buyers); err != nil {
			return nil, storeError("fetch matches", 0, fmt.Errorf("decode buyers: %w", err))
		}
		if err := json.Unmarshal(product, &m.ProductData); err != nil {
			return nil, storeError("fetch matches", 0, fmt.Errorf("decode product_data: %w", err))
		}
		m.SellerID = domain.ID(sellerID)
		m.MatchedAt = domain.NewTimestamp(matchedAt)
		matches = append(matches, m)
	}
	if err := rows.Err(); err != nil {
		return nil, storeError("fetch matches", 0, err)
	}
	return matches, nil
}

// Ping checks the database connection
func (s *postgresStore) Ping(ctx context.Context) error {
	if err := s.pool.Ping(ctx); err != nil {
		return storeError("ping", 0, err)
	}
	return nil
}

func (s *postgresStore) Close() error {
	s.pool.Close()
	return nil
}
