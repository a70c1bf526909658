package data

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/dealflow/listing-matcher/internal/biz/domain"

	_ "modernc.org/sqlite"
)

// SQLiteStore implements the store gateway on a local SQLite file
// JSON columns are stored as TEXT, ids are UUID strings
type SQLiteStore struct {
	db  *sql.DB
	log zerolog.Logger
}

// NewSQLiteStore opens (and creates) the database file
func NewSQLiteStore(ctx context.Context, dbPath string, logger zerolog.Logger) (*SQLiteStore, error) {
	if dbPath == "" {
		dbPath = "./data/matcher.db"
	}

	// Ensure directory exists
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create db directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// Single writer avoids SQLITE_BUSY between pooled connections
	db.SetMaxOpenConns(1)

	_, err = db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS listings (
			id TEXT PRIMARY KEY,
			category TEXT NOT NULL,
			product_data TEXT NOT NULL DEFAULT '{}',
			telegram_sender_id TEXT NOT NULL DEFAULT '',
			seller_name TEXT NOT NULL DEFAULT '',
			seller_contact TEXT NOT NULL DEFAULT '',
			created_at INTEGER NOT NULL
		);
		CREATE TABLE IF NOT EXISTS buyers (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL DEFAULT '',
			cell_number TEXT NOT NULL DEFAULT '',
			chat_id TEXT NOT NULL DEFAULT '',
			preferences TEXT
		);
		CREATE TABLE IF NOT EXISTS matches (
			id TEXT PRIMARY KEY,
			listing_id TEXT NOT NULL,
			buyers TEXT NOT NULL,
			product_data TEXT NOT NULL DEFAULT '{}',
			seller_id TEXT NOT NULL DEFAULT '',
			seller_name TEXT NOT NULL DEFAULT '',
			seller_contact TEXT NOT NULL DEFAULT '',
			matched_at INTEGER NOT NULL,
			notified INTEGER NOT NULL DEFAULT 0
		);
		CREATE INDEX IF NOT EXISTS idx_matches_listing_id ON matches(listing_id);
	`)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create tables: %w", err)
	}

	return &SQLiteStore{
		db:  db,
		log: logger.With().Str("component", "store.sqlite").Logger(),
	}, nil
}

// FetchListing gets a listing by id
func (s *SQLiteStore) FetchListing(ctx context.Context, id domain.ID) (*domain.Listing, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, category, product_data, telegram_sender_id, seller_name, seller_contact, created_at
		FROM listings
		WHERE id = ?
	`, id.String())

	var (
		listing   domain.Listing
		product   string
		sellerID  string
		createdAt int64
	)
	err := row.Scan(&listing.ID, &listing.Category, &product, &sellerID,
		&listing.SellerName, &listing.SellerContact, &createdAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, storeError("fetch listing", 0, err)
	}

	if err := json.Unmarshal([]byte(product), &listing.ProductData); err != nil {
		return nil, storeError("fetch listing", 0, fmt.Errorf("decode product_data: %w", err))
	}
	listing.SellerID = domain.ID(sellerID)
	ts := domain.NewTimestamp(time.UnixMilli(createdAt))
	listing.CreatedAt = &ts
	return &listing, nil
}

// FetchAllBuyers gets all buyers
func (s *SQLiteStore) FetchAllBuyers(ctx context.Context) ([]domain.BuyerProfile, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, cell_number, chat_id, COALESCE(preferences, '')
		FROM buyers
		ORDER BY id
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
			prefs  string
		)
		if err := rows.Scan(&b.ID, &b.Name, &b.CellNumber, &chatID, &prefs); err != nil {
			return nil, storeError("fetch buyers", 0, err)
		}
		b.ChatID = domain.ID(chatID)
		b.SetPreferences(json.RawMessage(prefs))
		buyers = append(buyers, b)
	}
	if err := rows.Err(); err != nil {
		return nil, storeError("fetch buyers", 0, err)
	}
	return buyers, nil
}

// InsertListing creates a listing
func (s *SQLiteStore) InsertListing(ctx context.Context, draft domain.ListingDraft) (*domain.Listing, error) {
	product, err := json.Marshal(draft.ProductData)
	if err != nil {
		return nil, storeError("insert listing", 0, err)
	}

	now := time.Now()
	ts := domain.NewTimestamp(now.Truncate(time.Millisecond))
	listing := &domain.Listing{
		ID:            domain.ID(uuid.NewString()),
		Category:      draft.Category,
		ProductData:   draft.ProductData,
		SellerID:      draft.SellerID,
		SellerName:    draft.SellerName,
		SellerContact: draft.SellerContact,
		CreatedAt:     &ts,
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO listings (id, category, product_data, telegram_sender_id, seller_name, seller_contact, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, listing.ID.String(), listing.Category, string(product), listing.SellerID.String(),
		listing.SellerName, listing.SellerContact, now.UnixMilli())
	if err != nil {
		return nil, storeError("insert listing", 0, err)
	}
	return listing, nil
}

// InsertMatches creates match records in one transaction
func (s *SQLiteStore) InsertMatches(ctx context.Context, matches []domain.MatchRecord) ([]domain.MatchRecord, error) {
	if len(matches) == 0 {
		return nil, nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, storeError("insert matches", 0, err)
	}
	defer tx.Rollback()

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
		m.ID = domain.ID(uuid.NewString())

		_, err = tx.ExecContext(ctx, `
			INSERT INTO matches (id, listing_id, buyers, product_data, seller_id, seller_name, seller_contact, matched_at, notified)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		`, m.ID.String(), m.ListingID.String(), string(buyers), string(product), m.SellerID.String(),
			m.SellerName, m.SellerContact, m.MatchedAt.UnixMilli(), m.Notified)
		if err != nil {
			return nil, storeError("insert matches", 0, err)
		}
		out = append(out, m)
	}

	if err := tx.Commit(); err != nil {
		return nil, storeError("insert matches", 0, err)
	}
	return out, nil
}

// FetchMatches lists matches
func (s *SQLiteStore) FetchMatches(ctx context.Context, filter domain.MatchFilter) ([]domain.MatchRecord, error) {
	query := `
		SELECT id, listing_id, buyers, product_data, seller_id, seller_name, seller_contact, matched_at, notified
		FROM matches
		WHERE 1 = 1`
	var args []any
	if filter.ListingID != nil {
		query += ` AND listing_id = ?`
		args = append(args, filter.ListingID.String())
	}
	if filter.Notified != nil {
		query += ` AND notified = ?`
		args = append(args, *filter.Notified)
	}
	query += ` ORDER BY matched_at, id`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, storeError("fetch matches", 0, err)
	}
	defer rows.Close()

	var matches []domain.MatchRecord
	for rows.Next() {
		var (
			m         domain.MatchRecord
			buyers    string
			product   string
			sellerID  string
			matchedAt int64
		)
		if err := rows.Scan(&m.ID, &m.ListingID, &buyers, &product, &sellerID,
			&m.SellerName, &m.SellerContact, &matchedAt, &m.Notified); err != nil {
			return nil, storeError("fetch matches", 0, err)
		}
		if err := json.Unmarshal([]byte(buyers), &m.Buyers); err != nil {
			return nil, storeError("fetch matches", 0, fmt.Errorf("decode buyers: %w", err))
		}
		if err := json.Unmarshal([]byte(product), &m.ProductData); err != nil {
			return nil, storeError("fetch matches", 0, fmt.Errorf("decode product_data: %w", err))
		}
		m.SellerID = domain.ID(sellerID)
		m.MatchedAt = domain.NewTimestamp(time.UnixMilli(matchedAt))
		matches = append(matches, m)
	}
	if err := rows.Err(); err != nil {
		return nil, storeError("fetch matches", 0, err)
	}
	return matches, nil
}

// Ping checks the database connection
func (s *SQLiteStore) Ping(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return storeError("ping", 0, err)
	}
	return nil
}

// Close closes the database
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func nullableJSON(raw json.RawMessage) any {
	if len(raw) == 0 {
		return nil
	}
	return string(raw)
}
