package repo

import (
	"context"

	"github.com/dealflow/listing-matcher/internal/biz/domain"
)

// StoreGateway is the listing store interface
// Implemented over PostgREST, Postgres and SQLite; errors are *domain.StoreError
type StoreGateway interface {
	// FetchListing returns nil, nil when the listing does not exist
	FetchListing(ctx context.Context, id domain.ID) (*domain.Listing, error)

	// FetchAllBuyers loads every buyer profile
	FetchAllBuyers(ctx context.Context) ([]domain.BuyerProfile, error)

	// InsertListing stores a listing and returns the created row
	InsertListing(ctx context.Context, draft domain.ListingDraft) (*domain.Listing, error)

	// InsertMatches stores match records and returns the created rows
	InsertMatches(ctx context.Context, matches []domain.MatchRecord) ([]domain.MatchRecord, error)

	// FetchMatches returns matches narrowed by the filter
	FetchMatches(ctx context.Context, filter domain.MatchFilter) ([]domain.MatchRecord, error)

	// Ping checks the backend is reachable
	Ping(ctx context.Context) error

	Close() error
}
