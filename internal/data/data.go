package data

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/dealflow/listing-matcher/internal/biz/domain"
	"github.com/dealflow/listing-matcher/internal/biz/repo"
	"github.com/dealflow/listing-matcher/internal/metrics"
)

// Store drivers
const (
	DriverREST     = "rest"
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
)

// StoreOptions selects and configures the store driver
type StoreOptions struct {
	Driver      string
	RESTURL     string
	RESTKey     string
	DatabaseURL string
	SQLitePath  string
}

// NewStore opens the configured store gateway
func NewStore(ctx context.Context, opts StoreOptions, logger zerolog.Logger) (repo.StoreGateway, error) {
	switch opts.Driver {
	case DriverREST, "":
		return NewRESTStore(opts.RESTURL, opts.RESTKey, nil, logger), nil
	case DriverPostgres:
		return NewPostgresStore(ctx, opts.DatabaseURL, logger)
	case DriverSQLite:
		store, err := NewSQLiteStore(ctx, opts.SQLitePath, logger)
		if err != nil {
			return nil, err
		}
		return store, nil
	default:
		return nil, fmt.Errorf("unknown store driver %q", opts.Driver)
	}
}

// storeError wraps a failed store call and counts it
func storeError(op string, status int, err error) error {
	metrics.StoreErrors.WithLabelValues(op).Inc()
	return &domain.StoreError{Op: op, Status: status, Err: err}
}
