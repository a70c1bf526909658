package repo

import (
	"context"

	"github.com/dealflow/listing-matcher/internal/biz/domain"
)

// EnvelopeSink is the workflow webhook
type EnvelopeSink interface {
	// Send posts the envelope once; failures are *domain.ForwardError
	Send(ctx context.Context, env domain.Envelope) error
}

// MatchGuard reserves (listing, buyer) pairs so concurrent matching runs
// do not insert the same match twice
type MatchGuard interface {
	// Claim returns true when the pair was not claimed before
	Claim(ctx context.Context, listingID, buyerID domain.ID) (bool, error)

	// Release drops a claim after a failed insert
	Release(ctx context.Context, listingID, buyerID domain.ID) error
}

// ListingParser turns raw message text into product attributes
type ListingParser interface {
	Parse(ctx context.Context, text string) (domain.ProductData, error)
}
