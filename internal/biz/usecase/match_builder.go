package usecase

import (
	"time"

	"github.com/dealflow/listing-matcher/internal/biz/domain"
)

// BuildMatch assembles a match record for the listing and its buyers.
// Matching runs call it with one buyer per record.
func BuildMatch(listing *domain.Listing, buyers []domain.BuyerProfile, now time.Time) (domain.MatchRecord, error) {
	if len(buyers) == 0 {
		return domain.MatchRecord{}, domain.ErrNoBuyers
	}

	summaries := make([]domain.BuyerSummary, 0, len(buyers))
	for i := range buyers {
		summaries = append(summaries, buyers[i].Summary())
	}

	return domain.MatchRecord{
		ListingID:     listing.ID,
		Buyers:        summaries,
		ProductData:   listing.ProductData.Clone(),
		SellerID:      listing.SellerID,
		SellerName:    listing.SellerName,
		SellerContact: listing.SellerContact,
		MatchedAt:     domain.NewTimestamp(now),
		Notified:      false,
	}, nil
}
