package usecase

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/dealflow/listing-matcher/internal/biz/domain"
	"github.com/dealflow/listing-matcher/internal/biz/repo"
	"github.com/dealflow/listing-matcher/internal/metrics"
)

// MatchingUsecase runs listings against buyer preferences and stores the
// resulting matches
type MatchingUsecase struct {
	store  repo.StoreGateway
	guard  repo.MatchGuard
	parser repo.ListingParser
	log    zerolog.Logger
	now    func() time.Time
}

// NewMatchingUsecase creates a new matching usecase
// guard and parser are optional
func NewMatchingUsecase(
	store repo.StoreGateway,
	guard repo.MatchGuard,
	parser repo.ListingParser,
	logger zerolog.Logger,
) *MatchingUsecase {
	return &MatchingUsecase{
		store:  store,
		guard:  guard,
		parser: parser,
		log:    logger.With().Str("component", "matching").Logger(),
		now:    time.Now,
	}
}

// MatchListing matches one stored listing against all buyers.
// Buyers that already have a match for the listing are skipped, so
// re-running a listing does not insert duplicates.
func (uc *MatchingUsecase) MatchListing(ctx context.Context, listingID domain.ID) (*domain.MatchResult, error) {
	result := &domain.MatchResult{ListingID: listingID, Matches: []domain.MatchRecord{}}

	listing, err := uc.store.FetchListing(ctx, listingID)
	if err != nil {
		metrics.MatchRuns.WithLabelValues("error").Inc()
		return nil, fmt.Errorf("fetch listing: %w", err)
	}
	if listing == nil {
		uc.log.Warn().Str("listing_id", listingID.String()).Msg("listing not found")
		metrics.MatchRuns.WithLabelValues("not_found").Inc()
		return result, nil
	}
	result.Found = true
	result.Listing = listing

	uc.log.Info().
		Str("listing_id", listingID.String()).
		Str("make", listing.ProductData.Make()).
		Str("model", listing.ProductData.Model()).
		Msg("matching listing")

	buyers, err := uc.store.FetchAllBuyers(ctx)
	if err != nil {
		metrics.MatchRuns.WithLabelValues("error").Inc()
		return nil, fmt.Errorf("fetch buyers: %w", err)
	}

	existing, err := uc.existingMatches(ctx, listingID)
	if err != nil {
		metrics.MatchRuns.WithLabelValues("error").Inc()
		return nil, err
	}

	now := uc.now()
	var records []domain.MatchRecord
	var claimed []domain.ID
	for i := range buyers {
		buyer := &buyers[i]

		ok, evalErr := evaluate(listing, buyer)
		if evalErr != nil {
			uc.log.Warn().Err(evalErr).Str("buyer_id", buyer.ID.String()).Msg("skipping buyer with malformed data")
			continue
		}
		if !ok {
			continue
		}
		if alreadyMatched(existing, buyer.ID) {
			result.Skipped++
			continue
		}
		if uc.guard != nil {
			won, err := uc.guard.Claim(ctx, listingID, buyer.ID)
			if err != nil {
				uc.log.Warn().Err(err).Str("buyer_id", buyer.ID.String()).Msg("match claim unavailable, continuing unguarded")
			} else if !won {
				result.Skipped++
				continue
			} else {
				claimed = append(claimed, buyer.ID)
			}
		}

		record, err := BuildMatch(listing, []domain.BuyerProfile{*buyer}, now)
		if err != nil {
			return nil, err
		}
		records = append(records, record)
		uc.log.Debug().Str("buyer", buyer.Name).Str("listing_id", listingID.String()).Msg("match found")
	}

	if len(records) > 0 {
		inserted, err := uc.store.InsertMatches(ctx, records)
		if err != nil {
			uc.releaseClaims(listingID, claimed)
			metrics.MatchRuns.WithLabelValues("error").Inc()
			return nil, fmt.Errorf("insert matches: %w", err)
		}
		if len(inserted) == len(records) {
			records = inserted
		}
		metrics.MatchesCreated.Add(float64(len(records)))
		uc.log.Info().Int("count", len(records)).Str("listing_id", listingID.String()).Msg("created matches")
		result.Matches = records
	}

	metrics.MatchRuns.WithLabelValues("ok").Inc()
	return result, nil
}

// ProcessListing stores a new listing and matches it.
// Raw text is parsed into product data when none was supplied.
func (uc *MatchingUsecase) ProcessListing(ctx context.Context, draft domain.ListingDraft) (*domain.MatchResult, error) {
	if err := draft.Validate(uc.parser != nil); err != nil {
		return nil, err
	}

	if len(draft.ProductData) == 0 {
		product, err := uc.parser.Parse(ctx, draft.RawText)
		if err != nil {
			return nil, fmt.Errorf("parse listing text: %w", err)
		}
		if len(product) == 0 {
			return nil, fmt.Errorf("%w: no product data in text", domain.ErrInvalidDraft)
		}
		draft.ProductData = product
	}

	listing, err := uc.store.InsertListing(ctx, draft)
	if err != nil {
		return nil, fmt.Errorf("insert listing: %w", err)
	}

	result, err := uc.MatchListing(ctx, listing.ID)
	if err != nil {
		return nil, err
	}
	if result.Listing == nil {
		result.Listing = listing
	}
	return result, nil
}

// GetListing returns a stored listing, nil when absent
func (uc *MatchingUsecase) GetListing(ctx context.Context, id domain.ID) (*domain.Listing, error) {
	return uc.store.FetchListing(ctx, id)
}

// ExistingMatches reads stored matches
func (uc *MatchingUsecase) ExistingMatches(ctx context.Context, filter domain.MatchFilter) ([]domain.MatchRecord, error) {
	matches, err := uc.store.FetchMatches(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("fetch matches: %w", err)
	}
	if matches == nil {
		matches = []domain.MatchRecord{}
	}
	return matches, nil
}

func (uc *MatchingUsecase) existingMatches(ctx context.Context, listingID domain.ID) ([]domain.MatchRecord, error) {
	existing, err := uc.store.FetchMatches(ctx, domain.MatchFilter{ListingID: &listingID})
	if err != nil {
		return nil, fmt.Errorf("fetch existing matches: %w", err)
	}
	return existing, nil
}

func alreadyMatched(existing []domain.MatchRecord, buyer domain.ID) bool {
	for i := range existing {
		if existing[i].HasBuyer(buyer) {
			return true
		}
	}
	return false
}

func (uc *MatchingUsecase) releaseClaims(listingID domain.ID, buyers []domain.ID) {
	if uc.guard == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	for _, id := range buyers {
		if err := uc.guard.Release(ctx, listingID, id); err != nil {
			uc.log.Warn().Err(err).Str("buyer_id", id.String()).Msg("release match claim")
		}
	}
}
