package usecase

import (
	"fmt"
	"strings"

	"github.com/dealflow/listing-matcher/internal/biz/domain"
)

// Matches reports whether the listing satisfies the buyer's preferences.
// Malformed listing or buyer data is a non-match.
func Matches(listing *domain.Listing, buyer *domain.BuyerProfile) bool {
	ok, err := evaluate(listing, buyer)
	return ok && err == nil
}

// evaluate runs the preference checks; err is set when the inputs could
// not be interpreted.
func evaluate(listing *domain.Listing, buyer *domain.BuyerProfile) (bool, error) {
	if listing == nil || buyer == nil {
		return false, fmt.Errorf("missing listing or buyer")
	}
	if err := buyer.PreferencesErr(); err != nil {
		return false, err
	}

	product := listing.ProductData
	listingMake := strings.ToLower(product.Make())
	listingModel := strings.ToLower(product.Model())
	price, err := product.Price()
	if err != nil {
		return false, err
	}
	if listingMake == "" || listingModel == "" || price == 0 {
		return false, nil
	}

	prefs := buyer.Preferences
	if len(prefs.Makes) > 0 && !prefs.Makes.Has(listingMake) {
		return false, nil
	}
	if len(prefs.Models) > 0 && !prefs.Models.Has(listingModel) {
		return false, nil
	}

	if price < prefs.MinPrice || price > prefs.MaxPrice {
		return false, nil
	}

	if prefs.MinYear != 0 {
		year, hasYear, err := product.Year()
		if err != nil {
			return false, err
		}
		if hasYear && year < prefs.MinYear {
			return false, nil
		}
	}

	return true, nil
}
