package domain

// BuyerSummary is the buyer snapshot stored in a match record.
type BuyerSummary struct {
	ID         ID     `json:"id"`
	Name       string `json:"name"`
	CellNumber string `json:"cell_number"`
	ChatID     ID     `json:"chat_id"`
}

// MatchRecord links a listing to the buyers it qualified for.
// ProductData is a copy taken at match time.
type MatchRecord struct {
	ID            ID             `json:"id,omitempty"`
	ListingID     ID             `json:"listing_id"`
	Buyers        []BuyerSummary `json:"buyers"`
	ProductData   ProductData    `json:"product_data"`
	SellerID      ID             `json:"seller_id"`
	SellerName    string         `json:"seller_name"`
	SellerContact string         `json:"seller_contact"`
	MatchedAt     Timestamp      `json:"matched_at"`
	Notified      bool           `json:"notified"`
}

// HasBuyer reports whether the record already names the buyer.
func (m *MatchRecord) HasBuyer(id ID) bool {
	for _, b := range m.Buyers {
		if b.ID == id {
			return true
		}
	}
	return false
}

// MatchFilter narrows FetchMatches. Nil fields are not filtered on.
type MatchFilter struct {
	ListingID *ID
	Notified  *bool
}

// MatchResult is the outcome of a matching run. Found is false when the
// listing does not exist; Matches is then empty.
type MatchResult struct {
	ListingID ID            `json:"listing_id"`
	Found     bool          `json:"found"`
	Listing   *Listing      `json:"listing,omitempty"`
	Matches   []MatchRecord `json:"matches"`
	Skipped   int           `json:"skipped"`
}
