package domain

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// ProductData holds the extracted product attributes of a listing
// (make, model, price, year and whatever else the extractor produced).
type ProductData map[string]any

// Make returns the listing make as text, empty when absent.
func (p ProductData) Make() string {
	return p.text("make")
}

// Model returns the listing model as text, empty when absent.
func (p ProductData) Model() string {
	return p.text("model")
}

// Price returns the listing price. Absent or null prices are 0.
func (p ProductData) Price() (float64, error) {
	v, ok := p["price"]
	if !ok || v == nil {
		return 0, nil
	}
	return toFloat("price", v)
}

// Year returns the listing year and whether one is set.
func (p ProductData) Year() (float64, bool, error) {
	v, ok := p["year"]
	if !ok || v == nil {
		return 0, false, nil
	}
	if s, isStr := v.(string); isStr && strings.TrimSpace(s) == "" {
		return 0, false, nil
	}
	year, err := toFloat("year", v)
	if err != nil {
		return 0, false, err
	}
	return year, year != 0, nil
}

// Clone returns a deep copy so match records keep their own snapshot.
func (p ProductData) Clone() ProductData {
	if p == nil {
		return nil
	}
	out := make(ProductData, len(p))
	for k, v := range p {
		out[k] = cloneValue(v)
	}
	return out
}

func (p ProductData) text(key string) string {
	v, ok := p[key]
	if !ok || v == nil {
		return ""
	}
	switch t := v.(type) {
	case string:
		return strings.TrimSpace(t)
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case json.Number:
		return t.String()
	default:
		return strings.TrimSpace(fmt.Sprint(t))
	}
}

func cloneValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		return map[string]any(ProductData(t).Clone())
	case ProductData:
		return t.Clone()
	case []any:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = cloneValue(e)
		}
		return out
	default:
		return v
	}
}

func toFloat(field string, v any) (float64, error) {
	var f float64
	switch t := v.(type) {
	case float64:
		f = t
	case float32:
		f = float64(t)
	case int:
		f = float64(t)
	case int64:
		f = float64(t)
	case json.Number:
		n, err := t.Float64()
		if err != nil {
			return 0, fmt.Errorf("%s: %w", field, err)
		}
		f = n
	case string:
		n, err := strconv.ParseFloat(strings.TrimSpace(t), 64)
		if err != nil {
			return 0, fmt.Errorf("%s: %q is not numeric", field, t)
		}
		f = n
	default:
		return 0, fmt.Errorf("%s: unsupported type %T", field, v)
	}
	if math.IsNaN(f) {
		return 0, fmt.Errorf("%s: not a number", field)
	}
	return f, nil
}

// Listing is a sellable item stored in the listings table.
type Listing struct {
	ID            ID          `json:"id"`
	Category      string      `json:"category"`
	ProductData   ProductData `json:"product_data"`
	SellerID      ID          `json:"telegram_sender_id,omitempty"`
	SellerName    string      `json:"seller_name,omitempty"`
	SellerContact string      `json:"seller_contact,omitempty"`
	CreatedAt     *Timestamp  `json:"created_at,omitempty"`
}

// ListingDraft is the payload for creating a listing.
type ListingDraft struct {
	Category      string      `json:"category"`
	ProductData   ProductData `json:"product_data,omitempty"`
	SellerID      ID          `json:"telegram_sender_id,omitempty"`
	SellerName    string      `json:"seller_name,omitempty"`
	SellerContact string      `json:"seller_contact,omitempty"`

	// RawText is the chat message text; it is parsed into ProductData
	// when no product data was supplied. Never stored.
	RawText string `json:"raw_text,omitempty"`
}

// Validate checks the draft before it reaches the store.
// canParse tells whether raw text can stand in for product data.
func (d *ListingDraft) Validate(canParse bool) error {
	if strings.TrimSpace(d.Category) == "" {
		return fmt.Errorf("%w: category is required", ErrInvalidDraft)
	}
	if len(d.ProductData) == 0 {
		if d.RawText == "" || !canParse {
			return fmt.Errorf("%w: product_data is required", ErrInvalidDraft)
		}
	}
	return nil
}
