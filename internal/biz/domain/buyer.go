package domain

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"strings"
)

// StringSet is a set of lower-cased strings.
type StringSet map[string]struct{}

// NewStringSet builds a set, lower-casing and skipping blank values.
func NewStringSet(values ...string) StringSet {
	s := make(StringSet, len(values))
	for _, v := range values {
		v = strings.ToLower(strings.TrimSpace(v))
		if v == "" {
			continue
		}
		s[v] = struct{}{}
	}
	return s
}

// Has reports membership of the lower-cased value.
func (s StringSet) Has(v string) bool {
	_, ok := s[strings.ToLower(v)]
	return ok
}

// Preferences is a buyer's decoded filter. Empty sets and zero bounds
// mean "no constraint" on that dimension.
type Preferences struct {
	Makes    StringSet
	Models   StringSet
	MinPrice float64
	MaxPrice float64
	MinYear  float64
}

// DecodePreferences decodes the preferences column. make/model accept a
// single string or a list of strings.
func DecodePreferences(raw json.RawMessage) (Preferences, error) {
	p := Preferences{MaxPrice: math.Inf(1)}
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return p, nil
	}

	var fields map[string]any
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	if err := dec.Decode(&fields); err != nil {
		return p, fmt.Errorf("preferences: %w", err)
	}

	var err error
	if p.Makes, err = stringSetField(fields, "make"); err != nil {
		return p, err
	}
	if p.Models, err = stringSetField(fields, "model"); err != nil {
		return p, err
	}
	if v, ok := fields["min_price"]; ok && v != nil {
		if p.MinPrice, err = toFloat("min_price", v); err != nil {
			return p, err
		}
	}
	if v, ok := fields["max_price"]; ok && v != nil {
		if p.MaxPrice, err = toFloat("max_price", v); err != nil {
			return p, err
		}
	}
	if v, ok := fields["min_year"]; ok && v != nil {
		if p.MinYear, err = toFloat("min_year", v); err != nil {
			return p, err
		}
	}
	return p, nil
}

func stringSetField(fields map[string]any, key string) (StringSet, error) {
	v, ok := fields[key]
	if !ok || v == nil {
		return nil, nil
	}
	switch t := v.(type) {
	case string:
		return NewStringSet(t), nil
	case json.Number:
		return NewStringSet(t.String()), nil
	case []any:
		values := make([]string, 0, len(t))
		for _, e := range t {
			switch s := e.(type) {
			case string:
				values = append(values, s)
			case json.Number:
				values = append(values, s.String())
			default:
				return nil, fmt.Errorf("%s: unsupported element %T", key, e)
			}
		}
		return NewStringSet(values...), nil
	default:
		return nil, fmt.Errorf("%s: unsupported type %T", key, v)
	}
}

// BuyerProfile is a row of the buyers table.
type BuyerProfile struct {
	ID         ID
	Name       string
	CellNumber string
	ChatID     ID

	Preferences Preferences

	rawPreferences json.RawMessage
	prefErr        error
}

// PreferencesErr returns the error hit while decoding preferences, if any.
// A buyer with undecodable preferences never matches.
func (b *BuyerProfile) PreferencesErr() error {
	return b.prefErr
}

// SetPreferences decodes and attaches a raw preferences document.
func (b *BuyerProfile) SetPreferences(raw json.RawMessage) {
	b.rawPreferences = append(json.RawMessage(nil), raw...)
	b.Preferences, b.prefErr = DecodePreferences(raw)
}

// Summary returns the buyer fields copied into match records.
func (b *BuyerProfile) Summary() BuyerSummary {
	return BuyerSummary{
		ID:         b.ID,
		Name:       b.Name,
		CellNumber: b.CellNumber,
		ChatID:     b.ChatID,
	}
}

type buyerJSON struct {
	ID          ID              `json:"id"`
	Name        string          `json:"name"`
	CellNumber  string          `json:"cell_number"`
	ChatID      ID              `json:"chat_id,omitempty"`
	Preferences json.RawMessage `json:"preferences,omitempty"`
}

func (b *BuyerProfile) UnmarshalJSON(data []byte) error {
	var raw buyerJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	b.ID = raw.ID
	b.Name = raw.Name
	b.CellNumber = raw.CellNumber
	b.ChatID = raw.ChatID
	b.SetPreferences(raw.Preferences)
	return nil
}

func (b BuyerProfile) MarshalJSON() ([]byte, error) {
	return json.Marshal(buyerJSON{
		ID:          b.ID,
		Name:        b.Name,
		CellNumber:  b.CellNumber,
		ChatID:      b.ChatID,
		Preferences: b.rawPreferences,
	})
}
