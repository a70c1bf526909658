package domain

import (
	"encoding/json"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuyerProfile_Unmarshal_ListPreferences(t *testing.T) {
	data := `{
		"id": 7,
		"name": "Omar",
		"cell_number": "+971500000000",
		"chat_id": 123456,
		"preferences": {"make": ["Toyota", "honda"], "model": "Camry", "min_price": 10000, "max_price": "20000", "min_year": 2018}
	}`

	var b BuyerProfile
	require.NoError(t, json.Unmarshal([]byte(data), &b))

	assert.Equal(t, ID("7"), b.ID)
	assert.Equal(t, ID("123456"), b.ChatID)
	assert.NoError(t, b.PreferencesErr())
	assert.Equal(t, StringSet{"honda": {}, "toyota": {}}, b.Preferences.Makes)
	assert.True(t, b.Preferences.Models.Has("CAMRY"))
	assert.Equal(t, 10000.0, b.Preferences.MinPrice)
	assert.Equal(t, 20000.0, b.Preferences.MaxPrice)
	assert.Equal(t, 2018.0, b.Preferences.MinYear)
}

func TestBuyerProfile_Unmarshal_MissingPreferences(t *testing.T) {
	var b BuyerProfile
	require.NoError(t, json.Unmarshal([]byte(`{"id":"b-1","name":"A","cell_number":"1"}`), &b))

	assert.NoError(t, b.PreferencesErr())
	assert.Empty(t, b.Preferences.Makes)
	assert.Equal(t, 0.0, b.Preferences.MinPrice)
	assert.True(t, math.IsInf(b.Preferences.MaxPrice, 1))
}

func TestBuyerProfile_Unmarshal_MalformedPreferencesKeptAsError(t *testing.T) {
	var b BuyerProfile
	err := json.Unmarshal([]byte(`{"id":1,"name":"A","cell_number":"1","preferences":{"min_price":"cheap"}}`), &b)

	require.NoError(t, err)
	assert.Error(t, b.PreferencesErr())
}

func TestBuyerProfile_MarshalKeepsRawPreferences(t *testing.T) {
	in := `{"id":1,"name":"A","cell_number":"1","chat_id":5,"preferences":{"make":"bmw"}}`
	var b BuyerProfile
	require.NoError(t, json.Unmarshal([]byte(in), &b))

	out, err := json.Marshal(b)
	require.NoError(t, err)
	assert.JSONEq(t, in, string(out))
}

func TestID_JSONRoundTrip(t *testing.T) {
	var ids []ID
	require.NoError(t, json.Unmarshal([]byte(`[-100123, "oc_abc", null]`), &ids))
	assert.Equal(t, []ID{"-100123", "oc_abc", ""}, ids)

	out, err := json.Marshal(ids[:2])
	require.NoError(t, err)
	assert.Equal(t, `[-100123,"oc_abc"]`, string(out))

	n, ok := ids[0].Int64()
	assert.True(t, ok)
	assert.Equal(t, int64(-100123), n)
}

func TestID_MarshalKeepsNonCanonicalNumbersQuoted(t *testing.T) {
	out, err := json.Marshal([]ID{"007", "+971501234567", "-0", "42"})
	require.NoError(t, err)
	assert.Equal(t, `["007","+971501234567","-0",42]`, string(out))

	var back []ID
	require.NoError(t, json.Unmarshal(out, &back))
	assert.Equal(t, []ID{"007", "+971501234567", "-0", "42"}, back)

	rec := MatchRecord{
		ListingID: "L1",
		Buyers:    []BuyerSummary{{ID: "007", Name: "Omar", ChatID: "+971501234567"}},
	}
	out, err = json.Marshal(rec)
	require.NoError(t, err)
	assert.Contains(t, string(out), `"buyers":[{"id":"007","name":"Omar","cell_number":"","chat_id":"+971501234567"}]`)
}

func TestProductData_Accessors(t *testing.T) {
	p := ProductData{"make": " Toyota ", "model": "Camry", "price": "15000", "year": 2019.0}

	assert.Equal(t, "Toyota", p.Make())
	price, err := p.Price()
	require.NoError(t, err)
	assert.Equal(t, 15000.0, price)

	year, ok, err := p.Year()
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, 2019.0, year)

	_, err = ProductData{"price": "15k"}.Price()
	assert.Error(t, err)
}

func TestProductData_CloneIsDeep(t *testing.T) {
	p := ProductData{"make": "bmw", "extras": map[string]any{"color": "red"}}
	c := p.Clone()

	c["extras"].(map[string]any)["color"] = "blue"
	c["make"] = "audi"

	assert.Equal(t, "bmw", p["make"])
	assert.Equal(t, "red", p["extras"].(map[string]any)["color"])
}

func TestListingDraft_Validate(t *testing.T) {
	assert.ErrorIs(t, (&ListingDraft{ProductData: ProductData{"make": "x"}}).Validate(false), ErrInvalidDraft)
	assert.ErrorIs(t, (&ListingDraft{Category: "vehicles"}).Validate(false), ErrInvalidDraft)
	assert.ErrorIs(t, (&ListingDraft{Category: "vehicles", RawText: "bmw"}).Validate(false), ErrInvalidDraft)
	assert.NoError(t, (&ListingDraft{Category: "vehicles", RawText: "bmw"}).Validate(true))
	assert.NoError(t, (&ListingDraft{Category: "vehicles", ProductData: ProductData{"make": "bmw"}}).Validate(false))
}
