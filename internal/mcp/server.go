package mcp

import (
	"context"
	"fmt"
	"time"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/dealflow/listing-matcher/internal/biz/domain"
	"github.com/dealflow/listing-matcher/internal/service"
)

// Tools exposes the control API as MCP tools
type Tools struct {
	client *Client
}

// NewServer creates an MCP server with the matcher tools registered
func NewServer(client *Client, version string) *mcpsdk.Server {
	server := mcpsdk.NewServer(&mcpsdk.Implementation{
		Name:    "listing-matcher",
		Version: version,
	}, nil)

	t := &Tools{client: client}

	mcpsdk.AddTool(server, &mcpsdk.Tool{
		Name:        "monitor_status",
		Description: "Get the stream monitor state, per-chat cursors, message counters and store health.",
	}, t.MonitorStatus)

	mcpsdk.AddTool(server, &mcpsdk.Tool{
		Name:        "monitor_start",
		Description: "Start the stream monitor. Does nothing if it is already running.",
	}, t.MonitorStart)

	mcpsdk.AddTool(server, &mcpsdk.Tool{
		Name:        "monitor_stop",
		Description: "Stop the stream monitor.",
	}, t.MonitorStop)

	mcpsdk.AddTool(server, &mcpsdk.Tool{
		Name:        "match_listing",
		Description: "Match a stored listing against all buyer preferences and store new matches. Buyers matched in an earlier run are skipped.",
	}, t.MatchListing)

	mcpsdk.AddTool(server, &mcpsdk.Tool{
		Name:        "get_listing",
		Description: "Get a stored listing by id.",
	}, t.GetListing)

	mcpsdk.AddTool(server, &mcpsdk.Tool{
		Name:        "list_matches",
		Description: "List stored matches, optionally for one listing or by notified flag.",
	}, t.ListMatches)

	return server
}

// NoInput is the input for tools without arguments
type NoInput struct{}

// StatusOutput summarizes the monitor
type StatusOutput struct {
	State        string           `json:"state"`
	MessageCount int64            `json:"message_count"`
	Dropped      int64            `json:"dropped"`
	Cursors      map[string]int64 `json:"cursors"`
	LastError    string           `json:"last_error,omitempty"`
	Store        string           `json:"store,omitempty"`
}

// ListingInput identifies a listing
type ListingInput struct {
	ListingID string `json:"listing_id" jsonschema:"id of the stored listing"`
}

// MatchSummary is a stored match with plain string ids
type MatchSummary struct {
	ID        string   `json:"id"`
	ListingID string   `json:"listing_id"`
	BuyerIDs  []string `json:"buyer_ids"`
	Buyers    []string `json:"buyers"`
	Notified  bool     `json:"notified"`
	MatchedAt string   `json:"matched_at,omitempty"`
}

// MatchOutput is the result of a matching run
type MatchOutput struct {
	Found     bool           `json:"found"`
	ListingID string         `json:"listing_id"`
	Created   int            `json:"created"`
	Skipped   int            `json:"skipped"`
	Matches   []MatchSummary `json:"matches"`
}

// ListingOutput is a stored listing
type ListingOutput struct {
	Found       bool           `json:"found"`
	ID          string         `json:"id,omitempty"`
	Category    string         `json:"category,omitempty"`
	ProductData map[string]any `json:"product_data,omitempty"`
	SellerName  string         `json:"seller_name,omitempty"`
}

// ListMatchesInput filters stored matches
type ListMatchesInput struct {
	ListingID string `json:"listing_id,omitempty" jsonschema:"only matches for this listing"`
	Notified  *bool  `json:"notified,omitempty" jsonschema:"only matches with this notified flag"`
}

// ListMatchesOutput is a list of stored matches
type ListMatchesOutput struct {
	Count   int            `json:"count"`
	Matches []MatchSummary `json:"matches"`
}

// MonitorStatus handles monitor_status
func (t *Tools) MonitorStatus(ctx context.Context, req *mcpsdk.CallToolRequest, _ NoInput) (*mcpsdk.CallToolResult, StatusOutput, error) {
	h, err := t.client.Health(ctx)
	if err != nil {
		return nil, StatusOutput{}, err
	}
	out := toStatus(h.Monitor)
	out.Store = h.Store
	return nil, out, nil
}

// MonitorStart handles monitor_start
func (t *Tools) MonitorStart(ctx context.Context, req *mcpsdk.CallToolRequest, _ NoInput) (*mcpsdk.CallToolResult, StatusOutput, error) {
	st, err := t.client.StartMonitor(ctx)
	if err != nil {
		return nil, StatusOutput{}, err
	}
	return nil, toStatus(*st), nil
}

// MonitorStop handles monitor_stop
func (t *Tools) MonitorStop(ctx context.Context, req *mcpsdk.CallToolRequest, _ NoInput) (*mcpsdk.CallToolResult, StatusOutput, error) {
	st, err := t.client.StopMonitor(ctx)
	if err != nil {
		return nil, StatusOutput{}, err
	}
	return nil, toStatus(*st), nil
}

// MatchListing handles match_listing
func (t *Tools) MatchListing(ctx context.Context, req *mcpsdk.CallToolRequest, in ListingInput) (*mcpsdk.CallToolResult, MatchOutput, error) {
	if in.ListingID == "" {
		return nil, MatchOutput{}, fmt.Errorf("listing_id is required")
	}
	result, err := t.client.MatchListing(ctx, in.ListingID)
	if err != nil {
		return nil, MatchOutput{}, err
	}
	matches := toSummaries(result.Matches)
	return nil, MatchOutput{
		Found:     result.Found,
		ListingID: result.ListingID.String(),
		Created:   len(matches),
		Skipped:   result.Skipped,
		Matches:   matches,
	}, nil
}

// GetListing handles get_listing
func (t *Tools) GetListing(ctx context.Context, req *mcpsdk.CallToolRequest, in ListingInput) (*mcpsdk.CallToolResult, ListingOutput, error) {
	if in.ListingID == "" {
		return nil, ListingOutput{}, fmt.Errorf("listing_id is required")
	}
	listing, err := t.client.GetListing(ctx, in.ListingID)
	if err != nil {
		return nil, ListingOutput{}, err
	}
	if listing == nil {
		return nil, ListingOutput{Found: false}, nil
	}
	return nil, ListingOutput{
		Found:       true,
		ID:          listing.ID.String(),
		Category:    listing.Category,
		ProductData: listing.ProductData,
		SellerName:  listing.SellerName,
	}, nil
}

// ListMatches handles list_matches
func (t *Tools) ListMatches(ctx context.Context, req *mcpsdk.CallToolRequest, in ListMatchesInput) (*mcpsdk.CallToolResult, ListMatchesOutput, error) {
	matches, err := t.client.Matches(ctx, in.ListingID, in.Notified)
	if err != nil {
		return nil, ListMatchesOutput{}, err
	}
	summaries := toSummaries(matches)
	return nil, ListMatchesOutput{Count: len(summaries), Matches: summaries}, nil
}

func toStatus(st service.MonitorStatus) StatusOutput {
	out := StatusOutput{
		State:        string(st.State),
		MessageCount: st.MessageCount,
		Dropped:      st.Dropped,
		Cursors:      make(map[string]int64, len(st.Cursors)),
		LastError:    st.LastError,
	}
	for chat, cursor := range st.Cursors {
		out.Cursors[chat.String()] = cursor
	}
	return out
}

func toSummaries(records []domain.MatchRecord) []MatchSummary {
	out := make([]MatchSummary, 0, len(records))
	for _, m := range records {
		s := MatchSummary{
			ID:        m.ID.String(),
			ListingID: m.ListingID.String(),
			BuyerIDs:  make([]string, 0, len(m.Buyers)),
			Buyers:    make([]string, 0, len(m.Buyers)),
			Notified:  m.Notified,
		}
		for _, b := range m.Buyers {
			s.BuyerIDs = append(s.BuyerIDs, b.ID.String())
			s.Buyers = append(s.Buyers, b.Name)
		}
		if !m.MatchedAt.IsZero() {
			s.MatchedAt = m.MatchedAt.UTC().Format(time.RFC3339)
		}
		out = append(out, s)
	}
	return out
}
