// Package server exposes the wrapped summary to MCP clients over stdio or SSE.
package server

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/joshdurbin/strava-wrapped/internal/logging"
	syncsvc "github.com/joshdurbin/strava-wrapped/internal/sync"
	"github.com/joshdurbin/strava-wrapped/internal/wrapped"
	"github.com/modelcontextprotocol/go-sdk/mcp"
)

const (
	serverName    = "strava-wrapped"
	serverVersion = "1.0.0"
)

// ptr returns a pointer to the given value - useful for optional fields in structs
func ptr[T any](v T) *T {
	return &v
}

// Reports builds the summary for the current window.
type Reports interface {
	Summary(ctx context.Context) (wrapped.Summary, error)
	Invalidate(ctx context.Context) error
}

// Syncer pulls new activities from Strava.
type Syncer interface {
	SyncDelta(ctx context.Context, fetch syncsvc.FetchProgressCallback, save syncsvc.SaveProgressCallback) (syncsvc.Result, error)
}

// Server wraps the MCP server and the report service
type Server struct {
	mcp     *mcp.Server
	reports Reports
	syncer  Syncer
}

// MCPServer returns the underlying MCP server (for use with HTTP/SSE transport)
func (s *Server) MCPServer() *mcp.Server {
	return s.mcp
}

// New creates a new MCP server. syncer may be nil, in which case refresh requests fail.
func New(reports Reports, syncer Syncer) *Server {
	logging.Info("MCP server initializing", "name", serverName, "version", serverVersion)

	mcpServer := mcp.NewServer(&mcp.Implementation{
		Name:    serverName,
		Version: serverVersion,
	}, nil)

	s := &Server{
		mcp:     mcpServer,
		reports: reports,
		syncer:  syncer,
	}

	s.registerTools()
	s.registerResources()
	s.registerPrompts()

	logging.Info("MCP server initialized", "tools_registered", 2, "resources_registered", 2, "prompts_registered", 1)
	return s
}

// Run starts the MCP server over stdio transport
func (s *Server) Run(ctx context.Context) error {
	logging.Info("MCP server starting")
	defer logging.Info("MCP server stopped")
	return s.mcp.Run(ctx, &mcp.StdioTransport{})
}

func (s *Server) registerTools() {
	logging.Debug("Registering tool", "name", "get_wrapped_summary")
	mcp.AddTool(s.mcp, &mcp.Tool{
		Name: "get_wrapped_summary",
		Description: `Get the athlete's "wrapped" statistics for the last 365 days.

Use when:
- User asks "How was my year?" or "Show me my Strava wrapped"
- User wants totals (distance, time, elevation, energy), social stats or training habits
- User wants a landmark comparison ("how far is that?") or their most liked activity

Parameters:
- refresh (boolean): Sync new activities from Strava before building the summary. Default: false.

Returns: The summary (totals, landmarks, social style, time-of-day profile, sport podium, most
liked activity) plus highlights and suggested next tools.

Example: {} or {"refresh": true}`,
		Annotations: &mcp.ToolAnnotations{
			Title:           "Get Wrapped Summary",
			ReadOnlyHint:    false,
			IdempotentHint:  true,
			OpenWorldHint:   ptr(true),
			DestructiveHint: ptr(false),
		},
	}, s.getWrappedSummary)

	logging.Debug("Registering tool", "name", "get_sport_breakdown")
	mcp.AddTool(s.mcp, &mcp.Tool{
		Name: "get_sport_breakdown",
		Description: `Get activity counts per sport for the last 365 days, most practiced first.

Use when:
- User asks "What did I do most?" or "How many rides did I do this year?"
- User wants the share of each sport in their year

Parameters:
- sport (string): Only return this sport (case-insensitive), e.g. Run, Ride, TrailRun.
- limit (integer): Number of sports to return. Default: all.

Returns: Total activities, the dominant sport and per-sport counts with percentages.

Example: {} or {"sport": "Ride"} or {"limit": 3}`,
		Annotations: &mcp.ToolAnnotations{
			Title:           "Get Sport Breakdown",
			ReadOnlyHint:    true,
			IdempotentHint:  true,
			OpenWorldHint:   ptr(false),
			DestructiveHint: ptr(false),
		},
	}, s.getSportBreakdown)
}

// WrappedSummaryInput - input for get_wrapped_summary
type WrappedSummaryInput struct {
	Refresh bool `json:"refresh,omitempty" jsonschema:"Sync new activities from Strava before building the summary. Requires a stored Strava login. Default: false."`
}

// WrappedSummaryOutput - output for get_wrapped_summary
type WrappedSummaryOutput struct {
	Summary          wrapped.Summary   `json:"summary"`
	Synced           *SyncOutcome      `json:"synced,omitempty"`
	Highlights       []Insight         `json:"highlights"`
	SuggestedActions []SuggestedAction `json:"suggested_actions,omitempty"`
}

// SyncOutcome reports what a refresh pulled from Strava.
type SyncOutcome struct {
	Fetched int  `json:"fetched"`
	Saved   int  `json:"saved"`
	Full    bool `json:"full"`
}

func (s *Server) getWrappedSummary(ctx context.Context, req *mcp.CallToolRequest, input WrappedSummaryInput) (*mcp.CallToolResult, WrappedSummaryOutput, error) {
	logging.Info("MCP tool call", "tool", "get_wrapped_summary", "refresh", input.Refresh)

	var output WrappedSummaryOutput
	if input.Refresh {
		outcome, err := s.refresh(ctx)
		if err != nil {
			return nil, WrappedSummaryOutput{}, err
		}
		output.Synced = outcome
	}

	summary, err := s.reports.Summary(ctx)
	if err != nil {
		logging.Error("get_wrapped_summary failed", "error", err)
		return nil, WrappedSummaryOutput{}, NewDatabaseErrorWithContext("summary", err)
	}

	output.Summary = summary
	output.Highlights = NewInsightGenerator().GenerateWrappedInsights(summary)
	output.SuggestedActions = SuggestNextActions("summary")
	return nil, output, nil
}

func (s *Server) refresh(ctx context.Context) (*SyncOutcome, error) {
	if s.syncer == nil {
		return nil, NewInvalidInputError("refresh is unavailable: strava sync is disabled")
	}

	res, err := s.syncer.SyncDelta(ctx, nil, nil)
	if res.Saved > 0 {
		if ierr := s.reports.Invalidate(ctx); ierr != nil {
			logging.Warn("failed to invalidate summary", "error", ierr)
		}
	}
	if err != nil {
		logging.Error("refresh sync failed", "error", err)
		return nil, NewUpstreamError("sync", err)
	}
	return &SyncOutcome{Fetched: res.Fetched, Saved: res.Saved, Full: res.Full}, nil
}

// SportBreakdownInput - input for get_sport_breakdown
type SportBreakdownInput struct {
	Sport string `json:"sport,omitempty" jsonschema:"Only return this sport, matched case-insensitively. Common values: Run, Ride, Swim, Walk, Hike, TrailRun. Leave empty for all sports."`
	Limit int    `json:"limit,omitempty" jsonschema:"Maximum number of sports to return, most practiced first. Leave empty or 0 for all."`
}

// SportShare is one sport's part of the year.
type SportShare struct {
	Sport   string  `json:"sport"`
	Count   int64   `json:"count"`
	Percent float64 `json:"percent"`
	Podium  int     `json:"podium_position,omitempty"`
}

// SportBreakdownOutput - output for get_sport_breakdown
type SportBreakdownOutput struct {
	TotalActivities int64             `json:"total_activities"`
	SportsPracticed int               `json:"sports_practiced"`
	DominantSport   *string           `json:"dominant_sport"`
	Sports          []SportShare      `json:"sports"`
	SuggestedAction []SuggestedAction `json:"suggested_actions,omitempty"`
}

func (s *Server) getSportBreakdown(ctx context.Context, req *mcp.CallToolRequest, input SportBreakdownInput) (*mcp.CallToolResult, SportBreakdownOutput, error) {
	logging.Info("MCP tool call", "tool", "get_sport_breakdown", "sport", input.Sport, "limit", input.Limit)
	if logging.IsVerbose() {
		logging.Debug("MCP request params", "tool", "get_sport_breakdown", "input", logging.ToJSON(input))
	}

	if input.Limit < 0 {
		return nil, SportBreakdownOutput{}, NewInvalidInputErrorWithDetails("limit must not be negative", fmt.Sprint(input.Limit))
	}

	summary, err := s.reports.Summary(ctx)
	if err != nil {
		logging.Error("get_sport_breakdown failed", "error", err)
		return nil, SportBreakdownOutput{}, NewDatabaseErrorWithContext("summary", err)
	}

	shares := sportShares(summary)
	if input.Sport != "" {
		var match []SportShare
		for _, share := range shares {
			if strings.EqualFold(share.Sport, input.Sport) {
				match = append(match, share)
			}
		}
		if len(match) == 0 {
			return nil, SportBreakdownOutput{}, NewNotFoundErrorWithID("sport", input.Sport)
		}
		shares = match
	}
	if input.Limit > 0 && len(shares) > input.Limit {
		shares = shares[:input.Limit]
	}

	return nil, SportBreakdownOutput{
		TotalActivities: summary.Activities,
		SportsPracticed: summary.SportsPracticed,
		DominantSport:   summary.DominantSport,
		Sports:          shares,
		SuggestedAction: SuggestNextActions("sports"),
	}, nil
}

// sportShares converts the breakdown into percentages of all activities in the window,
// most practiced first. Equal counts keep first-seen order.
func sportShares(summary wrapped.Summary) []SportShare {
	podium := make(map[string]int, wrapped.PodiumSlots)
	for i, slot := range summary.SportPodium {
		if slot.Sport != nil && slot.Count > 0 {
			podium[*slot.Sport] = i + 1
		}
	}

	shares := make([]SportShare, 0, len(summary.SportsBreakdown))
	for _, sc := range summary.SportsBreakdown {
		if sc.Sport == nil {
			continue
		}
		share := SportShare{Sport: *sc.Sport, Count: sc.Count, Podium: podium[*sc.Sport]}
		if summary.Activities > 0 {
			share.Percent = round1(float64(sc.Count) / float64(summary.Activities) * 100)
		}
		shares = append(shares, share)
	}
	sort.SliceStable(shares, func(i, j int) bool {
		return shares[i].Count > shares[j].Count
	})
	return shares
}
