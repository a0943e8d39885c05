package server

import (
	"context"
	"encoding/json"
	"net/url"
	"strings"

	"github.com/joshdurbin/strava-wrapped/internal/logging"
	"github.com/modelcontextprotocol/go-sdk/mcp"
)

const (
	currentWrappedURI = "strava://wrapped/current"
	sportURIPrefix    = "strava://wrapped/sports/"
)

// registerResources registers all MCP resources for the server
func (s *Server) registerResources() {
	logging.Debug("Registering MCP resources")

	s.mcp.AddResource(&mcp.Resource{
		URI:         currentWrappedURI,
		Name:        "current_wrapped",
		Description: "Wrapped statistics for the last 365 days, with highlights",
		MIMEType:    "application/json",
	}, s.readCurrentWrapped)

	s.mcp.AddResourceTemplate(&mcp.ResourceTemplate{
		URITemplate: sportURIPrefix + "{sport}",
		Name:        "wrapped_sport",
		Description: "Activity count and share of one sport in the last 365 days",
		MIMEType:    "application/json",
	}, s.readSport)

	logging.Debug("MCP resources registered", "count", 2)
}

// readCurrentWrapped returns the current summary with its highlights
func (s *Server) readCurrentWrapped(ctx context.Context, req *mcp.ReadResourceRequest) (*mcp.ReadResourceResult, error) {
	logging.Info("MCP resource read", "resource", "current_wrapped")

	summary, err := s.reports.Summary(ctx)
	if err != nil {
		logging.Error("readCurrentWrapped failed", "error", err)
		return nil, NewDatabaseErrorWithContext("summary", err)
	}

	return jsonResource(currentWrappedURI, WrappedSummaryOutput{
		Summary:    summary,
		Highlights: NewInsightGenerator().GenerateWrappedInsights(summary),
	})
}

// readSport returns one sport's share of the window
func (s *Server) readSport(ctx context.Context, req *mcp.ReadResourceRequest) (*mcp.ReadResourceResult, error) {
	uri := req.Params.URI
	raw := strings.TrimPrefix(uri, sportURIPrefix)
	sport, err := url.PathUnescape(raw)
	if err != nil || sport == "" || raw == uri {
		return nil, NewInvalidInputErrorWithDetails("invalid sport URI", uri)
	}

	logging.Info("MCP resource read", "resource", "wrapped_sport", "sport", sport)

	summary, err := s.reports.Summary(ctx)
	if err != nil {
		logging.Error("readSport failed", "error", err)
		return nil, NewDatabaseErrorWithContext("summary", err)
	}

	for _, share := range sportShares(summary) {
		if strings.EqualFold(share.Sport, sport) {
			return jsonResource(uri, share)
		}
	}
	return nil, mcp.ResourceNotFoundError(uri)
}

func jsonResource(uri string, v interface{}) (*mcp.ReadResourceResult, error) {
	jsonData, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return nil, NewInternalErrorWithCause("failed to marshal resource", err)
	}

	return &mcp.ReadResourceResult{
		Contents: []*mcp.ResourceContents{
			{
				URI:      uri,
				MIMEType: "application/json",
				Text:     string(jsonData),
			},
		},
	}, nil
}
