package server

import (
	"context"
	"fmt"

	"github.com/joshdurbin/strava-wrapped/internal/logging"
	"github.com/modelcontextprotocol/go-sdk/mcp"
)

var storyTones = map[string]string{
	"playful":      "Keep it light and playful, with a joke or two about the numbers.",
	"motivational": "Make it motivational and end with a goal for next year.",
	"concise":      "Keep it to five short bullet points.",
}

// registerPrompts registers all MCP prompts for the server
func (s *Server) registerPrompts() {
	logging.Debug("Registering MCP prompts")

	s.mcp.AddPrompt(&mcp.Prompt{
		Name:        "wrapped_story",
		Description: "Tell the story of the athlete's last 365 days from their wrapped statistics",
		Arguments: []*mcp.PromptArgument{
			{
				Name:        "tone",
				Description: "Story tone: 'playful', 'motivational' or 'concise'. Default: playful",
				Required:    false,
			},
			{
				Name:        "refresh",
				Description: "Set to 'true' to sync new activities from Strava first",
				Required:    false,
			},
		},
	}, s.wrappedStoryPrompt)

	logging.Debug("MCP prompts registered", "count", 1)
}

// wrappedStoryPrompt generates a prompt for a year-in-review story
func (s *Server) wrappedStoryPrompt(ctx context.Context, req *mcp.GetPromptRequest) (*mcp.GetPromptResult, error) {
	tone := "playful"
	refresh := ""
	if req.Params.Arguments != nil {
		if t, ok := req.Params.Arguments["tone"]; ok && t != "" {
			tone = t
		}
		if r, ok := req.Params.Arguments["refresh"]; ok && r == "true" {
			refresh = `refresh=true`
		}
	}

	style, ok := storyTones[tone]
	if !ok {
		return nil, NewInvalidInputErrorWithDetails("unknown tone", tone)
	}

	logging.Info("MCP prompt requested", "prompt", "wrapped_story", "tone", tone)

	promptText := fmt.Sprintf(`Please write my Strava "wrapped" story for the last 365 days.

Use the following tools to gather data:
1. **get_wrapped_summary**%s to get my totals, landmarks and highlights
2. **get_sport_breakdown** to see how the year splits across sports

Then cover:
- **The Big Numbers**: Activities, distance (with the landmark comparison), time and elevation (as Everest climbs)
- **Energy**: How many days my output could power a house
- **My Sport**: The podium and how many sports I practiced
- **When I Train**: My training profile and time-of-day split
- **Social Side**: Training company, kudos, comments, photos and my most liked activity
- **Records**: Personal records set this year

%s Use the actual numbers from the tools.`, wrapParam(refresh), style)

	return &mcp.GetPromptResult{
		Description: "Year in review story prompt",
		Messages: []*mcp.PromptMessage{
			{
				Role:    "user",
				Content: &mcp.TextContent{Text: promptText},
			},
		},
	}, nil
}

// wrapParam adds " with " prefix if param is not empty
func wrapParam(param string) string {
	if param == "" {
		return ""
	}
	return " with " + param
}
