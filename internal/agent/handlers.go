package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"

	"axisverify/internal/harness"
	"axisverify/internal/history"
)

// stdio is swapped in tests
var (
	stdinReader  = func() io.Reader { return os.Stdin }
	stdoutWriter = func() io.Writer { return os.Stdout }
)

// caseInfo is the listing form of a case
type caseInfo struct {
	ID            string   `json:"id"`
	Name          string   `json:"name"`
	Description   string   `json:"description,omitempty"`
	Frame         string   `json:"frame"`
	Tags          []string `json:"tags,omitempty"`
	Destructive   bool     `json:"destructive,omitempty"`
	Preconditions []string `json:"preconditions,omitempty"`
	Timeout       string   `json:"timeout,omitempty"`
	OptIn         bool     `json:"optIn,omitempty"`
}

// handleListCases handles the axis_list_cases MCP tool
func (s *Server) handleListCases(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args := request.GetArguments()

	var tags []string
	if tag, ok := args["tag"].(string); ok && tag != "" {
		tags = []string{tag}
	}
	cases, err := harness.ListCases(tags)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	if len(cases) == 0 {
		return mcp.NewToolResultText(fmt.Sprintf("No cases tagged %q", tags[0])), nil
	}

	list := make([]caseInfo, len(cases))
	for i, c := range cases {
		info := caseInfo{
			ID:          c.ID,
			Name:        c.Name,
			Description: c.Description,
			Frame:       string(c.Frame),
			Tags:        c.Tags,
			Destructive: c.Destructive,
			OptIn:       c.OptIn,
		}
		for _, p := range c.Preconditions {
			info.Preconditions = append(info.Preconditions, string(p))
		}
		if c.Timeout > 0 {
			info.Timeout = c.Timeout.String()
		}
		list[i] = info
	}

	jsonData, err := json.MarshalIndent(list, "", "  ")
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to format cases: %v", err)), nil
	}
	return mcp.NewToolResultText(string(jsonData)), nil
}

// handleRunCases handles the axis_run_cases MCP tool
func (s *Server) handleRunCases(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args := request.GetArguments()

	config := s.base
	// nobody can answer a prompt over MCP
	config.Prompt = false
	config.Verbose = false

	if axes := splitList(args["axes"]); len(axes) > 0 {
		config.Axes = axes
	}
	if device, ok := args["device"].(string); ok && device != "" {
		config.Device = device
	}
	config.Cases = splitList(args["cases"])
	config.Tags = splitList(args["tags"])

	if parallel, ok := args["parallel"].(float64); ok {
		if parallel < 1 || parallel > 16 {
			return mcp.NewToolResultError("parallel must be between 1 and 16"), nil
		}
		config.Parallel = int(parallel)
	}
	if deadband, ok := args["deadband"].(float64); ok {
		if deadband < 0 {
			return mcp.NewToolResultError("deadband must not be negative"), nil
		}
		config.Deadband = deadband
	}
	if failFast, ok := args["fail_fast"].(bool); ok {
		config.FailFast = failFast
	}
	allowDestructive, _ := args["allow_destructive"].(bool)

	if err := harness.ValidateConfiguration(config); err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Invalid configuration: %v", err)), nil
	}

	cases, err := harness.FilterCases(harness.Catalog(), config.Cases, config.Tags)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	if !allowDestructive {
		kept := cases[:0]
		for _, c := range cases {
			if !c.Destructive {
				kept = append(kept, c)
			}
		}
		cases = kept
	}
	if len(cases) == 0 {
		return mcp.NewToolResultText("No cases selected"), nil
	}

	result, err := s.run(ctx, config, cases)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Verification failed: %v", err)), nil
	}

	s.mu.Lock()
	s.lastResult = result
	s.mu.Unlock()

	jsonData, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to format results: %v", err)), nil
	}
	return mcp.NewToolResultText(string(jsonData)), nil
}

// handleLastResult handles the axis_last_result MCP tool
func (s *Server) handleLastResult(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args := request.GetArguments()

	var result *harness.SuiteResult
	if runID, ok := args["run_id"].(string); ok && runID != "" {
		if s.store == nil {
			return mcp.NewToolResultError("Run history is disabled"), nil
		}
		stored, err := s.store.Report(ctx, runID)
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		result = &stored
	} else {
		s.mu.Lock()
		result = s.lastResult
		s.mu.Unlock()

		if result == nil && s.store != nil {
			stored, err := s.store.Last(ctx)
			if err != nil && !errors.Is(err, history.ErrNotFound) {
				return mcp.NewToolResultError(err.Error()), nil
			}
			if err == nil {
				result = &stored
			}
		}
	}
	if result == nil {
		return mcp.NewToolResultText("No results available. Run axis_run_cases first."), nil
	}

	jsonData, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to format results: %v", err)), nil
	}
	return mcp.NewToolResultText(string(jsonData)), nil
}

func splitList(v interface{}) []string {
	s, ok := v.(string)
	if !ok {
		return nil
	}
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
