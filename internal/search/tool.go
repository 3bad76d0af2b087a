package search

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/bizmatters/agent-builder/dev-orchestrator/internal/config"
	"github.com/bizmatters/agent-builder/dev-orchestrator/internal/logging"
	"github.com/bizmatters/agent-builder/dev-orchestrator/internal/workspace"
)

// ErrDisabled is returned when internal search is switched off in configuration
var ErrDisabled = errors.New("internal search is disabled")

// Response is the success payload of the internal search tool
type Response struct {
	Query             string   `json:"query" yaml:"query"`
	SearchType        Mode     `json:"search_type" yaml:"search_type"`
	TotalFilesIndexed int      `json:"total_files_indexed" yaml:"total_files_indexed"`
	ResultsCount      int      `json:"results_count" yaml:"results_count"`
	Results           []Result `json:"results" yaml:"results"`
}

// Failure is the error payload of the internal search tool
type Failure struct {
	Error   string   `json:"error" yaml:"error"`
	Query   string   `json:"query" yaml:"query"`
	Results []Result `json:"results" yaml:"results"`
}

// ToolResult holds exactly one of a Response or a Failure and serializes
// as whichever is set.
type ToolResult struct {
	Response *Response
	Failure  *Failure
}

// Failed reports whether the search produced an error payload
func (r ToolResult) Failed() bool {
	return r.Failure != nil
}

func (r ToolResult) payload() interface{} {
	if r.Failure != nil {
		return r.Failure
	}
	return r.Response
}

// MarshalJSON encodes the populated payload
func (r ToolResult) MarshalJSON() ([]byte, error) {
	return json.Marshal(r.payload())
}

// MarshalYAML encodes the populated payload
func (r ToolResult) MarshalYAML() (interface{}, error) {
	return r.payload(), nil
}

// String returns the indented JSON form handed to tool callers
func (r ToolResult) String() string {
	data, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return fmt.Sprintf(`{"error": %q, "results": []}`, err.Error())
	}
	return string(data)
}

func failure(query string, err error) ToolResult {
	return ToolResult{Failure: &Failure{
		Error:   err.Error(),
		Query:   query,
		Results: []Result{},
	}}
}

// Engine indexes a workspace and runs ranked searches over it
type Engine struct {
	indexer *workspace.Indexer
	cfg     config.SearchConfig
	logger  *slog.Logger
	tracer  trace.Tracer
}

// NewEngine creates a search engine. A nil indexer gets a default one.
func NewEngine(indexer *workspace.Indexer, cfg config.SearchConfig, logger *slog.Logger) *Engine {
	logger = logging.OrDefault(logger)
	if indexer == nil {
		indexer = workspace.NewIndexer(logger)
	}
	return &Engine{
		indexer: indexer,
		cfg:     cfg,
		logger:  logger,
		tracer:  otel.Tracer("search-engine"),
	}
}

// Search rebuilds the workspace index and returns the ranked response
func (e *Engine) Search(ctx context.Context, query, workspacePath string, mode Mode) (*Response, error) {
	if !e.cfg.InternalEnabled {
		return nil, ErrDisabled
	}

	ctx, span := e.tracer.Start(ctx, "search.internal")
	defer span.End()
	span.SetAttributes(
		attribute.String("search.query", query),
		attribute.String("search.mode", string(mode)),
		attribute.String("workspace.path", workspacePath),
	)

	if timeout := e.cfg.Timeout(); timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	idx, err := e.indexer.Index(ctx, workspacePath)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "indexing failed")
		return nil, fmt.Errorf("failed to index workspace: %w", err)
	}

	ranked, err := Run(query, idx, mode)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "search failed")
		return nil, err
	}

	// Zero scores only come from matching filenames clamped at 0, which are kept.
	results := make([]Result, 0, len(ranked))
	for _, r := range ranked {
		if r.RelevanceScore == 0 || float64(r.RelevanceScore) >= e.cfg.RelevanceThreshold {
			results = append(results, r)
		}
	}

	count := len(results)
	if limit := e.maxResults(); len(results) > limit {
		results = results[:limit]
	}

	span.SetAttributes(
		attribute.Int("search.files_indexed", idx.Len()),
		attribute.Int("search.results", count),
	)
	e.logger.Debug("search completed",
		"query", query,
		"mode", mode,
		"files_indexed", idx.Len(),
		"results", count,
	)

	return &Response{
		Query:             query,
		SearchType:        mode,
		TotalFilesIndexed: idx.Len(),
		ResultsCount:      count,
		Results:           results,
	}, nil
}

func (e *Engine) maxResults() int {
	if n := e.cfg.MaxResultsPerQuery; n > 0 && n < config.MaxResultsLimit {
		return n
	}
	return config.MaxResultsLimit
}

// InternalSearch is the tool boundary: every failure comes back as a
// Failure payload carrying the query and an empty result list.
func (e *Engine) InternalSearch(ctx context.Context, query, workspacePath, searchType string) ToolResult {
	mode, err := ParseMode(searchType)
	if err != nil {
		return failure(query, err)
	}

	resp, err := e.Search(ctx, query, workspacePath, mode)
	if err != nil {
		e.logger.Warn("internal search failed", "query", query, "workspace", workspacePath, "error", err)
		return failure(query, err)
	}
	return ToolResult{Response: resp}
}
