// Package workspace builds an in-memory structural index of a code tree.
package workspace

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/bizmatters/agent-builder/dev-orchestrator/internal/logging"
)

// ErrNotDirectory is returned when the workspace root is missing or not a directory
var ErrNotDirectory = errors.New("workspace path is not a directory")

// binarySniffLen is how many leading bytes are checked for a null byte
const binarySniffLen = 1024

// DefaultExtensions is the supported-extension allow-list
var DefaultExtensions = []string{
	".py", ".js", ".ts", ".java", ".cpp", ".c", ".h", ".hpp",
	".go", ".rs", ".rb", ".php", ".cs", ".swift", ".kt",
	".md", ".txt", ".json", ".yaml", ".yml", ".toml", ".ini",
}

// DefaultIgnoredSegments are path segments whose subtrees are never indexed
var DefaultIgnoredSegments = []string{
	".git", ".hg", ".svn",
	"node_modules", "__pycache__", ".venv", "venv",
	".mypy_cache", ".pytest_cache", ".cache",
}

// FileIndexEntry is the structural record of one indexed file
type FileIndexEntry struct {
	RelativePath string    `json:"relative_path" yaml:"relative_path"`
	Path         string    `json:"path" yaml:"path"`
	Size         int64     `json:"size" yaml:"size"`
	Lines        int       `json:"lines" yaml:"lines"`
	Extension    string    `json:"extension" yaml:"extension"`
	Content      string    `json:"content" yaml:"content"`
	Structure    Structure `json:"structure" yaml:"structure"`
}

// Index maps relative paths to entries and remembers discovery order.
// An Index is read-only once returned.
type Index struct {
	Root    string
	entries map[string]*FileIndexEntry
	order   []string
}

// NewIndex builds an index from entries, keeping their order
func NewIndex(root string, entries ...*FileIndexEntry) *Index {
	idx := &Index{
		Root:    root,
		entries: make(map[string]*FileIndexEntry, len(entries)),
	}
	for _, e := range entries {
		if _, dup := idx.entries[e.RelativePath]; dup {
			continue
		}
		idx.entries[e.RelativePath] = e
		idx.order = append(idx.order, e.RelativePath)
	}
	return idx
}

// Len returns the number of indexed files
func (i *Index) Len() int {
	if i == nil {
		return 0
	}
	return len(i.order)
}

// Get returns the entry for a relative path
func (i *Index) Get(relativePath string) (*FileIndexEntry, bool) {
	if i == nil {
		return nil, false
	}
	e, ok := i.entries[relativePath]
	return e, ok
}

// Entries returns entries in discovery order
func (i *Index) Entries() []*FileIndexEntry {
	if i == nil {
		return nil
	}
	out := make([]*FileIndexEntry, 0, len(i.order))
	for _, p := range i.order {
		out = append(out, i.entries[p])
	}
	return out
}

// Map returns the index as a relative path keyed map
func (i *Index) Map() map[string]*FileIndexEntry {
	out := make(map[string]*FileIndexEntry, i.Len())
	for _, e := range i.Entries() {
		out[e.RelativePath] = e
	}
	return out
}

// Indexer walks workspaces and builds fresh indexes. It holds no state
// between calls and is safe for concurrent use.
type Indexer struct {
	extensions  map[string]bool
	ignored     map[string]bool
	concurrency int
	logger      *slog.Logger
	tracer      trace.Tracer
	builds      singleflight.Group
}

// Option configures an Indexer
type Option func(*Indexer)

// WithExtensions replaces the supported-extension allow-list
func WithExtensions(exts ...string) Option {
	return func(ix *Indexer) {
		ix.extensions = toSet(exts)
	}
}

// WithIgnoredSegments replaces the ignored path segments
func WithIgnoredSegments(segments ...string) Option {
	return func(ix *Indexer) {
		ix.ignored = toSet(segments)
	}
}

// WithConcurrency bounds the number of files read in parallel
func WithConcurrency(n int) Option {
	return func(ix *Indexer) {
		if n > 0 {
			ix.concurrency = n
		}
	}
}

// NewIndexer creates an indexer with the default allow-list
func NewIndexer(logger *slog.Logger, opts ...Option) *Indexer {
	ix := &Indexer{
		extensions:  toSet(DefaultExtensions),
		ignored:     toSet(DefaultIgnoredSegments),
		concurrency: runtime.GOMAXPROCS(0),
		logger:      logging.OrDefault(logger),
		tracer:      otel.Tracer("workspace-indexer"),
	}
	for _, opt := range opts {
		opt(ix)
	}
	return ix
}

// Index rebuilds the index of root from scratch. Concurrent calls for the
// same root share a single walk and receive the same read-only Index.
func (ix *Indexer) Index(ctx context.Context, root string) (*Index, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve workspace path: %w", err)
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	// The shared walk outlives any one caller; each caller stops waiting on
	// its own ctx below.
	buildCtx := context.WithoutCancel(ctx)
	ch := ix.builds.DoChan(abs, func() (interface{}, error) {
		return ix.build(buildCtx, abs)
	})

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*Index), nil
	}
}

func (ix *Indexer) build(ctx context.Context, root string) (*Index, error) {
	ctx, span := ix.tracer.Start(ctx, "workspace.index")
	defer span.End()
	span.SetAttributes(attribute.String("workspace.root", root))

	info, err := os.Stat(root)
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("%w: %s: %v", ErrNotDirectory, root, err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("%w: %s", ErrNotDirectory, root)
	}

	candidates, err := ix.collect(ctx, root)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}

	entries := make([]*FileIndexEntry, len(candidates))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(ix.concurrency)
	for i, c := range candidates {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			entry, err := ix.indexFile(root, c)
			if err != nil {
				ix.logger.Warn("skipping unreadable file", "path", c, "error", err)
				return nil
			}
			entries[i] = entry
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("indexing interrupted: %w", err)
	}

	kept := entries[:0]
	for _, e := range entries {
		if e != nil {
			kept = append(kept, e)
		}
	}

	idx := NewIndex(root, kept...)
	span.SetAttributes(
		attribute.Int("workspace.candidates", len(candidates)),
		attribute.Int("workspace.indexed", idx.Len()),
	)
	ix.logger.Debug("workspace indexed", "root", root, "files", idx.Len())
	return idx, nil
}

// collect walks root in lexical order and returns candidate file paths.
// Directory symlinks are not followed, so the walk cannot cycle.
func (ix *Indexer) collect(ctx context.Context, root string) ([]string, error) {
	var candidates []string

	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, walkErr error) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		if walkErr != nil {
			if path == root {
				return walkErr
			}
			ix.logger.Warn("skipping unreadable path", "path", path, "error", walkErr)
			if d != nil && d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if path == root {
			return nil
		}

		rel, err := filepath.Rel(root, path)
		if err != nil {
			return nil
		}
		if ix.isIgnored(rel) {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if d.IsDir() {
			return nil
		}
		if !ix.extensions[filepath.Ext(path)] {
			return nil
		}
		if !d.Type().IsRegular() {
			if d.Type()&fs.ModeSymlink == 0 {
				return nil
			}
			target, err := os.Stat(path)
			if err != nil || !target.Mode().IsRegular() {
				return nil
			}
		}
		candidates = append(candidates, path)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to walk workspace: %w", err)
	}
	return candidates, nil
}

func (ix *Indexer) isIgnored(rel string) bool {
	for _, segment := range strings.Split(filepath.ToSlash(rel), "/") {
		if ix.ignored[segment] {
			return true
		}
	}
	return false
}

// indexFile reads one file. It returns (nil, nil) for binary or empty files.
func (ix *Indexer) indexFile(root, path string) (*FileIndexEntry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	if IsBinary(data) {
		return nil, nil
	}

	content := strings.ToValidUTF8(string(data), "")
	if content == "" {
		return nil, nil
	}

	rel, err := filepath.Rel(root, path)
	if err != nil {
		return nil, err
	}
	rel = filepath.ToSlash(rel)
	ext := filepath.Ext(path)

	structure, err := ExtractStructure(rel, ext, content)
	if err != nil {
		ix.logger.Debug("structure extraction failed", "path", rel, "error", err)
	}

	return &FileIndexEntry{
		RelativePath: rel,
		Path:         path,
		Size:         int64(len(content)),
		Lines:        strings.Count(content, "\n") + 1,
		Extension:    ext,
		Content:      content,
		Structure:    structure,
	}, nil
}

// IsBinary applies the null-byte heuristic to the first 1KB of data
func IsBinary(data []byte) bool {
	if len(data) > binarySniffLen {
		data = data[:binarySniffLen]
	}
	return bytes.IndexByte(data, 0) >= 0
}

func toSet(values []string) map[string]bool {
	set := make(map[string]bool, len(values))
	for _, v := range values {
		set[v] = true
	}
	return set
}

// Prepare creates the workspace directory if needed and returns its absolute path
func Prepare(path string) (string, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", fmt.Errorf("failed to resolve workspace path: %w", err)
	}
	if err := os.MkdirAll(abs, 0755); err != nil {
		return "", fmt.Errorf("failed to create workspace: %w", err)
	}
	return abs, nil
}
