// Package backfill bulk-ingests a directory of LINE talk-history exports,
// resuming where a previous run stopped.
package backfill

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/MikeSquared-Agency/mnemo/internal/ingest"
)

// Ingester indexes one export.
type Ingester interface {
	Ingest(ctx context.Context, raw string, opts ingest.Options) (*ingest.Result, error)
}

// Config holds the backfill command configuration.
type Config struct {
	Dir        string
	SingleFile string // process a single file only
	StatePath  string
	DryRun     bool // list what would be ingested without indexing or saving state
	Options    ingest.Options
}

// Report summarises a run.
type Report struct {
	Discovered int
	Ingested   int
	Duplicates int
	Skipped    int // already processed in an earlier run
	Empty      int // no parseable messages
	Failed     int
	Messages   int
	Documents  int
}

// Runner orchestrates the backfill process.
type Runner struct {
	cfg    Config
	ingest Ingester
	logger *slog.Logger
}

func NewRunner(cfg Config, ing Ingester, logger *slog.Logger) *Runner {
	return &Runner{cfg: cfg, ingest: ing, logger: logger}
}

// Run ingests every undiscovered export. State is saved after each file so an
// interrupted run can resume.
func (r *Runner) Run(ctx context.Context) (Report, error) {
	var rep Report

	state, err := LoadState(r.cfg.StatePath)
	if err != nil {
		return rep, fmt.Errorf("load state: %w", err)
	}

	files, err := r.discoverFiles()
	if err != nil {
		return rep, fmt.Errorf("discover files: %w", err)
	}
	rep.Discovered = len(files)
	r.logger.Info("files discovered", "count", len(files))

	seen := make(map[string]string)
	for i, path := range files {
		if ctx.Err() != nil {
			r.logger.Info("backfill interrupted, saving state")
			r.save(state)
			return rep, ctx.Err()
		}
		state.FilesRemaining = len(files) - i

		raw, err := os.ReadFile(path)
		if err != nil {
			r.logger.Warn("failed to read export", "path", path, "error", err)
			state.AddError(fmt.Sprintf("read %s: %v", path, err))
			rep.Failed++
			continue
		}

		hash := contentHash(raw)
		// seen is checked first: a copy earlier in this run has already been
		// marked processed by the time its duplicate comes up.
		if prev, ok := seen[hash]; ok {
			r.logger.Info("skipping duplicate export", "path", path, "duplicate_of", prev)
			rep.Duplicates++
			continue
		}
		seen[hash] = path
		if prev, ok := state.IsProcessed(hash); ok {
			r.logger.Debug("already processed", "path", path, "first_seen", prev)
			rep.Skipped++
			continue
		}

		if r.cfg.DryRun {
			r.logger.Info("would ingest", "path", path, "bytes", len(raw))
			continue
		}

		res, err := r.ingest.Ingest(ctx, string(raw), r.cfg.Options)
		if err != nil {
			r.logger.Error("ingest failed", "path", path, "error", err)
			state.AddError(fmt.Sprintf("ingest %s: %v", path, err))
			rep.Failed++
			r.save(state)
			continue
		}
		if res.Summary.NothingParsed {
			r.logger.Warn("no messages found", "path", path)
			state.MarkProcessed(hash, path)
			rep.Empty++
			r.save(state)
			continue
		}
		if res.Processing.IndexStatus != ingest.StatusSuccess {
			// Leave it unmarked so the next run retries.
			r.logger.Warn("export parsed but not indexed", "path", path, "index_status", res.Processing.IndexStatus)
			state.AddError(fmt.Sprintf("index %s: %s", path, res.Processing.IndexStatus))
			rep.Failed++
			r.save(state)
			continue
		}

		state.MarkProcessed(hash, path)
		state.MessagesIndexed += res.Summary.OriginalMessages
		state.DocumentsStored += res.Summary.FinalDocumentChunks
		rep.Ingested++
		rep.Messages += res.Summary.OriginalMessages
		rep.Documents += res.Summary.FinalDocumentChunks
		r.save(state)

		r.logger.Info("export ingested",
			"path", path,
			"messages", res.Summary.OriginalMessages,
			"documents", res.Summary.FinalDocumentChunks,
		)
	}

	state.FilesRemaining = 0
	r.save(state)

	r.logger.Info("backfill complete",
		"ingested", rep.Ingested,
		"skipped", rep.Skipped,
		"duplicates", rep.Duplicates,
		"failed", rep.Failed,
		"documents", rep.Documents,
	)
	return rep, nil
}

func (r *Runner) save(state *State) {
	if r.cfg.DryRun {
		return
	}
	if err := state.Save(); err != nil {
		r.logger.Warn("failed to save backfill state", "error", err)
	}
}

// discoverFiles returns the .txt exports under Dir, sorted by path.
func (r *Runner) discoverFiles() ([]string, error) {
	if r.cfg.SingleFile != "" {
		return []string{r.cfg.SingleFile}, nil
	}
	if r.cfg.Dir == "" {
		return nil, fmt.Errorf("no directory given")
	}

	var files []string
	err := filepath.WalkDir(expandHome(r.cfg.Dir), func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			r.logger.Warn("error walking export dir", "path", path, "error", err)
			return nil
		}
		if d.IsDir() || !strings.EqualFold(filepath.Ext(path), ".txt") {
			return nil
		}
		files = append(files, path)
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Strings(files)
	return files, nil
}

// contentHash ignores line-ending differences between otherwise identical exports.
func contentHash(raw []byte) string {
	normalized := strings.ReplaceAll(string(raw), "\r\n", "\n")
	sum := sha256.Sum256([]byte(normalized))
	return hex.EncodeToString(sum[:])
}
