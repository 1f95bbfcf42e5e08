package main

import (
	"encoding/json"
	"io"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/compintel/internal/model"
)

var (
	ingestInput      string
	ingestCompetitor string
)

var ingestCmd = &cobra.Command{
	Use:   "ingest",
	Short: "Run an extraction session over a batch of page records",
	Long:  "Reads crawled page records as a JSON array, extracts entities (rules first, Claude fallback), and merges them into the canonical store.",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		pages, err := readPages(ingestInput)
		if err != nil {
			return err
		}
		if ingestCompetitor != "" {
			pages = filterByCompetitor(pages, ingestCompetitor)
		}
		if len(pages) == 0 {
			zap.L().Info("no page records to process")
			return nil
		}

		env, err := initEnv(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		// Log progress events until the session closes the channel.
		var wg sync.WaitGroup
		wg.Add(1)
		go func() {
			defer wg.Done()
			for ev := range env.Events {
				zap.L().Debug("session event",
					zap.String("kind", ev.Kind.String()),
					zap.String("competitor", ev.Competitor),
					zap.String("url", ev.URL))
			}
		}()

		report, err := env.Runner.Run(ctx, pages)
		close(env.Events)
		wg.Wait()
		if err != nil {
			return eris.Wrap(err, "session run")
		}

		zap.L().Info("ingest complete",
			zap.String("session_id", report.SessionID),
			zap.Int("pages_processed", report.PagesProcessed),
			zap.Int("created", report.Created),
			zap.Int("updated", report.Updated),
			zap.Int("skipped", report.Skipped),
			zap.Int("changes", len(report.Changes)),
			zap.Int("failed", len(report.PagesFailed)))

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(report)
	},
}

func init() {
	ingestCmd.Flags().StringVar(&ingestInput, "input", "-", "path to a JSON array of page records, or - for stdin")
	ingestCmd.Flags().StringVar(&ingestCompetitor, "competitor", "", "only process pages for this competitor")
	rootCmd.AddCommand(ingestCmd)
}

func readPages(path string) ([]model.PageRecord, error) {
	var r io.Reader = os.Stdin
	if path != "-" {
		f, err := os.Open(path)
		if err != nil {
			return nil, eris.Wrap(err, "open input")
		}
		defer f.Close()
		r = f
	}

	var pages []model.PageRecord
	if err := json.NewDecoder(r).Decode(&pages); err != nil {
		return nil, eris.Wrap(err, "decode page records")
	}
	return pages, nil
}

func filterByCompetitor(pages []model.PageRecord, competitor string) []model.PageRecord {
	out := pages[:0]
	for _, p := range pages {
		if p.Competitor == competitor {
			out = append(out, p)
		}
	}
	return out
}
