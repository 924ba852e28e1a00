package main

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/zoning-cli/internal/extract"
	"github.com/sells-group/zoning-cli/internal/model"
	"github.com/sells-group/zoning-cli/internal/store"
)

var (
	extractDistricts string
	extractOut       string
	extractMethod    string
	extractTopK      int
	extractTerms     []string
)

var extractCmd = &cobra.Command{
	Use:   "extract",
	Short: "Look up every term for every district in a districts JSONL file",
	Long:  "Reads {town, districts} lines, runs search and extraction for each (town, district, term) and writes one result line per district.",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		applyExtractFlags(cmd)

		method, err := model.ParseExtractionMethod(cfg.Extract.Method)
		if err != nil {
			return err
		}

		f, err := os.Open(extractDistricts)
		if err != nil {
			return eris.Wrapf(err, "open districts file %s", extractDistricts)
		}
		defer f.Close() //nolint:errcheck
		towns, err := readTownDistricts(f)
		if err != nil {
			return err
		}

		env, err := initPipeline(ctx, "extract")
		if err != nil {
			return err
		}
		defer env.Close()

		out := io.Writer(os.Stdout)
		if extractOut != "" {
			of, err := os.Create(extractOut)
			if err != nil {
				return eris.Wrapf(err, "create %s", extractOut)
			}
			defer of.Close() //nolint:errcheck
			out = of
		}

		return runExtract(ctx, env.Extractor, env.Store, out, towns, cfg.Extract.Terms, cfg.Extract.TopKPages, method)
	},
}

// applyExtractFlags lets explicitly set flags override config.
func applyExtractFlags(cmd *cobra.Command) {
	if cmd.Flags().Changed("method") {
		cfg.Extract.Method = extractMethod
	}
	if cmd.Flags().Changed("top-k") {
		cfg.Extract.TopKPages = extractTopK
	}
	if cmd.Flags().Changed("term") {
		cfg.Extract.Terms = extractTerms
	}
}

// runExtract records a run, streams each district's results to out and
// persists them as they arrive.
func runExtract(ctx context.Context, ex *extract.Extractor, st store.Store, out io.Writer, towns []model.TownDistricts, terms []string, topK int, method model.ExtractionMethod) (err error) {
	run, err := st.CreateRun(ctx, method, terms, topK)
	if err != nil {
		return eris.Wrap(err, "create run")
	}
	defer func() {
		if ferr := st.FinishRun(context.WithoutCancel(ctx), run.ID, err); ferr != nil {
			zap.L().Error("finish run", zap.String("run_id", run.ID), zap.Error(ferr))
		}
	}()

	zap.L().Info("extract started",
		zap.String("run_id", run.ID),
		zap.Int("towns", len(towns)),
		zap.Strings("terms", terms),
		zap.String("method", string(method)),
	)

	enc := json.NewEncoder(out)
	var n int
	for row, rerr := range ex.ExtractAll(ctx, towns, terms, topK, method) {
		if rerr != nil {
			return eris.Wrap(rerr, "extract")
		}
		if err := enc.Encode(row); err != nil {
			return eris.Wrap(err, "write result")
		}
		if err := st.SaveLookups(ctx, run.ID, []model.AllLookupOutput{row}); err != nil {
			return eris.Wrap(err, "save result")
		}
		n++
	}

	zap.L().Info("extract complete", zap.String("run_id", run.ID), zap.Int("districts", n))
	return nil
}

// readTownDistricts decodes a stream of {town, districts} JSON values.
func readTownDistricts(r io.Reader) ([]model.TownDistricts, error) {
	dec := json.NewDecoder(r)
	var out []model.TownDistricts
	for {
		var td model.TownDistricts
		err := dec.Decode(&td)
		if errors.Is(err, io.EOF) {
			return out, nil
		}
		if err != nil {
			return nil, eris.Wrapf(err, "decode districts line %d", len(out)+1)
		}
		out = append(out, td)
	}
}

func init() {
	extractCmd.Flags().StringVar(&extractDistricts, "districts", "", "districts JSONL file (required)")
	extractCmd.Flags().StringVarP(&extractOut, "out", "o", "", "output JSONL file (default stdout)")
	extractCmd.Flags().StringVar(&extractMethod, "method", "", "extraction method: search_only, stuff or map (default from config)")
	extractCmd.Flags().IntVar(&extractTopK, "top-k", 0, "pages selected per lookup (default from config)")
	extractCmd.Flags().StringSliceVar(&extractTerms, "term", nil, "term to look up, repeatable (default from config)")
	_ = extractCmd.MarkFlagRequired("districts")
	rootCmd.AddCommand(extractCmd)
}
