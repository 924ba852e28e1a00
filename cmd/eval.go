package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/zoning-cli/internal/eval"
	"github.com/sells-group/zoning-cli/internal/model"
)

var (
	evalResults     string
	evalGroundTruth string
	evalJSON        bool
)

var evalCmd = &cobra.Command{
	Use:   "eval",
	Short: "Score extraction results against a ground-truth CSV",
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := cfg.Validate("eval"); err != nil {
			return err
		}

		gtFile, err := os.Open(evalGroundTruth)
		if err != nil {
			return eris.Wrapf(err, "open ground truth %s", evalGroundTruth)
		}
		defer gtFile.Close() //nolint:errcheck
		gt, err := eval.ParseGroundTruth(gtFile)
		if err != nil {
			return err
		}

		resFile, err := os.Open(evalResults)
		if err != nil {
			return eris.Wrapf(err, "open results %s", evalResults)
		}
		defer resFile.Close() //nolint:errcheck

		report, err := scoreResults(resFile, gt)
		if err != nil {
			return err
		}

		if evalJSON {
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(report)
		}
		formatReport(os.Stdout, report)
		return nil
	},
}

// scoreResults reads AllLookupOutput JSONL and scores each line.
func scoreResults(r io.Reader, gt eval.GroundTruth) (*eval.Report, error) {
	dec := json.NewDecoder(r)
	report := &eval.Report{}
	for line := 1; ; line++ {
		var row model.AllLookupOutput
		err := dec.Decode(&row)
		if errors.Is(err, io.EOF) {
			return report, nil
		}
		if err != nil {
			return nil, eris.Wrapf(err, "decode results line %d", line)
		}
		report.Add(gt, row)
	}
}

func formatReport(w io.Writer, r *eval.Report) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "TOWN\tDISTRICT\tTERM\tEXPECTED\tACTUAL\tPAGES\tCONFIDENCE\tCORRECT")
	for _, res := range r.Results {
		conf := "-"
		if res.Confidence != nil {
			conf = fmt.Sprintf("%.3f", *res.Confidence)
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%v\t%v\t%v\t%s\t%t\n",
			res.Town, res.District, res.Term, res.Expected, res.Actual, res.Pages, conf, res.Correct)
	}
	_ = tw.Flush()
	fmt.Fprintf(w, "\nAccuracy: %d/%d (%.1f%%)\n", r.Correct, r.Total, 100*r.Accuracy())
}

func init() {
	evalCmd.Flags().StringVar(&evalResults, "results", "", "extraction results JSONL (required)")
	evalCmd.Flags().StringVar(&evalGroundTruth, "ground-truth", "", "ground truth CSV (required)")
	evalCmd.Flags().BoolVar(&evalJSON, "json", false, "print the report as JSON")
	_ = evalCmd.MarkFlagRequired("results")
	_ = evalCmd.MarkFlagRequired("ground-truth")
	rootCmd.AddCommand(evalCmd)
}
