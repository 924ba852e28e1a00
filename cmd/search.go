package main

import (
	"context"
	"encoding/json"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/sells-group/zoning-cli/internal/model"
	"github.com/sells-group/zoning-cli/internal/search"
)

var (
	searchTown         string
	searchDistrict     string
	searchDistrictName string
	searchTerm         string
	searchTopK         int
)

// searchResult is the audit view of one lookup's search stage.
type searchResult struct {
	Town          string                   `json:"town"`
	District      model.District           `json:"district"`
	Term          string                   `json:"term"`
	Hits          int                      `json:"hits"`
	Selected      []model.PageSearchOutput `json:"selected"`
	PagesExpanded []int                    `json:"pages_expanded"`
}

var searchCmd = &cobra.Command{
	Use:   "search",
	Short: "Run search and page selection for one lookup",
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := cfg.Validate("search"); err != nil {
			return err
		}
		th, err := loadThesaurus()
		if err != nil {
			return err
		}
		searcher, err := initSearcher(th)
		if err != nil {
			return err
		}

		topK := searchTopK
		if topK <= 0 {
			topK = cfg.Extract.TopKPages
		}
		district := model.District{FullName: searchDistrictName, ShortName: searchDistrict}
		if district.FullName == "" {
			district.FullName = searchDistrict
		}
		return runSearch(cmd.Context(), searcher, os.Stdout, searchTown, district, searchTerm, topK)
	},
}

func runSearch(ctx context.Context, s search.Searcher, out io.Writer, town string, district model.District, term string, topK int) error {
	hits, err := s.Search(ctx, town, district, term)
	if err != nil {
		return err
	}
	selected := search.SelectNonOverlapping(hits, topK)

	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(searchResult{
		Town:          town,
		District:      district,
		Term:          term,
		Hits:          len(hits),
		Selected:      selected,
		PagesExpanded: search.ExpandedPages(selected),
	})
}

func init() {
	searchCmd.Flags().StringVar(&searchTown, "town", "", "town index to search (required)")
	searchCmd.Flags().StringVar(&searchDistrict, "district", "", "district short name, e.g. RA (required)")
	searchCmd.Flags().StringVar(&searchDistrictName, "district-name", "", "district full name, e.g. \"Residence A\"")
	searchCmd.Flags().StringVar(&searchTerm, "term", "min lot size", "term to search for")
	searchCmd.Flags().IntVar(&searchTopK, "top-k", 0, "pages to select (default from config)")
	_ = searchCmd.MarkFlagRequired("town")
	_ = searchCmd.MarkFlagRequired("district")
	rootCmd.AddCommand(searchCmd)
}
