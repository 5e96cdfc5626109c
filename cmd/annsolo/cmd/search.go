package cmd

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/jianshu93/annsolo/internal/search"
)

func newSearchCmd(opts *rootOptions) *cobra.Command {
	var outPath string

	cmd := &cobra.Command{
		Use:   "search <queries.mgf>",
		Short: "Identify the query spectra in an MGF file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(opts)
			if err != nil {
				return err
			}

			engine, err := search.New(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer engine.Close()

			identifications, err := engine.Search(cmd.Context(), args[0])
			if err != nil {
				return err
			}

			out := io.Writer(os.Stdout)
			if outPath != "" {
				f, err := os.Create(outPath)
				if err != nil {
					return err
				}
				defer f.Close()
				out = f
			}
			return writeIdentifications(out, identifications)
		},
	}

	cmd.Flags().StringVar(&outPath, "out", "", "Write results to a file instead of stdout")
	return cmd
}

// writeIdentifications renders the identifications as TSV, one row per
// query id.
func writeIdentifications(w io.Writer, identifications []search.Identification) error {
	_, err := fmt.Fprintln(w, "query_id\tquery_charge\tlibrary_id\tlibrary_identifier\tscore\tn_matched_peaks\tcosine\tentropy\tn_candidates\ttime_total_ms")
	if err != nil {
		return err
	}
	for _, ident := range identifications {
		_, err := fmt.Fprintf(w, "%s\t%d\t%d\t%s\t%.6f\t%d\t%.6f\t%.6f\t%d\t%.3f\n",
			ident.QueryID,
			ident.QueryCharge,
			ident.LibraryID,
			ident.LibraryIdentifier,
			ident.Score,
			ident.Features.NumMatchedPeaks,
			ident.Features.Cosine,
			ident.Features.Entropy,
			ident.SSM.NumCandidates,
			float64(ident.SSM.TimeTotal.Microseconds())/1000,
		)
		if err != nil {
			return err
		}
	}
	return nil
}
