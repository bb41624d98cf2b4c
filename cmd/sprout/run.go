package main

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/Ramsey-B/sprout/pkg/kafka"
	"github.com/Ramsey-B/sprout/pkg/models"
	"github.com/Ramsey-B/sprout/pkg/processor"
)

// readBatch accepts either a bare JSON array of listings or a listing batch object.
// A dispensary given on the command line wins over the one in the file.
func readBatch(r io.Reader, dispensaryID string) (kafka.ListingBatch, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return kafka.ListingBatch{}, err
	}
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return kafka.ListingBatch{}, errors.New("listing input is empty")
	}

	var batch kafka.ListingBatch
	if data[0] == '[' {
		var listings []models.RawListing
		if err := json.Unmarshal(data, &listings); err != nil {
			return kafka.ListingBatch{}, fmt.Errorf("decode listings: %w", err)
		}
		batch.Listings = listings
	} else if err := json.Unmarshal(data, &batch); err != nil {
		return kafka.ListingBatch{}, fmt.Errorf("decode listing batch: %w", err)
	}

	if id := strings.TrimSpace(dispensaryID); id != "" {
		batch.DispensaryID = id
	}
	if strings.TrimSpace(batch.DispensaryID) == "" {
		return kafka.ListingBatch{}, kafka.ErrMissingDispensary
	}
	return batch, nil
}

func renderRunResult(w io.Writer, dispensaryID string, result processor.RunResult) {
	writeTable(w,
		[]string{"Run", "Dispensary", "Found", "Processed", "Auto-merged", "New", "Flagged", "Parse errors", "Match failures", "Errors", "Conflicts"},
		[][]string{{
			result.RunID,
			dispensaryID,
			itoa(result.Found),
			itoa(result.Processed),
			itoa(result.AutoMerged),
			itoa(result.NewProducts),
			itoa(result.FlagsCreated),
			itoa(result.ParseErrors),
			itoa(result.MatchFailures),
			itoa(result.Errors),
			itoa(result.Conflicts),
		}},
		2, 3, 4, 5, 6, 7, 8, 9, 10,
	)
}

func newRunCommand(ctx *commandContext) *cobra.Command {
	var file string
	var dispensaryID string
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Resolve one scraped menu into the catalog",
		RunE: func(cmd *cobra.Command, args []string) error {
			input := io.Reader(cmd.InOrStdin())
			if file != "" && file != "-" {
				f, err := os.Open(file)
				if err != nil {
					return err
				}
				defer f.Close()
				input = f
			}
			batch, err := readBatch(input, dispensaryID)
			if err != nil {
				return err
			}

			runCtx, stop := signalContext(cmd.Context())
			defer stop()

			a, err := ctx.open(runCtx)
			if err != nil {
				return err
			}
			defer a.close()

			result, err := a.processor.Run(runCtx, batch.DispensaryID, batch.Listings)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if asJSON {
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				return enc.Encode(result)
			}
			renderRunResult(out, batch.DispensaryID, result)
			return nil
		},
	}

	cmd.Flags().StringVarP(&file, "file", "f", "-", "Listings JSON file, - for stdin")
	cmd.Flags().StringVarP(&dispensaryID, "dispensary", "d", "", "Dispensary id (overrides the batch)")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print the run result as JSON")
	return cmd
}
