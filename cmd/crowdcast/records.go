package main

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/rewired-gh/crowdcast/internal/models"
	"github.com/rewired-gh/crowdcast/internal/storage"
)

var (
	recordsLocation string
	recordsFrom     string
	recordsTo       string
	recordsLimit    int
)

var recordsCmd = &cobra.Command{
	Use:   "records",
	Short: "List stored congestion labels",
	Long:  `Displays congestion labels stored by the sqlite or postgres driver.`,
	RunE:  runRecords,
}

func init() {
	recordsCmd.Flags().StringVar(&recordsLocation, "location", "", "filter by place ID")
	recordsCmd.Flags().StringVar(&recordsFrom, "from", "", "first day (YYYY-MM-DD)")
	recordsCmd.Flags().StringVar(&recordsTo, "to", "", "last day (YYYY-MM-DD)")
	recordsCmd.Flags().IntVar(&recordsLimit, "limit", 200, "maximum number of rows (0 for no limit)")
	rootCmd.AddCommand(recordsCmd)
}

func runRecords(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	store, loc, err := openRecordStore(cmd)
	if err != nil {
		return err
	}
	defer store.Close()

	q := storage.Query{LocationID: recordsLocation, Limit: recordsLimit}
	if recordsFrom != "" {
		if q.From, err = models.ParseDate(recordsFrom, loc); err != nil {
			return fmt.Errorf("parsing --from: %w", err)
		}
	}
	if recordsTo != "" {
		if q.To, err = models.ParseDate(recordsTo, loc); err != nil {
			return fmt.Errorf("parsing --to: %w", err)
		}
	}

	records, err := store.ListCongestion(ctx, q)
	if err != nil {
		return fmt.Errorf("listing records: %w", err)
	}
	total, err := store.CountCongestion(ctx)
	if err != nil {
		return fmt.Errorf("counting records: %w", err)
	}

	printRecords(os.Stdout, records, total)
	return nil
}

// openRecordStore opens the configured SQL backing. The json driver keeps
// no queryable history.
func openRecordStore(cmd *cobra.Command) (storage.RecordStore, *time.Location, error) {
	loc, err := cfg.TimeLocation()
	if err != nil {
		return nil, nil, err
	}
	backend, err := openBackend(cmd.Context(), cfg, loc, time.Now())
	if err != nil {
		return nil, nil, err
	}
	store, ok := backend.(storage.RecordStore)
	if !ok {
		_ = backend.Close()
		return nil, nil, fmt.Errorf("storage driver %q does not keep records; use sqlite or postgres", cfg.Storage.Driver)
	}
	return store, loc, nil
}

func printRecords(w io.Writer, records []models.CongestionRecord, total int) {
	if len(records) == 0 {
		fmt.Fprintln(w, "No records found")
		return
	}

	fmt.Fprintln(w, strings.Repeat("-", 64))
	fmt.Fprintf(w, "%-16s  %-10s  %4s  %10s  %-8s  %s\n", "Location", "Date", "Hour", "Population", "Label", "라벨")
	fmt.Fprintln(w, strings.Repeat("-", 64))
	for _, r := range records {
		fmt.Fprintf(w, "%-16s  %-10s  %4d  %10.1f  %-8s  %s\n",
			r.LocationID, r.Date.Format(models.DateLayout), r.Hour, r.Population, r.Label, r.Label.Korean())
	}
	fmt.Fprintln(w, strings.Repeat("-", 64))
	fmt.Fprintf(w, "Showing %d of %d records\n", len(records), total)
}
