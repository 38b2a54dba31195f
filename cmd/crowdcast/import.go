package main

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/rewired-gh/crowdcast/internal/storage"
)

var importLocation string

var importCmd = &cobra.Command{
	Use:   "import <forecast.json>",
	Short: "Load a forecast document into the SQL store",
	Long: `Reads a forecast document ([{"day":"YYYY-MM-DD","0":v,...,"23":v}, ...]) and
upserts its hourly values as forecasts of one place in the sqlite or postgres
store. Use "-" to read from standard input.`,
	Args: cobra.ExactArgs(1),
	RunE: runImport,
}

func init() {
	importCmd.Flags().StringVar(&importLocation, "location", "", "place ID the forecast belongs to (required)")
	_ = importCmd.MarkFlagRequired("location")
	rootCmd.AddCommand(importCmd)
}

func runImport(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	reg, err := cfg.Registry()
	if err != nil {
		return fmt.Errorf("building place registry: %w", err)
	}
	if _, err := reg.Lookup(importLocation); err != nil {
		return err
	}

	var r io.Reader = os.Stdin
	if args[0] != "-" {
		f, err := os.Open(args[0])
		if err != nil {
			return fmt.Errorf("opening forecast document: %w", err)
		}
		defer f.Close()
		r = f
	}

	store, loc, err := openRecordStore(cmd)
	if err != nil {
		return err
	}
	defer store.Close()

	observations, err := storage.ReadForecastDocument(r, importLocation, loc)
	if err != nil {
		return fmt.Errorf("reading forecast document: %w", err)
	}
	n, err := store.SaveForecast(ctx, observations)
	if err != nil {
		return fmt.Errorf("saving forecast: %w", err)
	}

	fmt.Printf("Imported %d hourly forecasts for %s\n", n, importLocation)
	return nil
}
