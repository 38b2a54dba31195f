package main

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/rewired-gh/crowdcast/internal/models"
)

var placesCmd = &cobra.Command{
	Use:   "places",
	Short: "List configured places",
	Long:  `Displays the place registry used by batches with its congestion thresholds.`,
	RunE:  runPlaces,
}

func init() {
	rootCmd.AddCommand(placesCmd)
}

func runPlaces(cmd *cobra.Command, args []string) error {
	reg, err := cfg.Registry()
	if err != nil {
		return fmt.Errorf("building place registry: %w", err)
	}
	printPlaces(os.Stdout, reg.Profiles())
	return nil
}

func printPlaces(w io.Writer, profiles []models.LocationProfile) {
	fmt.Fprintln(w, strings.Repeat("-", 120))
	fmt.Fprintf(w, "%-16s  %-20s  %-8s  %12s  %4s  %6s  %s\n",
		"ID", "Name", "Category", "Area (m²)", "Stay", "Scale", "Spacious / moderate / slightly crowded (m²/person)")
	fmt.Fprintln(w, strings.Repeat("-", 120))
	for _, p := range profiles {
		bands := "-"
		if b, ok := p.Category.Bands(); ok {
			bands = fmt.Sprintf("≥%g / ≥%g / ≥%g", b.Spacious, b.Moderate, b.SlightlyCrowded)
		}
		fmt.Fprintf(w, "%-16s  %-20s  %-8s  %12.1f  %3dh  %6g  %s\n",
			p.ID, p.Name, p.Category, p.AreaM2, p.StayHours, p.ScalingFactor, bands)
	}
	fmt.Fprintln(w, strings.Repeat("-", 120))
	fmt.Fprintf(w, "%d places\n", len(profiles))
}
