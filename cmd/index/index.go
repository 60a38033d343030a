// Package index implements the one-shot safety index computation command.
package index

import (
	"fmt"
	"log"

	"github.com/spf13/cobra"

	"github.com/wayfareapp/wayfare-go/internal/conf"
	"github.com/wayfareapp/wayfare-go/internal/datastore"
	"github.com/wayfareapp/wayfare-go/internal/safety"
)

// Command returns the index subcommand.
func Command(settings *conf.Settings) *cobra.Command {
	var (
		cityID   uint
		lat      float64
		lon      float64
		radiusKm float64
	)

	cmd := &cobra.Command{
		Use:   "index",
		Short: "Compute a safety index once and print it",
		Long: "Computes the safety index for a city (--city-id) or an arbitrary " +
			"area (--lat, --lon, --radius-km) and prints the result.",
		RunE: func(cmd *cobra.Command, args []string) error {
			if cityID == 0 && !cmd.Flags().Changed("lat") {
				return fmt.Errorf("either --city-id or --lat/--lon is required")
			}
			return runIndex(settings, cityID, lat, lon, radiusKm)
		},
	}

	cmd.Flags().UintVar(&cityID, "city-id", 0, "City ID to score")
	cmd.Flags().Float64Var(&lat, "lat", 0, "Latitude of the area to score")
	cmd.Flags().Float64Var(&lon, "lon", 0, "Longitude of the area to score")
	cmd.Flags().Float64Var(&radiusKm, "radius-km", 2.0, "Analysis radius in kilometers")

	return cmd
}

func runIndex(settings *conf.Settings, cityID uint, lat, lon, radiusKm float64) error {
	ds, err := datastore.New(settings)
	if err != nil {
		return fmt.Errorf("creating datastore: %w", err)
	}
	if err := ds.Open(); err != nil {
		return fmt.Errorf("opening datastore: %w", err)
	}
	defer func() {
		if err := ds.Close(); err != nil {
			log.Printf("Warning: failed to close datastore: %v", err)
		}
	}()

	calculator := safety.New(ds, &settings.Safety, nil)

	if cityID != 0 {
		city, err := ds.GetCity(cityID)
		if err != nil {
			return err
		}
		index, err := calculator.CityIndex(cityID)
		if err != nil {
			return err
		}
		fmt.Printf("%s, %s: %.2f (%s)\n", city.Name, city.Country, index, safety.Level(index))
		return nil
	}

	result, err := calculator.AreaIndex(lat, lon, radiusKm)
	if err != nil {
		return err
	}
	fmt.Printf("(%.4f, %.4f) r=%.1fkm: %.2f (%s)\n",
		lat, lon, radiusKm, result.SafetyIndex, safety.Level(result.SafetyIndex))
	fmt.Printf("  reports=%.2f time=%.2f density=%.2f news=%.2f\n",
		result.Factors.Reports, result.Factors.Time, result.Factors.Density, result.Factors.News)
	fmt.Printf("  %d reports, %d recent proofs, hour %d\n",
		result.Data.TotalReports, result.Data.RecentActivity, result.Data.CurrentHour)
	return nil
}
