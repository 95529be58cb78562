package main

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/example/availability-engine/internal/application"
	"github.com/example/availability-engine/internal/persistence/sqlite"
)

type slotsOptions struct {
	from     string
	days     int
	timezone string
}

type slotOutput struct {
	Start   string   `json:"start"`
	End     string   `json:"end"`
	HostIDs []string `json:"hostIds"`
	Seats   int      `json:"seatsRemaining,omitempty"`
}

func newSlotsCommand(root *rootOptions) *cobra.Command {
	opts := &slotsOptions{}

	cmd := &cobra.Command{
		Use:   "slots <event-type-id>",
		Short: "Print the bookable slots of an event type as JSON",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := root.load(cmd.ErrOrStderr())
			if err != nil {
				return err
			}

			from := time.Now().UTC().Truncate(24 * time.Hour)
			if opts.from != "" {
				if from, err = time.Parse(time.DateOnly, opts.from); err != nil {
					return fmt.Errorf("--from: %w", err)
				}
			}
			if opts.days <= 0 {
				return fmt.Errorf("--days must be positive")
			}

			store, err := sqlite.Open(cmd.Context(), cfg.SQLite(), logger)
			if err != nil {
				return err
			}
			defer store.Close()

			service := application.NewAvailabilityService(store, application.AvailabilityOptions{
				FanoutLimit: cfg.FanoutLimit,
				Logger:      logger,
			})
			result, err := service.GetAvailableSlots(cmd.Context(), application.SlotQuery{
				EventTypeID: args[0],
				From:        from,
				To:          from.AddDate(0, 0, opts.days),
				Timezone:    opts.timezone,
			})
			if err != nil {
				return err
			}

			loc, err := time.LoadLocation(result.Timezone)
			if err != nil {
				loc = time.UTC
			}
			out := make([]slotOutput, 0, len(result.Slots))
			for _, s := range result.Slots {
				out = append(out, slotOutput{
					Start:   s.Start.In(loc).Format(time.RFC3339),
					End:     s.End.In(loc).Format(time.RFC3339),
					HostIDs: s.HostIDs,
					Seats:   s.SeatsRemaining,
				})
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(out)
		},
	}
	cmd.Flags().StringVar(&opts.from, "from", "", "first day, YYYY-MM-DD in UTC (defaults to today)")
	cmd.Flags().IntVar(&opts.days, "days", 7, "number of days to cover")
	cmd.Flags().StringVar(&opts.timezone, "timezone", "", "timezone for printed times (defaults to the event type's)")
	return cmd
}
