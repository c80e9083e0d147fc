package main

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/FACorreiaa/go-citytailor/internal/types"
)

func newRootCommand(cli *CLI) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "citytailor",
		Short: "Drive the CityTailor activity engine from a terminal",
		Long: `citytailor keeps a local activity profile, search context and itinerary,
and syncs them with a CityTailor backend when one is reachable.

Examples:
  citytailor search Rome --activities Cultural,Outdoor --time 2-4h
  citytailor track favorite "Colosseum" --city Rome --category Cultural
  citytailor recommend --limit 5
  citytailor login user_42`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return cli.open(cmd)
		},
	}

	flags := rootCmd.PersistentFlags()
	flags.StringVar(&cli.stateDir, "state-dir", "", "directory holding the local profile")
	flags.StringVar(&cli.backendURL, "backend", "", "backend base URL")
	flags.StringVar(&cli.token, "token", "", "bearer token sent to the backend")
	flags.StringVar(&cli.identity, "identity", "", "account id provided by the host, overrides the stored one")
	flags.BoolVar(&cli.offline, "offline", false, "never contact the backend")
	flags.BoolVar(&cli.newSession, "new-session", false, "start a fresh anonymous session")
	flags.BoolVarP(&cli.verbose, "verbose", "v", false, "log to stderr")

	rootCmd.AddCommand(
		newIdentityCommand(cli),
		newSearchCommand(cli),
		newTrackCommand(cli),
		newContextCommand(cli),
		newSnapshotCommand(cli),
		newMetricsCommand(cli),
		newVerifyCommand(cli),
		newLoginCommand(cli),
		newLogoutCommand(cli),
		newMigrateCommand(cli),
		newRecommendCommand(cli),
		newItineraryCommand(cli),
		newFavoritesCommand(cli),
	)
	return rootCmd
}

func newIdentityCommand(cli *CLI) *cobra.Command {
	return &cobra.Command{
		Use:   "identity",
		Short: "Show the acting identity",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return printJSON(cmd, cli.engine.Identity())
		},
	}
}

func newSearchCommand(cli *CLI) *cobra.Command {
	var (
		activities []string
		bucket     string
	)
	cmd := &cobra.Command{
		Use:   "search <city>",
		Short: "Record a search and make it the live search context",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			sc := cli.engine.RecordSearch(cmd.Context(), args[0], activities, bucket)
			return printJSON(cmd, sc)
		},
	}
	cmd.Flags().StringSliceVar(&activities, "activities", nil, "activity filters, e.g. Cultural,Outdoor")
	cmd.Flags().StringVar(&bucket, "time", "", "time available, e.g. <2h, 2-4h, Full day")
	return cmd
}

func newTrackCommand(cli *CLI) *cobra.Command {
	var (
		city, category, placeID string
		lat, lon                float64
		duration                int64
	)
	cmd := &cobra.Command{
		Use:       "track <view|favorite|add_to_itinerary> <place>",
		Short:     "Record an interaction with a place",
		Args:      cobra.ExactArgs(2),
		ValidArgs: []string{string(types.EventView), string(types.EventFavorite), string(types.EventAddToItinerary)},
		RunE: func(cmd *cobra.Command, args []string) error {
			kind := types.EventType(args[0])
			if !kind.Valid() || kind == types.EventSearch {
				return fmt.Errorf("%w: unknown interaction %q", types.ErrInvalidRequest, args[0])
			}
			event := types.InteractionEvent{
				Type:            kind,
				PlaceName:       args[1],
				PlaceID:         placeID,
				City:            city,
				Category:        category,
				DurationSeconds: duration,
			}
			if cmd.Flags().Changed("lat") || cmd.Flags().Changed("lon") {
				event.Coordinates = &types.Coordinates{Lat: lat, Lon: lon}
			}
			cli.engine.RecordInteraction(cmd.Context(), event)
			return printJSON(cmd, cli.engine.Snapshot())
		},
	}
	cmd.Flags().StringVar(&city, "city", "", "city of the place")
	cmd.Flags().StringVar(&category, "category", "", "category of the place")
	cmd.Flags().StringVar(&placeID, "place-id", "", "catalog id of the place")
	cmd.Flags().Float64Var(&lat, "lat", 0, "latitude")
	cmd.Flags().Float64Var(&lon, "lon", 0, "longitude")
	cmd.Flags().Int64Var(&duration, "duration", 0, "seconds spent, for views")
	return cmd
}

func newContextCommand(cli *CLI) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "context",
		Short: "Show the live search context",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			sc := cli.engine.SearchContext(cmd.Context())
			if sc == nil {
				_, err := fmt.Fprintln(cmd.OutOrStdout(), "no live search context")
				return err
			}
			return printJSON(cmd, sc)
		},
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "clear",
		Short: "Drop the search context locally and on the backend",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cli.engine.ClearSearchContext(cmd.Context())
			return nil
		},
	})
	return cmd
}

func newSnapshotCommand(cli *CLI) *cobra.Command {
	return &cobra.Command{
		Use:   "snapshot",
		Short: "Print the activity aggregate of the acting identity",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return printJSON(cmd, cli.engine.Snapshot())
		},
	}
}

func newMetricsCommand(cli *CLI) *cobra.Command {
	return &cobra.Command{
		Use:   "metrics",
		Short: "Print insights derived from the activity aggregate",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return printJSON(cmd, cli.engine.Metrics())
		},
	}
}

func newVerifyCommand(cli *CLI) *cobra.Command {
	return &cobra.Command{
		Use:   "verify",
		Short: "Check the aggregate against the event log and repair drift",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			repaired := cli.engine.Verify(cmd.Context())
			return printJSON(cmd, map[string]bool{"repaired": repaired})
		},
	}
}

func newLoginCommand(cli *CLI) *cobra.Command {
	return &cobra.Command{
		Use:   "login <userID>",
		Short: "Act as an account, migrating the anonymous session",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id := cli.engine.Login(cmd.Context(), args[0])
			cli.engine.WaitMigrations()
			return printJSON(cmd, map[string]any{
				"identity":         id,
				"migrationPending": cli.engine.MigrationPending(),
			})
		},
	}
}

func newLogoutCommand(cli *CLI) *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Drop account data and return to the anonymous session",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return printJSON(cmd, cli.engine.Logout(cmd.Context()))
		},
	}
}

func newMigrateCommand(cli *CLI) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Retry a migration that failed during login",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			res, err := cli.engine.RetryMigration(cmd.Context())
			if err != nil {
				return err
			}
			return printJSON(cmd, res)
		},
	}
}

func newRecommendCommand(cli *CLI) *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "recommend",
		Short: "Fetch home recommendations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return printJSON(cmd, cli.engine.Recommendations(cmd.Context(), limit))
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 0, "number of recommendations, 0 lets the backend decide")
	return cmd
}

func newItineraryCommand(cli *CLI) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "itinerary",
		Short: "Show the itinerary reconciled with the account copy",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return printJSON(cmd, cli.engine.Itinerary(cmd.Context(), nil))
		},
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "remove <name>",
		Short: "Remove an activity by name",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return printJSON(cmd, cli.engine.RemoveFromItinerary(cmd.Context(), args[0]))
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "move <from> <to>",
		Short: "Move an activity to another position (zero based)",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			from, err := strconv.Atoi(args[0])
			if err != nil {
				return fmt.Errorf("%w: position %q", types.ErrInvalidRequest, args[0])
			}
			to, err := strconv.Atoi(args[1])
			if err != nil {
				return fmt.Errorf("%w: position %q", types.ErrInvalidRequest, args[1])
			}
			return printJSON(cmd, cli.engine.ReorderItinerary(cmd.Context(), from, to))
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "save",
		Short: "Write pending itinerary changes to the account now",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return cli.engine.FlushItinerary(cmd.Context())
		},
	})
	return cmd
}

func newFavoritesCommand(cli *CLI) *cobra.Command {
	return &cobra.Command{
		Use:   "favorites",
		Short: "List favorite places",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			names := make([]string, 0)
			for _, f := range cli.engine.Favorites(cmd.Context()) {
				names = append(names, f.Name)
			}
			_, err := fmt.Fprintln(cmd.OutOrStdout(), strings.Join(names, "\n"))
			return err
		},
	}
}
