package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"wildtrack/internal/core"
	"wildtrack/pkg/domain"
)

func newMealCmd(app *cli) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "meal",
		Short: "Meal catalog and battle statistics",
	}

	var sortBy string
	leaderboard := &cobra.Command{
		Use:   "leaderboard",
		Short: "Rank meals that have fought at least one battle",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			svc, err := app.service(cmd.Context())
			if err != nil {
				return err
			}
			board, err := svc.Leaderboard(cmd.Context(), sortBy)
			if err != nil {
				return err
			}
			return app.print(board)
		},
	}
	leaderboard.Flags().StringVar(&sortBy, "sort", core.SortByWins, "ranking key: wins or win_pct")

	battle := &cobra.Command{
		Use:   "battle <winner-id> <loser-id>",
		Short: "Record one battle between two meals",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			winner, err := idArg(domain.KindMeal, args[0])
			if err != nil {
				return err
			}
			loser, err := idArg(domain.KindMeal, args[1])
			if err != nil {
				return err
			}
			svc, err := app.service(cmd.Context())
			if err != nil {
				return err
			}
			res, err := svc.RecordBattle(cmd.Context(), winner, loser)
			if err != nil {
				return err
			}
			app.warn(res)
			fmt.Fprintf(app.stdout, "meal %d beat meal %d\n", winner, loser)
			return nil
		},
	}

	record := &cobra.Command{
		Use:   "record <id> win|loss",
		Short: "Record a single battle outcome for one meal",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := idArg(domain.KindMeal, args[0])
			if err != nil {
				return err
			}
			svc, err := app.service(cmd.Context())
			if err != nil {
				return err
			}
			meal, res, err := svc.UpdateMealStats(cmd.Context(), id, args[1])
			if err != nil {
				return err
			}
			app.warn(res)
			return app.print(meal)
		},
	}

	find := &cobra.Command{
		Use:   "find <name>",
		Short: "Look a meal up by name",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := app.service(cmd.Context())
			if err != nil {
				return err
			}
			meal, err := svc.GetMealByName(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return app.print(meal)
		},
	}

	cmd.AddCommand(leaderboard, battle, record, find)
	return cmd
}

func newHabitatCmd(app *cli) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "habitat",
		Short: "Habitat operations",
	}
	assign := &cobra.Command{
		Use:   "assign <habitat-id> <animal-id>...",
		Short: "Move animals into a habitat",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			habitatID, err := idArg(domain.KindHabitat, args[0])
			if err != nil {
				return err
			}
			animalIDs := make([]int64, 0, len(args)-1)
			for _, raw := range args[1:] {
				id, err := idArg(domain.KindAnimal, raw)
				if err != nil {
					return err
				}
				animalIDs = append(animalIDs, id)
			}
			svc, err := app.service(cmd.Context())
			if err != nil {
				return err
			}
			animals, res, err := svc.AssignAnimalsToHabitat(cmd.Context(), habitatID, animalIDs...)
			if err != nil {
				return err
			}
			app.warn(res)
			return app.print(animals)
		},
	}
	animals := &cobra.Command{
		Use:   "animals <habitat-id>",
		Short: "List the animals living in a habitat",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			habitatID, err := idArg(domain.KindHabitat, args[0])
			if err != nil {
				return err
			}
			svc, err := app.service(cmd.Context())
			if err != nil {
				return err
			}
			list, err := svc.AnimalsInHabitat(cmd.Context(), habitatID)
			if err != nil {
				return err
			}
			return app.print(list)
		},
	}
	cmd.AddCommand(assign, animals)
	return cmd
}

func newMigrationCmd(app *cli) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migration",
		Short: "Schedule and cancel migrations",
	}

	var set []string
	schedule := &cobra.Command{
		Use:     "schedule <path-id> --set start_date=YYYY-MM-DD",
		Short:   "Schedule a migration along a path",
		Example: `  wildtrack migration schedule 1 --set start_date=2024-04-01`,
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			pathID, err := idArg(domain.KindMigrationPath, args[0])
			if err != nil {
				return err
			}
			schema, err := domain.SchemaFor(domain.KindMigration)
			if err != nil {
				return err
			}
			attrs, err := parseAssignments(schema, set)
			if err != nil {
				return err
			}
			svc, err := app.service(cmd.Context())
			if err != nil {
				return err
			}
			m, res, err := svc.ScheduleMigration(cmd.Context(), pathID, attrs)
			if err != nil {
				return err
			}
			app.warn(res)
			return app.print(m)
		},
	}
	schedule.Flags().StringArrayVar(&set, "set", nil, "migration attribute key=value (repeatable)")

	cancel := &cobra.Command{
		Use:   "cancel <id>",
		Short: "Cancel a scheduled or running migration",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := idArg(domain.KindMigration, args[0])
			if err != nil {
				return err
			}
			svc, err := app.service(cmd.Context())
			if err != nil {
				return err
			}
			m, res, err := svc.CancelMigration(cmd.Context(), id)
			if err != nil {
				return err
			}
			app.warn(res)
			return app.print(m)
		},
	}

	list := &cobra.Command{
		Use:   "status <status>",
		Short: "List migrations in a status",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := app.service(cmd.Context())
			if err != nil {
				return err
			}
			found, err := svc.MigrationsByStatus(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return app.print(found)
		},
	}

	cmd.AddCommand(schedule, cancel, list)
	return cmd
}
