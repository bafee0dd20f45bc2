package cli

import (
	"github.com/spf13/cobra"

	"dpm/internal/domain"
)

func newBQCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "bq",
		Short: "BigQuery queries and dataset maintenance",
	}
	cmd.AddCommand(newBQQueryCmd(a))
	cmd.AddCommand(newBQSchemaCmd(a))
	cmd.AddCommand(newBQDeleteTablesCmd(a))
	return cmd
}

func newBQQueryCmd(a *app) *cobra.Command {
	var save string

	cmd := &cobra.Command{
		Use:   "query <sql>",
		Short: "Run a query and print or save the result",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := a.bigQuery(cmd.Context())
			if err != nil {
				return err
			}
			t, err := c.Query(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return emit(cmd, a, t, save)
		},
	}

	cmd.Flags().StringVar(&save, "save", "", "Write the result to this target URI")

	return cmd
}

func newBQSchemaCmd(a *app) *cobra.Command {
	var (
		project  string
		datasets []string
		tables   bool
		save     string
	)

	cmd := &cobra.Command{
		Use:   "schema",
		Short: "Describe datasets and, with --tables, their tables",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			c, err := a.bigQuery(cmd.Context())
			if err != nil {
				return err
			}
			t, err := c.SchemaInventory(cmd.Context(), firstNonEmpty(project, c.Project()), datasets, tables)
			if err != nil {
				return err
			}
			return emit(cmd, a, t, save)
		},
	}

	cmd.Flags().StringVar(&project, "dataset-project", "", "Project owning the datasets (default: --project)")
	cmd.Flags().StringSliceVar(&datasets, "dataset", nil, "Dataset to describe (repeatable; default: all)")
	cmd.Flags().BoolVar(&tables, "tables", false, "Add one row per table")
	cmd.Flags().StringVar(&save, "save", "", "Write the inventory to this target URI")

	return cmd
}

func newBQDeleteTablesCmd(a *app) *cobra.Command {
	var (
		project  string
		datasets []string
		yes      bool
	)

	cmd := &cobra.Command{
		Use:   "delete-tables",
		Short: "Delete every table in the given datasets",
		Long:  "Delete every table in the given datasets. The datasets themselves are kept.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if len(datasets) == 0 {
				return domain.ErrValidation("at least one --dataset is required")
			}
			if !yes {
				return domain.ErrValidation("refusing to delete tables without --yes")
			}
			c, err := a.bigQuery(cmd.Context())
			if err != nil {
				return err
			}
			deleted, err := c.DeleteTables(cmd.Context(), firstNonEmpty(project, c.Project()), datasets)
			if err != nil {
				return err
			}
			return printResult(cmd, map[string]any{
				"deleted": deleted,
				"count":   len(deleted),
			})
		},
	}

	cmd.Flags().StringVar(&project, "dataset-project", "", "Project owning the datasets (default: --project)")
	cmd.Flags().StringSliceVar(&datasets, "dataset", nil, "Dataset to empty (repeatable)")
	cmd.Flags().BoolVar(&yes, "yes", false, "Confirm the deletion")

	return cmd
}
