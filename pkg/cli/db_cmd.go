package cli

import (
	"github.com/spf13/cobra"

	"dpm/internal/engine"
)

func newDBCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "db",
		Short: "Query local DuckDB and SQLite databases",
	}
	cmd.AddCommand(newDBQueryCmd(a))
	return cmd
}

func newDBQueryCmd(a *app) *cobra.Command {
	var (
		driver string
		dsn    string
		save   string
	)

	cmd := &cobra.Command{
		Use:   "query <sql>",
		Short: "Run a query and print or save the result",
		Long: "Run a query against a DuckDB or SQLite database. DuckDB sessions get the " +
			"configured S3 and Azure credentials, so queries can read object storage paths directly.",
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			d, err := engine.ParseDriver(driver)
			if err != nil {
				return err
			}
			db, err := engine.Open(ctx, d, dsn)
			if err != nil {
				return err
			}
			defer db.Close() //nolint:errcheck

			if d == engine.DuckDB {
				if err := engine.ConfigureObjectStorage(ctx, db, a.cfg, a.logger); err != nil {
					return err
				}
			}
			t, err := engine.QueryTable(ctx, db, args[0])
			if err != nil {
				return err
			}
			return emit(cmd, a, t, save)
		},
	}

	cmd.Flags().StringVar(&driver, "driver", string(engine.DuckDB), "Database driver (duckdb, sqlite3)")
	cmd.Flags().StringVar(&dsn, "dsn", "", "Database path (DuckDB default: in-memory)")
	cmd.Flags().StringVar(&save, "save", "", "Write the result to this target URI")

	return cmd
}
