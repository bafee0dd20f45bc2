package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"dpm/internal/secrets"
)

func newSecretsCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "secrets",
		Short: "Read values from Google Secret Manager",
	}
	cmd.AddCommand(newSecretsGetCmd(a))
	return cmd
}

func newSecretsGetCmd(a *app) *cobra.Command {
	var (
		errorIfMissing bool
		reveal         bool
	)

	cmd := &cobra.Command{
		Use:   "get <secret>[=alias]...",
		Short: "Fetch secrets by id or full resource name",
		Long: "Fetch the latest version of each secret. A secret is a short id resolved in " +
			"--project, or a full projects/<p>/secrets/<id>[/versions/<v>] name. Values are " +
			"masked unless --reveal is set.",
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			reqs := make([]secrets.Request, len(args))
			for i, arg := range args {
				reqs[i] = secrets.ParseRequest(arg)
			}
			f, err := a.secretFetcher(cmd.Context())
			if err != nil {
				return err
			}
			res, err := f.FetchAll(cmd.Context(), a.project, reqs, secrets.FetchOptions{ErrorIfMissing: errorIfMissing})
			if err != nil {
				return err
			}
			for _, fl := range res.Failures {
				_, _ = fmt.Fprintf(os.Stderr, "failed: %s (%s): %v\n", fl.Key, fl.Resource, fl.Err)
			}
			values := make(map[string]any, len(res.Values))
			for k, v := range res.Strings() {
				if !reveal {
					v = maskSecret(v)
				}
				values[k] = v
			}
			return printResult(cmd, values)
		},
	}

	cmd.Flags().BoolVar(&errorIfMissing, "error-if-missing", false, "Fail when any secret cannot be read")
	cmd.Flags().BoolVar(&reveal, "reveal", false, "Print secret values in clear text")

	return cmd
}
