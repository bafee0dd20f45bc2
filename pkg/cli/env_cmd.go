package cli

import (
	"github.com/spf13/cobra"

	"dpm/internal/auth"
)

func newEnvCmd(a *app) *cobra.Command {
	var check bool

	cmd := &cobra.Command{
		Use:   "env",
		Short: "Show the detected environment and, with --check, resolve credentials",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			fields := map[string]any{
				"environment":      a.env.String(),
				"notebook":         a.env.IsNotebook(),
				"project":          a.project,
				"location":         a.location,
				"s3_configured":    a.cfg.HasS3Config(),
				"azure_configured": a.cfg.HasAzureConfig(),
				"credential_refs":  credentialRefs(a),
			}
			if check {
				res, err := a.credentials(cmd.Context(), auth.ScopeCloudPlatform)
				if err != nil {
					return err
				}
				fields["credential_source"] = string(res.Source)
				fields["credential_project"] = res.ProjectID
				if res.Email != "" {
					fields["service_account"] = res.Email
				}
			}
			return printResult(cmd, fields)
		},
	}

	cmd.Flags().BoolVar(&check, "check", false, "Resolve a Google credential and report where it came from")

	return cmd
}

func credentialRefs(a *app) []string {
	var refs []string
	c := a.cfg.Credentials
	if c.SecretID != "" {
		refs = append(refs, "secret:"+maskSecret(c.SecretID))
	}
	if c.KeyfileColab != "" {
		refs = append(refs, "keyfile_colab:"+c.KeyfileColab)
	}
	if c.KeyfileLocal != "" {
		refs = append(refs, "keyfile_local:"+c.KeyfileLocal)
	}
	return append(refs, "application_default")
}
