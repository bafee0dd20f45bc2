package cli

import (
	"context"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"dpm/internal/domain"
	"dpm/internal/hubspot"
)

func newHubSpotCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "hubspot",
		Short: "Export data from the HubSpot CRM",
	}
	cmd.AddCommand(newHubSpotContactsCmd(a))
	return cmd
}

// hubSpotToken reads HUBSPOT_TOKEN, falling back to the configured secret.
func (a *app) hubSpotToken(ctx context.Context) (string, error) {
	if tok := strings.TrimSpace(os.Getenv("HUBSPOT_TOKEN")); tok != "" {
		return tok, nil
	}
	if a.cfg.HubSpotTokenSecret == "" {
		return "", domain.ErrValidation("no HubSpot token: set HUBSPOT_TOKEN or HUBSPOT_TOKEN_SECRET")
	}
	f, err := a.secretFetcher(ctx)
	if err != nil {
		return "", err
	}
	b, err := f.Access(ctx, a.project, a.cfg.HubSpotTokenSecret)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func newHubSpotContactsCmd(a *app) *cobra.Command {
	var (
		q    hubspot.ContactQuery
		from string
		to   string
		save string
	)

	cmd := &cobra.Command{
		Use:   "contacts",
		Short: "Export contacts filtered by creation date",
		Long: "Export contacts created in a date window. --from and --to take an ISO date " +
			"or an epoch in seconds or milliseconds. Windows holding more contacts than the " +
			"search API returns are split in half until each fits.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if from != "" {
				q.CreateDate.From = from
			}
			if to != "" {
				q.CreateDate.To = to
			}
			if q.DebugContactID == "" {
				if _, _, err := q.CreateDate.Bounds(); err != nil {
					return err
				}
			}
			token, err := a.hubSpotToken(cmd.Context())
			if err != nil {
				return err
			}
			c, err := hubspot.NewClient(token, a.logger,
				hubspot.WithHTTPClient(a.httpClient()))
			if err != nil {
				return err
			}
			t, err := c.Export(cmd.Context(), q)
			if err != nil {
				return err
			}
			return emit(cmd, a, t, save)
		},
	}

	f := cmd.Flags()
	f.StringSliceVar(&q.Properties, "property", nil, "Contact property to export (repeatable)")
	f.StringSliceVar(&q.SensitiveProperties, "sensitive", nil, "Sensitive property to export (repeatable)")
	f.BoolVar(&q.OnlySensitive, "only-sensitive", false, "Keep only contacts with a sensitive value")
	f.StringVar(&q.CreateDate.Mode, "date-mode", hubspot.ModeBetween, "createdate filter (between, after, before)")
	f.StringVar(&from, "from", "", "Window start")
	f.StringVar(&to, "to", "", "Window end")
	f.BoolVar(&q.PartialOnError, "partial", false, "Keep contacts fetched before a failing window")
	f.StringVar(&q.DebugContactID, "debug-contact", "", "Fetch only this contact id")
	f.StringVar(&save, "save", "", "Write the contacts to this target URI")

	return cmd
}
