package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

func newConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Manage CLI configuration profiles",
	}

	cmd.AddCommand(newConfigShowCmd())
	cmd.AddCommand(newConfigSetProfileCmd())
	cmd.AddCommand(newConfigUseProfileCmd())

	return cmd
}

func newConfigShowCmd() *cobra.Command {
	var reveal bool

	cmd := &cobra.Command{
		Use:   "show",
		Short: "Display current configuration",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := LoadUserConfig()
			if err != nil {
				_, _ = fmt.Fprintf(os.Stderr, "No configuration found at %s\n", ConfigPath())
				return err
			}
			if !reveal {
				cfg = maskConfig(cfg)
			}
			if getOutputFormat(cmd) == "json" {
				return PrintJSON(os.Stdout, cfg)
			}
			data, err := yaml.Marshal(cfg)
			if err != nil {
				return fmt.Errorf("marshal config: %w", err)
			}
			_, _ = fmt.Fprint(os.Stdout, string(data))
			return nil
		},
	}

	cmd.Flags().BoolVar(&reveal, "reveal", false, "Show secret references unmasked")

	return cmd
}

// maskConfig returns a copy of the config with secret references masked.
func maskConfig(cfg *UserConfig) *UserConfig {
	masked := &UserConfig{
		CurrentProfile: cfg.CurrentProfile,
		Profiles:       make(map[string]Profile, len(cfg.Profiles)),
	}
	for name, p := range cfg.Profiles {
		p.KeyfileSecret = maskSecret(p.KeyfileSecret)
		p.HubSpotTokenSecret = maskSecret(p.HubSpotTokenSecret)
		masked.Profiles[name] = p
	}
	return masked
}

// maskSecret masks a sensitive string, showing first 4 and last 4 chars.
func maskSecret(s string) string {
	if s == "" {
		return ""
	}
	if len(s) <= 10 {
		return "****"
	}
	return s[:4] + "****" + s[len(s)-4:]
}

func newConfigSetProfileCmd() *cobra.Command {
	var (
		name string
		p    Profile
	)

	cmd := &cobra.Command{
		Use:   "set-profile",
		Short: "Create or update a configuration profile",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if name == "" {
				return fmt.Errorf("--name is required")
			}
			if cmd.Flags().Changed("default-output") {
				if err := validateOutputFormat(p.Output); err != nil {
					return err
				}
			}

			cfg, err := LoadUserConfig()
			if err != nil {
				cfg = &UserConfig{
					CurrentProfile: "default",
					Profiles:       map[string]Profile{},
				}
			}

			cur := cfg.Profiles[name]
			set := func(flag string, dst *string, v string) {
				if cmd.Flags().Changed(flag) {
					*dst = v
				}
			}
			set("project", &cur.Project, p.Project)
			set("location", &cur.Location, p.Location)
			set("environment", &cur.Environment, p.Environment)
			set("default-output", &cur.Output, p.Output)
			set("log-level", &cur.LogLevel, p.LogLevel)
			set("keyfile", &cur.Keyfile, p.Keyfile)
			set("keyfile-secret", &cur.KeyfileSecret, p.KeyfileSecret)
			set("hubspot-token-secret", &cur.HubSpotTokenSecret, p.HubSpotTokenSecret)
			set("jobs-dir", &cur.JobsDir, p.JobsDir)
			cfg.Profiles[name] = cur

			if err := SaveUserConfig(cfg); err != nil {
				return err
			}
			if getOutputFormat(cmd) == "json" {
				return PrintJSON(os.Stdout, map[string]string{
					"status":  "ok",
					"profile": name,
					"path":    ConfigPath(),
				})
			}
			_, _ = fmt.Fprintf(os.Stdout, "Profile %q saved to %s\n", name, ConfigPath())
			return nil
		},
	}

	cmd.Flags().StringVar(&name, "name", "", "Profile name (required)")
	cmd.Flags().StringVar(&p.Project, "project", "", "GCP project")
	cmd.Flags().StringVar(&p.Location, "location", "", "BigQuery location")
	cmd.Flags().StringVar(&p.Environment, "environment", "", "LOCAL, COLAB, COLAB_ENTERPRISE or a project id")
	cmd.Flags().StringVar(&p.Output, "default-output", "", "Default output format")
	cmd.Flags().StringVar(&p.LogLevel, "log-level", "", "Default log level")
	cmd.Flags().StringVar(&p.Keyfile, "keyfile", "", "Service account key file")
	cmd.Flags().StringVar(&p.KeyfileSecret, "keyfile-secret", "", "Secret Manager id of a service account key")
	cmd.Flags().StringVar(&p.HubSpotTokenSecret, "hubspot-token-secret", "", "Secret Manager id of the HubSpot token")
	cmd.Flags().StringVar(&p.JobsDir, "jobs-dir", "", "Directory of job files")
	_ = cmd.MarkFlagRequired("name")

	return cmd
}

func newConfigUseProfileCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "use-profile <name>",
		Short: "Set the active configuration profile",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := LoadUserConfig()
			if err != nil {
				return fmt.Errorf("no config found: %w", err)
			}
			name := args[0]
			if _, ok := cfg.Profiles[name]; !ok {
				return fmt.Errorf("profile %q not found", name)
			}
			cfg.CurrentProfile = name
			if err := SaveUserConfig(cfg); err != nil {
				return err
			}
			if getOutputFormat(cmd) == "json" {
				return PrintJSON(os.Stdout, map[string]string{
					"status":         "ok",
					"active_profile": name,
				})
			}
			_, _ = fmt.Fprintf(os.Stdout, "Active profile set to %q\n", name)
			return nil
		},
	}
}
