package cli

import (
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"dpm/internal/auth"
	"dpm/internal/config"
	"dpm/internal/domain"
)

var (
	version = "dev"
	commit  = "none"
)

// Execute runs the CLI.
func Execute() int {
	a := &app{}
	rootCmd := newRootCmd(a)
	err := rootCmd.Execute()
	a.close()
	if err != nil {
		output, _ := rootCmd.PersistentFlags().GetString("output")
		if output == "json" {
			errObj := map[string]any{
				"error": err.Error(),
			}
			switch {
			case domain.IsValidation(err):
				errObj["code"] = "validation"
			case domain.IsNotFound(err):
				errObj["code"] = "not_found"
			case isAuthError(err):
				errObj["code"] = "auth"
			}
			_ = PrintJSON(os.Stdout, errObj)
		} else {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		}
		return 1
	}
	return 0
}

func newRootCmd(a *app) *cobra.Command {
	var (
		output   string
		profile  string
		project  string
		location string
		logLevel string
		envFile  string
		envName  string
	)

	rootCmd := &cobra.Command{
		Use:   "dpm",
		Short: "Data integration toolkit",
		Long: "dpm moves tables between files, object storage, Google Sheets, BigQuery and local " +
			"databases, and runs the cleaning, consolidation and loading steps around them.",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			if err := config.LoadDotEnv(envFile); err != nil {
				return err
			}
			cfg, err := config.LoadFromEnv()
			if err != nil {
				return err
			}

			// Config file is optional
			userCfg, err := LoadUserConfig()
			if err != nil {
				userCfg = &UserConfig{CurrentProfile: "default", Profiles: map[string]Profile{}}
			}
			p, err := userCfg.ActiveProfile(profile)
			if err != nil {
				return err
			}

			// Apply precedence: flag > env > profile > default
			if !cmd.Flags().Changed("output") {
				if v := os.Getenv("DPM_OUTPUT"); v != "" {
					output = v
				} else if p.Output != "" {
					output = p.Output
				}
			}
			if err := validateOutputFormat(output); err != nil {
				return err
			}
			if !cmd.Flags().Changed("log-level") {
				if v := os.Getenv("LOG_LEVEL"); v != "" {
					logLevel = v
				} else if p.LogLevel != "" {
					logLevel = p.LogLevel
				}
			}
			cfg.LogLevel = logLevel
			if !cmd.Flags().Changed("project") {
				project = firstNonEmpty(cfg.ProjectID, p.Project)
			}
			if !cmd.Flags().Changed("location") {
				location = firstNonEmpty(os.Getenv("BQ_LOCATION"), p.Location, cfg.BQLocation)
			}
			if !cmd.Flags().Changed("environment") {
				envName = firstNonEmpty(cfg.Environment, p.Environment)
			}
			if cfg.Credentials.KeyfileLocal == "" {
				cfg.Credentials.KeyfileLocal = p.Keyfile
			}
			if cfg.Credentials.SecretID == "" {
				cfg.Credentials.SecretID = p.KeyfileSecret
			}
			if cfg.HubSpotTokenSecret == "" {
				cfg.HubSpotTokenSecret = p.HubSpotTokenSecret
			}

			logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: cfg.SlogLevel()}))
			slog.SetDefault(logger)
			for _, w := range cfg.Warnings {
				logger.Warn(w)
			}

			env := auth.DetectEnvironment(os.Getenv)
			if envName != "" {
				if env, err = auth.ParseEnvironment(envName); err != nil {
					return err
				}
			}
			if project == "" {
				project = env.ProjectID
			}

			a.cfg = cfg
			a.logger = logger
			a.env = env
			a.project = project
			a.location = location
			a.jobsDir = firstNonEmpty(os.Getenv("DPM_JOBS_DIR"), p.JobsDir, "jobs")
			return nil
		},
	}

	rootCmd.PersistentFlags().StringVarP(&output, "output", "o", "table", "Output format (table, json)")
	rootCmd.PersistentFlags().StringVarP(&profile, "profile", "p", "", "Config profile to use")
	rootCmd.PersistentFlags().StringVar(&project, "project", "", "GCP project (default GOOGLE_CLOUD_PROJECT)")
	rootCmd.PersistentFlags().StringVar(&location, "location", config.DefaultBQLocation, "BigQuery location")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().StringVar(&envFile, "env-file", ".env", "Dotenv file loaded before reading the environment")
	rootCmd.PersistentFlags().StringVar(&envName, "environment", "", "LOCAL, COLAB, COLAB_ENTERPRISE or a project id (default: detect)")

	rootCmd.AddCommand(newVersionCmd())
	rootCmd.AddCommand(newConfigCmd())
	rootCmd.AddCommand(newEnvCmd(a))

	// Table commands
	rootCmd.AddCommand(newTransferCmd(a))
	rootCmd.AddCommand(newInferCmd(a))
	rootCmd.AddCommand(newConsolidateCmd(a))
	rootCmd.AddCommand(newDtypeCopyCmd(a))
	rootCmd.AddCommand(newFieldsCmd(a))
	rootCmd.AddCommand(newDBCmd(a))

	// Cloud commands
	rootCmd.AddCommand(newGCSToBQCmd(a))
	rootCmd.AddCommand(newGCSCmd(a))
	rootCmd.AddCommand(newStoreCmd(a))
	rootCmd.AddCommand(newBQCmd(a))
	rootCmd.AddCommand(newSecretsCmd(a))
	rootCmd.AddCommand(newHubSpotCmd(a))
	rootCmd.AddCommand(newMediaCmd(a))

	// Jobs
	rootCmd.AddCommand(newRunCmd(a))
	rootCmd.AddCommand(newScheduleCmd(a))

	// Shell completions
	rootCmd.AddCommand(newCompletionCmd())

	return rootCmd
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}

func newCompletionCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "completion [bash|zsh|fish|powershell]",
		Short: "Generate shell completion scripts",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			switch args[0] {
			case "bash":
				return cmd.Root().GenBashCompletion(os.Stdout)
			case "zsh":
				return cmd.Root().GenZshCompletion(os.Stdout)
			case "fish":
				return cmd.Root().GenFishCompletion(os.Stdout, true)
			case "powershell":
				return cmd.Root().GenPowerShellCompletionWithDesc(os.Stdout)
			default:
				return fmt.Errorf("unsupported shell: %s", args[0])
			}
		},
	}
	return cmd
}
