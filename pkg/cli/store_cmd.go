package cli

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"dpm/internal/domain"
	"dpm/internal/storage"
)

func newStoreCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "store",
		Short: "Work with objects in GCS, S3 and Azure Blob Storage",
		Long: "Object commands take gs://bucket/key, s3://bucket/key or az://container/key URIs. " +
			"S3 and Azure need their credentials in the environment.",
	}
	cmd.AddCommand(newStoreListCmd(a))
	cmd.AddCommand(newStoreTreeCmd(a))
	cmd.AddCommand(newStoreSignCmd(a))
	cmd.AddCommand(newStoreRemoveCmd(a))
	cmd.AddCommand(newStoreFetchLinksCmd(a))
	return cmd
}

// openURI parses an object URI and opens the store serving its scheme.
func openURI(cmd *cobra.Command, a *app, raw string) (storage.Store, storage.URI, error) {
	u, err := storage.ParseURI(raw)
	if err != nil {
		return nil, u, err
	}
	s, err := a.registry().For(cmd.Context(), u)
	if err != nil {
		return nil, u, err
	}
	return s, u, nil
}

func newStoreListCmd(a *app) *cobra.Command {
	var (
		recursive bool
		save      string
	)

	cmd := &cobra.Command{
		Use:   "ls <uri>",
		Short: "List objects under a prefix",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, u, err := openURI(cmd, a, args[0])
			if err != nil {
				return err
			}
			objects, err := s.List(cmd.Context(), u.Bucket, u.Key, recursive)
			if err != nil {
				return err
			}
			if !recursive && save == "" && getOutputFormat(cmd) != "json" {
				rows := make([][]string, 0, len(objects))
				for _, o := range objects {
					if o.IsPrefix {
						rows = append(rows, []string{o.Key, "", ""})
						continue
					}
					rows = append(rows, []string{o.Key, fmt.Sprint(o.Size), o.Updated.UTC().Format(time.RFC3339)})
				}
				PrintTable(os.Stdout, []string{"key", "size", "updated"}, rows)
				return nil
			}
			return emit(cmd, a, storage.InventoryTable(objects, time.Now()), save)
		},
	}

	cmd.Flags().BoolVarP(&recursive, "recursive", "r", false, "List every object below the prefix")
	cmd.Flags().StringVar(&save, "save", "", "Write the listing to this target URI")

	return cmd
}

func newStoreTreeCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "tree <uri>",
		Short: "Show the folder structure below a prefix as JSON",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, u, err := openURI(cmd, a, args[0])
			if err != nil {
				return err
			}
			objects, err := s.List(cmd.Context(), u.Bucket, u.Key, true)
			if err != nil {
				return err
			}
			return PrintJSON(os.Stdout, storage.FolderTree(objects, u.Key))
		},
	}
}

func newStoreSignCmd(a *app) *cobra.Command {
	var expiry time.Duration

	cmd := &cobra.Command{
		Use:   "sign <uri>",
		Short: "Create a time-limited download URL",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, u, err := openURI(cmd, a, args[0])
			if err != nil {
				return err
			}
			if u.Key == "" || strings.HasSuffix(u.Key, "/") {
				return domain.ErrValidation("%s does not name an object", u)
			}
			url, err := s.SignedURL(cmd.Context(), u.Bucket, u.Key, expiry)
			if err != nil {
				return err
			}
			return printResult(cmd, map[string]any{
				"uri":        u.String(),
				"url":        url,
				"expires_at": time.Now().Add(expiry).UTC().Format(time.RFC3339),
			})
		},
	}

	cmd.Flags().DurationVar(&expiry, "expiry", time.Hour, "How long the URL stays valid")

	return cmd
}

func newStoreRemoveCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "rm <uri>",
		Short: "Delete an object",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, u, err := openURI(cmd, a, args[0])
			if err != nil {
				return err
			}
			if err := s.Delete(cmd.Context(), u.Bucket, u.Key); err != nil {
				return err
			}
			return printResult(cmd, map[string]any{"deleted": u.String()})
		},
	}
}

func newStoreFetchLinksCmd(a *app) *cobra.Command {
	var (
		linksFile   string
		erase       bool
		concurrency int
	)

	cmd := &cobra.Command{
		Use:   "fetch-links <uri> [link...]",
		Short: "Download web links into a bucket, expanding .gz and .zip archives",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			links := args[1:]
			if linksFile != "" {
				data, err := os.ReadFile(linksFile) //nolint:gosec
				if err != nil {
					return fmt.Errorf("read links: %w", err)
				}
				for _, line := range strings.Split(string(data), "\n") {
					if line = strings.TrimSpace(line); line != "" && !strings.HasPrefix(line, "#") {
						links = append(links, line)
					}
				}
			}
			if len(links) == 0 {
				return domain.ErrValidation("no links given")
			}
			s, u, err := openURI(cmd, a, args[0])
			if err != nil {
				return err
			}
			rep, err := storage.NewLinkFetcher(a.httpClient(), a.retryPolicy(), a.logger).
				Fetch(cmd.Context(), s, links, storage.FetchOptions{
					Bucket:        u.Bucket,
					Prefix:        u.Key,
					EraseExisting: erase,
					Concurrency:   concurrency,
				})
			if err != nil {
				return err
			}
			if getOutputFormat(cmd) == "json" {
				if err := PrintJSON(os.Stdout, rep); err != nil {
					return err
				}
			} else {
				PrintDetail(os.Stdout, map[string]any{
					"run_id":   rep.RunID,
					"uploaded": len(rep.Uploaded),
					"erased":   rep.Erased,
					"failed":   len(rep.Failed),
				})
				for _, f := range rep.Failed {
					_, _ = fmt.Fprintf(os.Stderr, "failed: %s: %s\n", f.URL, f.Err)
				}
			}
			if len(rep.Failed) > 0 {
				return fmt.Errorf("%d of %d links failed", len(rep.Failed), len(links))
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&linksFile, "links-file", "", "File with one link per line")
	cmd.Flags().BoolVar(&erase, "erase-existing", false, "Delete every object under the prefix first")
	cmd.Flags().IntVar(&concurrency, "concurrency", 1, "Parallel downloads")

	return cmd
}
