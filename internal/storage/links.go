package storage

import (
	"archive/zip"
	"compress/gzip"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"path"
	"strings"
	"sync"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"dpm/internal/domain"
	"dpm/internal/retry"
)

const octetStream = "application/octet-stream"

// FetchOptions configures LinkFetcher.Fetch.
type FetchOptions struct {
	Bucket string
	// Prefix is prepended to every uploaded object name.
	Prefix string
	// EraseExisting deletes every object under Prefix before downloading.
	EraseExisting bool
	// Concurrency bounds parallel downloads; values below 1 mean sequential.
	Concurrency int
}

// LinkFailure is a link that could not be processed.
type LinkFailure struct {
	URL string `json:"url"`
	Err string `json:"error"`
}

// FetchReport summarises a Fetch run.
type FetchReport struct {
	RunID    string        `json:"run_id"`
	Uploaded []string      `json:"uploaded"`
	Erased   int           `json:"erased"`
	Failed   []LinkFailure `json:"failed"`
}

// LinkFetcher downloads web links into a bucket, expanding .gz and .zip
// archives on the way.
type LinkFetcher struct {
	client *http.Client
	policy retry.Policy
	logger *slog.Logger
}

// NewLinkFetcher creates a fetcher. A nil client uses http.DefaultClient.
func NewLinkFetcher(client *http.Client, policy retry.Policy, logger *slog.Logger) *LinkFetcher {
	if client == nil {
		client = http.DefaultClient
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &LinkFetcher{client: client, policy: policy, logger: logger}
}

// Fetch processes every link. A failing link is logged and recorded in the
// report; the others continue.
func (f *LinkFetcher) Fetch(ctx context.Context, dst Store, links []string, opts FetchOptions) (*FetchReport, error) {
	if opts.Bucket == "" {
		return nil, domain.ErrValidation("a destination bucket is required")
	}
	if len(links) == 0 {
		return nil, domain.ErrValidation("no links given")
	}
	for _, l := range links {
		if u, err := url.Parse(l); err != nil || (u.Scheme != "http" && u.Scheme != "https") {
			return nil, domain.ErrValidation("invalid link %q", l)
		}
	}

	report := &FetchReport{RunID: uuid.NewString()}
	logger := f.logger.With("run_id", report.RunID, "bucket", opts.Bucket)

	if opts.EraseExisting {
		n, err := eraseAll(ctx, dst, opts.Bucket, opts.Prefix)
		report.Erased = n
		if err != nil {
			logger.Error("erasing previous objects failed", "erased", n, "error", err)
		} else {
			logger.Info("previous objects erased", "count", n)
		}
	}

	fileNames := linkFileNames(links, logger)

	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(max(opts.Concurrency, 1))
	for i, link := range links {
		g.Go(func() error {
			names, err := f.fetchOne(gctx, dst, link, fileNames[i], opts)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				if gctx.Err() != nil {
					return gctx.Err()
				}
				logger.Error("link failed", "url", link, "error", err)
				report.Failed = append(report.Failed, LinkFailure{URL: link, Err: err.Error()})
				return nil
			}
			logger.Info("link uploaded", "url", link, "objects", names)
			report.Uploaded = append(report.Uploaded, names...)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return report, err
	}
	return report, nil
}

func eraseAll(ctx context.Context, s Store, bucket, prefix string) (int, error) {
	objs, err := s.List(ctx, bucket, prefix, true)
	if err != nil {
		return 0, err
	}
	n := 0
	for _, o := range objs {
		if err := s.Delete(ctx, bucket, o.Key); err != nil {
			return n, err
		}
		n++
	}
	return n, nil
}

func (f *LinkFetcher) fetchOne(ctx context.Context, dst Store, link, name string, opts FetchOptions) ([]string, error) {
	tmp, err := os.CreateTemp("", "dpm-link-*")
	if err != nil {
		return nil, fmt.Errorf("create temp file: %w", err)
	}
	defer os.Remove(tmp.Name()) //nolint:errcheck
	defer tmp.Close()           //nolint:errcheck

	if err := f.download(ctx, link, tmp); err != nil {
		return nil, err
	}

	var uploaded []string
	put := func(objName string, r io.Reader) error {
		key := opts.Prefix + objName
		if err := dst.Put(ctx, opts.Bucket, key, r, octetStream); err != nil {
			return err
		}
		uploaded = append(uploaded, key)
		return nil
	}

	if _, err := tmp.Seek(0, io.SeekStart); err != nil {
		return nil, err
	}
	switch strings.ToLower(path.Ext(name)) {
	case ".gz":
		zr, err := gzip.NewReader(tmp)
		if err != nil {
			return nil, fmt.Errorf("gunzip %s: %w", name, err)
		}
		defer zr.Close() //nolint:errcheck
		err = put(strings.TrimSuffix(name, path.Ext(name)), zr)
		return uploaded, err
	case ".zip":
		st, err := tmp.Stat()
		if err != nil {
			return nil, err
		}
		zr, err := zip.NewReader(tmp, st.Size())
		if err != nil {
			return nil, fmt.Errorf("unzip %s: %w", name, err)
		}
		stem := strings.TrimSuffix(name, path.Ext(name))
		for _, m := range zr.File {
			if m.FileInfo().IsDir() {
				continue
			}
			rc, err := m.Open()
			if err != nil {
				return uploaded, fmt.Errorf("open %s in %s: %w", m.Name, name, err)
			}
			err = put(stem+"_"+path.Base(m.Name), rc)
			_ = rc.Close()
			if err != nil {
				return uploaded, err
			}
		}
		return uploaded, nil
	case ".rar":
		return nil, domain.ErrValidation("rar archives are not supported: %s", name)
	default:
		return uploaded, put(name, tmp)
	}
}

func (f *LinkFetcher) download(ctx context.Context, link string, w *os.File) error {
	return retry.Do(ctx, f.policy, f.logger, "download "+link, func(ctx context.Context) error {
		if err := w.Truncate(0); err != nil {
			return err
		}
		if _, err := w.Seek(0, io.SeekStart); err != nil {
			return err
		}
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, link, nil)
		if err != nil {
			return err
		}
		resp, err := f.client.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close() //nolint:errcheck
		if resp.StatusCode/100 != 2 {
			body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
			return retry.NewStatusError(resp, body)
		}
		_, err = io.Copy(w, resp.Body)
		return err
	})
}

// linkFileNames assigns each link its object name. Links sharing a base
// name after the first get a _2, _3... suffix before the extension, in link
// order, so parallel downloads never overwrite each other.
func linkFileNames(links []string, logger *slog.Logger) []string {
	names := make([]string, len(links))
	taken := make(map[string]bool, len(links))
	for i, link := range links {
		base := linkFileName(link)
		name := base
		for n := 2; taken[uploadStem(name)]; n++ {
			name = withSuffix(base, n)
		}
		taken[uploadStem(name)] = true
		if name != base {
			logger.Warn("duplicate link file name", "url", link, "name", base, "renamed", name)
		}
		names[i] = name
	}
	return names
}

// uploadStem is the name an expanded download is stored under: .gz and .zip
// lose their extension.
func uploadStem(name string) string {
	switch ext := path.Ext(name); strings.ToLower(ext) {
	case ".gz", ".zip":
		return strings.TrimSuffix(name, ext)
	}
	return name
}

// withSuffix inserts _n before the first extension: data.csv.gz becomes
// data_2.csv.gz.
func withSuffix(name string, n int) string {
	if i := strings.Index(name, "."); i > 0 {
		return fmt.Sprintf("%s_%d%s", name[:i], n, name[i:])
	}
	return fmt.Sprintf("%s_%d", name, n)
}

func linkFileName(link string) string {
	if u, err := url.Parse(link); err == nil {
		if base := path.Base(u.Path); base != "." && base != "/" && base != "" {
			return base
		}
	}
	return uuid.NewString()
}
