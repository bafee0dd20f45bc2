// Package mediainv inventories audio and video files on disk with the
// metadata ffprobe reports for them.
package mediainv

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"math"
	"os"
	"os/exec"
	"path/filepath"
	"slices"
	"strconv"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"dpm/internal/domain"
	"dpm/internal/table"
)

// DefaultWorkers is the number of concurrent probes.
const DefaultWorkers = 4

// Probe is the subset of ffprobe's JSON output used here.
type Probe struct {
	Streams []Stream `json:"streams"`
	Format  Format   `json:"format"`
}

// Stream is one ffprobe stream entry. Numeric fields ffprobe emits as
// strings stay strings.
type Stream struct {
	CodecType  string `json:"codec_type"`
	CodecName  string `json:"codec_name"`
	BitRate    string `json:"bit_rate"`
	Width      int    `json:"width"`
	Height     int    `json:"height"`
	RFrameRate string `json:"r_frame_rate"`
	Channels   int    `json:"channels"`
	SampleRate string `json:"sample_rate"`
}

// Format is ffprobe's container section.
type Format struct {
	Duration string `json:"duration"`
}

// Prober reads media metadata from a file.
type Prober interface {
	Probe(ctx context.Context, path string) (*Probe, error)
}

// FFProbe runs the ffprobe binary.
type FFProbe struct {
	// Bin defaults to "ffprobe" on PATH.
	Bin string
}

var _ Prober = FFProbe{}

// Probe implements Prober.
func (f FFProbe) Probe(ctx context.Context, path string) (*Probe, error) {
	bin := f.Bin
	if bin == "" {
		bin = "ffprobe"
	}
	cmd := exec.CommandContext(ctx, bin, "-v", "error", "-print_format", "json", "-show_streams", "-show_format", path) //nolint:gosec // path comes from a directory walk
	out, err := cmd.Output()
	if err != nil {
		var ee *exec.ExitError
		if errors.As(err, &ee) && len(ee.Stderr) > 0 {
			return nil, fmt.Errorf("ffprobe %s: %s", filepath.Base(path), strings.TrimSpace(string(ee.Stderr)))
		}
		return nil, fmt.Errorf("ffprobe %s: %w", filepath.Base(path), err)
	}
	var p Probe
	if err := json.Unmarshal(out, &p); err != nil {
		return nil, fmt.Errorf("parse ffprobe output for %s: %w", filepath.Base(path), err)
	}
	return &p, nil
}

// Options selects the files to inventory.
type Options struct {
	Root string `yaml:"root" json:"root"`
	// Folders keeps only files whose parent directory name is listed.
	Folders []string `yaml:"folders,omitempty" json:"folders,omitempty"`
	// Extensions is required, e.g. [".mp4", ".mov"]. Matching ignores case.
	Extensions []string `yaml:"extensions" json:"extensions"`
	Workers    int      `yaml:"workers,omitempty" json:"workers,omitempty"`
}

// Validate checks the options.
func (o Options) Validate() error {
	if strings.TrimSpace(o.Root) == "" {
		return domain.ErrValidation("root path is required")
	}
	if strings.HasPrefix(o.Root, "https://") || strings.HasPrefix(o.Root, "http://") {
		return domain.ErrValidation("remote roots are not supported: %s", o.Root)
	}
	if len(o.Extensions) == 0 {
		return domain.ErrValidation("at least one extension is required")
	}
	return nil
}

// Find walks root and returns matching files in walk order.
func Find(root string, folders, extensions []string) ([]string, error) {
	exts := make([]string, 0, len(extensions))
	for _, e := range extensions {
		e = strings.ToLower(strings.TrimSpace(e))
		if e != "" && !strings.HasPrefix(e, ".") {
			e = "." + e
		}
		exts = append(exts, e)
	}
	var out []string
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		if d.IsDir() {
			return nil
		}
		if len(folders) > 0 && !slices.Contains(folders, filepath.Base(filepath.Dir(path))) {
			return nil
		}
		if slices.Contains(exts, strings.ToLower(filepath.Ext(d.Name()))) {
			out = append(out, path)
		}
		return nil
	})
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, domain.ErrNotFound("root %s does not exist", root)
		}
		return nil, fmt.Errorf("walk %s: %w", root, err)
	}
	return out, nil
}

// Media is one inventoried file. Metadata fields stay zero when the probe
// failed.
type Media struct {
	Name         string
	Path         string
	Modified     time.Time
	Scraped      time.Time
	SizeMB       int64
	DurationMS   int64
	VideoCodec   string
	VideoKbps    int64
	VideoFPS     float64
	Resolution   string
	AudioCodec   string
	AudioKbps    int64
	AudioChannel int
	AudioRateHz  int64
	Probed       bool
}

// DurationHMS formats the duration as HH:MM:SS.
func (m Media) DurationHMS() string {
	secs := m.DurationMS / 1000
	return fmt.Sprintf("%02d:%02d:%02d", secs/3600, (secs%3600)/60, secs%60)
}

func atoi(s string) int64 {
	n, _ := strconv.ParseInt(strings.TrimSpace(s), 10, 64)
	return n
}

// frameRate evaluates an ffprobe rational such as "30000/1001".
func frameRate(s string) float64 {
	num, den, ok := strings.Cut(s, "/")
	if !ok {
		f, _ := strconv.ParseFloat(s, 64)
		return f
	}
	n, err1 := strconv.ParseFloat(num, 64)
	d, err2 := strconv.ParseFloat(den, 64)
	if err1 != nil || err2 != nil || d == 0 {
		return 0
	}
	return n / d
}

// apply copies probe results into m. The last video and audio streams win.
func (m *Media) apply(p *Probe) {
	m.Probed = true
	m.Resolution = "unknown"
	for _, st := range p.Streams {
		switch st.CodecType {
		case "video":
			m.VideoCodec = st.CodecName
			m.VideoKbps = atoi(st.BitRate) / 1000
			if st.Width > 0 && st.Height > 0 {
				m.Resolution = fmt.Sprintf("%dx%d", st.Width, st.Height)
			}
			m.VideoFPS = frameRate(st.RFrameRate)
		case "audio":
			m.AudioCodec = st.CodecName
			m.AudioKbps = atoi(st.BitRate) / 1000
			m.AudioChannel = st.Channels
			m.AudioRateHz = atoi(st.SampleRate)
		}
	}
	if d, err := strconv.ParseFloat(strings.TrimSpace(p.Format.Duration), 64); err == nil {
		m.DurationMS = int64(math.Round(d * 1000))
	}
}

// Collect finds files under opts.Root and probes each. A failing probe is
// logged and leaves that row's metadata empty.
func Collect(ctx context.Context, opts Options, prober Prober, logger *slog.Logger) ([]Media, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	paths, err := Find(opts.Root, opts.Folders, opts.Extensions)
	if err != nil {
		return nil, err
	}
	if len(paths) == 0 {
		return nil, domain.ErrNotFound("no files with extensions %v under %s", opts.Extensions, opts.Root)
	}
	logger.Info("media files found", "root", opts.Root, "files", len(paths))

	workers := opts.Workers
	if workers <= 0 {
		workers = DefaultWorkers
	}
	now := time.Now()
	out := make([]Media, len(paths))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for i, path := range paths {
		g.Go(func() error {
			m := Media{Name: filepath.Base(path), Path: path, Scraped: now}
			if info, err := os.Stat(path); err == nil {
				m.Modified = info.ModTime()
				m.SizeMB = info.Size() / (1024 * 1024)
			}
			p, err := prober.Probe(gctx, path)
			switch {
			case err != nil && gctx.Err() != nil:
				return gctx.Err()
			case err != nil:
				logger.Warn("probe failed", "file", path, "error", err)
			default:
				m.apply(p)
				logger.Debug("probed", "file", m.Name, "duration", m.DurationHMS(), "resolution", m.Resolution)
			}
			out[i] = m
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

// Table renders the inventory.
func Table(media []Media) *table.Table {
	str := func(name string) table.Column { return table.Column{Name: name, Type: table.TypeString} }
	i64 := func(name string) table.Column { return table.Column{Name: name, Type: table.TypeInt64} }
	ts := func(name string) table.Column { return table.Column{Name: name, Type: table.TypeTimestamp} }
	t := table.New(
		str("file_name"), str("file_path"), ts("file_last_modified_date"), ts("file_scrap_date"),
		i64("file_size_mb"), str("duration_hms"), i64("duration_ms"),
		str("video_codec"), i64("video_bitrate_kbps"), table.Column{Name: "video_fps", Type: table.TypeFloat64}, str("video_resolution"),
		str("audio_codec"), i64("audio_bitrate_kbps"), i64("audio_channels"), i64("audio_sample_rate_hz"),
	)
	for _, m := range media {
		var modified any
		if !m.Modified.IsZero() {
			modified = m.Modified
		}
		if !m.Probed {
			t.AppendRow(m.Name, m.Path, modified, m.Scraped, m.SizeMB,
				nil, nil, nil, nil, nil, nil, nil, nil, nil, nil)
			continue
		}
		t.AppendRow(m.Name, m.Path, modified, m.Scraped, m.SizeMB,
			m.DurationHMS(), m.DurationMS,
			nullString(m.VideoCodec), m.VideoKbps, m.VideoFPS, m.Resolution,
			nullString(m.AudioCodec), m.AudioKbps, int64(m.AudioChannel), m.AudioRateHz)
	}
	return t
}

func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}
