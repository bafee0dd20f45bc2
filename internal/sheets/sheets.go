// Package sheets reads and writes Google Sheets worksheets as tables.
package sheets

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"net/http"
	"regexp"
	"strconv"
	"strings"
	"time"

	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
	sheetsapi "google.golang.org/api/sheets/v4"

	"dpm/internal/domain"
	"dpm/internal/pacer"
	"dpm/internal/retry"
	"dpm/internal/table"
)

// TimestampLayout is how time cells are written to a sheet.
const TimestampLayout = "2006-01-02 15:04:05,000000"

// WriteMode selects how Write treats existing worksheet content.
type WriteMode string

// Write modes.
const (
	Overwrite WriteMode = "overwrite"
	Append    WriteMode = "append"
)

var idPattern = regexp.MustCompile(`/d/([A-Za-z0-9_-]+)`)

// SpreadsheetID accepts a bare spreadsheet id or any docs.google.com URL
// containing /d/<id>.
func SpreadsheetID(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", domain.ErrValidation("spreadsheet id is empty")
	}
	if m := idPattern.FindStringSubmatch(raw); m != nil {
		return m[1], nil
	}
	if strings.ContainsAny(raw, "/?#") {
		return "", domain.ErrValidation("cannot find a spreadsheet id in %q", raw)
	}
	return raw, nil
}

// Client wraps the Sheets values API with pacing and retries.
type Client struct {
	values *sheetsapi.SpreadsheetsValuesService
	pacer  *pacer.Pacer
	policy retry.Policy
	logger *slog.Logger
}

// NewClient creates a Sheets client. opts usually carry the resolved
// credential (see auth.Resolver).
func NewClient(ctx context.Context, logger *slog.Logger, opts ...option.ClientOption) (*Client, error) {
	svc, err := sheetsapi.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("create sheets service: %w", err)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		values: svc.Spreadsheets.Values,
		pacer:  pacer.PerSecond(1, 5),
		policy: retry.DefaultPolicy(),
		logger: logger,
	}, nil
}

func (c *Client) call(ctx context.Context, op string, fn func() error) error {
	return retry.Do(ctx, c.policy, c.logger, op, func(ctx context.Context) error {
		if err := c.pacer.Wait(ctx); err != nil {
			return err
		}
		err := fn()
		var gerr *googleapi.Error
		if errors.As(err, &gerr) && gerr.Code == http.StatusTooManyRequests {
			if secs, perr := strconv.Atoi(gerr.Header.Get("Retry-After")); perr == nil {
				c.pacer.Pause(time.Duration(secs) * time.Second)
			}
		}
		return err
	})
}

// Read returns the worksheet as a table. The first row is the header; data
// rows are padded or truncated to its width. Values are unformatted and
// dates come back as serial numbers.
func (c *Client) Read(ctx context.Context, spreadsheetID, worksheet string) (*table.Table, error) {
	var vr *sheetsapi.ValueRange
	err := c.call(ctx, "sheets read", func() error {
		var err error
		vr, err = c.values.Get(spreadsheetID, worksheet).
			ValueRenderOption("UNFORMATTED_VALUE").
			DateTimeRenderOption("SERIAL_NUMBER").
			Context(ctx).Do()
		return err
	})
	if err != nil {
		return nil, wrapNotFound(err, spreadsheetID, worksheet)
	}
	return fromValues(vr.Values), nil
}

// Write stores t in the worksheet and returns the number of updated cells.
// Overwrite clears the worksheet and writes header plus rows from A1;
// Append adds the rows below the existing data.
func (c *Client) Write(ctx context.Context, spreadsheetID, worksheet string, t *table.Table, mode WriteMode) (int64, error) {
	switch mode {
	case Overwrite:
		if err := c.call(ctx, "sheets clear", func() error {
			_, err := c.values.Clear(spreadsheetID, worksheet, &sheetsapi.ClearValuesRequest{}).Context(ctx).Do()
			return err
		}); err != nil {
			return 0, wrapNotFound(err, spreadsheetID, worksheet)
		}
		var resp *sheetsapi.UpdateValuesResponse
		body := &sheetsapi.ValueRange{Values: toValues(t, true)}
		if err := c.call(ctx, "sheets update", func() error {
			var err error
			resp, err = c.values.Update(spreadsheetID, worksheet+"!A1", body).
				ValueInputOption("RAW").Context(ctx).Do()
			return err
		}); err != nil {
			return 0, err
		}
		c.logger.Info("worksheet overwritten", "spreadsheet", spreadsheetID, "worksheet", worksheet, "cells", resp.UpdatedCells)
		return resp.UpdatedCells, nil
	case Append:
		var resp *sheetsapi.AppendValuesResponse
		body := &sheetsapi.ValueRange{Values: toValues(t, false)}
		if err := c.call(ctx, "sheets append", func() error {
			var err error
			resp, err = c.values.Append(spreadsheetID, worksheet, body).
				ValueInputOption("RAW").InsertDataOption("INSERT_ROWS").Context(ctx).Do()
			return err
		}); err != nil {
			return 0, wrapNotFound(err, spreadsheetID, worksheet)
		}
		var cells int64
		if resp.Updates != nil {
			cells = resp.Updates.UpdatedCells
		}
		c.logger.Info("rows appended to worksheet", "spreadsheet", spreadsheetID, "worksheet", worksheet, "rows", t.Len(), "cells", cells)
		return cells, nil
	}
	return 0, domain.ErrValidation("unsupported sheets write mode %q", mode)
}

func wrapNotFound(err error, id, worksheet string) error {
	var gerr *googleapi.Error
	if errors.As(err, &gerr) && gerr.Code == http.StatusNotFound {
		return domain.ErrNotFound("spreadsheet %s worksheet %q", id, worksheet)
	}
	return err
}

func fromValues(values [][]any) *table.Table {
	if len(values) == 0 {
		return table.New()
	}
	cols := make([]table.Column, len(values[0]))
	for i, h := range values[0] {
		cols[i] = table.Column{Name: table.FormatValue(h), Type: table.TypeAny}
	}
	t := table.New(cols...)
	for _, rec := range values[1:] {
		row := make([]any, len(cols))
		for i := range cols {
			if i < len(rec) {
				row[i] = cell(rec[i])
			}
		}
		t.Rows = append(t.Rows, row)
	}
	return t
}

func cell(v any) any {
	if s, ok := v.(string); ok && s == "" {
		return nil
	}
	return v
}

func toValues(t *table.Table, header bool) [][]any {
	out := make([][]any, 0, t.Len()+1)
	if header {
		h := make([]any, t.Width())
		for i, name := range t.ColumnNames() {
			h[i] = name
		}
		out = append(out, h)
	}
	for _, row := range t.Rows {
		rec := make([]any, len(row))
		for i, v := range row {
			rec[i] = cellValue(v)
		}
		out = append(out, rec)
	}
	return out
}

// cellValue maps a table cell onto what the Sheets API accepts: numbers stay
// numeric, nulls stay empty, everything else is written as text.
func cellValue(v any) any {
	switch x := v.(type) {
	case nil:
		return nil
	case float64:
		if math.IsNaN(x) || math.IsInf(x, 0) {
			return nil
		}
		return x
	case float32:
		return float64(x)
	case int:
		return x
	case int64:
		return x
	case int32:
		return int64(x)
	case time.Time:
		return x.Format(TimestampLayout)
	case string:
		return x
	}
	return table.FormatValue(v)
}
