package hubspot

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"dpm/internal/table"
)

// Search limits. The search endpoint refuses to page past 10 000 results,
// so windows holding more than WindowLimit are halved.
const (
	PageLimit     = 100
	WindowLimit   = 9500
	InitialWindow = 90 * 24 * time.Hour
	MinWindow     = 24 * time.Hour

	createDate = "createdate"
	contactID  = "contact_id"
)

// ContactQuery selects contacts and the properties to export.
type ContactQuery struct {
	Properties          []string   `yaml:"properties" json:"properties"`
	SensitiveProperties []string   `yaml:"sensitive_properties" json:"sensitive_properties"`
	CreateDate          DateFilter `yaml:"createdate" json:"createdate"`
	// OnlySensitive drops contacts with no sensitive value.
	OnlySensitive bool `yaml:"only_sensitive" json:"only_sensitive"`
	// PartialOnError keeps what a window fetched before a failure.
	PartialOnError bool `yaml:"partial_on_error" json:"partial_on_error"`
	// DebugContactID fetches just this contact.
	DebugContactID string `yaml:"debug_contact_id,omitempty" json:"debug_contact_id,omitempty"`
}

// AllProperties lists the requested properties once each, createdate last
// unless already named.
func (q ContactQuery) AllProperties() []string {
	seen := map[string]bool{}
	var out []string
	for _, group := range [][]string{q.Properties, q.SensitiveProperties, {createDate}} {
		for _, p := range group {
			if p == "" || seen[p] {
				continue
			}
			seen[p] = true
			out = append(out, p)
		}
	}
	return out
}

// SearchResult is the outcome of SearchContacts.
type SearchResult struct {
	Contacts []Contact
	Calls    int
	// Partial is set when a window was cut short by an error or by the
	// result limit on a minimum-size window.
	Partial bool
}

type searchFilter struct {
	PropertyName string `json:"propertyName"`
	Operator     string `json:"operator"`
	Value        string `json:"value"`
}

type searchSort struct {
	PropertyName string `json:"propertyName"`
	Direction    string `json:"direction"`
}

type filterGroup struct {
	Filters []searchFilter `json:"filters"`
}

type searchRequest struct {
	FilterGroups []filterGroup `json:"filterGroups"`
	Properties   []string      `json:"properties"`
	Limit        int           `json:"limit"`
	Sorts        []searchSort  `json:"sorts"`
	After        string        `json:"after,omitempty"`
}

type searchResponse struct {
	Total   int       `json:"total"`
	Results []Contact `json:"results"`
	Paging  *struct {
		Next *struct {
			After string `json:"after"`
		} `json:"next"`
	} `json:"paging"`
}

func (r *searchResponse) nextAfter() string {
	if r.Paging == nil || r.Paging.Next == nil {
		return ""
	}
	return r.Paging.Next.After
}

func newSearchRequest(start, end int64, props []string, after string) searchRequest {
	return searchRequest{
		FilterGroups: []filterGroup{{Filters: []searchFilter{
			{PropertyName: createDate, Operator: "GTE", Value: strconv.FormatInt(start, 10)},
			{PropertyName: createDate, Operator: "LTE", Value: strconv.FormatInt(end, 10)},
		}}},
		Properties: props,
		Limit:      PageLimit,
		Sorts:      []searchSort{{PropertyName: createDate, Direction: "ASCENDING"}},
		After:      after,
	}
}

// SearchContacts pages through every contact created inside the query's
// date filter. The range is walked in windows of InitialWindow; with no
// lower bound the first window starts at the epoch and runs to the upper
// bound.
func (c *Client) SearchContacts(ctx context.Context, q ContactQuery) (*SearchResult, error) {
	from, to, err := q.CreateDate.Bounds()
	if err != nil {
		return nil, err
	}
	end := c.now().UnixMilli()
	if to != nil {
		end = *to
	}
	props := q.AllProperties()
	res := &SearchResult{}

	windowMS := InitialWindow.Milliseconds()
	if from == nil {
		if err := c.fetchWindow(ctx, 0, end, props, q.PartialOnError, 0, res); err != nil {
			return nil, err
		}
	} else {
		for cur := *from; cur <= end; {
			wEnd := min(end, cur+windowMS-1)
			if err := c.fetchWindow(ctx, cur, wEnd, props, q.PartialOnError, 0, res); err != nil {
				return nil, err
			}
			cur = wEnd + 1
		}
	}

	if q.OnlySensitive {
		before := len(res.Contacts)
		res.Contacts = OnlyWithSensitive(res.Contacts, q.SensitiveProperties)
		c.logger.Info("dropped contacts without sensitive values", "before", before, "after", len(res.Contacts))
	}
	c.logger.Info("hubspot contacts fetched", "contacts", len(res.Contacts), "calls", res.Calls, "partial", res.Partial)
	return res, nil
}

func (c *Client) fetchWindow(ctx context.Context, start, end int64, props []string, partial bool, depth int, res *SearchResult) error {
	logger := c.logger.With("window_start", time.UnixMilli(start).UTC(), "window_end", time.UnixMilli(end).UTC(), "depth", depth)
	logger.Debug("fetching window")

	var acc []Contact
	after := ""
	for {
		var page searchResponse
		err := c.do(ctx, http.MethodPost, searchPath, nil, newSearchRequest(start, end, props, after), &page)
		if err != nil {
			if partial && len(acc) > 0 && ctx.Err() == nil {
				logger.Warn("window failed, keeping partial results", "contacts", len(acc), "error", err)
				res.Partial = true
				break
			}
			return err
		}
		res.Calls++
		acc = append(acc, page.Results...)
		after = page.nextAfter()

		if len(acc) >= WindowLimit && after != "" {
			if end-start <= MinWindow.Milliseconds() {
				logger.Warn("result limit reached on minimum window, keeping partial results", "contacts", len(acc))
				res.Partial = true
				break
			}
			mid := start + (end-start)/2
			logger.Info("splitting window", "contacts", len(acc))
			if err := c.fetchWindow(ctx, start, mid, props, partial, depth+1, res); err != nil {
				return err
			}
			return c.fetchWindow(ctx, mid+1, end, props, partial, depth+1, res)
		}
		if after == "" {
			break
		}
	}
	logger.Debug("window fetched", "contacts", len(acc))
	res.Contacts = append(res.Contacts, acc...)
	return nil
}

// Export runs q and returns the contacts as a table. With DebugContactID
// set only that contact is fetched.
func (c *Client) Export(ctx context.Context, q ContactQuery) (*table.Table, error) {
	props := q.AllProperties()
	if q.DebugContactID != "" {
		contact, err := c.GetContact(ctx, q.DebugContactID, props)
		if err != nil {
			return nil, err
		}
		return ContactsTable([]Contact{*contact}, props), nil
	}
	res, err := c.SearchContacts(ctx, q)
	if err != nil {
		return nil, err
	}
	return ContactsTable(res.Contacts, props), nil
}

// ContactsTable lays contacts out as contact_id, createdate, then the other
// properties in request order.
func ContactsTable(contacts []Contact, props []string) *table.Table {
	cols := []table.Column{
		{Name: contactID, Type: table.TypeString},
		{Name: createDate, Type: table.TypeString},
	}
	for _, p := range props {
		if p != contactID && p != createDate {
			cols = append(cols, table.Column{Name: p, Type: table.TypeString})
		}
	}
	t := table.New(cols...)
	for _, ct := range contacts {
		row := make([]any, len(cols))
		row[0] = ct.ID
		for i := 1; i < len(cols); i++ {
			row[i] = ct.Properties[cols[i].Name]
		}
		t.AppendRow(row...)
	}
	return t
}

// OnlyWithSensitive keeps contacts holding at least one non-empty value
// among the sensitive properties.
func OnlyWithSensitive(contacts []Contact, sensitive []string) []Contact {
	out := make([]Contact, 0, len(contacts))
	for _, ct := range contacts {
		for _, p := range sensitive {
			if hasValue(ct.Properties[p]) {
				out = append(out, ct)
				break
			}
		}
	}
	return out
}

func hasValue(v any) bool {
	switch x := v.(type) {
	case nil:
		return false
	case string:
		return x != ""
	case []any:
		return len(x) > 0
	case map[string]any:
		return len(x) > 0
	}
	return true
}
