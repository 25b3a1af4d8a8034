// Package google implements calendar.Provider against the Google Calendar v3 REST API.
package google

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/example/availability-engine/internal/calendar"
	"github.com/example/availability-engine/internal/logging"
)

const (
	// DefaultBaseURL is the public Calendar v3 endpoint.
	DefaultBaseURL = "https://www.googleapis.com/calendar/v3"

	primaryCalendar = "primary"
	maxResults      = 250
	maxPages        = 20
	maxErrorBody    = 512
)

// Options configures a Client.
type Options struct {
	BaseURL    string
	HTTPClient *http.Client
	// RatePerSecond bounds outbound calls. Zero disables throttling.
	RatePerSecond float64
	Burst         int
	// Location resolves all-day event dates. Defaults to UTC.
	Location *time.Location
	Logger   *slog.Logger
}

// Client is a calendar.Provider backed by raw HTTP calls.
type Client struct {
	baseURL    string
	httpClient *http.Client
	limiter    *rate.Limiter
	location   *time.Location
	logger     *slog.Logger
}

var _ calendar.Provider = (*Client)(nil)

// NewClient constructs a Client. Deadlines come from the caller's context.
func NewClient(opts Options) *Client {
	base := strings.TrimRight(strings.TrimSpace(opts.BaseURL), "/")
	if base == "" {
		base = DefaultBaseURL
	}
	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	var limiter *rate.Limiter
	if opts.RatePerSecond > 0 {
		burst := opts.Burst
		if burst <= 0 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(opts.RatePerSecond), burst)
	}
	loc := opts.Location
	if loc == nil {
		loc = time.UTC
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		baseURL:    base,
		httpClient: httpClient,
		limiter:    limiter,
		location:   loc,
		logger:     logger,
	}
}

// ListEvents returns single (expanded) events on the primary calendar within the range.
func (c *Client) ListEvents(ctx context.Context, cred calendar.Credential, timeMin, timeMax time.Time) ([]calendar.Event, error) {
	logger := c.loggerFor(ctx, "ListEvents")
	endpoint := fmt.Sprintf("%s/calendars/%s/events", c.baseURL, url.PathEscape(primaryCalendar))

	events := make([]calendar.Event, 0)
	pageToken := ""
	for page := 0; page < maxPages; page++ {
		params := url.Values{}
		params.Set("timeMin", timeMin.UTC().Format(time.RFC3339))
		params.Set("timeMax", timeMax.UTC().Format(time.RFC3339))
		params.Set("singleEvents", "true")
		params.Set("orderBy", "startTime")
		params.Set("maxResults", fmt.Sprintf("%d", maxResults))
		if pageToken != "" {
			params.Set("pageToken", pageToken)
		}

		var body eventsListResponse
		if err := c.do(ctx, cred, "events.list", http.MethodGet, endpoint+"?"+params.Encode(), nil, &body); err != nil {
			return nil, err
		}

		for _, item := range body.Items {
			event, ok, reason := c.toEvent(item)
			if !ok {
				logger.WarnContext(ctx, "skipping unrecognised event", "event_id", item.ID, "reason", reason)
				continue
			}
			events = append(events, event)
		}

		if body.NextPageToken == "" {
			break
		}
		pageToken = body.NextPageToken
	}

	logger.DebugContext(ctx, "events listed", "count", len(events))
	return events, nil
}

// FreeBusy queries busy intervals for the given calendars. An empty list queries the primary calendar.
func (c *Client) FreeBusy(ctx context.Context, cred calendar.Credential, timeMin, timeMax time.Time, calendarIDs []string) (calendar.FreeBusyResponse, error) {
	ids := normaliseCalendarIDs(calendarIDs)
	req := freeBusyRequest{
		TimeMin: timeMin.UTC().Format(time.RFC3339),
		TimeMax: timeMax.UTC().Format(time.RFC3339),
		Items:   make([]freeBusyItem, 0, len(ids)),
	}
	for _, id := range ids {
		req.Items = append(req.Items, freeBusyItem{ID: id})
	}

	var body freeBusyResponse
	if err := c.do(ctx, cred, "freebusy.query", http.MethodPost, c.baseURL+"/freeBusy", req, &body); err != nil {
		return calendar.FreeBusyResponse{}, err
	}
	if body.Calendars == nil {
		return calendar.FreeBusyResponse{}, fmt.Errorf("%w: freeBusy response has no calendars", calendar.ErrInvalidResponse)
	}

	out := calendar.FreeBusyResponse{Calendars: make(map[string][]calendar.Interval, len(body.Calendars))}
	for id, cal := range body.Calendars {
		if len(cal.Errors) > 0 {
			return calendar.FreeBusyResponse{}, fmt.Errorf("%w: calendar %s: %s", calendar.ErrInvalidResponse, id, cal.Errors[0].Reason)
		}
		intervals := make([]calendar.Interval, 0, len(cal.Busy))
		for _, busy := range cal.Busy {
			start, err := time.Parse(time.RFC3339, busy.Start)
			if err != nil {
				return calendar.FreeBusyResponse{}, fmt.Errorf("%w: busy start %q", calendar.ErrInvalidResponse, busy.Start)
			}
			end, err := time.Parse(time.RFC3339, busy.End)
			if err != nil {
				return calendar.FreeBusyResponse{}, fmt.Errorf("%w: busy end %q", calendar.ErrInvalidResponse, busy.End)
			}
			intervals = append(intervals, calendar.Interval{Start: start, End: end})
		}
		out.Calendars[id] = intervals
	}
	return out, nil
}

// CreateEvent inserts an event and returns the provider receipt.
func (c *Client) CreateEvent(ctx context.Context, cred calendar.Credential, event calendar.NewEvent) (calendar.CreatedEvent, error) {
	calendarID := strings.TrimSpace(event.CalendarID)
	if calendarID == "" {
		calendarID = primaryCalendar
	}
	endpoint := fmt.Sprintf("%s/calendars/%s/events", c.baseURL, url.PathEscape(calendarID))

	payload := insertEventRequest{
		Summary: event.Summary,
		Start:   eventTime{DateTime: event.Start.Format(time.RFC3339)},
		End:     eventTime{DateTime: event.End.Format(time.RFC3339)},
	}
	if len(event.Reminders) > 0 {
		payload.Reminders = &reminders{UseDefault: false}
		for _, r := range event.Reminders {
			payload.Reminders.Overrides = append(payload.Reminders.Overrides, reminderOverride{Method: r.Method, Minutes: r.Minutes})
		}
	}

	var body insertEventResponse
	if err := c.do(ctx, cred, "events.insert", http.MethodPost, endpoint, payload, &body); err != nil {
		return calendar.CreatedEvent{}, err
	}
	if strings.TrimSpace(body.ID) == "" {
		return calendar.CreatedEvent{}, fmt.Errorf("%w: created event has no id", calendar.ErrInvalidResponse)
	}

	c.loggerFor(ctx, "CreateEvent").InfoContext(ctx, "event created", "provider_event_id", body.ID)
	return calendar.CreatedEvent{ID: body.ID, HTMLLink: body.HTMLLink}, nil
}

func (c *Client) do(ctx context.Context, cred calendar.Credential, operation, method, endpoint string, payload, out any) error {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			if errors.Is(ctx.Err(), context.Canceled) {
				return fmt.Errorf("%s: %w", operation, ctx.Err())
			}
			// Wait fails early when the deadline would pass before a token frees up.
			return fmt.Errorf("%s: %w: %v", operation, calendar.ErrTimeout, err)
		}
	}

	var reader io.Reader
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("%s: encode request: %w", operation, err)
		}
		reader = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return fmt.Errorf("%s: build request: %w", operation, err)
	}
	req.Header.Set("Authorization", "Bearer "+cred.AccessToken)
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return classifyTransportError(operation, err)
	}
	defer resp.Body.Close()

	if sentinel := calendar.ClassifyStatus(resp.StatusCode); sentinel != nil {
		raw, err := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		if err != nil {
			c.loggerFor(ctx, operation).DebugContext(ctx, "error body read failed", "status", resp.StatusCode, "error", err)
		}
		return &calendar.StatusError{
			Operation:  operation,
			StatusCode: resp.StatusCode,
			Body:       strings.TrimSpace(strings.ToValidUTF8(string(raw), "")),
			Err:        sentinel,
		}
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return classifyTransportError(operation, ctxErr)
		}
		return fmt.Errorf("%w: %s: %v", calendar.ErrInvalidResponse, operation, err)
	}
	return nil
}

func classifyTransportError(operation string, err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%s: %w: %v", operation, calendar.ErrTimeout, err)
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return fmt.Errorf("%s: %w: %v", operation, calendar.ErrTimeout, err)
	}
	if errors.Is(err, context.Canceled) {
		return fmt.Errorf("%s: %w", operation, err)
	}
	return fmt.Errorf("%s: %w: %v", operation, calendar.ErrUnavailable, err)
}

func (c *Client) toEvent(item eventItem) (calendar.Event, bool, string) {
	if item.Status == "cancelled" {
		return calendar.Event{}, false, "cancelled"
	}
	start, err := c.parseEventTime(item.Start)
	if err != nil {
		return calendar.Event{}, false, "start: " + err.Error()
	}
	end, err := c.parseEventTime(item.End)
	if err != nil {
		return calendar.Event{}, false, "end: " + err.Error()
	}
	if !end.After(start) {
		return calendar.Event{}, false, "end not after start"
	}

	transparency := item.Transparency
	if transparency == "" {
		transparency = calendar.TransparencyOpaque
	}

	return calendar.Event{
		ID:           item.ID,
		Summary:      item.Summary,
		Start:        start,
		End:          end,
		Transparency: transparency,
	}, true, ""
}

// parseEventTime reads a timed or all-day boundary. All-day dates start at
// midnight in the event's zone, or the client's when none is given.
func (c *Client) parseEventTime(t *eventTime) (time.Time, error) {
	if t == nil {
		return time.Time{}, errors.New("missing")
	}
	if t.DateTime != "" {
		return time.Parse(time.RFC3339, t.DateTime)
	}
	if t.Date != "" {
		loc := c.location
		if t.TimeZone != "" {
			if tz, err := time.LoadLocation(t.TimeZone); err == nil {
				loc = tz
			}
		}
		return time.ParseInLocation("2006-01-02", t.Date, loc)
	}
	return time.Time{}, errors.New("neither dateTime nor date set")
}

func (c *Client) loggerFor(ctx context.Context, operation string) *slog.Logger {
	logger := logging.FromContext(ctx)
	if logger == nil {
		logger = c.logger
	}
	return logger.With("component", "GoogleCalendar", "operation", operation)
}

func normaliseCalendarIDs(ids []string) []string {
	out := make([]string, 0, len(ids))
	seen := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		id = strings.TrimSpace(id)
		if id == "" {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	if len(out) == 0 {
		out = append(out, primaryCalendar)
	}
	return out
}
