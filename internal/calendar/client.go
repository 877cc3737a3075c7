package calendar

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"golang.org/x/oauth2"
	"google.golang.org/api/calendar/v3"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
)

// APIError is a non-success HTTP response from the Calendar API.
type APIError struct {
	Status int
	Body   string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("calendar API returned HTTP %d: %s", e.Status, e.Body)
}

// asAPIError converts a googleapi error into an APIError, leaving transport
// errors untouched.
func asAPIError(err error) error {
	var gerr *googleapi.Error
	if errors.As(err, &gerr) {
		return &APIError{Status: gerr.Code, Body: gerr.Body}
	}
	return err
}

// IsGone reports whether err is a 404 or 410 from the API.
func IsGone(err error) bool {
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		return false
	}
	return apiErr.Status == http.StatusNotFound || apiErr.Status == http.StatusGone
}

// Client is a wrapper around the Google Calendar API service. It holds no
// state beyond the bearer token baked into its HTTP client.
type Client struct {
	service *calendar.Service
}

// NewClient creates a Calendar client that sends token as the bearer
// credential on every request. endpoint overrides the API base URL when set.
func NewClient(ctx context.Context, token *oauth2.Token, endpoint string) (*Client, error) {
	if token == nil {
		return nil, errors.New("calendar client requires a token")
	}
	httpClient := oauth2.NewClient(ctx, oauth2.StaticTokenSource(token))
	return NewClientWithHTTP(ctx, httpClient, endpoint)
}

// NewClientWithHTTP creates a Calendar client using the provided HTTP client.
func NewClientWithHTTP(ctx context.Context, httpClient *http.Client, endpoint string) (*Client, error) {
	opts := []option.ClientOption{option.WithHTTPClient(httpClient)}
	if endpoint != "" {
		opts = append(opts, option.WithEndpoint(endpoint))
	}
	service, err := calendar.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create calendar service: %w", err)
	}

	return &Client{service: service}, nil
}

// ListEvents returns the events of calendarID in [timeMin, timeMax), with
// recurring events expanded and ordered by start time. All result pages are
// fetched.
func (c *Client) ListEvents(ctx context.Context, calendarID string, timeMin, timeMax time.Time) ([]*calendar.Event, error) {
	call := c.service.Events.List(calendarID).
		TimeMin(timeMin.UTC().Format(time.RFC3339)).
		TimeMax(timeMax.UTC().Format(time.RFC3339)).
		SingleEvents(true). // Expand recurring events
		OrderBy("startTime")

	events := []*calendar.Event{}
	err := call.Pages(ctx, func(page *calendar.Events) error {
		events = append(events, page.Items...)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list events in %s: %w", calendarID, asAPIError(err))
	}

	return events, nil
}

// DeleteEvent deletes an event from a calendar.
func (c *Client) DeleteEvent(ctx context.Context, calendarID, eventID string) error {
	err := c.service.Events.Delete(calendarID, eventID).
		SendUpdates("none"). // Disable notifications
		Context(ctx).
		Do()
	if err != nil {
		return fmt.Errorf("failed to delete event %s: %w", eventID, asAPIError(err))
	}

	return nil
}

// CreateEvent inserts a copy of event carrying only its summary, start and
// end. Attendees, location, recurrence and every other field are dropped.
func (c *Client) CreateEvent(ctx context.Context, calendarID string, event *calendar.Event) (*calendar.Event, error) {
	created, err := c.service.Events.Insert(calendarID, Minimal(event)).
		SendUpdates("none"). // Disable notifications
		Context(ctx).
		Do()
	if err != nil {
		return nil, fmt.Errorf("failed to insert event %q: %w", event.Summary, asAPIError(err))
	}

	return created, nil
}

// Minimal returns the create descriptor for event: summary, start and end.
func Minimal(event *calendar.Event) *calendar.Event {
	return &calendar.Event{
		Summary: event.Summary,
		Start:   event.Start,
		End:     event.End,
	}
}

// IsTimed reports whether event starts at a specific instant rather than on
// an all-day date.
func IsTimed(event *calendar.Event) bool {
	return event != nil && event.Start != nil && event.Start.DateTime != ""
}
