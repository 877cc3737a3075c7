// Package caltest provides an in-process fake of the Calendar v3 events
// endpoints the mirror depends on.
package caltest

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sort"
	"strings"
	"sync"
	"time"

	"google.golang.org/api/calendar/v3"
)

// BasePath is the path prefix served by Server; pass Server.Endpoint() to
// the Calendar client.
const BasePath = "/calendar/v3/"

// Request records one API call received by the fake.
type Request struct {
	Method     string
	Path       string
	CalendarID string
	Query      map[string]string
	Token      string
}

// Server is a fake Calendar API. Calendars are keyed by id and each may be
// restricted to a single bearer token.
type Server struct {
	*httptest.Server

	mu        sync.Mutex
	calendars map[string][]*calendar.Event
	owners    map[string]string
	failures  map[string]int // "METHOD calendarID" -> HTTP status
	requests  []Request
	nextID    int
	pageSize  int
}

// NewServer starts a fake Calendar API server. Call Close when done.
func NewServer() *Server {
	s := &Server{
		calendars: make(map[string][]*calendar.Event),
		owners:    make(map[string]string),
		failures:  make(map[string]int),
		pageSize:  250,
	}
	mux := http.NewServeMux()
	mux.HandleFunc("GET "+BasePath+"calendars/{calendarId}/events", s.list)
	mux.HandleFunc("POST "+BasePath+"calendars/{calendarId}/events", s.insert)
	mux.HandleFunc("DELETE "+BasePath+"calendars/{calendarId}/events/{eventId}", s.delete)
	s.Server = httptest.NewServer(mux)
	return s
}

// Endpoint is the base URL to hand to calendar.NewClient.
func (s *Server) Endpoint() string {
	return s.URL + BasePath
}

// SetOwner requires token as bearer credential for calendarID.
func (s *Server) SetOwner(calendarID, token string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.owners[calendarID] = token
}

// SetPageSize limits the number of items per list page.
func (s *Server) SetPageSize(n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pageSize = n
}

// Fail makes every method call against calendarID answer status.
func (s *Server) Fail(method, calendarID string, status int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failures[method+" "+calendarID] = status
}

// Seed stores event in calendarID, assigning an id when it has none.
func (s *Server) Seed(calendarID string, event *calendar.Event) *calendar.Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.store(calendarID, event)
}

// Events returns a snapshot of calendarID in start order.
func (s *Server) Events(calendarID string) []*calendar.Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*calendar.Event, len(s.calendars[calendarID]))
	copy(out, s.calendars[calendarID])
	sortByStart(out)
	return out
}

// Requests returns the calls received so far.
func (s *Server) Requests() []Request {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Request, len(s.requests))
	copy(out, s.requests)
	return out
}

func (s *Server) store(calendarID string, event *calendar.Event) *calendar.Event {
	if event.Id == "" {
		s.nextID++
		event.Id = fmt.Sprintf("evt%04d", s.nextID)
	}
	s.calendars[calendarID] = append(s.calendars[calendarID], event)
	return event
}

// admit records the request and applies owner and failure rules. It returns
// false when a response has already been written.
func (s *Server) admit(w http.ResponseWriter, r *http.Request) bool {
	calendarID := r.PathValue("calendarId")
	token := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")

	query := make(map[string]string)
	for k, v := range r.URL.Query() {
		query[k] = v[0]
	}

	s.mu.Lock()
	s.requests = append(s.requests, Request{
		Method:     r.Method,
		Path:       r.URL.Path,
		CalendarID: calendarID,
		Query:      query,
		Token:      token,
	})
	owner, restricted := s.owners[calendarID]
	status := s.failures[r.Method+" "+calendarID]
	s.mu.Unlock()

	if token == "" || (restricted && owner != token) {
		writeError(w, http.StatusUnauthorized, "invalid credentials")
		return false
	}
	if status != 0 {
		writeError(w, status, "injected failure")
		return false
	}
	return true
}

func (s *Server) list(w http.ResponseWriter, r *http.Request) {
	if !s.admit(w, r) {
		return
	}
	q := r.URL.Query()
	timeMin, err := time.Parse(time.RFC3339, q.Get("timeMin"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "bad timeMin")
		return
	}
	timeMax, err := time.Parse(time.RFC3339, q.Get("timeMax"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "bad timeMax")
		return
	}

	s.mu.Lock()
	var matched []*calendar.Event
	for _, e := range s.calendars[r.PathValue("calendarId")] {
		start, end := bounds(e)
		if start.Before(timeMax) && end.After(timeMin) {
			matched = append(matched, e)
		}
	}
	pageSize := s.pageSize
	s.mu.Unlock()
	sortByStart(matched)

	offset := 0
	if tok := q.Get("pageToken"); tok != "" {
		fmt.Sscanf(tok, "%d", &offset)
	}
	page := &calendar.Events{Kind: "calendar#events", Items: []*calendar.Event{}}
	if offset < len(matched) {
		end := min(offset+pageSize, len(matched))
		page.Items = matched[offset:end]
		if end < len(matched) {
			page.NextPageToken = fmt.Sprintf("%d", end)
		}
	}
	writeJSON(w, http.StatusOK, page)
}

func (s *Server) insert(w http.ResponseWriter, r *http.Request) {
	if !s.admit(w, r) {
		return
	}
	var event calendar.Event
	if err := json.NewDecoder(r.Body).Decode(&event); err != nil {
		writeError(w, http.StatusBadRequest, "bad event body")
		return
	}
	if event.Start == nil || event.End == nil {
		writeError(w, http.StatusBadRequest, "missing start or end")
		return
	}
	event.Id = ""

	s.mu.Lock()
	created := s.store(r.PathValue("calendarId"), &event)
	s.mu.Unlock()
	writeJSON(w, http.StatusOK, created)
}

func (s *Server) delete(w http.ResponseWriter, r *http.Request) {
	if !s.admit(w, r) {
		return
	}
	calendarID, eventID := r.PathValue("calendarId"), r.PathValue("eventId")

	s.mu.Lock()
	defer s.mu.Unlock()
	events := s.calendars[calendarID]
	for i, e := range events {
		if e.Id == eventID {
			s.calendars[calendarID] = append(events[:i:i], events[i+1:]...)
			w.WriteHeader(http.StatusNoContent)
			return
		}
	}
	writeError(w, http.StatusGone, "resource has been deleted")
}

// bounds returns the event's [start, end); all-day dates are taken as UTC.
func bounds(e *calendar.Event) (time.Time, time.Time) {
	return parseBoundary(e.Start), parseBoundary(e.End)
}

func parseBoundary(edt *calendar.EventDateTime) time.Time {
	if edt == nil {
		return time.Time{}
	}
	if edt.DateTime != "" {
		t, _ := time.Parse(time.RFC3339, edt.DateTime)
		return t
	}
	t, _ := time.Parse("2006-01-02", edt.Date)
	return t
}

func sortByStart(events []*calendar.Event) {
	sort.SliceStable(events, func(i, j int) bool {
		return parseBoundary(events[i].Start).Before(parseBoundary(events[j].Start))
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]any{
		"error": map[string]any{"code": status, "message": message},
	})
}
