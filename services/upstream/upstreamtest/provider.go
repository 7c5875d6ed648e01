// Package upstreamtest runs an in-process fake of the market-data provider
// for tests.
package upstreamtest

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"testing"
)

// QueryFunc answers one query endpoint. Returning an error makes the provider
// reply with a non-zero error_code.
type QueryFunc func(params url.Values) (fields []string, rows [][]string, err error)

// Provider is a fake provider. Configure it, then call Start.
type Provider struct {
	User     string
	Password string

	mu       sync.Mutex
	queries  map[string]QueryFunc
	sessions map[string]bool
	logins   int
	logouts  int
	calls    map[string]int
}

func New() *Provider {
	return &Provider{
		User:     "anonymous",
		Password: "123456",
		queries:  make(map[string]QueryFunc),
		sessions: make(map[string]bool),
		calls:    make(map[string]int),
	}
}

// Handle registers the answer for /api/query/{op}.
func (p *Provider) Handle(op string, fn QueryFunc) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.queries[op] = fn
}

// Start serves the provider until the test ends.
func (p *Provider) Start(t testing.TB) *httptest.Server {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/login", p.login)
	mux.HandleFunc("/api/logout", p.logout)
	mux.HandleFunc("/api/query/", p.query)

	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func (p *Provider) Logins() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.logins
}

func (p *Provider) Logouts() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.logouts
}

// Calls returns how many pages of op were served.
func (p *Provider) Calls(op string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls[op]
}

func (p *Provider) login(w http.ResponseWriter, r *http.Request) {
	var req struct {
		UserID   string `json:"user_id"`
		Password string `json:"password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if req.UserID != p.User || req.Password != p.Password {
		writeJSON(w, map[string]any{"error_code": "10001002", "error_msg": "bad credentials"})
		return
	}
	p.logins++
	id := fmt.Sprintf("sess-%d", p.logins)
	p.sessions[id] = true
	writeJSON(w, map[string]any{"error_code": "0", "error_msg": "success", "session_id": id})
}

func (p *Provider) logout(w http.ResponseWriter, r *http.Request) {
	var req struct {
		SessionID string `json:"session_id"`
	}
	_ = json.NewDecoder(r.Body).Decode(&req)

	p.mu.Lock()
	defer p.mu.Unlock()
	p.logouts++
	delete(p.sessions, req.SessionID)
	writeJSON(w, map[string]any{"error_code": "0", "error_msg": "success"})
}

func (p *Provider) query(w http.ResponseWriter, r *http.Request) {
	op := strings.TrimPrefix(r.URL.Path, "/api/query/")
	q := r.URL.Query()

	p.mu.Lock()
	live := p.sessions[q.Get("session_id")]
	fn := p.queries[op]
	p.calls[op]++
	p.mu.Unlock()

	if !live {
		writeJSON(w, map[string]any{"error_code": "10001001", "error_msg": "not logged in"})
		return
	}
	if fn == nil {
		http.Error(w, "unknown query "+op, http.StatusNotFound)
		return
	}

	fields, rows, err := fn(q)
	if err != nil {
		writeJSON(w, map[string]any{"error_code": "10002007", "error_msg": err.Error()})
		return
	}

	page, _ := strconv.Atoi(q.Get("page"))
	perPage, _ := strconv.Atoi(q.Get("per_page"))
	if page < 1 {
		page = 1
	}
	if perPage < 1 {
		perPage = len(rows) + 1
	}
	from := min((page-1)*perPage, len(rows))
	to := min(from+perPage, len(rows))
	data := rows[from:to]
	if data == nil {
		data = [][]string{}
	}

	writeJSON(w, map[string]any{
		"error_code": "0",
		"error_msg":  "success",
		"fields":     fields,
		"data":       data,
		"cur_page":   page,
		"per_page":   perPage,
		"has_more":   to < len(rows),
	})
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

// Static always answers with the same table.
func Static(fields []string, rows [][]string) QueryFunc {
	return func(url.Values) ([]string, [][]string, error) {
		return fields, rows, nil
	}
}

// Failing always answers with a provider error.
func Failing(msg string) QueryFunc {
	return func(url.Values) ([]string, [][]string, error) {
		return nil, nil, errors.New(msg)
	}
}

// DailyFields is the column order of daily bar responses.
var DailyFields = []string{"date", "code", "open", "high", "low", "close", "preclose", "volume", "amount", "pctChg"}

// Bars serves history_k_data from rows keyed by provider code, filtered by
// the requested start_date/end_date on the "date" column. Codes listed in
// fail get a provider error.
func Bars(fields []string, byCode map[string][][]string, fail ...string) QueryFunc {
	dateCol := -1
	for i, f := range fields {
		if f == "date" {
			dateCol = i
		}
	}
	return func(q url.Values) ([]string, [][]string, error) {
		code := q.Get("code")
		for _, f := range fail {
			if f == code {
				return nil, nil, fmt.Errorf("query failed for %s", code)
			}
		}
		start, end := q.Get("start_date"), q.Get("end_date")
		var out [][]string
		for _, row := range byCode[code] {
			if dateCol >= 0 {
				d := row[dateCol]
				if (start != "" && d < start) || (end != "" && d > end) {
					continue
				}
			}
			out = append(out, row)
		}
		return fields, out, nil
	}
}
