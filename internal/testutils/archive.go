package testutils

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync"
	"testing"
)

// Credentials accepted by FakeArchive.
const (
	FakeKey   = "0123456789abcdef"
	FakeEmail = "tester@example.com"
)

// FakeArchive is an in-process ECMWF Web API. Each submitted request is
// reported as active for Polls status checks and then completes with the
// bytes returned by Content.
type FakeArchive struct {
	*httptest.Server

	// Polls is the number of "active" answers before a request completes.
	Polls int

	// Content returns the result for a submitted request body.
	// Default: the request's "date" value.
	Content func(req map[string]string) []byte

	// Outcome, when set, is the final status of every request instead of
	// "complete", e.g. "aborted".
	Outcome string

	// FailSubmits answers this many submissions with 503 before accepting.
	FailSubmits int

	mu        sync.Mutex
	jobs      map[string]*fakeJob
	submitted []FakeSubmission
	deleted   []string
	nextID    int
}

// FakeSubmission records one accepted submission.
type FakeSubmission struct {
	Service string
	Request map[string]string
}

type fakeJob struct {
	polls   int
	content []byte
}

// NewFakeArchive starts a FakeArchive. It is closed when the test ends.
func NewFakeArchive(t testing.TB) *FakeArchive {
	t.Helper()

	f := &FakeArchive{jobs: make(map[string]*fakeJob)}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /datasets/{dataset}/requests", func(w http.ResponseWriter, r *http.Request) {
		f.submit(w, r, "datasets/"+r.PathValue("dataset"))
	})
	mux.HandleFunc("POST /services/mars/requests", func(w http.ResponseWriter, r *http.Request) {
		f.submit(w, r, "services/mars")
	})
	mux.HandleFunc("GET /requests/{id}", f.status)
	mux.HandleFunc("DELETE /requests/{id}", f.delete)
	mux.HandleFunc("GET /data/{id}", f.data)

	f.Server = httptest.NewServer(f.authorize(mux))
	t.Cleanup(f.Close)
	return f
}

// Submitted returns the accepted submissions in arrival order.
func (f *FakeArchive) Submitted() []FakeSubmission {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]FakeSubmission(nil), f.submitted...)
}

// Deleted returns the ids of requests deleted by clients.
func (f *FakeArchive) Deleted() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.deleted...)
}

func (f *FakeArchive) authorize(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("X-ECMWF-KEY") != FakeKey || r.Header.Get("From") != FakeEmail {
			writeJSON(w, http.StatusUnauthorized, map[string]any{
				"error": map[string]string{"message": "invalid credentials"},
			})
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (f *FakeArchive) submit(w http.ResponseWriter, r *http.Request, service string) {
	var req map[string]string
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	f.mu.Lock()
	if f.FailSubmits > 0 {
		f.FailSubmits--
		f.mu.Unlock()
		http.Error(w, "unavailable", http.StatusServiceUnavailable)
		return
	}
	f.nextID++
	id := strconv.Itoa(f.nextID)
	content := []byte(req["date"])
	if f.Content != nil {
		content = f.Content(req)
	}
	f.jobs[id] = &fakeJob{polls: f.Polls, content: content}
	f.submitted = append(f.submitted, FakeSubmission{Service: service, Request: req})
	f.mu.Unlock()

	href := f.URL + "/requests/" + id
	w.Header().Set("Location", href)
	writeJSON(w, http.StatusAccepted, map[string]any{
		"name":   id,
		"status": "queued",
		"href":   href,
	})
}

func (f *FakeArchive) status(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	f.mu.Lock()
	job, ok := f.jobs[id]
	var state string
	if ok {
		switch {
		case job.polls > 0:
			job.polls--
			state = "active"
		case f.Outcome != "":
			state = f.Outcome
		default:
			state = "complete"
		}
	}
	f.mu.Unlock()

	if !ok {
		http.NotFound(w, r)
		return
	}

	doc := map[string]any{
		"name":   id,
		"status": state,
		"href":   f.URL + "/requests/" + id,
	}
	switch state {
	case "complete":
		doc["location"] = "/data/" + id
		doc["size"] = len(job.content)
	case "active":
		w.Header().Set("Retry-After", "0")
	default:
		doc["error"] = map[string]string{"message": fmt.Sprintf("request %s %s", id, state)}
	}
	writeJSON(w, http.StatusOK, doc)
}

func (f *FakeArchive) data(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	job, ok := f.jobs[r.PathValue("id")]
	f.mu.Unlock()
	if !ok {
		http.NotFound(w, r)
		return
	}
	w.Header().Set("Content-Length", strconv.Itoa(len(job.content)))
	w.Write(job.content)
}

func (f *FakeArchive) delete(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	f.mu.Lock()
	delete(f.jobs, id)
	f.deleted = append(f.deleted, id)
	f.mu.Unlock()
	w.WriteHeader(http.StatusNoContent)
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}
