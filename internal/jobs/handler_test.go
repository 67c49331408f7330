package jobs

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"hlsgrab/internal/pipeline"
)

func newTestServer(t *testing.T) (*httptest.Server, *Manager) {
	t.Helper()
	mgr, _ := newTestManager(t)
	h := NewHandler(mgr, slog.New(slog.DiscardHandler))

	r := chi.NewRouter()
	r.Route("/jobs", func(r chi.Router) {
		r.Post("/", h.SubmitJob)
		r.Route("/{job_id}", func(r chi.Router) {
			r.Get("/", h.GetJob)
			r.Get("/events", h.GetJobEvents)
			r.Post("/cancel", h.CancelJob)
		})
	})

	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return srv, mgr
}

func postJSON(t *testing.T, url, body string) *http.Response {
	t.Helper()
	resp, err := http.Post(url, "application/json", strings.NewReader(body))
	if err != nil {
		t.Fatalf("POST %s: %v", url, err)
	}
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func getJSON(t *testing.T, url string, v any) *http.Response {
	t.Helper()
	resp, err := http.Get(url)
	if err != nil {
		t.Fatalf("GET %s: %v", url, err)
	}
	t.Cleanup(func() { resp.Body.Close() })
	if v != nil {
		if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
			t.Fatalf("decode %s: %v", url, err)
		}
	}
	return resp
}

func TestHandler_submit_and_get(t *testing.T) {
	origin := testOrigin(2, false)
	defer origin.Close()
	srv, _ := newTestServer(t)

	resp := postJSON(t, srv.URL+"/jobs", `{"input":"`+origin.URL+`/index.m3u8|api video"}`)
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("submit status: %d", resp.StatusCode)
	}
	var job Job
	if err := json.NewDecoder(resp.Body).Decode(&job); err != nil {
		t.Fatalf("decode submit response: %v", err)
	}
	if job.ID == uuid.Nil {
		t.Fatal("submit response has no job id")
	}

	deadline := time.Now().Add(10 * time.Second)
	for {
		var got Job
		if r := getJSON(t, srv.URL+"/jobs/"+job.ID.String(), &got); r.StatusCode != http.StatusOK {
			t.Fatalf("get status: %d", r.StatusCode)
		} else if got.Status.Finished() {
			if got.Status != StatusSucceeded {
				t.Fatalf("job finished as %q: %s", got.Status, got.Error)
			}
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("job never finished")
		}
		time.Sleep(10 * time.Millisecond)
	}

	var events []pipeline.Event
	if r := getJSON(t, srv.URL+"/jobs/"+job.ID.String()+"/events", &events); r.StatusCode != http.StatusOK {
		t.Fatalf("events status: %d", r.StatusCode)
	}
	if len(events) == 0 {
		t.Fatal("no events returned")
	}
}

func TestHandler_submit_bad_body(t *testing.T) {
	srv, _ := newTestServer(t)

	for _, body := range []string{``, `{}`, `{"input":""}`, `not json`} {
		resp := postJSON(t, srv.URL+"/jobs", body)
		if resp.StatusCode != http.StatusBadRequest {
			t.Errorf("body %q: status %d, want 400", body, resp.StatusCode)
		}
	}
}

func TestHandler_submit_invalid_url(t *testing.T) {
	srv, _ := newTestServer(t)

	resp := postJSON(t, srv.URL+"/jobs", `{"input":"file:///etc/passwd"}`)
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("status: %d, want 400", resp.StatusCode)
	}
}

func TestHandler_get_unknown_job(t *testing.T) {
	srv, _ := newTestServer(t)

	if resp := getJSON(t, srv.URL+"/jobs/"+uuid.NewString(), nil); resp.StatusCode != http.StatusNotFound {
		t.Errorf("status: %d, want 404", resp.StatusCode)
	}
	if resp := getJSON(t, srv.URL+"/jobs/not-a-uuid", nil); resp.StatusCode != http.StatusBadRequest {
		t.Errorf("malformed id status: %d, want 400", resp.StatusCode)
	}
}

func TestHandler_cancel(t *testing.T) {
	origin := testOrigin(2, true)
	defer origin.Close()
	srv, mgr := newTestServer(t)

	job, err := mgr.Submit(origin.URL + "/index.m3u8")
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	waitForJob(t, mgr, job.ID, func(j Job) bool { return j.Status == StatusRunning })

	resp := postJSON(t, srv.URL+"/jobs/"+job.ID.String()+"/cancel", "")
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("cancel status: %d, want 202", resp.StatusCode)
	}

	waitForJob(t, mgr, job.ID, func(j Job) bool { return j.Status == StatusCancelled })

	// Cancelling again now conflicts.
	resp = postJSON(t, srv.URL+"/jobs/"+job.ID.String()+"/cancel", "")
	if resp.StatusCode != http.StatusConflict {
		t.Errorf("second cancel status: %d, want 409", resp.StatusCode)
	}
}

func TestHandler_cancel_unknown_job(t *testing.T) {
	srv, _ := newTestServer(t)

	resp := postJSON(t, srv.URL+"/jobs/"+uuid.NewString()+"/cancel", "")
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("status: %d, want 404", resp.StatusCode)
	}
}
