package handlers

import (
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	apperrors "github.com/3leaps/jobwatch/internal/errors"
	"github.com/3leaps/jobwatch/pkg/cache"
	"github.com/3leaps/jobwatch/pkg/history"
	"github.com/3leaps/jobwatch/pkg/match"
	"github.com/3leaps/jobwatch/pkg/output"
	"github.com/3leaps/jobwatch/pkg/reconcile"
)

// API serves experiment state under /v1.
type API struct {
	Caches  *cache.Set
	Monitor *reconcile.Monitor
	Loop    *reconcile.Loop
	Fetcher cache.DetailFetcher
	Events  *EventLog
	// History is optional; its routes answer 503 without it.
	History *history.Store
	Logger  *zap.Logger
}

// Mount registers the API routes on r.
func (a *API) Mount(r chi.Router) {
	r.Get("/experiments", a.listExperiments)
	r.Get("/experiments/{id}", a.getExperiment)
	r.Get("/stats", a.stats)
	r.Get("/events", a.events)
	r.Post("/reconcile", a.reconcile)
	r.Get("/history/runs", a.historyRuns)
	r.Get("/history/changes", a.historyChanges)
}

func (a *API) logger() *zap.Logger {
	if a.Logger == nil {
		return zap.NewNop()
	}
	return a.Logger
}

// ExperimentList is the body of GET /v1/experiments.
type ExperimentList struct {
	At          time.Time                  `json:"at"`
	Count       int                        `json:"count"`
	Experiments []*output.ExperimentRecord `json:"experiments"`
}

func (a *API) listExperiments(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	sel, err := match.NewSelector(splitParam(q.Get("match")), splitParam(q.Get("exclude")), false, &match.FilterConfig{
		Statuses:     splitParam(q.Get("status")),
		MaxAge:       q.Get("max_age"),
		ClusterRegex: q.Get("cluster"),
		Tags:         splitParam(q.Get("tag")),
	})
	if err != nil {
		respondWithError(w, r, err)
		return
	}

	snap := a.Monitor.Snapshot()
	if snap.At.IsZero() || boolParam(q.Get("refresh")) {
		snap, err = a.Monitor.Refresh(r.Context())
		if err != nil {
			respondWithError(w, r, err)
			return
		}
	}

	body := ExperimentList{At: snap.At, Experiments: []*output.ExperimentRecord{}}
	for _, it := range snap.Items {
		tag := a.Caches.Tags.Get(it.ID)
		if !sel.Selects(match.SubjectOf(it.ExperimentSummary, tag)) {
			continue
		}
		body.Experiments = append(body.Experiments, output.NewExperimentRecord(it, tag))
	}
	body.Count = len(body.Experiments)
	writeJSON(w, http.StatusOK, body)
}

// ExperimentDetail is the body of GET /v1/experiments/{id}.
type ExperimentDetail struct {
	ID        string              `json:"id"`
	Status    string              `json:"status"`
	Cluster   string              `json:"cluster,omitempty"`
	JobCount  int                 `json:"job_count"`
	FromCache bool                `json:"from_cache"`
	Tag       string              `json:"tag,omitempty"`
	Jobs      []*output.JobRecord `json:"jobs"`
}

func (a *API) getExperiment(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	d, err := a.Caches.Lookup(r.Context(), id, a.Fetcher, boolParam(r.URL.Query().Get("refresh")))
	if err != nil {
		if d == nil {
			respondWithError(w, r, err)
			return
		}
		a.logger().Warn("Cache write-through failed", zap.String("experiment", id), zap.Error(err))
	}

	fallback := ""
	if e, ok := a.Caches.Experiments.Get(id); ok {
		fallback = e.Status
	}
	body := ExperimentDetail{
		ID:        id,
		Status:    cache.ResolveStatus(d, fallback),
		Cluster:   d.Cluster(),
		JobCount:  d.JobCount(),
		FromCache: d.FromCache(),
		Tag:       a.Caches.Tags.Get(id),
		Jobs:      []*output.JobRecord{},
	}
	for _, j := range d.Jobs() {
		body.Jobs = append(body.Jobs, output.NewJobRecord(id, j, d.FromCache()))
	}
	writeJSON(w, http.StatusOK, body)
}

// Stats is the body of GET /v1/stats.
type Stats struct {
	Experiments   map[string]int `json:"experiments"`
	Details       map[string]int `json:"details"`
	Tagged        int            `json:"tagged"`
	Listed        int            `json:"listed"`
	Cached        int            `json:"cached"`
	RefreshedAt   time.Time      `json:"refreshed_at"`
	DroppedEvents int64          `json:"dropped_events"`
	History       *history.Stats `json:"history,omitempty"`
}

func (a *API) stats(w http.ResponseWriter, r *http.Request) {
	snap := a.Monitor.Snapshot()
	body := Stats{
		Experiments: a.Caches.Experiments.Stats(),
		Details:     a.Caches.Details.Stats(),
		Tagged:      len(a.Caches.Tags.All()),
		Listed:      snap.Listed,
		Cached:      snap.Cached,
		RefreshedAt: snap.At,
	}
	if a.Loop != nil {
		body.DroppedEvents = a.Loop.Dropped()
	}
	if a.History != nil {
		hs, err := a.History.Stats(r.Context())
		if err != nil {
			respondWithError(w, r, err)
			return
		}
		body.History = &hs
	}
	writeJSON(w, http.StatusOK, body)
}

func (a *API) events(w http.ResponseWriter, r *http.Request) {
	limit, err := intParam(r.URL.Query().Get("limit"), 50)
	if err != nil {
		respondWithError(w, r, err)
		return
	}
	events := []reconcile.StatusChange{}
	if a.Events != nil {
		events = append(events, a.Events.Recent(limit)...)
	}
	writeJSON(w, http.StatusOK, map[string]any{"events": events})
}

// reconcile queues a cycle, or with wait=true runs one and returns its
// result.
func (a *API) reconcile(w http.ResponseWriter, r *http.Request) {
	if a.Loop == nil {
		respondWithError(w, r, apperrors.NewServiceUnavailable("reconciliation is not running"))
		return
	}
	if !boolParam(r.URL.Query().Get("wait")) {
		a.Loop.Trigger()
		writeJSON(w, http.StatusAccepted, map[string]string{"status": "queued"})
		return
	}
	res, err := a.Loop.RunOnce(r.Context())
	if err != nil {
		respondWithError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (a *API) historyRuns(w http.ResponseWriter, r *http.Request) {
	if a.History == nil {
		respondWithError(w, r, apperrors.NewServiceUnavailable("history store is not configured"))
		return
	}
	limit, err := intParam(r.URL.Query().Get("limit"), 20)
	if err != nil {
		respondWithError(w, r, err)
		return
	}
	runs, err := a.History.ListRuns(r.Context(), limit)
	if err != nil {
		respondWithError(w, r, err)
		return
	}
	if runs == nil {
		runs = []history.Run{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"runs": runs})
}

func (a *API) historyChanges(w http.ResponseWriter, r *http.Request) {
	if a.History == nil {
		respondWithError(w, r, apperrors.NewServiceUnavailable("history store is not configured"))
		return
	}
	q := r.URL.Query()
	limit, err := intParam(q.Get("limit"), 100)
	if err != nil {
		respondWithError(w, r, err)
		return
	}
	cq := history.ChangeQuery{Experiment: q.Get("experiment"), Limit: limit}
	if since := q.Get("since"); since != "" {
		cq.Since, err = time.Parse(time.RFC3339, since)
		if err != nil {
			respondWithError(w, r, apperrors.NewInvalidArgument("since must be RFC3339", err))
			return
		}
	}
	changes, err := a.History.ListChanges(r.Context(), cq)
	if err != nil {
		respondWithError(w, r, err)
		return
	}
	if changes == nil {
		changes = []history.Change{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"changes": changes})
}

func splitParam(v string) []string {
	if strings.TrimSpace(v) == "" {
		return nil
	}
	var out []string
	for _, p := range strings.Split(v, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func boolParam(v string) bool {
	b, _ := strconv.ParseBool(v)
	return b
}

var errBadLimit = errors.New("limit must be a non-negative integer")

func intParam(v string, def int) (int, error) {
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return 0, apperrors.NewInvalidArgument("invalid limit", errBadLimit)
	}
	return n, nil
}
