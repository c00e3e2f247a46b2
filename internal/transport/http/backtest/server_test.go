package backtesthttp

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"tickforge/internal/backfill"
	"tickforge/internal/chart"
	"tickforge/internal/interval"
	"tickforge/internal/report"
	"tickforge/internal/store"
	"tickforge/internal/store/gormstore"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var t0 = time.Date(2021, 5, 13, 12, 0, 0, 0, time.UTC)

type fakeBackfill struct {
	submitted []backfill.Params
	jobs      map[string]backfill.Job
}

func (f *fakeBackfill) Submit(p backfill.Params) (backfill.Job, error) {
	f.submitted = append(f.submitted, p)
	job := backfill.Job{ID: "job-1", Status: backfill.JobStatusPending, Params: p}
	f.jobs[job.ID] = job
	return job, nil
}

func (f *fakeBackfill) JobSnapshot(id string) (backfill.Job, bool) {
	job, ok := f.jobs[id]
	return job, ok
}

func (f *fakeBackfill) JobsSnapshot() []backfill.Job {
	out := make([]backfill.Job, 0, len(f.jobs))
	for _, j := range f.jobs {
		out = append(out, j)
	}
	return out
}

func (f *fakeBackfill) Sources() []string { return []string{"binance", "csv"} }

type fakeReports struct {
	reports map[string]*report.BacktestReport
	jobs    map[string]backfill.Job
}

func (f *fakeReports) ListReports(ctx context.Context, limit int) ([]gormstore.ReportSummary, error) {
	var out []gormstore.ReportSummary
	for id, r := range f.reports {
		out = append(out, gormstore.ReportSummary{RunID: id, Strategy: r.Strategy})
	}
	return out, nil
}

func (f *fakeReports) GetReport(ctx context.Context, runID string) (*report.BacktestReport, error) {
	r, ok := f.reports[runID]
	if !ok {
		return nil, gormstore.ErrNotFound
	}
	return r, nil
}

func (f *fakeReports) GetJob(ctx context.Context, id string) (backfill.Job, error) {
	j, ok := f.jobs[id]
	if !ok {
		return backfill.Job{}, gormstore.ErrNotFound
	}
	return j, nil
}

func (f *fakeReports) ListJobs(ctx context.Context, limit int) ([]backfill.Job, error) {
	var out []backfill.Job
	for _, j := range f.jobs {
		out = append(out, j)
	}
	return out, nil
}

type fixture struct {
	srv     *Server
	svc     *fakeBackfill
	reports *fakeReports
	key     string
}

func newFixture(t *testing.T) fixture {
	t.Helper()
	c, err := chart.Candlestick("EURUSD", interval.Minutes(1))
	require.NoError(t, err)
	mem := store.NewMemoryStore(nil)
	var rows []chart.Row
	for i := 0; i < 30; i++ {
		v := 1.2 + float64(i)*0.0001
		rows = append(rows, chart.Row{Timestamp: t0.Add(time.Duration(i) * time.Minute), Values: map[string]float64{
			"open": v, "high": v, "low": v, "close": v, "volume": 1,
		}})
	}
	mem.Put(c.Key(), rows)

	svc := &fakeBackfill{jobs: map[string]backfill.Job{}}
	reports := &fakeReports{
		reports: map[string]*report.BacktestReport{
			"run-1": {RunID: "run-1", Strategy: "script", Curve: []report.EquityPoint{
				{Time: t0, Equity: 10000}, {Time: t0.Add(time.Minute), Equity: 10010},
			}},
			"empty": {RunID: "empty", Strategy: "script"},
		},
		jobs: map[string]backfill.Job{"old": {ID: "old", Status: backfill.JobStatusDone}},
	}
	srv, err := NewServer(Config{Addr: ":0", Backfill: svc, Store: mem, Reports: reports})
	require.NoError(t, err)
	return fixture{srv: srv, svc: svc, reports: reports, key: c.Key()}
}

func (f fixture) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	f.srv.Handler().ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	return out
}

func TestNewServerRequiresStore(t *testing.T) {
	_, err := NewServer(Config{Backfill: &fakeBackfill{}})
	assert.Error(t, err)
}

func TestBackfillDisabledWithoutSources(t *testing.T) {
	srv, err := NewServer(Config{Store: store.NewMemoryStore(nil)})
	require.NoError(t, err)
	rec := httptest.NewRecorder()
	body := bytes.NewBufferString(`{"chart":"x","from":"2021-01-01T00:00:00Z","to":"2021-01-02T00:00:00Z"}`)
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/backfill", body))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	rec = httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/backfill", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestHealthAndSources(t *testing.T) {
	f := newFixture(t)
	assert.Equal(t, http.StatusOK, f.do(t, http.MethodGet, "/healthz", nil).Code)

	rec := f.do(t, http.MethodGet, "/api/sources", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []any{"binance", "csv"}, decode(t, rec)["sources"])
}

func TestSubmitBackfill(t *testing.T) {
	f := newFixture(t)
	rec := f.do(t, http.MethodPost, "/api/backfill", map[string]any{
		"chart":     "candlestick.EURUSD.1h",
		"source":    "binance",
		"from":      "2021-01-01T00:00:00Z",
		"to":        "2021-03-01T00:00:00Z",
		"increment": "1w",
	})
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())
	require.Len(t, f.svc.submitted, 1)
	p := f.svc.submitted[0]
	assert.Equal(t, "binance", p.Source)
	assert.Equal(t, interval.Weeks(1), p.Increment)
	assert.False(t, p.Clean)

	rec = f.do(t, http.MethodPost, "/api/backfill", map[string]any{"chart": "x", "from": "2021-01-01T00:00:00Z", "to": "2021-01-02T00:00:00Z", "increment": "fortnight"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = f.do(t, http.MethodPost, "/api/backfill", map[string]any{"source": "binance"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestJobLookupFallsBackToHistory(t *testing.T) {
	f := newFixture(t)
	f.do(t, http.MethodPost, "/api/backfill", map[string]any{
		"chart": "candlestick.EURUSD.1h", "from": "2021-01-01T00:00:00Z", "to": "2021-01-02T00:00:00Z",
	})
	assert.Equal(t, http.StatusOK, f.do(t, http.MethodGet, "/api/backfill/job-1", nil).Code)
	assert.Equal(t, http.StatusOK, f.do(t, http.MethodGet, "/api/backfill/old", nil).Code)
	assert.Equal(t, http.StatusNotFound, f.do(t, http.MethodGet, "/api/backfill/missing", nil).Code)

	rec := f.do(t, http.MethodGet, "/api/backfill?history=1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	body := decode(t, rec)
	assert.Len(t, body["jobs"], 1)
	assert.Len(t, body["history"], 1)
}

func TestChartEndpoints(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, http.MethodGet, "/api/charts", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	charts := decode(t, rec)["charts"].([]any)
	require.Len(t, charts, 1)
	assert.Equal(t, f.key, charts[0].(map[string]any)["key"])
	assert.Equal(t, true, charts[0].(map[string]any)["valid"])

	rec = f.do(t, http.MethodGet, "/api/charts/"+f.key+"/window", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var info chartInfo
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &info))
	assert.True(t, info.Window.From.Equal(t0))
	assert.True(t, info.Window.To.Equal(t0.Add(29*time.Minute)))

	missing, err := chart.Candlestick("GBPUSD", interval.Minutes(1))
	require.NoError(t, err)
	assert.Equal(t, http.StatusNotFound, f.do(t, http.MethodGet, "/api/charts/"+missing.Key()+"/window", nil).Code)
	assert.Equal(t, http.StatusBadRequest, f.do(t, http.MethodGet, "/api/charts/bogus/window", nil).Code)
}

func TestChartRowsWithIndicators(t *testing.T) {
	f := newFixture(t)
	path := "/api/charts/" + f.key + "/rows?from=2021-05-13T12:10:00Z&to=2021-05-13T12:19:00Z&indicators=sma:5"
	rec := f.do(t, http.MethodGet, path, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var body struct {
		Fields []string     `json:"fields"`
		Rows   []rowPayload `json:"rows"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Len(t, body.Rows, 10)
	assert.Contains(t, body.Fields, "close")
	assert.Contains(t, body.Fields, "sma(5).value")
	first := body.Rows[0]
	assert.True(t, first.Timestamp.Equal(t0.Add(10*time.Minute)))
	assert.Nil(t, first.Values["sma(5).value"], "warmup rows have no indicator value")
	last := body.Rows[9].Values["sma(5).value"]
	require.NotNil(t, last)
	assert.InDelta(t, 1.2017, *last, 1e-9)

	assert.Equal(t, http.StatusBadRequest, f.do(t, http.MethodGet, "/api/charts/"+f.key+"/rows?indicators=wma:3", nil).Code)
	assert.Equal(t, http.StatusBadRequest, f.do(t, http.MethodGet, "/api/charts/"+f.key+"/rows?limit=-1", nil).Code)
	assert.Equal(t, http.StatusBadRequest, f.do(t, http.MethodGet, "/api/charts/"+f.key+"/rows?from=yesterday", nil).Code)
}

func TestCommonWindow(t *testing.T) {
	f := newFixture(t)
	rec := f.do(t, http.MethodPost, "/api/window", map[string]any{"charts": []string{f.key}})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, true, decode(t, rec)["valid"])

	rec = f.do(t, http.MethodPost, "/api/window", map[string]any{"charts": []string{f.key, "CandlestickChart.GBPUSD.1m"}})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, false, decode(t, rec)["valid"])

	assert.Equal(t, http.StatusBadRequest, f.do(t, http.MethodPost, "/api/window", map[string]any{"charts": []string{}}).Code)
}

func TestReportEndpoints(t *testing.T) {
	f := newFixture(t)
	rec := f.do(t, http.MethodGet, "/api/reports", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode(t, rec)["reports"], 2)

	rec = f.do(t, http.MethodGet, "/api/reports/run-1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "run-1", decode(t, rec)["report"].(map[string]any)["run_id"])
	assert.Equal(t, http.StatusNotFound, f.do(t, http.MethodGet, "/api/reports/nope", nil).Code)

	rec = f.do(t, http.MethodGet, "/api/reports/run-1/chart", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Header().Get("Content-Type"), "text/html")
	assert.Contains(t, rec.Body.String(), "echarts")

	assert.Equal(t, http.StatusUnprocessableEntity, f.do(t, http.MethodGet, "/api/reports/empty/chart", nil).Code)
}

func TestReportsDisabled(t *testing.T) {
	srv, err := NewServer(Config{Backfill: &fakeBackfill{jobs: map[string]backfill.Job{}}, Store: store.NewMemoryStore(nil)})
	require.NoError(t, err)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/reports", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}
