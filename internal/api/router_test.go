package api

import (
	"bytes"
	"context"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/finledger/finledger/internal/api/handlers"
	"github.com/finledger/finledger/internal/csvimport"
	"github.com/finledger/finledger/internal/domain"
	"github.com/finledger/finledger/internal/filestore"
	"github.com/finledger/finledger/internal/jobtrack"
	"github.com/finledger/finledger/internal/jobtrack/inmemory"
	"github.com/finledger/finledger/internal/ledger"
	"github.com/finledger/finledger/internal/staging"
)

type importRepo struct {
	mu   sync.Mutex
	jobs map[string]*domain.ImportJob
}

func (r *importRepo) Insert(ctx context.Context, job *domain.ImportJob) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *job
	r.jobs[job.ID] = &cp
	return nil
}

func (r *importRepo) Get(ctx context.Context, id, userID string) (*domain.ImportJob, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	job, ok := r.jobs[id]
	if !ok || job.UserID != userID {
		return nil, domain.ErrNotFound
	}
	cp := *job
	return &cp, nil
}

func (r *importRepo) FindByChecksum(ctx context.Context, userID, accountID, checksum string) (*domain.ImportJob, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, job := range r.jobs {
		if job.UserID == userID && job.AccountID == accountID && job.Checksum == checksum {
			cp := *job
			return &cp, nil
		}
	}
	return nil, domain.ErrNotFound
}

func (r *importRepo) List(ctx context.Context, userID string) ([]*domain.ImportJob, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*domain.ImportJob
	for _, job := range r.jobs {
		if job.UserID == userID {
			cp := *job
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (r *importRepo) Update(ctx context.Context, job *domain.ImportJob) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	stored, ok := r.jobs[job.ID]
	if !ok {
		return domain.ErrNotFound
	}
	status := stored.Status
	cp := *job
	cp.Status = status
	r.jobs[job.ID] = &cp
	return nil
}

func (r *importRepo) UpdateStatusIf(ctx context.Context, id string, from, to domain.ImportStatus) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	job, ok := r.jobs[id]
	if !ok {
		return domain.ErrNotFound
	}
	if job.Status != from {
		return domain.ErrStateConflict
	}
	job.Status = to
	job.UpdatedAt = time.Now().UTC()
	return nil
}

type recordingLedger struct {
	mu        sync.Mutex
	committed []*domain.Transaction
}

func (l *recordingLedger) Commit(ctx context.Context, tx *domain.Transaction) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.committed = append(l.committed, tx)
	return nil
}

func (l *recordingLedger) ListWindow(ctx context.Context, accountID string, from, to time.Time) ([]*domain.Transaction, error) {
	return nil, nil
}

type singleAccount struct{}

func (singleAccount) Get(ctx context.Context, accountID, userID string) (*ledger.Account, error) {
	if accountID != "acc-1" || userID != "user-1" {
		return nil, domain.ErrNotFound
	}
	return &ledger.Account{ID: accountID, UserID: userID}, nil
}

type staticCategories struct{}

func (staticCategories) ListActive(ctx context.Context) ([]ledger.Category, error) {
	return []ledger.Category{{ID: "groceries", Name: "Groceries"}}, nil
}

func newTestServer(t *testing.T) (*httptest.Server, *recordingLedger) {
	t.Helper()
	led := &recordingLedger{}
	tracker := jobtrack.New(inmemory.NewStore())
	importSvc := csvimport.NewService(csvimport.ServiceConfig{
		Repo:        &importRepo{jobs: make(map[string]*domain.ImportJob)},
		Ledger:      led,
		Accounts:    singleAccount{},
		Categories:  staticCategories{},
		Files:       filestore.NewMemoryStore(),
		Stage:       staging.NewMemoryStore(time.Hour),
		Tracker:     tracker,
		MaxFileSize: 1 << 20,
		Log:         zerolog.Nop(),
	})

	router := NewRouter(RouterConfig{
		Imports:    handlers.NewImportsHandler(importSvc, tracker, 1<<20, zerolog.Nop()),
		Statements: handlers.NewStatementsHandler(nil, tracker, 1<<20, zerolog.Nop()),
		Jobs:       handlers.NewJobsHandler(tracker, zerolog.Nop()),
		Log:        zerolog.Nop(),
	})
	srv := httptest.NewServer(router)
	t.Cleanup(srv.Close)
	return srv, led
}

func doJSON(t *testing.T, method, url, userID string, body []byte, contentType string) (*http.Response, map[string]interface{}) {
	t.Helper()
	req, err := http.NewRequest(method, url, bytes.NewReader(body))
	require.NoError(t, err)
	if userID != "" {
		req.Header.Set("X-User-ID", userID)
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	// Some error responses have empty bodies; tests that care about the
	// payload assert on the decoded map themselves.
	var decoded map[string]interface{}
	_ = json.NewDecoder(resp.Body).Decode(&decoded)
	return resp, decoded
}

func multipartCSV(t *testing.T, accountID, filename, content string) (*bytes.Buffer, string) {
	t.Helper()
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	require.NoError(t, w.WriteField("account_id", accountID))
	part, err := w.CreateFormFile("file", filename)
	require.NoError(t, err)
	_, err = part.Write([]byte(content))
	require.NoError(t, err)
	require.NoError(t, w.Close())
	return &buf, w.FormDataContentType()
}

func TestHealthNeedsNoAuth(t *testing.T) {
	srv, _ := newTestServer(t)
	resp, body := doJSON(t, http.MethodGet, srv.URL+"/api/health", "", nil, "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "ok", body["status"])
}

func TestMissingUserIDRejected(t *testing.T) {
	srv, _ := newTestServer(t)
	resp, _ := doJSON(t, http.MethodGet, srv.URL+"/api/imports", "", nil, "")
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestImportUploadConfirmFlow(t *testing.T) {
	srv, led := newTestServer(t)

	csv := "date,amount,description,category,notes\n" +
		"2026-03-01,-10.00,Lunch,Groceries,\n" +
		"2026-03-02,-20.00,More Lunch,,\n"
	buf, contentType := multipartCSV(t, "acc-1", "march.csv", csv)

	req, err := http.NewRequest(http.MethodPost, srv.URL+"/api/imports", buf)
	require.NoError(t, err)
	req.Header.Set("X-User-ID", "user-1")
	req.Header.Set("Content-Type", contentType)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	var uploaded struct {
		Import struct {
			ID        string `json:"id"`
			Status    string `json:"status"`
			TotalRows int    `json:"total_rows"`
			ValidRows int    `json:"valid_rows"`
		} `json:"import"`
		Rows []json.RawMessage `json:"rows"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&uploaded))
	assert.Equal(t, "VALIDATED", uploaded.Import.Status)
	assert.Equal(t, 2, uploaded.Import.TotalRows)
	assert.Equal(t, 2, uploaded.Import.ValidRows)
	require.Len(t, uploaded.Rows, 2)

	confirmReq := []byte(`{"import_id":"` + uploaded.Import.ID + `","skip_duplicates":true}`)
	confirmResp, confirmBody := doJSON(t, http.MethodPost,
		srv.URL+"/api/imports/confirm", "user-1", confirmReq, "application/json")
	assert.Equal(t, http.StatusOK, confirmResp.StatusCode)
	imported := confirmBody["import"].(map[string]interface{})
	assert.Equal(t, "COMPLETED", imported["status"])
	assert.Len(t, led.committed, 2)

	// A second confirm must hit the state conflict path.
	again, _ := doJSON(t, http.MethodPost,
		srv.URL+"/api/imports/confirm", "user-1", confirmReq, "application/json")
	assert.Equal(t, http.StatusConflict, again.StatusCode)

	jobResp, jobBody := doJSON(t, http.MethodGet,
		srv.URL+"/api/imports/"+uploaded.Import.ID+"/job", "user-1", nil, "")
	assert.Equal(t, http.StatusOK, jobResp.StatusCode)
	exec := jobBody["execution"].(map[string]interface{})
	assert.Equal(t, "SUCCEEDED", exec["status"])
	assert.Len(t, jobBody["steps"].([]interface{}), 4)
}

func TestImportNotFound(t *testing.T) {
	srv, _ := newTestServer(t)
	resp, _ := doJSON(t, http.MethodGet, srv.URL+"/api/imports/nope", "user-1", nil, "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestImportTemplate(t *testing.T) {
	srv, _ := newTestServer(t)
	req, err := http.NewRequest(http.MethodGet, srv.URL+"/api/imports/template", nil)
	require.NoError(t, err)
	req.Header.Set("X-User-ID", "user-1")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "text/csv", resp.Header.Get("Content-Type"))
}

func TestJobsEndpoint(t *testing.T) {
	srv, _ := newTestServer(t)

	csv := "date,amount,description,category,notes\n2026-03-01,-10.00,Lunch,,\n"
	buf, contentType := multipartCSV(t, "acc-1", "a.csv", csv)
	req, err := http.NewRequest(http.MethodPost, srv.URL+"/api/imports", buf)
	require.NoError(t, err)
	req.Header.Set("X-User-ID", "user-1")
	req.Header.Set("Content-Type", contentType)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	listResp, listBody := doJSON(t, http.MethodGet, srv.URL+"/api/jobs?job_name=csv_import", "user-1", nil, "")
	assert.Equal(t, http.StatusOK, listResp.StatusCode)
	execs := listBody["executions"].([]interface{})
	require.Len(t, execs, 1)
	execID := execs[0].(map[string]interface{})["id"].(string)

	getResp, getBody := doJSON(t, http.MethodGet, srv.URL+"/api/jobs/"+execID, "user-1", nil, "")
	assert.Equal(t, http.StatusOK, getResp.StatusCode)
	steps := getBody["steps"].([]interface{})
	assert.Len(t, steps, 3)

	badResp, _ := doJSON(t, http.MethodGet, srv.URL+"/api/jobs?limit=zero", "user-1", nil, "")
	assert.Equal(t, http.StatusBadRequest, badResp.StatusCode)
}

func TestRequestIDEchoed(t *testing.T) {
	srv, _ := newTestServer(t)
	req, err := http.NewRequest(http.MethodGet, srv.URL+"/api/health", nil)
	require.NoError(t, err)
	req.Header.Set("X-Request-ID", "req-42")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, "req-42", resp.Header.Get("X-Request-ID"))
}
