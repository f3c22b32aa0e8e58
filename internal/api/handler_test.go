// Civicdupe - Duplicate-Detection and Lifecycle Engine for Civic Issue Reports
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/civicdupe

package api

import (
	"bytes"
	"context"
	"errors"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/goccy/go-json"

	"github.com/tomtom215/civicdupe/internal/blobstore"
	"github.com/tomtom215/civicdupe/internal/config"
	"github.com/tomtom215/civicdupe/internal/decider"
	"github.com/tomtom215/civicdupe/internal/dupeerrors"
	"github.com/tomtom215/civicdupe/internal/dupestore"
	"github.com/tomtom215/civicdupe/internal/embedding"
	"github.com/tomtom215/civicdupe/internal/engine"
	"github.com/tomtom215/civicdupe/internal/lifecycle"
	"github.com/tomtom215/civicdupe/internal/models"
	"github.com/tomtom215/civicdupe/internal/sweeper"
)

// fakeStore is an in-memory engine.Store for handler tests.
type fakeStore struct {
	mu      sync.Mutex
	reports map[string]*models.Report
}

func newFakeStore(reports ...*models.Report) *fakeStore {
	s := &fakeStore{reports: make(map[string]*models.Report)}
	for _, r := range reports {
		s.reports[r.ID] = r
	}
	return s
}

func (s *fakeStore) Insert(_ context.Context, r *models.Report) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *r
	s.reports[r.ID] = &cp
	return nil
}

func (s *fakeStore) Get(_ context.Context, id string) (*models.Report, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.reports[id]
	if !ok {
		return nil, dupestore.ErrNotFound
	}
	cp := *r
	return &cp, nil
}

func (s *fakeStore) Update(_ context.Context, r *models.Report) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.reports[r.ID]; !ok {
		return dupestore.ErrNotFound
	}
	cp := *r
	s.reports[r.ID] = &cp
	return nil
}

func (s *fakeStore) List(context.Context, dupestore.ListFilter) ([]*models.Report, int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*models.Report, 0, len(s.reports))
	for _, r := range s.reports {
		cp := *r
		out = append(out, &cp)
	}
	return out, int64(len(out)), nil
}

func (s *fakeStore) ListDuplicatesOf(_ context.Context, targetID string) ([]*models.Report, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*models.Report
	for _, r := range s.reports {
		if r.DuplicateOf == targetID {
			cp := *r
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (s *fakeStore) Candidates(context.Context, models.Location, string, time.Time, float64, time.Duration) ([]*models.Report, error) {
	return nil, nil
}

func (s *fakeStore) InsertAudit(context.Context, string, string, string, float64, string) error {
	return nil
}

func (s *fakeStore) DuplicateStats(context.Context) (*models.DuplicateStats, error) {
	return &models.DuplicateStats{}, nil
}

func (s *fakeStore) DeletionStats(context.Context) (*models.DeletionStats, error) {
	return &models.DeletionStats{}, nil
}

func (s *fakeStore) WithReportLock(_ string, fn func() error) error {
	return fn()
}

// DueDeletions and ArchiveAndDelete satisfy sweeper.Store so fakeStore can
// back the Handler's *sweeper.Sweeper field too; no test here drives the
// sweeper, so both are no-ops.
func (s *fakeStore) DueDeletions(context.Context, time.Time) ([]*models.Report, error) {
	return nil, nil
}

func (s *fakeStore) ArchiveAndDelete(context.Context, string, time.Time) (*models.ArchiveTombstone, error) {
	return nil, nil
}

// fakeLifecycle is a no-op engine.Lifecycle; no test in this file depends
// on a lifecycle result. The merge test stops at request validation and the
// cancel-deletion test only checks that the admin route resolves.
type fakeLifecycle struct{}

func (fakeLifecycle) SubmitFeedback(context.Context, string, string, models.FeedbackKind, string) (*models.Report, lifecycle.Transition, error) {
	return nil, lifecycle.TransitionNone, errors.New("not implemented in this fake")
}

func (fakeLifecycle) AddUpvote(context.Context, string, string) (*models.Report, error) {
	return nil, errors.New("not implemented in this fake")
}

func (fakeLifecycle) CancelDeletion(context.Context, string) error {
	return errors.New("not implemented in this fake")
}

func (fakeLifecycle) Merge(context.Context, string, string) error {
	return errors.New("not implemented in this fake")
}

type fakeImageEmbedder struct{ dim int }

func (f fakeImageEmbedder) Embed(context.Context, []byte) []float64 { return make([]float64, f.dim) }
func (f fakeImageEmbedder) Dimensions() int                         { return f.dim }
func (f fakeImageEmbedder) Provider() string                        { return "fake" }
func (f fakeImageEmbedder) ProviderVersion() int                    { return 1 }

type fakeScorer struct{}

func (fakeScorer) Score(_ context.Context, _, _ *models.Report, _ time.Time) models.ScoreBreakdown {
	return models.ScoreBreakdown{
		Overall:    0,
		Components: map[string]float64{"location": 0},
		Weights:    map[string]float64{"location": 1},
	}
}

func testDupeConfig() config.DupeConfig {
	return config.DupeConfig{MaxDistanceMeters: 100, TimeWindowDays: 30, THard: 0.90, TSoft: 0.75}
}

// newTestHandler builds a Handler wired to an in-memory fake store, with
// every other collaborator a minimal real or fake implementation — the
// same seam engine_test.go and lifecycle_test.go use.
func newTestHandler(t *testing.T, reports ...*models.Report) (*Handler, *fakeStore) {
	t.Helper()
	store := newFakeStore(reports...)
	scorer := fakeScorer{}
	d := decider.New(scorer, testDupeConfig())
	eng := engine.New(
		store,
		embedding.NewHashingTextEncoder(100),
		fakeImageEmbedder{dim: 8},
		scorer,
		d,
		fakeLifecycle{},
		blobstore.NewMemStore(""),
		nil,
		testDupeConfig(),
	)
	swp := sweeper.New(store, nil, config.SweeperConfig{Period: time.Hour, GraceDays: 10})
	return NewHandler(eng, swp, config.APIConfig{DefaultPageSize: 20, MaxPageSize: 100}), store
}

func decodeResponse(t *testing.T, rec *httptest.ResponseRecorder) APIResponse {
	t.Helper()
	var resp APIResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v (body: %s)", err, rec.Body.String())
	}
	return resp
}

func buildIngestMultipart(t *testing.T, description string, photoCount int) (*bytes.Buffer, string) {
	t.Helper()
	body := &bytes.Buffer{}
	w := multipart.NewWriter(body)

	fields := map[string]string{
		"reporter_id": "reporter-1",
		"lat":         "12.9716",
		"lon":         "77.5946",
		"category":    "POTHOLE",
		"severity":    "MEDIUM",
		"description": description,
	}
	for k, v := range fields {
		if err := w.WriteField(k, v); err != nil {
			t.Fatalf("write field %s: %v", k, err)
		}
	}
	for i := 0; i < photoCount; i++ {
		fw, err := w.CreateFormFile("photos", "photo.jpg")
		if err != nil {
			t.Fatalf("create form file: %v", err)
		}
		if _, err := fw.Write([]byte("fake-photo-bytes")); err != nil {
			t.Fatalf("write photo bytes: %v", err)
		}
	}
	if err := w.Close(); err != nil {
		t.Fatalf("close multipart writer: %v", err)
	}
	return body, w.FormDataContentType()
}

func TestIngestReportRejectsShortDescription(t *testing.T) {
	h, _ := newTestHandler(t)
	body, contentType := buildIngestMultipart(t, "too short", 1)

	req := httptest.NewRequest(http.MethodPost, "/v1/reports", body)
	req.Header.Set("Content-Type", contentType)
	rec := httptest.NewRecorder()

	h.IngestReport(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d (body: %s)", rec.Code, rec.Body.String())
	}
	resp := decodeResponse(t, rec)
	if resp.Success {
		t.Fatal("expected success=false on validation failure")
	}
	if resp.Error == nil || resp.Error.Code != ErrCodeValidationFailed {
		t.Fatalf("expected %s error code, got %+v", ErrCodeValidationFailed, resp.Error)
	}
}

func TestIngestReportRejectsMoreThanThreePhotos(t *testing.T) {
	h, store := newTestHandler(t)
	body, contentType := buildIngestMultipart(t, "A pothole large enough to damage tires", 4)

	req := httptest.NewRequest(http.MethodPost, "/v1/reports", body)
	req.Header.Set("Content-Type", contentType)
	rec := httptest.NewRecorder()

	h.IngestReport(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for >3 photos, got %d (body: %s)", rec.Code, rec.Body.String())
	}
	resp := decodeResponse(t, rec)
	if resp.Success {
		t.Fatal("expected success=false when more than 3 photos are uploaded")
	}

	store.mu.Lock()
	count := len(store.reports)
	store.mu.Unlock()
	if count != 0 {
		t.Fatalf("rejected ingestion must not persist anything, got %d reports", count)
	}
}

func TestWriteEngineErrorMapsKindsToStatus(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus int
		wantCode   string
	}{
		{"validation", dupeerrors.Validation("bad input"), http.StatusBadRequest, ErrCodeValidationFailed},
		{"not found kind", dupeerrors.NotFound("missing"), http.StatusNotFound, ErrCodeNotFound},
		{"store sentinel not found", dupestore.ErrNotFound, http.StatusNotFound, ErrCodeNotFound},
		{"conflict", dupeerrors.Conflict("duplicate vote"), http.StatusConflict, ErrCodeConflict},
		{"dependency unavailable", dupeerrors.DependencyUnavailable(errors.New("boom"), "index down"), http.StatusServiceUnavailable, ErrCodeServiceUnavailable},
		{"unwrapped error defaults internal", errors.New("mystery failure"), http.StatusInternalServerError, ErrCodeInternalError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/v1/reports/x", nil)
			rec := httptest.NewRecorder()

			WriteEngineError(rec, req, tt.err)

			if rec.Code != tt.wantStatus {
				t.Fatalf("expected status %d, got %d", tt.wantStatus, rec.Code)
			}
			resp := decodeResponse(t, rec)
			if resp.Error == nil || resp.Error.Code != tt.wantCode {
				t.Fatalf("expected error code %s, got %+v", tt.wantCode, resp.Error)
			}
		})
	}
}

func TestGetReportNotFound(t *testing.T) {
	h, _ := newTestHandler(t)

	req := httptest.NewRequest(http.MethodGet, "/v1/reports/missing", nil)
	rec := httptest.NewRecorder()
	r := NewRouter(h)
	r.ServeHTTP(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d (body: %s)", rec.Code, rec.Body.String())
	}
}

func TestUpdateStatusCascadesResolvedToDuplicates(t *testing.T) {
	original := &models.Report{ID: "orig-1", Category: "POTHOLE", Status: models.StatusReported}
	dup1 := &models.Report{ID: "dup-1", Category: "POTHOLE", Status: models.StatusReported, DuplicateOf: "orig-1"}
	dup2 := &models.Report{ID: "dup-2", Category: "POTHOLE", Status: models.StatusReported, DuplicateOf: "orig-1"}
	h, store := newTestHandler(t, original, dup1, dup2)

	reqBody, err := json.Marshal(models.StatusUpdateRequest{Status: models.StatusResolved, MarkDuplicates: true})
	if err != nil {
		t.Fatalf("marshal request: %v", err)
	}

	req := httptest.NewRequest(http.MethodPut, "/v1/reports/orig-1/status", bytes.NewReader(reqBody))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	r := NewRouter(h)
	r.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d (body: %s)", rec.Code, rec.Body.String())
	}

	store.mu.Lock()
	defer store.mu.Unlock()
	if store.reports["orig-1"].Status != models.StatusResolved {
		t.Fatalf("expected original resolved, got %s", store.reports["orig-1"].Status)
	}
	if store.reports["dup-1"].Status != models.StatusResolved {
		t.Fatalf("expected dup-1 cascaded to resolved, got %s", store.reports["dup-1"].Status)
	}
	if store.reports["dup-2"].Status != models.StatusResolved {
		t.Fatalf("expected dup-2 cascaded to resolved, got %s", store.reports["dup-2"].Status)
	}
}

func TestUpdateStatusWithoutMarkDuplicatesDoesNotCascade(t *testing.T) {
	original := &models.Report{ID: "orig-1", Category: "POTHOLE", Status: models.StatusReported}
	dup1 := &models.Report{ID: "dup-1", Category: "POTHOLE", Status: models.StatusReported, DuplicateOf: "orig-1"}
	h, store := newTestHandler(t, original, dup1)

	reqBody, err := json.Marshal(models.StatusUpdateRequest{Status: models.StatusResolved, MarkDuplicates: false})
	if err != nil {
		t.Fatalf("marshal request: %v", err)
	}

	req := httptest.NewRequest(http.MethodPut, "/v1/reports/orig-1/status", bytes.NewReader(reqBody))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	r := NewRouter(h)
	r.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d (body: %s)", rec.Code, rec.Body.String())
	}

	store.mu.Lock()
	defer store.mu.Unlock()
	if store.reports["dup-1"].Status != models.StatusReported {
		t.Fatalf("expected dup-1 untouched without mark_duplicates, got %s", store.reports["dup-1"].Status)
	}
}

func TestMergeValidationRejectsSameTargetAndSource(t *testing.T) {
	h, _ := newTestHandler(t)

	reqBody, err := json.Marshal(models.MergeRequest{TargetID: "same", SourceID: "same"})
	if err != nil {
		t.Fatalf("marshal request: %v", err)
	}

	req := httptest.NewRequest(http.MethodPost, "/v1/admin/merge", bytes.NewReader(reqBody))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	r := NewRouter(h)
	r.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for target==source, got %d (body: %s)", rec.Code, rec.Body.String())
	}
}

func TestCancelDeletionRouteIsUnderAdmin(t *testing.T) {
	h, _ := newTestHandler(t)
	r := NewRouter(h)

	// The legacy public-namespace path must no longer resolve.
	req := httptest.NewRequest(http.MethodPost, "/v1/reports/orig-1/cancel-deletion", nil)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected the public cancel-deletion route to be gone, got %d", rec.Code)
	}

	req = httptest.NewRequest(http.MethodPost, "/v1/admin/reports/orig-1/cancel-deletion", nil)
	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	if rec.Code == http.StatusNotFound {
		t.Fatal("expected the admin cancel-deletion route to resolve")
	}
}
