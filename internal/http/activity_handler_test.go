package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"commonwealth/internal/domain"
)

type fakeActivity struct {
	items []domain.ActivityItem
	err   error
}

func (f *fakeActivity) GetGlobalActivity(context.Context) ([]domain.ActivityItem, error) {
	return f.items, f.err
}

func serveActivity(t *testing.T, reader ActivityReader) (*httptest.ResponseRecorder, map[string][]domain.ActivityItem) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.GET("/activity/global", NewActivityHandler(zap.NewNop(), reader).GlobalActivity)

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/activity/global", nil))

	var out map[string][]domain.ActivityItem
	if rec.Code == http.StatusOK {
		if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
			t.Fatalf("decode response: %v", err)
		}
	}
	return rec, out
}

func TestActivityHandler_ReturnsFeed(t *testing.T) {
	reader := &fakeActivity{items: []domain.ActivityItem{
		{Kind: domain.ActivityThread, ID: 1, ThreadID: 1, CommunityID: "ethereum", Title: "hello", CreatedAt: time.Now().UTC()},
		{Kind: domain.ActivityComment, ID: 5, ThreadID: 1, CommunityID: "ethereum", CreatedAt: time.Now().UTC()},
	}}

	rec, out := serveActivity(t, reader)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if len(out["activity"]) != 2 || out["activity"][1].Kind != domain.ActivityComment {
		t.Fatalf("unexpected feed: %+v", out)
	}
}

func TestActivityHandler_EmptyFeedIsArray(t *testing.T) {
	rec, _ := serveActivity(t, &fakeActivity{})
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if body := rec.Body.String(); body != `{"activity":[]}` {
		t.Fatalf("expected empty array, got %s", body)
	}
}

func TestActivityHandler_Error(t *testing.T) {
	rec, _ := serveActivity(t, &fakeActivity{err: errors.New("boom")})
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", rec.Code)
	}
}

func TestHealth(t *testing.T) {
	gin.SetMode(gin.TestMode)
	ok := func(context.Context) error { return nil }
	down := func(context.Context) error { return errors.New("connection refused") }

	cases := []struct {
		name   string
		checks map[string]Pinger
		status int
	}{
		{"all up", map[string]Pinger{"postgres": ok, "redis": ok}, http.StatusOK},
		{"redis down", map[string]Pinger{"postgres": ok, "redis": down}, http.StatusServiceUnavailable},
		{"no checks", nil, http.StatusOK},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			r := gin.New()
			r.GET("/healthz", Health(tc.checks))
			rec := httptest.NewRecorder()
			r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
			if rec.Code != tc.status {
				t.Fatalf("expected %d, got %d: %s", tc.status, rec.Code, rec.Body.String())
			}
		})
	}
}
