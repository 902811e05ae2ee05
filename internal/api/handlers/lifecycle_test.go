package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/mkserv/keyserv/internal/keys"
	"github.com/mkserv/keyserv/internal/models"
)

type mockLifecycleService struct {
	key         *models.Key
	activateErr error
	checkResult *keys.CheckResult
	checkErr    error
}

func (m *mockLifecycleService) Activate(_ context.Context, token, hwid, ip string) (*models.Key, error) {
	if m.activateErr != nil {
		return nil, m.activateErr
	}
	return m.key, nil
}

func (m *mockLifecycleService) Check(_ context.Context, token, ip string) (*keys.CheckResult, error) {
	if m.checkErr != nil {
		return nil, m.checkErr
	}
	return m.checkResult, nil
}

type mockSupportLookup struct {
	key *models.Key
	app *models.Application
}

func (m *mockSupportLookup) GetKeyByToken(_ context.Context, token string) (*models.Key, error) {
	if m.key != nil && m.key.Token == token {
		return m.key, nil
	}
	return nil, nil
}

func (m *mockSupportLookup) GetApplicationByID(_ context.Context, id int64) (*models.Application, error) {
	if m.app != nil && m.app.ID == id {
		return m.app, nil
	}
	return nil, nil
}

func setupLifecycleRouter(svc LifecycleService, support SupportLookup) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	h := NewLifecycleHandler(svc, support, zerolog.Nop())
	api := r.Group("/api/v1")
	h.RegisterRoutes(api)
	return r
}

func postJSON(r *gin.Engine, path, body string) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	req, _ := http.NewRequest("POST", path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	r.ServeHTTP(w, req)
	return w
}

func TestActivateEndpoint(t *testing.T) {
	key := &models.Key{
		ID:         7,
		PublicID:   publicID(t, 7),
		AppID:      42,
		Token:      "AAAA-BBBB-CCCC-DDDD",
		Remaining:  2,
		Enabled:    true,
		ValidUntil: time.Now().Add(24 * time.Hour),
	}
	app := &models.Application{ID: 42, PublicID: publicID(t, 42), Name: "acme", SupportMessage: "mail support@acme.io"}
	support := &mockSupportLookup{key: key, app: app}

	t.Run("success", func(t *testing.T) {
		r := setupLifecycleRouter(&mockLifecycleService{key: key}, support)
		w := postJSON(r, "/api/v1/activate", `{"token":"AAAA-BBBB-CCCC-DDDD","hwid":"AA:BB"}`)

		if w.Code != http.StatusOK {
			t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
		}
		var resp ActivateResponse
		if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
			t.Fatalf("failed to unmarshal: %v", err)
		}
		if resp.Remaining != 2 {
			t.Errorf("expected remaining 2, got %d", resp.Remaining)
		}
		if resp.Key == nil || resp.Key.PublicID != key.PublicID {
			t.Error("expected key with public id in response")
		}
	})

	t.Run("missing token", func(t *testing.T) {
		r := setupLifecycleRouter(&mockLifecycleService{key: key}, support)
		w := postJSON(r, "/api/v1/activate", `{"hwid":"AA:BB"}`)
		if w.Code != http.StatusBadRequest {
			t.Fatalf("expected 400, got %d", w.Code)
		}
	})

	t.Run("failure codes", func(t *testing.T) {
		cases := []struct {
			err    error
			code   string
			status int
		}{
			{keys.ErrNotFound, "not_found", http.StatusNotFound},
			{keys.ErrDisabled, "disabled", http.StatusForbidden},
			{keys.ErrExpired, "expired", http.StatusForbidden},
			{keys.ErrExhausted, "exhausted", http.StatusForbidden},
			{keys.ErrHardwareMismatch, "hardware_mismatch", http.StatusForbidden},
		}
		for _, tc := range cases {
			t.Run(tc.code, func(t *testing.T) {
				r := setupLifecycleRouter(&mockLifecycleService{activateErr: tc.err}, support)
				w := postJSON(r, "/api/v1/activate", `{"token":"AAAA-BBBB-CCCC-DDDD"}`)

				if w.Code != tc.status {
					t.Fatalf("expected %d, got %d", tc.status, w.Code)
				}
				var resp errorBody
				if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
					t.Fatalf("failed to unmarshal: %v", err)
				}
				if resp.Code != tc.code {
					t.Errorf("expected code %q, got %q", tc.code, resp.Code)
				}
			})
		}
	})

	t.Run("rejection carries support message", func(t *testing.T) {
		r := setupLifecycleRouter(&mockLifecycleService{activateErr: keys.ErrExpired}, support)
		w := postJSON(r, "/api/v1/activate", `{"token":"AAAA-BBBB-CCCC-DDDD"}`)

		var resp errorBody
		if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
			t.Fatalf("failed to unmarshal: %v", err)
		}
		if resp.SupportMessage != app.SupportMessage {
			t.Errorf("expected support message %q, got %q", app.SupportMessage, resp.SupportMessage)
		}
	})

	t.Run("unknown token has no support message", func(t *testing.T) {
		r := setupLifecycleRouter(&mockLifecycleService{activateErr: keys.ErrNotFound}, support)
		w := postJSON(r, "/api/v1/activate", `{"token":"ZZZZ"}`)

		var resp errorBody
		if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
			t.Fatalf("failed to unmarshal: %v", err)
		}
		if resp.SupportMessage != "" {
			t.Errorf("expected empty support message, got %q", resp.SupportMessage)
		}
	})
}

func TestCheckEndpoint(t *testing.T) {
	key := &models.Key{
		ID:         7,
		PublicID:   publicID(t, 7),
		AppID:      42,
		Token:      "AAAA-BBBB-CCCC-DDDD",
		Remaining:  0,
		Enabled:    true,
		ValidUntil: time.Now().Add(24 * time.Hour),
	}

	t.Run("usable", func(t *testing.T) {
		svc := &mockLifecycleService{checkResult: &keys.CheckResult{Usable: true, Status: models.KeyStatusActive, Key: key}}
		r := setupLifecycleRouter(svc, nil)
		w := postJSON(r, "/api/v1/check", `{"token":"AAAA-BBBB-CCCC-DDDD"}`)

		if w.Code != http.StatusOK {
			t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
		}
		var resp CheckResponse
		if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
			t.Fatalf("failed to unmarshal: %v", err)
		}
		if !resp.Usable || resp.Status != "active" {
			t.Errorf("expected usable active, got %+v", resp)
		}
	})

	t.Run("unusable is an answer, not an error", func(t *testing.T) {
		svc := &mockLifecycleService{checkResult: &keys.CheckResult{Usable: false, Status: models.KeyStatusExhausted, Key: key}}
		r := setupLifecycleRouter(svc, nil)
		w := postJSON(r, "/api/v1/check", `{"token":"AAAA-BBBB-CCCC-DDDD"}`)

		if w.Code != http.StatusOK {
			t.Fatalf("expected 200, got %d", w.Code)
		}
		var resp CheckResponse
		if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
			t.Fatalf("failed to unmarshal: %v", err)
		}
		if resp.Usable || resp.Status != "exhausted" {
			t.Errorf("expected unusable exhausted, got %+v", resp)
		}
	})

	t.Run("unknown token", func(t *testing.T) {
		svc := &mockLifecycleService{checkErr: keys.ErrNotFound}
		r := setupLifecycleRouter(svc, nil)
		w := postJSON(r, "/api/v1/check", `{"token":"ZZZZ"}`)
		if w.Code != http.StatusNotFound {
			t.Fatalf("expected 404, got %d", w.Code)
		}
	})
}
