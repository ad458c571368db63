package drafting

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"go.uber.org/zap"

	"github.com/Skycomm/email-ai-manager/internal/model"
	"github.com/Skycomm/email-ai-manager/pkg/circuitbreaker"
	"github.com/Skycomm/email-ai-manager/pkg/config"
	"github.com/Skycomm/email-ai-manager/pkg/util"
)

func completion(content string) string {
	b, _ := json.Marshal(map[string]any{
		"choices": []map[string]any{{"message": map[string]string{"content": content}}},
	})
	return string(b)
}

func newTestClient(t *testing.T, h http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	return NewClient(config.DraftingConfig{BaseURL: srv.URL + "/", APIKey: "k", Model: "m"}, zap.NewNop())
}

var testEmail = &model.Email{ID: 7, Sender: "alice@example.com", Subject: "Contract", Body: "Can you confirm?"}

func TestCleanJSONResponse(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{"plain", `{"a": 1}`, `{"a": 1}`},
		{"fenced", "```json\n{\"a\": 1}\n```", `{"a": 1}`},
		{"prose around", "Here you go:\n{\"a\": 1}\nThanks", `{"a": 1}`},
		{"no object", "nothing here", "nothing here"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := cleanJSONResponse(tt.input); got != tt.want {
				t.Errorf("cleanJSONResponse(%q) = %q, want %q", tt.input, got, tt.want)
			}
		})
	}
}

func TestTriage(t *testing.T) {
	var gotAuth, gotPath string
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		gotPath = r.URL.Path
		var req chatRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode request: %v", err)
		}
		if req.Model != "m" || len(req.Messages) != 2 {
			t.Errorf("request = %+v", req)
		}
		w.Write([]byte(completion("```json\n{\"category\":\"Meeting\",\"priority\":2,\"summary\":\" Wants a call. \",\"needs_reply\":true,\"confidence\":140}\n```")))
	})

	got, err := c.Triage(context.Background(), testEmail)
	if err != nil {
		t.Fatalf("Triage: %v", err)
	}
	if gotAuth != "Bearer k" || gotPath != "/chat/completions" {
		t.Errorf("auth=%q path=%q", gotAuth, gotPath)
	}
	if got.Category != model.CategoryMeeting || got.Priority != 2 || !got.NeedsReply {
		t.Errorf("Triage = %+v", got)
	}
	if got.Summary != "Wants a call." {
		t.Errorf("Summary = %q", got.Summary)
	}
	if got.Confidence != 100 {
		t.Errorf("Confidence = %d, want clamped 100", got.Confidence)
	}
}

func TestTriageUnknownCategory(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(completion(`{"category":"newsletter","priority":4}`)))
	})
	got, err := c.Triage(context.Background(), testEmail)
	if err != nil {
		t.Fatalf("Triage: %v", err)
	}
	if got.Category != model.CategoryUncategorized {
		t.Errorf("Category = %q, want uncategorized", got.Category)
	}
}

func TestDraft(t *testing.T) {
	tests := []struct {
		name           string
		content        string
		wantBody       string
		wantConfidence int
	}{
		{"json", `{"body":"Hi Alice,\nConfirmed.","confidence":85}`, "Hi Alice,\nConfirmed.", 85},
		{"plain text", "Hi Alice, confirmed.", "Hi Alice, confirmed.", 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
				w.Write([]byte(completion(tt.content)))
			})
			got, err := c.Draft(context.Background(), testEmail, "")
			if err != nil {
				t.Fatalf("Draft: %v", err)
			}
			if got.Body != tt.wantBody || got.Confidence != tt.wantConfidence {
				t.Errorf("Draft = %+v", got)
			}
		})
	}
}

func TestDraftRevisesCurrentDraft(t *testing.T) {
	var prompt string
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		var req chatRequest
		json.NewDecoder(r.Body).Decode(&req)
		prompt = req.Messages[1].Content
		w.Write([]byte(completion(`{"body":"shorter","confidence":60}`)))
	})
	em := *testEmail
	em.CurrentDraft = "a long draft"
	if _, err := c.Draft(context.Background(), &em, "make it shorter"); err != nil {
		t.Fatalf("Draft: %v", err)
	}
	if !strings.Contains(prompt, "a long draft") || !strings.Contains(prompt, "make it shorter") {
		t.Errorf("revise prompt missing draft or instructions:\n%s", prompt)
	}
}

func TestFirstDraftCarriesGuidance(t *testing.T) {
	var prompt string
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		var req chatRequest
		json.NewDecoder(r.Body).Decode(&req)
		prompt = req.Messages[1].Content
		w.Write([]byte(completion(`{"body":"Thanks, I will confirm.","confidence":70}`)))
	})
	if _, err := c.Draft(context.Background(), testEmail, "promise to confirm"); err != nil {
		t.Fatalf("Draft: %v", err)
	}
	if !strings.Contains(prompt, "Write a reply") || !strings.Contains(prompt, "Guidance: promise to confirm") {
		t.Errorf("first draft prompt missing guidance:\n%s", prompt)
	}
}

func TestStatusErrors(t *testing.T) {
	tests := []struct {
		code      int
		retryable bool
	}{
		{http.StatusServiceUnavailable, true},
		{http.StatusTooManyRequests, true},
		{http.StatusBadRequest, false},
	}
	for _, tt := range tests {
		c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(tt.code)
			w.Write([]byte("nope"))
		})
		_, err := c.Summarize(context.Background(), testEmail)
		var se *util.StatusError
		if !errors.As(err, &se) || se.Code != tt.code {
			t.Fatalf("code %d: err = %v, want StatusError", tt.code, err)
		}
		if ok, _ := util.IsRetryableError(err); ok != tt.retryable {
			t.Errorf("code %d: retryable = %v, want %v", tt.code, ok, tt.retryable)
		}
	}
}

func TestBreakerOpensAfterFailures(t *testing.T) {
	calls := 0
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusBadGateway)
	})
	threshold := circuitbreaker.DefaultConfig().FailureThreshold
	for i := 0; i < threshold; i++ {
		c.Summarize(context.Background(), testEmail)
	}
	_, err := c.Summarize(context.Background(), testEmail)
	if !errors.Is(err, circuitbreaker.ErrCircuitBreakerOpen) {
		t.Fatalf("err = %v, want breaker open", err)
	}
	if calls != threshold {
		t.Errorf("server calls = %d, want %d", calls, threshold)
	}
}
