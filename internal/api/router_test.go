package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/Skycomm/email-ai-manager/internal/approval"
	"github.com/Skycomm/email-ai-manager/internal/lifecycle"
	"github.com/Skycomm/email-ai-manager/internal/model"
	"github.com/Skycomm/email-ai-manager/internal/repository"
	"github.com/Skycomm/email-ai-manager/internal/service"
	"github.com/Skycomm/email-ai-manager/pkg/rbac"
	"github.com/Skycomm/email-ai-manager/pkg/trace"
	"github.com/Skycomm/email-ai-manager/pkg/util"
)

const testSecret = "test-secret"

type fakeEngine struct {
	ListEmailsFn    func(ctx context.Context, f repository.EmailFilter) ([]*model.Email, int, error)
	GetEmailFn      func(ctx context.Context, id int64) (*service.EmailDetail, error)
	ListAuditFn     func(ctx context.Context, f model.AuditFilter) ([]model.AuditEntry, error)
	SubmitCommandFn func(ctx context.Context, channel, user, text string) (*service.CommandResult, error)
	AcknowledgeFn   func(ctx context.Context, id int64) (*model.Email, error)
	SetFollowUpFn   func(ctx context.Context, id int64, at *time.Time, note string) (*model.Email, error)
	rules           map[int64]*model.SpamRule
}

func (f *fakeEngine) GetEmail(ctx context.Context, id int64) (*service.EmailDetail, error) {
	return f.GetEmailFn(ctx, id)
}

func (f *fakeEngine) ListEmails(ctx context.Context, flt repository.EmailFilter) ([]*model.Email, int, error) {
	return f.ListEmailsFn(ctx, flt)
}

func (f *fakeEngine) ListAudit(ctx context.Context, flt model.AuditFilter) ([]model.AuditEntry, error) {
	return f.ListAuditFn(ctx, flt)
}

func (f *fakeEngine) SubmitCommand(ctx context.Context, channel, user, text string) (*service.CommandResult, error) {
	return f.SubmitCommandFn(ctx, channel, user, text)
}

func (f *fakeEngine) Retry(context.Context, int64) (*model.Email, error) { return nil, nil }

func (f *fakeEngine) SetFollowUp(ctx context.Context, id int64, at *time.Time, note string) (*model.Email, error) {
	return f.SetFollowUpFn(ctx, id, at, note)
}

func (f *fakeEngine) MarkNotSpam(context.Context, int64) (*model.Email, error) { return nil, nil }

func (f *fakeEngine) Acknowledge(ctx context.Context, id int64) (*model.Email, error) {
	return f.AcknowledgeFn(ctx, id)
}

func (f *fakeEngine) ListSpamRules(context.Context) ([]model.SpamRule, error) { return nil, nil }

func (f *fakeEngine) GetSpamRule(_ context.Context, id int64) (*model.SpamRule, error) {
	r, ok := f.rules[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	cp := *r
	return &cp, nil
}

func (f *fakeEngine) CreateSpamRule(_ context.Context, r *model.SpamRule) error {
	if r.Confidence > 100 {
		return &service.ValidationError{Field: "confidence", Reason: "must be within 0..100"}
	}
	r.ID = int64(len(f.rules) + 1)
	f.rules[r.ID] = r
	return nil
}

func (f *fakeEngine) UpdateSpamRule(_ context.Context, r *model.SpamRule) error {
	f.rules[r.ID] = r
	return nil
}

func (f *fakeEngine) DeleteSpamRule(context.Context, int64) error               { return nil }
func (f *fakeEngine) ListVIPSenders(context.Context) ([]model.VipSender, error) { return nil, nil }
func (f *fakeEngine) AddVIPSender(context.Context, *model.VipSender) error      { return nil }
func (f *fakeEngine) DeleteVIPSender(context.Context, int64) error              { return nil }

func (f *fakeEngine) ListMutedSenders(context.Context) ([]model.MutedSender, error) {
	return nil, nil
}

func (f *fakeEngine) AddMutedSender(context.Context, *model.MutedSender) error { return nil }
func (f *fakeEngine) DeleteMutedSender(context.Context, int64) error           { return nil }

type fakeAuth struct{}

func (fakeAuth) Login(_ context.Context, username, password string) (string, *model.User, error) {
	if username != "ops" || password != "pw" {
		return "", nil, service.ErrInvalidCredentials
	}
	tok, err := util.GenerateJWT(1, "ops", rbac.RoleOperator, testSecret, time.Hour)
	return tok, &model.User{ID: 1, Username: "ops", Role: rbac.RoleOperator}, err
}

type fakePinger struct{ err error }

func (p fakePinger) Ping(context.Context) error { return p.err }

func newTestRouter(t *testing.T, eng *fakeEngine, ping error) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)
	if eng.rules == nil {
		eng.rules = map[int64]*model.SpamRule{}
	}
	return NewRouter(Options{
		Engine:    eng,
		Auth:      fakeAuth{},
		DB:        fakePinger{err: ping},
		JWTSecret: testSecret,
		Channel:   "approvals",
		Logger:    zap.NewNop(),
	})
}

func token(t *testing.T, role string) string {
	t.Helper()
	tok, err := util.GenerateJWT(7, "alice", role, testSecret, time.Hour)
	if err != nil {
		t.Fatalf("GenerateJWT: %v", err)
	}
	return tok
}

func do(r *gin.Engine, method, path, tok string, body any) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		_ = json.NewEncoder(&buf).Encode(body)
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if tok != "" {
		req.Header.Set("Authorization", "Bearer "+tok)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestHealthAndReadiness(t *testing.T) {
	r := newTestRouter(t, &fakeEngine{}, nil)
	if w := do(r, http.MethodGet, "/healthz", "", nil); w.Code != http.StatusOK {
		t.Errorf("healthz = %d", w.Code)
	}
	if w := do(r, http.MethodGet, "/readyz", "", nil); w.Code != http.StatusOK {
		t.Errorf("readyz = %d", w.Code)
	}

	down := newTestRouter(t, &fakeEngine{}, errors.New("db gone"))
	if w := do(down, http.MethodGet, "/readyz", "", nil); w.Code != http.StatusServiceUnavailable {
		t.Errorf("readyz with db down = %d", w.Code)
	}
}

func TestTraceHeader(t *testing.T) {
	var seen string
	eng := &fakeEngine{ListEmailsFn: func(ctx context.Context, _ repository.EmailFilter) ([]*model.Email, int, error) {
		seen = trace.FromContext(ctx)
		return nil, 0, nil
	}}
	r := newTestRouter(t, eng, nil)

	req := httptest.NewRequest(http.MethodGet, "/api/emails", nil)
	req.Header.Set("Authorization", "Bearer "+token(t, rbac.RoleViewer))
	req.Header.Set(trace.HeaderName, "trace-123")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	if seen != "trace-123" {
		t.Errorf("engine saw trace %q", seen)
	}
	if got := w.Header().Get(trace.HeaderName); got != "trace-123" {
		t.Errorf("response trace header = %q", got)
	}
}

func TestAuthorization(t *testing.T) {
	eng := &fakeEngine{SubmitCommandFn: func(context.Context, string, string, string) (*service.CommandResult, error) {
		return &service.CommandResult{Kind: "approve"}, nil
	}}
	r := newTestRouter(t, eng, nil)
	cmd := map[string]string{"text": "approve"}

	tests := []struct {
		name string
		tok  string
		want int
	}{
		{"missing token", "", http.StatusUnauthorized},
		{"garbage token", "nope", http.StatusUnauthorized},
		{"viewer", token(t, rbac.RoleViewer), http.StatusForbidden},
		{"operator", token(t, rbac.RoleOperator), http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if w := do(r, http.MethodPost, "/api/commands", tt.tok, cmd); w.Code != tt.want {
				t.Errorf("status = %d, want %d: %s", w.Code, tt.want, w.Body)
			}
		})
	}

	rule := map[string]any{"rule_type": "domain", "pattern": "spam.example"}
	if w := do(r, http.MethodPost, "/api/spam-rules", token(t, rbac.RoleOperator), rule); w.Code != http.StatusForbidden {
		t.Errorf("operator creating rule = %d, want 403", w.Code)
	}
}

func TestLogin(t *testing.T) {
	r := newTestRouter(t, &fakeEngine{}, nil)

	w := do(r, http.MethodPost, "/login", "", map[string]string{"username": "ops", "password": "pw"})
	if w.Code != http.StatusOK {
		t.Fatalf("login = %d: %s", w.Code, w.Body)
	}
	var resp struct {
		Token string `json:"token"`
		Role  string `json:"role"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if _, err := util.ParseJWT(resp.Token, testSecret); err != nil || resp.Role != rbac.RoleOperator {
		t.Errorf("token %q role %q err %v", resp.Token, resp.Role, err)
	}

	if w := do(r, http.MethodPost, "/login", "", map[string]string{"username": "ops", "password": "bad"}); w.Code != http.StatusUnauthorized {
		t.Errorf("bad password = %d", w.Code)
	}
	if w := do(r, http.MethodPost, "/login", "", map[string]string{"username": "ops"}); w.Code != http.StatusBadRequest {
		t.Errorf("missing password = %d", w.Code)
	}
}

func TestListEmailsFilter(t *testing.T) {
	var got repository.EmailFilter
	eng := &fakeEngine{ListEmailsFn: func(_ context.Context, f repository.EmailFilter) ([]*model.Email, int, error) {
		got = f
		return []*model.Email{{ID: 1}}, 1, nil
	}}
	r := newTestRouter(t, eng, nil)
	tok := token(t, rbac.RoleViewer)

	w := do(r, http.MethodGet, "/api/emails?state=awaiting_approval,error&category=urgent&limit=10&offset=5", tok, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", w.Code, w.Body)
	}
	if len(got.States) != 2 || got.States[0] != model.StateAwaitingApproval || got.States[1] != model.StateError {
		t.Errorf("states = %v", got.States)
	}
	if got.Category != model.CategoryUrgent || got.Limit != 10 || got.Offset != 5 {
		t.Errorf("filter = %+v", got)
	}

	if w := do(r, http.MethodGet, "/api/emails?state=bogus", tok, nil); w.Code != http.StatusBadRequest {
		t.Errorf("bad state = %d", w.Code)
	}
}

func TestGetEmailErrors(t *testing.T) {
	eng := &fakeEngine{GetEmailFn: func(_ context.Context, id int64) (*service.EmailDetail, error) {
		if id == 1 {
			return &service.EmailDetail{Email: &model.Email{ID: 1}}, nil
		}
		return nil, repository.ErrNotFound
	}}
	r := newTestRouter(t, eng, nil)
	tok := token(t, rbac.RoleViewer)

	tests := []struct {
		path string
		want int
	}{
		{"/api/emails/1", http.StatusOK},
		{"/api/emails/2", http.StatusNotFound},
		{"/api/emails/abc", http.StatusBadRequest},
	}
	for _, tt := range tests {
		if w := do(r, http.MethodGet, tt.path, tok, nil); w.Code != tt.want {
			t.Errorf("GET %s = %d, want %d", tt.path, w.Code, tt.want)
		}
	}
}

func TestAuditQuery(t *testing.T) {
	var got model.AuditFilter
	eng := &fakeEngine{ListAuditFn: func(_ context.Context, f model.AuditFilter) ([]model.AuditEntry, error) {
		got = f
		return nil, nil
	}}
	r := newTestRouter(t, eng, nil)
	tok := token(t, rbac.RoleViewer)

	w := do(r, http.MethodGet, "/api/audit?agent=sender&email_id=4&since=2026-03-01T00:00:00Z&success=false", tok, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", w.Code, w.Body)
	}
	if got.Agent != "sender" || got.EmailID != 4 || got.Success == nil || *got.Success {
		t.Errorf("filter = %+v", got)
	}
	if !got.Since.Equal(time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)) {
		t.Errorf("since = %v", got.Since)
	}

	if w := do(r, http.MethodGet, "/api/audit?since=yesterday", tok, nil); w.Code != http.StatusBadRequest {
		t.Errorf("bad since = %d", w.Code)
	}
}

func TestSubmitCommand(t *testing.T) {
	var channel, user string
	eng := &fakeEngine{SubmitCommandFn: func(_ context.Context, ch, u, text string) (*service.CommandResult, error) {
		channel, user = ch, u
		if text == "approve" {
			return &service.CommandResult{Kind: "approve", EmailID: 3, State: model.StateSent, Reply: "sent"}, nil
		}
		err := &approval.AmbiguousCommandError{Matches: 2}
		return &service.CommandResult{Kind: "approve", Reply: err.Error()}, err
	}}
	r := newTestRouter(t, eng, nil)
	tok := token(t, rbac.RoleOperator)

	w := do(r, http.MethodPost, "/api/commands", tok, map[string]string{"text": "approve"})
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", w.Code, w.Body)
	}
	if channel != "approvals" || user != "alice" {
		t.Errorf("channel %q user %q", channel, user)
	}

	w = do(r, http.MethodPost, "/api/commands", tok, map[string]string{"channel": "other", "text": "approve abc"})
	if w.Code != http.StatusUnprocessableEntity {
		t.Errorf("ambiguous = %d", w.Code)
	}
	if channel != "other" {
		t.Errorf("channel = %q", channel)
	}
}

func TestEmailActionConflicts(t *testing.T) {
	eng := &fakeEngine{AcknowledgeFn: func(_ context.Context, id int64) (*model.Email, error) {
		return nil, &lifecycle.StateMismatchError{EmailID: id, State: model.StateSent, Want: []model.State{model.StateFYINotified}}
	}}
	r := newTestRouter(t, eng, nil)

	if w := do(r, http.MethodPost, "/api/emails/9/acknowledge", token(t, rbac.RoleOperator), nil); w.Code != http.StatusConflict {
		t.Errorf("acknowledge = %d, want 409", w.Code)
	}
}

func TestSetFollowUp(t *testing.T) {
	var gotAt *time.Time
	var gotNote string
	eng := &fakeEngine{SetFollowUpFn: func(_ context.Context, id int64, at *time.Time, note string) (*model.Email, error) {
		gotAt, gotNote = at, note
		return &model.Email{ID: id}, nil
	}}
	r := newTestRouter(t, eng, nil)

	body := map[string]any{"at": "2026-03-05T09:00:00Z", "note": "chase invoice"}
	if w := do(r, http.MethodPost, "/api/emails/3/followup", token(t, rbac.RoleAdmin), body); w.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", w.Code, w.Body)
	}
	if gotAt == nil || !gotAt.Equal(time.Date(2026, 3, 5, 9, 0, 0, 0, time.UTC)) || gotNote != "chase invoice" {
		t.Errorf("at %v note %q", gotAt, gotNote)
	}
}

func TestSpamRuleCRUD(t *testing.T) {
	eng := &fakeEngine{}
	r := newTestRouter(t, eng, nil)
	tok := token(t, rbac.RoleAdmin)

	w := do(r, http.MethodPost, "/api/spam-rules", tok, map[string]any{"rule_type": "domain", "pattern": "spam.example", "confidence": 90})
	if w.Code != http.StatusCreated {
		t.Fatalf("create = %d: %s", w.Code, w.Body)
	}
	eng.rules[1].Active = true

	if w := do(r, http.MethodPost, "/api/spam-rules", tok, map[string]any{"rule_type": "domain", "pattern": "x", "confidence": 101}); w.Code != http.StatusBadRequest {
		t.Errorf("invalid create = %d", w.Code)
	}

	w = do(r, http.MethodPut, "/api/spam-rules/1", tok, map[string]any{"rule_type": "domain", "pattern": "spam.example", "action": "archive", "confidence": 95})
	if w.Code != http.StatusOK {
		t.Fatalf("update = %d: %s", w.Code, w.Body)
	}
	if got := eng.rules[1]; got.Action != model.RuleActionArchive || !got.Active || got.Confidence != 95 {
		t.Errorf("updated rule = %+v", got)
	}

	if w := do(r, http.MethodPut, "/api/spam-rules/42", tok, map[string]any{"rule_type": "domain", "pattern": "x"}); w.Code != http.StatusNotFound {
		t.Errorf("update missing = %d", w.Code)
	}
	if w := do(r, http.MethodDelete, "/api/spam-rules/1", tok, nil); w.Code != http.StatusNoContent {
		t.Errorf("delete = %d", w.Code)
	}
}
