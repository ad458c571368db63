package spam

import (
	"context"
	"errors"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/Skycomm/email-ai-manager/internal/model"
	"github.com/Skycomm/email-ai-manager/internal/testutil"
	"github.com/Skycomm/email-ai-manager/pkg/config"
)

func testConfig() config.SpamConfig {
	return config.SpamConfig{
		DisposalThreshold:   95,
		AskThreshold:        70,
		LearnedConfidence:   60,
		Boost:               10,
		FPPenalty:           10,
		FPRatio:             0.3,
		FPMinSamples:        3,
		EscalateArchiveHits: 3,
		EscalateDeleteHits:  10,
		VIPPolicy:           VIPProtect,
		VIPFloorBoost:       100,
	}
}

type scorerFunc func(ctx context.Context, e *model.Email) (int, string, error)

func (f scorerFunc) Score(ctx context.Context, e *model.Email) (int, string, error) {
	return f(ctx, e)
}

func newEngine(t *testing.T, cfg config.SpamConfig, scorer Scorer) *Engine {
	t.Helper()
	g := NewEngine(testutil.NewTestDB(t), cfg, scorer, zap.NewNop())
	g.SetClock(func() time.Time { return time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC) })
	return g
}

func addRule(t *testing.T, g *Engine, typ model.RuleType, pattern string, confidence int, action model.RuleAction) *model.SpamRule {
	t.Helper()
	r := &model.SpamRule{
		RuleType:   typ,
		Pattern:    pattern,
		Action:     action,
		Confidence: confidence,
		Active:     true,
		CreatedAt:  time.Now(),
	}
	if err := g.Rules().Create(context.Background(), r); err != nil {
		t.Fatalf("create rule: %v", err)
	}
	return r
}

func TestHeuristicScorer(t *testing.T) {
	h := HeuristicScorer{BlockedDomains: []string{"spammy.biz"}}
	ctx := context.Background()

	score, _, _ := h.Score(ctx, &model.Email{Sender: "promo@shop.example", Subject: "Free winner"})
	if score != 35 {
		t.Errorf("promo score = %d, want 35", score)
	}
	score, _, _ = h.Score(ctx, &model.Email{Sender: "x@spammy.biz", Subject: "hi"})
	if score != 80 {
		t.Errorf("blocked domain score = %d, want 80", score)
	}
	score, _, _ = h.Score(ctx, &model.Email{
		Sender:  "newsletter@substack.com",
		Subject: "Weekly newsletter: special offer",
		Body:    "click here to read. unsubscribe",
	})
	if score != 100 {
		t.Errorf("newsletter score = %d, want capped 100", score)
	}
	score, _, _ = h.Score(ctx, &model.Email{Sender: "alice@partner.com", Subject: "Contract review"})
	if score != 0 {
		t.Errorf("clean score = %d, want 0", score)
	}
}

func TestClassifyPrefersHighestConfidenceRule(t *testing.T) {
	g := newEngine(t, testConfig(), nil)
	ctx := context.Background()
	addRule(t, g, model.RuleSubjectKeyword, "crypto", 50, model.RuleActionDigest)
	strong := addRule(t, g, model.RuleDomain, "spam.example", 97, model.RuleActionArchive)

	v, err := g.Classify(ctx, &model.Email{Sender: "a@mail.spam.example", Subject: "Crypto deals"})
	if err != nil {
		t.Fatalf("Classify: %v", err)
	}
	if v.Source != SourceRule || v.Rule == nil || v.Rule.ID != strong.ID {
		t.Fatalf("verdict = %+v, want the domain rule", v)
	}
	if !v.Dispose || v.Score != 97 {
		t.Errorf("dispose = %v score = %d", v.Dispose, v.Score)
	}
	// One hit is below the archive escalation, so the action is capped.
	if v.Action != model.RuleActionDigest {
		t.Errorf("action = %s, want digest", v.Action)
	}
	stored, _ := g.Rules().Get(ctx, strong.ID)
	if stored.HitCount != 1 || stored.LastHitAt == nil {
		t.Errorf("hit not recorded: %+v", stored)
	}
}

func TestClassifyTransactionalOverridesRules(t *testing.T) {
	g := newEngine(t, testConfig(), nil)
	addRule(t, g, model.RuleDomain, "netflix.com", 99, model.RuleActionDelete)

	v, err := g.Classify(context.Background(), &model.Email{Sender: "info@netflix.com", Subject: "Reset your password"})
	if err != nil {
		t.Fatalf("Classify: %v", err)
	}
	if v.Source != SourceTransactional || v.Dispose || v.Score != 0 {
		t.Errorf("verdict = %+v", v)
	}
}

func TestClassifyNoiseFloorAndPossibleBand(t *testing.T) {
	cfg := testConfig()
	cfg.NoiseFloor = 50
	g := newEngine(t, cfg, scorerFunc(func(context.Context, *model.Email) (int, string, error) {
		return 80, "scored", nil
	}))
	addRule(t, g, model.RuleDomain, "weak.example", 40, model.RuleActionDigest)

	v, err := g.Classify(context.Background(), &model.Email{Sender: "a@weak.example", Subject: "hello"})
	if err != nil {
		t.Fatalf("Classify: %v", err)
	}
	if v.Source != SourceHeuristic {
		t.Errorf("source = %s, want heuristic (rule under the floor)", v.Source)
	}
	if v.Dispose || !v.Possible {
		t.Errorf("score 80 should be possible spam, got %+v", v)
	}
}

func TestClassifyScorerFailureIsNotSpam(t *testing.T) {
	g := newEngine(t, testConfig(), scorerFunc(func(context.Context, *model.Email) (int, string, error) {
		return 0, "", errors.New("timeout")
	}))
	v, err := g.Classify(context.Background(), &model.Email{Sender: "a@b.com", Subject: "x"})
	if err != nil {
		t.Fatalf("Classify: %v", err)
	}
	if v.Dispose || v.Possible || v.Score != 0 {
		t.Errorf("verdict = %+v", v)
	}
}

func TestVIPPrecedence(t *testing.T) {
	vip := func() *model.Email {
		return &model.Email{Sender: "ceo@bigcorp.com", Subject: "Quarterly numbers", IsVIP: true}
	}
	tests := []struct {
		policy    string
		dispose   bool
		protected bool
		source    string
	}{
		{VIPProtect, false, true, SourceRule},
		{VIPNone, true, false, SourceRule},
		{VIPBias, false, false, SourceHeuristic},
	}
	for _, tt := range tests {
		cfg := testConfig()
		cfg.DisposalThreshold = 85
		cfg.VIPPolicy = tt.policy
		g := newEngine(t, cfg, HeuristicScorer{})
		addRule(t, g, model.RuleDomain, "bigcorp.com", 90, model.RuleActionArchive)

		v, err := g.Classify(context.Background(), vip())
		if err != nil {
			t.Fatalf("%s: Classify: %v", tt.policy, err)
		}
		if v.Dispose != tt.dispose || v.VIPProtected != tt.protected || v.Source != tt.source {
			t.Errorf("%s: verdict = %+v", tt.policy, v)
		}
	}
}

func TestLearnSpamCreatesThenEscalates(t *testing.T) {
	cfg := testConfig()
	g := newEngine(t, cfg, nil)
	ctx := context.Background()
	e := &model.Email{ID: 1, Sender: "deals@shop.example", Subject: "Buy now"}

	l, err := g.LearnSpam(ctx, e)
	if err != nil {
		t.Fatalf("LearnSpam: %v", err)
	}
	if !l.Created || l.Rule.RuleType != model.RuleDomain || l.Rule.Pattern != "shop.example" {
		t.Fatalf("learned = %+v", l.Rule)
	}
	if l.Rule.Confidence >= cfg.DisposalThreshold || l.Rule.Action != model.RuleActionDigest {
		t.Errorf("new rule confidence %d action %s", l.Rule.Confidence, l.Rule.Action)
	}

	v, err := g.Classify(ctx, &model.Email{Sender: "other@shop.example", Subject: "hi"})
	if err != nil {
		t.Fatalf("Classify: %v", err)
	}
	if v.Dispose {
		t.Error("a single spam command must not reach auto-disposal")
	}

	// Classify counted a hit (2); the next command makes it 3.
	l, err = g.LearnSpam(ctx, e)
	if err != nil {
		t.Fatalf("LearnSpam again: %v", err)
	}
	if l.Created || l.Rule.HitCount != 3 || l.Rule.Confidence != 70 {
		t.Errorf("strengthened rule = %+v", l.Rule)
	}
	if l.Rule.Action != model.RuleActionArchive {
		t.Errorf("action = %s, want archive at 3 hits", l.Rule.Action)
	}
}

func TestLearnSpamFreemailUsesSender(t *testing.T) {
	g := newEngine(t, testConfig(), nil)
	l, err := g.LearnSpam(context.Background(), &model.Email{ID: 1, Sender: "Scammer@Gmail.com"})
	if err != nil {
		t.Fatalf("LearnSpam: %v", err)
	}
	if l.Rule.RuleType != model.RuleSender || l.Rule.Pattern != "scammer@gmail.com" {
		t.Errorf("rule = %s %q", l.Rule.RuleType, l.Rule.Pattern)
	}
}

func TestFalsePositivesDeactivateRule(t *testing.T) {
	g := newEngine(t, testConfig(), nil)
	ctx := context.Background()
	r := addRule(t, g, model.RuleDomain, "maybe.example", 80, model.RuleActionDigest)
	r.HitCount = 10
	if err := g.Rules().Update(ctx, r); err != nil {
		t.Fatalf("Update: %v", err)
	}

	for i := 1; i <= 3; i++ {
		got, err := g.RecordFalsePositive(ctx, r.ID)
		if err != nil {
			t.Fatalf("RecordFalsePositive: %v", err)
		}
		wantActive := i < 3
		if got.Active != wantActive {
			t.Fatalf("after %d false positives active = %v, want %v", i, got.Active, wantActive)
		}
		if got.Confidence != 80-10*i {
			t.Errorf("confidence = %d, want %d", got.Confidence, 80-10*i)
		}
	}
}

func TestFalsePositiveNeedsMinimumSamples(t *testing.T) {
	g := newEngine(t, testConfig(), nil)
	ctx := context.Background()
	r := addRule(t, g, model.RuleDomain, "new.example", 60, model.RuleActionDigest)
	r.HitCount = 1
	if err := g.Rules().Update(ctx, r); err != nil {
		t.Fatalf("Update: %v", err)
	}
	got, err := g.RecordFalsePositive(ctx, r.ID)
	if err != nil {
		t.Fatalf("RecordFalsePositive: %v", err)
	}
	if !got.Active {
		t.Error("rule with one hit deactivated before reaching fp_min_samples")
	}
}

func TestEffectiveActionCapsByHits(t *testing.T) {
	cfg := testConfig()
	tests := []struct {
		action model.RuleAction
		hits   int
		want   model.RuleAction
	}{
		{model.RuleActionDelete, 0, model.RuleActionDigest},
		{model.RuleActionDelete, 3, model.RuleActionArchive},
		{model.RuleActionDelete, 10, model.RuleActionDelete},
		{model.RuleActionDigest, 50, model.RuleActionDigest},
		{"", 5, model.RuleActionDigest},
	}
	for _, tt := range tests {
		got := EffectiveAction(&model.SpamRule{Action: tt.action, HitCount: tt.hits}, cfg)
		if got != tt.want {
			t.Errorf("EffectiveAction(%s, %d) = %s, want %s", tt.action, tt.hits, got, tt.want)
		}
	}
}
