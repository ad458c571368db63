package spam

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/Skycomm/email-ai-manager/internal/model"
	"github.com/Skycomm/email-ai-manager/internal/repository"
	"github.com/Skycomm/email-ai-manager/pkg/config"
	"github.com/Skycomm/email-ai-manager/pkg/logger"
	"github.com/Skycomm/email-ai-manager/pkg/metrics"
)

// VIP precedence policies.
const (
	VIPProtect = "protect"
	VIPBias    = "bias"
	VIPNone    = "none"
)

// Verdict sources.
const (
	SourceTransactional = "transactional"
	SourceRule          = "rule"
	SourceHeuristic     = "heuristic"
)

// Scorer is the fallback classifier used when no rule matches.
type Scorer interface {
	Score(ctx context.Context, e *model.Email) (score int, reason string, err error)
}

// Verdict is the outcome of classifying one email.
type Verdict struct {
	Score  int
	Rule   *model.SpamRule
	Source string
	Reason string
	// Action applies when Dispose is set.
	Action model.RuleAction
	// Dispose routes the email to spam without review.
	Dispose bool
	// Possible marks a score in the ask band: the email is processed
	// normally and the notification offers the spam command.
	Possible bool
	// VIPProtected is set when VIP precedence blocked a disposal.
	VIPProtected bool
}

type Engine struct {
	rules  *repository.SpamRuleRepository
	cfg    config.SpamConfig
	scorer Scorer
	logger *zap.Logger
	now    func() time.Time
}

func NewEngine(db repository.DB, cfg config.SpamConfig, scorer Scorer, logger *zap.Logger) *Engine {
	if scorer == nil {
		scorer = HeuristicScorer{BlockedDomains: cfg.BlockedDomains, BlockedSubjects: cfg.BlockedSubjects}
	}
	return &Engine{
		rules:  repository.NewSpamRuleRepository(db),
		cfg:    cfg,
		scorer: scorer,
		logger: logger.Named("spam"),
		now:    time.Now,
	}
}

func (g *Engine) SetClock(now func() time.Time) {
	g.now = now
}

// Rules exposes rule management to the administrative surfaces.
func (g *Engine) Rules() *repository.SpamRuleRepository {
	return g.rules
}

// Classify scores e. Transactional mail is never spam. Otherwise active
// rules are tried by descending confidence and the first match above the
// noise floor decides (its hit is counted); without a match the scorer
// decides.
func (g *Engine) Classify(ctx context.Context, e *model.Email) (Verdict, error) {
	if ok, why := Transactional(e); ok {
		v := Verdict{Source: SourceTransactional, Reason: why}
		metrics.IncrementSpamClassification(v.Source, false)
		return v, nil
	}

	rules, err := g.rules.ListActive(ctx)
	if err != nil {
		return Verdict{}, fmt.Errorf("load spam rules: %w", err)
	}
	floor := g.noiseFloor(e)
	for i := range rules {
		r := &rules[i]
		if r.Confidence <= floor || !g.matches(r, e) {
			continue
		}
		if err := g.rules.RecordHit(ctx, r.ID, g.now()); err != nil {
			return Verdict{}, err
		}
		r.HitCount++
		return g.decide(e, Verdict{
			Score:  r.Confidence,
			Rule:   r,
			Source: SourceRule,
			Reason: fmt.Sprintf("%s rule %q", r.RuleType, r.Pattern),
			Action: EffectiveAction(r, g.cfg),
		}), nil
	}

	score, reason, err := g.scorer.Score(ctx, e)
	if err != nil {
		// Unscored mail is treated as legitimate.
		logger.WithTrace(ctx, g.logger).Warn("Spam scorer failed",
			zap.Int64("email_id", e.ID),
			zap.Error(err),
		)
		score, reason = 0, "scorer unavailable"
	}
	return g.decide(e, Verdict{
		Score:  max(0, min(100, score)),
		Source: SourceHeuristic,
		Reason: reason,
		Action: model.RuleActionDigest,
	}), nil
}

func (g *Engine) decide(e *model.Email, v Verdict) Verdict {
	v.Dispose = v.Score >= g.cfg.DisposalThreshold
	if v.Dispose && e.IsVIP && g.cfg.VIPPolicy == VIPProtect {
		v.Dispose = false
		v.VIPProtected = true
	}
	v.Possible = !v.Dispose && v.Score >= g.cfg.AskThreshold
	metrics.IncrementSpamClassification(v.Source, v.Dispose)
	return v
}

func (g *Engine) noiseFloor(e *model.Email) int {
	floor := g.cfg.NoiseFloor
	if e.IsVIP && g.cfg.VIPPolicy == VIPBias {
		floor += g.cfg.VIPFloorBoost
	}
	return floor
}

func (g *Engine) matches(r *model.SpamRule, e *model.Email) bool {
	switch r.RuleType {
	case model.RuleSender:
		return strings.EqualFold(strings.TrimSpace(r.Pattern), strings.TrimSpace(e.Sender))
	case model.RuleDomain:
		p := strings.TrimPrefix(strings.ToLower(strings.TrimSpace(r.Pattern)), "@")
		if p == "" || strings.Contains(p, "@") {
			return false
		}
		d := e.SenderDomain()
		return d == p || strings.HasSuffix(d, "."+p)
	case model.RuleSubjectKeyword:
		return r.Pattern != "" && strings.Contains(strings.ToLower(e.Subject), strings.ToLower(r.Pattern))
	case model.RulePattern:
		re, err := regexp.Compile("(?i)" + r.Pattern)
		if err != nil {
			g.logger.Warn("Skipping spam rule with invalid pattern",
				zap.Int64("rule_id", r.ID),
				zap.String("pattern", r.Pattern),
				zap.Error(err),
			)
			return false
		}
		return re.MatchString(e.Subject) || re.MatchString(e.Body)
	}
	return false
}

// EffectiveAction caps a rule's action by its hit count: digest until
// escalate_archive_hits, archive until escalate_delete_hits, then delete.
func EffectiveAction(r *model.SpamRule, cfg config.SpamConfig) model.RuleAction {
	limit := escalation(r.HitCount, cfg)
	a := r.Action
	if a.Rank() == 0 {
		a = model.RuleActionDigest
	}
	if a.Rank() > limit.Rank() {
		return limit
	}
	return a
}

func escalation(hits int, cfg config.SpamConfig) model.RuleAction {
	switch {
	case cfg.EscalateDeleteHits > 0 && hits >= cfg.EscalateDeleteHits:
		return model.RuleActionDelete
	case cfg.EscalateArchiveHits > 0 && hits >= cfg.EscalateArchiveHits:
		return model.RuleActionArchive
	}
	return model.RuleActionDigest
}
