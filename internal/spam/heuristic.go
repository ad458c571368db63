package spam

import (
	"context"
	"fmt"
	"strings"

	"github.com/Skycomm/email-ai-manager/internal/model"
)

var spamKeywords = []string{
	"unsubscribe", "newsletter", "promotional", "limited time",
	"act now", "click here", "free", "winner", "congratulations",
	"urgent action required", "verify your account", "confirm your",
	"marketing", "sale ends", "discount code", "special offer",
}

var spamSenderPatterns = []string{
	"noreply", "no-reply", "newsletter", "marketing",
	"promo", "info@", "notifications@", "alerts@",
}

var newsletterDomains = []string{
	"substack.com", "beehiiv.com", "mailchimp.com", "sendgrid.net",
	"constantcontact.com", "buttondown.email", "convertkit.com",
	"skool.com", "circle.so",
}

// HeuristicScorer scores mail without rules from fixed signals plus the
// configured blocked domains and subjects.
type HeuristicScorer struct {
	BlockedDomains  []string
	BlockedSubjects []string
}

func (h HeuristicScorer) Score(_ context.Context, e *model.Email) (int, string, error) {
	sender := strings.ToLower(e.Sender)
	subject := strings.ToLower(e.Subject)
	body := strings.ToLower(e.Body)

	score := 0
	var reasons []string

	for _, p := range spamSenderPatterns {
		if strings.Contains(sender, p) {
			score += 15
			reasons = append(reasons, "sender matches "+p)
			break
		}
	}
	for _, d := range h.BlockedDomains {
		if d != "" && strings.Contains(sender, strings.ToLower(d)) {
			score += 80
			reasons = append(reasons, "blocked domain "+d)
			break
		}
	}
	for _, s := range h.BlockedSubjects {
		if s != "" && strings.Contains(subject, strings.ToLower(s)) {
			score += 80
			reasons = append(reasons, "blocked subject "+s)
			break
		}
	}

	if n := countKeywords(subject); n > 0 {
		score += min(30, n*10)
		reasons = append(reasons, fmt.Sprintf("%d keywords in subject", n))
	}
	if n := countKeywords(body); n > 0 {
		score += min(20, n*5)
		reasons = append(reasons, fmt.Sprintf("%d keywords in body", n))
	}
	if strings.Contains(body, "unsubscribe") || strings.Contains(subject, "unsubscribe") {
		score += 25
		reasons = append(reasons, "unsubscribe link")
	}
	for _, d := range newsletterDomains {
		if strings.Contains(sender, d) {
			score += 30
			reasons = append(reasons, "newsletter service "+d)
			break
		}
	}
	return min(100, score), strings.Join(reasons, "; "), nil
}

func countKeywords(text string) int {
	n := 0
	for _, k := range spamKeywords {
		if strings.Contains(text, k) {
			n++
		}
	}
	return n
}

var transactionalSubjects = []string{
	"password reset", "reset your password", "password changed",
	"reset password", "forgot password", "new password",
	"verify your email", "confirm your email", "email verification",
	"two-factor", "2fa", "authentication code", "security code",
	"login attempt", "sign-in", "signin", "sign in",
	"suspicious activity", "security alert", "account locked",
	"order confirmation", "order confirmed", "your order",
	"receipt for", "payment received", "payment confirmation",
	"invoice", "your purchase", "shipping confirmation",
	"delivery", "tracking number", "shipped", "dispatched",
	"refund", "return confirmation",
	"subscription", "renewal", "billing", "payment due",
	"card expiring", "payment failed", "payment method",
	"account created", "welcome to", "registration",
	"profile updated", "settings changed", "email changed",
}

var transactionalBody = []string{
	"click the link below to reset",
	"didn't request this", "ignore this email",
	"order total", "subtotal", "grand total",
	"tracking number", "track your order",
	"your verification code is",
	"expires in", "valid for",
}

// Transactional reports whether e looks like account or order mail, which
// is never treated as spam even from a domain with a rule.
func Transactional(e *model.Email) (bool, string) {
	subject := strings.ToLower(e.Subject)
	for _, p := range transactionalSubjects {
		if strings.Contains(subject, p) {
			return true, "transactional subject: " + p
		}
	}
	body := strings.ToLower(e.Body)
	for _, p := range transactionalBody {
		if strings.Contains(body, p) {
			return true, "transactional body: " + p
		}
	}
	return false, ""
}
