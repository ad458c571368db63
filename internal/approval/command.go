package approval

import (
	"fmt"
	"net/mail"
	"regexp"
	"strconv"
	"strings"
)

// Kind is the closed set of chat commands.
type Kind uint8

const (
	KindUnknown Kind = iota
	KindApprove
	KindEdit
	KindRewrite
	KindIgnore
	KindMore
	KindSpam
	KindDone
	KindForward
	KindDelete
	KindKeep
	KindDismissAll
	KindReview
)

var kindNames = [...]string{
	KindUnknown:    "unknown",
	KindApprove:    "approve",
	KindEdit:       "edit",
	KindRewrite:    "rewrite",
	KindIgnore:     "ignore",
	KindMore:       "more",
	KindSpam:       "spam",
	KindDone:       "done",
	KindForward:    "forward",
	KindDelete:     "delete",
	KindKeep:       "keep",
	KindDismissAll: "dismiss_all",
	KindReview:     "review",
}

func (k Kind) String() string {
	if int(k) < len(kindNames) {
		return kindNames[k]
	}
	return fmt.Sprintf("kind(%d)", uint8(k))
}

// Mutating reports whether the command changes the email it resolves to.
func (k Kind) Mutating() bool {
	switch k {
	case KindMore, KindReview, KindUnknown:
		return false
	}
	return true
}

// Digest reports whether the command works on the spam digest as a whole
// rather than on one email.
func (k Kind) Digest() bool {
	return k == KindDismissAll || k == KindReview
}

// Command is a parsed chat reply.
type Command struct {
	Kind Kind
	// Token is the explicit token, lower-cased, or "".
	Token string
	// EmailID addresses an email by id ("#42"), for emails that hold no
	// token.
	EmailID int64
	// Instructions carries the edit text.
	Instructions string
	// Address is the validated forward target.
	Address string
	Raw     string
}

// AmbiguousCommandError means a command could not be bound to exactly one
// awaiting email.
type AmbiguousCommandError struct {
	Token   string
	EmailID int64
	Matches int
}

func (e *AmbiguousCommandError) Error() string {
	switch {
	case e.EmailID != 0:
		return fmt.Sprintf("no email #%d", e.EmailID)
	case e.Token != "":
		return fmt.Sprintf("no email is awaiting approval with token %s", e.Token)
	case e.Matches == 0:
		return "no email is awaiting approval"
	default:
		return fmt.Sprintf("%d emails are awaiting approval, reply with a token", e.Matches)
	}
}

// MalformedCommandError is a recognized command with unusable input.
type MalformedCommandError struct {
	Kind   Kind
	Reason string
}

func (e *MalformedCommandError) Error() string {
	return fmt.Sprintf("malformed %s command: %s", e.Kind, e.Reason)
}

// tokRef is an optional approval token. Commands that release or revise a
// draft take only this form, so they stay bound to the draft the token was
// issued for.
const tokRef = `(?:\s+(?P<token>[0-9a-f]{4,8}))?`

// ref is the optional target of a command: a token or "#<email id>".
const ref = `(?:\s+(?:(?P<token>[0-9a-f]{4,8})|#(?P<id>\d+)))?`

type rule struct {
	kind Kind
	re   *regexp.Regexp
}

func ci(expr string) *regexp.Regexp {
	return regexp.MustCompile(`(?i)` + expr)
}

// Ordered by priority; the first match wins.
var grammar = []rule{
	{KindApprove, ci(`^(?P<token>[0-9a-f]{4,8})$`)},
	{KindApprove, ci(`^(?:approve|send|yes|y)` + tokRef + `$`)},
	{KindEdit, ci(`(?s)^edit` + tokRef + `\s*:\s*(?P<text>.+)$`)},
	{KindRewrite, ci(`^rewrite` + tokRef + `$`)},
	{KindIgnore, ci(`^(?:ignore|skip|no|n)` + ref + `$`)},
	{KindMore, ci(`^more` + ref + `$`)},
	{KindSpam, ci(`^spam` + ref + `$`)},
	{KindDone, ci(`^done` + ref + `$`)},
	{KindDelete, ci(`^delete` + ref + `$`)},
	{KindForward, ci(`^forward` + ref + `(?:\s+to)?\s+(?P<addr>\S+)$`)},
	{KindKeep, ci(`^(?:keep|not\s+spam)\s+#?(?P<id>\d+)$`)},
	{KindDismissAll, ci(`^dismiss(?:[ _]?all)?$`)},
	{KindReview, ci(`^review$`)},
}

func group(re *regexp.Regexp, m []string, name string) string {
	if i := re.SubexpIndex(name); i > 0 {
		return m[i]
	}
	return ""
}

// Parse maps free text onto a Command. Unrecognized text yields KindUnknown;
// a forward with an unusable address yields a MalformedCommandError.
func Parse(text string) (Command, error) {
	raw := strings.TrimSpace(text)
	cmd := Command{Kind: KindUnknown, Raw: raw}

	for _, r := range grammar {
		m := r.re.FindStringSubmatch(raw)
		if m == nil {
			continue
		}
		cmd.Kind = r.kind
		cmd.Token = strings.ToLower(group(r.re, m, "token"))
		cmd.Instructions = strings.TrimSpace(group(r.re, m, "text"))
		if id := group(r.re, m, "id"); id != "" {
			n, err := strconv.ParseInt(id, 10, 64)
			if err != nil || n <= 0 {
				return cmd, &MalformedCommandError{Kind: r.kind, Reason: fmt.Sprintf("%q is not an email id", id)}
			}
			cmd.EmailID = n
		}
		if r.kind == KindForward {
			addr, err := ValidAddress(group(r.re, m, "addr"))
			if err != nil {
				return cmd, &MalformedCommandError{Kind: KindForward, Reason: err.Error()}
			}
			cmd.Address = addr
		}
		return cmd, nil
	}
	return cmd, nil
}

// ValidAddress checks the basic shape of a forward target and returns the bare
// address.
func ValidAddress(s string) (string, error) {
	a, err := mail.ParseAddress(s)
	if err != nil {
		return "", fmt.Errorf("%q is not an email address", s)
	}
	at := strings.LastIndex(a.Address, "@")
	if at <= 0 || !strings.Contains(a.Address[at+1:], ".") || strings.HasSuffix(a.Address, ".") {
		return "", fmt.Errorf("%q has no valid domain", s)
	}
	return a.Address, nil
}
