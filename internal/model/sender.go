package model

import (
	"strings"
	"time"
)

// VipSender marks an address or a whole domain as important.
type VipSender struct {
	ID        int64     `db:"id" json:"id"`
	Pattern   string    `db:"pattern" json:"pattern"`
	Note      string    `db:"note" json:"note"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}

// MutedSender silences an address or a whole domain.
type MutedSender struct {
	ID        int64     `db:"id" json:"id"`
	Pattern   string    `db:"pattern" json:"pattern"`
	Reason    string    `db:"reason" json:"reason"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}

// MatchesSender reports whether pattern names the address exactly or
// is its domain ("example.com" or "@example.com").
func MatchesSender(pattern, sender string) bool {
	p := strings.ToLower(strings.TrimSpace(pattern))
	s := strings.ToLower(strings.TrimSpace(sender))
	if p == "" || s == "" {
		return false
	}
	if p == s {
		return true
	}
	p = strings.TrimPrefix(p, "@")
	if strings.Contains(p, "@") {
		return false
	}
	d := DomainOf(s)
	return d == p || strings.HasSuffix(d, "."+p)
}

// User is an operator allowed to use the HTTP API.
type User struct {
	ID           int64     `db:"id" json:"id"`
	Username     string    `db:"username" json:"username"`
	PasswordHash string    `db:"password_hash" json:"-"`
	Role         string    `db:"role" json:"role"`
	CreatedAt    time.Time `db:"created_at" json:"created_at"`
}
