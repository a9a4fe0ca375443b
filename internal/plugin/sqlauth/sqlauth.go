// Package sqlauth is the bundled authentication/ACL plugin: it keeps the
// teacher's bcrypt + SQLite username/password check (internal/auth,
// pkg/hash) as one plugin.Hook among several, and adds the ACL rule table
// spec.md §8 scenario S4 exercises ("client may publish to topic X",
// "connections from <ip> are allowed anything", "topic Y is public").
package sqlauth

import (
	"context"
	"database/sql"
	"errors"
	"net"
	"strings"

	"github.com/pyr33x/goqtt/internal/packet"
	"github.com/pyr33x/goqtt/internal/plugin"
	"github.com/pyr33x/goqtt/pkg/er"
	"github.com/pyr33x/goqtt/pkg/hash"
)

// Action is the kind of access an ACLRule grants or denies.
type Action int

const (
	ActionPublish Action = iota
	ActionSubscribe
	ActionAny
)

// ACLRule is one line of the bundled access-control table. Principal is a
// username or "*"; FromCIDR, if set, additionally restricts the rule to
// connections whose remote address falls inside it. The first matching
// rule decides; no match denies.
type ACLRule struct {
	Principal string
	FromCIDR  string
	Topic     string
	Action    Action
	Allow     bool
}

func (r ACLRule) matchesPrincipal(username string) bool {
	return r.Principal == "*" || r.Principal == username
}

func (r ACLRule) matchesAddr(remoteAddr string) bool {
	if r.FromCIDR == "" {
		return true
	}
	host, _, err := net.SplitHostPort(remoteAddr)
	if err != nil {
		host = remoteAddr
	}
	ip := net.ParseIP(host)
	if ip == nil {
		return false
	}
	_, network, err := net.ParseCIDR(r.FromCIDR)
	if err != nil {
		return false
	}
	return network.Contains(ip)
}

func (r ACLRule) matchesAction(a Action) bool {
	return r.Action == ActionAny || r.Action == a
}

// Plugin is the bundled sqlauth plugin.Hook implementation.
type Plugin struct {
	db    *sql.DB
	rules []ACLRule
}

// New wraps db (already migrated with a `users(username, secret)` table,
// as the teacher's internal/auth expected) and a static ACL table.
func New(db *sql.DB, rules []ACLRule) *Plugin {
	return &Plugin{db: db, rules: rules}
}

// OnConnect authenticates username/password against the users table.
// Generalizes the teacher's internal/auth.Store.Authenticate, fixing its
// inverted bcrypt check (it denied on a *correct* password) and skipping
// the check entirely for connections that present no credentials, which
// the broker's CONNECT handler is responsible for deciding whether to
// allow.
func (p *Plugin) OnConnect(ctx context.Context, info plugin.ConnectInfo) error {
	if info.Username == "" {
		return nil
	}

	var storedHash string
	err := p.db.QueryRowContext(ctx, `SELECT secret FROM users WHERE username = ?`, info.Username).Scan(&storedHash)
	if errors.Is(err, sql.ErrNoRows) {
		return &er.Err{Context: "sqlauth.OnConnect", Message: er.ErrUserNotFound, Reason: er.ReasonBadUsernameOrPassword}
	}
	if err != nil {
		return &er.Err{Context: "sqlauth.OnConnect", Message: err, Reason: er.ReasonUnspecifiedError}
	}

	if !hash.VerifyPasswd(storedHash, string(info.Password)) {
		return &er.Err{Context: "sqlauth.OnConnect", Message: er.ErrInvalidPassword, Reason: er.ReasonBadUsernameOrPassword}
	}
	return nil
}

func (p *Plugin) OnPublish(_ context.Context, info plugin.PublishInfo) error {
	return p.authorize(info.Username, info.RemoteAddr, info.Topic, ActionPublish)
}

func (p *Plugin) OnSubscribe(_ context.Context, info plugin.SubscribeInfo) error {
	return p.authorize(info.Username, info.RemoteAddr, info.Filter, ActionSubscribe)
}

func (p *Plugin) authorize(username, remoteAddr, topic string, action Action) error {
	for _, r := range p.rules {
		if !r.matchesPrincipal(username) || !r.matchesAction(action) || !r.matchesAddr(remoteAddr) {
			continue
		}
		if r.Topic == "*" || strings.EqualFold(r.Topic, topic) || packet.TopicMatches(r.Topic, topic) {
			if r.Allow {
				return nil
			}
			return &er.Err{Context: "sqlauth.authorize", Message: er.ErrNotAuthorized, Reason: er.ReasonNotAuthorized}
		}
	}
	return &er.Err{Context: "sqlauth.authorize", Message: er.ErrNotAuthorized, Reason: er.ReasonNotAuthorized}
}
