package sqlauth

import (
	"context"
	"database/sql"
	"testing"

	_ "github.com/mattn/go-sqlite3"

	"github.com/pyr33x/goqtt/internal/plugin"
	"github.com/pyr33x/goqtt/pkg/hash"
)

func openTestDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := sql.Open("sqlite3", ":memory:")
	if err != nil {
		t.Fatalf("sql.Open: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	if _, err := db.Exec(`CREATE TABLE users (username TEXT PRIMARY KEY, secret TEXT)`); err != nil {
		t.Fatalf("create users table: %v", err)
	}
	return db
}

func addUser(t *testing.T, db *sql.DB, username, password string) {
	t.Helper()
	hashed, err := hash.HashPasswd(password, 4)
	if err != nil {
		t.Fatalf("HashPasswd: %v", err)
	}
	if _, err := db.Exec(`INSERT INTO users (username, secret) VALUES (?, ?)`, username, hashed); err != nil {
		t.Fatalf("insert user: %v", err)
	}
}

func TestOnConnectAcceptsCorrectPassword(t *testing.T) {
	db := openTestDB(t)
	addUser(t, db, "alice", "s3cret")
	p := New(db, nil)

	err := p.OnConnect(context.Background(), plugin.ConnectInfo{Username: "alice", Password: []byte("s3cret")})
	if err != nil {
		t.Fatalf("OnConnect with the correct password returned %v, want nil", err)
	}
}

func TestOnConnectRejectsWrongPassword(t *testing.T) {
	db := openTestDB(t)
	addUser(t, db, "alice", "s3cret")
	p := New(db, nil)

	err := p.OnConnect(context.Background(), plugin.ConnectInfo{Username: "alice", Password: []byte("wrong")})
	if err == nil {
		t.Fatal("expected OnConnect to reject an incorrect password")
	}
}

func TestOnConnectRejectsUnknownUser(t *testing.T) {
	db := openTestDB(t)
	p := New(db, nil)

	err := p.OnConnect(context.Background(), plugin.ConnectInfo{Username: "ghost", Password: []byte("x")})
	if err == nil {
		t.Fatal("expected OnConnect to reject an unknown user")
	}
}

func TestOnConnectSkipsAnonymousConnections(t *testing.T) {
	db := openTestDB(t)
	p := New(db, nil)

	if err := p.OnConnect(context.Background(), plugin.ConnectInfo{}); err != nil {
		t.Fatalf("OnConnect with no username should not consult the user table, got %v", err)
	}
}

func TestAuthorizePublishACL(t *testing.T) {
	db := openTestDB(t)
	p := New(db, []ACLRule{
		{Principal: "alice", Topic: "sensors/#", Action: ActionPublish, Allow: true},
		{Principal: "*", Topic: "*", Action: ActionAny, Allow: false},
	})

	if err := p.OnPublish(context.Background(), plugin.PublishInfo{Username: "alice", Topic: "sensors/temp"}); err != nil {
		t.Errorf("expected alice to publish to sensors/#, got %v", err)
	}
	if err := p.OnPublish(context.Background(), plugin.PublishInfo{Username: "bob", Topic: "sensors/temp"}); err == nil {
		t.Error("expected bob to be denied with no matching allow rule")
	}
}

func TestAuthorizeFromCIDR(t *testing.T) {
	db := openTestDB(t)
	p := New(db, []ACLRule{
		{Principal: "*", FromCIDR: "10.0.0.0/8", Topic: "*", Action: ActionAny, Allow: true},
	})

	if err := p.OnSubscribe(context.Background(), plugin.SubscribeInfo{RemoteAddr: "10.1.2.3:5000", Filter: "a/b"}); err != nil {
		t.Errorf("expected a 10.0.0.0/8 address to be allowed, got %v", err)
	}
	if err := p.OnSubscribe(context.Background(), plugin.SubscribeInfo{RemoteAddr: "192.168.1.1:5000", Filter: "a/b"}); err == nil {
		t.Error("expected an out-of-range address to be denied")
	}
}

func TestAuthorizeNoRulesDeniesByDefault(t *testing.T) {
	db := openTestDB(t)
	p := New(db, nil)

	if err := p.OnPublish(context.Background(), plugin.PublishInfo{Username: "alice", Topic: "a/b"}); err == nil {
		t.Error("expected publish to be denied when no ACL rules are configured")
	}
}
