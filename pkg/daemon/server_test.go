package daemon //nolint:testpackage

import (
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"weave/internal/buildinfo"
	"weave/pkg/audit"
	"weave/pkg/domain"
)

func newTestServer(t *testing.T) *Server {
	t.Helper()

	srv, err := NewServer(Config{
		DataDir:       t.TempDir(),
		Logger:        slog.New(slog.NewTextHandler(io.Discard, nil)),
		SweepInterval: time.Hour,
		PingInterval:  time.Hour,
	})
	if err != nil {
		t.Fatalf("new server: %v", err)
	}
	return srv
}

func TestUnauthenticatedRequestsAreRejected(t *testing.T) {
	t.Parallel()

	srv := newTestServer(t)
	authed := false

	for _, typ := range []MsgType{MsgList, MsgRegister, MsgHeartbeat, MsgForceStop, MsgShutdown, MsgReadSessionFile} {
		resp := srv.handleRequest(Request{Type: typ}, &authed)
		if resp.OK || resp.Code != CodeAuthenticationFailed {
			t.Errorf("%s without auth: resp = %+v", typ, resp)
		}
	}
}

func TestAuthenticationGatesPerConnection(t *testing.T) {
	t.Parallel()

	srv := newTestServer(t)
	authed := false

	if resp := srv.handleRequest(Request{Type: MsgAuthenticate, Token: "wrong"}, &authed); resp.OK || authed {
		t.Fatalf("wrong token accepted: %+v", resp)
	}
	if resp := srv.handleRequest(Request{Type: MsgAuthenticate, Token: srv.token}, &authed); !resp.OK || !authed {
		t.Fatalf("right token rejected: %+v", resp)
	}
	if resp := srv.handleRequest(Request{Type: MsgList}, &authed); !resp.OK {
		t.Fatalf("list after auth: %+v", resp)
	}
}

func TestBuildIdentityNeedsNoAuth(t *testing.T) {
	t.Parallel()

	srv := newTestServer(t)
	authed := false

	if resp := srv.handleRequest(Request{Type: MsgBuildSHA}, &authed); !resp.OK {
		t.Fatalf("build sha: %+v", resp)
	}
	if resp := srv.handleRequest(Request{Type: MsgBuildTimestamp}, &authed); !resp.OK {
		t.Fatalf("build timestamp: %+v", resp)
	}
}

func TestUpgradeNegotiation(t *testing.T) {
	t.Parallel()

	srv := newTestServer(t)
	srv.buildTimestamp = 1000
	authed := false

	tests := []struct {
		caller  uint64
		granted bool
	}{
		{999, false},
		{1000, false}, // ties refuse, so same-build copies never race
		{1001, true},
	}
	for _, tt := range tests {
		fresh := newTestServer(t)
		fresh.buildTimestamp = 1000
		resp := fresh.handleRequest(Request{Type: MsgRequestUpgrade, Timestamp: tt.caller}, &authed)
		if !resp.OK || resp.Granted != tt.granted {
			t.Errorf("caller=%d: granted = %v, want %v", tt.caller, resp.Granted, tt.granted)
		}
	}

	// A dev build (timestamp 0) refuses every offer.
	resp := srv.handleRequest(Request{Type: MsgRequestUpgrade, Timestamp: 0}, &authed)
	if resp.Granted {
		t.Fatal("upgrade granted against zero caller timestamp")
	}
	devSrv := newTestServer(t)
	devSrv.buildTimestamp = 0
	resp = devSrv.handleRequest(Request{Type: MsgRequestUpgrade, Timestamp: 9999}, &authed)
	if resp.Granted {
		t.Fatal("dev daemon granted an upgrade")
	}
}

func TestHeartbeatIsAudited(t *testing.T) {
	t.Parallel()

	srv := newTestServer(t)
	authed := true

	rec := testRecord(sessionA, 100)
	if resp := srv.handleRequest(Request{Type: MsgRegister, Session: &rec}, &authed); !resp.OK {
		t.Fatalf("register: %+v", resp)
	}
	if resp := srv.handleRequest(Request{Type: MsgHeartbeat, SessionID: sessionA}, &authed); !resp.OK {
		t.Fatalf("heartbeat: %+v", resp)
	}

	reader, err := audit.OpenReader(filepath.Join(srv.cfg.DataDir, "audit.db"))
	if err != nil {
		t.Fatalf("open audit reader: %v", err)
	}
	defer reader.Close()

	entries, err := reader.Query(context.Background(), audit.QueryOpts{
		SessionID: sessionA,
		Op:        audit.OpHeartbeat,
	})
	if err != nil {
		t.Fatalf("query audit log: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("heartbeat audit entries = %d, want 1", len(entries))
	}
}

// Full round trip over real sockets: start, discover via port file,
// authenticate, register, list, refused upgrade leaves the daemon
// reachable, shutdown removes the port file.
func TestServerEndToEnd(t *testing.T) {
	t.Parallel()

	srv := newTestServer(t)
	if err := srv.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer srv.Shutdown()

	client, err := Dial(srv.cfg.DataDir)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer client.Close()

	rec := testRecord(sessionA, 4242)
	sha, err := client.Register(rec)
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	if sha != buildinfo.SHA() {
		t.Fatalf("register sha = %q, want %q", sha, buildinfo.SHA())
	}
	if err := client.Heartbeat(sessionA); err != nil {
		t.Fatalf("heartbeat: %v", err)
	}

	sha, err = client.Update(sessionA, domain.PhaseReviewing, 2, "reviewing")
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if sha != buildinfo.SHA() {
		t.Fatalf("update sha = %q, want %q", sha, buildinfo.SHA())
	}

	sessions, err := client.List()
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(sessions) != 1 || sessions[0].SessionID != sessionA {
		t.Fatalf("sessions = %+v", sessions)
	}

	// The test binary has no ldflags timestamp, so any offer is refused
	// and the daemon keeps serving.
	granted, err := client.RequestUpgrade(uint64(time.Now().Unix()))
	if err != nil {
		t.Fatalf("request upgrade: %v", err)
	}
	if granted {
		t.Fatal("upgrade granted by dev daemon")
	}
	if _, err := client.List(); err != nil {
		t.Fatalf("daemon unreachable after refused upgrade: %v", err)
	}

	if err := client.ForceStop(sessionA); err != nil {
		t.Fatalf("force stop: %v", err)
	}
	got, err := client.Get(sessionA)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Liveness != LivenessStopped {
		t.Fatalf("liveness = %s, want stopped", got.Liveness)
	}

	srv.Shutdown()
	if _, err := ReadPortFile(srv.cfg.DataDir); err == nil {
		t.Fatal("port file survived shutdown")
	}
}

func TestDialWithoutDaemon(t *testing.T) {
	t.Parallel()

	_, err := Dial(t.TempDir())
	if err == nil {
		t.Fatal("dial succeeded without a daemon")
	}
}
