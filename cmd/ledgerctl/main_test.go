package main

import (
	"bytes"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/json"
	"encoding/pem"
	"errors"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/jmerrifield20/projectledger/internal/handler"
	"github.com/jmerrifield20/projectledger/internal/identity"
	"github.com/jmerrifield20/projectledger/internal/ledger"
	"github.com/jmerrifield20/projectledger/pkg/client"
)

func startServer(t *testing.T) *httptest.Server {
	t.Helper()
	gin.SetMode(gin.TestMode)
	store := ledger.NewMemoryStore()
	r := gin.New()
	handler.NewLedgerHandler(
		ledger.NewWriter(store, nil, zap.NewNop()),
		ledger.NewReader(store, zap.NewNop()),
		zap.NewNop(),
	).Register(r.Group("/api/v1"))
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return srv
}

// execute runs ledgerctl with args and returns its stdout.
func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	serverURL, cfgFile, authToken, actorID = "", "", "", ""
	root := newRootCmd()
	var buf bytes.Buffer
	root.SetOut(&buf)
	root.SetErr(&buf)
	root.SetArgs(args)
	err := root.Execute()
	return buf.String(), err
}

func TestAppendTimelineVerify(t *testing.T) {
	srv := startServer(t)

	out, err := execute(t, "--server", srv.URL, "--actor", "user-1",
		"append", "bridge-42", "PROJECT_CREATED", "--data", `{"budget":50000}`)
	if err != nil {
		t.Fatalf("append: %v\n%s", err, out)
	}
	if !strings.Contains(out, "appended bridge-42 #1") {
		t.Errorf("append output: %q", out)
	}

	out, err = execute(t, "--server", srv.URL, "timeline", "bridge-42")
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(out, "PROJECT_CREATED") || !strings.Contains(out, `{"budget":50000}`) {
		t.Errorf("timeline output: %q", out)
	}

	out, err = execute(t, "--server", srv.URL, "timeline", "bridge-42", "--format", "json")
	if err != nil {
		t.Fatal(err)
	}
	var events []map[string]any
	if err := json.Unmarshal([]byte(out), &events); err != nil || len(events) != 1 {
		t.Errorf("json timeline: %v %q", err, out)
	}

	out, err = execute(t, "--server", srv.URL, "verify", "bridge-42")
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(out, "bridge-42: valid (1 events") {
		t.Errorf("verify output: %q", out)
	}
}

func TestAppend_invalidData(t *testing.T) {
	srv := startServer(t)
	if _, err := execute(t, "--server", srv.URL, "--actor", "u", "append", "P", "X", "--data", "{nope"); err == nil {
		t.Error("expected error for invalid --data")
	}
}

func TestTimeline_unknownFormat(t *testing.T) {
	srv := startServer(t)
	if _, err := execute(t, "--server", srv.URL, "timeline", "P", "--format", "yaml"); err == nil {
		t.Error("expected error for unknown format")
	}
}

func TestTokenCmd(t *testing.T) {
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatal(err)
	}
	path := filepath.Join(t.TempDir(), "actor.key")
	pemBytes := pem.EncodeToMemory(&pem.Block{Type: "RSA PRIVATE KEY", Bytes: x509.MarshalPKCS1PrivateKey(key)})
	if err := os.WriteFile(path, pemBytes, 0o600); err != nil {
		t.Fatal(err)
	}

	out, err := execute(t, "token", "user-3", "--key", path, "--issuer", "https://ledger.test")
	if err != nil {
		t.Fatal(err)
	}
	claims, err := identity.NewTokenIssuer(key, "https://ledger.test", 0).Verify(strings.TrimSpace(out))
	if err != nil {
		t.Fatalf("minted token does not verify: %v", err)
	}
	if claims.Subject != "user-3" {
		t.Errorf("subject: %q", claims.Subject)
	}
}

func TestAuditCmd_sqlite(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ledger.db")
	store, err := ledger.OpenSQLite(t.Context(), path, zap.NewNop())
	if err != nil {
		t.Fatal(err)
	}
	w := ledger.NewWriter(store, nil, zap.NewNop())
	for _, id := range []string{"a", "b"} {
		if _, err := w.CreateEvent(t.Context(), id, ledger.EventProjectCreated, map[string]any{}, "u"); err != nil {
			t.Fatal(err)
		}
	}
	if err := store.Close(); err != nil {
		t.Fatal(err)
	}

	out, err := execute(t, "audit", "--backend", "sqlite", "--path", path)
	if err != nil {
		t.Fatalf("audit: %v\n%s", err, out)
	}
	if !strings.Contains(out, "checked 2 project(s)") {
		t.Errorf("audit output: %q", out)
	}
}

func TestAuditCmd_unknownBackend(t *testing.T) {
	if _, err := execute(t, "audit", "--backend", "etcd"); err == nil {
		t.Error("expected error")
	}
}

func TestReportVerify_broken(t *testing.T) {
	cmd := newVerifyCmd()
	var buf bytes.Buffer
	cmd.SetOut(&buf)
	err := reportVerify(cmd, "P", &clientVerifyBroken)
	if !errors.Is(err, errChainBroken) {
		t.Errorf("expected errChainBroken, got %v", err)
	}
	if !strings.Contains(buf.String(), "BROKEN at event e2 (seq 2): hash_mismatch") {
		t.Errorf("output: %q", buf.String())
	}
}

var clientVerifyBroken = client.VerifyResult{BrokenAt: "e2", BrokenSeq: 2, Reason: "hash_mismatch", Checked: 1}
