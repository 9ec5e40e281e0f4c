package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/hyperengineering/decksync/internal/api"
	"github.com/hyperengineering/decksync/internal/auth"
	"github.com/hyperengineering/decksync/internal/client"
	"github.com/hyperengineering/decksync/internal/config"
	"github.com/hyperengineering/decksync/internal/multistore"
	"github.com/hyperengineering/decksync/internal/store"
	decksync "github.com/hyperengineering/decksync/internal/sync"
	"github.com/hyperengineering/decksync/internal/types"
	"golang.org/x/crypto/bcrypt"
)

func newSyncServer(t *testing.T) (*httptest.Server, *multistore.DeckManager) {
	t.Helper()
	quiet := slog.New(slog.NewTextHandler(io.Discard, nil))
	mgr, err := multistore.NewDeckManager(t.TempDir(), decksync.WithLogger(quiet))
	if err != nil {
		t.Fatalf("NewDeckManager() error = %v", err)
	}
	hash, err := bcrypt.GenerateFromPassword([]byte("s3cret"), bcrypt.MinCost)
	if err != nil {
		t.Fatalf("GenerateFromPassword() error = %v", err)
	}
	users := auth.NewUsers(map[string]string{"alice": string(hash)})
	srv := httptest.NewServer(api.NewRouter(api.NewHandler(mgr, users, "test")))
	t.Cleanup(func() {
		srv.Close()
		mgr.Close()
	})
	return srv, mgr
}

// executeSyncCmd runs the sync command with captured output. The config
// file is pointed at a missing path so only flags and env apply.
func executeSyncCmd(t *testing.T, args ...string) (stdout, stderr string, err error) {
	t.Helper()
	t.Setenv("DECKSYNC_CONFIG_PATH", filepath.Join(t.TempDir(), "absent.yaml"))
	t.Setenv("DECKSYNC_SYNC_PASSWORD", "s3cret")

	syncLocalPath, syncURL, syncUser, syncDeck, syncAtomicity = "", "", "", "", ""
	syncCreate = false
	syncJSON = false

	oldDefault := slog.Default()
	defer slog.SetDefault(oldDefault)

	outBuf := new(bytes.Buffer)
	errBuf := new(bytes.Buffer)
	rootCmd.SetOut(outBuf)
	rootCmd.SetErr(errBuf)
	rootCmd.SetArgs(append([]string{"sync"}, args...))

	err = rootCmd.Execute()

	rootCmd.SetOut(nil)
	rootCmd.SetErr(nil)
	rootCmd.SetArgs(nil)

	return outBuf.String(), errBuf.String(), err
}

func TestSyncCmd_CreatesAndPushes(t *testing.T) {
	// Given: a local deck with one note and a server without the deck
	srv, mgr := newSyncServer(t)
	localPath := filepath.Join(t.TempDir(), "local.db")
	local, err := store.NewSQLiteStore(localPath)
	if err != nil {
		t.Fatalf("NewSQLiteStore() error = %v", err)
	}
	ctx := context.Background()
	m, err := local.AddModel(ctx, types.BasicModel())
	if err != nil {
		t.Fatalf("AddModel() error = %v", err)
	}
	if _, _, err := local.AddFact(ctx, m.ID, "hola", "hello"); err != nil {
		t.Fatalf("AddFact() error = %v", err)
	}
	local.Close()

	// When: syncing with --create
	stdout, _, err := executeSyncCmd(t,
		"--local", localPath, "--url", srv.URL, "--user", "alice", "--deck", "Spanish",
		"--create", "--json")
	if err != nil {
		t.Fatalf("sync error = %v", err)
	}

	// Then: the note reached the server deck
	var out struct {
		FullSync bool           `json:"full_sync"`
		Pushed   map[string]int `json:"pushed"`
		SentDeck bool           `json:"sent_deck"`
	}
	if err := json.Unmarshal([]byte(stdout), &out); err != nil {
		t.Fatalf("Unmarshal() error = %v; stdout = %q", err, stdout)
	}
	if out.Pushed["facts"] != 1 {
		t.Errorf("pushed facts = %d, want 1", out.Pushed["facts"])
	}
	if !out.SentDeck {
		t.Error("sent_deck = false, want true")
	}

	d, err := mgr.GetDeck(ctx, "alice", "Spanish")
	if err != nil {
		t.Fatalf("GetDeck() error = %v", err)
	}
	info, err := d.Store.Info(ctx)
	if err != nil {
		t.Fatalf("Info() error = %v", err)
	}
	if info.Facts != 1 {
		t.Errorf("server facts = %d, want 1", info.Facts)
	}

	// And: a second sync is a no-op reported as text
	stdout, _, err = executeSyncCmd(t,
		"--local", localPath, "--url", srv.URL, "--user", "alice", "--deck", "Spanish")
	if err != nil {
		t.Fatalf("second sync error = %v", err)
	}
	if !strings.Contains(stdout, "(incremental)") {
		t.Errorf("stdout = %q, want incremental sync", stdout)
	}
}

func TestSyncCmd_DeckMissingWithoutCreate(t *testing.T) {
	srv, _ := newSyncServer(t)

	_, _, err := executeSyncCmd(t,
		"--local", filepath.Join(t.TempDir(), "local.db"), "--url", srv.URL,
		"--user", "alice", "--deck", "Spanish")
	if !errors.Is(err, client.ErrDeckNotOnServer) {
		t.Errorf("sync error = %v, want ErrDeckNotOnServer", err)
	}
}

func TestSyncCmd_MissingSettings(t *testing.T) {
	_, _, err := executeSyncCmd(t, "--url", "http://localhost:1")
	if err == nil {
		t.Fatal("sync error = nil, want missing settings")
	}
	for _, want := range []string{"sync.deck", "sync.local_path", "sync.username"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("error = %q, want it to name %s", err, want)
		}
	}
}

func TestSyncCmd_InvalidAtomicity(t *testing.T) {
	_, _, err := executeSyncCmd(t,
		"--local", filepath.Join(t.TempDir(), "local.db"), "--url", "http://localhost:1",
		"--user", "alice", "--deck", "Spanish", "--atomicity", "sometimes")
	if err == nil {
		t.Error("sync error = nil, want invalid atomicity")
	}
}

func TestHashPasswordCmd(t *testing.T) {
	run := func(stdin string, args ...string) (string, error) {
		hashUser = ""
		out := new(bytes.Buffer)
		rootCmd.SetOut(out)
		rootCmd.SetIn(strings.NewReader(stdin))
		rootCmd.SetArgs(append([]string{"hash-password"}, args...))
		err := rootCmd.Execute()
		rootCmd.SetOut(nil)
		rootCmd.SetIn(nil)
		rootCmd.SetArgs(nil)
		return strings.TrimSpace(out.String()), err
	}

	hash, err := run("s3cret\n")
	if err != nil {
		t.Fatalf("hash-password error = %v", err)
	}
	if err := bcrypt.CompareHashAndPassword([]byte(hash), []byte("s3cret")); err != nil {
		t.Errorf("CompareHashAndPassword() error = %v", err)
	}

	entry, err := run("s3cret", "--user", "alice")
	if err != nil {
		t.Fatalf("hash-password --user error = %v", err)
	}
	users, err := config.ParseUsers(entry)
	if err != nil {
		t.Fatalf("parse entry %q: %v", entry, err)
	}
	if err := auth.NewUsers(users).Authenticate("alice", "s3cret"); err != nil {
		t.Errorf("Authenticate() error = %v", err)
	}

	if _, err := run("\n"); err == nil {
		t.Error("hash-password error = nil, want empty password error")
	}
}
