//go:build e2e

package e2e

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"golang.org/x/crypto/bcrypt"
)

var decksyncBin string

func TestMain(m *testing.M) {
	decksyncBin = os.Getenv("DECKSYNC_BIN")
	if decksyncBin == "" {
		if path, err := exec.LookPath("decksync"); err == nil {
			decksyncBin = path
		}
	}
	os.Exit(m.Run())
}

// binaryServer is a running "decksync serve" process.
type binaryServer struct {
	cmd       *exec.Cmd
	dataDir   string
	address   string
	usersEnv  string
	decksRoot string
}

func startBinary(t *testing.T) *binaryServer {
	t.Helper()
	if decksyncBin == "" {
		t.Skip("decksync binary not available (set DECKSYNC_BIN or add to PATH)")
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(e2ePassword), bcrypt.MinCost)
	if err != nil {
		t.Fatalf("GenerateFromPassword() error = %v", err)
	}
	dataDir := t.TempDir()
	port := freePort(t)
	s := &binaryServer{
		dataDir:   dataDir,
		address:   fmt.Sprintf("127.0.0.1:%d", port),
		usersEnv:  e2eUser + ":" + string(hash),
		decksRoot: filepath.Join(dataDir, "decks"),
	}

	logFile, err := os.Create(filepath.Join(dataDir, "decksync.log"))
	if err != nil {
		t.Fatalf("create log file: %v", err)
	}
	s.cmd = exec.Command(decksyncBin, "serve")
	s.cmd.Env = append(s.baseEnv(), fmt.Sprintf("DECKSYNC_PORT=%d", port))
	s.cmd.Stdout = logFile
	s.cmd.Stderr = logFile
	if err := s.cmd.Start(); err != nil {
		logFile.Close()
		t.Fatalf("start decksync: %v", err)
	}
	t.Cleanup(func() {
		_ = s.cmd.Process.Signal(os.Interrupt)
		_ = s.cmd.Wait()
		logFile.Close()
		if t.Failed() {
			if data, err := os.ReadFile(logFile.Name()); err == nil {
				t.Logf("server log:\n%s", data)
			}
		}
	})

	if err := s.waitHealthy(10 * time.Second); err != nil {
		t.Fatal(err)
	}
	return s
}

func (s *binaryServer) baseEnv() []string {
	return append(os.Environ(),
		"DECKSYNC_CONFIG_PATH="+filepath.Join(s.dataDir, "absent.yaml"),
		"DECKSYNC_DECKS_ROOT="+s.decksRoot,
		"DECKSYNC_USERS="+s.usersEnv,
		"DECKSYNC_BACKUP_INTERVAL=0s",
		"DECKSYNC_SYNC_PASSWORD="+e2ePassword,
	)
}

func (s *binaryServer) baseURL() string {
	return "http://" + s.address
}

func (s *binaryServer) waitHealthy(timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		resp, err := http.Get(s.baseURL() + "/health")
		if err == nil {
			resp.Body.Close()
			if resp.StatusCode == http.StatusOK {
				return nil
			}
		}
		time.Sleep(100 * time.Millisecond)
	}
	return fmt.Errorf("decksync not healthy after %s", timeout)
}

// run executes a decksync subcommand with the server's environment.
func (s *binaryServer) run(t *testing.T, args ...string) string {
	t.Helper()
	cmd := exec.Command(decksyncBin, args...)
	cmd.Env = s.baseEnv()
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		t.Fatalf("decksync %s: %v\nstderr: %s", strings.Join(args, " "), err, stderr.String())
	}
	return stdout.String()
}

func freePort(t *testing.T) int {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer l.Close()
	return l.Addr().(*net.TCPAddr).Port
}

func TestBinary_SyncCommandRoundTrip(t *testing.T) {
	srv := startBinary(t)
	a := newReplica(t, "alpha")
	a.addNote(t, "uno", "one")
	a.addNote(t, "dos", "two")
	localPath := a.store.Path()
	a.store.Close()

	// When: the sync command pushes the local deck, creating it on the server
	out := srv.run(t, "sync", "--local", localPath, "--url", srv.baseURL(),
		"--user", e2eUser, "--deck", e2eDeck, "--create", "--json")

	var res struct {
		Pushed map[string]int `json:"pushed"`
	}
	if err := json.Unmarshal([]byte(out), &res); err != nil {
		t.Fatalf("Unmarshal() error = %v; out = %q", err, out)
	}
	if res.Pushed["facts"] != 2 {
		t.Errorf("pushed facts = %d, want 2", res.Pushed["facts"])
	}

	// Then: the deck admin command sees the notes on the server
	out = srv.run(t, "deck", "info", e2eUser, e2eDeck, "--json", "--root", srv.decksRoot)
	var info struct {
		Facts int `json:"facts"`
	}
	if err := json.Unmarshal([]byte(out), &info); err != nil {
		t.Fatalf("Unmarshal() error = %v; out = %q", err, out)
	}
	if info.Facts != 2 {
		t.Errorf("server facts = %d, want 2", info.Facts)
	}

	// And: a second replica pulls them through the binary
	b := newReplica(t, "beta")
	bPath := b.store.Path()
	b.store.Close()
	srv.run(t, "sync", "--local", bPath, "--url", srv.baseURL(), "--user", e2eUser, "--deck", e2eDeck)

	reopened := newReplicaAt(t, bPath)
	assertFronts(t, "B", reopened, "uno", "dos")
}
