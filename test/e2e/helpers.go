// Package e2e exercises whole sync flows: several local replicas reconciling
// through one server, in process and against the built binary.
package e2e

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"slices"
	"sync/atomic"
	"testing"

	"github.com/hyperengineering/decksync/internal/api"
	"github.com/hyperengineering/decksync/internal/auth"
	"github.com/hyperengineering/decksync/internal/client"
	"github.com/hyperengineering/decksync/internal/multistore"
	"github.com/hyperengineering/decksync/internal/store"
	decksync "github.com/hyperengineering/decksync/internal/sync"
	"github.com/hyperengineering/decksync/internal/types"
	"golang.org/x/crypto/bcrypt"
)

const (
	e2eUser     = "alice"
	e2ePassword = "e2e-password"
	e2eDeck     = "Spanish"
)

var quietLogger = slog.New(slog.NewTextHandler(io.Discard, nil))

// syncServer is an in-process sync server whose applyPayload verb can be
// made to fail.
type syncServer struct {
	*httptest.Server
	mgr         *multistore.DeckManager
	failApplies atomic.Bool
}

func startServer(t *testing.T) *syncServer {
	t.Helper()
	mgr, err := multistore.NewDeckManager(t.TempDir(), decksync.WithLogger(quietLogger))
	if err != nil {
		t.Fatalf("NewDeckManager() error = %v", err)
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(e2ePassword), bcrypt.MinCost)
	if err != nil {
		t.Fatalf("GenerateFromPassword() error = %v", err)
	}
	router := api.NewRouter(api.NewHandler(mgr, auth.NewUsers(map[string]string{e2eUser: string(hash)}), "e2e"))

	s := &syncServer{mgr: mgr}
	s.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.failApplies.Load() && r.URL.Path == "/sync/applyPayload" {
			http.Error(w, "unavailable", http.StatusServiceUnavailable)
			return
		}
		router.ServeHTTP(w, r)
	}))
	t.Cleanup(func() {
		s.Close()
		mgr.Close()
	})
	return s
}

// deck returns the server's copy of the shared deck.
func (s *syncServer) deck(t *testing.T) store.Repository {
	t.Helper()
	d, err := s.mgr.GetDeck(context.Background(), e2eUser, e2eDeck)
	if err != nil {
		t.Fatalf("GetDeck() error = %v", err)
	}
	return d.Store
}

// replica is one client's local copy of the shared deck.
type replica struct {
	name  string
	store *store.SQLiteStore
}

func newReplica(t *testing.T, name string) *replica {
	t.Helper()
	s, err := store.NewSQLiteStore(filepath.Join(t.TempDir(), name+".db"))
	if err != nil {
		t.Fatalf("NewSQLiteStore(%s) error = %v", name, err)
	}
	t.Cleanup(func() { s.Close() })
	return &replica{name: name, store: s}
}

// sync runs one full client sync against srv, creating the deck if needed.
func (r *replica) sync(t *testing.T, srv *syncServer) *decksync.Result {
	t.Helper()
	res, err := r.trySync(srv)
	if err != nil {
		t.Fatalf("%s: Sync() error = %v", r.name, err)
	}
	return res
}

func (r *replica) trySync(srv *syncServer) (*decksync.Result, error) {
	ctx := context.Background()
	peer := client.New(srv.URL, e2eUser, e2ePassword, e2eDeck)
	if err := peer.Connect(ctx); err != nil {
		return nil, err
	}
	ok, err := peer.HasDeck(ctx, e2eDeck)
	if err != nil {
		return nil, err
	}
	if !ok {
		if err := peer.CreateDeck(ctx, e2eDeck); err != nil {
			return nil, err
		}
	}
	engine := decksync.NewEngine(r.store, decksync.WithLogger(quietLogger))
	return decksync.NewDriver(engine, peer, nil).Sync(ctx)
}

// addNote adds a Basic note, creating the model on first use.
func (r *replica) addNote(t *testing.T, front, back string) *types.Fact {
	t.Helper()
	ctx := context.Background()
	deck, err := r.store.Deck(ctx)
	if err != nil {
		t.Fatalf("Deck() error = %v", err)
	}
	modelID := deck.CurrentModelID
	if modelID == 0 {
		m, err := r.store.AddModel(ctx, types.BasicModel())
		if err != nil {
			t.Fatalf("AddModel() error = %v", err)
		}
		modelID = m.ID
	}
	f, _, err := r.store.AddFact(ctx, modelID, front, back)
	if err != nil {
		t.Fatalf("%s: AddFact() error = %v", r.name, err)
	}
	return f
}

// factByFront returns the id of the fact whose first field is front.
func factByFront(t *testing.T, repo store.Repository, front string) int64 {
	t.Helper()
	for id, fields := range factFields(t, repo) {
		if len(fields) > 0 && fields[0] == front {
			return id
		}
	}
	t.Fatalf("no fact with front %q", front)
	return 0
}

// fronts returns the sorted first-field values of every live fact.
func fronts(t *testing.T, repo store.Repository) []string {
	t.Helper()
	out := []string{}
	for _, fields := range factFields(t, repo) {
		if len(fields) > 0 {
			out = append(out, fields[0])
		}
	}
	slices.Sort(out)
	return out
}

// factFields maps each live fact to its field values in ordinal order.
func factFields(t *testing.T, repo store.Repository) map[int64][]string {
	t.Helper()
	ctx := context.Background()
	live, err := repo.ModifiedSince(ctx, types.KindFacts, -1)
	if err != nil {
		t.Fatalf("ModifiedSince() error = %v", err)
	}
	ids := make([]int64, len(live))
	for i, p := range live {
		ids[i] = p.ID
	}
	bundle, err := repo.Facts(ctx, ids)
	if err != nil {
		t.Fatalf("Facts() error = %v", err)
	}

	out := map[int64][]string{}
	for _, f := range bundle.Facts {
		out[f.ID] = nil
	}
	for _, field := range bundle.Fields {
		values := out[field.FactID]
		for len(values) <= field.Ordinal {
			values = append(values, "")
		}
		values[field.Ordinal] = field.Value
		out[field.FactID] = values
	}
	return out
}

func cardCount(t *testing.T, repo store.Repository) int {
	t.Helper()
	live, err := repo.ModifiedSince(context.Background(), types.KindCards, -1)
	if err != nil {
		t.Fatalf("ModifiedSince() error = %v", err)
	}
	return len(live)
}

func lastSync(t *testing.T, repo store.Repository) float64 {
	t.Helper()
	v, err := repo.LastSync(context.Background())
	if err != nil {
		t.Fatalf("LastSync() error = %v", err)
	}
	return v
}

func assertFronts(t *testing.T, who string, repo store.Repository, want ...string) {
	t.Helper()
	slices.Sort(want)
	if got := fronts(t, repo); !slices.Equal(got, want) {
		t.Errorf("%s fronts = %v, want %v", who, got, want)
	}
}

// newReplicaAt reopens a replica database that was closed for a subprocess.
func newReplicaAt(t *testing.T, path string) *store.SQLiteStore {
	t.Helper()
	s, err := store.NewSQLiteStore(path)
	if err != nil {
		t.Fatalf("NewSQLiteStore(%s) error = %v", path, err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}
