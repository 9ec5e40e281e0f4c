package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/hyperengineering/decksync/internal/auth"
	"github.com/hyperengineering/decksync/internal/multistore"
	decksync "github.com/hyperengineering/decksync/internal/sync"
	"github.com/hyperengineering/decksync/internal/types"
	"github.com/hyperengineering/decksync/internal/wire"
	"golang.org/x/crypto/bcrypt"
)

const (
	testUser     = "alice"
	testPassword = "correct horse"
)

func newTestRouter(t *testing.T, opts ...HandlerOption) (http.Handler, *multistore.DeckManager) {
	t.Helper()
	mgr, err := multistore.NewDeckManager(t.TempDir())
	if err != nil {
		t.Fatalf("NewDeckManager() error = %v", err)
	}
	t.Cleanup(func() { mgr.Close() })

	hash, err := bcrypt.GenerateFromPassword([]byte(testPassword), bcrypt.MinCost)
	if err != nil {
		t.Fatalf("GenerateFromPassword() error = %v", err)
	}
	users := auth.NewUsers(map[string]string{testUser: string(hash)})

	return NewRouter(NewHandler(mgr, users, "test", opts...)), mgr
}

func credentials(extra url.Values) url.Values {
	form := url.Values{"u": {testUser}, "p": {testPassword}}
	for k, v := range extra {
		form[k] = v
	}
	return form
}

func encodeParam(t *testing.T, v any) string {
	t.Helper()
	data, err := wire.Encode(v)
	if err != nil {
		t.Fatalf("Encode() error = %v", err)
	}
	return string(data)
}

func post(router http.Handler, path string, form url.Values) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	router.ServeHTTP(w, formRequest(path, form))
	return w
}

func decodeBody(t *testing.T, w *httptest.ResponseRecorder, v any) {
	t.Helper()
	if ct := w.Header().Get("Content-Type"); ct != "application/octet-stream" {
		t.Fatalf("Content-Type = %q, want application/octet-stream (body %s)", ct, w.Body.String())
	}
	if err := wire.Decode(w.Body.Bytes(), v); err != nil {
		t.Fatalf("Decode() error = %v", err)
	}
}

func TestHealth(t *testing.T) {
	router, _ := newTestRouter(t)

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusOK)
	}
	var resp types.HealthResponse
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("Decode() error = %v", err)
	}
	if resp.Status != "healthy" {
		t.Errorf("Status = %q, want healthy", resp.Status)
	}
	if resp.ProtocolVersion != decksync.ProtocolVersion {
		t.Errorf("ProtocolVersion = %d, want %d", resp.ProtocolVersion, decksync.ProtocolVersion)
	}
}

func TestGetDecks_InvalidCredentials(t *testing.T) {
	router, _ := newTestRouter(t)

	w := post(router, "/sync/getDecks", url.Values{"u": {testUser}, "p": {"wrong"}})

	// Bad credentials are reported in the body, not as a 401.
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusOK)
	}
	var list types.DeckList
	decodeBody(t, w, &list)
	if list.Status != types.StatusInvalidUserPass {
		t.Errorf("Status = %q, want %q", list.Status, types.StatusInvalidUserPass)
	}
	if len(list.Decks) != 0 {
		t.Errorf("Decks = %v, want none", list.Decks)
	}
}

func TestGetDecks_ListsDecks(t *testing.T) {
	router, mgr := newTestRouter(t)
	ctx := context.Background()

	d, err := mgr.CreateDeck(ctx, testUser, "Spanish", "")
	if err != nil {
		t.Fatalf("CreateDeck() error = %v", err)
	}
	if _, err := mgr.CreateDeck(ctx, "bob", "Other", ""); err != nil {
		t.Fatalf("CreateDeck() error = %v", err)
	}
	modified, err := d.Engine.Modified(ctx)
	if err != nil {
		t.Fatalf("Modified() error = %v", err)
	}

	w := post(router, "/sync/getDecks", credentials(url.Values{"libanki": {"2"}, "client": {"test"}}))

	var list types.DeckList
	decodeBody(t, w, &list)
	if list.Status != types.StatusOK {
		t.Fatalf("Status = %q, want %q", list.Status, types.StatusOK)
	}
	if list.ProtocolVersion != decksync.ProtocolVersion {
		t.Errorf("ProtocolVersion = %d, want %d", list.ProtocolVersion, decksync.ProtocolVersion)
	}
	if len(list.Decks) != 1 {
		t.Fatalf("Decks = %v, want only the user's deck", list.Decks)
	}
	times, ok := list.Decks["Spanish"]
	if !ok {
		t.Fatalf("Decks = %v, want Spanish", list.Decks)
	}
	if times.Modified() != modified {
		t.Errorf("Modified = %v, want %v", times.Modified(), modified)
	}
	if times.LastSync() != 0 {
		t.Errorf("LastSync = %v, want 0", times.LastSync())
	}
}

func TestCreateDeck(t *testing.T) {
	router, mgr := newTestRouter(t)

	w := post(router, "/sync/createDeck", credentials(url.Values{"name": {"French"}}))
	var reply types.StatusReply
	decodeBody(t, w, &reply)
	if reply.Status != types.StatusOK {
		t.Errorf("Status = %q, want %q", reply.Status, types.StatusOK)
	}

	if _, err := mgr.GetDeck(context.Background(), testUser, "French"); err != nil {
		t.Errorf("GetDeck() error = %v", err)
	}

	w = post(router, "/sync/createDeck", credentials(url.Values{"name": {"French"}}))
	if w.Code != http.StatusConflict {
		t.Errorf("second create status = %d, want %d", w.Code, http.StatusConflict)
	}
}

func TestCreateDeck_Errors(t *testing.T) {
	tests := []struct {
		name string
		form url.Values
		want int
	}{
		{"bad credentials", url.Values{"u": {testUser}, "p": {"wrong"}, "name": {"French"}}, http.StatusUnauthorized},
		{"invalid name", credentials(url.Values{"name": {"../etc"}}), http.StatusBadRequest},
		{"missing name", credentials(nil), http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			router, _ := newTestRouter(t)
			w := post(router, "/sync/createDeck", tt.form)
			if w.Code != tt.want {
				t.Errorf("status = %d, want %d", w.Code, tt.want)
			}
		})
	}
}

func TestSummary(t *testing.T) {
	router, mgr := newTestRouter(t)
	ctx := context.Background()

	d, err := mgr.CreateDeck(ctx, testUser, "Spanish", "")
	if err != nil {
		t.Fatalf("CreateDeck() error = %v", err)
	}
	m, err := d.Store.AddModel(ctx, types.BasicModel())
	if err != nil {
		t.Fatalf("AddModel() error = %v", err)
	}

	w := post(router, "/sync/summary", credentials(url.Values{
		"d":        {"Spanish"},
		"lastSync": {encodeParam(t, 0.0)},
	}))

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d (body %s)", w.Code, http.StatusOK, w.Body.String())
	}
	var s types.Summary
	decodeBody(t, w, &s)
	if len(s.Models) != 1 || s.Models[0].ID != m.ID {
		t.Errorf("Models = %v, want [%d]", s.Models, m.ID)
	}
	if s.DelModels == nil || s.Facts == nil || s.DelCards == nil {
		t.Errorf("summary lists must be present: %+v", s)
	}
}

func TestSummary_Errors(t *testing.T) {
	tests := []struct {
		name string
		form url.Values
		want int
	}{
		{"unknown deck", credentials(url.Values{"d": {"Missing"}, "lastSync": {"x"}}), http.StatusNotFound},
		{"malformed lastSync", credentials(url.Values{"d": {"Spanish"}, "lastSync": {"not zlib"}}), http.StatusBadRequest},
		{"bad credentials", url.Values{"u": {testUser}, "p": {"wrong"}, "d": {"Spanish"}}, http.StatusUnauthorized},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			router, mgr := newTestRouter(t)
			if _, err := mgr.CreateDeck(context.Background(), testUser, "Spanish", ""); err != nil {
				t.Fatalf("CreateDeck() error = %v", err)
			}
			w := post(router, "/sync/summary", tt.form)
			if w.Code != tt.want {
				t.Errorf("status = %d, want %d", w.Code, tt.want)
			}
		})
	}
}

func TestApplyPayload_EmptyPayload(t *testing.T) {
	router, mgr := newTestRouter(t)
	ctx := context.Background()

	d, err := mgr.CreateDeck(ctx, testUser, "Spanish", "")
	if err != nil {
		t.Fatalf("CreateDeck() error = %v", err)
	}

	w := post(router, "/sync/applyPayload", credentials(url.Values{
		"d":       {"Spanish"},
		"payload": {encodeParam(t, types.NewPayload())},
	}))

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d (body %s)", w.Code, http.StatusOK, w.Body.String())
	}
	var reply types.Reply
	decodeBody(t, w, &reply)

	// A payload without a deck means the server's deck is the newer one.
	if !reply.HasDeck() {
		t.Error("reply should carry the server's deck")
	}
	modified, _ := d.Engine.Modified(ctx)
	lastSync, _ := d.Engine.LastSync(ctx)
	if lastSync != modified {
		t.Errorf("LastSync = %v, want deck modified %v", lastSync, modified)
	}
}

func TestApplyPayload_IncompletePayload(t *testing.T) {
	router, mgr := newTestRouter(t)
	if _, err := mgr.CreateDeck(context.Background(), testUser, "Spanish", ""); err != nil {
		t.Fatalf("CreateDeck() error = %v", err)
	}

	w := post(router, "/sync/applyPayload", credentials(url.Values{
		"d":       {"Spanish"},
		"payload": {encodeParam(t, types.Payload{})},
	}))

	if w.Code != http.StatusUnprocessableEntity {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusUnprocessableEntity)
	}
	var p ProblemWithErrors
	if err := json.NewDecoder(w.Body).Decode(&p); err != nil {
		t.Fatalf("Decode() error = %v", err)
	}
	if len(p.Errors) == 0 {
		t.Error("Errors should name the missing sections")
	}
}

func TestApplyPayload_Malformed(t *testing.T) {
	router, mgr := newTestRouter(t)
	if _, err := mgr.CreateDeck(context.Background(), testUser, "Spanish", ""); err != nil {
		t.Fatalf("CreateDeck() error = %v", err)
	}

	w := post(router, "/sync/applyPayload", credentials(url.Values{"d": {"Spanish"}}))

	if w.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want %d", w.Code, http.StatusBadRequest)
	}
}

type stubLinker struct {
	keys []string
	err  error
}

func (l *stubLinker) PresignedURL(ctx context.Context, deckKey string) (string, time.Time, error) {
	l.keys = append(l.keys, deckKey)
	if l.err != nil {
		return "", time.Time{}, l.err
	}
	return "https://s3.example.com/" + deckKey + "/backup/current.db", time.Unix(1700000000, 0), nil
}

func TestBackupURL(t *testing.T) {
	linker := &stubLinker{}
	router, mgr := newTestRouter(t, WithBackups(linker))
	if _, err := mgr.CreateDeck(context.Background(), testUser, "Spanish", ""); err != nil {
		t.Fatalf("CreateDeck() error = %v", err)
	}

	w := post(router, "/sync/backupURL", credentials(url.Values{"d": {"Spanish"}}))

	var link types.BackupLink
	decodeBody(t, w, &link)
	if link.Status != types.StatusOK || link.URL != "https://s3.example.com/alice/Spanish/backup/current.db" {
		t.Errorf("BackupLink = %+v", link)
	}
	if link.Expires != 1700000000 {
		t.Errorf("Expires = %v, want 1700000000", link.Expires)
	}
	if len(linker.keys) != 1 || linker.keys[0] != "alice/Spanish" {
		t.Errorf("linked keys = %v, want [alice/Spanish]", linker.keys)
	}
}

func TestBackupURL_Errors(t *testing.T) {
	tests := []struct {
		name string
		opts []HandlerOption
		deck string
		want int
	}{
		{name: "storage not configured", deck: "Spanish", want: http.StatusNotFound},
		{name: "presign fails", opts: []HandlerOption{WithBackups(&stubLinker{err: errors.New("denied")})}, deck: "Spanish", want: http.StatusInternalServerError},
		{name: "unknown deck", opts: []HandlerOption{WithBackups(&stubLinker{})}, deck: "Missing", want: http.StatusNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			router, mgr := newTestRouter(t, tt.opts...)
			if _, err := mgr.CreateDeck(context.Background(), testUser, "Spanish", ""); err != nil {
				t.Fatalf("CreateDeck() error = %v", err)
			}

			w := post(router, "/sync/backupURL", credentials(url.Values{"d": {tt.deck}}))
			if w.Code != tt.want {
				t.Errorf("status = %d, want %d (body %s)", w.Code, tt.want, w.Body.String())
			}
		})
	}
}
