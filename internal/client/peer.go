// Package client talks to a sync server over HTTP and exposes it as a sync
// Peer.
package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"sync"
	"time"

	decksync "github.com/hyperengineering/decksync/internal/sync"
	"github.com/hyperengineering/decksync/internal/types"
	"github.com/hyperengineering/decksync/internal/wire"
)

// DefaultTimeout bounds each request to the server.
const DefaultTimeout = 60 * time.Second

// HTTPPeer is a remote deck reached through a sync server.
type HTTPPeer struct {
	baseURL       string
	deck          string
	username      string
	password      string
	clientVersion string
	client        *http.Client

	mu    sync.Mutex
	decks map[string]types.DeckTimes
}

var _ decksync.Peer = (*HTTPPeer)(nil)

// Option configures an HTTPPeer.
type Option func(*HTTPPeer)

// WithHTTPClient replaces the HTTP client.
func WithHTTPClient(c *http.Client) Option {
	return func(p *HTTPPeer) {
		p.client = c
	}
}

// WithTimeout sets the per-request timeout of the default HTTP client.
func WithTimeout(d time.Duration) Option {
	return func(p *HTTPPeer) {
		p.client = &http.Client{Timeout: d}
	}
}

// WithClientVersion sets the client version reported on connect.
func WithClientVersion(v string) Option {
	return func(p *HTTPPeer) {
		p.clientVersion = v
	}
}

// New creates a peer for deck on the server at baseURL.
func New(baseURL, username, password, deck string, opts ...Option) *HTTPPeer {
	p := &HTTPPeer{
		baseURL:       strings.TrimRight(baseURL, "/"),
		deck:          deck,
		username:      username,
		password:      password,
		clientVersion: "decksync",
		client:        &http.Client{Timeout: DefaultTimeout},
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Connect checks credentials and protocol version and caches the user's
// deck list. It only contacts the server once.
func (p *HTTPPeer) Connect(ctx context.Context) error {
	_, err := p.deckList(ctx)
	return err
}

func (p *HTTPPeer) deckList(ctx context.Context) (map[string]types.DeckTimes, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.decks != nil {
		return p.decks, nil
	}

	var list types.DeckList
	err := p.runCmd(ctx, "getDecks", url.Values{
		"libanki": {fmt.Sprint(decksync.ProtocolVersion)},
		"client":  {p.clientVersion},
	}, &list)
	if err != nil {
		return nil, err
	}
	if list.Status != types.StatusOK {
		return nil, &SyncError{Type: TypeAuthFailed, Status: list.Status}
	}
	if list.ProtocolVersion != decksync.ProtocolVersion {
		return nil, &SyncError{
			Type: TypeProtocolMismatch,
			Err:  fmt.Errorf("server speaks %d, client %d", list.ProtocolVersion, decksync.ProtocolVersion),
		}
	}

	p.decks = list.Decks
	if p.decks == nil {
		p.decks = map[string]types.DeckTimes{}
	}
	return p.decks, nil
}

// HasDeck reports whether the server holds a deck called name.
func (p *HTTPPeer) HasDeck(ctx context.Context, name string) (bool, error) {
	decks, err := p.deckList(ctx)
	if err != nil {
		return false, err
	}
	_, ok := decks[name]
	return ok, nil
}

// AvailableDecks returns the names of the user's decks on the server.
func (p *HTTPPeer) AvailableDecks(ctx context.Context) ([]string, error) {
	decks, err := p.deckList(ctx)
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(decks))
	for name := range decks {
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}

// CreateDeck creates an empty deck on the server.
func (p *HTTPPeer) CreateDeck(ctx context.Context, name string) error {
	decks, err := p.deckList(ctx)
	if err != nil {
		return err
	}

	var reply types.StatusReply
	if err := p.runCmd(ctx, "createDeck", url.Values{"name": {name}}, &reply); err != nil {
		return &SyncError{Type: TypeCreateFailed, Err: err}
	}
	if reply.Status != types.StatusOK {
		return &SyncError{Type: TypeCreateFailed, Status: reply.Status}
	}

	p.mu.Lock()
	decks[name] = types.DeckTimes{0, 0}
	p.mu.Unlock()
	return nil
}

func (p *HTTPPeer) times(ctx context.Context) (types.DeckTimes, error) {
	decks, err := p.deckList(ctx)
	if err != nil {
		return types.DeckTimes{}, err
	}
	t, ok := decks[p.deck]
	if !ok {
		return types.DeckTimes{}, fmt.Errorf("%w: %q", ErrDeckNotOnServer, p.deck)
	}
	return t, nil
}

// Modified returns the server deck's modification time as listed on connect.
func (p *HTTPPeer) Modified(ctx context.Context) (float64, error) {
	t, err := p.times(ctx)
	return t.Modified(), err
}

// LastSync returns the server deck's last sync time as listed on connect.
func (p *HTTPPeer) LastSync(ctx context.Context) (float64, error) {
	t, err := p.times(ctx)
	return t.LastSync(), err
}

// Summary fetches the server deck's change summary since the baseline.
func (p *HTTPPeer) Summary(ctx context.Context, since float64) (*types.Summary, error) {
	param, err := wire.Encode(since)
	if err != nil {
		return nil, err
	}
	var s types.Summary
	if err := p.runCmd(ctx, "summary", url.Values{"lastSync": {string(param)}}, &s); err != nil {
		return nil, err
	}
	return &s, nil
}

// ApplyPayload sends a payload to the server deck and returns its reply.
func (p *HTTPPeer) ApplyPayload(ctx context.Context, payload *types.Payload) (*types.Reply, error) {
	param, err := wire.Encode(payload)
	if err != nil {
		return nil, err
	}
	var reply types.Reply
	if err := p.runCmd(ctx, "applyPayload", url.Values{"payload": {string(param)}}, &reply); err != nil {
		return nil, err
	}

	// The server's times are stale after a sync.
	p.mu.Lock()
	p.decks = nil
	p.mu.Unlock()
	return &reply, nil
}

// BackupURL asks the server for a download link to the latest uploaded
// backup of the deck.
func (p *HTTPPeer) BackupURL(ctx context.Context) (string, time.Time, error) {
	var link types.BackupLink
	if err := p.runCmd(ctx, "backupURL", nil, &link); err != nil {
		return "", time.Time{}, err
	}
	if link.Status != types.StatusOK || link.URL == "" {
		return "", time.Time{}, &SyncError{Type: TypeProtocol, Status: link.Status, Err: errors.New("backupURL: no link in reply")}
	}
	return link.URL, time.Unix(int64(link.Expires), 0), nil
}

// problem mirrors the server's RFC 7807 error body.
type problem struct {
	Title  string `json:"title"`
	Detail string `json:"detail"`
}

// problemDetail extracts the detail of a problem response, falling back to
// the raw body and then the status text.
func problemDetail(resp *http.Response, body []byte) string {
	var prob problem
	if err := json.Unmarshal(body, &prob); err == nil {
		if prob.Detail != "" {
			return prob.Detail
		}
		if prob.Title != "" {
			return prob.Title
		}
	}
	if text := strings.TrimSpace(string(body)); text != "" {
		return text
	}
	return http.StatusText(resp.StatusCode)
}

// runCmd posts one sync verb with the deck and credentials and decodes the
// wire-encoded response into out.
func (p *HTTPPeer) runCmd(ctx context.Context, action string, params url.Values, out any) error {
	form := url.Values{
		"d": {p.deck},
		"u": {p.username},
		"p": {p.password},
	}
	for k, v := range params {
		form[k] = v
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/sync/"+action,
		strings.NewReader(form.Encode()))
	if err != nil {
		return fmt.Errorf("build %s request: %w", action, err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := p.client.Do(req)
	if err != nil {
		return &SyncError{Type: TypeNoResponse, Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return &SyncError{Type: TypeNoResponse, Err: err}
	}

	switch {
	case resp.StatusCode == http.StatusUnauthorized:
		return &SyncError{Type: TypeAuthFailed, Status: resp.Status}
	case resp.StatusCode >= 500:
		return &SyncError{Type: TypeNoResponse, Status: resp.Status}
	case resp.StatusCode >= 400:
		return &SyncError{Type: TypeProtocol, Status: resp.Status, Err: fmt.Errorf("%s: %s", action, problemDetail(resp, body))}
	}

	if len(body) == 0 {
		return &SyncError{Type: TypeNoResponse, Err: fmt.Errorf("%s: empty response", action)}
	}
	if err := wire.Decode(body, out); err != nil {
		return &SyncError{Type: TypeProtocol, Err: err}
	}
	return nil
}
