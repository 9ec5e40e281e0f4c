package sync

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/hyperengineering/decksync/internal/types"
	"github.com/hyperengineering/decksync/internal/validation"
	"github.com/oklog/ulid/v2"
)

// phase names the driver's progress through one sync.
type phase int

const (
	phaseIdle phase = iota
	phaseBaselineResolved
	phaseSummariesBuilt
	phasePayloadSent
	phaseReplyApplied
)

func (p phase) String() string {
	switch p {
	case phaseBaselineResolved:
		return "baseline_resolved"
	case phaseSummariesBuilt:
		return "summaries_built"
	case phasePayloadSent:
		return "payload_sent"
	case phaseReplyApplied:
		return "reply_applied"
	}
	return "idle"
}

// KindCounts holds one number per entity kind.
type KindCounts map[types.Kind]int

// Total sums the counts over all kinds.
func (c KindCounts) Total() int {
	n := 0
	for _, v := range c {
		n += v
	}
	return n
}

// Result reports what one sync did.
type Result struct {
	// SyncID identifies the sync in logs.
	SyncID string
	// Baseline is the time both summaries were built against.
	Baseline float64
	// FullSync is set when the replicas disagreed on lastSync and the
	// baseline was reset to zero.
	FullSync bool
	// Pushed counts entities sent to the peer.
	Pushed KindCounts
	// Pulled counts entities received from the peer.
	Pulled KindCounts
	// DeletedLocal counts ids deleted here because the peer deleted them.
	DeletedLocal KindCounts
	// DeletedRemote counts ids the peer was told to delete.
	DeletedRemote KindCounts
	// SentDeck is set when the local deck-level state was sent, and
	// ReceivedDeck when the peer's was installed.
	SentDeck     bool
	ReceivedDeck bool
	// CurrentModelID is the local current model after the sync.
	CurrentModelID int64
	Duration       time.Duration
}

// Driver runs one sync between a local engine and a peer.
type Driver struct {
	local  *Engine
	peer   Peer
	logger *slog.Logger
}

// NewDriver creates a driver. A nil logger uses the local engine's logger.
func NewDriver(local *Engine, peer Peer, logger *slog.Logger) *Driver {
	if logger == nil {
		logger = local.logger
	}
	return &Driver{local: local, peer: peer, logger: logger}
}

// Sync reconciles the local replica with the peer. Any error aborts the
// sync; steps already committed stay committed.
func (d *Driver) Sync(ctx context.Context) (*Result, error) {
	start := time.Now()
	res := &Result{
		SyncID:        ulid.Make().String(),
		Pushed:        KindCounts{},
		Pulled:        KindCounts{},
		DeletedLocal:  KindCounts{},
		DeletedRemote: KindCounts{},
	}
	logger := d.logger.With("component", "sync", "sync_id", res.SyncID)
	state := phaseIdle
	advance := func(next phase) {
		logger.Debug("sync phase", "action", "phase", "from", state.String(), "to", next.String())
		state = next
	}
	fail := func(step string, err error) (*Result, error) {
		logger.Error("sync failed", "action", step, "phase", state.String(), "error", err)
		return nil, fmt.Errorf("%s: %w", step, err)
	}

	localTime, err := d.local.Modified(ctx)
	if err != nil {
		return fail("local modified", err)
	}
	remoteTime, err := d.peer.Modified(ctx)
	if err != nil {
		return fail("remote modified", err)
	}
	localSync, err := d.local.LastSync(ctx)
	if err != nil {
		return fail("local last sync", err)
	}
	remoteSync, err := d.peer.LastSync(ctx)
	if err != nil {
		return fail("remote last sync", err)
	}

	res.Baseline = localSync
	if localSync != remoteSync {
		res.Baseline = 0
		res.FullSync = true
	}
	advance(phaseBaselineResolved)

	localSummary, err := d.local.BuildSummary(ctx, res.Baseline)
	if err != nil {
		return fail("local summary", err)
	}
	remoteSummary, err := d.peer.Summary(ctx, res.Baseline)
	if err != nil {
		return fail("remote summary", err)
	}
	if err := validation.Summary(remoteSummary); err != nil {
		return fail("remote summary", fmt.Errorf("%w: %w", ErrProtocol, err))
	}
	advance(phaseSummariesBuilt)

	payload, deletedLocal, err := d.local.GenPayload(ctx, localSummary, remoteSummary, localTime, remoteTime)
	if err != nil {
		return fail("gen payload", err)
	}
	res.DeletedLocal = deletedLocal
	for _, kind := range types.Kinds {
		res.Pushed[kind] = payload.Count(kind)
		res.DeletedRemote[kind] = len(payload.Deleted(kind))
	}
	res.SentDeck = payload.HasDeck()

	reply, err := d.peer.ApplyPayload(ctx, payload)
	if err != nil {
		return fail("apply payload", err)
	}
	advance(phasePayloadSent)

	refresh, err := d.local.ApplyReply(ctx, reply)
	if err != nil {
		return fail("apply reply", err)
	}
	for _, kind := range types.Kinds {
		res.Pulled[kind] = reply.Count(kind)
	}
	res.ReceivedDeck = reply.HasDeck()
	res.CurrentModelID = refresh.CurrentModelID
	advance(phaseReplyApplied)
	advance(phaseIdle)

	res.Duration = time.Since(start)
	logger.Info("sync complete",
		"action", "sync",
		"baseline", res.Baseline,
		"full_sync", res.FullSync,
		"pushed", res.Pushed.Total(),
		"pulled", res.Pulled.Total(),
		"deleted_local", res.DeletedLocal.Total(),
		"deleted_remote", res.DeletedRemote.Total(),
		"sent_deck", res.SentDeck,
		"received_deck", res.ReceivedDeck,
		"duration_ms", res.Duration.Milliseconds(),
	)
	return res, nil
}
