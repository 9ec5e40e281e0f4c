package sync

import (
	"context"

	"github.com/hyperengineering/decksync/internal/types"
)

// Peer is the remote side of a sync as seen by the driver.
type Peer interface {
	// Modified returns the peer deck's modification time.
	Modified(ctx context.Context) (float64, error)
	// LastSync returns the peer deck's last sync time.
	LastSync(ctx context.Context) (float64, error)
	// Summary returns the peer's change summary since the given baseline.
	Summary(ctx context.Context, since float64) (*types.Summary, error)
	// ApplyPayload applies a payload on the peer and returns its reply.
	ApplyPayload(ctx context.Context, p *types.Payload) (*types.Reply, error)
}

// LocalPeer exposes an in-process engine as a Peer.
type LocalPeer struct {
	engine *Engine
}

// NewLocalPeer wraps engine as a Peer.
func NewLocalPeer(engine *Engine) *LocalPeer {
	return &LocalPeer{engine: engine}
}

func (p *LocalPeer) Modified(ctx context.Context) (float64, error) {
	return p.engine.Modified(ctx)
}

func (p *LocalPeer) LastSync(ctx context.Context) (float64, error) {
	return p.engine.LastSync(ctx)
}

func (p *LocalPeer) Summary(ctx context.Context, since float64) (*types.Summary, error) {
	return p.engine.BuildSummary(ctx, since)
}

func (p *LocalPeer) ApplyPayload(ctx context.Context, payload *types.Payload) (*types.Reply, error) {
	return p.engine.ApplyPayload(ctx, payload)
}
