package sync

import (
	"slices"

	"github.com/hyperengineering/decksync/internal/types"
)

// DiffResult partitions the ids of one kind by what the sync must do.
type DiffResult struct {
	// LocallyEdited ids are newer here and are sent to the peer.
	LocallyEdited []int64
	// LocallyDeleted ids were deleted here and the peer must delete them.
	LocallyDeleted []int64
	// RemotelyEdited ids are newer on the peer and are requested from it.
	RemotelyEdited []int64
	// RemotelyDeleted ids were deleted on the peer and are deleted here.
	RemotelyDeleted []int64
}

// slot holds one id's modification time on each side. A side without a
// live entity (never seen, or tombstoned) has has* false.
type slot struct {
	local, remote       float64
	hasLocal, hasRemote bool
}

// Diff compares two summaries for kind. Last writer wins, a deletion counts
// as a write at its deletion time, a deletion beats an edit with the same
// time, and equal modification times need no action. Output lists are
// sorted ascending and never nil.
func Diff(local, remote *types.Summary, kind types.Kind) DiffResult {
	ids := map[int64]*slot{}
	get := func(id int64) *slot {
		s, ok := ids[id]
		if !ok {
			s = &slot{}
			ids[id] = s
		}
		return s
	}

	remoteDeleted := map[int64]float64{}
	localDeleted := map[int64]float64{}

	for _, p := range remote.Live(kind) {
		s := get(p.ID)
		s.remote, s.hasRemote = p.Time, true
	}
	for _, p := range remote.Deleted(kind) {
		s := get(p.ID)
		s.remote, s.hasRemote = 0, false
		remoteDeleted[p.ID] = p.Time
	}
	for _, p := range local.Live(kind) {
		s := get(p.ID)
		s.local, s.hasLocal = p.Time, true
	}
	for _, p := range local.Deleted(kind) {
		s := get(p.ID)
		s.local, s.hasLocal = 0, false
		localDeleted[p.ID] = p.Time
	}

	res := DiffResult{
		LocallyEdited:   []int64{},
		LocallyDeleted:  []int64{},
		RemotelyEdited:  []int64{},
		RemotelyDeleted: []int64{},
	}
	for id, s := range ids {
		switch {
		case s.hasLocal && s.hasRemote:
			if s.local < s.remote {
				res.RemotelyEdited = append(res.RemotelyEdited, id)
			} else if s.local > s.remote {
				res.LocallyEdited = append(res.LocallyEdited, id)
			}
		case s.hasLocal:
			if deleted, ok := remoteDeleted[id]; !ok || deleted < s.local {
				res.LocallyEdited = append(res.LocallyEdited, id)
			} else {
				res.RemotelyDeleted = append(res.RemotelyDeleted, id)
			}
		case s.hasRemote:
			if deleted, ok := localDeleted[id]; !ok || deleted < s.remote {
				res.RemotelyEdited = append(res.RemotelyEdited, id)
			} else {
				res.LocallyDeleted = append(res.LocallyDeleted, id)
			}
		default:
			_, l := localDeleted[id]
			_, r := remoteDeleted[id]
			if l && !r {
				res.LocallyDeleted = append(res.LocallyDeleted, id)
			} else if r && !l {
				res.RemotelyDeleted = append(res.RemotelyDeleted, id)
			}
		}
	}

	slices.Sort(res.LocallyEdited)
	slices.Sort(res.LocallyDeleted)
	slices.Sort(res.RemotelyEdited)
	slices.Sort(res.RemotelyDeleted)
	return res
}
