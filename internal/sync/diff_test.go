package sync

import (
	"reflect"
	"testing"

	"github.com/hyperengineering/decksync/internal/types"
)

func cardSummary(live, deleted []types.IDTime) *types.Summary {
	var s types.Summary
	for _, k := range types.Kinds {
		s.Set(k, []types.IDTime{}, []types.IDTime{})
	}
	if live == nil {
		live = []types.IDTime{}
	}
	if deleted == nil {
		deleted = []types.IDTime{}
	}
	s.Set(types.KindCards, live, deleted)
	return &s
}

func pair(id int64, t float64) []types.IDTime {
	return []types.IDTime{{ID: id, Time: t}}
}

func TestDiff_Rules(t *testing.T) {
	tests := []struct {
		name       string
		localLive  []types.IDTime
		localDel   []types.IDTime
		remoteLive []types.IDTime
		remoteDel  []types.IDTime
		want       DiffResult
	}{
		{
			name:      "new locally",
			localLive: pair(1, 5),
			want:      DiffResult{LocallyEdited: []int64{1}},
		},
		{
			name:       "new remotely",
			remoteLive: pair(1, 5),
			want:       DiffResult{RemotelyEdited: []int64{1}},
		},
		{
			name:       "edited on both, local newer",
			localLive:  pair(1, 7),
			remoteLive: pair(1, 5),
			want:       DiffResult{LocallyEdited: []int64{1}},
		},
		{
			name:       "edited on both, remote newer",
			localLive:  pair(1, 5),
			remoteLive: pair(1, 7),
			want:       DiffResult{RemotelyEdited: []int64{1}},
		},
		{
			name:       "same modification time",
			localLive:  pair(1, 5),
			remoteLive: pair(1, 5),
			want:       DiffResult{},
		},
		{
			name:      "remote deletion after local edit",
			localLive: pair(1, 5),
			remoteDel: pair(1, 7),
			want:      DiffResult{RemotelyDeleted: []int64{1}},
		},
		{
			name:      "local edit after remote deletion",
			localLive: pair(1, 7),
			remoteDel: pair(1, 5),
			want:      DiffResult{LocallyEdited: []int64{1}},
		},
		{
			name:      "remote deletion ties local edit",
			localLive: pair(1, 5),
			remoteDel: pair(1, 5),
			want:      DiffResult{RemotelyDeleted: []int64{1}},
		},
		{
			name:       "local deletion after remote edit",
			localDel:   pair(1, 7),
			remoteLive: pair(1, 5),
			want:       DiffResult{LocallyDeleted: []int64{1}},
		},
		{
			name:       "remote edit after local deletion",
			localDel:   pair(1, 5),
			remoteLive: pair(1, 7),
			want:       DiffResult{RemotelyEdited: []int64{1}},
		},
		{
			name:       "local deletion ties remote edit",
			localDel:   pair(1, 5),
			remoteLive: pair(1, 5),
			want:       DiffResult{LocallyDeleted: []int64{1}},
		},
		{
			name:     "deleted locally only",
			localDel: pair(1, 5),
			want:     DiffResult{LocallyDeleted: []int64{1}},
		},
		{
			name:      "deleted remotely only",
			remoteDel: pair(1, 5),
			want:      DiffResult{RemotelyDeleted: []int64{1}},
		},
		{
			name:      "deleted on both",
			localDel:  pair(1, 5),
			remoteDel: pair(1, 9),
			want:      DiffResult{},
		},
		{
			name:      "zero modification time is still live",
			localLive: pair(1, 0),
			want:      DiffResult{LocallyEdited: []int64{1}},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			local := cardSummary(tt.localLive, tt.localDel)
			remote := cardSummary(tt.remoteLive, tt.remoteDel)

			got := Diff(local, remote, types.KindCards)

			assertIDs(t, "LocallyEdited", got.LocallyEdited, tt.want.LocallyEdited)
			assertIDs(t, "LocallyDeleted", got.LocallyDeleted, tt.want.LocallyDeleted)
			assertIDs(t, "RemotelyEdited", got.RemotelyEdited, tt.want.RemotelyEdited)
			assertIDs(t, "RemotelyDeleted", got.RemotelyDeleted, tt.want.RemotelyDeleted)
		})
	}
}

func assertIDs(t *testing.T, name string, got, want []int64) {
	t.Helper()
	if got == nil {
		t.Errorf("%s = nil, want non-nil", name)
	}
	if want == nil {
		want = []int64{}
	}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("%s = %v, want %v", name, got, want)
	}
}

func TestDiff_SortsOutput(t *testing.T) {
	local := cardSummary([]types.IDTime{{ID: 30, Time: 1}, {ID: 10, Time: 1}, {ID: 20, Time: 1}}, nil)
	remote := cardSummary(nil, nil)

	got := Diff(local, remote, types.KindCards)

	want := []int64{10, 20, 30}
	if !reflect.DeepEqual(got.LocallyEdited, want) {
		t.Errorf("LocallyEdited = %v, want %v", got.LocallyEdited, want)
	}
}

func TestDiff_KindsAreIndependent(t *testing.T) {
	local := cardSummary(pair(1, 5), nil)
	remote := cardSummary(nil, nil)

	got := Diff(local, remote, types.KindFacts)

	if len(got.LocallyEdited)+len(got.RemotelyEdited)+len(got.LocallyDeleted)+len(got.RemotelyDeleted) != 0 {
		t.Errorf("Diff(facts) = %+v, want nothing", got)
	}
}

func TestDiff_Symmetric(t *testing.T) {
	// Given two summaries with a mix of edits and deletions
	a := cardSummary(
		[]types.IDTime{{ID: 1, Time: 5}, {ID: 2, Time: 9}, {ID: 3, Time: 4}},
		[]types.IDTime{{ID: 4, Time: 6}},
	)
	b := cardSummary(
		[]types.IDTime{{ID: 2, Time: 3}, {ID: 4, Time: 2}, {ID: 5, Time: 1}},
		[]types.IDTime{{ID: 3, Time: 8}},
	)

	// When diffed from each side
	ab := Diff(a, b, types.KindCards)
	ba := Diff(b, a, types.KindCards)

	// Then each side's local outcome is the other's remote outcome
	if !reflect.DeepEqual(ab.LocallyEdited, ba.RemotelyEdited) {
		t.Errorf("edited: %v vs %v", ab.LocallyEdited, ba.RemotelyEdited)
	}
	if !reflect.DeepEqual(ab.LocallyDeleted, ba.RemotelyDeleted) {
		t.Errorf("deleted: %v vs %v", ab.LocallyDeleted, ba.RemotelyDeleted)
	}
	if !reflect.DeepEqual(ab.RemotelyEdited, ba.LocallyEdited) {
		t.Errorf("pulled: %v vs %v", ab.RemotelyEdited, ba.LocallyEdited)
	}
}
