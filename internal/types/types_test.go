package types

import (
	"encoding/json"
	"strings"
	"testing"
)

func TestIDTime_EncodesAsPair(t *testing.T) {
	data, err := json.Marshal(IDTime{ID: 42, Time: 1700000000.5})
	if err != nil {
		t.Fatalf("Marshal failed: %v", err)
	}
	if got, want := string(data), "[42,1700000000.5]"; got != want {
		t.Errorf("Marshal = %s, want %s", got, want)
	}
}

func TestIDTime_PreservesLargeIDs(t *testing.T) {
	// 2^62 + 1 is not representable as a float64.
	var p IDTime
	if err := json.Unmarshal([]byte("[4611686018427387905, 12.25]"), &p); err != nil {
		t.Fatalf("Unmarshal failed: %v", err)
	}
	if p.ID != 4611686018427387905 {
		t.Errorf("ID = %d, want 4611686018427387905", p.ID)
	}
	if p.Time != 12.25 {
		t.Errorf("Time = %v, want 12.25", p.Time)
	}
}

func TestIDTime_RejectsMalformed(t *testing.T) {
	for _, in := range []string{`[1]`, `[1,2,3]`, `{"id":1}`, `["a", 1]`} {
		var p IDTime
		if err := json.Unmarshal([]byte(in), &p); err == nil {
			t.Errorf("Unmarshal(%s) expected error", in)
		}
	}
}

func TestSummary_NilListsMarshalAsEmpty(t *testing.T) {
	data, err := json.Marshal(&Summary{})
	if err != nil {
		t.Fatalf("Marshal failed: %v", err)
	}
	s := string(data)
	if strings.Contains(s, "null") {
		t.Errorf("summary contains null: %s", s)
	}
	for _, key := range []string{"models", "delmodels", "facts", "delfacts", "cards", "delcards"} {
		if !strings.Contains(s, `"`+key+`":[]`) {
			t.Errorf("summary missing empty %q: %s", key, s)
		}
	}
}

func TestSummary_KindAccessors(t *testing.T) {
	var s Summary
	s.Set(KindFacts, []IDTime{{ID: 1, Time: 2}}, []IDTime{{ID: 3, Time: 4}})

	if got := s.Live(KindFacts); len(got) != 1 || got[0].ID != 1 {
		t.Errorf("Live(facts) = %v, want [{1 2}]", got)
	}
	if got := s.Deleted(KindFacts); len(got) != 1 || got[0].ID != 3 {
		t.Errorf("Deleted(facts) = %v, want [{3 4}]", got)
	}
	if got := s.Live(KindCards); got != nil {
		t.Errorf("Live(cards) = %v, want nil", got)
	}
}

func TestPayload_WireKeys(t *testing.T) {
	// Given: A payload with every section present and no deck bundle
	p := NewPayload()

	data, err := json.Marshal(p)
	if err != nil {
		t.Fatalf("Marshal failed: %v", err)
	}

	var m map[string]json.RawMessage
	if err := json.Unmarshal(data, &m); err != nil {
		t.Fatalf("Unmarshal failed: %v", err)
	}

	// Then: Embedded sections are flattened into the top-level object
	for _, kind := range Kinds {
		for _, prefix := range []string{"added-", "deleted-", "missing-"} {
			if _, ok := m[prefix+string(kind)]; !ok {
				t.Errorf("payload missing key %q", prefix+string(kind))
			}
		}
	}
	for _, key := range []string{"deck", "stats", "history"} {
		if _, ok := m[key]; ok {
			t.Errorf("payload without deck carries %q", key)
		}
	}
}

func TestPayload_AbsentSectionDecodesNil(t *testing.T) {
	var p Payload
	if err := json.Unmarshal([]byte(`{"added-models":[],"deleted-facts":[1,2]}`), &p); err != nil {
		t.Fatalf("Unmarshal failed: %v", err)
	}
	if !p.Present(KindModels) {
		t.Error("added-models should be present")
	}
	if p.Present(KindFacts) {
		t.Error("added-facts should be absent")
	}
	if got := p.Deleted(KindFacts); len(got) != 2 {
		t.Errorf("Deleted(facts) = %v, want [1 2]", got)
	}
	if p.Missing(KindCards) != nil {
		t.Error("missing-cards should be absent")
	}
	if p.HasDeck() {
		t.Error("HasDeck() = true, want false")
	}
}

func TestAdded_Count(t *testing.T) {
	a := Added{
		Models: []Model{{ID: 1}},
		Facts:  &FactBundle{Facts: []Fact{{ID: 1}, {ID: 2}}, Fields: []Field{{ID: 9}}},
	}
	if got := a.Count(KindModels); got != 1 {
		t.Errorf("Count(models) = %d, want 1", got)
	}
	if got := a.Count(KindFacts); got != 2 {
		t.Errorf("Count(facts) = %d, want 2", got)
	}
	if got := a.Count(KindCards); got != 0 {
		t.Errorf("Count(cards) = %d, want 0", got)
	}
}

func TestBasicModel(t *testing.T) {
	m := BasicModel()
	if len(m.FieldModels) != 2 {
		t.Fatalf("field models = %d, want 2", len(m.FieldModels))
	}
	if m.FieldModels[0].Name != "Front" || m.FieldModels[1].Name != "Back" {
		t.Errorf("field names = %q/%q, want Front/Back", m.FieldModels[0].Name, m.FieldModels[1].Name)
	}
	active := 0
	for _, cm := range m.CardModels {
		if cm.Active {
			active++
		}
	}
	if active != 1 {
		t.Errorf("active card models = %d, want 1", active)
	}
}

func TestDayOf(t *testing.T) {
	tests := []struct {
		name   string
		t      float64
		offset float64
		want   string
	}{
		{"epoch", 0, 0, "1970-01-01"},
		{"midday", 1700000000, 0, "2023-11-14"},
		{"offset crosses midnight", 86400 + 3600, 7200, "1970-01-01"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := DayOf(tt.t, tt.offset); got != tt.want {
				t.Errorf("DayOf(%v, %v) = %q, want %q", tt.t, tt.offset, got, tt.want)
			}
		})
	}
}
