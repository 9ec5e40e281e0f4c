package types

import (
	"encoding/json"
	"fmt"
	"time"
)

// Kind names one of the three synchronized entity kinds.
type Kind string

const (
	KindModels Kind = "models"
	KindFacts  Kind = "facts"
	KindCards  Kind = "cards"
)

// Kinds lists every entity kind in dependency order: a fact references a
// model and a card references a fact and a card model.
var Kinds = []Kind{KindModels, KindFacts, KindCards}

// DayLayout is the calendar-day format used by daily statistics.
const DayLayout = "2006-01-02"

// DayOf returns the calendar day containing the epoch time t, shifted by the
// deck's UTC offset in seconds.
func DayOf(t, utcOffset float64) string {
	return time.Unix(int64(t-utcOffset), 0).UTC().Format(DayLayout)
}

// IDTime pairs an entity id with its modification or deletion time.
// It travels on the wire as a two-element array.
type IDTime struct {
	ID   int64
	Time float64
}

// MarshalJSON encodes the pair as [id, time].
func (p IDTime) MarshalJSON() ([]byte, error) {
	return json.Marshal([2]any{p.ID, p.Time})
}

// UnmarshalJSON decodes a [id, time] array. The id is decoded as an integer
// literal so 64-bit ids survive without float rounding.
func (p *IDTime) UnmarshalJSON(data []byte) error {
	var raw []json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("id/time pair: %w", err)
	}
	if len(raw) != 2 {
		return fmt.Errorf("id/time pair: want 2 elements, got %d", len(raw))
	}
	if err := json.Unmarshal(raw[0], &p.ID); err != nil {
		return fmt.Errorf("id/time pair id: %w", err)
	}
	if err := json.Unmarshal(raw[1], &p.Time); err != nil {
		return fmt.Errorf("id/time pair time: %w", err)
	}
	return nil
}

// Summary is a replica's change summary relative to a baseline: live
// (id, modified) pairs and tombstone (id, deleted) pairs per kind.
type Summary struct {
	Models    []IDTime `json:"models"`
	DelModels []IDTime `json:"delmodels"`
	Facts     []IDTime `json:"facts"`
	DelFacts  []IDTime `json:"delfacts"`
	Cards     []IDTime `json:"cards"`
	DelCards  []IDTime `json:"delcards"`
}

// Live returns the live pairs for kind.
func (s *Summary) Live(kind Kind) []IDTime {
	switch kind {
	case KindModels:
		return s.Models
	case KindFacts:
		return s.Facts
	case KindCards:
		return s.Cards
	}
	return nil
}

// Deleted returns the tombstone pairs for kind.
func (s *Summary) Deleted(kind Kind) []IDTime {
	switch kind {
	case KindModels:
		return s.DelModels
	case KindFacts:
		return s.DelFacts
	case KindCards:
		return s.DelCards
	}
	return nil
}

// Set replaces both lists for kind.
func (s *Summary) Set(kind Kind, live, deleted []IDTime) {
	switch kind {
	case KindModels:
		s.Models, s.DelModels = live, deleted
	case KindFacts:
		s.Facts, s.DelFacts = live, deleted
	case KindCards:
		s.Cards, s.DelCards = live, deleted
	}
}

// MarshalJSON ensures nil lists marshal as [] not null.
func (s Summary) MarshalJSON() ([]byte, error) {
	for _, p := range []*[]IDTime{&s.Models, &s.DelModels, &s.Facts, &s.DelFacts, &s.Cards, &s.DelCards} {
		if *p == nil {
			*p = []IDTime{}
		}
	}
	type Alias Summary
	return json.Marshal(Alias(s))
}

// --- Entities ---

// Model is a note type: an ordered set of field models and card templates.
// Field and card models travel inside their model.
type Model struct {
	ID             int64        `json:"id"`
	Created        float64      `json:"created"`
	Modified       float64      `json:"modified"`
	Name           string       `json:"name"`
	Description    string       `json:"description"`
	Tags           string       `json:"tags"`
	Spacing        float64      `json:"spacing"`
	InitialSpacing float64      `json:"initialSpacing"`
	FieldModels    []FieldModel `json:"fieldModels"`
	CardModels     []CardModel  `json:"cardModels"`
}

// FieldModel describes one field of a model.
type FieldModel struct {
	ID          int64  `json:"id"`
	ModelID     int64  `json:"modelId"`
	Ordinal     int    `json:"ordinal"`
	Name        string `json:"name"`
	Description string `json:"description"`
	Required    bool   `json:"required"`
	Unique      bool   `json:"unique"`
}

// CardModel is a card template of a model.
type CardModel struct {
	ID          int64  `json:"id"`
	ModelID     int64  `json:"modelId"`
	Ordinal     int    `json:"ordinal"`
	Name        string `json:"name"`
	Description string `json:"description"`
	Active      bool   `json:"active"`
	QFormat     string `json:"qformat"`
	AFormat     string `json:"aformat"`
}

// Fact is a unit of content conforming to a model.
type Fact struct {
	ID         int64   `json:"id"`
	ModelID    int64   `json:"modelId"`
	Created    float64 `json:"created"`
	Modified   float64 `json:"modified"`
	Tags       string  `json:"tags"`
	SpaceUntil float64 `json:"spaceUntil"`
	LastCardID int64   `json:"lastCardId"`
}

// Field is the value of one field model within a fact.
type Field struct {
	ID           int64  `json:"id"`
	FactID       int64  `json:"factId"`
	FieldModelID int64  `json:"fieldModelId"`
	Ordinal      int    `json:"ordinal"`
	Value        string `json:"value"`
}

// FactBundle is the wire form of a batch of facts: the fact rows plus the
// field rows of those facts.
type FactBundle struct {
	Facts  []Fact  `json:"facts"`
	Fields []Field `json:"fields"`
}

// MarshalJSON ensures nil slices marshal as [] not null.
func (b FactBundle) MarshalJSON() ([]byte, error) {
	if b.Facts == nil {
		b.Facts = []Fact{}
	}
	if b.Fields == nil {
		b.Fields = []Field{}
	}
	type Alias FactBundle
	return json.Marshal(Alias(b))
}

// Card is a reviewable item generated from a fact and a card model.
type Card struct {
	ID            int64   `json:"id"`
	FactID        int64   `json:"factId"`
	CardModelID   int64   `json:"cardModelId"`
	Created       float64 `json:"created"`
	Modified      float64 `json:"modified"`
	Tags          string  `json:"tags"`
	Ordinal       int     `json:"ordinal"`
	Question      string  `json:"question"`
	Answer        string  `json:"answer"`
	Priority      int     `json:"priority"`
	Interval      float64 `json:"interval"`
	LastInterval  float64 `json:"lastInterval"`
	Due           float64 `json:"due"`
	LastDue       float64 `json:"lastDue"`
	Factor        float64 `json:"factor"`
	LastFactor    float64 `json:"lastFactor"`
	FirstAnswered float64 `json:"firstAnswered"`
	Reps          int     `json:"reps"`
	Successive    int     `json:"successive"`
	AverageTime   float64 `json:"averageTime"`
	ReviewTime    float64 `json:"reviewTime"`
	YoungEase     [5]int  `json:"youngEase"`
	MatureEase    [5]int  `json:"matureEase"`
	YesCount      int     `json:"yesCount"`
	NoCount       int     `json:"noCount"`
}

// DeckFields are the deck-level settings that travel as one unit.
// lastSync is per-replica state and never travels.
type DeckFields struct {
	Created        float64 `json:"created"`
	Modified       float64 `json:"modified"`
	Description    string  `json:"description"`
	NewCardOrder   int     `json:"newCardOrder"`
	LowPriority    string  `json:"lowPriority"`
	MedPriority    string  `json:"medPriority"`
	HighPriority   string  `json:"highPriority"`
	CurrentModelID int64   `json:"currentModelId"`
	UTCOffset      float64 `json:"utcOffset"`
	SessionLimit   int     `json:"sessionLimit"`
}

// Stat row types.
const (
	StatGlobal = 0
	StatDaily  = 1
)

// StatRow is one statistics record. Global rows ignore Day.
type StatRow struct {
	Type           int     `json:"type"`
	Day            string  `json:"day"`
	Reps           int     `json:"reps"`
	AverageTime    float64 `json:"averageTime"`
	ReviewTime     float64 `json:"reviewTime"`
	DistractedTime float64 `json:"distractedTime"`
	DistractedReps int     `json:"distractedReps"`
	NewEase        [5]int  `json:"newEase"`
	YoungEase      [5]int  `json:"youngEase"`
	MatureEase     [5]int  `json:"matureEase"`
}

// StatsBundle is the wire form of a deck's statistics.
type StatsBundle struct {
	Global StatRow   `json:"global"`
	Daily  []StatRow `json:"daily"`
}

// MarshalJSON ensures a nil daily list marshals as [] not null.
func (b StatsBundle) MarshalJSON() ([]byte, error) {
	if b.Daily == nil {
		b.Daily = []StatRow{}
	}
	type Alias StatsBundle
	return json.Marshal(Alias(b))
}

// HistoryRow is one append-only review log record.
type HistoryRow struct {
	CardID       int64   `json:"cardId"`
	Time         float64 `json:"time"`
	LastInterval float64 `json:"lastInterval"`
	NextInterval float64 `json:"nextInterval"`
	Ease         int     `json:"ease"`
	Delay        float64 `json:"delay"`
	LastFactor   float64 `json:"lastFactor"`
	NextFactor   float64 `json:"nextFactor"`
	Reps         float64 `json:"reps"`
	ThinkingTime float64 `json:"thinkingTime"`
	YesCount     float64 `json:"yesCount"`
	NoCount      float64 `json:"noCount"`
}

// --- Wire messages ---

// Added carries full entity records per kind. A nil section means the
// section was absent from the message.
type Added struct {
	Models []Model     `json:"added-models"`
	Facts  *FactBundle `json:"added-facts"`
	Cards  []Card      `json:"added-cards"`
}

// Present reports whether the added section for kind was sent.
func (a *Added) Present(kind Kind) bool {
	switch kind {
	case KindModels:
		return a.Models != nil
	case KindFacts:
		return a.Facts != nil
	case KindCards:
		return a.Cards != nil
	}
	return false
}

// Count returns the number of records in the added section for kind.
func (a *Added) Count(kind Kind) int {
	switch kind {
	case KindModels:
		return len(a.Models)
	case KindFacts:
		if a.Facts == nil {
			return 0
		}
		return len(a.Facts.Facts)
	case KindCards:
		return len(a.Cards)
	}
	return 0
}

// Aggregate is the deck-level state bundled alongside entity changes by
// whichever replica holds the newer deck.
type Aggregate struct {
	Deck    *DeckFields  `json:"deck,omitempty"`
	Stats   *StatsBundle `json:"stats,omitempty"`
	History []HistoryRow `json:"history,omitempty"`
}

// HasDeck reports whether deck-level state is carried.
func (a *Aggregate) HasDeck() bool {
	return a.Deck != nil
}

// Payload is the message sent to the peer after diffing summaries.
type Payload struct {
	Added
	DeletedModels []int64 `json:"deleted-models"`
	DeletedFacts  []int64 `json:"deleted-facts"`
	DeletedCards  []int64 `json:"deleted-cards"`
	MissingModels []int64 `json:"missing-models"`
	MissingFacts  []int64 `json:"missing-facts"`
	MissingCards  []int64 `json:"missing-cards"`
	Aggregate
}

// NewPayload returns a payload with every section present and empty.
func NewPayload() *Payload {
	p := &Payload{}
	p.Models = []Model{}
	p.Facts = &FactBundle{Facts: []Fact{}, Fields: []Field{}}
	p.Cards = []Card{}
	for _, k := range Kinds {
		p.SetDeleted(k, []int64{})
		p.SetMissing(k, []int64{})
	}
	return p
}

// Deleted returns the ids the receiver must delete for kind.
func (p *Payload) Deleted(kind Kind) []int64 {
	switch kind {
	case KindModels:
		return p.DeletedModels
	case KindFacts:
		return p.DeletedFacts
	case KindCards:
		return p.DeletedCards
	}
	return nil
}

// SetDeleted replaces the deleted section for kind.
func (p *Payload) SetDeleted(kind Kind, ids []int64) {
	switch kind {
	case KindModels:
		p.DeletedModels = ids
	case KindFacts:
		p.DeletedFacts = ids
	case KindCards:
		p.DeletedCards = ids
	}
}

// Missing returns the ids the receiver must send back for kind.
func (p *Payload) Missing(kind Kind) []int64 {
	switch kind {
	case KindModels:
		return p.MissingModels
	case KindFacts:
		return p.MissingFacts
	case KindCards:
		return p.MissingCards
	}
	return nil
}

// SetMissing replaces the missing section for kind.
func (p *Payload) SetMissing(kind Kind, ids []int64) {
	switch kind {
	case KindModels:
		p.MissingModels = ids
	case KindFacts:
		p.MissingFacts = ids
	case KindCards:
		p.MissingCards = ids
	}
}

// Reply is the peer's answer to a payload: the entities it was asked for
// and, when its deck was the newer one, its deck-level state.
type Reply struct {
	Added
	Aggregate
}

// NewReply returns a reply with every added section present and empty.
func NewReply() *Reply {
	r := &Reply{}
	r.Models = []Model{}
	r.Facts = &FactBundle{Facts: []Fact{}, Fields: []Field{}}
	r.Cards = []Card{}
	return r
}

// BasicModel returns the default two-field model: a Front/Back model with an
// active forward card template and an inactive reverse one. Ids are left
// zero for the store to assign.
func BasicModel() Model {
	return Model{
		Name:           "Basic",
		Spacing:        0.1,
		InitialSpacing: 600,
		FieldModels: []FieldModel{
			{Ordinal: 0, Name: "Front", Required: true, Unique: true},
			{Ordinal: 1, Name: "Back", Required: true, Unique: true},
		},
		CardModels: []CardModel{
			{Ordinal: 0, Name: "Forward", Active: true, QFormat: "{{Front}}", AFormat: "{{Back}}"},
			{Ordinal: 1, Name: "Reverse", Active: false, QFormat: "{{Back}}", AFormat: "{{Front}}"},
		},
	}
}

// DeckInfo summarizes a deck for listings and health output.
type DeckInfo struct {
	Models   int64   `json:"models"`
	Facts    int64   `json:"facts"`
	Cards    int64   `json:"cards"`
	Modified float64 `json:"modified"`
	LastSync float64 `json:"lastSync"`
}

// Status values carried by deck-list and create-deck responses.
const (
	StatusOK              = "OK"
	StatusInvalidUserPass = "invalidUserPass"
)

// DeckTimes is a deck's [modified, lastSync] pair as listed by a server.
type DeckTimes [2]float64

// Modified returns the deck's modification time.
func (t DeckTimes) Modified() float64 { return t[0] }

// LastSync returns the deck's last sync time.
func (t DeckTimes) LastSync() float64 { return t[1] }

// DeckList is the server's answer to a connect: the protocol it speaks and
// the user's decks.
type DeckList struct {
	Status          string               `json:"status"`
	ProtocolVersion int                  `json:"protocolVersion,omitempty"`
	Decks           map[string]DeckTimes `json:"decks,omitempty"`
}

// StatusReply is a bare status answer.
type StatusReply struct {
	Status string `json:"status"`
}

// BackupLink points at the latest uploaded backup of a deck. Expires is
// in seconds since the epoch.
type BackupLink struct {
	Status  string  `json:"status"`
	URL     string  `json:"url"`
	Expires float64 `json:"expires"`
}

// HealthResponse is the server health document.
type HealthResponse struct {
	Status          string `json:"status"`
	Version         string `json:"version"`
	ProtocolVersion int    `json:"protocolVersion"`
	OpenDecks       int    `json:"openDecks"`
}
