// Package validation checks decoded sync messages before any of their
// contents reach a deck.
package validation

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/hyperengineering/decksync/internal/types"
)

// ValidationError represents a single field validation failure.
type ValidationError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// Collector accumulates validation errors without failing on first.
type Collector struct {
	errors []ValidationError
}

// Add appends a validation error to the collector if non-nil.
func (c *Collector) Add(err *ValidationError) {
	if err != nil {
		c.errors = append(c.errors, *err)
	}
}

// HasErrors returns true if the collector has accumulated any errors.
func (c *Collector) HasErrors() bool {
	return len(c.errors) > 0
}

// Errors returns all accumulated validation errors.
func (c *Collector) Errors() []ValidationError {
	return c.errors
}

// Err returns the accumulated errors as an error, or nil if there are none.
func (c *Collector) Err() error {
	if !c.HasErrors() {
		return nil
	}
	return &Error{Errors: c.errors}
}

// Error is the error form of a failed validation.
type Error struct {
	Errors []ValidationError
}

func (e *Error) Error() string {
	parts := make([]string, len(e.Errors))
	for i, ve := range e.Errors {
		parts[i] = ve.Field + ": " + ve.Message
	}
	return "validation failed: " + strings.Join(parts, "; ")
}

// ValidateUTF8 returns an error if the value is not valid UTF-8.
func ValidateUTF8(field, value string) *ValidationError {
	if !utf8.ValidString(value) {
		return &ValidationError{
			Field:   field,
			Message: "must be valid UTF-8",
		}
	}
	return nil
}

// ValidateNoNullBytes returns an error if the value contains null bytes.
func ValidateNoNullBytes(field, value string) *ValidationError {
	if strings.Contains(value, "\x00") {
		return &ValidationError{
			Field:   field,
			Message: "must not contain null bytes",
		}
	}
	return nil
}

// ValidateRequired returns an error if the value is empty or whitespace-only.
func ValidateRequired(field, value string) *ValidationError {
	if strings.TrimSpace(value) == "" {
		return &ValidationError{
			Field:   field,
			Message: "is required",
		}
	}
	return nil
}

// ValidatePresent returns an error if a message section was absent.
func ValidatePresent(field string, present bool) *ValidationError {
	if !present {
		return &ValidationError{
			Field:   field,
			Message: "section is missing",
		}
	}
	return nil
}

// ValidateID returns an error if an entity id is zero.
func ValidateID(field string, id int64) *ValidationError {
	if id == 0 {
		return &ValidationError{
			Field:   field,
			Message: "must be a non-zero id",
		}
	}
	return nil
}

// ValidateDay returns an error if a daily statistics day is not YYYY-MM-DD.
func ValidateDay(field, day string) *ValidationError {
	if len(day) != len(types.DayLayout) || day[4] != '-' || day[7] != '-' {
		return &ValidationError{
			Field:   field,
			Message: "must be a YYYY-MM-DD day",
		}
	}
	return nil
}

// Summary checks that a summary carries all six lists.
func Summary(s *types.Summary) error {
	var c Collector
	if s == nil {
		c.Add(ValidatePresent("summary", false))
		return c.Err()
	}
	for _, kind := range types.Kinds {
		c.Add(ValidatePresent(string(kind), s.Live(kind) != nil))
		c.Add(ValidatePresent("del"+string(kind), s.Deleted(kind) != nil))
	}
	return c.Err()
}

// Payload checks that a payload carries every section for every kind and
// that a deck bundle travels with its statistics.
func Payload(p *types.Payload) error {
	var c Collector
	if p == nil {
		c.Add(ValidatePresent("payload", false))
		return c.Err()
	}
	for _, kind := range types.Kinds {
		c.Add(ValidatePresent("added-"+string(kind), p.Present(kind)))
		c.Add(ValidatePresent("deleted-"+string(kind), p.Deleted(kind) != nil))
		c.Add(ValidatePresent("missing-"+string(kind), p.Missing(kind) != nil))
	}
	addedEntities(&c, &p.Added)
	aggregate(&c, &p.Aggregate)
	return c.Err()
}

// Reply checks that a reply carries every added section.
func Reply(r *types.Reply) error {
	var c Collector
	if r == nil {
		c.Add(ValidatePresent("reply", false))
		return c.Err()
	}
	for _, kind := range types.Kinds {
		c.Add(ValidatePresent("added-"+string(kind), r.Present(kind)))
	}
	addedEntities(&c, &r.Added)
	aggregate(&c, &r.Aggregate)
	return c.Err()
}

func addedEntities(c *Collector, a *types.Added) {
	for i, m := range a.Models {
		c.Add(ValidateID(fmt.Sprintf("added-models[%d].id", i), m.ID))
		c.Add(ValidateRequired(fmt.Sprintf("added-models[%d].name", i), m.Name))
	}
	if a.Facts != nil {
		facts := make(map[int64]bool, len(a.Facts.Facts))
		for i, f := range a.Facts.Facts {
			c.Add(ValidateID(fmt.Sprintf("added-facts.facts[%d].id", i), f.ID))
			facts[f.ID] = true
		}
		for i, f := range a.Facts.Fields {
			field := fmt.Sprintf("added-facts.fields[%d]", i)
			c.Add(ValidateID(field+".id", f.ID))
			if !facts[f.FactID] {
				c.Add(&ValidationError{Field: field + ".factId", Message: "references a fact not in the bundle"})
			}
			c.Add(ValidateUTF8(field+".value", f.Value))
			c.Add(ValidateNoNullBytes(field+".value", f.Value))
		}
	}
	for i, card := range a.Cards {
		c.Add(ValidateID(fmt.Sprintf("added-cards[%d].id", i), card.ID))
	}
}

func aggregate(c *Collector, a *types.Aggregate) {
	if a.Deck == nil {
		if a.Stats != nil || len(a.History) > 0 {
			c.Add(&ValidationError{Field: "deck", Message: "stats and history require a deck bundle"})
		}
		return
	}
	c.Add(ValidatePresent("stats", a.Stats != nil))
	if a.Stats == nil {
		return
	}
	for i, row := range a.Stats.Daily {
		c.Add(ValidateDay(fmt.Sprintf("stats.daily[%d].day", i), row.Day))
	}
}
