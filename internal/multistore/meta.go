package multistore

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// DeckMeta contains deck-level metadata persisted in meta.yaml.
type DeckMeta struct {
	// Created is when the deck was first created on this server.
	Created time.Time `yaml:"created"`
	// LastAccessed is when the deck was last opened by a request.
	LastAccessed time.Time `yaml:"last_accessed"`
	// Description is an optional human-readable description.
	Description string `yaml:"description,omitempty"`
}

// DeckInfo contains summary information about a deck.
type DeckInfo struct {
	User         string    `json:"user"`
	Name         string    `json:"name"`
	Created      time.Time `json:"created"`
	LastAccessed time.Time `json:"last_accessed"`
	Description  string    `json:"description,omitempty"`
	SizeBytes    int64     `json:"size_bytes"`
	Modified     float64   `json:"modified"`
	LastSync     float64   `json:"last_sync"`
}

// NewDeckMeta creates metadata for a new deck.
func NewDeckMeta(description string) *DeckMeta {
	now := time.Now().UTC()
	return &DeckMeta{
		Created:      now,
		LastAccessed: now,
		Description:  description,
	}
}

// LoadDeckMeta reads deck metadata from a file path.
func LoadDeckMeta(path string) (*DeckMeta, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var meta DeckMeta
	if err := yaml.Unmarshal(data, &meta); err != nil {
		return nil, fmt.Errorf("parse deck metadata: %w", err)
	}
	return &meta, nil
}

// SaveDeckMeta writes deck metadata to a file path.
func SaveDeckMeta(path string, meta *DeckMeta) error {
	data, err := yaml.Marshal(meta)
	if err != nil {
		return fmt.Errorf("marshal deck metadata: %w", err)
	}
	return os.WriteFile(path, data, 0644)
}
