// Package manifest models the INDEX.json document stored as the first entry
// of every container: the origin collection and the ordered list of items
// with their metadata.
package manifest

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
)

const (
	// FileName is the entry name of the manifest inside a container.
	FileName = "INDEX.json"

	// FileMode is the mode of the manifest entry.
	FileMode fs.FileMode = 0o444
)

// Sentinel errors for manifest handling.
var (
	// ErrInvalid is returned when a document is not a valid manifest.
	ErrInvalid = errors.New("manifest: invalid document")

	// ErrMetadata is returned when item metadata is not valid JSON.
	ErrMetadata = errors.New("manifest: invalid item metadata")
)

// Item pairs an object path with arbitrary JSON metadata. A nil Metadata
// encodes as null.
type Item struct {
	Path     string          `json:"path"`
	Metadata json.RawMessage `json:"metadata"`
}

// clone returns a copy that shares no memory with it.
func (it Item) clone() Item {
	return Item{Path: it.Path, Metadata: bytes.Clone(it.Metadata)}
}

// Manifest is the ordered item list of a container. Order is significant:
// it is the order of the entries following the manifest in the container.
type Manifest struct {
	Collection string `json:"collection"`
	Items      []Item `json:"items"`
}

// New returns an empty manifest for the given origin collection.
func New(collection string) *Manifest {
	return &Manifest{Collection: collection, Items: []Item{}}
}

// Add appends an item. metadata may be a json.RawMessage, which is validated
// and copied, or any value accepted by encoding/json, which is encoded
// immediately; later changes by the caller do not affect the manifest.
func (m *Manifest) Add(path string, metadata any) error {
	raw, err := encodeMetadata(metadata)
	if err != nil {
		return fmt.Errorf("%w: %s: %w", ErrMetadata, path, err)
	}
	m.Items = append(m.Items, Item{Path: path, Metadata: raw})
	return nil
}

func encodeMetadata(metadata any) (json.RawMessage, error) {
	switch v := metadata.(type) {
	case nil:
		return nil, nil
	case json.RawMessage:
		if v == nil {
			return nil, nil
		}
		if !json.Valid(v) {
			return nil, errors.New("not valid JSON")
		}
		return bytes.Clone(v), nil
	default:
		return marshal(v)
	}
}

// marshal encodes v without HTML escaping, as the manifest itself is
// encoded.
func marshal(v any) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	return bytes.TrimSuffix(buf.Bytes(), []byte{'\n'}), nil
}

// Len returns the number of items.
func (m *Manifest) Len() int {
	return len(m.Items)
}

// Item returns a copy of the i-th item (0-based).
func (m *Manifest) Item(i int) (Item, bool) {
	if i < 0 || i >= len(m.Items) {
		return Item{}, false
	}
	return m.Items[i].clone(), true
}

// All returns a copy of every item in order.
func (m *Manifest) All() []Item {
	items := make([]Item, len(m.Items))
	for i, it := range m.Items {
		items[i] = it.clone()
	}
	return items
}

// Retain keeps the items for which keep returns true, preserving order, and
// returns the number of items removed.
func (m *Manifest) Retain(keep func(Item) bool) int {
	kept := m.Items[:0]
	for _, it := range m.Items {
		if keep(it) {
			kept = append(kept, it)
		}
	}
	removed := len(m.Items) - len(kept)
	clear(m.Items[len(kept):])
	m.Items = kept
	return removed
}

// Encode serializes the manifest with two-space indentation and no trailing
// newline.
func (m *Manifest) Encode() ([]byte, error) {
	doc := Manifest{Collection: m.Collection, Items: m.Items}
	if doc.Items == nil {
		doc.Items = []Item{}
	}

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	if err := enc.Encode(doc); err != nil {
		return nil, err
	}
	return bytes.TrimSuffix(buf.Bytes(), []byte{'\n'}), nil
}
