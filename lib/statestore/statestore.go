// Package statestore persists notification and purchase state in a flat
// JSON file so repeated runs stay idempotent. Notification entries are
// keyed by product URL, purchase entries by "productID:variationID".
// Unknown keys in the file are preserved across writes.
package statestore

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"stockwatch-backend/lib/timezone"
)

// StateError reports a failure to persist or load the ledger.
type StateError struct {
	Op   string
	Path string
	Err  error
}

func (e *StateError) Error() string {
	return fmt.Sprintf("state %s %s: %v", e.Op, e.Path, e.Err)
}

func (e *StateError) Unwrap() error {
	return e.Err
}

// PurchaseRecord is what the ledger remembers about a completed order.
type PurchaseRecord struct {
	OrderID   string `json:"order_id"`
	Timestamp string `json:"timestamp"`
}

type Store struct {
	path string
}

// New opens the ledger at path, creating the file (and parent
// directories) when missing.
func New(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, &StateError{Op: "init", Path: path, Err: err}
	}
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		if err := os.WriteFile(path, []byte("{}\n"), 0644); err != nil {
			return nil, &StateError{Op: "init", Path: path, Err: err}
		}
	}
	return &Store{path: path}, nil
}

// read loads the whole ledger. A corrupt or unreadable file logs a
// warning and behaves as empty so a bad write never wedges the monitor.
func (s *Store) read() map[string]json.RawMessage {
	state := map[string]json.RawMessage{}

	data, err := os.ReadFile(s.path)
	if err != nil {
		slog.Warn("could not read state file, treating as empty", "path", s.path, "err", err)
		return state
	}
	if err := json.Unmarshal(data, &state); err != nil {
		slog.Warn("state file is corrupt, treating as empty", "path", s.path, "err", err)
		return map[string]json.RawMessage{}
	}
	return state
}

func (s *Store) write(state map[string]json.RawMessage) error {
	data, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return &StateError{Op: "encode", Path: s.path, Err: err}
	}
	if err := os.WriteFile(s.path, append(data, '\n'), 0644); err != nil {
		return &StateError{Op: "write", Path: s.path, Err: err}
	}
	return nil
}

// WasNotified reports whether a notification streak is open for the URL.
func (s *Store) WasNotified(productURL string) bool {
	_, ok := s.read()[productURL]
	return ok
}

// NotifiedAt returns the timestamp recorded for the URL's open streak.
func (s *Store) NotifiedAt(productURL string) (time.Time, bool) {
	raw, ok := s.read()[productURL]
	if !ok {
		return time.Time{}, false
	}
	var stamp string
	if err := json.Unmarshal(raw, &stamp); err != nil {
		return time.Time{}, false
	}
	t, err := time.Parse(time.RFC3339, stamp)
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}

// MarkNotified opens (or refreshes) the notification streak for the URL.
// A zero ts means "now".
func (s *Store) MarkNotified(productURL string, ts time.Time) error {
	if ts.IsZero() {
		ts = timezone.Now()
	}
	state := s.read()
	stamp, err := json.Marshal(ts.Format(time.RFC3339))
	if err != nil {
		return &StateError{Op: "encode", Path: s.path, Err: err}
	}
	state[productURL] = stamp
	return s.write(state)
}

// ClearNotification closes the streak so the next availability flip
// notifies again.
func (s *Store) ClearNotification(productURL string) error {
	state := s.read()
	if _, ok := state[productURL]; !ok {
		return nil
	}
	delete(state, productURL)
	return s.write(state)
}

func purchaseKey(productID, variationID int) string {
	return fmt.Sprintf("%d:%d", productID, variationID)
}

// HasPurchased reports whether the (product, variation) pair already has
// a recorded order.
func (s *Store) HasPurchased(productID, variationID int) bool {
	_, ok := s.read()[purchaseKey(productID, variationID)]
	return ok
}

// GetPurchaseInfo returns the recorded order for the pair, if any.
func (s *Store) GetPurchaseInfo(productID, variationID int) (PurchaseRecord, bool) {
	raw, ok := s.read()[purchaseKey(productID, variationID)]
	if !ok {
		return PurchaseRecord{}, false
	}
	var record PurchaseRecord
	if err := json.Unmarshal(raw, &record); err != nil {
		slog.Warn("unreadable purchase record", "key", purchaseKey(productID, variationID), "err", err)
		return PurchaseRecord{}, false
	}
	return record, true
}

// MarkPurchased records an order against the pair. Re-marking overwrites
// with the newer order. A zero ts means "now".
func (s *Store) MarkPurchased(productID, variationID int, orderID string, ts time.Time) error {
	if ts.IsZero() {
		ts = timezone.Now()
	}
	state := s.read()
	raw, err := json.Marshal(PurchaseRecord{
		OrderID:   orderID,
		Timestamp: ts.Format(time.RFC3339),
	})
	if err != nil {
		return &StateError{Op: "encode", Path: s.path, Err: err}
	}
	state[purchaseKey(productID, variationID)] = raw
	return s.write(state)
}

// ClearPurchase forgets the recorded order so the pair can be bought again.
func (s *Store) ClearPurchase(productID, variationID int) error {
	state := s.read()
	key := purchaseKey(productID, variationID)
	if _, ok := state[key]; !ok {
		return nil
	}
	delete(state, key)
	return s.write(state)
}
