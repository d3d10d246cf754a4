// Package memory is the encrypted log of past commands and their results.
//
// The whole log is sealed as one blob and every mutation replaces the file
// atomically, so a crash leaves either the previous or the new log on disk.
package memory

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/iged-project/iged/internal/fsutil"
	"github.com/iged-project/iged/internal/model"
	"github.com/iged-project/iged/internal/secret"
)

var (
	ErrNotFound = errors.New("memory: entry not found")
	// ErrPlaintextRejected is returned when the log file holds unencrypted
	// JSON and the caller did not opt into legacy plaintext files.
	ErrPlaintextRejected = errors.New("memory: log file is not encrypted and plaintext legacy files are not allowed")
	ErrInvalidImport     = errors.New("memory: import data must be a JSON array of entries")
)

// Sealer is the cipher used for the log at rest.
type Sealer interface {
	Seal(plaintext []byte) ([]byte, error)
	Open(sealed []byte) ([]byte, error)
}

type Options struct {
	AllowPlaintextLegacy bool
	Logger               zerolog.Logger
	// Now is overridable in tests.
	Now func() time.Time
}

// Engine owns the in-memory log and its file. All mutations are serialized
// by mu; reads take the read lock and return copies.
type Engine struct {
	mu      sync.RWMutex
	path    string
	sealer  Sealer
	entries []model.MemoryEntry
	legacy  bool
	log     zerolog.Logger
	now     func() time.Time
}

// Open loads the log at path, creating an empty one if the file is absent.
func Open(path string, sealer Sealer, opts Options) (*Engine, error) {
	if sealer == nil {
		return nil, errors.New("memory: cipher is required")
	}
	e := &Engine{
		path:   path,
		sealer: sealer,
		log:    opts.Logger.With().Str("component", "memory").Logger(),
		now:    opts.Now,
	}
	if e.now == nil {
		e.now = time.Now
	}
	if err := e.load(opts.AllowPlaintextLegacy); err != nil {
		return nil, err
	}
	return e, nil
}

func (e *Engine) load(allowPlaintext bool) error {
	data, err := os.ReadFile(e.path)
	if os.IsNotExist(err) {
		e.entries = nil
		return nil
	}
	if err != nil {
		return fmt.Errorf("memory: read log: %w", err)
	}
	if len(strings.TrimSpace(string(data))) == 0 {
		return nil
	}

	var plain []byte
	if secret.IsSealed(data) {
		if plain, err = e.sealer.Open(data); err != nil {
			return fmt.Errorf("memory: open log %s: %w", e.path, err)
		}
	} else {
		if !json.Valid(data) {
			return fmt.Errorf("memory: log %s is neither sealed nor valid JSON", e.path)
		}
		if !allowPlaintext {
			return ErrPlaintextRejected
		}
		e.log.Warn().Str("path", e.path).Msg("loaded plaintext legacy memory log; it will be encrypted on next write")
		e.legacy = true
		plain = data
	}

	var entries []model.MemoryEntry
	if err := json.Unmarshal(plain, &entries); err != nil {
		return fmt.Errorf("memory: decode log: %w", err)
	}
	e.entries = entries
	return nil
}

// persist seals entries and replaces the log file. Caller holds mu.
func (e *Engine) persist(entries []model.MemoryEntry) error {
	if entries == nil {
		entries = []model.MemoryEntry{}
	}
	plain, err := json.Marshal(entries)
	if err != nil {
		return fmt.Errorf("memory: encode log: %w", err)
	}
	sealed, err := e.sealer.Seal(plain)
	if err != nil {
		return fmt.Errorf("memory: seal log: %w", err)
	}
	// no .bak: deleted entries and a migrated plaintext log must not survive
	if err := fsutil.ReplaceFile(e.path, sealed, 0o600, requireSealed); err != nil {
		return fmt.Errorf("memory: write log: %w", err)
	}
	e.entries = entries
	e.legacy = false
	return nil
}

func requireSealed(b []byte) error {
	if !secret.IsSealed(b) {
		return errors.New("written data is not sealed")
	}
	return nil
}

// AddEntry appends a record and returns its id.
func (e *Engine) AddEntry(command, result, agent string, success bool, metadata map[string]any) (string, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	id := e.uniqueID()
	if metadata == nil {
		metadata = map[string]any{}
	}
	entry := model.MemoryEntry{
		ID:        id,
		Timestamp: e.now().UTC(),
		Command:   command,
		Result:    result,
		Agent:     agent,
		Success:   success,
		Metadata:  metadata,
	}
	next := make([]model.MemoryEntry, len(e.entries), len(e.entries)+1)
	copy(next, e.entries)
	next = append(next, entry)
	if err := e.persist(next); err != nil {
		e.log.Error().Err(err).Msg("add entry failed")
		return "", err
	}
	return id, nil
}

func (e *Engine) uniqueID() string {
	for {
		id := model.NewEntryID()
		if e.indexOf(id) < 0 {
			return id
		}
	}
}

func (e *Engine) indexOf(id string) int {
	for i := range e.entries {
		if e.entries[i].ID == id {
			return i
		}
	}
	return -1
}

func (e *Engine) Entry(id string) (model.MemoryEntry, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	i := e.indexOf(id)
	if i < 0 {
		return model.MemoryEntry{}, ErrNotFound
	}
	return cloneEntry(e.entries[i]), nil
}

// DeleteEntry removes one record. It reports false when id is unknown.
func (e *Engine) DeleteEntry(id string) (bool, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	i := e.indexOf(id)
	if i < 0 {
		return false, nil
	}
	next := make([]model.MemoryEntry, 0, len(e.entries)-1)
	next = append(next, e.entries[:i]...)
	next = append(next, e.entries[i+1:]...)
	if err := e.persist(next); err != nil {
		return false, err
	}
	return true, nil
}

func (e *Engine) Clear() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.persist([]model.MemoryEntry{})
}

// Search returns entries whose command or result contains query
// (case-insensitive), newest first.
func (e *Engine) Search(query string, limit int) []model.MemoryEntry {
	q := strings.ToLower(query)
	return e.collect(limit, func(en *model.MemoryEntry) bool {
		return strings.Contains(strings.ToLower(en.Command), q) ||
			strings.Contains(strings.ToLower(en.Result), q)
	})
}

// Recent returns at most limit entries, newest first.
func (e *Engine) Recent(limit int) []model.MemoryEntry {
	return e.collect(limit, func(*model.MemoryEntry) bool { return true })
}

func (e *Engine) ByAgent(agent string, limit int) []model.MemoryEntry {
	return e.collect(limit, func(en *model.MemoryEntry) bool { return en.Agent == agent })
}

func (e *Engine) collect(limit int, keep func(*model.MemoryEntry) bool) []model.MemoryEntry {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := []model.MemoryEntry{}
	if limit <= 0 {
		return out
	}
	for i := len(e.entries) - 1; i >= 0 && len(out) < limit; i-- {
		if keep(&e.entries[i]) {
			out = append(out, cloneEntry(e.entries[i]))
		}
	}
	return out
}

func (e *Engine) Len() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.entries)
}

func (e *Engine) Path() string { return e.path }

// Export writes the log as plaintext JSON to path. This is the only way
// entries leave the engine unencrypted.
func (e *Engine) Export(path string) (int, error) {
	e.mu.RLock()
	entries := make([]model.MemoryEntry, len(e.entries))
	copy(entries, e.entries)
	e.mu.RUnlock()

	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return 0, fmt.Errorf("memory: create export dir: %w", err)
	}
	if err := fsutil.WriteJSON(path, entries, 0o600); err != nil {
		return 0, fmt.Errorf("memory: export: %w", err)
	}
	return len(entries), nil
}

// Import appends the entries of a plaintext JSON export. Entries whose id
// already exists get a fresh id. Entries are kept in timestamp order.
func (e *Engine) Import(path string) (int, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return 0, fmt.Errorf("memory: read import: %w", err)
	}
	var incoming []model.MemoryEntry
	if err := json.Unmarshal(raw, &incoming); err != nil {
		return 0, fmt.Errorf("%w: %v", ErrInvalidImport, err)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	next := make([]model.MemoryEntry, len(e.entries), len(e.entries)+len(incoming))
	copy(next, e.entries)
	seen := make(map[string]bool, len(next)+len(incoming))
	for _, en := range next {
		seen[en.ID] = true
	}
	for _, en := range incoming {
		if en.ID == "" || seen[en.ID] {
			for {
				en.ID = model.NewEntryID()
				if !seen[en.ID] {
					break
				}
			}
		}
		if en.Timestamp.IsZero() {
			en.Timestamp = e.now().UTC()
		}
		if en.Metadata == nil {
			en.Metadata = map[string]any{}
		}
		seen[en.ID] = true
		next = append(next, en)
	}
	sort.SliceStable(next, func(i, j int) bool { return next[i].Timestamp.Before(next[j].Timestamp) })
	if err := e.persist(next); err != nil {
		return 0, err
	}
	return len(incoming), nil
}

func cloneEntry(en model.MemoryEntry) model.MemoryEntry {
	c := en
	if en.Metadata != nil {
		c.Metadata = make(map[string]any, len(en.Metadata))
		for k, v := range en.Metadata {
			c.Metadata[k] = v
		}
	}
	return c
}
