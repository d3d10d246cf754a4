package events

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"
)

const (
	DefaultMaxJournalSize = 20 * 1024 * 1024
	DefaultMaxArchives    = 5
	journalExt            = ".jsonl"
	archiveDir            = "archive"
)

// JournalEntry is one line of the event journal.
type JournalEntry struct {
	Timestamp time.Time      `json:"timestamp"`
	EventType string         `json:"event_type"`
	TaskID    string         `json:"task_id,omitempty"`
	Agent     string         `json:"agent,omitempty"`
	Details   map[string]any `json:"details,omitempty"`
	Checksum  string         `json:"checksum,omitempty"`
}

// Journal appends events to a JSONL file, rotating it into archive/ when it
// would exceed maxSize. Only the newest maxArchives rotated files are kept.
type Journal struct {
	mu          sync.Mutex
	file        *os.File
	path        string
	currentSize int64
	maxSize     int64
	maxArchives int
	rotations   int
}

func NewJournal(path string, maxSize int64, maxArchives int) (*Journal, error) {
	if maxSize <= 0 {
		maxSize = DefaultMaxJournalSize
	}
	if maxArchives <= 0 {
		maxArchives = DefaultMaxArchives
	}
	if filepath.Ext(path) != journalExt {
		return nil, fmt.Errorf("journal path must end in %s", journalExt)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create journal dir: %w", err)
	}
	j := &Journal{path: path, maxSize: maxSize, maxArchives: maxArchives}
	if err := j.open(); err != nil {
		return nil, err
	}
	return j, nil
}

func (j *Journal) open() error {
	f, err := os.OpenFile(j.path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		return fmt.Errorf("open journal: %w", err)
	}
	st, err := f.Stat()
	if err != nil {
		f.Close()
		return fmt.Errorf("stat journal: %w", err)
	}
	j.file = f
	j.currentSize = st.Size()
	return nil
}

// Attach subscribes the journal to every event on bus. Write errors are
// handed to onErr, which may be nil.
func (j *Journal) Attach(bus *Bus, onErr func(error)) func() {
	return bus.SubscribeAll(func(e Event) {
		if err := j.Record(e); err != nil && onErr != nil {
			onErr(err)
		}
	})
}

// Record writes one event.
func (j *Journal) Record(e Event) error {
	entry := JournalEntry{
		Timestamp: e.Timestamp,
		EventType: string(e.Type),
		Details:   e.Data,
	}
	if entry.Timestamp.IsZero() {
		entry.Timestamp = time.Now().UTC()
	}
	if v, ok := e.Data["task_id"].(string); ok {
		entry.TaskID = v
	}
	if v, ok := e.Data["agent"].(string); ok {
		entry.Agent = v
	}
	return j.write(&entry)
}

func (j *Journal) write(entry *JournalEntry) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.file == nil {
		return fmt.Errorf("journal closed")
	}

	sum, err := checksum(*entry)
	if err != nil {
		return err
	}
	entry.Checksum = sum
	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("marshal journal entry: %w", err)
	}
	data = append(data, '\n')

	if j.currentSize > 0 && j.currentSize+int64(len(data)) > j.maxSize {
		if err := j.rotate(); err != nil {
			return fmt.Errorf("rotate journal: %w", err)
		}
	}
	n, err := j.file.Write(data)
	if err != nil {
		return fmt.Errorf("write journal entry: %w", err)
	}
	if err := j.file.Sync(); err != nil {
		return fmt.Errorf("sync journal: %w", err)
	}
	j.currentSize += int64(n)
	return nil
}

func (j *Journal) rotate() error {
	if err := j.file.Close(); err != nil {
		return fmt.Errorf("close journal: %w", err)
	}
	j.file = nil
	dir := filepath.Join(filepath.Dir(j.path), archiveDir)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create archive dir: %w", err)
	}
	j.rotations++
	stem := strings.TrimSuffix(filepath.Base(j.path), journalExt)
	name := fmt.Sprintf("%s.%s.%d%s", stem, time.Now().Format("20060102_150405"), j.rotations, journalExt)
	if err := os.Rename(j.path, filepath.Join(dir, name)); err != nil {
		return fmt.Errorf("archive journal: %w", err)
	}
	if err := j.prune(dir, stem); err != nil {
		return err
	}
	return j.open()
}

// prune removes the oldest archives beyond maxArchives.
func (j *Journal) prune(dir, stem string) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return fmt.Errorf("read archive dir: %w", err)
	}
	type archived struct {
		name string
		mod  time.Time
	}
	var files []archived
	for _, e := range entries {
		if e.IsDir() || !strings.HasPrefix(e.Name(), stem+".") {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		files = append(files, archived{e.Name(), info.ModTime()})
	}
	if len(files) <= j.maxArchives {
		return nil
	}
	sort.Slice(files, func(a, b int) bool {
		if files[a].mod.Equal(files[b].mod) {
			return files[a].name < files[b].name
		}
		return files[a].mod.Before(files[b].mod)
	})
	for _, f := range files[:len(files)-j.maxArchives] {
		if err := os.Remove(filepath.Join(dir, f.name)); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("prune archive: %w", err)
		}
	}
	return nil
}

// checksum hashes the entry in its decoded form, so a value that went
// through a JSON round trip hashes the same as the original.
func checksum(entry JournalEntry) (string, error) {
	entry.Checksum = ""
	data, err := json.Marshal(entry)
	if err != nil {
		return "", fmt.Errorf("marshal for checksum: %w", err)
	}
	var canon JournalEntry
	if err := json.Unmarshal(data, &canon); err != nil {
		return "", fmt.Errorf("canonicalize for checksum: %w", err)
	}
	if data, err = json.Marshal(canon); err != nil {
		return "", fmt.Errorf("marshal for checksum: %w", err)
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:8]), nil
}

// VerifyJournal counts entries and how many carry a matching checksum.
// Malformed lines count toward total but not valid.
func VerifyJournal(path string) (total, valid int, err error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return 0, 0, fmt.Errorf("read journal: %w", err)
	}
	for _, line := range strings.Split(string(raw), "\n") {
		if strings.TrimSpace(line) == "" {
			continue
		}
		total++
		var entry JournalEntry
		if err := json.Unmarshal([]byte(line), &entry); err != nil {
			continue
		}
		want := entry.Checksum
		got, err := checksum(entry)
		if err == nil && want != "" && got == want {
			valid++
		}
	}
	return total, valid, nil
}

func (j *Journal) Path() string { return j.path }

func (j *Journal) Size() int64 {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.currentSize
}

func (j *Journal) Close() error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.file == nil {
		return nil
	}
	err := j.file.Sync()
	if cerr := j.file.Close(); err == nil {
		err = cerr
	}
	j.file = nil
	return err
}
