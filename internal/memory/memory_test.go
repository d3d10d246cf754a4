package memory

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iged-project/iged/internal/model"
	"github.com/iged-project/iged/internal/secret"
)

func newCipher(t *testing.T) *secret.Cipher {
	t.Helper()
	c, err := secret.NewCipher(bytes.Repeat([]byte{7}, secret.KeySize))
	require.NoError(t, err)
	return c
}

func openEngine(t *testing.T, path string) *Engine {
	t.Helper()
	e, err := Open(path, newCipher(t), Options{Logger: zerolog.Nop()})
	require.NoError(t, err)
	return e
}

func TestAddEntry_RoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "memory.enc")
	e := openEngine(t, path)

	tests := []struct {
		name    string
		command string
		result  string
	}{
		{"ascii", "scan 10.0.0.5", "2 open ports"},
		{"utf8", "analyser données.csv", "résumé prêt"},
		{"emoji", "generate 🚀 landing page", "done ✅🎉"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			id, err := e.AddEntry(tt.command, tt.result, "codegen_agent", true, nil)
			require.NoError(t, err)

			got, err := e.Entry(id)
			require.NoError(t, err)
			assert.Equal(t, tt.command, got.Command)
			assert.Equal(t, tt.result, got.Result)
			assert.Equal(t, "codegen_agent", got.Agent)

			// and after a reload from disk
			reloaded := openEngine(t, path)
			got, err = reloaded.Entry(id)
			require.NoError(t, err)
			assert.Equal(t, tt.command, got.Command)
			assert.Equal(t, tt.result, got.Result)
		})
	}
}

func TestLogIsEncryptedAtRest(t *testing.T) {
	path := filepath.Join(t.TempDir(), "memory.enc")
	e := openEngine(t, path)
	_, err := e.AddEntry("secret command", "secret result", "secops", true, nil)
	require.NoError(t, err)

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.True(t, secret.IsSealed(raw))
	assert.NotContains(t, string(raw), "secret command")

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())
}

func TestOpen_PlaintextLegacy(t *testing.T) {
	legacy := []model.MemoryEntry{{ID: "0000aaaa", Command: "old", Result: "r", Agent: "secops", Success: true, Timestamp: time.Now()}}
	raw, err := json.Marshal(legacy)
	require.NoError(t, err)

	t.Run("rejected by default", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "memory.enc")
		require.NoError(t, os.WriteFile(path, raw, 0o600))
		_, err := Open(path, newCipher(t), Options{Logger: zerolog.Nop()})
		assert.ErrorIs(t, err, ErrPlaintextRejected)
	})

	t.Run("accepted when opted in and re-encrypted on write", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "memory.enc")
		require.NoError(t, os.WriteFile(path, raw, 0o600))
		e, err := Open(path, newCipher(t), Options{AllowPlaintextLegacy: true, Logger: zerolog.Nop()})
		require.NoError(t, err)
		assert.Equal(t, 1, e.Len())
		assert.True(t, e.Statistics().LegacyPlaintext)
		assert.Equal(t, "degraded", e.Health().Status)

		_, err = e.AddEntry("new", "r", "secops", true, nil)
		require.NoError(t, err)
		onDisk, err := os.ReadFile(path)
		require.NoError(t, err)
		assert.True(t, secret.IsSealed(onDisk))
		assert.False(t, e.Statistics().LegacyPlaintext)

		entries, err := os.ReadDir(filepath.Dir(path))
		require.NoError(t, err)
		for _, f := range entries {
			content, err := os.ReadFile(filepath.Join(filepath.Dir(path), f.Name()))
			require.NoError(t, err)
			assert.NotContains(t, string(content), `"old"`, "plaintext left in %s", f.Name())
		}
	})
}

func TestOpen_WrongKeyFails(t *testing.T) {
	path := filepath.Join(t.TempDir(), "memory.enc")
	e := openEngine(t, path)
	_, err := e.AddEntry("c", "r", "a", true, nil)
	require.NoError(t, err)

	other, err := secret.NewCipher(bytes.Repeat([]byte{9}, secret.KeySize))
	require.NoError(t, err)
	_, err = Open(path, other, Options{AllowPlaintextLegacy: true, Logger: zerolog.Nop()})
	assert.ErrorIs(t, err, secret.ErrDecrypt)
}

func TestOpen_GarbageFails(t *testing.T) {
	path := filepath.Join(t.TempDir(), "memory.enc")
	require.NoError(t, os.WriteFile(path, []byte("garbage{"), 0o600))
	_, err := Open(path, newCipher(t), Options{AllowPlaintextLegacy: true, Logger: zerolog.Nop()})
	assert.Error(t, err)
}

func TestRecent_OrderAndIdempotence(t *testing.T) {
	e := openEngine(t, filepath.Join(t.TempDir(), "memory.enc"))
	for i := 0; i < 5; i++ {
		_, err := e.AddEntry(fmt.Sprintf("cmd-%d", i), "ok", "secops", true, nil)
		require.NoError(t, err)
	}

	got := e.Recent(3)
	require.Len(t, got, 3)
	assert.Equal(t, "cmd-4", got[0].Command)
	assert.Equal(t, "cmd-2", got[2].Command)
	assert.Equal(t, got, e.Recent(3))

	assert.Len(t, e.Recent(50), 5)
	assert.Empty(t, e.Recent(0))
}

func TestSearchAndByAgent(t *testing.T) {
	e := openEngine(t, filepath.Join(t.TempDir(), "memory.enc"))
	_, _ = e.AddEntry("scan 10.0.0.1", "no open ports", "secops", true, nil)
	_, _ = e.AddEntry("generate website", "created index.html", "codegen_agent", true, nil)
	_, _ = e.AddEntry("SCAN example.com", "timeout", "secops", false, nil)

	res := e.Search("scan", 10)
	require.Len(t, res, 2)
	assert.Equal(t, "SCAN example.com", res[0].Command)

	res = e.Search("INDEX", 10)
	require.Len(t, res, 1)
	assert.Equal(t, "codegen_agent", res[0].Agent)

	assert.Len(t, e.Search("scan", 1), 1)
	assert.Len(t, e.ByAgent("secops", 10), 2)
	assert.Empty(t, e.ByAgent("nobody", 10))
}

func TestDeleteAndClear(t *testing.T) {
	path := filepath.Join(t.TempDir(), "memory.enc")
	e := openEngine(t, path)
	id, err := e.AddEntry("c1", "r1", "a", true, nil)
	require.NoError(t, err)
	_, err = e.AddEntry("c2", "r2", "a", true, nil)
	require.NoError(t, err)

	ok, err := e.DeleteEntry(id)
	require.NoError(t, err)
	assert.True(t, ok)
	ok, err = e.DeleteEntry(id)
	require.NoError(t, err)
	assert.False(t, ok)
	_, err = e.Entry(id)
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, e.Clear())
	assert.Equal(t, 0, e.Len())
	assert.Equal(t, 0, openEngine(t, path).Len())

	// a backup would keep the removed entries readable with the same key
	_, err = os.Stat(path + ".bak")
	assert.True(t, os.IsNotExist(err), "no backup of the log")
}

func TestPersist_RemovesStaleBackup(t *testing.T) {
	path := filepath.Join(t.TempDir(), "memory.enc")
	e := openEngine(t, path)
	_, err := e.AddEntry("secret command", "r", "a", true, nil)
	require.NoError(t, err)
	sealed, err := os.ReadFile(path)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(path+".bak", sealed, 0o600))

	require.NoError(t, e.Clear())
	_, err = os.Stat(path + ".bak")
	assert.True(t, os.IsNotExist(err))
}

func TestExportImport(t *testing.T) {
	dir := t.TempDir()
	src := openEngine(t, filepath.Join(dir, "a.enc"))
	_, _ = src.AddEntry("c1", "r1", "secops", true, map[string]any{"k": "v"})
	_, _ = src.AddEntry("c2", "r2", "data_miner", false, nil)

	exportPath := filepath.Join(dir, "exports", "dump.json")
	n, err := src.Export(exportPath)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	dst := openEngine(t, filepath.Join(dir, "b.enc"))
	imported, err := dst.Import(exportPath)
	require.NoError(t, err)
	assert.Equal(t, 2, imported)
	assert.Equal(t, 2, dst.Len())

	// importing the same file twice must not produce duplicate ids
	_, err = dst.Import(exportPath)
	require.NoError(t, err)
	ids := map[string]bool{}
	for _, en := range dst.Recent(10) {
		assert.False(t, ids[en.ID], "duplicate id %s", en.ID)
		ids[en.ID] = true
	}
	assert.Len(t, ids, 4)
}

func TestImport_RejectsNonList(t *testing.T) {
	dir := t.TempDir()
	e := openEngine(t, filepath.Join(dir, "m.enc"))
	p := filepath.Join(dir, "bad.json")
	require.NoError(t, os.WriteFile(p, []byte(`{"id":"x"}`), 0o600))

	_, err := e.Import(p)
	assert.ErrorIs(t, err, ErrInvalidImport)
	assert.Equal(t, 0, e.Len())
}

func TestStatistics(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	clock := now.Add(-48 * time.Hour)
	e, err := Open(filepath.Join(t.TempDir(), "m.enc"), newCipher(t), Options{
		Logger: zerolog.Nop(),
		Now:    func() time.Time { return clock },
	})
	require.NoError(t, err)

	_, _ = e.AddEntry("old", "r", "secops", true, nil)
	clock = now
	_, _ = e.AddEntry("new1", "r", "secops", false, nil)
	_, _ = e.AddEntry("new2", "r", "codegen_agent", true, nil)
	_, _ = e.AddEntry("new3", "r", "codegen_agent", true, nil)

	st := e.Statistics()
	assert.Equal(t, 4, st.TotalEntries)
	assert.Equal(t, 3, st.SuccessfulTasks)
	assert.Equal(t, 1, st.FailedTasks)
	assert.InDelta(t, 75.0, st.SuccessRate, 0.001)
	assert.Equal(t, 3, st.RecentEntries24h)
	assert.Equal(t, map[string]int{"secops": 2, "codegen_agent": 2}, st.AgentUsage)
	assert.Greater(t, st.FileSizeBytes, int64(0))

	h := e.Health()
	assert.True(t, h.FileExists)
	assert.True(t, h.Encrypted)
	assert.Equal(t, 4, h.EntryCount)
}

func TestConcurrentWritesAreSerialized(t *testing.T) {
	path := filepath.Join(t.TempDir(), "memory.enc")
	e := openEngine(t, path)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := e.AddEntry(fmt.Sprintf("c%d", i), "r", "a", true, nil)
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 20, e.Len())
	assert.Equal(t, 20, openEngine(t, path).Len())
}

func TestReturnedEntriesAreCopies(t *testing.T) {
	e := openEngine(t, filepath.Join(t.TempDir(), "m.enc"))
	id, err := e.AddEntry("c", "r", "a", true, map[string]any{"k": "v"})
	require.NoError(t, err)

	got, err := e.Entry(id)
	require.NoError(t, err)
	got.Metadata["k"] = "changed"

	again, err := e.Entry(id)
	require.NoError(t, err)
	assert.Equal(t, "v", again.Metadata["k"])
}
