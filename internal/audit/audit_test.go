package audit

import (
	"bufio"
	"encoding/json"
	"os"
	"testing"
	"time"
)

func newTestLog(t *testing.T) *Log {
	t.Helper()
	dir := t.TempDir()
	l, err := New(Config{
		CriticalPath:  dir + "/critical.jsonl",
		HotPath:       dir + "/hot.jsonl",
		StatePath:     dir + "/chain.state",
		HotBatchSize:  2,
		HotFlushEvery: 20 * time.Millisecond,
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { l.Close() })
	return l
}

func TestCriticalEventWrittenSynchronously(t *testing.T) {
	l := newTestLog(t)
	if err := l.LogEvent("access_denied", map[string]any{"user": "bob"}); err != nil {
		t.Fatalf("LogEvent: %v", err)
	}

	entries := readLines(t, l.cfg.CriticalPath)
	if len(entries) != 1 {
		t.Fatalf("expected 1 critical entry, got %d", len(entries))
	}
	if entries[0].Entry.EventType != "access_denied" {
		t.Fatalf("unexpected event type %q", entries[0].Entry.EventType)
	}
	if entries[0].PrevHash != "" {
		t.Fatalf("expected empty prev_hash for first entry, got %q", entries[0].PrevHash)
	}
}

func TestChainLinksConsecutiveEntries(t *testing.T) {
	l := newTestLog(t)
	for i := 0; i < 3; i++ {
		if err := l.LogEvent("access_denied", map[string]any{"i": i}); err != nil {
			t.Fatalf("LogEvent: %v", err)
		}
	}

	entries := readLines(t, l.cfg.CriticalPath)
	if len(entries) != 3 {
		t.Fatalf("expected 3 entries, got %d", len(entries))
	}
	for i := 1; i < len(entries); i++ {
		if entries[i].PrevHash != entries[i-1].Hash {
			t.Fatalf("entry %d prev_hash does not match entry %d hash", i, i-1)
		}
	}
}

func TestHotChainBatches(t *testing.T) {
	l := newTestLog(t)
	if err := l.LogEvent("search_performed", map[string]any{"q": "hello"}); err != nil {
		t.Fatalf("LogEvent: %v", err)
	}
	if err := l.LogEvent("search_performed", map[string]any{"q": "world"}); err != nil {
		t.Fatalf("LogEvent: %v", err)
	}

	time.Sleep(50 * time.Millisecond)
	entries := readLines(t, l.cfg.HotPath)
	if len(entries) != 2 {
		t.Fatalf("expected 2 hot entries after batch flush, got %d", len(entries))
	}
}

func readLines(t *testing.T, path string) []chainedEntry {
	t.Helper()
	f, err := os.Open(path)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		t.Fatalf("open %s: %v", path, err)
	}
	defer f.Close()

	var out []chainedEntry
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		var e chainedEntry
		if err := json.Unmarshal(scanner.Bytes(), &e); err != nil {
			t.Fatalf("unmarshal line: %v", err)
		}
		out = append(out, e)
	}
	return out
}
