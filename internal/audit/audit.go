// Package audit implements the tiered, hash-chained append-only audit log:
// a synchronously written critical chain and an asynchronously batched hot
// chain, each backed by its own JSONL file and chain-state side-file.
package audit

import (
	"bufio"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/vortexdb/vortex/internal/metrics"
)

// criticalEventTypes lists event types that must be written synchronously
// to the critical chain regardless of caller intent.
var criticalEventTypes = map[string]bool{
	"login_success":        true,
	"login_failure":        true,
	"access_denied":        true,
	"privilege_escalation": true,
	"data_delete":          true,
	"bulk_export":          true,
	"config_change":        true,
	"role_change":          true,
	"injection_detected":   true,
	"service_auth_failure": true,
}

// IsCritical reports whether eventType belongs to the critical chain.
func IsCritical(eventType string) bool { return criticalEventTypes[eventType] }

// Entry is one audit record prior to chaining.
type Entry struct {
	Timestamp time.Time      `json:"timestamp"`
	EventType string         `json:"event_type"`
	Data      map[string]any `json:"data"`
}

// chainedEntry is what is actually persisted to disk, one per line.
type chainedEntry struct {
	Entry    Entry  `json:"entry"`
	PrevHash string `json:"prev_hash"`
	Hash     string `json:"hash"`
}

// chainState is the side-file recording each chain's last hash.
type chainState struct {
	Critical  string    `json:"critical"`
	Hot       string    `json:"hot"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Config configures file locations and hot-chain batching.
type Config struct {
	CriticalPath  string
	HotPath       string
	StatePath     string
	HotBatchSize  int
	HotFlushEvery time.Duration
	HotQueueCap   int
}

func (c Config) withDefaults() Config {
	if c.HotBatchSize == 0 {
		c.HotBatchSize = 1000
	}
	if c.HotFlushEvery == 0 {
		c.HotFlushEvery = time.Second
	}
	if c.HotQueueCap == 0 {
		c.HotQueueCap = 10000
	}
	return c
}

// Log is the tiered audit logger. Its hot-chain batcher is started once and
// owned by application lifetime; callers stop it via Close.
type Log struct {
	cfg Config

	criticalMu sync.Mutex
	hotMu      sync.Mutex

	criticalHash string
	hotHash      string

	queue chan Entry
	done  chan struct{}
	wg    sync.WaitGroup
}

// New constructs a Log, loading prior chain state from disk if present, and
// starts the hot-chain background batcher.
func New(cfg Config) (*Log, error) {
	cfg = cfg.withDefaults()
	l := &Log{
		cfg:   cfg,
		queue: make(chan Entry, cfg.HotQueueCap),
		done:  make(chan struct{}),
	}
	if state, err := loadState(cfg.StatePath); err == nil {
		l.criticalHash = state.Critical
		l.hotHash = state.Hot
	}

	l.wg.Add(1)
	go l.runHotBatcher()
	return l, nil
}

func loadState(path string) (chainState, error) {
	var s chainState
	b, err := os.ReadFile(path)
	if err != nil {
		return s, err
	}
	err = json.Unmarshal(b, &s)
	return s, err
}

// LogEvent appends an audit entry. Critical event types are written
// synchronously under the critical-chain lock; all others are enqueued for
// the hot-chain batcher. When the hot queue is full, the entry falls back
// to a synchronous hot-chain write so no event is silently dropped.
func (l *Log) LogEvent(eventType string, data map[string]any) error {
	entry := Entry{Timestamp: time.Now().UTC(), EventType: eventType, Data: data}
	if IsCritical(eventType) {
		return l.writeCritical(entry)
	}
	select {
	case l.queue <- entry:
		return nil
	default:
		return l.writeHot([]Entry{entry})
	}
}

func (l *Log) writeCritical(entry Entry) error {
	l.criticalMu.Lock()
	defer l.criticalMu.Unlock()

	chained := chain(l.criticalHash, entry)
	if err := appendLine(l.cfg.CriticalPath, chained); err != nil {
		return fmt.Errorf("write critical audit entry: %w", err)
	}
	l.criticalHash = chained.Hash
	metrics.AuditWritesTotal.WithLabelValues("critical").Inc()
	return l.persistState()
}

func (l *Log) writeHot(entries []Entry) error {
	l.hotMu.Lock()
	defer l.hotMu.Unlock()

	f, err := os.OpenFile(l.cfg.HotPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o600)
	if err != nil {
		return fmt.Errorf("open hot audit file: %w", err)
	}
	defer f.Close()
	w := bufio.NewWriter(f)

	hash := l.hotHash
	for _, entry := range entries {
		chained := chain(hash, entry)
		line, err := json.Marshal(chained)
		if err != nil {
			return fmt.Errorf("marshal hot audit entry: %w", err)
		}
		if _, err := w.Write(append(line, '\n')); err != nil {
			// The in-memory chain hash is not advanced on a failed write,
			// preserving continuity with what is actually on disk.
			return fmt.Errorf("write hot audit entry: %w", err)
		}
		hash = chained.Hash
	}
	if err := w.Flush(); err != nil {
		return fmt.Errorf("flush hot audit file: %w", err)
	}
	l.hotHash = hash
	metrics.AuditWritesTotal.WithLabelValues("hot").Add(float64(len(entries)))
	return l.persistState()
}

func (l *Log) persistState() error {
	state := chainState{Critical: l.criticalHash, Hot: l.hotHash, UpdatedAt: time.Now().UTC()}
	b, err := json.Marshal(state)
	if err != nil {
		return err
	}
	tmp := l.cfg.StatePath + ".tmp"
	if err := os.WriteFile(tmp, b, 0o600); err != nil {
		return err
	}
	return os.Rename(tmp, l.cfg.StatePath)
}

func chain(prevHash string, entry Entry) chainedEntry {
	canon, _ := json.Marshal(entry)
	sum := sha256.Sum256(append([]byte(prevHash), canon...))
	return chainedEntry{Entry: entry, PrevHash: prevHash, Hash: hex.EncodeToString(sum[:])}
}

func appendLine(path string, chained chainedEntry) error {
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o600)
	if err != nil {
		return err
	}
	defer f.Close()
	line, err := json.Marshal(chained)
	if err != nil {
		return err
	}
	_, err = f.Write(append(line, '\n'))
	return err
}

// runHotBatcher drains the hot queue on two triggers: batch size or flush
// interval, whichever comes first.
func (l *Log) runHotBatcher() {
	defer l.wg.Done()
	ticker := time.NewTicker(l.cfg.HotFlushEvery)
	defer ticker.Stop()

	var batch []Entry
	flush := func() {
		if len(batch) == 0 {
			return
		}
		_ = l.writeHot(batch)
		batch = batch[:0]
	}

	for {
		select {
		case entry := <-l.queue:
			batch = append(batch, entry)
			if len(batch) >= l.cfg.HotBatchSize {
				flush()
			}
		case <-ticker.C:
			flush()
		case <-l.done:
			for len(l.queue) > 0 {
				batch = append(batch, <-l.queue)
			}
			flush()
			return
		}
	}
}

// Close stops the hot-chain batcher, flushing any pending entries first.
func (l *Log) Close() error {
	close(l.done)
	l.wg.Wait()
	return nil
}
