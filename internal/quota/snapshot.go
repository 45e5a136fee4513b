package quota

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/goccy/go-json"
	"github.com/rs/zerolog/log"

	"github.com/thebtf/twentyq/internal/kv"
)

type snapshotFile struct {
	Timestamp         time.Time                `json:"timestamp"`
	Models            map[string]modelSnapshot `json:"models"`
	CurrentModelIndex int                      `json:"current_model_index"`
}

type modelSnapshot struct {
	MinuteCount int    `json:"minute_count"`
	DayCount    int    `json:"day_count"`
	LastMinute  string `json:"last_minute"`
	LastDay     string `json:"last_day"`
}

func (l *Ledger) maybeSnapshot(ctx context.Context, now time.Time) {
	if l.opts.SnapshotPath == "" {
		return
	}
	l.mu.Lock()
	due := now.Sub(l.lastSnapshot) >= l.opts.SnapshotInterval
	if due {
		l.lastSnapshot = now
	}
	l.mu.Unlock()

	if due {
		l.Snapshot(ctx)
	}
}

// Snapshot writes every backend's counters and the selected index to the
// snapshot file. Failures are logged and otherwise ignored.
func (l *Ledger) Snapshot(ctx context.Context) {
	if l.opts.SnapshotPath == "" {
		return
	}
	if err := l.writeSnapshot(ctx); err != nil {
		log.Warn().Err(err).Str("path", l.opts.SnapshotPath).Msg("Quota snapshot failed")
		return
	}
	log.Debug().Str("path", l.opts.SnapshotPath).Msg("Quota snapshot written")
}

func (l *Ledger) writeSnapshot(ctx context.Context) error {
	states, err := l.readAll(ctx)
	if err != nil {
		return fmt.Errorf("read counters: %w", err)
	}

	snap := snapshotFile{
		Timestamp:         l.clock.Now(),
		Models:            make(map[string]modelSnapshot, len(l.backends)),
		CurrentModelIndex: l.currentIndex(),
	}
	for i, b := range l.backends {
		snap.Models[b.Name] = states[i]
	}

	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return fmt.Errorf("encode: %w", err)
	}

	dir := filepath.Dir(l.opts.SnapshotPath)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return fmt.Errorf("create dir: %w", err)
	}
	tmp, err := os.CreateTemp(dir, ".quota-*.json")
	if err != nil {
		return fmt.Errorf("create temp: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("write temp: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("close temp: %w", err)
	}
	if err := os.Rename(tmpName, l.opts.SnapshotPath); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("rename: %w", err)
	}
	return nil
}

// Restore replays a recent snapshot into an empty fast store. Only counters
// whose bucket is still the current one are replayed. It returns the saved
// backend index and whether a replay took place.
func (l *Ledger) Restore(ctx context.Context) (int, bool) {
	if l.opts.SnapshotPath == "" {
		return 0, false
	}

	exists, err := l.store.HasKeys(ctx, "rate:*")
	if err != nil {
		log.Warn().Err(err).Msg("Quota restore skipped: key scan failed")
		return 0, false
	}
	if exists {
		log.Debug().Msg("Quota restore skipped: counters already present")
		return 0, false
	}

	data, err := os.ReadFile(l.opts.SnapshotPath)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			log.Warn().Err(err).Str("path", l.opts.SnapshotPath).Msg("Quota snapshot unreadable")
		}
		return 0, false
	}

	var snap snapshotFile
	if err := json.Unmarshal(data, &snap); err != nil {
		log.Warn().Err(err).Str("path", l.opts.SnapshotPath).Msg("Quota snapshot corrupt")
		return 0, false
	}

	now := l.clock.Now()
	if age := now.Sub(snap.Timestamp); age >= l.opts.SnapshotMaxAge {
		log.Info().Dur("age", age).Msg("Quota snapshot too old, starting fresh")
		return 0, false
	}

	minuteID, dayID := bucketIDs(now)
	var ops []kv.Op
	for _, b := range l.backends {
		ms, ok := snap.Models[b.Name]
		if !ok {
			continue
		}
		keys := keysFor(b.Name)
		if ms.LastMinute == minuteID && ms.MinuteCount > 0 {
			ops = append(ops,
				kv.SetWithTTL(keys.minute, ms.MinuteCount, minuteTTL),
				kv.SetWithTTL(keys.lastMinute, minuteID, minuteTTL),
			)
		}
		if ms.LastDay == dayID && ms.DayCount > 0 {
			ops = append(ops,
				kv.SetWithTTL(keys.day, ms.DayCount, dayTTL),
				kv.SetWithTTL(keys.lastDay, dayID, dayTTL),
			)
		}
	}
	if len(ops) > 0 {
		if _, err := l.store.Atomic(ctx, ops...); err != nil {
			log.Warn().Err(err).Msg("Quota restore write failed")
			return 0, false
		}
	}

	log.Info().
		Int("index", snap.CurrentModelIndex).
		Time("taken", snap.Timestamp).
		Msg("Quota restored from snapshot")
	return snap.CurrentModelIndex, true
}
