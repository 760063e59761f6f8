package storage

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"time"

	"studysched/internal/schedule"
	logx "studysched/pkg/logx"
)

const fileCompactEvery = 1000

// fileStore keeps everything in memory and makes it durable with two files:
//   - <prefix>.snapshot.json (periodic snapshot)
//   - <prefix>.journal.jsonl (append-only journal since the snapshot)
//
// The journal is compacted into the snapshot every fileCompactEvery writes
// and on Close.
type fileStore struct {
	*memoryStore
	log logx.Logger

	snapshotPath string
	journal      *os.File
	writes       int
}

type journalRecord struct {
	Op       string                      `json:"op"`
	Activity *schedule.ScheduledActivity `json:"activity,omitempty"`
	HealthID string                      `json:"health_id,omitempty"`
	GUID     string                      `json:"guid,omitempty"`
	EventID  string                      `json:"event_id,omitempty"`
	At       time.Time                   `json:"at,omitzero"`
}

type snapshot struct {
	Activities []schedule.ScheduledActivity    `json:"activities"`
	Events     map[string]map[string]time.Time `json:"events"`
}

func openFile(cfg Config, log logx.Logger) (Store, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return nil, errors.New("storage.path is required for file driver")
	}

	dir := filepath.Dir(path)
	base := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	prefix := filepath.Join(dir, base)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}

	s := &fileStore{
		memoryStore:  newMemory(),
		log:          log,
		snapshotPath: prefix + ".snapshot.json",
	}
	if err := s.loadSnapshot(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, err
	}
	journalPath := prefix + ".journal.jsonl"
	if err := s.replayJournal(journalPath); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, err
	}

	jf, err := os.OpenFile(journalPath, os.O_CREATE|os.O_APPEND|os.O_RDWR, 0o600)
	if err != nil {
		return nil, err
	}
	s.journal = jf
	return s, nil
}

func (s *fileStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.journal == nil {
		return nil
	}
	err := s.compactLocked()
	if cerr := s.journal.Close(); err == nil {
		err = cerr
	}
	s.journal = nil
	return err
}

func (s *fileStore) Save(ctx context.Context, acts []schedule.ScheduledActivity) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	b := batch{op: "save"}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, a := range acts {
		if err := checkKey(a); err != nil {
			b.fail(a.GUID, err)
			continue
		}
		if err := s.appendLocked(journalRecord{Op: "save", Activity: &a}); err != nil {
			b.fail(a.GUID, err)
			continue
		}
		s.putLocked(a)
	}
	return b.err()
}

func (s *fileStore) Delete(ctx context.Context, acts []schedule.ScheduledActivity) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	b := batch{op: "delete"}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, a := range acts {
		if err := s.appendLocked(journalRecord{Op: "delete", HealthID: a.HealthID, GUID: a.GUID}); err != nil {
			b.fail(a.GUID, err)
			continue
		}
		s.deleteLocked(a.HealthID, a.GUID)
	}
	return b.err()
}

func (s *fileStore) PutEvent(ctx context.Context, healthID, eventID string, at time.Time) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	healthID, eventID = strings.TrimSpace(healthID), strings.TrimSpace(eventID)
	if healthID == "" || eventID == "" {
		return errMissingEventKey
	}
	at = at.UTC()
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.appendLocked(journalRecord{Op: "event", HealthID: healthID, EventID: eventID, At: at}); err != nil {
		return err
	}
	s.putEventLocked(healthID, eventID, at)
	return nil
}

func (s *fileStore) appendLocked(r journalRecord) error {
	if s.journal == nil {
		return errors.New("journal closed")
	}
	if err := json.NewEncoder(s.journal).Encode(r); err != nil {
		return err
	}
	s.writes++
	if s.writes%fileCompactEvery == 0 {
		if err := s.compactLocked(); err != nil {
			s.log.Debug("journal compact failed", logx.Err(err))
		}
	}
	return nil
}

func (s *fileStore) compactLocked() error {
	snap := snapshot{Events: s.events}
	for _, m := range s.activities {
		for _, a := range m {
			snap.Activities = append(snap.Activities, a)
		}
	}
	sortByScheduledOn(snap.Activities)

	tmp := s.snapshotPath + ".tmp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o600)
	if err != nil {
		return err
	}
	if err := json.NewEncoder(f).Encode(snap); err != nil {
		_ = f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	if err := os.Rename(tmp, s.snapshotPath); err != nil {
		return err
	}
	if err := s.journal.Truncate(0); err != nil {
		return err
	}
	_, err = s.journal.Seek(0, 2)
	return err
}

func (s *fileStore) loadSnapshot() error {
	f, err := os.Open(s.snapshotPath)
	if err != nil {
		return err
	}
	defer f.Close()
	var snap snapshot
	if err := json.NewDecoder(f).Decode(&snap); err != nil {
		return err
	}
	for _, a := range snap.Activities {
		s.putLocked(a)
	}
	for h, m := range snap.Events {
		for id, at := range m {
			s.putEventLocked(h, id, at)
		}
	}
	return nil
}

// replayJournal applies records written after the last snapshot. A torn
// final line from a crash is skipped.
func (s *fileStore) replayJournal(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	skipped := 0
	for sc.Scan() {
		var r journalRecord
		if err := json.Unmarshal(sc.Bytes(), &r); err != nil {
			skipped++
			continue
		}
		switch r.Op {
		case "save":
			if r.Activity != nil {
				s.putLocked(*r.Activity)
			}
		case "delete":
			s.deleteLocked(r.HealthID, r.GUID)
		case "event":
			s.putEventLocked(r.HealthID, r.EventID, r.At)
		}
	}
	if skipped > 0 {
		s.log.Warn("skipped unreadable journal records", logx.Int("count", skipped), logx.String("path", path))
	}
	return sc.Err()
}
