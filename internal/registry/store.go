package registry

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/videopress/backend/internal/models"
)

// Store persists session snapshots so the index survives restarts.
type Store interface {
	Save(ctx context.Context, snap SessionSnapshot) error
	Delete(ctx context.Context, sessionID string) error
	LoadAll(ctx context.Context) ([]SessionSnapshot, error)
}

// SessionSnapshot is the persisted form of one session.
type SessionSnapshot struct {
	Session models.Session `json:"session"`
	Files   []FileSnapshot `json:"files"`
}

// FileSnapshot keeps the on-disk paths that models hide from API responses.
type FileSnapshot struct {
	Upload      models.Upload   `json:"upload"`
	UploadPath  string          `json:"upload_path"`
	Outputs     []models.Output `json:"outputs,omitempty"`
	OutputPaths []string        `json:"output_paths,omitempty"`
}

func (s *session) snapshot() SessionSnapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	snap := SessionSnapshot{Session: s.info, Files: make([]FileSnapshot, 0, len(s.entries))}
	for _, e := range s.entries {
		fs := FileSnapshot{Upload: e.upload, UploadPath: e.upload.Path, Outputs: e.outputs}
		for _, o := range e.outputs {
			fs.OutputPaths = append(fs.OutputPaths, o.Path)
		}
		snap.Files = append(snap.Files, fs)
	}
	return snap
}

func restore(snap SessionSnapshot) *session {
	s := &session{info: snap.Session, entries: make(map[string]*entry, len(snap.Files))}
	for _, f := range snap.Files {
		up := f.Upload
		up.Path = f.UploadPath
		up.SessionID = snap.Session.ID
		outs := append([]models.Output(nil), f.Outputs...)
		for i := range outs {
			if i < len(f.OutputPaths) {
				outs[i].Path = f.OutputPaths[i]
			}
		}
		s.entries[up.ID] = &entry{upload: up, outputs: outs}
	}
	return s
}

func (r *Registry) persist(s *session) {
	if r.opts.Store == nil {
		return
	}
	snap := s.snapshot()
	ctx, cancel := context.WithTimeout(context.Background(), storeTimeout)
	defer cancel()
	if err := r.opts.Store.Save(ctx, snap); err != nil {
		r.logger.Warn("session store save failed", zap.String("session_id", snap.Session.ID), zap.Error(err))
	}
}

// Load restores sessions from the store. Expired sessions are skipped; call Sweep afterwards
// to apply file retention.
func (r *Registry) Load(ctx context.Context) (int, error) {
	if r.opts.Store == nil {
		return 0, nil
	}
	snaps, err := r.opts.Store.LoadAll(ctx)
	if err != nil {
		return 0, fmt.Errorf("load sessions: %w", err)
	}
	now := r.opts.Now()
	n := 0
	r.mu.Lock()
	for _, snap := range snaps {
		if snap.Session.ID == "" || snap.Session.Expired(now) {
			continue
		}
		r.sessions[snap.Session.ID] = restore(snap)
		n++
	}
	r.mu.Unlock()
	r.logger.Info("sessions restored", zap.Int("count", n))
	return n, nil
}

// Close flushes a final snapshot of every live session holding uploads.
func (r *Registry) Close(ctx context.Context) error {
	if r.opts.Store == nil {
		return nil
	}
	r.mu.RLock()
	sessions := make([]*session, 0, len(r.sessions))
	for _, s := range r.sessions {
		sessions = append(sessions, s)
	}
	r.mu.RUnlock()
	for _, s := range sessions {
		snap := s.snapshot()
		if len(snap.Files) == 0 {
			continue
		}
		if err := r.opts.Store.Save(ctx, snap); err != nil {
			return fmt.Errorf("flush session %s: %w", s.info.ID, err)
		}
	}
	return nil
}

const sessionKeyPrefix = "vp:session:"

// RedisStore keeps one JSON document per session, expiring with the session.
type RedisStore struct {
	rdb    *redis.Client
	now    func() time.Time
	logger *zap.Logger
}

// NewRedisStore creates a RedisStore on an existing client.
func NewRedisStore(rdb *redis.Client, logger *zap.Logger) *RedisStore {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RedisStore{rdb: rdb, now: time.Now, logger: logger}
}

// Save writes snap with a TTL matching the session's remaining lifetime.
func (s *RedisStore) Save(ctx context.Context, snap SessionSnapshot) error {
	ttl := snap.Session.ExpiresAt.Sub(s.now())
	if ttl <= 0 {
		return s.Delete(ctx, snap.Session.ID)
	}
	raw, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("marshal session: %w", err)
	}
	return s.rdb.Set(ctx, sessionKeyPrefix+snap.Session.ID, raw, ttl).Err()
}

// Delete removes a session document.
func (s *RedisStore) Delete(ctx context.Context, sessionID string) error {
	return s.rdb.Del(ctx, sessionKeyPrefix+sessionID).Err()
}

// LoadAll scans every session document. Undecodable documents are logged and skipped.
func (s *RedisStore) LoadAll(ctx context.Context) ([]SessionSnapshot, error) {
	var out []SessionSnapshot
	iter := s.rdb.Scan(ctx, 0, sessionKeyPrefix+"*", 100).Iterator()
	for iter.Next(ctx) {
		raw, err := s.rdb.Get(ctx, iter.Val()).Bytes()
		if err == redis.Nil {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("get %s: %w", iter.Val(), err)
		}
		var snap SessionSnapshot
		if err := json.Unmarshal(raw, &snap); err != nil {
			s.logger.Warn("skip corrupt session document", zap.String("key", iter.Val()), zap.Error(err))
			continue
		}
		out = append(out, snap)
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("scan sessions: %w", err)
	}
	return out, nil
}
