// Package registry is the in-memory index of sessions, their uploads and encoded outputs.
// It owns retention: expired files are removed from the index and from disk together.
package registry

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/videopress/backend/internal/apperr"
	"github.com/videopress/backend/internal/models"
	"github.com/videopress/backend/pkg/utils"
)

const storeTimeout = 3 * time.Second

// RemovalListener is told about every upload removed by Delete, Clear or Sweep.
type RemovalListener func(sessionID, uploadID string)

// Options configures retention and persistence.
type Options struct {
	FileRetention   time.Duration
	SessionLifetime time.Duration
	// Dirs are scanned by Sweep for unindexed files older than FileRetention.
	Dirs []string
	// Now defaults to time.Now.
	Now   func() time.Time
	Store Store
}

// File is an upload with the outputs of its latest run.
type File struct {
	Upload  models.Upload   `json:"upload"`
	Outputs []models.Output `json:"outputs"`
}

// Info summarises one session.
type Info struct {
	Session     models.Session `json:"session"`
	Uploads     int            `json:"uploads"`
	Outputs     int            `json:"outputs"`
	UploadBytes int64          `json:"upload_bytes"`
	OutputBytes int64          `json:"output_bytes"`
}

// Stats are registry-wide totals.
type Stats struct {
	Sessions    int   `json:"sessions"`
	Uploads     int   `json:"uploads"`
	Outputs     int   `json:"outputs"`
	UploadBytes int64 `json:"upload_bytes"`
	OutputBytes int64 `json:"output_bytes"`
	Tombstones  int   `json:"tombstones"`
}

// SweepReport counts what one Sweep removed.
type SweepReport struct {
	Sessions int `json:"sessions"`
	Uploads  int `json:"uploads"`
	Orphans  int `json:"orphans"`
}

type entry struct {
	upload  models.Upload
	outputs []models.Output
}

type session struct {
	mu      sync.RWMutex
	info    models.Session
	entries map[string]*entry
}

// Registry is safe for concurrent use. Lock order is registry then session.
type Registry struct {
	mu         sync.RWMutex
	sessions   map[string]*session
	tombstones map[string]time.Time

	listenMu  sync.RWMutex
	listeners []RemovalListener

	opts   Options
	logger *zap.Logger
}

// New creates an empty Registry.
func New(opts Options, logger *zap.Logger) *Registry {
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.FileRetention <= 0 {
		opts.FileRetention = 24 * time.Hour
	}
	if opts.SessionLifetime <= 0 {
		opts.SessionLifetime = 7 * 24 * time.Hour
	}
	return &Registry{
		sessions:   make(map[string]*session),
		tombstones: make(map[string]time.Time),
		opts:       opts,
		logger:     logger,
	}
}

// OnRemove registers a listener. Listeners run outside registry locks.
func (r *Registry) OnRemove(l RemovalListener) {
	r.listenMu.Lock()
	r.listeners = append(r.listeners, l)
	r.listenMu.Unlock()
}

// ResolveSession returns the live session named by token, or a fresh one with created=true
// when token is empty, unknown or expired.
func (r *Registry) ResolveSession(token string) (models.Session, bool) {
	if token != "" {
		if s, ok := r.live(token); ok {
			return s.info, false
		}
	}
	return r.NewSession(), true
}

// NewSession creates and indexes a session. It reaches the Store with its first upload.
func (r *Registry) NewSession() models.Session {
	now := r.opts.Now()
	s := &session{
		info: models.Session{
			ID:        utils.NewSessionID(now),
			CreatedAt: now,
			ExpiresAt: now.Add(r.opts.SessionLifetime),
		},
		entries: make(map[string]*entry),
	}
	r.mu.Lock()
	r.sessions[s.info.ID] = s
	r.mu.Unlock()
	return s.info
}

// Session returns a live session.
func (r *Registry) Session(id string) (models.Session, error) {
	s, ok := r.live(id)
	if !ok {
		return models.Session{}, apperr.New(apperr.KindNotFound, "session not found")
	}
	return s.info, nil
}

// Info returns counts and byte totals for a session.
func (r *Registry) Info(id string) (Info, error) {
	s, ok := r.live(id)
	if !ok {
		return Info{}, apperr.New(apperr.KindNotFound, "session not found")
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	info := Info{Session: s.info, Uploads: len(s.entries)}
	for _, e := range s.entries {
		info.UploadBytes += e.upload.Size
		for _, o := range e.outputs {
			if o.Ready() {
				info.Outputs++
				info.OutputBytes += o.Size
			}
		}
	}
	return info, nil
}

// RecordUpload indexes a stored upload under its session.
func (r *Registry) RecordUpload(sessionID string, up models.Upload) error {
	s, ok := r.live(sessionID)
	if !ok {
		return apperr.New(apperr.KindNotFound, "session not found")
	}
	up.SessionID = sessionID
	if up.CreatedAt.IsZero() {
		up.CreatedAt = r.opts.Now()
	}
	s.mu.Lock()
	s.entries[up.ID] = &entry{upload: up}
	s.mu.Unlock()
	r.persist(s)
	return nil
}

// RecordOutputs replaces the outputs of an upload with a new run. Parts must be numbered
// 1..N in order. Files of the previous run that the new run does not overwrite are removed.
func (r *Registry) RecordOutputs(sessionID, uploadID string, outs []models.Output) error {
	for i, o := range outs {
		if o.Part != i+1 {
			return apperr.New(apperr.KindInvalidRequest, fmt.Sprintf("output parts must be contiguous from 1, got part %d at position %d", o.Part, i+1))
		}
	}
	s, ok := r.live(sessionID)
	if !ok {
		return apperr.New(apperr.KindNotFound, "session not found")
	}

	s.mu.Lock()
	e, ok := s.entries[uploadID]
	if !ok {
		s.mu.Unlock()
		return r.missing(sessionID, uploadID)
	}
	keep := make(map[string]bool, len(outs))
	for _, o := range outs {
		keep[o.Path] = true
	}
	var stale []string
	for _, o := range e.outputs {
		if o.Path != "" && !keep[o.Path] {
			stale = append(stale, o.Path)
		}
	}
	e.outputs = append([]models.Output(nil), outs...)
	s.mu.Unlock()

	r.removeFiles(stale)
	r.persist(s)
	return nil
}

// Upload returns an indexed upload. Swept uploads report file_expired.
func (r *Registry) Upload(sessionID, uploadID string) (models.Upload, error) {
	s, ok := r.live(sessionID)
	if !ok {
		return models.Upload{}, r.missing(sessionID, uploadID)
	}
	s.mu.RLock()
	e, ok := s.entries[uploadID]
	var up models.Upload
	if ok {
		up = e.upload
	}
	s.mu.RUnlock()
	if !ok {
		return models.Upload{}, r.missing(sessionID, uploadID)
	}
	return up, nil
}

// Outputs returns the latest run of an upload, ordered by part.
func (r *Registry) Outputs(sessionID, uploadID string) ([]models.Output, error) {
	s, ok := r.live(sessionID)
	if !ok {
		return nil, r.missing(sessionID, uploadID)
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.entries[uploadID]
	if !ok {
		return nil, r.missing(sessionID, uploadID)
	}
	return append([]models.Output(nil), e.outputs...), nil
}

// Output returns one part of the latest run.
func (r *Registry) Output(sessionID, uploadID string, part int) (models.Output, error) {
	outs, err := r.Outputs(sessionID, uploadID)
	if err != nil {
		return models.Output{}, err
	}
	if part < 1 || part > len(outs) {
		return models.Output{}, apperr.New(apperr.KindNotFound, fmt.Sprintf("part %d not found", part))
	}
	return outs[part-1], nil
}

// ListFiles returns the session's uploads, newest first.
func (r *Registry) ListFiles(sessionID string) ([]File, error) {
	s, ok := r.live(sessionID)
	if !ok {
		return nil, apperr.New(apperr.KindNotFound, "session not found")
	}
	s.mu.RLock()
	files := make([]File, 0, len(s.entries))
	for _, e := range s.entries {
		files = append(files, File{Upload: e.upload, Outputs: append([]models.Output(nil), e.outputs...)})
	}
	s.mu.RUnlock()
	sort.Slice(files, func(i, j int) bool {
		if files[i].Upload.CreatedAt.Equal(files[j].Upload.CreatedAt) {
			return files[i].Upload.ID > files[j].Upload.ID
		}
		return files[i].Upload.CreatedAt.After(files[j].Upload.CreatedAt)
	})
	return files, nil
}

// Delete removes an upload and its outputs from the index and from disk.
func (r *Registry) Delete(sessionID, uploadID string) error {
	s, ok := r.live(sessionID)
	if !ok {
		return r.missing(sessionID, uploadID)
	}
	s.mu.Lock()
	e, ok := s.entries[uploadID]
	if ok {
		delete(s.entries, uploadID)
	}
	s.mu.Unlock()
	if !ok {
		return r.missing(sessionID, uploadID)
	}
	r.removeFiles(e.paths())
	r.notify(sessionID, uploadID)
	r.persist(s)
	return nil
}

// Clear drops the session with all its files and returns a fresh replacement.
func (r *Registry) Clear(sessionID string) (models.Session, error) {
	r.mu.Lock()
	s, ok := r.sessions[sessionID]
	delete(r.sessions, sessionID)
	r.mu.Unlock()
	if ok {
		r.dropSession(s)
	}
	return r.NewSession(), nil
}

// Sweep removes expired sessions, expired uploads with their outputs, stale tombstones and
// unindexed files older than FileRetention in Dirs.
func (r *Registry) Sweep() SweepReport {
	now := r.opts.Now()
	var report SweepReport

	r.mu.Lock()
	var expired []*session
	live := make([]*session, 0, len(r.sessions))
	for id, s := range r.sessions {
		if s.info.Expired(now) {
			expired = append(expired, s)
			delete(r.sessions, id)
			continue
		}
		live = append(live, s)
	}
	for k, until := range r.tombstones {
		if !now.Before(until) {
			delete(r.tombstones, k)
		}
	}
	r.mu.Unlock()

	for _, s := range expired {
		report.Sessions++
		report.Uploads += r.dropSession(s)
	}

	cutoff := now.Add(-r.opts.FileRetention)
	for _, s := range live {
		report.Uploads += r.expireFiles(s, cutoff)
	}

	report.Orphans = r.sweepDirs(cutoff)
	if report.Sessions+report.Uploads+report.Orphans > 0 {
		r.logger.Info("registry sweep",
			zap.Int("sessions", report.Sessions),
			zap.Int("uploads", report.Uploads),
			zap.Int("orphans", report.Orphans),
		)
	}
	return report
}

// Stats returns registry-wide totals.
func (r *Registry) Stats() Stats {
	r.mu.RLock()
	sessions := make([]*session, 0, len(r.sessions))
	for _, s := range r.sessions {
		sessions = append(sessions, s)
	}
	st := Stats{Sessions: len(sessions), Tombstones: len(r.tombstones)}
	r.mu.RUnlock()

	for _, s := range sessions {
		s.mu.RLock()
		st.Uploads += len(s.entries)
		for _, e := range s.entries {
			st.UploadBytes += e.upload.Size
			for _, o := range e.outputs {
				if o.Ready() {
					st.Outputs++
					st.OutputBytes += o.Size
				}
			}
		}
		s.mu.RUnlock()
	}
	return st
}

// Run sweeps every interval until ctx is done.
func (r *Registry) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = 30 * time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	r.logger.Info("registry janitor started", zap.Duration("interval", interval))
	for {
		select {
		case <-ctx.Done():
			r.logger.Info("registry janitor stopped")
			return
		case <-ticker.C:
			r.Sweep()
		}
	}
}

// live returns the session named id after dropping its uploads past FileRetention, so reads
// never see a file the janitor has not reached yet.
func (r *Registry) live(id string) (*session, bool) {
	r.mu.RLock()
	s, ok := r.sessions[id]
	r.mu.RUnlock()
	now := r.opts.Now()
	if !ok || s.info.Expired(now) {
		return nil, false
	}
	r.expireFiles(s, now.Add(-r.opts.FileRetention))
	return s, true
}

// expireFiles removes uploads created at or before cutoff, leaving tombstones behind.
func (r *Registry) expireFiles(s *session, cutoff time.Time) int {
	s.mu.RLock()
	stale := false
	for _, e := range s.entries {
		if !e.upload.CreatedAt.After(cutoff) {
			stale = true
			break
		}
	}
	s.mu.RUnlock()
	if !stale {
		return 0
	}

	var gone []*entry
	s.mu.Lock()
	for id, e := range s.entries {
		if !e.upload.CreatedAt.After(cutoff) {
			gone = append(gone, e)
			delete(s.entries, id)
		}
	}
	s.mu.Unlock()
	if len(gone) == 0 {
		return 0
	}
	for _, e := range gone {
		r.bury(s.info.ID, e.upload.ID)
		r.removeFiles(e.paths())
		r.notify(s.info.ID, e.upload.ID)
	}
	r.persist(s)
	return len(gone)
}

func (r *Registry) missing(sessionID, uploadID string) error {
	r.mu.RLock()
	_, swept := r.tombstones[sessionID+"/"+uploadID]
	r.mu.RUnlock()
	if swept {
		return apperr.New(apperr.KindFileExpired, "file expired, please re-upload")
	}
	return apperr.New(apperr.KindNotFound, "file not found")
}

func (r *Registry) bury(sessionID, uploadID string) {
	r.mu.Lock()
	r.tombstones[sessionID+"/"+uploadID] = r.opts.Now().Add(r.opts.SessionLifetime)
	r.mu.Unlock()
}

// dropSession removes every file of a session already unlinked from the map.
func (r *Registry) dropSession(s *session) int {
	s.mu.Lock()
	entries := s.entries
	s.entries = make(map[string]*entry)
	s.mu.Unlock()
	for id, e := range entries {
		r.removeFiles(e.paths())
		r.notify(s.info.ID, id)
	}
	if r.opts.Store != nil {
		ctx, cancel := context.WithTimeout(context.Background(), storeTimeout)
		defer cancel()
		if err := r.opts.Store.Delete(ctx, s.info.ID); err != nil {
			r.logger.Warn("session store delete failed", zap.String("session_id", s.info.ID), zap.Error(err))
		}
	}
	return len(entries)
}

func (r *Registry) notify(sessionID, uploadID string) {
	r.listenMu.RLock()
	ls := r.listeners
	r.listenMu.RUnlock()
	for _, l := range ls {
		l(sessionID, uploadID)
	}
}

func (r *Registry) removeFiles(paths []string) {
	for _, p := range paths {
		if err := os.Remove(p); err != nil && !errors.Is(err, fs.ErrNotExist) {
			r.logger.Warn("remove file failed", zap.String("path", p), zap.Error(err))
		}
	}
}

func (r *Registry) sweepDirs(cutoff time.Time) int {
	if len(r.opts.Dirs) == 0 {
		return 0
	}
	indexed := r.indexedPaths()
	removed := 0
	for _, dir := range r.opts.Dirs {
		des, err := os.ReadDir(dir)
		if err != nil {
			continue
		}
		for _, de := range des {
			if de.IsDir() {
				continue
			}
			p := filepath.Join(dir, de.Name())
			if indexed[p] {
				continue
			}
			fi, err := de.Info()
			if err != nil || fi.ModTime().After(cutoff) {
				continue
			}
			if err := os.Remove(p); err == nil {
				removed++
			}
		}
	}
	return removed
}

func (r *Registry) indexedPaths() map[string]bool {
	r.mu.RLock()
	sessions := make([]*session, 0, len(r.sessions))
	for _, s := range r.sessions {
		sessions = append(sessions, s)
	}
	r.mu.RUnlock()
	paths := make(map[string]bool)
	for _, s := range sessions {
		s.mu.RLock()
		for _, e := range s.entries {
			for _, p := range e.paths() {
				paths[p] = true
			}
		}
		s.mu.RUnlock()
	}
	return paths
}

func (e *entry) paths() []string {
	var out []string
	if e.upload.Path != "" {
		out = append(out, e.upload.Path)
	}
	for _, o := range e.outputs {
		if o.Path != "" {
			out = append(out, o.Path)
		}
	}
	return out
}
