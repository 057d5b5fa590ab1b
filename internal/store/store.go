// Package store provides the durable, crash-safe on-disk persistence for
// sessions, plans, questions and conversations (spec.md S4.1). Every write is
// temp-file + fsync + rename so a crash mid-write never corrupts a readable
// file, following the atomic-write idiom of the teacher's kanban.State.Save
// and opencode's storage.Storage.Put.
package store

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/forgepilot/forgepilot/internal/model"
)

// Store is safe for concurrent readers; writes to a given session's files are
// serialized by a per-path lock (spec.md S5's "Shared-resource policy").
type Store struct {
	root string

	mu    sync.Mutex
	locks map[string]*fileLock

	rotation RotationConfig
}

// RotationConfig mirrors the LOG_MAX_SIZE_MB / LOG_MAX_FILES / LOG_RETENTION_DAYS
// environment options of spec.md S6.
type RotationConfig struct {
	MaxSizeBytes  int64
	MaxFiles      int
	RetentionDays int
}

// DefaultRotationConfig matches the documented defaults: 50MB, 10 files, 30 days.
func DefaultRotationConfig() RotationConfig {
	return RotationConfig{
		MaxSizeBytes:  50 * 1024 * 1024,
		MaxFiles:      10,
		RetentionDays: 30,
	}
}

// New creates a Store rooted at root (SESSIONS_ROOT).
func New(root string, rotation RotationConfig) *Store {
	return &Store{
		root:     root,
		locks:    make(map[string]*fileLock),
		rotation: rotation,
	}
}

func (s *Store) sessionDir(projectID, featureID string) string {
	return filepath.Join(s.root, "sessions", projectID, featureID)
}

func (s *Store) lockFor(path string) *fileLock {
	s.mu.Lock()
	defer s.mu.Unlock()

	l, ok := s.locks[path]
	if !ok {
		l = newFileLock(path)
		s.locks[path] = l
	}
	return l
}

// readJSON loads and unmarshals path into v, translating file errors into
// the spec's error taxonomy.
func readJSON(path string, v any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return ErrNotFound
		}
		return &Error{Kind: ErrKindIO, Op: "read", Path: path, Err: err}
	}

	if err := json.Unmarshal(data, v); err != nil {
		return &Error{Kind: ErrKindCorrupt, Op: "unmarshal", Path: path, Err: err}
	}
	return nil
}

// writeJSON performs the atomic temp-file + fsync + rename write.
func (s *Store) writeJSON(path string, v any) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return &Error{Kind: ErrKindIO, Op: "mkdir", Path: path, Err: err}
	}

	lock := s.lockFor(path)
	if err := lock.Lock(); err != nil {
		return &Error{Kind: ErrKindIO, Op: "lock", Path: path, Err: err}
	}
	defer lock.Unlock()

	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return &Error{Kind: ErrKindCorrupt, Op: "marshal", Path: path, Err: err}
	}

	tmp := path + ".tmp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return &Error{Kind: ErrKindIO, Op: "create-temp", Path: path, Err: err}
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		os.Remove(tmp)
		return &Error{Kind: ErrKindIO, Op: "write-temp", Path: path, Err: err}
	}
	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(tmp)
		return &Error{Kind: ErrKindIO, Op: "fsync", Path: path, Err: err}
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return &Error{Kind: ErrKindIO, Op: "close-temp", Path: path, Err: err}
	}

	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return &Error{Kind: ErrKindIO, Op: "rename", Path: path, Err: err}
	}
	return nil
}

// --- Session ---

func (s *Store) GetSession(projectID, featureID string) (*model.Session, error) {
	var sess model.Session
	path := filepath.Join(s.sessionDir(projectID, featureID), "session.json")
	if err := readJSON(path, &sess); err != nil {
		return nil, err
	}
	return &sess, nil
}

func (s *Store) PutSession(sess *model.Session) error {
	path := filepath.Join(s.sessionDir(sess.ProjectID, sess.FeatureID), "session.json")
	return s.writeJSON(path, sess)
}

// ListSessions returns every session across every project, for rehydration
// on process restart (spec.md S7).
func (s *Store) ListSessions() ([]*model.Session, error) {
	sessionsRoot := filepath.Join(s.root, "sessions")
	projectDirs, err := os.ReadDir(sessionsRoot)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, &Error{Kind: ErrKindIO, Op: "readdir", Path: sessionsRoot, Err: err}
	}

	var out []*model.Session
	for _, pd := range projectDirs {
		if !pd.IsDir() {
			continue
		}
		sub, err := s.ListByProject(pd.Name())
		if err != nil {
			continue
		}
		out = append(out, sub...)
	}
	return out, nil
}

// ListByProject returns every session belonging to projectID.
func (s *Store) ListByProject(projectID string) ([]*model.Session, error) {
	dir := filepath.Join(s.root, "sessions", projectID)
	featureDirs, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, &Error{Kind: ErrKindIO, Op: "readdir", Path: dir, Err: err}
	}

	var out []*model.Session
	for _, fd := range featureDirs {
		if !fd.IsDir() {
			continue
		}
		sess, err := s.GetSession(projectID, fd.Name())
		if err != nil {
			continue
		}
		out = append(out, sess)
	}

	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

// --- Plan ---

func (s *Store) GetPlan(projectID, featureID string) (*model.Plan, error) {
	var plan model.Plan
	path := filepath.Join(s.sessionDir(projectID, featureID), "plan.json")
	if err := readJSON(path, &plan); err != nil {
		return nil, err
	}
	return &plan, nil
}

func (s *Store) PutPlan(plan *model.Plan) error {
	path := filepath.Join(s.sessionDir(plan.ProjectID, plan.FeatureID), "plan.json")
	return s.writeJSON(path, plan)
}

// --- Questions ---

type questionsFile struct {
	Questions []model.Question `json:"questions"`
}

func (s *Store) ListQuestions(projectID, featureID string) ([]model.Question, error) {
	var qf questionsFile
	path := filepath.Join(s.sessionDir(projectID, featureID), "questions.json")
	if err := readJSON(path, &qf); err != nil {
		if IsNotFound(err) {
			return nil, nil
		}
		return nil, err
	}
	return qf.Questions, nil
}

// UpsertQuestion inserts q, or replaces the existing entry with the same ID.
func (s *Store) UpsertQuestion(projectID, featureID string, q model.Question) error {
	existing, err := s.ListQuestions(projectID, featureID)
	if err != nil {
		return err
	}

	replaced := false
	for i := range existing {
		if existing[i].ID == q.ID {
			existing[i] = q
			replaced = true
			break
		}
	}
	if !replaced {
		existing = append(existing, q)
	}

	path := filepath.Join(s.sessionDir(projectID, featureID), "questions.json")
	return s.writeJSON(path, questionsFile{Questions: existing})
}

// --- Status snapshot (small, frequently-read projection used by the Gateway) ---

type StatusSnapshot struct {
	Stage  model.Stage  `json:"stage"`
	Status model.Status `json:"status"`
}

func (s *Store) PutStatus(projectID, featureID string, snap StatusSnapshot) error {
	path := filepath.Join(s.sessionDir(projectID, featureID), "status.json")
	return s.writeJSON(path, snap)
}

func (s *Store) GetStatus(projectID, featureID string) (*StatusSnapshot, error) {
	var snap StatusSnapshot
	path := filepath.Join(s.sessionDir(projectID, featureID), "status.json")
	if err := readJSON(path, &snap); err != nil {
		return nil, err
	}
	return &snap, nil
}

// --- Preferences ---

func (s *Store) GetPreferences(projectID string) (model.Preferences, error) {
	var prefs model.Preferences
	path := filepath.Join(s.root, "projects", projectID, "preferences.json")
	if err := readJSON(path, &prefs); err != nil {
		if IsNotFound(err) {
			return model.DefaultPreferences(), nil
		}
		return model.Preferences{}, err
	}
	return prefs, nil
}

func (s *Store) PutPreferences(projectID string, prefs model.Preferences) error {
	path := filepath.Join(s.root, "projects", projectID, "preferences.json")
	return s.writeJSON(path, prefs)
}

// ProjectID derives a stable, deterministic identifier from an absolute
// project path (spec.md S3: "projectId is derived deterministically from
// the absolute project path").
func ProjectID(absProjectPath string) string {
	return hashPath(absProjectPath)
}
