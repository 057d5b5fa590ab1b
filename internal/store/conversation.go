package store

import (
	"bufio"
	"encoding/json"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/forgepilot/forgepilot/internal/model"
)

// AppendConversation appends one ConversationEntry as a single line of JSON
// to the session's append-only conversation log, rotating the log first if
// it has grown past the configured size (spec.md S6's LOG_MAX_SIZE_MB).
func (s *Store) AppendConversation(projectID, featureID string, entry model.ConversationEntry) error {
	path := filepath.Join(s.sessionDir(projectID, featureID), "conversations.json")

	lock := s.lockFor(path)
	if err := lock.Lock(); err != nil {
		return &Error{Kind: ErrKindIO, Op: "lock", Path: path, Err: err}
	}
	defer lock.Unlock()

	if err := s.rotateIfNeeded(path); err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return &Error{Kind: ErrKindIO, Op: "mkdir", Path: path, Err: err}
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return &Error{Kind: ErrKindIO, Op: "open-append", Path: path, Err: err}
	}
	defer f.Close()

	line, err := json.Marshal(entry)
	if err != nil {
		return &Error{Kind: ErrKindCorrupt, Op: "marshal", Path: path, Err: err}
	}
	line = append(line, '\n')

	if _, err := f.Write(line); err != nil {
		return &Error{Kind: ErrKindIO, Op: "write-append", Path: path, Err: err}
	}
	return f.Sync()
}

// ReadConversations loads the entire conversation log for a session,
// including any rotated-out segments still within the retention window,
// oldest first.
func (s *Store) ReadConversations(projectID, featureID string) ([]model.ConversationEntry, error) {
	dir := s.sessionDir(projectID, featureID)

	segments, err := conversationSegments(dir)
	if err != nil {
		return nil, err
	}

	var out []model.ConversationEntry
	for _, segPath := range segments {
		entries, err := readConversationFile(segPath)
		if err != nil {
			continue // a corrupt rotated segment should not sink the whole read
		}
		out = append(out, entries...)
	}
	return out, nil
}

func readConversationFile(path string) ([]model.ConversationEntry, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, &Error{Kind: ErrKindIO, Op: "open", Path: path, Err: err}
	}
	defer f.Close()

	var out []model.ConversationEntry
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 8*1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var entry model.ConversationEntry
		if err := json.Unmarshal(line, &entry); err != nil {
			continue // skip a single malformed line rather than failing the read
		}
		out = append(out, entry)
	}
	if err := scanner.Err(); err != nil {
		return out, &Error{Kind: ErrKindIO, Op: "scan", Path: path, Err: err}
	}
	return out, nil
}

// conversationSegments lists the active log plus any rotated segments
// (conversations.json, conversations.1.json, conversations.2.json, ...)
// oldest first. Naming matches the "name.N.json" rotation scheme documented
// for the session log.
func conversationSegments(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, &Error{Kind: ErrKindIO, Op: "readdir", Path: dir, Err: err}
	}

	var rotated []string
	hasActive := false
	for _, e := range entries {
		name := e.Name()
		if name == "conversations.json" {
			hasActive = true
			continue
		}
		if strings.HasPrefix(name, "conversations.") && strings.HasSuffix(name, ".json") {
			rotated = append(rotated, name)
		}
	}

	sort.Slice(rotated, func(i, j int) bool { return rotatedIndex(rotated[i]) > rotatedIndex(rotated[j]) }) // highest suffix = oldest
	out := make([]string, 0, len(rotated)+1)
	for _, name := range rotated {
		out = append(out, filepath.Join(dir, name))
	}
	if hasActive {
		out = append(out, filepath.Join(dir, "conversations.json"))
	}
	return out, nil
}

// rotateIfNeeded renames path to path.1 (shifting existing numbered segments
// up by one) when it has grown past s.rotation.MaxSizeBytes, then prunes
// segments beyond MaxFiles or RetentionDays. Grounded on the size/count/age
// rotation policy documented for the session log.
func (s *Store) rotateIfNeeded(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return &Error{Kind: ErrKindIO, Op: "stat", Path: path, Err: err}
	}

	if s.rotation.MaxSizeBytes <= 0 || info.Size() < s.rotation.MaxSizeBytes {
		return nil
	}

	maxFiles := s.rotation.MaxFiles
	if maxFiles <= 0 {
		maxFiles = 10
	}

	// Shift path.(n-1) -> path.n for n down to 1, dropping anything that
	// would land past maxFiles.
	for n := maxFiles - 1; n >= 1; n-- {
		src := rotatedName(path, n)
		dst := rotatedName(path, n+1)
		if _, err := os.Stat(src); err != nil {
			continue
		}
		if n+1 > maxFiles {
			os.Remove(src)
			continue
		}
		os.Rename(src, dst)
	}

	if err := os.Rename(path, rotatedName(path, 1)); err != nil {
		return err
	}

	if s.rotation.RetentionDays > 0 {
		cutoff := time.Now().AddDate(0, 0, -s.rotation.RetentionDays)
		segments, _ := conversationSegments(filepath.Dir(path))
		for _, seg := range segments {
			if info, err := os.Stat(seg); err == nil && info.ModTime().Before(cutoff) {
				os.Remove(seg)
			}
		}
	}
	return nil
}

// rotatedName turns ".../conversations.json" into ".../conversations.N.json".
func rotatedName(path string, n int) string {
	ext := filepath.Ext(path)
	base := strings.TrimSuffix(path, ext)
	return base + "." + strconv.Itoa(n) + ext
}

// rotatedIndex extracts N from a "....N.json" rotated segment name, or -1
// if name doesn't match that shape (so it sorts last, never first, if it
// somehow ends up in the list).
func rotatedIndex(name string) int {
	ext := filepath.Ext(name)
	trimmed := strings.TrimSuffix(name, ext)
	idx := strings.LastIndexByte(trimmed, '.')
	if idx == -1 {
		return -1
	}
	n, err := strconv.Atoi(trimmed[idx+1:])
	if err != nil {
		return -1
	}
	return n
}

// PruneExpiredConversations removes rotated segments whose modtime is older
// than s.rotation.RetentionDays. Intended to run on a periodic janitor tick.
func (s *Store) PruneExpiredConversations(projectID, featureID string) error {
	if s.rotation.RetentionDays <= 0 {
		return nil
	}
	cutoff := time.Now().AddDate(0, 0, -s.rotation.RetentionDays)

	dir := s.sessionDir(projectID, featureID)
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return &Error{Kind: ErrKindIO, Op: "readdir", Path: dir, Err: err}
	}

	for _, e := range entries {
		name := e.Name()
		if name == "conversations.json" || !strings.HasPrefix(name, "conversations.") || !strings.HasSuffix(name, ".json") {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		if info.ModTime().Before(cutoff) {
			os.Remove(filepath.Join(dir, name))
		}
	}
	return nil
}
