package session

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel/codes"

	"github.com/daneel/olivaw/internal/tracing"
	"github.com/daneel/olivaw/pkg/chat"
)

// maxLineBytes bounds a single JSONL record on load.
const maxLineBytes = 4 * 1024 * 1024

// Entry is one persisted conversation record.
type Entry struct {
	Timestamp time.Time        `json:"timestamp"`
	Message   chat.RichMessage `json:"message"`
}

// Store persists sessions as JSONL files under one directory.
type Store struct {
	dir     string
	locks   map[string]*sync.Mutex
	locksMu sync.Mutex
}

// New creates a Store rooted at dir, creating it as needed. An empty
// dir means ~/.olivaw/sessions.
func New(dir string) (*Store, error) {
	if dir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("failed to get home directory: %w", err)
		}
		dir = filepath.Join(home, ".olivaw", "sessions")
	}
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, fmt.Errorf("failed to create sessions directory: %w", err)
	}
	return &Store{dir: dir, locks: make(map[string]*sync.Mutex)}, nil
}

// validateKey rejects keys that could escape the sessions directory.
func (s *Store) validateKey(key string) error {
	if key == "" {
		return fmt.Errorf("session key cannot be empty")
	}
	if strings.ContainsAny(key, "/\\") || strings.Contains(key, "..") {
		return fmt.Errorf("invalid session key: %s", key)
	}
	return nil
}

func (s *Store) path(key string) string {
	return filepath.Join(s.dir, key+".jsonl")
}

func (s *Store) lock(key string) *sync.Mutex {
	s.locksMu.Lock()
	defer s.locksMu.Unlock()
	mu, ok := s.locks[key]
	if !ok {
		mu = &sync.Mutex{}
		s.locks[key] = mu
	}
	return mu
}

// Append writes one message to the session, creating the file on
// first use.
func (s *Store) Append(ctx context.Context, key string, msg chat.RichMessage) error {
	ctx, span := tracing.StartSpan(ctx, "olivaw.session", "session.append")
	defer span.End()

	logger := tracing.LoggerFromContext(ctx, log.Logger)

	if err := s.validateKey(key); err != nil {
		return err
	}

	mu := s.lock(key)
	mu.Lock()
	defer mu.Unlock()

	file, err := os.OpenFile(s.path(key), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0600)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("failed to open session file: %w", err)
	}
	defer file.Close()

	data, err := json.Marshal(Entry{Timestamp: time.Now().UTC(), Message: msg})
	if err != nil {
		return fmt.Errorf("failed to marshal message: %w", err)
	}
	if _, err := file.Write(append(data, '\n')); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("failed to write message: %w", err)
	}
	if err := file.Sync(); err != nil {
		return fmt.Errorf("failed to sync session file: %w", err)
	}

	logger.Debug().Str("session", key).Str("role", msg.Role).Msg("Message appended")
	return nil
}

// Load reads all messages from a session. A missing session returns an
// empty slice. A torn trailing line is skipped with a warning.
func (s *Store) Load(ctx context.Context, key string) ([]chat.RichMessage, error) {
	_, span := tracing.StartSpan(ctx, "olivaw.session", "session.load")
	defer span.End()

	if err := s.validateKey(key); err != nil {
		return nil, err
	}

	file, err := os.Open(s.path(key))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		span.RecordError(err)
		return nil, fmt.Errorf("failed to open session file: %w", err)
	}
	defer file.Close()

	var messages []chat.RichMessage
	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineBytes)
	line := 0
	for scanner.Scan() {
		line++
		raw := strings.TrimSpace(scanner.Text())
		if raw == "" {
			continue
		}
		var entry Entry
		if err := json.Unmarshal([]byte(raw), &entry); err != nil {
			log.Warn().Str("session", key).Int("line", line).Err(err).Msg("Skipping corrupt session record")
			continue
		}
		messages = append(messages, entry.Message)
	}
	if err := scanner.Err(); err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("failed to read session file: %w", err)
	}
	return messages, nil
}

// Delete removes a session file. Deleting a missing session is not an
// error.
func (s *Store) Delete(ctx context.Context, key string) error {
	if err := s.validateKey(key); err != nil {
		return err
	}

	mu := s.lock(key)
	mu.Lock()
	defer mu.Unlock()

	if err := os.Remove(s.path(key)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to delete session: %w", err)
	}
	return nil
}

// List returns the known session keys, sorted.
func (s *Store) List() ([]string, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read sessions directory: %w", err)
	}
	var keys []string
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasSuffix(name, ".jsonl") {
			continue
		}
		keys = append(keys, strings.TrimSuffix(name, ".jsonl"))
	}
	sort.Strings(keys)
	return keys, nil
}

// Cleanup deletes sessions whose files have not been modified within
// ttl. It returns the deleted keys.
func (s *Store) Cleanup(ctx context.Context, ttl time.Duration) ([]string, error) {
	keys, err := s.List()
	if err != nil {
		return nil, err
	}

	cutoff := time.Now().Add(-ttl)
	var deleted []string
	for _, key := range keys {
		info, err := os.Stat(s.path(key))
		if err != nil {
			continue
		}
		if info.ModTime().Before(cutoff) {
			if err := s.Delete(ctx, key); err != nil {
				log.Warn().Str("session", key).Err(err).Msg("Session cleanup failed")
				continue
			}
			deleted = append(deleted, key)
		}
	}
	if len(deleted) > 0 {
		log.Info().Int("count", len(deleted)).Msg("Stale sessions cleaned up")
	}
	return deleted, nil
}
