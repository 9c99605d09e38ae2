package replay

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// DefaultStatePath is where replay progress is kept between runs.
const DefaultStatePath = "~/.gerencia/replay-state.json"

// maxStateErrors bounds the error log kept in the state file.
const maxStateErrors = 200

// ReplayedFile is what the state remembers about one export. A file whose
// size or modification time changed since is replayed again.
type ReplayedFile struct {
	Size       int64     `json:"size"`
	ModTime    time.Time `json:"mod_time"`
	Rows       int       `json:"rows"`
	ReplayedAt time.Time `json:"replayed_at"`
}

// State is the resumable progress of replay runs, keyed by tenant and then
// by absolute export path.
type State struct {
	StartedAt       time.Time                          `json:"started_at"`
	LastProcessedAt time.Time                          `json:"last_processed_at"`
	Tenants         map[string]map[string]ReplayedFile `json:"tenants"`
	FilesRemaining  int                                `json:"files_remaining"`
	RowsReplayed    int                                `json:"rows_replayed"`
	LeadsClassified int                                `json:"leads_classified"`
	StatusChanges   int                                `json:"status_changes"`
	Errors          []string                           `json:"errors"`

	path string
}

// LoadState reads the state at path. A missing file starts a fresh state;
// an empty path uses DefaultStatePath.
func LoadState(path string) (*State, error) {
	if path == "" {
		path = DefaultStatePath
	}
	s := &State{path: expandHome(path)}

	data, err := os.ReadFile(s.path)
	switch {
	case os.IsNotExist(err):
		s.StartedAt = time.Now().UTC()
	case err != nil:
		return nil, fmt.Errorf("read state: %w", err)
	default:
		if err := json.Unmarshal(data, s); err != nil {
			return nil, fmt.Errorf("parse state %s: %w", s.path, err)
		}
	}
	if s.Tenants == nil {
		s.Tenants = make(map[string]map[string]ReplayedFile)
	}
	return s, nil
}

// Path is the expanded location the state is saved to.
func (s *State) Path() string {
	return s.path
}

// IsProcessed reports whether export was already replayed for tenant and
// has not changed on disk since.
func (s *State) IsProcessed(tenant, export string) bool {
	key, info, err := statExport(export)
	if err != nil {
		return false
	}
	rf, ok := s.Tenants[tenant][key]
	return ok && rf.Size == info.Size() && rf.ModTime.Equal(info.ModTime())
}

// MarkProcessed records export as replayed for tenant. Exports that can no
// longer be read are not recorded, so the next run retries them.
func (s *State) MarkProcessed(tenant, export string, rows int) {
	key, info, err := statExport(export)
	if err != nil {
		s.AddError(fmt.Sprintf("stat %s: %v", export, err))
		return
	}
	files := s.Tenants[tenant]
	if files == nil {
		files = make(map[string]ReplayedFile)
		s.Tenants[tenant] = files
	}
	files[key] = ReplayedFile{
		Size:       info.Size(),
		ModTime:    info.ModTime(),
		Rows:       rows,
		ReplayedAt: time.Now().UTC(),
	}
}

// AddError appends msg, dropping the oldest entries past maxStateErrors.
func (s *State) AddError(msg string) {
	s.Errors = append(s.Errors, msg)
	if over := len(s.Errors) - maxStateErrors; over > 0 {
		s.Errors = append([]string(nil), s.Errors[over:]...)
	}
}

// Save writes the state through a temp file and rename, so an interrupted
// run never leaves a truncated state behind.
func (s *State) Save() error {
	s.LastProcessedAt = time.Now().UTC()

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create state dir: %w", err)
	}
	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal state: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".replay-state-*")
	if err != nil {
		return fmt.Errorf("create temp state: %w", err)
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("write state: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close state: %w", err)
	}
	return os.Rename(tmp.Name(), s.path)
}

func statExport(export string) (string, os.FileInfo, error) {
	abs, err := filepath.Abs(export)
	if err != nil {
		return "", nil, err
	}
	info, err := os.Stat(abs)
	if err != nil {
		return "", nil, err
	}
	return abs, info, nil
}

func expandHome(path string) string {
	rest, ok := cutHome(path)
	if !ok {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(home, rest)
}

func cutHome(path string) (string, bool) {
	if len(path) < 2 || path[0] != '~' || path[1] != '/' {
		return "", false
	}
	return path[2:], true
}
