package client

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// State is the client's persisted selection: which server, cli profile,
// session and working directory subsequent commands act on.
type State struct {
	ServerURL string `yaml:"server_url,omitempty"`
	CLIID     string `yaml:"cli_id,omitempty"`
	SessionID string `yaml:"session_id,omitempty"`
	Path      string `yaml:"path,omitempty"`
}

// NewConversation clears the current session so the next send creates one.
func (s *State) NewConversation() {
	s.SessionID = ""
}

// StateStore persists State between invocations.
type StateStore interface {
	Load() (*State, error)
	Save(*State) error
}

// StateFileName is the file FileStateStore writes inside its directory.
const StateFileName = "state.yaml"

// FileStateStore keeps State in a YAML file.
type FileStateStore struct {
	path string
}

// NewFileStateStore stores state in <dir>/state.yaml.
func NewFileStateStore(dir string) *FileStateStore {
	return &FileStateStore{path: filepath.Join(dir, StateFileName)}
}

// Path returns the state file location.
func (f *FileStateStore) Path() string { return f.path }

// Load reads the state file. A missing file yields an empty State.
func (f *FileStateStore) Load() (*State, error) {
	data, err := os.ReadFile(f.path)
	if errors.Is(err, fs.ErrNotExist) {
		return &State{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read state: %w", err)
	}
	st := &State{}
	if err := yaml.Unmarshal(data, st); err != nil {
		return nil, fmt.Errorf("parse state %s: %w", f.path, err)
	}
	return st, nil
}

// Save writes the state file atomically.
func (f *FileStateStore) Save(st *State) error {
	if err := os.MkdirAll(filepath.Dir(f.path), 0755); err != nil {
		return fmt.Errorf("create state dir: %w", err)
	}
	data, err := yaml.Marshal(st)
	if err != nil {
		return fmt.Errorf("marshal state: %w", err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(f.path), "state-*.yaml")
	if err != nil {
		return fmt.Errorf("write state: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("write state: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("write state: %w", err)
	}
	if err := os.Rename(tmp.Name(), f.path); err != nil {
		return fmt.Errorf("write state: %w", err)
	}
	return nil
}
