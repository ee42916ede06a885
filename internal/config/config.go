package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
	"github.com/mfalves/dmsync/internal/attribute"
)

// Config represents the global ~/.dmsync/config.toml.
type Config struct {
	DefaultSession string `toml:"default_session"`
}

// Session represents a per-session session.toml: which participant this
// engine runs as and where the Conversation Store lives.
type Session struct {
	SelfID              string `toml:"self_id"`
	Role                string `toml:"role"` // initiator | counterpart
	StoreURL            string `toml:"store_url"`
	RequestTimeoutSecs  int    `toml:"request_timeout_secs"`
	PollIntervalSecs    int    `toml:"poll_interval_secs"`
	SummaryIntervalSecs int    `toml:"summary_interval_secs"`
}

// Load reads config from the given path. Returns zero config and error if file missing.
func Load(path string) (*Config, error) {
	var cfg Config
	_, err := toml.DecodeFile(path, &cfg)
	if err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Save writes config to the given path, creating parent dirs as needed.
func Save(path string, cfg *Config) error {
	return write(path, cfg)
}

// LoadSession reads and validates a session config, applying defaults for
// unset intervals.
func LoadSession(path string) (*Session, error) {
	var s Session
	if _, err := toml.DecodeFile(path, &s); err != nil {
		return nil, err
	}
	if s.RequestTimeoutSecs <= 0 {
		s.RequestTimeoutSecs = 10
	}
	if s.PollIntervalSecs <= 0 {
		s.PollIntervalSecs = 15
	}
	if s.SummaryIntervalSecs <= 0 {
		s.SummaryIntervalSecs = 45
	}
	if err := s.Validate(); err != nil {
		return nil, err
	}
	return &s, nil
}

// SaveSession writes a session config.
func SaveSession(path string, s *Session) error {
	return write(path, s)
}

// Validate checks the fields the engine cannot run without.
func (s *Session) Validate() error {
	if s.SelfID == "" {
		return fmt.Errorf("session config: self_id is required")
	}
	if s.StoreURL == "" {
		return fmt.Errorf("session config: store_url is required")
	}
	if _, err := attribute.ParseRole(s.Role); err != nil {
		return fmt.Errorf("session config: %w", err)
	}
	return nil
}

// ViewerRole returns the parsed role. Call Validate first.
func (s *Session) ViewerRole() attribute.Role {
	role, _ := attribute.ParseRole(s.Role)
	return role
}

func write(path string, v any) error {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
	if err != nil {
		return err
	}
	encErr := toml.NewEncoder(f).Encode(v)
	if closeErr := f.Close(); closeErr != nil && encErr == nil {
		return closeErr
	}
	return encErr
}
