// Package phonebook maps E.164 phone numbers to caller name/role, loaded
// from a JSON file at startup and reloadable on SIGHUP.
package phonebook

import (
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/lexiqai/callback-agent/internal/session"
	"github.com/rs/zerolog"
)

// Entry is one phonebook record.
type Entry struct {
	Name string      `json:"name"`
	Role session.Role `json:"role"`
}

// Phonebook is a read-mostly, reloadable map from E.164 string to Entry.
type Phonebook struct {
	mu      sync.RWMutex
	entries map[string]Entry
	path    string
	logger  zerolog.Logger
}

// Load reads the phonebook JSON file at path.
func Load(path string, logger zerolog.Logger) (*Phonebook, error) {
	pb := &Phonebook{path: path, logger: logger}
	if err := pb.reload(); err != nil {
		return nil, err
	}
	return pb, nil
}

// WatchReload installs a SIGHUP handler that reloads the phonebook file
// in place. The returned stop function removes the handler.
func (pb *Phonebook) WatchReload() (stop func()) {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGHUP)
	done := make(chan struct{})

	go func() {
		for {
			select {
			case <-sigCh:
				if err := pb.reload(); err != nil {
					pb.logger.Error().Err(err).Msg("phonebook reload failed")
				} else {
					pb.logger.Info().Str("path", pb.path).Msg("phonebook reloaded")
				}
			case <-done:
				return
			}
		}
	}()

	return func() {
		signal.Stop(sigCh)
		close(done)
	}
}

func (pb *Phonebook) reload() error {
	data, err := os.ReadFile(pb.path)
	if err != nil {
		return fmt.Errorf("phonebook: read %q: %w", pb.path, err)
	}

	var entries map[string]Entry
	if err := json.Unmarshal(data, &entries); err != nil {
		return fmt.Errorf("phonebook: parse %q: %w", pb.path, err)
	}

	pb.mu.Lock()
	pb.entries = entries
	pb.mu.Unlock()
	return nil
}

// Lookup returns the Entry for an E.164 number, or the zero Entry with
// Role=unknown if the number isn't registered — a Session with
// role=unknown never triggers calendar preload.
func (pb *Phonebook) Lookup(e164 string) Entry {
	pb.mu.RLock()
	defer pb.mu.RUnlock()

	if e, ok := pb.entries[e164]; ok {
		return e
	}
	return Entry{Role: session.RoleUnknown}
}
