// Package paths lays out the files a presence profile keeps on disk.
//
// Every tab of a profile opens the same directory: the durable store
// holds the shared session id and each broadcast channel is a spool file
// next to it.
package paths

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

const (
	// DirName is the profile directory created under the user's home.
	DirName = ".supportdesk"

	// StoreFile holds the durable key/value entries.
	StoreFile = "presence.json"

	// DatabaseFile holds the same entries when the SQLite store is used.
	DatabaseFile = "presence.db"

	broadcastPrefix = "broadcast-"
	broadcastExt    = ".jsonl"
)

// DefaultProfileDir returns ~/.supportdesk, or a directory under the
// system temp dir when no home directory is known.
func DefaultProfileDir() string {
	home, err := os.UserHomeDir()
	if err != nil || home == "" {
		return filepath.Join(os.TempDir(), "supportdesk")
	}
	return filepath.Join(home, DirName)
}

// Profile returns paths inside one profile directory
type Profile struct {
	Dir string
}

// Store returns the durable store path
func (p Profile) Store() string {
	return filepath.Join(p.Dir, StoreFile)
}

// Database returns the SQLite store path
func (p Profile) Database() string {
	return filepath.Join(p.Dir, DatabaseFile)
}

// Broadcast returns the spool path for a channel
func (p Profile) Broadcast(name string) (string, error) {
	if err := ValidateChannelName(name); err != nil {
		return "", err
	}
	return filepath.Join(p.Dir, broadcastPrefix+name+broadcastExt), nil
}

// Ensure creates the profile directory, readable by the owner only.
func (p Profile) Ensure() error {
	if p.Dir == "" {
		return fmt.Errorf("profile directory cannot be empty")
	}
	if err := os.MkdirAll(p.Dir, 0o700); err != nil {
		return fmt.Errorf("create profile dir: %w", err)
	}
	return nil
}

// ValidateChannelName checks that name can be used as part of a file name
func ValidateChannelName(name string) error {
	if name == "" {
		return fmt.Errorf("channel name cannot be empty")
	}
	if strings.ContainsAny(name, `/\`) || name == "." || name == ".." {
		return fmt.Errorf("channel name %q contains path separators", name)
	}
	if filepath.Clean(name) != name {
		return fmt.Errorf("channel name %q contains invalid path components", name)
	}
	return nil
}
