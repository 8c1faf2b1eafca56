package ctlclient

import (
	"errors"
	"path/filepath"
	"testing"
)

func TestNewWithoutDaemon(t *testing.T) {
	_, err := New(filepath.Join(t.TempDir(), "daemon.sock"))
	if !errors.Is(err, ErrNotRunning) {
		t.Errorf("New() error = %v, want ErrNotRunning", err)
	}
}
