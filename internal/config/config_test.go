package config

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"
)

func newTestManager(t *testing.T) *Manager {
	t.Helper()
	m, err := NewManagerAt(t.TempDir())
	if err != nil {
		t.Fatalf("NewManagerAt failed: %v", err)
	}
	return m
}

func TestDefaultProfileCreatedOnFirstLoad(t *testing.T) {
	m := newTestManager(t)

	profile, err := m.LoadProfile("default")
	if err != nil {
		t.Fatalf("LoadProfile failed: %v", err)
	}

	if profile.LoginHost == "" || profile.WebHost == "" || profile.PushHost == "" {
		t.Errorf("default profile missing hosts: %+v", profile)
	}
	if profile.PersistSession {
		t.Error("session persistence must be off by default")
	}
	if profile.Sync.MaxRetries <= 0 {
		t.Errorf("default profile has no retry budget: %d", profile.Sync.MaxRetries)
	}

	if _, err := os.Stat(m.GetConfigPath()); err != nil {
		t.Errorf("configuration file not created: %v", err)
	}
}

func TestSaveAndReloadProfile(t *testing.T) {
	m := newTestManager(t)

	profile := DefaultProfile("work")
	profile.WebHost = "chat.example.com"
	profile.MediaDir = filepath.Join(t.TempDir(), "media")

	if err := m.SaveProfile(&profile); err != nil {
		t.Fatalf("SaveProfile failed: %v", err)
	}

	m.InvalidateCache()
	loaded, err := m.LoadProfile("work")
	if err != nil {
		t.Fatalf("LoadProfile failed: %v", err)
	}
	if loaded.WebHost != "chat.example.com" {
		t.Errorf("WebHost not persisted, got %s", loaded.WebHost)
	}
	if loaded.MediaDir != profile.MediaDir {
		t.Errorf("MediaDir not persisted, got %s", loaded.MediaDir)
	}
}

func TestPartialProfileGetsDefaults(t *testing.T) {
	m := newTestManager(t)

	data := []byte("profiles:\n  sparse:\n    webHost: chat.example.com\n")
	if err := os.WriteFile(m.GetConfigPath(), data, 0600); err != nil {
		t.Fatalf("failed to seed config file: %v", err)
	}
	m.InvalidateCache()

	profile, err := m.LoadProfile("sparse")
	if err != nil {
		t.Fatalf("LoadProfile failed: %v", err)
	}
	if profile.WebHost != "chat.example.com" {
		t.Errorf("explicit field overridden: %s", profile.WebHost)
	}
	if profile.LoginHost == "" || profile.Sync.BackoffFactor == 0 {
		t.Errorf("defaults not applied to sparse profile: %+v", profile)
	}
}

func TestValidateProfileRejectsURLHosts(t *testing.T) {
	m := newTestManager(t)

	profile := DefaultProfile("bad")
	profile.WebHost = "https://web.example.com"
	if err := m.ValidateProfile(&profile); err == nil {
		t.Error("expected validation error for URL-shaped host")
	}
}

func TestDeleteProfileProtectsDefault(t *testing.T) {
	m := newTestManager(t)

	if _, err := m.LoadProfile("default"); err != nil {
		t.Fatalf("LoadProfile failed: %v", err)
	}
	if err := m.DeleteProfile("default"); err == nil {
		t.Error("expected error when deleting default profile")
	}
	if err := m.DeleteProfile("nonexistent"); err == nil {
		t.Error("expected error when deleting unknown profile")
	}
}

func TestSessionSnapshotRoundTrip(t *testing.T) {
	m := newTestManager(t)

	snapshot := []byte(`{"sid":"abc","uin":"12345","cookies":["wxsid=abc"]}`)
	if err := m.SaveSessionSnapshot("default", snapshot); err != nil {
		t.Fatalf("SaveSessionSnapshot failed: %v", err)
	}

	stored, err := os.ReadFile(m.sessionSnapshotPath("default"))
	if err != nil {
		t.Fatalf("snapshot file not written: %v", err)
	}
	if bytes.Contains(stored, []byte("wxsid")) {
		t.Error("snapshot stored without encryption")
	}

	loaded, err := m.LoadSessionSnapshot("default")
	if err != nil {
		t.Fatalf("LoadSessionSnapshot failed: %v", err)
	}
	if !bytes.Equal(loaded, snapshot) {
		t.Errorf("snapshot round trip mismatch: got %s", loaded)
	}

	if err := m.ClearSessionSnapshot("default"); err != nil {
		t.Fatalf("ClearSessionSnapshot failed: %v", err)
	}
	if _, err := m.LoadSessionSnapshot("default"); err == nil {
		t.Error("expected error loading cleared snapshot")
	}
}

func TestSnapshotEncryptionKeyStableAcrossManagers(t *testing.T) {
	dir := t.TempDir()
	m1, err := NewManagerAt(dir)
	if err != nil {
		t.Fatalf("NewManagerAt failed: %v", err)
	}
	if err := m1.SaveSessionSnapshot("p", []byte("payload")); err != nil {
		t.Fatalf("SaveSessionSnapshot failed: %v", err)
	}

	m2, err := NewManagerAt(dir)
	if err != nil {
		t.Fatalf("NewManagerAt failed: %v", err)
	}
	loaded, err := m2.LoadSessionSnapshot("p")
	if err != nil {
		t.Fatalf("LoadSessionSnapshot with reloaded key failed: %v", err)
	}
	if string(loaded) != "payload" {
		t.Errorf("snapshot mismatch after key reload: %s", loaded)
	}
}
