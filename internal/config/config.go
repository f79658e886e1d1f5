// Package config handles profile storage for the chat client: connection
// hosts, media directory, sync retry tuning, and the optional encrypted
// session snapshot used for hot relogin.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/webchat-console/webchat/internal/interfaces"
	"github.com/webchat-console/webchat/internal/logging"
	"github.com/webchat-console/webchat/internal/protocol"
)

// Config is the on-disk configuration file structure
type Config struct {
	Profiles map[string]interfaces.Profile `yaml:"profiles"`
}

// Manager implements the ConfigManager interface
type Manager struct {
	configPath   string
	securityMgr  SecurityManager
	cachedConfig *Config
	logger       *logging.Logger
}

// NewManager creates a configuration manager rooted at the OS-appropriate
// config directory
func NewManager() (*Manager, error) {
	configDir, err := defaultConfigDir()
	if err != nil {
		return nil, fmt.Errorf("failed to determine configuration path: %w", err)
	}
	return NewManagerAt(configDir)
}

// NewManagerAt creates a configuration manager rooted at an explicit
// directory. Tests use this to avoid touching the real config tree.
func NewManagerAt(configDir string) (*Manager, error) {
	if err := os.MkdirAll(configDir, 0700); err != nil {
		return nil, fmt.Errorf("failed to create config directory %s: %w", configDir, err)
	}

	securityMgr, err := NewSecurityManagerAt(filepath.Join(configDir, "security"))
	if err != nil {
		return nil, fmt.Errorf("failed to initialize security manager: %w", err)
	}

	return &Manager{
		configPath:  filepath.Join(configDir, "profiles.yaml"),
		securityMgr: securityMgr,
		logger:      logging.GetConfigLogger(),
	}, nil
}

func defaultConfigDir() (string, error) {
	if xdgConfigHome := os.Getenv("XDG_CONFIG_HOME"); xdgConfigHome != "" {
		return filepath.Join(xdgConfigHome, "webchat"), nil
	}
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to determine home directory: %w", err)
	}
	return filepath.Join(homeDir, ".config", "webchat"), nil
}

// loadConfig reads and parses the configuration file, creating defaults on
// first run
func (m *Manager) loadConfig() (*Config, error) {
	if m.cachedConfig != nil {
		return m.cachedConfig, nil
	}

	if _, err := os.Stat(m.configPath); os.IsNotExist(err) {
		config := m.createDefaultConfig()
		if err := m.saveConfig(config); err != nil {
			return nil, fmt.Errorf("failed to create default configuration: %w", err)
		}
		m.logger.Info("Created default configuration", "path", m.configPath)
		m.cachedConfig = config
		return config, nil
	}

	data, err := os.ReadFile(m.configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read configuration file: %w", err)
	}

	var config Config
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse configuration file: %w", err)
	}

	m.cachedConfig = &config
	return &config, nil
}

// saveConfig writes the configuration to disk with owner-only permissions
func (m *Manager) saveConfig(config *Config) error {
	data, err := yaml.Marshal(config)
	if err != nil {
		return fmt.Errorf("failed to marshal configuration: %w", err)
	}

	if err := os.WriteFile(m.configPath, data, 0600); err != nil {
		return fmt.Errorf("failed to write configuration file: %w", err)
	}

	return nil
}

// createDefaultConfig generates the default profile pointing at the public
// service hosts
func (m *Manager) createDefaultConfig() *Config {
	return &Config{
		Profiles: map[string]interfaces.Profile{
			"default": DefaultProfile("default"),
		},
	}
}

// DefaultProfile builds a profile with all fields set to their defaults
func DefaultProfile(name string) interfaces.Profile {
	return interfaces.Profile{
		Name:           name,
		LoginHost:      protocol.DefaultLoginHost,
		WebHost:        protocol.DefaultWebHost,
		PushHost:       protocol.DefaultPushHost,
		EmojiHost:      protocol.DefaultEmojiHost,
		MediaDir:       "",
		PersistSession: false,
		Sync: interfaces.SyncSettings{
			MaxRetries:    5,
			InitialDelay:  "1s",
			MaxDelay:      "30s",
			BackoffFactor: 2.0,
		},
	}
}

// LoadProfile retrieves a profile by name, filling unset fields from the
// defaults so partial profiles stay valid
func (m *Manager) LoadProfile(name string) (*interfaces.Profile, error) {
	config, err := m.loadConfig()
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	profile, exists := config.Profiles[name]
	if !exists {
		return nil, fmt.Errorf("profile '%s' not found", name)
	}

	profile.Name = name
	applyProfileDefaults(&profile)

	if err := m.ValidateProfile(&profile); err != nil {
		return nil, fmt.Errorf("profile '%s' is invalid: %w", name, err)
	}

	return &profile, nil
}

// SaveProfile persists a profile to the configuration file
func (m *Manager) SaveProfile(profile *interfaces.Profile) error {
	if err := m.ValidateProfile(profile); err != nil {
		return fmt.Errorf("cannot save invalid profile: %w", err)
	}

	config, err := m.loadConfig()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	if config.Profiles == nil {
		config.Profiles = make(map[string]interfaces.Profile)
	}
	config.Profiles[profile.Name] = *profile

	if err := m.saveConfig(config); err != nil {
		return fmt.Errorf("failed to save configuration: %w", err)
	}

	m.cachedConfig = config
	return nil
}

// ListProfiles returns all available profile names
func (m *Manager) ListProfiles() ([]string, error) {
	config, err := m.loadConfig()
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	var profileNames []string
	for name := range config.Profiles {
		profileNames = append(profileNames, name)
	}
	return profileNames, nil
}

// ValidateProfile ensures a profile has usable hosts and retry tuning
func (m *Manager) ValidateProfile(profile *interfaces.Profile) error {
	if profile == nil {
		return fmt.Errorf("profile cannot be nil")
	}
	if strings.TrimSpace(profile.Name) == "" {
		return fmt.Errorf("profile name cannot be empty")
	}
	for _, host := range []struct {
		field string
		value string
	}{
		{"loginHost", profile.LoginHost},
		{"webHost", profile.WebHost},
		{"pushHost", profile.PushHost},
		{"emojiHost", profile.EmojiHost},
	} {
		if strings.TrimSpace(host.value) == "" {
			return fmt.Errorf("%s cannot be empty", host.field)
		}
		if strings.Contains(host.value, "://") {
			return fmt.Errorf("%s must be a bare host, not a URL", host.field)
		}
	}
	if profile.Sync.MaxRetries < 0 {
		return fmt.Errorf("sync.maxRetries cannot be negative")
	}
	if profile.Sync.BackoffFactor < 1.0 {
		return fmt.Errorf("sync.backoffFactor must be at least 1.0")
	}
	if _, err := time.ParseDuration(profile.Sync.InitialDelay); err != nil {
		return fmt.Errorf("sync.initialDelay is not a valid duration: %w", err)
	}
	if _, err := time.ParseDuration(profile.Sync.MaxDelay); err != nil {
		return fmt.Errorf("sync.maxDelay is not a valid duration: %w", err)
	}
	return nil
}

// applyProfileDefaults fills zero-valued fields from the default profile
func applyProfileDefaults(profile *interfaces.Profile) {
	defaults := DefaultProfile(profile.Name)
	if profile.LoginHost == "" {
		profile.LoginHost = defaults.LoginHost
	}
	if profile.WebHost == "" {
		profile.WebHost = defaults.WebHost
	}
	if profile.PushHost == "" {
		profile.PushHost = defaults.PushHost
	}
	if profile.EmojiHost == "" {
		profile.EmojiHost = defaults.EmojiHost
	}
	if profile.Sync.MaxRetries == 0 {
		profile.Sync.MaxRetries = defaults.Sync.MaxRetries
	}
	if profile.Sync.InitialDelay == "" {
		profile.Sync.InitialDelay = defaults.Sync.InitialDelay
	}
	if profile.Sync.MaxDelay == "" {
		profile.Sync.MaxDelay = defaults.Sync.MaxDelay
	}
	if profile.Sync.BackoffFactor == 0 {
		profile.Sync.BackoffFactor = defaults.Sync.BackoffFactor
	}
}

// GetConfigPath returns the path to the configuration file
func (m *Manager) GetConfigPath() string {
	return m.configPath
}

// InvalidateCache clears the cached configuration, forcing a reload on next
// access
func (m *Manager) InvalidateCache() {
	m.cachedConfig = nil
}

// DeleteProfile removes a profile from the configuration
func (m *Manager) DeleteProfile(name string) error {
	config, err := m.loadConfig()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	if _, exists := config.Profiles[name]; !exists {
		return fmt.Errorf("profile '%s' does not exist", name)
	}
	if name == "default" {
		return fmt.Errorf("cannot delete the default profile")
	}

	delete(config.Profiles, name)

	if err := m.saveConfig(config); err != nil {
		return fmt.Errorf("failed to save configuration: %w", err)
	}

	m.cachedConfig = config
	return nil
}

// sessionSnapshotPath is where the encrypted snapshot for a profile lives
func (m *Manager) sessionSnapshotPath(profileName string) string {
	return filepath.Join(filepath.Dir(m.configPath), fmt.Sprintf("session-%s.enc", profileName))
}

// SaveSessionSnapshot encrypts and stores a session snapshot for hot
// relogin. Callers gate this on the profile's persistSession flag; the
// default is to keep credentials in memory only.
func (m *Manager) SaveSessionSnapshot(profileName string, snapshot []byte) error {
	encrypted, err := m.securityMgr.EncryptSnapshot(snapshot)
	if err != nil {
		return fmt.Errorf("failed to encrypt session snapshot: %w", err)
	}
	path := m.sessionSnapshotPath(profileName)
	if err := os.WriteFile(path, []byte(encrypted), 0600); err != nil {
		return fmt.Errorf("failed to write session snapshot: %w", err)
	}
	m.logger.Debug("Session snapshot stored", "profile", profileName)
	return nil
}

// LoadSessionSnapshot reads and decrypts a stored session snapshot.
// Returns os.ErrNotExist (wrapped) when no snapshot is stored.
func (m *Manager) LoadSessionSnapshot(profileName string) ([]byte, error) {
	data, err := os.ReadFile(m.sessionSnapshotPath(profileName))
	if err != nil {
		return nil, fmt.Errorf("failed to read session snapshot: %w", err)
	}
	snapshot, err := m.securityMgr.DecryptSnapshot(string(data))
	if err != nil {
		return nil, fmt.Errorf("failed to decrypt session snapshot: %w", err)
	}
	return snapshot, nil
}

// ClearSessionSnapshot removes a stored session snapshot
func (m *Manager) ClearSessionSnapshot(profileName string) error {
	err := os.Remove(m.sessionSnapshotPath(profileName))
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove session snapshot: %w", err)
	}
	return nil
}
