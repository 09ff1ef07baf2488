package profiles

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefault(t *testing.T) {
	cfg := Default()

	assert.Equal(t, "default", cfg.CurrentProfile)
	assert.NotNil(t, cfg.Profiles)
	assert.Empty(t, cfg.Profiles)
}

func TestLoad_NoConfigFile(t *testing.T) {
	cfg, err := Load("/nonexistent/path/config.yaml")
	require.NoError(t, err)

	assert.Equal(t, "default", cfg.CurrentProfile)
	assert.Empty(t, cfg.Profiles)
}

func TestLoad_WithConfigFile(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")

	configContent := `current_profile: production
profiles:
  production:
    server_url: https://design.loomline.example.com
    webhook_secret: org-secret-123
`
	err := os.WriteFile(configPath, []byte(configContent), 0600)
	require.NoError(t, err)

	cfg, err := Load(configPath)
	require.NoError(t, err)

	assert.Equal(t, "production", cfg.CurrentProfile)
	require.Contains(t, cfg.Profiles, "production")
	assert.Equal(t, "https://design.loomline.example.com", cfg.Profiles["production"].ServerURL)
	assert.Equal(t, "org-secret-123", cfg.Profiles["production"].WebhookSecret)
}

func TestLoad_InvalidYAML(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")

	err := os.WriteFile(configPath, []byte("current_profile:\n  - not\n  - a\n  - string"), 0600)
	require.NoError(t, err)

	_, err = Load(configPath)
	assert.Error(t, err)
}

func TestSave(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, ".loomctl", "config.yaml")

	cfg := Default()
	cfg.path = configPath
	cfg.CurrentProfile = "staging"

	err := cfg.Save()
	require.NoError(t, err)

	assert.FileExists(t, configPath)

	// The config directory and file stay private to the operator
	dirInfo, err := os.Stat(filepath.Dir(configPath))
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0700), dirInfo.Mode().Perm())

	fileInfo, err := os.Stat(configPath)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0600), fileInfo.Mode().Perm())

	loaded, err := Load(configPath)
	require.NoError(t, err)
	assert.Equal(t, "staging", loaded.CurrentProfile)
}

func TestSave_CreatesDirectory(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "nested", "dir", "config.yaml")

	cfg := Default()
	cfg.path = configPath

	err := cfg.Save()
	require.NoError(t, err)

	assert.DirExists(t, filepath.Dir(configPath))
	assert.FileExists(t, configPath)
}

func TestSaveProfile(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")

	cfg := Default()
	cfg.path = configPath

	err := cfg.SaveProfile("staging", "http://localhost:8090", "org-secret")
	require.NoError(t, err)

	require.Contains(t, cfg.Profiles, "staging")
	assert.Equal(t, "http://localhost:8090", cfg.Profiles["staging"].ServerURL)
	assert.Equal(t, "org-secret", cfg.Profiles["staging"].WebhookSecret)

	// Saving a profile also makes it the active one
	assert.Equal(t, "staging", cfg.CurrentProfile)

	loaded, err := Load(configPath)
	require.NoError(t, err)
	assert.Contains(t, loaded.Profiles, "staging")
	assert.Equal(t, "staging", loaded.CurrentProfile)
}

func TestSaveProfile_MultipleProfiles(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")

	cfg := Default()
	cfg.path = configPath

	require.NoError(t, cfg.SaveProfile("dev", "http://localhost:8090", ""))
	require.NoError(t, cfg.SaveProfile("prod", "https://design.loomline.example.com", "prod-secret"))

	assert.Contains(t, cfg.Profiles, "dev")
	assert.Contains(t, cfg.Profiles, "prod")
	assert.Equal(t, "prod", cfg.CurrentProfile)
}

func TestSaveProfile_InitializesProfilesMap(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")

	cfg := &Config{
		CurrentProfile: "default",
		Profiles:       nil,
		path:           configPath,
	}

	err := cfg.SaveProfile("new", "http://localhost:8090", "")
	require.NoError(t, err)

	assert.NotNil(t, cfg.Profiles)
	assert.Contains(t, cfg.Profiles, "new")
}

func TestGetProfile(t *testing.T) {
	cfg := Default()
	cfg.Profiles["test"] = &Profile{
		ServerURL:     "https://test.loomline.example.com",
		WebhookSecret: "test-secret",
	}
	cfg.CurrentProfile = "test"

	tests := []struct {
		name        string
		profileName string
		wantErr     bool
		wantURL     string
	}{
		{
			name:        "get existing profile by name",
			profileName: "test",
			wantErr:     false,
			wantURL:     "https://test.loomline.example.com",
		},
		{
			name:        "get current profile with empty name",
			profileName: "",
			wantErr:     false,
			wantURL:     "https://test.loomline.example.com",
		},
		{
			name:        "get non-existent profile",
			profileName: "nonexistent",
			wantErr:     true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			profile, err := cfg.GetProfile(tt.profileName)
			if tt.wantErr {
				assert.Error(t, err)
				assert.Nil(t, profile)
			} else {
				require.NoError(t, err)
				assert.Equal(t, tt.wantURL, profile.ServerURL)
			}
		})
	}
}

func TestUse(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")

	cfg := Default()
	cfg.path = configPath
	cfg.Profiles["dev"] = &Profile{ServerURL: "http://localhost:8090"}
	cfg.Profiles["prod"] = &Profile{ServerURL: "https://prod:8090"}
	cfg.CurrentProfile = "dev"

	err := cfg.Use("prod")
	require.NoError(t, err)
	assert.Equal(t, "prod", cfg.CurrentProfile)

	loaded, err := Load(configPath)
	require.NoError(t, err)
	assert.Equal(t, "prod", loaded.CurrentProfile)

	err = cfg.Use("nonexistent")
	assert.Error(t, err)
	assert.Equal(t, "prod", cfg.CurrentProfile)
}

func TestRemoveProfile(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")

	cfg := Default()
	cfg.path = configPath
	cfg.Profiles["dev"] = &Profile{ServerURL: "http://dev:8090"}
	cfg.Profiles["prod"] = &Profile{ServerURL: "http://prod:8090"}
	cfg.CurrentProfile = "dev"

	// Removing a non-current profile leaves the current one alone
	err := cfg.RemoveProfile("prod")
	require.NoError(t, err)
	assert.NotContains(t, cfg.Profiles, "prod")
	assert.Equal(t, "dev", cfg.CurrentProfile)

	// Removing the current profile clears the selection
	err = cfg.RemoveProfile("dev")
	require.NoError(t, err)
	assert.NotContains(t, cfg.Profiles, "dev")
	assert.Equal(t, "", cfg.CurrentProfile)

	err = cfg.RemoveProfile("nonexistent")
	assert.Error(t, err)
}
