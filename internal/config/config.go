package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	"gopkg.in/yaml.v3"
)

// Scopes are requested for both profiles. Full calendar read/write is needed on
// the destination; the source uses the same client-secret layout and scope set.
var Scopes = []string{
	"https://www.googleapis.com/auth/calendar",
	"https://www.googleapis.com/auth/calendar.events",
}

// DateLayout is the accepted --start-date format.
const DateLayout = "2006-01-02"

// Profile names one of the two independently authenticated accounts.
type Profile string

const (
	ProfileSource      Profile = "src"
	ProfileDestination Profile = "dst"
)

// Profiles lists the valid profile names in CLI order.
var Profiles = []Profile{ProfileSource, ProfileDestination}

// ParseProfile validates a profile name.
func ParseProfile(s string) (Profile, error) {
	for _, p := range Profiles {
		if string(p) == s {
			return p, nil
		}
	}
	return "", fmt.Errorf("invalid target %q: must be one of src, dst", s)
}

// ParseStartDate parses a YYYY-MM-DD date as UTC midnight. An empty string
// yields the current UTC date.
func ParseStartDate(s string, now time.Time) (time.Time, error) {
	if s == "" {
		now = now.UTC()
		return time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC), nil
	}
	d, err := time.ParseInLocation(DateLayout, s, time.UTC)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid start date %q: expected YYYY-MM-DD", s)
	}
	return d, nil
}

// Config holds the configuration for the calendar mirror tool.
type Config struct {
	CredentialsDir string `yaml:"credentials_dir,omitempty" json:"credentials_dir,omitempty"` // holds credentials_<p>.json and token_<p>.json
	APIEndpoint    string `yaml:"api_endpoint,omitempty" json:"api_endpoint,omitempty"`       // Calendar API base URL override
	CallbackAddr   string `yaml:"callback_addr,omitempty" json:"callback_addr,omitempty"`     // loopback listener for the consent redirect
	OpenBrowser    *bool  `yaml:"open_browser,omitempty" json:"open_browser,omitempty"`
	Verbose        bool   `yaml:"verbose,omitempty" json:"verbose,omitempty"`
}

// Overrides carries command-line values. Empty strings and nil pointers leave
// the file or default value in place.
type Overrides struct {
	CredentialsDir string
	APIEndpoint    string
	CallbackAddr   string
	NoBrowser      bool
	Verbose        bool
}

// TokenPath returns the token cache file for a profile.
func (c *Config) TokenPath(p Profile) string {
	return filepath.Join(c.CredentialsDir, fmt.Sprintf("token_%s.json", p))
}

// CredentialsPath returns the OAuth client-secret file for a profile.
func (c *Config) CredentialsPath(p Profile) string {
	return filepath.Join(c.CredentialsDir, fmt.Sprintf("credentials_%s.json", p))
}

// BrowserEnabled reports whether the consent URL should be opened automatically.
func (c *Config) BrowserEnabled() bool {
	return c.OpenBrowser == nil || *c.OpenBrowser
}

// LoadConfigFromFile loads configuration from a YAML or JSON file.
func LoadConfigFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var config Config
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	return &config, nil
}

// Load loads configuration with the following precedence (highest to lowest):
// 1. Command-line flags
// 2. Config file
// 3. Defaults
func Load(configFile string, flags Overrides) (*Config, error) {
	var config Config

	if configFile != "" {
		fileConfig, err := LoadConfigFromFile(configFile)
		if err != nil {
			return nil, err
		}
		config = *fileConfig
	}

	if flags.CredentialsDir != "" {
		config.CredentialsDir = flags.CredentialsDir
	}
	if flags.APIEndpoint != "" {
		config.APIEndpoint = flags.APIEndpoint
	}
	if flags.CallbackAddr != "" {
		config.CallbackAddr = flags.CallbackAddr
	}
	if flags.NoBrowser {
		off := false
		config.OpenBrowser = &off
	}
	if flags.Verbose {
		config.Verbose = true
	}

	if config.CredentialsDir == "" {
		config.CredentialsDir = "."
	}
	if config.CallbackAddr == "" {
		config.CallbackAddr = "127.0.0.1:0"
	}

	return &config, nil
}

// LoadOAuthConfig reads a Google Cloud Console client-secret file ("installed"
// or "web" section) into an oauth2.Config carrying Scopes.
func LoadOAuthConfig(path string) (*oauth2.Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read credentials file: %w", err)
	}

	conf, err := google.ConfigFromJSON(data, Scopes...)
	if err != nil {
		return nil, fmt.Errorf("failed to parse credentials file %s: %w", path, err)
	}
	return conf, nil
}
