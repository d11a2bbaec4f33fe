package archive

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

// DefaultURL is the public ECMWF Web API endpoint.
const DefaultURL = "https://api.ecmwf.int/v1"

// Environment variables that override the credentials file.
const (
	EnvURL   = "ECMWF_API_URL"
	EnvKey   = "ECMWF_API_KEY"
	EnvEmail = "ECMWF_API_EMAIL"
)

// ErrNoCredentials is returned when no API key can be found.
var ErrNoCredentials = errors.New("archive: no ECMWF API credentials")

// Credentials identify a user of the Web API.
type Credentials struct {
	URL   string `json:"url"`
	Key   string `json:"key"`
	Email string `json:"email"`
}

// RCFile returns the path of the per-user credentials file, ~/.ecmwfapirc.
func RCFile() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".ecmwfapirc"), nil
}

// LoadCredentials reads credentials from path, or from RCFile when path is
// empty, then applies environment overrides. A missing file is not an error
// as long as the environment supplies a key.
func LoadCredentials(path string) (Credentials, error) {
	if path == "" {
		p, err := RCFile()
		if err == nil {
			path = p
		}
	}

	var creds Credentials
	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case err == nil:
			if err := json.Unmarshal(data, &creds); err != nil {
				return Credentials{}, fmt.Errorf("archive: parse %s: %w", path, err)
			}
		case errors.Is(err, os.ErrNotExist):
		default:
			return Credentials{}, fmt.Errorf("archive: read %s: %w", path, err)
		}
	}

	if v := os.Getenv(EnvURL); v != "" {
		creds.URL = v
	}
	if v := os.Getenv(EnvKey); v != "" {
		creds.Key = v
	}
	if v := os.Getenv(EnvEmail); v != "" {
		creds.Email = v
	}
	if creds.URL == "" {
		creds.URL = DefaultURL
	}

	if creds.Key == "" {
		return Credentials{}, ErrNoCredentials
	}
	return creds, nil
}
