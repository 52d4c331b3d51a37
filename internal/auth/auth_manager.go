package auth

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/tradesolutions39/stock-dashboard/internal/config"
	"golang.org/x/oauth2/google"
	"google.golang.org/api/drive/v3"
	"google.golang.org/api/option"
)

// AuthManager resolves Google credentials for the Drive store
type AuthManager struct {
	config *config.StoreConfig
	// findDefault is swapped in tests
	findDefault func(ctx context.Context, scopes ...string) (*google.Credentials, error)
}

// NewAuthManager creates a new authentication manager
func NewAuthManager(cfg *config.StoreConfig) *AuthManager {
	return &AuthManager{config: cfg, findDefault: google.FindDefaultCredentials}
}

// Scopes returns the Drive scope for the requested access.
func Scopes(readOnly bool) []string {
	if readOnly {
		return []string{drive.DriveReadonlyScope}
	}
	return []string{drive.DriveScope}
}

// Login resolves credentials in order: inline service account JSON, key file, then
// application default credentials.
func (am *AuthManager) Login(ctx context.Context, readOnly bool) (*google.Credentials, Source, error) {
	scopes := Scopes(readOnly)

	if inline := strings.TrimSpace(am.config.CredentialsJSON); inline != "" {
		data, err := parseServiceAccount([]byte(inline))
		if err != nil {
			return nil, "", fmt.Errorf("invalid inline service account: %w", err)
		}
		creds, err := google.CredentialsFromJSON(ctx, data, scopes...)
		if err != nil {
			return nil, "", fmt.Errorf("failed to load inline service account: %w", err)
		}
		return creds, SourceInline, nil
	}

	if path := am.config.CredentialsFile; path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return nil, "", fmt.Errorf("failed to read credentials file: %w", err)
		}
		data, err := parseServiceAccount(raw)
		if err != nil {
			return nil, "", fmt.Errorf("invalid credentials file %s: %w", path, err)
		}
		creds, err := google.CredentialsFromJSON(ctx, data, scopes...)
		if err != nil {
			return nil, "", fmt.Errorf("failed to load credentials file: %w", err)
		}
		return creds, SourceFile, nil
	}

	slog.Debug("no service account configured, trying application default credentials")
	creds, err := am.findDefault(ctx, scopes...)
	if err != nil {
		return nil, "", fmt.Errorf("no valid credentials available; set store.credentials_json or store.credentials_file: %w", err)
	}
	return creds, SourceDefault, nil
}

// ClientOptions returns Drive client options carrying the resolved credentials
func (am *AuthManager) ClientOptions(ctx context.Context, readOnly bool) ([]option.ClientOption, error) {
	creds, source, err := am.Login(ctx, readOnly)
	if err != nil {
		return nil, err
	}
	slog.Debug("resolved drive credentials", "source", source, "project", creds.ProjectID)
	return []option.ClientOption{option.WithCredentials(creds)}, nil
}

// parseServiceAccount checks a service account key and returns it as canonical JSON.
// Keys pasted as Python dict literals (single quotes) are accepted too.
func parseServiceAccount(raw []byte) ([]byte, error) {
	var sa ServiceAccount
	if err := json.Unmarshal(raw, &sa); err != nil {
		fixed := strings.ReplaceAll(string(raw), "'", `"`)
		if err2 := json.Unmarshal([]byte(fixed), &sa); err2 != nil {
			return nil, fmt.Errorf("not a JSON object: %w", err)
		}
	}
	if sa.Type != "service_account" {
		return nil, fmt.Errorf("unexpected credential type %q", sa.Type)
	}
	if sa.ClientEmail == "" || sa.PrivateKey == "" {
		return nil, fmt.Errorf("missing client_email or private_key")
	}
	if sa.TokenURI == "" {
		sa.TokenURI = google.JWTTokenURL
	}
	return json.Marshal(sa)
}
