package storage

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/codebuildervaibhav/media-transcriber/internal/types"
)

const testClientSecret = `{"installed":{"client_id":"id.apps.googleusercontent.com","client_secret":"secret","auth_uri":"https://accounts.google.com/o/oauth2/auth","token_uri":"https://oauth2.googleapis.com/token","redirect_uris":["http://localhost"]}}`

func TestNewDriveExporterRequiresCredentials(t *testing.T) {
	dir := t.TempDir()
	_, err := NewDriveExporter(context.Background(), filepath.Join(dir, "missing.json"), filepath.Join(dir, "token.json"), "")
	if !errors.Is(err, types.ErrConfig) {
		t.Fatalf("expected config error, got %v", err)
	}
}

func TestNewDriveExporterRequiresToken(t *testing.T) {
	dir := t.TempDir()
	creds := filepath.Join(dir, "credentials.json")
	if err := os.WriteFile(creds, []byte(testClientSecret), 0o600); err != nil {
		t.Fatal(err)
	}
	_, err := NewDriveExporter(context.Background(), creds, filepath.Join(dir, "token.json"), "")
	if !errors.Is(err, types.ErrConfig) {
		t.Fatalf("expected config error for missing token, got %v", err)
	}
}

func TestFolderQuery(t *testing.T) {
	if got := folderQuery("Transcripts", ""); got != "name='Transcripts' and mimeType='application/vnd.google-apps.folder' and trashed=false" {
		t.Fatalf("root query: %s", got)
	}
	got := folderQuery("O'Neil", "abc")
	want := `name='O\'Neil' and mimeType='application/vnd.google-apps.folder' and trashed=false and 'abc' in parents`
	if got != want {
		t.Fatalf("got %s", got)
	}
}
