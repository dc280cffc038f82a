package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	"google.golang.org/api/drive/v3"
	"google.golang.org/api/option"

	"github.com/codebuildervaibhav/media-transcriber/internal/types"
)

const folderMimeType = "application/vnd.google-apps.folder"

// DriveExporter uploads finished transcripts to Google Drive
type DriveExporter struct {
	service    *drive.Service
	folderName string
	now        func() time.Time

	mu       sync.Mutex
	folderID string
}

// NewDriveExporter creates a Drive exporter from an OAuth client secret and
// a previously authorized token. The service never prompts for consent, so a
// missing token file is a configuration error.
func NewDriveExporter(ctx context.Context, credentialsFile, tokenFile, folderName string) (*DriveExporter, error) {
	b, err := os.ReadFile(credentialsFile)
	if err != nil {
		return nil, types.Wrap(types.ErrConfig, "drive", "credentials", credentialsFile, err)
	}

	config, err := google.ConfigFromJSON(b, drive.DriveFileScope)
	if err != nil {
		return nil, types.Wrap(types.ErrConfig, "drive", "credentials", "unable to parse client secret", err)
	}

	tok, err := tokenFromFile(tokenFile)
	if err != nil {
		return nil, types.Wrap(types.ErrConfig, "drive", "token", tokenFile, err)
	}

	srv, err := drive.NewService(ctx, option.WithHTTPClient(config.Client(ctx, tok)))
	if err != nil {
		return nil, fmt.Errorf("unable to create Drive service: %w", err)
	}

	if folderName == "" {
		folderName = "Transcripts"
	}
	return &DriveExporter{
		service:    srv,
		folderName: folderName,
		now:        time.Now,
	}, nil
}

// Name identifies the exporter in logs.
func (de *DriveExporter) Name() string { return "drive" }

// tokenFromFile retrieves a token from a local file
func tokenFromFile(file string) (*oauth2.Token, error) {
	f, err := os.Open(file)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	tok := &oauth2.Token{}
	err = json.NewDecoder(f).Decode(tok)
	return tok, err
}

// Export uploads the transcript and its metadata into Transcripts/YYYY/MM/DD
// and returns a view link for the transcript.
func (de *DriveExporter) Export(ctx context.Context, job *types.Job) (string, error) {
	now := de.now()
	folderID, err := de.ensureDateFolder(ctx, now)
	if err != nil {
		return "", err
	}

	baseFilename := ExportBaseName(now, job.ID)
	txtFile := &drive.File{
		Name:     baseFilename + ".txt",
		Parents:  []string{folderID},
		MimeType: "text/plain",
	}
	created, err := de.service.Files.Create(txtFile).
		Media(strings.NewReader(TranscriptText(job))).
		Fields("id").
		Context(ctx).
		Do()
	if err != nil {
		return "", types.Wrap(types.ErrTransport, "drive", "upload transcript", baseFilename, err)
	}

	metaJSON, err := json.MarshalIndent(NewTranscriptMeta(job), "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to marshal metadata: %w", err)
	}
	metaFile := &drive.File{
		Name:     baseFilename + "_meta.json",
		Parents:  []string{folderID},
		MimeType: "application/json",
	}
	if _, err := de.service.Files.Create(metaFile).
		Media(strings.NewReader(string(metaJSON))).
		Context(ctx).
		Do(); err != nil {
		return "", types.Wrap(types.ErrTransport, "drive", "upload metadata", baseFilename, err)
	}

	return fmt.Sprintf("https://drive.google.com/file/d/%s/view", created.Id), nil
}

// ensureDateFolder creates nested root/year/month/day folders
func (de *DriveExporter) ensureDateFolder(ctx context.Context, t time.Time) (string, error) {
	rootID, err := de.rootFolder(ctx)
	if err != nil {
		return "", err
	}
	parent := rootID
	for _, name := range []string{
		fmt.Sprintf("%d", t.Year()),
		fmt.Sprintf("%02d", t.Month()),
		fmt.Sprintf("%02d", t.Day()),
	} {
		parent, err = de.findOrCreateFolder(ctx, name, parent)
		if err != nil {
			return "", err
		}
	}
	return parent, nil
}

func (de *DriveExporter) rootFolder(ctx context.Context) (string, error) {
	de.mu.Lock()
	defer de.mu.Unlock()
	if de.folderID != "" {
		return de.folderID, nil
	}
	id, err := de.findOrCreateFolder(ctx, de.folderName, "")
	if err != nil {
		return "", err
	}
	de.folderID = id
	return id, nil
}

// findOrCreateFolder finds or creates a folder; an empty parentID searches
// the whole drive.
func (de *DriveExporter) findOrCreateFolder(ctx context.Context, name, parentID string) (string, error) {
	r, err := de.service.Files.List().
		Q(folderQuery(name, parentID)).
		Spaces("drive").
		Fields("files(id)").
		Context(ctx).
		Do()
	if err != nil {
		return "", types.Wrap(types.ErrTransport, "drive", "list folder", name, err)
	}
	if len(r.Files) > 0 {
		return r.Files[0].Id, nil
	}

	folder := &drive.File{
		Name:     name,
		MimeType: folderMimeType,
	}
	if parentID != "" {
		folder.Parents = []string{parentID}
	}
	file, err := de.service.Files.Create(folder).Fields("id").Context(ctx).Do()
	if err != nil {
		return "", types.Wrap(types.ErrTransport, "drive", "create folder", name, err)
	}
	return file.Id, nil
}

func folderQuery(name, parentID string) string {
	q := fmt.Sprintf("name='%s' and mimeType='%s' and trashed=false",
		strings.ReplaceAll(name, "'", `\'`), folderMimeType)
	if parentID != "" {
		q += fmt.Sprintf(" and '%s' in parents", parentID)
	}
	return q
}
