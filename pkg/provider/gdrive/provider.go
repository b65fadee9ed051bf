package gdrive

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"
	"google.golang.org/api/drive/v3"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"

	"github.com/3leaps/qbucket/pkg/provider"
)

// FolderMimeType is the MIME type Drive uses for folders.
const FolderMimeType = "application/vnd.google-apps.folder"

const listFields = "nextPageToken, files(id, name, parents)"

// Provider implements provider.Provider for Google Drive.
type Provider struct {
	svc      *drive.Service
	pageSize int
	logger   *zap.Logger
}

// Ensure Provider implements the interface.
var _ provider.Provider = (*Provider)(nil)

// New creates a new Drive provider with the given configuration.
//
// When neither HTTPClient nor TokenSource is set, New runs Authenticate,
// which may start an interactive browser login.
func New(ctx context.Context, cfg Config) (*Provider, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	var opts []option.ClientOption
	switch {
	case cfg.HTTPClient != nil:
		opts = append(opts, option.WithHTTPClient(cfg.HTTPClient))
	case cfg.TokenSource != nil:
		opts = append(opts, option.WithTokenSource(cfg.TokenSource))
	default:
		ts, err := Authenticate(ctx, AuthConfig{
			ClientSecretsPath: cfg.ClientSecretsPath,
			TokenPath:         cfg.TokenPath,
			Prompt:            cfg.Prompt,
			Logger:            logger,
		})
		if err != nil {
			return nil, &provider.ProviderError{Op: "New", Provider: provider.ProviderGDrive, Err: err}
		}
		opts = append(opts, option.WithTokenSource(ts))
	}
	if cfg.Endpoint != "" {
		opts = append(opts, option.WithEndpoint(cfg.Endpoint))
	}

	svc, err := drive.NewService(ctx, opts...)
	if err != nil {
		return nil, &provider.ProviderError{Op: "New", Provider: provider.ProviderGDrive, Err: err}
	}

	pageSize := cfg.PageSize
	if pageSize <= 0 {
		pageSize = DefaultPageSize
	}

	return &Provider{svc: svc, pageSize: pageSize, logger: logger}, nil
}

// ListFolders returns a page of non-trashed child folders.
func (p *Provider) ListFolders(ctx context.Context, opts provider.ListOptions) (*provider.ListResult, error) {
	if opts.ParentID == "" {
		return nil, &provider.ProviderError{Op: "ListFolders", Provider: provider.ProviderGDrive, Err: fmt.Errorf("%w: parent id is required", provider.ErrInvalidRequest)}
	}

	call := p.svc.Files.List().
		Q(folderQuery(opts.ParentID, opts.Name)).
		PageSize(int64(clampPageSize(opts.PageSize, p.pageSize))).
		Fields(googleapi.Field(listFields)).
		SupportsAllDrives(true)

	if opts.DriveID != "" {
		call = call.Corpora("drive").DriveId(opts.DriveID).IncludeItemsFromAllDrives(true)
	} else {
		call = call.Corpora("user")
	}
	if opts.PageToken != "" {
		call = call.PageToken(opts.PageToken)
	}

	res, err := call.Context(ctx).Do()
	if err != nil {
		return nil, p.wrapError("ListFolders", opts.ParentID, "", err)
	}

	folders := make([]provider.Folder, 0, len(res.Files))
	for _, f := range res.Files {
		folders = append(folders, provider.Folder{
			ID:      f.Id,
			Name:    f.Name,
			Parents: f.Parents,
		})
	}

	return &provider.ListResult{Folders: folders, NextPageToken: res.NextPageToken}, nil
}

// CreateFolder creates a folder under opts.ParentID.
func (p *Provider) CreateFolder(ctx context.Context, opts provider.CreateOptions) (string, error) {
	body := &drive.File{
		Name:     opts.Name,
		MimeType: FolderMimeType,
		Parents:  []string{opts.ParentID},
	}
	f, err := p.svc.Files.Create(body).
		SupportsAllDrives(true).
		Fields("id").
		Context(ctx).
		Do()
	if err != nil {
		return "", p.wrapError("CreateFolder", opts.ParentID, "", err)
	}
	return f.Id, nil
}

// MoveFolder re-parents a folder.
func (p *Provider) MoveFolder(ctx context.Context, opts provider.MoveOptions) error {
	_, err := p.svc.Files.Update(opts.FileID, &drive.File{}).
		AddParents(opts.AddParentID).
		RemoveParents(opts.RemoveParentID).
		SupportsAllDrives(true).
		Fields("id, parents").
		Context(ctx).
		Do()
	if err != nil {
		return p.wrapError("MoveFolder", "", opts.FileID, err)
	}
	return nil
}

// Close releases any resources held by the provider.
// The Drive service doesn't require explicit cleanup.
func (p *Provider) Close() error {
	return nil
}

// folderQuery builds the Drive search expression for child folders of
// parentID, optionally restricted to an exact name.
func folderQuery(parentID, name string) string {
	clauses := make([]string, 0, 4)
	if name != "" {
		clauses = append(clauses, fmt.Sprintf("name = '%s'", escapeQuery(name)))
	}
	clauses = append(clauses,
		fmt.Sprintf("mimeType = '%s'", FolderMimeType),
		fmt.Sprintf("'%s' in parents", escapeQuery(parentID)),
		"trashed = false",
	)
	return strings.Join(clauses, " and ")
}

// escapeQuery escapes a string literal for a Drive search expression.
func escapeQuery(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	return strings.ReplaceAll(s, `'`, `\'`)
}

// clampPageSize applies defaults and limits to page size values.
func clampPageSize(requested, providerDefault int) int {
	if requested <= 0 {
		requested = providerDefault
	}
	if requested > MaxPageSize {
		return MaxPageSize
	}
	return requested
}

// wrapError converts Drive API errors to provider errors with appropriate
// sentinel errors. The HTTP status is preserved for retry decisions.
func (p *Provider) wrapError(op, parentID, fileID string, err error) error {
	wrapped := &provider.ProviderError{
		Op:       op,
		Provider: provider.ProviderGDrive,
		ParentID: parentID,
		FileID:   fileID,
		Err:      err,
	}

	var gerr *googleapi.Error
	if !errors.As(err, &gerr) {
		return wrapped
	}

	wrapped.StatusCode = gerr.Code
	sentinel := provider.SentinelForStatus(gerr.Code)
	if gerr.Code == 403 && isRateLimited(gerr) {
		sentinel = provider.ErrThrottled
	}
	if sentinel != nil {
		msg := gerr.Message
		if msg == "" {
			msg = err.Error()
		}
		wrapped.Err = fmt.Errorf("%w: %s", sentinel, msg)
	}

	p.logger.Debug("Drive API error",
		zap.String("op", op),
		zap.Int("status", gerr.Code),
		zap.String("reason", firstReason(gerr)))

	return wrapped
}

func isRateLimited(gerr *googleapi.Error) bool {
	switch firstReason(gerr) {
	case "rateLimitExceeded", "userRateLimitExceeded":
		return true
	}
	return false
}

func firstReason(gerr *googleapi.Error) string {
	if len(gerr.Errors) == 0 {
		return ""
	}
	return gerr.Errors[0].Reason
}
