// Package provider defines abstractions for hierarchical folder storage.
//
// Providers implement a minimal surface area: list child folders, create a
// folder, and re-parent a folder. Authentication is handled when a provider
// is constructed; the operations themselves never prompt.
package provider

import (
	"context"
)

// Provider abstracts folder listing and mutation.
//
// Implementations should:
//   - Return only non-trashed folders from ListFolders
//   - Support pagination via page tokens
//   - Report HTTP-style status codes through ProviderError.StatusCode
type Provider interface {
	// ListFolders returns a page of child folders of opts.ParentID.
	// Use NextPageToken from ListResult for subsequent pages.
	ListFolders(ctx context.Context, opts ListOptions) (*ListResult, error)

	// CreateFolder creates a folder and returns its id.
	CreateFolder(ctx context.Context, opts CreateOptions) (string, error)

	// MoveFolder adds opts.AddParentID to the folder's parents and removes
	// opts.RemoveParentID.
	MoveFolder(ctx context.Context, opts MoveOptions) error

	// Close releases any resources held by the provider.
	Close() error
}

// ListOptions configures a ListFolders operation.
type ListOptions struct {
	// ParentID is the folder whose children are listed (required).
	ParentID string

	// DriveID scopes the listing to a shared drive.
	// Empty string lists the caller's own space.
	DriveID string

	// Name restricts results to folders with exactly this name.
	// Empty string lists all child folders.
	Name string

	// PageToken resumes listing from a previous ListResult.
	// Empty string starts from the beginning.
	PageToken string

	// PageSize limits the number of folders returned per page.
	// Zero uses the provider default.
	PageSize int
}

// ListResult contains a page of folders from a ListFolders operation.
type ListResult struct {
	// Folders contains the folders for this page.
	Folders []Folder

	// NextPageToken is used to retrieve the next page.
	// Empty string indicates no more pages.
	NextPageToken string
}

// Folder is a folder as reported by the provider.
type Folder struct {
	// ID is the provider's opaque handle for the folder.
	ID string

	// Name is the folder's display name.
	Name string

	// Parents lists the ids of the folder's parents. Providers report at
	// most one in practice.
	Parents []string
}

// HasParent reports whether id is one of the folder's parents.
func (f Folder) HasParent(id string) bool {
	for _, p := range f.Parents {
		if p == id {
			return true
		}
	}
	return false
}

// CreateOptions configures a CreateFolder operation.
type CreateOptions struct {
	// Name is the new folder's name (required).
	Name string

	// ParentID is the folder to create the new folder in (required).
	ParentID string
}

// MoveOptions configures a MoveFolder operation.
type MoveOptions struct {
	// FileID is the folder being moved (required).
	FileID string

	// AddParentID is the new parent (required).
	AddParentID string

	// RemoveParentID is the parent being replaced (required).
	RemoveParentID string
}

// ProviderType identifies a storage provider.
type ProviderType string

const (
	// ProviderGDrive represents Google Drive (API v3).
	ProviderGDrive ProviderType = "gdrive"

	// ProviderLocal represents a local filesystem tree.
	ProviderLocal ProviderType = "local"
)

// String returns the string representation of the provider type.
func (p ProviderType) String() string {
	return string(p)
}

// ParseProviderType converts a backend name to a ProviderType.
func ParseProviderType(s string) (ProviderType, bool) {
	switch ProviderType(s) {
	case ProviderGDrive, ProviderLocal:
		return ProviderType(s), true
	}
	return "", false
}
