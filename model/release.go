// Package model - Release defines the release and asset descriptors read from a repository for one sync pass.
package model

import (
	"time"
)

// Release identifies a repository release. TagName is the unique key.
type Release struct {
	ID         int64     `json:"id,omitempty"`
	TagName    string    `json:"tag_name"`
	Name       string    `json:"name"`
	Body       string    `json:"body,omitempty"`
	Draft      bool      `json:"draft"`
	Prerelease bool      `json:"prerelease"`
	CreatedAt  time.Time `json:"created_at"`
	Assets     []Asset   `json:"assets,omitempty"`
}

// Asset identifies one binary attachment of a release. Name is unique within a release.
type Asset struct {
	ID          int64     `json:"id,omitempty"`
	Name        string    `json:"name"`
	Size        int64     `json:"size"`
	UpdatedAt   time.Time `json:"updated_at"`
	ContentType string    `json:"content_type,omitempty"`
	DownloadURL string    `json:"browser_download_url,omitempty"` // retrieval handle
}

// FindAsset returns the asset with the given name, or nil
func FindAsset(assets []Asset, name string) *Asset {
	for i := range assets {
		if assets[i].Name == name {
			return &assets[i]
		}
	}
	return nil
}
