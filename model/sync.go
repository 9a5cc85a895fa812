// Package model - SyncRecord defines the ordered list of release tags confirmed fully mirrored
package model

import "slices"

// SyncRecord is the sync checkpoint. Tags are kept in the order they were confirmed and
// never contain duplicates.
type SyncRecord struct {
	tags []string
	seen map[string]struct{}
}

// NewSyncRecord creates a SyncRecord from a list of tags, dropping duplicates (first occurrence wins)
func NewSyncRecord(tags ...string) *SyncRecord {
	rec := &SyncRecord{
		tags: make([]string, 0, len(tags)),
		seen: make(map[string]struct{}, len(tags)),
	}
	for _, tag := range tags {
		rec.Add(tag)
	}
	return rec
}

// Add appends a tag. It returns false if the tag was already recorded.
func (r *SyncRecord) Add(tag string) bool {
	if r.seen == nil {
		r.seen = make(map[string]struct{})
	}
	if _, ok := r.seen[tag]; ok {
		return false
	}
	r.seen[tag] = struct{}{}
	r.tags = append(r.tags, tag)
	return true
}

// Contains reports whether the tag has been recorded
func (r *SyncRecord) Contains(tag string) bool {
	_, ok := r.seen[tag]
	return ok
}

// Tags returns a copy of the recorded tags in confirmation order
func (r *SyncRecord) Tags() []string {
	return slices.Clone(r.tags)
}

// Len returns the number of recorded tags
func (r *SyncRecord) Len() int {
	return len(r.tags)
}
