package models

import (
	"fmt"
	"sort"
	"time"
)

// IndexStatus is the aggregated status of an index build.
type IndexStatus string

// Index statuses.
const (
	IndexStatusPending   IndexStatus = "pending"
	IndexStatusCompleted IndexStatus = "completed"
	IndexStatusFailed    IndexStatus = "failed"
)

// IsTerminal reports whether the build has stopped.
func (s IndexStatus) IsTerminal() bool {
	return s == IndexStatusCompleted || s == IndexStatusFailed
}

// SourceStatus is the build status of a single data source.
type SourceStatus string

// Per-source statuses, in the order the builder moves through them.
const (
	SourceInQueue    SourceStatus = "in_queue"
	SourceInProgress SourceStatus = "in_progress"
	SourceCompleted  SourceStatus = "completed"
	SourceFailed     SourceStatus = "failed"
)

// IsValid reports whether s is a known source status.
func (s SourceStatus) IsValid() bool {
	switch s {
	case SourceInQueue, SourceInProgress, SourceCompleted, SourceFailed:
		return true
	}
	return false
}

// IndexableVendors are the vendors the builder knows how to ingest.
var IndexableVendors = []string{
	VendorSlack, VendorGithub, VendorNotion, VendorConfluence, VendorJira, VendorPagerDuty,
}

// IsIndexable reports whether vendor can be used as an index data source.
func IsIndexable(vendor string) bool {
	for _, v := range IndexableVendors {
		if v == vendor {
			return true
		}
	}
	return false
}

// IndexState is the persisted build state. Status is always derived from
// PerSource; use WithSource to change it. BuildID identifies the build that
// owns the state and changes on every rebuild, so late reports from an
// earlier build can be told apart.
type IndexState struct {
	Status    IndexStatus             `json:"status"`
	PerSource map[string]SourceStatus `json:"integrations"`
	BuildID   string                  `json:"buildId,omitempty"`
}

// Index is an organization's knowledge index.
type Index struct {
	ID             string         `json:"id"`
	OrganizationID string         `json:"organization_id"`
	Name           string         `json:"name"`
	DataSources    []string       `json:"data_sources"`
	State          IndexState     `json:"state"`
	Stats          map[string]int `json:"stats,omitempty"`
	CreatedAt      time.Time      `json:"created_at"`
	UpdatedAt      time.Time      `json:"updated_at"`
}

// DeriveStatus computes the aggregated status: failed if any source failed,
// completed if every source completed, pending otherwise. An empty map is
// pending.
func DeriveStatus(perSource map[string]SourceStatus) IndexStatus {
	if len(perSource) == 0 {
		return IndexStatusPending
	}
	completed := 0
	for _, s := range perSource {
		switch s {
		case SourceFailed:
			return IndexStatusFailed
		case SourceCompleted:
			completed++
		}
	}
	if completed == len(perSource) {
		return IndexStatusCompleted
	}
	return IndexStatusPending
}

// NewPendingState returns the initial state for a build over sources.
func NewPendingState(sources []string) IndexState {
	per := make(map[string]SourceStatus, len(sources))
	for _, s := range sources {
		per[s] = SourceInQueue
	}
	return IndexState{Status: DeriveStatus(per), PerSource: per}
}

// WithSource returns a copy of s with source set to status and the
// aggregated status recomputed.
func (s IndexState) WithSource(source string, status SourceStatus) IndexState {
	per := make(map[string]SourceStatus, len(s.PerSource)+1)
	for k, v := range s.PerSource {
		per[k] = v
	}
	per[source] = status
	return IndexState{Status: DeriveStatus(per), PerSource: per, BuildID: s.BuildID}
}

// FailAll returns a copy of s with every non-completed source failed.
func (s IndexState) FailAll() IndexState {
	per := make(map[string]SourceStatus, len(s.PerSource))
	for k, v := range s.PerSource {
		if v != SourceCompleted {
			v = SourceFailed
		}
		per[k] = v
	}
	return IndexState{Status: DeriveStatus(per), PerSource: per, BuildID: s.BuildID}
}

// Progress estimates build progress as a percentage. While pending each
// completed source is worth 90/N percent with a floor of 5. Completed is
// 100 and failed resets to 5.
func Progress(state IndexState) int {
	switch DeriveStatus(state.PerSource) {
	case IndexStatusCompleted:
		return 100
	case IndexStatusFailed:
		return 5
	}
	total := len(state.PerSource)
	if total == 0 {
		return 5
	}
	completed := 0
	for _, s := range state.PerSource {
		if s == SourceCompleted {
			completed++
		}
	}
	return max(5, completed*90/total)
}

// StatusText is the human readable description shown next to the
// progress bar. Sources are scanned in DataSources order.
func (idx *Index) StatusText() string {
	switch DeriveStatus(idx.State.PerSource) {
	case IndexStatusCompleted:
		return "Index is ready."
	case IndexStatusFailed:
		return "Indexing failed."
	}
	keys := idx.orderedSources()
	for _, k := range keys {
		if idx.State.PerSource[k] == SourceInProgress {
			return fmt.Sprintf("Fetching documents from %s...", k)
		}
	}
	for _, k := range keys {
		if idx.State.PerSource[k] == SourceInQueue {
			return "Initializing process."
		}
	}
	return "Embedding documents..."
}

func (idx *Index) orderedSources() []string {
	seen := make(map[string]bool, len(idx.State.PerSource))
	keys := make([]string, 0, len(idx.State.PerSource))
	for _, s := range idx.DataSources {
		if _, ok := idx.State.PerSource[s]; ok && !seen[s] {
			seen[s] = true
			keys = append(keys, s)
		}
	}
	var rest []string
	for k := range idx.State.PerSource {
		if !seen[k] {
			rest = append(rest, k)
		}
	}
	sort.Strings(rest)
	return append(keys, rest...)
}
