package model

// Verdict is the result of comparing a source asset against its target counterpart.
type Verdict int

const (
	// UpToDate means the target asset faithfully reflects the source asset.
	UpToDate Verdict = iota
	// Missing means the target release has no asset of that name.
	Missing
	// SizeMismatch means both assets exist but their byte sizes differ.
	SizeMismatch
	// TimeNewer means the source asset was modified after the target copy, beyond the tolerance.
	TimeNewer
)

// Stale reports whether the verdict requires a transfer
func (v Verdict) Stale() bool {
	return v != UpToDate
}

func (v Verdict) String() string {
	switch v {
	case UpToDate:
		return "up_to_date"
	case Missing:
		return "missing"
	case SizeMismatch:
		return "size_mismatch"
	case TimeNewer:
		return "time_newer"
	}
	return "unknown"
}

// OutcomeKind classifies the result of reconciling one release.
type OutcomeKind int

const (
	// NoChange means the target release existed and every asset was up to date.
	NoChange OutcomeKind = iota
	// Created means the target release was created and all assets were uploaded.
	Created
	// Updated means the target release existed and its stale assets were replaced.
	Updated
	// Failed means the release could not be created or at least one asset transfer failed.
	Failed
)

func (k OutcomeKind) String() string {
	switch k {
	case NoChange:
		return "no_change"
	case Created:
		return "created"
	case Updated:
		return "updated"
	case Failed:
		return "failed"
	}
	return "unknown"
}

// Outcome is the result of reconciling one release. Err is set only when Kind is Failed.
type Outcome struct {
	Kind        OutcomeKind
	Transferred int
	Err         error
}

// Complete reports whether the release may be appended to the SyncRecord
func (o Outcome) Complete() bool {
	return o.Kind != Failed
}
