package conflict

import (
	"encoding/json"
	"fmt"
	"log/slog"
)

// Policy selects how a detected conflict is finalized.
type Policy string

const (
	// PolicyLocal overwrites the remote record with the local value.
	PolicyLocal Policy = "local"

	// PolicyRemote discards the local change; no network write happens.
	PolicyRemote Policy = "remote"

	// PolicyMerge delivers the remote record overlaid by every field
	// the local change defines, under a fresh modification marker.
	PolicyMerge Policy = "merge"

	// PolicyManual parks the item until resolved externally.
	PolicyManual Policy = "manual"
)

// ParsePolicy validates a policy string.
func ParsePolicy(s string) (Policy, error) {
	switch Policy(s) {
	case PolicyLocal, PolicyRemote, PolicyMerge, PolicyManual:
		return Policy(s), nil
	}

	return "", fmt.Errorf("invalid conflict policy %q", s)
}

// Resolution is the outcome of applying a policy to a conflict.
type Resolution struct {
	Policy Policy

	// Final is the record to deliver to the authority. Nil when no
	// write is performed.
	Final json.RawMessage

	// Skipped marks the local change as discarded (remote wins); the
	// item completes without a network write.
	Skipped bool

	// Manual marks the item as parked pending external resolution.
	Manual bool
}

// Resolver applies resolution policies, consulting per-resource rules.
type Resolver struct {
	rules  *Rules
	logger *slog.Logger
}

// NewResolver creates a resolver. rules may be nil.
func NewResolver(rules *Rules, logger *slog.Logger) *Resolver {
	return &Resolver{rules: rules, logger: logger}
}

// PolicyFor returns the effective policy for a resource kind: a
// per-resource rule when one exists, otherwise the run's policy.
func (r *Resolver) PolicyFor(resource string, runPolicy Policy) Policy {
	if r.rules != nil {
		if p, ok := r.rules.For(resource); ok {
			return p
		}
	}

	return runPolicy
}

// Resolve applies pol to the conflict and returns the outcome. The
// record itself is never mutated.
func (r *Resolver) Resolve(rec *Record, pol Policy) (Resolution, error) {
	switch pol {
	case PolicyLocal:
		final, err := withFreshMarker(rec.Local, rec.LocalVersion, rec.RemoteVersion)
		if err != nil {
			return Resolution{}, fmt.Errorf("finalizing local-wins record: %w", err)
		}

		return Resolution{Policy: pol, Final: final}, nil

	case PolicyRemote:
		r.logger.Debug("local change discarded, remote wins",
			slog.String("item", rec.ItemID),
		)

		return Resolution{Policy: pol, Skipped: true}, nil

	case PolicyMerge:
		final, err := mergeRecords(rec.Remote, rec.Local, rec.LocalVersion, rec.RemoteVersion)
		if err != nil {
			return Resolution{}, fmt.Errorf("merging records: %w", err)
		}

		return Resolution{Policy: pol, Final: final}, nil

	case PolicyManual:
		return Resolution{Policy: pol, Manual: true}, nil
	}

	return Resolution{}, fmt.Errorf("invalid conflict policy %q", pol)
}

// Merge produces the record delivered when a manual resolution supplies
// no explicit merged data: remote overlaid by local.
func (r *Resolver) Merge(rec *Record) (json.RawMessage, error) {
	return mergeRecords(rec.Remote, rec.Local, rec.LocalVersion, rec.RemoteVersion)
}

// mergeRecords overlays every field local defines onto remote and
// stamps a marker newer than both inputs.
func mergeRecords(remote, local json.RawMessage, markers ...string) (json.RawMessage, error) {
	merged := make(map[string]any)
	if err := json.Unmarshal(remote, &merged); err != nil {
		return nil, fmt.Errorf("decoding remote record: %w", err)
	}

	var localFields map[string]any
	if err := json.Unmarshal(local, &localFields); err != nil {
		return nil, fmt.Errorf("decoding local change: %w", err)
	}

	for k, v := range localFields {
		if k == markerField {
			continue
		}

		merged[k] = v
	}

	merged[markerField] = FreshMarker(markers...)

	return json.Marshal(merged)
}

// withFreshMarker re-stamps the local data with a marker newer than
// both versions, leaving every other field untouched.
func withFreshMarker(local json.RawMessage, markers ...string) (json.RawMessage, error) {
	record := make(map[string]any)
	if err := json.Unmarshal(local, &record); err != nil {
		return nil, fmt.Errorf("decoding local change: %w", err)
	}

	record[markerField] = FreshMarker(markers...)

	return json.Marshal(record)
}
