// Package conflict detects divergence between a local change and the
// authoritative remote record, and resolves it under a pluggable policy.
package conflict

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/mpcrae/boardsync/internal/models"
	"github.com/sergi/go-diff/diffmatchpatch"
	"github.com/tidwall/gjson"
)

// markerField is the modification marker on authoritative records.
const markerField = "lastModified"

// idField is the record identifier, excluded from field comparison.
const idField = "id"

// Fetcher retrieves the authoritative record for a resource. A nil
// record with no error means the resource does not exist remotely.
type Fetcher interface {
	Get(ctx context.Context, resourceID string) (json.RawMessage, error)
}

// Record describes a detected conflict. Never mutated once created;
// it is resolved and discarded.
type Record struct {
	ItemID           string
	ResourceID       string
	LocalVersion     string
	RemoteVersion    string
	ConflictedFields []string
	DetectedAt       time.Time

	// Local is the full local change data, Remote the authoritative
	// record, both captured at detection time.
	Local  json.RawMessage
	Remote json.RawMessage

	// Preview is a human-readable per-field diff for manual resolution.
	Preview string
}

// Detector compares local changes against the authority.
type Detector struct {
	fetcher Fetcher
	logger  *slog.Logger
}

// NewDetector creates a detector using the given fetcher.
func NewDetector(fetcher Fetcher, logger *slog.Logger) *Detector {
	return &Detector{fetcher: fetcher, logger: logger}
}

// Detect fetches the authoritative record and reports divergence.
// Returns nil when there is no conflict: the remote record does not
// exist (create wins trivially), the remote marker has not advanced
// past the change's baseline, or the effective content is identical
// even though the marker advanced.
func (d *Detector) Detect(ctx context.Context, itemID string, ch models.DataChange) (*Record, error) {
	remote, err := d.fetcher.Get(ctx, ch.ResourceID)
	if err != nil {
		return nil, fmt.Errorf("fetching authoritative record %s: %w", ch.ResourceID, err)
	}

	if remote == nil {
		return nil, nil
	}

	baseline := ch.Baseline
	if baseline == "" {
		baseline = gjson.GetBytes(ch.Data, markerField).Str
	}

	remoteMarker := gjson.GetBytes(remote, markerField).Str
	if !markerNewer(remoteMarker, baseline) {
		return nil, nil
	}

	fields := divergentFields(ch.Data, remote)
	if len(fields) == 0 {
		// The remote marker advanced but the content matches: another
		// device wrote the same change. Not a conflict.
		d.logger.Debug("marker advanced without divergence",
			slog.String("resource", ch.ResourceID),
		)
		return nil, nil
	}

	rec := &Record{
		ItemID:           itemID,
		ResourceID:       ch.ResourceID,
		LocalVersion:     baseline,
		RemoteVersion:    remoteMarker,
		ConflictedFields: fields,
		DetectedAt:       time.Now().UTC(),
		Local:            append(json.RawMessage(nil), ch.Data...),
		Remote:           append(json.RawMessage(nil), remote...),
	}
	rec.Preview = buildPreview(rec)

	d.logger.Info("conflict detected",
		slog.String("item", itemID),
		slog.String("resource", ch.ResourceID),
		slog.Any("fields", fields),
	)

	return rec, nil
}

// divergentFields returns the sorted set of scalar top-level fields,
// excluding the identifier and the modification marker, whose values
// differ between the local change and the remote record. A field
// defined on only one side counts as divergent when that side's value
// is scalar.
func divergentFields(local, remote json.RawMessage) []string {
	seen := make(map[string]struct{})
	var fields []string

	check := func(key string) {
		if key == idField || key == markerField {
			return
		}
		if _, done := seen[key]; done {
			return
		}
		seen[key] = struct{}{}

		lv := gjson.GetBytes(local, key)
		rv := gjson.GetBytes(remote, key)

		if !isScalar(lv) && !isScalar(rv) {
			return
		}

		if lv.Raw != rv.Raw {
			fields = append(fields, key)
		}
	}

	gjson.ParseBytes(local).ForEach(func(k, _ gjson.Result) bool {
		check(k.Str)
		return true
	})
	gjson.ParseBytes(remote).ForEach(func(k, _ gjson.Result) bool {
		check(k.Str)
		return true
	})

	sort.Strings(fields)

	return fields
}

// isScalar reports whether a value is a JSON scalar (string, number,
// boolean, or null). Objects and arrays are excluded from top-level
// comparison; missing values are not scalars.
func isScalar(v gjson.Result) bool {
	if !v.Exists() {
		return false
	}

	switch v.Type {
	case gjson.String, gjson.Number, gjson.True, gjson.False, gjson.Null:
		return true
	}

	if v.IsObject() || v.IsArray() {
		return false
	}

	return false
}

// buildPreview renders a per-field character diff of the conflicted
// values. Attached to the record for manual resolution surfaces; never
// persisted.
func buildPreview(rec *Record) string {
	dmp := diffmatchpatch.New()

	var b strings.Builder
	for _, field := range rec.ConflictedFields {
		lv := gjson.GetBytes(rec.Local, field).String()
		rv := gjson.GetBytes(rec.Remote, field).String()

		diffs := dmp.DiffMain(rv, lv, false)
		dmp.DiffCleanupSemantic(diffs)

		fmt.Fprintf(&b, "%s: %s\n", field, dmp.DiffPrettyText(diffs))
	}

	return strings.TrimRight(b.String(), "\n")
}
