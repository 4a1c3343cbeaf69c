// Package conflict detects and resolves disagreements between a local task
// record and a remote issue snapshot.
//
// Detection runs three independent detectors (content, status, timestamp),
// each producing a typed descriptor with a severity. Resolution applies one
// of a closed set of strategies; a failing strategy is reported as data,
// never as an error or panic to the caller.
package conflict

import (
	"fmt"
	"strings"
	"time"
	"unicode"

	"github.com/agext/levenshtein"
	"github.com/tasksync-dev/tasksync/internal/task"
)

// Type identifies which detector found a disagreement.
type Type string

const (
	TypeContent   Type = "content"
	TypeStatus    Type = "status"
	TypeTimestamp Type = "timestamp"
)

// Severity ranks how far apart the two sides are. Values are ordered:
// minor < moderate < major < critical.
type Severity int

const (
	SeverityNone Severity = iota
	SeverityMinor
	SeverityModerate
	SeverityMajor
	SeverityCritical
)

func (s Severity) String() string {
	switch s {
	case SeverityMinor:
		return "minor"
	case SeverityModerate:
		return "moderate"
	case SeverityMajor:
		return "major"
	case SeverityCritical:
		return "critical"
	}
	return "none"
}

// SeverityLevel returns the numeric rank for a severity name, for callers
// that compare severities reported as strings. Unknown names rank zero.
func SeverityLevel(name string) int {
	switch name {
	case "minor":
		return int(SeverityMinor)
	case "moderate":
		return int(SeverityModerate)
	case "major":
		return int(SeverityMajor)
	case "critical":
		return int(SeverityCritical)
	}
	return int(SeverityNone)
}

// Conflict describes a single detected disagreement.
type Conflict struct {
	Type        Type
	Severity    Severity
	LocalValue  string
	RemoteValue string
	// Similarity is set for content conflicts only: the edit-distance
	// ratio between the normalized sides, in [0, 1].
	Similarity float64
	Detail     string
}

// Detect runs all three detectors against local and remote and returns the
// conflicts found, if any.
func Detect(local *task.Task, remote task.RemoteView) []Conflict {
	var conflicts []Conflict
	if c := detectContent(local, remote); c != nil {
		conflicts = append(conflicts, *c)
	}
	if c := detectStatus(local, remote); c != nil {
		conflicts = append(conflicts, *c)
	}
	if c := detectTimestamp(local, remote); c != nil {
		conflicts = append(conflicts, *c)
	}
	return conflicts
}

// Overall returns the maximum severity across conflicts, or SeverityNone.
func Overall(conflicts []Conflict) Severity {
	max := SeverityNone
	for _, c := range conflicts {
		if c.Severity > max {
			max = c.Severity
		}
	}
	return max
}

func detectContent(local *task.Task, remote task.RemoteView) *Conflict {
	if Normalize(local.Content) == Normalize(remote.Title) {
		return nil
	}

	sim := Similarity(local.Content, remote.Title)
	var severity Severity
	var detail string
	switch {
	case sim > 0.8:
		severity = SeverityMinor
		detail = "format conflict"
	case sim >= 0.5:
		severity = SeverityModerate
		detail = "content drift"
	default:
		severity = SeverityMajor
		detail = "content diverged"
	}

	return &Conflict{
		Type:        TypeContent,
		Severity:    severity,
		LocalValue:  local.Content,
		RemoteValue: remote.Title,
		Similarity:  sim,
		Detail:      detail,
	}
}

func detectStatus(local *task.Task, remote task.RemoteView) *Conflict {
	if local.Status == remote.Status {
		return nil
	}

	lo, ro := local.Status.Ordinal(), remote.Status.Ordinal()
	severity := SeverityModerate // unknown statuses
	if lo >= 0 && ro >= 0 {
		distance := lo - ro
		if distance < 0 {
			distance = -distance
		}
		if distance <= 1 {
			severity = SeverityMinor
		} else {
			severity = SeverityMajor
		}
	}

	return &Conflict{
		Type:        TypeStatus,
		Severity:    severity,
		LocalValue:  string(local.Status),
		RemoteValue: string(remote.Status),
	}
}

func detectTimestamp(local *task.Task, remote task.RemoteView) *Conflict {
	if remote.UpdatedAt.IsZero() || local.UpdatedAt.IsZero() {
		return nil
	}

	diff := local.UpdatedAt.Sub(remote.UpdatedAt)
	if diff < 0 {
		diff = -diff
	}
	if diff <= time.Hour {
		return nil
	}

	var severity Severity
	switch {
	case diff < 24*time.Hour:
		severity = SeverityMinor
	case diff < 168*time.Hour:
		severity = SeverityModerate
	default:
		severity = SeverityMajor
	}

	return &Conflict{
		Type:        TypeTimestamp,
		Severity:    severity,
		LocalValue:  local.UpdatedAt.UTC().Format(time.RFC3339),
		RemoteValue: remote.UpdatedAt.UTC().Format(time.RFC3339),
		Detail:      fmt.Sprintf("sides diverged by %s", diff.Round(time.Minute)),
	}
}

// Normalize lowercases, strips punctuation, and collapses whitespace so
// cosmetic edits compare equal.
func Normalize(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	lastSpace := true
	for _, r := range strings.ToLower(s) {
		switch {
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			b.WriteRune(r)
			lastSpace = false
		case unicode.IsSpace(r):
			if !lastSpace {
				b.WriteRune(' ')
				lastSpace = true
			}
		}
		// Punctuation drops out entirely.
	}
	return strings.TrimRight(b.String(), " ")
}

// Similarity returns the edit-distance ratio between the normalized forms
// of a and b: (maxLen - levenshtein) / maxLen. Identical inputs score 1.0.
// When one normalized side contains the other, the raw ratio punishes the
// appended text even though nothing was contradicted, so a pure extension
// ("Fix auth bug" vs "Fix auth bug in login") scores by coverage into
// (0.8, 1.0) instead.
func Similarity(a, b string) float64 {
	na, nb := Normalize(a), Normalize(b)
	if na == nb {
		return 1.0
	}
	maxLen := len(na)
	if len(nb) > maxLen {
		maxLen = len(nb)
	}
	if maxLen == 0 {
		return 1.0
	}

	shorter, longer := na, nb
	if len(shorter) > len(longer) {
		shorter, longer = longer, shorter
	}
	if shorter != "" && strings.Contains(longer, shorter) {
		return 0.8 + 0.2*float64(len(shorter))/float64(len(longer))
	}

	dist := levenshtein.Distance(na, nb, nil)
	return float64(maxLen-dist) / float64(maxLen)
}
