// Package diagnostics turns compiler output reported through the build event
// stream into per-file diagnostics and decides when they are published.
package diagnostics

import (
	"fmt"
	"path/filepath"
	"strings"
)

type Severity int

const (
	SeverityError Severity = iota + 1
	SeverityWarning
	SeverityInformation
	SeverityHint
)

func (s Severity) String() string {
	switch s {
	case SeverityError:
		return "error"
	case SeverityWarning:
		return "warning"
	case SeverityInformation:
		return "information"
	case SeverityHint:
		return "hint"
	default:
		return fmt.Sprintf("severity(%d)", int(s))
	}
}

type Position struct {
	Line      int
	Character int
}

type Range struct {
	Start Position
	End   Position
}

// Diagnostic is one compiler message attached to a source file.
type Diagnostic struct {
	Severity Severity
	// File is a file:// URI.
	File    string
	Range   Range
	Message string
	Code    string
	// Target is the label of the target whose build produced the diagnostic.
	Target string
}

// key identifies a diagnostic for deduplication within one build.
func (d Diagnostic) key() string {
	return fmt.Sprintf("%d|%d:%d-%d:%d|%s|%s", d.Severity,
		d.Range.Start.Line, d.Range.Start.Character, d.Range.End.Line, d.Range.End.Character,
		d.Code, d.Message)
}

// FileURI converts a local path to a file:// URI, joining relative paths to root.
func FileURI(root, path string) string {
	if strings.HasPrefix(path, "file://") {
		return path
	}
	if !filepath.IsAbs(path) && root != "" {
		path = filepath.Join(root, path)
	}
	return "file://" + filepath.ToSlash(filepath.Clean(path))
}
