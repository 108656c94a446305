package diagnostics

import (
	"fmt"
	"path"
	"strings"

	"bazelbsp/internal/pbwire"
)

// FileDiagnostics is the decoded diagnostics of one source file in a
// diagnostics artifact. Path is as written by the compiler integration.
type FileDiagnostics struct {
	Path        string
	Diagnostics []Diagnostic
}

// artifact severities, as written by the compiler integration
const (
	artifactUnknown     = 0
	artifactError       = 1
	artifactWarning     = 2
	artifactInformation = 3
	artifactHint        = 4
)

// IsArtifact reports whether a reported output file is a diagnostics artifact.
func IsArtifact(name string) bool {
	base := path.Base(strings.ReplaceAll(name, "\\", "/"))
	return strings.HasSuffix(base, ".diagnosticsproto") || base == "diagnostics"
}

// DecodeArtifact decodes a TargetDiagnostics message. The returned
// diagnostics have neither File nor Target set.
func DecodeArtifact(b []byte) ([]FileDiagnostics, error) {
	var files []FileDiagnostics
	err := pbwire.Walk(b, func(f pbwire.Field) error {
		if f.Num != 1 {
			return nil
		}
		fd, err := decodeFileDiagnostics(f.Bytes)
		if err != nil {
			return err
		}
		files = append(files, fd)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("decode diagnostics artifact: %w", err)
	}
	return files, nil
}

func decodeFileDiagnostics(b []byte) (FileDiagnostics, error) {
	var fd FileDiagnostics
	err := pbwire.Walk(b, func(f pbwire.Field) error {
		switch f.Num {
		case 1:
			fd.Path = f.String()
		case 2:
			d, err := decodeDiagnostic(f.Bytes)
			if err != nil {
				return err
			}
			fd.Diagnostics = append(fd.Diagnostics, d)
		}
		return nil
	})
	return fd, err
}

func decodeDiagnostic(b []byte) (Diagnostic, error) {
	d := Diagnostic{Severity: SeverityError}
	err := pbwire.Walk(b, func(f pbwire.Field) error {
		switch f.Num {
		case 1:
			d.Severity = severityFromArtifact(f.Varint)
		case 2:
			r, err := decodeRange(f.Bytes)
			if err != nil {
				return err
			}
			d.Range = r
		case 3:
			d.Message = f.String()
		case 4:
			d.Code = f.String()
		}
		return nil
	})
	return d, err
}

func decodeRange(b []byte) (Range, error) {
	var r Range
	err := pbwire.Walk(b, func(f pbwire.Field) error {
		var err error
		switch f.Num {
		case 1:
			r.Start, err = decodePosition(f.Bytes)
		case 2:
			r.End, err = decodePosition(f.Bytes)
		}
		return err
	})
	return r, err
}

func decodePosition(b []byte) (Position, error) {
	var p Position
	err := pbwire.Walk(b, func(f pbwire.Field) error {
		switch f.Num {
		case 1:
			p.Line = int(f.Int32())
		case 2:
			p.Character = int(f.Int32())
		}
		return nil
	})
	return p, err
}

func severityFromArtifact(v uint64) Severity {
	switch v {
	case artifactWarning:
		return SeverityWarning
	case artifactInformation:
		return SeverityInformation
	case artifactHint:
		return SeverityHint
	default:
		// artifactUnknown, artifactError and anything newer
		return SeverityError
	}
}
