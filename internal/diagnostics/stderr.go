package diagnostics

import (
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
)

var (
	ansiEscape = regexp.MustCompile(`\x1b\[[0-9;]*[A-Za-z]`)

	// ERROR: /ws/pkg/BUILD:12:37: in scala_library rule //pkg:lib: ...
	buildFileMarker = regexp.MustCompile(`^ERROR: (.+?):(\d+):(\d+): (.*)$`)
	// pkg/Test.scala:21: error: not found: value foo
	sourceMarker = regexp.MustCompile(`^(.+?):(\d+)(?::(\d+))?: (error|warning): (.*)$`)

	statusLine = regexp.MustCompile(`^(?:INFO|ERROR|WARNING|DEBUG|FAILED):|^Target |^Use --|^\S+ (?:errors?|warnings?) found$`)

	labelPattern = regexp.MustCompile(`(?:^|[\s'"(])(@{0,2}[\w.~+-]*//[\w./+-]*:[\w./+=,@~-]+)`)
)

// ParseStderr scans free-form compiler output for error markers. Relative
// paths are resolved against workspaceRoot. Files are returned in order of
// first appearance; lines matching no marker are ignored.
//
// Each diagnostic's Target is the label named on its own marker line, or else
// on the closest tool status line before it ("ERROR: ... //pkg:lib failed"),
// so output covering several failing targets is split between them. It is
// empty when no such label exists.
func ParseStderr(text, workspaceRoot string) []FileDiagnostics {
	var (
		files   []FileDiagnostics
		index   = make(map[string]int)
		current *Diagnostic
		context []string
		curPath string
		owner   string
	)
	flush := func() {
		if current == nil {
			return
		}
		if len(context) > 0 {
			current.Message += "\n" + strings.Join(context, "\n")
		}
		i, ok := index[curPath]
		if !ok {
			i = len(files)
			index[curPath] = i
			files = append(files, FileDiagnostics{Path: curPath})
		}
		files[i].Diagnostics = append(files[i].Diagnostics, *current)
		current, context = nil, nil
	}

	for _, line := range strings.Split(ansiEscape.ReplaceAllString(text, ""), "\n") {
		line = strings.TrimRight(line, "\r")

		if d, path, ok := parseMarker(line); ok {
			flush()
			if label := FindLabel(d.Message); label != "" {
				owner = label
			}
			curPath = absPath(workspaceRoot, path)
			d.File = FileURI("", curPath)
			d.Target = owner
			current = &d
			continue
		}
		if statusLine.MatchString(line) {
			flush()
			if label := FindLabel(line); label != "" {
				owner = label
			}
			continue
		}
		if current == nil {
			continue
		}
		if strings.TrimSpace(line) != "" {
			context = append(context, line)
		}
	}
	flush()
	return files
}

func parseMarker(line string) (Diagnostic, string, bool) {
	if m := buildFileMarker.FindStringSubmatch(line); m != nil {
		pos := Position{Line: atoi(m[2]), Character: atoi(m[3])}
		return Diagnostic{
			Severity: SeverityError,
			Range:    Range{Start: pos, End: pos},
			Message:  m[4],
		}, m[1], true
	}
	if m := sourceMarker.FindStringSubmatch(line); m != nil {
		pos := Position{Line: atoi(m[2]), Character: atoi(m[3])}
		sev := SeverityError
		if m[4] == "warning" {
			sev = SeverityWarning
		}
		return Diagnostic{
			Severity: sev,
			Range:    Range{Start: pos, End: pos},
			Message:  m[5],
		}, m[1], true
	}
	return Diagnostic{}, "", false
}

// FindLabel returns the first target label mentioned in text, or "".
func FindLabel(text string) string {
	m := labelPattern.FindStringSubmatch(ansiEscape.ReplaceAllString(text, ""))
	if m == nil {
		return ""
	}
	return strings.TrimRight(m[1], ".")
}

func absPath(root, p string) string {
	if filepath.IsAbs(p) || root == "" {
		return filepath.Clean(p)
	}
	return filepath.Join(root, p)
}

func atoi(s string) int {
	n, _ := strconv.Atoi(s)
	return n
}
