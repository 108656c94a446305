package diagnostics

import (
	"os"
	"path/filepath"
	"slices"

	"github.com/go-logr/logr"

	"bazelbsp/internal/bep"
)

// Publisher receives diagnostics for one file of one target. A publish with
// reset set replaces everything the client holds for that file and target;
// otherwise diags are added to it.
type Publisher interface {
	OnDiagnosticsPublish(target, fileURI string, diags []Diagnostic, reset bool)
}

type Options struct {
	Publisher Publisher
	// Sources lists the files whose stale diagnostics are cleared when a
	// target first reports in a build. May be nil.
	Sources       SourceResolver
	WorkspaceRoot string
	ExecRoot      string
	// RequestedTargets are the targets of the build. A sole requested target
	// owns stderr diagnostics that name no target.
	RequestedTargets []string
	Log              logr.Logger
}

// Pipeline collects the diagnostics of one build. A fresh Pipeline is created
// for every build; it is not safe for concurrent use.
type Pipeline struct {
	publisher Publisher
	sources   SourceResolver
	workspace string
	execRoot  string
	requested []string
	log       logr.Logger

	cleared   map[string]struct{}
	resetDone map[fileKey]struct{}
	published map[fileKey]map[string]struct{}
}

type fileKey struct {
	target string
	file   string
}

func NewPipeline(opts Options) *Pipeline {
	return &Pipeline{
		publisher: opts.Publisher,
		sources:   opts.Sources,
		workspace: opts.WorkspaceRoot,
		execRoot:  opts.ExecRoot,
		requested: slices.Clone(opts.RequestedTargets),
		log:       opts.Log.WithName("diagnostics"),
		cleared:   make(map[string]struct{}),
		resetDone: make(map[fileKey]struct{}),
		published: make(map[fileKey]map[string]struct{}),
	}
}

// TargetCompleted clears stale diagnostics of the target and publishes any
// diagnostics artifacts among its inline outputs.
func (p *Pipeline) TargetCompleted(ev *bep.TargetCompleted) {
	p.clearTarget(ev.Label)
	for _, g := range ev.OutputGroups {
		for _, f := range g.InlineFiles {
			if IsArtifact(f.Name) || IsArtifact(f.URI) {
				p.publishArtifact(ev.Label, f)
			}
		}
	}
}

func (p *Pipeline) ActionExecuted(ev *bep.ActionExecuted) {
	for _, f := range ev.ActionMetadataLogs {
		if IsArtifact(f.Name) || IsArtifact(f.URI) {
			p.publishArtifact(ev.Label, f)
		}
	}
	if ev.Success || ev.Stderr == nil {
		return
	}
	b, ok := p.readFile(*ev.Stderr)
	if !ok {
		return
	}
	p.publishStderr(ev.Label, string(b))
}

func (p *Pipeline) Progress(ev *bep.Progress) {
	if ev.Stderr == "" {
		return
	}
	p.publishStderr("", ev.Stderr)
}

// publishStderr publishes parsed compiler output. A non-empty target owns
// every diagnostic; otherwise each diagnostic goes to the label the parser
// attributed it to, or to the only requested target.
func (p *Pipeline) publishStderr(target, text string) {
	files := ParseStderr(text, p.workspace)
	var (
		owners  []string
		byOwner = make(map[string][]FileDiagnostics)
		dropped int
	)
	for _, fd := range files {
		for _, d := range fd.Diagnostics {
			owner := target
			if owner == "" {
				owner = d.Target
			}
			if owner == "" && len(p.requested) == 1 {
				owner = p.requested[0]
			}
			if owner == "" {
				dropped++
				continue
			}
			if _, ok := byOwner[owner]; !ok {
				owners = append(owners, owner)
			}
			byOwner[owner] = appendDiagnostic(byOwner[owner], fd.Path, d)
		}
	}
	if dropped > 0 {
		p.log.V(1).Info("dropping diagnostics without owning target", "count", dropped)
	}
	for _, owner := range owners {
		p.Publish(owner, byOwner[owner])
	}
}

func appendDiagnostic(files []FileDiagnostics, path string, d Diagnostic) []FileDiagnostics {
	for i := range files {
		if files[i].Path == path {
			files[i].Diagnostics = append(files[i].Diagnostics, d)
			return files
		}
	}
	return append(files, FileDiagnostics{Path: path, Diagnostics: []Diagnostic{d}})
}

func (p *Pipeline) publishArtifact(target string, f bep.File) {
	b, ok := p.readFile(f)
	if !ok {
		return
	}
	files, err := DecodeArtifact(b)
	if err != nil {
		p.log.Error(err, "skipping diagnostics artifact", "target", target, "file", f.Name)
		return
	}
	for i := range files {
		files[i].Path = absPath(p.workspace, files[i].Path)
	}
	p.Publish(target, files)
}

// Publish sends the diagnostics of target grouped by file, after the target's
// stale diagnostics have been cleared. Diagnostics already published for the
// same target and file in this build are skipped.
func (p *Pipeline) Publish(target string, files []FileDiagnostics) {
	p.clearTarget(target)
	for _, fd := range files {
		uri := FileURI(p.workspace, fd.Path)
		key := fileKey{target: target, file: uri}
		seen, ok := p.published[key]
		if !ok {
			seen = make(map[string]struct{})
			p.published[key] = seen
		}

		var fresh []Diagnostic
		for _, d := range fd.Diagnostics {
			d.File = uri
			d.Target = target
			k := d.key()
			if _, dup := seen[k]; dup {
				continue
			}
			seen[k] = struct{}{}
			fresh = append(fresh, d)
		}
		if len(fresh) == 0 {
			continue
		}

		_, wasReset := p.resetDone[key]
		p.resetDone[key] = struct{}{}
		p.publisher.OnDiagnosticsPublish(target, uri, fresh, !wasReset)
	}
}

// clearTarget publishes an empty reset for every known source of target,
// once per build.
func (p *Pipeline) clearTarget(target string) {
	if _, ok := p.cleared[target]; ok {
		return
	}
	p.cleared[target] = struct{}{}
	if p.sources == nil {
		return
	}
	for _, src := range p.sources.Sources(target) {
		uri := FileURI(p.workspace, src)
		p.resetDone[fileKey{target: target, file: uri}] = struct{}{}
		p.publisher.OnDiagnosticsPublish(target, uri, nil, true)
	}
}

// readFile reads a reported file, trying its URI, then its name as an
// absolute path, then relative to the exec root and the workspace root.
func (p *Pipeline) readFile(f bep.File) ([]byte, bool) {
	var candidates []string
	if local := bep.LocalPath(f.URI); local != "" {
		candidates = append(candidates, local)
	}
	rel := filepath.Join(append(slices.Clone(f.PathPrefix), f.Name)...)
	if rel != "." && rel != "" {
		if filepath.IsAbs(rel) {
			candidates = append(candidates, rel)
		} else {
			for _, root := range []string{p.execRoot, p.workspace} {
				if root != "" {
					candidates = append(candidates, filepath.Join(root, rel))
				}
			}
		}
	}

	var lastErr error
	for _, c := range candidates {
		b, err := os.ReadFile(c)
		if err == nil {
			return b, true
		}
		lastErr = err
	}
	p.log.Error(lastErr, "diagnostics source unavailable, treating as empty", "file", f.Name, "uri", f.URI)
	return nil, false
}
