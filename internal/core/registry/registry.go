package registry

import (
	"bytes"
	"fmt"
	"path/filepath"
	"slices"
	"strings"

	"github.com/kirillkom/file-converter/internal/core/domain"
)

// Registry is the single source of truth for which conversions are legal
// and which backend performs each one. It is immutable after New.
type Registry struct {
	formats  map[string]domain.Format
	pairs    map[domain.Pair]domain.BackendID
	inputs   map[string]struct{}
	outputs  map[string]struct{}
	backends []domain.BackendDeclaration
}

type settings struct {
	allowed  map[string]struct{}
	disabled map[domain.BackendID]struct{}
}

type Option func(*settings)

// WithAllowedFormats restricts supported formats to ids. An empty list
// keeps every format.
func WithAllowedFormats(ids []string) Option {
	return func(s *settings) {
		for _, id := range ids {
			id = normalize(id)
			if id == "" {
				continue
			}
			if s.allowed == nil {
				s.allowed = make(map[string]struct{})
			}
			s.allowed[id] = struct{}{}
		}
	}
}

func WithDisabledBackends(ids []domain.BackendID) Option {
	return func(s *settings) {
		for _, id := range ids {
			if s.disabled == nil {
				s.disabled = make(map[domain.BackendID]struct{})
			}
			s.disabled[id] = struct{}{}
		}
	}
}

// New builds the pair matrix from backend declarations. When two backends
// cover the same pair the higher priority wins; ties go to the
// lexicographically smaller backend id so the result is deterministic.
func New(catalog []domain.Format, decls []domain.BackendDeclaration, opts ...Option) (*Registry, error) {
	var cfg settings
	for _, opt := range opts {
		opt(&cfg)
	}

	r := &Registry{
		formats: make(map[string]domain.Format, len(catalog)),
		pairs:   make(map[domain.Pair]domain.BackendID),
		inputs:  make(map[string]struct{}),
		outputs: make(map[string]struct{}),
	}
	for _, f := range catalog {
		r.formats[f.ID] = f
	}
	for id := range cfg.allowed {
		if _, ok := r.formats[id]; !ok {
			return nil, fmt.Errorf("allowed format %q is not in the catalog", id)
		}
	}

	priority := make(map[domain.Pair]int)
	for _, decl := range decls {
		if decl.ID == "" {
			return nil, fmt.Errorf("backend declaration without id")
		}
		for _, c := range decl.Capabilities {
			for _, id := range slices.Concat(c.Inputs, c.Outputs) {
				if _, ok := r.formats[id]; !ok {
					return nil, fmt.Errorf("backend %s declares unknown format %q", decl.ID, id)
				}
			}
		}
		if _, off := cfg.disabled[decl.ID]; off {
			continue
		}
		r.backends = append(r.backends, decl)

		for _, c := range decl.Capabilities {
			for _, in := range c.Inputs {
				if !cfg.permits(in) {
					continue
				}
				for _, out := range c.Outputs {
					if !cfg.permits(out) {
						continue
					}
					p := domain.Pair{From: in, To: out}
					current, taken := r.pairs[p]
					if taken && (priority[p] > decl.Priority || (priority[p] == decl.Priority && current < decl.ID)) {
						continue
					}
					r.pairs[p] = decl.ID
					priority[p] = decl.Priority
				}
			}
		}
	}

	for p := range r.pairs {
		r.inputs[p.From] = struct{}{}
		r.outputs[p.To] = struct{}{}
	}
	return r, nil
}

func (s settings) permits(id string) bool {
	if len(s.allowed) == 0 {
		return true
	}
	_, ok := s.allowed[id]
	return ok
}

func normalize(id string) string {
	id = strings.ToLower(strings.TrimSpace(id))
	id = strings.TrimPrefix(id, ".")
	if canonical, ok := aliases[id]; ok {
		return canonical
	}
	return id
}

// Lookup resolves an id or alias (for example "jpeg") to a known format.
func (r *Registry) Lookup(id string) (domain.Format, bool) {
	f, ok := r.formats[normalize(id)]
	return f, ok
}

func (r *Registry) IsKnown(id string) bool {
	_, ok := r.Lookup(id)
	return ok
}

func (r *Registry) IsSupportedInput(id string) bool {
	_, ok := r.inputs[normalize(id)]
	return ok
}

func (r *Registry) IsSupportedOutput(id string) bool {
	_, ok := r.outputs[normalize(id)]
	return ok
}

// FormatForFilename resolves the upload format from the file extension.
func (r *Registry) FormatForFilename(name string) (domain.Format, error) {
	ext := strings.TrimPrefix(filepath.Ext(name), ".")
	if ext == "" {
		return domain.Format{}, domain.NewFailure(domain.ErrUnsupportedFormat, "file has no extension")
	}
	f, ok := r.Lookup(ext)
	if !ok || !r.IsSupportedInput(f.ID) {
		return domain.Format{}, domain.NewFailure(domain.ErrUnsupportedFormat, "file type %q is not supported", strings.ToLower(ext))
	}
	return f, nil
}

// ResolveBackend returns the single backend responsible for from->to.
func (r *Registry) ResolveBackend(from, to string) (domain.BackendID, error) {
	in, ok := r.Lookup(from)
	if !ok {
		return "", domain.NewFailure(domain.ErrUnsupportedFormat, "format %q is not supported", from)
	}
	if !r.IsSupportedInput(in.ID) {
		return "", domain.NewFailure(domain.ErrUnsupportedFormat, "input format %q is not supported", in.ID)
	}
	out, ok := r.Lookup(to)
	if !ok {
		return "", domain.NewFailure(domain.ErrUnsupportedFormat, "format %q is not supported", to)
	}
	backend, ok := r.pairs[domain.Pair{From: in.ID, To: out.ID}]
	if !ok {
		return "", domain.NewFailure(domain.ErrUnsupportedConversion, "conversion from %s to %s is not supported", in.ID, out.ID)
	}
	return backend, nil
}

// OutputsFor lists legal output formats for an input, sorted.
func (r *Registry) OutputsFor(from string) []string {
	in := normalize(from)
	out := make([]string, 0)
	for p := range r.pairs {
		if p.From == in {
			out = append(out, p.To)
		}
	}
	slices.Sort(out)
	return out
}

func (r *Registry) Matrix() map[string][]string {
	matrix := make(map[string][]string, len(r.inputs))
	for in := range r.inputs {
		matrix[in] = r.OutputsFor(in)
	}
	return matrix
}

// Formats returns the catalog sorted by id.
func (r *Registry) Formats() []domain.Format {
	out := make([]domain.Format, 0, len(r.formats))
	for _, f := range r.formats {
		out = append(out, f)
	}
	slices.SortFunc(out, func(a, b domain.Format) int { return strings.Compare(a.ID, b.ID) })
	return out
}

func (r *Registry) Backends() []domain.BackendDeclaration {
	return slices.Clone(r.backends)
}

// MatchesContent reports whether data starts with one of the format's
// signatures. Formats without signatures always match.
func MatchesContent(f domain.Format, data []byte) bool {
	if len(f.Magic) == 0 {
		return true
	}
	for _, sig := range f.Magic {
		if bytes.HasPrefix(data, sig) {
			return true
		}
	}
	return false
}
