package config

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	cueerrors "cuelang.org/go/cue/errors"
	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/hostforge/hostforge/pkg/resource"
)

// Loader parses manifest sources into a merged Manifest. CUE files are
// evaluated through a shared CUE context; YAML files decode directly.
type Loader struct {
	cue      *cue.Context
	validate *validator.Validate
	starlark *StarlarkEvaluator
}

// NewLoader creates a loader with a default Starlark timeout.
func NewLoader() *Loader {
	return &Loader{
		cue:      cuecontext.New(),
		validate: validator.New(),
		starlark: NewStarlarkEvaluator(0),
	}
}

// Load parses the given files and directories into a single manifest.
// Directories contribute their *.cue, *.yaml, and *.yml files in sorted
// order. Starlark attribute expressions are evaluated and every resource
// declaration is validated.
func (l *Loader) Load(ctx context.Context, sources ...string) (*Manifest, error) {
	if len(sources) == 0 {
		return nil, fmt.Errorf("no manifest sources provided")
	}

	files, err := expandSources(sources)
	if err != nil {
		return nil, err
	}
	if len(files) == 0 {
		return nil, fmt.Errorf("no manifest files found in %v", sources)
	}

	merged := &Manifest{}
	for _, file := range files {
		m, err := l.loadFile(file)
		if err != nil {
			return nil, err
		}
		merged.Merge(m)
	}

	if err := l.evalStarlark(ctx, merged); err != nil {
		return nil, err
	}

	seen := make(map[string]bool, len(merged.Resources))
	for i := range merged.Resources {
		rd := &merged.Resources[i]
		if err := l.validate.Struct(rd); err != nil {
			return nil, resource.NewError(resource.ErrCodeValidation,
				fmt.Sprintf("resource %s[%s]: %v", rd.Kind, rd.Title, err), nil)
		}
		key := rd.Kind + "[" + rd.Title + "]"
		if seen[key] {
			return nil, resource.NewError(resource.ErrCodeDuplicateIdentity,
				fmt.Sprintf("resource %s declared twice", key), nil)
		}
		seen[key] = true
	}

	return merged, nil
}

// loadFile parses a single manifest file by extension.
func (l *Loader) loadFile(path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read manifest %s: %w", path, err)
	}

	var m Manifest
	switch strings.ToLower(filepath.Ext(path)) {
	case ".cue":
		val := l.cue.CompileBytes(data, cue.Filename(path))
		if err := val.Err(); err != nil {
			return nil, fmt.Errorf("parse %s: %s", path, cueErrorDetails(err))
		}
		if err := val.Decode(&m); err != nil {
			return nil, fmt.Errorf("decode %s: %s", path, cueErrorDetails(err))
		}
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, &m); err != nil {
			return nil, fmt.Errorf("parse %s: %w", path, err)
		}
	default:
		return nil, fmt.Errorf("unsupported manifest format %q (want .cue, .yaml, or .yml)", filepath.Ext(path))
	}

	return &m, nil
}

// evalStarlark replaces every "starlark:"-prefixed string attribute with
// its evaluated value. Manifest vars are predeclared bindings.
func (l *Loader) evalStarlark(ctx context.Context, m *Manifest) error {
	for i := range m.Resources {
		rd := &m.Resources[i]
		for name, v := range rd.Attrs {
			s, ok := v.(string)
			if !ok || !strings.HasPrefix(s, starlarkPrefix) {
				continue
			}
			script := strings.TrimPrefix(s, starlarkPrefix)
			value, err := l.starlark.Eval(ctx, script, m.Vars)
			if err != nil {
				return fmt.Errorf("resource %s[%s] attribute %q: %w", rd.Kind, rd.Title, name, err)
			}
			rd.Attrs[name] = value
		}
	}
	return nil
}

// expandSources resolves directories to their contained manifest files.
func expandSources(sources []string) ([]string, error) {
	var files []string
	for _, source := range sources {
		info, err := os.Stat(source)
		if err != nil {
			return nil, fmt.Errorf("stat source %s: %w", source, err)
		}
		if !info.IsDir() {
			files = append(files, source)
			continue
		}

		entries, err := os.ReadDir(source)
		if err != nil {
			return nil, fmt.Errorf("read source dir %s: %w", source, err)
		}
		var dirFiles []string
		for _, entry := range entries {
			if entry.IsDir() {
				continue
			}
			switch strings.ToLower(filepath.Ext(entry.Name())) {
			case ".cue", ".yaml", ".yml":
				dirFiles = append(dirFiles, filepath.Join(source, entry.Name()))
			}
		}
		sort.Strings(dirFiles)
		files = append(files, dirFiles...)
	}
	return files, nil
}

func cueErrorDetails(err error) string {
	var sb strings.Builder
	for i, e := range cueerrors.Errors(err) {
		if i > 0 {
			sb.WriteString("; ")
		}
		sb.WriteString(e.Error())
	}
	if sb.Len() == 0 {
		return err.Error()
	}
	return sb.String()
}

// SetStarlarkTimeout overrides the Starlark evaluation deadline.
func (l *Loader) SetStarlarkTimeout(d time.Duration) {
	l.starlark = NewStarlarkEvaluator(d)
}
