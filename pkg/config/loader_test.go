package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/hostforge/hostforge/pkg/resource"
)

func writeManifest(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("Failed to write manifest: %v", err)
	}
	return path
}

const yamlManifest = `
vars:
  domain: example.com
resources:
  - kind: package
    title: nginx
  - kind: file
    title: /etc/nginx/nginx.conf
    attrs:
      content: "worker_processes auto;\n"
      mode: "0644"
    require:
      - package[nginx]
    notify:
      - service[nginx]
  - kind: service
    title: nginx
    attrs:
      enable: true
`

const cueManifest = `
resources: [
	{
		kind:  "user"
		title: "deploy"
		attrs: {
			shell: "/bin/bash"
		}
	},
]
`

func TestLoader_LoadYAML(t *testing.T) {
	dir := t.TempDir()
	path := writeManifest(t, dir, "site.yaml", yamlManifest)

	m, err := NewLoader().Load(context.Background(), path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if len(m.Resources) != 3 {
		t.Fatalf("Expected 3 resources, got %d", len(m.Resources))
	}
	if m.Vars["domain"] != "example.com" {
		t.Errorf("Expected domain var, got %v", m.Vars["domain"])
	}

	decls, err := m.Decls()
	if err != nil {
		t.Fatalf("Decls failed: %v", err)
	}
	conf := decls[1]
	if conf.Ref.Kind != "file" || conf.Ref.Title != "/etc/nginx/nginx.conf" {
		t.Errorf("Unexpected declaration: %s", conf.Ref)
	}
	if len(conf.Require) != 1 || conf.Require[0].String() != "package[nginx]" {
		t.Errorf("Unexpected require refs: %v", conf.Require)
	}
	if len(conf.Notify) != 1 || conf.Notify[0].String() != "service[nginx]" {
		t.Errorf("Unexpected notify refs: %v", conf.Notify)
	}
	if conf.StringAttr("mode", "") != "0644" {
		t.Errorf("Unexpected mode attr: %v", conf.Attrs["mode"])
	}
	if !decls[2].BoolAttr("enable", false) {
		t.Error("Expected the enable attr to survive as a boolean")
	}
}

func TestLoader_LoadCUE(t *testing.T) {
	dir := t.TempDir()
	path := writeManifest(t, dir, "users.cue", cueManifest)

	m, err := NewLoader().Load(context.Background(), path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if len(m.Resources) != 1 {
		t.Fatalf("Expected 1 resource, got %d", len(m.Resources))
	}
	if m.Resources[0].Kind != "user" || m.Resources[0].Title != "deploy" {
		t.Errorf("Unexpected resource: %s[%s]", m.Resources[0].Kind, m.Resources[0].Title)
	}
	if m.Resources[0].Attrs["shell"] != "/bin/bash" {
		t.Errorf("Unexpected shell attr: %v", m.Resources[0].Attrs["shell"])
	}
}

func TestLoader_LoadDirectoryMergesSorted(t *testing.T) {
	dir := t.TempDir()
	writeManifest(t, dir, "20-web.yaml", "resources:\n  - kind: service\n    title: nginx\n")
	writeManifest(t, dir, "10-base.yaml", "vars:\n  env: prod\nresources:\n  - kind: package\n    title: nginx\n")
	writeManifest(t, dir, "README.md", "not a manifest")

	m, err := NewLoader().Load(context.Background(), dir)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if len(m.Resources) != 2 {
		t.Fatalf("Expected 2 resources, got %d", len(m.Resources))
	}
	if m.Resources[0].Kind != "package" {
		t.Errorf("Expected 10-base.yaml resources first, got %s", m.Resources[0].Kind)
	}
	if m.Vars["env"] != "prod" {
		t.Errorf("Expected merged vars, got %v", m.Vars)
	}
}

func TestLoader_StarlarkAttrs(t *testing.T) {
	dir := t.TempDir()
	path := writeManifest(t, dir, "site.yaml", `
vars:
  workers: 4
resources:
  - kind: file
    title: /etc/app.conf
    attrs:
      content: 'starlark:value = "workers=%d\n" % (workers * 2)'
      plain: "starlark is fun"
`)

	m, err := NewLoader().Load(context.Background(), path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if got := m.Resources[0].Attrs["content"]; got != "workers=8\n" {
		t.Errorf("Expected evaluated content, got %q", got)
	}
	if got := m.Resources[0].Attrs["plain"]; got != "starlark is fun" {
		t.Errorf("Expected unprefixed strings untouched, got %q", got)
	}
}

func TestLoader_StarlarkErrorNamesAttr(t *testing.T) {
	dir := t.TempDir()
	path := writeManifest(t, dir, "site.yaml", `
resources:
  - kind: file
    title: /etc/app.conf
    attrs:
      content: "starlark:value = undefined_thing"
`)

	_, err := NewLoader().Load(context.Background(), path)
	if err == nil {
		t.Fatal("Expected a starlark failure")
	}
}

func TestLoader_DuplicateIdentity(t *testing.T) {
	dir := t.TempDir()
	writeManifest(t, dir, "a.yaml", "resources:\n  - kind: file\n    title: /etc/motd\n")
	writeManifest(t, dir, "b.yaml", "resources:\n  - kind: file\n    title: /etc/motd\n")

	_, err := NewLoader().Load(context.Background(), dir)
	if err == nil {
		t.Fatal("Expected a duplicate identity error")
	}
	if !resource.IsCode(err, resource.ErrCodeDuplicateIdentity) {
		t.Errorf("Expected %s, got %s", resource.ErrCodeDuplicateIdentity, resource.CodeOf(err))
	}
}

func TestLoader_MissingRequiredFields(t *testing.T) {
	dir := t.TempDir()
	path := writeManifest(t, dir, "bad.yaml", "resources:\n  - kind: file\n")

	_, err := NewLoader().Load(context.Background(), path)
	if err == nil {
		t.Fatal("Expected a validation error for a missing title")
	}
	if !resource.IsCode(err, resource.ErrCodeValidation) {
		t.Errorf("Expected %s, got %s", resource.ErrCodeValidation, resource.CodeOf(err))
	}
}

func TestLoader_UnsupportedExtension(t *testing.T) {
	dir := t.TempDir()
	path := writeManifest(t, dir, "site.toml", "x = 1")

	if _, err := NewLoader().Load(context.Background(), path); err == nil {
		t.Fatal("Expected unsupported format to fail")
	}
}

func TestLoader_MalformedCUE(t *testing.T) {
	dir := t.TempDir()
	path := writeManifest(t, dir, "broken.cue", "resources: [ { kind: }")

	if _, err := NewLoader().Load(context.Background(), path); err == nil {
		t.Fatal("Expected malformed CUE to fail")
	}
}

func TestLoader_NoSources(t *testing.T) {
	if _, err := NewLoader().Load(context.Background()); err == nil {
		t.Fatal("Expected an error without sources")
	}
	if _, err := NewLoader().Load(context.Background(), "/nonexistent/path"); err == nil {
		t.Fatal("Expected an error for a missing source")
	}
}

func TestResourceDecl_ToDeclBadRef(t *testing.T) {
	rd := &ResourceDecl{
		Kind:    "service",
		Title:   "nginx",
		Require: []string{"not a ref"},
	}
	if _, err := rd.ToDecl(); err == nil {
		t.Fatal("Expected a malformed reference to fail conversion")
	}
}

func TestManifest_Merge(t *testing.T) {
	m := &Manifest{Vars: map[string]interface{}{"a": 1, "b": 1}}
	m.Merge(&Manifest{
		Vars:      map[string]interface{}{"b": 2},
		Resources: []ResourceDecl{{Kind: "file", Title: "/x"}},
	})
	m.Merge(nil)

	if m.Vars["a"] != 1 || m.Vars["b"] != 2 {
		t.Errorf("Expected later vars to override, got %v", m.Vars)
	}
	if len(m.Resources) != 1 {
		t.Errorf("Expected 1 resource after merge, got %d", len(m.Resources))
	}
}
