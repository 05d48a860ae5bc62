package manifest

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadManifest(t *testing.T) {
	// Create a temporary directory with a toffee.toml
	dir := t.TempDir()
	tomlContent := `
[package]
name = "test-app"
version = "0.1.0"

[source]
dirs = ["src", "lib"]
entry = "app"
assets = "data"

[dependencies]
helper = { path = "../helper" }

[image]
output = "test.tfb"
`
	if err := os.WriteFile(filepath.Join(dir, "toffee.toml"), []byte(tomlContent), 0644); err != nil {
		t.Fatal(err)
	}

	m, err := Load(dir)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if m.Package.Name != "test-app" {
		t.Errorf("package name = %q, want test-app", m.Package.Name)
	}
	if m.Package.Version != "0.1.0" {
		t.Errorf("package version = %q, want 0.1.0", m.Package.Version)
	}
	if len(m.Source.Dirs) != 2 {
		t.Errorf("source dirs count = %d, want 2", len(m.Source.Dirs))
	}
	if m.Source.Entry != "app" {
		t.Errorf("source entry = %q, want app", m.Source.Entry)
	}
	if m.Source.Assets != "data" {
		t.Errorf("source assets = %q, want data", m.Source.Assets)
	}
	if len(m.Dependencies) != 1 {
		t.Errorf("dependencies count = %d, want 1", len(m.Dependencies))
	}
	if dep, ok := m.Dependencies["helper"]; !ok || dep.Path != "../helper" {
		t.Errorf("helper dep = %v, want path ../helper", m.Dependencies["helper"])
	}
	if m.Image.Output != "test.tfb" {
		t.Errorf("image output = %q, want test.tfb", m.Image.Output)
	}
}

func TestLoadManifestDefaults(t *testing.T) {
	dir := t.TempDir()
	tomlContent := `
[package]
name = "minimal"
`
	if err := os.WriteFile(filepath.Join(dir, "toffee.toml"), []byte(tomlContent), 0644); err != nil {
		t.Fatal(err)
	}

	m, err := Load(dir)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if len(m.Source.Dirs) != 1 || m.Source.Dirs[0] != "src" {
		t.Errorf("default source dirs = %v, want [src]", m.Source.Dirs)
	}
	if m.Source.Entry != "main" {
		t.Errorf("default entry = %q, want main", m.Source.Entry)
	}
	if m.Source.Assets != "assets" {
		t.Errorf("default assets = %q, want assets", m.Source.Assets)
	}
	if got, want := m.ImageOutputPath(), filepath.Join(m.Dir, "minimal.tfb"); got != want {
		t.Errorf("image output path = %q, want %q", got, want)
	}
}

func TestFindAndLoad(t *testing.T) {
	// Create nested directory structure
	dir := t.TempDir()
	subDir := filepath.Join(dir, "a", "b", "c")
	if err := os.MkdirAll(subDir, 0755); err != nil {
		t.Fatal(err)
	}

	tomlContent := `[package]
name = "found-package"
`
	if err := os.WriteFile(filepath.Join(dir, "toffee.toml"), []byte(tomlContent), 0644); err != nil {
		t.Fatal(err)
	}

	// Should find manifest when starting from a deep subdirectory
	m, err := FindAndLoad(subDir)
	if err != nil {
		t.Fatalf("FindAndLoad failed: %v", err)
	}
	if m == nil {
		t.Fatal("FindAndLoad returned nil")
	}
	if m.Package.Name != "found-package" {
		t.Errorf("package name = %q, want found-package", m.Package.Name)
	}
}

func TestFindAndLoadNotFound(t *testing.T) {
	dir := t.TempDir()
	m, err := FindAndLoad(dir)
	if err != nil {
		t.Fatalf("FindAndLoad error: %v", err)
	}
	if m != nil {
		t.Error("expected nil manifest when no toffee.toml exists")
	}
}

func TestSourceDirPaths(t *testing.T) {
	m := &Manifest{
		Dir: "/app",
		Source: Source{
			Dirs: []string{"src", "lib"},
		},
	}

	paths := m.SourceDirPaths()
	if len(paths) != 2 {
		t.Fatalf("expected 2 paths, got %d", len(paths))
	}
	if paths[0] != "/app/src" {
		t.Errorf("paths[0] = %q, want /app/src", paths[0])
	}
	if paths[1] != "/app/lib" {
		t.Errorf("paths[1] = %q, want /app/lib", paths[1])
	}
}

func TestLockFileRoundTrip(t *testing.T) {
	dir := t.TempDir()
	lockPath := filepath.Join(dir, "lock.toml")

	lf := &LockFile{
		Deps: []LockedDep{
			{Name: "codec", Git: "https://example.com/codec-toffee", Commit: "abc123", Tag: "v0.5.0"},
			{Name: "helper", Path: "../helper"},
		},
	}

	if err := WriteLock(lockPath, lf); err != nil {
		t.Fatalf("WriteLock failed: %v", err)
	}

	loaded, err := ReadLock(lockPath)
	if err != nil {
		t.Fatalf("ReadLock failed: %v", err)
	}

	if len(loaded.Deps) != 2 {
		t.Fatalf("expected 2 deps, got %d", len(loaded.Deps))
	}
	if loaded.Deps[0].Name != "codec" {
		t.Errorf("dep[0].Name = %q, want codec", loaded.Deps[0].Name)
	}
	if loaded.Deps[0].Commit != "abc123" {
		t.Errorf("dep[0].Commit = %q, want abc123", loaded.Deps[0].Commit)
	}

	// FindLockedDep
	found := loaded.FindLockedDep("helper")
	if found == nil || found.Path != "../helper" {
		t.Errorf("FindLockedDep(helper) = %v, want path ../helper", found)
	}

	notFound := loaded.FindLockedDep("nonexistent")
	if notFound != nil {
		t.Errorf("FindLockedDep(nonexistent) = %v, want nil", notFound)
	}
}

func TestReadLockMissingFile(t *testing.T) {
	lf, err := ReadLock(filepath.Join(t.TempDir(), "absent", "lock.toml"))
	if err != nil {
		t.Fatalf("ReadLock on a missing file: %v", err)
	}
	if lf == nil || len(lf.Deps) != 0 {
		t.Errorf("ReadLock on a missing file = %v, want empty lock", lf)
	}
}

func TestToModuleSegment(t *testing.T) {
	cases := []struct{ in, want string }{
		{"my-app", "myApp"},
		{"models", "models"},
		{"JSON-codec", "jsonCodec"},
		{"httpClient", "httpClient"},
		{"a_b_c", "aBC"},
	}
	for _, c := range cases {
		if got := ToModuleSegment(c.in); got != c.want {
			t.Errorf("ToModuleSegment(%q) = %q, want %q", c.in, got, c.want)
		}
	}
}

func TestReservedModuleRoots(t *testing.T) {
	if !IsReservedModuleRoot("core") {
		t.Error("core should be reserved")
	}
	if !IsReservedModuleRoot("core/text") {
		t.Error("core/text should be reserved (root is core)")
	}
	if IsReservedModuleRoot("thirdParty/core") {
		t.Error("thirdParty/core should not be reserved")
	}
}

func TestValidateModuleSegment(t *testing.T) {
	if err := ValidateModuleSegment("myApp"); err != nil {
		t.Errorf("myApp should be valid: %v", err)
	}
	if err := ValidateModuleSegment(""); err == nil {
		t.Error("empty segment should be rejected")
	}
	if err := ValidateModuleSegment("a.b"); err == nil {
		t.Error("segment with dot should be rejected")
	}
	if err := ValidateModuleSegment("1abc"); err == nil {
		t.Error("segment starting with a digit should be rejected")
	}
}
