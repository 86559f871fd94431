package project

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/ihavespoons/mci/internal/chunk"
)

func TestInitialize(t *testing.T) {
	tmpDir := t.TempDir()

	p, err := Initialize(tmpDir)
	if err != nil {
		t.Fatalf("Initialize failed: %v", err)
	}

	if p.RootPath != tmpDir {
		t.Errorf("expected RootPath %s, got %s", tmpDir, p.RootPath)
	}
	if p.Config == nil {
		t.Fatal("Config is nil")
	}
	if p.Config.Name != filepath.Base(tmpDir) {
		t.Errorf("expected Name %s, got %s", filepath.Base(tmpDir), p.Config.Name)
	}
	if p.Config.CreatedAt.IsZero() {
		t.Error("expected CreatedAt to be set")
	}

	for _, dir := range []string{
		filepath.Join(tmpDir, MciDir),
		filepath.Join(tmpDir, MciDir, IndexDir),
	} {
		if _, err := os.Stat(dir); os.IsNotExist(err) {
			t.Errorf("directory not created: %s", dir)
		}
	}

	configPath := filepath.Join(tmpDir, MciDir, ProjectFile)
	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		t.Error("project.yaml not created")
	}
}

func TestInitializeAlreadyExists(t *testing.T) {
	tmpDir := t.TempDir()

	if _, err := Initialize(tmpDir); err != nil {
		t.Fatalf("first Initialize failed: %v", err)
	}
	if _, err := Initialize(tmpDir); err == nil {
		t.Error("expected error when initializing already initialized project")
	}
}

func TestProjectLoadSave(t *testing.T) {
	tmpDir := t.TempDir()

	p, err := Initialize(tmpDir)
	if err != nil {
		t.Fatalf("Initialize failed: %v", err)
	}

	p.Config.Name = "test-project"
	p.Config.Scan.Exclude = []string{"**/vendor/**"}
	p.Config.Scan.IncludeHidden = true
	p.Config.Chunk.Mode = chunk.ModeFunction
	p.Config.Chunk.ChunkSize = 800
	p.Config.Chunk.ChunkFilters = map[string][]string{"python": {"import", "from"}}

	if err := p.Save(); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	p2 := &Project{RootPath: tmpDir}
	if err := p2.Load(); err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if p2.Config.Name != "test-project" {
		t.Errorf("expected Name 'test-project', got '%s'", p2.Config.Name)
	}
	if len(p2.Config.Scan.Exclude) != 1 || p2.Config.Scan.Exclude[0] != "**/vendor/**" {
		t.Errorf("unexpected excludes %v", p2.Config.Scan.Exclude)
	}
	if !p2.Config.Scan.IncludeHidden {
		t.Error("expected include_hidden to round-trip")
	}
	if p2.Config.Chunk.Mode != chunk.ModeFunction || p2.Config.Chunk.ChunkSize != 800 {
		t.Errorf("unexpected chunk settings %+v", p2.Config.Chunk)
	}
	if got := p2.Config.Chunk.ChunkFilters["python"]; len(got) != 2 {
		t.Errorf("expected python filters to round-trip, got %v", got)
	}
}

func TestLoadKeepsDefaultsForMissingKeys(t *testing.T) {
	tmpDir := t.TempDir()
	if err := os.MkdirAll(filepath.Join(tmpDir, MciDir), 0755); err != nil {
		t.Fatalf("failed to create dir: %v", err)
	}
	yaml := "name: partial\nchunk:\n  mode: type\n"
	if err := os.WriteFile(filepath.Join(tmpDir, MciDir, ProjectFile), []byte(yaml), 0644); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}

	p := &Project{RootPath: tmpDir}
	if err := p.Load(); err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	def := chunk.DefaultConfig()
	if p.Config.Chunk.Mode != chunk.ModeType {
		t.Errorf("expected mode type, got %s", p.Config.Chunk.Mode)
	}
	if p.Config.Chunk.ChunkSize != def.ChunkSize || p.Config.Chunk.Overlap != def.Overlap {
		t.Errorf("expected default size/overlap, got %d/%v", p.Config.Chunk.ChunkSize, p.Config.Chunk.Overlap)
	}
	if !p.Config.Scan.Recursive {
		t.Error("expected recursive default")
	}
	if len(p.Config.Scan.Exclude) == 0 {
		t.Error("expected default excludes")
	}
}

func TestLoadRejectsInvalidChunkSettings(t *testing.T) {
	tmpDir := t.TempDir()
	if err := os.MkdirAll(filepath.Join(tmpDir, MciDir), 0755); err != nil {
		t.Fatalf("failed to create dir: %v", err)
	}
	yaml := "chunk:\n  overlap: 1.0\n"
	if err := os.WriteFile(filepath.Join(tmpDir, MciDir, ProjectFile), []byte(yaml), 0644); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}

	p := &Project{RootPath: tmpDir}
	if err := p.Load(); err == nil {
		t.Error("expected error for overlap 1.0")
	}
}

func TestOpenWithoutConfig(t *testing.T) {
	tmpDir := t.TempDir()

	p, err := Open(tmpDir)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	if p.Config == nil || p.Config.Chunk.Mode != chunk.ModeAutoAST {
		t.Errorf("expected default config, got %+v", p.Config)
	}

	sc := p.ScanConfig()
	if sc.Root != tmpDir || !sc.Recursive || len(sc.Include) == 0 {
		t.Errorf("unexpected scan config %+v", sc)
	}
}

func TestFindProjectRoot(t *testing.T) {
	tmpDir := t.TempDir()

	if _, err := Initialize(tmpDir); err != nil {
		t.Fatalf("Initialize failed: %v", err)
	}

	nestedDir := filepath.Join(tmpDir, "src", "pkg", "handlers")
	if err := os.MkdirAll(nestedDir, 0755); err != nil {
		t.Fatalf("failed to create nested dir: %v", err)
	}

	root, err := FindProjectRoot(nestedDir)
	if err != nil {
		t.Fatalf("FindProjectRoot failed: %v", err)
	}
	if root != tmpDir {
		t.Errorf("expected root %s, got %s", tmpDir, root)
	}
}

func TestFindProjectRootNotFound(t *testing.T) {
	if _, err := FindProjectRoot(t.TempDir()); err == nil {
		t.Error("expected error when no .mci directory exists")
	}
}

func TestActivate(t *testing.T) {
	tmpDir := t.TempDir()

	if _, err := Initialize(tmpDir); err != nil {
		t.Fatalf("Initialize failed: %v", err)
	}

	Active = nil
	t.Cleanup(func() { Active = nil })

	p, err := Activate(tmpDir)
	if err != nil {
		t.Fatalf("Activate failed: %v", err)
	}
	if p != Active {
		t.Error("Activate did not set Active project")
	}
	if p.Config == nil {
		t.Error("Activate did not load config")
	}
}

func TestProjectPaths(t *testing.T) {
	p := &Project{
		RootPath: "/test/project",
		Config:   &ProjectConfig{},
	}

	if p.GetMciPath() != "/test/project/.mci" {
		t.Errorf("unexpected mci path: %s", p.GetMciPath())
	}
	if p.GetConfigPath() != "/test/project/.mci/project.yaml" {
		t.Errorf("unexpected config path: %s", p.GetConfigPath())
	}
	if p.GetIndexPath() != "/test/project/.mci/index" {
		t.Errorf("unexpected index path: %s", p.GetIndexPath())
	}
}
