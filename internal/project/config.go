package project

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/ihavespoons/mci/internal/chunk"
	"github.com/ihavespoons/mci/internal/scan"
)

const (
	MciDir      = ".mci"
	ProjectFile = "project.yaml"
	IndexDir    = "index"
	SQLiteFile  = "chunks.db"
	BleveDir    = "keywords.bleve"
)

// ScanConfig selects the files an index run considers
type ScanConfig struct {
	Include       []string `yaml:"include,omitempty" json:"include,omitempty"`
	Exclude       []string `yaml:"exclude,omitempty" json:"exclude,omitempty"`
	IncludeHidden bool     `yaml:"include_hidden" json:"include_hidden"`
	Recursive     bool     `yaml:"recursive" json:"recursive"`
}

// ProjectConfig represents the .mci/project.yaml configuration
type ProjectConfig struct {
	Name      string       `yaml:"name" json:"name"`
	Version   string       `yaml:"version" json:"version"`
	CreatedAt time.Time    `yaml:"created_at" json:"created_at"`
	Scan      ScanConfig   `yaml:"scan" json:"scan"`
	Chunk     chunk.Config `yaml:"chunk" json:"chunk"`
}

// DefaultProjectConfig returns the configuration used when no file exists
func DefaultProjectConfig(name string) *ProjectConfig {
	return &ProjectConfig{
		Name:    name,
		Version: "1.0",
		Scan: ScanConfig{
			Include:   append([]string(nil), scan.DefaultInclude...),
			Exclude:   append([]string(nil), scan.DefaultExclude...),
			Recursive: true,
		},
		Chunk: chunk.DefaultConfig(),
	}
}

// Project is a source tree with optional per-project settings
type Project struct {
	RootPath string
	Config   *ProjectConfig
}

// Active holds the currently active project
var Active *Project

// FindProjectRoot looks for a .mci directory starting from path and going up
func FindProjectRoot(startPath string) (string, error) {
	path := startPath
	for {
		mciPath := filepath.Join(path, MciDir)
		if info, err := os.Stat(mciPath); err == nil && info.IsDir() {
			return path, nil
		}
		parent := filepath.Dir(path)
		if parent == path {
			return "", fmt.Errorf("no %s directory found (searched from %s to root)", MciDir, startPath)
		}
		path = parent
	}
}

// GetMciPath returns the path to the .mci directory
func (p *Project) GetMciPath() string {
	return filepath.Join(p.RootPath, MciDir)
}

// GetConfigPath returns the path to project.yaml
func (p *Project) GetConfigPath() string {
	return filepath.Join(p.GetMciPath(), ProjectFile)
}

// GetIndexPath returns the directory holding local store files
func (p *Project) GetIndexPath() string {
	return filepath.Join(p.GetMciPath(), IndexDir)
}

// ScanConfig returns scanner settings rooted at the project
func (p *Project) ScanConfig() scan.Config {
	cfg := scan.Config{
		Root:          p.RootPath,
		Recursive:     p.Config.Scan.Recursive,
		IncludeHidden: p.Config.Scan.IncludeHidden,
		Include:       p.Config.Scan.Include,
		Exclude:       p.Config.Scan.Exclude,
	}
	if len(cfg.Include) == 0 {
		cfg.Include = scan.DefaultInclude
	}
	return cfg
}

// Load loads the project configuration from disk. Missing keys keep
// their defaults.
func (p *Project) Load() error {
	data, err := os.ReadFile(p.GetConfigPath())
	if err != nil {
		return fmt.Errorf("failed to read project config: %w", err)
	}

	config := DefaultProjectConfig(filepath.Base(p.RootPath))
	if err := yaml.Unmarshal(data, config); err != nil {
		return fmt.Errorf("failed to parse project config: %w", err)
	}
	if err := config.Chunk.Validate(); err != nil {
		return fmt.Errorf("invalid chunk settings in %s: %w", p.GetConfigPath(), err)
	}

	p.Config = config
	return nil
}

// Save saves the project configuration to disk
func (p *Project) Save() error {
	data, err := yaml.Marshal(p.Config)
	if err != nil {
		return fmt.Errorf("failed to marshal project config: %w", err)
	}

	if err := os.WriteFile(p.GetConfigPath(), data, 0644); err != nil {
		return fmt.Errorf("failed to write project config: %w", err)
	}

	return nil
}

// Initialize creates a new .mci project structure
func Initialize(rootPath string) (*Project, error) {
	mciPath := filepath.Join(rootPath, MciDir)

	if _, err := os.Stat(mciPath); err == nil {
		return nil, fmt.Errorf("project already initialized at %s", mciPath)
	}

	for _, dir := range []string{mciPath, filepath.Join(mciPath, IndexDir)} {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create directory %s: %w", dir, err)
		}
	}

	config := DefaultProjectConfig(filepath.Base(rootPath))
	config.CreatedAt = time.Now()

	project := &Project{
		RootPath: rootPath,
		Config:   config,
	}

	if err := project.Save(); err != nil {
		return nil, err
	}

	return project, nil
}

// Open returns the project rooted exactly at rootPath. Without a
// project.yaml the defaults apply.
func Open(rootPath string) (*Project, error) {
	abs, err := filepath.Abs(rootPath)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve %s: %w", rootPath, err)
	}

	project := &Project{RootPath: abs}
	if err := project.Load(); err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			return nil, err
		}
		project.Config = DefaultProjectConfig(filepath.Base(abs))
	}
	return project, nil
}

// Activate loads and activates the project enclosing path
func Activate(path string) (*Project, error) {
	rootPath, err := FindProjectRoot(path)
	if err != nil {
		return nil, err
	}

	project := &Project{
		RootPath: rootPath,
	}

	if err := project.Load(); err != nil {
		return nil, err
	}

	Active = project
	return project, nil
}

// EnsureActive returns the active project or activates from current directory
func EnsureActive() (*Project, error) {
	if Active != nil {
		return Active, nil
	}

	cwd, err := os.Getwd()
	if err != nil {
		return nil, fmt.Errorf("failed to get current directory: %w", err)
	}

	return Activate(cwd)
}
