package mods

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/cory-johannsen/colony/internal/config"
)

// Category is the server policy a mod directory represents.
type Category int

const (
	Required Category = iota
	Optional
	Forbidden
)

func (c Category) String() string {
	switch c {
	case Required:
		return "required"
	case Optional:
		return "optional"
	case Forbidden:
		return "forbidden"
	default:
		return fmt.Sprintf("Category(%d)", int(c))
	}
}

var categories = [...]Category{Required, Optional, Forbidden}

// Manifest is the loaded mod policy as package ids.
type Manifest struct {
	Required  []string
	Optional  []string
	Forbidden []string
}

// Manager owns the packages loaded from the three category directories.
// Manifest is safe to call concurrently with Load.
type Manager struct {
	dirs   [len(categories)]string
	logger *zap.Logger

	mu       sync.RWMutex
	packages [len(categories)][]Package
}

// NewManager creates a Manager for the directories in cfg.
//
// Precondition: logger must be non-nil.
func NewManager(cfg config.ModsConfig, logger *zap.Logger) *Manager {
	m := &Manager{logger: logger}
	m.dirs[Required] = cfg.RequiredDir
	m.dirs[Optional] = cfg.OptionalDir
	m.dirs[Forbidden] = cfg.ForbiddenDir
	return m
}

// Load converts unpackaged mod directories and loads every package in each
// category, replacing what was loaded before. A mod that fails to convert or
// load is logged and skipped.
//
// Postcondition: Manifest reflects the packages on disk, or an error is returned
// when a category directory cannot be created or listed.
func (m *Manager) Load() error {
	start := time.Now()
	var loaded [len(categories)][]Package
	for _, cat := range categories {
		pkgs, err := m.loadCategory(cat)
		if err != nil {
			return err
		}
		loaded[cat] = pkgs
	}

	m.mu.Lock()
	m.packages = loaded
	m.mu.Unlock()

	m.logger.Info("mods loaded",
		zap.Int("required", len(loaded[Required])),
		zap.Int("optional", len(loaded[Optional])),
		zap.Int("forbidden", len(loaded[Forbidden])),
		zap.Duration("elapsed", time.Since(start)),
	)
	return nil
}

func (m *Manager) loadCategory(cat Category) ([]Package, error) {
	dir := m.dirs[cat]
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("creating %s mods directory %s: %w", cat, dir, err)
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("listing %s mods directory %s: %w", cat, dir, err)
	}

	packaged := make(map[string]bool)
	for _, e := range entries {
		if !e.IsDir() && filepath.Ext(e.Name()) == PackageExt {
			packaged[strings.TrimSuffix(e.Name(), PackageExt)] = true
		}
	}

	log := m.logger.With(zap.String("category", cat.String()))
	for _, e := range entries {
		if !e.IsDir() || packaged[e.Name()] {
			continue
		}
		pkg, err := Convert(filepath.Join(dir, e.Name()))
		if err != nil {
			log.Error("converting mod", zap.String("dir", e.Name()), zap.Error(err))
			continue
		}
		packaged[e.Name()] = true
		log.Info("converted mod", zap.String("name", pkg.Name), zap.String("package_id", pkg.PackageID))
	}

	names := make([]string, 0, len(packaged))
	for name := range packaged {
		names = append(names, name)
	}
	sort.Strings(names)

	pkgs := make([]Package, 0, len(names))
	for _, name := range names {
		pkg, err := LoadPackage(filepath.Join(dir, name+PackageExt))
		if err != nil {
			log.Error("loading mod package", zap.String("file", name+PackageExt), zap.Error(err))
			continue
		}
		log.Debug("loaded mod", zap.String("name", pkg.Name), zap.String("package_id", pkg.PackageID))
		pkgs = append(pkgs, pkg)
	}
	return pkgs, nil
}

// Packages returns the packages loaded for cat.
func (m *Manager) Packages(cat Category) []Package {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]Package(nil), m.packages[cat]...)
}

// Manifest returns the package ids of every loaded category.
func (m *Manager) Manifest() Manifest {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ids := func(pkgs []Package) []string {
		out := make([]string, 0, len(pkgs))
		for _, p := range pkgs {
			out = append(out, p.PackageID)
		}
		return out
	}
	return Manifest{
		Required:  ids(m.packages[Required]),
		Optional:  ids(m.packages[Optional]),
		Forbidden: ids(m.packages[Forbidden]),
	}
}
