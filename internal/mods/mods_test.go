package mods

import (
	"archive/zip"
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
	"pgregory.net/rapid"

	"github.com/cory-johannsen/colony/internal/config"
)

const aboutXML = `<?xml version="1.0" encoding="utf-8"?>
<ModMetaData>
  <name>Vanilla Expanded</name>
  <packageId>OskarPotocki.VanillaExpanded</packageId>
  <author>Oskar</author>
</ModMetaData>
`

func writeMod(t *testing.T, root, dirName, about string) string {
	t.Helper()
	dir := filepath.Join(root, dirName)
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "About"), 0755))
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "Defs"), 0755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "About", "About.xml"), []byte(about), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "Defs", "Things.xml"), []byte("<Defs/>"), 0644))
	return dir
}

func testModsConfig(t *testing.T) config.ModsConfig {
	t.Helper()
	root := t.TempDir()
	return config.ModsConfig{
		RequiredDir:  filepath.Join(root, "required"),
		OptionalDir:  filepath.Join(root, "optional"),
		ForbiddenDir: filepath.Join(root, "forbidden"),
	}
}

func TestConvert_WritesPackage(t *testing.T) {
	root := t.TempDir()
	dir := writeMod(t, root, "VanillaExpanded", aboutXML)

	pkg, err := Convert(dir)
	require.NoError(t, err)
	assert.Equal(t, "Vanilla Expanded", pkg.Name)
	assert.Equal(t, "OskarPotocki.VanillaExpanded", pkg.PackageID)
	assert.Len(t, pkg.Hash, 64)

	loaded, err := LoadPackage(dir + PackageExt)
	require.NoError(t, err)
	assert.Equal(t, pkg, loaded)

	archive, err := loaded.ArchiveBytes()
	require.NoError(t, err)
	assert.Equal(t, pkg.Hash, Hash(archive))

	zr, err := zip.NewReader(bytes.NewReader(archive), int64(len(archive)))
	require.NoError(t, err)
	var names []string
	for _, f := range zr.File {
		names = append(names, f.Name)
	}
	assert.ElementsMatch(t, []string{"About/About.xml", "Defs/Things.xml"}, names)

	entries, err := os.ReadDir(root)
	require.NoError(t, err)
	for _, e := range entries {
		assert.NotEqual(t, ".zip", filepath.Ext(e.Name()), "intermediate archive left behind")
	}
}

func TestConvert_IsDeterministic(t *testing.T) {
	root := t.TempDir()
	dir := writeMod(t, root, "Mod", aboutXML)

	first, err := Convert(dir)
	require.NoError(t, err)
	second, err := Convert(dir)
	require.NoError(t, err)
	assert.Equal(t, first.Hash, second.Hash)
}

func TestConvert_MissingAbout(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "Broken")
	require.NoError(t, os.MkdirAll(dir, 0755))

	_, err := Convert(dir)
	assert.ErrorIs(t, err, ErrNoAbout)
}

func TestConvert_MissingPackageID(t *testing.T) {
	dir := writeMod(t, t.TempDir(), "NoID", `<ModMetaData><name>x</name></ModMetaData>`)
	_, err := Convert(dir)
	assert.Error(t, err)
}

func TestHash_UpperHex(t *testing.T) {
	assert.Equal(t,
		"E3B0C44298FC1C149AFBF4C8996FB92427AE41E4649B934CA495991B7852B855",
		Hash(nil))
}

func TestManager_LoadConvertsAndBuildsManifest(t *testing.T) {
	cfg := testModsConfig(t)
	require.NoError(t, os.MkdirAll(cfg.RequiredDir, 0755))
	writeMod(t, cfg.RequiredDir, "Core", `<ModMetaData><name>Core</name><packageId>ludeon.rimworld</packageId></ModMetaData>`)
	writeMod(t, cfg.OptionalDir, "Hats", `<ModMetaData><name>Hats</name><packageId>hats.mod</packageId></ModMetaData>`)
	writeMod(t, cfg.ForbiddenDir, "Cheat", `<ModMetaData><name>Cheat</name><packageId>cheat.menu</packageId></ModMetaData>`)
	writeMod(t, cfg.ForbiddenDir, "Broken", `not xml`)

	m := NewManager(cfg, zaptest.NewLogger(t))
	require.NoError(t, m.Load())

	manifest := m.Manifest()
	assert.Equal(t, []string{"ludeon.rimworld"}, manifest.Required)
	assert.Equal(t, []string{"hats.mod"}, manifest.Optional)
	assert.Equal(t, []string{"cheat.menu"}, manifest.Forbidden)
	assert.FileExists(t, filepath.Join(cfg.RequiredDir, "Core"+PackageExt))
	assert.Len(t, m.Packages(Required), 1)
}

func TestManager_LoadSkipsAlreadyPackaged(t *testing.T) {
	cfg := testModsConfig(t)
	dir := writeMod(t, cfg.RequiredDir, "Core", aboutXML)
	_, err := Convert(dir)
	require.NoError(t, err)

	// A stale package is kept as is; the directory is not reconverted.
	stale := []byte("name: Old\npackage_id: old.id\nhash: ABC\narchive: \"\"\n")
	require.NoError(t, os.WriteFile(dir+PackageExt, stale, 0644))

	m := NewManager(cfg, zaptest.NewLogger(t))
	require.NoError(t, m.Load())
	assert.Equal(t, []string{"old.id"}, m.Manifest().Required)
}

func TestManager_LoadCreatesMissingDirs(t *testing.T) {
	cfg := testModsConfig(t)
	m := NewManager(cfg, zaptest.NewLogger(t))
	require.NoError(t, m.Load())
	assert.DirExists(t, cfg.OptionalDir)
	assert.Empty(t, m.Manifest().Required)
}

func TestCheckCompatibility(t *testing.T) {
	manifest := Manifest{
		Required:  []string{"a", "b"},
		Optional:  []string{"c"},
		Forbidden: []string{"d"},
	}
	tests := []struct {
		name     string
		declared []string
		want     []string
	}{
		{"exact", []string{"a", "b", "c"}, nil},
		{"missing required", []string{"a"}, []string{"Required:b"}},
		{"forbidden", []string{"a", "b", "d"}, []string{"Disallowed:d", "Forbidden:d"}},
		{"disallowed", []string{"a", "b", "e"}, []string{"Disallowed:e"}},
		{"case insensitive", []string{"A", " B", "C"}, nil},
		{"duplicates reported once", []string{"a", "b", "e", "E"}, []string{"Disallowed:e"}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, CheckCompatibility(tc.declared, manifest))
		})
	}
}

func TestCheckCompatibility_EmptyManifest(t *testing.T) {
	assert.Empty(t, CheckCompatibility(nil, Manifest{}))
	assert.Equal(t, []string{"Disallowed:x"}, CheckCompatibility([]string{"x"}, Manifest{}))
}

func TestPropertyExactRequiredSetIsCompatible(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		ids := rapid.SliceOfDistinct(rapid.StringMatching(`[a-z]{1,8}\.[a-z]{1,8}`), func(s string) string { return s }).Draw(rt, "ids")
		split := rapid.IntRange(0, len(ids)).Draw(rt, "split")
		m := Manifest{Required: ids[:split], Optional: ids[split:]}

		declared := append([]string(nil), ids[:split]...)
		if report := CheckCompatibility(declared, m); len(report) != 0 {
			rt.Fatalf("expected no conflicts, got %v", report)
		}
	})
}

func TestPropertyEveryMissingRequiredIsReported(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		required := rapid.SliceOfDistinct(rapid.StringMatching(`[a-z]{1,6}`), func(s string) string { return s }).Draw(rt, "required")
		keep := rapid.IntRange(0, len(required)).Draw(rt, "keep")

		report := CheckCompatibility(required[:keep], Manifest{Required: required})
		if len(report) != len(required)-keep {
			rt.Fatalf("want %d conflicts, got %v", len(required)-keep, report)
		}
		for i, id := range required[keep:] {
			if report[i] != ReportRequired+id {
				rt.Fatalf("report[%d] = %q, want Required:%s", i, report[i], id)
			}
		}
	})
}
