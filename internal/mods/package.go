// Package mods converts mod directories into packaged .mpmod files, loads the
// server's mod policy from them, and checks a client's declared mods against it.
package mods

import (
	"archive/zip"
	"bytes"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// PackageExt is the extension of a converted mod package.
const PackageExt = ".mpmod"

// ErrNoAbout is returned when a mod directory contains no About.xml.
var ErrNoAbout = errors.New("About.xml not found")

// Package is one converted mod as stored on disk.
type Package struct {
	Name      string `yaml:"name"`
	PackageID string `yaml:"package_id"`
	Hash      string `yaml:"hash"`
	// Archive is the base64 encoded zip of the mod directory.
	Archive string `yaml:"archive"`
}

// ArchiveBytes decodes the embedded zip archive.
func (p Package) ArchiveBytes() ([]byte, error) {
	data, err := base64.StdEncoding.DecodeString(p.Archive)
	if err != nil {
		return nil, fmt.Errorf("decoding archive of %q: %w", p.PackageID, err)
	}
	return data, nil
}

// aboutFile mirrors the fields read from a mod's About/About.xml.
type aboutFile struct {
	XMLName   xml.Name `xml:"ModMetaData"`
	Name      string   `xml:"name"`
	PackageID string   `xml:"packageId"`
}

// Convert packages the mod directory at dir into <dir>.mpmod and returns the
// written package.
//
// Precondition: dir must be a directory containing an About.xml somewhere below it.
// Postcondition: <dir>.mpmod exists and no intermediate archive is left behind, or an error is returned.
func Convert(dir string) (Package, error) {
	aboutPath, err := findAbout(dir)
	if err != nil {
		return Package{}, err
	}
	about, err := readAbout(aboutPath)
	if err != nil {
		return Package{}, err
	}

	archive, err := zipDir(dir)
	if err != nil {
		return Package{}, fmt.Errorf("archiving %s: %w", dir, err)
	}

	pkg := Package{
		Name:      about.Name,
		PackageID: about.PackageID,
		Hash:      Hash(archive),
		Archive:   base64.StdEncoding.EncodeToString(archive),
	}

	data, err := yaml.Marshal(pkg)
	if err != nil {
		return Package{}, fmt.Errorf("serialising package %q: %w", pkg.PackageID, err)
	}
	outPath := strings.TrimRight(dir, string(filepath.Separator)) + PackageExt
	if err := os.WriteFile(outPath, data, 0644); err != nil {
		return Package{}, fmt.Errorf("writing package %s: %w", outPath, err)
	}
	return pkg, nil
}

// LoadPackage reads a converted .mpmod file.
func LoadPackage(path string) (Package, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Package{}, fmt.Errorf("reading package %s: %w", path, err)
	}
	var pkg Package
	if err := yaml.Unmarshal(data, &pkg); err != nil {
		return Package{}, fmt.Errorf("parsing package %s: %w", path, err)
	}
	if pkg.PackageID == "" {
		return Package{}, fmt.Errorf("package %s has no package_id", path)
	}
	return pkg, nil
}

// Hash returns the upper-case hex SHA-256 of data.
func Hash(data []byte) string {
	sum := sha256.Sum256(data)
	return strings.ToUpper(hex.EncodeToString(sum[:]))
}

func findAbout(dir string) (string, error) {
	var found string
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() && strings.EqualFold(d.Name(), "About.xml") {
			found = path
			return fs.SkipAll
		}
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("searching %s: %w", dir, err)
	}
	if found == "" {
		return "", fmt.Errorf("%s: %w", dir, ErrNoAbout)
	}
	return found, nil
}

func readAbout(path string) (aboutFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return aboutFile{}, fmt.Errorf("reading %s: %w", path, err)
	}
	var about aboutFile
	if err := xml.Unmarshal(data, &about); err != nil {
		return aboutFile{}, fmt.Errorf("parsing %s: %w", path, err)
	}
	about.Name = strings.TrimSpace(about.Name)
	about.PackageID = strings.TrimSpace(about.PackageID)
	if about.PackageID == "" {
		return aboutFile{}, fmt.Errorf("%s has no packageId", path)
	}
	return about, nil
}

// zipDir archives every regular file below dir, with paths relative to dir.
func zipDir(dir string) ([]byte, error) {
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)

	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.Type().IsRegular() {
			return nil
		}
		rel, err := filepath.Rel(dir, path)
		if err != nil {
			return err
		}
		w, err := zw.Create(filepath.ToSlash(rel))
		if err != nil {
			return err
		}
		f, err := os.Open(path)
		if err != nil {
			return err
		}
		defer f.Close()
		_, err = io.Copy(w, f)
		return err
	})
	if err != nil {
		return nil, err
	}
	if err := zw.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
