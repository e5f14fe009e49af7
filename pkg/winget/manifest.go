package winget

import (
	"context"
	"fmt"
	"path"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/funish/nexus/pkg/nexuserr"
	"github.com/funish/nexus/pkg/observability"
)

// Manifest kinds, distinguished by filename suffix:
// <Id>.installer.yaml, <Id>.locale.<bcp47>.yaml, and the version manifest.
type manifestKind int

const (
	kindVersion manifestKind = iota
	kindLocale
	kindInstaller
)

func classifyManifest(p string) manifestKind {
	name := path.Base(p)
	switch {
	case strings.HasSuffix(name, ".installer.yaml"):
		return kindInstaller
	case strings.Contains(name, ".locale."):
		return kindLocale
	default:
		return kindVersion
	}
}

// VersionManifest is the primary YAML of a package version.
type VersionManifest struct {
	PackageIdentifier string `yaml:"PackageIdentifier" json:"PackageIdentifier"`
	PackageVersion    string `yaml:"PackageVersion" json:"PackageVersion"`
	DefaultLocale     string `yaml:"DefaultLocale" json:"DefaultLocale,omitempty"`
	Channel           string `yaml:"Channel" json:"Channel,omitempty"`
	ManifestType      string `yaml:"ManifestType" json:"ManifestType,omitempty"`
	ManifestVersion   string `yaml:"ManifestVersion" json:"ManifestVersion,omitempty"`
}

// LocaleManifest carries the localized metadata of a package version.
type LocaleManifest struct {
	PackageIdentifier string `yaml:"PackageIdentifier" json:"PackageIdentifier"`
	PackageVersion    string `yaml:"PackageVersion" json:"PackageVersion"`
	PackageLocale     string `yaml:"PackageLocale" json:"PackageLocale"`
	Publisher         string `yaml:"Publisher" json:"Publisher,omitempty"`
	PublisherURL      string `yaml:"PublisherUrl" json:"PublisherUrl,omitempty"`
	PackageName       string `yaml:"PackageName" json:"PackageName,omitempty"`
	PackageURL        string `yaml:"PackageUrl" json:"PackageUrl,omitempty"`
	License           string `yaml:"License" json:"License,omitempty"`
	ShortDescription  string `yaml:"ShortDescription" json:"ShortDescription,omitempty"`
	Description       string `yaml:"Description" json:"Description,omitempty"`
	Tags              []string `yaml:"Tags" json:"Tags,omitempty"`
}

// Installer is one installer of an installer manifest.
type Installer struct {
	InstallerIdentifier string `yaml:"InstallerIdentifier" json:"InstallerIdentifier,omitempty"`
	Architecture        string `yaml:"Architecture" json:"Architecture,omitempty"`
	InstallerType       string `yaml:"InstallerType" json:"InstallerType,omitempty"`
	InstallerURL        string `yaml:"InstallerUrl" json:"InstallerUrl,omitempty"`
	InstallerSha256     string `yaml:"InstallerSha256" json:"InstallerSha256,omitempty"`
	Scope               string `yaml:"Scope" json:"Scope,omitempty"`
}

// InstallerManifest lists the installers of a package version. Top-level
// InstallerType acts as the default for installers that omit their own.
type InstallerManifest struct {
	PackageIdentifier string      `yaml:"PackageIdentifier" json:"PackageIdentifier"`
	PackageVersion    string      `yaml:"PackageVersion" json:"PackageVersion"`
	InstallerType     string      `yaml:"InstallerType" json:"InstallerType,omitempty"`
	Installers        []Installer `yaml:"Installers" json:"Installers"`
}

// VersionManifest fetches and parses the primary YAML of (id, version).
// This is a foreground parse: malformed YAML surfaces as InvalidManifest.
func (ix *Index) VersionManifest(ctx context.Context, id, version string) (*VersionManifest, error) {
	paths, err := ix.ManifestPaths(ctx, id, version)
	if err != nil {
		return nil, err
	}
	for _, p := range paths {
		if classifyManifest(p) != kindVersion {
			continue
		}
		data, err := ix.ManifestFile(ctx, p)
		if err != nil {
			return nil, err
		}
		var m VersionManifest
		if err := yaml.Unmarshal(data, &m); err != nil {
			return nil, fmt.Errorf("%w: %s: %v", nexuserr.ErrInvalidManifest, p, err)
		}
		return &m, nil
	}
	return nil, fmt.Errorf("%w: %s@%s has no version manifest", nexuserr.ErrVersionNotFound, id, version)
}

// Locales fetches and parses every locale manifest of (id, version).
// Malformed locale files are logged and skipped rather than failing the set.
func (ix *Index) Locales(ctx context.Context, id, version string) ([]LocaleManifest, error) {
	paths, err := ix.ManifestPaths(ctx, id, version)
	if err != nil {
		return nil, err
	}

	var out []LocaleManifest
	for _, p := range paths {
		if classifyManifest(p) != kindLocale {
			continue
		}
		data, err := ix.ManifestFile(ctx, p)
		if err != nil {
			return nil, err
		}
		var m LocaleManifest
		if err := yaml.Unmarshal(data, &m); err != nil {
			observability.FromContext(ctx).WithError(err).WithField("path", p).
				Warn("skipping malformed locale manifest")
			continue
		}
		out = append(out, m)
	}
	return out, nil
}

// Installers fetches and parses the installer manifest of (id, version),
// applying the manifest-level InstallerType default.
func (ix *Index) Installers(ctx context.Context, id, version string) ([]Installer, error) {
	paths, err := ix.ManifestPaths(ctx, id, version)
	if err != nil {
		return nil, err
	}
	for _, p := range paths {
		if classifyManifest(p) != kindInstaller {
			continue
		}
		data, err := ix.ManifestFile(ctx, p)
		if err != nil {
			return nil, err
		}
		var m InstallerManifest
		if err := yaml.Unmarshal(data, &m); err != nil {
			return nil, fmt.Errorf("%w: %s: %v", nexuserr.ErrInvalidManifest, p, err)
		}
		for i := range m.Installers {
			if m.Installers[i].InstallerType == "" {
				m.Installers[i].InstallerType = m.InstallerType
			}
		}
		return m.Installers, nil
	}
	return nil, nil
}
