/*
 * === This file is part of Polaris ===
 *
 * Copyright 2026 the Polaris authors.
 *
 * This program is free software: you can redistribute it and/or modify
 * it under the terms of the GNU General Public License as published by
 * the Free Software Foundation, either version 3 of the License, or
 * (at your option) any later version.
 *
 * This program is distributed in the hope that it will be useful,
 * but WITHOUT ANY WARRANTY; without even the implied warranty of
 * MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
 * GNU General Public License for more details.
 *
 * You should have received a copy of the GNU General Public License
 * along with this program.  If not, see <http://www.gnu.org/licenses/>.
 */

// Package product holds the user-visible name and version strings of
// the orchestration core.
package product

import (
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
)

const (
	NAME             = "polaris"
	PRETTY_SHORTNAME = "Polaris"
	PRETTY_FULLNAME  = "Polaris process orchestration core"
)

var ( // Acquired from -ldflags="-X=..." at build time
	VERSION_MAJOR = "0"
	VERSION_MINOR = "0"
	VERSION_PATCH = "0"
	BUILD         = ""
)

var versionOnce sync.Once

func executableDir() string {
	ex, err := os.Executable()
	if err != nil {
		return ""
	}
	return filepath.Dir(ex)
}

func readVersionFile(versionFilePath string) {
	contents, err := os.ReadFile(versionFilePath)
	if err != nil {
		return
	}
	for _, line := range strings.Split(string(contents), "\n") {
		key, value, found := strings.Cut(line, ":=")
		if !found {
			continue
		}
		switch strings.TrimSpace(key) {
		case "VERSION_MAJOR":
			VERSION_MAJOR = strings.TrimSpace(value)
		case "VERSION_MINOR":
			VERSION_MINOR = strings.TrimSpace(value)
		case "VERSION_PATCH":
			VERSION_PATCH = strings.TrimSpace(value)
		}
	}
}

// readBuildFromGit is the equivalent of git rev-parse --short HEAD, best effort.
func readBuildFromGit(localRepoPath string) {
	r, err := git.PlainOpenWithOptions(localRepoPath, &git.PlainOpenOptions{DetectDotGit: true})
	if err != nil {
		return
	}
	h, err := r.ResolveRevision(plumbing.Revision("HEAD"))
	if err != nil {
		return
	}
	BUILD = h.String()[:7]
}

func resolve() {
	// Built with go build directly, without ldflags.
	if VERSION_MAJOR == "0" && VERSION_MINOR == "0" && VERSION_PATCH == "0" && BUILD == "" {
		basePath := filepath.Dir(executableDir())
		versionFilePath := filepath.Join(basePath, "VERSION")
		if _, err := os.Stat(versionFilePath); err == nil {
			readVersionFile(versionFilePath)
		}
		readBuildFromGit(basePath)
	}
}

// Version returns MAJOR.MINOR.PATCH.
func Version() string {
	versionOnce.Do(resolve)
	return strings.Join([]string{VERSION_MAJOR, VERSION_MINOR, VERSION_PATCH}, ".")
}

// VersionBuild returns the version followed by the short build hash, if known.
func VersionBuild() string {
	v := Version()
	if BUILD == "" {
		return v
	}
	return v + "-" + BUILD
}
