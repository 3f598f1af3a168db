// Package device maps filesystem paths to the physical device that serves them.
//
// Paths that resolve to the same ID share one IO admission limit. Resolution is
// total: unresolvable paths land in the root bucket instead of failing.
package device

import (
	"path/filepath"
	"runtime"
	"strings"
)

// ID identifies a physical device: an uppercase drive letter ("C") for
// Windows-style paths, or a mount point ("/", "/mnt/media") elsewhere.
type ID string

// Root is the bucket for POSIX paths whose mount point cannot be determined.
const Root ID = "/"

// DefaultDrive is used for rooted Windows paths that carry no drive letter.
const DefaultDrive ID = "C"

// StatFunc returns the device number of the filesystem holding path.
type StatFunc func(path string) (dev uint64, err error)

// Resolver resolves paths to device IDs. The zero value uses the platform stat.
type Resolver struct {
	Stat StatFunc
	// Windows forces drive-letter semantics for rooted paths without a drive.
	Windows bool
}

// Default is the resolver used by Resolve.
var Default = &Resolver{Windows: runtime.GOOS == "windows"}

// Resolve maps path to its physical device with the Default resolver.
func Resolve(path string) ID { return Default.Resolve(path) }

// Resolve maps path to its physical device. It never fails.
func (r *Resolver) Resolve(path string) ID {
	p := strings.TrimSpace(path)
	if id, ok := driveLetter(p); ok {
		return id
	}
	if r != nil && r.Windows && (strings.HasPrefix(p, `\`) || strings.HasPrefix(p, "/")) {
		return DefaultDrive
	}
	if p == "" {
		return Root
	}
	abs, err := filepath.Abs(p)
	if err != nil {
		return Root
	}
	return r.mountPoint(filepath.Clean(abs))
}

// driveLetter recognises "C:", "c:\x", "C:/x", the drive-relative "C:x" and
// the "\\?\C:\x" long form.
func driveLetter(p string) (ID, bool) {
	p = strings.TrimPrefix(p, `\\?\`)
	p = strings.TrimPrefix(p, `//?/`)
	if len(p) < 2 || p[1] != ':' {
		return "", false
	}
	c := p[0]
	if !(c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z') {
		return "", false
	}
	return ID(strings.ToUpper(string(c))), true
}

// mountPoint walks up from p while the device number stays the same. The last
// directory on p's device is the mount point.
func (r *Resolver) mountPoint(p string) ID {
	stat := platformStat
	if r != nil && r.Stat != nil {
		stat = r.Stat
	}
	if stat == nil {
		return Root
	}

	// Nonexistent leaves resolve through their nearest existing ancestor.
	cur := p
	dev, err := stat(cur)
	for err != nil {
		parent := filepath.Dir(cur)
		if parent == cur {
			return Root
		}
		cur = parent
		dev, err = stat(cur)
	}

	for {
		parent := filepath.Dir(cur)
		if parent == cur {
			return ID(cur)
		}
		pdev, err := stat(parent)
		if err != nil {
			return Root
		}
		if pdev != dev {
			return ID(cur)
		}
		cur = parent
	}
}

// Normalize canonicalises a device ID written by hand, e.g. in a config file:
// "c:" and "c" become "C", mount points are cleaned.
func Normalize(s string) ID {
	s = strings.TrimSpace(s)
	if s == "" {
		return ""
	}
	if id, ok := driveLetter(s); ok {
		return id
	}
	if len(s) == 1 && (s[0] >= 'a' && s[0] <= 'z' || s[0] >= 'A' && s[0] <= 'Z') {
		return ID(strings.ToUpper(s))
	}
	return ID(filepath.Clean(s))
}
