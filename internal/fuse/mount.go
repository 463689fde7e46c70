package fuse

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/ledgate/ledgate/pkg/utils"
)

// ensureMountPoint makes dir usable as a mount point. It reports whether the
// directory was created here. A stale mount left by a previous run is
// detached first.
func ensureMountPoint(dir string, logger *utils.Logger) (bool, error) {
	info, err := os.Stat(dir)
	if err != nil {
		if !os.IsNotExist(err) {
			return false, fmt.Errorf("cannot access mount point: %w", err)
		}
		if err := os.MkdirAll(dir, 0755); err != nil {
			return false, fmt.Errorf("cannot create mount point: %w", err)
		}
		return true, nil
	}

	if !info.IsDir() {
		return false, fmt.Errorf("mount point is not a directory: %s", dir)
	}

	if isMounted(dir) {
		logger.Warn("Mount point %s is still mounted, detaching stale mount", dir)
		if err := forceUnmount(dir); err != nil {
			return false, fmt.Errorf("mount point %s is already mounted: %w", dir, err)
		}
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		return false, fmt.Errorf("cannot read mount point directory: %w", err)
	}
	if len(entries) > 0 {
		logger.Warn("Mount point %s is not empty", dir)
	}
	return false, nil
}

// isMounted checks /proc/mounts for dir.
func isMounted(dir string) bool {
	f, err := os.Open("/proc/mounts")
	if err != nil {
		return false
	}
	defer f.Close()

	return mountsContain(bufio.NewScanner(f), filepath.Clean(dir))
}

func mountsContain(scanner *bufio.Scanner, dir string) bool {
	for scanner.Scan() {
		fields := strings.Fields(scanner.Text())
		if len(fields) > 1 && unescapeMountPath(fields[1]) == dir {
			return true
		}
	}
	return false
}

// unescapeMountPath undoes the octal escaping /proc/mounts applies to spaces
// and other whitespace.
func unescapeMountPath(path string) string {
	r := strings.NewReplacer(`\040`, " ", `\011`, "\t", `\012`, "\n", `\134`, `\`)
	return r.Replace(path)
}

func forceUnmount(dir string) error {
	err := syscall.Unmount(dir, syscall.MNT_DETACH)
	if err == nil {
		return nil
	}
	return syscall.Unmount(dir, syscall.MNT_FORCE)
}
