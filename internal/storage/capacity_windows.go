//go:build windows

package storage

import (
	"fmt"

	"golang.org/x/sys/windows"
)

func freeBytes(path string) (uint64, error) {
	dir, err := windows.UTF16PtrFromString(path)
	if err != nil {
		return 0, fmt.Errorf("invalid path %s: %w", path, err)
	}

	var available, total, free uint64
	if err := windows.GetDiskFreeSpaceEx(dir, &available, &total, &free); err != nil {
		return 0, fmt.Errorf("failed to query free space on %s: %w", path, err)
	}
	return available, nil
}
