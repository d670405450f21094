//go:build !linux && !darwin && !windows

package storage

import (
	"errors"
	"runtime"
)

func freeBytes(string) (uint64, error) {
	return 0, errors.New("free space query not supported on " + runtime.GOOS)
}
