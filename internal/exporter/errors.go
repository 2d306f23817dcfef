package exporter

import (
	"context"
	"errors"
	"io/fs"
	"net"
	"strings"
	"syscall"
)

// Error classes for storage failures during a flush.
const (
	StorageErrorClassDiskFull   = "disk_full"
	StorageErrorClassPermission = "permission"
	StorageErrorClassTimeout    = "timeout"
	StorageErrorClassNotFound   = "not_found"
	StorageErrorClassConnection = "connection"
	StorageErrorClassUnknown    = "unknown"
)

// ClassifyStorageError maps a flush failure to a coarse class so operators can
// alert on categories instead of raw error strings.
func ClassifyStorageError(err error) string {
	if err == nil {
		return StorageErrorClassUnknown
	}

	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return StorageErrorClassTimeout
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return StorageErrorClassTimeout
	}
	if errors.Is(err, syscall.ENOSPC) || errors.Is(err, syscall.EDQUOT) {
		return StorageErrorClassDiskFull
	}
	if errors.Is(err, fs.ErrPermission) || errors.Is(err, syscall.EROFS) {
		return StorageErrorClassPermission
	}
	if errors.Is(err, fs.ErrNotExist) {
		return StorageErrorClassNotFound
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return StorageErrorClassConnection
	}

	// Bucket and driver errors often only survive as text.
	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "no space left"), strings.Contains(msg, "quota"):
		return StorageErrorClassDiskFull
	case strings.Contains(msg, "permission denied"), strings.Contains(msg, "access denied"), strings.Contains(msg, "forbidden"):
		return StorageErrorClassPermission
	case strings.Contains(msg, "timeout"), strings.Contains(msg, "deadline exceeded"):
		return StorageErrorClassTimeout
	case strings.Contains(msg, "connection refused"), strings.Contains(msg, "no such host"), strings.Contains(msg, "broken pipe"):
		return StorageErrorClassConnection
	case strings.Contains(msg, "not found"), strings.Contains(msg, "no such bucket"):
		return StorageErrorClassNotFound
	}
	return StorageErrorClassUnknown
}
