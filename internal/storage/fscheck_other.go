//go:build !darwin && !linux

package storage

// Without a detector every filesystem is treated as local.
func detectFilesystemType(string) (string, error) {
	return "unknown", nil
}
