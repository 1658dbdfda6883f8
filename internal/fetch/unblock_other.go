//go:build !windows

package fetch

// Unblock is a no-op on platforms without network-provenance markers.
func Unblock(path string) error {
	return nil
}
