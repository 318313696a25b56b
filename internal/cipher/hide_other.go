//go:build !windows

package cipher

// hideFile is a no-op: outside Windows hidden means a leading dot, and
// encrypted files keep their names.
func hideFile(path string) error {
	return nil
}
