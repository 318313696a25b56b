// Package marker reads and writes the plaintext marker of a tree: an optional
// submission target header, the activity log, and the identity lines added on
// export.
package marker

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/afero"

	"github.com/Ning0612/submitguard/internal/domain"
)

// Header keys and the line closing the header
const (
	ServerKey = "server:"
	PoolKey   = "poolID:"
	Separator = "**********      **********"
)

// Header line numbers (1-based)
const (
	ServerLine = 1
	PoolLine   = 2
)

// WriteMetadata replaces the marker at path. With both server and poolID set
// the new marker starts with the submission target header; otherwise it is empty.
func WriteMetadata(fsys afero.Fs, path, server, poolID string) error {
	var b strings.Builder
	if strings.TrimSpace(server) != "" && strings.TrimSpace(poolID) != "" {
		nl := domain.Newline()
		b.WriteString(ServerKey + server + nl)
		b.WriteString(PoolKey + poolID + nl)
		b.WriteString(Separator + nl)
	}

	if err := afero.WriteFile(fsys, path, []byte(b.String()), 0o644); err != nil {
		return fmt.Errorf("write marker %s: %w", path, err)
	}
	return nil
}

// AppendIdentity adds the submitter's name and user id to the marker
func AppendIdentity(fsys afero.Fs, path, fullName, userID string) error {
	nl := domain.Newline()
	line := nl + "Name: " + fullName + " - Username: " + userID + nl

	f, err := fsys.OpenFile(path, os.O_WRONLY|os.O_APPEND|os.O_CREATE, 0o644)
	if err != nil {
		return fmt.Errorf("open marker %s: %w", path, err)
	}
	if _, err := f.WriteString(line); err != nil {
		f.Close()
		return fmt.Errorf("append identity to %s: %w", path, err)
	}
	return f.Close()
}

// ReadValue returns the value of header line n when it carries a server or
// pool key. A line without a key, or a marker shorter than n lines, yields "".
func ReadValue(fsys afero.Fs, path string, n int) (string, error) {
	f, err := fsys.Open(path)
	if err != nil {
		return "", fmt.Errorf("open marker %s: %w", path, err)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for current := 1; scanner.Scan(); current++ {
		if current < n {
			continue
		}
		line := strings.TrimRight(scanner.Text(), "\r")
		for _, key := range []string{PoolKey, ServerKey} {
			if strings.HasPrefix(line, key) {
				return strings.TrimSpace(strings.TrimPrefix(line, key)), nil
			}
		}
		return "", nil
	}
	return "", scanner.Err()
}

// ReadTarget returns the server and pool recorded in the marker header
func ReadTarget(fsys afero.Fs, path string) (server, poolID string, err error) {
	if server, err = ReadValue(fsys, path, ServerLine); err != nil {
		return "", "", err
	}
	if poolID, err = ReadValue(fsys, path, PoolLine); err != nil {
		return "", "", err
	}
	return server, poolID, nil
}
