package domain

import "path/filepath"

const (
	// EncryptedSuffix is appended to every file the cipher engine protects
	EncryptedSuffix = ".uoc"

	// DefaultMarkerName is the marker (data) file whose encrypted form flags a managed tree
	DefaultMarkerName = ".uoc.data"
)

// MarkerFile returns the plaintext marker path for a tree root
func MarkerFile(root, name string) string {
	if name == "" {
		name = DefaultMarkerName
	}
	return filepath.Join(root, name)
}

// EncryptedMarkerFile returns the encrypted marker path for a tree root
func EncryptedMarkerFile(root, name string) string {
	return MarkerFile(root, name) + EncryptedSuffix
}

// Actor is the privilege level of the person running a session
type Actor int

const (
	// ActorOrdinary is a student: trees are protected and activity is logged
	ActorOrdinary Actor = iota

	// ActorAdministrator is an instructor: no logging, markers stay readable
	ActorAdministrator
)

// IsAdministrator reports whether the actor holds the administrative secret
func (a Actor) IsAdministrator() bool {
	return a == ActorAdministrator
}

func (a Actor) String() string {
	if a == ActorAdministrator {
		return "administrator"
	}
	return "ordinary"
}
