package policy

import (
	"path/filepath"
	"strings"

	"github.com/mickyco94/labyrinth/internal/config"
)

// Marker is the filename suffix that denotes ciphertext at rest. It is the
// only on-disk record of a file's encryption state.
const Marker = ".encrypted"

// scratchInfix is embedded in the names of temporary files written while a
// transform is in progress
const scratchInfix = ".labyrinth-tmp-"

// HasMarker reports whether path names an encrypted file
func HasMarker(path string) bool {
	return strings.HasSuffix(path, Marker)
}

// Target returns the path a transform of path in the given direction writes
// to: the marker is appended when encrypting and stripped when decrypting.
func Target(path string, direction config.Direction) string {
	if direction == config.Encrypt {
		return path + Marker
	}
	return strings.TrimSuffix(path, Marker)
}

// ScratchPattern is the os.CreateTemp pattern for the scratch file of a
// transform writing to target
func ScratchPattern(target string) string {
	return filepath.Base(target) + scratchInfix + "*"
}

// IsScratch reports whether path is a transformer's scratch file
func IsScratch(path string) bool {
	return strings.Contains(filepath.Base(path), scratchInfix)
}

// Encryptable reports whether a file is in the state a transform in the
// given direction consumes: plaintext for encryption, ciphertext for
// decryption.
func Encryptable(path string, direction config.Direction) bool {
	if IsScratch(path) {
		return false
	}
	return HasMarker(path) == (direction == config.Decrypt)
}

// Eligible reports whether an event for path may fire a session with the
// given direction and trigger.
//
// Create and Modify require the file to be in the state the direction
// consumes. Delete is inverted: an encrypting session reacts to removal of
// an encrypted file and a decrypting session to removal of a plaintext one.
// The deleted file itself cannot be read, so the decision rests on its name.
func Eligible(path string, direction config.Direction, trigger config.Trigger) bool {
	if IsScratch(path) {
		return false
	}
	want := direction == config.Decrypt
	if trigger == config.Delete {
		want = !want
	}
	return HasMarker(path) == want
}
