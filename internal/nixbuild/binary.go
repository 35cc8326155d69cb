package nixbuild

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
)

// determinateProfileBin is where Determinate Nix installs its binaries.
// It is outside PATH by default.
const determinateProfileBin = "/nix/var/nix/profiles/default/bin"

// FindBinary resolves a binary by name, checking PATH first and then the
// Determinate Nix profile directory. A name containing a slash is used
// as given once it is confirmed to exist.
func FindBinary(name string) (string, error) {
	if filepath.Base(name) != name {
		if _, err := os.Stat(name); err != nil {
			return "", fmt.Errorf("nix binary: %w", err)
		}
		return name, nil
	}

	if path, err := exec.LookPath(name); err == nil {
		return path, nil
	}

	determinatePath := filepath.Join(determinateProfileBin, name)
	if _, err := os.Stat(determinatePath); err == nil {
		return determinatePath, nil
	}

	return "", fmt.Errorf("%s not found on PATH or at %s", name, determinatePath)
}
