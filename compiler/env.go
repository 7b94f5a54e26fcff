package compiler

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
)

// overrideEnvVar points to a local compiler binary for development,
// bypassing the packaged (platform, arch) binary lookup entirely
// (spec.md §6.4).
const overrideEnvVar = "SASS_EMBEDDED_COMPILER_PATH"

// muslLinkerPrefix is the prefix of the musl dynamic linker's path as it
// appears in an ELF PT_INTERP segment, e.g. "/lib/ld-musl-x86_64.so.1".
const muslLinkerPrefix = "ld-musl-"

// ResolveCompilerPath locates the compiler child binary: an override
// path from SASS_EMBEDDED_COMPILER_PATH if set, else a binary selected
// by (GOOS, GOARCH) and, on linux, whether the running interpreter links
// against musl or glibc (spec.md §6.4).
func ResolveCompilerPath(root string) (string, error) {
	if override := os.Getenv(overrideEnvVar); override != "" {
		return override, nil
	}

	variant, err := platformVariant(root)
	if err != nil {
		return "", err
	}
	path := filepath.Join(root, variant)
	if _, err := os.Stat(path); err != nil {
		return "", fmt.Errorf("compiler: no compiler binary for this platform at %s: %w", path, err)
	}
	return path, nil
}

func platformVariant(root string) (string, error) {
	arch := runtime.GOARCH
	switch runtime.GOOS {
	case "linux":
		libc := "glibc"
		if isMuslLinked() {
			libc = "musl"
		}
		return fmt.Sprintf("linux-%s-%s/sass", arch, libc), nil
	case "darwin":
		return fmt.Sprintf("darwin-%s/sass", arch), nil
	case "windows":
		return fmt.Sprintf("windows-%s/sass.exe", arch), nil
	default:
		return "", fmt.Errorf("compiler: unsupported platform %s/%s", runtime.GOOS, arch)
	}
}

// isMuslLinked reads the .interp section of the running Go binary and
// reports whether its dynamic-linker path contains ld-musl- (for example
// "/lib/ld-musl-x86_64.so.1"), the detection spec.md §6.4 specifies. Failures to read or parse the binary are
// treated as "not musl" rather than fatal, since this is a best-effort
// optimization: a glibc binary still runs (slower, via compat shims) on
// most musl systems.
func isMuslLinked() bool {
	self, err := os.Executable()
	if err != nil {
		return false
	}
	f, err := os.Open(self)
	if err != nil {
		return false
	}
	defer f.Close()

	interp, err := readELFInterp(f)
	if err != nil {
		return false
	}
	return bytes.Contains(interp, []byte(muslLinkerPrefix))
}
