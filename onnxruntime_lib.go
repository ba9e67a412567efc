package flashsr

import (
	"os"
	"path/filepath"
	"runtime"
	"sync"

	ort "github.com/yalue/onnxruntime_go"
)

func pathExists(p string) bool {
	_, err := os.Stat(p)
	return err == nil
}

// BundledLibDir is the directory name under which platform-specific ONNX Runtime
// libraries are stored (e.g. lib/linux_amd64/libonnxruntime.so).
const BundledLibDir = "lib"

// DataDir is the directory where the runtime may also be stored under a
// per-arch name (e.g. data/onnxruntime_amd64.so).
const DataDir = "data"

// bundledLibNames returns candidate filenames for the ONNX Runtime shared library
// on the current OS. The first existing file in the list is used.
func bundledLibNames() []string {
	switch runtime.GOOS {
	case "darwin":
		return []string{"libonnxruntime.dylib"}
	case "windows":
		return []string{"onnxruntime.dll"}
	default:
		return []string{"libonnxruntime.so.1.23.2", "libonnxruntime.so"}
	}
}

func dataDirLibName() string {
	switch runtime.GOOS {
	case "darwin":
		return "onnxruntime_" + runtime.GOARCH + ".dylib"
	case "windows":
		return "onnxruntime.dll"
	default:
		return "onnxruntime_" + runtime.GOARCH + ".so"
	}
}

func bundledLibPlatform() string {
	return runtime.GOOS + "_" + runtime.GOARCH
}

// candidateBaseDirs returns the working directory, then the directory of
// the running executable when it differs.
func candidateBaseDirs() []string {
	cwd, _ := os.Getwd()
	exe, err := os.Executable()
	if err != nil {
		return []string{cwd}
	}
	exeDir := filepath.Dir(exe)
	if exeDir == cwd {
		return []string{cwd}
	}
	return []string{cwd, exeDir}
}

// resolveBundledLib returns the first path that exists. It checks data/
// with per-arch names in every base dir, then lib/<platform>/ with standard
// names. Empty means nothing was found and the loader default applies.
func resolveBundledLib(baseDirs []string) string {
	platform := bundledLibPlatform()
	dataName := dataDirLibName()
	for _, base := range baseDirs {
		if base == "" {
			continue
		}
		p := filepath.Join(base, DataDir, dataName)
		if pathExists(p) {
			return p
		}
	}
	for _, base := range baseDirs {
		if base == "" {
			continue
		}
		for _, name := range bundledLibNames() {
			p := filepath.Join(base, BundledLibDir, platform, name)
			if pathExists(p) {
				return p
			}
		}
	}
	return ""
}

// ortMu serializes environment setup. A failed init is retried on the next
// call instead of being remembered.
var ortMu sync.Mutex

func initORT(libPath string) error {
	ortMu.Lock()
	defer ortMu.Unlock()
	if ort.IsInitialized() {
		return nil
	}
	if libPath == "" {
		libPath = resolveBundledLib(candidateBaseDirs())
	}
	if libPath != "" {
		ort.SetSharedLibraryPath(libPath)
	}
	return ort.InitializeEnvironment()
}
