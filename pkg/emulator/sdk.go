// Package emulator locates Android SDK tools, boots emulators and probes
// device readiness through adb.
package emulator

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
)

// SDKRoot returns the Android SDK directory: ANDROID_HOME, then ANDROID_SDK_ROOT,
// then ANDROID_SDK_HOME, then the macOS default under the user's home.
func SDKRoot() string {
	for _, env := range []string{"ANDROID_HOME", "ANDROID_SDK_ROOT", "ANDROID_SDK_HOME"} {
		if home := os.Getenv(env); home != "" {
			return home
		}
	}
	if home, err := os.UserHomeDir(); err == nil {
		return filepath.Join(home, "Library", "Android", "sdk")
	}
	return ""
}

// FindEmulatorBinary locates the Android emulator binary
func FindEmulatorBinary() (string, error) {
	return findTool("emulator",
		filepath.Join("emulator", "emulator"),
		filepath.Join("tools", "emulator"), // old layout
	)
}

// FindADB locates the adb binary.
func FindADB() (string, error) {
	return findTool("adb", filepath.Join("platform-tools", "adb"))
}

func findTool(name string, sdkPaths ...string) (string, error) {
	if root := SDKRoot(); root != "" {
		for _, rel := range sdkPaths {
			p := filepath.Join(root, rel)
			if info, err := os.Stat(p); err == nil && !info.IsDir() {
				return p, nil
			}
		}
	}

	if path, err := exec.LookPath(name); err == nil {
		return path, nil
	}

	return "", fmt.Errorf("%s binary not found. Set ANDROID_HOME or add %s to PATH", name, name)
}

// IsEmulator checks if a device serial is an emulator
func IsEmulator(serial string) bool {
	return strings.HasPrefix(serial, "emulator-")
}

// SerialForPort returns the adb serial of an emulator on console port.
func SerialForPort(port int) string {
	return fmt.Sprintf("emulator-%d", port)
}

// PortForSerial returns the console port of an emulator serial, or
// DefaultConsolePort for anything else.
func PortForSerial(serial string) int {
	if !IsEmulator(serial) {
		return DefaultConsolePort
	}
	port, err := strconv.Atoi(strings.TrimPrefix(serial, "emulator-"))
	if err != nil || port <= 0 {
		return DefaultConsolePort
	}
	return port
}
