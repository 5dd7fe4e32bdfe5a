package utils

import (
	"context"
	"log/slog"
	"os"
	"os/exec"
	"runtime"
	"strings"
	"time"
)

// SystemInfo holds information about the current system
type SystemInfo struct {
	OS            string
	Architecture  string
	ChromePresent bool
	ChromePath    string
	SpoolerTools  map[string]bool
}

// DetectSystem returns information about the current operating system and architecture
func DetectSystem() SystemInfo {
	return SystemInfo{
		OS:           runtime.GOOS,
		Architecture: runtime.GOARCH,
	}
}

// --------------------------------------
// CHROME CHECK
// --------------------------------------

// CheckChrome checks if google-chrome or chromium is installed
func CheckChrome() (bool, string) {
	binaries := []string{
		"google-chrome",
		"google-chrome-stable",
		"chromium",
		"chromium-browser",
	}

	for _, bin := range binaries {
		path, err := exec.LookPath(bin)
		if err == nil {
			return true, path
		}
	}

	for _, path := range getCommonChromePaths(runtime.GOOS) {
		if _, err := os.Stat(path); err == nil {
			return true, path
		}
	}

	return false, ""
}

// getCommonChromePaths returns common Chrome/Chromium installation paths
func getCommonChromePaths(goos string) []string {
	switch goos {
	case "darwin":
		return []string{
			"/Applications/Google Chrome.app/Contents/MacOS/Google Chrome",
			"/Applications/Chromium.app/Contents/MacOS/Chromium",
		}

	case "linux":
		return []string{
			"/usr/bin/google-chrome",
			"/usr/bin/google-chrome-stable",
			"/usr/bin/chromium",
			"/usr/bin/chromium-browser",
			"/snap/bin/chromium",
		}

	case "windows":
		return []string{
			`C:\Program Files\Google\Chrome\Application\chrome.exe`,
			`C:\Program Files (x86)\Google\Chrome\Application\chrome.exe`,
			`C:\Program Files\Chromium\Application\chromium.exe`,
			`C:\Program Files (x86)\Chromium\Application\chromium.exe`,
		}

	default:
		return []string{}
	}
}

// --------------------------------------
// SPOOLER TOOLS
// --------------------------------------

// spoolerTools lists the binaries each printer backend shells out to.
func spoolerTools(goos string) []string {
	if goos == "windows" {
		return []string{"powershell.exe"}
	}
	return []string{"lpstat", "lp"}
}

// CheckSpoolerTools reports which spooler binaries are on PATH.
func CheckSpoolerTools(goos string) map[string]bool {
	found := make(map[string]bool)
	for _, bin := range spoolerTools(goos) {
		_, err := exec.LookPath(bin)
		found[bin] = err == nil
	}
	return found
}

// --------------------------------------
// VALIDATION
// --------------------------------------

// ValidateSystemRequirements logs what the bridge found on this machine.
// Nothing here is fatal: a missing spooler surfaces per request as
// SpoolerUnavailable, and without Chrome HTML is spooled unrendered.
func ValidateSystemRequirements(logger *slog.Logger) SystemInfo {
	sysInfo := DetectSystem()
	sysInfo.ChromePresent, sysInfo.ChromePath = CheckChrome()
	sysInfo.SpoolerTools = CheckSpoolerTools(sysInfo.OS)

	logger.Info("system detected", "os", sysInfo.OS, "arch", sysInfo.Architecture)

	for bin, ok := range sysInfo.SpoolerTools {
		if !ok {
			logger.Warn("spooler tool not found on PATH", "tool", bin)
		}
	}

	if sysInfo.ChromePresent {
		logger.Info("chrome found, html uploads will be rendered to pdf",
			"path", sysInfo.ChromePath,
			"version", getChromeVersion(sysInfo.ChromePath),
		)
	} else {
		logger.Warn("chrome/chromium not found, html uploads are spooled unrendered",
			"hint", chromeInstallHint(sysInfo.OS))
	}

	return sysInfo
}

// getChromeVersion attempts to get the version of Chrome/Chromium
func getChromeVersion(path string) string {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	output, err := exec.CommandContext(ctx, path, "--version").Output()
	if err != nil {
		return "unknown"
	}
	return strings.TrimSpace(string(output))
}

func chromeInstallHint(osType string) string {
	switch osType {
	case "linux":
		return "install chromium (apt install chromium-browser, dnf install chromium, pacman -S chromium)"
	case "darwin":
		return "brew install --cask google-chrome"
	case "windows":
		return "download Google Chrome from https://www.google.com/chrome/"
	default:
		return "install Chrome or Chromium for your OS"
	}
}
