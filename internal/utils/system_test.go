package utils

import "testing"

func TestSpoolerTools(t *testing.T) {
	if tools := spoolerTools("windows"); len(tools) != 1 || tools[0] != "powershell.exe" {
		t.Fatalf("windows tools = %v", tools)
	}
	if tools := spoolerTools("linux"); len(tools) != 2 {
		t.Fatalf("linux tools = %v", tools)
	}
}

func TestGetCommonChromePaths(t *testing.T) {
	for _, goos := range []string{"darwin", "linux", "windows"} {
		if len(getCommonChromePaths(goos)) == 0 {
			t.Errorf("no chrome paths for %s", goos)
		}
	}
	if len(getCommonChromePaths("plan9")) != 0 {
		t.Error("unexpected chrome paths for plan9")
	}
}
