package e2e

import (
	"os"
	"os/exec"
	"testing"
)

var looperBin string

func TestMain(m *testing.M) {
	looperBin = envOrLookPath("LOOPER_BIN", "looper")
	os.Exit(m.Run())
}

func envOrLookPath(envVar, name string) string {
	if v := os.Getenv(envVar); v != "" {
		return v
	}
	if path, err := exec.LookPath(name); err == nil {
		return path
	}
	return ""
}
