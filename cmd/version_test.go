package cmd

import (
	"bytes"
	"testing"
)

func TestVersionCmd(t *testing.T) {
	var buf bytes.Buffer
	versionCmd.SetOut(&buf)
	defer versionCmd.SetOut(nil)

	versionCmd.Run(versionCmd, nil)

	if got, want := buf.String(), "affinity "+version+"\n"; got != want {
		t.Errorf("version output = %q, want %q", got, want)
	}
}
