package logging

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"

	"github.com/sirupsen/logrus"
)

func TestSupervisorLevelIsIndependent(t *testing.T) {
	defer SetLogLevel("info")

	if err := SetLogLevel("warn"); err != nil {
		t.Fatalf("SetLogLevel: %v", err)
	}
	if err := SetSupervisorLogLevel("debug"); err != nil {
		t.Fatalf("SetSupervisorLogLevel: %v", err)
	}
	if GetLogger().GetLevel() != logrus.WarnLevel || GetSupervisorLogger().GetLevel() != logrus.DebugLevel {
		t.Fatalf("levels = %v, %v", GetLogger().GetLevel(), GetSupervisorLogger().GetLevel())
	}
	if err := SetSupervisorLogLevel("chatty"); err == nil {
		t.Fatal("expected error for unknown level")
	}
}

func TestJSONFormat(t *testing.T) {
	var buf bytes.Buffer
	SetOutput(&buf)
	defer SetOutput(&bytes.Buffer{})
	defer SetFormat("text")

	if err := SetFormat("json"); err != nil {
		t.Fatalf("SetFormat: %v", err)
	}
	GetSupervisorLogger().WithField("pid", 7).Info("polled")

	var entry map[string]interface{}
	if err := json.Unmarshal(bytes.TrimSpace(buf.Bytes()), &entry); err != nil {
		t.Fatalf("not json: %q", buf.String())
	}
	if entry["poll_msg"] != "polled" || entry["pid"] != float64(7) {
		t.Fatalf("entry = %v", entry)
	}

	if err := SetFormat("xml"); err == nil || !strings.Contains(err.Error(), "xml") {
		t.Fatalf("expected unknown format error, got %v", err)
	}
}
