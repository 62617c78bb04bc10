package main

import (
	"bytes"
	"encoding/hex"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/morezero/cim-broker/pkg/db"
	"github.com/morezero/cim-broker/pkg/message"
)

const mainTestPrefix = "cmd/cimserver:main_test"

func TestUsage_NonEmpty(t *testing.T) {
	if len(usage) == 0 {
		t.Fatalf("%s - usage string is empty", mainTestPrefix)
	}
}

func TestUsage_ContainsCommands(t *testing.T) {
	required := []string{"serve", "agent", "migrate", "clear", "seed", "decode", "--hex", "DATABASE_URL", "AGENT_GROUP"}
	for _, word := range required {
		if !strings.Contains(usage, word) {
			t.Errorf("%s - usage should contain %q", mainTestPrefix, word)
		}
	}
}

func TestTargetDatabaseURL(t *testing.T) {
	got, err := targetDatabaseURL("postgres://u:p@localhost:5432/main?sslmode=disable", "cimbroker_test")
	if err != nil {
		t.Fatalf("%s - targetDatabaseURL: %v", mainTestPrefix, err)
	}
	want := "postgres://u:p@localhost:5432/cimbroker_test?sslmode=disable"
	if got != want {
		t.Errorf("%s - got %q, want %q", mainTestPrefix, got, want)
	}
}

func encodedRequest(t *testing.T) (*message.Message, []byte) {
	t.Helper()
	req := message.New(&message.NotifyProviderFailRequest{ModuleName: "OSModule", UserName: "alice"})
	b, err := message.Encode(req)
	if err != nil {
		t.Fatalf("%s - Encode: %v", mainTestPrefix, err)
	}
	return req, b
}

func TestRunDecode_RawAndHex(t *testing.T) {
	req, b := encodedRequest(t)
	dir := t.TempDir()
	rawPath := filepath.Join(dir, "msg.bin")
	hexPath := filepath.Join(dir, "msg.hex")
	if err := os.WriteFile(rawPath, b, 0o600); err != nil {
		t.Fatal(err)
	}
	// Line breaks in hex dumps are ignored.
	h := hex.EncodeToString(b)
	if err := os.WriteFile(hexPath, []byte(h[:10]+"\n"+h[10:]+"\n"), 0o600); err != nil {
		t.Fatal(err)
	}

	for _, args := range [][]string{{rawPath}, {"--hex", hexPath}} {
		var out bytes.Buffer
		if err := runDecode(args, &out); err != nil {
			t.Fatalf("%s - runDecode(%v): %v", mainTestPrefix, args, err)
		}
		for _, want := range []string{req.ID, "OSModule", "alice"} {
			if !strings.Contains(out.String(), want) {
				t.Errorf("%s - runDecode(%v) output missing %q:\n%s", mainTestPrefix, args, want, out.String())
			}
		}
	}
}

func TestRunDecode_Errors(t *testing.T) {
	dir := t.TempDir()
	junk := filepath.Join(dir, "junk.bin")
	if err := os.WriteFile(junk, []byte{0x01, 0x02}, 0o600); err != nil {
		t.Fatal(err)
	}
	badHex := filepath.Join(dir, "bad.hex")
	if err := os.WriteFile(badHex, []byte("zz"), 0o600); err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name string
		args []string
	}{
		{"no file", nil},
		{"two files", []string{junk, junk}},
		{"missing file", []string{filepath.Join(dir, "missing")}},
		{"not a message", []string{junk}},
		{"bad hex", []string{"--hex", badHex}},
		{"unknown flag", []string{"--bogus", junk}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := runDecode(tt.args, &bytes.Buffer{}); err == nil {
				t.Errorf("%s - expected error", mainTestPrefix)
			}
		})
	}
}

func TestPrintMigrationStatus(t *testing.T) {
	var out bytes.Buffer
	printMigrationStatus(&out, []db.MigrationState{
		{Version: "0001_init", Applied: true, Reversible: true},
		{Version: "0002_groups"},
	})
	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	if len(lines) != 2 {
		t.Fatalf("%s - got %d lines, want 2:\n%s", mainTestPrefix, len(lines), out.String())
	}
	if !strings.Contains(lines[0], "applied") || strings.Contains(lines[0], "irreversible") {
		t.Errorf("%s - line 0 = %q", mainTestPrefix, lines[0])
	}
	if !strings.Contains(lines[1], "pending (irreversible)") {
		t.Errorf("%s - line 1 = %q", mainTestPrefix, lines[1])
	}

	out.Reset()
	printMigrationStatus(&out, nil)
	if !strings.Contains(out.String(), "No migrations") {
		t.Errorf("%s - empty status = %q", mainTestPrefix, out.String())
	}
}
