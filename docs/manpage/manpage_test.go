package manpage

import (
	"flag"
	"strings"
	"testing"
)

func testFlags() *flag.FlagSet {
	fs := flag.NewFlagSet("pulsebar", flag.ContinueOnError)
	fs.String("config", "", "Path to configuration file")
	fs.Bool("once", false, "Refresh every widget once, print the line and exit")
	fs.Bool("print-config", false, "Print the effective configuration")
	return fs
}

func TestGenerate_ValidRoff(t *testing.T) {
	page := Generate(testFlags(), "0.1.0", "abc1234", "2026-02-06")

	if !strings.HasPrefix(page, ".TH PULSEBAR 1") {
		t.Errorf("man page should start with .TH header, got: %s", page[:40])
	}

	requiredSections := []string{
		".SH NAME",
		".SH SYNOPSIS",
		".SH DESCRIPTION",
		".SH OPTIONS",
		".SH PRODUCERS",
		".SH SINKS",
		".SH KEYBINDINGS",
		".SH CONFIGURATION",
		".SH SIGNALS",
		".SH FILES",
		".SH EXAMPLES",
		".SH ENVIRONMENT",
		".SH EXIT STATUS",
		".SH SEE ALSO",
		".SH VERSION",
	}
	for _, section := range requiredSections {
		if !strings.Contains(page, section) {
			t.Errorf("man page missing required section: %s", section)
		}
	}
}

func TestGenerate_ContainsVersion(t *testing.T) {
	page := Generate(testFlags(), "1.2.3", "deadbeef", "2026-02-06")

	if !strings.Contains(page, "1.2.3") {
		t.Error("man page should contain the version string")
	}
	if !strings.Contains(page, "deadbeef") {
		t.Error("man page should contain the commit hash")
	}
}

func TestGenerate_OptionsFromFlagSet(t *testing.T) {
	page := Generate(testFlags(), "0.1.0", "dev", "unknown")

	for _, want := range []string{
		`.BR \-config " \fIstring\fR"`,
		`.B \-once`,
		`.B \-print\-config`,
		`Refresh every widget once, print the line and exit`,
	} {
		if !strings.Contains(page, want) {
			t.Errorf("man page missing option text %q", want)
		}
	}
}

func TestGenerate_ListsEveryProducer(t *testing.T) {
	page := Generate(testFlags(), "0.1.0", "dev", "unknown")

	for _, kind := range []string{"clock", "battery", "thermal", "netif", "disk", "load", "uptime", "memory", "script"} {
		if !strings.Contains(page, ".B "+kind+"\n") {
			t.Errorf("man page missing producer %q", kind)
		}
	}
}

func TestGenerate_ContainsKeybindings(t *testing.T) {
	page := Generate(testFlags(), "0.1.0", "dev", "unknown")

	for _, desc := range []string{"quit", "slots", "help"} {
		if !strings.Contains(page, desc) {
			t.Errorf("man page missing keybinding description: %q", desc)
		}
	}
	if !strings.Contains(page, "q, ctrl+c") {
		t.Error("man page missing quit keys")
	}
}

func TestGenerate_ContainsFilesAndEnvironment(t *testing.T) {
	page := Generate(testFlags(), "0.1.0", "dev", "unknown")

	for _, want := range []string{
		"config.yaml",
		"health.json",
		"pulsebar.pid",
		"status.txt",
		"PULSEBAR_SINK",
		"PULSEBAR_LOG_LEVEL",
	} {
		if !strings.Contains(page, want) {
			t.Errorf("man page missing %q", want)
		}
	}
}

func TestRoffEscape(t *testing.T) {
	tests := []struct {
		input    string
		expected string
	}{
		{"hello", "hello"},
		{"ctrl-p", `ctrl\-p`},
		{"e.g.", `e\&.g\&.`},
		{`foo\bar`, `foo\\bar`},
	}

	for _, tt := range tests {
		got := roffEscape(tt.input)
		if got != tt.expected {
			t.Errorf("roffEscape(%q) = %q, want %q", tt.input, got, tt.expected)
		}
	}
}
