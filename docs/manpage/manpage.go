// Package manpage generates a roff-formatted man page for pulsebar.
//
// Options, producer kinds and watch-view key bindings are read from the
// running binary, so the page cannot drift from the code.
//
// Usage:
//
//	pulsebar -man | man -l -
//	pulsebar -man > ~/.local/share/man/man1/pulsebar.1
package manpage

import (
	"flag"
	"fmt"
	"strings"
	"time"

	"gitlab.com/tinyland/lab/pulsebar/display/tui"
	"gitlab.com/tinyland/lab/pulsebar/producers"
)

// producerDocs describes the built-in producer kinds. Kinds registered
// without an entry are listed with a generic description.
var producerDocs = map[string]string{
	"clock":   "Formatted local or zoned time. Args: format (strftime), timezone (IANA name).",
	"battery": "Charge percentage and power draw from a power_supply directory. Args: dir, present, energy_full_design, energy_now, power_now, status, symbols.",
	"thermal": "Temperature in degrees Celsius from a hwmon sensor. Args: dir, sensor, chip, index, class.",
	"netif":   "Interface address and optional transfer rates. Args: interface, label, rates.",
	"disk":    "Filesystem size, free or used space. Args: mode (size|free|used), path, label.",
	"load":    "1, 5 and 15 minute load averages.",
	"uptime":  "Time since boot.",
	"memory":  "Used memory percentage. Args: label.",
	"script":  "Output of a Lua function. Args: file or source, function, timeout.",
}

// Generate produces a complete roff-formatted man(1) page. fs supplies the
// OPTIONS section; version, commit and date come from the linker variables.
func Generate(fs *flag.FlagSet, version, commit, date string) string {
	var b strings.Builder

	writeHeader(&b, version)
	writeName(&b)
	writeSynopsis(&b)
	writeDescription(&b)
	writeOptions(&b, fs)
	writeProducers(&b, producers.Builtin().Kinds())
	writeSinks(&b)
	writeKeybindings(&b)
	writeConfiguration(&b)
	writeSignals(&b)
	writeFiles(&b)
	writeExamples(&b)
	writeEnvironment(&b)
	writeExitStatus(&b)
	writeSeeAlso(&b)
	writeFooter(&b, version, commit, date)

	return b.String()
}

// roffEscape escapes special roff characters in a string.
func roffEscape(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	s = strings.ReplaceAll(s, `-`, `\-`)
	s = strings.ReplaceAll(s, `.`, `\&.`)
	return s
}

func writeHeader(b *strings.Builder, version string) {
	month := time.Now().Format("January 2006")
	fmt.Fprintf(b, ".TH PULSEBAR 1 \"%s\" \"pulsebar %s\" \"User Commands\"\n", month, version)
}

func writeName(b *strings.Builder) {
	b.WriteString(`.SH NAME
pulsebar \- status line scheduler and composer
`)
}

func writeSynopsis(b *strings.Builder) {
	b.WriteString(`.SH SYNOPSIS
.B pulsebar
[\fIOPTIONS\fR]
`)
}

func writeDescription(b *strings.Builder) {
	b.WriteString(`.SH DESCRIPTION
.B pulsebar
composes a single status line from a fixed set of widgets and publishes it
whenever a widget is refreshed. Each widget owns a bounded buffer; a widget
whose producer fails shows as empty until its next successful refresh.
.PP
Widgets are refreshed by update policies:
.IP \(bu 2
.B wallclock
policies fire when the wall clock reaches a multiple of their period plus
their offset, so a one-minute policy fires on the minute.
.IP \(bu 2
.B ondemand
policies fire one period after they last fired.
.PP
Between iterations the process sleeps until the earliest policy is due, and
never longer than one minute.
`)
}

func writeOptions(b *strings.Builder, fs *flag.FlagSet) {
	b.WriteString(".SH OPTIONS\n")
	fs.VisitAll(func(f *flag.Flag) {
		b.WriteString(".TP\n")
		name, usage := flag.UnquoteUsage(f)
		if name != "" {
			fmt.Fprintf(b, ".BR \\-%s \" \\fI%s\\fR\"\n", roffEscape(f.Name), name)
		} else {
			fmt.Fprintf(b, ".B \\-%s\n", roffEscape(f.Name))
		}
		b.WriteString(roffEscape(usage) + "\n")
	})
}

func writeProducers(b *strings.Builder, kinds []string) {
	b.WriteString(`.SH PRODUCERS
A widget's \fBproducer\fR selects one of the following kinds. Producer
arguments are given in the widget's \fBargs\fR mapping.
`)
	for _, kind := range kinds {
		desc, ok := producerDocs[kind]
		if !ok {
			desc = "Registered producer."
		}
		fmt.Fprintf(b, ".TP\n.B %s\n%s\n", roffEscape(kind), roffEscape(desc))
	}
}

func writeSinks(b *strings.Builder) {
	b.WriteString(`.SH SINKS
.TP
.B xroot
Sets the X root window name with \fBsink.command\fR (default xsetroot), as
read by dwm. Unchanged lines are not republished.
.TP
.B stdout
Writes one line per iteration, for lemonbar or a pipe.
.TP
.B file
Atomically replaces \fBsink.path\fR (default \fIstate_dir\fR/status.txt);
the file is removed at shutdown.
.TP
.B tui
Shows the line in a live terminal view.
`)
}

func writeKeybindings(b *strings.Builder) {
	b.WriteString(`.SH KEYBINDINGS
The following keys are active in the \fBtui\fR sink's watch view.
`)
	for _, k := range tui.Bindings() {
		keysStr := strings.Join(k.Keys(), ", ")
		fmt.Fprintf(b, ".TP\n.B %s\n%s\n", roffEscape(keysStr), k.Help().Desc)
	}
}

func writeConfiguration(b *strings.Builder) {
	b.WriteString(`.SH CONFIGURATION
Configuration is read from a YAML file at
.B $XDG_CONFIG_HOME/pulsebar/config.yaml
(falling back to ~/.config/pulsebar/config.yaml), or from the path given
with \fB\-config\fR. A missing file selects the defaults: CPU temperature
and battery every two seconds and the clock every second.
.SS daemon
pid_file, state_dir, log_file, log_level (debug|info|warn|error), nice,
metrics_addr (enables /metrics when set), health_interval.
.SS status
capacity (bytes, including one reserved byte), begin, delimiter, end,
skip_empty.
.SS sink
kind (xroot|stdout|file|tui), path, command, color.
.SS widgets
A list of name, producer, capacity (default 32; 0 hides the widget), args
and breaker (max_failures, reset_timeout). Widgets are shown in list order.
.SS updates
A list of kind (wallclock|ondemand), period, offset and widgets. Policies
due in the same iteration fire in list order.
`)
}

func writeSignals(b *strings.Builder) {
	b.WriteString(`.SH SIGNALS
.TP
.B SIGINT, SIGTERM, SIGHUP
Finish the current iteration, close the sink and every widget, and exit.
`)
}

func writeFiles(b *strings.Builder) {
	b.WriteString(`.SH FILES
.TP
.I ~/.config/pulsebar/config.yaml
Configuration file (YAML).
.TP
.I $XDG_RUNTIME_DIR/pulsebar/
State directory (default; ~/.cache/pulsebar without XDG_RUNTIME_DIR).
.TP
.I $XDG_RUNTIME_DIR/pulsebar/health.json
Health snapshot, rewritten at most once per health_interval.
.TP
.I $XDG_RUNTIME_DIR/pulsebar/pulsebar.pid
PID file guarding against a second instance.
.TP
.I $XDG_RUNTIME_DIR/pulsebar/status.txt
Default output of the file sink.
`)
}

func writeExamples(b *strings.Builder) {
	b.WriteString(`.SH EXAMPLES
Feed dwm from ~/.xinitrc:
.PP
.nf
pulsebar &
exec dwm
.fi
.PP
Print the line once:
.PP
.nf
pulsebar \-once
.fi
.PP
Watch the line and per-widget statistics in a terminal:
.PP
.nf
pulsebar \-sink tui
.fi
.PP
Check the running instance:
.PP
.nf
pulsebar \-health
pulsebar \-health \-json
.fi
`)
}

func writeEnvironment(b *strings.Builder) {
	b.WriteString(`.SH ENVIRONMENT
.TP
.B PULSEBAR_SINK
Overrides sink.kind.
.TP
.B PULSEBAR_LOG_LEVEL
Overrides daemon.log_level.
.TP
.B XDG_CONFIG_HOME, XDG_RUNTIME_DIR
Locate the configuration file and the state directory.
`)
}

func writeExitStatus(b *strings.Builder) {
	b.WriteString(".SH EXIT STATUS\n")
	b.WriteString(".TP\n.B 0\n")
	b.WriteString("Normal shutdown. For \\fB\\-health\\fR, the daemon is healthy.\n")
	b.WriteString(".TP\n.B 1\n")
	b.WriteString("A service failed at runtime. For \\fB\\-health\\fR, the snapshot is stale, missing or records a shutdown.\n")
	b.WriteString(".TP\n.B 2\n")
	b.WriteString("Startup failed: bad flags or configuration, or another instance is running.\n")
}

func writeSeeAlso(b *strings.Builder) {
	b.WriteString(`.SH SEE ALSO
.BR dwm (1),
.BR xsetroot (1),
.BR lemonbar (1)
`)
}

func writeFooter(b *strings.Builder, version, commit, date string) {
	fmt.Fprintf(b, ".SH VERSION\n%s (%s) built %s\n", version, commit, date)
}
