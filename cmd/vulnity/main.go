// Command vulnity scans web applications for SQL injection and
// cross-site scripting. One command, flag driven:
//
//	vulnity -u http://127.0.0.1:8080/ -allow-private
//	vulnity -profile lab.yaml -o report.html
//	vulnity -u https://staging.example.com -types sqli -rps 10 -timeout 10m
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"golang.org/x/term"

	"github.com/Rimaestro/vulnity-kp/pkg/config"
	"github.com/Rimaestro/vulnity-kp/pkg/finding"
	"github.com/Rimaestro/vulnity-kp/pkg/metrics"
	"github.com/Rimaestro/vulnity-kp/pkg/report"
	"github.com/Rimaestro/vulnity-kp/pkg/scan"
	"github.com/Rimaestro/vulnity-kp/pkg/telemetry"
	"github.com/Rimaestro/vulnity-kp/pkg/ui"
)

func main() {
	code, err := run(os.Args[1:], os.Stdout, os.Stderr)
	if err != nil {
		fmt.Fprintf(os.Stderr, "%s %v\n", ui.FailStyle.Render("error:"), err)
	}
	os.Exit(code)
}

func run(args []string, stdout, stderr io.Writer) (int, error) {
	var f cliFlags
	fs := flag.NewFlagSet("vulnity", flag.ContinueOnError)
	fs.SetOutput(stderr)
	f.register(fs)
	fs.Usage = func() {
		fmt.Fprintln(stderr, "vulnity - web vulnerability scanner (SQL injection, XSS)")
		fmt.Fprintln(stderr)
		fmt.Fprintln(stderr, "Usage:")
		fmt.Fprintln(stderr, "  vulnity -u <url> [flags]")
		fmt.Fprintln(stderr, "  vulnity -profile lab.yaml [flags]")
		fmt.Fprintln(stderr)
		fmt.Fprintln(stderr, "Flags:")
		fs.PrintDefaults()
		fmt.Fprintln(stderr)
		fmt.Fprintln(stderr, "Examples:")
		fmt.Fprintln(stderr, "  vulnity -u http://127.0.0.1:8080/ -allow-private")
		fmt.Fprintln(stderr, "  vulnity -u https://staging.example.com -types sqli -rps 10 -o report.html")
	}
	if err := fs.Parse(args); err != nil {
		return exitConfiguration, nil
	}

	if f.noColor {
		ui.SetNoColor(true)
	}
	if f.version {
		fmt.Fprintf(stdout, "vulnity %s", ui.Version)
		if ui.Commit != "" {
			fmt.Fprintf(stdout, " (%s)", ui.Commit)
		}
		if ui.BuildDate != "" {
			fmt.Fprintf(stdout, " built %s", ui.BuildDate)
		}
		fmt.Fprintln(stdout)
		return exitSuccess, nil
	}
	if f.listPlugins {
		for _, name := range scan.AvailablePlugins() {
			fmt.Fprintln(stdout, name)
		}
		return exitSuccess, nil
	}

	prof := &config.Profile{}
	if f.profilePath != "" {
		loaded, err := config.Load(f.profilePath)
		if err != nil {
			return exitConfiguration, err
		}
		prof = loaded
	}
	f.applyToProfile(fs, prof)

	if prof.Target == "" {
		fs.Usage()
		return exitConfiguration, errors.New("no target: set -u or a profile with a target")
	}

	opts, err := prof.Options()
	if err != nil {
		return exitConfiguration, err
	}
	timeout, err := prof.ScanTimeout()
	if err != nil {
		return exitConfiguration, err
	}

	outputs := make([]report.Output, 0, len(prof.Reports)+1)
	for _, r := range prof.Reports {
		outputs = append(outputs, report.Output{Format: r.Format, Path: r.Path})
	}
	if f.output != "" {
		format := f.format
		if format == "" {
			format = formatFromPath(f.output)
		}
		if _, err := report.NewWriter(format); err != nil {
			return exitConfiguration, err
		}
		outputs = append(outputs, report.Output{Format: format, Path: f.output})
	}

	interactive := !f.silent && term.IsTerminal(int(os.Stderr.Fd()))

	level := slog.LevelInfo
	switch {
	case f.verbose:
		level = slog.LevelDebug
	case f.silent:
		level = slog.LevelError
	case interactive:
		// Keep routine logs off the live progress line.
		level = slog.LevelWarn
	}
	opts.Logger = slog.New(slog.NewTextHandler(stderr, &slog.HandlerOptions{Level: level}))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	if prof.MetricsAddr != "" {
		eng := metrics.New()
		if err := eng.Serve(prof.MetricsAddr); err != nil {
			return exitConfiguration, err
		}
		defer eng.Close()
		opts.Metrics = eng
		opts.Logger.Info("metrics listening", slog.String("addr", eng.Addr()))
	}

	if prof.OTLPEndpoint != "" {
		tracer, shutdown, err := telemetry.Setup(ctx, telemetry.Config{
			Endpoint:       prof.OTLPEndpoint,
			ServiceVersion: ui.Version,
			Insecure:       true,
		})
		if err != nil {
			return exitConfiguration, err
		}
		defer func() { _ = shutdown(context.Background()) }()
		opts.Tracer = tracer
	}

	if !f.silent {
		ui.PrintBanner(stderr)
	}

	s, err := scan.StartScan(ctx, prof.Target, prof.Types, opts)
	if err != nil {
		if errors.Is(err, finding.ErrOutOfScope) {
			return exitConfiguration, fmt.Errorf("%w (use -allow-private for lab targets)", err)
		}
		return exitConfiguration, err
	}

	var live *ui.Live
	if interactive {
		live = ui.NewLive(stderr, s.Statistics)
		live.Start()
	}

	_ = s.Wait(context.Background())
	if live != nil {
		live.Stop()
	}

	findings := s.Findings()
	stats := s.Statistics()

	if f.silent {
		for i := range findings {
			fmt.Fprintln(stdout, ui.FormatFinding(&findings[i], false))
		}
	} else {
		fmt.Fprintln(stdout, ui.FormatFindings(findings, f.verbose))
		fmt.Fprintln(stdout)
		fmt.Fprintln(stdout, ui.FormatStatistics(stats))
	}

	if len(outputs) > 0 {
		rep := report.New(ui.Version, stats, findings)
		if err := report.WriteAll(rep, outputs); err != nil {
			return exitScanFailed, err
		}
		if !f.silent {
			for _, o := range outputs {
				fmt.Fprintf(stderr, "%s report written to %s\n", o.Format, o.Path)
			}
		}
	}

	switch s.Status() {
	case scan.StatusCancelled:
		return exitInterrupted, nil
	case scan.StatusFailed:
		if errors.Is(s.Err(), finding.ErrUnreachable) {
			return exitTarget, s.Err()
		}
		return exitScanFailed, s.Err()
	}
	if len(findings) > 0 {
		return exitFindings, nil
	}
	return exitSuccess, nil
}
