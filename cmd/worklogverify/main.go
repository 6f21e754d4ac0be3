// Command worklogverify is a standalone tool for verifying exported session
// log blobs.
//
// It needs no running engine, making it suitable for:
// - Offline verification by a teacher
// - Automated grading pipelines
// - Spot checks of recovery files after a crash
//
// Usage:
//
//	worklogverify [flags] <blob-file>
//
// Examples:
//
//	# Verify a downloaded ciphertext blob
//	worklogverify -student alice log.blob
//
//	# Verify a crash-recovery file, JSON report
//	worklogverify -student alice -recovery -format json session.rlog
//
//	# Keep watching a recovery file while the student works
//	worklogverify -student alice -recovery -watch session.rlog
package main

import (
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/fsnotify/fsnotify"

	"worklog/internal/codec"
	"worklog/internal/verify"
)

var (
	version   = "dev"
	commit    = "unknown"
	buildTime = "unknown"
)

func main() {
	secret := flag.String("secret", "", "shared secret (default: WORKLOG_SHARED_SECRET env)")
	student := flag.String("student", "", "student id the log must be bound to")
	modeStr := flag.String("mode", "AEAD", "cipher mode of the blob: AEAD or XOR")
	formatStr := flag.String("format", "text", "output format: text, json")
	output := flag.String("output", "", "output file (default: stdout)")
	verbose := flag.Bool("verbose", false, "verbose output with details")
	recovery := flag.Bool("recovery", false, "input is a recovery envelope, not a raw blob")
	watch := flag.Bool("watch", false, "re-verify whenever the input file changes")
	versionFlag := flag.Bool("version", false, "print version and exit")
	quiet := flag.Bool("quiet", false, "quiet mode - only set the exit code")
	exitCode := flag.Bool("exit-code", true, "exit with non-zero code on verification failure")

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "worklogverify - Verify exported session log blobs\n\n")
		fmt.Fprintf(os.Stderr, "Usage: %s [flags] <blob-file>\n\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "Flags:\n")
		flag.PrintDefaults()
		fmt.Fprintf(os.Stderr, "\nExamples:\n")
		fmt.Fprintf(os.Stderr, "  %s -student alice log.blob\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "  %s -student alice -recovery -format json session.rlog\n", os.Args[0])
	}

	flag.Parse()

	if *versionFlag {
		fmt.Printf("worklogverify %s (commit: %s, built: %s)\n", version, commit, buildTime)
		os.Exit(0)
	}

	if flag.NArg() < 1 {
		fmt.Fprintf(os.Stderr, "Error: blob file required\n\n")
		flag.Usage()
		os.Exit(2)
	}
	inputFile := flag.Arg(0)

	if *secret == "" {
		*secret = os.Getenv("WORKLOG_SHARED_SECRET")
	}
	if *secret == "" || *student == "" {
		fmt.Fprintf(os.Stderr, "Error: -student and a shared secret are required\n")
		os.Exit(2)
	}

	mode := codec.Mode(strings.ToUpper(*modeStr))
	if !mode.Valid() {
		fmt.Fprintf(os.Stderr, "Error: unknown mode %q (use AEAD or XOR)\n", *modeStr)
		os.Exit(2)
	}

	format, err := parseFormat(*formatStr)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(2)
	}

	verifier, err := verify.NewVerifier(codec.SecurityContext{
		SharedSecret: *secret,
		StudentID:    *student,
		Mode:         mode,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(2)
	}

	var w io.Writer = os.Stdout
	if *output != "" {
		f, err := os.Create(*output)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error creating output file: %v\n", err)
			os.Exit(1)
		}
		defer f.Close()
		w = f
	}

	generator := verify.NewReportGenerator(format).WithVerbose(*verbose)

	runOnce := func() (*verify.Report, error) {
		report, err := verifyFile(verifier, inputFile, mode, *recovery)
		if err != nil {
			return nil, err
		}
		if !*quiet {
			if err := generator.Generate(report, w); err != nil {
				return nil, fmt.Errorf("generate report: %w", err)
			}
		}
		return report, nil
	}

	report, err := runOnce()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Verification error: %v\n", err)
		os.Exit(1)
	}

	if *watch {
		if err := watchAndReverify(inputFile, runOnce); err != nil {
			fmt.Fprintf(os.Stderr, "Watch error: %v\n", err)
			os.Exit(1)
		}
		return
	}

	if *exitCode && !report.Valid {
		os.Exit(1)
	}
}

// verifyFile loads the input and runs one verification pass.
func verifyFile(verifier *verify.Verifier, path string, mode codec.Mode, isRecovery bool) (*verify.Report, error) {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("invalid path: %w", err)
	}

	if isRecovery {
		return verifier.VerifyRecoveryFile(absPath)
	}

	data, err := os.ReadFile(absPath)
	if err != nil {
		return nil, fmt.Errorf("read file: %w", err)
	}
	blob := strings.TrimSpace(string(data))
	return verifier.VerifyBlob(blob, mode), nil
}

// watchAndReverify re-runs verification whenever the input file is rewritten.
// The parent directory is watched because editors and the engine replace the
// file rather than writing in place.
func watchAndReverify(path string, run func() (*verify.Report, error)) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	defer watcher.Close()

	absPath, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("invalid path: %w", err)
	}
	if err := watcher.Add(filepath.Dir(absPath)); err != nil {
		return fmt.Errorf("watch directory: %w", err)
	}

	for {
		select {
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if event.Name != absPath {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
				continue
			}
			if _, err := run(); err != nil {
				fmt.Fprintf(os.Stderr, "Verification error: %v\n", err)
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			fmt.Fprintf(os.Stderr, "Watch error: %v\n", err)
		}
	}
}

// parseFormat parses an output format string.
func parseFormat(s string) (verify.ReportFormat, error) {
	switch s {
	case "text":
		return verify.FormatText, nil
	case "json":
		return verify.FormatJSON, nil
	default:
		return "", fmt.Errorf("unknown format: %s (use text or json)", s)
	}
}
