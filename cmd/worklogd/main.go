// worklogd - reference host for the tamper-evident session log engine
//
// The engine normally lives inside a creative application; worklogd stands in
// for that host. It wires the config, logging, storage, and session layers
// together and drives a session from an interactive command loop:
//
//	worklogd run              Start a session and read activity from stdin
//	worklogd export <file>    Decrypt and print the plaintext export
//	worklogd status           Show configuration and storage state
package main

import (
	"bufio"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"worklog/internal/config"
	"worklog/internal/logging"
	"worklog/internal/session"
	"worklog/internal/store"
)

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(1)
	}

	switch os.Args[1] {
	case "run":
		cmdRun(os.Args[2:])
	case "export":
		cmdExport(os.Args[2:])
	case "status":
		cmdStatus(os.Args[2:])
	case "help", "-h", "--help":
		usage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", os.Args[1])
		usage()
		os.Exit(1)
	}
}

func usage() {
	fmt.Println(`worklogd - tamper-evident session log host

USAGE:
    worklogd <command> [options]

COMMANDS:
    run       Start a session and read activity commands from stdin
    export    Decrypt the stored log and print the plaintext export
    status    Show configuration and storage state
    help      Show this help message

RUN LOOP COMMANDS (one per line on stdin):
    act <action> <target> <kind>    Report an activity observation
    save <filepath>                 Simulate a host save
    export                          Print the current plaintext export
    status                          Print session state
    stop                            Stop the session and exit (also EOF)

The shared secret comes from the config file or WORKLOG_SHARED_SECRET.`)
}

// hostEnv is everything a command needs: validated config, logger, stores.
type hostEnv struct {
	cfg      *config.Config
	log      *logging.Logger
	primary  store.SlotStore
	recovery *store.Recovery
	closers  []func() error
}

func (h *hostEnv) close() {
	for _, fn := range h.closers {
		if err := fn(); err != nil {
			fmt.Fprintf(os.Stderr, "close: %v\n", err)
		}
	}
}

func setupHost(args []string) *hostEnv {
	fs := flag.NewFlagSet("worklogd", flag.ExitOnError)
	configPath := fs.String("config", "", "config file (default: platform config path)")
	docPath := fs.String("doc", "", "document path override")
	fs.Parse(args)

	cfg, err := config.Load(*configPath)
	if err != nil {
		fatal("load config: %v", err)
	}
	if *docPath != "" {
		cfg.Storage.DocumentPath = *docPath
	}
	if err := cfg.Validate(); err != nil {
		fatal("invalid config: %v", err)
	}
	if err := cfg.EnsureDirectories(); err != nil {
		fatal("prepare directories: %v", err)
	}

	level, err := logging.ParseLevel(cfg.Logging.Level)
	if err != nil {
		fatal("%v", err)
	}
	format, err := logging.ParseFormat(cfg.Logging.Format)
	if err != nil {
		fatal("%v", err)
	}
	logger, err := logging.New(&logging.Config{
		Level:     level,
		Format:    format,
		Output:    cfg.Logging.Output,
		FilePath:  cfg.Logging.FilePath,
		Component: "worklogd",
	})
	if err != nil {
		fatal("setup logging: %v", err)
	}

	env := &hostEnv{cfg: cfg, log: logger}
	env.closers = append(env.closers, logger.Close)

	switch cfg.Storage.Type {
	case "memory":
		env.primary = store.NewMemory()
	default:
		dbPath := slotDBPath(cfg)
		doc, err := store.OpenDocument(dbPath)
		if err != nil {
			fatal("open document store: %v", err)
		}
		env.primary = doc
		env.closers = append(env.closers, doc.Close)
	}

	if cfg.Storage.RecoveryEnabled {
		env.recovery = store.NewRecovery(
			store.RecoveryPath(cfg.Storage.DocumentPath, cfg.Storage.StateDir))
	}
	return env
}

// slotDBPath keys the slot database by document path the same way the
// recovery file is keyed, so two documents never share slots.
func slotDBPath(cfg *config.Config) string {
	rec := store.RecoveryPath(cfg.Storage.DocumentPath, cfg.Storage.StateDir)
	base := strings.TrimSuffix(filepath.Base(rec), filepath.Ext(rec))
	return filepath.Join(cfg.Storage.StateDir, base+".slots.db")
}

func newController(env *hostEnv) *session.Controller {
	ctrl, err := session.New(session.Options{
		Security:         env.cfg.SecurityContext(),
		Primary:          env.primary,
		Recovery:         env.recovery,
		Logger:           env.log.Logger,
		IdleThreshold:    env.cfg.IdleThreshold(),
		AutosaveInterval: env.cfg.AutosaveInterval(),
	})
	if err != nil {
		fatal("create session: %v", err)
	}
	return ctrl
}

func cmdRun(args []string) {
	env := setupHost(args)
	defer env.close()

	ctrl := newController(env)
	if err := ctrl.OnDocumentLoad(); err != nil {
		env.log.Error("document load failed", "error", err)
		fmt.Fprintf(os.Stderr, "Warning: could not load stored log: %v\n", err)
	}
	if ctrl.IsTampered() {
		fmt.Println("WARNING: stored log failed validation, sessions remain marked tampered")
	}
	if ctrl.Degraded() {
		fmt.Println("WARNING: XOR mode, log is not tamper-resistant")
	}

	if err := ctrl.Start("host run"); err != nil {
		fatal("start session: %v", err)
	}
	fmt.Println("Session running. Commands: act/save/export/status/stop.")

	done := make(chan struct{})
	go func() {
		ticker := time.NewTicker(time.Second)
		defer ticker.Stop()
		for {
			select {
			case now := <-ticker.C:
				ctrl.Tick(now)
			case <-done:
				return
			}
		}
	}()

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigs
		close(done)
	}()

	lines := make(chan string)
	go func() {
		scanner := bufio.NewScanner(os.Stdin)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
		close(lines)
	}()

loop:
	for {
		select {
		case <-done:
			break loop
		case line, ok := <-lines:
			if !ok {
				break loop
			}
			if quit := handleCommand(ctrl, line); quit {
				break loop
			}
		}
	}

	if err := ctrl.Stop("host shutdown"); err != nil {
		fmt.Fprintf(os.Stderr, "stop: %v\n", err)
	}
	if err := ctrl.OnDocumentClose(); err != nil {
		fmt.Fprintf(os.Stderr, "close: %v\n", err)
	}
	fmt.Printf("Session stopped. Total working time: %ds\n", ctrl.TotalWorkTime())
}

func handleCommand(ctrl *session.Controller, line string) bool {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return false
	}

	switch fields[0] {
	case "act":
		if len(fields) < 4 {
			fmt.Println("usage: act <action> <target> <kind>")
			return false
		}
		ctrl.NotifyActivity(fields[1], fields[2], fields[3], nil)
	case "save":
		path := ""
		if len(fields) > 1 {
			path = fields[1]
		}
		if err := ctrl.OnSessionSave(path); err != nil {
			fmt.Fprintf(os.Stderr, "save: %v\n", err)
		}
	case "export":
		printExport(ctrl)
	case "status":
		period := ctrl.WorkingPeriod()
		fmt.Printf("state=%s mode=%s tampered=%v total=%ds period=[%s .. %s]\n",
			ctrl.State(), ctrl.Mode(), ctrl.IsTampered(),
			ctrl.TotalWorkTime(), period.Start, period.End)
	case "stop":
		return true
	default:
		fmt.Printf("unknown command %q\n", fields[0])
	}
	return false
}

func printExport(ctrl *session.Controller) {
	exp, err := ctrl.ExportPlaintext()
	if err != nil {
		fmt.Fprintf(os.Stderr, "export: %v\n", err)
		return
	}
	data, err := json.MarshalIndent(exp, "", "  ")
	if err != nil {
		fmt.Fprintf(os.Stderr, "render export: %v\n", err)
		return
	}
	fmt.Println(string(data))
}

func cmdExport(args []string) {
	fs := flag.NewFlagSet("export", flag.ExitOnError)
	configPath := fs.String("config", "", "config file")
	docPath := fs.String("doc", "", "document path override")
	out := fs.String("out", "", "output file (default: stdout)")
	ciphertext := fs.Bool("ciphertext", false, "emit the raw ciphertext blob instead of plaintext")
	fs.Parse(args)

	env := setupHost(append([]string{}, "-config", *configPath, "-doc", *docPath))
	defer env.close()

	ctrl := newController(env)
	if err := ctrl.OnDocumentLoad(); err != nil {
		fatal("load stored log: %v", err)
	}

	var data []byte
	if *ciphertext {
		blob, err := ctrl.ExportCiphertext()
		if err != nil {
			fatal("export: %v", err)
		}
		data = []byte(blob)
	} else {
		exp, err := ctrl.ExportPlaintext()
		if err != nil {
			fatal("export: %v", err)
		}
		var jsonErr error
		data, jsonErr = json.MarshalIndent(exp, "", "  ")
		if jsonErr != nil {
			fatal("render export: %v", jsonErr)
		}
	}

	if *out == "" {
		fmt.Println(string(data))
		return
	}
	if err := os.WriteFile(*out, data, 0600); err != nil {
		fatal("write output: %v", err)
	}
}

func cmdStatus(args []string) {
	env := setupHost(args)
	defer env.close()

	cfg := env.cfg
	fmt.Printf("Student:        %s\n", cfg.Security.StudentID)
	fmt.Printf("Cipher mode:    %s\n", cfg.Security.Mode)
	fmt.Printf("Storage:        %s\n", cfg.Storage.Type)
	fmt.Printf("State dir:      %s\n", cfg.Storage.StateDir)
	fmt.Printf("Document:       %s\n", orUnset(cfg.Storage.DocumentPath))
	if env.recovery != nil {
		fmt.Printf("Recovery file:  %s (present=%v)\n", env.recovery.Path(), env.recovery.Exists())
	} else {
		fmt.Printf("Recovery file:  disabled\n")
	}

	ctrl := newController(env)
	if err := ctrl.OnDocumentLoad(); err != nil {
		fmt.Printf("Stored log:     unreadable (%v)\n", err)
		return
	}
	exp, err := ctrl.ExportPlaintext()
	if err != nil {
		fmt.Printf("Stored log:     unreadable (%v)\n", err)
		return
	}
	fmt.Printf("Stored entries: %d\n", len(exp.Entries))
	fmt.Printf("Status:         %s\n", exp.Status)
	fmt.Printf("Total work:     %ds\n", exp.TotalWorkTime)
}

func orUnset(s string) string {
	if s == "" {
		return "(unsaved document)"
	}
	return s
}

func fatal(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "Error: "+format+"\n", args...)
	os.Exit(1)
}
