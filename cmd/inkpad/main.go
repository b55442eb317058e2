// Package main is the inkpad extension host CLI.
package main

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/base64"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/alal76/inkpad/internal/config"
	"github.com/alal76/inkpad/internal/extension"
	"github.com/alal76/inkpad/internal/extension/trust"
	"github.com/alal76/inkpad/internal/log"
)

// Version information (set via ldflags during build).
var (
	version = "dev"
	commit  = "unknown"
)

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	fs := flag.NewFlagSet("inkpad", flag.ContinueOnError)
	var (
		configPath  string
		extDir      string
		logLevel    string
		logFile     string
		noVerify    bool
		showVersion bool
	)
	fs.StringVar(&configPath, "config", "", "Path to configuration file")
	fs.StringVar(&extDir, "ext-dir", "", "Extension directory override")
	fs.StringVar(&logLevel, "log-level", "", "Log level (debug, info, warn, error)")
	fs.StringVar(&logFile, "log-file", "", "Log output file (default stderr)")
	fs.BoolVar(&noVerify, "no-verify", false, "Skip signature verification (development only)")
	fs.BoolVar(&showVersion, "version", false, "Show version information")

	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, "Inkpad extension host\n\n")
		fmt.Fprintf(os.Stderr, "Usage: inkpad [options] <command> [args]\n\n")
		fmt.Fprintf(os.Stderr, "Commands:\n")
		fmt.Fprintf(os.Stderr, "  run             Load all extensions and run until interrupted\n")
		fmt.Fprintf(os.Stderr, "  list            List extensions and their states\n")
		fmt.Fprintf(os.Stderr, "  info <name>     Show one extension's metadata and commands\n")
		fmt.Fprintf(os.Stderr, "  verify <file>   Check a module file's signature\n")
		fmt.Fprintf(os.Stderr, "  sign <file>     Sign a module file with a development key\n\n")
		fmt.Fprintf(os.Stderr, "Options:\n")
		fs.PrintDefaults()
	}

	if err := fs.Parse(args); err != nil {
		return 2
	}
	if showVersion {
		fmt.Printf("inkpad %s (%s)\n", version, commit)
		return 0
	}

	cfg, err := loadConfig(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	if extDir != "" {
		cfg.Extensions.Directory = config.ExpandPath(extDir)
	}
	if logLevel != "" {
		cfg.Log.Level = logLevel
	}
	if logFile != "" {
		cfg.Log.File = logFile
	}
	if noVerify {
		cfg.Trust.Disabled = true
	}

	logger, closeLog, err := buildLogger(cfg.Log)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	defer closeLog()

	cmd := "run"
	rest := fs.Args()
	if len(rest) > 0 {
		cmd = rest[0]
		rest = rest[1:]
	}

	switch cmd {
	case "run":
		return cmdRun(cfg, logger)
	case "list":
		return cmdList(cfg, logger)
	case "info":
		return cmdInfo(cfg, logger, rest)
	case "verify":
		return cmdVerify(cfg, logger, rest)
	case "sign":
		return cmdSign(cfg, rest)
	default:
		fmt.Fprintf(os.Stderr, "Error: unknown command %q\n", cmd)
		fs.Usage()
		return 2
	}
}

func loadConfig(path string) (config.Config, error) {
	if path == "" {
		defaultPath, err := config.DefaultPath()
		if err != nil {
			return config.Config{}, err
		}
		path = defaultPath
	}
	return config.Load(path)
}

func buildLogger(cfg config.LogConfig) (*log.Logger, func(), error) {
	logCfg := log.Config{
		Level:  log.ParseLevel(cfg.Level),
		Prefix: "inkpad",
	}
	closeLog := func() {}
	if cfg.File != "" {
		out, err := log.FileOutput(cfg.File)
		if err != nil {
			return nil, nil, fmt.Errorf("open log file: %w", err)
		}
		logCfg.Output = out
		closeLog = func() { out.Close() }
	}
	return log.New(logCfg), closeLog, nil
}

func buildVerifier(cfg config.Config, logger *log.Logger) (*trust.Verifier, error) {
	opts := []trust.VerifierOption{trust.WithLogger(logger)}
	if cfg.Trust.Disabled {
		opts = append(opts, trust.WithVerificationDisabled())
	} else {
		keyring, err := trust.LoadKeyring(cfg.Trust.Keyring)
		if err != nil {
			return nil, fmt.Errorf("load keyring: %w", err)
		}
		opts = append(opts, trust.WithKeyring(keyring))
	}
	return trust.NewVerifier(opts...), nil
}

func buildManager(cfg config.Config, logger *log.Logger) (*extension.Manager, error) {
	verifier, err := buildVerifier(cfg, logger)
	if err != nil {
		return nil, err
	}
	return extension.NewManager(extension.ManagerConfig{
		Directory: cfg.Extensions.Directory,
		Verifier:  verifier,
		Logger:    logger,
	})
}

func cmdRun(cfg config.Config, logger *log.Logger) int {
	mgr, err := buildManager(cfg, logger)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}

	count, err := mgr.LoadAll()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Warning: %v\n", err)
	}
	fmt.Printf("Loaded %d extension(s) from %s\n", count, mgr.Directory())
	for _, d := range mgr.List() {
		fmt.Printf("  %-24s %-10s %s\n", d.Name(), d.Meta().Version, d.State())
	}

	signals := make(chan os.Signal, 1)
	signal.Notify(signals, syscall.SIGINT, syscall.SIGTERM)
	<-signals

	mgr.UnloadAll()
	return 0
}

func cmdList(cfg config.Config, logger *log.Logger) int {
	mgr, err := buildManager(cfg, logger)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	defer mgr.UnloadAll()

	if _, err := mgr.LoadAll(); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: %v\n", err)
	}

	if mgr.Count() == 0 && len(mgr.Errors()) == 0 {
		fmt.Printf("No extensions in %s\n", mgr.Directory())
		return 0
	}
	for _, d := range mgr.List() {
		fmt.Printf("%-24s %-10s %-12s %s\n", d.Name(), d.Meta().Version, d.State(), d.Path())
	}
	for file, msg := range mgr.Errors() {
		fmt.Printf("%-24s %-10s %-12s %s\n", file, "-", "failed", msg)
	}
	return 0
}

func cmdInfo(cfg config.Config, logger *log.Logger, args []string) int {
	if len(args) != 1 {
		fmt.Fprintln(os.Stderr, "Usage: inkpad info <name>")
		return 2
	}

	mgr, err := buildManager(cfg, logger)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	defer mgr.UnloadAll()

	if _, err := mgr.LoadAll(); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: %v\n", err)
	}

	d, ok := mgr.Find(args[0])
	if !ok {
		fmt.Fprintf(os.Stderr, "Error: extension %q is not loaded\n", args[0])
		return 1
	}

	meta := d.Meta()
	fmt.Printf("Name:        %s\n", meta.Name)
	fmt.Printf("Version:     %s\n", meta.Version)
	fmt.Printf("Author:      %s\n", meta.Author)
	fmt.Printf("Description: %s\n", meta.Description)
	if meta.Homepage != "" {
		fmt.Printf("Homepage:    %s\n", meta.Homepage)
	}
	fmt.Printf("State:       %s\n", d.State())
	fmt.Printf("Path:        %s\n", d.Path())

	cmds := d.Commands()
	if len(cmds) == 0 {
		fmt.Println("Commands:    none")
		return 0
	}
	fmt.Println("Commands:")
	for _, cmd := range cmds {
		line := "  " + cmd.Label
		if accel := extension.AcceleratorLabel(cmd.Key, cmd.Mods); accel != "" {
			line += "  (" + accel + ")"
		}
		fmt.Println(line)
	}
	return 0
}

func cmdVerify(cfg config.Config, logger *log.Logger, args []string) int {
	if len(args) == 0 {
		fmt.Fprintln(os.Stderr, "Usage: inkpad verify <file>...")
		return 2
	}

	verifier, err := buildVerifier(cfg, logger)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}

	failed := 0
	for _, path := range args {
		if err := verifier.Verify(path); err != nil {
			fmt.Printf("FAIL  %s: %v\n", path, err)
			failed++
			continue
		}
		fmt.Printf("OK    %s\n", path)
	}
	if failed > 0 {
		return 1
	}
	return 0
}

func cmdSign(cfg config.Config, args []string) int {
	fs := flag.NewFlagSet("sign", flag.ContinueOnError)
	var (
		keyPath string
		keyID   string
		newKey  bool
	)
	fs.StringVar(&keyPath, "key", "", "Private key file (base64 Ed25519)")
	fs.StringVar(&keyID, "id", "dev", "Signing key identifier")
	fs.BoolVar(&newKey, "new", false, "Generate the key if absent and add it to the keyring")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if keyPath == "" || fs.NArg() == 0 {
		fmt.Fprintln(os.Stderr, "Usage: inkpad sign -key <file> [-id <name>] [-new] <file>...")
		return 2
	}

	priv, err := loadOrCreateKey(keyPath, keyID, newKey, cfg.Trust.Keyring)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}

	for _, path := range fs.Args() {
		if err := trust.Sign(path, keyID, priv); err != nil {
			fmt.Fprintf(os.Stderr, "Error: sign %s: %v\n", path, err)
			return 1
		}
		fmt.Printf("Signed %s (key %s)\n", path, keyID)
	}
	return 0
}

// loadOrCreateKey reads a base64 Ed25519 private key, optionally
// generating it and registering the public half in the keyring.
func loadOrCreateKey(path, keyID string, create bool, keyringPath string) (ed25519.PrivateKey, error) {
	data, err := os.ReadFile(path)
	if err == nil {
		raw, err := base64.StdEncoding.DecodeString(strings.TrimSpace(string(data)))
		if err != nil {
			return nil, fmt.Errorf("decode private key %s: %w", path, err)
		}
		if len(raw) != ed25519.PrivateKeySize {
			return nil, fmt.Errorf("private key %s: wrong length %d", path, len(raw))
		}
		return ed25519.PrivateKey(raw), nil
	}
	if !os.IsNotExist(err) || !create {
		return nil, fmt.Errorf("read private key: %w", err)
	}

	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("generate key: %w", err)
	}
	encoded := base64.StdEncoding.EncodeToString(priv)
	if err := os.WriteFile(path, []byte(encoded+"\n"), 0o600); err != nil {
		return nil, fmt.Errorf("write private key: %w", err)
	}

	keyring, err := trust.LoadKeyring(keyringPath)
	if err != nil {
		return nil, fmt.Errorf("load keyring: %w", err)
	}
	if err := keyring.Add(keyID, pub); err != nil {
		return nil, fmt.Errorf("add key to keyring: %w", err)
	}
	if err := keyring.Save(keyringPath); err != nil {
		return nil, fmt.Errorf("save keyring: %w", err)
	}

	fmt.Printf("Generated key %s, public key added to %s\n", keyID, keyringPath)
	return priv, nil
}
