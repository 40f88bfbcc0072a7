// ABOUTME: Entry point for the blvckwall-gateway portal server
// ABOUTME: Serves owner-scoped records, auth and provider actions over HTTP

package main

import (
	"bufio"
	"context"
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/google/uuid"

	"github.com/blvckwall/blvckwall-gateway/internal/auth"
	"github.com/blvckwall/blvckwall-gateway/internal/config"
	"github.com/blvckwall/blvckwall-gateway/internal/gateway"
	"github.com/blvckwall/blvckwall-gateway/internal/store"
)

// Version is set by goreleaser at build time.
var version = "dev"

const banner = `
 _     _            _                   _ _
| |__ | |_   _____| | ____      ____ _| | |
| '_ \| \ \ / / __| |/ /\ \ /\ / / _' | | |
| |_) | |\ V / (__|   <  \ V  V / (_| | | |
|_.__/|_| \_/ \___|_|\_\  \_/\_/ \__,_|_|_|
`

func main() {
	if len(os.Args) < 2 {
		fmt.Println("Usage: blvckwall-gateway <command>")
		fmt.Println()
		fmt.Println("Commands:")
		fmt.Println("  serve                    Start the gateway server")
		fmt.Println("  init                     Create a new config file interactively")
		fmt.Println("  bootstrap --email EMAIL  Create the first account with a generated password")
		fmt.Println("  health                   Check gateway health")
		fmt.Println("  ready                    Check gateway readiness (database reachable)")
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	var err error
	switch os.Args[1] {
	case "serve":
		err = runServe(ctx)
	case "init":
		err = runInit()
	case "bootstrap":
		err = runBootstrap(ctx)
	case "health":
		err = runHealth(ctx, "/health")
	case "ready":
		err = runHealth(ctx, "/health/ready")
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", os.Args[1])
		os.Exit(1)
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func runServe(ctx context.Context) error {
	configPath := config.Path()

	cyan := color.New(color.FgCyan)
	cyan.Print(banner)

	gray := color.New(color.FgHiBlack)
	gray.Printf("    version: %s\n\n", version)

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	logger := setupLogger(cfg.Logging)

	green := color.New(color.FgGreen)
	yellow := color.New(color.FgYellow)

	green.Print("    ▶ ")
	fmt.Printf("Config:    %s\n", configPath)
	green.Print("    ▶ ")
	fmt.Printf("HTTP:      %s\n", cfg.Server.HTTPAddr)
	green.Print("    ▶ ")
	fmt.Printf("Database:  %s\n", cfg.Database.Driver)
	green.Print("    ▶ ")
	fmt.Printf("Limiter:   ")
	if cfg.RateLimit.RedisURL != "" {
		cyan.Println("redis")
	} else {
		gray.Println("memory")
	}
	for _, p := range providerModes(cfg.Providers) {
		green.Print("    ▶ ")
		fmt.Printf("%-11s", p.name+":")
		if p.live {
			yellow.Println("live")
		} else {
			gray.Println("demo")
		}
	}
	fmt.Println()

	shutdownTracing, err := setupTracing(ctx, cfg.Tracing, logger)
	if err != nil {
		return fmt.Errorf("setting up tracing: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracing(shutdownCtx); err != nil {
			logger.Warn("tracer shutdown failed", "error", err)
		}
	}()

	logger.Info("starting blvckwall-gateway",
		"config", configPath,
		"http_addr", cfg.Server.HTTPAddr,
		"database", cfg.Database.Driver,
	)

	gw, err := gateway.New(cfg, logger)
	if err != nil {
		return fmt.Errorf("creating gateway: %w", err)
	}

	return gw.Run(ctx)
}

type providerMode struct {
	name string
	live bool
}

func providerModes(cfg config.ProvidersConfig) []providerMode {
	return []providerMode{
		{"Telephony", cfg.Telephony.IsLive()},
		{"Voice", cfg.Voice.IsLive()},
		{"Video", cfg.Video.IsLive()},
		{"Translate", cfg.Translation.IsLive()},
		{"Cards", cfg.Card.IsLive()},
		{"Ledger", cfg.Ledger.IsLive()},
	}
}

func runHealth(ctx context.Context, path string) error {
	cfg, err := config.Load(config.Path())
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	url := fmt.Sprintf("http://%s%s", cfg.Server.HTTPAddr, path)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unhealthy: status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	fmt.Println(strings.TrimSpace(string(body)))
	return nil
}

// runBootstrap performs first-time setup of the gateway:
// 1. Creates config file with random JWT secret (if not exists)
// 2. Creates the database and the first account
// 3. Prints the generated password once
//
// This is a one-command setup: blvckwall-gateway bootstrap --email you@example.com
func runBootstrap(ctx context.Context) error {
	// Supports both "--email value" and "--email=value" formats
	var email string
	args := os.Args[2:]
	for i := 0; i < len(args); i++ {
		arg := args[i]
		switch {
		case arg == "--email" || arg == "-e":
			if i+1 >= len(args) {
				return fmt.Errorf("--email requires a value")
			}
			email = args[i+1]
			i++
		case strings.HasPrefix(arg, "--email="):
			email = strings.TrimPrefix(arg, "--email=")
		case strings.HasPrefix(arg, "-e="):
			email = strings.TrimPrefix(arg, "-e=")
		case strings.HasPrefix(arg, "-"):
			return fmt.Errorf("unknown flag: %s", arg)
		default:
			return fmt.Errorf("unexpected argument: %s", arg)
		}
	}

	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" {
		return fmt.Errorf("--email flag is required")
	}

	password, err := generatePassword()
	if err != nil {
		return fmt.Errorf("generating password: %w", err)
	}
	if err := auth.ValidateCredentials(email, password); err != nil {
		return err
	}

	configPath := config.Path()
	dataPath := config.DataPath()
	dbPath := filepath.Join(dataPath, "gateway.db")

	green := color.New(color.FgGreen)
	cyan := color.New(color.FgCyan)
	yellow := color.New(color.FgYellow)

	var cfg *config.Config
	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		secretBytes := make([]byte, 32)
		if _, err := rand.Read(secretBytes); err != nil {
			return fmt.Errorf("generating JWT secret: %w", err)
		}
		jwtSecret := base64.StdEncoding.EncodeToString(secretBytes)

		if err := os.MkdirAll(filepath.Dir(configPath), 0755); err != nil {
			return fmt.Errorf("creating config directory: %w", err)
		}
		if err := os.MkdirAll(dataPath, 0755); err != nil {
			return fmt.Errorf("creating data directory: %w", err)
		}

		configContent := fmt.Sprintf(`# blvckwall-gateway configuration
# Generated by blvckwall-gateway bootstrap

server:
  http_addr: "localhost:8080"

database:
  driver: "sqlite"
  path: "%s"

auth:
  jwt_secret: "%s"

logging:
  level: "info"
  format: "text"
`, dbPath, jwtSecret)

		if err := os.WriteFile(configPath, []byte(configContent), 0600); err != nil {
			return fmt.Errorf("writing config file: %w", err)
		}

		green.Printf("  ✓ Created config: %s\n", configPath)

		cfg, err = config.Load(configPath)
		if err != nil {
			return fmt.Errorf("loading config: %w", err)
		}
	} else {
		cfg, err = config.Load(configPath)
		if err != nil {
			return fmt.Errorf("loading config: %w", err)
		}
		cyan.Printf("  Using existing config: %s\n", configPath)
	}

	dsn := cfg.Database.Path
	if cfg.Database.Driver == store.DriverPostgres {
		dsn = cfg.Database.DSN
	}
	s, err := store.Open(cfg.Database.Driver, dsn)
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	defer s.Close()

	green.Printf("  ✓ Database: %s\n", cfg.Database.Driver)

	count, err := s.CountUsers(ctx)
	if err != nil {
		return fmt.Errorf("checking accounts: %w", err)
	}
	if count > 0 {
		return fmt.Errorf("bootstrap already complete: %d account(s) exist", count)
	}

	hash, err := auth.HashPassword(password)
	if err != nil {
		return fmt.Errorf("hashing password: %w", err)
	}
	user := &store.User{
		ID:           uuid.New().String(),
		Email:        email,
		PasswordHash: hash,
		CreatedAt:    time.Now().UTC(),
	}
	if err := s.CreateUser(ctx, user); err != nil {
		return fmt.Errorf("creating account: %w", err)
	}

	green.Printf("  ✓ Created account: %s\n", email)

	fmt.Println()
	green.Println("  Bootstrap complete!")
	fmt.Println()
	cyan.Println("  First Account")
	cyan.Println("  -------------")
	fmt.Printf("  ID:       %s\n", user.ID)
	fmt.Printf("  Email:    %s\n", email)
	fmt.Printf("  Password: %s\n", password)
	fmt.Println()
	yellow.Println("  The password is shown once. Store it now.")
	fmt.Println()
	fmt.Println("  Ready to go:")
	fmt.Println("    blvckwall-gateway serve       # start the gateway")
	fmt.Println("    blvckwall login --email ...   # sign in from a device")
	fmt.Println()

	return nil
}

// generatePassword returns a random password that satisfies the credential
// policy: 18 url-safe characters plus a fixed uppercase letter and digit.
func generatePassword() (string, error) {
	b := make([]byte, 12)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(b) + "Q7", nil
}

func runInit() error {
	reader := bufio.NewReader(os.Stdin)

	fmt.Println("blvckwall-gateway configuration setup")
	fmt.Println("=====================================")
	fmt.Println()

	defaultConfigPath := config.Path()
	defaultDbPath := filepath.Join(config.DataPath(), "gateway.db")

	outputFile := prompt(reader, "Config file path", defaultConfigPath)

	if _, err := os.Stat(outputFile); err == nil {
		if !isYes(prompt(reader, "File exists. Overwrite?", "no")) {
			fmt.Println("Aborted.")
			return nil
		}
	}

	fmt.Println("\n--- Server Configuration ---")
	httpAddr := prompt(reader, "HTTP address", "localhost:8080")
	secureCookies := isYes(prompt(reader, "Serving behind TLS (secure cookies)?", "no"))

	fmt.Println("\n--- Database Configuration ---")
	driver := prompt(reader, "Database driver (sqlite/postgres)", store.DriverSQLite)
	var dbPath, dsn string
	if driver == store.DriverPostgres {
		dsn = prompt(reader, "Postgres DSN", "postgres://blvckwall@localhost:5432/blvckwall?sslmode=disable")
	} else {
		dbPath = prompt(reader, "SQLite database path", defaultDbPath)
	}

	fmt.Println("\n--- Login Rate Limit ---")
	redisURL := prompt(reader, "Redis URL (leave empty for in-memory)", "")

	fmt.Println("\n--- Providers ---")
	fmt.Println("Providers run in demo mode unless configured live with an API key.")
	providerLines := make([]string, 0, 6)
	for _, name := range []string{"telephony", "voice", "video", "translation", "card", "ledger"} {
		if !isYes(prompt(reader, fmt.Sprintf("Use live %s provider?", name), "no")) {
			continue
		}
		envVar := "BLVCKWALL_" + strings.ToUpper(name) + "_API_KEY"
		baseURL := prompt(reader, fmt.Sprintf("%s base URL", name), "")
		providerLines = append(providerLines,
			fmt.Sprintf("  %s:\n    mode: \"live\"\n    api_key: \"${%s}\"\n    base_url: \"%s\"\n", name, envVar, baseURL))
	}

	fmt.Println("\n--- Logging Configuration ---")
	logLevel := prompt(reader, "Log level (debug/info/warn/error)", "info")
	logFormat := prompt(reader, "Log format (text/json)", "text")

	secretBytes := make([]byte, 32)
	if _, err := rand.Read(secretBytes); err != nil {
		return fmt.Errorf("generating JWT secret: %w", err)
	}

	var cfg strings.Builder
	cfg.WriteString("# blvckwall-gateway configuration\n")
	cfg.WriteString("# Generated by blvckwall-gateway init\n\n")

	cfg.WriteString("server:\n")
	cfg.WriteString(fmt.Sprintf("  http_addr: \"%s\"\n", httpAddr))
	cfg.WriteString(fmt.Sprintf("  secure_cookies: %t\n", secureCookies))
	cfg.WriteString("\n")

	cfg.WriteString("database:\n")
	cfg.WriteString(fmt.Sprintf("  driver: \"%s\"\n", driver))
	if dsn != "" {
		cfg.WriteString(fmt.Sprintf("  dsn: \"%s\"\n", dsn))
	} else {
		cfg.WriteString(fmt.Sprintf("  path: \"%s\"\n", dbPath))
	}
	cfg.WriteString("\n")

	cfg.WriteString("auth:\n")
	cfg.WriteString(fmt.Sprintf("  jwt_secret: \"%s\"\n", base64.StdEncoding.EncodeToString(secretBytes)))
	cfg.WriteString("  access_ttl: \"1h\"\n")
	cfg.WriteString("  refresh_ttl: \"720h\"\n")
	cfg.WriteString("\n")

	cfg.WriteString("ratelimit:\n")
	if redisURL != "" {
		cfg.WriteString(fmt.Sprintf("  redis_url: \"%s\"\n", redisURL))
	}
	cfg.WriteString("  attempts: 5\n")
	cfg.WriteString("  window: \"60s\"\n")
	cfg.WriteString("\n")

	cfg.WriteString("providers:\n")
	cfg.WriteString("  timeout: \"10s\"\n")
	for _, line := range providerLines {
		cfg.WriteString(line)
	}
	cfg.WriteString("\n")

	cfg.WriteString("logging:\n")
	cfg.WriteString(fmt.Sprintf("  level: \"%s\"\n", logLevel))
	cfg.WriteString(fmt.Sprintf("  format: \"%s\"\n", logFormat))
	cfg.WriteString("\n")

	cfg.WriteString("tracing:\n")
	cfg.WriteString("  enabled: false\n")

	if err := os.MkdirAll(filepath.Dir(outputFile), 0755); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}

	if err := os.WriteFile(outputFile, []byte(cfg.String()), 0600); err != nil {
		return fmt.Errorf("writing config file: %w", err)
	}

	if dbPath != "" {
		if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
			return fmt.Errorf("creating data directory: %w", err)
		}
	}

	fmt.Printf("\nConfig written to %s\n", outputFile)
	fmt.Println("\nTo create the first account and start the server:")
	fmt.Printf("  blvckwall-gateway bootstrap --email you@example.com\n")
	fmt.Printf("  blvckwall-gateway serve\n")

	return nil
}

func isYes(s string) bool {
	s = strings.ToLower(s)
	return s == "yes" || s == "y"
}

func prompt(reader *bufio.Reader, question, defaultVal string) string {
	if defaultVal != "" {
		fmt.Printf("%s [%s]: ", question, defaultVal)
	} else {
		fmt.Printf("%s: ", question)
	}

	input, err := reader.ReadString('\n')
	if err != nil {
		// On EOF or error, return default
		fmt.Println()
		return defaultVal
	}
	input = strings.TrimSpace(input)

	if input == "" {
		return defaultVal
	}
	return input
}
