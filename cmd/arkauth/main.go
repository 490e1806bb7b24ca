package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/ark-escrow/arkauth/internal/auth"
	"github.com/ark-escrow/arkauth/internal/client"
	"github.com/ark-escrow/arkauth/internal/config"
	httpapp "github.com/ark-escrow/arkauth/internal/http"
	"github.com/ark-escrow/arkauth/internal/rate"
	"github.com/ark-escrow/arkauth/internal/store/sqlite"
	"github.com/ark-escrow/arkauth/internal/token"
)

// CLIConfig holds the CLI client configuration persisted to disk.
type CLIConfig struct {
	BaseURL    string `json:"base_url"`
	PublicKey  string `json:"public_key"`
	PrivateKey string `json:"private_key"`
	Token      string `json:"token"`
	UserID     string `json:"user_id"`
}

func main() {
	if len(os.Args) < 2 {
		runServer()
		return
	}

	cmd := os.Args[1]
	args := os.Args[2:]

	switch cmd {
	case "server", "serve":
		runServer()
	case "keygen":
		cmdKeygen(args)
	case "signup", "login":
		cmdSignup(args)
	case "whoami", "status":
		cmdWhoami(args)
	case "signout":
		cmdSignout(args)
	case "version", "-v", "--version":
		fmt.Println("arkauth v0.1.0")
	case "help", "-h", "--help":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", cmd)
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Println(`arkauth - key-based signup service for the ARK escrow API

Usage: arkauth <command> [options]

Server:
  server              Run the auth server (default when no command given)

Client:
  keygen              Generate a secp256k1 keypair and save it
  signup              Request a challenge, sign it, and store the token
  whoami              Show the identity behind the stored token
  signout             Invalidate the current session

Options:
  --url <base>        API base URL (default http://localhost:8080)
  --config <path>     Config file (default ~/.arkauth.json)`)
}

func runServer() {
	cfg := config.Load()

	st, err := sqlite.Open(cfg.DBPath)
	if err != nil {
		log.Fatalf("failed to open db: %v", err)
	}
	defer st.Close()

	limiter := rate.NewMemory()
	tokens := token.NewIssuer([]byte(cfg.JWTSecret), cfg.TokenTTL)
	authSvc := auth.NewService(st, tokens, cfg.ChallengeTTL)
	server := httpapp.NewServer(authSvc, limiter, cfg)

	httpServer := &http.Server{
		Addr:              cfg.Addr,
		Handler:           server,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		log.Printf("arkauth listening on %s", cfg.Addr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("server error: %v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop
	log.Println("shutting down...")
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = httpServer.Shutdown(ctx)
}

func cmdKeygen(args []string) {
	fs := flag.NewFlagSet("keygen", flag.ExitOnError)
	baseURL := fs.String("url", "http://localhost:8080", "API base URL")
	cfgPath := fs.String("config", defaultConfigPath(), "config file path")
	_ = fs.Parse(args)

	creds, err := client.GenerateCredentials()
	if err != nil {
		fatalf("generate keypair: %v", err)
	}
	cli := CLIConfig{
		BaseURL:    *baseURL,
		PublicKey:  creds.PublicKey,
		PrivateKey: creds.PrivateKeyHex(),
	}
	if err := saveCLIConfig(*cfgPath, cli); err != nil {
		fatalf("save config: %v", err)
	}
	fmt.Printf("public key: %s\nsaved to %s\n", creds.PublicKey, *cfgPath)
}

func cmdSignup(args []string) {
	fs := flag.NewFlagSet("signup", flag.ExitOnError)
	cfgPath := fs.String("config", defaultConfigPath(), "config file path")
	_ = fs.Parse(args)

	cli, err := loadCLIConfig(*cfgPath)
	if err != nil {
		fatalf("load config (run 'arkauth keygen' first): %v", err)
	}
	creds, err := client.CredentialsFromHex(cli.PrivateKey)
	if err != nil {
		fatalf("restore keypair: %v", err)
	}

	c := client.New(cli.BaseURL)
	session, err := c.Signup(creds)
	if err != nil {
		fatalf("signup: %v", err)
	}
	cli.Token = session.AccessToken
	cli.UserID = session.UserID
	if err := saveCLIConfig(*cfgPath, cli); err != nil {
		fatalf("save config: %v", err)
	}
	fmt.Printf("signed up as %s\n", session.UserID)
}

func cmdWhoami(args []string) {
	fs := flag.NewFlagSet("whoami", flag.ExitOnError)
	cfgPath := fs.String("config", defaultConfigPath(), "config file path")
	_ = fs.Parse(args)

	cli, err := loadCLIConfig(*cfgPath)
	if err != nil {
		fatalf("load config: %v", err)
	}
	c := client.New(cli.BaseURL)
	c.Token = cli.Token
	userID, publicKey, err := c.Whoami()
	if err != nil {
		fatalf("whoami: %v", err)
	}
	fmt.Printf("user:       %s\npublic key: %s\n", userID, publicKey)
}

func cmdSignout(args []string) {
	fs := flag.NewFlagSet("signout", flag.ExitOnError)
	cfgPath := fs.String("config", defaultConfigPath(), "config file path")
	_ = fs.Parse(args)

	cli, err := loadCLIConfig(*cfgPath)
	if err != nil {
		fatalf("load config: %v", err)
	}
	c := client.New(cli.BaseURL)
	c.Token = cli.Token
	if err := c.Signout(); err != nil {
		fatalf("signout: %v", err)
	}
	cli.Token = ""
	if err := saveCLIConfig(*cfgPath, cli); err != nil {
		fatalf("save config: %v", err)
	}
	fmt.Println("signed out")
}

func defaultConfigPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".arkauth.json"
	}
	return filepath.Join(home, ".arkauth.json")
}

func loadCLIConfig(path string) (CLIConfig, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return CLIConfig{}, err
	}
	var cfg CLIConfig
	if err := json.Unmarshal(raw, &cfg); err != nil {
		return CLIConfig{}, err
	}
	return cfg, nil
}

func saveCLIConfig(path string, cfg CLIConfig) error {
	raw, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, raw, 0o600)
}

func fatalf(format string, args ...any) {
	fmt.Fprintf(os.Stderr, format+"\n", args...)
	os.Exit(1)
}
