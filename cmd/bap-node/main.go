package main

import (
	"context"
	"crypto/ed25519"
	"encoding/base64"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"openbap/go-backend/internal/config"
	"openbap/go-backend/internal/correlation"
	"openbap/go-backend/internal/gateway"
	"openbap/go-backend/internal/identity"
	"openbap/go-backend/internal/outbound"
	"openbap/go-backend/internal/platform/ratelimiter"
	"openbap/go-backend/internal/store"
	"openbap/go-backend/internal/stream"
)

const (
	exitOK            = 0
	exitInvalidInput  = 10
	exitNetworkFailed = 20
	exitStoreFailed   = 30
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(exitInvalidInput)
	}

	switch os.Args[1] {
	case "init":
		runInit(os.Args[2:])
	case "register":
		runRegister(os.Args[2:])
	case "serve":
		runServe(os.Args[2:])
	default:
		printUsage()
		os.Exit(exitInvalidInput)
	}
}

// runInit mints a fresh recovery mnemonic and prints the derived identity.
// The mnemonic is shown exactly once; only the derived keys go to config.
func runInit(args []string) {
	fs := flag.NewFlagSet("init", flag.ExitOnError)
	subscriberID := fs.String("subscriber-id", "", "subscriber id this node registers under")
	domain := fs.String("domain", "", "network domain code")
	if err := fs.Parse(args); err != nil {
		writeStderrln(err.Error(), exitInvalidInput)
	}
	if strings.TrimSpace(*subscriberID) == "" {
		writeStderrln("subscriber-id is required", exitInvalidInput)
	}

	mnemonic, err := identity.NewMnemonic()
	if err != nil {
		writeStderrln(err.Error(), exitInvalidInput)
	}
	keys, err := identity.DeriveFromMnemonic(mnemonic)
	if err != nil {
		writeStderrln(err.Error(), exitInvalidInput)
	}
	tenant, err := identity.NewTenant(*subscriberID, "", *domain, "", keys)
	if err != nil {
		writeStderrln(err.Error(), exitInvalidInput)
	}

	material := tenant.Export()
	if err := printJSON(map[string]any{
		"mnemonic":               mnemonic,
		"subscriber_id":          tenant.SubscriberID,
		"unique_key_id":          tenant.UniqueKeyID,
		"signing_private_key":    material.SigningPrivate,
		"encryption_private_key": material.EncryptionPrivate,
	}); err != nil {
		writeStderrln(err.Error(), exitInvalidInput)
	}
	os.Exit(exitOK)
}

func runRegister(args []string) {
	fs := flag.NewFlagSet("register", flag.ExitOnError)
	configPath := fs.String("config", "", "config file path")
	validity := fs.Duration("validity", 365*24*time.Hour, "requested key validity window")
	if err := fs.Parse(args); err != nil {
		writeStderrln(err.Error(), exitInvalidInput)
	}

	cfg := config.LoadFromPath(*configPath)
	tenant, err := loadTenant(cfg)
	if err != nil {
		writeStderrln(err.Error(), exitInvalidInput)
	}
	if strings.TrimSpace(tenant.RegistryURL) == "" {
		writeStderrln("registry url is required", exitInvalidInput)
	}

	log := newLogger()
	client := outbound.NewRegistryClient(tenant, nil, log)
	if err := client.Subscribe(context.Background(), cfg.Tenant.CallbackURL, *validity); err != nil {
		writeStderrln(err.Error(), exitNetworkFailed)
	}
	if err := printJSON(map[string]any{
		"subscribed":    true,
		"subscriber_id": tenant.SubscriberID,
		"unique_key_id": tenant.UniqueKeyID,
		"registry_url":  tenant.RegistryURL,
	}); err != nil {
		writeStderrln(err.Error(), exitNetworkFailed)
	}
	os.Exit(exitOK)
}

func runServe(args []string) {
	fs := flag.NewFlagSet("serve", flag.ExitOnError)
	configPath := fs.String("config", "", "config file path")
	listenAddr := fs.String("listen-addr", "", "listen address override")
	if err := fs.Parse(args); err != nil {
		writeStderrln(err.Error(), exitInvalidInput)
	}

	cfg := config.LoadFromPath(*configPath)
	if strings.TrimSpace(*listenAddr) != "" {
		cfg.Server.ListenAddr = *listenAddr
	}
	log := newLogger()

	tenant, err := loadTenant(cfg)
	if err != nil {
		writeStderrln(err.Error(), exitInvalidInput)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	backend, err := openBackend(ctx, cfg)
	if err != nil {
		writeStderrln(err.Error(), exitStoreFailed)
	}
	defer backend.Close()

	ts := store.NewTenantStore(backend, tenant.Namespace())
	multi := correlation.NewMultiReply(ts)
	single := correlation.NewSingleReply(ts)
	status := correlation.NewStatusStore(ts)

	sched := stream.NewScheduler(time.Second)
	defer sched.Close()
	broadcaster := stream.NewBroadcaster(ts, sched, log)

	sender := outbound.NewSender(tenant, nil, multi, single,
		cfg.Tenant.GatewayURL, cfg.Tenant.CallbackURL,
		cfg.Protocol.SearchTTL, cfg.Protocol.ActionTTL, log)

	opts := gateway.Options{
		ListenAddr:       cfg.Server.ListenAddr,
		NetworkPublicKey: decodeNetworkKey(cfg.Tenant.NetworkPublicKey),
		Limiter:          ratelimiter.New(cfg.Server.RateLimitRPS, cfg.Server.RateLimitBurst, 10*time.Minute),
	}
	if cfg.Server.VerifyInbound != nil && *cfg.Server.VerifyInbound {
		registry := outbound.NewRegistryClient(tenant, nil, log)
		opts.ResolveKey = func(subscriberID, uniqueKeyID string) (ed25519.PublicKey, bool) {
			lookupCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
			defer cancel()
			return registry.LookupSigningKey(lookupCtx, subscriberID, uniqueKeyID)
		}
	}
	srv := gateway.NewServer(tenant, multi, single, status, broadcaster, sender, gateway.NewMetrics(), opts, log)

	log.Info("node starting",
		"subscriber_id", tenant.SubscriberID,
		"store_backend", cfg.Store.Backend,
		"listen_addr", cfg.Server.ListenAddr,
	)
	if err := srv.Run(ctx); err != nil {
		log.Error("node stopped", "err", err)
		os.Exit(exitNetworkFailed)
	}
	os.Exit(exitOK)
}

func loadTenant(cfg config.Config) (*identity.Tenant, error) {
	return identity.LoadTenant(
		cfg.Tenant.SubscriberID,
		cfg.Tenant.UniqueKeyID,
		cfg.Tenant.Domain,
		cfg.Tenant.RegistryURL,
		identity.KeyMaterial{
			SigningPrivate:    cfg.Tenant.SigningPrivateKey,
			EncryptionPrivate: cfg.Tenant.EncryptionPrivateKey,
		},
	)
}

func openBackend(ctx context.Context, cfg config.Config) (store.Backend, error) {
	switch cfg.Store.Backend {
	case "", "memory":
		return store.NewMemoryBackend(), nil
	case "redis":
		return store.NewRedisBackend(ctx, cfg.Store.Redis.Addr, cfg.Store.Redis.Password, cfg.Store.Redis.DB)
	case "badger":
		return store.NewBadgerBackend(cfg.Store.Badger.Path)
	default:
		return nil, fmt.Errorf("unknown store backend %q", cfg.Store.Backend)
	}
}

func decodeNetworkKey(encoded string) []byte {
	key, err := base64.StdEncoding.DecodeString(strings.TrimSpace(encoded))
	if err != nil || len(key) != 32 {
		return nil
	}
	return key
}

func newLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(os.Stdout, nil))
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func printUsage() {
	fmt.Fprintln(os.Stdout, "bap-node <command> [flags]")
	fmt.Fprintln(os.Stdout, "commands:")
	fmt.Fprintln(os.Stdout, "  init     --subscriber-id <id> [--domain <code>]")
	fmt.Fprintln(os.Stdout, "  register [--config path] [--validity 8760h]")
	fmt.Fprintln(os.Stdout, "  serve    [--config path] [--listen-addr host:port]")
}

func writeStderrln(line string, exitCode int) {
	fmt.Fprintln(os.Stderr, line)
	os.Exit(exitCode)
}
