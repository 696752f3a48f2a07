package main

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/decred/dcrd/dcrec/secp256k1/v4"

	"github.com/r3e-network/hermes/internal/config"
	"github.com/r3e-network/hermes/internal/container"
	"github.com/r3e-network/hermes/internal/engine"
	"github.com/r3e-network/hermes/internal/logging"
	"github.com/r3e-network/hermes/internal/trust"
	"github.com/r3e-network/hermes/internal/validator"
	"github.com/r3e-network/hermes/internal/version"
)

func main() {
	configPath := flag.String("config", "", "Path to configuration file (overrides HERMES_CONFIG_FILE)")
	addr := flag.String("addr", "", "HTTP listen address (host:port, overrides config)")
	appsDir := flag.String("apps", "", "directory of application bundles to load at startup")
	anchorsDir := flag.String("trust-anchors", "", "directory of hex-encoded trust anchor public keys (overrides config)")
	showVersion := flag.Bool("version", false, "print version information and exit")
	flag.Parse()

	if *showVersion {
		fmt.Println(version.FullVersion())
		return
	}

	if trimmed := strings.TrimSpace(*configPath); trimmed != "" {
		os.Setenv("HERMES_CONFIG_FILE", trimmed)
	}

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}
	if trimmed := strings.TrimSpace(*addr); trimmed != "" {
		host, port, err := splitAddr(trimmed)
		if err != nil {
			fmt.Fprintf(os.Stderr, "invalid -addr: %v\n", err)
			os.Exit(1)
		}
		cfg.HTTP.Host, cfg.HTTP.Port = host, port
	}
	if trimmed := strings.TrimSpace(*anchorsDir); trimmed != "" {
		cfg.Trust.AnchorsDir = trimmed
	}

	log := logging.New(cfg.Logging)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	e, err := engine.New(ctx, cfg, log)
	if err != nil {
		log.WithError(err).Fatal("construct engine")
	}

	if err := loadTrustAnchors(e, cfg.Trust.AnchorsDir); err != nil {
		log.WithError(err).Warn("loading trust anchors")
	}

	if err := e.Start(ctx); err != nil {
		log.WithError(err).Fatal("start engine")
	}

	if trimmed := strings.TrimSpace(*appsDir); trimmed != "" {
		if err := loadApplications(ctx, e, trimmed, log); err != nil {
			log.WithError(err).Error("loading applications")
		}
	}

	<-ctx.Done()
	log.Info("shutdown signal received, draining")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Queue.GracePeriod+10*time.Second)
	defer cancel()
	if err := e.Stop(shutdownCtx); err != nil {
		log.WithError(err).Error("engine shutdown reported an error")
	}
}

func splitAddr(addr string) (string, int, error) {
	host, portStr, err := splitHostPort(addr)
	if err != nil {
		return "", 0, err
	}
	var port int
	if _, err := fmt.Sscanf(portStr, "%d", &port); err != nil {
		return "", 0, fmt.Errorf("invalid port %q: %w", portStr, err)
	}
	return host, port, nil
}

func splitHostPort(addr string) (string, string, error) {
	idx := strings.LastIndex(addr, ":")
	if idx < 0 {
		return "", "", fmt.Errorf("expected host:port")
	}
	return addr[:idx], addr[idx+1:], nil
}

// loadTrustAnchors registers every hex-encoded secp256k1 public key found as
// a *.pub file under dir with the engine's trust store.
func loadTrustAnchors(e *engine.Engine, dir string) error {
	if strings.TrimSpace(dir) == "" {
		return nil
	}
	entries, err := os.ReadDir(dir)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return err
	}
	for _, ent := range entries {
		if ent.IsDir() || filepath.Ext(ent.Name()) != ".pub" {
			continue
		}
		raw, err := os.ReadFile(filepath.Join(dir, ent.Name()))
		if err != nil {
			return err
		}
		decoded, err := hex.DecodeString(strings.TrimSpace(string(raw)))
		if err != nil {
			return fmt.Errorf("%s: %w", ent.Name(), err)
		}
		pub, err := secp256k1.ParsePubKey(decoded)
		if err != nil {
			return fmt.Errorf("%s: %w", ent.Name(), err)
		}
		e.TrustStore().Add(pub)
	}
	return nil
}

// loadApplications walks dir for application bundle directories (one level
// deep), each holding the package's files laid out at their package-root
// relative paths plus sidecar author.json/publisher.json signature
// envelopes, and loads each with the engine.
func loadApplications(ctx context.Context, e *engine.Engine, dir string, log *logging.Logger) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return err
	}
	for _, ent := range entries {
		if !ent.IsDir() {
			continue
		}
		bundleDir := filepath.Join(dir, ent.Name())
		if err := loadApplicationDir(ctx, e, bundleDir); err != nil {
			log.WithField("bundle", bundleDir).WithError(err).Error("failed to load application")
			continue
		}
		log.WithField("bundle", bundleDir).Info("loaded application")
	}
	return nil
}

func loadApplicationDir(ctx context.Context, e *engine.Engine, dir string) error {
	files := make(map[string][]byte)
	err := filepath.Walk(dir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(dir, path)
		if err != nil {
			return err
		}
		if rel == "author.json" || rel == "publisher.json" {
			return nil
		}
		content, err := os.ReadFile(path)
		if err != nil {
			return err
		}
		files["/"+filepath.ToSlash(rel)] = content
		return nil
	})
	if err != nil {
		return err
	}

	bundle, err := container.Load(files)
	if err != nil {
		return err
	}

	sigs := validator.Signatures{}
	if env, err := readEnvelope(filepath.Join(dir, "author.json")); err == nil {
		sigs.Author = env
	}
	if env, err := readEnvelope(filepath.Join(dir, "publisher.json")); err == nil {
		sigs.Publisher = env
	}

	return e.LoadApplication(ctx, bundle, sigs)
}

func readEnvelope(path string) (*trust.Envelope, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var env trust.Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, err
	}
	return &env, nil
}
