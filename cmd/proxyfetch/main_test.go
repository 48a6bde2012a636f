package main

import (
	"testing"
	"time"

	"github.com/spf13/cobra"

	"github.com/Davis1233798/proxyfetch/internal/config"
	"github.com/Davis1233798/proxyfetch/internal/proxy"
)

// newTestCommand registers the same flags as rootCmd on a fresh command.
func newTestCommand(t *testing.T, flags ...string) *cobra.Command {
	t.Helper()
	cmd := &cobra.Command{Use: "proxyfetch"}
	cmd.Flags().StringVar(&configPath, "config", "", "")
	config.Defaults().RegisterFlags(cmd.Flags())
	if err := cmd.ParseFlags(flags); err != nil {
		t.Fatal(err)
	}
	return cmd
}

func TestLoadConfigFlagsWin(t *testing.T) {
	t.Setenv("PROXYFETCH_CONCURRENCY", "40")
	t.Setenv("PROXYFETCH_MAX_ATTEMPTS", "4")

	cmd := newTestCommand(t, "-c", "7", "--proxies", "proxies.txt", "--attempt-timeout", "3s")
	cfg, err := loadConfig(cmd, []string{"habr.csv"})
	if err != nil {
		t.Fatalf("loadConfig() error = %v", err)
	}

	if cfg.Concurrency != 7 {
		t.Errorf("Concurrency = %d, flag should win over the environment", cfg.Concurrency)
	}
	if cfg.MaxAttempts != 4 {
		t.Errorf("MaxAttempts = %d, an unset flag must not hide the environment", cfg.MaxAttempts)
	}
	if cfg.AttemptTimeout != 3*time.Second || cfg.ProxyFile != "proxies.txt" || cfg.Input != "habr.csv" {
		t.Errorf("loadConfig() = %+v", cfg)
	}
	if cfg.Checkpoint != "successful_links.csv" {
		t.Errorf("Checkpoint = %q, default lost", cfg.Checkpoint)
	}
}

func TestLoadConfigInvalid(t *testing.T) {
	cmd := newTestCommand(t, "--proxies", "proxies.txt", "-c", "0")
	if _, err := loadConfig(cmd, []string{"habr.csv"}); err == nil {
		t.Error("loadConfig() should reject zero concurrency")
	}
}

func TestProxySources(t *testing.T) {
	cfg := config.Defaults()
	cfg.ProxyFile = "proxies.txt"
	cfg.ProxyHTML = true

	sources := proxySources(cfg)
	if len(sources) != 2 {
		t.Fatalf("proxySources() = %d sources, want 2", len(sources))
	}
	if _, ok := sources[0].(proxy.FileSource); !ok {
		t.Errorf("sources[0] = %T, want FileSource", sources[0])
	}
	if _, ok := sources[1].(*proxy.HTMLSource); !ok {
		t.Errorf("sources[1] = %T, want *HTMLSource", sources[1])
	}
}
