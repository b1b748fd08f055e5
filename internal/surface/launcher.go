package surface

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"strconv"
	"time"

	"github.com/chromedp/chromedp"
)

// LaunchConfig holds settings for a locally started render surface.
type LaunchConfig struct {
	CDPAddress string
	CDPPort    int
	StartURL   string
	ProfileDir string
	Headless   bool
	Width      int
	Height     int
	ReadyWait  time.Duration
}

// Launcher starts a Chromium showing the chart page with its DevTools port
// open, so a Bridge can attach to it.
type Launcher struct {
	cfg         LaunchConfig
	cancelAlloc context.CancelFunc
	cancelTab   context.CancelFunc
	running     bool
}

func NewLauncher(cfg LaunchConfig) *Launcher {
	if cfg.Width == 0 || cfg.Height == 0 {
		cfg.Width, cfg.Height = 1600, 900
	}
	if cfg.ReadyWait <= 0 {
		cfg.ReadyWait = 15 * time.Second
	}
	return &Launcher{cfg: cfg}
}

func isPortInUse(address string, port int) bool {
	conn, err := net.DialTimeout("tcp", net.JoinHostPort(address, strconv.Itoa(port)), time.Second)
	if err != nil {
		return false
	}
	conn.Close()
	return true
}

// Launch starts the browser unless something already listens on the CDP port.
func (l *Launcher) Launch(ctx context.Context) error {
	if isPortInUse(l.cfg.CDPAddress, l.cfg.CDPPort) {
		slog.Info("surface browser already running, skipping launch",
			"address", l.cfg.CDPAddress, "port", l.cfg.CDPPort)
		return nil
	}
	if l.cfg.ProfileDir != "" {
		if err := os.MkdirAll(l.cfg.ProfileDir, 0o755); err != nil {
			return fmt.Errorf("create profile dir: %w", err)
		}
	}

	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", l.cfg.Headless),
		chromedp.Flag("remote-debugging-address", l.cfg.CDPAddress),
		chromedp.Flag("remote-debugging-port", strconv.Itoa(l.cfg.CDPPort)),
		chromedp.Flag("disable-dev-shm-usage", true),
		chromedp.Flag("disable-breakpad", true),
		chromedp.WindowSize(l.cfg.Width, l.cfg.Height),
	)
	if l.cfg.ProfileDir != "" {
		opts = append(opts, chromedp.UserDataDir(l.cfg.ProfileDir))
	}

	allocCtx, cancelAlloc := chromedp.NewExecAllocator(context.Background(), opts...)
	tabCtx, cancelTab := chromedp.NewContext(allocCtx)
	l.cancelAlloc, l.cancelTab = cancelAlloc, cancelTab

	if err := chromedp.Run(tabCtx, chromedp.Navigate(l.cfg.StartURL)); err != nil {
		l.Stop()
		return fmt.Errorf("start surface browser: %w", err)
	}
	l.running = true
	slog.Info("surface browser started", "start_url", l.cfg.StartURL, "headless", l.cfg.Headless)

	if err := l.waitForCDP(ctx); err != nil {
		l.Stop()
		return fmt.Errorf("waiting for CDP: %w", err)
	}
	slog.Info("CDP endpoint ready", "address", l.cfg.CDPAddress, "port", l.cfg.CDPPort)
	return nil
}

// waitForCDP polls /json/version until the DevTools endpoint answers.
func (l *Launcher) waitForCDP(ctx context.Context) error {
	url := fmt.Sprintf("http://%s/json/version", net.JoinHostPort(l.cfg.CDPAddress, strconv.Itoa(l.cfg.CDPPort)))
	deadline := time.After(l.cfg.ReadyWait)
	ticker := time.NewTicker(250 * time.Millisecond)
	defer ticker.Stop()

	client := &http.Client{Timeout: time.Second}
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-deadline:
			return fmt.Errorf("CDP did not become ready within %s at %s", l.cfg.ReadyWait, url)
		case <-ticker.C:
			resp, err := client.Get(url)
			if err != nil {
				continue
			}
			resp.Body.Close()
			if resp.StatusCode == http.StatusOK {
				return nil
			}
		}
	}
}

// Running reports whether this launcher owns a browser process.
func (l *Launcher) Running() bool {
	return l.running
}

// Stop closes the browser if this launcher started it.
func (l *Launcher) Stop() {
	if l.cancelTab != nil {
		l.cancelTab()
		l.cancelTab = nil
	}
	if l.cancelAlloc != nil {
		l.cancelAlloc()
		l.cancelAlloc = nil
	}
	if l.running {
		slog.Info("surface browser stopped")
	}
	l.running = false
}
