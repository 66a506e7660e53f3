// Package readiness waits for the adapters' backing sidecars to accept
// connections before the transport server starts. Generalized from the
// teacher's InitializePythonAPI (server/python_api.go), which polled one
// combined Python sidecar's /health endpoint for up to 30 seconds; this
// polls each configured adapter backend independently, since ASR and
// TTS are now separate services instead of one bundled sidecar, and
// skips any backend left unconfigured.
package readiness

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// WaitForServices polls each named backend's /health endpoint until it
// answers 200 OK, up to attempts tries spaced interval apart. Backends
// with an empty URL are skipped. Returns the first backend that never
// became ready.
func WaitForServices(ctx context.Context, log zerolog.Logger, services map[string]string, attempts int, interval time.Duration) error {
	for name, base := range services {
		if base == "" {
			continue
		}
		if err := waitOne(ctx, log, name, base, attempts, interval); err != nil {
			return err
		}
	}
	return nil
}

func waitOne(ctx context.Context, log zerolog.Logger, name, base string, attempts int, interval time.Duration) error {
	url := strings.TrimRight(base, "/") + "/health"
	log.Info().Str("service", name).Str("url", url).Msg("waiting for dependency")

	for i := 0; i < attempts; i++ {
		if pingOnce(ctx, url) {
			log.Info().Str("service", name).Msg("dependency ready")
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(interval):
		}
	}
	return fmt.Errorf("%s not ready at %s after %d attempts", name, url, attempts)
}

func pingOnce(ctx context.Context, url string) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return false
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	return resp.StatusCode == http.StatusOK
}
