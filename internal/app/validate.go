package app

import (
	"fmt"
	"os"

	"commshub/pkg/config"
)

// validateConfig performs quick, fail-fast validation of the effective
// configuration before starting long-running services. Keep checks light
// so callers can surface user-friendly errors.
func validateConfig(eff config.EffectiveConfigResult) error {
	if eff.Config == nil {
		return fmt.Errorf("effective config is nil")
	}
	if eff.DBPath == "" {
		return fmt.Errorf("database path is empty: set --db flag, COMMSHUB_DB_PATH env, or server.db_path in config")
	}
	if eff.Addr == "" {
		return fmt.Errorf("listen address is empty: set --addr flag, COMMSHUB_ADDR env, or server.address/port in config")
	}

	cert := eff.Config.Server.TLS.CertFile
	key := eff.Config.Server.TLS.KeyFile
	if (cert != "" && key == "") || (cert == "" && key != "") {
		return fmt.Errorf("incomplete TLS configuration: both server.tls.cert_file and server.tls.key_file must be set")
	}
	if cert != "" {
		if _, err := os.Stat(cert); err != nil {
			return fmt.Errorf("tls cert file not accessible: %w", err)
		}
		if _, err := os.Stat(key); err != nil {
			return fmt.Errorf("tls key file not accessible: %w", err)
		}
	}

	hk := eff.Config.Housekeeping
	if hk.Enabled {
		if hk.AbandonedAfter != "" {
			if _, err := config.ParsePeriod(hk.AbandonedAfter); err != nil {
				return fmt.Errorf("invalid housekeeping.abandoned_after: %w", err)
			}
		}
		if hk.PurgeAfter != "" {
			if _, err := config.ParsePeriod(hk.PurgeAfter); err != nil {
				return fmt.Errorf("invalid housekeeping.purge_after: %w", err)
			}
		}
	}

	return nil
}
