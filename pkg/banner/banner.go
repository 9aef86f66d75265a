package banner

import (
	"fmt"

	"commshub/pkg/config"
)

const banner = `
 ██████╗ ██████╗ ███╗   ███╗███╗   ███╗███████╗██╗  ██╗██╗   ██╗██████╗
██╔════╝██╔═══██╗████╗ ████║████╗ ████║██╔════╝██║  ██║██║   ██║██╔══██╗
██║     ██║   ██║██╔████╔██║██╔████╔██║███████╗███████║██║   ██║██████╔╝
██║     ██║   ██║██║╚██╔╝██║██║╚██╔╝██║╚════██║██╔══██║██║   ██║██╔══██╗
╚██████╗╚██████╔╝██║ ╚═╝ ██║██║ ╚═╝ ██║███████║██║  ██║╚██████╔╝██████╔╝
 ╚═════╝ ╚═════╝ ╚═╝     ╚═╝╚═╝     ╚═╝╚══════╝╚═╝  ╚═╝ ╚═════╝ ╚═════╝
`

// PrintWithEff prints the startup banner with runtime info derived from
// the effective config.
func PrintWithEff(eff config.EffectiveConfigResult, version string) {
	addr := eff.Addr
	if addr == "" && eff.Config != nil {
		addr = eff.Config.Addr()
	}
	dbPath := eff.DBPath
	if dbPath == "" && eff.Config != nil {
		dbPath = eff.Config.Server.DBPath
	}
	src := eff.Source
	if src == "" {
		src = "flags"
	}

	fmt.Print(banner)
	fmt.Println("== Config =====================================================")
	fmt.Printf("Listen:   %s\n", addr)
	fmt.Printf("DB Path:  %s\n", dbPath)
	if version != "" {
		fmt.Printf("Version:  %s\n", version)
	}
	fmt.Printf("Config:   %s\n", src)

	fmt.Println("\n== Examples ===================================================")
	fmt.Println("curl -X POST 'http://<host>:<port>/v1/threads' -d '{\"subject\":\"Order #1234\",\"kind\":\"group\",\"recipients\":[\"u_2\",\"u_3\"],\"body\":\"hello\"}'")
	fmt.Println("curl 'http://<host>:<port>/v1/inbox'")
	fmt.Println("curl -N 'http://<host>:<port>/v1/threads/<id>/stream'")

	fmt.Println("\n== Production? ================================================")
	be := 0
	if eff.Config != nil {
		be = len(eff.Config.Security.APIKeys.Backend)
	}
	if be > 0 {
		fmt.Printf("- Backend API keys: OK (%d)\n", be)
	} else {
		fmt.Println("- Backend API keys: MISSING (required for backend services)")
	}
	sk := 0
	if eff.Config != nil {
		sk = len(eff.Config.Security.SigningKeys) + be
	}
	if sk > 0 {
		fmt.Printf("- Signing keys:     OK (%d)\n", sk)
	} else {
		fmt.Println("- Signing keys:     MISSING (required to verify member identity)")
	}
	tlsOK := eff.Config != nil && eff.Config.Server.TLS.CertFile != "" && eff.Config.Server.TLS.KeyFile != ""
	if tlsOK {
		fmt.Println("- TLS: configured")
	} else {
		fmt.Println("- TLS: unconfigured")
	}
	if eff.Config != nil && eff.Config.Housekeeping.Enabled {
		cron := eff.Config.Housekeeping.Cron
		if cron == "" {
			cron = "0 3 * * *"
		}
		fmt.Printf("- Housekeeping: enabled (cron=%s)\n", cron)
	} else {
		fmt.Println("- Housekeeping: disabled")
	}

	fmt.Println("\n== Logs: ======================================================")
}
