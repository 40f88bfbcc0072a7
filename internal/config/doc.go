// Package config handles configuration loading for blvckwall-gateway and the
// blvckwall client CLI.
//
// # Gateway Configuration
//
// The gateway reads YAML. Default locations (in order):
//
//  1. Path from BLVCKWALL_CONFIG environment variable
//  2. $XDG_CONFIG_HOME/blvckwall/gateway.yaml
//  3. ~/.config/blvckwall/gateway.yaml
//
// # Client Configuration
//
// The CLI reads TOML from BLVCKWALL_CLIENT_CONFIG or
// $XDG_CONFIG_HOME/blvckwall/client.toml. A missing file is not an error: the
// CLI then runs against the local store only.
//
// # Environment Variable Expansion
//
// Both formats expand ${VAR_NAME} references before parsing:
//
//	auth:
//	  jwt_secret: "${BLVCKWALL_JWT_SECRET}"
//
// # Duration Parsing
//
// Duration values use Go's time.ParseDuration syntax:
//
//	auth:
//	  access_ttl: "1h"
//	  refresh_ttl: "720h"
//
// # Providers
//
// Each external capability is configured independently:
//
//	providers:
//	  timeout: "10s"
//	  telephony:
//	    mode: live
//	    api_key: "${RETELL_API_KEY}"
//	    base_url: "https://api.retellai.com"
//	  ledger:
//	    mode: demo
//
// A provider in live mode without an api_key fails validation rather than
// silently falling back to demo output.
package config
