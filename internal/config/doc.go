// Package config handles configuration loading for coven-presence.
//
// # Overview
//
// Configuration starts from built-in defaults, is overlaid by an optional
// YAML or TOML file, then by environment variables. The result is validated
// before the bot starts.
//
// # Configuration File
//
// Lookup order:
//
//  1. The --config flag
//  2. Path from COVEN_PRESENCE_CONFIG environment variable
//  3. ./config.yaml, ./config.yml or ./config.toml
//
// Files ending in .toml are decoded as TOML; everything else as YAML.
//
// # Environment Variable Expansion
//
// Configuration values can reference environment variables:
//
//	matrix:
//	  access_token: "${TOKEN}"
//
// # Environment Overrides
//
//	TOKEN               matrix.access_token
//	PORT                server.port
//	MATRIX_HOMESERVER   matrix.homeserver
//	MATRIX_USER_ID      matrix.user_id
//	COVEN_PRESENCE_DB   database.path
//	LOG_LEVEL           logging.level
//
// A .env file in the working directory is loaded by the binary before
// any of this runs.
//
// # Example
//
//	matrix:
//	  homeserver: "https://matrix.example.org"
//	  user_id: "@presence:example.org"
//
//	presence:
//	  interval: "10s"
//	  messages:
//	    - "🎧 Listening to ArctixMC"
//	    - "🎮 Playing ArctixMC"
//	  modes: ["dnd", "idle"]
//
//	liveness:
//	  interval: "30s"
//
//	reconnect:
//	  max_attempts: 5
//	  delay: "5s"
//	  login_timeout: "30s"
//
//	server:
//	  port: 3000
//
//	database:
//	  path: "./data/presence.db"
//	  retention: "168h"
//
//	logging:
//	  level: "info"   # debug, info, warn, error
//	  format: "text"  # text, json
package config
