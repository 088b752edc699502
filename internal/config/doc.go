// Package config handles configuration loading for coven-chat.
//
// # Configuration File
//
// Default locations (in order):
//
//  1. Path from COVEN_CHAT_CONFIG environment variable
//  2. $XDG_CONFIG_HOME/coven/chat.yaml
//  3. ~/.config/coven/chat.yaml
//
// Files ending in .toml are parsed as TOML; anything else as YAML. A missing
// file at the default location is not an error: LoadOrDefault returns defaults.
//
// # Environment Variable Expansion
//
//	backend:
//	  token: "${COVEN_TOKEN}"
//
// # Sections
//
//	backend:
//	  url: "http://localhost:8000"
//	  token_file: "~/.config/coven/token"
//	  transport: "sse"            # sse, websocket
//	  model: ""                   # optional model hint sent with each message
//	  request_timeout: "30s"      # create/list/delete calls
//	  stream_idle_timeout: "2m"   # max silence between stream events
//
//	conversation:
//	  id: ""                      # resume an existing conversation
//	  title_max_length: 50
//
//	trace:
//	  enabled: false
//	  archive_path: "~/.local/share/coven/traces.db"
//
//	logging:
//	  level: "info"   # debug, info, warn, error
//	  format: "text"  # text, json
package config
