// Package config loads and watches the feedrelay configuration file.
//
// Top-level types:
//   - Config{Node, Feeds} — full config tree parsed from YAML
//   - NodeConfig — http_port, state_dir, auth, watches
//   - Feed — name, source_name, url, cchar, split_char, split_pos,
//     attributes, interval, force_updates, polling_timeout, num_retries
//   - AuthConfig — mode (apikey|none), header, key_env; Key() resolves the
//     secret from the environment
//   - WatchesConfig — notification rules and webhook targets
//
// Load(path) reads the YAML file, applies defaults (interval 86400s,
// polling_timeout 20s, num_retries 2, port 8080), then validates required
// fields and enums. Per-feed durations are plain integer seconds in the
// file; Interval() and PollingTimeout() convert them.
//
// Watch(ctx, path, log, onChange) uses fsnotify to detect file changes and
// calls onChange with the newly parsed Config. It handles the rename→create
// pattern used by atomic-save editors (vim, VS Code) by re-adding the watch
// after a rename event.
package config
