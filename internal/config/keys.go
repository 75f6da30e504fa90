package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

type keyType int

const (
	kString keyType = iota
	kInt
	kFloat
	kDuration
	kList
)

type keySpec struct {
	key     string
	typ     keyType
	env     string
	secret  bool
	apply   func(cfg *Config, v any)
	extract func(cfg Config) any
}

var specs = []keySpec{
	{
		key: "server.port", typ: kInt, env: "DOCENT_SERVER_PORT",
		apply:   func(cfg *Config, v any) { cfg.Server.Port = v.(int) },
		extract: func(cfg Config) any { return cfg.Server.Port },
	},
	{
		key: "server.rate_limit", typ: kFloat, env: "DOCENT_SERVER_RATE_LIMIT",
		apply:   func(cfg *Config, v any) { cfg.Server.RateLimit = v.(float64) },
		extract: func(cfg Config) any { return cfg.Server.RateLimit },
	},
	{
		key: "server.rate_burst", typ: kInt, env: "DOCENT_SERVER_RATE_BURST",
		apply:   func(cfg *Config, v any) { cfg.Server.RateBurst = v.(int) },
		extract: func(cfg Config) any { return cfg.Server.RateBurst },
	},
	{
		key: "server.api_token", typ: kString, env: "DOCENT_API_TOKEN",
		secret:  true,
		apply:   func(cfg *Config, v any) { cfg.Server.APIToken = v.(string) },
		extract: func(cfg Config) any { return cfg.Server.APIToken },
	},
	{
		key: "storage.backend", typ: kString, env: "DOCENT_STORAGE_BACKEND",
		apply:   func(cfg *Config, v any) { cfg.Storage.Backend = v.(string) },
		extract: func(cfg Config) any { return cfg.Storage.Backend },
	},
	{
		key: "storage.data_dir", typ: kString, env: "DOCENT_STORAGE_DATA_DIR",
		apply:   func(cfg *Config, v any) { cfg.Storage.DataDir = v.(string) },
		extract: func(cfg Config) any { return cfg.Storage.DataDir },
	},
	{
		key: "storage.snapshot_file", typ: kString, env: "DOCENT_STORAGE_SNAPSHOT_FILE",
		apply:   func(cfg *Config, v any) { cfg.Storage.SnapshotFile = v.(string) },
		extract: func(cfg Config) any { return cfg.Storage.SnapshotFile },
	},
	{
		key: "remote.base_url", typ: kString, env: "DOCENT_REMOTE_BASE_URL",
		apply:   func(cfg *Config, v any) { cfg.Remote.BaseURL = v.(string) },
		extract: func(cfg Config) any { return cfg.Remote.BaseURL },
	},
	{
		key: "remote.token", typ: kString, env: "DOCENT_REMOTE_TOKEN",
		secret:  true,
		apply:   func(cfg *Config, v any) { cfg.Remote.Token = v.(string) },
		extract: func(cfg Config) any { return cfg.Remote.Token },
	},
	{
		key: "remote.timeout", typ: kDuration, env: "DOCENT_REMOTE_TIMEOUT",
		apply:   func(cfg *Config, v any) { cfg.Remote.Timeout = v.(time.Duration) },
		extract: func(cfg Config) any { return cfg.Remote.Timeout },
	},
	{
		key: "remote.history_turns", typ: kInt, env: "DOCENT_REMOTE_HISTORY_TURNS",
		apply:   func(cfg *Config, v any) { cfg.Remote.HistoryTurns = v.(int) },
		extract: func(cfg Config) any { return cfg.Remote.HistoryTurns },
	},
	{
		key: "assistant.chunk_size", typ: kInt, env: "DOCENT_ASSISTANT_CHUNK_SIZE",
		apply:   func(cfg *Config, v any) { cfg.Assistant.ChunkSize = v.(int) },
		extract: func(cfg Config) any { return cfg.Assistant.ChunkSize },
	},
	{
		key: "assistant.pacing_delay", typ: kDuration, env: "DOCENT_ASSISTANT_PACING_DELAY",
		apply:   func(cfg *Config, v any) { cfg.Assistant.PacingDelay = v.(time.Duration) },
		extract: func(cfg Config) any { return cfg.Assistant.PacingDelay },
	},
	{
		key: "assistant.timezone", typ: kString, env: "DOCENT_ASSISTANT_TIMEZONE",
		apply:   func(cfg *Config, v any) { cfg.Assistant.Timezone = v.(string) },
		extract: func(cfg Config) any { return cfg.Assistant.Timezone },
	},
	{
		key: "identity.user_id", typ: kString, env: "DOCENT_IDENTITY_USER_ID",
		apply:   func(cfg *Config, v any) { cfg.Identity.UserID = v.(string) },
		extract: func(cfg Config) any { return cfg.Identity.UserID },
	},
	{
		key: "identity.tenant_id", typ: kString, env: "DOCENT_IDENTITY_TENANT_ID",
		apply:   func(cfg *Config, v any) { cfg.Identity.TenantID = v.(string) },
		extract: func(cfg Config) any { return cfg.Identity.TenantID },
	},
	{
		key: "identity.department_id", typ: kString, env: "DOCENT_IDENTITY_DEPARTMENT_ID",
		apply:   func(cfg *Config, v any) { cfg.Identity.DepartmentID = v.(string) },
		extract: func(cfg Config) any { return cfg.Identity.DepartmentID },
	},
	{
		key: "identity.role", typ: kString, env: "DOCENT_IDENTITY_ROLE",
		apply:   func(cfg *Config, v any) { cfg.Identity.Role = v.(string) },
		extract: func(cfg Config) any { return cfg.Identity.Role },
	},
	{
		key: "identity.departments", typ: kList, env: "DOCENT_IDENTITY_DEPARTMENTS",
		apply:   func(cfg *Config, v any) { cfg.Identity.Departments = v.([]string) },
		extract: func(cfg Config) any { return strings.Join(cfg.Identity.Departments, ",") },
	},
	{
		key: "log.level", typ: kString, env: "DOCENT_LOG_LEVEL",
		apply:   func(cfg *Config, v any) { cfg.Log.Level = v.(string) },
		extract: func(cfg Config) any { return cfg.Log.Level },
	},
}

func applyBackend(cfg *Config, b ConfigBackend) error {
	for _, s := range specs {
		if s.secret {
			continue
		}
		raw, ok := b.Get(s.key)
		if !ok {
			continue
		}
		v, err := s.typ.fromTOML(raw)
		if err != nil {
			return fmt.Errorf("reading %s: %w", s.key, err)
		}
		s.apply(cfg, v)
	}
	return nil
}

func applyEnvOverrides(cfg *Config) {
	for _, s := range specs {
		if s.env == "" {
			continue
		}
		raw := os.Getenv(s.env)
		if raw == "" {
			continue
		}
		v, err := s.typ.parse(raw)
		if err != nil {
			fmt.Fprintf(os.Stderr, "[WARN] could not parse env var %s=%q: %v. Using configured value.\n", s.env, raw, err)
			continue
		}
		s.apply(cfg, v)
	}
}

// parse converts a string from the environment or the command line.
func (t keyType) parse(raw string) (any, error) {
	switch t {
	case kInt:
		return strconv.Atoi(raw)
	case kFloat:
		return strconv.ParseFloat(raw, 64)
	case kDuration:
		return time.ParseDuration(raw)
	case kList:
		return splitList(raw), nil
	default:
		return raw, nil
	}
}

// fromTOML converts a decoded TOML value.
func (t keyType) fromTOML(raw any) (any, error) {
	switch t {
	case kInt:
		switch v := raw.(type) {
		case int64:
			return int(v), nil
		case string:
			return strconv.Atoi(v)
		}
	case kFloat:
		switch v := raw.(type) {
		case float64:
			return v, nil
		case int64:
			return float64(v), nil
		case string:
			return strconv.ParseFloat(v, 64)
		}
	case kDuration:
		if v, ok := raw.(string); ok {
			return time.ParseDuration(v)
		}
	case kList:
		switch v := raw.(type) {
		case string:
			return splitList(v), nil
		case []any:
			out := make([]string, 0, len(v))
			for _, item := range v {
				s, ok := item.(string)
				if !ok {
					return nil, fmt.Errorf("list item %v is not a string", item)
				}
				out = append(out, s)
			}
			return out, nil
		}
	default:
		if v, ok := raw.(string); ok {
			return v, nil
		}
	}
	return nil, fmt.Errorf("unexpected value %v (%T)", raw, raw)
}

// toTOML is the representation written back to the config file.
func (t keyType) toTOML(v any) any {
	switch t {
	case kInt:
		return int64(v.(int))
	case kDuration:
		return v.(time.Duration).String()
	case kList:
		return v.([]string)
	default:
		return v
	}
}

func splitList(raw string) []string {
	var out []string
	for _, p := range strings.Split(raw, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
