package main

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// Config holds all keyvault server configuration.
// Priority: env vars > settings.json > defaults.
type Config struct {
	ListenAddr         string   `json:"listen_addr"`
	DBPath             string   `json:"db_path"`
	ReadKey            string   `json:"read_key"`
	WriteKey           string   `json:"write_key"`
	SealPassphrase     string   `json:"seal_passphrase"`
	WritePolicies      []string `json:"write_policies"`
	SearchWorkers      int      `json:"search_workers"`
	AuditRetentionDays int      `json:"audit_retention_days"`
	PruneSchedule      string   `json:"prune_schedule"`
	CheckpointSchedule string   `json:"checkpoint_schedule"`
	BackupSchedule     string   `json:"backup_schedule"`
	BackupDir          string   `json:"backup_dir"`
	BackupKeep         int      `json:"backup_keep"`
	LogLevel           string   `json:"log_level"`
}

func defaultConfig() Config {
	return Config{
		ListenAddr:         ":3000",
		DBPath:             filepath.Join(keyvaultDir(), "vault.db"),
		SearchWorkers:      4,
		AuditRetentionDays: 90,
		PruneSchedule:      "0 3 * * *",
		CheckpointSchedule: "*/30 * * * *",
		BackupSchedule:     "30 3 * * *",
		BackupDir:          filepath.Join(keyvaultDir(), "backups"),
		BackupKeep:         7,
		LogLevel:           "info",
	}
}

func keyvaultDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".keyvault"
	}
	return filepath.Join(home, ".keyvault")
}

func settingsPath() string {
	if v := os.Getenv("KEYVAULT_CONFIG"); v != "" {
		return v
	}
	return filepath.Join(keyvaultDir(), "settings.json")
}

func loadConfig() Config {
	cfg := defaultConfig()

	// Layer 2: settings.json (ignore if missing).
	if data, err := os.ReadFile(settingsPath()); err == nil {
		_ = json.Unmarshal(data, &cfg)
	}

	// Layer 3: env vars override.
	if v := os.Getenv("KEYVAULT_LISTEN_ADDR"); v != "" {
		cfg.ListenAddr = v
	}
	if v := os.Getenv("KEYVAULT_DB_PATH"); v != "" {
		cfg.DBPath = v
	}
	if v := os.Getenv("KEYVAULT_READ_KEY"); v != "" {
		cfg.ReadKey = v
	}
	if v := os.Getenv("KEYVAULT_WRITE_KEY"); v != "" {
		cfg.WriteKey = v
	}
	if v := os.Getenv("KEYVAULT_SEAL_PASSPHRASE"); v != "" {
		cfg.SealPassphrase = v
	}
	if v := os.Getenv("KEYVAULT_WRITE_POLICIES"); v != "" {
		cfg.WritePolicies = splitPolicies(v)
	}
	if v := os.Getenv("KEYVAULT_SEARCH_WORKERS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.SearchWorkers = n
		}
	}
	if v := os.Getenv("KEYVAULT_AUDIT_RETENTION_DAYS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.AuditRetentionDays = n
		}
	}
	if v := os.Getenv("KEYVAULT_PRUNE_SCHEDULE"); v != "" {
		cfg.PruneSchedule = v
	}
	if v := os.Getenv("KEYVAULT_CHECKPOINT_SCHEDULE"); v != "" {
		cfg.CheckpointSchedule = v
	}
	if v := os.Getenv("KEYVAULT_BACKUP_SCHEDULE"); v != "" {
		cfg.BackupSchedule = v
	}
	if v := os.Getenv("KEYVAULT_BACKUP_DIR"); v != "" {
		cfg.BackupDir = v
	}
	if v := os.Getenv("KEYVAULT_BACKUP_KEEP"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.BackupKeep = n
		}
	}
	if v := os.Getenv("KEYVAULT_LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}

	return cfg
}

// splitPolicies parses the env form of write_policies. Policies are
// semicolon-separated because the expressions themselves contain commas.
func splitPolicies(v string) []string {
	parts := strings.Split(v, ";")
	policies := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			policies = append(policies, p)
		}
	}
	return policies
}
