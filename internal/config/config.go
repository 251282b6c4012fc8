package config

import (
	"encoding/json"
	"flag"
	"os"
	"strings"
)

type Config struct {
	Port       string `json:"port"`
	SchemasDir string `json:"schemasDir"` // optional YAML seed schemas, "" = none
	DBURL      string `json:"dbUrl"`      // Postgres URL, "" = in-memory store
	NATSURL    string `json:"natsUrl"`    // event broadcast, "" = disabled
}

func def() Config {
	return Config{
		Port:       "8080",
		SchemasDir: "",
		DBURL:      "",
		NATSURL:    "",
	}
}

func loadJSON(path string) (Config, error) {
	c := def()
	b, err := os.ReadFile(path)
	if err != nil {
		return c, err
	}
	if err := json.Unmarshal(b, &c); err != nil {
		return c, err
	}
	return c, nil
}

func getenv(k, fallback string) string {
	if v, ok := os.LookupEnv(k); ok && strings.TrimSpace(v) != "" {
		return v
	}
	return fallback
}

// loadFrom reads the JSON file at jsonPath (if present), then applies ENV
// overrides.
func loadFrom(jsonPath string) Config {
	cfg := def()

	if st, err := os.Stat(jsonPath); err == nil && !st.IsDir() {
		if c2, err := loadJSON(jsonPath); err == nil {
			cfg = c2
		}
	}

	cfg.Port = getenv("TESTPOOL_PORT", cfg.Port)
	cfg.SchemasDir = getenv("TESTPOOL_SCHEMAS_DIR", cfg.SchemasDir)
	cfg.DBURL = getenv("TESTPOOL_DB_URL", cfg.DBURL)
	cfg.NATSURL = getenv("TESTPOOL_NATS_URL", cfg.NATSURL)
	return cfg
}

// LoadWithPath layers file, ENV and flag overrides, in that order. Flags are
// registered once: a -config pointing elsewhere switches the file before the
// remaining overrides apply, without another round of flag parsing.
func LoadWithPath(jsonPath string) Config {
	configPath := flag.String("config", jsonPath, "Path to config JSON")
	port := flag.String("port", "", "HTTP port")
	schemas := flag.String("schemas", "", "Path to YAML schema seed directory")
	db := flag.String("db", "", "Postgres URL (empty = in-memory)")
	natsURL := flag.String("nats", "", "NATS URL for event broadcast (empty = disabled)")
	flag.Parse()

	cfg := loadFrom(*configPath)

	if v := strings.TrimSpace(*port); v != "" {
		cfg.Port = v
	}
	if v := strings.TrimSpace(*schemas); v != "" {
		cfg.SchemasDir = v
	}
	if v := strings.TrimSpace(*db); v != "" {
		cfg.DBURL = v
	}
	if v := strings.TrimSpace(*natsURL); v != "" {
		cfg.NATSURL = v
	}
	return cfg
}
