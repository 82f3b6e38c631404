package config

import (
	"log"

	"github.com/spf13/viper"

	"github.com/opsbridge/cmdb/internal/db"
)

// Config aggregates server, store, and discovery settings.
type Config struct {
	ListenAddr     string
	MigrationsPath string
	ExportDir      string
	AllowedOrigins []string

	CMDB      db.Config
	Inventory InventoryConfig
}

// InventoryConfig describes the optional read-only inventory store. When
// Enabled is false the synchronizer runs with an unavailable inventory
// repository and surfaces a typed error on first use.
type InventoryConfig struct {
	Enabled bool
	DB      db.Config
}

// Load reads config.yaml from configPath with CMDB_-prefixed environment
// overrides. A missing file is not an error; defaults plus env apply.
func Load(configPath string) (Config, error) {
	cfg := Config{
		ListenAddr:     ":8080",
		MigrationsPath: "./migrations",
		ExportDir:      "./exports",
		AllowedOrigins: []string{"http://localhost:3000"},
		CMDB:           db.DefaultConfig(),
	}

	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(configPath)
	v.AutomaticEnv()
	v.SetEnvPrefix("CMDB")

	v.BindEnv("server.listen_addr")
	v.BindEnv("database.host")
	v.BindEnv("database.port")
	v.BindEnv("database.user")
	v.BindEnv("database.password")
	v.BindEnv("database.dbname")
	v.BindEnv("database.sslmode")
	v.BindEnv("inventory.enabled")
	v.BindEnv("inventory.host")
	v.BindEnv("inventory.port")
	v.BindEnv("inventory.user")
	v.BindEnv("inventory.password")
	v.BindEnv("inventory.dbname")
	v.BindEnv("inventory.sslmode")

	if err := v.ReadInConfig(); err != nil {
		log.Println("No config.yaml found, using defaults and env vars")
	} else {
		log.Println("Loaded config.yaml")
	}

	if v.IsSet("server.listen_addr") {
		cfg.ListenAddr = v.GetString("server.listen_addr")
	}
	if v.IsSet("server.migrations_path") {
		cfg.MigrationsPath = v.GetString("server.migrations_path")
	}
	if v.IsSet("server.export_dir") {
		cfg.ExportDir = v.GetString("server.export_dir")
	}
	if v.IsSet("server.allowed_origins") {
		cfg.AllowedOrigins = v.GetStringSlice("server.allowed_origins")
	}

	applyDBOverrides(v, "database", &cfg.CMDB)

	if v.IsSet("inventory.enabled") {
		cfg.Inventory.Enabled = v.GetBool("inventory.enabled")
	}
	if cfg.Inventory.Enabled {
		cfg.Inventory.DB = db.DefaultConfig()
		cfg.Inventory.DB.DBName = "inventory"
		applyDBOverrides(v, "inventory", &cfg.Inventory.DB)
	}

	return cfg, nil
}

func applyDBOverrides(v *viper.Viper, prefix string, cfg *db.Config) {
	if v.IsSet(prefix + ".host") {
		cfg.Host = v.GetString(prefix + ".host")
	}
	if v.IsSet(prefix + ".port") {
		cfg.Port = v.GetInt(prefix + ".port")
	}
	if v.IsSet(prefix + ".user") {
		cfg.User = v.GetString(prefix + ".user")
	}
	if v.IsSet(prefix + ".password") {
		cfg.Password = v.GetString(prefix + ".password")
	}
	if v.IsSet(prefix + ".dbname") {
		cfg.DBName = v.GetString(prefix + ".dbname")
	}
	if v.IsSet(prefix + ".sslmode") {
		cfg.SSLMode = v.GetString(prefix + ".sslmode")
	}
}
