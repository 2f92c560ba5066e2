package main

import (
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/mcoot/planning-poker/internal/api"
	"github.com/mcoot/planning-poker/internal/factory"
	redisstorage "github.com/mcoot/planning-poker/internal/storage/redis"
)

// janitorInterval is how often idle rooms are pruned and the streams of
// vanished rooms closed
const janitorInterval = 5 * time.Minute

// config is the server configuration read from the environment
type config struct {
	Server         api.ServerConfig
	StorageType    string
	Redis          *redisstorage.Config
	RoomTTL        time.Duration
	AllowedOrigins []string
	LogLevel       slog.Level
}

// loadConfig reads PORT, STORAGE_TYPE, REDIS_URL, ROOM_TTL, CORS_ORIGINS and
// LOG_LEVEL. Unset variables keep their defaults.
func loadConfig(getenv func(string) string) (config, error) {
	redisDefaults := redisstorage.DefaultConfig()
	cfg := config{
		Server:         api.DefaultServerConfig(),
		StorageType:    factory.StorageTypeMemory,
		RoomTTL:        redisDefaults.RoomTTL,
		AllowedOrigins: []string{"*"},
		LogLevel:       slog.LevelInfo,
	}

	if v := getenv("PORT"); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil || port <= 0 || port > 65535 {
			return config{}, fmt.Errorf("invalid PORT %q", v)
		}
		cfg.Server.Port = port
	}

	if v := getenv("ROOM_TTL"); v != "" {
		ttl, err := time.ParseDuration(v)
		if err != nil || ttl < 0 {
			return config{}, fmt.Errorf("invalid ROOM_TTL %q", v)
		}
		cfg.RoomTTL = ttl
	}

	if v := getenv("CORS_ORIGINS"); v != "" {
		cfg.AllowedOrigins = nil
		for _, origin := range strings.Split(v, ",") {
			if origin = strings.TrimSpace(origin); origin != "" {
				cfg.AllowedOrigins = append(cfg.AllowedOrigins, origin)
			}
		}
	}

	if v := getenv("LOG_LEVEL"); v != "" {
		if err := cfg.LogLevel.UnmarshalText([]byte(v)); err != nil {
			return config{}, fmt.Errorf("invalid LOG_LEVEL %q", v)
		}
	}

	if v := getenv("STORAGE_TYPE"); v != "" {
		cfg.StorageType = v
	}
	switch cfg.StorageType {
	case factory.StorageTypeMemory:
	case factory.StorageTypeRedis:
		redisURL := getenv("REDIS_URL")
		if redisURL == "" {
			return config{}, fmt.Errorf("REDIS_URL required when STORAGE_TYPE=redis")
		}
		redisCfg := redisDefaults
		redisCfg.URL = redisURL
		redisCfg.RoomTTL = cfg.RoomTTL
		cfg.Redis = &redisCfg
	default:
		return config{}, fmt.Errorf("unknown STORAGE_TYPE %q", cfg.StorageType)
	}

	return cfg, nil
}

func (c config) factoryConfig(logger *slog.Logger) factory.Config {
	return factory.Config{
		Logger:      logger,
		StorageType: c.StorageType,
		RedisConfig: c.Redis,
	}
}

// pruneAfter is the idle age at which the janitor deletes rooms. Redis
// expires keys itself, so there the janitor only closes streams.
func (c config) pruneAfter() time.Duration {
	if c.StorageType == factory.StorageTypeRedis {
		return 0
	}
	return c.RoomTTL
}
