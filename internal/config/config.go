package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config carries every runtime value the service consumes. It is built once
// at process start and passed into components; core logic never reads the
// environment directly.
type Config struct {
	RPCURL        string
	HTTPAddr      string
	CacheTTL      time.Duration
	RPCTimeout    time.Duration
	RPCMaxRetries uint64
	OtelEndpoint  string
	LogLevel      string
	LogFile       string
	LogMaxSizeMB  int
	LogMaxBackups int
}

type EnvSource interface {
	Lookup(key string) (string, bool)
}

type EnvMap map[string]string

func (e EnvMap) Lookup(key string) (string, bool) {
	value, ok := e[key]
	return value, ok
}

func FromEnviron() EnvSource {
	env := make(EnvMap)
	for _, entry := range os.Environ() {
		if entry == "" {
			continue
		}
		parts := strings.SplitN(entry, "=", 2)
		if len(parts) != 2 {
			continue
		}
		env[parts[0]] = parts[1]
	}
	return env
}

func Load(source EnvSource) (Config, error) {
	if source == nil {
		return Config{}, errors.New("env source is required")
	}

	rpcURL, err := resolveRPCURL(source)
	if err != nil {
		return Config{}, err
	}

	ttlSeconds, err := parseUintEnv(source, "CACHE_TTL_SECONDS", 5)
	if err != nil {
		return Config{}, err
	}
	if ttlSeconds == 0 {
		return Config{}, errors.New("CACHE_TTL_SECONDS must be positive")
	}

	rpcTimeout := 3 * time.Second
	if raw, ok := source.Lookup("RPC_TIMEOUT"); ok && raw != "" {
		duration, err := time.ParseDuration(raw)
		if err != nil {
			return Config{}, fmt.Errorf("invalid RPC_TIMEOUT: %w", err)
		}
		rpcTimeout = duration
	}

	rpcMaxRetries, err := parseUintEnv(source, "RPC_MAX_RETRIES", 2)
	if err != nil {
		return Config{}, err
	}

	httpAddr := ":8080"
	if raw, ok := source.Lookup("HTTP_ADDR"); ok && raw != "" {
		httpAddr = raw
	}

	otelEndpoint, _ := source.Lookup("OTEL_EXPORTER_OTLP_ENDPOINT")
	logLevel, _ := source.Lookup("LOG_LEVEL")
	logFile, _ := source.Lookup("LOG_FILE")

	logMaxSize, err := parseUintEnv(source, "LOG_MAX_SIZE_MB", 100)
	if err != nil {
		return Config{}, err
	}
	logMaxBackups, err := parseUintEnv(source, "LOG_MAX_BACKUPS", 3)
	if err != nil {
		return Config{}, err
	}

	return Config{
		RPCURL:        rpcURL,
		HTTPAddr:      httpAddr,
		CacheTTL:      time.Duration(ttlSeconds) * time.Second,
		RPCTimeout:    rpcTimeout,
		RPCMaxRetries: rpcMaxRetries,
		OtelEndpoint:  strings.TrimSpace(otelEndpoint),
		LogLevel:      logLevel,
		LogFile:       logFile,
		LogMaxSizeMB:  int(logMaxSize),
		LogMaxBackups: int(logMaxBackups),
	}, nil
}

// resolveRPCURL picks the provider endpoint. INFURA_URL is a full override;
// otherwise the mainnet URL is built from INFURA_PROJECT_ID.
func resolveRPCURL(source EnvSource) (string, error) {
	if raw, ok := source.Lookup("INFURA_URL"); ok && strings.TrimSpace(raw) != "" {
		return strings.TrimSpace(raw), nil
	}
	projectID, _ := source.Lookup("INFURA_PROJECT_ID")
	projectID = strings.TrimSpace(projectID)
	if projectID == "" {
		return "", errors.New("missing INFURA_PROJECT_ID or INFURA_URL")
	}
	return "https://mainnet.infura.io/v3/" + projectID, nil
}

func parseUintEnv(source EnvSource, key string, defaultValue uint64) (uint64, error) {
	raw, ok := source.Lookup(key)
	if !ok || raw == "" {
		return defaultValue, nil
	}
	value, err := strconv.ParseUint(raw, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return value, nil
}
