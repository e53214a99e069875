package main

import (
	"encoding/json"
	"os"
	"path/filepath"

	"go-bridge/internal/static"

	"go.uber.org/zap"
)

const configFileName = "devserver.json"

type AppServerConfig struct {
	RequestTimeoutMs     int           `json:"request_timeout_ms"`
	MaxRequestsPerWorker int           `json:"max_requests_per_worker"`
	WorkerDir            string        `json:"worker_dir"`
	Static               []static.Rule `json:"static"`
}

// defaultConfig returns sane defaults when devserver.json is missing or
// invalid.
func defaultConfig() *AppServerConfig {
	return &AppServerConfig{
		RequestTimeoutMs:     10000, // 10s
		MaxRequestsPerWorker: 1000,
		Static: []static.Rule{
			{Prefix: "/assets/", Dir: "public/assets"},
			{Prefix: "/css/", Dir: "public/css"},
			{Prefix: "/js/", Dir: "public/js"},
			{Prefix: "/images/", Dir: "public/images"},
		},
	}
}

// loadConfig reads the file at path; any error falls back to defaults.
func loadConfig(path string, log *zap.SugaredLogger) *AppServerConfig {
	data, err := os.ReadFile(path)
	if err != nil {
		log.Infof("[config] no %s found at %s, using defaults: %v", configFileName, path, err)
		return defaultConfig()
	}

	var cfg AppServerConfig
	if err := json.Unmarshal(data, &cfg); err != nil {
		log.Warnf("[config] invalid %s (%s), using defaults: %v", configFileName, path, err)
		return defaultConfig()
	}

	def := defaultConfig()

	if cfg.RequestTimeoutMs <= 0 {
		log.Warnf("[config] request_timeout_ms=%d is invalid, falling back to %dms", cfg.RequestTimeoutMs, def.RequestTimeoutMs)
		cfg.RequestTimeoutMs = def.RequestTimeoutMs
	}

	if cfg.MaxRequestsPerWorker < 0 {
		log.Warnf("[config] max_requests_per_worker=%d is invalid, falling back to %d", cfg.MaxRequestsPerWorker, def.MaxRequestsPerWorker)
		cfg.MaxRequestsPerWorker = def.MaxRequestsPerWorker
	}

	if cfg.WorkerDir != "" && !filepath.IsAbs(cfg.WorkerDir) {
		cfg.WorkerDir = filepath.Join(filepath.Dir(path), cfg.WorkerDir)
	}

	if len(cfg.Static) == 0 {
		log.Infof("[config] no static rules configured, using default static rules")
		cfg.Static = def.Static
		return &cfg
	}

	for i := range cfg.Static {
		prefix := cfg.Static[i].Prefix
		if !cfg.Static[i].Normalize() {
			log.Warnf("[config] static[%d].dir is empty, this rule will be ignored at runtime", i)
		}
		if prefix != cfg.Static[i].Prefix {
			log.Warnf("[config] static[%d].prefix=%q does not start with '/', fixing", i, prefix)
		}
	}

	return &cfg
}

// projectRoot walks up from dir to the first directory holding a go.mod.
// dir itself is returned when there is none.
func projectRoot(dir string) string {
	for d := dir; ; {
		if info, err := os.Stat(filepath.Join(d, "go.mod")); err == nil && !info.IsDir() {
			return d
		}
		parent := filepath.Dir(d)
		if parent == d {
			return dir
		}
		d = parent
	}
}
