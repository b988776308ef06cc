// Package serverconfig loads the daemon configuration from yaml with
// environment overrides layered on top.
package serverconfig

import (
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"airc-chat/go-backend/internal/bus"
	keyauth "airc-chat/go-backend/internal/domains/keyauth/usecase"
	gatepolicy "airc-chat/go-backend/internal/domains/msggate/policy"
)

// Config is the composed runtime configuration for the daemon.
type Config struct {
	ListenAddr  string
	OriginRPS   float64
	OriginBurst int
	StorageDir  string
	Secret      string
	Identity    keyauth.Config
	Enforcement gatepolicy.EnforcementConfig
	Network     bus.Config
}

func DefaultConfig() Config {
	return Config{
		ListenAddr:  ":8844",
		OriginRPS:   10,
		OriginBurst: 20,
		Identity:    keyauth.DefaultConfig(),
		Network:     bus.DefaultConfig(),
	}
}

type fileConfig struct {
	Server      serverSection   `yaml:"server"`
	Storage     storageSection  `yaml:"storage"`
	Identity    identitySection `yaml:"identity"`
	Enforcement gateSection     `yaml:"enforcement"`
	Network     bus.Config      `yaml:"network"`
}

type serverSection struct {
	ListenAddr  string  `yaml:"listenAddr"`
	OriginRPS   float64 `yaml:"originRps"`
	OriginBurst int     `yaml:"originBurst"`
}

type storageSection struct {
	Dir    string `yaml:"dir"`
	Secret string `yaml:"secret"`
}

// Durations are strings ("1h", "30m") because yaml.v3 has no native
// time.Duration decoding.
type identitySection struct {
	ProofWindow      string `yaml:"proofWindow"`
	ProofNonceTTL    string `yaml:"proofNonceTtl"`
	RotateLimit      int    `yaml:"rotateLimit"`
	RotateWindow     string `yaml:"rotateWindow"`
	RevokeLimit      int    `yaml:"revokeLimit"`
	RevokeWindow     string `yaml:"revokeWindow"`
	RegisterLimit    int    `yaml:"registerLimit"`
	RegisterWindow   string `yaml:"registerWindow"`
	QuarantinePeriod string `yaml:"quarantinePeriod"`
}

type gateSection struct {
	CutoverAt      string `yaml:"cutoverAt"`
	StrictOverride *bool  `yaml:"strictOverride"`
}

// LoadFromPath reads configPath if set, otherwise tries the default
// locations. Missing or unparseable files fall back to defaults; env
// overrides always apply last.
func LoadFromPath(configPath string) Config {
	cfg := DefaultConfig()

	candidates := make([]string, 0, 2)
	if configPath != "" {
		candidates = append(candidates, configPath)
	} else {
		candidates = append(candidates,
			"go-backend/configs/config.yaml",
			"configs/config.yaml",
		)
	}

	for _, path := range candidates {
		data, err := os.ReadFile(path)
		if err != nil {
			continue
		}
		var parsed fileConfig
		if err := yaml.Unmarshal(data, &parsed); err != nil {
			continue
		}
		merged := cfg
		Merge(&merged, parsed)
		ApplyEnvOverrides(&merged)
		return merged
	}

	ApplyEnvOverrides(&cfg)
	return cfg
}

func Merge(dst *Config, src fileConfig) {
	if src.Server.ListenAddr != "" {
		dst.ListenAddr = src.Server.ListenAddr
	}
	if src.Server.OriginRPS > 0 {
		dst.OriginRPS = src.Server.OriginRPS
	}
	if src.Server.OriginBurst > 0 {
		dst.OriginBurst = src.Server.OriginBurst
	}
	if src.Storage.Dir != "" {
		dst.StorageDir = src.Storage.Dir
	}
	if src.Storage.Secret != "" {
		dst.Secret = src.Storage.Secret
	}

	mergeDuration(&dst.Identity.ProofWindow, src.Identity.ProofWindow)
	mergeDuration(&dst.Identity.ProofNonceTTL, src.Identity.ProofNonceTTL)
	if src.Identity.RotateLimit > 0 {
		dst.Identity.RotateLimit = src.Identity.RotateLimit
	}
	mergeDuration(&dst.Identity.RotateWindow, src.Identity.RotateWindow)
	if src.Identity.RevokeLimit > 0 {
		dst.Identity.RevokeLimit = src.Identity.RevokeLimit
	}
	mergeDuration(&dst.Identity.RevokeWindow, src.Identity.RevokeWindow)
	if src.Identity.RegisterLimit > 0 {
		dst.Identity.RegisterLimit = src.Identity.RegisterLimit
	}
	mergeDuration(&dst.Identity.RegisterWindow, src.Identity.RegisterWindow)
	mergeDuration(&dst.Identity.QuarantinePeriod, src.Identity.QuarantinePeriod)

	if raw := strings.TrimSpace(src.Enforcement.CutoverAt); raw != "" {
		if at, err := time.Parse(time.RFC3339, raw); err == nil {
			dst.Enforcement.CutoverAt = at
		}
	}
	if src.Enforcement.StrictOverride != nil {
		dst.Enforcement.StrictOverride = *src.Enforcement.StrictOverride
	}

	mergeNetwork(&dst.Network, src.Network)
}

func mergeDuration(dst *time.Duration, raw string) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return
	}
	if d, err := time.ParseDuration(raw); err == nil && d > 0 {
		*dst = d
	}
}

func mergeNetwork(dst *bus.Config, src bus.Config) {
	if src.Transport != "" {
		dst.Transport = src.Transport
	}
	if src.Port != 0 {
		dst.Port = src.Port
	}
	if src.BootstrapNodes != nil {
		dst.BootstrapNodes = src.BootstrapNodes
	}
	if src.MinPeers != 0 {
		dst.MinPeers = src.MinPeers
	}
	if src.StoreQueryFanout != 0 {
		dst.StoreQueryFanout = src.StoreQueryFanout
	}
	if src.ReconnectInterval != 0 {
		dst.ReconnectInterval = src.ReconnectInterval
	}
	if src.ReconnectBackoffMax != 0 {
		dst.ReconnectBackoffMax = src.ReconnectBackoffMax
	}
}

// ApplyEnvOverrides layers AIRC_* environment variables over cfg. The
// storage secret in particular is expected to arrive via environment in
// production deployments.
func ApplyEnvOverrides(cfg *Config) {
	if addr := strings.TrimSpace(os.Getenv("AIRC_LISTEN_ADDR")); addr != "" {
		cfg.ListenAddr = addr
	}
	if dir := strings.TrimSpace(os.Getenv("AIRC_STORAGE_DIR")); dir != "" {
		cfg.StorageDir = dir
	}
	if secret := strings.TrimSpace(os.Getenv("AIRC_STORAGE_SECRET")); secret != "" {
		cfg.Secret = secret
	}
	if transport := strings.TrimSpace(os.Getenv("AIRC_NETWORK_TRANSPORT")); transport != "" {
		cfg.Network.Transport = transport
	}
	if raw := strings.TrimSpace(os.Getenv("AIRC_SIGNING_CUTOVER")); raw != "" {
		if at, err := time.Parse(time.RFC3339, raw); err == nil {
			cfg.Enforcement.CutoverAt = at
		}
	}
	if raw := strings.TrimSpace(os.Getenv("AIRC_STRICT_SIGNING")); raw != "" {
		if v, err := strconv.ParseBool(raw); err == nil {
			cfg.Enforcement.StrictOverride = v
		}
	}
}
