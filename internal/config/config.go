package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"
	"unicode"

	"github.com/coldbell/solpool/internal/lottery"
	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"
	"gopkg.in/yaml.v3"
)

type LogConfig struct {
	Level    string
	Format   string
	Output   string
	FilePath string
}

type RetryConfig struct {
	MaxAttempts int
	BaseBackoff time.Duration
	MaxBackoff  time.Duration
}

type ClientConfig struct {
	RPCURL                        string
	Commitment                    rpc.CommitmentType
	KeypairPath                   string
	ProgramID                     solana.PublicKey
	OperationTags                 lottery.OperationTags
	RPCRequestsPerSecond          float64
	RPCBurst                      int
	TxTimeout                     time.Duration
	ConfirmPollInterval           time.Duration
	SkipPreflight                 bool
	MaxRetries                    *uint
	ComputeUnitLimit              uint32
	ComputeUnitPriceMicroLamports uint64
	ExplorerCluster               string
	ReadRetry                     RetryConfig
	RefreshInterval               time.Duration
	SelectionCooldown             time.Duration
	Log                           LogConfig
}

type KeeperConfig struct {
	Client                ClientConfig
	PollInterval          time.Duration
	MinDepositors         uint32
	MinRewardPoolLamports uint64
	DryRun                bool
	Log                   LogConfig
}

type APIServerConfig struct {
	Client            ClientConfig
	ListenAddr        string
	DBDSN             string
	ReadTimeout       time.Duration
	WriteTimeout      time.Duration
	IdleTimeout       time.Duration
	AllowedOrigins    []string
	SnapshotInterval  time.Duration
	SnapshotRetention time.Duration
	Log               LogConfig
}

const (
	DefaultRPCURL          = "https://api.devnet.solana.com"
	DefaultExplorerCluster = "devnet"
)

var DefaultProgramID = solana.MustPublicKeyFromBase58("3dGV3HXpcuYTifzFg8dCCMxgDEVhQpHtoCLJXAcK6PAE")

func LoadClientConfig() (ClientConfig, error) {
	return loadClientConfig("SOLPOOL", "solpool")
}

func loadClientConfig(prefix string, serviceName string) (ClientConfig, error) {
	if err := ensureRuntimeConfigLoaded(); err != nil {
		return ClientConfig{}, err
	}

	keypairPath := envOrDefault(prefix+"_KEYPAIR_PATH", envOrDefault("SOLANA_KEYPAIR_PATH", "~/.config/solana/id.json"))
	expandedKeypair, err := expandHomePath(keypairPath)
	if err != nil {
		return ClientConfig{}, fmt.Errorf("expand keypair path: %w", err)
	}

	commitment, err := envCommitment("SOLANA_COMMITMENT", rpc.CommitmentConfirmed)
	if err != nil {
		return ClientConfig{}, err
	}

	programID, err := envPubkey("LOTTERY_PROGRAM_ID", DefaultProgramID)
	if err != nil {
		return ClientConfig{}, err
	}

	tags := lottery.DefaultOperationTags()
	for _, op := range lottery.Operations() {
		key := "LOTTERY_TAG_" + strings.ToUpper(op.String())
		tag, err := envDiscriminator(key, tags[op])
		if err != nil {
			return ClientConfig{}, err
		}
		tags[op] = tag
	}
	if err := tags.Validate(); err != nil {
		return ClientConfig{}, fmt.Errorf("invalid LOTTERY_TAG_*: %w", err)
	}

	rps, err := envFloat("SOLANA_RPC_REQUESTS_PER_SECOND", 10)
	if err != nil {
		return ClientConfig{}, err
	}
	burst, err := envInt("SOLANA_RPC_BURST", 5)
	if err != nil {
		return ClientConfig{}, err
	}

	txTimeout, err := envDuration(prefix+"_TX_TIMEOUT", 60*time.Second)
	if err != nil {
		return ClientConfig{}, err
	}
	confirmPoll, err := envDuration(prefix+"_CONFIRM_POLL_INTERVAL", 700*time.Millisecond)
	if err != nil {
		return ClientConfig{}, err
	}

	skipPreflight, err := envBool(prefix+"_SKIP_PREFLIGHT", false)
	if err != nil {
		return ClientConfig{}, err
	}
	maxRetries, err := envOptionalUint(prefix + "_MAX_RETRIES")
	if err != nil {
		return ClientConfig{}, err
	}

	cuLimit, err := envUint32(prefix+"_COMPUTE_UNIT_LIMIT", 0)
	if err != nil {
		return ClientConfig{}, err
	}
	cuPrice, err := envUint64(prefix+"_COMPUTE_UNIT_PRICE_MICRO_LAMPORTS", 0)
	if err != nil {
		return ClientConfig{}, err
	}

	readAttempts, err := envInt("READ_RETRY_MAX_ATTEMPTS", 3)
	if err != nil {
		return ClientConfig{}, err
	}
	readBase, err := envDuration("READ_RETRY_BASE_DELAY", 500*time.Millisecond)
	if err != nil {
		return ClientConfig{}, err
	}
	readMax, err := envDuration("READ_RETRY_MAX_DELAY", 5*time.Second)
	if err != nil {
		return ClientConfig{}, err
	}
	if readMax < readBase {
		return ClientConfig{}, errors.New("invalid READ_RETRY_MAX_DELAY: must be >= READ_RETRY_BASE_DELAY")
	}

	refreshInterval, err := envDuration("SESSION_REFRESH_INTERVAL", 30*time.Second)
	if err != nil {
		return ClientConfig{}, err
	}
	cooldown, err := envDuration("LOTTERY_SELECTION_COOLDOWN", lottery.SelectionCooldown)
	if err != nil {
		return ClientConfig{}, err
	}

	return ClientConfig{
		RPCURL:                        envOrDefault("SOLANA_RPC_URL", DefaultRPCURL),
		Commitment:                    commitment,
		KeypairPath:                   expandedKeypair,
		ProgramID:                     programID,
		OperationTags:                 tags,
		RPCRequestsPerSecond:          rps,
		RPCBurst:                      burst,
		TxTimeout:                     txTimeout,
		ConfirmPollInterval:           confirmPoll,
		SkipPreflight:                 skipPreflight,
		MaxRetries:                    maxRetries,
		ComputeUnitLimit:              cuLimit,
		ComputeUnitPriceMicroLamports: cuPrice,
		ExplorerCluster:               envOrDefault("SOLANA_EXPLORER_CLUSTER", DefaultExplorerCluster),
		ReadRetry: RetryConfig{
			MaxAttempts: readAttempts,
			BaseBackoff: readBase,
			MaxBackoff:  readMax,
		},
		RefreshInterval:   refreshInterval,
		SelectionCooldown: cooldown,
		Log:               buildLogConfig(prefix, serviceName),
	}, nil
}

func LoadKeeperConfig() (KeeperConfig, error) {
	client, err := loadClientConfig("KEEPER", "keeper")
	if err != nil {
		return KeeperConfig{}, err
	}

	pollInterval, err := envDuration("KEEPER_POLL_INTERVAL", 15*time.Second)
	if err != nil {
		return KeeperConfig{}, err
	}
	minDepositors, err := envUint32("KEEPER_MIN_DEPOSITORS", 1)
	if err != nil {
		return KeeperConfig{}, err
	}
	minRewardPool, err := envUint64("KEEPER_MIN_REWARD_POOL_LAMPORTS", 0)
	if err != nil {
		return KeeperConfig{}, err
	}
	dryRun, err := envBool("KEEPER_DRY_RUN", false)
	if err != nil {
		return KeeperConfig{}, err
	}

	return KeeperConfig{
		Client:                client,
		PollInterval:          pollInterval,
		MinDepositors:         minDepositors,
		MinRewardPoolLamports: minRewardPool,
		DryRun:                dryRun,
		Log:                   client.Log,
	}, nil
}

func LoadAPIServerConfig() (APIServerConfig, error) {
	client, err := loadClientConfig("API_SERVER", "api-server")
	if err != nil {
		return APIServerConfig{}, err
	}

	readTimeout, err := envDuration("API_SERVER_READ_TIMEOUT", 10*time.Second)
	if err != nil {
		return APIServerConfig{}, err
	}
	writeTimeout, err := envDuration("API_SERVER_WRITE_TIMEOUT", 15*time.Second)
	if err != nil {
		return APIServerConfig{}, err
	}
	idleTimeout, err := envDuration("API_SERVER_IDLE_TIMEOUT", 60*time.Second)
	if err != nil {
		return APIServerConfig{}, err
	}
	snapshotInterval, err := envDuration("API_SERVER_SNAPSHOT_INTERVAL", time.Minute)
	if err != nil {
		return APIServerConfig{}, err
	}
	snapshotRetention, err := envDuration("API_SERVER_SNAPSHOT_RETENTION", 7*24*time.Hour)
	if err != nil {
		return APIServerConfig{}, err
	}

	allowedOrigins := parseCSVEnv(
		envOrDefault("API_SERVER_ALLOWED_ORIGINS", "*"),
		[]string{"*"},
	)

	return APIServerConfig{
		Client:            client,
		ListenAddr:        envOrDefault("API_SERVER_LISTEN_ADDR", ":8080"),
		DBDSN:             envOrDefault("API_SERVER_DB_DSN", ""),
		ReadTimeout:       readTimeout,
		WriteTimeout:      writeTimeout,
		IdleTimeout:       idleTimeout,
		AllowedOrigins:    allowedOrigins,
		SnapshotInterval:  snapshotInterval,
		SnapshotRetention: snapshotRetention,
		Log:               client.Log,
	}, nil
}

type ConfigSource struct {
	Phase  string
	Path   string
	Loaded bool
}

func CurrentConfigSource() (ConfigSource, error) {
	if err := ensureRuntimeConfigLoaded(); err != nil {
		return ConfigSource{}, err
	}
	return ConfigSource{
		Phase:  runtimeConfigPhase,
		Path:   runtimeConfigPath,
		Loaded: runtimeConfigLoaded,
	}, nil
}

func buildLogConfig(prefix string, serviceName string) LogConfig {
	return LogConfig{
		Level:    envOrDefault(prefix+"_LOG_LEVEL", envOrDefault("LOG_LEVEL", "info")),
		Format:   envOrDefault(prefix+"_LOG_FORMAT", envOrDefault("LOG_FORMAT", "text")),
		Output:   envOrDefault(prefix+"_LOG_OUTPUT", envOrDefault("LOG_OUTPUT", "console")),
		FilePath: envOrDefault(prefix+"_LOG_FILE", envOrDefault("LOG_FILE", filepath.Join(".docker", serviceName, serviceName+".log"))),
	}
}

func envPubkey(key string, fallback solana.PublicKey) (solana.PublicKey, error) {
	raw := strings.TrimSpace(valueForKey(key))
	if raw == "" {
		return fallback, nil
	}
	pk, err := solana.PublicKeyFromBase58(raw)
	if err != nil {
		return solana.PublicKey{}, fmt.Errorf("invalid %s: %w", key, err)
	}
	return pk, nil
}

func envDiscriminator(key string, fallback lottery.Discriminator) (lottery.Discriminator, error) {
	raw := strings.TrimSpace(valueForKey(key))
	if raw == "" {
		return fallback, nil
	}
	d, err := lottery.ParseDiscriminator(raw)
	if err != nil {
		return lottery.Discriminator{}, fmt.Errorf("invalid %s: %w", key, err)
	}
	return d, nil
}

func envCommitment(key string, fallback rpc.CommitmentType) (rpc.CommitmentType, error) {
	raw := strings.TrimSpace(valueForKey(key))
	if raw == "" {
		return fallback, nil
	}
	switch strings.ToLower(raw) {
	case string(rpc.CommitmentProcessed):
		return rpc.CommitmentProcessed, nil
	case string(rpc.CommitmentConfirmed):
		return rpc.CommitmentConfirmed, nil
	case string(rpc.CommitmentFinalized):
		return rpc.CommitmentFinalized, nil
	default:
		return "", fmt.Errorf("invalid %s: %q (expected processed|confirmed|finalized)", key, raw)
	}
}

func envDuration(key string, fallback time.Duration) (time.Duration, error) {
	raw := strings.TrimSpace(valueForKey(key))
	if raw == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	if d <= 0 {
		return 0, fmt.Errorf("invalid %s: must be > 0", key)
	}
	return d, nil
}

func envInt(key string, fallback int) (int, error) {
	raw := strings.TrimSpace(valueForKey(key))
	if raw == "" {
		return fallback, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	if v <= 0 {
		return 0, fmt.Errorf("invalid %s: must be > 0", key)
	}
	return v, nil
}

func envFloat(key string, fallback float64) (float64, error) {
	raw := strings.TrimSpace(valueForKey(key))
	if raw == "" {
		return fallback, nil
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	if v <= 0 {
		return 0, fmt.Errorf("invalid %s: must be > 0", key)
	}
	return v, nil
}

func envUint64(key string, fallback uint64) (uint64, error) {
	raw := strings.TrimSpace(valueForKey(key))
	if raw == "" {
		return fallback, nil
	}
	v, err := strconv.ParseUint(raw, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return v, nil
}

func envUint32(key string, fallback uint32) (uint32, error) {
	raw := strings.TrimSpace(valueForKey(key))
	if raw == "" {
		return fallback, nil
	}
	v, err := strconv.ParseUint(raw, 10, 32)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return uint32(v), nil
}

func envOptionalUint(key string) (*uint, error) {
	raw := strings.TrimSpace(valueForKey(key))
	if raw == "" {
		return nil, nil
	}
	v, err := strconv.ParseUint(raw, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid %s: %w", key, err)
	}
	out := uint(v)
	return &out, nil
}

func envBool(key string, fallback bool) (bool, error) {
	raw := strings.TrimSpace(valueForKey(key))
	if raw == "" {
		return fallback, nil
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		return false, fmt.Errorf("invalid %s: %w", key, err)
	}
	return v, nil
}

func envOrDefault(key, fallback string) string {
	if value := strings.TrimSpace(valueForKey(key)); value != "" {
		return value
	}
	return fallback
}

func parseCSVEnv(raw string, fallback []string) []string {
	if strings.TrimSpace(raw) == "" {
		return fallback
	}

	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		value := strings.TrimSpace(part)
		if value == "" {
			continue
		}
		out = append(out, value)
	}
	if len(out) == 0 {
		return fallback
	}
	return out
}

func expandHomePath(path string) (string, error) {
	if path == "" {
		return "", nil
	}
	if path == "~" || strings.HasPrefix(path, "~/") {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		if path == "~" {
			return homeDir, nil
		}
		return filepath.Join(homeDir, strings.TrimPrefix(path, "~/")), nil
	}
	return path, nil
}

var (
	runtimeConfigOnce   sync.Once
	runtimeConfigErr    error
	runtimeConfigValues map[string]string
	runtimeConfigLoaded bool
	runtimeConfigPath   string
	runtimeConfigPhase  string
)

func ensureRuntimeConfigLoaded() error {
	runtimeConfigOnce.Do(func() {
		phase := strings.TrimSpace(os.Getenv("CONFIG_PHASE"))
		if phase == "" {
			phase = "local"
		}
		runtimeConfigPhase = phase

		path := strings.TrimSpace(os.Getenv("CONFIG_FILE"))
		values, resolved, loaded, err := loadConfigFile(phase, path)
		if err != nil {
			runtimeConfigErr = err
			runtimeConfigValues = map[string]string{}
			return
		}
		runtimeConfigValues = values
		runtimeConfigLoaded = loaded
		runtimeConfigPath = resolved
	})
	return runtimeConfigErr
}

// loadConfigFile reads the YAML layer. A missing default file is not an
// error; a missing explicitly named one is.
func loadConfigFile(phase, explicitPath string) (map[string]string, string, bool, error) {
	configPath := explicitPath
	if configPath == "" {
		configPath = filepath.Join("config", "config-"+phase+".yaml")
	}

	body, err := os.ReadFile(configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) && explicitPath == "" {
			return map[string]string{}, "", false, nil
		}
		return nil, "", false, fmt.Errorf("read config file %q: %w", configPath, err)
	}

	raw := make(map[string]any)
	if err := yaml.Unmarshal(body, &raw); err != nil {
		return nil, "", false, fmt.Errorf("parse config file %q: %w", configPath, err)
	}

	flattened, err := flattenConfig(raw)
	if err != nil {
		return nil, "", false, fmt.Errorf("flatten config file %q: %w", configPath, err)
	}

	resolved := configPath
	if absPath, err := filepath.Abs(configPath); err == nil {
		resolved = absPath
	}
	return flattened, resolved, true, nil
}

func flattenConfig(raw map[string]any) (map[string]string, error) {
	out := make(map[string]string)
	for key, value := range raw {
		segment := normalizeKeySegment(key)
		if segment == "" {
			continue
		}
		if err := flattenConfigValue(segment, value, out); err != nil {
			return nil, err
		}
	}
	return out, nil
}

func flattenConfigValue(prefix string, value any, out map[string]string) error {
	switch typed := value.(type) {
	case map[string]any:
		for key, child := range typed {
			segment := normalizeKeySegment(key)
			if segment == "" {
				continue
			}
			if err := flattenConfigValue(prefix+"_"+segment, child, out); err != nil {
				return err
			}
		}
		return nil
	case []any:
		parts := make([]string, 0, len(typed))
		for _, item := range typed {
			switch scalar := item.(type) {
			case string:
				if strings.TrimSpace(scalar) == "" {
					continue
				}
				parts = append(parts, strings.TrimSpace(scalar))
			case bool, int, int64, uint64, float64:
				parts = append(parts, fmt.Sprint(scalar))
			default:
				return fmt.Errorf("unsupported list item type %T under %q", item, prefix)
			}
		}
		out[prefix] = strings.Join(parts, ",")
		return nil
	case nil:
		return nil
	default:
		out[prefix] = fmt.Sprint(typed)
		return nil
	}
}

// normalizeKeySegment maps a yaml key such as "rpc-url" onto env naming:
// upper case, runs of separators folded to "_".
func normalizeKeySegment(raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return ""
	}

	var b strings.Builder
	b.Grow(len(raw))
	lastUnderscore := false

	for _, r := range raw {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(unicode.ToUpper(r))
			lastUnderscore = false
			continue
		}
		if !lastUnderscore && b.Len() > 0 {
			b.WriteByte('_')
			lastUnderscore = true
		}
	}

	return strings.Trim(b.String(), "_")
}

func valueForKey(key string) string {
	if value := strings.TrimSpace(os.Getenv(key)); value != "" {
		return value
	}

	if err := ensureRuntimeConfigLoaded(); err != nil {
		return ""
	}

	return strings.TrimSpace(runtimeConfigValues[key])
}
