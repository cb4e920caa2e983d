package config

import (
	"fmt"
	"os"

	"roleaudit/internal/logging"
	"roleaudit/internal/registry"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/sirupsen/logrus"
	"github.com/spf13/viper"
)

// Config 主配置
type Config struct {
	Networks   map[string]*NetworkConfig `mapstructure:"networks"`
	Detector   *DetectorConfig           `mapstructure:"detector"`
	Registries *RegistryConfig           `mapstructure:"registries"`
	Output     *OutputConfig             `mapstructure:"output"`
	Store      *StoreConfig              `mapstructure:"store"`
	Logging    *logging.LogConfig        `mapstructure:"logging"`
}

// NetworkConfig 网络配置
type NetworkConfig struct {
	ChainID          string        `mapstructure:"chain_id"`
	ExplorerAPIURL   string        `mapstructure:"explorer_api_url"`
	MulticallAddress string        `mapstructure:"multicall_address"`
	Nodes            []*NodeConfig `mapstructure:"nodes"`
}

// NodeConfig RPC节点配置
type NodeConfig struct {
	Name     string `mapstructure:"name"`
	URL      string `mapstructure:"url"`
	Priority int    `mapstructure:"priority"`
}

// DetectorConfig 异常检测配置
type DetectorConfig struct {
	AdminKeywords           []string `mapstructure:"admin_keywords"`
	ExcessiveAdminThreshold int      `mapstructure:"excessive_admin_threshold"`
}

// RegistryConfig 注册表配置（已知地址/角色/可审计合约）
type RegistryConfig struct {
	KnownAddresses map[string]registry.KnownAddress   `mapstructure:"known_addresses"`
	KnownRoles     map[string]string                  `mapstructure:"known_roles"`
	Contracts      map[string][]registry.ContractInfo `mapstructure:"contracts"`
}

// KafkaConfig Kafka配置
type KafkaConfig struct {
	Brokers []string          `mapstructure:"brokers"`
	Topics  map[string]string `mapstructure:"topics"`
}

// OutputConfig 输出配置
type OutputConfig struct {
	Format    string       `mapstructure:"format"`
	Directory string       `mapstructure:"directory"`
	Kafka     *KafkaConfig `mapstructure:"kafka"`
}

// StoreConfig 快照存储配置
type StoreConfig struct {
	Path string `mapstructure:"path"`
}

// LoadConfig 加载配置（自动检测注册表来源）
func LoadConfig(configPath string) (*Config, error) {
	config, err := LoadConfigFromFile(configPath)
	if err != nil {
		return nil, err
	}

	// 如果配置了数据库DSN，注册表改从数据库加载
	dbDSN := os.Getenv("ROLEAUDIT_DB_DSN")
	if dbDSN != "" {
		logger := logrus.New()
		dbConfig, err := NewDatabaseConfig(dbDSN, logger)
		if err != nil {
			return nil, fmt.Errorf("连接数据库失败: %w", err)
		}
		defer dbConfig.Close()

		registries, err := dbConfig.LoadRegistries()
		if err != nil {
			return nil, fmt.Errorf("从数据库加载注册表失败: %w", err)
		}

		config.Registries = registries
		logger.Info("已从数据库加载注册表")
	}

	return config, nil
}

// LoadConfigFromFile 从文件加载配置，文件不存在时使用默认配置
func LoadConfigFromFile(configPath string) (*Config, error) {
	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		return GetDefaultConfig(), nil
	}

	v := viper.New()
	v.SetConfigFile(configPath)
	v.SetConfigType("yaml")

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("读取配置文件失败: %w", err)
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("解析配置文件失败: %w", err)
	}

	applyDefaults(&config)
	return &config, nil
}

// applyDefaults 补全缺失的配置段
func applyDefaults(config *Config) {
	defaults := GetDefaultConfig()

	if config.Networks == nil {
		config.Networks = defaults.Networks
	}
	if config.Detector == nil {
		config.Detector = defaults.Detector
	}
	if config.Registries == nil {
		config.Registries = defaults.Registries
	}
	if config.Output == nil {
		config.Output = defaults.Output
	}
	if config.Store == nil {
		config.Store = defaults.Store
	}
	if config.Logging == nil {
		config.Logging = defaults.Logging
	}
}

// Network 获取指定网络配置
func (c *Config) Network(name string) (*NetworkConfig, error) {
	network, ok := c.Networks[name]
	if !ok {
		return nil, fmt.Errorf("未知网络: %s", name)
	}
	return network, nil
}

// RegistrySet 构建注入用的静态注册表集合
func (c *Config) RegistrySet() *registry.Set {
	return &registry.Set{
		Addresses: registry.NewStaticAddressBook(c.Registries.KnownAddresses),
		Roles:     registry.NewStaticRoleBook(c.Registries.KnownRoles),
		Contracts: registry.NewStaticContractBook(c.Registries.Contracts),
	}
}

// Validate 验证配置参数
func (c *Config) Validate() error {
	if len(c.Networks) == 0 {
		return fmt.Errorf("至少需要配置一个网络")
	}

	for name, network := range c.Networks {
		if network.ChainID == "" {
			return fmt.Errorf("网络 %s 缺少chain_id", name)
		}
		if network.ExplorerAPIURL == "" {
			return fmt.Errorf("网络 %s 缺少explorer_api_url", name)
		}
		if len(network.Nodes) == 0 {
			return fmt.Errorf("网络 %s 至少需要配置一个RPC节点", name)
		}
		for i, node := range network.Nodes {
			if node.URL == "" {
				return fmt.Errorf("网络 %s 的节点 %d 缺少URL", name, i)
			}
		}
	}

	if c.Detector.ExcessiveAdminThreshold <= 0 {
		return fmt.Errorf("excessive_admin_threshold必须大于0")
	}

	return nil
}

// roleHash 计算角色名称的keccak256哈希
func roleHash(name string) string {
	return crypto.Keccak256Hash([]byte(name)).Hex()
}

// DefaultAdminRoleHash OpenZeppelin AccessControl的DEFAULT_ADMIN_ROLE
const DefaultAdminRoleHash = "0x0000000000000000000000000000000000000000000000000000000000000000"

// GetDefaultConfig 获取默认配置
func GetDefaultConfig() *Config {
	return &Config{
		Networks: map[string]*NetworkConfig{
			"vana": {
				ChainID:          "1480",
				ExplorerAPIURL:   "https://api.vanascan.io/api",
				MulticallAddress: "0xcA11bde05977b3631167028862bE2a173976CA11",
				Nodes: []*NodeConfig{
					{Name: "vana_rpc", URL: "https://rpc.vana.org", Priority: 1},
				},
			},
			"moksha": {
				ChainID:          "14800",
				ExplorerAPIURL:   "https://api.moksha.vanascan.io/api",
				MulticallAddress: "0xcA11bde05977b3631167028862bE2a173976CA11",
				Nodes: []*NodeConfig{
					{Name: "moksha_rpc", URL: "https://rpc.moksha.vana.org", Priority: 1},
				},
			},
		},
		Detector: &DetectorConfig{
			AdminKeywords:           []string{"admin", "owner", "manager"},
			ExcessiveAdminThreshold: 3,
		},
		Registries: &RegistryConfig{
			KnownAddresses: map[string]registry.KnownAddress{},
			KnownRoles: map[string]string{
				DefaultAdminRoleHash:          "DEFAULT_ADMIN_ROLE",
				roleHash("MAINTAINER_ROLE"):   "MAINTAINER_ROLE",
				roleHash("MANAGER_ROLE"):      "MANAGER_ROLE",
				roleHash("MINTER_ROLE"):       "MINTER_ROLE",
				roleHash("PAUSER_ROLE"):       "PAUSER_ROLE",
				roleHash("UPGRADER_ROLE"):     "UPGRADER_ROLE",
				roleHash("REGISTRY_OPERATOR"): "REGISTRY_OPERATOR",
			},
			Contracts: map[string][]registry.ContractInfo{},
		},
		Output: &OutputConfig{
			Format:    "json",
			Directory: "./outputs",
			Kafka: &KafkaConfig{
				Brokers: []string{"localhost:9092"},
				Topics: map[string]string{
					"audit_results": "roleaudit_results",
					"anomalies":     "roleaudit_anomalies",
					"batches":       "roleaudit_batches",
					"exports":       "roleaudit_exports",
				},
			},
		},
		Store: &StoreConfig{
			Path: "./data/snapshots.db",
		},
		Logging: &logging.LogConfig{
			Level:      "info",
			Format:     "json",
			Output:     "stdout",
			Rotation:   false,
			MaxSize:    100,
			MaxAge:     30,
			MaxBackups: 3,
			Compress:   true,
		},
	}
}
