package config

import (
	"database/sql"
	"fmt"

	"roleaudit/internal/registry"

	_ "github.com/lib/pq"
	"github.com/sirupsen/logrus"
)

// DatabaseConfig 数据库注册表管理器
// 为集中维护地址簿/角色簿的部署提供数据库来源
type DatabaseConfig struct {
	DB     *sql.DB
	logger *logrus.Logger
}

// NewDatabaseConfig 创建数据库注册表管理器
func NewDatabaseConfig(dsn string, logger *logrus.Logger) (*DatabaseConfig, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("连接数据库失败: %w", err)
	}

	// 测试连接
	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("数据库连接测试失败: %w", err)
	}

	return &DatabaseConfig{
		DB:     db,
		logger: logger,
	}, nil
}

// LoadRegistries 从数据库加载完整注册表
func (dc *DatabaseConfig) LoadRegistries() (*RegistryConfig, error) {
	registries := &RegistryConfig{}

	knownAddresses, err := dc.loadKnownAddresses()
	if err != nil {
		return nil, fmt.Errorf("加载已知地址失败: %w", err)
	}
	registries.KnownAddresses = knownAddresses

	knownRoles, err := dc.loadKnownRoles()
	if err != nil {
		return nil, fmt.Errorf("加载已知角色失败: %w", err)
	}
	registries.KnownRoles = knownRoles

	contracts, err := dc.loadContracts()
	if err != nil {
		return nil, fmt.Errorf("加载可审计合约失败: %w", err)
	}
	registries.Contracts = contracts

	return registries, nil
}

// loadKnownAddresses 加载已知地址
func (dc *DatabaseConfig) loadKnownAddresses() (map[string]registry.KnownAddress, error) {
	query := `SELECT address, label, category FROM known_addresses WHERE is_active = true`
	rows, err := dc.DB.Query(query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	addresses := make(map[string]registry.KnownAddress)
	for rows.Next() {
		var address string
		var entry registry.KnownAddress
		if err := rows.Scan(&address, &entry.Label, &entry.Category); err != nil {
			return nil, err
		}
		addresses[address] = entry
	}

	return addresses, rows.Err()
}

// loadKnownRoles 加载已知角色
func (dc *DatabaseConfig) loadKnownRoles() (map[string]string, error) {
	query := `SELECT role_hash, role_name FROM known_roles WHERE is_active = true`
	rows, err := dc.DB.Query(query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	roles := make(map[string]string)
	for rows.Next() {
		var hash, name string
		if err := rows.Scan(&hash, &name); err != nil {
			return nil, err
		}
		roles[hash] = name
	}

	return roles, rows.Err()
}

// loadContracts 加载按网络划分的可审计合约
func (dc *DatabaseConfig) loadContracts() (map[string][]registry.ContractInfo, error) {
	query := `SELECT network, name, address FROM auditable_contracts WHERE is_active = true ORDER BY network, name`
	rows, err := dc.DB.Query(query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	contracts := make(map[string][]registry.ContractInfo)
	for rows.Next() {
		var network string
		var info registry.ContractInfo
		if err := rows.Scan(&network, &info.Name, &info.Address); err != nil {
			return nil, err
		}
		contracts[network] = append(contracts[network], info)
	}

	return contracts, rows.Err()
}

// UpsertKnownAddress 更新已知地址条目
func (dc *DatabaseConfig) UpsertKnownAddress(address, label, category string) error {
	query := `
		INSERT INTO known_addresses (address, label, category, is_active, updated_at)
		VALUES ($1, $2, $3, true, CURRENT_TIMESTAMP)
		ON CONFLICT (address)
		DO UPDATE SET label = $2, category = $3, is_active = true, updated_at = CURRENT_TIMESTAMP
	`

	_, err := dc.DB.Exec(query, address, label, category)
	return err
}

// DeactivateKnownAddress 停用已知地址条目
func (dc *DatabaseConfig) DeactivateKnownAddress(address string) error {
	query := `UPDATE known_addresses SET is_active = false, updated_at = CURRENT_TIMESTAMP WHERE address = $1`
	_, err := dc.DB.Exec(query, address)
	return err
}

// Close 关闭数据库连接
func (dc *DatabaseConfig) Close() error {
	if dc.DB != nil {
		return dc.DB.Close()
	}
	return nil
}
