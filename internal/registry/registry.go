package registry

import (
	"strings"
)

// 地址分类
const (
	CategoryDeactivated = "deactivated"
	CategoryDeprecated  = "deprecated"
)

// KnownAddress 已知地址条目
type KnownAddress struct {
	Label    string `json:"label" mapstructure:"label"`
	Category string `json:"category" mapstructure:"category"`
}

// ContractInfo 可审计合约条目
type ContractInfo struct {
	Name    string `json:"name" mapstructure:"name"`
	Address string `json:"address" mapstructure:"address"`
}

// AddressBook 已知地址注册表（只读，大小写不敏感查找）
type AddressBook interface {
	Lookup(address string) (KnownAddress, bool)
}

// RoleBook 角色哈希注册表（只读）
type RoleBook interface {
	RoleName(roleHash string) (string, bool)
	All() map[string]string
}

// ContractBook 合约注册表（只读，按网络划分）
type ContractBook interface {
	Contracts(network string) []ContractInfo
	FindByName(network, name string) (ContractInfo, bool)
	IsKnownContract(network, address string) bool
}

// StaticAddressBook 基于内存映射的地址注册表
type StaticAddressBook struct {
	entries map[string]KnownAddress
}

// NewStaticAddressBook 创建静态地址注册表
func NewStaticAddressBook(entries map[string]KnownAddress) *StaticAddressBook {
	normalized := make(map[string]KnownAddress, len(entries))
	for addr, entry := range entries {
		normalized[strings.ToLower(addr)] = entry
	}
	return &StaticAddressBook{entries: normalized}
}

// Lookup 查找已知地址
func (b *StaticAddressBook) Lookup(address string) (KnownAddress, bool) {
	entry, ok := b.entries[strings.ToLower(address)]
	return entry, ok
}

// StaticRoleBook 基于内存映射的角色注册表
type StaticRoleBook struct {
	roles map[string]string
}

// NewStaticRoleBook 创建静态角色注册表
func NewStaticRoleBook(roles map[string]string) *StaticRoleBook {
	normalized := make(map[string]string, len(roles))
	for hash, name := range roles {
		normalized[strings.ToLower(hash)] = name
	}
	return &StaticRoleBook{roles: normalized}
}

// RoleName 根据角色哈希查找显示名称
func (b *StaticRoleBook) RoleName(roleHash string) (string, bool) {
	name, ok := b.roles[strings.ToLower(roleHash)]
	return name, ok
}

// All 返回全部已知角色（哈希→名称副本）
func (b *StaticRoleBook) All() map[string]string {
	out := make(map[string]string, len(b.roles))
	for hash, name := range b.roles {
		out[hash] = name
	}
	return out
}

// StaticContractBook 基于内存映射的合约注册表
type StaticContractBook struct {
	byNetwork map[string][]ContractInfo
}

// NewStaticContractBook 创建静态合约注册表
func NewStaticContractBook(byNetwork map[string][]ContractInfo) *StaticContractBook {
	return &StaticContractBook{byNetwork: byNetwork}
}

// Contracts 返回网络下的全部可审计合约
func (b *StaticContractBook) Contracts(network string) []ContractInfo {
	return b.byNetwork[network]
}

// FindByName 按名称查找合约
func (b *StaticContractBook) FindByName(network, name string) (ContractInfo, bool) {
	for _, c := range b.byNetwork[network] {
		if c.Name == name {
			return c, true
		}
	}
	return ContractInfo{}, false
}

// IsKnownContract 判断地址是否为网络下已登记的合约地址
func (b *StaticContractBook) IsKnownContract(network, address string) bool {
	target := strings.ToLower(address)
	for _, c := range b.byNetwork[network] {
		if strings.ToLower(c.Address) == target {
			return true
		}
	}
	return false
}

// Set 注册表集合，注入到各审计组件
type Set struct {
	Addresses AddressBook
	Roles     RoleBook
	Contracts ContractBook
}
