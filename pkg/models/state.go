package models

import (
	"fmt"
	"strings"
)

// OwnerRoleHash 所有权探测结果使用的保留角色标识
// 与链上bytes32角色哈希永不冲突（非0x前缀）
const OwnerRoleHash = "OWNER"

// OwnerRoleName 所有权条目的显示名称
const OwnerRoleName = "Owner"

// Candidate 待验证的 (地址, 角色, 合约) 三元组
type Candidate struct {
	Address         string `json:"address"`
	RoleHash        string `json:"role_hash"`
	ContractAddress string `json:"contract_address"`
}

// Key 候选项去重使用的组合键（大小写不敏感）
func (c *Candidate) Key() string {
	return strings.ToLower(fmt.Sprintf("%s|%s|%s", c.Address, c.RoleHash, c.ContractAddress))
}

// CurrentStateEntry 当前权限状态条目
// 不变量：每个条目都对应一次查询时返回true的链上读取，绝不从历史推断
type CurrentStateEntry struct {
	Address            string `json:"address"`
	AddressLabel       string `json:"address_label"`
	RoleName           string `json:"role_name"`
	RoleHash           string `json:"role_hash"`
	ContractName       string `json:"contract_name"`
	ContractAddress    string `json:"contract_address"`
	IsAnomaly          bool   `json:"is_anomaly"`
	AnomalyDescription string `json:"anomaly_description,omitempty"`
}

// IsOwnership 判断是否为所有权探测产生的条目
func (e *CurrentStateEntry) IsOwnership() bool {
	return e.RoleHash == OwnerRoleHash
}
