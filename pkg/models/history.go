package models

import (
	"time"
)

// RoleEventAction 角色事件动作
type RoleEventAction string

const (
	ActionGranted RoleEventAction = "granted"
	ActionRevoked RoleEventAction = "revoked"
)

// HistoryEntry 角色授权历史记录（不可变）
type HistoryEntry struct {
	Action          RoleEventAction `json:"action"`
	RoleHash        string          `json:"role_hash"`
	RoleName        string          `json:"role_name"`
	Address         string          `json:"address"`
	AddressLabel    string          `json:"address_label"`
	Sender          string          `json:"sender"`
	SenderLabel     string          `json:"sender_label"`
	ContractName    string          `json:"contract_name"`
	ContractAddress string          `json:"contract_address"`
	BlockNumber     uint64          `json:"block_number"`
	Timestamp       time.Time       `json:"timestamp"`
	TransactionHash string          `json:"transaction_hash"`
	LogIndex        uint64          `json:"log_index"`
}

// HistoryStats 历史记录统计
type HistoryStats struct {
	TotalEvents   int `json:"total_events"`
	GrantedEvents int `json:"granted_events"`
	RevokedEvents int `json:"revoked_events"`
}

// ComputeHistoryStats 计算历史记录统计
func ComputeHistoryStats(history []*HistoryEntry) *HistoryStats {
	stats := &HistoryStats{TotalEvents: len(history)}
	for _, entry := range history {
		switch entry.Action {
		case ActionGranted:
			stats.GrantedEvents++
		case ActionRevoked:
			stats.RevokedEvents++
		}
	}
	return stats
}
