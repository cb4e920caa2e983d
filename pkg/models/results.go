package models

import (
	"strings"
	"time"
)

// AuditStats 审计统计信息
type AuditStats struct {
	ActivePermissions int `json:"active_permissions"`
	HistoricalEvents  int `json:"historical_events"`
	UniqueRoles       int `json:"unique_roles"`
	UniqueAddresses   int `json:"unique_addresses"`
	AnomaliesCount    int `json:"anomalies_count"`
}

// AuditResults 审计结果快照（不可变）
type AuditResults struct {
	Network      string               `json:"network"`
	Contracts    []string             `json:"contracts"`
	CurrentState []*CurrentStateEntry `json:"current_state"`
	History      []*HistoryEntry      `json:"history"`
	Anomalies    []*Anomaly           `json:"anomalies"`
	Stats        *AuditStats          `json:"stats"`
	Timestamp    time.Time            `json:"timestamp"`
}

// ComputeAuditStats 从状态和历史计算统计信息
func ComputeAuditStats(currentState []*CurrentStateEntry, history []*HistoryEntry, anomalies []*Anomaly) *AuditStats {
	roles := make(map[string]struct{})
	addresses := make(map[string]struct{})
	for _, entry := range currentState {
		roles[entry.RoleHash] = struct{}{}
		addresses[strings.ToLower(entry.Address)] = struct{}{}
	}

	return &AuditStats{
		ActivePermissions: len(currentState),
		HistoricalEvents:  len(history),
		UniqueRoles:       len(roles),
		UniqueAddresses:   len(addresses),
		AnomaliesCount:    len(anomalies),
	}
}

// EntriesForAddress 返回指定地址持有的所有状态条目（大小写不敏感）
func (r *AuditResults) EntriesForAddress(address string) []*CurrentStateEntry {
	target := strings.ToLower(address)
	var entries []*CurrentStateEntry
	for _, entry := range r.CurrentState {
		if strings.ToLower(entry.Address) == target {
			entries = append(entries, entry)
		}
	}
	return entries
}
