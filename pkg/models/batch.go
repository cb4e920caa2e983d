package models

import (
	"time"
)

// OperationType 批次操作类型
type OperationType string

const (
	OperationGrant  OperationType = "grant"
	OperationRevoke OperationType = "revoke"
)

// ExecutionStatus 操作执行状态
type ExecutionStatus string

const (
	StatusPending           ExecutionStatus = "pending"
	StatusSimulating        ExecutionStatus = "simulating"
	StatusAwaitingSignature ExecutionStatus = "awaiting_signature"
	StatusExecuting         ExecutionStatus = "executing"
	StatusSuccess           ExecutionStatus = "success"
	StatusFailed            ExecutionStatus = "failed"
)

// 执行状态机允许的迁移
var statusTransitions = map[ExecutionStatus][]ExecutionStatus{
	StatusPending:           {StatusSimulating},
	StatusSimulating:        {StatusAwaitingSignature, StatusFailed},
	StatusAwaitingSignature: {StatusExecuting, StatusFailed},
	StatusExecuting:         {StatusSuccess, StatusFailed},
}

// CanTransition 判断状态迁移是否合法
func (s ExecutionStatus) CanTransition(next ExecutionStatus) bool {
	for _, allowed := range statusTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// IsTerminal 判断是否为终态
func (s ExecutionStatus) IsTerminal() bool {
	return s == StatusSuccess || s == StatusFailed
}

// OperationDisplay 操作的展示元数据（尽力而为，可为空）
type OperationDisplay struct {
	RoleName     string `json:"role_name,omitempty"`
	AccountLabel string `json:"account_label,omitempty"`
	ContractName string `json:"contract_name,omitempty"`
}

// BatchOperation 单个授权/撤销操作
type BatchOperation struct {
	ID              string            `json:"id"`
	Type            OperationType     `json:"type"`
	ContractAddress string            `json:"contract_address"`
	MethodName      string            `json:"method_name"`
	Role            string            `json:"role"`
	Account         string            `json:"account"`
	Display         *OperationDisplay `json:"display,omitempty"`
	Status          ExecutionStatus   `json:"status,omitempty"`
}

// ExecutionRecord 批次执行历史记录
type ExecutionRecord struct {
	OperationID string          `json:"operation_id"`
	Status      ExecutionStatus `json:"status"`
	TxHash      string          `json:"tx_hash,omitempty"`
	Error       string          `json:"error,omitempty"`
	Timestamp   time.Time       `json:"timestamp"`
}

// Batch 修复批次（聚合根，拥有其操作）
type Batch struct {
	ID               string             `json:"id"`
	Name             string             `json:"name"`
	Description      string             `json:"description"`
	Network          string             `json:"network"`
	Operations       []*BatchOperation  `json:"operations"`
	CreatedAt        time.Time          `json:"created_at"`
	UpdatedAt        time.Time          `json:"updated_at"`
	CreatedBy        string             `json:"created_by,omitempty"`
	ExecutionHistory []*ExecutionRecord `json:"execution_history,omitempty"`
}
