package models

// AnomalyType 异常类型
type AnomalyType string

const (
	AnomalyDeactivated     AnomalyType = "deactivated"
	AnomalyDeprecated      AnomalyType = "deprecated"
	AnomalyUnknownAddress  AnomalyType = "unknown_address"
	AnomalyUnknownRole     AnomalyType = "unknown_role"
	AnomalyExcessiveAdmins AnomalyType = "excessive_admins"
)

// AnomalySeverity 异常严重级别
type AnomalySeverity string

const (
	SeverityLow    AnomalySeverity = "low"
	SeverityMedium AnomalySeverity = "medium"
	SeverityHigh   AnomalySeverity = "high"
)

// Anomaly 审计异常（不可变）
type Anomaly struct {
	Type        AnomalyType     `json:"type"`
	Address     string          `json:"address,omitempty"`
	Contract    string          `json:"contract,omitempty"`
	Role        string          `json:"role,omitempty"`
	Severity    AnomalySeverity `json:"severity"`
	Description string          `json:"description"`
}
