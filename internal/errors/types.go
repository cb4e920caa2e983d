package errors

import (
	"fmt"
	"time"
)

// ErrorType 错误类型
type ErrorType int

const (
	// 网络相关错误
	ErrorTypeNetwork ErrorType = iota
	ErrorTypeConnection
	ErrorTypeTimeout
	ErrorTypeRateLimit

	// 审计流水线错误
	ErrorTypeCollector
	ErrorTypeVerification
	ErrorTypeDetection
	ErrorTypeOrchestration

	// 数据相关错误
	ErrorTypeData
	ErrorTypeSerialization
	ErrorTypeValidation

	// 系统相关错误
	ErrorTypeSystem
	ErrorTypeFileIO
	ErrorTypeConfig
	ErrorTypeStore

	// 外部服务错误
	ErrorTypeExplorer
	ErrorTypeRPC
	ErrorTypeKafka

	// 修复批次错误
	ErrorTypeBatch
	ErrorTypeExport
)

// ErrorSeverity 错误严重级别
type ErrorSeverity int

const (
	SeverityLow ErrorSeverity = iota
	SeverityMedium
	SeverityHigh
	SeverityCritical
)

// AuditError 自定义错误类型
type AuditError struct {
	Type      ErrorType              `json:"type"`
	Severity  ErrorSeverity          `json:"severity"`
	Code      string                 `json:"code"`
	Message   string                 `json:"message"`
	Timestamp time.Time              `json:"timestamp"`
	Context   map[string]interface{} `json:"context,omitempty"`
	Cause     error                  `json:"cause,omitempty"`
	Retryable bool                   `json:"retryable"`
	Component string                 `json:"component"`
	Network   string                 `json:"network,omitempty"`
	Contract  string                 `json:"contract,omitempty"`
}

// Error 实现error接口
func (e *AuditError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap 支持errors.Unwrap
func (e *AuditError) Unwrap() error {
	return e.Cause
}

// IsRetryable 判断是否可重试
func (e *AuditError) IsRetryable() bool {
	return e.Retryable
}

// WithContext 添加上下文信息
func (e *AuditError) WithContext(key string, value interface{}) *AuditError {
	if e.Context == nil {
		e.Context = make(map[string]interface{})
	}
	e.Context[key] = value
	return e
}

// WithNetwork 添加网络标识
func (e *AuditError) WithNetwork(network string) *AuditError {
	e.Network = network
	return e
}

// WithContract 添加合约地址
func (e *AuditError) WithContract(contract string) *AuditError {
	e.Contract = contract
	return e
}

// WithComponent 添加组件标识
func (e *AuditError) WithComponent(component string) *AuditError {
	e.Component = component
	return e
}

// NewAuditError 创建新的错误
func NewAuditError(errorType ErrorType, severity ErrorSeverity, code, message string) *AuditError {
	return &AuditError{
		Type:      errorType,
		Severity:  severity,
		Code:      code,
		Message:   message,
		Timestamp: time.Now(),
		Retryable: determineRetryable(errorType),
	}
}

// WrapError 包装现有错误
func WrapError(err error, errorType ErrorType, severity ErrorSeverity, code, message string) *AuditError {
	return &AuditError{
		Type:      errorType,
		Severity:  severity,
		Code:      code,
		Message:   message,
		Timestamp: time.Now(),
		Cause:     err,
		Retryable: determineRetryable(errorType),
	}
}

// determineRetryable 根据错误类型判断是否可重试
func determineRetryable(errorType ErrorType) bool {
	switch errorType {
	case ErrorTypeNetwork, ErrorTypeConnection, ErrorTypeTimeout:
		return true
	case ErrorTypeRateLimit:
		return true
	case ErrorTypeExplorer, ErrorTypeRPC:
		return true
	case ErrorTypeKafka:
		return true
	default:
		// 验证类和编排类错误重试没有意义
		return false
	}
}

// 预定义错误
var (
	// 编排错误
	ErrNoContractsSelected = NewAuditError(
		ErrorTypeOrchestration,
		SeverityHigh,
		"NO_CONTRACTS_SELECTED",
		"没有选中任何可审计合约",
	)

	// 验证步骤错误：权威状态读取失败整个审计必须失败
	ErrVerificationFailed = NewAuditError(
		ErrorTypeVerification,
		SeverityCritical,
		"VERIFICATION_FAILED",
		"权限状态批量验证失败",
	)

	// 浏览器API错误
	ErrExplorerUnavailable = NewAuditError(
		ErrorTypeExplorer,
		SeverityMedium,
		"EXPLORER_UNAVAILABLE",
		"日志查询服务不可用",
	)

	// RPC错误
	ErrRPCUnavailable = NewAuditError(
		ErrorTypeRPC,
		SeverityHigh,
		"RPC_UNAVAILABLE",
		"没有可用的RPC节点",
	)

	// 数据错误
	ErrDataValidation = NewAuditError(
		ErrorTypeValidation,
		SeverityMedium,
		"DATA_VALIDATION_FAILED",
		"数据验证失败",
	)

	ErrSerializationFailed = NewAuditError(
		ErrorTypeSerialization,
		SeverityMedium,
		"SERIALIZATION_FAILED",
		"数据序列化失败",
	)

	// 系统错误
	ErrConfigInvalid = NewAuditError(
		ErrorTypeConfig,
		SeverityCritical,
		"CONFIG_INVALID",
		"配置无效",
	)

	ErrSnapshotNotFound = NewAuditError(
		ErrorTypeStore,
		SeverityMedium,
		"SNAPSHOT_NOT_FOUND",
		"未找到审计快照",
	)

	// 批次错误
	ErrBatchValidation = NewAuditError(
		ErrorTypeBatch,
		SeverityMedium,
		"BATCH_VALIDATION_FAILED",
		"批次校验失败",
	)

	ErrExportFailed = NewAuditError(
		ErrorTypeExport,
		SeverityHigh,
		"EXPORT_FAILED",
		"多签导出文档生成失败",
	)

	ErrKafkaProduceFailed = NewAuditError(
		ErrorTypeKafka,
		SeverityHigh,
		"KAFKA_PRODUCE_FAILED",
		"Kafka消息发送失败",
	)
)

// 错误类型字符串映射
var errorTypeNames = map[ErrorType]string{
	ErrorTypeNetwork:       "Network",
	ErrorTypeConnection:    "Connection",
	ErrorTypeTimeout:       "Timeout",
	ErrorTypeRateLimit:     "RateLimit",
	ErrorTypeCollector:     "Collector",
	ErrorTypeVerification:  "Verification",
	ErrorTypeDetection:     "Detection",
	ErrorTypeOrchestration: "Orchestration",
	ErrorTypeData:          "Data",
	ErrorTypeSerialization: "Serialization",
	ErrorTypeValidation:    "Validation",
	ErrorTypeSystem:        "System",
	ErrorTypeFileIO:        "FileIO",
	ErrorTypeConfig:        "Config",
	ErrorTypeStore:         "Store",
	ErrorTypeExplorer:      "Explorer",
	ErrorTypeRPC:           "RPC",
	ErrorTypeKafka:         "Kafka",
	ErrorTypeBatch:         "Batch",
	ErrorTypeExport:        "Export",
}

// String 返回错误类型的字符串表示
func (et ErrorType) String() string {
	if name, exists := errorTypeNames[et]; exists {
		return name
	}
	return fmt.Sprintf("Unknown(%d)", et)
}

// 严重级别字符串映射
var severityNames = map[ErrorSeverity]string{
	SeverityLow:      "Low",
	SeverityMedium:   "Medium",
	SeverityHigh:     "High",
	SeverityCritical: "Critical",
}

// String 返回严重级别的字符串表示
func (es ErrorSeverity) String() string {
	if name, exists := severityNames[es]; exists {
		return name
	}
	return fmt.Sprintf("Unknown(%d)", es)
}

// ErrorStats 错误统计
type ErrorStats struct {
	TotalErrors       int                   `json:"total_errors"`
	ErrorsByType      map[ErrorType]int     `json:"errors_by_type"`
	ErrorsBySeverity  map[ErrorSeverity]int `json:"errors_by_severity"`
	ErrorsByComponent map[string]int        `json:"errors_by_component"`
	RecentErrors      []*AuditError         `json:"recent_errors"`
	LastError         *AuditError           `json:"last_error"`
	LastErrorTime     time.Time             `json:"last_error_time"`
}

// NewErrorStats 创建错误统计
func NewErrorStats() *ErrorStats {
	return &ErrorStats{
		ErrorsByType:      make(map[ErrorType]int),
		ErrorsBySeverity:  make(map[ErrorSeverity]int),
		ErrorsByComponent: make(map[string]int),
		RecentErrors:      make([]*AuditError, 0),
	}
}

// RecordError 记录错误
func (es *ErrorStats) RecordError(err *AuditError) {
	es.TotalErrors++
	es.ErrorsByType[err.Type]++
	es.ErrorsBySeverity[err.Severity]++
	if err.Component != "" {
		es.ErrorsByComponent[err.Component]++
	}

	es.LastError = err
	es.LastErrorTime = err.Timestamp

	// 保留最近100个错误
	es.RecentErrors = append(es.RecentErrors, err)
	if len(es.RecentErrors) > 100 {
		es.RecentErrors = es.RecentErrors[1:]
	}
}
