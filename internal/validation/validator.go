package validation

import (
	"fmt"
	"regexp"
	"strings"

	"roleaudit/internal/errors"
	"roleaudit/pkg/models"

	"github.com/ethereum/go-ethereum/common"
	"github.com/sirupsen/logrus"
)

// 校验错误码
const (
	CodeInvalidAddress   = "INVALID_ADDRESS"
	CodeInvalidRoleHash  = "INVALID_ROLE_HASH"
	CodeSameAddress      = "SAME_ADDRESS"
	CodeMissingField     = "MISSING_FIELD"
	CodeEmptyBatch       = "EMPTY_BATCH"
	CodeUnknownOperation = "UNKNOWN_OPERATION"
)

// FieldError 结构化字段错误
type FieldError struct {
	Code    string `json:"code"`
	Field   string `json:"field"`
	Message string `json:"message"`
}

// Error 实现error接口
func (e *FieldError) Error() string {
	return fmt.Sprintf("[%s] %s: %s", e.Code, e.Field, e.Message)
}

// ValidationResult 校验结果
// 累积全部问题而不是在第一个错误处中断，调用方可以一次性展示所有问题
type ValidationResult struct {
	Valid    bool          `json:"valid"`
	Errors   []*FieldError `json:"errors,omitempty"`
	Warnings []string      `json:"warnings,omitempty"`
}

// NewValidationResult 创建空的校验结果
func NewValidationResult() *ValidationResult {
	return &ValidationResult{
		Valid:    true,
		Errors:   make([]*FieldError, 0),
		Warnings: make([]string, 0),
	}
}

// AddError 添加字段错误
func (r *ValidationResult) AddError(code, field, message string) {
	r.Valid = false
	r.Errors = append(r.Errors, &FieldError{Code: code, Field: field, Message: message})
}

// AddWarning 添加警告
func (r *ValidationResult) AddWarning(message string) {
	r.Warnings = append(r.Warnings, message)
}

// Validator 数据校验器
type Validator struct {
	logger       *logrus.Logger
	errorHandler *errors.ErrorHandler
}

// NewValidator 创建数据校验器
func NewValidator(logger *logrus.Logger) *Validator {
	return &Validator{
		logger:       logger,
		errorHandler: errors.NewErrorHandler(logger),
	}
}

var roleHashRegex = regexp.MustCompile("^0x[0-9a-fA-F]{64}$")

// IsValidAddress 验证地址格式
func IsValidAddress(addr string) bool {
	if !strings.HasPrefix(addr, "0x") {
		return false
	}
	return common.IsHexAddress(addr)
}

// IsValidRoleHash 验证角色哈希格式（bytes32或保留的OWNER标识）
func IsValidRoleHash(hash string) bool {
	if hash == models.OwnerRoleHash {
		return true
	}
	return roleHashRegex.MatchString(hash)
}

// ValidateAddress 校验单个地址字段
func (v *Validator) ValidateAddress(result *ValidationResult, field, address string) {
	if address == "" {
		result.AddError(CodeMissingField, field, "地址不能为空")
		return
	}
	if !IsValidAddress(address) {
		result.AddError(CodeInvalidAddress, field, fmt.Sprintf("地址格式无效: %s", address))
	}
}

// ValidateRotation 校验轮换参数：新旧地址均合法且互不相同
func (v *Validator) ValidateRotation(oldAddress, newAddress string) *ValidationResult {
	result := NewValidationResult()

	v.ValidateAddress(result, "old_address", oldAddress)
	v.ValidateAddress(result, "new_address", newAddress)

	if result.Valid && strings.EqualFold(oldAddress, newAddress) {
		result.AddError(CodeSameAddress, "new_address", "新地址不能与旧地址相同")
	}

	v.record(result)
	return result
}

// ValidateOperation 校验单个批次操作
func (v *Validator) ValidateOperation(result *ValidationResult, prefix string, op *models.BatchOperation) {
	if op.Type != models.OperationGrant && op.Type != models.OperationRevoke {
		result.AddError(CodeUnknownOperation, prefix+".type", fmt.Sprintf("未知的操作类型: %s", op.Type))
	}

	v.ValidateAddress(result, prefix+".contract_address", op.ContractAddress)
	v.ValidateAddress(result, prefix+".account", op.Account)

	if op.Role == "" {
		result.AddError(CodeMissingField, prefix+".role", "角色不能为空")
	} else if !IsValidRoleHash(op.Role) {
		result.AddError(CodeInvalidRoleHash, prefix+".role", fmt.Sprintf("角色哈希格式无效: %s", op.Role))
	}
}

// ValidateBatch 校验修复批次
func (v *Validator) ValidateBatch(batch *models.Batch) *ValidationResult {
	result := NewValidationResult()

	if batch == nil {
		result.AddError(CodeMissingField, "batch", "批次不能为空")
		return result
	}

	if len(batch.Operations) == 0 {
		result.AddError(CodeEmptyBatch, "operations", "批次不包含任何操作")
	}

	for i, op := range batch.Operations {
		v.ValidateOperation(result, fmt.Sprintf("operations[%d]", i), op)
	}

	v.record(result)
	return result
}

// record 记录校验失败统计
func (v *Validator) record(result *ValidationResult) {
	if result.Valid {
		return
	}

	for _, fieldErr := range result.Errors {
		auditErr := errors.NewAuditError(errors.ErrorTypeValidation, errors.SeverityMedium,
			fieldErr.Code, fieldErr.Message).WithComponent("validation")
		v.errorHandler.GetStats().RecordError(auditErr)
	}

	v.logger.Debugf("校验失败，共 %d 个错误", len(result.Errors))
}

// GetValidationStats 获取校验统计信息
func (v *Validator) GetValidationStats() map[string]interface{} {
	stats := v.errorHandler.GetStats()
	return map[string]interface{}{
		"total_errors": stats.TotalErrors,
		"last_error":   stats.LastError,
	}
}
