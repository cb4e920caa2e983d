package batch

import (
	"fmt"
	"sort"

	"roleaudit/internal/validation"
	"roleaudit/pkg/models"
)

// UnverifiedPrefix 注册表回退模式产出的批次名前缀
const UnverifiedPrefix = "[UNVERIFIED] "

// RotationResult 轮换生成结果
// 校验失败时Success为false且Errors含全部字段错误，绝不抛出
type RotationResult struct {
	Success    bool                     `json:"success"`
	Unverified bool                     `json:"unverified"`
	Errors     []*validation.FieldError `json:"errors,omitempty"`
	Batch      *models.Batch            `json:"batch,omitempty"`
}

// GenerateRotation 基于审计快照生成轮换批次（可信路径）
// 操作只覆盖快照中旧地址实际持有的角色
func (b *Builder) GenerateRotation(results *models.AuditResults, oldAddress, newAddress string) *RotationResult {
	if result := b.validateRotation(oldAddress, newAddress); result != nil {
		return result
	}

	operations := b.RotationTemplate(results, oldAddress, newAddress, "", "")

	batch := b.NewBatch(
		fmt.Sprintf("Rotate %s to %s", shortAddress(checksum(oldAddress)), shortAddress(checksum(newAddress))),
		fmt.Sprintf("基于 %s 审计快照的角色轮换：%s → %s", results.Timestamp.Format("2006-01-02 15:04:05"), checksum(oldAddress), checksum(newAddress)),
		operations,
	)

	return &RotationResult{Success: true, Batch: batch}
}

// GenerateRotationFromRegistry 基于静态注册表生成轮换批次（低可信回退模式）
// 没有快照时按网络下全部已登记合约与已知角色组合生成操作，
// 可能包含旧地址实际并不持有的角色，产出批次带醒目的未验证标记
func (b *Builder) GenerateRotationFromRegistry(oldAddress, newAddress string) *RotationResult {
	if result := b.validateRotation(oldAddress, newAddress); result != nil {
		return result
	}

	roles := b.registries.Roles.All()
	hashes := make([]string, 0, len(roles))
	for hash := range roles {
		hashes = append(hashes, hash)
	}
	sort.Strings(hashes)

	var operations []*models.BatchOperation
	for _, contract := range b.registries.Contracts.Contracts(b.network) {
		for _, roleHash := range hashes {
			operations = append(operations,
				b.createOperation(models.OperationGrant, MethodGrantRole, contract.Address, roleHash, newAddress),
				b.createOperation(models.OperationRevoke, MethodRevokeRole, contract.Address, roleHash, oldAddress),
			)
		}
	}

	b.logger.Warnf("🚫 注册表回退模式：轮换操作未经链上验证，可能包含 %s 并不持有的角色", oldAddress)

	batch := b.NewBatch(
		fmt.Sprintf("%sRotate %s to %s", UnverifiedPrefix, shortAddress(checksum(oldAddress)), shortAddress(checksum(newAddress))),
		fmt.Sprintf("基于静态注册表的角色轮换（未经链上验证）：%s → %s", checksum(oldAddress), checksum(newAddress)),
		operations,
	)

	return &RotationResult{Success: true, Unverified: true, Batch: batch}
}

// validateRotation 轮换入参校验，非法时返回失败结果
func (b *Builder) validateRotation(oldAddress, newAddress string) *RotationResult {
	result := b.validator.ValidateRotation(oldAddress, newAddress)
	if result.Valid {
		return nil
	}
	return &RotationResult{Success: false, Errors: result.Errors}
}
