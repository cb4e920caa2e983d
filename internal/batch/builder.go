package batch

import (
	"fmt"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"roleaudit/internal/registry"
	"roleaudit/internal/validation"
	"roleaudit/pkg/models"
)

// 链上角色管理方法名
const (
	MethodGrantRole  = "grantRole"
	MethodRevokeRole = "revokeRole"
)

// Builder 修复批次构建器
// 模板只消费已验证的审计快照，绝不为快照中不存在的权限编造操作
type Builder struct {
	network    string
	registries *registry.Set
	validator  *validation.Validator
	logger     *logrus.Logger
}

// NewBuilder 创建批次构建器
func NewBuilder(network string, registries *registry.Set, logger *logrus.Logger) *Builder {
	return &Builder{
		network:    network,
		registries: registries,
		validator:  validation.NewValidator(logger),
		logger:     logger,
	}
}

// RevokeAllTemplate 为指定地址在快照中持有的每个角色生成撤销操作
// contractFilter/roleFilter为空表示不过滤
func (b *Builder) RevokeAllTemplate(results *models.AuditResults, address, contractFilter, roleFilter string) []*models.BatchOperation {
	var operations []*models.BatchOperation

	for _, entry := range results.EntriesForAddress(address) {
		if !b.entryMatches(entry, contractFilter, roleFilter) {
			continue
		}
		// 所有权不是角色，无法通过revokeRole撤销
		if entry.IsOwnership() {
			b.logger.Warnf("跳过所有权条目 (合约 %s)：所有权转移需单独处理", entry.ContractName)
			continue
		}

		operations = append(operations, b.operationFromEntry(models.OperationRevoke, MethodRevokeRole, entry, entry.Address))
	}

	b.logger.Infof("撤销模板生成 %d 个操作，目标地址: %s", len(operations), address)
	return operations
}

// RotationTemplate 为角色轮换生成操作序列
// 每个(角色,合约)对先授权新地址再撤销旧地址，保证角色持有无空窗
func (b *Builder) RotationTemplate(results *models.AuditResults, oldAddress, newAddress, contractFilter, roleFilter string) []*models.BatchOperation {
	var operations []*models.BatchOperation

	for _, entry := range results.EntriesForAddress(oldAddress) {
		if !b.entryMatches(entry, contractFilter, roleFilter) {
			continue
		}
		if entry.IsOwnership() {
			b.logger.Warnf("跳过所有权条目 (合约 %s)：所有权转移需单独处理", entry.ContractName)
			continue
		}

		operations = append(operations,
			b.operationFromEntry(models.OperationGrant, MethodGrantRole, entry, newAddress),
			b.operationFromEntry(models.OperationRevoke, MethodRevokeRole, entry, entry.Address),
		)
	}

	b.logger.Infof("轮换模板生成 %d 个操作：%s → %s", len(operations), oldAddress, newAddress)
	return operations
}

// CreateGrantOperation 手工创建授权操作，地址规范化为校验和格式
func (b *Builder) CreateGrantOperation(contractAddress, roleHash, account string) *models.BatchOperation {
	return b.createOperation(models.OperationGrant, MethodGrantRole, contractAddress, roleHash, account)
}

// CreateRevokeOperation 手工创建撤销操作
func (b *Builder) CreateRevokeOperation(contractAddress, roleHash, account string) *models.BatchOperation {
	return b.createOperation(models.OperationRevoke, MethodRevokeRole, contractAddress, roleHash, account)
}

// NewBatch 组装批次聚合根
func (b *Builder) NewBatch(name, description string, operations []*models.BatchOperation) *models.Batch {
	now := time.Now().UTC()
	return &models.Batch{
		ID:          uuid.New().String(),
		Name:        name,
		Description: description,
		Network:     b.network,
		Operations:  operations,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}

// ValidateBatch 构建后校验，结构化错误全量累积
func (b *Builder) ValidateBatch(batch *models.Batch) *validation.ValidationResult {
	return b.validator.ValidateBatch(batch)
}

// createOperation 统一的操作构造路径，模板与手工入口产出同一形状
func (b *Builder) createOperation(opType models.OperationType, method, contractAddress, roleHash, account string) *models.BatchOperation {
	display := &models.OperationDisplay{}
	if name, ok := b.registries.Roles.RoleName(roleHash); ok {
		display.RoleName = name
	}
	if known, ok := b.registries.Addresses.Lookup(account); ok {
		display.AccountLabel = known.Label
	}
	if contract, ok := b.findContractName(contractAddress); ok {
		display.ContractName = contract
	}

	return &models.BatchOperation{
		ID:              uuid.New().String(),
		Type:            opType,
		ContractAddress: checksum(contractAddress),
		MethodName:      method,
		Role:            roleHash,
		Account:         checksum(account),
		Display:         display,
		Status:          models.StatusPending,
	}
}

// operationFromEntry 从快照条目构造操作，展示信息取条目自带的标注
func (b *Builder) operationFromEntry(opType models.OperationType, method string, entry *models.CurrentStateEntry, account string) *models.BatchOperation {
	op := b.createOperation(opType, method, entry.ContractAddress, entry.RoleHash, account)
	if op.Display.RoleName == "" {
		op.Display.RoleName = entry.RoleName
	}
	if op.Display.ContractName == "" {
		op.Display.ContractName = entry.ContractName
	}
	return op
}

// entryMatches 判断条目是否通过合约/角色过滤
func (b *Builder) entryMatches(entry *models.CurrentStateEntry, contractFilter, roleFilter string) bool {
	if contractFilter != "" &&
		!strings.EqualFold(entry.ContractName, contractFilter) &&
		!strings.EqualFold(entry.ContractAddress, contractFilter) {
		return false
	}
	if roleFilter != "" &&
		!strings.EqualFold(entry.RoleName, roleFilter) &&
		!strings.EqualFold(entry.RoleHash, roleFilter) {
		return false
	}
	return true
}

func (b *Builder) findContractName(address string) (string, bool) {
	for _, contract := range b.registries.Contracts.Contracts(b.network) {
		if strings.EqualFold(contract.Address, address) {
			return contract.Name, true
		}
	}
	return "", false
}

// checksum 规范化为EIP-55校验和地址
func checksum(address string) string {
	if !common.IsHexAddress(address) {
		return address
	}
	return common.HexToAddress(address).Hex()
}

// shortAddress 截断地址用于批次命名
func shortAddress(address string) string {
	if len(address) < 10 {
		return address
	}
	return fmt.Sprintf("%s...%s", address[:6], address[len(address)-4:])
}
