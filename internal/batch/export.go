package batch

import (
	"fmt"
	"regexp"
	"time"

	"roleaudit/internal/errors"
	"roleaudit/pkg/models"
)

// 导出文档常量
const (
	ExportVersion    = "1.0"
	TxBuilderVersion = "1.16.5"
)

var bytes32Pattern = regexp.MustCompile(`^0x[0-9a-fA-F]{64}$`)

// roleMethodInputs grantRole/revokeRole共用的参数描述符
func roleMethodInputs() []models.ExportMethodInput {
	return []models.ExportMethodInput{
		{Name: "role", Type: "bytes32", InternalType: "bytes32"},
		{Name: "account", Type: "address", InternalType: "address"},
	}
}

// ExportBatch 将批次转换为多签导入文档
// 每个操作恰好对应一笔交易，顺序保持一致；data恒为null，
// 导入方工具根据方法描述符重新编码调用数据
func ExportBatch(batch *models.Batch, chainID string) (*models.ExportDocument, error) {
	transactions := make([]*models.ExportTransaction, 0, len(batch.Operations))

	for i, op := range batch.Operations {
		if !bytes32Pattern.MatchString(op.Role) {
			return nil, errors.NewAuditError(errors.ErrorTypeExport, errors.SeverityHigh,
				errors.ErrExportFailed.Code,
				fmt.Sprintf("操作 %d 的角色 %s 不是bytes32哈希，无法导出", i, op.Role))
		}

		transactions = append(transactions, &models.ExportTransaction{
			To:    op.ContractAddress,
			Value: "0",
			Data:  nil,
			ContractMethod: &models.ExportContractMethod{
				Name:    op.MethodName,
				Inputs:  roleMethodInputs(),
				Payable: false,
			},
			ContractInputsValues: map[string]string{
				"role":    op.Role,
				"account": op.Account,
			},
		})
	}

	return &models.ExportDocument{
		Version:   ExportVersion,
		ChainID:   chainID,
		CreatedAt: time.Now().UnixMilli(),
		Meta: &models.ExportMeta{
			Name:             batch.Name,
			Description:      batch.Description,
			TxBuilderVersion: TxBuilderVersion,
		},
		Transactions: transactions,
	}, nil
}
