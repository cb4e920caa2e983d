package validation

import (
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"roleaudit/pkg/models"
)

const (
	validAddress = "0x1111111111111111111111111111111111111111"
	validRole    = "0x0000000000000000000000000000000000000000000000000000000000000000"
)

func newTestValidator() *Validator {
	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)
	return NewValidator(logger)
}

func TestIsValidAddress(t *testing.T) {
	assert.True(t, IsValidAddress(validAddress))
	assert.True(t, IsValidAddress("0xC0ffee254729296a45a3885639AC7E10F9d54979"))

	assert.False(t, IsValidAddress(""))
	assert.False(t, IsValidAddress("1111111111111111111111111111111111111111"))
	assert.False(t, IsValidAddress("0x111"))
	assert.False(t, IsValidAddress("0xzzzz111111111111111111111111111111111111"))
}

func TestIsValidRoleHash(t *testing.T) {
	assert.True(t, IsValidRoleHash(validRole))
	assert.True(t, IsValidRoleHash("0x339759585899103d2ace64958e37e18ccb0504652c81d4a1b8aa80fe2126ab95"))
	// 所有权哨兵是合法的角色标识
	assert.True(t, IsValidRoleHash(models.OwnerRoleHash))

	assert.False(t, IsValidRoleHash(""))
	assert.False(t, IsValidRoleHash("0x1234"))
	assert.False(t, IsValidRoleHash(validAddress))
}

func TestValidateRotationValid(t *testing.T) {
	v := newTestValidator()

	result := v.ValidateRotation(validAddress, "0x2222222222222222222222222222222222222222")
	assert.True(t, result.Valid)
	assert.Empty(t, result.Errors)
}

func TestValidateRotationAccumulatesErrors(t *testing.T) {
	v := newTestValidator()

	// 两个入参都非法时累积全部错误而非首错即停
	result := v.ValidateRotation("bad", "")
	require.False(t, result.Valid)
	require.Len(t, result.Errors, 2)
	assert.Equal(t, CodeInvalidAddress, result.Errors[0].Code)
	assert.Equal(t, "old_address", result.Errors[0].Field)
	assert.Equal(t, CodeMissingField, result.Errors[1].Code)
	assert.Equal(t, "new_address", result.Errors[1].Field)
}

func TestValidateRotationSameAddress(t *testing.T) {
	v := newTestValidator()

	result := v.ValidateRotation(validAddress, validAddress)
	require.False(t, result.Valid)
	assert.Equal(t, CodeSameAddress, result.Errors[0].Code)
}

func TestValidateBatch(t *testing.T) {
	v := newTestValidator()

	batch := &models.Batch{
		ID:      "batch-1",
		Name:    "Revoke deployer",
		Network: "moksha",
		Operations: []*models.BatchOperation{
			{
				ID:              "op-1",
				Type:            models.OperationRevoke,
				ContractAddress: validAddress,
				MethodName:      "revokeRole",
				Role:            validRole,
				Account:         "0x2222222222222222222222222222222222222222",
			},
		},
	}

	result := v.ValidateBatch(batch)
	assert.True(t, result.Valid)
}

func TestValidateBatchEmptyOperations(t *testing.T) {
	v := newTestValidator()

	result := v.ValidateBatch(&models.Batch{ID: "batch-1", Name: "Empty", Network: "moksha"})
	require.False(t, result.Valid)
	assert.Equal(t, CodeEmptyBatch, result.Errors[0].Code)
}

func TestValidateBatchCollectsOperationErrors(t *testing.T) {
	v := newTestValidator()

	batch := &models.Batch{
		ID:      "batch-1",
		Name:    "Broken",
		Network: "moksha",
		Operations: []*models.BatchOperation{
			{ID: "op-1", Type: "transfer", ContractAddress: "bad", Role: "0x12", Account: validAddress},
			{ID: "op-2", Type: models.OperationGrant, ContractAddress: validAddress, MethodName: "grantRole", Role: validRole, Account: ""},
		},
	}

	result := v.ValidateBatch(batch)
	require.False(t, result.Valid)

	codes := make(map[string]bool)
	for _, e := range result.Errors {
		codes[e.Code] = true
	}
	assert.True(t, codes[CodeUnknownOperation])
	assert.True(t, codes[CodeInvalidAddress])
	assert.True(t, codes[CodeInvalidRoleHash])
	assert.True(t, codes[CodeMissingField])
}
