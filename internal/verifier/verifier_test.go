package verifier

import (
	"context"
	"fmt"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"roleaudit/internal/config"
	"roleaudit/internal/registry"
	"roleaudit/pkg/models"
)

const (
	testAdminRole = "0x0000000000000000000000000000000000000000000000000000000000000000"
	testContract  = "0xC0ffee254729296a45a3885639AC7E10F9d54979"
	testHolder    = "0x1111111111111111111111111111111111111111"
	testRevoked   = "0x2222222222222222222222222222222222222222"
	testOwner     = "0x3333333333333333333333333333333333333333"
)

// fakeBackend 解码aggregate3入参并按回调返回结果
type fakeBackend struct {
	t         *testing.T
	callCount int
	handler   func(callIndex int, calls []multicallCall) ([]multicallResult, error)
}

func (b *fakeBackend) CallContract(_ context.Context, msg ethereum.CallMsg, _ *big.Int) ([]byte, error) {
	b.callCount++

	method := multicall3ABI.Methods["aggregate3"]
	args, err := method.Inputs.Unpack(msg.Data[4:])
	require.NoError(b.t, err)
	calls := *abi.ConvertType(args[0], new([]multicallCall)).(*[]multicallCall)

	results, err := b.handler(b.callCount, calls)
	if err != nil {
		return nil, err
	}

	return method.Outputs.Pack(results)
}

func packBool(t *testing.T, value bool) []byte {
	data, err := probeABI.Methods["hasRole"].Outputs.Pack(value)
	require.NoError(t, err)
	return data
}

func packAddress(t *testing.T, addr string) []byte {
	data, err := probeABI.Methods["owner"].Outputs.Pack(common.HexToAddress(addr))
	require.NoError(t, err)
	return data
}

func newTestVerifier(backend CallBackend) *Verifier {
	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)

	registries := &registry.Set{
		Addresses: registry.NewStaticAddressBook(map[string]registry.KnownAddress{
			testHolder: {Label: "Ops Multisig"},
		}),
		Roles: registry.NewStaticRoleBook(map[string]string{
			testAdminRole: "DEFAULT_ADMIN_ROLE",
		}),
		Contracts: registry.NewStaticContractBook(nil),
	}

	v := NewVerifier("moksha", &config.NetworkConfig{
		ChainID:          "14800",
		MulticallAddress: "0xcA11bde05977b3631167028862bE2a173976CA11",
	}, registries, logger)
	v.SetBackend(backend)
	return v
}

func TestVerifyStateKeepsOnlyConfirmedHolders(t *testing.T) {
	backend := &fakeBackend{handler: func(callIndex int, calls []multicallCall) ([]multicallResult, error) {
		if callIndex == 1 {
			require.Len(t, calls, 2)
			return []multicallResult{
				{Success: true, ReturnData: packBool(t, true)},
				{Success: true, ReturnData: packBool(t, false)},
			}, nil
		}
		// 所有权探测
		return []multicallResult{
			{Success: true, ReturnData: packAddress(t, testOwner)},
		}, nil
	}}
	backend.t = t

	v := newTestVerifier(backend)
	contracts := []registry.ContractInfo{{Name: "DataRegistry", Address: testContract}}
	candidates := []*models.Candidate{
		{Address: testHolder, RoleHash: testAdminRole, ContractAddress: testContract},
		{Address: testRevoked, RoleHash: testAdminRole, ContractAddress: testContract},
	}

	state, err := v.VerifyState(context.Background(), contracts, candidates)
	require.NoError(t, err)
	require.Len(t, state, 2)

	// 已撤销的候选不出现在当前状态中
	assert.Equal(t, testHolder, state[0].Address)
	assert.Equal(t, "Ops Multisig", state[0].AddressLabel)
	assert.Equal(t, "DEFAULT_ADMIN_ROLE", state[0].RoleName)
	assert.Equal(t, "DataRegistry", state[0].ContractName)
	assert.False(t, state[0].IsOwnership())

	// 所有权哨兵条目
	assert.Equal(t, testOwner, state[1].Address)
	assert.Equal(t, models.OwnerRoleHash, state[1].RoleHash)
	assert.Equal(t, models.OwnerRoleName, state[1].RoleName)
	assert.True(t, state[1].IsOwnership())
}

func TestVerifyStateFailedIndividualCallMeansNotHolding(t *testing.T) {
	backend := &fakeBackend{handler: func(callIndex int, calls []multicallCall) ([]multicallResult, error) {
		if callIndex == 1 {
			// 目标合约无hasRole接口，单个调用revert
			return []multicallResult{{Success: false}}, nil
		}
		return []multicallResult{{Success: false}}, nil
	}}
	backend.t = t

	v := newTestVerifier(backend)
	contracts := []registry.ContractInfo{{Name: "LegacyVault", Address: testContract}}
	candidates := []*models.Candidate{
		{Address: testHolder, RoleHash: testAdminRole, ContractAddress: testContract},
	}

	state, err := v.VerifyState(context.Background(), contracts, candidates)
	require.NoError(t, err)
	assert.Empty(t, state)
}

func TestVerifyStateRoleBatchFailureIsFatal(t *testing.T) {
	backend := &fakeBackend{handler: func(callIndex int, calls []multicallCall) ([]multicallResult, error) {
		return nil, fmt.Errorf("connection refused")
	}}
	backend.t = t

	v := newTestVerifier(backend)
	contracts := []registry.ContractInfo{{Name: "DataRegistry", Address: testContract}}
	candidates := []*models.Candidate{
		{Address: testHolder, RoleHash: testAdminRole, ContractAddress: testContract},
	}

	_, err := v.VerifyState(context.Background(), contracts, candidates)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "VERIFICATION_FAILED")
}

func TestVerifyStateOwnershipProbeFailureIsSwallowed(t *testing.T) {
	backend := &fakeBackend{handler: func(callIndex int, calls []multicallCall) ([]multicallResult, error) {
		if callIndex == 1 {
			return []multicallResult{{Success: true, ReturnData: packBool(t, true)}}, nil
		}
		return nil, fmt.Errorf("connection refused")
	}}
	backend.t = t

	v := newTestVerifier(backend)
	contracts := []registry.ContractInfo{{Name: "DataRegistry", Address: testContract}}
	candidates := []*models.Candidate{
		{Address: testHolder, RoleHash: testAdminRole, ContractAddress: testContract},
	}

	state, err := v.VerifyState(context.Background(), contracts, candidates)
	require.NoError(t, err)
	require.Len(t, state, 1)
	assert.False(t, state[0].IsOwnership())
}

func TestVerifyStateSkipsRenouncedOwnership(t *testing.T) {
	backend := &fakeBackend{handler: func(callIndex int, calls []multicallCall) ([]multicallResult, error) {
		return []multicallResult{
			{Success: true, ReturnData: packAddress(t, "0x0000000000000000000000000000000000000000")},
		}, nil
	}}
	backend.t = t

	v := newTestVerifier(backend)
	contracts := []registry.ContractInfo{{Name: "DataRegistry", Address: testContract}}

	state, err := v.VerifyState(context.Background(), contracts, nil)
	require.NoError(t, err)
	assert.Empty(t, state)
}

func TestVerifyStateChunksLargeCandidateSets(t *testing.T) {
	var roleCalls int
	backend := &fakeBackend{handler: func(callIndex int, calls []multicallCall) ([]multicallResult, error) {
		results := make([]multicallResult, len(calls))
		for i := range results {
			results[i] = multicallResult{Success: true, ReturnData: packBool(t, false)}
		}
		if len(calls) > 0 && callIndex <= 3 {
			roleCalls++
		}
		return results, nil
	}}
	backend.t = t

	v := newTestVerifier(backend)
	v.batchSize = 2

	candidates := make([]*models.Candidate, 5)
	for i := range candidates {
		candidates[i] = &models.Candidate{
			Address:         fmt.Sprintf("0x%040d", i+1),
			RoleHash:        testAdminRole,
			ContractAddress: testContract,
		}
	}

	_, err := v.VerifyState(context.Background(), nil, candidates)
	require.NoError(t, err)
	// 5个候选按批次大小2拆成3次聚合调用
	assert.Equal(t, 3, roleCalls)
}
