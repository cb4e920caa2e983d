package verifier

import (
	"context"
	"fmt"
	"math/big"
	"sort"
	"strings"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/sirupsen/logrus"

	"roleaudit/internal/config"
	"roleaudit/internal/errors"
	"roleaudit/internal/registry"
	"roleaudit/pkg/models"
)

// Multicall3合约ABI（仅aggregate3）
const multicall3ABIJSON = `[{"inputs":[{"components":[{"internalType":"address","name":"target","type":"address"},{"internalType":"bool","name":"allowFailure","type":"bool"},{"internalType":"bytes","name":"callData","type":"bytes"}],"internalType":"struct Multicall3.Call3[]","name":"calls","type":"tuple[]"}],"name":"aggregate3","outputs":[{"components":[{"internalType":"bool","name":"success","type":"bool"},{"internalType":"bytes","name":"returnData","type":"bytes"}],"internalType":"struct Multicall3.Result[]","name":"returnData","type":"tuple[]"}],"stateMutability":"payable","type":"function"}]`

// AccessControl/Ownable只读探测ABI
const probeABIJSON = `[{"inputs":[{"internalType":"bytes32","name":"role","type":"bytes32"},{"internalType":"address","name":"account","type":"address"}],"name":"hasRole","outputs":[{"internalType":"bool","name":"","type":"bool"}],"stateMutability":"view","type":"function"},{"inputs":[],"name":"owner","outputs":[{"internalType":"address","name":"","type":"address"}],"stateMutability":"view","type":"function"}]`

// DefaultBatchSize 单次aggregate3聚合的最大调用数
const DefaultBatchSize = 100

var (
	multicall3ABI = mustParseABI(multicall3ABIJSON)
	probeABI      = mustParseABI(probeABIJSON)
)

func mustParseABI(raw string) abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(raw))
	if err != nil {
		panic(fmt.Sprintf("ABI解析失败: %v", err))
	}
	return parsed
}

// multicallCall aggregate3入参
type multicallCall struct {
	Target       common.Address
	AllowFailure bool
	CallData     []byte
}

// multicallResult aggregate3出参
type multicallResult struct {
	Success    bool
	ReturnData []byte
}

// CallBackend 链上只读调用后端（测试注入用）
type CallBackend interface {
	CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
}

// Verifier 链上权限状态验证器
// 当前状态只来自查询时的链上读取，绝不从事件历史推断
type Verifier struct {
	network    string
	networkCfg *config.NetworkConfig
	registries *registry.Set
	backend    CallBackend
	batchSize  int
	logger     *logrus.Logger
}

// NewVerifier 创建权限状态验证器
func NewVerifier(network string, networkCfg *config.NetworkConfig, registries *registry.Set, logger *logrus.Logger) *Verifier {
	return &Verifier{
		network:    network,
		networkCfg: networkCfg,
		registries: registries,
		batchSize:  DefaultBatchSize,
		logger:     logger,
	}
}

// SetBackend 替换调用后端（测试注入用）
func (v *Verifier) SetBackend(backend CallBackend) {
	v.backend = backend
}

// Connect 按优先级依次尝试连接RPC节点
func (v *Verifier) Connect(ctx context.Context) error {
	if v.backend != nil {
		return nil
	}

	nodes := make([]*config.NodeConfig, len(v.networkCfg.Nodes))
	copy(nodes, v.networkCfg.Nodes)
	sort.Slice(nodes, func(i, j int) bool {
		return nodes[i].Priority < nodes[j].Priority
	})

	var lastErr error
	for _, node := range nodes {
		client, err := ethclient.DialContext(ctx, node.URL)
		if err != nil {
			v.logger.Warnf("节点 %s 连接失败: %v，尝试下一个节点", node.Name, err)
			lastErr = err
			continue
		}
		v.logger.Infof("已连接RPC节点: %s (%s)", node.Name, node.URL)
		v.backend = client
		return nil
	}

	return errors.WrapError(lastErr, errors.ErrorTypeRPC, errors.SeverityCritical,
		"ALL_NODES_UNAVAILABLE", fmt.Sprintf("网络 %s 的全部RPC节点均不可用", v.network)).
		WithNetwork(v.network).
		WithComponent("verifier")
}

// VerifyState 验证候选三元组的链上当前状态并探测合约所有权
// hasRole批量读取整体失败时审计失败；所有权探测失败只告警不中断
func (v *Verifier) VerifyState(ctx context.Context, contracts []registry.ContractInfo, candidates []*models.Candidate) ([]*models.CurrentStateEntry, error) {
	if err := v.Connect(ctx); err != nil {
		return nil, err
	}

	contractNames := make(map[string]string, len(contracts))
	for _, c := range contracts {
		contractNames[strings.ToLower(c.Address)] = c.Name
	}

	v.logger.Infof("开始状态验证，网络: %s，候选数: %d，合约数: %d", v.network, len(candidates), len(contracts))

	state, err := v.verifyRoles(ctx, candidates, contractNames)
	if err != nil {
		return nil, err
	}

	owners, err := v.probeOwnership(ctx, contracts)
	if err != nil {
		// 所有权探测失败降级：角色验证结果依然有效
		ownerErr := errors.WrapError(err, errors.ErrorTypeVerification, errors.SeverityMedium,
			"OWNERSHIP_PROBE_FAILED", "合约所有权探测失败，审计结果不含所有权条目").
			WithNetwork(v.network).
			WithComponent("verifier")
		v.logger.Warnf("%v", ownerErr)
	} else {
		state = append(state, owners...)
	}

	v.logger.Infof("状态验证完成，确认 %d 条当前权限", len(state))
	return state, nil
}

// verifyRoles 批量验证hasRole
func (v *Verifier) verifyRoles(ctx context.Context, candidates []*models.Candidate, contractNames map[string]string) ([]*models.CurrentStateEntry, error) {
	var state []*models.CurrentStateEntry

	for start := 0; start < len(candidates); start += v.batchSize {
		end := start + v.batchSize
		if end > len(candidates) {
			end = len(candidates)
		}
		batch := candidates[start:end]

		calls := make([]multicallCall, 0, len(batch))
		for _, cand := range batch {
			callData, err := probeABI.Pack("hasRole",
				common.HexToHash(cand.RoleHash), common.HexToAddress(cand.Address))
			if err != nil {
				return nil, errors.WrapError(err, errors.ErrorTypeVerification, errors.SeverityCritical,
					"CALLDATA_ENCODE_FAILED", "hasRole调用参数编码失败").WithNetwork(v.network)
			}
			calls = append(calls, multicallCall{
				Target: common.HexToAddress(cand.ContractAddress),
				// 单个合约无hasRole接口时只失败该调用
				AllowFailure: true,
				CallData:     callData,
			})
		}

		results, err := v.aggregate(ctx, calls)
		if err != nil {
			return nil, errors.WrapError(err, errors.ErrorTypeVerification, errors.SeverityCritical,
				errors.ErrVerificationFailed.Code, "hasRole批量读取失败，无法确认当前权限状态").
				WithNetwork(v.network).
				WithComponent("verifier")
		}

		for i, result := range results {
			cand := batch[i]
			if !result.Success {
				v.logger.Debugf("合约 %s 的hasRole调用未成功，按不持有处理", cand.ContractAddress)
				continue
			}

			holds, err := decodeBool(result.ReturnData)
			if err != nil {
				v.logger.Warnf("hasRole返回值解码失败 (合约 %s): %v", cand.ContractAddress, err)
				continue
			}
			if !holds {
				continue
			}

			state = append(state, v.stateEntry(cand, contractNames))
		}
	}

	return state, nil
}

// probeOwnership 批量探测owner()所有权
func (v *Verifier) probeOwnership(ctx context.Context, contracts []registry.ContractInfo) ([]*models.CurrentStateEntry, error) {
	if len(contracts) == 0 {
		return nil, nil
	}

	callData, err := probeABI.Pack("owner")
	if err != nil {
		return nil, fmt.Errorf("owner调用编码失败: %w", err)
	}

	calls := make([]multicallCall, 0, len(contracts))
	for _, contract := range contracts {
		calls = append(calls, multicallCall{
			Target: common.HexToAddress(contract.Address),
			// 非Ownable合约的owner()调用允许失败
			AllowFailure: true,
			CallData:     callData,
		})
	}

	results, err := v.aggregate(ctx, calls)
	if err != nil {
		return nil, err
	}

	var entries []*models.CurrentStateEntry
	for i, result := range results {
		contract := contracts[i]
		if !result.Success {
			continue
		}

		owner, err := decodeAddress(result.ReturnData)
		if err != nil {
			v.logger.Warnf("owner返回值解码失败 (合约 %s): %v", contract.Name, err)
			continue
		}
		// 零地址所有者视为已放弃所有权
		if owner == (common.Address{}) {
			continue
		}

		entries = append(entries, &models.CurrentStateEntry{
			Address:         owner.Hex(),
			AddressLabel:    v.addressLabel(owner.Hex()),
			RoleName:        models.OwnerRoleName,
			RoleHash:        models.OwnerRoleHash,
			ContractName:    contract.Name,
			ContractAddress: contract.Address,
		})
	}

	return entries, nil
}

// aggregate 执行单次aggregate3聚合调用
func (v *Verifier) aggregate(ctx context.Context, calls []multicallCall) ([]multicallResult, error) {
	input, err := multicall3ABI.Pack("aggregate3", calls)
	if err != nil {
		return nil, fmt.Errorf("aggregate3参数编码失败: %w", err)
	}

	multicallAddr := common.HexToAddress(v.networkCfg.MulticallAddress)
	output, err := v.backend.CallContract(ctx, ethereum.CallMsg{
		To:   &multicallAddr,
		Data: input,
	}, nil)
	if err != nil {
		return nil, fmt.Errorf("aggregate3调用失败: %w", err)
	}

	unpacked, err := multicall3ABI.Unpack("aggregate3", output)
	if err != nil {
		return nil, fmt.Errorf("aggregate3返回值解码失败: %w", err)
	}
	if len(unpacked) != 1 {
		return nil, fmt.Errorf("aggregate3返回值数量异常: %d", len(unpacked))
	}

	results := *abi.ConvertType(unpacked[0], new([]multicallResult)).(*[]multicallResult)
	if len(results) != len(calls) {
		return nil, fmt.Errorf("aggregate3结果数量不匹配: 期望 %d 实际 %d", len(calls), len(results))
	}

	return results, nil
}

// stateEntry 组装带显示信息的状态条目
func (v *Verifier) stateEntry(cand *models.Candidate, contractNames map[string]string) *models.CurrentStateEntry {
	address := common.HexToAddress(cand.Address).Hex()

	roleName := cand.RoleHash
	if name, ok := v.registries.Roles.RoleName(cand.RoleHash); ok {
		roleName = name
	}

	contractName := contractNames[strings.ToLower(cand.ContractAddress)]
	if contractName == "" {
		contractName = cand.ContractAddress
	}

	return &models.CurrentStateEntry{
		Address:         address,
		AddressLabel:    v.addressLabel(address),
		RoleName:        roleName,
		RoleHash:        cand.RoleHash,
		ContractName:    contractName,
		ContractAddress: cand.ContractAddress,
	}
}

// addressLabel 查找地址标签
func (v *Verifier) addressLabel(address string) string {
	if entry, ok := v.registries.Addresses.Lookup(address); ok {
		return entry.Label
	}
	return "Unknown"
}

// decodeBool 解码bool返回值
func decodeBool(data []byte) (bool, error) {
	values, err := probeABI.Unpack("hasRole", data)
	if err != nil {
		return false, err
	}
	if len(values) != 1 {
		return false, fmt.Errorf("返回值数量异常: %d", len(values))
	}
	result, ok := values[0].(bool)
	if !ok {
		return false, fmt.Errorf("返回值类型异常: %T", values[0])
	}
	return result, nil
}

// decodeAddress 解码address返回值
func decodeAddress(data []byte) (common.Address, error) {
	values, err := probeABI.Unpack("owner", data)
	if err != nil {
		return common.Address{}, err
	}
	if len(values) != 1 {
		return common.Address{}, fmt.Errorf("返回值数量异常: %d", len(values))
	}
	result, ok := values[0].(common.Address)
	if !ok {
		return common.Address{}, fmt.Errorf("返回值类型异常: %T", values[0])
	}
	return result, nil
}
