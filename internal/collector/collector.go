package collector

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/sirupsen/logrus"

	"roleaudit/internal/config"
	"roleaudit/internal/errors"
	"roleaudit/internal/registry"
	"roleaudit/internal/retry"
	"roleaudit/pkg/models"
)

// 角色事件topic0
var (
	RoleGrantedTopic = crypto.Keccak256Hash([]byte("RoleGranted(bytes32,address,address)"))
	RoleRevokedTopic = crypto.Keccak256Hash([]byte("RoleRevoked(bytes32,address,address)"))
)

// 采集器常量
const (
	DefaultHTTPTimeout = 30 * time.Second

	// RoleGranted/RoleRevoked事件固定4个topic：
	// topic0事件签名，topic1角色哈希，topic2账户，topic3发起者
	expectedTopicCount = 4
)

// explorerLog 日志查询接口返回的原始记录
type explorerLog struct {
	Address         string   `json:"address"`
	Topics          []string `json:"topics"`
	Data            string   `json:"data"`
	BlockNumber     string   `json:"blockNumber"`
	TimeStamp       string   `json:"timeStamp"`
	LogIndex        string   `json:"logIndex"`
	TransactionHash string   `json:"transactionHash"`
}

// explorerResponse 日志查询接口响应
type explorerResponse struct {
	Status  string          `json:"status"`
	Message string          `json:"message"`
	Result  json.RawMessage `json:"result"`
}

// fetchResult 单个(合约,事件)分支的采集结果
type fetchResult struct {
	contract registry.ContractInfo
	action   models.RoleEventAction
	entries  []*models.HistoryEntry
	err      error
}

// Collector 角色事件采集器
type Collector struct {
	network    string
	networkCfg *config.NetworkConfig
	registries *registry.Set
	httpClient *http.Client
	retrier    *retry.Retrier
	logger     *logrus.Logger
}

// NewCollector 创建角色事件采集器
func NewCollector(network string, networkCfg *config.NetworkConfig, registries *registry.Set, logger *logrus.Logger) *Collector {
	return &Collector{
		network:    network,
		networkCfg: networkCfg,
		registries: registries,
		httpClient: &http.Client{Timeout: DefaultHTTPTimeout},
		retrier:    retry.NewRetrier(retry.NetworkRetryConfig, logger),
		logger:     logger,
	}
}

// SetHTTPClient 替换HTTP客户端（测试注入用）
func (c *Collector) SetHTTPClient(client *http.Client) {
	c.httpClient = client
}

// FetchRoleEvents 拉取全部合约的授权/撤销历史记录
// 每个(合约,事件类型)组合独立并发查询，单个分支失败只降级该分支，
// 绝不中断整次审计；结果按区块号降序合并返回
func (c *Collector) FetchRoleEvents(ctx context.Context, contracts []registry.ContractInfo) ([]*models.HistoryEntry, error) {
	type pair struct {
		contract registry.ContractInfo
		action   models.RoleEventAction
		topic0   string
	}

	pairs := make([]pair, 0, len(contracts)*2)
	for _, contract := range contracts {
		pairs = append(pairs,
			pair{contract: contract, action: models.ActionGranted, topic0: RoleGrantedTopic.Hex()},
			pair{contract: contract, action: models.ActionRevoked, topic0: RoleRevokedTopic.Hex()},
		)
	}

	c.logger.Infof("开始采集角色事件，网络: %s，合约数: %d，查询分支数: %d", c.network, len(contracts), len(pairs))

	resultChan := make(chan *fetchResult, len(pairs))

	var wg sync.WaitGroup
	for _, p := range pairs {
		wg.Add(1)
		go func(p pair) {
			defer wg.Done()

			entries, err := c.fetchEventPair(ctx, p.contract, p.action, p.topic0)
			resultChan <- &fetchResult{
				contract: p.contract,
				action:   p.action,
				entries:  entries,
				err:      err,
			}
		}(p)
	}

	go func() {
		wg.Wait()
		close(resultChan)
	}()

	var history []*models.HistoryEntry
	for result := range resultChan {
		if result.err != nil {
			// 单分支失败降级为空结果
			fetchErr := errors.WrapError(result.err, errors.ErrorTypeCollector, errors.SeverityMedium,
				"EVENT_FETCH_FAILED", fmt.Sprintf("合约 %s 的 %s 事件拉取失败", result.contract.Name, result.action)).
				WithNetwork(c.network).
				WithContract(result.contract.Address).
				WithComponent("collector")
			c.logger.Warnf("%v", fetchErr)
			continue
		}
		history = append(history, result.entries...)
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	// 按区块号降序排列，区块内不做二次排序
	sort.Slice(history, func(i, j int) bool {
		return history[i].BlockNumber > history[j].BlockNumber
	})

	stats := models.ComputeHistoryStats(history)
	c.logger.Infof("角色事件采集完成，共 %d 条历史记录（授权 %d，撤销 %d）",
		stats.TotalEvents, stats.GrantedEvents, stats.RevokedEvents)
	return history, nil
}

// fetchEventPair 拉取单个(合约,事件类型)分支的日志
func (c *Collector) fetchEventPair(ctx context.Context, contract registry.ContractInfo, action models.RoleEventAction, topic0 string) ([]*models.HistoryEntry, error) {
	var rawLogs []explorerLog

	err := c.retrier.Execute(ctx, fmt.Sprintf("拉取 %s/%s 事件", contract.Name, action), func() error {
		logs, err := c.queryLogs(ctx, contract.Address, topic0)
		if err != nil {
			return err
		}
		rawLogs = logs
		return nil
	})
	if err != nil {
		return nil, err
	}

	entries := make([]*models.HistoryEntry, 0, len(rawLogs))
	for i := range rawLogs {
		entry, err := c.parseLog(&rawLogs[i], contract, action)
		if err != nil {
			// 单条记录畸形只跳过该记录
			c.logger.Warnf("跳过畸形日志记录 (合约 %s, tx %s): %v", contract.Name, rawLogs[i].TransactionHash, err)
			continue
		}
		entries = append(entries, entry)
	}

	return entries, nil
}

// queryLogs 调用日志查询接口
func (c *Collector) queryLogs(ctx context.Context, contractAddress, topic0 string) ([]explorerLog, error) {
	params := url.Values{}
	params.Set("module", "logs")
	params.Set("action", "getLogs")
	params.Set("address", contractAddress)
	params.Set("topic0", topic0)
	params.Set("fromBlock", "0")
	params.Set("toBlock", "latest")

	requestURL := fmt.Sprintf("%s?%s", c.networkCfg.ExplorerAPIURL, params.Encode())

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, requestURL, nil)
	if err != nil {
		return nil, fmt.Errorf("构造请求失败: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("日志查询请求失败: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("日志查询返回HTTP %d", resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("读取响应失败: %w", err)
	}

	var response explorerResponse
	if err := json.Unmarshal(body, &response); err != nil {
		return nil, fmt.Errorf("解析响应失败: %w", err)
	}

	// status为"0"但语义上表示无匹配日志时按空结果成功处理
	if response.Status != "1" {
		if isNoRecordsMessage(response.Message) {
			return nil, nil
		}
		return nil, fmt.Errorf("日志查询服务返回错误: %s", response.Message)
	}

	var logs []explorerLog
	if err := json.Unmarshal(response.Result, &logs); err != nil {
		return nil, fmt.Errorf("解析日志记录失败: %w", err)
	}

	return logs, nil
}

// isNoRecordsMessage 判断错误消息是否表示无匹配日志
func isNoRecordsMessage(message string) bool {
	lower := strings.ToLower(message)
	return strings.Contains(lower, "no records found") ||
		strings.Contains(lower, "no logs found")
}

// parseLog 将原始日志记录转换为历史条目
func (c *Collector) parseLog(raw *explorerLog, contract registry.ContractInfo, action models.RoleEventAction) (*models.HistoryEntry, error) {
	if len(raw.Topics) < expectedTopicCount {
		return nil, fmt.Errorf("topic数量不足: 期望 %d 实际 %d", expectedTopicCount, len(raw.Topics))
	}

	roleHash := raw.Topics[1]
	// 32字节左补零的topic取低20字节作为地址
	account := common.HexToAddress(raw.Topics[2]).Hex()
	sender := common.HexToAddress(raw.Topics[3]).Hex()

	blockNumber, err := parseHexUint(raw.BlockNumber)
	if err != nil {
		return nil, fmt.Errorf("区块号解析失败: %w", err)
	}

	timestamp, err := parseHexUint(raw.TimeStamp)
	if err != nil {
		return nil, fmt.Errorf("时间戳解析失败: %w", err)
	}

	logIndex, err := parseHexUint(raw.LogIndex)
	if err != nil {
		return nil, fmt.Errorf("日志序号解析失败: %w", err)
	}

	return &models.HistoryEntry{
		Action:          action,
		RoleHash:        roleHash,
		RoleName:        c.roleName(roleHash),
		Address:         account,
		AddressLabel:    c.addressLabel(account),
		Sender:          sender,
		SenderLabel:     c.addressLabel(sender),
		ContractName:    contract.Name,
		ContractAddress: contract.Address,
		BlockNumber:     blockNumber,
		Timestamp:       time.Unix(int64(timestamp), 0).UTC(),
		TransactionHash: raw.TransactionHash,
		LogIndex:        logIndex,
	}, nil
}

// roleName 查找角色显示名称，未登记时回退为哈希本身
func (c *Collector) roleName(roleHash string) string {
	if name, ok := c.registries.Roles.RoleName(roleHash); ok {
		return name
	}
	return roleHash
}

// addressLabel 查找地址标签
func (c *Collector) addressLabel(address string) string {
	if entry, ok := c.registries.Addresses.Lookup(address); ok {
		return entry.Label
	}
	return "Unknown"
}

// parseHexUint 解析十六进制编码的数值（兼容0x前缀与十进制回退）
func parseHexUint(value string) (uint64, error) {
	if value == "" {
		return 0, fmt.Errorf("空值")
	}

	if strings.HasPrefix(value, "0x") || strings.HasPrefix(value, "0X") {
		return strconv.ParseUint(value[2:], 16, 64)
	}

	return strconv.ParseUint(value, 10, 64)
}
