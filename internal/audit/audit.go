package audit

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"roleaudit/internal/collector"
	"roleaudit/internal/config"
	"roleaudit/internal/detector"
	"roleaudit/internal/errors"
	"roleaudit/internal/registry"
	"roleaudit/internal/verifier"
	"roleaudit/pkg/models"
)

// ExtractRoleCandidates 从事件历史提取待验证候选三元组
// 只考虑授权事件：撤销交由链上hasRole读取裁决，历史不用于推断当前状态
func ExtractRoleCandidates(history []*models.HistoryEntry) []*models.Candidate {
	seen := make(map[string]struct{})
	var candidates []*models.Candidate

	for _, entry := range history {
		if entry.Action != models.ActionGranted {
			continue
		}

		candidate := &models.Candidate{
			Address:         entry.Address,
			RoleHash:        entry.RoleHash,
			ContractAddress: entry.ContractAddress,
		}

		key := candidate.Key()
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		candidates = append(candidates, candidate)
	}

	return candidates
}

// EventSource 事件历史来源
type EventSource interface {
	FetchRoleEvents(ctx context.Context, contracts []registry.ContractInfo) ([]*models.HistoryEntry, error)
}

// StateSource 链上状态来源
type StateSource interface {
	VerifyState(ctx context.Context, contracts []registry.ContractInfo, candidates []*models.Candidate) ([]*models.CurrentStateEntry, error)
}

// AnomalySource 异常检测来源
type AnomalySource interface {
	Detect(state []*models.CurrentStateEntry) ([]*models.CurrentStateEntry, []*models.Anomaly)
}

// Orchestrator 审计编排器
// 采集、提取、验证、检测四个阶段顺序执行，产出不可变审计快照
type Orchestrator struct {
	network    string
	registries *registry.Set
	collector  EventSource
	verifier   StateSource
	detector   AnomalySource
	logger     *logrus.Logger
}

// NewOrchestrator 创建审计编排器并装配各阶段组件
func NewOrchestrator(network string, cfg *config.Config, logger *logrus.Logger) (*Orchestrator, error) {
	networkCfg, err := cfg.Network(network)
	if err != nil {
		return nil, err
	}

	registries := cfg.RegistrySet()

	return &Orchestrator{
		network:    network,
		registries: registries,
		collector:  collector.NewCollector(network, networkCfg, registries, logger),
		verifier:   verifier.NewVerifier(network, networkCfg, registries, logger),
		detector:   detector.NewDetector(network, cfg.Detector, registries, logger),
		logger:     logger,
	}, nil
}

// RunAudit 执行一次完整审计
// contractNames为空时审计网络下全部已登记合约
func (o *Orchestrator) RunAudit(ctx context.Context, contractNames []string) (*models.AuditResults, error) {
	contracts, err := o.resolveContracts(contractNames)
	if err != nil {
		return nil, err
	}

	names := make([]string, 0, len(contracts))
	for _, c := range contracts {
		names = append(names, c.Name)
	}

	o.logger.Infof("📊 开始审计，网络: %s，合约: %v", o.network, names)
	startedAt := time.Now()

	history, err := o.collector.FetchRoleEvents(ctx, contracts)
	if err != nil {
		return nil, err
	}

	candidates := ExtractRoleCandidates(history)
	o.logger.Infof("从 %d 条历史记录提取出 %d 个候选", len(history), len(candidates))

	state, err := o.verifier.VerifyState(ctx, contracts, candidates)
	if err != nil {
		return nil, err
	}

	annotated, anomalies := o.detector.Detect(state)

	results := &models.AuditResults{
		Network:      o.network,
		Contracts:    names,
		CurrentState: annotated,
		History:      history,
		Anomalies:    anomalies,
		Stats:        models.ComputeAuditStats(annotated, history, anomalies),
		Timestamp:    time.Now().UTC(),
	}

	o.logger.Infof("审计完成，耗时 %v：%d 条当前权限，%d 条历史，%d 个异常",
		time.Since(startedAt).Round(time.Millisecond),
		results.Stats.ActivePermissions, results.Stats.HistoricalEvents, results.Stats.AnomaliesCount)

	return results, nil
}

// resolveContracts 解析审计目标合约，任何网络调用之前完成
func (o *Orchestrator) resolveContracts(contractNames []string) ([]registry.ContractInfo, error) {
	if len(contractNames) == 0 {
		contracts := o.registries.Contracts.Contracts(o.network)
		if len(contracts) == 0 {
			return nil, errors.ErrNoContractsSelected
		}
		return contracts, nil
	}

	contracts := make([]registry.ContractInfo, 0, len(contractNames))
	for _, name := range contractNames {
		contract, ok := o.registries.Contracts.FindByName(o.network, name)
		if !ok {
			return nil, errors.NewAuditError(errors.ErrorTypeValidation, errors.SeverityHigh,
				"CONTRACT_NOT_FOUND", fmt.Sprintf("合约 %s 未在网络 %s 登记", name, o.network)).
				WithNetwork(o.network)
		}
		contracts = append(contracts, contract)
	}

	if len(contracts) == 0 {
		return nil, errors.ErrNoContractsSelected
	}

	return contracts, nil
}
