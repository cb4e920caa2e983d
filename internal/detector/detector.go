package detector

import (
	"fmt"
	"sort"
	"strings"

	"github.com/sirupsen/logrus"

	"roleaudit/internal/config"
	"roleaudit/internal/registry"
	"roleaudit/pkg/models"
)

// Detector 权限异常检测器
// 纯转换：输入状态切片不被修改，返回标注后的新切片与异常列表
type Detector struct {
	network    string
	config     *config.DetectorConfig
	registries *registry.Set
	logger     *logrus.Logger
}

// NewDetector 创建异常检测器
func NewDetector(network string, cfg *config.DetectorConfig, registries *registry.Set, logger *logrus.Logger) *Detector {
	return &Detector{
		network:    network,
		config:     cfg,
		registries: registries,
		logger:     logger,
	}
}

// Detect 对当前权限状态执行异常检测
func (d *Detector) Detect(state []*models.CurrentStateEntry) ([]*models.CurrentStateEntry, []*models.Anomaly) {
	annotated := make([]*models.CurrentStateEntry, 0, len(state))
	var anomalies []*models.Anomaly

	for _, entry := range state {
		clone := *entry

		entryAnomalies := d.classifyEntry(&clone)
		if len(entryAnomalies) > 0 {
			clone.IsAnomaly = true
			descriptions := make([]string, 0, len(entryAnomalies))
			for _, a := range entryAnomalies {
				descriptions = append(descriptions, a.Description)
			}
			clone.AnomalyDescription = strings.Join(descriptions, "; ")
			anomalies = append(anomalies, entryAnomalies...)
		}

		annotated = append(annotated, &clone)
	}

	anomalies = append(anomalies, d.detectExcessiveAdmins(annotated)...)

	d.logger.Infof("异常检测完成，共发现 %d 个异常", len(anomalies))
	return annotated, anomalies
}

// classifyEntry 对单个状态条目分类
// 地址类异常按 deactivated > deprecated > unknown_address 优先级取首个命中；
// unknown_role 独立判定，可与地址类异常叠加
func (d *Detector) classifyEntry(entry *models.CurrentStateEntry) []*models.Anomaly {
	var result []*models.Anomaly

	if a := d.classifyAddress(entry); a != nil {
		result = append(result, a)
	}

	if a := d.classifyRole(entry); a != nil {
		result = append(result, a)
	}

	return result
}

func (d *Detector) classifyAddress(entry *models.CurrentStateEntry) *models.Anomaly {
	known, ok := d.registries.Addresses.Lookup(entry.Address)
	if !ok {
		// 已登记合约地址持有角色不算未知地址
		if d.registries.Contracts.IsKnownContract(d.network, entry.Address) {
			return nil
		}
		severity := models.SeverityMedium
		// 管理类角色落在未登记地址上属于高危
		if d.isAdminRole(entry.RoleName) {
			severity = models.SeverityHigh
		}
		return &models.Anomaly{
			Type:        models.AnomalyUnknownAddress,
			Address:     entry.Address,
			Contract:    entry.ContractName,
			Role:        entry.RoleName,
			Severity:    severity,
			Description: fmt.Sprintf("Unknown address %s holds %s on %s", entry.Address, entry.RoleName, entry.ContractName),
		}
	}

	switch known.Category {
	case registry.CategoryDeactivated:
		return &models.Anomaly{
			Type:        models.AnomalyDeactivated,
			Address:     entry.Address,
			Contract:    entry.ContractName,
			Role:        entry.RoleName,
			Severity:    models.SeverityHigh,
			Description: fmt.Sprintf("Deactivated address %s (%s) still holds %s on %s", entry.Address, known.Label, entry.RoleName, entry.ContractName),
		}
	case registry.CategoryDeprecated:
		return &models.Anomaly{
			Type:        models.AnomalyDeprecated,
			Address:     entry.Address,
			Contract:    entry.ContractName,
			Role:        entry.RoleName,
			Severity:    models.SeverityHigh,
			Description: fmt.Sprintf("Deprecated address %s (%s) still holds %s on %s", entry.Address, known.Label, entry.RoleName, entry.ContractName),
		}
	}

	return nil
}

func (d *Detector) classifyRole(entry *models.CurrentStateEntry) *models.Anomaly {
	// 所有权哨兵不是链上角色哈希，不参与未知角色判定
	if entry.IsOwnership() {
		return nil
	}

	if _, ok := d.registries.Roles.RoleName(entry.RoleHash); ok {
		return nil
	}

	return &models.Anomaly{
		Type:        models.AnomalyUnknownRole,
		Address:     entry.Address,
		Contract:    entry.ContractName,
		Role:        entry.RoleHash,
		Severity:    models.SeverityMedium,
		Description: fmt.Sprintf("Unknown role %s granted on %s", entry.RoleHash, entry.ContractName),
	}
}

// detectExcessiveAdmins 检测管理权限条目过多的合约
// 按管理类角色条目计数（同一地址持有多个管理角色各计一次），每个超限合约只产生一条低危异常
func (d *Detector) detectExcessiveAdmins(state []*models.CurrentStateEntry) []*models.Anomaly {
	tallies := make(map[string]int)
	contractNames := make(map[string]string)

	for _, entry := range state {
		if !d.isAdminRole(entry.RoleName) {
			continue
		}
		key := strings.ToLower(entry.ContractAddress)
		tallies[key]++
		contractNames[key] = entry.ContractName
	}

	contracts := make([]string, 0, len(tallies))
	for contract := range tallies {
		contracts = append(contracts, contract)
	}
	sort.Strings(contracts)

	var anomalies []*models.Anomaly
	for _, contract := range contracts {
		count := tallies[contract]
		if count <= d.config.ExcessiveAdminThreshold {
			continue
		}
		anomalies = append(anomalies, &models.Anomaly{
			Type:        models.AnomalyExcessiveAdmins,
			Contract:    contractNames[contract],
			Severity:    models.SeverityLow,
			Description: fmt.Sprintf("%s has %d admin role assignments (threshold: %d)", contractNames[contract], count, d.config.ExcessiveAdminThreshold),
		})
	}

	return anomalies
}

// isAdminRole 判断角色显示名称是否含管理类关键词
func (d *Detector) isAdminRole(roleName string) bool {
	lower := strings.ToLower(roleName)
	for _, keyword := range d.config.AdminKeywords {
		if strings.Contains(lower, strings.ToLower(keyword)) {
			return true
		}
	}
	return false
}
