package detector

import (
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"roleaudit/internal/config"
	"roleaudit/internal/registry"
	"roleaudit/pkg/models"
)

const (
	adminRoleHash      = "0x0000000000000000000000000000000000000000000000000000000000000000"
	maintainerRoleHash = "0x339759585899103d2ace64958e37e18ccb0504652c81d4a1b8aa80fe2126ab95"
	strangeRoleHash    = "0xdeaddeaddeaddeaddeaddeaddeaddeaddeaddeaddeaddeaddeaddeaddeaddead"

	deactivatedAddr = "0x1111111111111111111111111111111111111111"
	deprecatedAddr  = "0x2222222222222222222222222222222222222222"
	trustedAddr     = "0x3333333333333333333333333333333333333333"
	strangerAddr    = "0x4444444444444444444444444444444444444444"
)

func newTestDetector() *Detector {
	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)

	registries := &registry.Set{
		Addresses: registry.NewStaticAddressBook(map[string]registry.KnownAddress{
			deactivatedAddr: {Label: "Former Deployer", Category: registry.CategoryDeactivated},
			deprecatedAddr:  {Label: "Old Multisig", Category: registry.CategoryDeprecated},
			trustedAddr:     {Label: "Ops Multisig"},
		}),
		Roles: registry.NewStaticRoleBook(map[string]string{
			adminRoleHash:      "DEFAULT_ADMIN_ROLE",
			maintainerRoleHash: "MAINTAINER_ROLE",
		}),
		Contracts: registry.NewStaticContractBook(map[string][]registry.ContractInfo{
			"moksha": {{Name: "DataRegistry", Address: "0xaaaa000000000000000000000000000000000002"}},
		}),
	}

	cfg := &config.DetectorConfig{
		AdminKeywords:           []string{"admin", "owner", "manager"},
		ExcessiveAdminThreshold: 3,
	}
	return NewDetector("moksha", cfg, registries, logger)
}

func TestDetectDeactivatedAddressIsHighSeverity(t *testing.T) {
	d := newTestDetector()

	state := []*models.CurrentStateEntry{
		{Address: deactivatedAddr, RoleName: "MAINTAINER_ROLE", RoleHash: maintainerRoleHash,
			ContractName: "TeePool", ContractAddress: "0xaaaa000000000000000000000000000000000001"},
	}

	annotated, anomalies := d.Detect(state)
	require.Len(t, anomalies, 1)
	assert.Equal(t, models.AnomalyDeactivated, anomalies[0].Type)
	assert.Equal(t, models.SeverityHigh, anomalies[0].Severity)
	assert.True(t, annotated[0].IsAnomaly)
	assert.Contains(t, annotated[0].AnomalyDescription, "Deactivated")
	// 输入切片保持原样
	assert.False(t, state[0].IsAnomaly)
}

func TestDetectDeprecatedTakesPrecedenceOverUnknownRole(t *testing.T) {
	d := newTestDetector()

	state := []*models.CurrentStateEntry{
		{Address: deprecatedAddr, RoleName: strangeRoleHash, RoleHash: strangeRoleHash,
			ContractName: "DataRegistry", ContractAddress: "0xaaaa000000000000000000000000000000000002"},
	}

	annotated, anomalies := d.Detect(state)
	// 地址类异常与未知角色异常叠加
	require.Len(t, anomalies, 2)
	assert.Equal(t, models.AnomalyDeprecated, anomalies[0].Type)
	assert.Equal(t, models.AnomalyUnknownRole, anomalies[1].Type)
	assert.Equal(t, models.SeverityMedium, anomalies[1].Severity)
	assert.Contains(t, annotated[0].AnomalyDescription, "; ")
}

func TestDetectUnknownAddressSeverityDependsOnRole(t *testing.T) {
	d := newTestDetector()

	state := []*models.CurrentStateEntry{
		{Address: strangerAddr, RoleName: "DEFAULT_ADMIN_ROLE", RoleHash: adminRoleHash,
			ContractName: "DataRegistry", ContractAddress: "0xaaaa000000000000000000000000000000000002"},
		{Address: strangerAddr, RoleName: "MAINTAINER_ROLE", RoleHash: maintainerRoleHash,
			ContractName: "DataRegistry", ContractAddress: "0xaaaa000000000000000000000000000000000002"},
	}

	_, anomalies := d.Detect(state)
	require.Len(t, anomalies, 2)

	// 管理类角色高危，其余中危
	assert.Equal(t, models.AnomalyUnknownAddress, anomalies[0].Type)
	assert.Equal(t, models.SeverityHigh, anomalies[0].Severity)
	assert.Equal(t, models.AnomalyUnknownAddress, anomalies[1].Type)
	assert.Equal(t, models.SeverityMedium, anomalies[1].Severity)
}

func TestDetectKnownTrustedAddressIsClean(t *testing.T) {
	d := newTestDetector()

	state := []*models.CurrentStateEntry{
		{Address: trustedAddr, RoleName: "DEFAULT_ADMIN_ROLE", RoleHash: adminRoleHash,
			ContractName: "DataRegistry", ContractAddress: "0xaaaa000000000000000000000000000000000002"},
	}

	annotated, anomalies := d.Detect(state)
	assert.Empty(t, anomalies)
	assert.False(t, annotated[0].IsAnomaly)
	assert.Empty(t, annotated[0].AnomalyDescription)
}

func TestDetectKnownContractAddressNotFlaggedAsUnknown(t *testing.T) {
	d := newTestDetector()

	// 已登记合约地址作为角色持有者
	state := []*models.CurrentStateEntry{
		{Address: "0xaaaa000000000000000000000000000000000002", RoleName: "MAINTAINER_ROLE", RoleHash: maintainerRoleHash,
			ContractName: "TeePool", ContractAddress: "0xaaaa000000000000000000000000000000000001"},
	}

	_, anomalies := d.Detect(state)
	assert.Empty(t, anomalies)
}

func TestDetectOwnershipEntryNotFlaggedAsUnknownRole(t *testing.T) {
	d := newTestDetector()

	state := []*models.CurrentStateEntry{
		{Address: trustedAddr, RoleName: models.OwnerRoleName, RoleHash: models.OwnerRoleHash,
			ContractName: "TeePool", ContractAddress: "0xaaaa000000000000000000000000000000000001"},
	}

	_, anomalies := d.Detect(state)
	assert.Empty(t, anomalies)
}

func TestDetectExcessiveAdmins(t *testing.T) {
	d := newTestDetector()

	contractAddr := "0xaaaa000000000000000000000000000000000003"
	state := []*models.CurrentStateEntry{}
	for _, addr := range []string{
		trustedAddr,
		"0x5555555555555555555555555555555555555555",
		"0x6666666666666666666666666666666666666666",
		"0x7777777777777777777777777777777777777777",
	} {
		state = append(state, &models.CurrentStateEntry{
			Address: addr, RoleName: "DEFAULT_ADMIN_ROLE", RoleHash: adminRoleHash,
			ContractName: "RootNetwork", ContractAddress: contractAddr,
		})
	}

	_, anomalies := d.Detect(state)

	var excessive []*models.Anomaly
	for _, a := range anomalies {
		if a.Type == models.AnomalyExcessiveAdmins {
			excessive = append(excessive, a)
		}
	}

	// 4个管理员超过阈值3，每个合约只产生一条低危异常
	require.Len(t, excessive, 1)
	assert.Equal(t, models.SeverityLow, excessive[0].Severity)
	assert.Equal(t, "RootNetwork", excessive[0].Contract)
	assert.Contains(t, excessive[0].Description, "(threshold: 3)")
}

func TestDetectExcessiveAdminsTalliesEntriesNotAddresses(t *testing.T) {
	d := newTestDetector()

	contractAddr := "0xaaaa000000000000000000000000000000000003"
	// 同一地址持有两个管理类角色各计一次：4条管理条目（3个地址）超过阈值3
	state := []*models.CurrentStateEntry{
		{Address: trustedAddr, RoleName: "DEFAULT_ADMIN_ROLE", RoleHash: adminRoleHash,
			ContractName: "RootNetwork", ContractAddress: contractAddr},
		{Address: trustedAddr, RoleName: models.OwnerRoleName, RoleHash: models.OwnerRoleHash,
			ContractName: "RootNetwork", ContractAddress: contractAddr},
		{Address: "0x5555555555555555555555555555555555555555", RoleName: "DEFAULT_ADMIN_ROLE", RoleHash: adminRoleHash,
			ContractName: "RootNetwork", ContractAddress: contractAddr},
		{Address: "0x6666666666666666666666666666666666666666", RoleName: "DEFAULT_ADMIN_ROLE", RoleHash: adminRoleHash,
			ContractName: "RootNetwork", ContractAddress: contractAddr},
	}

	_, anomalies := d.Detect(state)

	var excessive []*models.Anomaly
	for _, a := range anomalies {
		if a.Type == models.AnomalyExcessiveAdmins {
			excessive = append(excessive, a)
		}
	}

	require.Len(t, excessive, 1)
	assert.Contains(t, excessive[0].Description, "4")
	assert.Contains(t, excessive[0].Description, "(threshold: 3)")
}
