package main

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"roleaudit/internal/audit"
	"roleaudit/internal/batch"
	"roleaudit/internal/config"
	"roleaudit/internal/logging"
	"roleaudit/internal/output"
	"roleaudit/internal/store"
	"roleaudit/internal/validation"
	"roleaudit/pkg/models"
)

var (
	// 基础参数
	network    string
	configFile string
	verbose    bool

	// 审计参数
	contractFilter string
	saveSnapshot   bool

	// 修复批次参数
	targetAddress    string
	oldAddress       string
	newAddress       string
	roleFilter       string
	exportBatch      bool
	registryFallback bool
	batchName        string

	// 注册表维护参数
	addressLabel    string
	addressCategory string
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "执行失败: %v\n", err)
		os.Exit(1)
	}
}

// newRootCmd 构建CLI命令树
func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "roleaudit",
		Short: "合约权限审计工具",
		Long:  `智能合约RBAC权限审计与修复工具，采集角色事件、验证链上状态、检测异常并生成多签修复批次`,
	}

	rootCmd.PersistentFlags().StringVar(&network, "network", "moksha", "目标网络 (moksha/vana)")
	rootCmd.PersistentFlags().StringVar(&configFile, "config", "configs/config.yaml", "配置文件路径")
	rootCmd.PersistentFlags().BoolVar(&verbose, "verbose", false, "详细输出")

	auditCmd := &cobra.Command{
		Use:   "audit",
		Short: "执行权限审计",
		RunE:  runAudit,
	}
	auditCmd.Flags().StringVar(&contractFilter, "contracts", "", "只审计指定合约（逗号分隔的名称）")
	auditCmd.Flags().BoolVar(&saveSnapshot, "save", false, "保存审计快照到本地存储")

	revokeAllCmd := &cobra.Command{
		Use:   "revoke-all",
		Short: "生成撤销指定地址全部权限的批次",
		RunE:  runRevokeAll,
	}
	revokeAllCmd.Flags().StringVar(&targetAddress, "address", "", "目标地址（必填）")
	revokeAllCmd.Flags().StringVar(&contractFilter, "contract", "", "只处理指定合约")
	revokeAllCmd.Flags().StringVar(&roleFilter, "role", "", "只处理指定角色（名称或哈希）")
	revokeAllCmd.Flags().StringVar(&batchName, "name", "", "批次名称")
	revokeAllCmd.Flags().BoolVar(&exportBatch, "export", true, "导出多签导入文档")
	revokeAllCmd.MarkFlagRequired("address")

	rotateCmd := &cobra.Command{
		Use:   "rotate",
		Short: "生成角色轮换批次",
		RunE:  runRotate,
	}
	rotateCmd.Flags().StringVar(&oldAddress, "old", "", "旧地址（必填）")
	rotateCmd.Flags().StringVar(&newAddress, "new", "", "新地址（必填）")
	rotateCmd.Flags().BoolVar(&registryFallback, "allow-registry-fallback", false, "没有审计快照时基于静态注册表生成（低可信模式）")
	rotateCmd.Flags().BoolVar(&exportBatch, "export", true, "导出多签导入文档")
	rotateCmd.MarkFlagRequired("old")
	rotateCmd.MarkFlagRequired("new")

	snapshotsCmd := &cobra.Command{
		Use:   "snapshots",
		Short: "列出本地保存的审计快照",
		RunE:  runSnapshots,
	}

	registryCmd := &cobra.Command{
		Use:   "registry",
		Short: "维护数据库地址注册表（需要 ROLEAUDIT_DB_DSN）",
	}
	registryMarkCmd := &cobra.Command{
		Use:   "mark",
		Short: "登记或更新已知地址",
		RunE:  runRegistryMark,
	}
	registryMarkCmd.Flags().StringVar(&targetAddress, "address", "", "地址（必填）")
	registryMarkCmd.Flags().StringVar(&addressLabel, "label", "", "地址标签")
	registryMarkCmd.Flags().StringVar(&addressCategory, "category", "", "地址分类 (deactivated/deprecated)")
	registryMarkCmd.MarkFlagRequired("address")

	registryRemoveCmd := &cobra.Command{
		Use:   "remove",
		Short: "从注册表停用已知地址",
		RunE:  runRegistryRemove,
	}
	registryRemoveCmd.Flags().StringVar(&targetAddress, "address", "", "地址（必填）")
	registryRemoveCmd.MarkFlagRequired("address")

	registryCmd.AddCommand(registryMarkCmd, registryRemoveCmd)

	rootCmd.AddCommand(auditCmd, revokeAllCmd, rotateCmd, snapshotsCmd, registryCmd)

	return rootCmd
}

// newLogger 创建组件日志器
func newLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetFormatter(&logrus.TextFormatter{
		FullTimestamp: true,
	})
	if verbose {
		logger.SetLevel(logrus.DebugLevel)
	} else {
		logger.SetLevel(logrus.InfoLevel)
	}
	return logger
}

func loadConfig() (*config.Config, error) {
	cfg, err := config.LoadConfig(configFile)
	if err != nil {
		return nil, fmt.Errorf("加载配置失败: %w", err)
	}
	return cfg, nil
}

func runAudit(cmd *cobra.Command, args []string) error {
	logger := newLogger()

	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	structured, err := logging.NewStructuredLogger(cfg.Logging)
	if err != nil {
		return fmt.Errorf("初始化结构化日志失败: %w", err)
	}
	auditLog := logging.NewAuditLogger(structured, network)

	orchestrator, err := audit.NewOrchestrator(network, cfg, logger)
	if err != nil {
		return err
	}

	var contracts []string
	if contractFilter != "" {
		contracts = strings.Split(contractFilter, ",")
		for i := range contracts {
			contracts[i] = strings.TrimSpace(contracts[i])
		}
	}

	auditLog.Info("审计开始", "contracts", contracts)

	results, err := orchestrator.RunAudit(context.Background(), contracts)
	if err != nil {
		return fmt.Errorf("审计失败: %w", err)
	}

	outputter, err := output.NewOutput(cfg.Output, logger)
	if err != nil {
		return fmt.Errorf("创建输出器失败: %w", err)
	}
	defer outputter.Close()

	if err := outputter.WriteAuditResults(results); err != nil {
		return err
	}
	if err := outputter.WriteAnomalies(network, results.Anomalies); err != nil {
		return err
	}

	if saveSnapshot {
		snapshots, err := store.NewStore(cfg.Store.Path, logger)
		if err != nil {
			return err
		}
		defer snapshots.Close()

		key, err := snapshots.SaveSnapshot(results)
		if err != nil {
			return err
		}
		logger.Infof("审计快照已保存: %s", key)
	}

	auditLog.Info("审计完成",
		"active_permissions", results.Stats.ActivePermissions,
		"anomalies", results.Stats.AnomaliesCount)

	printAuditSummary(results)
	return nil
}

func runRevokeAll(cmd *cobra.Command, args []string) error {
	logger := newLogger()

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	networkCfg, err := cfg.Network(network)
	if err != nil {
		return err
	}

	snapshots, err := store.NewStore(cfg.Store.Path, logger)
	if err != nil {
		return err
	}
	defer snapshots.Close()

	results, err := snapshots.LatestSnapshot(network)
	if err != nil {
		return fmt.Errorf("读取审计快照失败（请先运行 roleaudit audit --save）: %w", err)
	}

	builder := batch.NewBuilder(network, cfg.RegistrySet(), logger)
	operations := builder.RevokeAllTemplate(results, targetAddress, contractFilter, roleFilter)
	if len(operations) == 0 {
		return fmt.Errorf("快照中地址 %s 没有可撤销的权限", targetAddress)
	}

	name := batchName
	if name == "" {
		name = fmt.Sprintf("Revoke all roles from %s", targetAddress)
	}
	b := builder.NewBatch(name, fmt.Sprintf("基于 %s 审计快照", results.Timestamp.Format("2006-01-02 15:04:05")), operations)

	if result := builder.ValidateBatch(b); !result.Valid {
		for _, fieldErr := range result.Errors {
			fmt.Fprintf(os.Stderr, "  - %v\n", fieldErr)
		}
		return fmt.Errorf("批次校验失败，共 %d 个错误", len(result.Errors))
	}

	return writeBatch(cfg, networkCfg.ChainID, logger, builder, b)
}

func runRotate(cmd *cobra.Command, args []string) error {
	logger := newLogger()

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	networkCfg, err := cfg.Network(network)
	if err != nil {
		return err
	}

	builder := batch.NewBuilder(network, cfg.RegistrySet(), logger)

	var result *batch.RotationResult
	if registryFallback {
		result = builder.GenerateRotationFromRegistry(oldAddress, newAddress)
	} else {
		snapshots, err := store.NewStore(cfg.Store.Path, logger)
		if err != nil {
			return err
		}
		defer snapshots.Close()

		results, err := snapshots.LatestSnapshot(network)
		if err != nil {
			return fmt.Errorf("读取审计快照失败（请先运行 roleaudit audit --save，或显式使用 --allow-registry-fallback 低可信模式）: %w", err)
		}
		result = builder.GenerateRotation(results, oldAddress, newAddress)
	}

	if !result.Success {
		for _, fieldErr := range result.Errors {
			fmt.Fprintf(os.Stderr, "  - %v\n", fieldErr)
		}
		return fmt.Errorf("轮换参数校验失败，共 %d 个错误", len(result.Errors))
	}

	if result.Unverified {
		fmt.Println("⚠️  低可信模式：操作基于静态注册表生成，未经链上验证")
	}
	if len(result.Batch.Operations) == 0 {
		return fmt.Errorf("快照中地址 %s 不持有任何角色，没有可轮换的权限", oldAddress)
	}

	return writeBatch(cfg, networkCfg.ChainID, logger, builder, result.Batch)
}

// writeBatch 输出批次及多签导入文档
func writeBatch(cfg *config.Config, chainID string, logger *logrus.Logger, builder *batch.Builder, b *models.Batch) error {
	structured, err := logging.NewStructuredLogger(cfg.Logging)
	if err != nil {
		return fmt.Errorf("初始化结构化日志失败: %w", err)
	}
	batchLog := logging.NewBatchLogger(structured, b.ID)

	outputter, err := output.NewOutput(cfg.Output, logger)
	if err != nil {
		return fmt.Errorf("创建输出器失败: %w", err)
	}
	defer outputter.Close()

	if err := outputter.WriteBatch(b); err != nil {
		return err
	}

	if exportBatch {
		doc, err := batch.ExportBatch(b, chainID)
		if err != nil {
			return err
		}
		if err := outputter.WriteExportDocument(fmt.Sprintf("safe_%s", b.ID), doc); err != nil {
			return err
		}
	}

	batchLog.Info("批次已生成", "operations", len(b.Operations), "exported", exportBatch)
	fmt.Printf("批次 %s 已生成，共 %d 个操作\n", b.ID, len(b.Operations))
	return nil
}

// openRegistryDB 连接数据库注册表
func openRegistryDB(logger *logrus.Logger) (*config.DatabaseConfig, error) {
	dsn := os.Getenv("ROLEAUDIT_DB_DSN")
	if dsn == "" {
		return nil, fmt.Errorf("未设置 ROLEAUDIT_DB_DSN，注册表维护需要数据库来源")
	}
	return config.NewDatabaseConfig(dsn, logger)
}

func runRegistryMark(cmd *cobra.Command, args []string) error {
	logger := newLogger()

	if !validation.IsValidAddress(targetAddress) {
		return fmt.Errorf("地址格式无效: %s", targetAddress)
	}

	dbConfig, err := openRegistryDB(logger)
	if err != nil {
		return err
	}
	defer dbConfig.Close()

	if err := dbConfig.UpsertKnownAddress(targetAddress, addressLabel, addressCategory); err != nil {
		return fmt.Errorf("登记地址失败: %w", err)
	}
	logger.Infof("地址已登记: %s (%s/%s)", targetAddress, addressLabel, addressCategory)
	return nil
}

func runRegistryRemove(cmd *cobra.Command, args []string) error {
	logger := newLogger()

	if !validation.IsValidAddress(targetAddress) {
		return fmt.Errorf("地址格式无效: %s", targetAddress)
	}

	dbConfig, err := openRegistryDB(logger)
	if err != nil {
		return err
	}
	defer dbConfig.Close()

	if err := dbConfig.DeactivateKnownAddress(targetAddress); err != nil {
		return fmt.Errorf("停用地址失败: %w", err)
	}
	logger.Infof("地址已从注册表停用: %s", targetAddress)
	return nil
}

func runSnapshots(cmd *cobra.Command, args []string) error {
	logger := newLogger()

	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	snapshots, err := store.NewStore(cfg.Store.Path, logger)
	if err != nil {
		return err
	}
	defer snapshots.Close()

	infos, err := snapshots.ListSnapshots(network)
	if err != nil {
		return err
	}
	if len(infos) == 0 {
		fmt.Printf("网络 %s 没有保存的快照\n", network)
		return nil
	}

	fmt.Printf("网络 %s 共 %d 个快照:\n", network, len(infos))
	for _, info := range infos {
		fmt.Printf("  %s  权限:%d  异常:%d\n",
			info.Timestamp.Format("2006-01-02 15:04:05"),
			info.Stats.ActivePermissions, info.Stats.AnomaliesCount)
	}
	return nil
}

// printAuditSummary 打印审计摘要
func printAuditSummary(results *models.AuditResults) {
	fmt.Printf("\n📊 审计摘要 (%s)\n", results.Network)
	fmt.Printf("  合约数:     %d\n", len(results.Contracts))
	fmt.Printf("  当前权限:   %d\n", results.Stats.ActivePermissions)
	fmt.Printf("  历史事件:   %d\n", results.Stats.HistoricalEvents)
	fmt.Printf("  不同角色:   %d\n", results.Stats.UniqueRoles)
	fmt.Printf("  不同地址:   %d\n", results.Stats.UniqueAddresses)
	fmt.Printf("  异常:       %d\n", results.Stats.AnomaliesCount)

	for _, anomaly := range results.Anomalies {
		fmt.Printf("  🚫 [%s/%s] %s\n", anomaly.Type, anomaly.Severity, anomaly.Description)
	}
}
