package output

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/sirupsen/logrus"

	"roleaudit/internal/config"
	"roleaudit/pkg/models"
)

// Output 审计结果输出接口
type Output interface {
	WriteAuditResults(results *models.AuditResults) error
	WriteAnomalies(network string, anomalies []*models.Anomaly) error
	WriteBatch(batch *models.Batch) error
	WriteExportDocument(name string, doc *models.ExportDocument) error
	Close() error
}

// NewOutput 按配置创建输出器
func NewOutput(cfg *config.OutputConfig, logger *logrus.Logger) (Output, error) {
	if cfg.Format == "kafka" {
		brokers := []string{"localhost:9092"}
		topics := defaultTopics()
		if cfg.Kafka != nil {
			if len(cfg.Kafka.Brokers) > 0 {
				brokers = cfg.Kafka.Brokers
			}
			for key, topic := range cfg.Kafka.Topics {
				topics[key] = topic
			}
		}
		return NewKafkaOutput(brokers, topics, logger)
	}

	return NewFileOutput(cfg.Directory, logger)
}

// FileOutput 文件输出，每类数据一个带时间戳的JSON文件
type FileOutput struct {
	outputDir string
	logger    *logrus.Logger
	timestamp string
}

// NewFileOutput 创建文件输出器
func NewFileOutput(outputDir string, logger *logrus.Logger) (*FileOutput, error) {
	if outputDir == "" {
		outputDir = "./outputs"
	}

	if err := os.MkdirAll(outputDir, 0755); err != nil {
		return nil, fmt.Errorf("创建输出目录失败: %w", err)
	}

	return &FileOutput{
		outputDir: outputDir,
		logger:    logger,
		timestamp: time.Now().Format("20060102_150405"),
	}, nil
}

// writeJSON 写入单个JSON文件
func (f *FileOutput) writeJSON(filename string, data interface{}) error {
	path := filepath.Join(f.outputDir, filename)

	encoded, err := json.MarshalIndent(data, "", "  ")
	if err != nil {
		return fmt.Errorf("序列化数据失败: %w", err)
	}

	if err := os.WriteFile(path, encoded, 0644); err != nil {
		return fmt.Errorf("写入文件失败: %w", err)
	}

	f.logger.Infof("已写入输出文件: %s", path)
	return nil
}

// WriteAuditResults 写入完整审计快照
func (f *FileOutput) WriteAuditResults(results *models.AuditResults) error {
	if results == nil {
		return nil
	}
	return f.writeJSON(fmt.Sprintf("audit_%s_%s.json", results.Network, f.timestamp), results)
}

// WriteAnomalies 写入异常列表
func (f *FileOutput) WriteAnomalies(network string, anomalies []*models.Anomaly) error {
	if len(anomalies) == 0 {
		return nil
	}
	return f.writeJSON(fmt.Sprintf("anomalies_%s_%s.json", network, f.timestamp), anomalies)
}

// WriteBatch 写入修复批次
func (f *FileOutput) WriteBatch(batch *models.Batch) error {
	if batch == nil {
		return nil
	}
	return f.writeJSON(fmt.Sprintf("batch_%s_%s.json", batch.ID, f.timestamp), batch)
}

// WriteExportDocument 写入多签导入文档
func (f *FileOutput) WriteExportDocument(name string, doc *models.ExportDocument) error {
	if doc == nil {
		return nil
	}
	return f.writeJSON(fmt.Sprintf("%s_%s.json", name, f.timestamp), doc)
}

// Close 关闭文件输出器
func (f *FileOutput) Close() error {
	return nil
}
