package output

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/IBM/sarama"
	"github.com/sirupsen/logrus"

	"roleaudit/internal/errors"
	"roleaudit/pkg/models"
)

// defaultTopics 数据类型到topic的默认映射
func defaultTopics() map[string]string {
	return map[string]string{
		"audit_results": "roleaudit_results",
		"anomalies":     "roleaudit_anomalies",
		"batches":       "roleaudit_batches",
		"exports":       "roleaudit_exports",
	}
}

// KafkaOutput Kafka输出器
type KafkaOutput struct {
	logger   *logrus.Logger
	topics   map[string]string // 数据类型到topic的映射
	producer sarama.SyncProducer
}

// NewKafkaOutput 创建Kafka输出器
func NewKafkaOutput(brokers []string, topics map[string]string, logger *logrus.Logger) (*KafkaOutput, error) {
	logger.Infof("初始化Kafka输出器，brokers: %v", brokers)

	config := sarama.NewConfig()
	config.Producer.RequiredAcks = sarama.WaitForAll
	config.Producer.Retry.Max = 5
	config.Producer.Return.Successes = true
	config.Producer.Timeout = 5 * time.Second
	config.Version = sarama.V2_8_0_0

	producer, err := sarama.NewSyncProducer(brokers, config)
	if err != nil {
		return nil, fmt.Errorf("创建Kafka生产者失败: %w", err)
	}

	logger.Info("Kafka生产者已创建")

	return &KafkaOutput{
		logger:   logger,
		topics:   topics,
		producer: producer,
	}, nil
}

// sendToKafka 发送数据到Kafka
func (k *KafkaOutput) sendToKafka(topicKey, key string, data interface{}) error {
	topic, exists := k.topics[topicKey]
	if !exists {
		topic = defaultTopics()[topicKey]
	}

	jsonData, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("序列化数据失败: %w", err)
	}

	msg := &sarama.ProducerMessage{
		Topic: topic,
		Key:   sarama.StringEncoder(key),
		Value: sarama.StringEncoder(jsonData),
	}

	partition, offset, err := k.producer.SendMessage(msg)
	if err != nil {
		return errors.WrapError(err, errors.ErrorTypeKafka, errors.SeverityHigh,
			errors.ErrKafkaProduceFailed.Code,
			fmt.Sprintf("发送消息到Kafka topic '%s' 失败", topic))
	}

	k.logger.Infof("成功发送数据到Kafka topic '%s' (partition: %d, offset: %d)", topic, partition, offset)
	return nil
}

// WriteAuditResults 写入完整审计快照
func (k *KafkaOutput) WriteAuditResults(results *models.AuditResults) error {
	if results == nil {
		return nil
	}
	return k.sendToKafka("audit_results", results.Network, results)
}

// WriteAnomalies 写入异常列表，每条异常一则消息
func (k *KafkaOutput) WriteAnomalies(network string, anomalies []*models.Anomaly) error {
	for _, anomaly := range anomalies {
		if err := k.sendToKafka("anomalies", network, anomaly); err != nil {
			return err
		}
	}
	return nil
}

// WriteBatch 写入修复批次
func (k *KafkaOutput) WriteBatch(batch *models.Batch) error {
	if batch == nil {
		return nil
	}
	return k.sendToKafka("batches", batch.ID, batch)
}

// WriteExportDocument 写入多签导入文档
func (k *KafkaOutput) WriteExportDocument(name string, doc *models.ExportDocument) error {
	if doc == nil {
		return nil
	}
	return k.sendToKafka("exports", name, doc)
}

// Close 关闭Kafka连接
func (k *KafkaOutput) Close() error {
	if k.producer != nil {
		return k.producer.Close()
	}
	return nil
}
