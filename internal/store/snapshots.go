package store

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	bolt "go.etcd.io/bbolt"

	"roleaudit/internal/errors"
	"roleaudit/pkg/models"
)

const (
	// 默认数据库路径
	DefaultDBPath = "./data/snapshots.db"

	// 存储桶名称前缀，每个网络一个存储桶
	snapshotBucketPrefix = "snapshots:"
)

// SnapshotInfo 快照列表条目
type SnapshotInfo struct {
	Key       string             `json:"key"`
	Network   string             `json:"network"`
	Timestamp time.Time          `json:"timestamp"`
	Stats     *models.AuditStats `json:"stats,omitempty"`
}

// Store 审计快照存储
type Store struct {
	db     *bolt.DB
	logger *logrus.Logger
	dbPath string
	mu     sync.RWMutex
}

// NewStore 创建快照存储
func NewStore(dbPath string, logger *logrus.Logger) (*Store, error) {
	if dbPath == "" {
		dbPath = DefaultDBPath
	}

	// 确保目录存在
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("创建数据目录失败: %w", err)
	}

	db, err := bolt.Open(dbPath, 0600, &bolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("打开快照数据库失败: %w", err)
	}

	logger.Infof("快照存储已初始化，数据库路径: %s", dbPath)
	return &Store{
		db:     db,
		logger: logger,
		dbPath: dbPath,
	}, nil
}

// bucketName 网络对应的存储桶名
func bucketName(network string) []byte {
	return []byte(snapshotBucketPrefix + network)
}

// SaveSnapshot 保存审计快照，返回快照键
// 键为捕获时间的RFC3339Nano表示，同桶内按时间有序
func (s *Store) SaveSnapshot(results *models.AuditResults) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := results.Timestamp.UTC().Format(time.RFC3339Nano)

	data, err := json.Marshal(results)
	if err != nil {
		return "", errors.WrapError(err, errors.ErrorTypeSerialization, errors.SeverityHigh,
			"SNAPSHOT_ENCODE_FAILED", "审计快照序列化失败").WithNetwork(results.Network)
	}

	err = s.db.Update(func(tx *bolt.Tx) error {
		bucket, err := tx.CreateBucketIfNotExists(bucketName(results.Network))
		if err != nil {
			return fmt.Errorf("创建快照存储桶失败: %w", err)
		}
		return bucket.Put([]byte(key), data)
	})
	if err != nil {
		return "", errors.WrapError(err, errors.ErrorTypeStore, errors.SeverityHigh,
			"SNAPSHOT_SAVE_FAILED", "审计快照保存失败").WithNetwork(results.Network)
	}

	s.logger.Infof("审计快照已保存，网络: %s，键: %s", results.Network, key)
	return key, nil
}

// LatestSnapshot 读取网络下最新的审计快照
func (s *Store) LatestSnapshot(network string) (*models.AuditResults, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var raw []byte
	err := s.db.View(func(tx *bolt.Tx) error {
		bucket := tx.Bucket(bucketName(network))
		if bucket == nil {
			return nil
		}
		_, value := bucket.Cursor().Last()
		if value != nil {
			raw = make([]byte, len(value))
			copy(raw, value)
		}
		return nil
	})
	if err != nil {
		return nil, errors.WrapError(err, errors.ErrorTypeStore, errors.SeverityHigh,
			"SNAPSHOT_READ_FAILED", "审计快照读取失败").WithNetwork(network)
	}

	if raw == nil {
		return nil, errors.ErrSnapshotNotFound
	}

	var results models.AuditResults
	if err := json.Unmarshal(raw, &results); err != nil {
		return nil, errors.WrapError(err, errors.ErrorTypeSerialization, errors.SeverityHigh,
			"SNAPSHOT_DECODE_FAILED", "审计快照反序列化失败").WithNetwork(network)
	}

	return &results, nil
}

// ListSnapshots 按时间顺序列出网络下的全部快照
func (s *Store) ListSnapshots(network string) ([]*SnapshotInfo, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var infos []*SnapshotInfo
	err := s.db.View(func(tx *bolt.Tx) error {
		bucket := tx.Bucket(bucketName(network))
		if bucket == nil {
			return nil
		}

		return bucket.ForEach(func(k, v []byte) error {
			var results models.AuditResults
			if err := json.Unmarshal(v, &results); err != nil {
				s.logger.Warnf("跳过无法解析的快照 %s: %v", string(k), err)
				return nil
			}
			infos = append(infos, &SnapshotInfo{
				Key:       string(k),
				Network:   network,
				Timestamp: results.Timestamp,
				Stats:     results.Stats,
			})
			return nil
		})
	})
	if err != nil {
		return nil, errors.WrapError(err, errors.ErrorTypeStore, errors.SeverityHigh,
			"SNAPSHOT_LIST_FAILED", "快照列表读取失败").WithNetwork(network)
	}

	return infos, nil
}

// GetDBPath 获取数据库路径
func (s *Store) GetDBPath() string {
	return s.dbPath
}

// Close 关闭快照存储
func (s *Store) Close() error {
	if s.db != nil {
		s.logger.Info("关闭快照存储")
		return s.db.Close()
	}
	return nil
}
