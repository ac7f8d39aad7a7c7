// 文件: pkg/journal/repo.go
// 审计仓库 (GORM 实现)
//
// 生产用 MySQL，测试和模拟器用 SQLite

package journal

import (
	"context"
	"fmt"
	"time"

	"github.com/glebarez/sqlite"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"
)

// Repo 审计仓库
type Repo struct {
	db *gorm.DB
}

// NewRepo 包装已有连接，自动迁移表结构
func NewRepo(db *gorm.DB) (*Repo, error) {
	if err := db.AutoMigrate(&Record{}); err != nil {
		return nil, fmt.Errorf("migrate journal: %w", err)
	}
	return &Repo{db: db}, nil
}

// OpenMySQL 连接 MySQL
func OpenMySQL(dsn string) (*Repo, error) {
	return open(mysql.Open(dsn), 100)
}

// OpenSQLite 打开 SQLite，path 为 ":memory:" 时使用内存库
func OpenSQLite(path string) (*Repo, error) {
	// 内存库每个连接都是独立的库，只能用一个连接
	return open(sqlite.Open(path), 1)
}

func open(dialect gorm.Dialector, maxOpen int) (*Repo, error) {
	db, err := gorm.Open(dialect, &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("open journal db: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	sqlDB.SetMaxIdleConns(min(10, maxOpen))
	sqlDB.SetMaxOpenConns(maxOpen)
	sqlDB.SetConnMaxLifetime(time.Hour)

	return NewRepo(db)
}

// Insert 批量写入，EventID 重复的记录忽略 (幂等)
func (r *Repo) Insert(ctx context.Context, records []Record) error {
	if len(records) == 0 {
		return nil
	}
	return r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "event_id"}},
			DoNothing: true,
		}).
		CreateInBatches(records, 100).Error
}

// List 按写入顺序查询
func (r *Repo) List(ctx context.Context, f Filter) ([]Record, error) {
	q := r.db.WithContext(ctx).Model(&Record{})
	if f.Type != "" {
		q = q.Where("type = ?", string(f.Type))
	}
	if f.Key != "" {
		q = q.Where("event_key = ?", f.Key)
	}
	if f.Limit > 0 {
		q = q.Limit(f.Limit)
	}

	var records []Record
	err := q.Order("id ASC").Find(&records).Error
	return records, err
}

// Count 记录数
func (r *Repo) Count(ctx context.Context, f Filter) (int64, error) {
	q := r.db.WithContext(ctx).Model(&Record{})
	if f.Type != "" {
		q = q.Where("type = ?", string(f.Type))
	}
	if f.Key != "" {
		q = q.Where("event_key = ?", f.Key)
	}

	var n int64
	err := q.Count(&n).Error
	return n, err
}

// Close 关闭底层连接
func (r *Repo) Close() error {
	sqlDB, err := r.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
