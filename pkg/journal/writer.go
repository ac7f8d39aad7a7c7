// 文件: pkg/journal/writer.go
// 审计写入器
//
// 实现 event.Emitter:
// - 事件先进缓冲，批量写入
// - 满批立即刷新，否则按间隔刷新
// - 写入失败的批次放回缓冲，下次重试 (EventID 幂等)

package journal

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/rs/zerolog"

	"max.com/perpvault/pkg/event"
)

// WriterConfig 配置
type WriterConfig struct {
	NodeID        int64         // snowflake 节点
	BatchSize     int           // 批量大小
	FlushInterval time.Duration // 刷新间隔
}

// DefaultWriterConfig 默认配置
func DefaultWriterConfig() WriterConfig {
	return WriterConfig{
		NodeID:        1,
		BatchSize:     100,
		FlushInterval: 500 * time.Millisecond,
	}
}

// WriterStats 写入统计
type WriterStats struct {
	ReceivedCount int64
	WrittenCount  int64
	ErrorCount    int64
	BatchCount    int64
}

// Writer 审计写入器
type Writer struct {
	repo   *Repo
	ids    *snowflake.Node
	config WriterConfig
	logger zerolog.Logger

	// 批量缓冲
	mu      sync.Mutex
	buffer  []Record
	flushCh chan struct{}

	// 统计
	received atomic.Int64
	written  atomic.Int64
	errors   atomic.Int64
	batches  atomic.Int64

	// 生命周期
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewWriter 创建写入器
func NewWriter(repo *Repo, cfg WriterConfig, logger zerolog.Logger) (*Writer, error) {
	node, err := snowflake.NewNode(cfg.NodeID)
	if err != nil {
		return nil, fmt.Errorf("journal id node: %w", err)
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultWriterConfig().BatchSize
	}
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = DefaultWriterConfig().FlushInterval
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Writer{
		repo:    repo,
		ids:     node,
		config:  cfg,
		logger:  logger.With().Str("module", "journal").Logger(),
		buffer:  make([]Record, 0, cfg.BatchSize),
		flushCh: make(chan struct{}, 1),
		ctx:     ctx,
		cancel:  cancel,
	}, nil
}

// =============================================================================
// 事件接收
// =============================================================================

// Emit 事件加入缓冲
func (w *Writer) Emit(_ context.Context, e event.Event) error {
	payload, err := json.Marshal(e)
	if err != nil {
		w.errors.Add(1)
		return fmt.Errorf("marshal %s: %w", e.EventType(), err)
	}

	rec := Record{
		EventID:   w.ids.Generate().Int64(),
		Type:      string(e.EventType()),
		EventKey:  event.Key(e),
		Payload:   string(payload),
		CreatedAt: time.Now(),
	}
	w.received.Add(1)

	w.mu.Lock()
	w.buffer = append(w.buffer, rec)
	shouldFlush := len(w.buffer) >= w.config.BatchSize
	w.mu.Unlock()

	if shouldFlush {
		select {
		case w.flushCh <- struct{}{}:
		default:
		}
	}
	return nil
}

// Pending 缓冲中未写入的记录数
func (w *Writer) Pending() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.buffer)
}

// =============================================================================
// 批量写入
// =============================================================================

// Flush 写入缓冲中的全部记录
func (w *Writer) Flush(ctx context.Context) error {
	w.mu.Lock()
	records := w.buffer
	w.buffer = make([]Record, 0, w.config.BatchSize)
	w.mu.Unlock()

	if len(records) == 0 {
		return nil
	}

	if err := w.repo.Insert(ctx, records); err != nil {
		w.errors.Add(1)
		w.mu.Lock()
		w.buffer = append(records, w.buffer...)
		w.mu.Unlock()
		return fmt.Errorf("insert %d records: %w", len(records), err)
	}

	w.written.Add(int64(len(records)))
	w.batches.Add(1)
	return nil
}

func (w *Writer) flushWithTimeout() {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := w.Flush(ctx); err != nil {
		w.logger.Error().Err(err).Msg("flush failed")
	}
}

// =============================================================================
// 生命周期
// =============================================================================

// Start 启动定时刷新
func (w *Writer) Start() {
	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		ticker := time.NewTicker(w.config.FlushInterval)
		defer ticker.Stop()

		for {
			select {
			case <-w.ctx.Done():
				w.flushWithTimeout() // 最后刷新一次
				return
			case <-ticker.C:
				w.flushWithTimeout()
			case <-w.flushCh:
				w.flushWithTimeout()
			}
		}
	}()
}

// Stop 停止并写入剩余记录
func (w *Writer) Stop() {
	w.cancel()
	w.wg.Wait()
}

// Stats 获取统计
func (w *Writer) Stats() WriterStats {
	return WriterStats{
		ReceivedCount: w.received.Load(),
		WrittenCount:  w.written.Load(),
		ErrorCount:    w.errors.Load(),
		BatchCount:    w.batches.Load(),
	}
}
