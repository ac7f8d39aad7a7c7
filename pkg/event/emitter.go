// 文件: pkg/event/emitter.go
// 事件发布

package event

import (
	"context"
	"errors"
	"sync"

	"github.com/samber/lo"
)

// Emitter 事件出口
//
// 调用时状态已经提交，返回错误不会回滚
type Emitter interface {
	Emit(ctx context.Context, e Event) error
}

// EmitterFunc 函数适配
type EmitterFunc func(ctx context.Context, e Event) error

func (f EmitterFunc) Emit(ctx context.Context, e Event) error { return f(ctx, e) }

// Nop 丢弃所有事件
var Nop Emitter = EmitterFunc(func(context.Context, Event) error { return nil })

// =============================================================================
// Multi - 扇出
// =============================================================================

type Multi []Emitter

// Emit 依次发布到每个出口，单个失败不影响其余出口
func (m Multi) Emit(ctx context.Context, e Event) error {
	var errs []error
	for _, em := range m {
		if err := em.Emit(ctx, e); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// =============================================================================
// Recorder - 内存记录 (测试 / 模拟器)
// =============================================================================

type Recorder struct {
	mu     sync.Mutex
	events []Event
}

func NewRecorder() *Recorder {
	return &Recorder{}
}

func (r *Recorder) Emit(_ context.Context, e Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
	return nil
}

// Events 已记录事件副本
func (r *Recorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Event, len(r.events))
	copy(out, r.events)
	return out
}

// Reset 清空
func (r *Recorder) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = nil
}

// Types 已记录事件的类型序列
func (r *Recorder) Types() []Type {
	r.mu.Lock()
	defer r.mu.Unlock()
	return lo.Map(r.events, func(e Event, _ int) Type { return e.EventType() })
}

// OfType 过滤指定类型的事件
func OfType[T Event](r *Recorder) []T {
	return lo.FilterMap(r.Events(), func(e Event, _ int) (T, bool) {
		v, ok := e.(T)
		return v, ok
	})
}
