// 文件: pkg/journal/model.go
// 事件审计表
//
// 只追加，不回读到金库状态

package journal

import (
	"encoding/json"
	"time"

	"max.com/perpvault/pkg/event"
)

// Record 一条已提交的金库事件
type Record struct {
	ID        uint64    `gorm:"primaryKey;autoIncrement"`
	EventID   int64     `gorm:"uniqueIndex;not null"` // 幂等键 (snowflake)
	Type      string    `gorm:"size:32;index;not null"`
	EventKey  string    `gorm:"size:64;index"` // 账户地址 / 仓位 ID
	Payload   string    `gorm:"type:text;not null"`
	CreatedAt time.Time `gorm:"index"`
}

func (Record) TableName() string {
	return "vault_events"
}

// Event 还原为领域事件
func (r Record) Event() (event.Event, error) {
	data, err := json.Marshal(event.Envelope{
		Type:    event.Type(r.Type),
		Payload: json.RawMessage(r.Payload),
	})
	if err != nil {
		return nil, err
	}
	return event.Unmarshal(data)
}

// Filter 查询条件，零值表示不过滤
type Filter struct {
	Type  event.Type
	Key   string
	Limit int
}
