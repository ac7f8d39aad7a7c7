// 文件: pkg/order/snowflake.go
// 雪花算法 ID 生成器
// 使用开源库: github.com/bwmarrin/snowflake

package order

import (
	"fmt"

	"github.com/bwmarrin/snowflake"
)

// IDGenerator 订单 ID 生成
type IDGenerator struct {
	node *snowflake.Node
}

// NewIDGenerator nodeID: 节点ID (0-1023)
func NewIDGenerator(nodeID int64) (*IDGenerator, error) {
	node, err := snowflake.NewNode(nodeID)
	if err != nil {
		return nil, fmt.Errorf("snowflake node %d: %w", nodeID, err)
	}
	return &IDGenerator{node: node}, nil
}

func (g *IDGenerator) Next() int64 {
	return g.node.Generate().Int64()
}
