package snowflake

import (
	"strconv"

	"github.com/bwmarrin/snowflake"
	"go.uber.org/fx"

	"github.com/doorstephq/doorstep-cloud/internal/config"
)

var Module = fx.Module("snowflake",
	fx.Provide(NewNode),
)

// Node wraps snowflake.Node to abstract dependency
type Node struct {
	*snowflake.Node
}

// NewNode builds the ID generator. The node ID must be unique per running
// instance or two processes will mint colliding IDs.
func NewNode(cfg *config.Config) (*Node, error) {
	node, err := snowflake.NewNode(cfg.SnowflakeNodeID)
	if err != nil {
		return nil, err
	}
	return &Node{node}, nil
}

// NewNodeWithID builds a generator with an explicit node ID, for tests and
// one-shot commands that run without the config layer.
func NewNodeWithID(id int64) (*Node, error) {
	node, err := snowflake.NewNode(id)
	if err != nil {
		return nil, err
	}
	return &Node{node}, nil
}

// GenerateID returns a new snowflake ID as int64
func (n *Node) GenerateID() int64 {
	return n.Generate().Int64()
}

// ParseID parses a string ID into an int64
func ParseID(id string) (int64, error) {
	nid, err := strconv.ParseInt(id, 10, 64)
	if err != nil {
		return 0, err
	}
	return nid, nil
}
