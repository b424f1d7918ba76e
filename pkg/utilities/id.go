package utilities

import (
	"os"
	"strconv"

	"github.com/bwmarrin/snowflake"
	"github.com/segmentio/ksuid"
)

// NewRequestID generates a KSUID string used to correlate outbound backend
// calls in logs.
func NewRequestID() string {
	return ksuid.New().String()
}

// NewLocalID generates a snowflake ID string for locally created rows
// (favorites and the like), using a node ID from the SNOWFLAKE_NODE env
// variable. A missing or unparseable value falls back to node 1.
func NewLocalID() string {
	nodeEnv := os.Getenv("SNOWFLAKE_NODE")
	if nodeEnv == "" {
		return NewLocalIDWithNode(1)
	}
	nodeID, err := strconv.ParseInt(nodeEnv, 10, 64)
	if err != nil {
		return NewLocalIDWithNode(1)
	}
	return NewLocalIDWithNode(nodeID)
}

// NewLocalIDWithNode generates a snowflake ID string using the provided node
// ID. If the node cannot be initialized, it falls back to a KSUID string so a
// unique ID is still returned.
func NewLocalIDWithNode(nodeID int64) string {
	node, err := snowflake.NewNode(nodeID)
	if err != nil {
		return NewRequestID()
	}
	return node.Generate().String()
}
