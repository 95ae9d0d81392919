package app

import (
	"github.com/stacklok/tablesync/internal/schema"
	"github.com/stacklok/tablesync/internal/storage"
	"github.com/stacklok/tablesync/internal/sync/engine"
	"github.com/stacklok/tablesync/internal/sync/scheduler"
	"github.com/stacklok/tablesync/internal/transport/kafka"
)

// AppComponents groups all application components
//
//nolint:revive // This name is fine
type AppComponents struct {
	// Engine runs every synchronization operation
	Engine engine.Engine

	// Registry holds the resolved table descriptors
	Registry *schema.Registry

	// Scheduler runs the startup and periodic full syncs (nil without a source)
	Scheduler *scheduler.Scheduler

	// Consumer reads delta messages from Kafka (optional)
	Consumer *kafka.Consumer

	// Gateway is the destination database
	Gateway storage.Gateway
}
