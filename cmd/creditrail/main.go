package main

import (
	"github.com/bwmarrin/snowflake"
	"github.com/creditrail/creditrail/internal/config"
	"github.com/creditrail/creditrail/internal/logger"
	"github.com/creditrail/creditrail/internal/migration"
	"github.com/creditrail/creditrail/internal/observability"
	"github.com/creditrail/creditrail/internal/server"
	"github.com/creditrail/creditrail/pkg/db"
	"go.uber.org/fx"
)

func main() {
	app := fx.New(
		config.Module,
		logger.Module,
		observability.Module,
		fx.Provide(RegisterSnowflake),
		db.Module,
		migration.Module,
		server.Module,
	)
	app.Run()
}

func RegisterSnowflake() *snowflake.Node {
	node, err := snowflake.NewNode(1)
	if err != nil {
		panic(err)
	}
	return node
}
