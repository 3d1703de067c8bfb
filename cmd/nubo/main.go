package main

import (
	"github.com/bwmarrin/snowflake"
	"github.com/nubomail/nubo/internal/clock"
	"github.com/nubomail/nubo/internal/config"
	"github.com/nubomail/nubo/internal/migration"
	"github.com/nubomail/nubo/internal/server"
	"github.com/nubomail/nubo/pkg/db"
	"go.uber.org/fx"
)

func main() {
	app := fx.New(
		config.Module,
		fx.Provide(RegisterSnowflake),
		db.Module,
		clock.Module,
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
