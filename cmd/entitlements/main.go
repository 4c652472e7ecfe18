package main

import (
	"github.com/bwmarrin/snowflake"
	"go.uber.org/fx"

	"github.com/matchwell/entitlements/internal/clock"
	"github.com/matchwell/entitlements/internal/config"
	"github.com/matchwell/entitlements/internal/migration"
	"github.com/matchwell/entitlements/internal/observability"
	"github.com/matchwell/entitlements/internal/server"
	"github.com/matchwell/entitlements/pkg/db"
)

func main() {
	app := fx.New(
		config.Module,
		observability.Module,
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
