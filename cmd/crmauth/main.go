package main

import (
	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/crmauth/internal/clock"
	"github.com/smallbiznis/crmauth/internal/config"
	"github.com/smallbiznis/crmauth/internal/migration"
	"github.com/smallbiznis/crmauth/internal/observability"
	"github.com/smallbiznis/crmauth/internal/seed"
	"github.com/smallbiznis/crmauth/internal/server"
	"github.com/smallbiznis/crmauth/pkg/db"
	"go.uber.org/fx"
)

func main() {
	app := fx.New(
		// Core infrastructure
		config.Module,
		observability.Module,
		fx.Provide(RegisterSnowflake),
		db.Module,
		clock.Module,

		// Schema before anything touches the tables.
		migration.Module,

		server.Module,
		seed.Module,
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
