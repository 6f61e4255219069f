package main

import (
	"github.com/phanngoc/notebooklm/internal/server"
	"github.com/phanngoc/notebooklm/internal/util"
	"github.com/phanngoc/notebooklm/pkg/logger"
	"github.com/phanngoc/notebooklm/pkg/logger/console"
)

func main() {
	util.LoadEnv()

	debug := util.GetEnvBool("DEBUG", false)
	logger.Init(console.New(console.Params{
		Debug: debug,
	}))

	server.Init()
}
