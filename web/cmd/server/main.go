// Package main provides a server running a simulated rig with its web status
// service.
package main

import (
	"github.com/edaniels/golog"
	"go.viam.com/utils"

	// registers all built-in plugin models.
	_ "github.com/simbotics/simsense/plugins/register"
	"github.com/simbotics/simsense/web/server"
)

var logger = golog.NewDevelopmentLogger("simsense-server")

func main() {
	utils.ContextualMain(server.RunServer, logger)
}
