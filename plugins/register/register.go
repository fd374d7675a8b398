// Package register registers all built-in plugin models.
package register

import (
	// register plugins.
	_ "github.com/simbotics/simsense/plugins/realsense"
)
