// Package cli implements the simsense operator tool: config validation,
// capture inspection and export, and one-off scene renders.
package cli

import (
	"io"

	"github.com/edaniels/golog"
	"github.com/urfave/cli/v2"
	"go.uber.org/zap"
)

const (
	debugFlag = "debug"

	capturesFlagDestination = "dest"
	capturesFlagFormat      = "format"
	capturesFlagPretty      = "pretty"

	scenesFlagScene  = "scene"
	scenesFlagWidth  = "width"
	scenesFlagHeight = "height"
	scenesFlagAt     = "at"
	scenesFlagNear   = "near"
	scenesFlagFar    = "far"
	scenesFlagOutput = "output"
)

var app = &cli.App{
	Name:            "simsense",
	Usage:           "inspect simsense rig configs, captures, and scenes",
	HideHelpCommand: true,
	Flags: []cli.Flag{
		&cli.BoolFlag{
			Name:    debugFlag,
			Aliases: []string{"vvv"},
			Usage:   "enable debug logging",
		},
	},
	Commands: []*cli.Command{
		{
			Name:            "config",
			Usage:           "work with rig config files",
			HideHelpCommand: true,
			Subcommands: []*cli.Command{
				{
					Name:      "validate",
					Usage:     "read a config file and print what it would build",
					ArgsUsage: "<file>",
					Action:    ConfigValidateAction,
				},
			},
		},
		{
			Name:            "captures",
			Usage:           "work with recorded frame captures",
			HideHelpCommand: true,
			Subcommands: []*cli.Command{
				{
					Name:      "list",
					Usage:     "list capture files under a directory",
					ArgsUsage: "<dir>",
					Action:    CapturesListAction,
				},
				{
					Name:      "export",
					Usage:     "decode every frame of a capture file into image files",
					ArgsUsage: "<file>",
					Flags: []cli.Flag{
						&cli.PathFlag{
							Name:     capturesFlagDestination,
							Required: true,
							Usage:    "output directory for decoded frames",
						},
						&cli.StringFlag{
							Name:  capturesFlagFormat,
							Value: "png",
							Usage: "image format: png, jpeg, qoi, or ppm",
						},
						&cli.BoolFlag{
							Name:  capturesFlagPretty,
							Usage: "colorize depth frames instead of writing gray16",
						},
					},
					Action: CapturesExportAction,
				},
				{
					Name:      "stats",
					Usage:     "print depth statistics and a histogram for a capture file",
					ArgsUsage: "<file>",
					Action:    CapturesStatsAction,
				},
			},
		},
		{
			Name:            "scenes",
			Usage:           "work with procedural scenes",
			HideHelpCommand: true,
			Subcommands: []*cli.Command{
				{
					Name:   "list",
					Usage:  "list registered scenes",
					Action: ScenesListAction,
				},
				{
					Name:  "render",
					Usage: "render one color and depth frame of a scene, bypassing the world",
					Flags: []cli.Flag{
						&cli.StringFlag{
							Name:     scenesFlagScene,
							Required: true,
							Usage:    "scene name (see `scenes list`)",
						},
						&cli.IntFlag{
							Name:  scenesFlagWidth,
							Value: 640,
							Usage: "image width in pixels",
						},
						&cli.IntFlag{
							Name:  scenesFlagHeight,
							Value: 480,
							Usage: "image height in pixels",
						},
						&cli.DurationFlag{
							Name:  scenesFlagAt,
							Usage: "sim time to render at, e.g. 1.5s",
						},
						&cli.Float64Flag{
							Name:  scenesFlagNear,
							Value: 0.3,
							Usage: "depth near clip in meters",
						},
						&cli.Float64Flag{
							Name:  scenesFlagFar,
							Value: 10,
							Usage: "depth far clip in meters",
						},
						&cli.PathFlag{
							Name:     scenesFlagOutput,
							Aliases:  []string{"o"},
							Required: true,
							Usage:    "color output file; depth goes to <output>_depth.png",
						},
					},
					Action: ScenesRenderAction,
				},
			},
		},
	},
}

// NewApp returns the CLI app with Writer set to out and ErrWriter set to
// errOut.
func NewApp(out, errOut io.Writer) *cli.App {
	app.Writer = out
	app.ErrWriter = errOut
	return app
}

// actionLogger is silent unless --debug was passed.
func actionLogger(c *cli.Context) golog.Logger {
	if c.Bool(debugFlag) {
		return golog.NewDebugLogger("cli")
	}
	return zap.NewNop().Sugar()
}
