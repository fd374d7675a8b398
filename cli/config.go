package cli

import (
	"fmt"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/pkg/errors"
	"github.com/urfave/cli/v2"

	"github.com/simbotics/simsense/config"
)

// ConfigValidateAction reads and validates a rig config file, then prints a
// summary of the world it would build.
func ConfigValidateAction(c *cli.Context) error {
	if c.NArg() != 1 {
		return errors.New("must provide exactly one config file")
	}
	conf, err := config.Read(c.Context, c.Args().First(), actionLogger(c))
	if err != nil {
		return err
	}

	fmt.Fprintf(c.App.Writer, "world %q: update rate %gHz, real time factor %g\n",
		conf.World.Name, conf.World.UpdateRateHz, conf.World.RealTimeFactor)
	fmt.Fprintf(c.App.Writer, "web: %s\n", conf.Web.BindAddress)
	if conf.Capture != nil {
		fmt.Fprintf(c.App.Writer, "capture: %d topic(s) to %s\n", len(conf.Capture.Topics), conf.Capture.Dir)
	}

	t := table.NewWriter()
	t.AppendHeader(table.Row{"Model", "Kind", "Name", "Details"})
	for _, model := range conf.Models {
		for _, sensor := range model.Sensors {
			t.AppendRow(table.Row{
				model.Name,
				sensor.Type,
				sensor.Name,
				fmt.Sprintf("%dx%d %s scene=%s @%gHz", sensor.Width, sensor.Height, sensor.Format, sensor.Scene, sensor.UpdateRateHz),
			})
		}
		for _, plugin := range model.Plugins {
			t.AppendRow(table.Row{model.Name, "plugin", plugin.Name, plugin.Model.String()})
		}
	}
	fmt.Fprintln(c.App.Writer, t.Render())
	fmt.Fprintln(c.App.Writer, "config is valid")
	return nil
}
