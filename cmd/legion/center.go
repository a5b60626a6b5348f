package main

import (
	"fmt"
	"time"

	"go.uber.org/multierr"

	"github.com/gwillem/legion/pkg/logging"
	"github.com/gwillem/legion/pkg/robot"
)

type CenterCommand struct {
	Gap time.Duration `long:"gap" default:"100ms" description:"Pause between servos"`
}

// Execute centers the servos without starting the interpolator, so the
// horns can be fitted with every joint at 90 degrees.
func (c *CenterCommand) Execute(args []string) (err error) {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	logger, closeLog, err := logging.New(cfg.Log)
	if err != nil {
		return err
	}
	defer func() {
		err = multierr.Append(err, closeLog())
	}()

	act, err := robot.OpenActuator(rootCtx, cfg, logger)
	if err != nil {
		return err
	}
	defer func() {
		err = multierr.Append(err, act.Close())
	}()

	if err := robot.CenterServos(rootCtx, act, cfg.Calibration.ChannelList(), c.Gap, logger); err != nil {
		return err
	}
	fmt.Println(successStyle.Render("All servos centered."))
	return nil
}
