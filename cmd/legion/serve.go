package main

import (
	"context"
	"time"

	"github.com/gwillem/legion/pkg/relay"
	"github.com/gwillem/legion/pkg/robot"
)

type ServeCommand struct {
	Addr string        `long:"addr" default:":5000" description:"Listen address"`
	Gap  time.Duration `long:"gap" default:"100ms" description:"Pause between repeated steps"`
}

func (c *ServeCommand) Execute(args []string) error {
	return runCommand(func(ctx context.Context, r *robot.Robot) error {
		if err := r.Gait.Stand(ctx); err != nil {
			return err
		}
		srv := relay.New(ctx, r.Gait, r.Motion.Snapshot, c.Gap, r.Logger())
		return srv.Serve(ctx, c.Addr)
	})
}
