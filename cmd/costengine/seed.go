package main

import (
	"context"
	"errors"
	"fmt"
	"os"

	"costengine/internal/app"
)

func cmdSeed(ctx context.Context, e *env, args []string) error {
	fs := newFlagSet("seed")
	file := fs.String("file", "", "seed document (JSON)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *file == "" {
		return errors.New("--file is required")
	}

	f, err := os.Open(*file)
	if err != nil {
		return err
	}
	defer f.Close()
	data, err := app.DecodeSeed(f)
	if err != nil {
		return err
	}

	report, err := e.app.Seed(ctx, data, e.cfg.OnError)
	if perr := e.print(report); perr != nil && err == nil {
		err = perr
	}
	if err != nil {
		return err
	}
	if n := len(report.Failures); n > 0 {
		return fmt.Errorf("%d seed records skipped", n)
	}
	return nil
}
