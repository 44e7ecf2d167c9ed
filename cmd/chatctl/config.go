package main

import (
	"fmt"

	"github.com/urfave/cli/v2"

	"github.com/young13371337/linker-sub001/pkg/chatsync"
)

var configCommand = &cli.Command{
	Name:  "config",
	Usage: "Inspect configuration",
	Subcommands: []*cli.Command{
		{
			Name:  "validate",
			Usage: "Parse the config file and report problems",
			Action: func(ctx *cli.Context) error {
				cfg, err := loadConfig(ctx.String("config"))
				if err != nil {
					return err
				}
				fmt.Printf("OK: chat API %s, realtime %s\n", cfg.ChatAPIURL, cfg.RealtimeURL)
				return nil
			},
		},
		{
			Name:  "example",
			Usage: "Print the example config",
			Action: func(ctx *cli.Context) error {
				fmt.Print(chatsync.ExampleConfig)
				return nil
			},
		},
	},
}
