// submodule cmd contains command definitions
package main

import "github.com/urfave/cli/v3"

// globalFlags are inherited by every subcommand.
func globalFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:    "config",
			Aliases: []string{"c"},
			Usage:   "Path to configuration file (default: $RBXBRIDGE_CONFIG, ./config.toml, then the user config dir)",
		},
		&cli.BoolFlag{
			Name:  "debug",
			Usage: "Enable debug logging",
		},
		&cli.StringFlag{
			Name:  "bridge-url",
			Usage: "Control plane URL used by client commands (default: derived from bridge.host and bridge.port)",
		},
	}
}

// serveCommand runs the bridge in the foreground
func serveCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:  "serve",
		Usage: "Run the bridge (default when no command is given)",
		Flags: []cli.Flag{
			&cli.IntFlag{
				Name:    "port",
				Aliases: []string{"p"},
				Usage:   "Override bridge.port",
			},
			&cli.BoolFlag{
				Name:  "no-browser",
				Usage: "Never open the system browser for authorization",
			},
		},
		Action: r.Serve,
	}
}

func setupCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:   "setup",
		Usage:  "Create the config file, database and credential key",
		Action: r.Setup,
	}
}

func statusCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:  "status",
		Usage: "Show bridge and account status",
		Flags: []cli.Flag{
			&cli.BoolFlag{
				Name:  "json",
				Usage: "Output raw JSON",
			},
		},
		Action: r.Status,
	}
}

func connectCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:   "connect",
		Usage:  "Start Roblox authorization through the running bridge",
		Action: r.Connect,
	}
}

func disconnectCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:   "disconnect",
		Usage:  "Revoke and forget the stored Roblox credentials",
		Action: r.Disconnect,
	}
}

// importCommand submits a model for transfer
func importCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:  "import",
		Usage: "Import a model URL into Roblox",
		Arguments: []cli.Argument{
			&cli.StringArg{
				Name: "url",
			},
		},
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "format",
				Aliases: []string{"f"},
				Usage:   "Model format: fbx, glb, gltf or obj (default: inferred from the URL)",
			},
			&cli.StringFlag{
				Name:    "name",
				Aliases: []string{"n"},
				Usage:   "Display name of the created asset",
			},
			&cli.StringFlag{
				Name:  "description",
				Usage: "Description of the created asset",
			},
			&cli.BoolFlag{
				Name:    "wait",
				Aliases: []string{"w"},
				Usage:   "Wait until the import finishes",
			},
			&cli.DurationFlag{
				Name:  "interval",
				Usage: "Status poll interval with --wait",
				Value: defaultWaitInterval,
			},
		},
		Action: r.Import,
	}
}

func historyCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:  "history",
		Usage: "Show or export finished imports",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "format",
				Usage: "Output format: text, csv or md",
				Value: "text",
			},
			&cli.IntFlag{
				Name:  "limit",
				Usage: "Maximum number of imports (0 for all)",
				Value: 50,
			},
			&cli.StringFlag{
				Name:    "output",
				Aliases: []string{"o"},
				Usage:   "Write the export to a file instead of stdout",
			},
		},
		Action: r.History,
	}
}

func monitorCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:  "monitor",
		Usage: "Live terminal dashboard of the bridge",
		Flags: []cli.Flag{
			&cli.DurationFlag{
				Name:  "refresh",
				Usage: "Refresh interval",
				Value: defaultMonitorRefresh,
			},
			&cli.StringFlag{
				Name:  "log-file",
				Usage: "Where to write logs while the dashboard is open",
			},
		},
		Action: r.Monitor,
	}
}

// apiCommand handles direct control-plane calls
func apiCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:  "api",
		Usage: "Direct calls to the bridge control plane",
		Commands: []*cli.Command{
			{
				Name:  "get",
				Usage: "Direct GET to the bridge, prints raw JSON",
				Arguments: []cli.Argument{
					&cli.StringArg{
						Name: "path",
					},
				},
				Flags: []cli.Flag{
					&cli.BoolFlag{
						Name:  "json",
						Usage: "Output raw JSON",
						Value: true,
					},
				},
				Action: r.APIGet,
			},
			{
				Name:  "post",
				Usage: "Direct POST to the bridge, prints raw JSON",
				Arguments: []cli.Argument{
					&cli.StringArg{
						Name: "path",
					},
				},
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:    "data",
						Aliases: []string{"d"},
						Usage:   "JSON request body",
					},
				},
				Action: r.APIPost,
			},
		},
	}
}
