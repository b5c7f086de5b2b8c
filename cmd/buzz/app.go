package main

import (
	"context"
	"fmt"

	"github.com/HexSleeves/buzz/internal/output"
	"github.com/urfave/cli/v3"
)

// version is set via ldflags at build time.
// e.g. -ldflags "-X main.version=1.2.3"
var version = "dev"

// newApp creates the CLI application with all flags and commands.
func newApp() *cli.Command {
	return &cli.Command{
		Name:        "buzz",
		Usage:       "Tool-calling chat assistant",
		Version:     version,
		UsageText:   "buzz [global options] command [command options] [arguments...]",
		Description: "Buzz serves a chat API whose assistant can call tools, and reads replies aloud",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "Path to config file (.json or .toml)",
				Value:   "buzz.json",
			},
			&cli.StringFlag{
				Name:  "env-file",
				Usage: "Dotenv file loaded before the environment is read",
				Value: ".env",
			},
			&cli.StringFlag{
				Name:    "data-dir",
				Aliases: []string{"d"},
				Usage:   "Directory holding buzz.db",
			},
			&cli.StringFlag{
				Name:    "provider",
				Aliases: []string{"p"},
				Usage:   "LLM provider: anthropic, openai, gemini, ollama, demo",
			},
			&cli.StringFlag{
				Name:    "model",
				Aliases: []string{"m"},
				Usage:   "Model name for the provider",
			},
			&cli.BoolFlag{
				Name:    "verbose",
				Aliases: []string{"v"},
				Usage:   "Verbose logging",
			},
			&cli.BoolFlag{
				Name:  "quiet",
				Usage: "Suppress all output except errors (mutually exclusive with --json)",
			},
			&cli.BoolFlag{
				Name:  "json",
				Usage: "Output JSON lines (mutually exclusive with --quiet)",
			},
		},
		Before: func(ctx context.Context, cmd *cli.Command) (context.Context, error) {
			if _, err := output.ModeFromFlags(cmd.Bool("json"), cmd.Bool("quiet")); err != nil {
				return ctx, err
			}
			return ctx, nil
		},
		Commands: []*cli.Command{
			{
				Name:  "serve",
				Usage: "Serve the HTTP API",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "addr", Aliases: []string{"a"}, Usage: "Listen address (overrides server.addr)"},
				},
				Action: cmdServe,
			},
			{
				Name:  "init",
				Usage: "Write a default config file and create the data directory",
				Flags: []cli.Flag{
					&cli.BoolFlag{Name: "force", Aliases: []string{"f"}, Usage: "Overwrite an existing config file"},
				},
				Action: cmdInit,
			},
			{
				Name:   "config",
				Usage:  "Show the effective configuration",
				Action: cmdConfig,
			},
			{
				Name:      "ask",
				Usage:     "Send one message and print the assistant's reply",
				ArgsUsage: "<message>",
				Flags: []cli.Flag{
					&cli.Int64Flag{Name: "chat", Usage: "Continue an existing chat"},
					&cli.StringFlag{Name: "user", Aliases: []string{"u"}, Usage: "Act as this user ID (default: demo user)"},
					&cli.BoolFlag{Name: "no-tools", Usage: "Disable tool calling for this message"},
				},
				Action: cmdAsk,
			},
			{
				Name:      "say",
				Usage:     "Synthesize speech for text (markdown is stripped first)",
				ArgsUsage: "<text>",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "out", Aliases: []string{"o"}, Usage: "Output MP3 file", Value: "speech.mp3"},
					&cli.StringFlag{Name: "voice", Usage: "Voice name"},
					&cli.FloatFlag{Name: "speed", Usage: "Speaking rate (0.25 to 4.0)"},
					&cli.FloatFlag{Name: "pitch", Usage: "Pitch in semitones (-20 to 20)"},
					&cli.BoolFlag{Name: "strip-only", Usage: "Print the stripped text instead of synthesizing"},
				},
				Action: cmdSay,
			},
			{
				Name:  "voice",
				Usage: "Show or change a user's text-to-speech voice",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "user", Aliases: []string{"u"}, Usage: "User ID (default: demo user)"},
					&cli.StringFlag{Name: "voice", Usage: "Voice name"},
					&cli.FloatFlag{Name: "speed", Usage: "Speaking rate (0.25 to 4.0)"},
					&cli.FloatFlag{Name: "pitch", Usage: "Pitch in semitones (-20 to 20)"},
				},
				Action: cmdVoice,
			},
			{
				Name:  "chats",
				Usage: "Inspect stored chats",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "user", Aliases: []string{"u"}, Usage: "Owner user ID (default: demo user)"},
				},
				Commands: []*cli.Command{
					{
						Name:  "list",
						Usage: "List chats, most recently active first",
						Flags: []cli.Flag{
							&cli.IntFlag{Name: "limit", Aliases: []string{"n"}, Value: 20, Usage: "Maximum chats to show"},
						},
						Action: cmdChatsList,
					},
					{
						Name:      "show",
						Usage:     "Show a chat's messages",
						ArgsUsage: "<chat-id>",
						Action:    cmdChatsShow,
					},
					{
						Name:      "export",
						Usage:     "Export a chat as YAML",
						ArgsUsage: "<chat-id>",
						Flags: []cli.Flag{
							&cli.StringFlag{Name: "out", Aliases: []string{"o"}, Usage: "Write to file instead of stdout"},
						},
						Action: cmdChatsExport,
					},
					{
						Name:      "delete",
						Aliases:   []string{"rm"},
						Usage:     "Delete a chat and its messages",
						ArgsUsage: "<chat-id>",
						Action:    cmdChatsDelete,
					},
				},
			},
			{
				Name:  "users",
				Usage: "Manage user accounts",
				Commands: []*cli.Command{
					{
						Name:      "add",
						Usage:     "Create a user (prompts for the password)",
						ArgsUsage: "<email>",
						Flags: []cli.Flag{
							&cli.StringFlag{Name: "first-name", Usage: "First name", Required: true},
							&cli.StringFlag{Name: "last-name", Usage: "Last name"},
							&cli.StringFlag{Name: "password", Usage: "Password (prompted when omitted)"},
						},
						Action: cmdUsersAdd,
					},
					{
						Name:  "list",
						Usage: "List users",
						Flags: []cli.Flag{
							&cli.IntFlag{Name: "limit", Aliases: []string{"n"}, Value: 50, Usage: "Maximum users to show"},
						},
						Action: cmdUsersList,
					},
				},
			},
			{
				Name:   "tools",
				Usage:  "List the tools the assistant may call",
				Action: cmdTools,
			},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			if cmd.Args().Len() > 0 {
				return fmt.Errorf("unknown command %q (see buzz --help)", cmd.Args().First())
			}
			return cli.ShowAppHelp(cmd)
		},
	}
}
