package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/fatih/color"
	"github.com/urfave/cli/v2"

	"github.com/layer-3/passport/service"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app := &cli.App{
		Name:  "passport",
		Usage: "Sign in to the identity service with a password, a federated token or a wallet",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    flagAPI,
				Usage:   "Base URL of the identity service",
				EnvVars: []string{"PASSPORT_API_BASE_URL"},
			},
			&cli.BoolFlag{
				Name:    flagInsecure,
				Aliases: []string{"k"},
				Usage:   "Allow insecure TLS connections to the identity service",
			},
			&cli.BoolFlag{
				Name:    flagYes,
				Aliases: []string{"y"},
				Usage:   "Approve wallet signature requests without asking",
			},
		},
		Commands: []*cli.Command{
			{
				Name:  "signup",
				Usage: "Create an account and sign in",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: flagUsername, Aliases: []string{"u"}, Required: true},
					&cli.StringFlag{Name: flagEmail, Aliases: []string{"e"}, Required: true},
					&cli.StringFlag{Name: flagPassword, Aliases: []string{"p"}},
				},
				Action: signup,
			},
			{
				Name:  "login",
				Usage: "Sign in with email and password",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: flagEmail, Aliases: []string{"e"}, Required: true},
					&cli.StringFlag{Name: flagPassword, Aliases: []string{"p"}},
				},
				Action: login,
			},
			{
				Name:      "federated-login",
				Usage:     "Sign in with an identity provider token",
				ArgsUsage: "ID_TOKEN",
				Action:    federatedLogin,
			},
			{
				Name:  "wallet",
				Usage: "Sign in with or link an Ethereum wallet",
				Subcommands: []*cli.Command{
					{
						Name:   "login",
						Usage:  "Sign in by signing a one-time nonce",
						Flags:  []cli.Flag{cliFlagAddress, cliFlagSignature},
						Action: walletLogin,
					},
					{
						Name:   "link",
						Usage:  "Link a wallet to the signed in account",
						Flags:  []cli.Flag{cliFlagAddress, cliFlagSignature},
						Action: walletLink,
					},
				},
			},
			{
				Name:   "whoami",
				Usage:  "Show the signed in account",
				Action: whoami,
			},
			{
				Name:   "logout",
				Usage:  "Sign out and forget the stored credential",
				Action: logout,
			},
			{
				Name:   "watch",
				Usage:  "Print session transitions published on the event bus",
				Action: watch,
			},
		},
	}

	if err := app.RunContext(ctx, os.Args); err != nil {
		msg := service.UserMessage(err)
		if msg == service.GenericMessage {
			// usage and configuration errors carry no kind
			msg = err.Error()
		}
		color.Red("\n%s\n\n", msg)
		os.Exit(1)
	}
}
