package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/fatih/color"
	"github.com/pkg/errors"
	"github.com/urfave/cli/v2"

	"github.com/layer-3/passport"
	"github.com/layer-3/passport/config"
	"github.com/layer-3/passport/core"
	"github.com/layer-3/passport/service"
)

var (
	labelColor = color.New(color.FgCyan)
	okColor    = color.New(color.FgGreen)
	flowColor  = color.New(color.FgYellow)
)

// getPassport loads configuration, applies global flags and restores any
// persisted session
func getPassport(c *cli.Context) (*passport.Passport, error) {
	cfg, err := config.LoadClient()
	if err != nil {
		return nil, err
	}
	if api := c.String(flagAPI); api != "" {
		cfg.APIBaseURL = api
	}
	if c.Bool(flagInsecure) {
		cfg.AllowInsecure = true
	}

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: cfg.LogLevel}))

	opts := []passport.Option{passport.WithFlowObserver(printFlowState)}
	if !c.Bool(flagYes) {
		opts = append(opts, passport.WithConfirm(confirmSignature(os.Stdin, os.Stdout)))
	}

	p, err := passport.New(cfg, logger, opts...)
	if err != nil {
		return nil, errors.Wrap(err, "error creating passport client")
	}
	if err := p.Hydrate(c.Context); err != nil {
		p.Close()
		return nil, err
	}
	return p, nil
}

// requireSession blocks until the route guard settles and returns the
// signed in user, or an error naming where to sign in
func requireSession(ctx context.Context, p *passport.Passport) (core.User, error) {
	decisions := make(chan service.Decision, 16)
	detach := p.Guard.Attach(p, func(d service.Decision) {
		select {
		case decisions <- d:
		default:
		}
	})
	defer detach()

	for {
		select {
		case d := <-decisions:
			switch d {
			case service.Allow:
				if user := p.Session().User; user != nil {
					return *user, nil
				}
			case service.Redirect:
				return core.User{}, errors.Errorf(
					"not signed in; run %q first",
					"passport login",
				)
			}
		case <-ctx.Done():
			return core.User{}, ctx.Err()
		}
	}
}

func confirmSignature(in io.Reader, out io.Writer) func(ctx context.Context, address, text string) (bool, error) {
	reader := bufio.NewReader(in)
	return func(ctx context.Context, address, text string) (bool, error) {
		labelColor.Fprintf(out, "Sign with %s:\n", address)
		fmt.Fprintf(out, "  %s\n", text)
		fmt.Fprint(out, "Approve? [y/N] ")
		answer, err := readLine(reader)
		if err != nil {
			return false, err
		}
		answer = strings.ToLower(answer)
		return answer == "y" || answer == "yes", nil
	}
}

func printFlowState(state service.FlowState) {
	flowColor.Fprintf(os.Stderr, "> %s\n", state)
}

// passwordFlag returns the password flag or prompts for it
func passwordFlag(c *cli.Context) (string, error) {
	if password := c.String(flagPassword); password != "" {
		return password, nil
	}
	fmt.Print("Password: ")
	password, err := readLine(bufio.NewReader(os.Stdin))
	if err != nil {
		return "", errors.Wrap(err, "error reading password")
	}
	if password == "" {
		return "", errors.New("password is required")
	}
	return password, nil
}

func readLine(reader *bufio.Reader) (string, error) {
	line, err := reader.ReadString('\n')
	if err != nil && !(errors.Is(err, io.EOF) && line != "") {
		return "", err
	}
	return strings.TrimSpace(line), nil
}

func printUser(user core.User) {
	labelColor.Print("ID:       ")
	fmt.Println(user.ID)
	labelColor.Print("Username: ")
	fmt.Println(user.Username)
	labelColor.Print("Email:    ")
	fmt.Println(user.Email)
	if user.WalletAddress != "" {
		labelColor.Print("Wallet:   ")
		fmt.Println(user.WalletAddress)
	}
}
