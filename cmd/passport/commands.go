package main

import (
	"github.com/pkg/errors"
	"github.com/urfave/cli/v2"

	"github.com/layer-3/passport/adapters/events"
	"github.com/layer-3/passport/core"
)

func signup(c *cli.Context) error {
	password, err := passwordFlag(c)
	if err != nil {
		return err
	}
	p, err := getPassport(c)
	if err != nil {
		return err
	}
	defer p.Close()

	user, err := p.Signup(c.Context, c.String(flagUsername), c.String(flagEmail), password)
	if err != nil {
		return err
	}
	okColor.Printf("\nWelcome, %s!\n\n", user.Username)
	return nil
}

func login(c *cli.Context) error {
	password, err := passwordFlag(c)
	if err != nil {
		return err
	}
	p, err := getPassport(c)
	if err != nil {
		return err
	}
	defer p.Close()

	user, err := p.LoginWithPassword(c.Context, c.String(flagEmail), password)
	if err != nil {
		return err
	}
	okColor.Printf("\nSigned in as %s.\n\n", user.Username)
	return nil
}

func federatedLogin(c *cli.Context) error {
	if c.Args().Len() != 1 {
		return errors.New("federated-login requires exactly one argument, the id token")
	}
	p, err := getPassport(c)
	if err != nil {
		return err
	}
	defer p.Close()

	user, err := p.LoginWithFederatedToken(c.Context, c.Args().First())
	if err != nil {
		return err
	}
	okColor.Printf("\nSigned in as %s.\n\n", user.Username)
	return nil
}

// externalSignature returns the --address and --signature pair, if given
func externalSignature(c *cli.Context) (string, string, bool, error) {
	address, signature := c.String(flagAddress), c.String(flagSignature)
	if (address == "") != (signature == "") {
		return "", "", false, errors.New("--address and --signature must be used together")
	}
	return address, signature, address != "", nil
}

func walletLogin(c *cli.Context) error {
	address, signature, external, err := externalSignature(c)
	if err != nil {
		return err
	}
	p, err := getPassport(c)
	if err != nil {
		return err
	}
	defer p.Close()

	var user core.User
	if external {
		user, err = p.LoginWithWallet(c.Context, address, signature)
	} else {
		user, err = p.LoginWithWalletFlow(c.Context)
	}
	if err != nil {
		return err
	}
	okColor.Printf("\nSigned in as %s with %s.\n\n", user.Username, user.WalletAddress)
	return nil
}

func walletLink(c *cli.Context) error {
	address, signature, external, err := externalSignature(c)
	if err != nil {
		return err
	}
	p, err := getPassport(c)
	if err != nil {
		return err
	}
	defer p.Close()

	if _, err := requireSession(c.Context, p); err != nil {
		return err
	}

	var user core.User
	if external {
		user, err = p.LinkWallet(c.Context, address, signature)
	} else {
		user, err = p.LinkWalletFlow(c.Context)
	}
	if err != nil {
		return err
	}
	okColor.Printf("\nLinked %s to %s.\n\n", user.WalletAddress, user.Username)
	return nil
}

func whoami(c *cli.Context) error {
	p, err := getPassport(c)
	if err != nil {
		return err
	}
	defer p.Close()

	user, err := requireSession(c.Context, p)
	if err != nil {
		return err
	}
	printUser(user)
	return nil
}

func logout(c *cli.Context) error {
	p, err := getPassport(c)
	if err != nil {
		return err
	}
	defer p.Close()

	if err := p.Logout(c.Context); err != nil {
		return err
	}
	okColor.Printf("\nSigned out.\n\n")
	return nil
}

func watch(c *cli.Context) error {
	p, err := getPassport(c)
	if err != nil {
		return err
	}
	defer p.Close()

	messages, err := p.Transitions(c.Context)
	if err != nil {
		return errors.Wrap(err, "error subscribing to session transitions")
	}
	for msg := range messages {
		transition, err := events.DecodeTransition(msg)
		msg.Ack()
		if err != nil {
			return err
		}
		labelColor.Printf("%s ", transition.At.Format("15:04:05"))
		if transition.UserID != "" {
			flowColor.Printf("%-16s %s -> %s (%s)\n", transition.Op, transition.From, transition.To, transition.UserID)
		} else {
			flowColor.Printf("%-16s %s -> %s\n", transition.Op, transition.From, transition.To)
		}
	}
	return nil
}
