package main

import "github.com/urfave/cli/v2"

const (
	flagAPI       = "api"
	flagAddress   = "address"
	flagEmail     = "email"
	flagInsecure  = "insecure"
	flagPassword  = "password"
	flagSignature = "signature"
	flagUsername  = "username"
	flagYes       = "yes"
)

var (
	cliFlagAddress = &cli.StringFlag{
		Name:  flagAddress,
		Usage: "Wallet address a signature was produced with (requires --signature)",
	}
	cliFlagSignature = &cli.StringFlag{
		Name: flagSignature,
		Usage: "Signature over the nonce produced outside this CLI " +
			"(skips the local wallet)",
	}
)
