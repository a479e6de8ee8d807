package main

import (
	"fmt"
	"io"
	"os"

	"github.com/axiomesh/governor/api"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/urfave/cli/v2"
)

var signCMD = &cli.Command{
	Name:      "sign",
	Usage:     "Sign a request for the " + api.CallerHeader + ", " + api.NonceHeader + " and " + api.SignatureHeader + " headers",
	ArgsUsage: "[body file, stdin when omitted]",
	Flags: []cli.Flag{
		&cli.StringFlag{
			Name:  "method",
			Usage: "HTTP method of the request",
			Value: "POST",
		},
		&cli.StringFlag{
			Name:     "path",
			Usage:    "Request path, e.g. /proposals/3/votes",
			Required: true,
		},
		&cli.Uint64Flag{
			Name:  "nonce",
			Usage: "Next nonce of the signer, see GET /accounts/:account/nonce",
		},
		&cli.StringFlag{
			Name:     "key",
			Usage:    "Hex encoded secp256k1 private key",
			EnvVars:  []string{"GOVERNOR_SIGN_KEY"},
			Required: true,
		},
	},
	Action: sign,
}

func sign(ctx *cli.Context) error {
	key, err := crypto.HexToECDSA(trimHexPrefix(ctx.String("key")))
	if err != nil {
		return fmt.Errorf("parse key: %w", err)
	}

	var body []byte
	if ctx.Args().Present() {
		body, err = os.ReadFile(ctx.Args().First())
	} else {
		body, err = io.ReadAll(os.Stdin)
	}
	if err != nil {
		return fmt.Errorf("read body: %w", err)
	}

	nonce := ctx.Uint64("nonce")
	sig, err := api.SignRequest(ctx.String("method"), ctx.String("path"), nonce, body, key)
	if err != nil {
		return err
	}

	fmt.Printf("%s: %s\n", api.CallerHeader, crypto.PubkeyToAddress(key.PublicKey))
	fmt.Printf("%s: %d\n", api.NonceHeader, nonce)
	fmt.Printf("%s: %s\n", api.SignatureHeader, sig)
	return nil
}

func trimHexPrefix(s string) string {
	if len(s) >= 2 && s[0] == '0' && (s[1] == 'x' || s[1] == 'X') {
		return s[2:]
	}
	return s
}
