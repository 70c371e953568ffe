// Copyright 2018 The go-klaytn Authors
// This file is part of the go-klaytn library.
//
// The go-klaytn library is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// The go-klaytn library is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Lesser General Public License for more details.
//
// You should have received a copy of the GNU Lesser General Public License
// along with the go-klaytn library. If not, see <http://www.gnu.org/licenses/>.
//
// This file is derived from original_source/rpc.py's __main__ client driver.

package main

import (
	"crypto/sha256"
	"fmt"
	"math/rand"
	"os"
	"strconv"

	"gopkg.in/urfave/cli.v1"

	"github.com/joaomontenegro/chaind/blockchain/types"
	"github.com/joaomontenegro/chaind/common"
	"github.com/joaomontenegro/chaind/crypto"
	"github.com/joaomontenegro/chaind/rpc"
)

var app = cli.NewApp()

func init() {
	app.Name = "chaincli"
	app.Usage = "talk to a running chaind node over its RPC port"
	app.HideVersion = true
	app.HideHelp = true
	app.Commands = []cli.Command{
		helpCommand,
		genkeysCommand,
		versionCommand,
		txCommand,
		randomTxsCommand,
		badTxCommand,
		balanceCommand,
	}
}

var helpCommand = cli.Command{
	Name:  "help",
	Usage: "print usage and exit",
	Action: func(ctx *cli.Context) error {
		cli.ShowAppHelp(ctx)
		os.Exit(1)
		return nil
	},
}

var genkeysCommand = cli.Command{
	Name:  "genkeys",
	Usage: "generate and print a fresh private/public key pair",
	Action: func(ctx *cli.Context) error {
		priv, err := crypto.GenerateKey()
		if err != nil {
			return fmt.Errorf("generating key pair: %w", err)
		}
		addr := crypto.PubkeyToAddress(priv.PublicKey)
		fmt.Printf("Private: %s\n", crypto.PrivateKeyToHex(priv))
		fmt.Printf("Public:  %s\n", crypto.PublicKeyToHex(addr))
		return nil
	},
}

var versionCommand = cli.Command{
	Name:      "version",
	Usage:     "print the node's protocol version",
	ArgsUsage: "HOST PORT",
	Action: func(ctx *cli.Context) error {
		c, err := dial(ctx)
		if err != nil {
			return err
		}
		defer c.Close()

		v, err := c.Version()
		if err != nil {
			return fmt.Errorf("requesting version: %w", err)
		}
		fmt.Printf("Version: %d\n", v)
		return nil
	},
}

var txCommand = cli.Command{
	Name:      "tx",
	Usage:     "submit a signed transfer",
	ArgsUsage: "HOST PORT PRIV_HEX PUB_HEX TO_HEX [AMOUNT [NONCE]]",
	Action: func(ctx *cli.Context) error {
		args := ctx.Args()
		if len(args) < 5 {
			return fmt.Errorf("tx requires HOST PORT PRIV_HEX PUB_HEX TO_HEX [AMOUNT [NONCE]]")
		}

		priv, err := crypto.PrivateKeyFromHex(args.Get(2))
		if err != nil {
			return fmt.Errorf("invalid private key: %w", err)
		}
		fromAddr, err := crypto.PublicKeyFromHex(args.Get(3))
		if err != nil {
			return fmt.Errorf("invalid public key: %w", err)
		}
		toAddr, err := common.AddressFromHex(args.Get(4))
		if err != nil {
			return fmt.Errorf("invalid recipient address: %w", err)
		}

		amount := uint32(0)
		if len(args) > 5 {
			a, err := strconv.Atoi(args.Get(5))
			if err != nil {
				return fmt.Errorf("invalid amount %q: %w", args.Get(5), err)
			}
			amount = uint32(a)
		}

		nonce := uint32(rand.Intn(10000))
		if len(args) > 6 {
			n, err := strconv.Atoi(args.Get(6))
			if err != nil {
				return fmt.Errorf("invalid nonce %q: %w", args.Get(6), err)
			}
			nonce = uint32(n)
		}

		tx := types.NewTransaction(fromAddr, toAddr, amount, nonce)
		if err := tx.Sign(priv); err != nil {
			return fmt.Errorf("signing transaction: %w", err)
		}

		c, err := dial(ctx)
		if err != nil {
			return err
		}
		defer c.Close()

		return submit(c, tx)
	},
}

var randomTxsCommand = cli.Command{
	Name:      "randomtxs",
	Usage:     "submit one random zero-value transfer between fresh keys",
	ArgsUsage: "HOST PORT",
	Action: func(ctx *cli.Context) error {
		c, err := dial(ctx)
		if err != nil {
			return err
		}
		defer c.Close()

		tx, err := randomTransaction()
		if err != nil {
			return err
		}
		return submit(c, tx)
	},
}

var badTxCommand = cli.Command{
	Name:      "badtx",
	Usage:     "submit a signed transfer of 123 from a fresh, unfunded key to a made-up address",
	ArgsUsage: "HOST PORT",
	Action: func(ctx *cli.Context) error {
		c, err := dial(ctx)
		if err != nil {
			return err
		}
		defer c.Close()

		priv, err := crypto.GenerateKey()
		if err != nil {
			return fmt.Errorf("generating key pair: %w", err)
		}
		fromAddr := crypto.PubkeyToAddress(priv.PublicKey)
		toAddr := common.BytesToAddress(paddedHash("2222"))
		tx := types.NewTransaction(fromAddr, toAddr, 123, 0)
		if err := tx.Sign(priv); err != nil {
			return fmt.Errorf("signing transaction: %w", err)
		}

		return submit(c, tx)
	},
}

var balanceCommand = cli.Command{
	Name:      "balance",
	Usage:     "look up an address's balance",
	ArgsUsage: "HOST PORT ADDR_HEX",
	Action: func(ctx *cli.Context) error {
		args := ctx.Args()
		if len(args) < 3 {
			return fmt.Errorf("balance requires HOST PORT ADDR_HEX")
		}
		addr, err := common.AddressFromHex(args.Get(2))
		if err != nil {
			return fmt.Errorf("invalid address: %w", err)
		}

		c, err := dial(ctx)
		if err != nil {
			return err
		}
		defer c.Close()

		bal, ok, err := c.GetBalance(addr)
		if err != nil {
			return fmt.Errorf("requesting balance: %w", err)
		}
		if !ok {
			fmt.Println("Balance: none")
			return nil
		}
		fmt.Printf("Balance: %d\n", bal)
		return nil
	},
}

func dial(ctx *cli.Context) (*rpc.Client, error) {
	args := ctx.Args()
	if len(args) < 2 {
		return nil, fmt.Errorf("%s requires HOST PORT", ctx.Command.Name)
	}
	port, err := strconv.Atoi(args.Get(1))
	if err != nil {
		return nil, fmt.Errorf("invalid port %q: %w", args.Get(1), err)
	}

	c := rpc.NewClient(args.Get(0), port)
	if err := c.Connect(); err != nil {
		return nil, err
	}
	return c, nil
}

func submit(c *rpc.Client, tx *types.Transaction) error {
	ok, err := c.AddTransaction(tx)
	if err != nil {
		return fmt.Errorf("submitting transaction: %w", err)
	}
	if ok {
		fmt.Printf("Added: %s\n", tx)
	} else {
		fmt.Printf("Failed: %s\n", tx)
	}
	return nil
}

func randomTransaction() (*types.Transaction, error) {
	priv, err := crypto.GenerateKey()
	if err != nil {
		return nil, fmt.Errorf("generating sender key pair: %w", err)
	}
	toPriv, err := crypto.GenerateKey()
	if err != nil {
		return nil, fmt.Errorf("generating recipient key pair: %w", err)
	}
	fromAddr := crypto.PubkeyToAddress(priv.PublicKey)
	toAddr := crypto.PubkeyToAddress(toPriv.PublicKey)
	nonce := uint32(rand.Intn(10000))

	tx := types.NewTransaction(fromAddr, toAddr, 0, nonce)
	if err := tx.Sign(priv); err != nil {
		return nil, fmt.Errorf("signing transaction: %w", err)
	}
	return tx, nil
}

// paddedHash pads a SHA-256 digest out to common.AddrLen bytes, standing in
// for a nonexistent "address" the way original_source/rpc.py's badtx command
// derives one from an arbitrary digest.
func paddedHash(seed string) []byte {
	sum := sha256.Sum256([]byte(seed))
	out := make([]byte, common.AddrLen)
	copy(out, sum[:])
	return out
}

func main() {
	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
