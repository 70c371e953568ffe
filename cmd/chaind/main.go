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
// This file is derived from cmd/kcn/main.go's urfave/cli app assembly.

package main

import (
	"crypto/ecdsa"
	"fmt"
	"os"
	"strconv"

	"gopkg.in/urfave/cli.v1"

	"github.com/joaomontenegro/chaind/common"
	"github.com/joaomontenegro/chaind/crypto"
	"github.com/joaomontenegro/chaind/log"
	"github.com/joaomontenegro/chaind/node"
	"github.com/joaomontenegro/chaind/params"
)

var logger = log.NewModuleLogger(log.CMDChaind)

var app = cli.NewApp()

func init() {
	app.Name = "chaind"
	app.Usage = "a peer-to-peer proof-of-work cryptocurrency node"
	app.HideVersion = true
	app.HideHelp = true
	app.Action = runDefault
	app.Commands = []cli.Command{
		helpCommand,
		genkeysCommand,
		rpcCommand,
		minerCommand,
	}
}

// runDefault is the `(no args)` mode: run the node with the listen server
// on the default port and RPC disabled.
func runDefault(ctx *cli.Context) error {
	return runNode(node.Config{
		RunServer:  true,
		ServerPort: params.DefaultServerPort,
	})
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

var rpcCommand = cli.Command{
	Name:      "rpc",
	Usage:     "run the node with the local operator RPC interface enabled",
	ArgsUsage: "[port] [rpc_port]",
	Action: func(ctx *cli.Context) error {
		port := params.DefaultRPCNodePort
		rpcPort := params.DefaultRPCPort

		if ctx.NArg() > 0 {
			p, err := strconv.Atoi(ctx.Args().Get(0))
			if err != nil {
				return fmt.Errorf("invalid port %q: %w", ctx.Args().Get(0), err)
			}
			port = p
		}
		if ctx.NArg() > 1 {
			p, err := strconv.Atoi(ctx.Args().Get(1))
			if err != nil {
				return fmt.Errorf("invalid rpc port %q: %w", ctx.Args().Get(1), err)
			}
			rpcPort = p
		}

		return runNode(node.Config{
			RunServer:  true,
			ServerPort: port,
			RunRPC:     true,
			RPCPort:    rpcPort,
		})
	},
}

var minerCommand = cli.Command{
	Name:      "miner",
	Usage:     "run the node as a miner",
	ArgsUsage: "[priv_key_hex pub_key_hex] [port]",
	Action: func(ctx *cli.Context) error {
		port := params.DefaultMinerPort

		priv, addr, err := defaultMinerKey()
		if err != nil {
			return err
		}

		args := ctx.Args()
		switch len(args) {
		case 0:
			// generated above
		case 1:
			return fmt.Errorf("miner requires both priv_key_hex and pub_key_hex, or neither")
		case 2:
			priv, addr, err = parseKeyPair(args.Get(0), args.Get(1))
			if err != nil {
				return err
			}
		case 3:
			priv, addr, err = parseKeyPair(args.Get(0), args.Get(1))
			if err != nil {
				return err
			}
			portArg, err := strconv.Atoi(args.Get(2))
			if err != nil {
				return fmt.Errorf("invalid port %q: %w", args.Get(2), err)
			}
			port = portArg
		default:
			return fmt.Errorf("too many arguments for miner")
		}

		return runNode(node.Config{
			RunServer:  true,
			ServerPort: port,
			IsMiner:    true,
			MinerAddr:  addr,
			MinerPriv:  priv,
		})
	},
}

func defaultMinerKey() (*ecdsa.PrivateKey, common.Address, error) {
	priv, err := crypto.GenerateKey()
	if err != nil {
		return nil, common.Address{}, fmt.Errorf("generating miner key pair: %w", err)
	}
	return priv, crypto.PubkeyToAddress(priv.PublicKey), nil
}

func parseKeyPair(privHex, pubHex string) (*ecdsa.PrivateKey, common.Address, error) {
	priv, err := crypto.PrivateKeyFromHex(privHex)
	if err != nil {
		return nil, common.Address{}, fmt.Errorf("invalid private key: %w", err)
	}
	addr, err := crypto.PublicKeyFromHex(pubHex)
	if err != nil {
		return nil, common.Address{}, fmt.Errorf("invalid public key: %w", err)
	}
	return priv, addr, nil
}

func runNode(cfg node.Config) error {
	n, err := node.New(cfg)
	if err != nil {
		logger.Crit("failed to configure node", "err", err)
	}
	return n.Start()
}

func main() {
	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
