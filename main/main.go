// (c) 2023, Fluence Labs Limited. All rights reserved.
// See the file LICENSE for licensing terms.

package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/ava-labs/avalanchego/utils/formatting"
	"github.com/spf13/cobra"

	"github.com/fluencelabs/aquavm-sub004/interpreterdata"
	"github.com/fluencelabs/aquavm-sub004/signatures"
)

const (
	Name    = "aquavm"
	Version = "0.1.0"
)

var errNoPeerID = errors.New("a peer id or a secret key is required")

func main() {
	if err := newRootCommand().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:          Name,
		Short:        "Runs AIR scripts on a peer",
		SilenceUsage: true,
	}
	addGlobalFlags(root.PersistentFlags())
	root.AddCommand(
		newRunCommand(),
		newServeCommand(),
		newKeygenCommand(),
		newVersionCommand(),
	)
	return root
}

func newVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Prints the versions and exits",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "%s@%s interpreter=%s data=%s\n",
				Name,
				Version,
				interpreterdata.InterpreterVersion,
				interpreterdata.DataVersion,
			)
		},
	}
}

func newKeygenCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "keygen",
		Short: "Generates a peer key pair",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			v, err := getViper(cmd)
			if err != nil {
				return err
			}
			format, _, err := peerKey(v)
			if err != nil {
				return err
			}
			keyPair, err := signatures.NewKeyPair(format)
			if err != nil {
				return err
			}
			secret, err := formatting.EncodeWithChecksum(formatting.CB58, keyPair.Secret())
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "peer-id: %s\nsecret-key: %s\n", keyPair.PublicKey(), secret)
			return nil
		},
	}
}
