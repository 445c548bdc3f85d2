package commands

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/opd-ai/punchchat/crypto"
)

// globals shared by the subcommands, set from persistent flags.
type globals struct {
	home          string
	askPassphrase bool

	// readPassphrase is swapped in tests.
	readPassphrase func() ([]byte, error)
}

// Execute runs the punchchat CLI.
func Execute() error {
	return newRootCmd().Execute()
}

func newRootCmd() *cobra.Command {
	return newRootCmdWith(&globals{readPassphrase: promptPassphrase})
}

func newRootCmdWith(g *globals) *cobra.Command {
	root := &cobra.Command{
		Use:          "punchchat",
		Short:        "Peer-to-peer chat through NATs with relay-assisted hole punching",
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if g.home == "" {
				dir, err := crypto.DefaultHome()
				if err != nil {
					return err
				}
				g.home = dir
			}
			return nil
		},
	}

	root.PersistentFlags().StringVar(&g.home, "home", "", "state dir (default ~/.punchchat)")
	root.PersistentFlags().BoolVarP(&g.askPassphrase, "passphrase", "p", false, "protect the stored secret with a passphrase (prompted)")

	root.AddCommand(newCmd(g), importCmd(g), idCmd(g), passwdCmd(g), startCmd(g))
	return root
}

// secretStore opens the secret store, prompting for a passphrase if asked to.
func (g *globals) secretStore() (crypto.SecretStore, error) {
	var passphrase []byte
	if g.askPassphrase {
		p, err := g.readPassphrase()
		if err != nil {
			return nil, err
		}
		if len(p) == 0 {
			return nil, fmt.Errorf("passphrase cannot be empty")
		}
		passphrase = p
	}
	return crypto.OpenSecretStore(g.home, passphrase)
}

// closeStore wipes key material held by an encrypted store.
func closeStore(store crypto.SecretStore) {
	if c, ok := store.(interface{ Close() error }); ok {
		c.Close()
	}
}

func promptPassphrase() ([]byte, error) {
	fd := int(os.Stdin.Fd())
	if !term.IsTerminal(fd) {
		return nil, fmt.Errorf("no terminal available for the passphrase prompt")
	}

	fmt.Fprint(os.Stderr, "Passphrase: ")
	passphrase, err := term.ReadPassword(fd)
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return nil, fmt.Errorf("failed to read passphrase: %w", err)
	}
	return passphrase, nil
}
