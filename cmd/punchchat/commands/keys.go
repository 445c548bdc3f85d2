package commands

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/opd-ai/punchchat/crypto"
)

// new: generate a secret, show it once and store it.
func newCmd(g *globals) *cobra.Command {
	var force bool

	cmd := &cobra.Command{
		Use:   "new",
		Short: "Create a new secret key",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := g.secretStore()
			if err != nil {
				return err
			}
			defer closeStore(store)

			if store.Exists() && !force {
				return fmt.Errorf("a secret already exists in %s (use --force to replace it)", g.home)
			}

			secret, err := crypto.GenerateSecret()
			if err != nil {
				return err
			}
			id, err := crypto.DeriveIdentity(secret)
			if err != nil {
				return err
			}
			if err := store.Store(secret); err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintln(out, "The secret key only shows once! Please keep it safe.")
			fmt.Fprintln(out)
			fmt.Fprintln(out, secret)
			fmt.Fprintln(out)
			fmt.Fprintln(out, "Peer ID:", id.ID.String())
			return nil
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "replace an existing secret")
	return cmd
}

// import: store an existing secret.
func importCmd(g *globals) *cobra.Command {
	return &cobra.Command{
		Use:   "import <secret>",
		Short: "Store an existing secret key",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := crypto.DeriveIdentity(args[0])
			if err != nil {
				return err
			}

			store, err := g.secretStore()
			if err != nil {
				return err
			}
			defer closeStore(store)

			if err := store.Store(args[0]); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "Peer ID:", id.ID.String())
			return nil
		},
	}
}

// id: print the peer id of the stored secret.
func idCmd(g *globals) *cobra.Command {
	return &cobra.Command{
		Use:   "id",
		Short: "Print your peer id",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := g.secretStore()
			if err != nil {
				return err
			}
			defer closeStore(store)

			secret, err := store.Load()
			if err != nil {
				return err
			}
			id, err := crypto.DeriveIdentity(secret)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), id.ID.String())
			return nil
		},
	}
}

// passwd: change the passphrase of an encrypted secret, or encrypt a
// plaintext one.
func passwdCmd(g *globals) *cobra.Command {
	return &cobra.Command{
		Use:   "passwd",
		Short: "Set or change the passphrase protecting the stored secret",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			plain := crypto.NewFileSecretStore(g.home)
			encryptedPath := filepath.Join(g.home, crypto.EncryptedSecretFileName)

			if _, err := os.Stat(encryptedPath); err == nil {
				fmt.Fprintln(cmd.ErrOrStderr(), "Current passphrase")
				current, err := g.readPassphrase()
				if err != nil {
					return err
				}
				store, err := crypto.NewEncryptedSecretStore(g.home, current)
				if err != nil {
					return err
				}
				defer store.Close()

				fmt.Fprintln(cmd.ErrOrStderr(), "New passphrase")
				next, err := g.readPassphrase()
				if err != nil {
					return err
				}
				if err := store.RotatePassphrase(next); err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), "Passphrase changed.")
				return nil
			}

			secret, err := plain.Load()
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.ErrOrStderr(), "New passphrase")
			next, err := g.readPassphrase()
			if err != nil {
				return err
			}
			store, err := crypto.NewEncryptedSecretStore(g.home, next)
			if err != nil {
				return err
			}
			defer store.Close()

			if err := store.Store(secret); err != nil {
				return err
			}
			if err := os.Remove(plain.Path()); err != nil {
				return fmt.Errorf("failed to remove plaintext secret: %w", err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), "Secret encrypted; pass -p from now on.")
			return nil
		},
	}
}
