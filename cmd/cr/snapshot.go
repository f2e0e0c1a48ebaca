package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"golang.org/x/term"
)

// PassphraseEnv lets scripts supply the snapshot key passphrase.
const PassphraseEnv = "CR_PASSPHRASE"

// readPassphrase prompts on the terminal with echo off. Without a terminal
// the passphrase must come from CR_PASSPHRASE.
func readPassphrase(prompt string) (string, error) {
	if p := os.Getenv(PassphraseEnv); p != "" {
		return p, nil
	}
	fd := int(os.Stdin.Fd())
	if !term.IsTerminal(fd) {
		return "", fmt.Errorf("no terminal to prompt for a passphrase, set %s", PassphraseEnv)
	}
	fmt.Fprint(os.Stderr, prompt)
	b, err := term.ReadPassword(fd)
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return "", fmt.Errorf("reading passphrase: %w", err)
	}
	return string(b), nil
}

func newPassphrase() (string, error) {
	if p := os.Getenv(PassphraseEnv); p != "" {
		return p, nil
	}
	p, err := readPassphrase("New passphrase: ")
	if err != nil {
		return "", err
	}
	again, err := readPassphrase("Repeat passphrase: ")
	if err != nil {
		return "", err
	}
	if p != again {
		return "", errors.New("passphrases do not match")
	}
	return p, nil
}

// snapshot command
var snapshotCmd = &cobra.Command{
	Use:   "snapshot",
	Short: "Export and fetch database snapshots",
}

var snapshotExportCmd = &cobra.Command{
	Use:   "export",
	Short: "Write a snapshot of the repository database",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd.Context(), "ExportSnapshot")
		if err != nil {
			return err
		}
		defer a.Close()

		info, err := a.ExportSnapshot(cmd.Context())
		if err != nil {
			return fmt.Errorf("exporting snapshot: %w", err)
		}
		fmt.Printf("Exported %s (%d bytes)\n", info.Name, info.Size)
		return nil
	},
}

var snapshotListCmd = &cobra.Command{
	Use:   "list",
	Short: "List stored snapshots",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd.Context(), "ListSnapshots")
		if err != nil {
			return err
		}
		defer a.Close()

		infos, err := a.ListSnapshots(cmd.Context())
		if err != nil {
			return err
		}
		if len(infos) == 0 {
			fmt.Println("No snapshots.")
			return nil
		}
		printSnapshots(infos)
		return nil
	},
}

var snapshotFetchCmd = &cobra.Command{
	Use:   "fetch [NAME]",
	Short: "Download and decrypt a snapshot (default: the latest)",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		dest, _ := cmd.Flags().GetString("dest")
		name := ""
		if len(args) > 0 {
			name = args[0]
		}

		a, err := newApp(cmd.Context(), "FetchSnapshot")
		if err != nil {
			return err
		}
		defer a.Close()

		var passphrase string
		if a.Encrypted() {
			if passphrase, err = readPassphrase("Passphrase: "); err != nil {
				return err
			}
		}

		fetched, err := a.FetchSnapshot(cmd.Context(), name, dest, passphrase)
		if err != nil {
			return fmt.Errorf("fetching snapshot: %w", err)
		}
		fmt.Printf("Wrote %s to %s\n", fetched, dest)
		return nil
	},
}

// keys command
var keysCmd = &cobra.Command{
	Use:   "keys",
	Short: "Manage the snapshot key pair",
}

var keysInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Generate the snapshot key pair",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd.Context(), "SetupKeys")
		if err != nil {
			return err
		}
		defer a.Close()

		passphrase, err := newPassphrase()
		if err != nil {
			return err
		}
		if err := a.SetupKeys(passphrase); err != nil {
			return err
		}
		if pub, err := a.PublicKey(); err == nil {
			fmt.Printf("Public key: %s\n", pub)
		}
		return nil
	},
}

var keysPasswdCmd = &cobra.Command{
	Use:   "passwd",
	Short: "Change the private key passphrase",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd.Context(), "ChangePassphrase")
		if err != nil {
			return err
		}
		defer a.Close()

		old, err := readPassphrase("Current passphrase: ")
		if err != nil {
			return err
		}
		// CR_PASSPHRASE only supplies the current one here
		os.Unsetenv(PassphraseEnv)
		next, err := newPassphrase()
		if err != nil {
			return err
		}
		if err := a.ChangePassphrase(old, next); err != nil {
			return err
		}
		fmt.Println("Passphrase changed.")
		return nil
	},
}

var keysShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the public key snapshots are sealed to",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd.Context(), "PublicKey")
		if err != nil {
			return err
		}
		defer a.Close()

		pub, err := a.PublicKey()
		if err != nil {
			return err
		}
		fmt.Println(pub)
		return nil
	},
}

func init() {
	snapshotCmd.AddCommand(snapshotExportCmd)
	snapshotCmd.AddCommand(snapshotListCmd)
	snapshotCmd.AddCommand(snapshotFetchCmd)
	snapshotFetchCmd.Flags().StringP("dest", "o", "", "File to write the database to")
	snapshotFetchCmd.MarkFlagRequired("dest")

	keysCmd.AddCommand(keysInitCmd)
	keysCmd.AddCommand(keysPasswdCmd)
	keysCmd.AddCommand(keysShowCmd)
}
