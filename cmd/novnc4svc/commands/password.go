package commands

import (
	"bufio"
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"
)

func NewPasswordCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "password",
		Short: "Manage VNC passwords in the system keyring",
	}
	cmd.AddCommand(newPasswordSetCmd())
	cmd.AddCommand(newPasswordDeleteCmd())
	cmd.AddCommand(newPasswordListCmd())
	return cmd
}

func newPasswordSetCmd() *cobra.Command {
	var fromStdin bool

	cmd := &cobra.Command{
		Use:   "set <target>",
		Short: "Store the VNC password for a target",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			target := args[0]

			var password string
			if fromStdin || !stdinIsTerminal() {
				line, err := bufio.NewReader(cmd.InOrStdin()).ReadString('\n')
				if err != nil && line == "" {
					return fmt.Errorf("failed to read password: %w", err)
				}
				password = strings.TrimRight(line, "\r\n")
			} else {
				out := cmd.ErrOrStderr()
				fmt.Fprint(out, "VNC password: ")
				pw, err := readPassword()
				fmt.Fprintln(out)
				if err != nil {
					return err
				}
				fmt.Fprint(out, "Confirm password: ")
				confirm, err := readPassword()
				fmt.Fprintln(out)
				if err != nil {
					return err
				}
				if pw != confirm {
					return errors.New("passwords do not match")
				}
				password = pw
			}
			if password == "" {
				return errors.New("password must not be empty")
			}
			if len(password) > 8 {
				fmt.Fprintln(cmd.ErrOrStderr(), "Note: VNC authentication only uses the first 8 characters.")
			}

			store, err := openPasswordStore()
			if err != nil {
				return err
			}
			if err := store.Store(target, password); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Password for %s stored in %s\n", target, store.Backend())
			return nil
		},
	}

	cmd.Flags().BoolVar(&fromStdin, "stdin", false, "Read the password from stdin")
	return cmd
}

func newPasswordDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <target>",
		Short: "Remove the stored VNC password for a target",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := openPasswordStore()
			if err != nil {
				return err
			}
			if err := store.Delete(args[0]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Password for %s removed\n", args[0])
			return nil
		},
	}
}

func newPasswordListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List targets with a stored password",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := openPasswordStore()
			if err != nil {
				return err
			}
			targets, err := store.Targets()
			if err != nil {
				return err
			}
			if len(targets) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No stored passwords.")
				return nil
			}
			for _, t := range targets {
				fmt.Fprintln(cmd.OutOrStdout(), t)
			}
			return nil
		},
	}
}
