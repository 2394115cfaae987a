package commands

import (
	"encoding/hex"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/go-the-way/novnc4svc/pkg/vncauth"
)

func NewAuthResponseCmd() *cobra.Command {
	var (
		challengeHex string
		target       string
	)

	cmd := &cobra.Command{
		Use:   "auth-response",
		Short: "Compute a VNC authentication response",
		Long: `Encrypt a 16-byte VNC authentication challenge with the password and
print the response as hex. The password comes from the keyring entry for
--target, the ` + PasswordEnv + ` variable, or a prompt.`,
		Example: "  novnc4svc auth-response --challenge 000102030405060708090a0b0c0d0e0f",
		RunE: func(cmd *cobra.Command, args []string) error {
			challenge, err := hex.DecodeString(challengeHex)
			if err != nil {
				return fmt.Errorf("invalid challenge: %w", err)
			}
			if len(challenge) != vncauth.ChallengeSize {
				return fmt.Errorf("challenge must be %d bytes, got %d", vncauth.ChallengeSize, len(challenge))
			}

			password, err := passwordSource(target, cmd.ErrOrStderr())()
			if err != nil {
				return err
			}
			response, err := vncauth.Response(password, challenge)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), hex.EncodeToString(response))
			return nil
		},
	}

	cmd.Flags().StringVar(&challengeHex, "challenge", "", "Challenge as 32 hex digits")
	cmd.Flags().StringVar(&target, "target", "", "Keyring target holding the password")
	_ = cmd.MarkFlagRequired("challenge")

	return cmd
}
