package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/Covenant-Gate/Covenantgate/internal/domain/auth"
)

var hashArgon2id bool

var hashKeyCmd = &cobra.Command{
	Use:   "hash-key [api-key]",
	Short: "Generate a hash for an API key",
	Long: `Generate a hash of an API key for use in config.

The default output format is "sha256:<hex>" which can be directly used
in the auth.api_keys.key_hash field. With --argon2id the output is a
PHC-format Argon2id hash, slower to verify but resistant to offline
brute force if the config leaks.

Example:
  covenant-gate hash-key "my-secret-api-key"
  # Output: sha256:7d5e8c...

Security note: The key will appear in shell history.
Consider clearing history after use or using environment variable:
  covenant-gate hash-key "$MY_API_KEY"`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		key := args[0]
		if hashArgon2id {
			hash, err := auth.HashKeyArgon2id(key)
			if err != nil {
				return fmt.Errorf("argon2id hash failed: %w", err)
			}
			fmt.Println(hash)
			return nil
		}
		fmt.Printf("sha256:%s\n", auth.HashKey(key))
		return nil
	},
}

func init() {
	hashKeyCmd.Flags().BoolVar(&hashArgon2id, "argon2id", false, "Produce a PHC-format Argon2id hash instead of sha256")
	rootCmd.AddCommand(hashKeyCmd)
}
