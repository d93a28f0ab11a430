package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/Covenant-Gate/Covenantgate/internal/adapter/outbound/journal"
	"github.com/Covenant-Gate/Covenantgate/internal/adapter/outbound/sqlite"
	"github.com/Covenant-Gate/Covenantgate/internal/config"
	"github.com/Covenant-Gate/Covenantgate/internal/domain/genome"
	"github.com/Covenant-Gate/Covenantgate/internal/domain/receipt"
)

var verifyCmd = &cobra.Command{
	Use:   "verify",
	Short: "Verify the policy artifact and receipt chain",
	Long: `Verify the configured policy artifact and receipt chain.

The artifact is loaded with full signature verification; in production
posture the build manifest is re-hashed against the repository. The
receipt chain is walked from the genesis receipt and every hash link is
checked.

Exit code is non-zero when either check fails.`,
	RunE: runVerify,
}

func init() {
	rootCmd.AddCommand(verifyCmd)
}

func runVerify(cmd *cobra.Command, args []string) error {
	cfg, err := config.LoadConfigRaw()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: parseLogLevel(cfg.Server.LogLevel),
	}))

	// Artifact check.
	if cfg.Artifact.Path == "" {
		return fmt.Errorf("artifact.path is not configured")
	}
	artifact, err := genome.NewLoader(logger).Load(
		cfg.Artifact.Path,
		genome.Posture(cfg.Artifact.Posture),
		cfg.Artifact.RepoRoot,
	)
	if err != nil {
		return fmt.Errorf("artifact verification failed: %w", err)
	}
	fmt.Printf("artifact ok: %s %s (%d capabilities, %d invariants)\n",
		artifact.ID(), artifact.Version, len(artifact.Capabilities), len(artifact.Invariants))

	// Chain check, only for persistent stores.
	var chain receipt.Chain
	switch cfg.Store.Kind {
	case "sqlite":
		store, err := sqlite.Open(cfg.Store.Path)
		if err != nil {
			return fmt.Errorf("open sqlite receipt store: %w", err)
		}
		defer func() { _ = store.Close() }()
		chain = store
	case "journal":
		j, err := journal.Open(cfg.Store.Path, logger)
		if err != nil {
			return fmt.Errorf("open receipt journal: %w", err)
		}
		defer func() { _ = j.Close() }()
		chain = j
	default:
		fmt.Println("chain skipped: store kind is memory")
		return nil
	}

	ctx := context.Background()
	brk, err := receipt.ValidateChain(ctx, chain)
	if err != nil {
		return fmt.Errorf("chain read failed: %w", err)
	}
	if brk != nil {
		return fmt.Errorf("chain broken at sequence %d: %s", brk.Sequence, brk.Detail)
	}

	length, err := chain.Len(ctx)
	if err != nil {
		return fmt.Errorf("chain length read failed: %w", err)
	}
	fmt.Printf("chain ok: %d receipts, every link verified\n", length)
	return nil
}
