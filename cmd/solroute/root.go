package main

import (
	"context"

	"github.com/spf13/cobra"
)

var version = "dev"

func Execute(ctx context.Context) error {
	root := &cobra.Command{Use: "solroute", Short: "Solana DEX aggregation router"}
	root.AddCommand(serveCmd())
	return root.ExecuteContext(ctx)
}
