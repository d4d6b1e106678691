package main

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/ioperator-ai/relay/cmd/relay/internal/serve"
)

func NewRelayCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "relay",
		Short: "iOperator chat relay - bridges the web chat widget to the conversation backend",
	}

	cmd.AddCommand(serve.NewServeCommand())

	return cmd
}

func main() {
	if err := NewRelayCommand().Execute(); err != nil {
		os.Exit(1)
	}
}
