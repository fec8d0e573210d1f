package main

import (
	"os"
	"path/filepath"

	cfg "github.com/tendermint/tendermint/config"
	"github.com/tendermint/tendermint/libs/cli"

	cmd "aclrelay/cmd/commands"
	nm "aclrelay/node"
)

func main() {
	cfg.DefaultTendermintDir = ".aclrelay"
	rootCmd := cmd.RootCmd

	rootCmd.AddCommand(
		cmd.InitFilesCmd,
		cmd.GenNodeKeyCmd,
		cmd.ShowNodeIDCmd,
		cmd.SeedRulesCmd,
		cmd.NewRunNodeCmd(nm.DefaultNewNode),
		cli.NewCompletionCmd(rootCmd, true),
	)

	baseCmd := cli.PrepareBaseCmd(rootCmd, "ACLRELAY", os.ExpandEnv(filepath.Join("$HOME", cfg.DefaultTendermintDir)))
	if err := baseCmd.Execute(); err != nil {
		panic(err)
	}
}
