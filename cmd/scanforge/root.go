package main

import (
	"fmt"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/yourusername/scanforge/internal/logging"
)

type rootOptions struct {
	logLevel string
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}
	cmd := &cobra.Command{
		Use:   "scanforge",
		Short: "画像をPDFにまとめる",
		Long: `scanforge はスキャン画像や写真を1つのPDFにまとめます。

回転・反転・トリミングはプランファイル（YAML）で画像ごとに指定できます。`,
		SilenceUsage: true,
	}
	cmd.PersistentFlags().StringVar(&opts.logLevel, "log-level", "warn", "ログレベル (debug, info, warn, error)")

	cmd.AddCommand(newConvertCmd(opts))
	cmd.AddCommand(newVersionCmd())
	return cmd
}

func (o *rootOptions) logger(cmd *cobra.Command) zerolog.Logger {
	return logging.New(logging.Options{
		Level:   o.logLevel,
		Format:  "console",
		Output:  cmd.ErrOrStderr(),
		Service: "scanforge",
	})
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "バージョンを表示する",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "scanforge %s\n", version)
		},
	}
}
