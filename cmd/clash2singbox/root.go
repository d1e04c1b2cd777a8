package main

import (
	"fmt"
	"os"

	"github.com/John-Robertt/clash2singbox/internal/logger"
	"github.com/spf13/cobra"
)

var (
	cfgFile string
	verbose bool
	logFile string
)

var rootCmd = &cobra.Command{
	Use:           "clash2singbox",
	Short:         "Clash / Mihomo 配置转换为 sing-box 配置",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		return logger.Init(verbose, logFile)
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		logger.Sync()
	},
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "配置文件路径（YAML，可选）")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "输出 debug 日志")
	rootCmd.PersistentFlags().StringVar(&logFile, "log-file", "", "日志追加写入该文件而不是 stderr")
}
