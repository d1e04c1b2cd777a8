package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/John-Robertt/clash2singbox/internal/compiler"
	"github.com/John-Robertt/clash2singbox/internal/config"
	"github.com/John-Robertt/clash2singbox/internal/fetch"
	"github.com/John-Robertt/clash2singbox/internal/logger"
	"github.com/John-Robertt/clash2singbox/internal/model"
	"github.com/spf13/cobra"
)

var (
	convertFakeIP  bool
	convertBaseURL string
	convertOutput  string
)

var convertCmd = &cobra.Command{
	Use:   "convert [file|url]",
	Short: "转换一份 Clash 配置，结果写到 stdout",
	Long: `读取 Clash / Mihomo YAML（文件、http(s) URL，或省略参数时从 stdin 读取），
输出 sing-box JSON。降级警告逐条写到 stderr。`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(cfgFile)
		if err != nil {
			return err
		}
		opt := convertOptions{
			FakeIP:  cfg.Target.FakeIP,
			BaseURL: cfg.Server.PublicBaseURL,
			Fetch: fetch.Options{
				Timeout:   cfg.Fetch.Timeout,
				MaxBytes:  cfg.Fetch.MaxBytes,
				UserAgent: cfg.Fetch.UserAgent,
			},
		}
		if cmd.Flags().Changed("fakeip") {
			opt.FakeIP = convertFakeIP
		}
		if cmd.Flags().Changed("base-url") {
			opt.BaseURL = convertBaseURL
		}

		src := ""
		if len(args) == 1 {
			src = args[0]
		}
		out := cmd.OutOrStdout()
		if convertOutput != "" && convertOutput != "-" {
			f, err := os.Create(convertOutput)
			if err != nil {
				return fmt.Errorf("create output file: %w", err)
			}
			defer f.Close()
			out = f
		}
		return runConvert(cmd.Context(), src, cmd.InOrStdin(), out, cmd.ErrOrStderr(), opt)
	},
}

func init() {
	convertCmd.Flags().BoolVar(&convertFakeIP, "fakeip", true, "允许输出 fakeip DNS（对应 enhanced-mode: fake-ip）")
	convertCmd.Flags().StringVar(&convertBaseURL, "base-url", "", "本服务的外部地址；设置后 http rule-provider 改写为 <base>/ruleset")
	convertCmd.Flags().StringVarP(&convertOutput, "output", "o", "", "输出文件（默认 stdout）")
	rootCmd.AddCommand(convertCmd)
}

type convertOptions struct {
	FakeIP  bool
	BaseURL string
	Fetch   fetch.Options
}

// runConvert converts src (a path, an http(s) URL, or "" for stdin) and
// writes the document to out. Diagnostics go to errOut, one per line.
func runConvert(ctx context.Context, src string, stdin io.Reader, out, errOut io.Writer, opt convertOptions) error {
	if ctx == nil {
		ctx = context.Background()
	}
	text, sourceURL, err := readSource(ctx, src, stdin, opt.Fetch)
	if err != nil {
		return err
	}

	caps := compiler.DefaultCapabilities()
	caps.FakeIP = opt.FakeIP
	res, err := compiler.Convert(sourceURL, text, compiler.Options{
		RulesetBaseURL: strings.TrimRight(strings.TrimSpace(opt.BaseURL), "/"),
		Capabilities:   caps,
	})
	if err != nil {
		printDiagnostics(errOut, compiler.Diagnostics(err))
		return err
	}
	printDiagnostics(errOut, res.Diagnostics)
	logger.Log.Debugw("converted", "source", src, "bytes", len(res.JSON), "warnings", len(res.Diagnostics))

	_, err = out.Write(res.JSON)
	return err
}

func readSource(ctx context.Context, src string, stdin io.Reader, fo fetch.Options) (text, sourceURL string, err error) {
	switch {
	case src == "" || src == "-":
		b, err := io.ReadAll(stdin)
		if err != nil {
			return "", "", fmt.Errorf("read stdin: %w", err)
		}
		return string(b), "", nil
	case strings.HasPrefix(src, "http://") || strings.HasPrefix(src, "https://"):
		text, err := fetch.FetchTextWithOptions(ctx, fetch.KindSource, src, fo)
		return text, src, err
	default:
		b, err := os.ReadFile(src)
		if err != nil {
			return "", "", fmt.Errorf("read source file: %w", err)
		}
		return string(b), "", nil
	}
}

func printDiagnostics(w io.Writer, diags []model.Diagnostic) {
	for _, d := range diags {
		loc := d.Stage
		if d.Line > 0 {
			loc = fmt.Sprintf("%s:%d", d.Stage, d.Line)
		}
		if d.Entity != "" {
			fmt.Fprintf(w, "%s [%s] %s: %s\n", d.Severity, loc, d.Entity, d.Message)
			continue
		}
		fmt.Fprintf(w, "%s [%s] %s\n", d.Severity, loc, d.Message)
	}
}
