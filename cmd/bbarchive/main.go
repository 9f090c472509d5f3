package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sort"
	"syscall"

	"github.com/RecoveryAshes/bbarchive/internal/core"
	"github.com/RecoveryAshes/bbarchive/internal/server"
	"github.com/RecoveryAshes/bbarchive/internal/utils"
	"github.com/spf13/cobra"
)

var (
	Version   = core.Version
	BuildTime = "unknown"
)

// 命令行参数
var (
	// 全局参数
	configFile  string
	verbose     bool
	logLevel    string
	projectPath string

	// HTTP头部参数
	headers        []string
	headersFile    string
	validateConfig bool

	// 导出参数
	repositories    []string
	repoFile        string
	force           bool
	skipForks       bool
	noProgress      bool
	batchDelay      int
	continueOnError bool

	// 预览参数
	serveAddr string
)

// appConfig 在 PersistentPreRunE 中加载
var appConfig *core.Config

var rootCmd = &cobra.Command{
	Use:   "bbarchive",
	Short: "Bitbucket仓库API归档工具",
	Long: `bbarchive - 把Bitbucket仓库的issue、拉取请求、提交评论、附件与fork
完整下载为可静态托管的归档

流程:
  • 递归下载仓库可达的全部API资源与附件 (可断点续传)
  • 把绝对URL改写为归档内的相对链接
  • 按回复层级重排评论
  • 生成 repos.json 索引与运行报告

示例:
  bbarchive -r acme/widget -o ./archive
  bbarchive -f repos.txt --skip-forks
  BBARCHIVE_AUTH_USERNAME=me BBARCHIVE_AUTH_PASSWORD=app-password bbarchive -r acme/widget
  bbarchive serve -o ./archive

版本: ` + Version + `
构建时间: ` + BuildTime,
	Version:       Version,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		config, err := core.LoadConfig(configFile)
		if err != nil {
			return fmt.Errorf("加载配置失败: %w", err)
		}
		if projectPath != "" {
			config.Project.Path = projectPath
		}

		logConfig := config.LogConfig()
		if logLevel != "" {
			logConfig.Level = logLevel
		}
		if verbose {
			logConfig.Level = "debug"
		}
		if err := utils.InitLogger(logConfig); err != nil {
			return fmt.Errorf("初始化日志系统失败: %w", err)
		}

		appConfig = config
		return nil
	},
	RunE: runExport,
}

// runExport 执行完整导出
func runExport(cmd *cobra.Command, args []string) error {
	headerManager, err := core.NewHeaderManager(headersFile, headers)
	if err != nil {
		return fmt.Errorf("创建HTTP头部管理器失败: %w", err)
	}
	headerManager.SetBasicAuth(appConfig.Auth.Username, appConfig.Auth.Password)

	if validateConfig {
		return runValidateConfig(headerManager)
	}

	repos, err := collectRepositories(repositories, repoFile, appConfig.Repositories)
	if err != nil {
		return err
	}
	if len(repos) == 0 && !utils.FileExists(appConfig.StatePath()) {
		return cmd.Help()
	}
	if err := ValidateFlags(batchDelay); err != nil {
		return err
	}

	if _, err := headerManager.GetHeaders(); err != nil {
		return fmt.Errorf("HTTP头部无效: %w", err)
	}
	utils.Debugf("HTTP头部: %v", headerManager.GetSafeHeaders())

	exporter, err := core.NewExporter(appConfig, headerManager)
	if err != nil {
		return err
	}

	ctx, stop := signalContext()
	defer stop()

	report, err := exporter.Export(ctx, core.ExportOptions{
		Repositories:    repos,
		Force:           force,
		ContinueOnError: continueOnError,
		BatchDelay:      batchDelay,
		SkipForks:       skipForks,
		ShowProgress:    !noProgress,
	})
	if report != nil {
		printReport(report.Stats.Downloaded, report.Stats.AlreadyDownloaded, report.Stats.Failed,
			report.RewriteStats.Rewritten, report.CommentStats.Threads, report.Duration)
	}
	if err != nil {
		return fmt.Errorf("导出失败: %w", err)
	}

	utils.Info("✨ 归档完成!")
	return nil
}

// runValidateConfig 校验头部配置并打印脱敏后的结果
func runValidateConfig(headerManager *core.HeaderManager) error {
	utils.Info("🔍 验证HTTP头部配置...")
	if err := headerManager.LoadConfig(); err != nil {
		return fmt.Errorf("加载配置失败: %w", err)
	}
	if err := headerManager.Validate(); err != nil {
		return fmt.Errorf("配置验证失败: %w", err)
	}
	if err := appConfig.Validate(); err != nil {
		return fmt.Errorf("配置验证失败: %w", err)
	}

	safeHeaders := headerManager.GetSafeHeaders()
	names := make([]string, 0, len(safeHeaders))
	for name := range safeHeaders {
		names = append(names, name)
	}
	sort.Strings(names)

	utils.Info("✅ 配置验证通过!")
	utils.Infof("当前有效的HTTP头部 (%d个):", len(safeHeaders))
	for _, name := range names {
		utils.Infof("  %s: %s", name, safeHeaders[name])
	}
	return nil
}

var reorderCmd = &cobra.Command{
	Use:   "reorder",
	Short: "只重排已归档仓库的评论",
	RunE: func(cmd *cobra.Command, args []string) error {
		repos, err := collectRepositories(repositories, repoFile, appConfig.Repositories)
		if err != nil {
			return err
		}
		if len(repos) == 0 {
			if repos, err = stateRepositories(appConfig); err != nil {
				return err
			}
		}

		ctx, stop := signalContext()
		defer stop()

		if _, err := core.ReorderComments(ctx, appConfig, repos); err != nil {
			return fmt.Errorf("评论重排失败: %w", err)
		}
		return nil
	},
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "在本地预览静态归档",
	RunE: func(cmd *cobra.Command, args []string) error {
		addr := appConfig.Serve.Addr
		if serveAddr != "" {
			addr = serveAddr
		}

		ctx, stop := signalContext()
		defer stop()

		utils.Infof("🌐 预览地址: http://%s/", addr)
		return server.Serve(ctx, addr, appConfig.SiteRoot())
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "显示版本信息",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("bbarchive %s\n", Version)
		fmt.Printf("构建时间: %s\n", BuildTime)
	},
}

// signalContext Ctrl+C 或 SIGTERM 时取消, 已写入的文件保持完整
func signalContext() (context.Context, context.CancelFunc) {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	go func() {
		<-ctx.Done()
		if ctx.Err() == context.Canceled {
			utils.Warn("收到中断信号, 正在停止... (重新运行即可继续)")
		}
	}()
	return ctx, stop
}

func printReport(downloaded, cached, failed, rewritten, threads int, duration float64) {
	fmt.Println("\n==================================================")
	fmt.Println("📊 归档统计")
	fmt.Println("==================================================")
	fmt.Printf("✅ 新下载: %d\n", downloaded)
	fmt.Printf("✅ 已存在: %d\n", cached)
	fmt.Printf("❌ 失败节点: %d\n", failed)
	fmt.Printf("🔗 改写文件: %d\n", rewritten)
	fmt.Printf("💬 评论串: %d\n", threads)
	fmt.Printf("⏱️  总耗时: %.2f秒\n", duration)
	fmt.Println("==================================================")
}

func init() {
	// 全局参数
	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "", "配置文件路径")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "详细输出模式")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "日志级别 (trace|debug|info|warn|error)")
	rootCmd.PersistentFlags().StringVarP(&projectPath, "output", "o", "", "项目目录 (覆盖 project.path)")
	rootCmd.PersistentFlags().StringSliceVarP(&repositories, "repo", "r", []string{}, "仓库 owner/slug, 可多次指定")
	rootCmd.PersistentFlags().StringVarP(&repoFile, "repo-file", "f", "", "仓库列表文件, 每行一个 owner/slug")

	// HTTP头部参数
	rootCmd.Flags().StringSliceVarP(&headers, "header", "H", []string{}, "自定义HTTP头部, 格式: 'Name: Value', 可多次指定")
	rootCmd.Flags().StringVar(&headersFile, "headers-config", "", "头部配置文件 (默认 configs/headers.yaml)")
	rootCmd.Flags().BoolVar(&validateConfig, "validate-config", false, "验证配置文件正确性")

	// 导出参数
	rootCmd.Flags().BoolVar(&force, "force", false, "清除阶段标记, 重新执行全部阶段")
	rootCmd.Flags().BoolVar(&skipForks, "skip-forks", false, "本次运行不处理fork")
	rootCmd.Flags().BoolVar(&noProgress, "no-progress", false, "不显示改写进度条")
	rootCmd.Flags().IntVar(&batchDelay, "batch-delay", 0, "仓库之间的等待时间(秒)")
	rootCmd.Flags().BoolVar(&continueOnError, "continue-on-error", true, "单个仓库失败时继续处理其他仓库")

	// 预览参数
	serveCmd.Flags().StringVar(&serveAddr, "addr", "", "监听地址 (覆盖 serve.addr)")

	rootCmd.AddCommand(reorderCmd, serveCmd, versionCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "错误: %v\n", err)
		os.Exit(1)
	}
}
