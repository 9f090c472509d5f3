package main

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"

	"github.com/RecoveryAshes/bbarchive/internal/core"
	"github.com/RecoveryAshes/bbarchive/internal/crawlers"
)

// 归档环境预检: 配置, 凭据, 项目目录与磁盘空间
// 用法: go run ./scripts [config.yaml]
func main() {
	fmt.Println("==============================================")
	fmt.Println("  bbarchive 归档环境检查")
	fmt.Println("==============================================")
	fmt.Println()

	allOK := true

	fmt.Printf("✅ Go版本: %s\n", runtime.Version())
	fmt.Printf("✅ 操作系统: %s/%s\n", runtime.GOOS, runtime.GOARCH)

	configPath := ""
	if len(os.Args) > 1 {
		configPath = os.Args[1]
	}

	cfg, err := core.LoadConfig(configPath)
	if err != nil {
		fmt.Printf("❌ 配置加载失败: %v\n", err)
		os.Exit(1)
	}
	fmt.Println("✅ 配置加载成功")

	if err := cfg.Validate(); err != nil {
		fmt.Printf("❌ 配置无效: %v\n", err)
		allOK = false
	} else {
		fmt.Printf("✅ API地址: %s\n", cfg.API.BaseURL)
	}

	if cfg.Auth.Username == "" {
		fmt.Println("⚠️  未配置认证 - 只能归档公开仓库")
		fmt.Printf("   设置方法: export %s_AUTH_USERNAME=... %s_AUTH_PASSWORD=...\n", core.EnvPrefix, core.EnvPrefix)
	} else {
		fmt.Printf("✅ 认证用户: %s\n", cfg.Auth.Username)
	}

	if len(cfg.Repositories) == 0 {
		fmt.Println("⚠️  配置中没有仓库 - 运行时需要通过 -r 或 -f 指定")
	} else {
		fmt.Printf("✅ 配置了 %d 个仓库\n", len(cfg.Repositories))
	}

	fmt.Println()
	fmt.Println("检查项目目录...")
	for _, dir := range []string{cfg.RawRoot(), cfg.DataRoot()} {
		if err := checkWritable(dir); err != nil {
			fmt.Printf("❌ %s 不可写: %v\n", dir, err)
			allOK = false
		} else {
			fmt.Printf("✅ %s/\n", dir)
		}
	}

	monitor := crawlers.NewDiskMonitor(crawlers.DiskMonitorConfig{
		Path:         cfg.Project.Path,
		MinFreeBytes: uint64(cfg.Resource.MinFreeDiskMB) * 1024 * 1024,
	})
	if status, err := monitor.Check(); err != nil {
		fmt.Printf("⚠️  %v\n", err)
	} else if status.Low {
		fmt.Printf("❌ 磁盘剩余空间不足: %.2f GB (阈值 %d MB)\n", float64(status.Free)/(1024*1024*1024), cfg.Resource.MinFreeDiskMB)
		allOK = false
	} else {
		fmt.Printf("✅ 磁盘剩余空间: %.2f GB\n", float64(status.Free)/(1024*1024*1024))
	}

	fmt.Println()
	fmt.Println("==============================================")
	if allOK {
		fmt.Println("✅ 环境检查通过!")
		fmt.Println()
		fmt.Println("下一步:")
		fmt.Println("  1. 运行 'bbarchive -r owner/slug' 开始归档")
		fmt.Println("  2. 运行 'bbarchive serve' 本地预览")
		os.Exit(0)
	}
	fmt.Println("❌ 环境检查失败,请解决上述问题。")
	os.Exit(1)
}

// checkWritable 创建目录并写入探测文件
func checkWritable(dir string) error {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}
	probe := filepath.Join(dir, ".write-probe")
	if err := os.WriteFile(probe, []byte("ok"), 0644); err != nil {
		return err
	}
	return os.Remove(probe)
}
