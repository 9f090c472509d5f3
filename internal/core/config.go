package core

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/RecoveryAshes/bbarchive/internal/models"
	"github.com/RecoveryAshes/bbarchive/internal/utils"
	"github.com/spf13/viper"
)

// EnvPrefix 环境变量前缀, 如 BBARCHIVE_AUTH_PASSWORD
const EnvPrefix = "BBARCHIVE"

// Config 应用程序配置
type Config struct {
	Project      ProjectConfig      `mapstructure:"project"`
	API          APIConfig          `mapstructure:"api"`
	Auth         AuthConfig         `mapstructure:"auth"`
	Repositories []string           `mapstructure:"repositories"`
	Backup       models.BackupFlags `mapstructure:"backup"`
	Rewrite      RewriteConfig      `mapstructure:"rewrite"`
	Crawl        CrawlSettings      `mapstructure:"crawl"`
	Resource     ResourceConfig     `mapstructure:"resource"`
	Logging      LoggingConfig      `mapstructure:"logging"`
	Serve        ServeConfig        `mapstructure:"serve"`
}

// ProjectConfig 项目目录布局
type ProjectConfig struct {
	Path    string `mapstructure:"path"`
	RawDir  string `mapstructure:"raw_dir"`
	SiteDir string `mapstructure:"site_dir"`
	DataDir string `mapstructure:"data_dir"`
}

// APIConfig 源服务地址与请求行为
type APIConfig struct {
	BaseURL            string  `mapstructure:"base_url"`
	WebURL             string  `mapstructure:"web_url"`
	Timeout            int     `mapstructure:"timeout"`     // 秒
	RetryDelay         int     `mapstructure:"retry_delay"` // 秒
	RateLimit          float64 `mapstructure:"rate_limit"`  // 每秒请求数
	InsecureSkipVerify bool    `mapstructure:"insecure_skip_verify"`
}

// AuthConfig Basic认证, 密码建议通过环境变量提供
type AuthConfig struct {
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`
}

// RewriteConfig 链接改写配置
type RewriteConfig struct {
	URLRewriteFile string `mapstructure:"url_rewrite_file"`
}

// CrawlSettings 爬取行为配置
type CrawlSettings struct {
	ProgressIntervalMS int                 `mapstructure:"progress_interval_ms"`
	ExtraIgnoreRules   []models.IgnoreRule `mapstructure:"extra_ignore_rules"`
}

// ResourceConfig 资源监控配置
type ResourceConfig struct {
	MinFreeDiskMB int `mapstructure:"min_free_disk_mb"`
	CheckEvery    int `mapstructure:"check_every"`
}

// LoggingConfig 日志配置
type LoggingConfig struct {
	Level    string         `mapstructure:"level"`
	LogDir   string         `mapstructure:"log_dir"`
	Rotation RotationConfig `mapstructure:"rotation"`
}

// RotationConfig 日志轮转配置
type RotationConfig struct {
	MaxSize    int  `mapstructure:"max_size"`
	MaxBackups int  `mapstructure:"max_backups"`
	MaxAge     int  `mapstructure:"max_age"`
	Compress   bool `mapstructure:"compress"`
}

// ServeConfig 本地预览服务配置
type ServeConfig struct {
	Addr string `mapstructure:"addr"`
}

// LoadConfig 加载配置文件, 文件不存在时使用默认值
func LoadConfig(configPath string) (*Config, error) {
	v := viper.New()

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath("./configs")
		v.AddConfigPath(".")
		if home, err := os.UserHomeDir(); err == nil {
			v.AddConfigPath(filepath.Join(home, ".bbarchive"))
		}
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, &models.ConfigError{FilePath: configPath, Cause: err}
		}
		utils.Debugf("未找到配置文件, 使用默认配置")
	} else {
		utils.Debugf("使用配置文件: %s", v.ConfigFileUsed())
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("解析配置文件失败: %w", err)
	}

	return &config, nil
}

// setDefaults 设置默认配置值
func setDefaults(v *viper.Viper) {
	v.SetDefault("project.path", "./archive")
	v.SetDefault("project.raw_dir", "bitbucket_data_raw")
	v.SetDefault("project.site_dir", "gh-pages")
	v.SetDefault("project.data_dir", "data")

	v.SetDefault("api.base_url", "https://api.bitbucket.org/2.0/")
	v.SetDefault("api.web_url", "https://bitbucket.org")
	v.SetDefault("api.timeout", 60)
	v.SetDefault("api.retry_delay", 300)
	v.SetDefault("api.rate_limit", 0)
	v.SetDefault("api.insecure_skip_verify", false)

	v.SetDefault("auth.username", "")
	v.SetDefault("auth.password", "")

	v.SetDefault("repositories", []string{})

	v.SetDefault("backup.issues", true)
	v.SetDefault("backup.pull_requests", true)
	v.SetDefault("backup.commit_comments", true)
	v.SetDefault("backup.forks", true)

	v.SetDefault("rewrite.url_rewrite_file", "")

	v.SetDefault("crawl.progress_interval_ms", 250)

	v.SetDefault("resource.min_free_disk_mb", 512)
	v.SetDefault("resource.check_every", 200)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.log_dir", "logs")
	v.SetDefault("logging.rotation.max_size", 10)
	v.SetDefault("logging.rotation.max_backups", 3)
	v.SetDefault("logging.rotation.max_age", 28)
	v.SetDefault("logging.rotation.compress", true)

	v.SetDefault("serve.addr", "127.0.0.1:8080")
}

// CrawlConfig 转换为爬取配置
func (c *Config) CrawlConfig() models.CrawlConfig {
	return models.CrawlConfig{
		APIBaseURL:         c.API.BaseURL,
		WebURL:             c.API.WebURL,
		Timeout:            time.Duration(c.API.Timeout) * time.Second,
		RetryDelay:         time.Duration(c.API.RetryDelay) * time.Second,
		RateLimit:          c.API.RateLimit,
		InsecureSkipVerify: c.API.InsecureSkipVerify,
		ProgressInterval:   time.Duration(c.Crawl.ProgressIntervalMS) * time.Millisecond,
		ExtraIgnoreRules:   c.Crawl.ExtraIgnoreRules,
		Backup:             c.Backup,
		MinFreeDiskMB:      c.Resource.MinFreeDiskMB,
		DiskCheckEvery:     c.Resource.CheckEvery,
	}
}

// LogConfig 转换为日志配置
func (c *Config) LogConfig() utils.LogConfig {
	return utils.LogConfig{
		Level:      c.Logging.Level,
		LogDir:     c.Logging.LogDir,
		MaxSize:    c.Logging.Rotation.MaxSize,
		MaxBackups: c.Logging.Rotation.MaxBackups,
		MaxAge:     c.Logging.Rotation.MaxAge,
		Compress:   c.Logging.Rotation.Compress,
	}
}

// RawRoot 原始归档目录
func (c *Config) RawRoot() string {
	return filepath.Join(c.Project.Path, c.Project.RawDir)
}

// SiteRoot 静态站点目录
func (c *Config) SiteRoot() string {
	return filepath.Join(c.Project.Path, c.Project.SiteDir)
}

// DataRoot 相对归档目录 (站点目录下)
func (c *Config) DataRoot() string {
	return filepath.Join(c.SiteRoot(), c.Project.DataDir)
}

// StatePath 项目状态文件路径
func (c *Config) StatePath() string {
	return filepath.Join(c.Project.Path, models.StateFilename)
}

// Validate 验证配置
func (c *Config) Validate() error {
	if c.Project.Path == "" {
		return fmt.Errorf("项目目录不能为空")
	}
	for _, dir := range []string{c.Project.RawDir, c.Project.SiteDir, c.Project.DataDir} {
		if dir == "" || strings.ContainsAny(dir, `/\`) || dir == "." || dir == ".." {
			return fmt.Errorf("项目子目录名无效: %q", dir)
		}
	}
	if (c.Auth.Username == "") != (c.Auth.Password == "") {
		return fmt.Errorf("auth.username 与 auth.password 必须同时提供")
	}
	if c.Resource.MinFreeDiskMB < 0 {
		return fmt.Errorf("磁盘剩余空间阈值不能为负数")
	}

	crawl := c.CrawlConfig()
	return crawl.Validate()
}
