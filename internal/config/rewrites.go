package config

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/RecoveryAshes/bbarchive/internal/models"
	"github.com/RecoveryAshes/bbarchive/internal/utils"
	orderedmap "github.com/wk8/go-ordered-map/v2"
)

// URLRewriteTable 旧基础URL -> [新归档地址, 新平台地址], 保持文件中的顺序
type URLRewriteTable = orderedmap.OrderedMap[string, models.URLRewrite]

// LoadURLRewrites 读取外部URL改写表
// 文件格式: {"<旧仓库基础URL>": ["<新归档基础URL>", "<新平台基础URL>"], ...}
// 路径为空时返回空表
func LoadURLRewrites(path string) (*URLRewriteTable, error) {
	table := orderedmap.New[string, models.URLRewrite]()
	if path == "" {
		return table, nil
	}

	info, err := os.Stat(path)
	if err != nil {
		return nil, &models.ConfigError{FilePath: path, Cause: err}
	}
	if info.Size() > MaxConfigFileSize {
		return nil, &models.ConfigError{
			FilePath: path,
			Cause:    fmt.Errorf("改写表过大: %d 字节 (最大 %d 字节)", info.Size(), MaxConfigFileSize),
		}
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, &models.ConfigError{FilePath: path, Cause: err}
	}
	if err := json.Unmarshal(data, table); err != nil {
		return nil, &models.ConfigError{FilePath: path, Cause: fmt.Errorf("改写表格式错误: %w", err)}
	}

	for pair := table.Oldest(); pair != nil; pair = pair.Next() {
		if pair.Key == "" {
			return nil, &models.ConfigError{FilePath: path, Cause: fmt.Errorf("改写表中存在空的旧URL")}
		}
		if err := models.ValidateURL(pair.Value.ArchiveBase()); err != nil {
			return nil, &models.ConfigError{
				FilePath: path,
				Cause:    fmt.Errorf("%s 的新归档地址无效: %w", pair.Key, err),
			}
		}
	}

	utils.Infof("🔁 已加载 %d 条外部URL改写规则", table.Len())
	return table, nil
}
