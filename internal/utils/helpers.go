package utils

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// ReadRepositoriesFromFile 从文件中读取仓库列表(每行一个 owner/slug)
func ReadRepositoriesFromFile(path string) ([]string, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("打开仓库列表文件失败: %w", err)
	}
	defer file.Close()

	repos := make([]string, 0)
	scanner := bufio.NewScanner(file)
	lineNum := 0

	for scanner.Scan() {
		lineNum++
		line := strings.TrimSpace(scanner.Text())

		// 跳过空行和注释行
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		if err := ValidateRepositoryName(line); err != nil {
			Warnf("跳过无效仓库名 (行 %d): %s - %v", lineNum, line, err)
			continue
		}

		repos = append(repos, strings.Trim(line, "/"))
	}

	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("读取仓库列表文件失败: %w", err)
	}

	if len(repos) == 0 {
		return nil, fmt.Errorf("仓库列表文件中没有有效的仓库名")
	}

	Infof("从文件加载了 %d 个仓库", len(repos))
	return repos, nil
}

// ValidateRepositoryName 验证 owner/slug 格式
func ValidateRepositoryName(name string) error {
	parts := strings.Split(strings.Trim(name, "/"), "/")
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return fmt.Errorf("仓库名必须是 owner/slug 格式")
	}
	if strings.ContainsAny(name, " ?#") {
		return fmt.Errorf("仓库名包含非法字符")
	}
	return nil
}

// WriteFileAtomic 先写入同目录下的临时文件再重命名,避免中断时留下半个文件
func WriteFileAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("创建目录失败: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".tmp-"+filepath.Base(path)+"-*")
	if err != nil {
		return fmt.Errorf("创建临时文件失败: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("写入临时文件失败: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("关闭临时文件失败: %w", err)
	}
	if err := os.Chmod(tmpName, 0644); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("设置文件权限失败: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("重命名文件失败: %w", err)
	}
	return nil
}

// FileExists 判断普通文件是否存在
func FileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}
