package crawlers

import (
	"fmt"
	"sync"

	"github.com/rs/zerolog/log"
	"github.com/shirou/gopsutil/v3/disk"
)

// DiskMonitor 归档根目录磁盘空间监控器
// 职责: 每写入一定数量的文件检查一次剩余空间,低于阈值时告警
type DiskMonitor struct {
	// 配置参数
	config DiskMonitorConfig

	// 查询函数,测试中可替换
	usage func(path string) (*disk.UsageStat, error)

	writes   int
	warned   bool
	lastFree uint64
	mu       sync.Mutex
}

// DiskMonitorConfig 磁盘监控配置
type DiskMonitorConfig struct {
	Path         string // 被监控的目录
	MinFreeBytes uint64 // 剩余空间告警阈值(字节), 0 表示不检查
	CheckEvery   int    // 每写入N个文件检查一次
}

// DiskStatus 磁盘状态信息
type DiskStatus struct {
	Path        string
	Total       uint64
	Free        uint64
	UsedPercent float64
	Low         bool // 剩余空间低于阈值
}

// NewDiskMonitor 创建磁盘监控器
func NewDiskMonitor(config DiskMonitorConfig) *DiskMonitor {
	if config.CheckEvery <= 0 {
		config.CheckEvery = 200
	}
	return &DiskMonitor{
		config: config,
		usage:  disk.Usage,
	}
}

// Check 立即查询磁盘状态
func (dm *DiskMonitor) Check() (DiskStatus, error) {
	stat, err := dm.usage(dm.config.Path)
	if err != nil {
		return DiskStatus{}, fmt.Errorf("查询磁盘空间失败: %w", err)
	}

	status := DiskStatus{
		Path:        dm.config.Path,
		Total:       stat.Total,
		Free:        stat.Free,
		UsedPercent: stat.UsedPercent,
		Low:         dm.config.MinFreeBytes > 0 && stat.Free < dm.config.MinFreeBytes,
	}

	dm.mu.Lock()
	dm.lastFree = stat.Free
	dm.mu.Unlock()

	return status, nil
}

// RecordWrite 记录一次文件写入,达到检查间隔时查询磁盘
// 空间不足只告警一次,恢复后重新计数
func (dm *DiskMonitor) RecordWrite() {
	if dm == nil || dm.config.MinFreeBytes == 0 {
		return
	}

	dm.mu.Lock()
	dm.writes++
	due := dm.writes%dm.config.CheckEvery == 0
	dm.mu.Unlock()

	if !due {
		return
	}

	status, err := dm.Check()
	if err != nil {
		log.Debug().Err(err).Str("path", dm.config.Path).Msg("磁盘空间检查失败")
		return
	}

	dm.mu.Lock()
	defer dm.mu.Unlock()

	if status.Low && !dm.warned {
		dm.warned = true
		log.Warn().
			Str("path", status.Path).
			Msgf("💾 磁盘剩余空间不足: %.2f GB (阈值 %.2f GB)",
				float64(status.Free)/(1024*1024*1024),
				float64(dm.config.MinFreeBytes)/(1024*1024*1024))
	} else if !status.Low {
		dm.warned = false
	}
}

// LastFree 最近一次查询到的剩余空间(字节)
func (dm *DiskMonitor) LastFree() uint64 {
	dm.mu.Lock()
	defer dm.mu.Unlock()
	return dm.lastFree
}
