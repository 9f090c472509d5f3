// Package crawlers 提供Bitbucket API对象图的递归归档功能
//
// # 概述
//
// crawlers包从仓库根资源开始,深度优先地下载所有可达的JSON资源和内嵌的二进制附件,
// 按规范化后的存储路径(指纹)保存到原始归档目录,并构建一棵按发现顺序排列的爬取树,
// 供链接改写阶段使用。
//
// # 核心组件
//
// ## 改写规则 (Normalize)
//
// 按端点匹配规则,在参数副本上应用谓词与变更,补全分页大小、页码、排序和状态过滤:
//
//	endpoint, params := Normalize("repositories/acme/widget/pullrequests", nil,
//	    DefaultRewriteRules("acme", "widget"))
//	// state=MERGED&state=OPEN&state=SUPERSEDED&state=DECLINED&pagelen=50&page=1&sort=created_on
//
// ## 存储路径 (ResolveStoragePath / ResolveAssetPath)
//
// 去掉 sort、pagelen 以及有 page 时多余的 ctx,剩余参数按名称排序编码为文件名后缀。
// 两组简化后相同的参数总是得到同一个路径。
//
// ## 引用发现 (LinkDiscoverer)
//
// 带类型标记的模式集合: 分页(next 字段), 附件(图片, emoji, 头像, bytebucket, 问题附件),
// 嵌套端点(任意API地址)。新的引用类型通过 AddPattern 注册,不需要修改爬取循环。
//
// ## Crawler (递归爬取器)
//
//	fetcher, _ := NewHTTPFetcher(fetcherConfig, headerManager)
//	session := NewSessionCache()
//	crawler := NewCrawler(NewCrawlerConfig(repo, rawRoot, config), fetcher, session, diskMonitor)
//	err := crawler.Crawl(ctx, crawler.RootURL(), tree)
//
// 每个节点的处理:
//   - 同一会话中已认领的存储路径: 标记为重复,不再递归
//   - 磁盘上已有完整JSON: 不发请求,从缓存内容重新发现引用
//   - 否则请求并原子写入,再按 分页, 附件, 嵌套端点 的顺序处理引用
//
// # 错误处理
//
//   - 网络错误和429: 按固定间隔(默认5分钟)无限重试,只有上下文取消能中断
//   - 401/404/其他状态码: 记录失败节点,放弃该分支,爬取继续
//   - 非JSON的200响应: 丢弃并计数
//
// # 并发
//
// 爬取是单线程同步的。SessionCache 带锁,可被同一次运行的多个爬取器共享。
package crawlers
