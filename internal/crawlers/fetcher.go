package crawlers

import (
	"bytes"
	"compress/flate"
	"compress/gzip"
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"syscall"
	"time"

	"github.com/RecoveryAshes/bbarchive/internal/models"
	"github.com/RecoveryAshes/bbarchive/internal/utils"
	"github.com/andybalholm/brotli"
	"github.com/gocolly/colly/v2"
	"github.com/sethvargo/go-retry"
	"golang.org/x/time/rate"
)

// FetchResult 一次GET请求的结果
type FetchResult struct {
	StatusCode  int
	ContentType string
	Body        []byte
}

// Fetcher 获取URL内容
// 瞬时错误(TLS异常, 连接重置, 超时, 429)由实现自行重试,返回的错误只可能是上下文取消或不可恢复的错误
type Fetcher interface {
	Fetch(ctx context.Context, rawURL string) (*FetchResult, error)
}

// HTTPStatusError 非200响应
type HTTPStatusError struct {
	StatusCode int
	URL        string
}

func (e *HTTPStatusError) Error() string {
	return fmt.Sprintf("HTTP %d: %s", e.StatusCode, e.URL)
}

// FetcherConfig HTTP获取器配置
type FetcherConfig struct {
	APIBaseURL         string
	Timeout            time.Duration
	RetryDelay         time.Duration
	RateLimit          float64 // 每秒请求数, 0 表示不限
	InsecureSkipVerify bool
}

// HTTPFetcher 基于Colly同步收集器的获取器
type HTTPFetcher struct {
	collector      *colly.Collector
	headerProvider models.HeaderProvider
	apiHost        string
	retryDelay     time.Duration
	limiter        *rate.Limiter
}

// NewHTTPFetcher 创建HTTP获取器
func NewHTTPFetcher(config FetcherConfig, headerProvider models.HeaderProvider) (*HTTPFetcher, error) {
	apiURL, err := url.Parse(config.APIBaseURL)
	if err != nil {
		return nil, fmt.Errorf("解析API地址失败: %w", err)
	}
	if config.RetryDelay <= 0 {
		return nil, fmt.Errorf("重试间隔必须大于0")
	}

	httpClient := &http.Client{
		Transport: &http.Transport{
			Proxy: http.ProxyFromEnvironment,
			TLSClientConfig: &tls.Config{
				InsecureSkipVerify: config.InsecureSkipVerify,
			},
		},
		Timeout: config.Timeout,
	}

	// 同步模式: 回调在 Request 返回前执行完毕
	c := colly.NewCollector(
		colly.AllowURLRevisit(),
		colly.MaxBodySize(0),
	)
	c.SetClient(httpClient)
	c.SetRequestTimeout(config.Timeout)
	// 非2xx响应也交给 OnResponse,由调用方按状态码处理
	c.ParseHTTPErrorResponse = true

	f := &HTTPFetcher{
		collector:      c,
		headerProvider: headerProvider,
		apiHost:        apiURL.Host,
		retryDelay:     config.RetryDelay,
	}
	if config.RateLimit > 0 {
		f.limiter = rate.NewLimiter(rate.Limit(config.RateLimit), 1)
	}

	f.setupCallbacks()
	return f, nil
}

// setupCallbacks 设置Colly回调
func (f *HTTPFetcher) setupCallbacks() {
	// 访问前: 应用HTTP头部, 认证头只发送给API主机
	f.collector.OnRequest(func(r *colly.Request) {
		if f.headerProvider != nil {
			headers, err := f.headerProvider.GetHeaders()
			if err != nil {
				utils.Warnf("获取HTTP头部失败: %v", err)
			} else {
				for name, values := range headers {
					if len(values) == 0 {
						continue
					}
					if strings.EqualFold(name, "Authorization") && r.URL.Host != f.apiHost {
						continue
					}
					r.Headers.Set(name, values[0])
				}
			}
		}
		utils.Debugf("请求: %s", r.URL.String())
	})

	f.collector.OnResponse(func(r *colly.Response) {
		result, ok := r.Ctx.GetAny("result").(*FetchResult)
		if !ok {
			return
		}

		body := r.Body
		if encoding := r.Headers.Get("Content-Encoding"); encoding != "" {
			decoded, err := decompressResponse(encoding, r.Body)
			if err != nil {
				utils.Warnf("解压响应失败 [%s] (编码=%s): %v", r.Request.URL, encoding, err)
			} else {
				body = decoded
			}
		}

		result.StatusCode = r.StatusCode
		result.ContentType = r.Headers.Get("Content-Type")
		result.Body = body
	})

	f.collector.OnError(func(r *colly.Response, err error) {
		utils.Debugf("请求错误 [%s]: %v", r.Request.URL, err)
	})
}

// Fetch 获取URL内容
// 瞬时网络错误与429按固定间隔无限重试,直到成功或上下文取消
// 其他错误(DNS解析失败, 连接被拒绝, 不支持的协议等)直接返回
func (f *HTTPFetcher) Fetch(ctx context.Context, rawURL string) (*FetchResult, error) {
	var result *FetchResult

	err := retry.Do(ctx, retry.NewConstant(f.retryDelay), func(ctx context.Context) error {
		if f.limiter != nil {
			if err := f.limiter.Wait(ctx); err != nil {
				return err
			}
		}
		if err := ctx.Err(); err != nil {
			return err
		}

		res, err := f.fetchOnce(rawURL)
		if err != nil {
			if !isTransient(err) {
				return err
			}
			utils.Warnf("⚠️  请求失败,%v 后重试 [%s]: %v", f.retryDelay, rawURL, err)
			return retry.RetryableError(err)
		}
		if res.StatusCode == http.StatusTooManyRequests {
			utils.Warnf("⏳ 触发限流(429),%v 后重试 [%s]", f.retryDelay, rawURL)
			return retry.RetryableError(&HTTPStatusError{StatusCode: res.StatusCode, URL: rawURL})
		}

		result = res
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// isTransient 判断请求错误是否值得重试
// 只有TLS握手异常, 连接重置/中断与超时视为瞬时错误
func isTransient(err error) bool {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}

	// 1. TLS握手与记录层错误
	var alertErr tls.AlertError
	if errors.As(err, &alertErr) {
		return true
	}
	var recordErr tls.RecordHeaderError
	if errors.As(err, &recordErr) {
		return true
	}

	// 2. DNS错误: 只有服务器临时失败才重试, NXDOMAIN 直接返回
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return dnsErr.IsTimeout || dnsErr.IsTemporary
	}

	// 3. 连接被重置或中途断开
	if errors.Is(err, syscall.ECONNRESET) || errors.Is(err, syscall.ECONNABORTED) || errors.Is(err, syscall.EPIPE) {
		return true
	}
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		return true
	}

	// 4. 超时
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	return false
}

// fetchOnce 发送一次请求
func (f *HTTPFetcher) fetchOnce(rawURL string) (*FetchResult, error) {
	result := &FetchResult{}
	collyCtx := colly.NewContext()
	collyCtx.Put("result", result)

	if err := f.collector.Request(http.MethodGet, rawURL, nil, collyCtx, nil); err != nil {
		// 带响应状态的错误已经在 OnResponse 中记录
		if result.StatusCode != 0 {
			return result, nil
		}
		return nil, err
	}
	if result.StatusCode == 0 {
		return nil, errors.New("未收到响应")
	}
	return result, nil
}

// decompressResponse 解压响应体
// gzip 通常已被传输层或Colly解开,只有仍带gzip魔数时才再次解压
func decompressResponse(contentEncoding string, body []byte) ([]byte, error) {
	encoding := strings.ToLower(strings.TrimSpace(contentEncoding))

	switch encoding {
	case "gzip":
		if len(body) < 2 || body[0] != 0x1f || body[1] != 0x8b {
			return body, nil
		}
		reader, err := gzip.NewReader(bytes.NewReader(body))
		if err != nil {
			return nil, fmt.Errorf("gzip解压失败: %w", err)
		}
		defer reader.Close()

		decompressed, err := io.ReadAll(reader)
		if err != nil {
			return nil, fmt.Errorf("gzip读取失败: %w", err)
		}
		return decompressed, nil

	case "deflate":
		reader := flate.NewReader(bytes.NewReader(body))
		defer reader.Close()

		decompressed, err := io.ReadAll(reader)
		if err != nil {
			return nil, fmt.Errorf("deflate读取失败: %w", err)
		}
		return decompressed, nil

	case "br":
		reader := brotli.NewReader(bytes.NewReader(body))
		decompressed, err := io.ReadAll(reader)
		if err != nil {
			return nil, fmt.Errorf("brotli读取失败: %w", err)
		}
		return decompressed, nil

	case "", "identity":
		return body, nil

	default:
		utils.Warnf("未知的Content-Encoding: %s", contentEncoding)
		return body, nil
	}
}
