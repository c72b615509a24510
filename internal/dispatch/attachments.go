package dispatch

import (
	"context"
	"encoding/base64"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"os"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"mailrelay/backend/internal/domain"
	"mailrelay/backend/internal/storage/filesystem"
)

const (
	// MaxAttachmentSize 远程附件大小上限
	MaxAttachmentSize = 25 << 20 // 25 MiB
	// attachmentFetchTimeout 单次远程拉取超时
	attachmentFetchTimeout = 15 * time.Second
	// attachmentFetchAttempts 远程拉取尝试次数
	attachmentFetchAttempts = 2
)

// AttachmentLoader 解析出站信封中的附件描述并加载内容。
// 任何单个附件的失败只导致跳过该附件，绝不让整封邮件失败。
type AttachmentLoader struct {
	blobs  *filesystem.BlobStore
	client *http.Client
	log    *zap.Logger
}

// NewAttachmentLoader 创建附件加载器。
// HTTP 客户端在拨号层做 SSRF 防护：域名解析后逐 IP 检查，
// 回环/内网/链路本地地址一律拒绝（重定向后的请求走同一条拨号路径，
// 因此跳转到内网地址同样会被拦截）。
func NewAttachmentLoader(blobs *filesystem.BlobStore, log *zap.Logger) *AttachmentLoader {
	transport := &http.Transport{
		DialContext:         guardedDialContext,
		MaxIdleConns:        10,
		IdleConnTimeout:     30 * time.Second,
		TLSHandshakeTimeout: 10 * time.Second,
	}
	return &AttachmentLoader{
		blobs: blobs,
		client: &http.Client{
			Transport: transport,
			Timeout:   attachmentFetchTimeout,
		},
		log: log,
	}
}

// Load 加载全部附件。返回内容就绪的附件记录；
// 拉取失败的附件记日志后跳过。
func (l *AttachmentLoader) Load(ctx context.Context, messageID string, specs []domain.AttachmentSpec) []*domain.Attachment {
	var out []*domain.Attachment
	for _, spec := range specs {
		att, err := l.loadOne(ctx, messageID, spec)
		if err != nil {
			l.log.Warn("attachment skipped",
				zap.String("message_id", messageID),
				zap.String("filename", spec.Filename),
				zap.Error(err),
			)
			continue
		}
		out = append(out, att)
	}
	return out
}

// loadOne 按来源加载单个附件：内联 base64 / 本地文件 / 已入库路径 / 远程 URL。
func (l *AttachmentLoader) loadOne(ctx context.Context, messageID string, spec domain.AttachmentSpec) (*domain.Attachment, error) {
	var content []byte
	var err error

	switch {
	case spec.Content != "":
		content, err = base64.StdEncoding.DecodeString(spec.Content)
		if err != nil {
			return nil, fmt.Errorf("decode inline content: %w", err)
		}
	case spec.StoragePath != "":
		if l.blobs == nil {
			return nil, fmt.Errorf("attachment storage not configured")
		}
		content, err = l.blobs.Open(spec.StoragePath)
		if err != nil {
			return nil, err
		}
	case spec.FilePath != "":
		content, err = os.ReadFile(spec.FilePath)
		if err != nil {
			return nil, fmt.Errorf("read file: %w", err)
		}
	case spec.URL != "":
		content, err = l.fetchURL(ctx, spec.URL)
		if err != nil {
			return nil, err
		}
	default:
		return nil, fmt.Errorf("attachment %q has no content source", spec.Filename)
	}

	if len(content) > MaxAttachmentSize {
		return nil, fmt.Errorf("attachment %q exceeds %d bytes", spec.Filename, MaxAttachmentSize)
	}

	// 未配置文件存储时附件只随本次发送走内存，不落盘（重发时无法恢复）
	var path, hash string
	if l.blobs != nil {
		path, hash, err = l.blobs.Save(content)
		if err != nil {
			return nil, err
		}
	}

	mimeType := spec.MimeType
	if mimeType == "" {
		mimeType = "application/octet-stream"
	}

	return &domain.Attachment{
		ID:          uuid.NewString(),
		OwnerType:   domain.AttachmentOwnerOutbound,
		MessageID:   messageID,
		Filename:    spec.Filename,
		ContentType: mimeType,
		StoragePath: path,
		Size:        int64(len(content)),
		ContentHash: hash,
		Content:     content,
	}, nil
}

// fetchURL 拉取远程附件，带两次尝试。
func (l *AttachmentLoader) fetchURL(ctx context.Context, rawURL string) ([]byte, error) {
	if err := ValidateAttachmentURL(rawURL); err != nil {
		return nil, err
	}

	var lastErr error
	for attempt := 0; attempt < attachmentFetchAttempts; attempt++ {
		content, err := l.fetchOnce(ctx, rawURL)
		if err == nil {
			return content, nil
		}
		lastErr = err
	}
	return nil, lastErr
}

func (l *AttachmentLoader) fetchOnce(ctx context.Context, rawURL string) ([]byte, error) {
	reqCtx, cancel := context.WithTimeout(ctx, attachmentFetchTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}

	resp, err := l.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch %s: %w", rawURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetch %s: status %d", rawURL, resp.StatusCode)
	}
	if resp.ContentLength > MaxAttachmentSize {
		return nil, fmt.Errorf("fetch %s: content length %d exceeds limit", rawURL, resp.ContentLength)
	}

	// 多读一个字节以区分「恰好达到上限」和「超限」
	content, err := io.ReadAll(io.LimitReader(resp.Body, MaxAttachmentSize+1))
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}
	if len(content) > MaxAttachmentSize {
		return nil, fmt.Errorf("fetch %s: body exceeds %d bytes", rawURL, MaxAttachmentSize)
	}
	return content, nil
}

// ValidateAttachmentURL 校验远程附件 URL：
// 仅允许 http/https，主机解析出的地址不得落在禁止网段。
func ValidateAttachmentURL(rawURL string) error {
	u, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("invalid url %q: %w", rawURL, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("url scheme %q not allowed", u.Scheme)
	}
	if u.Hostname() == "" {
		return fmt.Errorf("url %q has no host", rawURL)
	}

	// 字面量 IP 在这里就能拒绝；域名等拨号时逐 IP 检查
	if ip := net.ParseIP(u.Hostname()); ip != nil && isForbiddenIP(ip) {
		return fmt.Errorf("url host %s is not allowed", u.Hostname())
	}
	return nil
}

// guardedDialContext 解析目标主机并拒绝落在禁止网段的地址，
// 然后拨号第一个允许的地址。
func guardedDialContext(ctx context.Context, network, addr string) (net.Conn, error) {
	host, port, err := net.SplitHostPort(addr)
	if err != nil {
		return nil, err
	}

	ips, err := net.DefaultResolver.LookupIPAddr(ctx, host)
	if err != nil {
		return nil, err
	}

	dialer := &net.Dialer{Timeout: 10 * time.Second}
	for _, ip := range ips {
		if isForbiddenIP(ip.IP) {
			continue
		}
		conn, err := dialer.DialContext(ctx, network, net.JoinHostPort(ip.IP.String(), port))
		if err == nil {
			return conn, nil
		}
	}
	return nil, fmt.Errorf("no allowed address for host %q", host)
}

// isForbiddenIP 判断地址是否落在禁止网段：
// 回环、私有网段、链路本地、未指定地址。
func isForbiddenIP(ip net.IP) bool {
	return ip.IsLoopback() ||
		ip.IsPrivate() ||
		ip.IsLinkLocalUnicast() ||
		ip.IsLinkLocalMulticast() ||
		ip.IsUnspecified()
}
