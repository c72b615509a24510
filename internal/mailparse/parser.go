// Package mailparse 将原始 RFC-822/MIME 内容解码为结构化的
// 头部/正文/附件数据。解析是尽力而为的：局部损坏（未知编码、
// 缺失 boundary、非法地址项）降级处理而不是整体失败。
package mailparse

import (
	"bufio"
	"bytes"
	"encoding/base64"
	"io"
	"mime"
	"mime/multipart"
	"mime/quotedprintable"
	"net/mail"
	"net/textproto"
	"strings"
	"time"

	"mailrelay/backend/internal/domain"
)

// Address 解析后的邮件地址（显示名 + 地址）。
type Address struct {
	Name  string `json:"name,omitempty"`
	Email string `json:"email"`
}

// Header 邮件头。键为规范化形式（大小写不敏感），
// 重复出现的头（如多个 Received）按出现顺序收敛为一个列表。
type Header map[string][]string

// Get 返回头部的第一个值，不存在时返回空字符串。
func (h Header) Get(key string) string {
	vs := h[textproto.CanonicalMIMEHeaderKey(key)]
	if len(vs) == 0 {
		return ""
	}
	return vs[0]
}

// Values 返回头部的全部值（保持出现顺序）。
func (h Header) Values(key string) []string {
	return h[textproto.CanonicalMIMEHeaderKey(key)]
}

// Part 表示 MIME 树中的一个节点。
// 叶子节点携带解码后的正文字节；multipart 节点只有子节点。
type Part struct {
	MediaType   string
	Params      map[string]string
	Header      Header
	Disposition string // attachment / inline / ""
	Filename    string
	ContentID   string
	Body        []byte
	Children    []*Part
}

// IsAttachment 判断该叶子部分是否应作为附件处理：
// Content-Disposition 为 attachment，或 inline 且带 Content-ID（内联图片）。
func (p *Part) IsAttachment() bool {
	if p.Disposition == "attachment" {
		return true
	}
	return p.Disposition == "inline" && p.ContentID != ""
}

// Email 解析完成的邮件。
type Email struct {
	Header      Header
	Subject     string
	MessageID   string
	InReplyTo   string
	References  string
	Date        time.Time
	From        []Address
	To          []Address
	Cc          []Address
	Bcc         []Address
	Root        *Part
	Text        string // 深度优先第一个 text/plain 部分
	HTML        string // 深度优先第一个 text/html 部分
	Attachments []*Part
}

// Parse 解析原始邮件字节。
// 头部折行（续行）在取值前已由 textproto 重组；
// 头块与正文以第一个空行分隔。
func Parse(raw []byte) (*Email, error) {
	tp := textproto.NewReader(bufio.NewReader(bytes.NewReader(raw)))
	mimeHeader, err := tp.ReadMIMEHeader()
	if err != nil && len(mimeHeader) == 0 {
		return nil, domain.ParseErrorf("read header: %v", err)
	}

	body, _ := io.ReadAll(tp.R)
	root := parsePart(mimeHeader, body)

	header := Header(mimeHeader)
	email := &Email{
		Header:     header,
		Subject:    decodeWord(header.Get("Subject")),
		MessageID:  strings.TrimSpace(header.Get("Message-Id")),
		InReplyTo:  strings.TrimSpace(header.Get("In-Reply-To")),
		References: strings.TrimSpace(header.Get("References")),
		From:       ParseAddressList(header.Get("From")),
		To:         ParseAddressList(header.Get("To")),
		Cc:         ParseAddressList(header.Get("Cc")),
		Bcc:        ParseAddressList(header.Get("Bcc")),
		Root:       root,
	}

	if date, err := mail.ParseDate(header.Get("Date")); err == nil {
		email.Date = date
	}

	if text := FirstText(root); text != nil {
		email.Text = string(text.Body)
	}
	if html := FirstHTML(root); html != nil {
		email.HTML = string(html.Body)
	}
	email.Attachments = CollectAttachments(root)

	return email, nil
}

// parsePart 递归构建 MIME 树。纯函数：输入头部与原始正文，
// 返回完整子树，不携带可变累加器。
func parsePart(h textproto.MIMEHeader, body []byte) *Part {
	mediaType, params, err := mime.ParseMediaType(h.Get("Content-Type"))
	if err != nil || mediaType == "" {
		mediaType, params = "text/plain", nil
	}

	part := &Part{
		MediaType: mediaType,
		Params:    params,
		Header:    Header(h),
	}

	if disp := h.Get("Content-Disposition"); disp != "" {
		dispType, dispParams, err := mime.ParseMediaType(disp)
		if err == nil {
			part.Disposition = dispType
			part.Filename = decodeWord(dispParams["filename"])
		}
	}
	if part.Filename == "" {
		part.Filename = decodeWord(params["name"])
	}
	part.ContentID = strings.Trim(h.Get("Content-Id"), "<> \t")

	if strings.HasPrefix(mediaType, "multipart/") {
		boundary := params["boundary"]
		if boundary == "" {
			// 声明了 multipart 但没有 boundary：按单个不透明部分处理
			part.Body = body
			return part
		}
		mr := multipart.NewReader(bytes.NewReader(body), boundary)
		for {
			sub, err := mr.NextPart()
			if err != nil {
				break // io.EOF 或格式损坏，保留已解析的子部分
			}
			subBody, err := io.ReadAll(sub)
			if err != nil {
				continue
			}
			part.Children = append(part.Children, parsePart(sub.Header, subBody))
		}
		return part
	}

	part.Body = decodeTransfer(body, h.Get("Content-Transfer-Encoding"))
	if strings.HasPrefix(mediaType, "text/") {
		part.Body = convertCharset(part.Body, params["charset"])
	}
	return part
}

// decodeTransfer 按 Content-Transfer-Encoding 解码正文。
// 已知编码：base64、quoted-printable、7bit、8bit、binary；
// 未知编码原样透传（按 8bit 处理）。
func decodeTransfer(body []byte, encoding string) []byte {
	switch strings.ToLower(strings.TrimSpace(encoding)) {
	case "base64":
		cleaned := strings.Map(func(r rune) rune {
			if r == '\r' || r == '\n' || r == ' ' || r == '\t' {
				return -1
			}
			return r
		}, string(body))
		decoded, err := base64.StdEncoding.DecodeString(cleaned)
		if err != nil {
			return body
		}
		return decoded
	case "quoted-printable":
		decoded, err := io.ReadAll(quotedprintable.NewReader(bytes.NewReader(body)))
		if err != nil {
			return body
		}
		return decoded
	default:
		return body
	}
}

// ParseAddressList 用宽容文法解析地址列表：
// 支持 `"Name" <addr>` 和裸 addr 两种形式；非法项丢弃，不报错。
func ParseAddressList(value string) []Address {
	value = strings.TrimSpace(value)
	if value == "" {
		return nil
	}

	if parsed, err := mail.ParseAddressList(value); err == nil {
		out := make([]Address, 0, len(parsed))
		for _, a := range parsed {
			out = append(out, Address{Name: decodeWord(a.Name), Email: a.Address})
		}
		return out
	}

	// 整表解析失败时逐项兜底，丢弃解析不了的条目
	var out []Address
	for _, item := range strings.Split(value, ",") {
		item = strings.TrimSpace(item)
		if item == "" {
			continue
		}
		if a, err := mail.ParseAddress(item); err == nil {
			out = append(out, Address{Name: decodeWord(a.Name), Email: a.Address})
		}
	}
	return out
}

// decodeWord 解码 RFC 2047 编码字（=?charset?B?...?=），失败时原样返回。
func decodeWord(value string) string {
	if !strings.Contains(value, "=?") {
		return value
	}
	dec := mime.WordDecoder{CharsetReader: charsetReader}
	decoded, err := dec.DecodeHeader(value)
	if err != nil {
		return value
	}
	return decoded
}
