package mailparse

import (
	"bytes"
	"io"
	"strings"

	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/japanese"
	"golang.org/x/text/encoding/korean"
	"golang.org/x/text/encoding/simplifiedchinese"
	"golang.org/x/text/encoding/traditionalchinese"
	"golang.org/x/text/transform"
)

// FirstText 深度优先返回第一个非附件的 text/plain 部分。
// 先到先得：后续的同类部分被忽略。
func FirstText(root *Part) *Part {
	return findFirst(root, "text/plain")
}

// FirstHTML 深度优先返回第一个非附件的 text/html 部分。
func FirstHTML(root *Part) *Part {
	return findFirst(root, "text/html")
}

func findFirst(p *Part, mediaType string) *Part {
	if p == nil {
		return nil
	}
	if len(p.Children) == 0 {
		if p.MediaType == mediaType && !p.IsAttachment() {
			return p
		}
		return nil
	}
	for _, child := range p.Children {
		if found := findFirst(child, mediaType); found != nil {
			return found
		}
	}
	return nil
}

// CollectAttachments 收集树中所有附件叶子
//（Content-Disposition: attachment，或 inline 且带 Content-ID）。
func CollectAttachments(root *Part) []*Part {
	if root == nil {
		return nil
	}
	if len(root.Children) == 0 {
		if root.IsAttachment() {
			return []*Part{root}
		}
		return nil
	}
	var out []*Part
	for _, child := range root.Children {
		out = append(out, CollectAttachments(child)...)
	}
	return out
}

// convertCharset 将非 UTF-8 文本转换为 UTF-8，转换失败时原样返回。
func convertCharset(body []byte, charset string) []byte {
	enc := charsetEncoding(charset)
	if enc == nil {
		return body
	}
	converted, _, err := transform.Bytes(enc.NewDecoder(), body)
	if err != nil {
		return body
	}
	return converted
}

// charsetReader 供 mime.WordDecoder 使用的字符集读取器。
func charsetReader(charset string, input io.Reader) (io.Reader, error) {
	enc := charsetEncoding(charset)
	if enc == nil {
		return input, nil
	}
	raw, err := io.ReadAll(input)
	if err != nil {
		return nil, err
	}
	converted, _, err := transform.Bytes(enc.NewDecoder(), raw)
	if err != nil {
		return bytes.NewReader(raw), nil
	}
	return bytes.NewReader(converted), nil
}

// charsetEncoding 根据字符集名称返回编码器，UTF-8/未知返回 nil。
func charsetEncoding(charset string) encoding.Encoding {
	switch strings.ToLower(strings.TrimSpace(charset)) {
	case "gb2312", "gbk", "gb18030":
		return simplifiedchinese.GBK
	case "big5":
		return traditionalchinese.Big5
	case "iso-2022-jp", "shift_jis", "euc-jp":
		return japanese.ShiftJIS
	case "euc-kr", "ks_c_5601-1987":
		return korean.EUCKR
	default:
		return nil
	}
}
