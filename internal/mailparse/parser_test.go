package mailparse

import (
	"encoding/base64"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func crlf(s string) []byte {
	return []byte(strings.ReplaceAll(s, "\n", "\r\n"))
}

func TestParsePlainText(t *testing.T) {
	raw := crlf(`From: Alice <alice@example.com>
To: bob@example.com
Subject: hello
Message-Id: <msg-1@example.com>
Date: Mon, 02 Jan 2023 15:04:05 +0000
Content-Type: text/plain; charset=utf-8

plain body here
`)

	email, err := Parse(raw)
	require.NoError(t, err)

	assert.Equal(t, "hello", email.Subject)
	assert.Equal(t, "<msg-1@example.com>", email.MessageID)
	require.Len(t, email.From, 1)
	assert.Equal(t, "Alice", email.From[0].Name)
	assert.Equal(t, "alice@example.com", email.From[0].Email)
	require.Len(t, email.To, 1)
	assert.Equal(t, "bob@example.com", email.To[0].Email)
	assert.Equal(t, "plain body here\r\n", email.Text)
	assert.Empty(t, email.HTML)
	assert.Equal(t, 2023, email.Date.Year())
}

func TestParseFoldedHeader(t *testing.T) {
	raw := crlf(`From: alice@example.com
Subject: a very long subject line
  that continues on the next line
Content-Type: text/plain

body
`)

	email, err := Parse(raw)
	require.NoError(t, err)
	// 折行重组为单个逻辑头
	assert.Contains(t, email.Subject, "a very long subject line")
	assert.Contains(t, email.Subject, "that continues on the next line")
}

func TestParseMultipartAlternative(t *testing.T) {
	raw := crlf(`From: alice@example.com
To: bob@example.com
Subject: multi
MIME-Version: 1.0
Content-Type: multipart/alternative; boundary="BOUNDARY"

--BOUNDARY
Content-Type: text/plain; charset=utf-8

text version
--BOUNDARY
Content-Type: text/html; charset=utf-8

<p>html version</p>
--BOUNDARY--
`)

	email, err := Parse(raw)
	require.NoError(t, err)

	assert.Contains(t, email.Text, "text version")
	assert.Contains(t, email.HTML, "<p>html version</p>")
	assert.Len(t, email.Root.Children, 2)
}

func TestParseNestedMultipartFindsFirstText(t *testing.T) {
	raw := crlf(`From: alice@example.com
Subject: nested
Content-Type: multipart/mixed; boundary="OUTER"

--OUTER
Content-Type: multipart/alternative; boundary="INNER"

--INNER
Content-Type: text/plain

inner text
--INNER
Content-Type: text/html

<b>inner html</b>
--INNER--
--OUTER
Content-Type: text/plain

second text part
--OUTER--
`)

	email, err := Parse(raw)
	require.NoError(t, err)

	// 深度优先取第一个命中的部分
	assert.Contains(t, email.Text, "inner text")
	assert.NotContains(t, email.Text, "second text part")
	assert.Contains(t, email.HTML, "inner html")
}

func TestParseAttachments(t *testing.T) {
	pdf := base64.StdEncoding.EncodeToString([]byte("%PDF-1.4 fake"))
	raw := crlf(`From: alice@example.com
Subject: with attachment
Content-Type: multipart/mixed; boundary="B"

--B
Content-Type: text/plain

see attached
--B
Content-Type: application/pdf; name="report.pdf"
Content-Disposition: attachment; filename="report.pdf"
Content-Transfer-Encoding: base64

` + pdf + `
--B
Content-Type: image/png
Content-Disposition: inline
Content-Id: <logo@example.com>

fakepng
--B--
`)

	email, err := Parse(raw)
	require.NoError(t, err)

	require.Len(t, email.Attachments, 2)
	assert.Equal(t, "report.pdf", email.Attachments[0].Filename)
	assert.Equal(t, "application/pdf", email.Attachments[0].MediaType)
	assert.Equal(t, []byte("%PDF-1.4 fake"), email.Attachments[0].Body)
	// inline + Content-ID 也算附件（内联图片）
	assert.Equal(t, "logo@example.com", email.Attachments[1].ContentID)
}

func TestParseMissingBoundaryFallsBackToOpaquePart(t *testing.T) {
	raw := crlf(`From: alice@example.com
Subject: broken
Content-Type: multipart/mixed

raw opaque content
`)

	email, err := Parse(raw)
	require.NoError(t, err)

	assert.Empty(t, email.Root.Children)
	assert.Contains(t, string(email.Root.Body), "raw opaque content")
}

func TestParseQuotedPrintable(t *testing.T) {
	raw := crlf(`From: alice@example.com
Subject: qp
Content-Type: text/plain; charset=utf-8
Content-Transfer-Encoding: quoted-printable

caf=C3=A9 line=
 continuation
`)

	email, err := Parse(raw)
	require.NoError(t, err)
	assert.Contains(t, email.Text, "café")
}

func TestParseBase64WithLineBreaks(t *testing.T) {
	encoded := base64.StdEncoding.EncodeToString([]byte("hello base64 world"))
	// 换行切开的 base64（传输中常见形态）
	wrapped := encoded[:8] + "\r\n" + encoded[8:]

	raw := []byte("From: a@example.com\r\nSubject: b64\r\nContent-Type: text/plain\r\nContent-Transfer-Encoding: base64\r\n\r\n" + wrapped + "\r\n")

	email, err := Parse(raw)
	require.NoError(t, err)
	assert.Equal(t, "hello base64 world", strings.TrimSpace(email.Text))
}

func TestParseUnknownTransferEncodingPassesThrough(t *testing.T) {
	raw := crlf(`From: alice@example.com
Subject: unknown encoding
Content-Type: text/plain
Content-Transfer-Encoding: x-custom

untouched body
`)

	email, err := Parse(raw)
	require.NoError(t, err)
	assert.Contains(t, email.Text, "untouched body")
}

func TestParseRFC2047Subject(t *testing.T) {
	raw := crlf(`From: alice@example.com
Subject: =?UTF-8?B?5L2g5aW977yM5LiW55WM?=
Content-Type: text/plain

body
`)

	email, err := Parse(raw)
	require.NoError(t, err)
	assert.Equal(t, "你好，世界", email.Subject)
}

func TestParseReplyHeaders(t *testing.T) {
	raw := crlf(`From: alice@example.com
Subject: Re: hello
Message-Id: <child@example.com>
In-Reply-To: <abc@x>
References: <root@x> <abc@x>
Content-Type: text/plain

reply body
`)

	email, err := Parse(raw)
	require.NoError(t, err)
	assert.Equal(t, "<abc@x>", email.InReplyTo)
	assert.Equal(t, "<root@x> <abc@x>", email.References)
}

func TestParseAddressListTolerance(t *testing.T) {
	t.Run("mixed forms", func(t *testing.T) {
		addrs := ParseAddressList(`"Bob Smith" <bob@example.com>, carol@example.com`)
		require.Len(t, addrs, 2)
		assert.Equal(t, "Bob Smith", addrs[0].Name)
		assert.Equal(t, "bob@example.com", addrs[0].Email)
		assert.Equal(t, "carol@example.com", addrs[1].Email)
	})

	t.Run("malformed entries dropped not fatal", func(t *testing.T) {
		addrs := ParseAddressList(`good@example.com, totally broken<<>>, other@example.com`)
		require.Len(t, addrs, 2)
		assert.Equal(t, "good@example.com", addrs[0].Email)
		assert.Equal(t, "other@example.com", addrs[1].Email)
	})

	t.Run("empty input", func(t *testing.T) {
		assert.Nil(t, ParseAddressList(""))
	})
}

func TestParseGarbageReturnsParseError(t *testing.T) {
	_, err := Parse([]byte("no header separator at all and no colon lines"))
	assert.Error(t, err)
}
