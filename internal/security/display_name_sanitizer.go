package security

import (
	"html"
	"strings"

	"github.com/microcosm-cc/bluemonday"
)

// angleBrackets は文字参照の復元後に残った山括弧を取り除く。
var angleBrackets = strings.NewReplacer("<", "", ">", "")

// DisplayNameSanitizer はIdPから受け取った表示名をプレーンテキストにする。
// 表示名は外部サービスが返す値であり、そのままHTMLに埋め込まれても安全な形で保存する。
// 安全に並行利用できる。
type DisplayNameSanitizer struct {
	policy *bluemonday.Policy
}

// NewDisplayNameSanitizer はDisplayNameSanitizerを生成する。
// bluemondayのStrictPolicyで全てのタグと属性を除去し、
// script/styleなどの要素は中身ごと捨てる。
func NewDisplayNameSanitizer() *DisplayNameSanitizer {
	return &DisplayNameSanitizer{
		policy: bluemonday.StrictPolicy(),
	}
}

// Sanitize はタグを除去した1行のプレーンテキストを返す。
// 文字参照は元の文字に戻すが、結果に'<'と'>'は残さないため出力がマークアップになることはない。
// 連続する空白は1つにまとめる。
func (s *DisplayNameSanitizer) Sanitize(raw string) string {
	if raw == "" {
		return ""
	}
	text := angleBrackets.Replace(html.UnescapeString(s.policy.Sanitize(raw)))
	return strings.Join(strings.Fields(text), " ")
}
