package verify

import (
	"strings"

	"golang.org/x/net/html"
)

// firstAttribute returns the first non-empty value of attr in document order
func firstAttribute(body, attr string) (string, bool) {
	attr = strings.ToLower(attr)
	z := html.NewTokenizer(strings.NewReader(body))
	for {
		switch z.Next() {
		case html.ErrorToken:
			return "", false
		case html.StartTagToken, html.SelfClosingTagToken:
			_, more := z.TagName()
			for more {
				var key, val []byte
				key, val, more = z.TagAttr()
				if string(key) == attr && len(val) > 0 {
					return string(val), true
				}
			}
		}
	}
}
