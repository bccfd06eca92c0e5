package translation

import (
	"strings"

	"github.com/leonelquinteros/gotext"
)

// Configure loads the catalog for lang from dir/<lang>/default.po
func Configure(dir, lang string) {
	gotext.Configure(dir, strings.ToLower(lang), "default")
}

// Translate returns msgID itself when the catalog has no entry for it
func Translate(msgID string, vars ...interface{}) string {
	return gotext.Get(msgID, vars...)
}
