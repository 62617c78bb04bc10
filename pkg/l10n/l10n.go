// Package l10n renders the server's own messages in the language a requester
// asked for. The language preference is always passed in explicitly.
package l10n

import (
	"sort"
	"strings"

	"golang.org/x/text/language"

	"github.com/morezero/cim-broker/pkg/cim"
)

// Key identifies a server message.
type Key string

const (
	KeyProviderBlocked  Key = "ProviderManager.ProviderManagerService.PROVIDER_BLOCKED"
	KeyUnknownInterface Key = "ProviderManager.ProviderManagerService.PROVIDERMANAGER_LOOKUP_FAILED"
)

// English is the default catalog and is never reported as a content language.
var catalogs = []struct {
	tag      language.Tag
	messages map[Key]string
}{
	{language.English, map[Key]string{
		KeyProviderBlocked:  "provider blocked.",
		KeyUnknownInterface: `Provider interface type "$0" version "$1" is not recognized.`,
	}},
	{language.German, map[Key]string{
		KeyProviderBlocked:  "Provider blockiert.",
		KeyUnknownInterface: `Der Provider-Schnittstellentyp "$0" in Version "$1" wird nicht erkannt.`,
	}},
	{language.French, map[Key]string{
		KeyProviderBlocked:  "fournisseur bloqué.",
		KeyUnknownInterface: `Le type d'interface de fournisseur "$0" version "$1" n'est pas reconnu.`,
	}},
	{language.Spanish, map[Key]string{
		KeyProviderBlocked:  "proveedor bloqueado.",
		KeyUnknownInterface: `El tipo de interfaz de proveedor "$0" versión "$1" no se reconoce.`,
	}},
}

var matcher = func() language.Matcher {
	tags := make([]language.Tag, len(catalogs))
	for i, c := range catalogs {
		tags[i] = c.tag
	}
	return language.NewMatcher(tags)
}()

// Message returns the text for key in the best language of al, with $0, $1,
// ... replaced by args. The content language list names the language used and
// is nil when the English default was used.
func Message(al cim.AcceptLanguageList, key Key, args ...string) (string, cim.ContentLanguageList) {
	idx := pick(al)
	text, ok := catalogs[idx].messages[key]
	if !ok {
		idx = 0
		text = catalogs[0].messages[key]
	}
	text = substitute(text, args)
	if idx == 0 {
		return text, nil
	}
	return text, cim.ContentLanguageList{catalogs[idx].tag.String()}
}

// pick returns the catalog index for al, 0 when nothing matches.
func pick(al cim.AcceptLanguageList) int {
	prefs := make(cim.AcceptLanguageList, 0, len(al))
	for _, l := range al {
		if l.Quality > 0 {
			prefs = append(prefs, l)
		}
	}
	if len(prefs) == 0 {
		return 0
	}
	sort.SliceStable(prefs, func(i, j int) bool { return prefs[i].Quality > prefs[j].Quality })

	tags := make([]language.Tag, 0, len(prefs))
	for _, l := range prefs {
		if l.Tag == "*" {
			continue
		}
		t, err := language.Parse(l.Tag)
		if err != nil {
			continue
		}
		tags = append(tags, t)
	}
	if len(tags) == 0 {
		return 0
	}
	_, idx, conf := matcher.Match(tags...)
	if conf == language.No {
		return 0
	}
	return idx
}

func substitute(text string, args []string) string {
	if len(args) == 0 {
		return text
	}
	pairs := make([]string, 0, 2*len(args))
	for i, a := range args {
		pairs = append(pairs, "$"+string(rune('0'+i)), a)
	}
	return strings.NewReplacer(pairs...).Replace(text)
}
