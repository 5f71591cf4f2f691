// Package i18n, kullanıcıya gösterilen metinler için çoklu dil desteği sağlar.
//
// Bildirim (toast) ve CLI metinleri bu paket üzerinden üretilir. Dil,
// config'teki MESHCHAT_LANG değerinden veya LANG ortam değişkeninden
// belirlenir; desteklenmeyen dil varsayılana (en) düşer.
//
// Locale dosyaları iç içe JSON'dur ve "notify.entered" gibi noktalı
// anahtarlara düzleştirilir. Yükleme sırasında her dilin varsayılan dille
// aynı anahtar ve {{placeholder}} kümesine sahip olduğu doğrulanır.
//
//	localizer := i18n.NewLocalizer("tr")
//	msg := localizer.TWithParams("notify.userJoined", map[string]string{"name": "Ali"})
//	// → "Ali sohbete katıldı"
package i18n

import (
	"encoding/json"
	"fmt"
	"io/fs"
	"maps"
	"slices"
	"strings"
	"sync"
)

// SupportedLanguages, locale dosyası bulunan diller. İlki varsayılandır.
var SupportedLanguages = []string{"en", "tr"}

// DefaultLanguage, eksik çevirilerin düştüğü dil.
const DefaultLanguage = "en"

// catalog: lang → key → template. Load'dan sonra sadece okunur.
type catalog map[string]map[string]string

var (
	translations catalog
	loadOnce     sync.Once
	loadErr      error
)

// Load, her desteklenen dil için "<lang>.json" dosyasını okur ve doğrular.
// Process ömründe bir kez çalışır; sonraki çağrılar ilk sonucu döner.
func Load(localesFS fs.FS) error {
	loadOnce.Do(func() {
		c := make(catalog, len(SupportedLanguages))
		for _, lang := range SupportedLanguages {
			flat, err := readLocale(localesFS, lang)
			if err != nil {
				loadErr = err
				return
			}
			c[lang] = flat
		}
		if err := c.validate(); err != nil {
			loadErr = err
			return
		}
		translations = c
	})
	return loadErr
}

// MustLoadEmbedded, binary'ye gömülü locale dosyalarını yükler.
func MustLoadEmbedded() {
	sub, err := fs.Sub(EmbeddedLocales, "locales")
	if err != nil {
		panic(fmt.Sprintf("i18n: locales dir: %v", err))
	}
	if err := Load(sub); err != nil {
		panic(fmt.Sprintf("i18n: %v", err))
	}
}

func readLocale(localesFS fs.FS, lang string) (map[string]string, error) {
	name := lang + ".json"
	data, err := fs.ReadFile(localesFS, name)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", name, err)
	}
	var nested map[string]any
	if err := json.Unmarshal(data, &nested); err != nil {
		return nil, fmt.Errorf("parse %s: %w", name, err)
	}
	flat := make(map[string]string)
	if err := flatten("", nested, flat); err != nil {
		return nil, fmt.Errorf("%s: %w", name, err)
	}
	return flat, nil
}

// flatten: {"notify": {"entered": "..."}} → {"notify.entered": "..."}
func flatten(prefix string, src map[string]any, dst map[string]string) error {
	for k, v := range src {
		key := k
		if prefix != "" {
			key = prefix + "." + k
		}
		switch val := v.(type) {
		case string:
			dst[key] = val
		case map[string]any:
			if err := flatten(key, val, dst); err != nil {
				return err
			}
		default:
			return fmt.Errorf("key %q: expected string or object, got %T", key, v)
		}
	}
	return nil
}

// validate, her dilin varsayılan dille aynı anahtarlara ve her anahtarda
// aynı placeholder'lara sahip olduğunu kontrol eder.
func (c catalog) validate() error {
	base := c[DefaultLanguage]
	var problems []string
	for _, lang := range SupportedLanguages {
		if lang == DefaultLanguage {
			continue
		}
		other := c[lang]
		for _, key := range slices.Sorted(maps.Keys(base)) {
			tmpl, ok := other[key]
			if !ok {
				problems = append(problems, fmt.Sprintf("%s: missing %q", lang, key))
				continue
			}
			if !slices.Equal(placeholders(base[key]), placeholders(tmpl)) {
				problems = append(problems, fmt.Sprintf("%s: %q placeholders differ", lang, key))
			}
		}
		for key := range other {
			if _, ok := base[key]; !ok {
				problems = append(problems, fmt.Sprintf("%s: unknown key %q", lang, key))
			}
		}
	}
	if len(problems) > 0 {
		slices.Sort(problems)
		return fmt.Errorf("locale mismatch: %s", strings.Join(problems, "; "))
	}
	return nil
}

// ─── Localizer ───

// Localizer, tek bir dil için çeviri yapar.
type Localizer struct {
	lang string
}

// NewLocalizer, desteklenmeyen dilde varsayılana düşer.
func NewLocalizer(lang string) *Localizer {
	if !slices.Contains(SupportedLanguages, lang) {
		lang = DefaultLanguage
	}
	return &Localizer{lang: lang}
}

// Lang, localizer'ın kullandığı dil kodu.
func (l *Localizer) Lang() string {
	return l.lang
}

// Has, anahtar localizer'ın dilinde veya varsayılan dilde tanımlıysa true.
func (l *Localizer) Has(key string) bool {
	_, ok := l.lookup(key)
	return ok
}

// T, anahtarın metnini döner. Önce localizer'ın dili, sonra varsayılan
// dil denenir; ikisinde de yoksa anahtarın kendisi döner.
func (l *Localizer) T(key string) string {
	if msg, ok := l.lookup(key); ok {
		return msg
	}
	return key
}

// TWithParams, metindeki {{param}} yer tutucularını tek geçişte doldurur.
// Değerlerin içindeki "{{...}}" tekrar işlenmez; params'ta olmayan yer
// tutucular olduğu gibi kalır.
//
//	localizer.TWithParams("notify.entered", map[string]string{"name": "Ali"})
//	→ "Ali sohbete girdi"
func (l *Localizer) TWithParams(key string, params map[string]string) string {
	return render(l.T(key), params)
}

func (l *Localizer) lookup(key string) (string, bool) {
	if msg, ok := translations[l.lang][key]; ok {
		return msg, true
	}
	msg, ok := translations[DefaultLanguage][key]
	return msg, ok
}

// DetectLanguage, "tr-TR,tr;q=0.9,en;q=0.7" (Accept-Language) veya
// "tr_TR.UTF-8" (LANG) biçimindeki tercihten ilk desteklenen dili seçer.
func DetectLanguage(pref string) string {
	for part := range strings.SplitSeq(pref, ",") {
		tag, _, _ := strings.Cut(strings.TrimSpace(part), ";")
		base, _, _ := strings.Cut(tag, ".")
		base, _, _ = strings.Cut(base, "_")
		base, _, _ = strings.Cut(base, "-")
		base = strings.ToLower(base)
		if slices.Contains(SupportedLanguages, base) {
			return base
		}
	}
	return DefaultLanguage
}

// ─── Templates ───

func render(tmpl string, params map[string]string) string {
	if len(params) == 0 || !strings.Contains(tmpl, "{{") {
		return tmpl
	}
	var b strings.Builder
	rest := tmpl
	for {
		start := strings.Index(rest, "{{")
		if start < 0 {
			break
		}
		end := strings.Index(rest[start+2:], "}}")
		if end < 0 {
			break
		}
		name := rest[start+2 : start+2+end]
		b.WriteString(rest[:start])
		if v, ok := params[name]; ok {
			b.WriteString(v)
		} else {
			b.WriteString(rest[start : start+4+end])
		}
		rest = rest[start+4+end:]
	}
	b.WriteString(rest)
	return b.String()
}

// placeholders, şablondaki {{ad}}'ları sıralı ve tekrarsız döner.
func placeholders(tmpl string) []string {
	var out []string
	for rest := tmpl; ; {
		start := strings.Index(rest, "{{")
		if start < 0 {
			break
		}
		end := strings.Index(rest[start+2:], "}}")
		if end < 0 {
			break
		}
		out = append(out, rest[start+2:start+2+end])
		rest = rest[start+4+end:]
	}
	slices.Sort(out)
	return slices.Compact(out)
}
