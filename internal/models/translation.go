package models

type Language string

const (
	LanguageKhmer    Language = "KM"
	LanguageEnglish  Language = "EN"
	LanguageJapanese Language = "JP"
)

// languagePriority orders languages for sorting translated content in the
// admin console. Khmer first, then English, then Japanese.
var languagePriority = map[Language]int{
	LanguageKhmer:    1,
	LanguageEnglish:  2,
	LanguageJapanese: 3,
}

func LanguagePriority(lang Language) int {
	if p, ok := languagePriority[lang]; ok {
		return p
	}
	return len(languagePriority) + 1
}

func IsValidLanguage(lang Language) bool {
	_, ok := languagePriority[lang]
	return ok
}

// LanguageFallback returns the order in which translations are tried for a
// recipient preferring the given language.
func LanguageFallback(preferred Language) []Language {
	switch preferred {
	case LanguageEnglish:
		return []Language{LanguageEnglish, LanguageKhmer, LanguageJapanese}
	case LanguageJapanese:
		return []Language{LanguageJapanese, LanguageKhmer, LanguageEnglish}
	default:
		return []Language{LanguageKhmer, LanguageEnglish, LanguageJapanese}
	}
}

type Translation struct {
	ID         int64    `json:"id" db:"id"`
	TemplateID int64    `json:"template_id" db:"template_id"`
	Language   Language `json:"language" db:"language"`
	Title      string   `json:"title" db:"title"`
	Content    string   `json:"content" db:"content"`
	ImageURL   *string  `json:"image_url,omitempty" db:"image_url"`
	LinkURL    *string  `json:"link_url,omitempty" db:"link_url"`
}
