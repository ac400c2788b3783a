package notification

import (
	"testing"

	"github.com/pushboard/pushboard-api/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBestTranslation(t *testing.T) {
	tpl := models.Template{
		Translations: []models.Translation{
			{Language: models.LanguageEnglish, Title: "Hello"},
			{Language: models.LanguageJapanese, Title: "こんにちは"},
		},
	}

	tr, ok := BestTranslation(tpl, models.LanguageJapanese)
	require.True(t, ok)
	assert.Equal(t, models.LanguageJapanese, tr.Language)

	// Khmer is missing; the chain lands on English.
	tr, ok = BestTranslation(tpl, models.LanguageKhmer)
	require.True(t, ok)
	assert.Equal(t, models.LanguageEnglish, tr.Language)

	_, ok = BestTranslation(models.Template{}, models.LanguageKhmer)
	assert.False(t, ok)
}

func TestSortTranslations(t *testing.T) {
	translations := []models.Translation{
		{Language: models.LanguageJapanese},
		{Language: models.LanguageEnglish},
		{Language: models.LanguageKhmer},
	}
	SortTranslations(translations)
	assert.Equal(t, models.LanguageKhmer, translations[0].Language)
	assert.Equal(t, models.LanguageEnglish, translations[1].Language)
	assert.Equal(t, models.LanguageJapanese, translations[2].Language)
}

func TestPayloadFor(t *testing.T) {
	image := "https://cdn.example.com/banner.png"
	link := "https://example.com/promo"
	category := "PROMO"
	tpl := models.Template{ID: 42, Category: &category}
	tr := models.Translation{
		Language: models.LanguageEnglish,
		Title:    "Hello",
		Content:  "Welcome",
		ImageURL: &image,
		LinkURL:  &link,
	}

	payload := PayloadFor(tpl, tr)
	assert.Equal(t, "Hello", payload.Title)
	assert.Equal(t, "Welcome", payload.Body)
	assert.Equal(t, image, payload.ImageURL)
	assert.Equal(t, link, payload.LinkURL)
	assert.Equal(t, "42", payload.Data["template_id"])
	assert.Equal(t, "PROMO", payload.Data["category"])
}
