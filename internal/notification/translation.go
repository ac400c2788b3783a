package notification

import (
	"sort"
	"strconv"

	"github.com/pushboard/pushboard-api/internal/models"
	"github.com/pushboard/pushboard-api/internal/push"
)

// BestTranslation picks the template translation for a recipient's preferred
// language, falling back through the language chain when the preferred one
// is missing.
func BestTranslation(tpl models.Template, preferred models.Language) (models.Translation, bool) {
	for _, lang := range models.LanguageFallback(preferred) {
		if tr, ok := tpl.Translation(lang); ok {
			return tr, true
		}
	}
	return models.Translation{}, false
}

// SortTranslations orders translations by language priority for display.
func SortTranslations(translations []models.Translation) {
	sort.SliceStable(translations, func(i, j int) bool {
		return models.LanguagePriority(translations[i].Language) < models.LanguagePriority(translations[j].Language)
	})
}

// PayloadFor renders the gateway payload for one translation of a template.
func PayloadFor(tpl models.Template, tr models.Translation) push.Payload {
	payload := push.Payload{
		Title: tr.Title,
		Body:  tr.Content,
		Data:  map[string]string{"template_id": formatID(tpl.ID)},
	}
	if tr.ImageURL != nil {
		payload.ImageURL = *tr.ImageURL
	}
	if tr.LinkURL != nil {
		payload.LinkURL = *tr.LinkURL
	}
	if tpl.Category != nil {
		payload.Data["category"] = *tpl.Category
	}
	return payload
}

func formatID(id int64) string {
	return strconv.FormatInt(id, 10)
}
