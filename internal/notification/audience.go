package notification

import (
	"context"

	"github.com/pushboard/pushboard-api/internal/models"
	"github.com/pushboard/pushboard-api/internal/repository"
)

// AudienceResolver translates a template's targeting fields into the set of
// recipients that should receive it.
type AudienceResolver struct {
	recipients repository.RecipientRepository
}

func NewAudienceResolver(recipients repository.RecipientRepository) *AudienceResolver {
	return &AudienceResolver{recipients: recipients}
}

func (r *AudienceResolver) Resolve(ctx context.Context, tpl models.Template) ([]models.Recipient, error) {
	return r.recipients.ListMatching(ctx, FilterFor(tpl))
}

func (r *AudienceResolver) Count(ctx context.Context, tpl models.Template) (int, error) {
	return r.recipients.CountMatching(ctx, FilterFor(tpl))
}

// FilterFor builds the audience filter for a template, normalizing the
// platform list first so IOS+ANDROID collapses to ALL.
func FilterFor(tpl models.Template) repository.AudienceFilter {
	return repository.AudienceFilter{
		Platforms:  models.NormalizePlatforms(tpl.Platforms),
		AppVariant: tpl.AppVariant,
	}
}

// Targets reports whether a single recipient falls inside the template's
// audience. Used by the flash path, which starts from the recipient.
func Targets(tpl models.Template, rec models.Recipient) bool {
	if !models.PlatformsInclude(models.NormalizePlatforms(tpl.Platforms), rec.Platform) {
		return false
	}
	if tpl.AppVariant != nil {
		if rec.AppVariant == nil || *rec.AppVariant != *tpl.AppVariant {
			return false
		}
	}
	return true
}
