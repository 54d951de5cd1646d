package trader

import (
	"context"

	"github.com/dyike/stockbot/internal/llm"
	"github.com/dyike/stockbot/internal/logger"
	"github.com/dyike/stockbot/internal/models"
	"github.com/dyike/stockbot/internal/prompts"
	"github.com/dyike/stockbot/pkg/normalizer"
)

// PersonalitySelector lets the model pick a trading style for the current
// conditions. Anything it cannot use becomes Moderate.
type PersonalitySelector struct {
	llm llm.Completer
}

func NewPersonalitySelector(c llm.Completer) *PersonalitySelector {
	return &PersonalitySelector{llm: c}
}

func (s *PersonalitySelector) Select(ctx context.Context, subject, marketContext string) models.Personality {
	prompt, err := prompts.Render(prompts.Personality, map[string]string{
		"Subject": subject,
		"Context": marketContext,
	})
	if err != nil {
		logger.Warn("personality prompt unavailable", logger.Err(err))
		return models.PersonalityModerate
	}
	raw, err := s.llm.Complete(llm.WithPurpose(ctx, "personality"), prompt)
	if err != nil {
		logger.Warn("personality selection failed", logger.String("subject", subject), logger.Err(err))
		return models.PersonalityModerate
	}
	res, err := normalizer.Parse(raw, normalizer.ShapeObject)
	if err != nil {
		logger.Warn("personality output unusable", logger.String("subject", subject), logger.Err(err))
		return models.PersonalityModerate
	}
	p, err := models.ParsePersonality(normalizer.String(res.Get("personality")))
	if err != nil {
		logger.Warn("model picked an unknown personality", logger.String("subject", subject), logger.Err(err))
		return models.PersonalityModerate
	}
	logger.Info("personality selected", logger.String("subject", subject), logger.String("personality", string(p)))
	return p
}
