package mapping

import (
	"context"
	"math"
	"sort"
	"strings"

	"github.com/google/uuid"

	"github.com/opsbridge/cmdb/internal/domain"
)

// Confidence weights for each comparable factor. A factor only counts when
// both sides carry a non-null value; the final score is the sum divided by
// the number of factors actually compared.
const (
	weightSerial         = 40
	weightAssetTag       = 30
	weightModel          = 20
	weightModelSubstring = 10
	weightDepartment     = 10
)

// MatchSuggestion pairs an unmapped inventory asset with its best CI
// candidate and a 0-100 confidence score.
type MatchSuggestion struct {
	Asset      domain.InventoryAsset    `json:"asset"`
	CI         domain.ConfigurationItem `json:"ci"`
	Confidence int                      `json:"confidence"`
	MatchedOn  []string                 `json:"matched_on"`
}

// IntegrationAnalysis surfaces records on each side with no mapping plus
// confidence-scored match suggestions.
type IntegrationAnalysis struct {
	UnmappedAssets int               `json:"unmapped_assets"`
	UnmappedCIs    int               `json:"unmapped_cis"`
	Suggestions    []MatchSuggestion `json:"suggestions"`
}

// AnalyzeIntegrationOpportunities finds inventory assets and CIs without a
// mapping and suggests the best candidate pairings. Mapped asset ids come
// from the CMDB side; the inventory store knows nothing about mappings.
func (s *Service) AnalyzeIntegrationOpportunities(ctx context.Context) (IntegrationAnalysis, error) {
	allAssets, err := s.inventory.ListAssets(ctx)
	if err != nil {
		return IntegrationAnalysis{}, err
	}
	mappings, err := s.mappings.List(ctx)
	if err != nil {
		return IntegrationAnalysis{}, err
	}
	mapped := make(map[uuid.UUID]bool, len(mappings))
	for _, m := range mappings {
		mapped[m.InventoryAssetID] = true
	}
	assets := make([]domain.InventoryAsset, 0, len(allAssets))
	for _, asset := range allAssets {
		if !mapped[asset.ID] {
			assets = append(assets, asset)
		}
	}

	cis, err := s.cis.ListUnmapped(ctx)
	if err != nil {
		return IntegrationAnalysis{}, err
	}

	analysis := IntegrationAnalysis{
		UnmappedAssets: len(assets),
		UnmappedCIs:    len(cis),
		Suggestions:    []MatchSuggestion{},
	}

	for _, asset := range assets {
		best, ok := bestCandidate(asset, cis)
		if !ok {
			continue
		}
		analysis.Suggestions = append(analysis.Suggestions, best)
	}

	sort.Slice(analysis.Suggestions, func(i, j int) bool {
		return analysis.Suggestions[i].Confidence > analysis.Suggestions[j].Confidence
	})
	return analysis, nil
}

func bestCandidate(asset domain.InventoryAsset, cis []domain.ConfigurationItem) (MatchSuggestion, bool) {
	var (
		best      MatchSuggestion
		bestScore = -1
	)
	for _, ci := range cis {
		score, matchedOn := ConfidenceScore(asset, ci)
		if score > bestScore && len(matchedOn) > 0 {
			bestScore = score
			best = MatchSuggestion{Asset: asset, CI: ci, Confidence: score, MatchedOn: matchedOn}
		}
	}
	return best, bestScore > 0
}

// ConfidenceScore computes the weighted match confidence between an asset
// and a CI. Returns the rounded score and the factors that matched.
func ConfidenceScore(asset domain.InventoryAsset, ci domain.ConfigurationItem) (int, []string) {
	sum := 0
	compared := 0
	matchedOn := []string{}

	if asset.SerialNumber != "" {
		if serial := ci.StringAttribute("serialNumber"); serial != "" {
			compared++
			if strings.EqualFold(asset.SerialNumber, serial) {
				sum += weightSerial
				matchedOn = append(matchedOn, "serialNumber")
			}
		}
	}
	if asset.AssetTag != "" {
		if tag := ci.StringAttribute("assetTag"); tag != "" {
			compared++
			if strings.EqualFold(asset.AssetTag, tag) {
				sum += weightAssetTag
				matchedOn = append(matchedOn, "assetTag")
			}
		}
	}
	if asset.Model != "" {
		if model := ci.StringAttribute("model"); model != "" {
			compared++
			switch {
			case strings.EqualFold(asset.Model, model):
				sum += weightModel
				matchedOn = append(matchedOn, "model")
			case strings.Contains(strings.ToLower(model), strings.ToLower(asset.Model)),
				strings.Contains(strings.ToLower(asset.Model), strings.ToLower(model)):
				sum += weightModelSubstring
				matchedOn = append(matchedOn, "model~")
			}
		}
	}
	if asset.Department != "" {
		if dept := ci.StringAttribute("department"); dept != "" {
			compared++
			if strings.EqualFold(asset.Department, dept) {
				sum += weightDepartment
				matchedOn = append(matchedOn, "department")
			}
		}
	}

	if compared == 0 {
		return 0, matchedOn
	}
	score := int(math.Round(float64(sum) / float64(compared)))
	if score > 100 {
		score = 100
	}
	return score, matchedOn
}
