// Package metadata fetches the two feeds the orchestrator needs to discover
// and validate rewarded markets: a paginated list of rewarded markets from
// the rewards feed, and per-slug authoritative market metadata used to
// refresh the rewards feed's known-stale neg_risk flag before any order is
// signed.
//
// Fetching and ranking are split across packages: this one only fetches and
// decodes, ranking lives in internal/rewardmath.
package metadata

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/go-resty/resty/v2"

	"rewards-mm/internal/config"
	"rewards-mm/pkg/types"
)

// rewardedMarketDTO is the JSON shape of one entry in the rewards feed's
// paginated market list.
type rewardedMarketDTO struct {
	ConditionID string `json:"condition_id"`
	Question    string `json:"question"`
	Slug        string `json:"slug"`
	Tokens      []struct {
		TokenID string  `json:"token_id"`
		Price   float64 `json:"price"`
	} `json:"tokens"`
	RewardsConfig []struct {
		RatePerDay float64 `json:"rate_per_day"`
	} `json:"rewards_config"`
	RewardsMaxSpread       float64 `json:"rewards_max_spread"`
	RewardsMinSize         float64 `json:"rewards_min_size"`
	MarketCompetitiveness  float64 `json:"market_competitiveness"`
	NegRisk                bool    `json:"neg_risk"` // known-stale, refreshed separately
}

// authoritativeMarketDTO is the JSON shape of the Gamma API's per-slug
// market metadata response. Only the fields this package needs are decoded.
type authoritativeMarketDTO struct {
	Slug    string `json:"slug"`
	NegRisk bool   `json:"negRisk"`
}

// Client fetches rewarded-market listings and authoritative market metadata.
type Client struct {
	rewards *resty.Client
	gamma   *resty.Client
}

// NewClient builds a metadata client pointed at the rewards feed base URL
// and the Gamma API.
func NewClient(cfg config.Config) *Client {
	return &Client{
		rewards: resty.New().
			SetBaseURL(cfg.API.GammaBaseURL).
			SetTimeout(15 * time.Second).
			SetRetryCount(2).
			SetRetryWaitTime(time.Second),
		gamma: resty.New().
			SetBaseURL(cfg.API.GammaBaseURL).
			SetTimeout(15 * time.Second).
			SetRetryCount(2).
			SetRetryWaitTime(time.Second),
	}
}

// FetchRewardedMarkets pages through the rewards feed and returns every
// market currently eligible for liquidity rewards. A market with fewer than
// two tokens is skipped (its YES/NO pair can't be fully derived).
func (c *Client) FetchRewardedMarkets(ctx context.Context) ([]types.RewardedMarket, error) {
	var all []rewardedMarketDTO
	offset, limit := 0, 100

	for {
		var page []rewardedMarketDTO
		resp, err := c.rewards.R().
			SetContext(ctx).
			SetQueryParams(map[string]string{
				"limit":         strconv.Itoa(limit),
				"offset":        strconv.Itoa(offset),
				"rewards":       "true",
				"active":        "true",
				"closed":        "false",
			}).
			SetResult(&page).
			Get("/markets")
		if err != nil {
			return nil, fmt.Errorf("fetch rewarded markets page %d: %w", offset, err)
		}
		if resp.StatusCode() != 200 {
			return nil, fmt.Errorf("fetch rewarded markets: status %d", resp.StatusCode())
		}

		all = append(all, page...)
		if len(page) < limit {
			break
		}
		offset += limit
	}

	result := make([]types.RewardedMarket, 0, len(all))
	for _, dto := range all {
		if m, ok := convertRewardedMarket(dto); ok {
			result = append(result, m)
		}
	}
	return result, nil
}

// convertRewardedMarket maps one rewards-feed DTO into the internal
// RewardedMarket type. A market with fewer than two tokens is rejected
// (its YES/NO pair can't be fully derived).
func convertRewardedMarket(dto rewardedMarketDTO) (types.RewardedMarket, bool) {
	if len(dto.Tokens) < 2 {
		return types.RewardedMarket{}, false
	}
	var rate float64
	if len(dto.RewardsConfig) > 0 {
		rate = dto.RewardsConfig[0].RatePerDay
	}
	return types.RewardedMarket{
		ConditionID:           dto.ConditionID,
		Question:              dto.Question,
		Slug:                  dto.Slug,
		YesTokenID:            dto.Tokens[0].TokenID,
		NoTokenID:             dto.Tokens[1].TokenID,
		YesPrice:              dto.Tokens[0].Price,
		TickSize:              types.Tick001,
		NegRisk:               dto.NegRisk,
		RewardRatePerDay:      rate,
		RewardsMaxSpread:      dto.RewardsMaxSpread,
		RewardsMinSize:        dto.RewardsMinSize,
		MarketCompetitiveness: dto.MarketCompetitiveness,
	}, true
}

// RefreshNegRisk fetches the authoritative neg_risk flag for a market by
// slug. The rewards feed's own neg_risk field must never be trusted for
// order signing — only this lookup is authoritative.
func (c *Client) RefreshNegRisk(ctx context.Context, slug string) (bool, error) {
	var dto authoritativeMarketDTO
	resp, err := c.gamma.R().
		SetContext(ctx).
		SetResult(&dto).
		Get("/markets/slug/" + slug)
	if err != nil {
		return false, fmt.Errorf("refresh neg_risk for %q: %w", slug, err)
	}
	if resp.StatusCode() != 200 {
		return false, fmt.Errorf("refresh neg_risk for %q: status %d", slug, resp.StatusCode())
	}
	return dto.NegRisk, nil
}
