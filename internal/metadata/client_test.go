package metadata

import "testing"

func TestConvertRewardedMarket_RejectsFewerThanTwoTokens(t *testing.T) {
	t.Parallel()

	dto := rewardedMarketDTO{
		ConditionID: "cond-1",
		Tokens: []struct {
			TokenID string  `json:"token_id"`
			Price   float64 `json:"price"`
		}{{TokenID: "only-one", Price: 0.5}},
	}

	_, ok := convertRewardedMarket(dto)
	if ok {
		t.Error("expected a single-token market to be rejected")
	}
}

func TestConvertRewardedMarket_MapsFields(t *testing.T) {
	t.Parallel()

	dto := rewardedMarketDTO{
		ConditionID: "cond-1",
		Question:    "Will it happen?",
		Slug:        "will-it-happen",
		NegRisk:     true,
		Tokens: []struct {
			TokenID string  `json:"token_id"`
			Price   float64 `json:"price"`
		}{
			{TokenID: "YES_TOKEN", Price: 0.62},
			{TokenID: "NO_TOKEN", Price: 0.38},
		},
		RewardsConfig: []struct {
			RatePerDay float64 `json:"rate_per_day"`
		}{{RatePerDay: 50}},
		RewardsMaxSpread:      4,
		RewardsMinSize:        100,
		MarketCompetitiveness: 300,
	}

	m, ok := convertRewardedMarket(dto)
	if !ok {
		t.Fatal("expected a two-token market to convert")
	}
	if m.YesTokenID != "YES_TOKEN" || m.NoTokenID != "NO_TOKEN" {
		t.Errorf("token ids = %q/%q, want YES_TOKEN/NO_TOKEN", m.YesTokenID, m.NoTokenID)
	}
	if m.YesPrice != 0.62 {
		t.Errorf("YesPrice = %v, want 0.62", m.YesPrice)
	}
	if m.RewardRatePerDay != 50 {
		t.Errorf("RewardRatePerDay = %v, want 50", m.RewardRatePerDay)
	}
	if !m.NegRisk {
		t.Error("expected NegRisk to carry through from the DTO (refresh happens separately)")
	}
}

func TestConvertRewardedMarket_MissingRewardsConfigDefaultsToZeroRate(t *testing.T) {
	t.Parallel()

	dto := rewardedMarketDTO{
		ConditionID: "cond-2",
		Tokens: []struct {
			TokenID string  `json:"token_id"`
			Price   float64 `json:"price"`
		}{{TokenID: "Y"}, {TokenID: "N"}},
	}

	m, ok := convertRewardedMarket(dto)
	if !ok {
		t.Fatal("expected conversion to succeed")
	}
	if m.RewardRatePerDay != 0 {
		t.Errorf("RewardRatePerDay = %v, want 0 when rewards_config is empty", m.RewardRatePerDay)
	}
}
