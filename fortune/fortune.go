// Package fortune defines the generation endpoints served by the gateway:
// daily horoscopes, zodiac readings and psychology test interpretations.
package fortune

import (
	"fmt"
	"slices"
	"strings"
	"time"

	fortune_gateway "github.com/deeplooplabs/fortune-gateway"
	"github.com/deeplooplabs/fortune-gateway/clock"
	"github.com/deeplooplabs/fortune-gateway/handler"
	"github.com/deeplooplabs/fortune-gateway/provider"
)

const (
	DailyPath      = "/api/fortune/daily"
	ZodiacPath     = "/api/fortune/zodiac"
	PsychologyPath = "/api/psychology/test"

	dateLayout = "2006-01-02"
)

// Signs are the accepted zodiac signs
var Signs = []string{
	"aries", "taurus", "gemini", "cancer", "leo", "virgo",
	"libra", "scorpio", "sagittarius", "capricorn", "aquarius", "pisces",
}

// Periods are the accepted zodiac reading periods
var Periods = []string{"daily", "weekly", "monthly", "yearly"}

// Tests are the accepted psychology test names
var Tests = []string{"personality", "stress", "love", "career"}

const astrologerPrompt = "You are a warm, concise astrologer. Answer in at most three short paragraphs."

const psychologistPrompt = "You interpret light-hearted personality quizzes. Be kind, specific and brief."

// Endpoints returns every endpoint; c supplies today's date for daily readings
func Endpoints(c clock.Clock) []handler.Endpoint {
	return []handler.Endpoint{Daily(c), Zodiac(), Psychology()}
}

// Daily answers a sign's horoscope for one date, today when omitted
func Daily(c clock.Clock) handler.Endpoint {
	c = clock.OrReal(c)
	return handler.Endpoint{
		Name:     DailyPath,
		Policy:   "fortune",
		TTL:      24 * time.Hour,
		Required: []string{"sign"},
		Optional: []string{"date"},
		Normalize: func(p handler.Params) handler.Params {
			p["sign"] = strings.ToLower(strings.TrimSpace(p["sign"]))
			if p["date"] == "" {
				p["date"] = c.Now().UTC().Format(dateLayout)
			}
			return p
		},
		Tags: func(p handler.Params) []string {
			return []string{"fortune", "daily", "sign:" + p["sign"], "date:" + p["date"]}
		},
		Prompt: func(p handler.Params) (*provider.Request, error) {
			if err := oneOf("sign", p["sign"], Signs); err != nil {
				return nil, err
			}
			if _, err := time.Parse(dateLayout, p["date"]); err != nil {
				return nil, fortune_gateway.NewParamError("date", "date must be formatted as YYYY-MM-DD")
			}
			return &provider.Request{
				System:      astrologerPrompt,
				Prompt:      fmt.Sprintf("Write the horoscope for %s on %s.", p["sign"], p["date"]),
				MaxTokens:   400,
				Temperature: 0.8,
			}, nil
		},
	}
}

// Zodiac answers a sign's reading for a period, weekly when omitted
func Zodiac() handler.Endpoint {
	return handler.Endpoint{
		Name:     ZodiacPath,
		Policy:   "fortune",
		TTL:      6 * time.Hour,
		Required: []string{"sign"},
		Optional: []string{"period"},
		Normalize: func(p handler.Params) handler.Params {
			p["sign"] = strings.ToLower(strings.TrimSpace(p["sign"]))
			if p["period"] == "" {
				p["period"] = "weekly"
			}
			return p
		},
		Tags: func(p handler.Params) []string {
			return []string{"fortune", "zodiac", "sign:" + p["sign"]}
		},
		Prompt: func(p handler.Params) (*provider.Request, error) {
			if err := oneOf("sign", p["sign"], Signs); err != nil {
				return nil, err
			}
			if err := oneOf("period", p["period"], Periods); err != nil {
				return nil, err
			}
			return &provider.Request{
				System:      astrologerPrompt,
				Prompt:      fmt.Sprintf("Write the %s zodiac reading for %s covering love, work and health.", p["period"], p["sign"]),
				MaxTokens:   600,
				Temperature: 0.8,
			}, nil
		},
	}
}

// Psychology interprets the answers of a psychology test. answers is a comma
// separated list of choices, e.g. "a,c,b,d".
func Psychology() handler.Endpoint {
	return handler.Endpoint{
		Name:     PsychologyPath,
		Policy:   "api",
		TTL:      time.Hour,
		Required: []string{"test", "answers"},
		Normalize: func(p handler.Params) handler.Params {
			p["test"] = strings.ToLower(strings.TrimSpace(p["test"]))
			p["answers"] = normalizeAnswers(p["answers"])
			return p
		},
		Tags: func(p handler.Params) []string {
			return []string{"psychology", "test:" + p["test"]}
		},
		Prompt: func(p handler.Params) (*provider.Request, error) {
			if err := oneOf("test", p["test"], Tests); err != nil {
				return nil, err
			}
			if n := strings.Count(p["answers"], ",") + 1; n > 30 {
				return nil, fortune_gateway.NewParamError("answers", "at most 30 answers are accepted")
			}
			return &provider.Request{
				System:      psychologistPrompt,
				Prompt:      fmt.Sprintf("A user took the %s test and answered: %s. Describe what the answers suggest.", p["test"], p["answers"]),
				MaxTokens:   500,
				Temperature: 0.7,
			}, nil
		},
	}
}

func oneOf(param, value string, allowed []string) error {
	if slices.Contains(allowed, value) {
		return nil
	}
	return fortune_gateway.NewParamError(param, fmt.Sprintf("%s must be one of %s", param, strings.Join(allowed, ", ")))
}

// normalizeAnswers lowercases the answers and drops empty ones so equivalent
// submissions share a cache entry
func normalizeAnswers(raw string) string {
	var out []string
	for _, a := range strings.Split(raw, ",") {
		if a = strings.ToLower(strings.TrimSpace(a)); a != "" {
			out = append(out, a)
		}
	}
	return strings.Join(out, ",")
}
