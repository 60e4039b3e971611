package logic

import (
	"math/rand/v2"
	"strings"

	"agrodetect-backend/internal/common"
	"agrodetect-backend/internal/db"
)

const recentScanCount = 3

// Summary 首页统计
type Summary struct {
	Total        int       `json:"total"`
	HealthyCount int       `json:"healthyCount"`
	IssueCount   int       `json:"issueCount"`
	Recent       []db.Scan `json:"recent"`
}

// Summarize condition 中包含 healthy（不区分大小写）算健康，其余都算问题
func Summarize(history []db.Scan) Summary {
	healthy := 0
	for _, s := range history {
		if strings.Contains(strings.ToLower(s.Condition), "healthy") {
			healthy++
		}
	}
	n := min(recentScanCount, len(history))
	recent := make([]db.Scan, n)
	copy(recent, history[:n])
	return Summary{
		Total:        len(history),
		HealthyCount: healthy,
		IssueCount:   len(history) - healthy,
		Recent:       recent,
	}
}

func PickQuote() string {
	return common.WelcomeQuotes[rand.IntN(len(common.WelcomeQuotes))]
}
