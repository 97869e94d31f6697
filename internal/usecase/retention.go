package usecase

import (
	"fmt"
	"sort"

	"github.com/semmidev/custodian/internal/domain"
)

// RetentionResult is the keep/delete partition of a file set under a policy.
type RetentionResult struct {
	Keep   []domain.FileInfo
	Delete []domain.FileInfo
}

// CalculateRetention partitions files into keep and delete sets. It is a pure
// function: no I/O, no clock. Locked files are always kept and never count
// toward any budget. Ties in modification time resolve by input order.
func CalculateRetention(files []domain.FileInfo, policy domain.RetentionPolicy) RetentionResult {
	result := RetentionResult{Keep: []domain.FileInfo{}, Delete: []domain.FileInfo{}}

	if policy.Mode == domain.RetentionNone || policy.Mode == "" {
		result.Keep = append(result.Keep, files...)
		return result
	}

	var unlocked []domain.FileInfo
	for _, f := range files {
		if f.Locked {
			result.Keep = append(result.Keep, f)
		} else {
			unlocked = append(unlocked, f)
		}
	}

	sort.SliceStable(unlocked, func(i, j int) bool {
		return unlocked[i].LastModified.After(unlocked[j].LastModified)
	})

	switch policy.Mode {
	case domain.RetentionSimple:
		keep := policy.KeepCount
		if keep < 0 {
			keep = 0
		}
		for i, f := range unlocked {
			if i < keep {
				result.Keep = append(result.Keep, f)
			} else {
				result.Delete = append(result.Delete, f)
			}
		}
	case domain.RetentionSmart:
		keep := smartKeepSet(unlocked, policy)
		for i, f := range unlocked {
			if keep[i] {
				result.Keep = append(result.Keep, f)
			} else {
				result.Delete = append(result.Delete, f)
			}
		}
	default:
		// Unknown modes keep everything rather than risk deleting data.
		result.Keep = append(result.Keep, unlocked...)
	}

	return result
}

// smartKeepSet walks newest to oldest and lets each file claim at most one
// calendar bucket per granularity. A single file may satisfy several
// granularities at once; budgets are independent.
func smartKeepSet(files []domain.FileInfo, policy domain.RetentionPolicy) map[int]bool {
	type granularity struct {
		budget  int
		key     func(f domain.FileInfo) string
		claimed map[string]bool
	}

	grans := []granularity{
		{policy.Daily, dayKey, map[string]bool{}},
		{policy.Weekly, weekKey, map[string]bool{}},
		{policy.Monthly, monthKey, map[string]bool{}},
		{policy.Yearly, yearKey, map[string]bool{}},
	}

	keep := make(map[int]bool)
	for i, f := range files {
		for g := range grans {
			gr := &grans[g]
			if gr.budget <= 0 || len(gr.claimed) >= gr.budget {
				continue
			}
			key := gr.key(f)
			if gr.claimed[key] {
				continue
			}
			gr.claimed[key] = true
			keep[i] = true
		}
	}
	return keep
}

func dayKey(f domain.FileInfo) string {
	return f.LastModified.UTC().Format("2006-01-02")
}

func weekKey(f domain.FileInfo) string {
	year, week := f.LastModified.UTC().ISOWeek()
	return fmt.Sprintf("%04d-W%02d", year, week)
}

func monthKey(f domain.FileInfo) string {
	return f.LastModified.UTC().Format("2006-01")
}

func yearKey(f domain.FileInfo) string {
	return f.LastModified.UTC().Format("2006")
}
