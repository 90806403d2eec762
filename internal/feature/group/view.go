package group

import (
	"slices"
	"strings"

	"github.com/samber/lo"

	"telebridge/internal/domain"
)

// Order sorts groups by lastInteraction descending (absent counts as 0, ties
// keep their relative order) and keeps those whose name contains query
// case-insensitively or whose id contains it. The input is not modified.
func Order(groups []domain.Group, query string) []domain.Group {
	sorted := cloneGroups(groups)
	slices.SortStableFunc(sorted, func(a, b domain.Group) int {
		switch ai, bi := a.InteractedAt(), b.InteractedAt(); {
		case ai > bi:
			return -1
		case ai < bi:
			return 1
		default:
			return 0
		}
	})

	needle := strings.ToLower(strings.TrimSpace(query))
	if needle == "" {
		return sorted
	}

	return lo.Filter(sorted, func(g domain.Group, _ int) bool {
		return strings.Contains(strings.ToLower(g.Name), needle) ||
			strings.Contains(strings.ToLower(g.ID), needle)
	})
}

func upsertFront(groups []domain.Group, group domain.Group) []domain.Group {
	rest := lo.Reject(groups, func(g domain.Group, _ int) bool { return g.ID == group.ID })
	return append([]domain.Group{group}, rest...)
}

func dedupe(groups []domain.Group) []domain.Group {
	if groups == nil {
		return []domain.Group{}
	}
	return lo.UniqBy(cloneGroups(groups), func(g domain.Group) string { return g.ID })
}

func totalMembers(groups []domain.Group) int {
	return lo.SumBy(groups, func(g domain.Group) int { return g.MemberCount })
}

func cloneGroups(groups []domain.Group) []domain.Group {
	out := make([]domain.Group, len(groups))
	for i, g := range groups {
		if g.LastInteraction != nil {
			ts := *g.LastInteraction
			g.LastInteraction = &ts
		}
		out[i] = g
	}
	return out
}
