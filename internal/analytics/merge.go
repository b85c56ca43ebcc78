package analytics

import (
	"fmt"
	"sort"
	"strings"
)

const historyNoteSuffix = "；含历史查询补偿"

// MergeTransferOut folds a summary computed over historical cards into the
// primary summary. Only transfer-out figures and team period rows are
// combined; every other counter stays as the primary computed it. Neither
// input is modified.
func MergeTransferOut(primary, supplement ManagerSummary) ManagerSummary {
	merged := primary

	merged.Cards.TransferOutIssueTotal += supplement.Cards.TransferOutIssueTotal
	merged.Cards.TransferOutEventTotal += supplement.Cards.TransferOutEventTotal

	keys := keySet{}
	for _, k := range primary.IssueKeys.TransferOut {
		keys.add(k)
	}
	for _, k := range supplement.IssueKeys.TransferOut {
		keys.add(k)
	}
	merged.IssueKeys.TransferOut = keys.sorted()

	transfer := primary.PeriodFocus.TransferOut
	supplementTransfer := supplement.PeriodFocus.TransferOut
	transfer.Teams = mergeTransferRows(transfer.Teams, supplementTransfer.Teams)
	transfer.IssueCount += supplementTransfer.IssueCount
	transfer.EventCount += supplementTransfer.EventCount
	if supplementTransfer.Note != "" && !strings.Contains(transfer.Note, "历史查询") {
		transfer.Note += historyNoteSuffix
	}
	merged.PeriodFocus.TransferOut = transfer

	merged.TeamPeriodSummary = mergeTeamPeriodRows(primary.TeamPeriodSummary, supplement.TeamPeriodSummary)
	return merged
}

// HistoryNarrative appends the compensated transfer-out totals to text.
func HistoryNarrative(text string, cards SummaryCards) string {
	return fmt.Sprintf("%s（含历史查询补偿后：评估后转出 %d 个问题/%d 次流转）",
		text, cards.TransferOutIssueTotal, cards.TransferOutEventTotal)
}

func mergeTransferRows(primary, supplement []TeamTransferRow) []TeamTransferRow {
	byID := map[string]*TeamTransferRow{}
	order := []string{}
	for _, row := range append(append([]TeamTransferRow{}, primary...), supplement...) {
		id := strings.TrimSpace(row.TeamID)
		if id == "" {
			continue
		}
		existing, ok := byID[id]
		if !ok {
			copied := row
			copied.Items = append([]TransferOutItem{}, row.Items...)
			byID[id] = &copied
			order = append(order, id)
			continue
		}
		existing.TransferOutIssueCount += row.TransferOutIssueCount
		existing.TransferOutEventCount += row.TransferOutEventCount
		existing.Items = append(existing.Items, row.Items...)
	}

	out := make([]TeamTransferRow, 0, len(order))
	for _, id := range order {
		row := byID[id]
		sortTransferItems(row.Items)
		seen := map[string]struct{}{}
		deduped := make([]TransferOutItem, 0, len(row.Items))
		for _, item := range row.Items {
			marker := item.Key + "|" + item.LatestTransferOutAt
			if _, dup := seen[marker]; dup {
				continue
			}
			seen[marker] = struct{}{}
			deduped = append(deduped, item)
		}
		row.Items = deduped
		out = append(out, *row)
	}
	sort.SliceStable(out, func(i, j int) bool {
		return teamLabel(out[i]) < teamLabel(out[j])
	})
	return out
}

func teamLabel(row TeamTransferRow) string {
	if row.TeamName != "" {
		return row.TeamName
	}
	return row.TeamID
}

func mergeTeamPeriodRows(primary, supplement []TeamPeriodRow) []TeamPeriodRow {
	byID := map[string]*TeamPeriodRow{}
	keys := map[string]keySet{}
	order := []string{}
	for _, row := range append(append([]TeamPeriodRow{}, primary...), supplement...) {
		id := strings.TrimSpace(row.TeamID)
		if id == "" {
			id = OtherTeamID
		}
		existing, ok := byID[id]
		if !ok {
			copied := row
			if copied.TeamID == "" {
				copied.TeamID = id
			}
			if copied.TeamName == "" {
				copied.TeamName = id
			}
			byID[id] = &copied
			keys[id] = keySet{}
			order = append(order, id)
		} else {
			existing.Total += row.Total
			existing.AssignedTotal += row.AssignedTotal
			existing.ResolvedTotal += row.ResolvedTotal
			existing.UnresolvedTotal += row.UnresolvedTotal
		}
		for _, k := range row.IssueKeys {
			keys[id].add(k)
		}
	}

	out := make([]TeamPeriodRow, 0, len(order))
	for _, id := range order {
		row := byID[id]
		row.IssueKeys = keys[id].sorted()
		out = append(out, *row)
	}
	sortTeamPeriodRows(out)
	return out
}
