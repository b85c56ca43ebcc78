package report

import (
	"encoding/csv"
	"fmt"
	"io"

	"github.com/tuannvm/jira-pulse/internal/models"
)

var csvHeader = []string{"key", "summary", "assignee", "priority", "status", "column", "created_at", "resolved_at", "url"}

// WriteCardsCSV writes one row per card under a fixed header.
func WriteCardsCSV(w io.Writer, cards []models.Card) error {
	writer := csv.NewWriter(w)
	if err := writer.Write(csvHeader); err != nil {
		return fmt.Errorf("write csv header: %w", err)
	}
	for _, card := range cards {
		record := []string{
			card.Key,
			card.Summary,
			card.Assignee,
			card.Priority,
			card.Status,
			card.Column,
			card.Timeline.CreatedAt,
			card.Timeline.ResolvedAt,
			card.URL,
		}
		if err := writer.Write(record); err != nil {
			return fmt.Errorf("write csv row %s: %w", card.Key, err)
		}
	}
	writer.Flush()
	return writer.Error()
}
