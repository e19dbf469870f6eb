package persistence

import (
	"fmt"

	"github.com/EyeSeeTea/data-approval-dev-sub000/modules/approval/domain/submission"
	"github.com/EyeSeeTea/data-approval-dev-sub000/modules/approval/infrastructure/persistence/models"
)

func ToDBSubmissionItem(it submission.Item) models.SubmissionItem {
	history := make([]models.StatusHistoryItem, 0, len(it.StatusHistory))
	for _, h := range it.StatusHistory {
		history = append(history, models.StatusHistoryItem{
			ChangedAt: h.ChangedAt,
			From:      string(h.From),
			To:        string(h.To),
		})
	}
	return models.SubmissionItem{
		OrgUnit:                it.OrgUnit,
		Period:                 it.Period,
		Module:                 it.Module,
		Status:                 string(it.Status),
		StatusHistory:          history,
		QuestionnaireCompleted: it.QuestionnaireCompleted,
		CreationDate:           it.CreationDate,
	}
}

func ToDomainSubmissionItem(m models.SubmissionItem) (submission.Item, error) {
	status, err := submission.ParseStatus(m.Status)
	if err != nil {
		return submission.Item{}, fmt.Errorf("item %s/%s/%s: %w", m.Module, m.OrgUnit, m.Period, err)
	}
	var history []submission.HistoryEntry
	for _, h := range m.StatusHistory {
		from, err := submission.ParseStatus(h.From)
		if err != nil {
			return submission.Item{}, err
		}
		to, err := submission.ParseStatus(h.To)
		if err != nil {
			return submission.Item{}, err
		}
		history = append(history, submission.HistoryEntry{ChangedAt: h.ChangedAt, From: from, To: to})
	}
	return submission.Item{
		Identifier: submission.Identifier{
			OrgUnit: m.OrgUnit,
			Period:  m.Period,
			Module:  m.Module,
		},
		Status:                 status,
		StatusHistory:          history,
		QuestionnaireCompleted: m.QuestionnaireCompleted,
		CreationDate:           m.CreationDate,
	}, nil
}
