package models

import (
	"time"
)

type SubmissionItem struct {
	OrgUnit                string              `json:"org_unit"`
	Period                 string              `json:"period"`
	Module                 string              `json:"module"`
	Status                 string              `json:"status"`
	StatusHistory          []StatusHistoryItem `json:"status_history"`
	QuestionnaireCompleted bool                `json:"questionnaire_completed"`
	CreationDate           time.Time           `json:"creation_date"`
}

type StatusHistoryItem struct {
	ChangedAt time.Time `json:"changed_at"`
	From      string    `json:"from"`
	To        string    `json:"to"`
}
