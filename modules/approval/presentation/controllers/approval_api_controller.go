package controllers

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/gorilla/mux"

	"github.com/EyeSeeTea/data-approval-dev-sub000/modules/approval/domain/catalog"
	"github.com/EyeSeeTea/data-approval-dev-sub000/modules/approval/domain/submission"
	"github.com/EyeSeeTea/data-approval-dev-sub000/modules/approval/services"
	"github.com/EyeSeeTea/data-approval-dev-sub000/pkg/application"
	"github.com/EyeSeeTea/data-approval-dev-sub000/pkg/composables"
	"github.com/EyeSeeTea/data-approval-dev-sub000/pkg/httpapi"
)

// ItemService is the part of services.StatusService the API needs.
type ItemService interface {
	Catalog() *catalog.Catalog
	ListItems(ctx context.Context, module string, orgUnits, periods []string) ([]submission.Item, error)
	History(ctx context.Context, id submission.Identifier) ([]submission.HistoryEntry, error)
	SetQuestionnaireCompleted(ctx context.Context, id submission.Identifier, completed bool) (submission.Item, error)
	Apply(ctx context.Context, dto services.ApplyDTO) (services.ApplyResult, error)
	Replicate(ctx context.Context, items []submission.Identifier) (services.Replication, error)
}

var _ ItemService = (*services.StatusService)(nil)

type ApprovalAPIController struct {
	items     ItemService
	apiPrefix string
}

func NewApprovalAPIController(items ItemService) application.Controller {
	return &ApprovalAPIController{
		items:     items,
		apiPrefix: "/approval/api",
	}
}

func (c *ApprovalAPIController) Key() string {
	return c.apiPrefix
}

func (c *ApprovalAPIController) Register(r *mux.Router) {
	api := r.PathPrefix(c.apiPrefix).Subrouter()

	api.HandleFunc("/modules", c.GetModules).Methods(http.MethodGet)

	api.HandleFunc("/items", c.GetItems).Methods(http.MethodGet)
	api.HandleFunc("/items:apply", c.ApplyAction).Methods(http.MethodPost)
	api.HandleFunc("/items:replicate", c.Replicate).Methods(http.MethodPost)
	api.HandleFunc("/items/{module}/{orgUnit}/{period}/history", c.GetHistory).Methods(http.MethodGet)
	api.HandleFunc("/items/{module}/{orgUnit}/{period}:questionnaire", c.SetQuestionnaire).Methods(http.MethodPost)
}

func (c *ApprovalAPIController) GetModules(w http.ResponseWriter, r *http.Request) {
	type modulesResponse struct {
		Modules []catalog.Module `json:"modules"`
	}
	writeJSON(w, http.StatusOK, modulesResponse{Modules: c.items.Catalog().Modules()})
}

func (c *ApprovalAPIController) GetItems(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	module := strings.TrimSpace(q.Get("module"))
	if module == "" {
		writeAPIError(w, r, http.StatusBadRequest, "APPROVAL_INVALID_QUERY", "module is required")
		return
	}
	orgUnits := listParam(q["orgUnits"])
	periods := listParam(q["periods"])
	if len(orgUnits) == 0 || len(periods) == 0 {
		writeAPIError(w, r, http.StatusBadRequest, "APPROVAL_INVALID_QUERY", "orgUnits and periods are required")
		return
	}

	items, err := c.items.ListItems(r.Context(), module, orgUnits, periods)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}

	type itemResponse struct {
		submission.Item
		SubmissionLabel string `json:"submissionLabel"`
		Approved        bool   `json:"approved"`
	}
	type itemsResponse struct {
		Module string         `json:"module"`
		Items  []itemResponse `json:"items"`
	}
	out := itemsResponse{Module: module, Items: make([]itemResponse, 0, len(items))}
	for _, it := range items {
		out.Items = append(out.Items, itemResponse{Item: it, SubmissionLabel: it.SubmissionLabel(), Approved: it.IsApproved()})
	}
	writeJSON(w, http.StatusOK, out)
}

func (c *ApprovalAPIController) ApplyAction(w http.ResponseWriter, r *http.Request) {
	var req services.ApplyDTO
	if err := httpapi.DecodeJSON(r, &req); err != nil {
		writeAPIError(w, r, http.StatusBadRequest, "APPROVAL_INVALID_BODY", "invalid json body")
		return
	}
	res, err := c.items.Apply(r.Context(), req)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

type replicateRequest struct {
	Items []submission.Identifier `json:"items"`
}

func (c *ApprovalAPIController) Replicate(w http.ResponseWriter, r *http.Request) {
	var req replicateRequest
	if err := httpapi.DecodeJSON(r, &req); err != nil {
		writeAPIError(w, r, http.StatusBadRequest, "APPROVAL_INVALID_BODY", "invalid json body")
		return
	}
	res, err := c.items.Replicate(r.Context(), req.Items)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}

	type replicateResponse struct {
		Success bool `json:"success"`
		services.Replication
	}
	writeJSON(w, http.StatusOK, replicateResponse{Success: res.Succeeded(), Replication: res})
}

func (c *ApprovalAPIController) GetHistory(w http.ResponseWriter, r *http.Request) {
	id := identifierFromPath(r)
	history, err := c.items.History(r.Context(), id)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	if history == nil {
		history = []submission.HistoryEntry{}
	}

	type historyResponse struct {
		Item    submission.Identifier     `json:"item"`
		History []submission.HistoryEntry `json:"history"`
	}
	writeJSON(w, http.StatusOK, historyResponse{Item: id, History: history})
}

type questionnaireRequest struct {
	Completed *bool `json:"completed"`
}

func (c *ApprovalAPIController) SetQuestionnaire(w http.ResponseWriter, r *http.Request) {
	var req questionnaireRequest
	if err := httpapi.DecodeJSON(r, &req); err != nil || req.Completed == nil {
		writeAPIError(w, r, http.StatusBadRequest, "APPROVAL_INVALID_BODY", "completed is required")
		return
	}
	item, err := c.items.SetQuestionnaireCompleted(r.Context(), identifierFromPath(r), *req.Completed)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, item)
}

func identifierFromPath(r *http.Request) submission.Identifier {
	vars := mux.Vars(r)
	return submission.Identifier{
		Module:  vars["module"],
		OrgUnit: vars["orgUnit"],
		Period:  vars["period"],
	}
}

// listParam accepts both repeated parameters and comma separated values.
func listParam(values []string) []string {
	var out []string
	for _, v := range values {
		for _, part := range strings.Split(v, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
	}
	return out
}

func writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	var svcErr *services.ServiceError
	if errors.As(err, &svcErr) {
		writeAPIError(w, r, svcErr.Status, svcErr.Code, svcErr.Message)
		return
	}
	writeAPIError(w, r, http.StatusInternalServerError, "APPROVAL_INTERNAL", err.Error())
}

func writeAPIError(w http.ResponseWriter, r *http.Request, status int, code, message string) {
	meta := map[string]string{}
	if requestID, ok := composables.UseRequestID(r.Context()); ok {
		meta["request_id"] = requestID
	}
	_ = httpapi.WriteError(w, status, code, message, meta)
}

func writeJSON[T any](w http.ResponseWriter, status int, payload T) {
	if err := httpapi.WriteJSON(w, status, payload); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}
