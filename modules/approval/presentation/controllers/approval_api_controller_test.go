package controllers_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/EyeSeeTea/data-approval-dev-sub000/modules/approval/domain/catalog"
	"github.com/EyeSeeTea/data-approval-dev-sub000/modules/approval/domain/submission"
	"github.com/EyeSeeTea/data-approval-dev-sub000/modules/approval/presentation/controllers"
	"github.com/EyeSeeTea/data-approval-dev-sub000/modules/approval/services"
	"github.com/EyeSeeTea/data-approval-dev-sub000/pkg/composables"
)

var now = time.Date(2024, 3, 5, 10, 30, 0, 0, time.UTC)

type fakeItems struct {
	cat *catalog.Catalog

	listModule string
	listOUs    []string
	listPEs    []string
	applied    *services.ApplyDTO
	applyErr   error
	replicated []submission.Identifier
	history    []submission.HistoryEntry
	completed  *bool
}

func (f *fakeItems) Catalog() *catalog.Catalog { return f.cat }

func (f *fakeItems) ListItems(_ context.Context, module string, orgUnits, periods []string) ([]submission.Item, error) {
	if _, err := f.cat.Lookup(module); err != nil {
		return nil, &services.ServiceError{Status: http.StatusNotFound, Code: "APPROVAL_UNKNOWN_MODULE", Message: "unknown module", Cause: err}
	}
	f.listModule, f.listOUs, f.listPEs = module, orgUnits, periods
	return submission.Synthesize(module, orgUnits, periods, now), nil
}

func (f *fakeItems) History(_ context.Context, id submission.Identifier) ([]submission.HistoryEntry, error) {
	return f.history, nil
}

func (f *fakeItems) SetQuestionnaireCompleted(_ context.Context, id submission.Identifier, completed bool) (submission.Item, error) {
	f.completed = &completed
	return submission.New(id, now).WithQuestionnaireCompleted(completed), nil
}

func (f *fakeItems) Apply(_ context.Context, dto services.ApplyDTO) (services.ApplyResult, error) {
	f.applied = &dto
	if f.applyErr != nil {
		return services.ApplyResult{}, f.applyErr
	}
	items := make([]submission.Item, 0, len(dto.Items))
	for _, id := range dto.Items {
		items = append(items, submission.New(id, now).Transition(submission.Complete, now))
	}
	return services.ApplyResult{Success: true, Items: items}, nil
}

func (f *fakeItems) Replicate(_ context.Context, items []submission.Identifier) (services.Replication, error) {
	f.replicated = items
	return services.Replication{Stats: []services.ReplicationStats{
		{ContainerID: "dsApproved", OrgUnitID: "OU1", Period: "2023", Strategy: services.StrategySave, Imported: 2},
		{ContainerID: "dsApproved", OrgUnitID: "OU2", Period: "2023", Strategy: services.StrategySave, ErrorMessages: []string{"boom"}},
	}}, nil
}

func newRouter(t *testing.T) (*mux.Router, *fakeItems) {
	t.Helper()
	cat, err := catalog.New(catalog.Module{
		Name:    "AMR",
		Kind:    catalog.KindAggregate,
		DataSet: catalog.ContainerPair{Draft: "dsDraft", Approved: "dsApproved"},
	})
	require.NoError(t, err)
	f := &fakeItems{cat: cat}
	r := mux.NewRouter()
	controllers.NewApprovalAPIController(f).Register(r)
	return r, f
}

func serve(r http.Handler, method, target, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	req = req.WithContext(composables.WithRequestID(req.Context(), "req-1"))
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	return rec
}

func TestApprovalAPI_GetModules(t *testing.T) {
	r, _ := newRouter(t)
	rec := serve(r, http.MethodGet, "/approval/api/modules", "")

	require.Equal(t, http.StatusOK, rec.Code)
	var body struct {
		Modules []catalog.Module `json:"modules"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Len(t, body.Modules, 1)
	assert.Equal(t, "AMR", body.Modules[0].Name)
}

func TestApprovalAPI_GetItems(t *testing.T) {
	r, f := newRouter(t)
	rec := serve(r, http.MethodGet, "/approval/api/items?module=AMR&orgUnits=OU1,OU2&periods=2023&periods=2024", "")

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, []string{"OU1", "OU2"}, f.listOUs)
	assert.Equal(t, []string{"2023", "2024"}, f.listPEs)

	var body struct {
		Items []struct {
			OrgUnit         string `json:"orgUnit"`
			Status          string `json:"status"`
			SubmissionLabel string `json:"submissionLabel"`
			Approved        bool   `json:"approved"`
		} `json:"items"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Len(t, body.Items, 4)
	assert.Equal(t, "NOT_COMPLETED", body.Items[0].Status)
	assert.NotEmpty(t, body.Items[0].SubmissionLabel)
	assert.False(t, body.Items[0].Approved)
}

func TestApprovalAPI_GetItemsValidation(t *testing.T) {
	r, _ := newRouter(t)

	rec := serve(r, http.MethodGet, "/approval/api/items?orgUnits=OU1&periods=2023", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = serve(r, http.MethodGet, "/approval/api/items?module=AMR&periods=2023", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = serve(r, http.MethodGet, "/approval/api/items?module=NOPE&orgUnits=OU1&periods=2023", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.JSONEq(t, `{"code":"APPROVAL_UNKNOWN_MODULE","message":"unknown module","meta":{"request_id":"req-1"}}`, rec.Body.String())
}

func TestApprovalAPI_Apply(t *testing.T) {
	r, f := newRouter(t)
	rec := serve(r, http.MethodPost, "/approval/api/items:apply",
		`{"action":"complete","items":[{"module":"AMR","orgUnit":"OU1","period":"2023"}]}`)

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	require.NotNil(t, f.applied)
	assert.Equal(t, services.Action("complete"), f.applied.Action)

	var res services.ApplyResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &res))
	assert.True(t, res.Success)
	require.Len(t, res.Items, 1)
	assert.Equal(t, submission.Complete, res.Items[0].Status)
}

func TestApprovalAPI_ApplyErrors(t *testing.T) {
	r, f := newRouter(t)

	rec := serve(r, http.MethodPost, "/approval/api/items:apply", `{"action":"complete","extra":1}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Nil(t, f.applied)

	f.applyErr = &services.ServiceError{Status: http.StatusConflict, Code: "APPROVAL_INVALID_TRANSITION", Message: "invalid transition"}
	rec = serve(r, http.MethodPost, "/approval/api/items:apply",
		`{"action":"approve","items":[{"module":"AMR","orgUnit":"OU1","period":"2023"}]}`)
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Contains(t, rec.Body.String(), "APPROVAL_INVALID_TRANSITION")
}

func TestApprovalAPI_Replicate(t *testing.T) {
	r, f := newRouter(t)
	rec := serve(r, http.MethodPost, "/approval/api/items:replicate",
		`{"items":[{"module":"AMR","orgUnit":"OU1","period":"2023"},{"module":"AMR","orgUnit":"OU2","period":"2023"}]}`)

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Len(t, f.replicated, 2)

	var body struct {
		Success bool                        `json:"success"`
		Stats   []services.ReplicationStats `json:"stats"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.False(t, body.Success)
	assert.Len(t, body.Stats, 2)
}

func TestApprovalAPI_HistoryAndQuestionnaire(t *testing.T) {
	r, f := newRouter(t)
	f.history = []submission.HistoryEntry{{ChangedAt: now, From: submission.NotCompleted, To: submission.Complete}}

	rec := serve(r, http.MethodGet, "/approval/api/items/AMR/OU1/2023/history", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"to":"COMPLETE"`)

	rec = serve(r, http.MethodPost, "/approval/api/items/AMR/OU1/2023:questionnaire", `{"completed":true}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	require.NotNil(t, f.completed)
	assert.True(t, *f.completed)
	assert.Contains(t, rec.Body.String(), `"questionnaireCompleted":true`)

	rec = serve(r, http.MethodPost, "/approval/api/items/AMR/OU1/2023:questionnaire", `{}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
