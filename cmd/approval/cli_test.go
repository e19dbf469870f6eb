package main

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	"github.com/EyeSeeTea/data-approval-dev-sub000/modules/approval/domain/submission"
	"github.com/EyeSeeTea/data-approval-dev-sub000/modules/approval/services"
	"github.com/EyeSeeTea/data-approval-dev-sub000/pkg/outbox"
)

func TestParseItems(t *testing.T) {
	items, err := parseItems([]string{"AMR/OU1/2023", " AMR/OU2/2024 "})
	require.NoError(t, err)
	assert.Equal(t, []submission.Identifier{
		{Module: "AMR", OrgUnit: "OU1", Period: "2023"},
		{Module: "AMR", OrgUnit: "OU2", Period: "2024"},
	}, items)

	_, err = parseItems(nil)
	assert.Equal(t, exitUsage, exitCode(err))

	_, err = parseItems([]string{"AMR/OU1"})
	assert.Equal(t, exitUsage, exitCode(err))
}

func TestSplitList(t *testing.T) {
	assert.Equal(t, []string{"a", "b", "c"}, splitList([]string{"a, b", "", "c,"}))
	assert.Nil(t, splitList(nil))
}

func TestExitCodes(t *testing.T) {
	assert.Equal(t, exitOK, exitCode(nil))
	assert.Equal(t, 1, exitCode(errors.New("plain")))

	conflict := &services.ServiceError{Status: http.StatusConflict, Code: "APPROVAL_INVALID_TRANSITION", Message: "no"}
	assert.Equal(t, exitValidation, exitCode(serviceCode(conflict)))

	conf := &services.ServiceError{Status: http.StatusInternalServerError, Code: "APPROVAL_CONFIGURATION", Message: "bad"}
	assert.Equal(t, exitConfig, exitCode(serviceCode(conf)))

	assert.Equal(t, exitPlatform, exitCode(serviceCode(errors.New("timeout"))))
	assert.NoError(t, serviceCode(nil))
}

func TestWriteJSONLine(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, writeJSONLine(&buf, map[string]string{"name": "<AMR>"}))
	assert.Equal(t, "{\"name\":\"<AMR>\"}\n", buf.String())
}

type okDispatcher struct{ calls int }

func (d *okDispatcher) Dispatch(context.Context, outbox.DispatchedMessage) error {
	d.calls++
	return nil
}

func TestDrainQueue(t *testing.T) {
	store := outbox.NewMemStore("approval_import_jobs")
	for range 3 {
		_, err := store.Enqueue(context.Background(), outbox.Message{Topic: "t", EventID: uuid.New(), Payload: []byte(`{}`)})
		require.NoError(t, err)
	}
	d := &okDispatcher{}
	relay, err := outbox.NewRelay(store, d, outbox.RelayOptions{BatchSize: 2})
	require.NoError(t, err)

	pending, err := drainQueue(context.Background(), relay, store, time.Second, time.Millisecond)
	require.NoError(t, err)
	assert.Zero(t, pending)
	assert.Equal(t, 3, d.calls)
}

func TestRootCommandTree(t *testing.T) {
	root := newRootCmd()
	var names []string
	for _, c := range root.Commands() {
		names = append(names, c.Name())
	}
	assert.ElementsMatch(t, []string{"items", "status", "replicate", "schema"}, names)
}

func TestWriteItemsXLSX(t *testing.T) {
	at := time.Date(2024, 3, 5, 10, 30, 0, 0, time.UTC)
	approved := submission.New(submission.Identifier{Module: "AMR", OrgUnit: "OU1", Period: "2023"}, at).
		Transition(submission.Approved, at)
	pristine := submission.New(submission.Identifier{Module: "AMR", OrgUnit: "OU2", Period: "2023"}, at)

	path := filepath.Join(t.TempDir(), "items.xlsx")
	require.NoError(t, writeItemsXLSX(path, []submission.Item{approved, pristine}))

	f, err := excelize.OpenFile(path)
	require.NoError(t, err)
	defer func() { _ = f.Close() }()

	rows, err := f.GetRows(itemsSheet)
	require.NoError(t, err)
	require.Len(t, rows, 3)
	assert.Equal(t, "Module", rows[0][0])
	assert.Equal(t, []string{"AMR", "OU1", "2023", "APPROVED"}, rows[1][:4])
	assert.Equal(t, "2024-03-05T10:30:00Z", rows[1][7])
	assert.Equal(t, "NOT_COMPLETED", rows[2][3])
}
