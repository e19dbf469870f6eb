package dhis2

import (
	"context"
	"net/http"
	"net/url"

	"github.com/go-faster/errors"

	"github.com/EyeSeeTea/data-approval-dev-sub000/modules/approval/domain/records"
	"github.com/EyeSeeTea/data-approval-dev-sub000/modules/approval/services"
)

// GetValues reads the values of one data set, org unit and period,
// deleted values included so tombstones reach the engine.
func (c *Client) GetValues(ctx context.Context, dataSetID, orgUnit, period string) ([]records.AggregateValue, error) {
	var out struct {
		DataValues []records.AggregateValue `json:"dataValues"`
	}
	q := url.Values{
		"dataSet":        {dataSetID},
		"orgUnit":        {orgUnit},
		"period":         {period},
		"includeDeleted": {"true"},
	}
	if err := c.do(ctx, http.MethodGet, "/api/dataValueSets", q, nil, &out); err != nil {
		return nil, errors.Wrapf(err, "values of %s %s %s", dataSetID, orgUnit, period)
	}
	for i := range out.DataValues {
		out.DataValues[i].DataSet = dataSetID
	}
	return out.DataValues, nil
}

func importStrategy(s services.Strategy) string {
	if s == services.StrategyDelete {
		return "DELETE"
	}
	return "CREATE_AND_UPDATE"
}

// PostValues imports values into a data set. SAVE is an upsert keyed by
// the value's natural key.
func (c *Client) PostValues(ctx context.Context, strategy services.Strategy, dataSetID string, values []records.AggregateValue) (services.ImportResult, error) {
	body := struct {
		DataSet    string                   `json:"dataSet"`
		DataValues []records.AggregateValue `json:"dataValues"`
	}{DataSet: dataSetID, DataValues: values}
	q := url.Values{
		"importStrategy": {importStrategy(strategy)},
		"skipAudit":      {"false"},
	}

	var out aggregateImportResponse
	if err := c.do(ctx, http.MethodPost, "/api/dataValueSets", q, body, &out); err != nil {
		return services.ImportResult{}, importError(err, decodeAggregate)
	}
	return out.summary().result(), nil
}
