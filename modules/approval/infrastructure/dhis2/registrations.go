package dhis2

import (
	"context"
	"net/http"
	"net/url"

	"github.com/go-faster/errors"
)

// Uncomplete removes the completeness registration of a data set so the
// submitter can edit it again. A missing registration is not an error.
func (c *Client) Uncomplete(ctx context.Context, dataSetID, orgUnit, period string) error {
	q := url.Values{
		"ds":      {dataSetID},
		"ou":      {orgUnit},
		"pe":      {period},
		"multiOu": {"false"},
	}
	err := c.do(ctx, http.MethodDelete, "/api/completeDataSetRegistrations", q, nil, nil)
	if err != nil && !IsNotFound(err) {
		return errors.Wrapf(err, "uncomplete %s %s %s", dataSetID, orgUnit, period)
	}
	return nil
}
