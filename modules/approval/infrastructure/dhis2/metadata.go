package dhis2

import (
	"context"
	"net/http"
	"net/url"

	"github.com/go-faster/errors"

	"github.com/EyeSeeTea/data-approval-dev-sub000/modules/approval/domain/schema"
)

type idName struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

func (x idName) element() schema.NamedElement {
	return schema.NamedElement{ID: x.ID, Name: x.Name}
}

// GetElements lists the data elements of a data set in metadata order.
func (c *Client) GetElements(ctx context.Context, dataSetID string) ([]schema.NamedElement, error) {
	var out struct {
		DataSetElements []struct {
			DataElement idName `json:"dataElement"`
		} `json:"dataSetElements"`
	}
	q := url.Values{"fields": {"dataSetElements[dataElement[id,name]]"}}
	if err := c.do(ctx, http.MethodGet, "/api/dataSets/"+url.PathEscape(dataSetID), q, nil, &out); err != nil {
		return nil, errors.Wrapf(err, "data set %s", dataSetID)
	}
	els := make([]schema.NamedElement, 0, len(out.DataSetElements))
	for _, dse := range out.DataSetElements {
		els = append(els, dse.DataElement.element())
	}
	return els, nil
}

// GetStages lists the stages of a program.
func (c *Client) GetStages(ctx context.Context, programID string) ([]schema.NamedElement, error) {
	var out struct {
		ProgramStages []idName `json:"programStages"`
	}
	q := url.Values{"fields": {"programStages[id,name]"}}
	if err := c.do(ctx, http.MethodGet, "/api/programs/"+url.PathEscape(programID), q, nil, &out); err != nil {
		return nil, errors.Wrapf(err, "program %s", programID)
	}
	stages := make([]schema.NamedElement, 0, len(out.ProgramStages))
	for _, s := range out.ProgramStages {
		stages = append(stages, s.element())
	}
	return stages, nil
}
