package dhis2

import (
	"context"
	"net/http"
	"net/url"
	"sort"
	"strings"

	"github.com/go-faster/errors"

	"github.com/EyeSeeTea/data-approval-dev-sub000/modules/approval/domain/catalog"
)

// Recipients lists the members of the module's notification groups whose
// assigned org units lie on the hierarchy path of orgUnit, itself included.
func (c *Client) Recipients(ctx context.Context, module catalog.Module, orgUnit string) ([]string, error) {
	if len(module.NotificationGroups) == 0 {
		return nil, nil
	}

	var ou struct {
		Path string `json:"path"`
	}
	if err := c.do(ctx, http.MethodGet, "/api/organisationUnits/"+url.PathEscape(orgUnit), url.Values{"fields": {"path"}}, nil, &ou); err != nil {
		return nil, errors.Wrapf(err, "org unit %s", orgUnit)
	}
	onPath := map[string]bool{orgUnit: true}
	for _, id := range strings.Split(strings.Trim(ou.Path, "/"), "/") {
		if id != "" {
			onPath[id] = true
		}
	}

	var out struct {
		Users []struct {
			ID                string `json:"id"`
			OrganisationUnits []ref  `json:"organisationUnits"`
		} `json:"users"`
	}
	q := url.Values{
		"fields": {"id,organisationUnits[id]"},
		"filter": {"userGroups.id:in:[" + strings.Join(module.NotificationGroups, ",") + "]"},
		"paging": {"false"},
	}
	if err := c.do(ctx, http.MethodGet, "/api/users", q, nil, &out); err != nil {
		return nil, errors.Wrap(err, "notification group members")
	}

	seen := map[string]bool{}
	var users []string
	for _, u := range out.Users {
		for _, assigned := range u.OrganisationUnits {
			if onPath[assigned.ID] && !seen[u.ID] {
				seen[u.ID] = true
				users = append(users, u.ID)
			}
		}
	}
	sort.Strings(users)
	return users, nil
}
