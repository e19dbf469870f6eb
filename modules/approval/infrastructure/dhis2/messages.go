package dhis2

import (
	"context"
	"net/http"

	"github.com/go-faster/errors"

	"github.com/EyeSeeTea/data-approval-dev-sub000/modules/approval/services"
)

type ref struct {
	ID string `json:"id"`
}

func refs(ids []string) []ref {
	out := make([]ref, 0, len(ids))
	for _, id := range ids {
		out = append(out, ref{ID: id})
	}
	return out
}

// Send starts a message conversation with the given users and groups.
func (c *Client) Send(ctx context.Context, n services.Notification) error {
	body := struct {
		Subject    string `json:"subject"`
		Text       string `json:"text"`
		Users      []ref  `json:"users"`
		UserGroups []ref  `json:"userGroups"`
	}{
		Subject:    n.Subject,
		Text:       n.Body,
		Users:      refs(n.Users),
		UserGroups: refs(n.UserGroups),
	}
	if err := c.do(ctx, http.MethodPost, "/api/messageConversations", nil, body, nil); err != nil {
		return errors.Wrap(err, "send message")
	}
	return nil
}
