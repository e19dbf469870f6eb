package dhis2

import (
	"context"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/go-faster/errors"

	"github.com/EyeSeeTea/data-approval-dev-sub000/pkg/serrors"
)

var ErrMissingSetting = serrors.NewError("APPROVAL_MISSING_SETTING", "approval setting missing", "Approval.Errors.MissingSetting")

// DataSetSettings is the per approved data set entry of the settings
// document kept in the platform data store.
type DataSetSettings struct {
	ApprovalTimestampElement string `json:"approvalTimestampDataElement"`
}

// Settings reads the approval settings document from the data store. The
// document is cached for ttl; zero disables caching.
type Settings struct {
	client    *Client
	namespace string
	key       string
	ttl       time.Duration

	mu        sync.Mutex
	cached    map[string]DataSetSettings
	fetchedAt time.Time
}

func NewSettings(client *Client, namespace, key string, ttl time.Duration) *Settings {
	return &Settings{client: client, namespace: namespace, key: key, ttl: ttl}
}

func (s *Settings) document(ctx context.Context) (map[string]DataSetSettings, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cached != nil && s.ttl > 0 && time.Since(s.fetchedAt) < s.ttl {
		return s.cached, nil
	}

	var doc map[string]DataSetSettings
	path := "/api/dataStore/" + url.PathEscape(s.namespace) + "/" + url.PathEscape(s.key)
	if err := s.client.do(ctx, http.MethodGet, path, nil, nil, &doc); err != nil {
		if IsNotFound(err) {
			return nil, errors.Wrapf(ErrMissingSetting, "data store %s/%s", s.namespace, s.key)
		}
		return nil, errors.Wrap(err, "read approval settings")
	}
	s.cached, s.fetchedAt = doc, time.Now()
	return doc, nil
}

func (s *Settings) ApprovalTimestampElement(ctx context.Context, approvedDataSetID string) (string, error) {
	doc, err := s.document(ctx)
	if err != nil {
		return "", err
	}
	entry, ok := doc[approvedDataSetID]
	if !ok || entry.ApprovalTimestampElement == "" {
		return "", errors.Wrapf(ErrMissingSetting, "approval timestamp element of %s", approvedDataSetID)
	}
	return entry.ApprovalTimestampElement, nil
}
