package persistence

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"

	"github.com/EyeSeeTea/data-approval-dev-sub000/modules/approval/domain/submission"
	"github.com/EyeSeeTea/data-approval-dev-sub000/modules/approval/infrastructure/persistence/models"
)

// SubmissionRepository keeps one redis hash per module; fields are
// "orgUnit/period".
type SubmissionRepository struct {
	redis  *redis.Client
	prefix string
}

func NewSubmissionRepository(redis *redis.Client) *SubmissionRepository {
	return &SubmissionRepository{redis: redis, prefix: "approval:submissions"}
}

func (r *SubmissionRepository) Get(ctx context.Context, id submission.Identifier) (submission.Item, error) {
	result, err := r.redis.HGet(ctx, r.hashKey(id.Module), field(id)).Result()
	if err != nil {
		if err == redis.Nil {
			return submission.Item{}, submission.ErrItemNotFound
		}
		return submission.Item{}, err
	}
	var model models.SubmissionItem
	if err := json.Unmarshal([]byte(result), &model); err != nil {
		return submission.Item{}, errors.Wrapf(err, "decode %s", id)
	}
	return ToDomainSubmissionItem(model)
}

func (r *SubmissionRepository) Save(ctx context.Context, item submission.Item) error {
	itemJSON, err := json.Marshal(ToDBSubmissionItem(item))
	if err != nil {
		return err
	}
	return r.redis.HSet(ctx, r.hashKey(item.Module), field(item.Identifier), itemJSON).Err()
}

func (r *SubmissionRepository) List(ctx context.Context, module string) ([]submission.Item, error) {
	resultMap, err := r.redis.HGetAll(ctx, r.hashKey(module)).Result()
	if err != nil {
		return nil, err
	}
	items := make([]submission.Item, 0, len(resultMap))
	for key, value := range resultMap {
		var model models.SubmissionItem
		if err := json.Unmarshal([]byte(value), &model); err != nil {
			return nil, errors.Wrapf(err, "decode %s", key)
		}
		item, err := ToDomainSubmissionItem(model)
		if err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	sortItems(items)
	return items, nil
}

func (r *SubmissionRepository) hashKey(module string) string {
	return fmt.Sprintf("%s:{%s}", r.prefix, strings.ToUpper(strings.TrimSpace(module)))
}

func field(id submission.Identifier) string {
	return id.OrgUnit + "/" + id.Period
}
