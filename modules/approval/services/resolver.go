package services

import (
	"context"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/EyeSeeTea/data-approval-dev-sub000/modules/approval/domain/schema"
)

// ElementSetResolver builds draft to approved correspondences from fresh
// metadata on every call.
type ElementSetResolver struct {
	metadata MetadataQuery
	mapper   schema.Mapper
	logger   *logrus.Logger
}

func NewElementSetResolver(metadata MetadataQuery, mapper schema.Mapper, logger *logrus.Logger) *ElementSetResolver {
	return &ElementSetResolver{metadata: metadata, mapper: mapper, logger: logger}
}

func (r *ElementSetResolver) Mapper() schema.Mapper {
	return r.mapper
}

// ResolveElements correlates the data elements of a draft data set with
// those of its approved counterpart. Unmatched draft elements are dropped.
func (r *ElementSetResolver) ResolveElements(ctx context.Context, dataSetID, approvedDataSetID string) ([]schema.ElementCorrespondence, error) {
	m, err := r.match(ctx, "element", r.metadata.GetElements, dataSetID, approvedDataSetID)
	if err != nil {
		return nil, err
	}
	return m.Correspondences, nil
}

// ResolveStages correlates program stages; tracker replication keys on
// stage identity.
func (r *ElementSetResolver) ResolveStages(ctx context.Context, programID, approvedProgramID string) ([]schema.StageCorrespondence, error) {
	m, err := r.match(ctx, "stage", r.metadata.GetStages, programID, approvedProgramID)
	if err != nil {
		return nil, err
	}
	return schema.Stages(m), nil
}

type fetchFunc func(ctx context.Context, id string) ([]schema.NamedElement, error)

func (r *ElementSetResolver) match(ctx context.Context, what string, fetch fetchFunc, originID, destinationID string) (schema.Match, error) {
	var origins, destinations []schema.NamedElement
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		origins, err = fetch(gctx, originID)
		return errors.Wrapf(err, "fetch metadata of %s", originID)
	})
	g.Go(func() error {
		var err error
		destinations, err = fetch(gctx, destinationID)
		return errors.Wrapf(err, "fetch metadata of %s", destinationID)
	})
	if err := g.Wait(); err != nil {
		return schema.Match{}, err
	}

	m := schema.NewIndex(r.mapper, destinations).Match(origins)

	log := loggerFromContext(ctx, r.logger).WithFields(logrus.Fields{
		"container_id":          originID,
		"approved_container_id": destinationID,
	})
	for _, miss := range m.Misses {
		log.WithFields(logrus.Fields{"id": miss.ID, "name": miss.Name, "kind": what}).Debug("no approved counterpart, dropped")
	}
	if len(m.Misses) > 0 {
		log.WithField("dropped", len(m.Misses)).Warn("draft metadata without approved counterpart")
	}
	for _, amb := range m.Ambiguous {
		log.WithFields(logrus.Fields{"id": amb.ID, "name": amb.Name, "kind": what}).Warn("several approved candidates share a name, first match used")
	}
	mappingMisses.WithLabelValues(what).Add(float64(len(m.Misses)))
	return m, nil
}
