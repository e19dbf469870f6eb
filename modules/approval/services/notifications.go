package services

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/EyeSeeTea/data-approval-dev-sub000/modules/approval/domain/catalog"
	"github.com/EyeSeeTea/data-approval-dev-sub000/modules/approval/domain/events"
	"github.com/EyeSeeTea/data-approval-dev-sub000/pkg/eventbus"
)

// Notifier sends the status change message of notifying transitions. It is
// best effort: failures are logged and never reach the caller.
type Notifier struct {
	catalog   *catalog.Catalog
	directory RecipientDirectory
	sink      NotificationSink
	logger    *logrus.Logger
}

func NewNotifier(cat *catalog.Catalog, directory RecipientDirectory, sink NotificationSink, logger *logrus.Logger) *Notifier {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Notifier{catalog: cat, directory: directory, sink: sink, logger: logger}
}

// Register subscribes the notifier to status change events.
func (n *Notifier) Register(bus eventbus.EventBus) {
	bus.Subscribe(n.OnStatusChanged)
}

func (n *Notifier) OnStatusChanged(ctx context.Context, ev *events.StatusChangedV1) {
	if ev == nil || !ev.To.Notifies() {
		return
	}
	log := loggerFromContext(ctx, n.logger).WithFields(logrus.Fields{
		"module":   ev.Item.Module,
		"org_unit": ev.Item.OrgUnit,
		"period":   ev.Item.Period,
		"to":       ev.To,
	})

	module, err := n.catalog.Lookup(ev.Item.Module)
	if err != nil {
		log.WithError(err).Warn("notification skipped")
		return
	}
	users, err := n.directory.Recipients(ctx, module, ev.Item.OrgUnit)
	if err != nil {
		log.WithError(err).Warn("recipient lookup failed, notifying groups only")
	}
	if len(users) == 0 && len(module.NotificationGroups) == 0 {
		log.Debug("no recipients")
		return
	}

	msg := Notification{
		Subject:    fmt.Sprintf("[%s] %s %s: %s", module.Name, ev.Item.OrgUnit, ev.Item.Period, ev.To.Label()),
		Body:       notificationBody(module.Name, ev),
		UserGroups: module.NotificationGroups,
		Users:      users,
	}
	if err := n.sink.Send(ctx, msg); err != nil {
		log.WithError(err).Warn("notification failed")
		return
	}
	log.WithField("recipients", len(users)).Debug("notification sent")
}

func notificationBody(module string, ev *events.StatusChangedV1) string {
	return fmt.Sprintf(
		"The %s submission of org unit %s for period %s changed from %q to %q on %s.",
		module, ev.Item.OrgUnit, ev.Item.Period, ev.From.Label(), ev.To.Label(),
		ev.OccurredAt.UTC().Format(TimestampLayout),
	)
}
