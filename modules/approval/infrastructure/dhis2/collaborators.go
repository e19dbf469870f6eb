package dhis2

import "github.com/EyeSeeTea/data-approval-dev-sub000/modules/approval/services"

var (
	_ services.MetadataQuery       = (*Client)(nil)
	_ services.AggregateValueStore = (*Client)(nil)
	_ services.TrackerStore        = (*Client)(nil)
	_ services.NotificationSink    = (*Client)(nil)
	_ services.RegistrationClient  = (*Client)(nil)
	_ services.RecipientDirectory  = (*Client)(nil)
	_ services.SettingsLookup      = (*Settings)(nil)
)
