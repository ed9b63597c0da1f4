package identity

const (
	keyChannelID       = "channel.id"
	keyChannelLocation = "channel.location"

	keySnapshotPayload = "registration.payload"
	keySnapshotTime    = "registration.time"

	keyNamedUserID          = "named_user.id"
	keyNamedUserChangeToken = "named_user.change_token"
	keyNamedUserLastToken   = "named_user.last_updated_token"

	keyPendingChannelTags   = "pending_tags.channel"
	keyPendingNamedUserTags = "pending_tags.named_user"

	keyPlatform = "platform.registration"
	keySettings = "device.settings"
)
