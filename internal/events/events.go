// Package events holds the broker topology shared by the publisher and the
// deletion relay. The two sides run in separate processes and coordinate
// only through these names.
package events

const (
	// UserExchange is the topic exchange all user lifecycle events go through.
	UserExchange = "user.exchange"

	// UserDeletedKey is the routing key for account deletion events. The
	// message body is the account id as a plain string.
	UserDeletedKey = "user.deleted"

	// KeycloakQueue is the durable queue the deletion relay consumes,
	// bound to UserExchange with UserDeletedKey.
	KeycloakQueue = "keycloak.user.deleted.queue"
)
