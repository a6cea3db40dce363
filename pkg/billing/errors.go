package billing

import "errors"

var (
	// ErrProviderNotConfigured is returned when no billing provider credential is present
	ErrProviderNotConfigured = errors.New("billing provider not configured")

	// ErrInvalidWebhookSignature is returned when webhook signature validation fails
	ErrInvalidWebhookSignature = errors.New("invalid webhook signature")

	// ErrInvalidWebhookPayload is returned when a verified webhook payload cannot be decoded
	ErrInvalidWebhookPayload = errors.New("invalid webhook payload")

	// ErrOrganizationNotFound is returned when no organization matches a lookup key
	ErrOrganizationNotFound = errors.New("organization not found")

	// ErrOwnerNotFound is returned when an organization has no member with the owner role
	ErrOwnerNotFound = errors.New("organization owner not found")

	// ErrCustomerNotFound is returned when a customer cannot be found in the provider
	ErrCustomerNotFound = errors.New("customer not found in billing provider")

	// ErrSubscriptionHasNoItems is returned when a plan change targets a subscription without items
	ErrSubscriptionHasNoItems = errors.New("subscription has no items")

	// ErrPriceNotConfigured is returned when no catalog price exists for a plan and interval
	ErrPriceNotConfigured = errors.New("price not configured in catalog")
)
