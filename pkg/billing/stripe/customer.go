package stripe

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/stripe/stripe-go/v83"
)

// GetOrCreateCustomer returns the id of the first Stripe customer registered with
// email, creating a new customer when none exists.
func (c *Client) GetOrCreateCustomer(ctx context.Context, email, name string, metadata map[string]string) (string, error) {
	if err := c.ensureConfigured(); err != nil {
		return "", err
	}

	email = strings.TrimSpace(email)
	if email != "" {
		customerID, err := c.findCustomerByEmail(ctx, email)
		if err != nil {
			return "", err
		}
		if customerID != "" {
			return customerID, nil
		}
	}

	return c.CreateCustomer(ctx, email, name, metadata)
}

// CreateCustomer always creates a new Stripe customer, ignoring existing ones.
func (c *Client) CreateCustomer(ctx context.Context, email, name string, metadata map[string]string) (string, error) {
	if err := c.ensureConfigured(); err != nil {
		return "", err
	}

	startTime := time.Now()
	params := &stripe.CustomerCreateParams{}
	if email != "" {
		params.Email = stripe.String(email)
	}
	if name != "" {
		params.Name = stripe.String(name)
	}
	for k, v := range metadata {
		params.AddMetadata(k, v)
	}

	cust, err := c.api.V1Customers.Create(ctx, params)
	c.observe("/customers/create", startTime, err)
	if err != nil {
		return "", fmt.Errorf("failed to create customer: %w", err)
	}
	return cust.ID, nil
}

// findCustomerByEmail returns the first customer id for email, or "" when none exists.
func (c *Client) findCustomerByEmail(ctx context.Context, email string) (string, error) {
	startTime := time.Now()
	params := &stripe.CustomerListParams{
		Email: stripe.String(email),
	}
	params.Limit = stripe.Int64(1)

	for cust, err := range c.api.V1Customers.List(ctx, params) {
		c.observe("/customers/list", startTime, err)
		if err != nil {
			return "", fmt.Errorf("failed to list customers: %w", err)
		}
		return cust.ID, nil
	}

	c.observe("/customers/list", startTime, nil)
	return "", nil
}
