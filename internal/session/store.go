// Package session caches the binding between a (customer, operator) phone
// pair and its CRM conversation id. The cache is an optimization over the
// durable conversation record, never authoritative: on a miss the resolver
// reconstructs the answer by creating a new conversation.
package session

import (
	"context"
	"fmt"
	"time"

	"wabridge/internal/cache"
)

const DefaultTTL = 24 * time.Hour

type Store struct {
	cache cache.Cache
	ttl   time.Duration
}

func NewStore(c cache.Cache, ttl time.Duration) *Store {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Store{cache: c, ttl: ttl}
}

func bindingKey(customer, operator string) string {
	return fmt.Sprintf("chat:%s:%s", customer, operator)
}

func lastOperatorKey(customer string) string {
	return fmt.Sprintf("client_operator:%s", customer)
}

// Get returns the cached conversation id for the pair, if any.
func (s *Store) Get(ctx context.Context, customer, operator string) (string, bool, error) {
	return s.cache.Get(ctx, bindingKey(customer, operator))
}

// Put unconditionally writes the pair binding with the configured TTL.
// Expiry is absolute from this write.
func (s *Store) Put(ctx context.Context, customer, operator, conversationID string) error {
	return s.cache.Set(ctx, bindingKey(customer, operator), conversationID, s.ttl)
}

// PutIfAbsent writes the binding only when no live binding exists, returning
// true when this caller won. Two concurrent first-contact events race here;
// the loser must adopt the winner's conversation id.
func (s *Store) PutIfAbsent(ctx context.Context, customer, operator, conversationID string) (bool, error) {
	return s.cache.SetNX(ctx, bindingKey(customer, operator), conversationID, s.ttl)
}

// GetLastOperator returns the operator last seen handling the customer.
func (s *Store) GetLastOperator(ctx context.Context, customer string) (string, bool, error) {
	return s.cache.Get(ctx, lastOperatorKey(customer))
}

// SetLastOperator records the operator handling the customer, used to detect
// operator handoff.
func (s *Store) SetLastOperator(ctx context.Context, customer, operator string) error {
	return s.cache.Set(ctx, lastOperatorKey(customer), operator, s.ttl)
}
