// Package storage persists per-chat channel subscriptions and a send audit
// trail. It is optional: a nil Store disables persistence-backed features.
package storage
