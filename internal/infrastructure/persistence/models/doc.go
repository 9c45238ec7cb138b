// Package models contains GORM-specific persistence models that map to database tables.
// These models are separate from domain entities to keep the domain layer free
// from ORM concerns. Each model converts with ToDomain / FromDomain.
//
// Structure:
// - base.go: shared aggregate columns and the model list used by AutoMigrate
// - order.go: orders, order_items, payments, inventory_reservations, order_events
// - outbox.go: outbox_messages
package models
