// Package models contains GORM-specific persistence models that map to database tables.
// These models are separate from domain entities to keep the domain layer pure and free
// from ORM concerns.
//
// Structure:
//   - statistics.go: aggregate rows written by the statistics engine and the fact ledger
//   - orders.go: collaborator-owned tables read by the engine (orders, branches, supply requests)
//   - scheduler.go: execution records of scheduled and manual statistics jobs
package models
