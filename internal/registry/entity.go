package registry

import "time"

// Entity is one row of a name-keyed registry table (merchants, agents).
type Entity struct {
	ID        string    `db:"id" json:"id"`
	Name      string    `db:"name" json:"name"`
	Address   *string   `db:"address" json:"address,omitempty"`
	CreatedAt time.Time `db:"created_at" json:"createdAt"`
	UpdatedAt time.Time `db:"updated_at" json:"updatedAt"`
}

// Store is a registry entity with a default flag; at most one store is
// default at any time, enforced by creation order (the first store ever
// created becomes default), not by the database.
type Store struct {
	Entity
	IsDefault bool `db:"is_default" json:"isDefault"`
}
