package model

import "time"

// Attendant is a desk worker that serves tickets.  Attendants are created,
// renamed and deleted by administrators; the active flag only decides
// whether the attendant is offered for new assignments and does not
// depend on ticket state.
//
// Fields:
//  ID        – primary key identifier.
//  Name      – display name shown on the desk card.
//  IsActive  – whether the attendant is currently on duty.
//  CreatedAt – creation timestamp.
//  UpdatedAt – last update timestamp.
type Attendant struct {
    ID        uint64    `json:"id"`         // attendants.id
    Name      string    `json:"name"`       // attendants.name
    IsActive  bool      `json:"is_active"`  // attendants.is_active
    CreatedAt time.Time `json:"created_at"` // attendants.created_at
    UpdatedAt time.Time `json:"updated_at"` // attendants.updated_at
}
