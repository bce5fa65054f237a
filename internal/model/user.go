package model

import "time"

// Roles accepted in users.role.
const (
    RoleAdmin     = "ADMIN"
    RoleAttendant = "ATTENDANT"
)

// User is an operator account.  Admins manage attendants and users;
// attendants drive the queue.
//
// Fields:
//  ID           – primary key identifier of the user.
//  Username     – unique login name.
//  DisplayName  – free-form name.
//  PasswordHash – bcrypt hash.
//  Role         – ADMIN or ATTENDANT.
//  IsActive     – inactive users cannot log in or refresh.
//  CreatedAt    – timestamp of creation.
//  UpdatedAt    – timestamp of last update.
type User struct {
    ID           uint64    // users.id
    Username     string    // users.username
    DisplayName  string    // users.display_name
    PasswordHash string    // users.password_hash
    Role         string    // users.role
    IsActive     bool      // users.is_active
    CreatedAt    time.Time // users.created_at
    UpdatedAt    time.Time // users.updated_at
}

// RefreshToken models an entry in the `refresh_tokens` table.  The plain
// token is never stored, only its SHA‑256 hash.
type RefreshToken struct {
    ID        uint64     // refresh_tokens.id
    UserID    uint64     // refresh_tokens.user_id
    TokenHash string     // refresh_tokens.token_hash
    ExpiresAt time.Time  // refresh_tokens.expires_at
    RevokedAt *time.Time // refresh_tokens.revoked_at (nullable)
    CreatedAt time.Time  // refresh_tokens.created_at
}
