package users

import (
	"time"
)

// PlaceholderHandle is assigned to users materialized from a bare DID
// reference (a like or follow arriving before the profile). The repair
// worker replaces it once the real handle resolves.
const PlaceholderHandle = "handle.invalid"

// User is an atProto account tracked by the AppView. The authoritative
// repository lives on the user's PDS; this row only carries what the
// read path needs.
type User struct {
	CreatedAt   time.Time `json:"createdAt" db:"created_at"`
	IndexedAt   time.Time `json:"indexedAt" db:"indexed_at"`
	UpdatedAt   time.Time `json:"updatedAt" db:"updated_at"`
	DID         string    `json:"did" db:"did"`
	Handle      string    `json:"handle" db:"handle"`
	DisplayName string    `json:"displayName,omitempty" db:"display_name"`
	Description string    `json:"description,omitempty" db:"description"`
	AvatarCID   string    `json:"avatarCid,omitempty" db:"avatar_cid"`
	BannerCID   string    `json:"bannerCid,omitempty" db:"banner_cid"`
	PinnedPost  string    `json:"pinnedPost,omitempty" db:"pinned_post_uri"`
	PDSURL      string    `json:"pdsUrl,omitempty" db:"pds_url"`
	Active      bool      `json:"active" db:"active"`
	Status      string    `json:"status,omitempty" db:"status"` // takendown, suspended, deactivated
}

// ProfileUpdate carries the fields extracted from an app.bsky.actor.profile
// record. Nil pointers mean "leave unchanged"; empty strings clear.
type ProfileUpdate struct {
	DisplayName *string
	Description *string
	AvatarCID   *string
	BannerCID   *string
	PinnedPost  *string
}

// IsPlaceholder reports whether the user was created lazily and still
// awaits handle resolution.
func (u *User) IsPlaceholder() bool {
	return u.Handle == "" || u.Handle == PlaceholderHandle
}
