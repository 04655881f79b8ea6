package dto

import "time"

type CreateKBReq struct {
	Name        string `json:"name" binding:"required"`
	Description string `json:"description"`

	// OrgID of zero means a private knowledge base scoped to the caller.
	OrgID uint `json:"org_id"`
}

type KBResp struct {
	ID          uint      `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description"`
	CreatorID   uint      `json:"creator_id"`
	OrgID       *uint     `json:"org_id"`
	CreatedAt   time.Time `json:"created_at"`
}
