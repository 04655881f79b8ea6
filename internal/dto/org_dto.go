package dto

import "time"

type CreateOrgReq struct {
	Name        string `json:"name" binding:"required"`
	Description string `json:"description"`
	Key         string `json:"key" binding:"omitempty,alphanum,min=3,max=20"`
}

type OrgResp struct {
	ID          uint      `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description"`
	Key         string    `json:"key"`
	OwnerID     uint      `json:"owner_id"`
	CreatedAt   time.Time `json:"created_at"`
}
