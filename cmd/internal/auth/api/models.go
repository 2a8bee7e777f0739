package authapi

import (
	"time"

	v1 "nexus/shared/contracts/realtime/v1"
)

type loginRequest struct {
	UsernameOrEmail string `json:"usernameOrEmail"`
	Password        string `json:"password"`
}

type refreshRequest struct {
	RefreshToken string `json:"refreshToken"`
}

type logoutRequest struct {
	RefreshToken string `json:"refreshToken"`
}

type markReadRequest struct {
	IDs []string `json:"ids"`
}

type sessionResponse struct {
	AccessToken      string    `json:"accessToken"`
	RefreshToken     string    `json:"refreshToken"`
	UserID           string    `json:"userId"`
	Username         string    `json:"username"`
	AccessExpiresAt  time.Time `json:"accessExpiresAt"`
	RefreshExpiresAt time.Time `json:"refreshExpiresAt"`
}

type okResponse struct {
	OK bool `json:"ok"`
}

type meResponse struct {
	UserID    string    `json:"userId"`
	Username  string    `json:"username"`
	Email     string    `json:"email,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
}

type notificationListResponse struct {
	Items  []v1.NotificationPayload `json:"items"`
	Unread int                      `json:"unread"`
}

type markReadResponse struct {
	Updated int `json:"updated"`
	Unread  int `json:"unread"`
}

type historyResponse struct {
	Items   []v1.MessageNewPayload `json:"items"`
	HasMore bool                   `json:"hasMore"`
	Unread  int64                  `json:"unread"`
}
