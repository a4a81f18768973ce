package api

// BotInfo is a bot/device record owned by the backend.
type BotInfo struct {
	ID          int64  `json:"id"`
	Name        string `json:"name"`
	Number      string `json:"number"`
	Description string `json:"description"`
	IsConnected bool   `json:"isConnected"`
	UserID      string `json:"userId"`
	CreatedAt   string `json:"created_at"`
	UpdatedAt   string `json:"updated_at"`
}

// BotRequest is the create/update form body.
type BotRequest struct {
	Name        string `json:"name"`
	Number      string `json:"number"`
	Description string `json:"description"`
}

// UserProfile is the authenticated user's profile.
type UserProfile struct {
	ID               string `json:"id"`
	Email            string `json:"email"`
	FullName         string `json:"full_name"`
	PhoneNumber      string `json:"phone_number,omitempty"`
	CreatedAt        string `json:"created_at"`
	SubscriptionTier string `json:"subscription_tier"`
}
