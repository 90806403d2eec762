// Package domain defines the shared domain types and error kinds.
package domain

import (
	"fmt"
	"time"
)

const (
	// DefaultDescription is used when the remote chat has no description.
	DefaultDescription = "Synced Group"
	// DefaultCategory is the fixed category label for synced groups.
	DefaultCategory = "Telegram"

	avatarURLFormat = "https://picsum.photos/seed/%s/200"
)

// Group is one tracked Telegram chat. JSON keys match the exported
// configuration document.
type Group struct {
	ID              string `json:"id"`
	Name            string `json:"name"`
	MemberCount     int    `json:"memberCount"`
	Description     string `json:"description"`
	Category        string `json:"category"`
	Image           string `json:"image"`
	LastInteraction *int64 `json:"lastInteraction,omitempty"`
}

// NewGroup builds a group record from remote chat details.
func NewGroup(chat Chat, memberCount int, now time.Time) Group {
	description := chat.Description
	if description == "" {
		description = DefaultDescription
	}

	return Group{
		ID:              chat.ID,
		Name:            chat.Title,
		MemberCount:     memberCount,
		Description:     description,
		Category:        DefaultCategory,
		Image:           AvatarURL(chat.ID),
		LastInteraction: Millis(now),
	}
}

// AvatarURL derives the avatar URI from the chat identifier.
func AvatarURL(chatID string) string {
	return fmt.Sprintf(avatarURLFormat, chatID)
}

// Millis returns t as a pointer to milliseconds since epoch.
func Millis(t time.Time) *int64 {
	ms := t.UnixMilli()
	return &ms
}

// InteractedAt returns the last interaction timestamp, 0 when absent.
func (g Group) InteractedAt() int64 {
	if g.LastInteraction == nil {
		return 0
	}
	return *g.LastInteraction
}

// Chat is the subset of remote chat metadata the dashboard keeps.
type Chat struct {
	ID          string
	Title       string
	Description string
}
