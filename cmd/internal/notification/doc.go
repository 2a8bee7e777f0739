// Package notification stores per-user notifications and pushes each new
// one to the user's live sessions as notification.created.
package notification
