// Package notifications stores in-app notifications and sends device
// pushes through Firebase Cloud Messaging.
//
// Notifications belong to one user and are listed newest first with
// cursor pagination; unread_only=true narrows the list. Titles and messages
// are stripped of HTML before they are stored or pushed.
//
// Device tokens are unique across users: registering a token already held
// by someone else moves it. A push fans out one FCM HTTP v1 request per
// token, at most WARDEN_FCM_CONCURRENCY at a time. Tokens FCM reports as
// unregistered are deleted. Without WARDEN_FCM_PROJECT_ID pushes are only
// logged.
package notifications
