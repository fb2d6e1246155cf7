// Package files stores user uploads in S3 or Google Drive and keeps their
// metadata in PostgreSQL.
//
// Uploads go to the backend named by WARDEN_STORAGE_PROVIDER under a
// generated "<uuid>.<ext>" name; the client's filename is kept, stripped of
// paths and markup, as original_filename. Every lookup is scoped to the
// owner, so another user's file id answers 404 exactly like a missing one.
//
// S3 download links are presigned GET URLs (WARDEN_S3_PRESIGN_TTL). Drive
// links are the file's webViewLink after granting anyone-with-link read
// access.
package files
