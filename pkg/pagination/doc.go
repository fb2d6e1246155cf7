// Package pagination implements keyset (cursor) and page-number pagination.
//
// A cursor is the URL-safe base64 of {"value": <order value>, "id": <row id>}.
// Stores call CursorParams.Keyset to get the WHERE/ORDER BY/LIMIT fragment,
// fetch Limit+1 rows and hand them to NewPage.
package pagination
